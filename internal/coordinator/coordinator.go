package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrSnakeDoc/marksync/internal/backoff"
	"github.com/MrSnakeDoc/marksync/internal/bookmarks"
	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/feed"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

// SessionSource delivers identity transitions.
type SessionSource interface {
	Events() <-chan domain.SessionState
	Current() domain.SessionState
}

// FeedListener manages the change feed subscription.
type FeedListener interface {
	Start(ctx context.Context, userID string) (feed.Handle, error)
	Stop(h feed.Handle) error
	Events() <-chan feed.Signal
	Connected() bool
}

// SignOuter ends the identity session.
type SignOuter interface {
	SignOut(ctx context.Context) error
}

// Config tunes the coordinator.
type Config struct {
	// DebounceWindow coalesces feed signals. Zero resyncs on every signal.
	DebounceWindow time.Duration
	// ResyncInterval triggers a safety resync. Zero disables it.
	ResyncInterval time.Duration
	// ResyncTimeout bounds a single fetch.
	ResyncTimeout time.Duration
	// Resubscribe paces feed subscription retries.
	Resubscribe backoff.Policy
	// SubscribeTimeout bounds a single subscription attempt.
	SubscribeTimeout time.Duration
}

type resyncDone struct {
	epoch  uint64
	userID string
	err    error
}

// Coordinator is the only caller of Store.Resync. It runs one event loop
// that reacts to session transitions, feed signals and local mutations.
type Coordinator struct {
	cfg      Config
	sessions SessionSource
	listener FeedListener
	store    *bookmarks.Store
	identity SignOuter
	log      logger.Logger

	trigger chan struct{}
	done    chan resyncDone
	running atomic.Bool
	wg      sync.WaitGroup

	inFlight  atomic.Bool
	resyncs   atomic.Uint64
	lastError atomic.Pointer[string]
}

// New wires a coordinator. identity may be nil when sign-out is handled
// elsewhere.
func New(cfg Config, sessions SessionSource, listener FeedListener, store *bookmarks.Store, identity SignOuter, log logger.Logger) *Coordinator {
	if cfg.ResyncTimeout <= 0 {
		cfg.ResyncTimeout = 10 * time.Second
	}
	if cfg.SubscribeTimeout <= 0 {
		cfg.SubscribeTimeout = 5 * time.Second
	}
	if cfg.Resubscribe.Validate() != nil {
		cfg.Resubscribe = backoff.Policy{Initial: time.Second, Max: 30 * time.Second}
	}
	return &Coordinator{
		cfg:      cfg,
		sessions: sessions,
		listener: listener,
		store:    store,
		identity: identity,
		log:      log.Named("coordinator"),
		trigger:  make(chan struct{}, 1),
		done:     make(chan resyncDone),
	}
}

// loop holds state owned by the Run goroutine.
type loop struct {
	ctx    context.Context
	scope  string
	epoch  uint64
	handle feed.Handle

	inFlight bool
	dirty    bool

	debounce   *time.Timer
	debounceC  <-chan time.Time
	resubWait  time.Duration
	resubTimer *time.Timer
	resubC     <-chan time.Time
}

// Run processes events until ctx is done or the session source closes.
// On every exit path the feed subscription is stopped and the store cleared.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("coordinator already running")
	}
	defer c.running.Store(false)

	ctx, cancel := context.WithCancel(ctx)
	l := &loop{ctx: ctx}

	defer func() {
		cancel()
		c.wg.Wait()
		l.stopTimers()
		c.stopFeed(l)
		c.store.Clear()
		c.inFlight.Store(false)
		c.log.Info("🛑 coordinator stopped")
	}()

	var safety <-chan time.Time
	if c.cfg.ResyncInterval > 0 {
		ticker := time.NewTicker(c.cfg.ResyncInterval)
		defer ticker.Stop()
		safety = ticker.C
	}

	sessions := c.sessions.Events()
	signals := c.listener.Events()

	c.log.Info("🔄 coordinator started",
		logger.Duration("debounce", c.cfg.DebounceWindow),
		logger.Duration("resync_interval", c.cfg.ResyncInterval))

	for {
		select {
		case <-ctx.Done():
			return nil

		case state, ok := <-sessions:
			if !ok {
				return nil
			}
			c.onSession(l, state)

		case sig, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			c.onSignal(l, sig)

		case <-l.debounceC:
			l.debounce, l.debounceC = nil, nil
			c.requestResync(l, "feed")

		case <-c.trigger:
			c.requestResync(l, "manual")

		case <-safety:
			c.requestResync(l, "interval")

		case <-l.resubC:
			l.resubTimer, l.resubC = nil, nil
			if c.subscribe(l) {
				// Changes made while unsubscribed were not signalled.
				c.requestResync(l, "resubscribed")
			}

		case d := <-c.done:
			c.onResyncDone(l, d)
		}
	}
}

// ─────────────────────────────
// Session transitions
// ─────────────────────────────

func (c *Coordinator) onSession(l *loop, state domain.SessionState) {
	next := state.Scope()
	if next == l.scope {
		return
	}

	c.log.Info("session scope changed",
		logger.String("from", l.scope),
		logger.String("to", next))

	// Order matters: the old subscription is gone and the store empty before
	// anything is started for the new scope.
	c.stopFeed(l)
	c.store.Clear()
	l.stopTimers()

	l.scope = next
	l.epoch++
	l.inFlight, l.dirty = false, false
	c.inFlight.Store(false)
	l.resubWait = 0

	if next == "" {
		return
	}

	c.store.Scope(next)
	c.subscribe(l)
	c.requestResync(l, "session")
}

func (c *Coordinator) stopFeed(l *loop) {
	if l.handle == 0 {
		return
	}
	if err := c.listener.Stop(l.handle); err != nil {
		c.log.Warn("failed to stop change feed", logger.Error(err))
	}
	l.handle = 0
}

// subscribe starts the feed for the current scope, scheduling a retry on
// failure. It reports whether a subscription is active.
func (c *Coordinator) subscribe(l *loop) bool {
	if l.scope == "" || l.handle != 0 {
		return l.handle != 0
	}

	ctx, cancel := context.WithTimeout(l.ctx, c.cfg.SubscribeTimeout)
	h, err := c.listener.Start(ctx, l.scope)
	cancel()
	if err != nil {
		l.resubWait = c.cfg.Resubscribe.Next(l.resubWait)
		c.log.Warn("change feed subscription failed, retrying",
			logger.String("user_id", l.scope),
			logger.Duration("next_retry_in", l.resubWait),
			logger.Error(err))
		l.resubTimer = time.NewTimer(l.resubWait)
		l.resubC = l.resubTimer.C
		return false
	}

	l.handle = h
	l.resubWait = 0
	return true
}

// ─────────────────────────────
// Feed signals
// ─────────────────────────────

func (c *Coordinator) onSignal(l *loop, sig feed.Signal) {
	if sig.Handle != l.handle || sig.UserID != l.scope || l.scope == "" {
		c.log.Debug("dropping stale feed signal",
			logger.Uint64("handle", uint64(sig.Handle)),
			logger.String("user_id", sig.UserID))
		return
	}

	c.log.Debug("feed signal",
		logger.String("op", string(sig.Event.Op)),
		logger.String("record_id", sig.Event.RecordID))

	if c.cfg.DebounceWindow <= 0 {
		c.requestResync(l, "feed")
		return
	}
	if l.debounce == nil {
		l.debounce = time.NewTimer(c.cfg.DebounceWindow)
		l.debounceC = l.debounce.C
	}
}

func (l *loop) stopTimers() {
	if l.debounce != nil {
		l.debounce.Stop()
		l.debounce, l.debounceC = nil, nil
	}
	if l.resubTimer != nil {
		l.resubTimer.Stop()
		l.resubTimer, l.resubC = nil, nil
	}
}

// ─────────────────────────────
// Resync scheduling
// ─────────────────────────────

// requestResync starts a resync, or marks one as owed when a resync is
// already in flight so exactly one follow-up runs after it.
func (c *Coordinator) requestResync(l *loop, reason string) {
	if l.scope == "" {
		return
	}
	if l.inFlight {
		l.dirty = true
		return
	}
	c.startResync(l, reason)
}

func (c *Coordinator) startResync(l *loop, reason string) {
	l.inFlight = true
	c.inFlight.Store(true)
	epoch, userID := l.epoch, l.scope

	c.log.Debug("resync started", logger.String("user_id", userID), logger.String("reason", reason))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()

		ctx, cancel := context.WithTimeout(l.ctx, c.cfg.ResyncTimeout)
		_, err := c.store.Resync(ctx, userID)
		cancel()

		select {
		case c.done <- resyncDone{epoch: epoch, userID: userID, err: err}:
		case <-l.ctx.Done():
		}
	}()
}

func (c *Coordinator) onResyncDone(l *loop, d resyncDone) {
	if d.epoch != l.epoch {
		return
	}
	l.inFlight = false
	c.resyncs.Add(1)

	switch {
	case d.err == nil:
		c.lastError.Store(nil)
	case errors.Is(d.err, domain.ErrSuperseded):
	default:
		msg := d.err.Error()
		c.lastError.Store(&msg)
		c.log.Warn("resync failed, waiting for next trigger",
			logger.String("user_id", d.userID),
			logger.Error(d.err))
	}

	if l.dirty {
		l.dirty = false
		c.startResync(l, "follow-up")
		return
	}
	c.inFlight.Store(false)
}

// ─────────────────────────────
// Public operations
// ─────────────────────────────

// Refresh asks for a resync of the current scope. Repeated calls before the
// loop picks the first one up are coalesced.
func (c *Coordinator) Refresh() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Add creates a bookmark for the scoped user and triggers a resync once the
// request completes.
func (c *Coordinator) Add(ctx context.Context, title, url string) (domain.Bookmark, error) {
	userID := c.store.Scoped()
	rec, err := c.store.Add(ctx, userID, title, url)
	if reconcile(err) {
		c.Refresh()
	}
	return rec, err
}

// Remove deletes a bookmark of the scoped user and triggers a resync once
// the request completes.
func (c *Coordinator) Remove(ctx context.Context, id string) error {
	userID := c.store.Scoped()
	err := c.store.Remove(ctx, userID, id)
	if reconcile(err) {
		c.Refresh()
	}
	return err
}

// reconcile reports whether a mutation outcome reached the backend, so the
// collection has to be checked against it. Rejections made before any I/O
// do not.
func reconcile(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrPending),
		errors.Is(err, domain.ErrUnauthenticated),
		errors.Is(err, domain.ErrScopeMismatch),
		errors.Is(err, bookmarks.ErrNotInCollection):
		return false
	default:
		return true
	}
}

// ImportEntry is one bookmark to create through Import.
type ImportEntry struct {
	Title string
	URL   string
}

// ImportFailure reports an entry Import could not create.
type ImportFailure struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	Error string `json:"error"`
}

// ImportReport summarizes an Import call.
type ImportReport struct {
	Added  int             `json:"added"`
	Failed []ImportFailure `json:"failed,omitempty"`
}

// Import creates every entry through the regular add path and triggers a
// single resync at the end.
func (c *Coordinator) Import(ctx context.Context, entries []ImportEntry) (ImportReport, error) {
	userID := c.store.Scoped()
	if userID == "" {
		return ImportReport{}, domain.ErrUnauthenticated
	}

	var report ImportReport
	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			c.Refresh()
			return report, err
		}
		if _, err := c.store.Add(ctx, userID, e.Title, e.URL); err != nil {
			if errors.Is(err, domain.ErrScopeMismatch) || errors.Is(err, domain.ErrUnauthenticated) {
				return report, err
			}
			report.Failed = append(report.Failed, ImportFailure{Index: i, Title: e.Title, Error: err.Error()})
			continue
		}
		report.Added++
	}

	c.log.Info("import finished",
		logger.Int("added", report.Added),
		logger.Int("failed", len(report.Failed)))
	if report.Added > 0 || len(report.Failed) > 0 {
		c.Refresh()
	}
	return report, nil
}

// SignOut ends the identity session. The resulting Unauthenticated
// transition tears the scope down.
func (c *Coordinator) SignOut(ctx context.Context) error {
	if c.identity == nil {
		return errors.New("sign out not supported")
	}
	if err := c.identity.SignOut(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return nil
}

// Status is a diagnostic view of the engine.
type Status struct {
	UserID        string `json:"user_id"`
	State         string `json:"state"`
	Version       uint64 `json:"version"`
	Bookmarks     int    `json:"bookmarks"`
	Pending       int    `json:"pending"`
	FeedConnected bool   `json:"feed_connected"`
	Resyncing     bool   `json:"resyncing"`
	Resyncs       uint64 `json:"resyncs"`
	LastError     string `json:"last_error,omitempty"`
	Running       bool   `json:"running"`
}

// Status reports the current engine state.
func (c *Coordinator) Status() Status {
	snap := c.store.Snapshot()
	st := Status{
		UserID:        snap.UserID,
		State:         snap.State.String(),
		Version:       snap.Version,
		Bookmarks:     len(snap.Bookmarks),
		Pending:       len(snap.Pending),
		FeedConnected: c.listener.Connected(),
		Resyncing:     c.inFlight.Load(),
		Resyncs:       c.resyncs.Load(),
		Running:       c.running.Load(),
	}
	if msg := c.lastError.Load(); msg != nil {
		st.LastError = *msg
	}
	return st
}

// Snapshot returns the current view of the scoped collection.
func (c *Coordinator) Snapshot() bookmarks.Snapshot {
	return c.store.Snapshot()
}

// Watch streams every republished snapshot. See bookmarks.Store.Watch.
func (c *Coordinator) Watch() (<-chan bookmarks.Snapshot, func()) {
	return c.store.Watch()
}
