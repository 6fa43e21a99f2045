package bookmarks

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

// ErrNotInCollection is returned by Remove for an id the current collection
// does not hold. It matches domain.ErrNotFound.
var ErrNotInCollection = fmt.Errorf("%w: not in current collection", domain.ErrNotFound)

// Store owns the bookmark collection of the currently scoped user.
//
// The collection is only replaced wholesale by an applied resync. Every
// change of state is published to watchers while the lock is held, so
// watchers observe versions in order.
type Store struct {
	repo Repository
	log  logger.Logger
	now  func() time.Time

	mu        sync.RWMutex
	scope     string // user the collection belongs to, "" when torn down
	gen       uint64 // bumped on every scope change; stale results compare against it
	seq       uint64 // last issued resync request
	state     State
	items     []domain.Bookmark
	pending   map[string]PendingMutation
	lastErr   error
	syncedAt  time.Time
	version   uint64
	watchers  map[int]chan Snapshot
	nextWatch int
}

// NewStore creates an empty, unscoped store.
func NewStore(repo Repository, log logger.Logger) *Store {
	return &Store{
		repo:     repo,
		log:      log.Named("bookmarks"),
		now:      time.Now,
		pending:  make(map[string]PendingMutation),
		watchers: make(map[int]chan Snapshot),
	}
}

// ─────────────────────────────
// Scope lifecycle
// ─────────────────────────────

// Scope points the store at userID with an empty collection.
// Results of requests issued under a previous scope are discarded.
func (s *Store) Scope(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked(userID)
	s.log.Debug("store scoped", logger.String("user_id", userID), logger.Uint64("generation", s.gen))
	s.publishLocked()
}

// Clear tears the store down to Empty and drops the scope.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scope == "" && s.state == StateEmpty && len(s.items) == 0 && len(s.pending) == 0 {
		return
	}
	s.resetLocked("")
	s.log.Debug("store cleared", logger.Uint64("generation", s.gen))
	s.publishLocked()
}

func (s *Store) resetLocked(userID string) {
	s.scope = userID
	s.gen++
	s.state = StateEmpty
	s.items = nil
	s.pending = make(map[string]PendingMutation)
	s.lastErr = nil
	s.syncedAt = time.Time{}
}

// Scoped returns the user the store is currently scoped to.
func (s *Store) Scoped() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope
}

func (s *Store) checkScopeLocked(userID string) error {
	if s.scope == "" {
		return domain.ErrUnauthenticated
	}
	if userID != s.scope {
		return fmt.Errorf("%w: %s", domain.ErrScopeMismatch, userID)
	}
	return nil
}

// ─────────────────────────────
// Resync
// ─────────────────────────────

// Resync fetches the full collection of userID and replaces the working
// collection with it, unless a newer request was issued or the scope changed
// while the fetch was in flight. A discarded result returns
// domain.ErrSuperseded.
//
// On fetch failure the last good collection is kept and the store moves to
// StateError until the next successful resync.
func (s *Store) Resync(ctx context.Context, userID string) ([]domain.Bookmark, error) {
	s.mu.Lock()
	if err := s.checkScopeLocked(userID); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	s.seq++
	mySeq, myGen := s.seq, s.gen
	if s.state != StateLoading {
		s.state = StateLoading
		s.publishLocked()
	}
	s.mu.Unlock()

	rows, err := s.repo.ListByUser(ctx, userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if myGen != s.gen || mySeq != s.seq {
		s.log.Debug("discarding stale resync result",
			logger.String("user_id", userID),
			logger.Uint64("seq", mySeq),
			logger.Uint64("latest_seq", s.seq),
			logger.Bool("scope_changed", myGen != s.gen))
		return nil, domain.ErrSuperseded
	}

	if err != nil {
		s.state = StateError
		s.lastErr = err
		s.log.Warn("resync failed, keeping last collection",
			logger.String("user_id", userID),
			logger.Int("retained", len(s.items)),
			logger.Error(err))
		s.publishLocked()
		return nil, fmt.Errorf("resync: %w", err)
	}

	s.items = s.normalize(userID, rows)
	s.state = StateReady
	s.lastErr = nil
	s.syncedAt = s.now()
	s.settleDeletesLocked()
	s.log.Debug("resync applied",
		logger.String("user_id", userID),
		logger.Uint64("seq", mySeq),
		logger.Int("count", len(s.items)))
	s.publishLocked()

	return slices.Clone(s.items), nil
}

// normalize drops foreign and duplicate rows and re-establishes newest-first
// order. The backend is trusted for neither.
func (s *Store) normalize(userID string, rows []domain.Bookmark) []domain.Bookmark {
	out := make([]domain.Bookmark, 0, len(rows))
	seen := make(map[string]struct{}, len(rows))
	for _, b := range rows {
		if b.UserID != userID {
			s.log.Warn("dropping bookmark owned by another user",
				logger.String("id", b.ID),
				logger.String("scope", userID))
			continue
		}
		if _, dup := seen[b.ID]; dup {
			continue
		}
		seen[b.ID] = struct{}{}
		out = append(out, b)
	}
	domain.SortNewestFirst(out)
	return out
}

// settleDeletesLocked forgets completed deletes whose record is gone.
func (s *Store) settleDeletesLocked() {
	for marker, p := range s.pending {
		if p.Kind != PendingDelete || !p.Completed {
			continue
		}
		if !s.containsLocked(marker) {
			delete(s.pending, marker)
		}
	}
}

func (s *Store) containsLocked(id string) bool {
	return slices.ContainsFunc(s.items, func(b domain.Bookmark) bool { return b.ID == id })
}

// ─────────────────────────────
// Mutations
// ─────────────────────────────

// Add validates title and url, then asks the backend to create the record.
// The record is not added to the collection; it appears after the next
// applied resync. The returned bookmark carries the backend-assigned fields.
func (s *Store) Add(ctx context.Context, userID, title, url string) (domain.Bookmark, error) {
	title, url, err := domain.NewBookmarkInput(title, url)
	if err != nil {
		return domain.Bookmark{}, err
	}

	s.mu.Lock()
	if err := s.checkScopeLocked(userID); err != nil {
		s.mu.Unlock()
		return domain.Bookmark{}, err
	}
	marker := uuid.NewString()
	gen := s.gen
	s.pending[marker] = PendingMutation{
		Marker:    marker,
		Kind:      PendingAdd,
		Title:     title,
		URL:       url,
		StartedAt: s.now(),
	}
	s.publishLocked()
	s.mu.Unlock()

	rec, err := s.repo.Insert(ctx, userID, title, url)

	s.mu.Lock()
	if gen == s.gen {
		delete(s.pending, marker)
		s.publishLocked()
	}
	s.mu.Unlock()

	if err != nil {
		return domain.Bookmark{}, fmt.Errorf("add bookmark: %w", err)
	}
	return rec, nil
}

// Remove deletes id, which must be present in the current collection.
// A second Remove of the same id while the first is pending fails with
// domain.ErrPending without contacting the backend.
func (s *Store) Remove(ctx context.Context, userID, id string) error {
	s.mu.Lock()
	if err := s.checkScopeLocked(userID); err != nil {
		s.mu.Unlock()
		return err
	}
	if _, busy := s.pending[id]; busy {
		s.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, domain.ErrPending)
	}
	if !s.containsLocked(id) {
		s.mu.Unlock()
		return fmt.Errorf("remove %s: %w", id, ErrNotInCollection)
	}
	gen := s.gen
	s.pending[id] = PendingMutation{Marker: id, Kind: PendingDelete, StartedAt: s.now()}
	s.publishLocked()
	s.mu.Unlock()

	err := s.repo.Delete(ctx, userID, id)

	s.mu.Lock()
	defer s.mu.Unlock()

	if gen != s.gen {
		if err != nil {
			return fmt.Errorf("remove %s: %w", id, err)
		}
		return nil
	}

	if err != nil {
		delete(s.pending, id)
		s.publishLocked()
		return fmt.Errorf("remove %s: %w", id, err)
	}

	p := s.pending[id]
	p.Completed = true
	s.pending[id] = p
	s.publishLocked()
	return nil
}

// ─────────────────────────────
// Reads
// ─────────────────────────────

// Snapshot returns the current view. It never performs I/O.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Pending returns the in-flight mutations, oldest first.
func (s *Store) Pending() []PendingMutation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pendingLocked()
}

func (s *Store) pendingLocked() []PendingMutation {
	if len(s.pending) == 0 {
		return nil
	}
	out := make([]PendingMutation, 0, len(s.pending))
	for _, p := range s.pending {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b PendingMutation) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.Marker, b.Marker)
	})
	return out
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		UserID:    s.scope,
		State:     s.state,
		Bookmarks: slices.Clone(s.items),
		Pending:   s.pendingLocked(),
		Version:   s.version,
		Err:       s.lastErr,
		SyncedAt:  s.syncedAt,
	}
}

// ─────────────────────────────
// Watchers
// ─────────────────────────────

// Watch returns a channel receiving the current snapshot and every later
// one. A slow reader only ever sees the latest snapshot; intermediate
// versions may be skipped. cancel closes the channel.
func (s *Store) Watch() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.mu.Lock()
	id := s.nextWatch
	s.nextWatch++
	s.watchers[id] = ch
	ch <- s.snapshotLocked()
	s.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.watchers, id)
			close(ch)
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

func (s *Store) publishLocked() {
	s.version++
	if len(s.watchers) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, ch := range s.watchers {
		// Replace an unread snapshot with the newer one.
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}
