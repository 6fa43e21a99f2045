package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrSnakeDoc/marksync/internal/backoff"
	"github.com/MrSnakeDoc/marksync/internal/feed"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

// ChangesChannel is the NOTIFY channel the bookmarks trigger publishes on.
const ChangesChannel = "bookmark_changes"

// Transport delivers bookmark changes over LISTEN/NOTIFY. Each subscription
// holds one dedicated pool connection and filters payloads by user.
type Transport struct {
	pool  *pgxpool.Pool
	retry backoff.Policy
	log   logger.Logger
}

// NewTransport creates a LISTEN/NOTIFY change feed transport. retry paces
// re-listening after the dedicated connection drops.
func NewTransport(pool *pgxpool.Pool, retry backoff.Policy, log logger.Logger) *Transport {
	return &Transport{pool: pool, retry: retry, log: log.Named("pg-feed")}
}

// Subscribe acquires a connection and runs LISTEN before returning.
func (t *Transport) Subscribe(ctx context.Context, userID string) (feed.Subscription, error) {
	conn, err := t.listen(ctx)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &subscription{
		t:      t,
		userID: userID,
		events: make(chan feed.Event, feed.DefaultBuffer),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	s.connected.Store(true)
	go s.run(runCtx, conn)
	return s, nil
}

func (t *Transport) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := t.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+ChangesChannel); err != nil {
		discard(conn)
		return nil, fmt.Errorf("listen %s: %w", ChangesChannel, err)
	}
	return conn, nil
}

// discard takes conn out of the pool and closes it, so a connection left in
// LISTEN state is never handed to a query.
func discard(conn *pgxpool.Conn) {
	_ = conn.Hijack().Close(context.Background())
}

type subscription struct {
	t         *Transport
	userID    string
	events    chan feed.Event
	cancel    context.CancelFunc
	done      chan struct{}
	connected atomic.Bool
	closeOnce sync.Once
}

func (s *subscription) Events() <-chan feed.Event { return s.events }
func (s *subscription) Connected() bool           { return s.connected.Load() }

func (s *subscription) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		<-s.done
	})
	return nil
}

func (s *subscription) run(ctx context.Context, conn *pgxpool.Conn) {
	defer close(s.done)
	defer close(s.events)
	defer s.connected.Store(false)

	log := s.t.log.With(logger.String("user_id", s.userID))

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err == nil {
			if ev, ok := decodeNotification(n.Payload, s.userID); ok {
				s.emit(ev)
			}
			continue
		}

		discard(conn)
		if ctx.Err() != nil {
			return
		}

		s.connected.Store(false)
		log.Warn("change feed connection lost", logger.Error(err))

		_, err = backoff.Retry(ctx, s.t.retry, func(ctx context.Context) error {
			var lerr error
			conn, lerr = s.t.listen(ctx)
			return lerr
		}, func(a backoff.Attempt) {
			log.Warn("re-listen failed",
				logger.Int("attempt", a.Number),
				logger.Duration("next_retry", a.NextRetry),
				logger.Error(a.Err))
		})
		if err != nil {
			return
		}

		log.Info("change feed re-established")
		s.connected.Store(true)
		s.emit(feed.Event{Op: feed.OpReconnect, UserID: s.userID})
	}
}

func (s *subscription) emit(ev feed.Event) {
	select {
	case s.events <- ev:
	default:
	}
}

type notification struct {
	Op     string `json:"op"`
	ID     string `json:"id"`
	UserID string `json:"user_id"`
}

// decodeNotification turns a trigger payload into an event for userID.
// Rows of other users are dropped. An unreadable payload still yields an
// OpUnknown event since any event only asks for a resync.
func decodeNotification(payload, userID string) (feed.Event, bool) {
	var n notification
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return feed.Event{Op: feed.OpUnknown, UserID: userID}, true
	}
	if n.UserID != userID {
		return feed.Event{}, false
	}
	return feed.Event{Op: feed.ParseOp(n.Op), UserID: n.UserID, RecordID: n.ID}, true
}
