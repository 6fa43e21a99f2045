package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/marksync/internal/feed"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

// DefaultHealthInterval is how often an idle subscription pings the server.
const DefaultHealthInterval = 3 * time.Second

// Transport delivers bookmark changes over Redis pub/sub, one channel per
// user.
type Transport struct {
	client *redis.Client
	health time.Duration
	log    logger.Logger
}

// NewTransport creates a pub/sub change feed transport. Subscriptions ping
// the server every health interval and report disconnected on failure;
// health <= 0 uses DefaultHealthInterval.
func NewTransport(client *redis.Client, health time.Duration, log logger.Logger) *Transport {
	if health <= 0 {
		health = DefaultHealthInterval
	}
	return &Transport{client: client, health: health, log: log.Named("redis-feed")}
}

// Subscribe listens on the user's change channel. It returns once the
// subscription is confirmed by the server.
func (t *Transport) Subscribe(ctx context.Context, userID string) (feed.Subscription, error) {
	channel := ChangesChannel(userID)
	pubsub := t.client.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	s := &subscription{
		pubsub: pubsub,
		userID: userID,
		log:    t.log,
		events: make(chan feed.Event, feed.DefaultBuffer),
		stop:   make(chan struct{}),
	}
	s.connected.Store(true)

	in := pubsub.ChannelWithSubscriptions(
		redis.WithChannelSize(feed.DefaultBuffer),
		redis.WithChannelHealthCheckInterval(t.health),
	)
	s.wg.Add(2)
	go s.run(in)
	go s.watchHealth(t.health)
	return s, nil
}

type subscription struct {
	pubsub    *redis.PubSub
	userID    string
	log       logger.Logger
	events    chan feed.Event
	stop      chan struct{}
	wg        sync.WaitGroup
	connected atomic.Bool
	closeOnce sync.Once
}

func (s *subscription) Events() <-chan feed.Event { return s.events }
func (s *subscription) Connected() bool           { return s.connected.Load() }

func (s *subscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.stop)
		err = s.pubsub.Close()
		s.wg.Wait()
	})
	return err
}

// watchHealth pings the server and flips connected to false when it is
// unreachable. Only a confirmed resubscription in run sets it back.
func (s *subscription) watchHealth(every time.Duration) {
	defer s.wg.Done()

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), every)
		err := s.pubsub.Ping(ctx)
		cancel()
		if err == nil || errors.Is(err, redis.ErrClosed) {
			continue
		}
		if s.connected.Swap(false) {
			s.log.Warn("change feed connection lost", logger.String("user_id", s.userID), logger.Error(err))
		}
	}
}

func (s *subscription) run(in <-chan any) {
	defer s.wg.Done()
	defer close(s.events)
	defer s.connected.Store(false)

	for msg := range in {
		var ev feed.Event
		switch m := msg.(type) {
		case *redis.Subscription:
			// The initial confirmation was consumed by Subscribe, so any
			// later one follows a dropped connection.
			if m.Kind != "subscribe" {
				continue
			}
			s.log.Info("change feed resubscribed", logger.String("user_id", s.userID))
			s.connected.Store(true)
			ev = feed.Event{Op: feed.OpReconnect, UserID: s.userID}

		case *redis.Message:
			if err := json.Unmarshal([]byte(m.Payload), &ev); err != nil {
				s.log.Debug("unparseable change payload", logger.Error(err))
				ev = feed.Event{Op: feed.OpUnknown, UserID: s.userID}
			}

		default:
			continue
		}

		select {
		case s.events <- ev:
		default:
		}
	}
}
