package feed

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

// DefaultBuffer is the capacity of the Listener output channel.
const DefaultBuffer = 64

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("feed listener closed")

// Handle identifies one subscription started by a Listener. The zero Handle
// is never issued.
type Handle uint64

// Signal is an Event tagged with the subscription that produced it.
type Signal struct {
	Handle Handle
	UserID string
	Event  Event
}

type activeSub struct {
	handle Handle
	userID string
	sub    Subscription
	stopCh chan struct{}
	done   chan struct{}
}

// Listener holds at most one subscription at a time and forwards its events
// on a single channel.
type Listener struct {
	transport Transport
	log       logger.Logger
	out       chan Signal

	mu     sync.Mutex
	next   Handle
	active *activeSub
	closed bool
}

// NewListener creates an idle listener.
func NewListener(transport Transport, log logger.Logger) *Listener {
	return &Listener{
		transport: transport,
		log:       log.Named("feed"),
		out:       make(chan Signal, DefaultBuffer),
	}
}

// Events returns the channel all subscriptions deliver to. It is closed by
// Close.
func (l *Listener) Events() <-chan Signal {
	return l.out
}

// Start subscribes to changes of userID. Any active subscription is stopped,
// and its pump has exited, before the new one is opened.
func (l *Listener) Start(ctx context.Context, userID string) (Handle, error) {
	if userID == "" {
		return 0, domain.ErrUnauthenticated
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return 0, ErrClosed
	}
	if l.active != nil {
		if err := l.stopLocked(); err != nil {
			l.log.Warn("stopping previous change feed failed", logger.Error(err))
		}
	}

	sub, err := l.transport.Subscribe(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("subscribe %s: %w", userID, err)
	}

	l.next++
	a := &activeSub{
		handle: l.next,
		userID: userID,
		sub:    sub,
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	l.active = a
	go l.pump(a)

	l.log.Info("🔔 change feed subscribed",
		logger.String("user_id", userID),
		logger.Uint64("handle", uint64(a.handle)))
	return a.handle, nil
}

// Stop closes the subscription identified by h. Stopping a stale or zero
// handle is a no-op.
func (l *Listener) Stop(h Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.active == nil || l.active.handle != h {
		return nil
	}
	return l.stopLocked()
}

func (l *Listener) stopLocked() error {
	a := l.active
	l.active = nil

	close(a.stopCh)
	err := a.sub.Close()
	<-a.done
	dropped := l.drainLocked()

	l.log.Info("🔕 change feed unsubscribed",
		logger.String("user_id", a.userID),
		logger.Uint64("handle", uint64(a.handle)),
		logger.Int("dropped", dropped))
	if err != nil {
		return fmt.Errorf("close subscription: %w", err)
	}
	return nil
}

// drainLocked discards queued signals. Called once the pump has exited, so
// everything still buffered belongs to a stopped subscription and can no
// longer crowd out signals of the next one.
func (l *Listener) drainLocked() int {
	n := 0
	for {
		select {
		case <-l.out:
			n++
		default:
			return n
		}
	}
}

// Connected reports the transport status of the active subscription. It is
// diagnostic only.
func (l *Listener) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.active != nil && l.active.sub.Connected()
}

// Active returns the handle and user of the running subscription, if any.
func (l *Listener) Active() (Handle, string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil {
		return 0, ""
	}
	return l.active.handle, l.active.userID
}

// Close stops the active subscription and closes Events.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	var err error
	if l.active != nil {
		err = l.stopLocked()
	}
	l.closed = true
	close(l.out)
	return err
}

func (l *Listener) pump(a *activeSub) {
	defer close(a.done)

	events := a.sub.Events()
	for {
		select {
		case <-a.stopCh:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.UserID != "" && ev.UserID != a.userID {
				l.log.Warn("dropping change for foreign user",
					logger.String("scope", a.userID),
					logger.String("event_user", ev.UserID))
				continue
			}
			sig := Signal{Handle: a.handle, UserID: a.userID, Event: ev}
			select {
			case l.out <- sig:
			default:
				// Only this subscription's signals are queued, and any of
				// them triggers a resync.
				l.log.Debug("feed buffer full, dropping signal",
					logger.String("user_id", a.userID),
					logger.String("op", string(ev.Op)))
			}
		}
	}
}
