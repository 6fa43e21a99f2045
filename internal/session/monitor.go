package session

import (
	"context"
	"errors"
	"sync"

	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

// IdentityProvider is the subset of the identity provider the Monitor needs.
type IdentityProvider interface {
	CurrentSession(ctx context.Context) (domain.SessionState, error)
	OnSessionChange(fn func(domain.SessionState)) (unsubscribe func())
}

// ErrAlreadyStarted is returned by a second Start.
var ErrAlreadyStarted = errors.New("session monitor already started")

// Monitor turns provider callbacks into an ordered stream of identity
// transitions. A state is emitted only when its user identifier differs from
// the last emitted one; refreshes for the same user update Current silently.
type Monitor struct {
	provider IdentityProvider
	log      logger.Logger
	out      chan domain.SessionState
	wake     chan struct{}
	stopCh   chan struct{}
	done     chan struct{}

	mu          sync.Mutex
	current     domain.SessionState
	queue       []domain.SessionState
	emitted     bool
	lastEmitted string
	pushed      bool
	started     bool
	unsubscribe func()
	stopOnce    sync.Once
}

// NewMonitor creates a stopped monitor.
func NewMonitor(provider IdentityProvider, log logger.Logger) *Monitor {
	return &Monitor{
		provider: provider,
		log:      log.Named("session"),
		out:      make(chan domain.SessionState),
		wake:     make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
		current:  domain.Unauthenticated(),
	}
}

// Events delivers transitions in order to a single consumer. It is closed
// after Stop or when the Start context ends.
func (m *Monitor) Events() <-chan domain.SessionState {
	return m.out
}

// Current returns the latest known state, including refreshed credentials.
func (m *Monitor) Current() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Start registers for provider notifications, performs the initial lookup,
// and begins delivery. A lookup failure is reported as Unauthenticated.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	// Registering first means no transition between lookup and
	// registration is lost. A push that beats the lookup is newer than it.
	unsubscribe := m.provider.OnSessionChange(m.push)

	m.mu.Lock()
	m.unsubscribe = unsubscribe
	m.mu.Unlock()

	state, err := m.provider.CurrentSession(ctx)
	if err != nil {
		m.log.Warn("session lookup failed, treating as signed out", logger.Error(err))
		state = domain.Unauthenticated()
	}

	m.mu.Lock()
	if !m.pushed {
		m.observeLocked(state)
	}
	m.mu.Unlock()

	go m.deliver(ctx)
	return nil
}

// Stop unregisters from the provider and closes Events.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		m.mu.Lock()
		unsubscribe := m.unsubscribe
		started := m.started
		m.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
		close(m.stopCh)
		if started {
			<-m.done
		}
	})
}

func (m *Monitor) push(state domain.SessionState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushed = true
	m.observeLocked(state)
}

func (m *Monitor) observeLocked(state domain.SessionState) {
	m.current = state
	id := state.Scope()
	if m.emitted && id == m.lastEmitted {
		m.log.Debug("session refreshed", logger.String("user_id", id))
		return
	}
	m.emitted = true
	m.lastEmitted = id
	m.queue = append(m.queue, state)

	select {
	case m.wake <- struct{}{}:
	default:
	}
}

func (m *Monitor) deliver(ctx context.Context) {
	defer close(m.done)
	defer close(m.out)

	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			select {
			case <-m.wake:
				continue
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
		next := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		if next.IsAuthenticated() {
			m.log.Info("👤 session signed in", logger.String("user_id", next.UserID))
		} else {
			m.log.Info("👋 session signed out")
		}

		select {
		case m.out <- next:
		case <-m.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}
