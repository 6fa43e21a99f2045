package auth

import (
	"context"
	"fmt"
	"net/url"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

// TokenStore persists the session credential across restarts.
// Load returns "" when nothing is stored.
type TokenStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, token string, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// ProviderOptions configures a Provider.
type ProviderOptions struct {
	AuthorizeURL string
	Providers    []string
}

// Provider is the identity provider: it validates credentials handed over
// after the OAuth redirect, keeps the current session, and pushes every
// change to registered listeners.
type Provider struct {
	jwt    *JWTManager
	tokens TokenStore
	opts   ProviderOptions
	log    logger.Logger

	// notifyMu serializes state changes so listeners see them in order.
	notifyMu  sync.Mutex
	mu        sync.Mutex
	state     domain.SessionState
	listeners map[int]func(domain.SessionState)
	nextID    int
	expiry    *time.Timer
}

// NewProvider creates a signed-out provider. tokens may be nil.
func NewProvider(jwt *JWTManager, tokens TokenStore, opts ProviderOptions, log logger.Logger) *Provider {
	return &Provider{
		jwt:       jwt,
		tokens:    tokens,
		opts:      opts,
		log:       log.Named("auth"),
		state:     domain.Unauthenticated(),
		listeners: make(map[int]func(domain.SessionState)),
	}
}

// CurrentSession returns the active session, restoring a persisted
// credential when signed out. An expired or invalid stored credential is
// discarded.
func (p *Provider) CurrentSession(ctx context.Context) (domain.SessionState, error) {
	p.mu.Lock()
	state := p.state
	p.mu.Unlock()

	if state.IsAuthenticated() {
		if p.jwt.now().Before(state.Credential.ExpiresAt) {
			return state, nil
		}
		p.expire(state.Credential.AccessToken)
		return domain.Unauthenticated(), nil
	}

	if p.tokens == nil {
		return domain.Unauthenticated(), nil
	}

	token, err := p.tokens.Load(ctx)
	if err != nil {
		return domain.Unauthenticated(), fmt.Errorf("load session: %w", err)
	}
	if token == "" {
		return domain.Unauthenticated(), nil
	}

	claims, err := p.jwt.Validate(token)
	if err != nil {
		p.log.Info("discarding stored credential", logger.Error(err))
		if err := p.tokens.Clear(ctx); err != nil {
			p.log.Warn("failed to clear stored credential", logger.Error(err))
		}
		return domain.Unauthenticated(), nil
	}

	restored := domain.Authenticated(claims.UserID.String(), domain.Credential{
		AccessToken: token,
		ExpiresAt:   claims.ExpiresAt,
	})
	p.setState(restored)
	return restored, nil
}

// SignIn validates token and makes it the active credential. Signing in
// again for the same user acts as a refresh.
func (p *Provider) SignIn(ctx context.Context, token string) (domain.SessionState, error) {
	claims, err := p.jwt.Validate(token)
	if err != nil {
		return domain.Unauthenticated(), fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}

	if p.tokens != nil {
		ttl := time.Until(claims.ExpiresAt)
		if err := p.tokens.Save(ctx, token, ttl); err != nil {
			return domain.Unauthenticated(), fmt.Errorf("persist session: %w", err)
		}
	}

	state := domain.Authenticated(claims.UserID.String(), domain.Credential{
		AccessToken: token,
		ExpiresAt:   claims.ExpiresAt,
	})
	p.setState(state)
	return state, nil
}

// SignOut drops the current credential.
func (p *Provider) SignOut(ctx context.Context) error {
	if p.tokens != nil {
		if err := p.tokens.Clear(ctx); err != nil {
			return fmt.Errorf("clear session: %w", err)
		}
	}
	p.setState(domain.Unauthenticated())
	return nil
}

// OnSessionChange registers fn for every session change. Callbacks run on
// the goroutine that caused the change and must not block.
func (p *Provider) OnSessionChange(fn func(domain.SessionState)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()

	id := p.nextID
	p.nextID++
	p.listeners[id] = fn

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.listeners, id)
	}
}

// BeginOAuthLogin returns the authorize URL the browser is redirected to.
// The resulting credential comes back through SignIn.
func (p *Provider) BeginOAuthLogin(provider, redirectTarget string) (string, error) {
	if !slices.Contains(p.opts.Providers, provider) {
		return "", domain.NewValidationError("provider", fmt.Sprintf("%q is not enabled", provider))
	}
	if _, err := url.ParseRequestURI(redirectTarget); err != nil {
		return "", domain.NewValidationError("redirect_to", "must be an absolute URL")
	}

	u, err := url.Parse(p.opts.AuthorizeURL)
	if err != nil {
		return "", fmt.Errorf("authorize url: %w", err)
	}
	q := u.Query()
	q.Set("provider", provider)
	q.Set("redirect_to", redirectTarget)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Issue mints a credential for userID. Used by the development sign-in flow
// and tests.
func (p *Provider) Issue(userID string) (string, error) {
	id, err := parseUserID(userID)
	if err != nil {
		return "", err
	}
	token, _, err := p.jwt.Issue(id)
	return token, err
}

func (p *Provider) setState(state domain.SessionState) {
	p.notifyMu.Lock()
	defer p.notifyMu.Unlock()

	p.mu.Lock()
	p.state = state
	if p.expiry != nil {
		p.expiry.Stop()
		p.expiry = nil
	}
	if state.IsAuthenticated() {
		token := state.Credential.AccessToken
		p.expiry = time.AfterFunc(time.Until(state.Credential.ExpiresAt), func() { p.expire(token) })
	}
	fns := make([]func(domain.SessionState), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		fn(state)
	}
}

// expire signs out if token is still the active credential.
func (p *Provider) expire(token string) {
	p.mu.Lock()
	active := p.state.IsAuthenticated() && p.state.Credential.AccessToken == token
	p.mu.Unlock()
	if !active {
		return
	}
	p.log.Info("session credential expired")
	p.setState(domain.Unauthenticated())
}

func parseUserID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, domain.NewValidationError("user_id", "must be a UUID")
	}
	return id, nil
}
