package deps

import (
	"context"
	"time"

	"github.com/MrSnakeDoc/marksync/internal/bookmarks"
	"github.com/MrSnakeDoc/marksync/internal/coordinator"
	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

// Engine is the synchronization surface the handlers drive.
// *coordinator.Coordinator implements it.
type Engine interface {
	Snapshot() bookmarks.Snapshot
	Watch() (<-chan bookmarks.Snapshot, func())
	Add(ctx context.Context, title, url string) (domain.Bookmark, error)
	Remove(ctx context.Context, id string) error
	Refresh()
	Import(ctx context.Context, entries []coordinator.ImportEntry) (coordinator.ImportReport, error)
	Status() coordinator.Status
	SignOut(ctx context.Context) error
}

// Identity is the session surface the handlers drive.
// *auth.Provider implements it.
type Identity interface {
	CurrentSession(ctx context.Context) (domain.SessionState, error)
	SignIn(ctx context.Context, token string) (domain.SessionState, error)
	SignOut(ctx context.Context) error
	BeginOAuthLogin(provider, redirectTarget string) (string, error)
}

type Deps struct {
	Logger         logger.Logger
	StartTime      time.Time
	Version        string
	Commit         string
	BuildDate      string
	GoVersion      string
	AllowedCIDRS   []string // client IPs allowed on readyz and every /api and /login route
	AllowedHosts   []string // Host headers accepted on /api and /login routes, empty accepts any
	TrustProxy     bool     // true if running behind a trusted reverse proxy (e.g., cloudflared)
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration // per-request timeout for non-streaming routes

	Backend        string                          // "redis" | "postgres"
	PingBackend    func(ctx context.Context) error // nil skips the backend check
	Engine         Engine
	Identity       Identity
	RedirectTarget string // default post-login destination
}
