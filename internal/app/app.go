package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrSnakeDoc/marksync/internal/auth"
	"github.com/MrSnakeDoc/marksync/internal/backoff"
	"github.com/MrSnakeDoc/marksync/internal/bookmarks"
	"github.com/MrSnakeDoc/marksync/internal/config"
	"github.com/MrSnakeDoc/marksync/internal/coordinator"
	"github.com/MrSnakeDoc/marksync/internal/feed"
	"github.com/MrSnakeDoc/marksync/internal/httpserver"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marksync/internal/logger"
	"github.com/MrSnakeDoc/marksync/internal/session"
	"github.com/MrSnakeDoc/marksync/internal/version"
)

type App struct {
	cfg      *config.Config
	logger   logger.Logger
	backend  *backend
	provider *auth.Provider
	monitor  *session.Monitor
	listener *feed.Listener
	engine   *coordinator.Coordinator
	server   *httpserver.Server
}

// New loads the configuration and wires every component. The backend is
// connected before New returns.
func New(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	return build(ctx, cfg, logger.New(cfg.Log.Level, cfg.Log.Pretty))
}

func build(ctx context.Context, cfg *config.Config, loggerClient logger.Logger) (*App, error) {
	be, err := openBackend(ctx, cfg, loggerClient)
	if err != nil {
		return nil, err
	}

	provider := newProvider(cfg, be.tokens, loggerClient)
	monitor := session.NewMonitor(provider, loggerClient)
	listener := feed.NewListener(be.transport, loggerClient)
	store := bookmarks.NewStore(be.repo, loggerClient)

	engine := coordinator.New(coordinator.Config{
		DebounceWindow: cfg.Sync.DebounceWindow,
		ResyncInterval: cfg.Sync.ResyncInterval,
		ResyncTimeout:  cfg.Sync.ResyncTimeout,
		Resubscribe: backoff.Policy{
			Initial: cfg.Sync.ResubscribeBackoff,
			Max:     cfg.Sync.ResubscribeMax,
		},
	}, monitor, listener, store, provider, loggerClient)

	// Dependencies passed to routes (extend as needed).
	d := deps.Deps{
		Logger:         loggerClient,
		StartTime:      time.Now(),
		Version:        version.Version,
		Commit:         version.Commit,
		BuildDate:      version.BuildDate,
		GoVersion:      version.GoVersion,
		AllowedCIDRS:   cfg.Server.AllowedCIDRs,
		AllowedHosts:   cfg.Server.AllowedHosts,
		TrustProxy:     cfg.Server.TrustProxy,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		Backend:        be.name,
		PingBackend:    be.ping,
		Engine:         engine,
		Identity:       provider,
		RedirectTarget: cfg.Auth.RedirectTarget,
	}

	return &App{
		cfg:      cfg,
		logger:   loggerClient,
		backend:  be,
		provider: provider,
		monitor:  monitor,
		listener: listener,
		engine:   engine,
		server:   httpserver.New(cfg.Server, loggerClient, d),
	}, nil
}

func newProvider(cfg *config.Config, tokens auth.TokenStore, log logger.Logger) *auth.Provider {
	jwt := auth.NewJWTManager(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.AccessTokenTTL)
	return auth.NewProvider(jwt, tokens, auth.ProviderOptions{
		AuthorizeURL: cfg.Auth.AuthorizeURL,
		Providers:    cfg.OAuthProviders(),
	}, log)
}

// IssueToken mints a session credential for userID without starting the
// engine. Used to sign in when no external authorization server is set up.
func IssueToken(userID string) (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load config: %w", err)
	}
	return newProvider(cfg, nil, logger.NewNop()).Issue(userID)
}

// Run starts the engine and the HTTP server and blocks until a signal
// arrives or one of them fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.Infof("🚀 Starting marksync v%s on %s (backend=%s)", version.Version, a.cfg.Server.ListenAddr, a.backend.name)
	a.logger.Infof("marksync %s (commit=%s, built=%s, go=%s)",
		version.Version, version.Commit, version.BuildDate, version.GoVersion)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer a.backend.close()
	defer func() { _ = a.logger.Sync() }()

	if err := a.monitor.Start(ctx); err != nil {
		return fmt.Errorf("failed to start session monitor: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.engine.Run(gctx); err != nil {
			return fmt.Errorf("coordinator: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := a.server.Start(); err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("⏳ Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		err := a.server.Stop(shutdownCtx)

		a.monitor.Stop()
		if cerr := a.listener.Close(); cerr != nil {
			a.logger.Warn("failed to close change feed", logger.Error(cerr))
		}
		if err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	a.logger.Info("✅ marksync stopped cleanly")
	return nil
}
