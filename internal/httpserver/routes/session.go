package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/marksync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/mw"
)

func init() {
	Register(registerSession)
}

func registerSession(r chi.Router, d deps.Deps) {
	limit := mw.RateLimit(mw.RateLimitConfig{
		Burst:        d.RateLimitBurst,
		RefillPerSec: d.RateLimitRPS,
		MaxEntries:   10_000,
		TrustProxy:   d.TrustProxy,
	})

	r.Group(func(r chi.Router) {
		r.Use(guard(d)...)
		r.Use(middleware.Timeout(d.RequestTimeout))

		r.Get("/login", handlers.Login(d))
		r.Route("/api/session", func(r chi.Router) {
			r.Get("/", handlers.GetSession(d))
			r.With(limit).Post("/", handlers.SignIn(d))
			r.Post("/signout", handlers.SignOut(d))
		})
	})
}
