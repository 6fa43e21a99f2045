package routes

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/MrSnakeDoc/marksync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/mw"
)

func init() { Register(registerBookmarks) }

func registerBookmarks(r chi.Router, d deps.Deps) {
	limit := mw.RateLimit(mw.RateLimitConfig{
		Burst:        d.RateLimitBurst,
		RefillPerSec: d.RateLimitRPS,
		MaxEntries:   10_000,
		TrustProxy:   d.TrustProxy,
	})

	r.Route("/api/bookmarks", func(r chi.Router) {
		r.Use(guard(d)...)

		// Long-lived; no request timeout.
		r.Get("/stream", handlers.StreamBookmarks(d))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(d.RequestTimeout))
			r.Get("/", handlers.ListBookmarks(d))

			r.With(limit).Post("/", handlers.CreateBookmark(d))
			r.With(limit).Delete("/{id}", handlers.DeleteBookmark(d))
			r.With(limit).Post("/refresh", handlers.RefreshBookmarks(d))
			r.With(limit).Post("/import", handlers.ImportBookmarks(d))
		})
	})
}
