package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"github.com/hackgods/mini-hms/internal/identity"
)

type RouterConfig struct {
	Service          SlotService
	Auth             *identity.Authenticator
	Health           *HealthHandler
	Log              *zap.Logger
	BookingRateLimit int // per actor per minute, 0 disables
	Now              func() time.Time
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(middleware.Recoverer)

	if cfg.Health != nil {
		r.Get("/health/live", cfg.Health.Liveness)
		r.Get("/health/ready", cfg.Health.Readiness)
	}

	h := newHandlers(cfg.Service, cfg.Log, cfg.Now)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Auth))

		r.Get("/doctors", h.listDoctors)

		r.Get("/posts", h.listPosts)
		r.Post("/posts", h.createPost)

		r.Route("/slots", func(r chi.Router) {
			r.Post("/", h.createSlot)
			r.Get("/available", h.availableSlots)
			r.Get("/mine", h.mySlots)
			r.Delete("/{id}", h.deleteSlot)
			r.Post("/{id}/cancel", h.cancelSlot)

			r.Group(func(r chi.Router) {
				if cfg.BookingRateLimit > 0 {
					r.Use(httprate.Limit(
						cfg.BookingRateLimit,
						time.Minute,
						httprate.WithKeyFuncs(actorKey),
						httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
							writeError(w, http.StatusTooManyRequests, "rate_limited", "Too many booking attempts. Please wait a minute.")
						}),
					))
				}
				r.Post("/{id}/book", h.bookSlot)
			})
		})
	})

	return r
}

func actorKey(r *http.Request) (string, error) {
	if actor, ok := identity.ActorFromContext(r.Context()); ok {
		return actor.ID.String(), nil
	}
	return httprate.KeyByIP(r)
}
