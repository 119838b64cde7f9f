package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/tigertix/internal/idempotency"
	"github.com/robertarktes/tigertix/internal/observability"
	"github.com/robertarktes/tigertix/internal/rateLimit"
)

func baseRouter(logger observability.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	return r
}

// SetupRouter builds the inventory api. rl and idemp may be nil.
func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency, jwtSecret string) *chi.Mux {
	r := baseRouter(logger)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)

	r.Route("/api", func(r chi.Router) {
		r.Use(RateLimitMiddleware(rl, logger))
		r.Use(IdempotencyMiddleware(idemp, logger))

		r.Route("/admin/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.With(JWTMiddleware(jwtSecret)).Post("/", h.CreateEvent)
		})

		r.Route("/client", func(r chi.Router) {
			r.Get("/events", h.ListEvents)
			r.Get("/events/{id}", h.GetEvent)
			r.Get("/events/{id}/bookings", h.ListBookings)
			r.Post("/purchase", h.Purchase)
		})
	})

	return r
}

func SetupAssistantRouter(h *AssistantHandlers, logger observability.Logger, rl *rateLimit.RateLimiter) *chi.Mux {
	r := baseRouter(logger)

	r.Get("/v1/healthz", h.Healthz)

	r.Route("/api/llm", func(r chi.Router) {
		r.Use(RateLimitMiddleware(rl, logger))
		r.Get("/events", h.ListEvents)
		r.Post("/parse", h.Parse)
		r.Post("/confirm", h.Confirm)
	})

	return r
}
