package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/departure-inventory/internal/idempotency"
	"github.com/robertarktes/departure-inventory/internal/observability"
	"github.com/robertarktes/departure-inventory/internal/ratelimit"
)

// RouterOptions carries the optional Redis-backed middleware. Nil fields
// switch the corresponding middleware off.
type RouterOptions struct {
	RateLimiter *ratelimit.RateLimiter
	RateLimits  RateLimits
	Idempotency *idempotency.Idempotency
}

func SetupRouter(h *Handlers, logger observability.Logger, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(loggerOr(logger)))
	r.Use(MetricsMiddleware)
	r.Use(TracingMiddleware)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(IdentityMiddleware)
		if opts.RateLimiter != nil {
			r.Use(RateLimitMiddleware(opts.RateLimiter, opts.RateLimits))
		}
		if opts.Idempotency != nil {
			r.Use(IdempotencyMiddleware(opts.Idempotency))
		}

		r.Get("/departures/{id}/availability", h.DepartureAvailability)
		r.Get("/departures/{id}/state", h.DepartureState)
		r.Get("/departures/{id}/holds", h.DepartureHolds)
		r.Get("/resources/{id}/availability", h.ResourceAvailability)

		r.Post("/holds", h.CreateHold)
		r.Get("/holds/{id}", h.GetHold)
		r.Post("/holds/{id}/extend", h.ExtendHold)
		r.Post("/holds/{id}/release", h.ReleaseHold)
		if h.audit != nil {
			r.Get("/holds/{id}/audit", h.HoldAudit)
		}

		r.Post("/checkouts", h.CreateCheckout)
		r.Get("/checkouts/{ref}", h.GetCheckout)
		r.Post("/checkouts/{ref}/payment", h.ProceedToPayment)
		r.Post("/checkouts/{ref}/confirm", h.ConfirmCheckout)
		r.Post("/checkouts/{ref}/cancel", h.CancelCheckout)
		r.Post("/checkouts/{ref}/abandon", h.AbandonCheckout)
		r.Get("/bookings/{id}", h.GetBooking)

		r.Post("/admin/sweep", h.Sweep)
	})

	return r
}
