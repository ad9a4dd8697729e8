package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// RouterConfig wires the HTTP surface. Payments, PaymentCache, Sessions
// and Events are optional; leave them nil rather than typed-nil.
type RouterConfig struct {
	Service      *appointment.Service
	Payments     PaymentRecorder
	PaymentCache PaymentCache
	Sessions     SessionIssuer
	Events       http.Handler
	Postgres     Pinger
	Redis        *redis.Client
	Gatherer     prometheus.Gatherer
	Logger       zerolog.Logger
	Env          string
	Version      string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(middleware.Recoverer)

	if cfg.Postgres != nil {
		health := NewHealthHandler(cfg.Postgres, cfg.Redis, cfg.Env, cfg.Version)
		r.Get("/health/live", health.Liveness)
		r.Get("/health/ready", health.Readiness)
	}

	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	h := &Handler{
		svc:          cfg.Service,
		payments:     cfg.Payments,
		paymentCache: cfg.PaymentCache,
		sessions:     cfg.Sessions,
		logger:       cfg.Logger,
	}

	r.Route("/doctors/{id}/availability", func(r chi.Router) {
		r.Get("/", h.getAvailability)
		r.Post("/", h.publishSlot)
		r.Post("/generate", h.generateSlots)
	})
	r.Put("/availability/{slotId}", h.updateSlot)
	r.Delete("/availability/{slotId}", h.revokeSlot)

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", h.createAppointment)
		r.Get("/", h.listAppointments)
		r.Get("/{id}", h.getAppointment)
		r.Put("/{id}/status", h.updateStatus)
		r.Post("/{id}/reschedule", h.reschedule)
		r.Get("/{id}/session", h.getSession)
	})

	r.Post("/payments/webhook", h.paymentWebhook)

	if cfg.Events != nil {
		r.Handle("/events/ws", cfg.Events)
	}

	return r
}
