package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"course-billing/internal/domain/model"
	"course-billing/internal/infra/metrics"
	"course-billing/internal/usecase"
)

type WebhookHandler interface {
	Handle(ctx context.Context, n *model.InboundNotification) (*usecase.WebhookOutcome, error)
}

type Confirmer interface {
	Confirm(ctx context.Context, userID, ref string) (*usecase.ConfirmResult, error)
}

type EntitlementReader interface {
	ForUser(ctx context.Context, userID string) (*usecase.Entitlements, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// Deps are the collaborators of the HTTP surface. Limiter and Health are optional.
type Deps struct {
	Webhooks     WebhookHandler
	Confirm      Confirmer
	Entitlements EntitlementReader
	Auth         *Authenticator
	Limiter      RateLimiter
	Health       func(ctx context.Context) error

	RequestTimeout time.Duration
	TrustProxy     bool
}

// Server exposes provider webhooks, the client confirmation endpoint and
// the entitlement read path.
type Server struct {
	d   Deps
	log *zerolog.Logger
}

func NewServer(d Deps, logger *zerolog.Logger) *Server {
	if d.RequestTimeout <= 0 {
		d.RequestTimeout = 10 * time.Second
	}
	return &Server{d: d, log: logger}
}

// Router builds the chi mux with the middleware chain applied.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(TraceID(), Recover(s.log), RequestLog(s.log), Timeout(s.d.RequestTimeout), BodyLimit(1<<20))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if s.d.TrustProxy {
			r.Use(middleware.RealIP)
		}
		r.Post("/webhooks/{provider}", s.handleWebhook)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.d.Auth.Require)
		r.Post("/payments/confirm", s.handleConfirm)
		r.Get("/entitlements", s.handleEntitlements)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.d.Health != nil {
		if err := s.d.Health(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "unhealthy")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}
