// Package api exposes the submission gate over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/trustgate/internal/adapters/http/swagger"
	"github.com/okian/trustgate/internal/app"
	"github.com/okian/trustgate/internal/domain/model"
	"github.com/okian/trustgate/internal/domain/ratelimit"
	"github.com/okian/trustgate/internal/domain/types"
	"github.com/okian/trustgate/pkg/logger"
	"github.com/okian/trustgate/pkg/metrics"
)

const defaultMaxBodyBytes = 64 << 10

// Dependencies required by HTTP handlers. app.Service satisfies it.
type Dependencies interface {
	Submit(ctx context.Context, endpoint types.Endpoint, sub model.Submission) (app.Verdict, error)
	CheckField(ctx context.Context, clientID, field, value string) (app.FieldCheck, ratelimit.Decision, error)
	Health(ctx context.Context) app.HealthStatus
}

var _ Dependencies = (*app.Service)(nil)

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

// WithTrustRemoteAddr lets the socket peer identify clients that send no
// forwarding header.
func WithTrustRemoteAddr(trust bool) Option {
	return func(s *Server) {
		s.trustRemoteAddr = trust
	}
}

// WithLogger sets the handler logger.
func WithLogger(log logger.Logger) Option {
	return func(s *Server) {
		if log != nil {
			s.log = log
		}
	}
}

// Server wires HTTP routes for the submission API.
type Server struct {
	deps            Dependencies
	maxBody         int64
	trustRemoteAddr bool
	log             logger.Logger
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{deps: deps, maxBody: defaultMaxBodyBytes, log: logger.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the router with every route and the middleware stack.
func (s *Server) Routes(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders(DefaultHeaders()))
	r.Use(MaxBody(s.maxBody))

	r.Get("/healthz", MetricsMiddleware(s.handleHealth, "healthz"))
	r.Handle("/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	swagger.Register(ctx, r)

	r.Route("/api", func(r chi.Router) {
		r.Post("/contact", MetricsMiddleware(s.handleSubmit(types.EndpointContact), "contact"))
		r.Post("/consultation", MetricsMiddleware(s.handleSubmit(types.EndpointConsultation), "consultation"))
		r.Post("/wizard", MetricsMiddleware(s.handleSubmit(types.EndpointWizard), "wizard"))
		r.Post("/showings", MetricsMiddleware(s.handleSubmit(types.EndpointShowing), "showings"))
		r.Post("/validate", MetricsMiddleware(s.handleValidate, "validate"))
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Health(r.Context()))
}

type errorResponse struct {
	Success    bool   `json:"success"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	if message == "" {
		message = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}
