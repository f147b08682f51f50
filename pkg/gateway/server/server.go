package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vango-go/terranogyneco/pkg/auth"
	"github.com/vango-go/terranogyneco/pkg/gateway/config"
	"github.com/vango-go/terranogyneco/pkg/gateway/handlers"
	"github.com/vango-go/terranogyneco/pkg/gateway/lifecycle"
	"github.com/vango-go/terranogyneco/pkg/gateway/live/sessions"
	"github.com/vango-go/terranogyneco/pkg/gateway/metrics"
	"github.com/vango-go/terranogyneco/pkg/gateway/mw"
	"github.com/vango-go/terranogyneco/pkg/gateway/ratelimit"
	"github.com/vango-go/terranogyneco/pkg/history"
)

// Dependencies are the backends the gateway serves from. Directory may be
// nil when authentication is disabled; Metrics may be nil to skip
// instrumentation.
type Dependencies struct {
	History   history.Store
	Directory auth.Directory
	Runtime   handlers.LiveRuntime
	Metrics   *metrics.Metrics
	// Checks are readiness probes keyed by dependency name.
	Checks map[string]func(ctx context.Context) error
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
	deps   Dependencies

	limiter   *ratelimit.Limiter
	lifecycle *lifecycle.Lifecycle
	sessions  *sessions.Tracker
}

func New(cfg config.Config, logger *slog.Logger, deps Dependencies) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
		deps:   deps,
		limiter: ratelimit.New(ratelimit.Config{
			RPS:             cfg.LimitRPS,
			Burst:           cfg.LimitBurst,
			MaxLiveSessions: cfg.LiveMaxSessionsPerUser,
		}),
		lifecycle: &lifecycle.Lifecycle{},
		sessions:  sessions.NewTracker(),
	}

	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.Handle("/healthz", handlers.HealthHandler{})
	s.mux.Handle("/readyz", handlers.ReadyHandler{
		Config:    s.cfg,
		Lifecycle: s.lifecycle,
		Checks:    s.deps.Checks,
	})
	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}

	convs := handlers.ConversationsHandler{
		Store:        s.deps.History,
		Logger:       s.logger,
		MaxBodyBytes: s.cfg.MaxBodyBytes,
	}
	s.handle("GET /v1/conversations", "conversations.list", http.HandlerFunc(convs.List))
	s.handle("POST /v1/conversations", "conversations.create", http.HandlerFunc(convs.Create))
	s.handle("GET /v1/conversations/{id}", "conversations.get", http.HandlerFunc(convs.Get))
	s.handle("PATCH /v1/conversations/{id}", "conversations.patch", http.HandlerFunc(convs.Patch))
	s.handle("DELETE /v1/conversations/{id}", "conversations.delete", http.HandlerFunc(convs.Delete))
	s.handle("GET /v1/sources", "sources", http.HandlerFunc(convs.Sources))

	if s.deps.Directory != nil {
		admin := handlers.AdminHandler{Directory: s.deps.Directory, Logger: s.logger}
		s.handle("GET /v1/admin/users/pending", "admin.pending", mw.RequireAdmin(http.HandlerFunc(admin.Pending)))
		s.handle("POST /v1/admin/users/{id}/approve", "admin.approve", mw.RequireAdmin(http.HandlerFunc(admin.Approve)))
	}

	// Not instrumented: a websocket lives far longer than the request
	// duration buckets.
	s.mux.Handle("/v1/live", handlers.LiveHandler{
		Config:       s.cfg,
		Logger:       s.logger,
		Limiter:      s.limiter,
		Lifecycle:    s.lifecycle,
		LiveSessions: s.sessions,
		Metrics:      s.deps.Metrics,
		History:      s.deps.History,
		Runtime:      s.deps.Runtime,
	})

	s.mux.Handle("/", handlers.NotFoundHandler{})
}

func (s *Server) handle(pattern, route string, h http.Handler) {
	if s.deps.Metrics != nil {
		h = s.deps.Metrics.Instrument(route, h)
	}
	s.mux.Handle(pattern, h)
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.RateLimit(s.limiter, func(kind string) {
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordRateLimitHit(kind)
		}
	}, h)
	h = mw.Auth(s.cfg, s.deps.Directory, s.logger, h)
	h = mw.CORS(s.cfg, h)
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}

// IsDraining reports whether Drain has begun.
func (s *Server) IsDraining() bool {
	return s.lifecycle.IsDraining()
}

// LiveSessions returns the number of open live sessions.
func (s *Server) LiveSessions() int {
	return s.sessions.Count()
}

// Drain stops accepting live sessions and winds down the open ones,
// canceling whatever remains when ctx expires. It reports whether every
// session ended on its own.
func (s *Server) Drain(ctx context.Context) bool {
	return s.lifecycle.Drain(ctx, s.sessions, s.logger)
}
