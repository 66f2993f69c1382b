// Package httpapi serves the engine's operational endpoints: health, registry
// statistics, Prometheus metrics and the recent event journal.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/defi_engine/internal/config"
	"github.com/R3E-Network/defi_engine/internal/engine/events"
	"github.com/R3E-Network/defi_engine/internal/engine/registry"
	"github.com/R3E-Network/defi_engine/pkg/logger"
)

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l.Named("http")
		}
	}
}

// WithJournal exposes the journal on /events.
func WithJournal(j events.EventLogger) Option {
	return func(s *Server) {
		if j != nil {
			s.journal = j
		}
	}
}

// WithMetricsHandler serves h on /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// Server is the ops HTTP server.
type Server struct {
	reg     *registry.Registry
	journal events.EventLogger
	metrics http.Handler
	limiter *Limiter
	rates   *RateLimiter
	log     *logger.Logger
	started time.Time

	router     *mux.Router
	httpServer *http.Server
}

// New builds the router and the underlying http.Server.
func New(cfg config.HTTPConfig, reg *registry.Registry, opts ...Option) *Server {
	s := &Server{
		reg:     reg,
		journal: events.NoOpLogger{},
		log:     logger.NewDefault("http"),
		started: time.Now(),
		limiter: NewLimiter(LimiterConfig{
			MaxConcurrent:  cfg.MaxConcurrent,
			AcquireTimeout: cfg.ReadTimeout,
		}),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := mux.NewRouter()
	r.Use(LoggingMiddleware(s.log))
	if cfg.RateLimit.RequestsPerSecond > 0 {
		s.rates = NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, s.log)
		r.Use(RateLimitMiddleware(s.rates))
	}
	r.Use(LimitMiddleware(s.limiter))
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	s.router = r

	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.WithField("addr", s.httpServer.Addr).Info("http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

type healthResponse struct {
	Status  string       `json:"status"`
	Pools   int          `json:"pools"`
	Uptime  string       `json:"uptime"`
	Limiter LimiterStats `json:"limiter"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	pools := len(s.reg.StakingPools()) + len(s.reg.LendingPools()) +
		len(s.reg.LiquidityPools()) + len(s.reg.DAOs())
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "ok",
		Pools:   pools,
		Uptime:  time.Since(s.started).Truncate(time.Second).String(),
		Limiter: s.limiter.Stats(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.reg.Stats())
}

type eventsResponse struct {
	Count  int            `json:"count"`
	Events []events.Event `json:"events"`
}

// handleEvents returns recent journal entries, newest first. Optional query
// parameters: limit, pool, type.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultEventLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = min(n, maxEventLimit)
	}

	pool, typ := q.Get("pool"), events.EventType(q.Get("type"))
	var list []events.Event
	switch {
	case pool != "" && typ != "":
		for _, e := range s.journal.RecentByPool(pool, maxEventLimit) {
			if e.Type == typ {
				list = append(list, e)
			}
		}
		if len(list) > limit {
			list = list[:limit]
		}
	case pool != "":
		list = s.journal.RecentByPool(pool, limit)
	case typ != "":
		list = s.journal.RecentByType(typ, limit)
	default:
		list = s.journal.Recent(limit)
	}
	if list == nil {
		list = []events.Event{}
	}
	writeJSON(w, http.StatusOK, eventsResponse{Count: len(list), Events: list})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
