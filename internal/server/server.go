package server

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/Nzyazin/moneybridge/internal/core/handler"
	"github.com/Nzyazin/moneybridge/internal/core/logger"
	middlWre "github.com/Nzyazin/moneybridge/internal/core/middleware"
	"github.com/gorilla/mux"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/slok/go-http-metrics/metrics/prometheus"
	"github.com/slok/go-http-metrics/middleware"
	"github.com/slok/go-http-metrics/middleware/std"
)

// HealthCheck reports whether a dependency can serve traffic.
type HealthCheck func(ctx context.Context) error

type Options struct {
	Addr string
	// Redis enables Idempotency-Key handling on create endpoints when set.
	Redis          *redis.Client
	IdempotencyTTL time.Duration
	RateLimitRPS   float64
	RateLimitBurst int
	Health         map[string]HealthCheck
	// Registry receives HTTP metrics and backs /metrics. Defaults to the
	// global Prometheus registry.
	Registry *promclient.Registry
}

type Server struct {
	router     *mux.Router
	log        logger.Logger
	httpServer *http.Server
	handler    *handler.TransactionHandler
	opts       Options
}

func NewServer(h *handler.TransactionHandler, opts Options, log logger.Logger) *Server {
	server := &Server{
		log:     log,
		router:  mux.NewRouter(),
		handler: h,
		opts:    opts,
	}

	server.router.NotFoundHandler = middlWre.NotFound(log)
	server.router.MethodNotAllowedHandler = middlWre.MethodNotAllowed(log)
	server.router.Use(loggingMiddleware(server.log))

	var registerer promclient.Registerer = promclient.DefaultRegisterer
	if opts.Registry != nil {
		registerer = opts.Registry
	}
	mw := middleware.New(middleware.Config{
		Recorder: prometheus.NewRecorder(prometheus.Config{Registry: registerer}),
	})

	server.router.Use(func(next http.Handler) http.Handler {
		return std.Handler("", mw, next)
	})

	server.RegisterRoutes()

	server.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           server.router,
		ReadTimeout:       9 * time.Second,
		WriteTimeout:      12 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 6 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return server
}

func (s *Server) RegisterRoutes() {
	s.router.Use(
		middlWre.Recovery(s.log),
		middlWre.RateLimit(s.opts.RateLimitRPS, s.opts.RateLimitBurst, s.log),
	)

	var idempotent func(http.Handler) http.Handler
	if s.opts.Redis != nil {
		idempotent = middlWre.Idempotency(s.opts.Redis, s.opts.IdempotencyTTL, s.log)
	}
	s.handler.RegisterRoutes(s.router, idempotent)

	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	metricsHandler := promhttp.Handler()
	if s.opts.Registry != nil {
		metricsHandler = promhttp.HandlerFor(s.opts.Registry, promhttp.HandlerOpts{})
	}
	s.router.Handle("/metrics", metricsHandler).Methods(http.MethodGet)
}

// Router exposes the configured handler for tests and embedding.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(s.opts.Health))
	for name, check := range s.opts.Health {
		if err := check(ctx); err != nil {
			s.log.Warn("Health check failed", logger.StringField("dependency", name), logger.ErrorField("error", err))
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": http.StatusText(status), "checks": checks})
}

// Run blocks until the server stops. After Shutdown it returns
// http.ErrServerClosed, also when Shutdown came first.
func (s *Server) Run() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) RunTLS(certFile, keyFile string) error {
	return s.httpServer.ListenAndServeTLS(certFile, keyFile)
}

func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.log.Error("Failed to shutdown HTTP server", logger.ErrorField("error", err))
		return fmt.Errorf("HTTP server shutdown error: %w", err)
	}
	return nil
}

func loggingMiddleware(log logger.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			started := time.Now()
			next.ServeHTTP(w, r)
			log.Info("HTTP request",
				logger.StringField("method", r.Method),
				logger.StringField("path", r.URL.Path),
				logger.StringField("remote_addr", r.RemoteAddr),
				logger.StringField("user_agent", r.UserAgent()),
				logger.DurationField("duration", time.Since(started)),
			)
		})
	}
}
