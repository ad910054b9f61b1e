package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/codevat/runbox/internal/api"
	"github.com/codevat/runbox/internal/auth"
	"github.com/codevat/runbox/internal/config"
	"github.com/codevat/runbox/internal/engine"
	"github.com/codevat/runbox/internal/limiter"
	"github.com/codevat/runbox/internal/sandbox"
	"github.com/codevat/runbox/internal/store"
)

const serviceTag = "runbox"

type Server struct {
	conf        *config.Config
	logger      *zerolog.Logger
	httpServer  *http.Server
	db          *store.SQLiteStore
	driver      sandbox.Driver
	engine      *engine.Engine
	rateLimiter *limiter.Limiter
}

func New(conf *config.Config, logger *zerolog.Logger) (*Server, error) {
	db, err := store.Open(conf.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	driver, err := sandbox.NewDockerDriver(logger)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create sandbox driver: %w", err)
	}

	eng := engine.New(db, driver, conf.Sandbox, conf.Limiter.MaxConcurrent, logger)

	rl := limiter.New(conf.Limiter.GlobalRPS, conf.Limiter.PerKeyRPS, conf.Limiter.PerKeyBurst)
	rl.StartCleanup(5 * time.Minute)

	handler := api.NewHandler(db, eng, logger, serviceTag)

	router := mux.NewRouter()
	router.Use(requestLogging(logger))

	router.HandleFunc("/health", handler.Health).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	authed := router.PathPrefix("/api").Subrouter()
	authed.Use(auth.Middleware(db, logger))
	authed.HandleFunc("/submit", rl.Middleware(handler.Submit)).Methods(http.MethodPost)
	authed.HandleFunc("/job/{id}", handler.GetJob).Methods(http.MethodGet)
	authed.HandleFunc("/jobs", handler.ListJobs).Methods(http.MethodGet)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", conf.Server.Port),
		Handler:      router,
		ReadTimeout:  time.Duration(conf.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(conf.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(conf.Server.IdleTimeout) * time.Second,
	}

	return &Server{
		conf:        conf,
		logger:      logger,
		httpServer:  httpServer,
		db:          db,
		driver:      driver,
		engine:      eng,
		rateLimiter: rl,
	}, nil
}

func (s *Server) Start() error {
	ctx := context.Background()

	if err := s.driver.EnsureImage(ctx, s.conf.Sandbox.Image); err != nil {
		return fmt.Errorf("failed to ensure sandbox image: %w", err)
	}

	// A crash of the previous process must not leak sandboxes or leave
	// jobs running forever, so the sweeper runs before the listener opens.
	if err := s.engine.Sweep(ctx); err != nil {
		return fmt.Errorf("startup sweep failed: %w", err)
	}

	s.logger.Info().
		Int("port", s.conf.Server.Port).
		Msg("starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	if s.db != nil {
		s.db.Close()
	}
	return nil
}

func requestLogging(logger *zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote", r.RemoteAddr).
				Dur("elapsed", time.Since(start)).
				Msg("request handled")
		})
	}
}
