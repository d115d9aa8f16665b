package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/corpex-io/corpex/internal/config"
	logpkg "github.com/corpex-io/corpex/internal/logger"
	"github.com/corpex-io/corpex/internal/metrics"
	"github.com/corpex-io/corpex/internal/results"
	"github.com/corpex-io/corpex/internal/store"
	"github.com/corpex-io/corpex/internal/store/sqlite"
	"github.com/corpex-io/corpex/internal/task"
	chiTransport "github.com/corpex-io/corpex/internal/transport/chi"
	healthuc "github.com/corpex-io/corpex/internal/usecase/health"
	searchuc "github.com/corpex-io/corpex/internal/usecase/search"
	"github.com/corpex-io/corpex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting corpex API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_path", cfg.Database.Path),
		zap.Int("pool_size", cfg.Database.PoolSize),
	)

	// Register task metrics explicitly (no init())
	metrics.RegisterTaskMetrics()

	// Bounded pool of graph store connections; each running task checks one out.
	pool, err := store.NewFixedPool(cfg.Database.PoolSize, func() (store.GraphStore, error) {
		return sqlite.Open(cfg.Database.Path, logger)
	})
	if err != nil {
		logger.Fatal("Failed to open graph database", zap.Error(err))
	}
	defer func() { _ = pool.Close() }()
	logger.Info("Connected to graph database")

	manager := task.NewManager(logger)

	// Results-file tasks enrich identifiers over a private connection,
	// never a pooled one.
	newEnricher := func() (results.Enricher, error) {
		return sqlite.NewEnricher(cfg.Database.Path, logger), nil
	}

	searchSvc := searchuc.New(manager, pool, newEnricher, searchuc.Options{
		BaseURL:           cfg.HTTP.BaseURL,
		IdleTimeout:       time.Duration(cfg.Task.IdleTimeoutSec) * time.Second,
		MaxLogSize:        cfg.Task.MaxLogSize,
		TargetColumn:      cfg.Results.TargetColumn,
		DefaultPageLength: cfg.Results.DefaultPageLength,
		UploadDir:         cfg.Results.UploadDir,
	}, logger)

	healthSvc := healthuc.New(&poolPinger{pool: pool}, manager)

	server := chiTransport.NewServer(searchSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	r.Mount("/", server.Router())

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	// Cancel running tasks and wait for them to return their stores.
	manager.Shutdown()

	logger.Info("Server stopped gracefully")
}

// poolPinger checks database health through a briefly checked-out store.
type poolPinger struct {
	pool store.Pool
}

func (p *poolPinger) Ping(ctx context.Context) error {
	checkoutCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	s, err := p.pool.Checkout(checkoutCtx)
	if err != nil {
		return fmt.Errorf("checkout store: %w", err)
	}
	defer p.pool.Return(s)

	if err := s.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			// chi.middleware.RequestID already placed request_id in context
			requestID := chiMiddleware.GetReqID(r.Context())

			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			// Per-request logger with request_id
			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			// Canonical log line — one line per request
			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
