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

	"github.com/tuneprint/tuneprint/internal/config"
	logpkg "github.com/tuneprint/tuneprint/internal/logger"
	"github.com/tuneprint/tuneprint/internal/metrics"
	"github.com/tuneprint/tuneprint/internal/storage"
	storageRedis "github.com/tuneprint/tuneprint/internal/storage/redis"
	storageSqlite "github.com/tuneprint/tuneprint/internal/storage/sqlite"
	chiTransport "github.com/tuneprint/tuneprint/internal/transport/chi"
	healthuc "github.com/tuneprint/tuneprint/internal/usecase/health"
	ingestuc "github.com/tuneprint/tuneprint/internal/usecase/ingest"
	queryuc "github.com/tuneprint/tuneprint/internal/usecase/query"
	"github.com/tuneprint/tuneprint/internal/version"
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

	logger.Info("Starting tuneprint API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("db_driver", cfg.Database.Driver),
	)

	// Create storage backend based on driver
	var store storage.TrackStore
	switch cfg.Database.Driver {
	case "redis":
		store, err = storageRedis.NewStore(storageRedis.Config{
			Addrs:         cfg.Database.Addrs,
			Password:      cfg.Database.Password,
			KeyPrefix:     cfg.Database.KeyPrefix,
			MaxQueryCodes: cfg.Database.MaxQueryCodes,
		})
	case "sqlite":
		store, err = storageSqlite.NewStore(cfg.Database.Path)
	default:
		logger.Fatal("Unknown database driver", zap.String("driver", cfg.Database.Driver))
	}
	if err != nil {
		logger.Fatal("Failed to create storage backend", zap.Error(err))
	}
	defer store.Close()

	// Wait for storage to be ready
	ctx := context.Background()
	if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
		logger.Fatal("Storage not ready", zap.Error(err))
	}
	logger.Info("Connected to storage")

	// Register matching metrics explicitly (no init())
	metrics.RegisterMatchingMetrics()

	// Create use case services
	querySvc := queryuc.New(store, queryuc.Config{
		CodecVersion:      cfg.Codec.Version,
		MaxRows:           cfg.Matching.MaxRows,
		MinScorePercent:   cfg.Matching.MinScorePercent,
		MinConfidence:     cfg.Matching.MinConfidence,
		BestMatchDiff:     cfg.Matching.BestMatchDiff,
		Slop:              cfg.Matching.Slop,
		TrimSeconds:       cfg.Matching.QueryTrimSeconds,
		MinCandidateCodes: cfg.Matching.MinCandidateCodes,
		Policy:            queryuc.Policy(cfg.Matching.DecisionPolicy),
	})
	ingestSvc := ingestuc.New(store, ingestuc.Config{
		CodecVersion: cfg.Codec.Version,
		TrimSeconds:  cfg.Matching.IngestTrimSeconds,
	})
	healthSvc := healthuc.New(store)

	// Create chi server
	server := chiTransport.NewServer(querySvc, ingestSvc, healthSvc, logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(metrics.Middleware())
	server.Routes(r)

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

	logger.Info("Server stopped gracefully")
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

			// Set X-Request-ID in response header
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
