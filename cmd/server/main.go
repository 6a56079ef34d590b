package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Brownie44l1/challenge-api/internal/artifact"
	"github.com/Brownie44l1/challenge-api/internal/catalog"
	"github.com/Brownie44l1/challenge-api/internal/config"
	"github.com/Brownie44l1/challenge-api/internal/handlers"
	"github.com/Brownie44l1/challenge-api/internal/images"
	"github.com/Brownie44l1/challenge-api/internal/logging"
	"github.com/Brownie44l1/challenge-api/internal/model"
	"github.com/Brownie44l1/challenge-api/internal/remote"
	"github.com/Brownie44l1/challenge-api/internal/solver"
)

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

// shutdownGrace bounds both the request drain and the wait for sessions.
const shutdownGrace = 15 * time.Second

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fetcher := remote.NewHTTPFetcher(remote.Options{
		UserAgent:       cfg.UserAgent,
		Timeout:         cfg.FetchTimeout.Std(),
		MaxBytes:        cfg.MaxFetchBytes,
		MaxConnsPerHost: cfg.MaxConcurrency,
	})

	catalogCache := catalog.New(catalog.Config{
		URL:        cfg.CatalogURL,
		TTL:        cfg.CatalogTTL.Std(),
		RetryAfter: cfg.CatalogRetryAfter.Std(),
		Fetcher:    fetcher,
		Logger:     logger.Named("catalog"),
	})
	go catalogCache.Run(ctx)

	artifactConfig := artifact.Config{
		URLTemplate: cfg.ModelURLTemplate,
		Fetcher:     fetcher,
		Resolver:    catalogCache,
		Logger:      logger.Named("artifact"),
	}
	if cfg.Redis.Address != "" {
		store := artifact.NewRedisStore(artifact.RedisOptions{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      cfg.Redis.TTL.Std(),
		})
		defer store.Close()
		if err := store.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, artifacts will only be cached in memory",
				zap.String("address", cfg.Redis.Address), zap.Error(err))
		} else {
			artifactConfig.Store = store
		}
	}
	artifacts := artifact.NewCache(artifactConfig)

	runtime := model.NewONNXRuntime(cfg.OnnxRuntimeLibrary, cfg.ImageSize)
	sessions := model.NewSessions(runtime, logger.Named("model"))
	defer shutdownModels(sessions, runtime, shutdownGrace, logger)

	s := solver.New(solver.Config{
		Artifacts:        artifacts,
		Sessions:         sessions,
		Images:           images.NewFetcher(fetcher, cfg.ImageURLTemplate, images.Normalizer{Size: cfg.ImageSize}),
		MaxConcurrency:   cfg.MaxConcurrency,
		InferenceWorkers: cfg.InferenceWorkers,
		Timeout:          cfg.RequestTimeout.Std(),
		Logger:           logger.Named("solver"),
	})

	handler := handlers.NewHandler(s, logger.Named("http"))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", enableCORS(handler.Health))
	mux.HandleFunc("/", enableCORS(handler.Solve))
	mux.HandleFunc("/solve", enableCORS(handler.Solve))

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	ln, err := net.Listen("tcp", server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", server.Addr, err)
	}

	logger.Info("server starting",
		zap.String("port", cfg.Port),
		zap.String("catalog", cfg.CatalogURL),
		zap.Int("imageSize", cfg.ImageSize),
		zap.Int("maxConcurrency", cfg.MaxConcurrency))

	err = serve(ctx, server, ln, shutdownGrace)
	logger.Info("server stopped")
	return err
}

// serve handles requests on ln until ctx is done, then waits up to grace
// for in-flight requests to finish.
func serve(ctx context.Context, server *http.Server, ln net.Listener, grace time.Duration) error {
	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(ln)
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		server.Close()
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// shutdownModels drops the cached sessions and closes the runtime once no
// caller holds a session. If sessions are still in use after grace the
// runtime is left up and false is returned.
func shutdownModels(sessions *model.Sessions, runtime io.Closer, grace time.Duration, logger *zap.Logger) bool {
	sessions.Close()

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := sessions.Wait(ctx); err != nil {
		logger.Warn("sessions still in use, leaving runtime up", zap.Error(err))
		return false
	}
	if err := runtime.Close(); err != nil {
		logger.Warn("failed to close runtime", zap.Error(err))
	}
	return true
}
