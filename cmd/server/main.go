package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	apihttp "github.com/Griffinhale/tastebuds-containerized-sub000/internal/api/http"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/app"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/connector"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/connector/igdb"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/connector/openlibrary"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/connector/spotify"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/connector/tmdb"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/ingest"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/metrics"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/preview"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/quota"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/resilience"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/search"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/store"
	"github.com/Griffinhale/tastebuds-containerized-sub000/internal/telemetry"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := telemetry.Init(rootCtx, "catalog")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Error("store open failed", slog.String("path", cfg.DBPath), slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer st.Close()

	registry := buildRegistry(cfg, logger)
	monitor := resilience.NewMonitor(resilience.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		BaseBackoff:      cfg.BreakerBaseBackoff,
		MaxBackoff:       cfg.BreakerMaxBackoff,
	}, resilience.WithLogger(logger))
	retry := resilience.DefaultRetryConfig()

	orchestrator := search.NewOrchestrator(registry, monitor, retry, cfg.RequestTimeout, logger)
	engine := ingest.NewEngine(st, registry, monitor, retry, logger)

	previewOpts := []preview.Option{
		preview.WithTTL(cfg.PreviewTTL),
		preview.WithLogger(logger),
	}
	if redisClient := connectRedis(rootCtx, cfg.RedisURL, logger); redisClient != nil {
		previewOpts = append(previewOpts, preview.WithRedis(redisClient))
		defer redisClient.Close()
	}
	previews := preview.NewCache(st, previewOpts...)
	previews.StartSweeper(rootCtx, cfg.PreviewPruneInterval)

	quotas := quota.NewGuard(cfg.QuotaWindow, cfg.QuotaMaxRequests)

	server := apihttp.NewServer(registry, orchestrator, engine, previews, quotas, monitor, st,
		apihttp.WithLogger(logger),
	)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			slog.String("addr", cfg.HTTPAddr),
			slog.Any("sources", registry.Names()),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", slog.String("error", err.Error()))
	}
	if shutdownTracer != nil {
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Warn("tracer shutdown failed", slog.String("error", err.Error()))
		}
	}
	logger.Info("shutdown complete")
}

// buildRegistry wires every source we have credentials for. Credential-free
// sources are always registered.
func buildRegistry(cfg app.Config, logger *slog.Logger) *connector.Registry {
	client := &http.Client{
		Timeout:   cfg.RequestTimeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}

	connectors := []connector.Connector{
		openlibrary.New(openlibrary.Config{
			Endpoint:  cfg.OpenLibraryEndpoint,
			UserAgent: cfg.UserAgent,
			Client:    client,
		}),
	}

	if cfg.TMDBAPIKey != "" {
		connectors = append(connectors, tmdb.New(tmdb.Config{
			APIKey:    cfg.TMDBAPIKey,
			BaseURL:   cfg.TMDBBaseURL,
			UserAgent: cfg.UserAgent,
			Client:    client,
		}))
	} else {
		logger.Warn("tmdb disabled, TMDB_API_KEY not set")
	}

	if cfg.IGDBClientID != "" && cfg.IGDBClientSecret != "" {
		connectors = append(connectors, igdb.New(igdb.Config{
			ClientID:     cfg.IGDBClientID,
			ClientSecret: cfg.IGDBClientSecret,
			BaseURL:      cfg.IGDBBaseURL,
			TokenURL:     cfg.TwitchTokenURL,
			UserAgent:    cfg.UserAgent,
			Client:       client,
		}))
	} else {
		logger.Warn("igdb disabled, IGDB_CLIENT_ID/IGDB_CLIENT_SECRET not set")
	}

	if cfg.SpotifyClientID != "" && cfg.SpotifyClientSecret != "" {
		connectors = append(connectors, spotify.New(spotify.Config{
			ClientID:     cfg.SpotifyClientID,
			ClientSecret: cfg.SpotifyClientSecret,
			BaseURL:      cfg.SpotifyBaseURL,
			TokenURL:     cfg.SpotifyTokenURL,
			UserAgent:    cfg.UserAgent,
			Client:       client,
		}))
	} else {
		logger.Warn("spotify disabled, SPOTIFY_CLIENT_ID/SPOTIFY_CLIENT_SECRET not set")
	}

	return connector.NewRegistry(connectors...)
}

func connectRedis(ctx context.Context, redisURL string, logger *slog.Logger) *redis.Client {
	if redisURL == "" {
		return nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Warn("redis url invalid, preview hot tier disabled", slog.String("error", err.Error()))
		return nil
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, preview hot tier disabled", slog.String("error", err.Error()))
		client.Close()
		return nil
	}
	logger.Info("redis connected for preview cache")
	return client
}

func newLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
