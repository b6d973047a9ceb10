package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/granverde/stocklink/internal/config"
	"github.com/granverde/stocklink/internal/host"
	"github.com/granverde/stocklink/internal/logging"
	"github.com/granverde/stocklink/internal/messages"
	"github.com/granverde/stocklink/internal/metrics"
	"github.com/granverde/stocklink/internal/notices"
	"github.com/granverde/stocklink/internal/overlay"
	"github.com/granverde/stocklink/internal/overlay/cache"
	"github.com/granverde/stocklink/internal/overlay/fallback"
	"github.com/granverde/stocklink/internal/overlay/pricing"
	"github.com/granverde/stocklink/internal/overlay/upstream"
	"github.com/granverde/stocklink/internal/reconcile"
	"github.com/granverde/stocklink/internal/server"
)

func main() {
	var (
		configFile = flag.String("config", "", "path to server configuration file")
		envPrefix  = flag.String("env-prefix", "STOCKLINK", "environment variable prefix")
	)
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *envPrefix, *configFile); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("stocklink: %v", err)
	}
}

func run(ctx context.Context, envPrefix, configFile string) error {
	loader := config.NewLoader(envPrefix, configFile)
	cfg, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Server.Logging)
	if err != nil {
		return fmt.Errorf("configure logger: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewRecorder(promRegistry)

	snapshotCache := buildSnapshotCache(logger, cfg.Server.Cache)

	tracker := fallback.New(
		cfg.Server.Fallback.FailureThreshold,
		cfg.Server.Fallback.Cooldown(),
		logger,
		fallback.WithStateListener(recorder.SetFallbackActive),
	)

	client := upstream.New(upstream.Config{
		Endpoint:     cfg.Server.Upstream.Endpoint,
		APIKey:       cfg.Server.Upstream.APIKey,
		Timeout:      cfg.Server.Upstream.Timeout(),
		ProbeTimeout: cfg.Server.Upstream.ProbeTimeout(),
		MaxRedirects: cfg.Server.Upstream.MaxRedirects,
	}, logger)
	if !client.Configured() {
		logger.Warn("upstream endpoint not configured, serving host data only")
	}

	settings, err := overlaySettings(cfg)
	if err != nil {
		return err
	}

	noticeBuffer := notices.NewBuffer(0)

	svc := overlay.New(logger, overlay.Options{
		Cache:    snapshotCache,
		Client:   client,
		Tracker:  tracker,
		Notices:  noticeBuffer,
		Metrics:  recorder,
		Settings: settings,
	})
	defer func() {
		if err := svc.Close(context.Background()); err != nil {
			logger.Error("cache shutdown failed", slog.Any("error", err))
		}
	}()

	catalog, err := messages.NewCatalog(cfg.Server.Messages.InsufficientStock, cfg.Server.Messages.FallbackNotice)
	if err != nil {
		return fmt.Errorf("compile messages: %w", err)
	}

	store := host.NewMemoryStore(cfg.Server.Sync.SyncLogSize)

	reconciler := reconcile.New(logger, svc, store, catalog, recorder, reconcile.Config{
		ViewRefresh:    cfg.Server.Sync.ViewRefresh(),
		DebounceWindow: cfg.Server.Sync.Debounce(),
	})

	if configFile != "" {
		watcher, err := loader.WatchSettings(ctx, func(updated config.Config) {
			next, err := overlaySettings(updated)
			if err != nil {
				logger.Error("settings reload rejected", slog.Any("error", err))
				return
			}
			svc.ApplySettings(ctx, next)
		}, func(err error) {
			logger.Error("settings watcher error", slog.Any("error", err))
		})
		if err != nil {
			logger.Warn("settings watcher setup failed", slog.Any("error", err))
		} else {
			defer watcher.Stop()
		}
	}

	api := server.NewAPI(logger, svc, reconciler, store, noticeBuffer, catalog)
	mux := http.NewServeMux()
	mux.Handle("/metrics", recorder.Handler())
	mux.Handle("/", api.Handler())

	srv, err := server.New(cfg.Server.Listen, logger, mux)
	if err != nil {
		return fmt.Errorf("construct server: %w", err)
	}

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server shutdown complete")
	return nil
}

// overlaySettings derives the hot-swappable overlay settings from a loaded
// config, compiling the price rule so a bad expression is caught before it
// replaces a working one.
func overlaySettings(cfg config.Config) (overlay.Settings, error) {
	rule, err := pricing.Compile(cfg.Server.Pricing.PriceRule)
	if err != nil {
		return overlay.Settings{}, fmt.Errorf("compile price rule: %w", err)
	}
	return overlay.Settings{
		TTL:             cfg.Server.Cache.TTL(),
		PriceRule:       rule,
		DisableFallback: cfg.Server.Fallback.Disabled,
	}, nil
}

func buildSnapshotCache(logger *slog.Logger, cfg config.CacheConfig) cache.SnapshotCache {
	ttl := cfg.TTL()
	backend := strings.TrimSpace(strings.ToLower(cfg.Backend))
	switch backend {
	case "", "memory":
		logger.Info("using memory snapshot cache", slog.Duration("ttl", ttl))
		return cache.NewMemory(ttl)
	case "redis":
		redisCache, err := cache.NewRedis(cache.RedisConfig{
			Address:  cfg.Redis.Address,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TLS: cache.RedisTLSConfig{
				Enabled: cfg.Redis.TLS.Enabled,
				CAFile:  cfg.Redis.TLS.CAFile,
			},
		})
		if err != nil {
			logger.Error("redis cache initialization failed", slog.Any("error", err))
			logger.Info("falling back to memory cache")
			return cache.NewMemory(ttl)
		}
		logger.Info("using redis snapshot cache", slog.String("address", cfg.Redis.Address))
		return redisCache
	default:
		logger.Warn("unsupported cache backend, defaulting to memory", slog.String("backend", cfg.Backend))
		return cache.NewMemory(ttl)
	}
}
