package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/user/booksource-service/internal/adapter/chromedp_fetcher"
	"github.com/user/booksource-service/internal/adapter/goquery_dom"
	"github.com/user/booksource-service/internal/adapter/httpfetch"
	"github.com/user/booksource-service/internal/adapter/postgres"
	redis_adapter "github.com/user/booksource-service/internal/adapter/redis"
	"github.com/user/booksource-service/internal/adapter/sqlite"
	"github.com/user/booksource-service/internal/delivery/http/handler"
	"github.com/user/booksource-service/internal/delivery/http/router"
	"github.com/user/booksource-service/internal/repository"
	"github.com/user/booksource-service/internal/usecase"
	"github.com/user/booksource-service/pkg/config"
	"github.com/user/booksource-service/pkg/logger"
	"github.com/user/booksource-service/pkg/metrics"
	"go.uber.org/zap"
)

func main() {
	// --- Configuration ---
	cfg, err := config.Load()
	if err != nil {
		// The logger is not configured yet.
		zap.NewExample().Fatal("could not load config", zap.Error(err))
	}

	// --- Logger ---
	log, err := logger.New(logger.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		zap.NewExample().Fatal("could not build logger", zap.Error(err))
	}
	defer log.Sync()
	log.Info("logger initialized", zap.String("level", cfg.LogLevel))

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Book source store ---
	var store repository.BookSourceRepository
	switch cfg.StoreDriver {
	case "postgres":
		store = postgres.NewBookSourceRepo(cfg.PostgresURL)
	default:
		store = sqlite.NewBookSourceRepo(cfg.SQLitePath)
	}
	registry := usecase.NewRegistry(ctx, store, m, log.With(zap.String("component", "registry")))
	defer registry.Close()

	// --- Page fetching ---
	rotator, invalid := httpfetch.NewRotator(cfg.ProxyURLs, cfg.UserAgents)
	for _, p := range invalid {
		log.Warn("ignoring invalid proxy url", zap.String("proxy", p))
	}

	var fetcher repository.PageFetcher
	switch cfg.FetchMode {
	case "browser":
		browser := chromedp_fetcher.NewChromedpFetcher(cfg.FetchTimeout(), rotator.UserAgent(), log.With(zap.String("component", "browser")))
		defer browser.Close()
		fetcher = browser
	default:
		fetcher = httpfetch.New(httpfetch.Config{
			Timeout:  cfg.FetchTimeout(),
			MaxBytes: cfg.MaxBodyBytes,
			Rotator:  rotator,
		})
	}

	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, page cache will be bypassed until it recovers", zap.Error(err))
		}
		fetcher = usecase.NewCachedFetcher(fetcher, redis_adapter.NewPageCacheRepo(rdb), cfg.PageCacheTTL(), m, log)
		log.Info("page cache enabled", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.PageCacheTTL()))
	}

	// --- Use Cases ---
	interpreter := usecase.NewInterpreter(fetcher, goquery_dom.NewParser(), usecase.InterpreterConfig{
		Timeout:           cfg.FetchTimeout(),
		MaxPages:          cfg.MaxPages,
		SearchConcurrency: cfg.SearchConcurrency,
	}, m, log.With(zap.String("component", "interpreter")))
	importer := usecase.NewImporter(registry, fetcher, log.With(zap.String("component", "importer")))

	// --- HTTP Server ---
	apiHandler := handler.NewHandler(registry, interpreter, importer, log)
	httpRouter := router.New(apiHandler, router.Options{Logger: log, Metrics: m, Gatherer: reg})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      httpRouter,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("could not listen on port", zap.String("port", cfg.ServerPort), zap.Error(err))
			stop()
		}
	}()
	log.Info("server started", zap.String("port", cfg.ServerPort), zap.String("store", cfg.StoreDriver), zap.String("fetch_mode", cfg.FetchMode))

	<-ctx.Done()
	log.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server exiting")
}
