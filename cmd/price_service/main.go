package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"price_service/internal/clock"
	"price_service/internal/compare"
	"price_service/internal/config"
	"price_service/internal/fetcher"
	getCategories "price_service/internal/http-server/handlers/categories/get"
	getComparisons "price_service/internal/http-server/handlers/comparisons/get"
	getConfig "price_service/internal/http-server/handlers/config"
	"price_service/internal/http-server/handlers/docs"
	"price_service/internal/http-server/handlers/health"
	addProduct "price_service/internal/http-server/handlers/products/add"
	addByURL "price_service/internal/http-server/handlers/products/add_by_url"
	getByID "price_service/internal/http-server/handlers/products/get_by_id"
	refreshLifecycle "price_service/internal/http-server/handlers/refresh/lifecycle"
	refreshStatus "price_service/internal/http-server/handlers/refresh/status"
	triggerRefresh "price_service/internal/http-server/handlers/refresh/trigger"
	"price_service/internal/lib/jwt"
	sl "price_service/internal/lib/logger/sl"
	"price_service/internal/lib/refreshqueue"
	"price_service/internal/metrics"
	authMiddlware "price_service/internal/middleware/auth"
	"price_service/internal/middleware/products"
	"price_service/internal/notify/email"
	"price_service/internal/rabbitmq"
	"price_service/internal/refresh"
	"price_service/internal/storage/postgres"
	"price_service/internal/storage/redis"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	refreshOnce := flag.Bool("refresh-once", false, "refresh every stored price once and exit")
	flag.Parse()

	cfg := config.MustLoad(config.Path())

	log := setupLogger(cfg.Env)

	log.Info("starting price service",
		slog.String("env", cfg.Env),
		slog.Bool("scraping_enabled", cfg.Scraping.Enabled),
	)

	startedAt := time.Now().UTC()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Info("Shutdown signal received")
		cancel()
	}()

	jwtParser := jwt.New(cfg.JWTSecret)

	// * Redis
	redisClient, err := redis.New(ctx, cfg.Redis.Addr, cfg.Redis.Db, cfg.Redis.DefaultTTL)
	if err != nil {
		log.Error("failed to connect redis", sl.Err(err))
		os.Exit(1)
	}
	defer redisClient.Close()

	// * PostgreSQL
	postgresClient, err := postgres.New(ctx, log, cfg)
	if err != nil {
		log.Error("failed to connect postgreSQL", sl.Err(err))
		os.Exit(1)
	}
	defer postgresClient.Close()

	// * RabbitMQ
	rabbitMQClient, err := rabbitmq.New(
		cfg.RabbitMQ.URL,
		cfg.RabbitMQ.EventsQueue,
		cfg.RabbitMQ.RefreshQueue,
	)
	if err != nil {
		log.Error("failed to connect rabbitMQ", sl.Err(err))
		os.Exit(1)
	}
	defer rabbitMQClient.Close()

	rabbitMQProducer := rabbitmq.NewProducer(
		rabbitMQClient.Channel,
		cfg.RabbitMQ.EventsQueue,
	)
	rabbitMQConsumer := rabbitmq.NewConsumer(
		rabbitMQClient.Channel,
		log,
		cfg.RabbitMQ.RefreshQueue,
		cfg.RabbitMQ.WorkerPoolSize,
	)

	engine, err := compare.New(cfg.ExchangeRate)
	if err != nil {
		log.Error("invalid exchange rate", sl.Err(err))
		os.Exit(1)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	pages := setupFetcher(cfg)

	scheduler := setupScheduler(log, cfg, postgresClient, pages, redisClient, rabbitMQProducer, registry)

	if *refreshOnce {
		os.Exit(runOnce(ctx, log, scheduler))
	}

	// * Refresh requests from the queue
	listener := refreshqueue.New(log, scheduler)
	if err := listener.Run(ctx, rabbitMQConsumer); err != nil {
		log.Error("failed to consume refresh requests", sl.Err(err))
		os.Exit(1)
	}

	prodOP := products.New(log, postgresClient, redisClient, engine)

	router := setupRouter(
		ctx,
		log,
		cfg,
		validator.New(),
		prodOP,
		engine,
		pages,
		scheduler,
		jwtParser,
		registry,
		startedAt,
	)

	if cfg.Refresh.AutoStart && cfg.Scraping.Enabled {
		scheduler.Start(ctx)
	}

	srv := &http.Server{
		Addr:         cfg.HTTPServer.Address,
		Handler:      router,
		ReadTimeout:  cfg.HTTPServer.Timeout,
		WriteTimeout: cfg.HTTPServer.WriteTimeout,
		IdleTimeout:  cfg.HTTPServer.IdleTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("failed to start server", sl.Err(err))
			cancel()
		}
	}()

	log.Info("server started", slog.String("address", cfg.HTTPServer.Address))

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop server", sl.Err(err))
	}

	if err := scheduler.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop price refresh scheduler", sl.Err(err))
	}

	log.Info("server stopped")
}

func setupFetcher(cfg *config.Config) *fetcher.Registry {
	var loader fetcher.Loader = fetcher.NewCollyLoader(cfg.Scraping.UserAgent, cfg.Scraping.RequestTimeout)
	if cfg.Scraping.Browser {
		loader = fetcher.NewBrowserLoader(cfg.Scraping.UserAgent, cfg.Scraping.RequestTimeout)
	}

	return fetcher.NewDefaultRegistry(loader)
}

func setupScheduler(
	log *slog.Logger,
	cfg *config.Config,
	store *postgres.PostgresRepo,
	pages *fetcher.Registry,
	locker *redis.RedisRepo,
	producer *rabbitmq.Producer,
	registerer prometheus.Registerer,
) *refresh.Scheduler {
	opts := []refresh.Option{
		refresh.WithLocker(locker),
		refresh.WithPublisher(producer),
		refresh.WithMetrics(metrics.New(registerer, metrics.Config{
			ServiceName: "price_service",
			Environment: cfg.Env,
		})),
	}

	if cfg.SMTP.Enabled {
		opts = append(opts, refresh.WithReporter(email.New(cfg.SMTP)))
	}

	return refresh.New(
		log,
		store,
		pages,
		clock.SystemClock{},
		refresh.Config{
			Enabled:             cfg.Scraping.Enabled,
			Interval:            cfg.Refresh.Interval,
			BatchSize:           cfg.Refresh.BatchSize,
			StaleAfter:          cfg.Refresh.StaleAfter,
			ItemDelay:           cfg.Refresh.ItemDelay,
			FetchTimeout:        cfg.Scraping.RequestTimeout,
			LockTTL:             cfg.Refresh.LockTTL,
			MaxPriceChangeRatio: cfg.Refresh.MaxPriceChangeRatio,
		},
		opts...,
	)
}

// runOnce forces a refresh of every stored price and returns the exit code.
func runOnce(ctx context.Context, log *slog.Logger, scheduler *refresh.Scheduler) int {
	outcomes, err := scheduler.TriggerUpdate(ctx, nil)
	if err != nil {
		log.Error("price refresh failed", sl.Err(err))
		return 1
	}

	failed := 0
	for _, o := range outcomes {
		if !o.Updated {
			failed++
			log.Warn("price not refreshed",
				slog.String("product", o.ProductName),
				slog.String("store", o.Store),
				slog.String("error", o.Error),
			)
		}
	}

	log.Info("price refresh finished",
		slog.Int("records", len(outcomes)),
		slog.Int("updated", len(outcomes)-failed),
		slog.Int("failed", failed),
	)

	return 0
}

func setupRouter(
	ctx context.Context,
	log *slog.Logger,
	cfg *config.Config,
	validate *validator.Validate,
	prodOP *products.ProductOperator,
	engine *compare.Engine,
	pages *fetcher.Registry,
	scheduler *refresh.Scheduler,
	jwtParser *jwt.JWTParser,
	gatherer prometheus.Gatherer,
	startedAt time.Time,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", health.New(clock.SystemClock{}, startedAt))
	r.Get("/config", getConfig.New(cfg.Scraping.Enabled, engine.ExchangeRate(), pages.Stores()))
	r.Get("/comparisons", getComparisons.New(log, prodOP))
	r.Get("/product", getByID.New(log, prodOP))
	r.Get("/categories", getCategories.New(log, prodOP))
	r.Get("/docs", docs.New(log, cfg.DocsDir, "K-Beauty Price API"))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/admin", func(r chi.Router) {
		r.Use(authMiddlware.AuthMiddleware(jwtParser))
		r.Use(authMiddlware.RequireAdmin)

		r.Get("/refresh/status", refreshStatus.New(scheduler))
		r.Post("/refresh", triggerRefresh.New(log, scheduler, validate))
		r.Post("/refresh/start", refreshLifecycle.Start(ctx, log, scheduler))
		r.Post("/refresh/stop", refreshLifecycle.Stop(log, scheduler))
		r.Post("/products", addProduct.New(log, prodOP, validate))
		r.Post("/products/by-url", addByURL.New(log, pages, prodOP, validate, cfg.Scraping.Enabled))
	})

	return r
}

func setupLogger(env string) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}

	return log
}
