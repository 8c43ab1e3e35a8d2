package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/unrolled/secure"

	"promotion-engine-api/internal/cache"
	"promotion-engine-api/internal/catalog"
	"promotion-engine-api/internal/config"
	"promotion-engine-api/internal/database"
	"promotion-engine-api/internal/engine"
	"promotion-engine-api/internal/events"
	"promotion-engine-api/internal/features"
	"promotion-engine-api/internal/handler"
	"promotion-engine-api/internal/ledger"
	"promotion-engine-api/internal/logger"
	"promotion-engine-api/internal/middleware"
	"promotion-engine-api/internal/service"
	"promotion-engine-api/internal/tracing"
)

func main() {
	configFile := flag.String("config", "", "JSON config file path")
	port := flag.String("port", "", "Server port (overrides config)")
	seedFile := flag.String("seed", "", "YAML catalog seed file loaded at startup (overrides config)")
	flag.Parse()

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *seedFile != "" {
		cfg.Catalog.SeedFile = *seedFile
	}

	log := logger.New(cfg.Log.Env, cfg.Log.Level)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	if err := run(cfg, log); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func run(cfg *config.Config, log zerolog.Logger) error {
	ctx := context.Background()

	tracer, err := tracing.InitTracing(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		Environment: cfg.Log.Env,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("tracer shutdown failed")
		}
	}()

	db, err := database.NewDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	var redisClient *redis.Client
	if cfg.Ledger.Backend == "redis" || cfg.Catalog.Cache == "redis" {
		redisClient, err = cache.Dial(ctx, cfg.Ledger.RedisAddr, cfg.Ledger.RedisPassword, cfg.Ledger.RedisDB)
		if err != nil {
			return err
		}
		defer redisClient.Close()
	}

	usage, closeUsage, err := openLedger(ctx, cfg, db, redisClient)
	if err != nil {
		return err
	}
	defer closeUsage()

	flags := features.NewManager()
	flags.RegisterDefaults(cfg.Features.CacheEnabled, cfg.Features.EventHooks, cfg.Features.LedgerPrecheck)

	var catalogCache cache.Cache = cache.NewInMemoryCache(cfg.Catalog.CacheTTL(), time.Minute)
	if cfg.Catalog.Cache == "redis" {
		catalogCache = cache.NewRedisCache(redisClient, "promotion-engine")
	}

	cat := catalog.New(db, log,
		catalog.WithMaxSize(cfg.Catalog.MaxSize),
		catalog.WithCache(catalogCache, cfg.Catalog.CacheTTL(), func() bool {
			return flags.IsEnabled(features.FeatureCacheEnabled)
		}),
	)

	storeLocation, err := cfg.Store.Location()
	if err != nil {
		return err
	}
	eng := engine.New(log,
		engine.WithLocation(storeLocation),
		engine.WithCommitAttempts(cfg.Ledger.MaxAttempts),
		engine.WithCommitTimeout(cfg.Ledger.Timeout()),
	)

	bus := events.NewManager(true, log)
	defer bus.Shutdown()
	subscribeAuditLog(bus, log)

	svc := service.NewService(db, cat, eng, usage,
		service.WithEvents(bus),
		service.WithFeatures(flags),
		service.WithTracer(tracer),
		service.WithLogger(log),
		service.WithLedgerOptions(ledger.WithTimeout(cfg.Ledger.Timeout())),
	)

	synced, err := svc.SyncUsage(ctx)
	if err != nil {
		return fmt.Errorf("failed to sync usage counters: %w", err)
	}
	log.Info().Int("promotions", synced).Str("ledger", cfg.Ledger.Backend).Msg("usage counters synced")

	if cfg.Catalog.SeedFile != "" {
		if err := seedCatalog(ctx, svc, cfg.Catalog.SeedFile, log); err != nil {
			return err
		}
	}

	h := handler.NewHandlerWithOptions(svc, handler.NewHandlerOptions{
		MaxBodySize: cfg.Security.MaxRequestBodySize,
		Pinger:      db,
		Logger:      log,
	})

	r := chi.NewRouter()

	// Middleware (order matters)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestLogger(log))
	r.Use(chimw.Recoverer)
	r.Use(middleware.TracingMiddleware(tracer))
	r.Use(secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		IsDevelopment:      !cfg.Server.EnableTLS,
	}).Handler)

	if cfg.RateLimit.Enabled {
		rateLimiter := middleware.NewRateLimiter(cfg.RateLimit.Rate, time.Duration(cfg.RateLimit.Window)*time.Second)
		defer rateLimiter.Stop()
		r.Use(middleware.RateLimitMiddleware(rateLimiter))
	}

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.Security.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	h.Routes(r)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           gziphandler.GzipHandler(r),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", addr).
			Bool("tls", cfg.Server.EnableTLS).
			Str("ledger", cfg.Ledger.Backend).
			Str("catalog_cache", cfg.Catalog.Cache).
			Str("store_timezone", storeLocation.String()).
			Msg("starting server")

		var err error
		if cfg.Server.EnableTLS {
			err = server.ListenAndServeTLS(cfg.Server.CertFile, cfg.Server.KeyFile)
		} else {
			err = server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigint := make(chan os.Signal, 1)
	signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case <-sigint:
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// openLedger returns the usage store selected by the configuration. The
// memory store starts empty; SyncUsage restarts its counters from the
// stored counts, so uses committed before a restart are not remembered.
func openLedger(ctx context.Context, cfg *config.Config, db *database.DB, client *redis.Client) (service.UsageStore, func(), error) {
	noop := func() {}
	switch cfg.Ledger.Backend {
	case "memory":
		return ledger.NewMemoryPort(), noop, nil
	case "redis":
		return ledger.NewRedisPort(client, "promotion"), noop, nil
	case "postgres":
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		pg, err := ledger.NewPostgresPort(connectCtx, cfg.Ledger.PostgresDSN)
		if err != nil {
			return nil, noop, err
		}
		return pg, pg.Close, nil
	default:
		return db, noop, nil
	}
}

func seedCatalog(ctx context.Context, svc *service.Service, path string, log zerolog.Logger) error {
	seed, err := catalog.LoadSeed(path)
	if err != nil {
		return err
	}

	for _, tenant := range seed.Tenants {
		for _, record := range tenant.Promotions {
			if _, err := svc.UpsertPromotion(ctx, tenant.ID, record); err != nil {
				log.Warn().
					Err(err).
					Str("tenant_id", tenant.ID).
					Str("promotion_id", record.ID).
					Msg("seed promotion rejected")
			}
		}
		log.Info().
			Str("tenant_id", tenant.ID).
			Int("promotions", len(tenant.Promotions)).
			Msg("catalog seeded")
	}
	return nil
}

func subscribeAuditLog(bus *events.Manager, log zerolog.Logger) {
	audit := log.With().Str("component", "audit").Logger()

	bus.Subscribe(events.EventEvaluationCommitted, func(ctx context.Context, e events.Event) error {
		data, ok := e.Data.(events.EvaluationData)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		audit.Info().
			Str("tenant_id", e.TenantID).
			Str("status", string(data.Result.Status)).
			Int("applied", len(data.Result.AppliedPromotions)).
			Str("total_discount", data.Result.TotalDiscount.StringFixed(2)).
			Str("final_total", data.Result.FinalTotal.StringFixed(2)).
			Msg("checkout committed")
		return nil
	})

	bus.Subscribe(events.EventPromotionRolledBack, func(ctx context.Context, e events.Event) error {
		data, ok := e.Data.(events.RolledBackData)
		if !ok {
			return fmt.Errorf("unexpected payload %T", e.Data)
		}
		audit.Warn().
			Str("tenant_id", e.TenantID).
			Str("promotion_id", data.PromotionID).
			Str("reason", data.Reason).
			Msg("promotion rolled back at checkout")
		return nil
	})
}
