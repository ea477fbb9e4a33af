package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zatekoja/voiceshop/backend/internal/adapters/cache"
	"github.com/zatekoja/voiceshop/backend/internal/adapters/database"
	"github.com/zatekoja/voiceshop/backend/internal/adapters/events"
	"github.com/zatekoja/voiceshop/backend/internal/adapters/search"
	"github.com/zatekoja/voiceshop/backend/internal/api/handlers"
	"github.com/zatekoja/voiceshop/backend/internal/api/middleware"
	"github.com/zatekoja/voiceshop/backend/internal/api/routes"
	"github.com/zatekoja/voiceshop/backend/internal/application/services"
	"github.com/zatekoja/voiceshop/backend/internal/domain/providers"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/clients/openai"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/clients/postgres"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/clients/redis"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/clients/serpapi"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/clients/typesense"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
	"github.com/zatekoja/voiceshop/backend/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName+"-api", cfg.Env)
	logger := observability.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("Error shutting down OpenTelemetry")
				}
			}()
			logger.Info().Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize metrics")
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize PostgreSQL client")
	}
	defer pgClient.Close()

	// Redis backs the result cache, rate limiter, merge locks and events.
	// Without it every role falls back to in-process implementations.
	var (
		cacheProvider providers.CacheProvider
		locker        providers.Locker
		eventBus      providers.EventBus
	)
	readiness := map[string]routes.ReadinessCheck{"postgres": pgClient.Ping}
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable; using in-process cache, locks and events")
		memory, err := cache.NewMemoryAdapter(cache.DefaultMemorySize)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create in-memory cache")
		}
		cacheProvider = memory
		locker = cache.NewMemoryLocker()
		eventBus = events.NewMemoryEventBus()
	} else {
		defer redisClient.Close()
		readiness["redis"] = redisClient.Ping
		cacheProvider = cache.NewRedisAdapter(redisClient)
		locker = cache.NewRedisLocker(redisClient)
		eventBus = events.NewRedisEventBus(redisClient)
	}

	var catalog providers.ProductCatalog
	if tsClient, err := typesense.NewClient(&cfg.Typesense); err != nil {
		logger.Warn().Err(err).Msg("Typesense unavailable; searches degrade to empty results when the provider fails")
	} else {
		if err := tsClient.InitSchema(ctx); err != nil {
			logger.Warn().Err(err).Msg("Failed to init Typesense schema")
		}
		catalog = search.NewCatalogAdapter(tsClient)
	}

	nlu, err := openai.NewClient(&cfg.OpenAI)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize language provider")
	}
	defer nlu.Close()

	productSearch, err := serpapi.NewClient(&cfg.SerpAPI)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize product search provider")
	}

	searchRepo := database.NewSearchRequestAdapter(pgClient)
	productRepo := database.NewProductAdapter(pgClient)
	refinementRepo := database.NewRefinementAdapter(pgClient)
	preferenceRepo := database.NewPreferenceAdapter(pgClient)
	transcriptRepo := database.NewTranscriptAdapter(pgClient)

	preferenceStore := services.NewPreferenceStore(preferenceRepo, nlu, locker, services.PreferenceSettings{
		MaxPerUser:      cfg.Preferences.MaxPerUser,
		ExpiryWindow:    cfg.Preferences.ExpiryWindow,
		ConfidenceFloor: cfg.Preferences.ConfidenceFloor,
		Currency:        cfg.Search.Currency,
	}, metrics)
	transcripts := services.NewTranscriptService(transcriptRepo)
	limiter := services.NewRateLimiter(cacheProvider, cfg.Search.RateLimit, cfg.Search.RateWindow)

	orchestrator := services.NewSearchOrchestrator(services.SearchOrchestratorDeps{
		Searches:    searchRepo,
		Products:    productRepo,
		Refinements: refinementRepo,
		Extractor:   services.NewParameterExtractor(nlu, metrics),
		Executor:    services.NewSearchExecutor(productSearch, catalog, cfg.Search.MaxResults, cfg.Search.RetryBackoff, metrics),
		Normalizer:  services.NewResultNormalizer(cfg.Search.MaxResults, cfg.Search.Currency),
		Cache:       services.NewResultCache(cacheProvider, cfg.Search.CacheTTL, metrics),
		Preferences: preferenceStore,
		Detector:    services.NewRefinementDetector(nlu, preferenceStore, metrics),
		Applier:     services.NewRefinementApplier(cfg.Search.DefaultRefinementPercent),
		Transcripts: transcripts,
		Limiter:     limiter,
		Catalog:     catalog,
		Events:      eventBus,
		NLU:         nlu,
		Metrics:     metrics,
	}, services.SearchSettings{
		HistoryTurns:            cfg.Search.HistoryTurns,
		PersonalizationPriority: cfg.Preferences.PersonalizationPriority,
		PersonalizationLimit:    cfg.Preferences.PersonalizationLimit,
	})

	sweeper := services.NewPreferenceSweepService(preferenceStore)
	if cfg.Preferences.SweepInterval > 0 {
		sweeper.StartPeriodicSweep(ctx, cfg.Preferences.SweepInterval)
	}

	router := routes.NewRouter(routes.RouterDeps{
		SearchHandler:     handlers.NewSearchHandler(orchestrator, limiter.Window()),
		PreferenceHandler: handlers.NewPreferenceHandler(preferenceStore),
		TranscriptHandler: handlers.NewTranscriptHandler(transcripts),
		SSEHandler:        handlers.NewSSEHandler(eventBus),
		Auth:              middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Products:          productRepo,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		Metrics:           metrics,
		Readiness:         readiness,
	})

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:    serverAddr,
		Handler: router.SetupRoutes(),
		// a search waits on two external calls and one retry
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", serverAddr).Msg("Server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during server shutdown")
	}

	sweeper.Stop()
	if err := eventBus.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing event bus")
	}

	logger.Info().Msg("Server stopped")
}
