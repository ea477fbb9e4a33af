package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zatekoja/voiceshop/backend/internal/adapters/events"
	"github.com/zatekoja/voiceshop/backend/internal/api/handlers"
	"github.com/zatekoja/voiceshop/backend/internal/api/middleware"
	"github.com/zatekoja/voiceshop/backend/internal/api/routes"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/clients/redis"
	"github.com/zatekoja/voiceshop/backend/internal/infrastructure/observability"
	"github.com/zatekoja/voiceshop/backend/pkg/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName+"-sse", cfg.Env)
	logger := observability.GetLogger()
	logger.Info().Msg("Starting SSE server")

	// a separate SSE process only sees events that travel through Redis
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize Redis client")
	}
	defer redisClient.Close()

	eventBus := events.NewRedisEventBus(redisClient)
	sseHandler := handlers.NewSSEHandler(eventBus)

	router := routes.NewRouter(routes.RouterDeps{
		SSEHandler:     sseHandler,
		Auth:           middleware.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Readiness:      map[string]routes.ReadinessCheck{"redis": redisClient.Ping},
	})

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/stream/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{"connected_clients": sseHandler.GetClientCount()})
	})
	mux.Handle("/", router.SetupRoutes())

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.SSEPort)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streams are long-lived
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", serverAddr).Msg("SSE server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("SSE server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("SSE server shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during server shutdown")
	}
	if err := eventBus.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing event bus")
	}

	logger.Info().Msg("SSE server stopped")
}
