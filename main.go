package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"odprt-chatbot/gateway/internal/ws"
	"odprt-chatbot/gateway/pkg/config"
	"odprt-chatbot/gateway/pkg/di"
	"odprt-chatbot/gateway/pkg/logger"
	"odprt-chatbot/gateway/pkg/router"
	"odprt-chatbot/gateway/shared/observability"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found, using environment variables")
	}

	cfg := config.New()

	logConfig := logger.DefaultConfig()
	logConfig.Level = cfg.Logging.Level
	logConfig.JSON = cfg.Logging.Format == "json"
	appLogger := logger.New(logConfig)

	shutdownTracing := observability.SetupTracing("odprt-chatbot-gateway")
	defer shutdownTracing()
	observability.SetupPrometheusMetrics()

	hub := ws.NewHub(cfg.Security.AllowedOrigins, appLogger)

	container, err := di.New(cfg, appLogger, hub)
	if err != nil {
		log.Fatalf("Failed to build dependency container: %v", err)
	}
	defer container.Close()

	hub.SetActivity(container.Sessions)
	go hub.Run()
	defer hub.Stop()

	container.Sessions.StartReaper(cfg.Session.ReapPeriod)
	container.Health.Start()

	r := router.New(container, hub)
	r.SetupRoutes()
	if cfg.Features.ValidateOpenAPI {
		r.AddOpenAPIValidation(cfg.Features.OpenAPISchemaPath)
	}

	// No read/write timeouts on the server itself; the websocket route
	// holds connections open indefinitely.
	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r.Engine,
	}

	go func() {
		appLogger.Info("gateway listening", "port", cfg.Server.Port, "env", cfg.Server.Env)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	appLogger.Info("shutting down")
	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Failed to shutdown server: %v", err)
	}
	appLogger.Info("shutdown complete")
}
