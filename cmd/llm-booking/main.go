package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	redisclient "github.com/redis/go-redis/v9"
	redisadapter "github.com/robertarktes/tigertix/internal/adapters/redis"
	"github.com/robertarktes/tigertix/internal/assistant"
	"github.com/robertarktes/tigertix/internal/config"
	httphandler "github.com/robertarktes/tigertix/internal/http"
	"github.com/robertarktes/tigertix/internal/observability"
	"github.com/robertarktes/tigertix/internal/rateLimit"
	"github.com/robertarktes/tigertix/internal/reservation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "llm-booking")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	var rl *rateLimit.RateLimiter
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		rl = rateLimit.NewRateLimiter(redisadapter.NewCache(redisClient), cfg.RateLimitPerMin, time.Minute)
	}

	// Bookings always go through the api service; this process holds no
	// inventory of its own.
	remote := reservation.NewRemoteClient(cfg.ClientServiceURL, cfg.RemoteTimeout)
	handlers := httphandler.NewAssistantHandlers(assistant.New(remote, logger), logger)

	srv := &http.Server{
		Addr:              cfg.LLMHTTPAddr,
		Handler:           httphandler.SetupAssistantRouter(handlers, logger, rl),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.LLMHTTPAddr).WithField("client_service", cfg.ClientServiceURL).Info("llm booking listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown Server ...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("server shutdown")
	}
	logger.Info("Server exiting")
}
