package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/tigertix/internal/adapters/crdb"
	"github.com/robertarktes/tigertix/internal/adapters/rabbit"
	"github.com/robertarktes/tigertix/internal/config"
	"github.com/robertarktes/tigertix/internal/observability"
	"github.com/robertarktes/tigertix/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.CRDBDSN == "" || cfg.RabbitURL == "" {
		log.Fatal("outbox publisher needs CRDB_DSN and RABBIT_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "outbox-publisher")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	pool, err := crdb.Connect(ctx, cfg.CRDBDSN, cfg.DBMaxConns, logger)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	rabbitPub, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	defer rabbitPub.Close()

	relay := outbox.NewPublisher(repo, rabbitPub, logger, cfg.OutboxInterval, cfg.OutboxBatchSize)
	if err := relay.Run(ctx); err != nil {
		logger.WithError(err).Error("outbox publisher stopped with error")
	}
	logger.Info("Shutdown outbox publisher")
}
