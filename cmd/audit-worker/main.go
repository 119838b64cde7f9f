package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	mongoadapter "github.com/robertarktes/tigertix/internal/adapters/mongo"
	"github.com/robertarktes/tigertix/internal/adapters/rabbit"
	"github.com/robertarktes/tigertix/internal/config"
	"github.com/robertarktes/tigertix/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	auditQueue = "tigertix.audit"
	prefetch   = 16
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.MongoURI == "" || cfg.RabbitURL == "" {
		log.Fatal("audit worker needs MONGO_URI and RABBIT_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg, "audit-worker")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database(cfg.MongoDB)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	consumer, err := rabbit.NewConsumer(conn, auditQueue, "#", prefetch)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}
	defer consumer.Close()

	deliveries, err := consumer.Consume(ctx)
	if err != nil {
		log.Fatalf("failed to consume: %v", err)
	}

	worker := NewAuditWorker(
		mongoadapter.NewAuditLogger(mongoDB, logger),
		mongoadapter.NewCatalogRepository(mongoDB, logger),
		logger,
	)
	logger.WithField("queue", auditQueue).Info("audit worker started")
	if err := worker.Run(ctx, deliveries); err != nil {
		logger.WithError(err).Error("audit worker stopped with error")
	}
	logger.Info("Shutdown audit worker")
}
