package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/tigertix/internal/adapters/crdb"
	"github.com/robertarktes/tigertix/internal/adapters/memory"
	"github.com/robertarktes/tigertix/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/tigertix/internal/adapters/redis"
	"github.com/robertarktes/tigertix/internal/config"
	"github.com/robertarktes/tigertix/internal/domain"
	httphandler "github.com/robertarktes/tigertix/internal/http"
	"github.com/robertarktes/tigertix/internal/idempotency"
	"github.com/robertarktes/tigertix/internal/observability"
	"github.com/robertarktes/tigertix/internal/outbox"
	"github.com/robertarktes/tigertix/internal/rateLimit"
	"github.com/robertarktes/tigertix/internal/reservation"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.SetupOTel(ctx, cfg, "api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLoggerWithLevel(cfg.LogLevel)

	var (
		store       domain.EventStore
		relaySource domain.OutboxSource
		ready       func(context.Context) error
	)
	if cfg.CRDBDSN != "" {
		pool, err := crdb.Connect(ctx, cfg.CRDBDSN, cfg.DBMaxConns, logger)
		if err != nil {
			log.Fatalf("failed to connect to crdb: %v", err)
		}
		defer pool.Close()
		repo := crdb.NewRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			log.Fatalf("failed to migrate schema: %v", err)
		}
		store = repo
		ready = pingReady(pool)
	} else {
		// The in-memory outbox is only visible to this process, so the
		// relay runs here instead of in cmd/outbox-publisher.
		logger.Warn("CRDB_DSN not set, using in-memory store")
		mem := memory.NewStore()
		store, relaySource = mem, mem
	}

	var (
		cache *redisadapter.Cache
		idemp *idempotency.Idempotency
		rl    *rateLimit.RateLimiter
	)
	if cfg.RedisAddr != "" {
		redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		cache = redisadapter.NewCache(redisClient)
		idemp = idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), cfg.IdempotencyTTL)
		rl = rateLimit.NewRateLimiter(cache, cfg.RateLimitPerMin, time.Minute)
	}

	var relay *outbox.Publisher
	if relaySource != nil && cfg.RabbitURL != "" {
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			log.Fatalf("failed to connect to rabbitmq: %v", err)
		}
		defer conn.Close()
		pub, err := rabbit.NewPublisher(conn)
		if err != nil {
			log.Fatalf("failed to create publisher: %v", err)
		}
		defer pub.Close()
		relay = outbox.NewPublisher(relaySource, pub, logger, cfg.OutboxInterval, cfg.OutboxBatchSize)
	}

	coord := reservation.NewCoordinator(store, logger)
	handlers := httphandler.NewHandlers(coord, cache, cfg.EventsCacheTTL, logger, ready)
	r := httphandler.SetupRouter(handlers, logger, rl, idemp, cfg.JWTSecret)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if relay != nil {
		g.Go(func() error { return relay.Run(gctx) })
	}

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("api stopped with error")
	}
	logger.Info("Server exiting")
}

func pingReady(pool *pgxpool.Pool) func(context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return pool.Ping(ctx)
	}
}
