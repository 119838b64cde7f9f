package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	CRDBDSN          string
	DBMaxConns       int32
	MongoURI         string
	MongoDB          string
	RedisAddr        string
	RabbitURL        string
	JWTSecret        string
	OTLPEndpoint     string
	ServiceName      string
	LogLevel         string
	HTTPAddr         string
	LLMHTTPAddr      string
	ClientServiceURL string
	RemoteTimeout    time.Duration
	IdempotencyTTL   time.Duration
	EventsCacheTTL   time.Duration
	RateLimitPerMin  int
	OutboxInterval   time.Duration
	OutboxBatchSize  int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		CRDBDSN:          os.Getenv("CRDB_DSN"),
		DBMaxConns:       int32(intEnv("DB_MAX_CONNS", 20)),
		MongoURI:         os.Getenv("MONGO_URI"),
		MongoDB:          stringEnv("MONGO_DB", "tigertix"),
		RedisAddr:        os.Getenv("REDIS_ADDR"),
		RabbitURL:        os.Getenv("RABBIT_URL"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName:      stringEnv("OTEL_SERVICE_NAME", "tigertix"),
		LogLevel:         stringEnv("LOG_LEVEL", "info"),
		HTTPAddr:         stringEnv("HTTP_ADDR", ":8080"),
		LLMHTTPAddr:      stringEnv("LLM_HTTP_ADDR", ":8081"),
		ClientServiceURL: stringEnv("CLIENT_SERVICE_URL", "http://localhost:8080"),
		RemoteTimeout:    durationEnv("REMOTE_TIMEOUT", 5*time.Second),
		IdempotencyTTL:   durationEnv("IDEMPOTENCY_TTL", time.Hour),
		EventsCacheTTL:   durationEnv("EVENTS_CACHE_TTL", 5*time.Second),
		RateLimitPerMin:  intEnv("RATE_LIMIT_PER_MINUTE", 100),
		OutboxInterval:   durationEnv("OUTBOX_INTERVAL", 2*time.Second),
		OutboxBatchSize:  intEnv("OUTBOX_BATCH_SIZE", 50),
	}, nil
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d <= 0 {
		return fallback
	}
	return d
}

func intEnv(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
