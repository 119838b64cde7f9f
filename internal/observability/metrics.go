package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeSucceeded    = "succeeded"
	OutcomeReplayed     = "replayed"
	OutcomeNotFound     = "not_found"
	OutcomeInsufficient = "insufficient"
	OutcomeInvalid      = "invalid"
	OutcomeError        = "error"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tigertix_requests_total",
			Help: "Total number of requests",
		},
		[]string{"route", "code", "method"},
	)

	PurchasesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tigertix_purchases_total",
			Help: "Purchase attempts by outcome",
		},
		[]string{"outcome"},
	)

	TicketsSold = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tigertix_tickets_sold_total",
			Help: "Tickets reserved by committed bookings",
		},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tigertix_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBTxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tigertix_db_tx_retries_total",
			Help: "Transactions re-run after a serialization failure",
		},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tigertix_outbox_lag_seconds",
			Help: "Age of the oldest pending outbox message",
		},
	)

	OutboxPublishFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tigertix_outbox_publish_failures_total",
			Help: "Total outbox publish failures",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tigertix_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)

	IdempotentReplays = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tigertix_idempotent_replays_total",
			Help: "Responses served from the idempotency cache",
		},
	)
)
