package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "code", "method"},
	)

	DBTxDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inventory_db_tx_seconds",
			Help:    "Duration of DB transactions",
			Buckets: prometheus.DefBuckets,
		},
	)

	DBTxRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inventory_db_tx_retries_total",
			Help: "Transactions retried after a serialization failure",
		},
	)

	HoldAdmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_hold_admissions_total",
			Help: "Hold admission decisions by result code",
		},
		[]string{"result"},
	)

	HoldsReleased = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_holds_released_total",
			Help: "Holds terminated by reason",
		},
		[]string{"reason"},
	)

	HoldsExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inventory_holds_expired_total",
			Help: "Holds flipped to EXPIRED by the sweeper",
		},
	)

	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inventory_sweep_seconds",
			Help:    "Duration of expiry sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)

	CheckoutTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_checkout_transitions_total",
			Help: "Booking workflow transitions by operation and result",
		},
		[]string{"operation", "result"},
	)

	PaymentVoids = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inventory_payment_voids_total",
			Help: "Void/refund obligations raised after inventory loss",
		},
		[]string{"result"},
	)

	OutboxLag = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "inventory_outbox_lag_seconds",
			Help: "Age of the oldest record published in the last outbox batch",
		},
	)

	RabbitPublishRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inventory_rabbit_publish_retries_total",
			Help: "Total rabbit publish retries",
		},
	)

	RateLimitExceeded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inventory_rate_limit_exceeded_total",
			Help: "Total rate limit exceeded",
		},
	)
)
