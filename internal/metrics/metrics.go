package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "stock_engine"

var (
	StockMovements = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stock_movement_units_total",
		Help:      "Units moved through the stock ledger, by reason.",
	}, []string{"reason"})

	ReservationGrants = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reservation_grants_total",
		Help:      "Cart reservation recomputations by outcome (full, partial, none).",
	}, []string{"outcome"})

	Checkouts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "checkouts_total",
		Help:      "Checkout attempts by result.",
	}, []string{"result"})

	OrdersCancelled = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "orders_cancelled_total",
		Help:      "Orders moved to cancelled, by reason.",
	}, []string{"reason"})

	SweeperPasses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "sweeper_passes_total",
		Help:      "Sweeper passes by pass name and result.",
	}, []string{"pass", "result"})

	SweeperDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "sweeper_pass_duration_seconds",
		Help:      "Sweeper pass latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"pass"})

	PaymentFinalizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_finalizations_total",
		Help:      "Finalize calls by outcome.",
	}, []string{"outcome"})

	WebhooksRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "payment_webhooks_rejected_total",
		Help:      "Webhooks rejected for a missing or mismatched signature.",
	})

	TxRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tx_retries_total",
		Help:      "Transactions retried after a deadlock or serialization failure.",
	})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP latency by route pattern, method and status.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "method", "status"})
)
