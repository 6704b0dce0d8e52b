package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paycore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paycore_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "path"},
	)

	// Webhooks counts deliveries by gateway and result
	// (applied, noop, rejected, duplicate, signature_invalid, error).
	Webhooks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paycore_webhooks_total",
		Help: "Gateway webhook deliveries by outcome",
	}, []string{"gateway", "result"})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paycore_payment_transitions_total",
		Help: "Committed payment status transitions",
	}, []string{"from", "to", "source"})

	LedgerAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paycore_ledger_appends_total",
		Help: "Ledger entries written, by reason",
	}, []string{"reason"})

	ReconcileChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paycore_reconcile_checks_total",
		Help: "Gateway status checks made by the reconciliation scheduler",
	}, []string{"gateway", "result"})

	CommissionJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paycore_commission_jobs_total",
		Help: "Commission job attempts by result",
	}, []string{"result"})

	CommissionBacklog = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "paycore_commission_jobs_pending",
		Help: "Commission jobs not yet settled",
	})
)
