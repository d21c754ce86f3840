package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	DatabaseConnectionsGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "database_connections",
			Help: "Database connection pool usage",
		},
		[]string{"state"},
	)

	// TransfersTotal counts custody transfers by kind (fund, withdraw) and outcome.
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_transfers_total",
			Help: "Custody transfers by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "custody_cycle_duration_seconds",
			Help:    "Duration of a withdrawal cycle",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"mode"},
	)

	EligibleWalletsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "custody_eligible_wallets",
			Help: "Wallets found eligible for withdrawal in the last evaluation",
		},
	)

	OpenBatchesGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "custody_open_batches",
			Help: "Batches currently tracked in memory",
		},
	)

	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_rpc_errors_total",
			Help: "Failed JSON-RPC calls by method",
		},
		[]string{"method"},
	)
)
