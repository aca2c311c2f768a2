package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ============================================
	// Database
	// ============================================
	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "topup_db_connection_status",
		Help: "Database connection status (1=healthy, 0=unhealthy)",
	})

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "topup_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query_type"},
	)

	// ============================================
	// NATS
	// ============================================
	NATSConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "topup_nats_connection_status",
		Help: "NATS connection status (1=connected, 0=disconnected)",
	})

	NATSMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topup_nats_messages_published_total",
			Help: "Total number of NATS messages published",
		},
		[]string{"phase", "status"},
	)

	// ============================================
	// Top-up saga
	// ============================================
	DepositPhaseTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topup_deposit_phase_transitions_total",
			Help: "Deposit phase transitions",
		},
		[]string{"chain_id", "phase"},
	)

	DepositFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topup_deposit_failures_total",
			Help: "Failed top-ups by failure kind",
		},
		[]string{"chain_id", "kind"},
	)

	ConfirmationWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "topup_confirmation_wait_seconds",
			Help:    "Time spent waiting for on-chain confirmation",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"chain_id", "status"},
	)

	ResumableDeposits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "topup_resumable_deposits",
		Help: "Deposits confirmed or submitted on-chain but not yet credited by the ledger",
	})

	// ============================================
	// Chain RPC
	// ============================================
	ChainRPCErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topup_chain_rpc_errors_total",
			Help: "Chain RPC errors by operation",
		},
		[]string{"chain_id", "operation"},
	)

	// ============================================
	// Ledger
	// ============================================
	LedgerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topup_ledger_requests_total",
			Help: "Ledger requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	LedgerRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "topup_ledger_request_duration_seconds",
			Help:    "Ledger request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// ============================================
	// Push / websocket
	// ============================================
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "topup_websocket_clients",
		Help: "Connected websocket clients",
	})

	// ============================================
	// HTTP
	// ============================================
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "topup_http_requests_total",
			Help: "HTTP requests by route and status",
		},
		[]string{"method", "route", "status"},
	)
)
