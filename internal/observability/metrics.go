package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the custody ledger.
type Metrics struct {
	// --- Core operations ---
	OperationsTotal   *prometheus.CounterVec
	OperationDuration *prometheus.HistogramVec
	ConflictRetries   *prometheus.CounterVec

	// --- Domain transitions ---
	SettlementTransitions  *prometheus.CounterVec
	ReservationTransitions *prometheus.CounterVec
	BotTransitions         *prometheus.CounterVec
	OrderTransitions       *prometheus.CounterVec
	JournalEntries         *prometheus.CounterVec
	PoolBalance            *prometheus.GaugeVec

	// --- Outbox relay ---
	OutboxPublished prometheus.Counter
	OutboxBatchSize prometheus.Histogram
	OutboxBatchDur  prometheus.Histogram
	OutboxErrors    *prometheus.CounterVec
	OutboxLastSeq   prometheus.Gauge

	// --- Notifications ---
	NotificationsSent    prometheus.Counter
	NotificationDrops    prometheus.Counter
	NotificationFailures prometheus.Counter

	// --- Inbound reports ---
	ReportsReceived       *prometheus.CounterVec
	IdempotencyDuplicates *prometheus.CounterVec
	DedupLRUSize          prometheus.Gauge

	// --- Query API ---
	QueryRequests *prometheus.CounterVec
	QueryDuration *prometheus.HistogramVec
	QueryErrors   *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	latencyBuckets := []float64{
		0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
	}

	return &Metrics{
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_operations_total",
			Help: "Ledger operations by result code",
		}, []string{"operation", "result"}),

		OperationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "custody_operation_duration_seconds",
			Help:    "Wall time of one ledger operation including retries",
			Buckets: latencyBuckets,
		}, []string{"operation"}),

		ConflictRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_conflict_retries_total",
			Help: "Units of work re-attempted after a lost update",
		}, []string{"operation"}),

		SettlementTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_settlement_transitions_total",
			Help: "Settlement requests entering a status",
		}, []string{"kind", "status"}),

		ReservationTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_reservation_transitions_total",
			Help: "Reservations entering a status",
		}, []string{"purpose", "status"}),

		BotTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_bot_transitions_total",
			Help: "Bot position lifecycle events",
		}, []string{"event"}),

		OrderTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_order_transitions_total",
			Help: "Order lifecycle events",
		}, []string{"event"}),

		JournalEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_journal_entries_total",
			Help: "Journal entries committed",
		}, []string{"journal_type"}),

		PoolBalance: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "custody_pool_balance",
			Help: "Pool wallet balance after the last committed change",
		}, []string{"asset"}),

		OutboxPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "custody_outbox_published_total",
			Help: "Audit events relayed to the event log",
		}),

		OutboxBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "custody_outbox_batch_size",
			Help:    "Events per relay batch",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		}),

		OutboxBatchDur: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "custody_outbox_batch_duration_seconds",
			Help:    "Time to relay one batch",
			Buckets: latencyBuckets,
		}),

		OutboxErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_outbox_errors_total",
			Help: "Outbox relay errors by stage",
		}, []string{"stage"}),

		OutboxLastSeq: factory.NewGauge(prometheus.GaugeOpts{
			Name: "custody_outbox_last_sequence",
			Help: "Last relayed outbox sequence",
		}),

		NotificationsSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "custody_notifications_sent_total",
			Help: "Notifications delivered to the sink",
		}),

		NotificationDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "custody_notifications_dropped_total",
			Help: "Notifications dropped because the queue was full",
		}),

		NotificationFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "custody_notification_failures_total",
			Help: "Notifications the sink rejected",
		}),

		ReportsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_reports_received_total",
			Help: "Inbound executor reports by result",
		}, []string{"report_type", "result"}),

		IdempotencyDuplicates: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_idempotency_duplicates_total",
			Help: "Duplicate inbound reports detected",
		}, []string{"tier"}),

		DedupLRUSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "custody_dedup_lru_size",
			Help: "Entries in the in-memory idempotency LRU",
		}),

		QueryRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_query_requests_total",
			Help: "Query API requests",
		}, []string{"method"}),

		QueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "custody_query_duration_seconds",
			Help:    "Query API latency",
			Buckets: latencyBuckets,
		}, []string{"method"}),

		QueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "custody_query_errors_total",
			Help: "Query API errors",
		}, []string{"method", "code"}),
	}
}
