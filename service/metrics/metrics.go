package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
type Metrics struct {
	// Trade Metrics
	tradesTotal         *prometheus.CounterVec
	tradeDuration       *prometheus.HistogramVec
	tradeAmount         *prometheus.HistogramVec
	tradeActionsTotal   *prometheus.CounterVec
	invocationsTotal    *prometheus.CounterVec
	auditEventsEmitted  *prometheus.CounterVec
	ledgerTransactions  *prometheus.CounterVec
	ledgerLockConflicts prometheus.Counter

	// Solana RPC Metrics
	solanaRPCCallsTotal   *prometheus.CounterVec
	solanaRPCCallDuration *prometheus.HistogramVec

	// Workflow Metrics
	tradeWorkflowDuration *prometheus.HistogramVec
	activityDuration      *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Trade Metrics
		tradesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashtrade_trades_total",
				Help: "Total number of trades by outcome and error kind",
			},
			[]string{"outcome", "error_kind"},
		),
		tradeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flashtrade_trade_duration_seconds",
				Help:    "Time spent inside the trade program in seconds",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
			},
			[]string{"outcome"},
		),
		tradeAmount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flashtrade_trade_amount",
				Help:    "Borrowed amount per trade in base units",
				Buckets: prometheus.ExponentialBuckets(1, 10, 12),
			},
			[]string{"outcome"},
		),
		tradeActionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashtrade_trade_actions_total",
				Help: "Total number of trade actions executed",
			},
			[]string{"action"},
		),
		invocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashtrade_lending_invocations_total",
				Help: "Total number of lending program invocations by kind and status",
			},
			[]string{"kind", "status"},
		),
		auditEventsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashtrade_audit_events_total",
				Help: "Total number of audit events emitted",
			},
			[]string{"event"},
		),
		ledgerTransactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flashtrade_ledger_transactions_total",
				Help: "Total number of ledger transactions by mode and status",
			},
			[]string{"mode", "status"},
		),
		ledgerLockConflicts: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "flashtrade_ledger_lock_conflicts_total",
				Help: "Total number of transactions rejected for account lock contention",
			},
		),

		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method"},
		),

		// Workflow Metrics
		tradeWorkflowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trade_workflow_duration_seconds",
				Help:    "Duration of trade workflow execution in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		activityDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trade_activity_duration_seconds",
				Help:    "Duration of trade workflow activities in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10},
			},
			[]string{"activity", "status"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Trade metric helpers

// RecordTrade records a finished trade.
func (m *Metrics) RecordTrade(outcome, errorKind string, actions int, amount uint64, duration time.Duration) {
	m.tradesTotal.WithLabelValues(outcome, errorKind).Inc()
	m.tradeDuration.WithLabelValues(outcome).Observe(duration.Seconds())
	m.tradeAmount.WithLabelValues(outcome).Observe(float64(amount))
}

// RecordInvocation records a borrow or repay invocation.
func (m *Metrics) RecordInvocation(kind string, err error) {
	m.invocationsTotal.WithLabelValues(kind, errorStatus(err)).Inc()
}

// RecordAction records one executed trade action.
func (m *Metrics) RecordAction(action string) {
	m.tradeActionsTotal.WithLabelValues(action).Inc()
}

// RecordEvent records one emitted audit event.
func (m *Metrics) RecordEvent(name string) {
	m.auditEventsEmitted.WithLabelValues(name).Inc()
}

// RecordLedgerTransaction records a ledger execution or simulation.
func (m *Metrics) RecordLedgerTransaction(mode string, err error) {
	m.ledgerTransactions.WithLabelValues(mode, errorStatus(err)).Inc()
}

// RecordLockConflict records a transaction rejected for lock contention.
func (m *Metrics) RecordLockConflict() {
	m.ledgerLockConflicts.Inc()
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method string, err error, duration float64) {
	m.solanaRPCCallsTotal.WithLabelValues(method, errorStatus(err)).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method).Observe(duration)
}

// Workflow metric helpers

// RecordWorkflowDuration records workflow execution duration.
func (m *Metrics) RecordWorkflowDuration(status string, duration float64) {
	m.tradeWorkflowDuration.WithLabelValues(status).Observe(duration)
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, err error, duration float64) {
	m.activityDuration.WithLabelValues(activity, errorStatus(err)).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, errorStatus(err)).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func errorStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
