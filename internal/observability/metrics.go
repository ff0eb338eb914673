// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the simulator process.
type Metrics struct {
	// Feed metrics
	FeedTicks           *prometheus.CounterVec
	PushCrankErrors     *prometheus.CounterVec
	PriceRecordsFlushed prometheus.Counter
	PriceRecordsDropped prometheus.Counter
	FlushFailures       prometheus.Counter
	PriceBufferSize     prometheus.Gauge
	RetentionSweeps     prometheus.Counter

	// Agent metrics
	AgentsActive   prometheus.Gauge
	AgentDecisions *prometheus.CounterVec

	// Executor metrics
	TradesExecuted  *prometheus.CounterVec
	TradeFailures   prometheus.Counter
	TxConfirmations *prometheus.CounterVec
	TxExpiries      prometheus.Counter
	TxResubmits     prometheus.Counter

	// Leaderboard metrics
	LeaderboardFlushes    *prometheus.CounterVec
	LeaderboardBufferSize prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered on reg. Passing nil
// registers on the default registry.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "percolator_sim"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		// Feed metrics
		FeedTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "ticks_total",
			Help:      "Total number of price feed ticks by outcome",
		}, []string{"status"}),
		PushCrankErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "ledger_errors_total",
			Help:      "Total number of failed push/crank calls by market and operation",
		}, []string{"market", "op"}),
		PriceRecordsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "price_records_flushed_total",
			Help:      "Total number of price records persisted",
		}),
		PriceRecordsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "price_records_dropped_total",
			Help:      "Total number of price records dropped after the requeue cap",
		}),
		FlushFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "flush_failures_total",
			Help:      "Total number of failed price history flushes",
		}),
		PriceBufferSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "price_buffer_size",
			Help:      "Current number of price records pending persistence",
		}),
		RetentionSweeps: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "retention_sweeps_total",
			Help:      "Total number of price history retention sweeps",
		}),

		// Agent metrics
		AgentsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "agents",
			Name:      "active",
			Help:      "Number of initialized agents",
		}),
		AgentDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agents",
			Name:      "decisions_total",
			Help:      "Total number of strategy decisions by strategy and direction",
		}, []string{"strategy", "direction"}),

		// Executor metrics
		TradesExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "trades_total",
			Help:      "Total number of executed trades by action",
		}, []string{"action"}),
		TradeFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "trade_failures_total",
			Help:      "Total number of trades that failed permanently",
		}),
		TxConfirmations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "tx_confirmations_total",
			Help:      "Total number of transaction confirmations by transport",
		}, []string{"transport"}),
		TxExpiries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "tx_expiries_total",
			Help:      "Total number of transactions whose blockhash window lapsed",
		}),
		TxResubmits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "tx_resubmits_total",
			Help:      "Total number of transactions rebuilt and resubmitted after expiry",
		}),

		// Leaderboard metrics
		LeaderboardFlushes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "flushes_total",
			Help:      "Total number of leaderboard flushes by outcome",
		}, []string{"status"}),
		LeaderboardBufferSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "leaderboard",
			Name:      "buffer_size",
			Help:      "Current number of buffered leaderboard deltas",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
