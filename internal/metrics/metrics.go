package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/fx"
)

// Module provides the metrics components.
var Module = fx.Options(
	fx.Provide(NewRegistry),
	fx.Provide(NewEngineMetrics),
)

// NewRegistry creates the private Prometheus registry all engine collectors
// register against.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// EngineMetrics collects the pipeline and matching counters exposed on the
// admin /metrics endpoint.
type EngineMetrics struct {
	FramesDecoded  *prometheus.CounterVec
	FramesDropped  *prometheus.CounterVec
	OrdersRejected *prometheus.CounterVec
	TradesExecuted prometheus.Counter
	MockTrades     prometheus.Counter
	MatchLatency   prometheus.Histogram
	InboundDepth   prometheus.Gauge
	OutboundDepth  prometheus.Gauge
	RestingOrders  *prometheus.GaugeVec
	StatsBroadcast prometheus.Counter
}

// NewEngineMetrics registers the engine collectors on the given registry.
func NewEngineMetrics(registry *prometheus.Registry) *EngineMetrics {
	factory := promauto.With(registry)
	return &EngineMetrics{
		FramesDecoded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matchd_frames_decoded_total",
				Help: "Well-formed inbound frames by message type",
			},
			[]string{"type"},
		),
		FramesDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matchd_frames_dropped_total",
				Help: "Inbound frames dropped at decode by reason",
			},
			[]string{"reason"},
		),
		OrdersRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "matchd_orders_rejected_total",
				Help: "Submissions the engine refused by reason",
			},
			[]string{"reason"},
		),
		TradesExecuted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "matchd_trades_executed_total",
				Help: "Executions broadcast, mock excluded",
			},
		),
		MockTrades: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "matchd_mock_trades_total",
				Help: "What-if executions produced by mock orders",
			},
		),
		MatchLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "matchd_match_latency_seconds",
				Help:    "Time spent inside one match call",
				Buckets: prometheus.ExponentialBuckets(100e-9, 4, 12), // 100ns to ~1.6s
			},
		),
		InboundDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "matchd_inbound_queue_depth",
				Help: "Messages waiting for the matcher",
			},
		),
		OutboundDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "matchd_outbound_queue_depth",
				Help: "Match results waiting for the broadcaster",
			},
		),
		RestingOrders: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "matchd_resting_orders",
				Help: "Resting orders per book side",
			},
			[]string{"side"},
		),
		StatsBroadcast: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "matchd_stats_broadcasts_total",
				Help: "Stats frames emitted on the stats interval",
			},
		),
	}
}
