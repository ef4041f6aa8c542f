package monitor

import "github.com/prometheus/client_golang/prometheus"

var (
	SnapshotRefreshes = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_snapshot_refreshes_total",
		Help: "Number of market snapshot refresh cycles",
	})

	VenueErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_venue_errors_total",
		Help: "Number of venue poll failures",
	}, []string{"venue"})

	OpportunitiesFound = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "arb_opportunities_total",
		Help: "Number of opportunities accepted into the candidate set",
	})

	TradesByStatus = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_trades_total",
		Help: "Number of finalized trades by terminal status",
	}, []string{"status"})

	NetProfit = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_net_profit_total",
		Help: "Cumulative net profit across all finalized trades",
	})

	RiskEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "arb_risk_events_total",
		Help: "Number of risk events by kind",
	}, []string{"kind"})

	ExecutionDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "arb_execution_duration_seconds",
		Help:    "Wall-clock duration of two-leg executions",
		Buckets: prometheus.DefBuckets,
	})

	OpenPositions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "arb_open_positions",
		Help: "Positions currently tracked by the risk monitor",
	})
)

func init() {
	prometheus.MustRegister(
		SnapshotRefreshes,
		VenueErrors,
		OpportunitiesFound,
		TradesByStatus,
		NetProfit,
		RiskEvents,
		ExecutionDuration,
		OpenPositions,
	)
}
