// Package metrics defines the Prometheus instrumentation surface
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QuotesIssuedTotal counts quote requests by chain and outcome
	QuotesIssuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_quotes_total",
		Help: "Total number of quote requests by chain and outcome",
	}, []string{"chain", "outcome"})

	// SettlementsTotal counts settlement attempts by outcome
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_settlements_total",
		Help: "Total number of settlement attempts by outcome",
	}, []string{"outcome"})

	// SettlementDuration observes end-to-end settlement latency
	SettlementDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bridge_settlement_duration_seconds",
		Help:    "Settlement processing duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// ReserveBalance exports the reserve accounting in wei by component
	// (total, locked, available)
	ReserveBalance = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bridge_reserve_balance_wei",
		Help: "Reserve balance in wei by component",
	}, []string{"component"})

	// DailyGasSubsidy exports gas subsidies committed since the last
	// UTC day rollover
	DailyGasSubsidy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_daily_gas_subsidy_wei",
		Help: "Gas subsidies committed today in wei",
	})

	// GasMaxFeePerGas exports the most recent estimated max fee
	GasMaxFeePerGas = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_gas_max_fee_per_gas_wei",
		Help: "Most recent estimated max fee per gas in wei",
	})

	// ReserveHealth exports the reserve health as 0 healthy, 1 warning,
	// 2 critical
	ReserveHealth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bridge_reserve_health",
		Help: "Reserve health status (0 healthy, 1 warning, 2 critical)",
	})

	// ErrorsTotal counts errors by component
	ErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bridge_errors_total",
		Help: "Total number of errors by component",
	}, []string{"component"})
)
