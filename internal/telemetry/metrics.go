// Package telemetry exposes tradecore's Prometheus metrics, grounded on the
// teacher's metrics.go: a package-level var block of CounterVec/GaugeVec
// instruments registered in init() and served via promhttp.Handler().
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_orders_total",
			Help: "Orders submitted, by mode (backtest|live) and side.",
		},
		[]string{"mode", "side"},
	)

	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_signals_total",
			Help: "Strategy signals emitted, by kind (buy|sell|hold).",
		},
		[]string{"kind"},
	)

	EquityUSD = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradecore_equity_usd",
			Help: "Current equity in USD, per strategy.",
		},
		[]string{"strategy_id"},
	)

	FillsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_fills_total",
			Help: "Fills recorded, by symbol and side.",
		},
		[]string{"symbol", "side"},
	)

	RiskRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_risk_rejections_total",
			Help: "Order validations rejected by the risk rule engine, by rule ID.",
		},
		[]string{"rule"},
	)

	AlertsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_alerts_total",
			Help: "Risk alerts raised, by type and level.",
		},
		[]string{"type", "level"},
	)

	EmergencyStopsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradecore_emergency_stops_total",
			Help: "Number of emergency stops triggered across all users.",
		},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradecore_circuit_breaker_state",
			Help: "Circuit breaker state per exchange (0=closed,1=half-open,2=open).",
		},
		[]string{"exchange"},
	)

	EventBusDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecore_event_bus_depth",
			Help: "Pending event count in the backtest event bus.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		OrdersTotal,
		SignalsTotal,
		EquityUSD,
		FillsTotal,
		RiskRejectionsTotal,
		AlertsTotal,
		EmergencyStopsTotal,
		CircuitBreakerState,
		EventBusDepth,
	)
}

// Handler returns the Prometheus text-exposition HTTP handler, served at
// /metrics by cmd/tradecored.
func Handler() http.Handler {
	return promhttp.Handler()
}
