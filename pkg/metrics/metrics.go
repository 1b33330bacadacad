// Package metrics exposes the Prometheus collectors shared by the exchange
// adapters, the paper engine and the monitor API.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// ExchangeRequests counts exchange API calls by venue and outcome
	// (ok, api_error, network_error, rate_limited).
	ExchangeRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powertrader_exchange_requests_total",
			Help: "Exchange API requests by venue and outcome",
		},
		[]string{"exchange", "outcome"},
	)

	// ExchangeLatency observes exchange API round-trip time.
	ExchangeLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "powertrader_exchange_request_seconds",
			Help:    "Exchange API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"exchange"},
	)

	// OrdersPlaced counts orders by execution mode (live venue name or
	// "paper") and side.
	OrdersPlaced = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powertrader_orders_placed_total",
			Help: "Orders placed by mode and side",
		},
		[]string{"mode", "side"},
	)

	// RiskAlerts counts risk alerts by level.
	RiskAlerts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "powertrader_risk_alerts_total",
			Help: "Risk alerts raised by level",
		},
		[]string{"level"},
	)
)

func init() {
	prometheus.MustRegister(ExchangeRequests, ExchangeLatency, OrdersPlaced, RiskAlerts)
}
