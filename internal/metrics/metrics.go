// Package metrics centralizes the Prometheus collectors used by the
// RPC server, relayer pool, rebalancing loop and background services,
// replacing the per-call-site metric! macro of the reference service
// with plain exported collectors. PriceRequests and PriceRequestErrors
// are registered, but no price lookup increments them.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RPCRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paymaster_rpc_request_total",
		Help: "Total JSON-RPC requests received, by method.",
	}, []string{"method"})

	RPCRequestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paymaster_rpc_request_error_total",
		Help: "Total JSON-RPC requests that returned an error, by method.",
	}, []string{"method"})

	RPCRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "paymaster_rpc_request_duration_milliseconds",
		Help: "JSON-RPC request handling duration in milliseconds, by method.",
	}, []string{"method"})

	PriceRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paymaster_price_request_total",
		Help: "Total price oracle lookups, by provider.",
	}, []string{"provider"})

	PriceRequestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paymaster_price_request_error_total",
		Help: "Total failed price oracle lookups, by provider.",
	}, []string{"provider"})

	RelayerLockAcquisitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paymaster_relayer_lock_acquired_total",
		Help: "Total relayer lock acquisitions, by outcome.",
	}, []string{"outcome"})

	RelayerBalance = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "paymaster_relayer_balance",
		Help: "Last observed gas-token balance of a relayer account.",
	}, []string{"address"})

	RebalanceRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paymaster_rebalance_run_total",
		Help: "Total rebalancing loop iterations, by outcome.",
	}, []string{"outcome"})

	AvailableRelayers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "paymaster_available_relayers",
		Help: "Count of relayer addresses currently eligible to be locked.",
	})

	TransactionStatusPolls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paymaster_tx_status_poll_total",
		Help: "Total transaction-status polls performed by the watcher, by resulting status.",
	}, []string{"status"})

	DiagnosticsRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paymaster_diagnostics_run_total",
		Help: "Total estimation-failure diagnostic classifications, by category.",
	}, []string{"category"})
)

func init() {
	prometheus.MustRegister(
		RPCRequests,
		RPCRequestErrors,
		RPCRequestDuration,
		PriceRequests,
		PriceRequestErrors,
		RelayerLockAcquisitions,
		RelayerBalance,
		RebalanceRuns,
		AvailableRelayers,
		TransactionStatusPolls,
		DiagnosticsRuns,
	)
}
