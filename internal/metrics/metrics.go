package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics. A nil *Registry is valid and
// records nothing, so components can take one optionally.
type Registry struct {
	*prometheus.Registry

	// Endpoint metrics
	endpointRequests *prometheus.CounterVec
	endpointDuration *prometheus.HistogramVec
	endpointInFlight prometheus.Gauge

	// Simulation metrics
	simulationsTotal   *prometheus.CounterVec
	simulationDuration prometheus.Histogram
	tradesClosed       *prometheus.CounterVec
	buySignals         *prometheus.CounterVec

	// Optimizer metrics
	trialsTotal        *prometheus.CounterVec
	trialDuration      prometheus.Histogram
	bestMetric         *prometheus.GaugeVec
	walkForwardWindows prometheus.Counter
	stabilityScore     prometheus.Gauge

	// Ledger and live execution metrics
	ledgerPersistFailures prometheus.Counter
	storeRetries          *prometheus.CounterVec
	ordersTotal           *prometheus.CounterVec
	openPositions         prometheus.Gauge
	pendingReconcile      prometheus.Gauge
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		endpointRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tradecore_endpoint_requests_total",
				Help: "Requests served by the metrics endpoint by path and status class",
			},
			[]string{"path", "status"},
		),
		endpointDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tradecore_endpoint_request_duration_seconds",
				Help:    "Metrics endpoint response time",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
			},
			[]string{"path"},
		),
		endpointInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tradecore_endpoint_requests_in_flight",
				Help: "Metrics endpoint requests being served",
			},
		),
	}
	reg.MustRegister(r.endpointRequests, r.endpointDuration, r.endpointInFlight)

	r.simulationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_simulations_total",
			Help: "Total number of simulation runs",
		},
		[]string{"status"},
	)
	r.simulationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradecore_simulation_duration_seconds",
			Help:    "Simulation run duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
	r.tradesClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_trades_closed_total",
			Help: "Total number of closed trades",
		},
		[]string{"reason", "outcome"},
	)
	r.buySignals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_buy_signals_total",
			Help: "Buy signals seen by the simulation engine",
		},
		[]string{"decision"},
	)
	r.trialsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_optimizer_trials_total",
			Help: "Total number of optimizer parameter combinations evaluated",
		},
		[]string{"status"},
	)
	r.trialDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tradecore_optimizer_trial_duration_seconds",
			Help:    "Duration of one optimizer trial in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)
	r.bestMetric = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tradecore_optimizer_best_metric",
			Help: "Best metric value found by the last sweep",
		},
		[]string{"metric"},
	)
	r.walkForwardWindows = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradecore_walkforward_windows_total",
			Help: "Total number of walk-forward windows evaluated",
		},
	)
	r.stabilityScore = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecore_walkforward_stability",
			Help: "Parameter stability score of the last walk-forward run",
		},
	)
	r.ledgerPersistFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tradecore_ledger_persist_failures_total",
			Help: "Ledger mutations discarded because the snapshot write failed",
		},
	)
	r.storeRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_store_retries_total",
			Help: "State store operations retried after a failure",
		},
		[]string{"op"},
	)
	r.ordersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tradecore_orders_total",
			Help: "Orders sent to the broker",
		},
		[]string{"side", "status"},
	)
	r.openPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecore_open_positions",
			Help: "Number of open positions in the live ledger",
		},
	)
	r.pendingReconcile = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tradecore_pending_reconciliations",
			Help: "Partial fills awaiting reconciliation",
		},
	)

	reg.MustRegister(r.simulationsTotal)
	reg.MustRegister(r.simulationDuration)
	reg.MustRegister(r.tradesClosed)
	reg.MustRegister(r.buySignals)
	reg.MustRegister(r.trialsTotal)
	reg.MustRegister(r.trialDuration)
	reg.MustRegister(r.bestMetric)
	reg.MustRegister(r.walkForwardWindows)
	reg.MustRegister(r.stabilityScore)
	reg.MustRegister(r.ledgerPersistFailures)
	reg.MustRegister(r.storeRetries)
	reg.MustRegister(r.ordersTotal)
	reg.MustRegister(r.openPositions)
	reg.MustRegister(r.pendingReconcile)

	return r
}

// RecordRequest counts one request served by the metrics endpoint.
func (r *Registry) RecordRequest(path string, status int, duration float64) {
	if r == nil {
		return
	}
	r.endpointRequests.WithLabelValues(path, statusClass(status)).Inc()
	r.endpointDuration.WithLabelValues(path).Observe(duration)
}

func (r *Registry) addInFlight(delta float64) {
	if r == nil {
		return
	}
	r.endpointInFlight.Add(delta)
}

// RecordSimulation records a simulation run completion.
func (r *Registry) RecordSimulation(status string, duration float64) {
	if r == nil {
		return
	}
	r.simulationsTotal.WithLabelValues(status).Inc()
	r.simulationDuration.Observe(duration)
}

// RecordTradeClosed records a closed trade by exit reason and outcome.
func (r *Registry) RecordTradeClosed(reason string, profit float64) {
	if r == nil {
		return
	}
	outcome := "flat"
	switch {
	case profit > 0:
		outcome = "win"
	case profit < 0:
		outcome = "loss"
	}
	r.tradesClosed.WithLabelValues(reason, outcome).Inc()
}

// RecordBuySignal records whether a buy signal was acted on.
func (r *Registry) RecordBuySignal(decision string) {
	if r == nil {
		return
	}
	r.buySignals.WithLabelValues(decision).Inc()
}

// RecordTrial records one optimizer trial.
func (r *Registry) RecordTrial(status string, duration float64) {
	if r == nil {
		return
	}
	r.trialsTotal.WithLabelValues(status).Inc()
	r.trialDuration.Observe(duration)
}

// SetBestMetric publishes the best value found by a sweep.
func (r *Registry) SetBestMetric(metric string, value float64) {
	if r == nil {
		return
	}
	r.bestMetric.WithLabelValues(metric).Set(value)
}

// RecordWalkForwardWindow counts one evaluated window.
func (r *Registry) RecordWalkForwardWindow() {
	if r == nil {
		return
	}
	r.walkForwardWindows.Inc()
}

// SetStability publishes the stability score of a walk-forward run.
func (r *Registry) SetStability(score float64) {
	if r == nil {
		return
	}
	r.stabilityScore.Set(score)
}

// RecordLedgerPersistFailure counts a discarded ledger mutation.
func (r *Registry) RecordLedgerPersistFailure() {
	if r == nil {
		return
	}
	r.ledgerPersistFailures.Inc()
}

// RecordStoreRetry counts a retried store operation.
func (r *Registry) RecordStoreRetry(op string) {
	if r == nil {
		return
	}
	r.storeRetries.WithLabelValues(op).Inc()
}

// RecordOrder records an order outcome.
func (r *Registry) RecordOrder(side, status string) {
	if r == nil {
		return
	}
	r.ordersTotal.WithLabelValues(side, status).Inc()
}

// SetOpenPositions sets the live open position count.
func (r *Registry) SetOpenPositions(n int) {
	if r == nil {
		return
	}
	r.openPositions.Set(float64(n))
}

// SetPendingReconciliations sets the number of unreconciled partial fills.
func (r *Registry) SetPendingReconciliations(n int) {
	if r == nil {
		return
	}
	r.pendingReconcile.Set(float64(n))
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (r *Registry) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.Registry)
}

func statusClass(status int) string {
	if status < 100 || status > 599 {
		return "other"
	}
	return fmt.Sprintf("%dxx", status/100)
}
