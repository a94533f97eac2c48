package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestNewRegistry(t *testing.T) {
	reg := NewRegistry()
	if reg == nil {
		t.Fatal("expected non-nil registry")
	}
}

// Ensure the registry implements prometheus.Gatherer interface
func TestRegistry_ImplementsGatherer(t *testing.T) {
	reg := NewRegistry()
	var _ prometheus.Gatherer = reg
}

func counterValue(t *testing.T, reg *Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m.GetLabel(), labels) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	return -1
}

func labelsMatch(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, p := range pairs {
		if v, ok := want[p.GetName()]; ok && v == p.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func TestStatusClass(t *testing.T) {
	for status, want := range map[int]string{200: "2xx", 204: "2xx", 301: "3xx", 404: "4xx", 503: "5xx", 0: "other"} {
		if got := statusClass(status); got != want {
			t.Errorf("statusClass(%d) = %q, want %q", status, got, want)
		}
	}
}

func TestRegistry_DomainMetrics(t *testing.T) {
	reg := NewRegistry()

	reg.RecordSimulation("ok", 0.01)
	reg.RecordTradeClosed("stop_loss", -12.5)
	reg.RecordTradeClosed("take_profit", 40)
	reg.RecordTradeClosed("end_of_period", 0)
	reg.RecordBuySignal("accepted")
	reg.RecordBuySignal("rejected")
	reg.RecordBuySignal("rejected")
	reg.RecordTrial("ok", 0.02)
	reg.SetBestMetric("sharpe_ratio", 1.4)
	reg.RecordWalkForwardWindow()
	reg.SetStability(0.75)
	reg.RecordLedgerPersistFailure()
	reg.RecordStoreRetry("put")
	reg.RecordOrder("buy", "FILLED")
	reg.SetOpenPositions(2)
	reg.SetPendingReconciliations(1)
	reg.RecordRequest("/metrics", 200, 0.002)
	reg.RecordRequest("/metrics", 200, 0.003)
	reg.RecordRequest("/nope", 404, 0.001)
	reg.addInFlight(1)

	tests := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"tradecore_simulations_total", map[string]string{"status": "ok"}, 1},
		{"tradecore_trades_closed_total", map[string]string{"reason": "stop_loss", "outcome": "loss"}, 1},
		{"tradecore_trades_closed_total", map[string]string{"reason": "take_profit", "outcome": "win"}, 1},
		{"tradecore_trades_closed_total", map[string]string{"reason": "end_of_period", "outcome": "flat"}, 1},
		{"tradecore_buy_signals_total", map[string]string{"decision": "rejected"}, 2},
		{"tradecore_optimizer_trials_total", map[string]string{"status": "ok"}, 1},
		{"tradecore_optimizer_best_metric", map[string]string{"metric": "sharpe_ratio"}, 1.4},
		{"tradecore_walkforward_windows_total", nil, 1},
		{"tradecore_walkforward_stability", nil, 0.75},
		{"tradecore_ledger_persist_failures_total", nil, 1},
		{"tradecore_store_retries_total", map[string]string{"op": "put"}, 1},
		{"tradecore_orders_total", map[string]string{"side": "buy", "status": "FILLED"}, 1},
		{"tradecore_open_positions", nil, 2},
		{"tradecore_pending_reconciliations", nil, 1},
		{"tradecore_endpoint_requests_total", map[string]string{"path": "/metrics", "status": "2xx"}, 2},
		{"tradecore_endpoint_requests_total", map[string]string{"path": "/nope", "status": "4xx"}, 1},
		{"tradecore_endpoint_requests_in_flight", nil, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := counterValue(t, reg, tt.name, tt.labels); got != tt.want {
				t.Errorf("%s%v = %v, want %v", tt.name, tt.labels, got, tt.want)
			}
		})
	}
}

func TestRegistry_NilIsNoop(t *testing.T) {
	var reg *Registry

	reg.RecordRequest("/", 200, 0.1)
	reg.addInFlight(1)
	reg.RecordSimulation("ok", 1)
	reg.RecordTradeClosed("stop_loss", 1)
	reg.RecordBuySignal("accepted")
	reg.RecordTrial("ok", 1)
	reg.SetBestMetric("sharpe_ratio", 1)
	reg.RecordWalkForwardWindow()
	reg.SetStability(1)
	reg.RecordLedgerPersistFailure()
	reg.RecordStoreRetry("get")
	reg.RecordOrder("sell", "REJECTED")
	reg.SetOpenPositions(0)
	reg.SetPendingReconciliations(0)
	if err := reg.WriteTextfile("unused.prom"); err != nil {
		t.Errorf("nil registry WriteTextfile returned %v", err)
	}
}

func TestRegistry_WriteTextfile(t *testing.T) {
	reg := NewRegistry()
	reg.RecordSimulation("ok", 0.5)

	path := filepath.Join(t.TempDir(), "tradecore.prom")
	if err := reg.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), "tradecore_simulations_total") {
		t.Error("expected tradecore_simulations_total in textfile output")
	}
}
