package control

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestSetConfigDispatchesReload(t *testing.T) {
	s := New(prometheus.NewRegistry())
	fired := false
	s.OnReload(func() { fired = true })

	if err := s.SetConfig(map[string]any{"router_eui": "aa-bb"}); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if !fired {
		t.Fatalf("expected reload hook to fire")
	}
	if got := s.GetConfig()["router_eui"]; got != "aa-bb" {
		t.Fatalf("GetConfig: got %v", got)
	}
}

func TestStatsGathersRegisteredMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "tc_connected", Help: "tc link state"})
	reg.MustRegister(g)
	g.Set(1)

	s := New(reg)
	stats := s.Stats()
	if v, ok := stats["tc_connected"]; !ok || v != float64(1) {
		t.Fatalf("expected tc_connected=1 in stats, got %v", stats)
	}
}

func TestStatsIncludesDebugProbes(t *testing.T) {
	s := New(prometheus.NewRegistry())
	s.RegisterDebugProbe("cups.cred_set", func() any { return "REG" })

	stats := s.Stats()
	if got := stats["probe.cups.cred_set"]; got != "REG" {
		t.Fatalf("expected probe value in stats, got %v", got)
	}
}
