// Package control bundles the runtime introspection surface shared by the
// CUPS engine, the TC engine, the reactor, and the supervisor: a live
// configuration snapshot, a metrics registry exported over HTTP, hot-reload
// dispatch, and named debug probes.
package control

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

// Control is the introspection contract each engine is handed at startup.
// GetConfig/SetConfig expose the current provenance-tagged configuration as
// a flat map (for --params and the debug dump); Stats reports the current
// value of every registered metric; OnReload and RegisterDebugProbe let a
// component hook into config reloads and the debug dump respectively.
type Control interface {
	GetConfig() map[string]any
	SetConfig(cfg map[string]any) error
	Stats() map[string]any
	OnReload(fn func())
	RegisterDebugProbe(name string, fn func() any)
}

// Station implements Control. Its metrics registry is the one backing the
// embedded HTTP server's /metrics route.
type Station struct {
	mu     sync.RWMutex
	config map[string]any

	registry *prometheus.Registry
	reload   []func()
	probes   *DebugProbes
}

// New builds a Station control surface around reg, the registry the
// caller also wires into promhttp.HandlerFor for the /metrics route.
func New(reg *prometheus.Registry) *Station {
	return &Station{
		config:   make(map[string]any),
		registry: reg,
		probes:   NewDebugProbes(),
	}
}

// Registry exposes the backing prometheus registry so callers can register
// their own collectors (gauges, counters) directly rather than going
// through Stats's generic snapshot path.
func (s *Station) Registry() *prometheus.Registry { return s.registry }

// GetConfig returns a copy of the last config snapshot set via SetConfig.
func (s *Station) GetConfig() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]any, len(s.config))
	for k, v := range s.config {
		out[k] = v
	}
	return out
}

// SetConfig merges cfg into the current snapshot and dispatches reload
// hooks; it does not itself reload station.conf from disk (that's
// internal/config.Watcher's job) but records the effective state an
// operator-triggered reload or --params dump should report.
func (s *Station) SetConfig(cfg map[string]any) error {
	s.mu.Lock()
	for k, v := range cfg {
		s.config[k] = v
	}
	hooks := append([]func(){}, s.reload...)
	s.mu.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return nil
}

// OnReload registers fn to run whenever SetConfig is called or the
// station.conf watcher fires (see WireWatcher).
func (s *Station) OnReload(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reload = append(s.reload, fn)
}

// RegisterDebugProbe adds a named probe evaluated on demand by Stats's
// debug-probe section.
func (s *Station) RegisterDebugProbe(name string, fn func() any) {
	s.probes.Register(name, fn)
}

// Stats gathers every metric family currently registered on the backing
// prometheus registry into a flat name->value map, plus the output of
// every registered debug probe under a "probe." prefix. Histograms and
// summaries report their sample count rather than a single value.
func (s *Station) Stats() map[string]any {
	out := make(map[string]any)

	families, err := s.registry.Gather()
	if err == nil {
		for _, mf := range families {
			for _, m := range mf.GetMetric() {
				key := mf.GetName()
				if len(m.GetLabel()) > 0 {
					for _, l := range m.GetLabel() {
						key += "," + l.GetName() + "=" + l.GetValue()
					}
				}
				out[key] = metricValue(m)
			}
		}
	}

	for name, val := range s.probes.DumpState() {
		out["probe."+name] = val
	}
	return out
}

func metricValue(m *dto.Metric) float64 {
	switch {
	case m.GetCounter() != nil:
		return m.GetCounter().GetValue()
	case m.GetGauge() != nil:
		return m.GetGauge().GetValue()
	case m.GetHistogram() != nil:
		return float64(m.GetHistogram().GetSampleCount())
	case m.GetSummary() != nil:
		return float64(m.GetSummary().GetSampleCount())
	default:
		return 0
	}
}
