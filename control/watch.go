package control

import (
	"runtime"

	"github.com/lorafwd/stationd/internal/config"
)

// WireWatcher bridges an internal/config.Watcher into Station: every
// reload the watcher dispatches refreshes the config snapshot (flattened
// through snapshotConfig) and then runs Station's own OnReload hooks, so
// engines registered via Control.OnReload don't need to know whether the
// reload came from a file change or an operator-triggered SetConfig.
func (s *Station) WireWatcher(w *config.Watcher) {
	w.OnReload(func(cfg *config.Config) {
		_ = s.SetConfig(snapshotConfig(cfg))
	})
}

// snapshotConfig flattens the fields --params reports into the map shape
// GetConfig/SetConfig trade in.
func snapshotConfig(cfg *config.Config) map[string]any {
	return map[string]any{
		"home_dir":    cfg.HomeDir.Value,
		"home_from":   string(cfg.HomeDir.From),
		"temp_dir":    cfg.TempDir.Value,
		"router_eui":  cfg.RouterEUI.Value,
		"eui_prefix":  cfg.EUIPrefix.Value,
		"slave_index": cfg.SlaveIndex,
		"log_level":   cfg.LogLevel,
		"no_tc":       cfg.NoTC,
		"no_cups":     cfg.NoCUPS,
		"device_mode": cfg.DeviceMode,
	}
}

// RegisterRuntimeProbes adds the process-wide debug probes every build
// exposes, regardless of platform: goroutine count and logical CPU count.
// Platform-specific probes (e.g. process-group membership) are not
// registered here, and nothing else in this tree registers them.
func RegisterRuntimeProbes(s *Station) {
	s.RegisterDebugProbe("runtime.goroutines", func() any { return runtime.NumGoroutine() })
	s.RegisterDebugProbe("runtime.cpus", func() any { return runtime.NumCPU() })
}
