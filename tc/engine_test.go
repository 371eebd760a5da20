package tc

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lorafwd/stationd/internal/certstore"
	"github.com/lorafwd/stationd/reactor"
)

func newTestEngine(t *testing.T) (*Engine, *certstore.Store) {
	t.Helper()
	home := t.TempDir()
	store, err := certstore.New(home)
	if err != nil {
		t.Fatalf("certstore.New: %v", err)
	}
	poller, err := reactor.NewPlatformPoller()
	if err != nil {
		t.Fatalf("NewPlatformPoller: %v", err)
	}
	re := reactor.New(poller)
	eng := NewEngine(re, Deps{Store: store, Log: zap.NewNop()}, Schedule{ReconnectIntv: time.Millisecond}, nil, "/router-test", nil)
	return eng, store
}

// TestConnectWithoutURISchedulesRetry reproduces the "no TC URI on
// record yet" case: connect must not panic and must arm a retry timer
// rather than looping immediately.
func TestConnectWithoutURISchedulesRetry(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.Start()
	if eng.timer == nil {
		t.Fatalf("expected a retry timer to be armed")
	}
	if eng.Connected() {
		t.Fatalf("expected not connected")
	}
}

// TestStopSuppressesRetry checks that Stop() clears any pending timer
// and that a subsequent scheduleRetry is a no-op until Start() resumes.
func TestStopSuppressesRetry(t *testing.T) {
	eng, _ := newTestEngine(t)
	eng.Start()
	if eng.timer == nil {
		t.Fatalf("expected a retry timer to be armed after Start")
	}

	eng.Stop()
	if eng.timer != nil {
		t.Fatalf("expected timer cleared after Stop")
	}
	if eng.Connected() {
		t.Fatalf("expected not connected after Stop")
	}

	eng.scheduleRetry()
	if eng.timer != nil {
		t.Fatalf("expected scheduleRetry to be a no-op while stopped")
	}

	eng.Start()
	if eng.timer == nil {
		t.Fatalf("expected Start to resume scheduling")
	}
}

// TestBuildTLSConfigFallsBackToDefault checks that an unprovisioned
// slot (no trust anchors, no client cert) uses the engine's
// startup-supplied default rather than an empty tls.Config.
func TestBuildTLSConfigFallsBackToDefault(t *testing.T) {
	eng, store := newTestEngine(t)
	slot := store.Slot(certstore.CategoryTC, certstore.SetREG)

	got, err := eng.buildTLSConfig(slot)
	if err != nil {
		t.Fatalf("buildTLSConfig: %v", err)
	}
	if got != eng.tlsConfig {
		t.Fatalf("expected fallback to engine default tls config")
	}
}
