package cups

import (
	"context"
	"crypto/tls"
	"time"

	"go.uber.org/zap"

	"github.com/lorafwd/stationd/httpproto"
	"github.com/lorafwd/stationd/internal/certstore"
	"github.com/lorafwd/stationd/internal/ioreg"
	"github.com/lorafwd/stationd/netio"
	"github.com/lorafwd/stationd/reactor"
)

// TCController is the minimal surface the CUPS engine needs from the TC
// link: it restarts the link when CUPS delivers new TC URI/credentials,
// and reports whether it's currently connected: after a session that
// changed nothing on the CUPS side, the engine waits the long OkSync
// interval while TC is connected and the shorter Resync interval otherwise.
type TCController interface {
	Stop()
	Start()
	Connected() bool
}

// Schedule holds the tunable CUPS timing constants, grounded on
// CUPS_CONN_TIMEOUT/CUPS_OKSYNC_INTV/CUPS_RESYNC_INTV.
type Schedule struct {
	ConnTimeout time.Duration
	OkSyncIntv  time.Duration
	ResyncIntv  time.Duration
}

// Engine owns the CUPS timer and drives one Session at a time to
// completion, then reschedules itself.
type Engine struct {
	deps      Deps
	schedule  Schedule
	tlsConfig *tls.Config
	tc        TCController
	re        *reactor.Reactor

	credSet certstore.Set
	failCnt int

	timer   *reactor.Timer
	session *Session
	client  *httpproto.Client
	binding *ioreg.Binding

	// tearingDown suppresses the EvClosed re-entry into done() that
	// abort()'s own client.Close() call triggers synchronously; abort()
	// is always immediately followed by exactly one done() call by its
	// caller, so a second one from the echoed close would double it up.
	tearingDown bool
}

// NewEngine builds a CUPS engine. Dial happens lazily on each Trigger.
func NewEngine(re *reactor.Reactor, deps Deps, schedule Schedule, tlsConfig *tls.Config, tc TCController) *Engine {
	return &Engine{
		deps:      deps,
		schedule:  schedule,
		tlsConfig: tlsConfig,
		tc:        tc,
		re:        re,
		credSet:   certstore.SetREG,
	}
}

// Trigger starts a new CUPS session immediately, cancelling any pending
// scheduled resync.
func (e *Engine) Trigger(ctx context.Context) error {
	if e.re != nil && e.timer != nil {
		e.re.ClearTimer(e.timer)
		e.timer = nil
	}
	return e.connect(ctx)
}

func (e *Engine) connect(ctx context.Context) error {
	slot := e.deps.Store.Slot(certstore.CategoryCUPS, e.credSet)
	if slot.URI == "" {
		e.done(ErrNoURI)
		return nil
	}
	scheme, uri, err := netio.CheckHostPortURI(slot.URI)
	if err != nil || scheme == netio.URIBad {
		e.done(ErrNoURI)
		return nil
	}

	var tlsCfg *tls.Config
	if scheme == netio.URITLS {
		var err error
		tlsCfg, err = e.buildTLSConfig(slot)
		if err != nil {
			e.deps.Log.Warn("cups tls material invalid", zap.Error(err))
			e.done(ErrFailed)
			return nil
		}
	}

	// httpproto.Dial reports EvConnected from inside the call, before the
	// session below exists; events are ignored until then and the session
	// is started explicitly once it is in place.
	ready := false
	client, err := httpproto.Dial(ctx, uri.Host, uri.Port, tlsCfg, 2048, 2048, func(ev httpproto.ClientEvent, data []byte) {
		if ready {
			e.onHTTPEvent(ev, data)
		}
	})
	if err != nil {
		e.deps.Log.Warn("cups connect failed", zap.Error(err))
		e.done(ErrFailed)
		return nil
	}
	e.client = client
	e.session = NewSession(client, e.credSet, e.deps)
	ready = true
	if err := e.session.Start(); err != nil {
		e.fail(err)
		return nil
	}

	if e.re != nil {
		binding, err := ioreg.Bind(e.re, client)
		if err != nil {
			e.deps.Log.Warn("cups fd registration failed", zap.Error(err))
			e.abort()
			e.done(ErrFailed)
			return nil
		}
		e.binding = binding
	}

	if e.re != nil {
		e.timer = e.re.SetTimer(time.Now().Add(e.schedule.ConnTimeout), func() {
			e.deps.Log.Error("cups timed out")
			e.abort()
			e.done(ErrTimeout)
		})
	}
	return nil
}

// buildTLSConfig prefers the credential slot's own trust anchors and
// client identity; a slot with no material at all (e.g. a freshly
// flashed BOOT set) falls back to the engine's startup-supplied default
// so a completely unprovisioned station can still reach CUPS once.
func (e *Engine) buildTLSConfig(slot *certstore.Slot) (*tls.Config, error) {
	if len(slot.TrustedCAs) == 0 && len(slot.ClientCert) == 0 {
		return e.tlsConfig, nil
	}
	mat := netio.TLSMaterial{
		TrustedCAs:    slot.TrustedCAs,
		ClientCertPEM: slot.ClientCert,
		ClientKeyPEM:  slot.ClientKey,
	}
	return mat.BuildConfig()
}

func (e *Engine) onHTTPEvent(ev httpproto.ClientEvent, data []byte) {
	switch ev {
	case httpproto.EvConnected:
		if err := e.session.Start(); err != nil {
			e.fail(err)
		}
	case httpproto.EvResponse:
		e.pump(data)
	case httpproto.EvResponseMore:
		// nothing to do: the next EvResponse carries the new chunk
	case httpproto.EvClosed:
		if e.tearingDown {
			return // our own abort() triggered this synchronously
		}
		if e.session.State() >= Ini && e.session.State() < Done {
			e.done(ErrClosed)
		}
	}
}

func (e *Engine) pump(data []byte) {
	e.session.SetStatusCode(e.client.StatusCode)
	if err := e.session.OnResponse(data); err != nil {
		e.fail(err)
		return
	}
	if e.session.State() == Done {
		e.done(Done)
		return
	}
	if err := e.client.GetMore(); err != nil {
		e.fail(err)
	}
}

func (e *Engine) fail(err error) {
	e.deps.Log.Warn("cups session failed", zap.Error(err))
	e.abort()
	e.done(ErrFailed)
}

func (e *Engine) abort() {
	e.tearingDown = true
	if e.binding != nil {
		e.binding.Unbind()
		e.binding = nil
	}
	if e.client != nil {
		e.client.Close()
	}
}

// done implements the cups_ondone scheduling logic: rotate credential
// sets on repeated or terminal failure, restart TC when URI/credentials
// changed, and pick the resync interval.
func (e *Engine) done(final State) {
	e.tearingDown = false
	if e.re != nil && e.timer != nil {
		e.re.ClearTimer(e.timer)
		e.timer = nil
	}

	ahead := e.schedule.ResyncIntv
	if final != Done {
		e.failCnt++
		if e.failCnt > failCntThreshold || final == ErrRejected || final == ErrNoURI {
			e.credSet = e.credSet.Next()
		}
		if final != ErrNoURI {
			e.deps.Log.Info("cups interaction failed, retrying", zap.String("state", final.String()), zap.Duration("ahead", ahead))
		}
	} else {
		uflags := e.session.Flags()
		if uflags&FlagUpdate != 0 {
			e.deps.Log.Info("cups provided update.bin")
		}
		if uflags&(FlagTCURI|FlagTCCred) != 0 && e.tc != nil {
			e.deps.Log.Info("cups provided tc updates, restarting tc engine")
			e.tc.Stop()
		}
		if uflags&(FlagCupsURI|FlagCupsCred) != 0 {
			e.deps.Log.Info("cups provided cups updates, reconnecting")
			ahead = 0
		} else if e.tc == nil || e.tc.Connected() {
			ahead = e.schedule.OkSyncIntv
		}
		e.credSet = certstore.SetREG
		e.failCnt = 0
	}
	if e.binding != nil {
		e.binding.Unbind()
		e.binding = nil
	}
	e.session = nil
	e.client = nil
	if e.tc != nil {
		e.tc.Start()
	}
	if e.re != nil {
		e.timer = e.re.SetTimer(time.Now().Add(ahead), func() {
			e.Trigger(context.Background())
		})
	}
}
