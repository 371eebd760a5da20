// Package tc drives the Traffic Concentrator link: a single WebSocket
// connection to the LNS endpoint CUPS last delivered, reconnecting with
// backoff on loss and reporting connectivity back to the CUPS engine's
// scheduling decision. Interpreting the frames carried over the link
// (LoRaWAN uplink/downlink JSON) belongs to the radio abstraction layer
// and is out of scope here; this package only owns the link's
// lifecycle and hands received frames to a caller-supplied handler.
package tc

import (
	"context"
	"crypto/tls"
	"time"

	"go.uber.org/zap"

	"github.com/lorafwd/stationd/internal/certstore"
	"github.com/lorafwd/stationd/internal/ioreg"
	"github.com/lorafwd/stationd/netio"
	"github.com/lorafwd/stationd/reactor"
	"github.com/lorafwd/stationd/wsproto"
)

// MessageHandler receives every TEXT/BINARY frame off the link.
type MessageHandler func(opcode wsproto.Opcode, payload []byte)

// Deps bundles the TC engine's collaborators.
type Deps struct {
	Store     *certstore.Store
	Log       *zap.Logger
	OnMessage MessageHandler
}

// Schedule holds the TC reconnect backoff constant.
type Schedule struct {
	ReconnectIntv time.Duration
}

// Engine owns one TC WebSocket connection at a time and the reconnect
// timer that redials after a lost link. It satisfies cups.TCController
// so the CUPS engine can stop/start it when credentials change and read
// its connectivity for resync-interval scheduling.
type Engine struct {
	deps      Deps
	schedule  Schedule
	tlsConfig *tls.Config
	re        *reactor.Reactor

	path        string
	authHeaders []string

	stopped   bool
	connected bool

	timer       *reactor.Timer
	conn        *wsproto.Conn
	binding     *ioreg.Binding
	tearingDown bool
}

// NewEngine builds a TC engine. path is the WS upgrade target (e.g.
// "/router-<eui>"); authHeaders are appended verbatim to the upgrade
// request, built from the active credential slot's auth-token blob by
// the caller.
func NewEngine(re *reactor.Reactor, deps Deps, schedule Schedule, tlsConfig *tls.Config, path string, authHeaders []string) *Engine {
	return &Engine{
		deps:        deps,
		schedule:    schedule,
		tlsConfig:   tlsConfig,
		re:          re,
		path:        path,
		authHeaders: authHeaders,
	}
}

// Connected reports whether the link currently has an open WS session.
func (e *Engine) Connected() bool { return e.connected }

// Start connects (or resumes reconnecting) to the TC URI currently on
// record; a no-op if already connected or mid-connect.
func (e *Engine) Start() {
	e.stopped = false
	if e.conn != nil {
		return
	}
	e.connect(context.Background())
}

// Stop tears down the current connection and suppresses reconnects
// until the next Start(); used when CUPS delivers a new TC URI or
// credential set and the stale link must drop before the new one dials.
func (e *Engine) Stop() {
	e.stopped = true
	e.clearTimer()
	e.abort()
	e.connected = false
}

func (e *Engine) connect(ctx context.Context) {
	slot := e.deps.Store.Slot(certstore.CategoryTC, certstore.SetREG)
	if slot.URI == "" {
		e.scheduleRetry()
		return
	}
	scheme, uri, err := netio.CheckHostPortURI(slot.URI)
	if err != nil || scheme == netio.URIBad {
		e.deps.Log.Warn("tc uri invalid", zap.String("uri", slot.URI))
		e.scheduleRetry()
		return
	}

	var tlsCfg *tls.Config
	if scheme == netio.URITLS {
		tlsCfg, err = e.buildTLSConfig(slot)
		if err != nil {
			e.deps.Log.Warn("tc tls material invalid", zap.Error(err))
			e.scheduleRetry()
			return
		}
	}

	authHeaders := e.authHeaders
	if len(slot.AuthToken) > 0 {
		authHeaders = append(append([]string{}, authHeaders...), "Authorization: Bearer "+string(slot.AuthToken))
	}

	conn, err := wsproto.Dial(ctx, uri.Host, uri.Port, e.path, tlsCfg, authHeaders, 4096, 4096, func(ev wsproto.Event, payload []byte) {
		e.onWSEvent(ev, payload)
	})
	if err != nil {
		e.deps.Log.Warn("tc connect failed", zap.Error(err))
		e.scheduleRetry()
		return
	}
	e.conn = conn

	if e.re != nil {
		binding, err := ioreg.Bind(e.re, conn)
		if err != nil {
			e.deps.Log.Warn("tc fd registration failed", zap.Error(err))
			e.abort()
			e.scheduleRetry()
			return
		}
		e.binding = binding
	}
}

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

func (e *Engine) onWSEvent(ev wsproto.Event, payload []byte) {
	switch ev {
	case wsproto.EvConnected:
		e.connected = true
		e.deps.Log.Info("tc connected")
	case wsproto.EvTextRcvd:
		if e.deps.OnMessage != nil {
			e.deps.OnMessage(wsproto.OpText, payload)
		}
	case wsproto.EvBinaryRcvd:
		if e.deps.OnMessage != nil {
			e.deps.OnMessage(wsproto.OpBinary, payload)
		}
	case wsproto.EvDataSent:
		// nothing to do
	case wsproto.EvClosed:
		if e.tearingDown {
			return // our own abort() triggered this synchronously
		}
		e.connected = false
		e.conn = nil
		if e.binding != nil {
			e.binding.Unbind()
			e.binding = nil
		}
		e.deps.Log.Info("tc disconnected")
		e.scheduleRetry()
	}
}

func (e *Engine) abort() {
	e.tearingDown = true
	if e.binding != nil {
		e.binding.Unbind()
		e.binding = nil
	}
	if e.conn != nil {
		e.conn.Close(1000)
		e.conn = nil
	}
	e.tearingDown = false
}

func (e *Engine) clearTimer() {
	if e.re != nil && e.timer != nil {
		e.re.ClearTimer(e.timer)
		e.timer = nil
	}
}

func (e *Engine) scheduleRetry() {
	if e.stopped || e.re == nil {
		return
	}
	e.timer = e.re.SetTimer(time.Now().Add(e.schedule.ReconnectIntv), func() {
		e.connect(context.Background())
	})
}

// Send queues a frame for transmission on the current connection; it is
// a no-op (not an error) when the link is down, matching the
// fire-and-forget nature of the upstream data the radio layer produces.
func (e *Engine) Send(opcode wsproto.Opcode, payload []byte) error {
	if e.conn == nil {
		return nil
	}
	return e.conn.Send(opcode, payload)
}
