// Package ioreg binds an fd-driven protocol peer (httpproto.Client,
// wsproto.Conn, ...) to the reactor's Poller, demand-driving the
// writable registration so a level-triggered poller never busy-spins
// once all buffered output has drained.
package ioreg

import "github.com/lorafwd/stationd/reactor"

// Peer is the minimal surface the reactor needs to drive a connection:
// its fd, its readable/writable step functions, and whether it still
// has unsent output so the binding knows whether to stay registered for
// writable events.
type Peer interface {
	FD() int
	OnReadable() error
	OnWritable() error
	WritePending() bool
}

// Binding is one peer's registration with a Reactor.
type Binding struct {
	re   *reactor.Reactor
	fd   int
	peer Peer
}

// Bind registers peer for readable events, and for writable too if it
// already has output queued (e.g. a handshake request written at dial
// time that didn't drain in one shot).
func Bind(re *reactor.Reactor, peer Peer) (*Binding, error) {
	b := &Binding{re: re, fd: peer.FD(), peer: peer}
	if err := re.Register(b.fd, b.wantedEvents(), b.onEvent); err != nil {
		return nil, err
	}
	return b, nil
}

func (b *Binding) wantedEvents() reactor.EventType {
	events := reactor.EventReadable
	if b.peer.WritePending() {
		events |= reactor.EventWritable
	}
	return events
}

func (b *Binding) onEvent(ev reactor.EventType) {
	var err error
	if ev&reactor.EventWritable != 0 {
		err = b.peer.OnWritable()
	}
	if err == nil && ev&reactor.EventReadable != 0 {
		err = b.peer.OnReadable()
	}
	if err != nil {
		// The peer tore itself down (closed its conn) on error; the fd
		// is no longer valid to Modify, so just drop the registration.
		b.re.Unregister(b.fd)
		return
	}
	b.re.Modify(b.fd, b.wantedEvents())
}

// Unbind removes the fd from the reactor. Safe to call even if the peer
// already closed its connection and the fd is stale.
func (b *Binding) Unbind() error {
	if b == nil {
		return nil
	}
	return b.re.Unregister(b.fd)
}
