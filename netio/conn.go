// Package netio is the shared connection-buffer substrate described in
// the data model: one recv buffer and one send buffer per connection,
// each with explicit windows, plus an optional TLS adapter. httpproto
// and wsproto both drive a *Conn; neither owns socket or TLS mechanics
// directly.
package netio

import (
	"crypto/tls"
	"net"

	"github.com/lorafwd/stationd/internal/stationerr"
)

// WriteResult is the outcome of a writeData attempt.
type WriteResult int

const (
	WRDone WriteResult = iota
	WRPending
	WRError
)

// ReadMode selects how FillRead interprets newly buffered bytes.
type ReadMode int

const (
	ReadHDR ReadMode = iota
	ReadBody
	ReadWSFrame
)

// Conn owns one recv buffer and one send buffer with the window
// invariants from the data model:
//
//	0 <= rbeg <= rend <= rpos <= len(rbuf)
//	0 <= wpos <= wend <= wfill <= len(wbuf)
type Conn struct {
	netConn net.Conn
	tlsConn *tls.Conn // non-nil when this connection runs over TLS

	rbuf       []byte
	rbeg, rend, rpos int

	wbuf       []byte
	wpos, wend, wfill int

	Host, Port, Path string
	AuthToken        []byte

	closeReason error
}

// NewConn wraps an already-established net.Conn (plain or TLS) with
// fixed-size read/write buffers.
func NewConn(c net.Conn, rbufSize, wbufSize int) *Conn {
	return &Conn{
		netConn: c,
		rbuf:    make([]byte, rbufSize),
		wbuf:    make([]byte, wbufSize),
	}
}

// UseTLS records the TLS layer for a connection whose net.Conn is
// already the *tls.Conn; kept distinct from netConn so callers can ask
// "is this connection encrypted" without a type assertion.
func (c *Conn) UseTLS(t *tls.Conn) { c.tlsConn = t; c.netConn = t }

// IsTLS reports whether this connection runs over TLS.
func (c *Conn) IsTLS() bool { return c.tlsConn != nil }

// RawConn exposes the underlying net.Conn for fd-level reactor
// registration (SyscallConn on the concrete TCP/TLS type).
func (c *Conn) RawConn() net.Conn { return c.netConn }

// Windows returns the current read/write window offsets, for invariant
// assertions in tests.
func (c *Conn) Windows() (rbeg, rend, rpos, wpos, wend, wfill int) {
	return c.rbeg, c.rend, c.rpos, c.wpos, c.wend, c.wfill
}

func (c *Conn) checkInvariants() error {
	if !(0 <= c.rbeg && c.rbeg <= c.rend && c.rend <= c.rpos && c.rpos <= len(c.rbuf)) {
		return stationerr.New(stationerr.CodeProtoError, "read window invariant violated").
			WithContext("rbeg", c.rbeg).WithContext("rend", c.rend).
			WithContext("rpos", c.rpos).WithContext("rbufsize", len(c.rbuf))
	}
	if !(0 <= c.wpos && c.wpos <= c.wend && c.wend <= c.wfill && c.wfill <= len(c.wbuf)) {
		return stationerr.New(stationerr.CodeProtoError, "write window invariant violated").
			WithContext("wpos", c.wpos).WithContext("wend", c.wend).
			WithContext("wfill", c.wfill).WithContext("wbufsize", len(c.wbuf))
	}
	return nil
}

// FillRead pulls newly arrived bytes from the socket into rbuf starting
// at rpos, advancing rpos. Returns the number of bytes read; 0 with a
// nil error means "would block" (caller stays registered for readable).
func (c *Conn) FillRead() (int, error) {
	if c.rpos >= len(c.rbuf) {
		return 0, nil
	}
	n, err := c.netConn.Read(c.rbuf[c.rpos:])
	if n > 0 {
		c.rpos += n
	}
	if err != nil {
		if isWouldBlock(err) {
			return n, nil
		}
		return n, err
	}
	return n, c.checkInvariants()
}

// ScanHeader looks for "\r\n\r\n" within [rbeg, rpos) and, if found, sets
// rend one past it and returns true.
func (c *Conn) ScanHeader() bool {
	const sep = "\r\n\r\n"
	window := c.rbuf[c.rbeg:c.rpos]
	idx := indexOf(window, sep)
	if idx < 0 {
		return false
	}
	c.rend = c.rbeg + idx + len(sep)
	return true
}

func indexOf(hay []byte, needle string) int {
	n := len(needle)
	for i := 0; i+n <= len(hay); i++ {
		if string(hay[i:i+n]) == needle {
			return i
		}
	}
	return -1
}

// HeaderBytes returns the bytes of the most recently scanned header,
// [rbeg, rend).
func (c *Conn) HeaderBytes() []byte { return c.rbuf[c.rbeg:c.rend] }

// BodyAvailable is the number of unconsumed body bytes currently
// buffered, [rbeg, rpos).
func (c *Conn) BodyAvailable() []byte { return c.rbuf[c.rbeg:c.rpos] }

// ConsumeBody advances rbeg by n after the caller processes n bytes of
// body.
func (c *Conn) ConsumeBody(n int) { c.rbeg += n }

// CompactRead slides [rbeg, rpos) down to the start of rbuf (offset
// resv), so more room opens up for subsequent reads; used by both the
// HTTP body "getMore" path and the WS frame compaction path.
func (c *Conn) CompactRead(resv int) {
	n := c.rpos - c.rbeg
	copy(c.rbuf[resv:resv+n], c.rbuf[c.rbeg:c.rpos])
	c.rbeg = resv
	c.rend = resv
	c.rpos = resv + n
}

// ResetRead resets all read windows to resv, discarding buffered bytes;
// used when starting a fresh request/response cycle.
func (c *Conn) ResetRead(resv int) {
	c.rbeg, c.rend, c.rpos = resv, resv, resv
}

// GetWriteBuf returns a slice at wfill with at least minsize bytes of
// room, compacting [wpos, wfill) down to resv first if needed. Returns
// ErrBufferExhausted if the buffer is too small even after compaction.
func (c *Conn) GetWriteBuf(resv, minsize int) ([]byte, error) {
	if c.wpos == c.wend && c.wend == c.wfill {
		c.wpos, c.wend, c.wfill = resv, resv, resv
	}
	if resv+minsize > len(c.wbuf) {
		return nil, stationerr.Wrap(stationerr.CodeBufferExhausted, "write buffer too small for request", stationerr.ErrBufferExhausted).
			WithContext("minsize", minsize).WithContext("wbufsize", len(c.wbuf))
	}
	if len(c.wbuf)-c.wfill < minsize {
		n := c.wfill - c.wpos
		copy(c.wbuf[resv:resv+n], c.wbuf[c.wpos:c.wfill])
		c.wpos, c.wfill = resv, resv+n
		if len(c.wbuf)-c.wfill < minsize {
			return nil, stationerr.Wrap(stationerr.CodeBufferExhausted, "write buffer full after compaction", stationerr.ErrBufferExhausted).
				WithContext("minsize", minsize).WithContext("wbufsize", len(c.wbuf))
		}
	}
	return c.wbuf[c.wfill : c.wfill+minsize], nil
}

// CommitWrite marks n bytes appended at wfill as ready to send, pushing
// wfill forward and wend to match (single in-flight frame per call).
func (c *Conn) CommitWrite(n int) {
	c.wfill += n
	c.wend = c.wfill
}

// WriteData drains [wpos, wend) to the socket.
func (c *Conn) WriteData() (WriteResult, error) {
	for c.wpos < c.wend {
		n, err := c.netConn.Write(c.wbuf[c.wpos:c.wend])
		if n > 0 {
			c.wpos += n
		}
		if err != nil {
			if isWouldBlock(err) {
				return WRPending, nil
			}
			return WRError, err
		}
	}
	if err := c.checkInvariants(); err != nil {
		return WRError, err
	}
	return WRDone, nil
}

// HasPendingFrames reports whether more queued output exists beyond the
// frame currently draining ([wend, wfill) is non-empty).
func (c *Conn) HasPendingFrames() bool { return c.wend < c.wfill }

// WritePending reports whether the socket still has unsent bytes
// buffered in [wpos, wend), i.e. the last WriteData call returned
// WRPending. Callers use this to decide whether a writable registration
// with the reactor is still needed.
func (c *Conn) WritePending() bool { return c.wpos < c.wend }

// Close tears down the underlying connection.
func (c *Conn) Close(reason error) error {
	c.closeReason = reason
	return c.netConn.Close()
}

// CloseReason returns the reason passed to Close, if any.
func (c *Conn) CloseReason() error { return c.closeReason }

func isWouldBlock(err error) bool {
	type timeout interface{ Timeout() bool }
	if t, ok := err.(timeout); ok && t.Timeout() {
		return true
	}
	return false
}
