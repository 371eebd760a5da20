package wsproto

import (
	"context"
	"crypto/tls"
	"encoding/binary"

	"github.com/eapache/queue"
	"github.com/lorafwd/stationd/internal/stationerr"
	"github.com/lorafwd/stationd/netio"
)

// State is the WebSocket client state machine of the component design.
type State int

const (
	Closed State = iota
	TLSHandshake
	ClientReq
	ServerResp
	Connected
	ClosingDrainC // draining client-queued frames before sending CLOSE
	ClosingDrainS // waiting for the peer's CLOSE after ours was sent
	SendClose
	SentClose
	EchoClose
)

// Event mirrors the WSEV_* events of the component design.
type Event int

const (
	EvConnected Event = iota
	EvTextRcvd
	EvBinaryRcvd
	EvDataSent
	EvClosed
)

// EventCallback is invoked synchronously as the state machine advances.
type EventCallback func(ev Event, payload []byte)

// Conn is a single WebSocket client connection.
type Conn struct {
	conn    *netio.Conn
	state   State
	onEvent EventCallback

	// pendingFrames queues fully-encoded outgoing frames awaiting the
	// writable callback; grounded on the teacher's own
	// github.com/eapache/queue dependency, previously unused.
	pendingFrames *queue.Queue

	closeReason uint16
	path        string
}

// Dial opens the underlying TCP/TLS connection and begins the Upgrade
// handshake; the caller drives OnReadable/OnWritable from the reactor.
func Dial(ctx context.Context, host, port, path string, tlsConfig *tls.Config, authHeaders []string, rbufSize, wbufSize int, onEvent EventCallback) (*Conn, error) {
	nc, err := netio.Dial(ctx, host, port, tlsConfig, rbufSize, wbufSize)
	if err != nil {
		return nil, err
	}
	c := &Conn{conn: nc, state: ClientReq, onEvent: onEvent, pendingFrames: queue.New(), path: path}

	req := BuildUpgradeRequest(host, port, path, authHeaders)
	buf, err := nc.GetWriteBuf(WSHdrReserveWrite, len(req))
	if err != nil {
		return nil, err
	}
	copy(buf, req)
	nc.CommitWrite(len(req))

	for {
		res, err := nc.WriteData()
		if err != nil {
			return nil, err
		}
		if res == netio.WRPending {
			break // caller re-drives via OnWritable
		}
		break
	}
	nc.ResetRead(WSHdrReserveRead)
	c.state = ServerResp
	return c, nil
}

// FD exposes the underlying connection's file descriptor, for
// registration with the reactor's Poller.
func (c *Conn) FD() int { return c.conn.FD() }

// WritePending reports whether the socket write side still has bytes
// draining, or the outgoing frame queue holds more frames behind it.
func (c *Conn) WritePending() bool {
	return c.conn.WritePending() || c.pendingFrames.Length() > 0
}

// OnWritable drains any pending handshake bytes or queued frames.
func (c *Conn) OnWritable() error {
	res, err := c.conn.WriteData()
	if err != nil {
		return c.fail(err)
	}
	if res != netio.WRDone {
		return nil
	}
	return c.drainQueue()
}

func (c *Conn) drainQueue() error {
	for c.pendingFrames.Length() > 0 {
		encoded := c.pendingFrames.Peek().([]byte)
		buf, err := c.conn.GetWriteBuf(WSHdrReserveWrite, len(encoded))
		if err != nil {
			return err
		}
		copy(buf, encoded)
		c.conn.CommitWrite(len(encoded))
		res, err := c.conn.WriteData()
		if err != nil {
			return c.fail(err)
		}
		if res == netio.WRPending {
			return nil
		}
		c.pendingFrames.Remove()
		if c.onEvent != nil {
			c.onEvent(EvDataSent, nil)
		}
	}
	return nil
}

// OnReadable is called by the reactor when the connection's fd reports
// readable; it advances the handshake or frame state machine.
func (c *Conn) OnReadable() error {
	if _, err := c.conn.FillRead(); err != nil {
		return c.fail(err)
	}

	switch c.state {
	case ServerResp:
		return c.stepHandshake()
	case Connected, ClosingDrainC, ClosingDrainS, SendClose:
		return c.stepFrames()
	}
	return nil
}

func (c *Conn) stepHandshake() error {
	if !c.conn.ScanHeader() {
		return nil
	}
	hdr := c.conn.HeaderBytes()
	if err := ValidateUpgradeResponse(hdr); err != nil {
		return c.fail(err)
	}
	c.conn.ResetRead(WSHdrReserveRead)
	c.state = Connected
	if c.onEvent != nil {
		c.onEvent(EvConnected, nil)
	}
	return nil
}

func (c *Conn) stepFrames() error {
	for {
		avail := c.conn.BodyAvailable()
		frame, consumed, ok, err := DecodeFrame(avail)
		if err != nil {
			return c.fail(err)
		}
		if !ok {
			return c.compactIfNeeded()
		}
		c.conn.ConsumeBody(consumed)
		if err := c.handleFrame(frame); err != nil {
			return err
		}
	}
}

// compactIfNeeded slides the buffered-but-incomplete frame down to the
// reserved offset so more bytes can be read in; if that alone can't
// free enough room the connection is a protocol error (oversize frame).
func (c *Conn) compactIfNeeded() error {
	c.conn.CompactRead(WSHdrReserveRead)
	// A full window still holding no complete frame can never complete.
	if avail := c.conn.BodyAvailable(); len(avail) == cap(avail) {
		return c.fail(stationerr.New(stationerr.CodeProtoError, "incoming frame exceeds read buffer"))
	}
	return nil
}

func (c *Conn) handleFrame(f *Frame) error {
	switch f.Opcode {
	case OpText:
		if c.onEvent != nil {
			c.onEvent(EvTextRcvd, f.Payload)
		}
	case OpBinary:
		if c.onEvent != nil {
			c.onEvent(EvBinaryRcvd, f.Payload)
		}
	case OpPing:
		return c.sendFrame(OpPong, f.Payload)
	case OpPong:
		// ignored
	case OpClose:
		if c.state == ClosingDrainS || c.state == SendClose {
			c.state = EchoClose
			return c.shutdown()
		}
		c.state = EchoClose
		if err := c.sendFrame(OpClose, f.Payload); err != nil {
			return err
		}
		return c.shutdown()
	default:
		return c.fail(stationerr.New(stationerr.CodeProtoError, "unsupported opcode"))
	}
	return nil
}

// Send queues a TEXT or BINARY frame for transmission.
func (c *Conn) Send(opcode Opcode, payload []byte) error {
	if c.state != Connected {
		return stationerr.New(stationerr.CodeProtoError, "send while not connected")
	}
	return c.sendFrame(opcode, payload)
}

func (c *Conn) sendFrame(opcode Opcode, payload []byte) error {
	encoded := make([]byte, EncodedLen(len(payload)))
	encoded = EncodeFrame(encoded, opcode, payload)
	c.pendingFrames.Add(encoded)
	return c.drainQueue()
}

// Close drains any pending outgoing frames, then sends a CLOSE frame
// with reason and waits for the peer's echo or socket close.
func (c *Conn) Close(reason uint16) error {
	if c.state != Connected {
		return nil
	}
	c.closeReason = reason
	c.state = ClosingDrainC
	payload := make([]byte, 2)
	binary.BigEndian.PutUint16(payload, reason)
	c.state = SendClose
	return c.sendFrame(OpClose, payload)
}

// shutdown is the unconditional teardown path: it closes the underlying
// connection and emits EvClosed.
func (c *Conn) shutdown() error {
	c.state = Closed
	err := c.conn.Close(nil)
	if c.onEvent != nil {
		c.onEvent(EvClosed, nil)
	}
	return err
}

func (c *Conn) fail(err error) error {
	c.shutdown()
	return err
}

// State returns the current connection state, for tests and metrics.
func (c *Conn) State() State { return c.state }
