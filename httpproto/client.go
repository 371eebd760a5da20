// Package httpproto is the shared half-duplex HTTP/1.1 engine used by
// both the CUPS client and the embedded web server: request-pipelined
// reads, streaming body reads for large responses, and path
// normalization. Both client and server state machines are explicit
// state enums matched in a single step function, per the design note
// against function-pointer dispatch.
package httpproto

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"strconv"
	"strings"

	"github.com/lorafwd/stationd/internal/stationerr"
	"github.com/lorafwd/stationd/netio"
)

// ClientState is the HTTP client state machine of the component design.
type ClientState int

const (
	ClientClosed ClientState = iota
	ClientConnected
	ClientSendingReq
	ClientReadingHdr
	ClientReadingBody
)

// ClientEvent is fired to the owner (CUPS, TC handshake, …) as the
// state machine advances.
type ClientEvent int

const (
	EvConnected ClientEvent = iota
	EvResponse
	EvResponseMore
	EvClosed
)

// EventCallback is invoked synchronously from within the reactor tick
// that produced the event. data carries the newly-available response
// bytes for EvResponse/EvResponseMore; it is nil for every other event
// and is only valid for the duration of the callback.
type EventCallback func(ev ClientEvent, data []byte)

// Client drives one HTTP/1.1 request/response cycle at a time over a
// *netio.Conn; CLOSED -> CONNECTED -> SENDING_REQ -> READING_HDR ->
// READING_BODY -> CONNECTED (reusable) or back to CLOSED.
type Client struct {
	conn  *netio.Conn
	state ClientState
	onEvent EventCallback

	clen int64 // declared Content-Length (0 when absent); -1 until a header is parsed
	coff int64 // bytes of body consumed so far
	StatusCode int

	readResv  int
	writeResv int
}

// NewClient wraps an already-connected netio.Conn.
func NewClient(conn *netio.Conn, onEvent EventCallback) *Client {
	c := &Client{conn: conn, state: ClientConnected, onEvent: onEvent, clen: -1}
	c.conn.ResetRead(c.readResv)
	if onEvent != nil {
		onEvent(EvConnected, nil)
	}
	return c
}

// Dial connects and wraps the resulting Client in one step.
func Dial(ctx context.Context, host, port string, tlsConfig *tls.Config, rbufSize, wbufSize int, onEvent EventCallback) (*Client, error) {
	conn, err := netio.Dial(ctx, host, port, tlsConfig, rbufSize, wbufSize)
	if err != nil {
		return nil, err
	}
	return NewClient(conn, onEvent), nil
}

// GetReqBuf returns a write-buffer slice the caller fills with a
// complete HTTP request ending at the returned slice's logical end;
// call Request afterward with the number of bytes written.
func (c *Client) GetReqBuf(minsize int) ([]byte, error) {
	if c.state != ClientConnected {
		return nil, stationerr.ErrAlreadyInFlight
	}
	return c.conn.GetWriteBuf(c.writeResv, minsize)
}

// Request transitions to SENDING_REQ for the n bytes just written via
// GetReqBuf, then drains the write and enters READING_HDR.
func (c *Client) Request(n int) error {
	if c.state != ClientConnected {
		return stationerr.ErrAlreadyInFlight
	}
	c.conn.CommitWrite(n)
	c.state = ClientSendingReq

	for {
		res, err := c.conn.WriteData()
		if err != nil {
			return c.fail(err)
		}
		if res == netio.WRPending {
			return nil // caller re-drives on writable; state stays SENDING_REQ
		}
		break
	}

	c.conn.ResetRead(c.readResv)
	c.clen, c.coff, c.StatusCode = -1, 0, 0
	c.state = ClientReadingHdr
	return nil
}

// FD exposes the underlying connection's file descriptor, for
// registration with the reactor's Poller.
func (c *Client) FD() int { return c.conn.FD() }

// WritePending reports whether a previously-started write is still
// draining, so the caller knows whether to keep a writable registration.
func (c *Client) WritePending() bool { return c.conn.WritePending() }

// OnWritable resumes a write left in SENDING_REQ after WRPending; once
// the request finishes draining it resets the read windows and enters
// READING_HDR, exactly as Request does inline when the first write
// completes without blocking.
func (c *Client) OnWritable() error {
	if c.state != ClientSendingReq {
		return nil
	}
	res, err := c.conn.WriteData()
	if err != nil {
		return c.fail(err)
	}
	if res == netio.WRPending {
		return nil
	}
	c.conn.ResetRead(c.readResv)
	c.clen, c.coff, c.StatusCode = -1, 0, 0
	c.state = ClientReadingHdr
	return nil
}

// OnReadable is called by the reactor when the connection's fd reports
// readable; it fills the buffer and advances the state machine.
func (c *Client) OnReadable() error {
	if _, err := c.conn.FillRead(); err != nil {
		return c.fail(err)
	}

	switch c.state {
	case ClientReadingHdr:
		return c.stepHeader()
	case ClientReadingBody:
		return c.stepBody()
	}
	return nil
}

func (c *Client) stepHeader() error {
	if !c.conn.ScanHeader() {
		return nil // want more bytes
	}
	hdr := c.conn.HeaderBytes()

	status, err := parseStatusLine(hdr)
	if err != nil {
		return c.fail(stationerr.Wrap(stationerr.CodeProtoError, "malformed status line", err))
	}
	c.StatusCode = status

	clen, ok := findContentLength(hdr)
	if ok {
		c.clen = clen
	} else {
		c.clen = 0
	}
	c.coff = 0
	c.conn.ConsumeBody(len(hdr)) // rbeg = rend: the body starts right after the header

	c.state = ClientReadingBody
	return c.stepBody()
}

func (c *Client) stepBody() error {
	avail := c.conn.BodyAvailable()
	remaining := c.clen - c.coff
	take := int64(len(avail))
	if remaining >= 0 && take > remaining {
		take = remaining
	}
	if take > 0 {
		chunk := avail[:take]
		c.coff += take
		c.conn.ConsumeBody(int(take))
		if c.onEvent != nil {
			c.onEvent(EvResponse, chunk)
		}
	}
	if c.clen >= 0 && c.coff >= c.clen {
		c.state = ClientConnected
		c.conn.ResetRead(c.readResv)
	}
	return nil
}

// GetMore requests the next body chunk once the caller has consumed the
// previous one, compacting the read window for more buffer space.
func (c *Client) GetMore() error {
	if c.state != ClientReadingBody {
		return stationerr.New(stationerr.CodeProtoError, "getMore outside READING_BODY")
	}
	c.conn.CompactRead(c.readResv)
	if c.onEvent != nil {
		c.onEvent(EvResponseMore, nil)
	}
	return nil
}

// Close releases the connection and, if an event callback is installed,
// fires EvClosed synchronously before returning; the event is not
// deferred to a later reactor tick (Client has no reactor reference).
func (c *Client) Close() error {
	err := c.conn.Close(nil)
	c.state = ClientClosed
	if c.onEvent != nil {
		c.onEvent(EvClosed, nil)
	}
	return err
}

func (c *Client) fail(err error) error {
	c.Close()
	return err
}

// SetContentLength overwrites an embedded "Content-Length: 00000\r\n"
// run of zeros with the decimal value n, left-padding with spaces if n
// has fewer digits than the reserved run. Fails if the run is too short
// for n's decimal width.
func SetContentLength(buf []byte, n int) error {
	const key = "Content-Length: "
	idx := bytes.Index(buf, []byte(key))
	if idx < 0 {
		return stationerr.New(stationerr.CodeInvalidArgument, "Content-Length header not found")
	}
	start := idx + len(key)
	end := start
	for end < len(buf) && buf[end] == '0' {
		end++
	}
	width := end - start
	digits := strconv.Itoa(n)
	if len(digits) > width {
		return stationerr.New(stationerr.CodeInvalidArgument, "reserved Content-Length run too short").
			WithContext("need", len(digits)).WithContext("have", width)
	}
	pad := width - len(digits)
	for i := 0; i < pad; i++ {
		buf[start+i] = ' '
	}
	copy(buf[start+pad:end], digits)
	return nil
}

// findContentLength case-insensitively scans header bytes for
// "content-length:" and parses the decimal value that follows.
func findContentLength(hdr []byte) (int64, bool) {
	lower := bytes.ToLower(hdr)
	idx := bytes.Index(lower, []byte("content-length:"))
	if idx < 0 {
		return 0, false
	}
	rest := hdr[idx+len("content-length:"):]
	rest = bytes.TrimLeft(rest, " \t")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(string(rest[:end]), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func parseStatusLine(hdr []byte) (int, error) {
	line := hdr
	if idx := bytes.IndexByte(hdr, '\n'); idx >= 0 {
		line = hdr[:idx]
	}
	parts := strings.SplitN(strings.TrimRight(string(line), "\r\n"), " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/") {
		return 0, fmt.Errorf("not an HTTP status line: %q", line)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("bad status code: %w", err)
	}
	return code, nil
}
