package netio

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
)

// Dial opens a nonblocking TCP connection to host:port, wrapping it in
// TLS when tlsConfig is non-nil. The reactor still drives readiness via
// the fd extracted from the returned net.Conn (see FD in fd.go);
// Go's runtime network poller underlies this instead of a hand-rolled
// WANT_READ/WANT_WRITE TLS callback, which is the idiomatic Go
// equivalent of the original's mbedtls nonblocking I/O adapter.
func Dial(ctx context.Context, host, port string, tlsConfig *tls.Config, rbufSize, wbufSize int) (*Conn, error) {
	addr := net.JoinHostPort(host, port)
	d := net.Dialer{KeepAlive: 30 * 1e9}
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c := NewConn(raw, rbufSize, wbufSize)
	c.Host, c.Port = host, port

	if tlsConfig != nil {
		tc := tls.Client(raw, tlsConfig)
		if err := tc.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
		}
		c.UseTLS(tc)
	}

	reservePrefix := []byte(host + ":" + port + "\x00")
	copy(c.wbuf, reservePrefix)
	c.wfill = len(reservePrefix)
	c.wpos, c.wend = c.wfill, c.wfill

	return c, nil
}
