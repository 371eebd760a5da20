package netio

import (
	"net"
	"testing"
)

func newPipeConn(t *testing.T) (*Conn, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	return NewConn(client, 256, 256), server
}

func assertInvariants(t *testing.T, c *Conn) {
	t.Helper()
	rbeg, rend, rpos, wpos, wend, wfill := c.Windows()
	if !(0 <= rbeg && rbeg <= rend && rend <= rpos && rpos <= len(c.rbuf)) {
		t.Fatalf("read window invariant violated: rbeg=%d rend=%d rpos=%d rbufsize=%d", rbeg, rend, rpos, len(c.rbuf))
	}
	if !(0 <= wpos && wpos <= wend && wend <= wfill && wfill <= len(c.wbuf)) {
		t.Fatalf("write window invariant violated: wpos=%d wend=%d wfill=%d wbufsize=%d", wpos, wend, wfill, len(c.wbuf))
	}
}

func TestConnInvariantsAfterFillAndWrite(t *testing.T) {
	c, server := newPipeConn(t)
	defer server.Close()

	go server.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))

	if _, err := c.FillRead(); err != nil {
		t.Fatalf("FillRead failed: %v", err)
	}
	assertInvariants(t, c)

	buf, err := c.GetWriteBuf(0, 16)
	if err != nil {
		t.Fatalf("GetWriteBuf failed: %v", err)
	}
	copy(buf, []byte("PING............"))
	c.CommitWrite(16)
	assertInvariants(t, c)

	go func() {
		tmp := make([]byte, 16)
		server.Read(tmp)
	}()
	if _, err := c.WriteData(); err != nil {
		t.Fatalf("WriteData failed: %v", err)
	}
	assertInvariants(t, c)
}

func TestConnScanHeaderAndCompact(t *testing.T) {
	c, server := newPipeConn(t)
	defer server.Close()

	go server.Write([]byte("GET / HTTP/1.1\r\n\r\nBODY"))
	if _, err := c.FillRead(); err != nil {
		t.Fatalf("FillRead failed: %v", err)
	}
	if !c.ScanHeader() {
		t.Fatalf("expected header to be found")
	}
	assertInvariants(t, c)

	c.CompactRead(0)
	assertInvariants(t, c)
}
