package wsproto

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"

	"github.com/lorafwd/stationd/internal/stationerr"
)

// fixedSecWebSocketKey is deliberately constant rather than randomly
// generated per connection: the station always dials the same backend
// with the same identity, and a fixed key simplifies interop testing
// against a known Sec-WebSocket-Accept value.
const fixedSecWebSocketKeyRaw = "stationwsfixedky" // 16 bytes

var fixedSecWebSocketKey = base64.StdEncoding.EncodeToString([]byte(fixedSecWebSocketKeyRaw))

const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// BuildUpgradeRequest renders the fixed Upgrade request for path on
// host:port, with optional trailing auth-token header lines appended
// verbatim before the final blank line.
func BuildUpgradeRequest(host, port, path string, authHeaders []string) []byte {
	var b strings.Builder
	b.WriteString("GET ")
	b.WriteString(path)
	b.WriteString(" HTTP/1.1\r\n")
	b.WriteString("Host: ")
	b.WriteString(host)
	b.WriteString(":")
	b.WriteString(port)
	b.WriteString("\r\n")
	b.WriteString("Upgrade: websocket\r\n")
	b.WriteString("Connection: upgrade\r\n")
	b.WriteString("Sec-WebSocket-Key: ")
	b.WriteString(fixedSecWebSocketKey)
	b.WriteString("\r\n")
	b.WriteString("Sec-WebSocket-Version: 13\r\n")
	for _, h := range authHeaders {
		b.WriteString(h)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}

// ExpectedAccept computes the Sec-WebSocket-Accept value the server
// must echo back for the fixed key.
func ExpectedAccept() string {
	return computeAccept(fixedSecWebSocketKey)
}

func computeAccept(key string) string {
	h := sha1.New()
	h.Write([]byte(key))
	h.Write([]byte(websocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// ValidateUpgradeResponse checks the status line and the
// Sec-WebSocket-Accept header of a raw HTTP response against the fixed
// key. Any status other than 101 fails the handshake.
func ValidateUpgradeResponse(raw []byte) error {
	text := string(raw)
	lines := strings.Split(text, "\r\n")
	if len(lines) == 0 {
		return stationerr.New(stationerr.CodeProtoError, "empty handshake response")
	}
	if !strings.Contains(lines[0], "101") {
		return stationerr.New(stationerr.CodeProtoError, "handshake rejected").WithContext("status_line", lines[0])
	}

	want := ExpectedAccept()
	for _, line := range lines[1:] {
		if idx := strings.Index(line, ":"); idx > 0 {
			name := strings.TrimSpace(line[:idx])
			if strings.EqualFold(name, "Sec-WebSocket-Accept") {
				got := strings.TrimSpace(line[idx+1:])
				if got != want {
					return stationerr.New(stationerr.CodeProtoError, "Sec-WebSocket-Accept mismatch").
						WithContext("want", want).WithContext("got", got)
				}
				return nil
			}
		}
	}
	return stationerr.New(stationerr.CodeProtoError, "missing Sec-WebSocket-Accept header")
}
