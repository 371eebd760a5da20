package httpproto

import "testing"

func TestSetContentLengthRoundTrip(t *testing.T) {
	buf := []byte("POST /update-info HTTP/1.1\r\nContent-Length: 00000\r\n\r\n")
	if err := SetContentLength(buf, 42); err != nil {
		t.Fatalf("SetContentLength failed: %v", err)
	}
	got, ok := findContentLength(buf)
	if !ok {
		t.Fatalf("findContentLength did not find a length")
	}
	if got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
}

func TestSetContentLengthTooNarrow(t *testing.T) {
	buf := []byte("Content-Length: 0\r\n\r\n")
	if err := SetContentLength(buf, 12345); err == nil {
		t.Fatalf("expected error for too-narrow zero run")
	}
}

func TestFindContentLengthAbsent(t *testing.T) {
	buf := []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")
	if _, ok := findContentLength(buf); ok {
		t.Fatalf("expected no content-length to be found")
	}
}

func TestParseStatusLine(t *testing.T) {
	code, err := parseStatusLine([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}
