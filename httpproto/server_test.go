package httpproto

import "testing"

func TestParseRequestLinePathNormalization(t *testing.T) {
	req, err := ParseRequestLine("GET /a/./b/../c/%2E HTTP/1.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Path != "/a/c" {
		t.Fatalf("expected /a/c, got %q", req.Path)
	}
	if req.Suffix != "" {
		t.Fatalf("expected empty suffix, got %q", req.Suffix)
	}
	if req.ContentType != defaultContentType {
		t.Fatalf("expected default content type, got %q", req.ContentType)
	}
}

func TestParseRequestLineRoundTrip(t *testing.T) {
	cases := []string{"/", "/a/b/c", "/a/b.html"}
	for _, p := range cases {
		req, err := ParseRequestLine("GET " + p + " HTTP/1.1")
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", p, err)
		}
		if req.Path != p {
			t.Fatalf("round-trip failed: sent %q, parsed %q", p, req.Path)
		}
	}
}

func TestParseRequestLineSuffixContentType(t *testing.T) {
	req, err := ParseRequestLine("GET /index.html HTTP/1.1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.Suffix != "html" || req.ContentType != "text/html" {
		t.Fatalf("expected html/text-html, got %q/%q", req.Suffix, req.ContentType)
	}
}

func TestParseRequestLineMethodClassification(t *testing.T) {
	for _, m := range []string{"GET", "POST", "PUT", "DELETE"} {
		req, err := ParseRequestLine(m + " / HTTP/1.1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		want := m
		if m != "GET" && m != "POST" {
			want = "OTHER"
		}
		if req.Method != want {
			t.Fatalf("method %q classified as %q, want %q", m, req.Method, want)
		}
	}
}
