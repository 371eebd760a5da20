package netio

import "testing"

func TestParseHostPort(t *testing.T) {
	u, err := Parse("wss://gateway.example.com:8887/router-info", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Scheme != "wss" || u.Host != "gateway.example.com" || u.Port != "8887" || u.Path != "/router-info" {
		t.Fatalf("unexpected parse result: %+v", u)
	}
}

func TestParseIPv6Literal(t *testing.T) {
	u, err := Parse("tls://[::1]:443", false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if u.Host != "::1" || u.Port != "443" {
		t.Fatalf("unexpected parse result: %+v", u)
	}
}

func TestCheckHostPortURI(t *testing.T) {
	scheme, u, err := CheckHostPortURI("https://cups.example.com:443")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scheme != URITLS {
		t.Fatalf("expected URITLS, got %v", scheme)
	}
	if u.Host != "cups.example.com" {
		t.Fatalf("unexpected host: %q", u.Host)
	}
}

func TestCheckHostPortURIRejectsPath(t *testing.T) {
	if _, _, err := CheckHostPortURI("http://host:80/path"); err == nil {
		t.Fatalf("expected error for uri with path")
	}
}

func TestCheckHostPortURIRequiresPort(t *testing.T) {
	if _, _, err := CheckHostPortURI("http://host"); err == nil {
		t.Fatalf("expected error for missing port")
	}
}

func TestCheckHostPortURITCPScheme(t *testing.T) {
	scheme, _, err := CheckHostPortURI("http://host:80")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if scheme != URITCP {
		t.Fatalf("expected URITCP, got %v", scheme)
	}
}
