package wsproto

import "testing"

func TestBuildUpgradeRequestShape(t *testing.T) {
	req := string(BuildUpgradeRequest("tc.example.com", "8887", "/router-info", []string{"Authorization: Bearer tok"}))
	for _, want := range []string{
		"GET /router-info HTTP/1.1\r\n",
		"Host: tc.example.com:8887\r\n",
		"Upgrade: websocket\r\n",
		"Connection: upgrade\r\n",
		"Sec-WebSocket-Version: 13\r\n",
		"Authorization: Bearer tok\r\n",
	} {
		if !contains(req, want) {
			t.Fatalf("expected request to contain %q, got:\n%s", want, req)
		}
	}
}

func TestValidateUpgradeResponseAccepts101(t *testing.T) {
	resp := "HTTP/1.1 101 Switching Protocols\r\nSec-WebSocket-Accept: " + ExpectedAccept() + "\r\n\r\n"
	if err := ValidateUpgradeResponse([]byte(resp)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateUpgradeResponseRejectsNon101(t *testing.T) {
	resp := "HTTP/1.1 400 Bad Request\r\n\r\n"
	if err := ValidateUpgradeResponse([]byte(resp)); err == nil {
		t.Fatalf("expected error for non-101 status")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
