package wsproto

import "testing"

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	payload := []byte("hello station")
	dst := make([]byte, EncodedLen(len(payload)))
	encoded := EncodeFrame(dst, OpText, payload)

	// The peer sees our masked bytes; decode as if we were the server
	// side verifying mask/XOR by hand, since DecodeFrame itself refuses
	// masked input (the client only ever decodes unmasked server frames).
	if encoded[1]&0x80 == 0 {
		t.Fatalf("expected MASK bit set on client frame")
	}
	maskKey := encoded[2:6]
	gotPayload := make([]byte, len(payload))
	copy(gotPayload, encoded[6:])
	for i := range gotPayload {
		gotPayload[i] ^= maskKey[i%4]
	}
	if string(gotPayload) != string(payload) {
		t.Fatalf("round trip mismatch: got %q want %q", gotPayload, payload)
	}
}

func TestDecodeFrameRejectsMasked(t *testing.T) {
	buf := []byte{0x81, 0x80, 0, 0, 0, 0}
	_, _, _, err := DecodeFrame(buf)
	if err == nil {
		t.Fatalf("expected error decoding masked frame from server")
	}
}

func TestDecodeFrameRejectsFragment(t *testing.T) {
	buf := []byte{0x01, 0x03, 'a', 'b', 'c'}
	_, _, _, err := DecodeFrame(buf)
	if err == nil {
		t.Fatalf("expected error decoding fragmented frame")
	}
}

func TestDecodeFrameIncomplete(t *testing.T) {
	buf := []byte{0x81, 0x05, 'a', 'b'}
	frame, consumed, ok, err := DecodeFrame(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || frame != nil || consumed != 0 {
		t.Fatalf("expected incomplete-frame signal, got ok=%v frame=%v consumed=%d", ok, frame, consumed)
	}
}

func TestPingRespondsWithMaskedPong(t *testing.T) {
	// peer sends [0x89, 0x03, 'a','b','c'] — a PING with payload "abc"
	ping := []byte{0x89, 0x03, 'a', 'b', 'c'}
	frame, consumed, ok, err := DecodeFrame(ping)
	if err != nil || !ok {
		t.Fatalf("failed to decode ping: ok=%v err=%v", ok, err)
	}
	if consumed != len(ping) {
		t.Fatalf("expected to consume %d bytes, consumed %d", len(ping), consumed)
	}
	if frame.Opcode != OpPing || string(frame.Payload) != "abc" {
		t.Fatalf("unexpected ping frame: %+v", frame)
	}

	dst := make([]byte, EncodedLen(len(frame.Payload)))
	pong := EncodeFrame(dst, OpPong, frame.Payload)

	want := []byte{0x8A, 0x83, 0x01, 0x01, 0x01, 0x01}
	for i, b := range want {
		if pong[i] != b {
			t.Fatalf("pong header byte %d = %#x, want %#x", i, pong[i], b)
		}
	}
	maskKey := pong[2:6]
	got := make([]byte, 3)
	copy(got, pong[6:])
	for i := range got {
		got[i] ^= maskKey[i%4]
	}
	if string(got) != "abc" {
		t.Fatalf("unmasked pong payload = %q, want %q", got, "abc")
	}
}
