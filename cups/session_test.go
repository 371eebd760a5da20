package cups

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"encoding/asn1"
	"encoding/binary"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/lorafwd/stationd/internal/certstore"
)

func newTestDeps(t *testing.T) (Deps, *certstore.Store) {
	t.Helper()
	home := t.TempDir()
	store, err := certstore.New(home)
	if err != nil {
		t.Fatalf("certstore.New: %v", err)
	}
	verifier := NewVerifier(filepath.Join(t.TempDir(), "update.bin"), nil, nil)
	return Deps{Store: store, Verifier: verifier, Identity: Identity{RouterEUI: "deadbeefcafe0001"}}, store
}

func u2(n int) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, uint16(n))
	return b
}

func u4(n int) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, uint32(n))
	return b
}

// TestURIOnlyUpdate reproduces a response carrying only a CUPS URI and a
// TC URI, with every remaining segment length zero — the common
// "nothing changed but the endpoints" sync.
func TestURIOnlyUpdate(t *testing.T) {
	deps, store := newTestDeps(t)
	sess := &Session{deps: deps, state: HTTPReqPend, credSet: certstore.SetREG}
	sess.SetStatusCode(200)

	cupsURI := "https://cups.example.com:443"
	tcURI := "wss://tc.example.com:8887"
	var body []byte
	body = append(body, byte(len(cupsURI)))
	body = append(body, []byte(cupsURI)...)
	body = append(body, byte(len(tcURI)))
	body = append(body, []byte(tcURI)...)
	// CUPS_CRED, TC_CRED, SIGNATURE, UPDATE all zero length
	body = append(body, u2(0)...)
	body = append(body, u2(0)...)
	body = append(body, u4(0)...)
	body = append(body, u4(0)...)

	if err := sess.OnResponse(body); err != nil {
		t.Fatalf("OnResponse: %v", err)
	}
	if sess.State() != Done {
		t.Fatalf("expected DONE, got %v", sess.State())
	}
	if sess.Flags()&(FlagCupsURI|FlagTCURI) != FlagCupsURI|FlagTCURI {
		t.Fatalf("expected both URI flags set, got %v", sess.Flags())
	}
	if sess.Flags()&(FlagCupsCred|FlagTCCred|FlagSignature|FlagUpdate) != 0 {
		t.Fatalf("unexpected non-uri flags: %v", sess.Flags())
	}
	if got := store.Slot(certstore.CategoryCUPS, certstore.SetREG).URI; got != cupsURI {
		t.Fatalf("cups uri = %q, want %q", got, cupsURI)
	}
	if got := store.Slot(certstore.CategoryTC, certstore.SetREG).URI; got != tcURI {
		t.Fatalf("tc uri = %q, want %q", got, tcURI)
	}
}

// TestEmptyCupsResponse reproduces a response with no URIs and no other
// segments: every length is zero, the session still reaches DONE with
// no flags set.
func TestEmptyCupsResponse(t *testing.T) {
	deps, _ := newTestDeps(t)
	sess := &Session{deps: deps, state: HTTPReqPend, credSet: certstore.SetREG}
	sess.SetStatusCode(200)

	var body []byte
	body = append(body, 0, 0) // cupsuri_len=0, tcuri_len=0
	body = append(body, u2(0)...)
	body = append(body, u2(0)...)
	body = append(body, u4(0)...)
	body = append(body, u4(0)...)

	if err := sess.OnResponse(body); err != nil {
		t.Fatalf("OnResponse: %v", err)
	}
	if sess.State() != Done {
		t.Fatalf("expected DONE, got %v", sess.State())
	}
	if sess.Flags() != 0 {
		t.Fatalf("expected no flags, got %v", sess.Flags())
	}
}

// TestNon200IsRejected matches the credential-rotation trigger: a
// non-200 status transitions straight to ErrRejected.
func TestNon200IsRejected(t *testing.T) {
	deps, _ := newTestDeps(t)
	sess := &Session{deps: deps, state: HTTPReqPend, credSet: certstore.SetREG}
	sess.SetStatusCode(401)

	err := sess.OnResponse([]byte{0, 0})
	if err == nil {
		t.Fatalf("expected rejection error")
	}
	if sess.State() != ErrRejected {
		t.Fatalf("expected ERR_REJECTED, got %v", sess.State())
	}
}

// TestCredentialRotation reproduces failCnt/credset bookkeeping across
// repeated failed sessions without a real network connection.
func TestCredentialRotation(t *testing.T) {
	deps, store := newTestDeps(t)
	deps.Log = zap.NewNop()
	store.Slot(certstore.CategoryCUPS, certstore.SetREG).URI = "https://cups.example.com:443"
	eng := &Engine{
		deps:    deps,
		schedule: Schedule{},
		credSet: certstore.SetREG,
	}

	for i := 0; i <= failCntThreshold; i++ {
		eng.done(ErrFailed)
	}
	if eng.credSet != certstore.SetBAK {
		t.Fatalf("expected rotation to BAK after %d failures, got %v", failCntThreshold+1, eng.credSet)
	}

	eng.done(ErrRejected)
	if eng.credSet != certstore.SetBOOT {
		t.Fatalf("expected rotation to BOOT after ERR_REJECTED, got %v", eng.credSet)
	}

	eng.session = &Session{deps: deps, state: Done}
	eng.done(Done)
	if eng.credSet != certstore.SetREG || eng.failCnt != 0 {
		t.Fatalf("expected reset to REG/failCnt=0 on success, got set=%v failCnt=%d", eng.credSet, eng.failCnt)
	}
}

// TestSignedUpdateVerifies feeds a full CRED/SIG/UPDATE sequence with a
// real ECDSA/SHA-512 signature and checks the firmware file lands and
// passes verification.
func TestSignedUpdateVerifies(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	point := make([]byte, 64)
	priv.PublicKey.X.FillBytes(point[:32])
	priv.PublicKey.Y.FillBytes(point[32:])
	key, err := NewSigningKey(0xAABBCCDD, point)
	if err != nil {
		t.Fatalf("NewSigningKey: %v", err)
	}

	firmware := []byte("firmware-image-bytes-for-testing")
	digest := sha512.Sum512(firmware)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest[:])
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	sigBytes := marshalECDSA(t, r, s)

	home := t.TempDir()
	store, err := certstore.New(home)
	if err != nil {
		t.Fatalf("certstore.New: %v", err)
	}
	updatePath := filepath.Join(t.TempDir(), "update.bin")
	verifier := NewVerifier(updatePath, []SigningKey{key}, nil)
	deps := Deps{Store: store, Verifier: verifier, Identity: Identity{RouterEUI: "deadbeefcafe0001"}}
	sess := &Session{deps: deps, state: HTTPReqPend, credSet: certstore.SetREG}
	sess.SetStatusCode(200)

	var body []byte
	body = append(body, 0, 0)     // no URI updates
	body = append(body, u2(0)...) // no CUPS cred
	body = append(body, u2(0)...) // no TC cred
	sigSegment := append(u4LE(key.CRC), sigBytes...)
	body = append(body, u4(len(sigSegment))...)
	body = append(body, sigSegment...)
	body = append(body, u4(len(firmware))...)
	body = append(body, firmware...)

	if err := sess.OnResponse(body); err != nil {
		t.Fatalf("OnResponse: %v", err)
	}
	if sess.State() != Done {
		t.Fatalf("expected DONE, got %v", sess.State())
	}
	if sess.Flags()&FlagUpdate == 0 {
		t.Fatalf("expected update flag set")
	}
	got, err := os.ReadFile(updatePath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != string(firmware) {
		t.Fatalf("staged firmware mismatch")
	}
}

func u4LE(n uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, n)
	return b
}

func marshalECDSA(t *testing.T, r, s *big.Int) []byte {
	t.Helper()
	der, err := asn1.Marshal(struct{ R, S *big.Int }{r, s})
	if err != nil {
		t.Fatalf("asn1.Marshal: %v", err)
	}
	return der
}
