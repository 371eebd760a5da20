package cups

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha512"
	"encoding/asn1"
	"fmt"
	"io"
	"math/big"
	"os"

	"go.uber.org/zap"

	"github.com/lorafwd/stationd/internal/stationerr"
)

// maxSignatureBytes is the raw-signature length cap: a segment carries a
// 4-byte key-CRC tag followed by up to 128 bytes of signature, so the
// whole segment is bounded at [8, 132] bytes.
const maxSignatureBytes = 128

// SigningKey is a trusted SECP256R1 public key, keyed by the CRC-32 the
// CUPS request body reports in its "keys" array so the server can pick
// which signature to send without the station naming keys by index.
type SigningKey struct {
	CRC   uint32
	Curve *ecdsa.PublicKey
}

// Verifier streams a staged firmware update to disk, hashing it with
// SHA-512 as bytes arrive, and validates the trailing ECDSA signature
// segment (if any) against a configured set of trusted keys before the
// update is allowed to run.
type Verifier struct {
	tempPath string
	keys     []SigningKey
	log      *zap.Logger

	f  *os.File
	hw interface {
		io.Writer
		Sum([]byte) []byte
	}
}

// NewVerifier creates a Verifier that writes firmware directly to
// tempPath, used as given.
func NewVerifier(tempPath string, keys []SigningKey, log *zap.Logger) *Verifier {
	return &Verifier{tempPath: tempPath, keys: keys, log: log}
}

// TrustedKeyCRCs returns the CRCs advertised in the update-info request
// body's "keys" array.
func (v *Verifier) TrustedKeyCRCs() []uint32 {
	out := make([]uint32, len(v.keys))
	for i, k := range v.keys {
		out[i] = k.CRC
	}
	return out
}

func (v *Verifier) updateStart(length int) error {
	f, err := os.OpenFile(v.tempPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o700)
	if err != nil {
		return err
	}
	v.f = f
	h := sha512.New()
	v.hw = h
	return nil
}

func (v *Verifier) writeUpdate(off int, data []byte) error {
	if v.f == nil {
		if err := v.updateStart(off + len(data)); err != nil {
			return err
		}
	}
	if _, err := v.f.WriteAt(data, int64(off)); err != nil {
		return err
	}
	if v.hw != nil {
		v.hw.Write(data)
	}
	return nil
}

// commit finalizes the staged firmware file. If sig carries a collected
// ECDSA signature it is verified against the trusted key whose CRC
// matches; an unverifiable signature aborts the update rather than
// running unsigned code. No signature segment at all is only accepted
// when no trusted keys are configured (an unkeyed station).
func (v *Verifier) commit(length int, sig *sigAssembly) error {
	if v.f != nil {
		if err := v.f.Close(); err != nil {
			return err
		}
	}
	if sig == nil {
		if len(v.keys) > 0 {
			return stationerr.New(stationerr.CodeSigVerifyFailed, "keys configured but no signature segment provided")
		}
		return nil
	}
	digest := v.hw.Sum(nil)
	verified, keyid := v.verifySignature(digest, sig)
	if v.log != nil {
		v.log.Info("ecdsa signature check", zap.Int("key_id", keyid), zap.Bool("verified", verified))
	}
	if !verified {
		return stationerr.New(stationerr.CodeSigVerifyFailed, "no trusted key verified firmware signature")
	}
	return nil
}

// verifySignature tries, in order, each trusted key whose CRC matches
// the signature segment's key-CRC tag (keys with another CRC are
// skipped); the first key that validates wins. It returns the index of
// that key, or -1.
func (v *Verifier) verifySignature(digest []byte, sig *sigAssembly) (bool, int) {
	r, s, err := parseECDSASignature(sig.signature)
	if err != nil {
		return false, -1
	}
	for i, k := range v.keys {
		if k.CRC != sig.keyCRCValue() {
			continue
		}
		if ecdsa.Verify(k.Curve, digest, r, s) {
			return true, i
		}
	}
	return false, -1
}

// parseECDSASignature accepts either the raw fixed-width r||s encoding
// mbedtls can emit or a standard ASN.1 DER SEQUENCE{r,s}, preferring DER
// since that's what crypto/ecdsa.Verify expects callers to have parsed.
func parseECDSASignature(raw []byte) (*big.Int, *big.Int, error) {
	var parsed struct{ R, S *big.Int }
	if _, err := asn1.Unmarshal(raw, &parsed); err == nil {
		return parsed.R, parsed.S, nil
	}
	if len(raw)%2 != 0 {
		return nil, nil, fmt.Errorf("odd-length raw signature")
	}
	half := len(raw) / 2
	r := new(big.Int).SetBytes(raw[:half])
	s := new(big.Int).SetBytes(raw[half:])
	return r, s, nil
}

// NewSigningKey builds a SigningKey from a 64-byte uncompressed
// SECP256R1 point (32-byte X followed by 32-byte Y), matching the
// on-disk key format.
func NewSigningKey(crc uint32, point []byte) (SigningKey, error) {
	if len(point) != 64 {
		return SigningKey{}, stationerr.New(stationerr.CodeInvalidArgument, "signing key must be a 64-byte uncompressed point")
	}
	curve := elliptic.P256()
	x := new(big.Int).SetBytes(point[:32])
	y := new(big.Int).SetBytes(point[32:])
	if !curve.IsOnCurve(x, y) {
		return SigningKey{}, stationerr.New(stationerr.CodeInvalidArgument, "signing key point is not on SECP256R1")
	}
	return SigningKey{CRC: crc, Curve: &ecdsa.PublicKey{Curve: curve, X: x, Y: y}}, nil
}
