// Package cups is the CUPS (Configuration and Update Server) protocol
// engine: one POST /update-info request per sync, a length-prefixed
// binary response carrying optional URI, credential, signature, and
// firmware-update segments, and the credential-rotation bookkeeping
// that drives which generation is tried next on failure.
package cups

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lorafwd/stationd/httpproto"
	"github.com/lorafwd/stationd/internal/certstore"
	"github.com/lorafwd/stationd/internal/stationerr"
)

// State is the CUPS engine's cstate of the component design.
type State int

const (
	Ini State = iota
	HTTPReqPend
	FeedCupsURI
	FeedTCURI
	FeedCupsCred
	FeedTCCred
	FeedSignature
	FeedUpdate
	Done

	ErrFailed State = -(iota + 100)
	ErrNoURI
	ErrTimeout
	ErrRejected
	ErrClosed
	ErrDead
)

func (s State) String() string {
	switch s {
	case Ini:
		return "INI"
	case HTTPReqPend:
		return "HTTP_REQ_PEND"
	case FeedCupsURI:
		return "FEED_CUPS_URI"
	case FeedTCURI:
		return "FEED_TC_URI"
	case FeedCupsCred:
		return "FEED_CUPS_CRED"
	case FeedTCCred:
		return "FEED_TC_CRED"
	case FeedSignature:
		return "FEED_SIGNATURE"
	case FeedUpdate:
		return "FEED_UPDATE"
	case Done:
		return "DONE"
	case ErrFailed:
		return "ERR_FAILED"
	case ErrNoURI:
		return "ERR_NOURI"
	case ErrTimeout:
		return "ERR_TIMEOUT"
	case ErrRejected:
		return "ERR_REJECTED"
	case ErrClosed:
		return "ERR_CLOSED"
	case ErrDead:
		return "ERR_DEAD"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// UpdateFlag records which optional segments a response carried, mirroring
// the uflags bitmask of the component design.
type UpdateFlag uint8

const (
	FlagCupsURI UpdateFlag = 1 << iota
	FlagTCURI
	FlagCupsCred
	FlagTCCred
	FlagSignature
	FlagUpdate
)

const (
	sigCRCLen       = 4
	failCntThreshold = 6
)

// sizelen returns the segment length-prefix width for a feed state: 2
// bytes for credentials, 4 for signature and firmware update. The URI
// segments are never looked up here — their lengths are read together
// out of the initial response header window as a special case, before
// the generic length-assembly loop below ever starts.
func sizelen(s State) int {
	switch s {
	case FeedCupsCred, FeedTCCred:
		return 2
	case FeedSignature, FeedUpdate:
		return 4
	default:
		panic(fmt.Sprintf("sizelen: unexpected state %v", s))
	}
}

// Deps bundles the collaborators a Session needs; Identity supplies the
// fields the update-info request body reports about this station.
type Deps struct {
	Store    *certstore.Store
	Identity Identity
	Verifier *Verifier
	Log      *zap.Logger
}

// Identity is the station-describing fields sent in every update-info
// request body.
type Identity struct {
	RouterEUI  string
	Version    string
	Model      string
	Package    string
	SigKeyCRCs []uint32
}

// Session drives a single CUPS request/response cycle over an
// httpproto.Client.
type Session struct {
	deps    Deps
	client  *httpproto.Client
	credSet certstore.Set

	// statusCode is the HTTP status of the response, copied in by the
	// engine from the owning httpproto.Client before the first
	// OnResponse call — kept separate so Session's protocol logic
	// doesn't need a live *httpproto.Client to be unit-tested.
	statusCode int

	state  State
	uflags UpdateFlag

	reqID string // correlates log lines across a session's lifetime

	// generic length-assembly state, used from FeedCupsCred onward
	lenBuf  [4]byte
	lenN    int
	segOff  int
	segLen  int

	sig *sigAssembly
}

type sigAssembly struct {
	keyCRC    [sigCRCLen]byte
	signature []byte
	collected int
}

// NewSession begins a CUPS session over client, trying credential
// generation credSet.
func NewSession(client *httpproto.Client, credSet certstore.Set, deps Deps) *Session {
	return &Session{
		deps:    deps,
		client:  client,
		credSet: credSet,
		state:   Ini,
		reqID:   uuid.NewString(),
	}
}

// State returns the current cstate, for schedulers and tests.
func (s *Session) State() State { return s.state }

// Flags returns which optional segments were carried by the response.
func (s *Session) Flags() UpdateFlag { return s.uflags }

// ReqID is the session-scoped correlation id attached to every log line.
func (s *Session) ReqID() string { return s.reqID }

// SetStatusCode records the HTTP response status before the first
// OnResponse call.
func (s *Session) SetStatusCode(code int) { s.statusCode = code }

// Start sends the update-info request on the session's connected client;
// the engine calls it as soon as Dial has returned.
func (s *Session) Start() error {
	body := buildUpdateInfoBody(s.deps.Identity, s.deps.Store)
	req, err := buildUpdateInfoRequest(s.client, body)
	if err != nil {
		return err
	}
	if err := s.client.Request(len(req)); err != nil {
		return err
	}
	s.state = HTTPReqPend
	if s.deps.Log != nil {
		s.deps.Log.Debug("cups request sent", zap.String("req_id", s.reqID), zap.Int("body_len", len(body)))
	}
	return nil
}

// OnResponse is invoked on every EvResponse from the underlying
// httpproto.Client; it consumes as much of the currently-buffered body
// as is available and advances cstate, returning when a segment's
// remainder isn't here yet (the engine then calls the client's GetMore).
func (s *Session) OnResponse(body []byte) error {
	if s.state == HTTPReqPend {
		if s.statusCode != 200 {
			s.state = ErrRejected
			return stationerr.New(stationerr.CodeCupsRejected, "cups request rejected").
				WithContext("status", s.statusCode)
		}
		if s.credSet == certstore.SetREG {
			if err := s.deps.Store.BackupConfig(certstore.CategoryCUPS); err != nil {
				return err
			}
		}
		consumed, err := s.consumeURISegments(body)
		if err != nil {
			return err
		}
		body = body[consumed:]
		s.state = FeedCupsCred
	}
	return s.consumeFeed(body)
}

// consumeURISegments implements the header-window special case: both
// URI lengths and both URI strings must already be present in the first
// chunk, assembled directly rather than through the generic
// length-then-payload loop used for every later segment.
func (s *Session) consumeURISegments(body []byte) (int, error) {
	if len(body) < 2 {
		return 0, protoErr(s, "response too short for URI segment header")
	}
	cupsLen := int(body[0])
	if 1+cupsLen >= len(body) {
		return 0, protoErr(s, "CUPS URI length exceeds available data")
	}
	tcLen := int(body[1+cupsLen])
	pos := 2 + cupsLen + tcLen
	if pos > len(body) {
		return 0, protoErr(s, "TC URI length exceeds available data")
	}

	if err := s.deps.Store.ResetConfigUpdate(); err != nil {
		return 0, err
	}
	if cupsLen > 0 {
		uri := string(body[1 : 1+cupsLen])
		s.deps.Store.SaveURI(certstore.CategoryCUPS, uri)
		s.uflags |= FlagCupsURI
		if s.deps.Log != nil {
			s.deps.Log.Info("cups uri segment", zap.String("req_id", s.reqID), zap.String("uri", uri))
		}
	}
	if tcLen > 0 {
		uri := string(body[2+cupsLen : 2+cupsLen+tcLen])
		s.deps.Store.SaveURI(certstore.CategoryTC, uri)
		s.uflags |= FlagTCURI
		if s.deps.Log != nil {
			s.deps.Log.Info("tc uri segment", zap.String("req_id", s.reqID), zap.String("uri", uri))
		}
	}
	return pos, nil
}

// consumeFeed runs the generic length-prefix-then-payload loop shared by
// the credential, signature, and firmware-update segments.
func (s *Session) consumeFeed(body []byte) error {
	for s.state != Done && s.state > 0 {
		if len(body) == 0 && !(s.lenN == sizelen(s.state) && s.segOff >= s.segLen) {
			return nil // want more bytes
		}
		if s.lenN < sizelen(s.state) {
			want := sizelen(s.state) - s.lenN
			if want > len(body) {
				want = len(body)
			}
			copy(s.lenBuf[s.lenN:], body[:want])
			s.lenN += want
			body = body[want:]
			if s.lenN < sizelen(s.state) {
				return nil // wait for more
			}
			segLen, err := decodeLen(s.lenBuf[:s.lenN])
			if err != nil {
				return protoErr(s, err.Error())
			}
			if segLen == 0 {
				if err := s.advanceState(); err != nil {
					return err
				}
				continue
			}
			s.segLen = segLen
			s.segOff = 0
			if err := s.beginSegment(); err != nil {
				return err
			}
			continue
		}

		if s.segOff >= s.segLen {
			if err := s.finishSegment(); err != nil {
				return err
			}
			if err := s.advanceState(); err != nil {
				return err
			}
			continue
		}

		take := s.segLen - s.segOff
		if take > len(body) {
			take = len(body)
		}
		if take == 0 {
			return nil
		}
		if err := s.writeSegment(body[:take]); err != nil {
			return err
		}
		s.segOff += take
		body = body[take:]
	}
	return nil
}

func (s *Session) beginSegment() error {
	switch s.state {
	case FeedCupsCred:
		s.uflags |= FlagCupsCred
		return s.deps.Store.CredStart(certstore.CategoryCUPS, s.segLen)
	case FeedTCCred:
		s.uflags |= FlagTCCred
		return s.deps.Store.CredStart(certstore.CategoryTC, s.segLen)
	case FeedSignature:
		if s.segLen < 8 || s.segLen > sigCRCLen+maxSignatureBytes {
			return protoErr(s, "illegal signature segment length")
		}
		s.sig = &sigAssembly{signature: make([]byte, 0, s.segLen-sigCRCLen)}
	case FeedUpdate:
		if err := s.deps.Store.CommitConfigUpdate(certstore.CategoryCUPS); err != nil {
			return err
		}
		if err := s.deps.Store.CommitConfigUpdate(certstore.CategoryTC); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) writeSegment(data []byte) error {
	switch s.state {
	case FeedCupsCred:
		return s.deps.Store.CredWrite(certstore.CategoryCUPS, data, s.segOff, len(data))
	case FeedTCCred:
		return s.deps.Store.CredWrite(certstore.CategoryTC, data, s.segOff, len(data))
	case FeedSignature:
		return s.sig.write(s.segOff, data)
	case FeedUpdate:
		if s.sig != nil {
			s.sig.hashUpdate(data)
		}
		return s.deps.Verifier.writeUpdate(s.segOff, data)
	}
	return nil
}

func (s *Session) finishSegment() error {
	switch s.state {
	case FeedCupsCred:
		if err := s.deps.Store.CredComplete(certstore.CategoryCUPS, s.segLen); err != nil {
			return err
		}
		if s.deps.Log != nil {
			s.deps.Log.Info("cups credentials updated", zap.String("req_id", s.reqID), zap.Int("bytes", s.segLen))
		}
	case FeedTCCred:
		if err := s.deps.Store.CredComplete(certstore.CategoryTC, s.segLen); err != nil {
			return err
		}
		if s.deps.Log != nil {
			s.deps.Log.Info("tc credentials updated", zap.String("req_id", s.reqID), zap.Int("bytes", s.segLen))
		}
	case FeedSignature:
		s.uflags |= FlagSignature
	case FeedUpdate:
		if err := s.deps.Verifier.commit(s.segLen, s.sig); err != nil {
			return err
		}
		s.uflags |= FlagUpdate
		if s.deps.Log != nil {
			s.deps.Log.Info("firmware update committed", zap.String("req_id", s.reqID), zap.Int("bytes", s.segLen))
		}
	}
	return nil
}

func (s *Session) advanceState() error {
	s.lenN, s.segOff, s.segLen = 0, 0, 0
	switch s.state {
	case FeedCupsCred:
		s.state = FeedTCCred
	case FeedTCCred:
		s.state = FeedSignature
	case FeedSignature:
		s.state = FeedUpdate
	case FeedUpdate:
		s.state = Done
	}
	if s.state == Done {
		// Reaching DONE always commits the staged config, whether that
		// happened via a nonzero UPDATE segment (already committed in
		// beginSegment, before the firmware file was opened) or because
		// every remaining segment down to UPDATE was zero-length.
		if err := s.deps.Store.CommitConfigUpdate(certstore.CategoryCUPS); err != nil {
			return err
		}
		if err := s.deps.Store.CommitConfigUpdate(certstore.CategoryTC); err != nil {
			return err
		}
	}
	return nil
}

func (a *sigAssembly) write(off int, data []byte) error {
	if off < sigCRCLen {
		d := sigCRCLen - off
		if d > len(data) {
			d = len(data)
		}
		copy(a.keyCRC[off:], data[:d])
		off += d
		data = data[d:]
	}
	if len(data) > 0 {
		a.signature = append(a.signature, data...)
	}
	return nil
}

func (a *sigAssembly) hashUpdate(data []byte) {
	a.collected += len(data)
}

func (a *sigAssembly) keyCRCValue() uint32 {
	return binary.LittleEndian.Uint32(a.keyCRC[:])
}

func protoErr(s *Session, msg string) error {
	s.state = ErrFailed
	return stationerr.New(stationerr.CodeProtoError, msg)
}

func decodeLen(b []byte) (int, error) {
	var v uint32
	switch len(b) {
	case 2:
		v = uint32(binary.LittleEndian.Uint16(b))
	case 4:
		v = binary.LittleEndian.Uint32(b)
	default:
		return 0, fmt.Errorf("unexpected length-field width %d", len(b))
	}
	if v >= 1<<31 {
		return 0, fmt.Errorf("segment length not allowed (must be <2GB): 0x%08x bytes", v)
	}
	return int(v), nil
}
