package pairing

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/pion/logging"

	"github.com/backkem/pairing/pkg/crypto"
	"github.com/backkem/pairing/pkg/crypto/srp"
	"github.com/backkem/pairing/pkg/store"
	"github.com/backkem/pairing/pkg/tlv8"
)

// Config configures a Session.
type Config struct {
	// Type selects the handshake. Required.
	Type Type

	// Delegate supplies the user-interface and credential callbacks.
	Delegate Delegate

	// Store serves any credential callback left unset in Delegate.
	Store store.Store

	// Throttle rate limits pair-setup attempts on a SetupServer. nil gives
	// the session its own throttle with exponential backoff.
	Throttle *Throttle

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Session runs one side of a pair-setup or pair-verify exchange.
//
// A Session is not safe for concurrent use. Close must be called when the
// session is no longer needed to wipe retained secrets.
type Session struct {
	typ      Type
	delegate Delegate
	throttle *Throttle
	rand     io.Reader
	log      logging.LeveledLogger

	flags      Flags
	identifier string // overrides the stored identity's identifier
	started    bool
	closed     bool
	step       step
	failErr    error

	// Setup code handling
	setupCode        []byte
	setupCodeFailed  bool
	showingSetupCode bool
	method           tlv8.Method

	// Pair-setup SRP state
	srpServer *srp.Server
	srpClient *srp.Client
	srpSalt   []byte
	srpPeerPK []byte
	srpShared []byte

	// Message encryption key for M5/M6 or M2/M3
	key []byte

	// Pair-verify state
	ourCurvePK   []byte
	ourCurveSK   []byte
	peerCurvePK  []byte
	sharedSecret []byte

	// Authenticated peer
	peerIdentifier string
	peerPublicKey  []byte

	// Fragmentation
	mtuTotal      int
	mtuPayload    int
	inFrag        []byte
	outFrag       []byte
	outFragOffset int
	outDone       bool
}

// New creates a Session from config.
// Returns ErrParam if the delegate lacks a callback required by the type.
func New(config Config) (*Session, error) {
	if !config.Type.IsValid() {
		return nil, ErrParam
	}
	d := config.Delegate
	d.withStore(config.Store)
	if err := d.validate(config.Type); err != nil {
		return nil, err
	}

	s := &Session{
		typ:      config.Type,
		delegate: d,
		throttle: config.Throttle,
		rand:     rand.Reader,
		step:     stepM1,
	}
	if s.throttle == nil && s.typ == SetupServer {
		s.throttle = NewThrottle(ThrottleConfig{})
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("pairing")
	}
	return s, nil
}

// Create creates a Session of type t bound to delegate.
func Create(delegate Delegate, t Type) (*Session, error) {
	return New(Config{Type: t, Delegate: delegate})
}

// Type returns the session type.
func (s *Session) Type() Type {
	return s.typ
}

// SetFlags ORs in policy flags. Ignored once the exchange has started.
func (s *Session) SetFlags(flags Flags) {
	if s.started {
		return
	}
	s.flags |= flags
}

// Flags returns the session flags.
func (s *Session) Flags() Flags {
	return s.flags
}

// SetIdentifier overrides the identifier presented for this side.
// Ignored once the exchange has started.
func (s *Session) SetIdentifier(identifier string) {
	if s.started {
		return
	}
	s.identifier = identifier
}

// SetMaxTries configures the lockout policy of a SetupServer. 0 selects
// exponential backoff. When the session was built with a shared Throttle the
// setting applies to every session using it.
func (s *Session) SetMaxTries(n int) {
	if s.throttle == nil {
		s.throttle = NewThrottle(ThrottleConfig{})
	}
	s.throttle.SetMaxTries(n)
}

// SetMTU bounds each outbound message to at most mtu bytes.
// Returns ErrParam if mtu cannot carry a fragment with at least one payload byte.
func (s *Session) SetMTU(mtu int) error {
	payload := tlv8.MaxPayloadForTotal(mtu)
	if payload <= 0 {
		return ErrParam
	}
	s.mtuTotal = mtu
	s.mtuPayload = payload
	return nil
}

// SetSetupCode supplies the setup code for the current attempt.
func (s *Session) SetSetupCode(code string) error {
	if code == "" {
		return ErrParam
	}
	crypto.Zero(s.setupCode)
	s.setupCode = []byte(code)
	return nil
}

// SetRandom sets the random source. Used for testing.
func (s *Session) SetRandom(r io.Reader) {
	s.rand = r
}

// SetLogging replaces the session logger. nil disables logging.
func (s *Session) SetLogging(factory logging.LoggerFactory) {
	if factory == nil {
		s.log = nil
		return
	}
	s.log = factory.NewLogger("pairing")
}

// State returns the coarse progress of the session.
func (s *Session) State() State {
	if s.failErr != nil || s.closed {
		return StateFailed
	}
	if s.step == stepDone {
		return StateAuthenticated
	}
	switch s.typ {
	case SetupClient:
		switch s.step {
		case stepM1:
			return StateStart
		case stepM2:
			return StateAwaitingPeer
		case stepM3:
			return StateKeyExchange
		default:
			return StateProofExchange
		}
	case SetupServer:
		switch s.step {
		case stepM1:
			return StateStart
		case stepM3:
			return StateKeyExchange
		default:
			return StateProofExchange
		}
	case VerifyClient:
		switch s.step {
		case stepM1:
			return StateStart
		case stepM2:
			return StateAwaitingPeer
		default:
			return StateProofExchange
		}
	default:
		if s.step == stepM1 {
			return StateStart
		}
		return StateProofExchange
	}
}

// Done reports whether the exchange completed successfully.
func (s *Session) Done() bool {
	return s.step == stepDone && s.failErr == nil && !s.closed && s.outFrag == nil
}

// Err returns the error that failed the session, if any.
func (s *Session) Err() error {
	return s.failErr
}

// PeerIdentifier returns the authenticated peer's identifier.
func (s *Session) PeerIdentifier() (string, error) {
	if s.peerIdentifier == "" {
		return "", ErrNotFound
	}
	return s.peerIdentifier, nil
}

// PeerPublicKey returns the authenticated peer's Ed25519 public key.
func (s *Session) PeerPublicKey() ([]byte, error) {
	if s.peerPublicKey == nil {
		return nil, ErrNotFound
	}
	return append([]byte{}, s.peerPublicKey...), nil
}

// Exchange processes one message from the peer and returns the message to
// send back.
//
// input is empty on the first call of a client. The exchange is complete
// when done is true. When err is non-nil and output is not empty, output
// carries an error report for the peer and should still be sent. When output
// is empty and both done and err are zero, the session is waiting for a
// setup code: call SetSetupCode, then Exchange(nil).
//
// A wrong setup code or a throttled attempt returns an error but leaves a
// setup session ready for a new attempt. Any other error fails the session;
// later calls return ErrSessionFailed.
func (s *Session) Exchange(input []byte) (output []byte, done bool, err error) {
	if s.closed {
		return nil, false, ErrSessionFailed
	}
	if s.failErr != nil {
		// A failure report too large for the MTU is still drained.
		if s.outFrag != nil && isAck(input) {
			if out, _, err := s.nextFragment(); err == nil {
				return out, false, fmt.Errorf("%w: %w", ErrSessionFailed, s.failErr)
			}
		}
		return nil, false, fmt.Errorf("%w: %w", ErrSessionFailed, s.failErr)
	}
	s.started = true

	in, out, done, handled, err := s.progressInput(input)
	if err != nil {
		return nil, false, s.fail(err)
	}
	if handled {
		return out, done, nil
	}
	if s.step == stepDone {
		return nil, true, nil
	}

	switch s.typ {
	case SetupClient:
		out, done, err = s.setupClientExchange(in)
	case SetupServer:
		out, done, err = s.setupServerExchange(in)
	case VerifyClient:
		out, done, err = s.verifyClientExchange(in)
	case VerifyServer:
		out, done, err = s.verifyServerExchange(in)
	default:
		err = ErrState
	}

	if err != nil {
		var rec *recoverableError
		if errors.As(err, &rec) {
			out, _, ferr := s.progressOutput(out, false)
			if ferr != nil {
				return nil, false, s.fail(ferr)
			}
			return out, false, rec.err
		}
		err = s.fail(err)
		out, _, _ = s.progressOutput(out, false)
		return out, false, err
	}
	if done {
		s.step = stepDone
		if s.log != nil {
			s.log.Infof("%s complete with peer %q", s.typ, s.peerIdentifier)
		}
	}

	out, done, err = s.progressOutput(out, done)
	if err != nil {
		return nil, false, s.fail(err)
	}
	return out, done, nil
}

// fail moves the session to the failed state and wipes its secrets.
func (s *Session) fail(err error) error {
	if s.log != nil {
		s.log.Warnf("%s failed at M%d: %v", s.typ, s.step, err)
	}
	s.failErr = err
	s.resetAttempt()
	crypto.Zero(s.sharedSecret)
	s.sharedSecret = nil
	s.hideSetupCode()
	crypto.Zero(s.setupCode)
	s.setupCode = nil
	return err
}

// resetAttempt drops per-attempt state and returns to the first step.
func (s *Session) resetAttempt() {
	if s.srpServer != nil {
		s.srpServer.Close()
		s.srpServer = nil
	}
	if s.srpClient != nil {
		s.srpClient.Close()
		s.srpClient = nil
	}
	for _, b := range [][]byte{s.srpSalt, s.srpPeerPK, s.srpShared, s.key, s.ourCurveSK} {
		crypto.Zero(b)
	}
	s.srpSalt, s.srpPeerPK, s.srpShared, s.key = nil, nil, nil, nil
	s.ourCurvePK, s.ourCurveSK, s.peerCurvePK = nil, nil, nil
	crypto.Zero(s.inFrag)
	s.inFrag = nil
	s.step = stepM1
}

func (s *Session) hideSetupCode() {
	if s.showingSetupCode {
		s.showingSetupCode = false
		if s.delegate.HideSetupCode != nil {
			s.delegate.HideSetupCode()
		}
	}
}

// DeriveKey derives keyLen bytes from the pair-verify shared secret with
// HKDF-SHA512 and the given salt and info. Returns ErrNotPrepared unless the
// session is a completed pair-verify.
func (s *Session) DeriveKey(salt, info []byte, keyLen int) ([]byte, error) {
	if keyLen <= 0 {
		return nil, ErrParam
	}
	if !s.typ.isVerify() || !s.Done() || s.sharedSecret == nil {
		return nil, ErrNotPrepared
	}
	return crypto.HKDFSHA512(s.sharedSecret, salt, info, keyLen)
}

// secrets lists every buffer that may hold secret material.
func (s *Session) secrets() [][]byte {
	return [][]byte{s.setupCode, s.srpSalt, s.srpPeerPK, s.srpShared, s.key, s.ourCurveSK, s.sharedSecret, s.inFrag, s.outFrag}
}

// Close wipes all secret material and hides a displayed setup code. It is
// safe to call at any point of the exchange and more than once.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	s.hideSetupCode()
	for _, b := range s.secrets() {
		crypto.Zero(b)
	}
	s.resetAttempt()
	s.setupCode = nil
	s.sharedSecret = nil
	s.outFrag = nil
	s.closed = true
	return nil
}

// copyIdentity fetches the local identity and applies the identifier override.
// The caller must Wipe the result.
func (s *Session) copyIdentity(allowCreate bool) (*store.Identity, error) {
	identity, err := s.delegate.CopyIdentity(allowCreate)
	if err != nil {
		return nil, storeError(err)
	}
	if identity == nil {
		return nil, ErrNotFound
	}
	id := identity.Clone()
	if s.identifier != "" {
		id.Identifier = s.identifier
	}
	if id.Identifier == "" || len(id.PublicKey) != crypto.Ed25519PublicKeySize || len(id.PrivateKey) != crypto.Ed25519SeedSize {
		id.Wipe()
		return nil, fmt.Errorf("%w: invalid identity", ErrParam)
	}
	return id, nil
}

// errorReport builds an Error/State message for the peer.
func errorReport(code tlv8.ErrorCode, state step) []byte {
	out, _ := tlv8.NewBuilder().
		AppendUint(tlv8.TypeError, uint64(code)).
		AppendUint(tlv8.TypeState, uint64(state)).
		Bytes()
	return out
}

// parseState decodes a message and checks its State item.
func parseState(input []byte, want step) (tlv8.Items, error) {
	items, err := tlv8.Parse(input)
	if err != nil {
		return nil, malformed("tlv8", err)
	}
	st, err := items.GetUint8(tlv8.TypeState)
	if err != nil {
		return nil, malformed("state", err)
	}
	if step(st) != want {
		return nil, fmt.Errorf("%w: got M%d, want M%d", ErrState, st, want)
	}
	return items, nil
}

// peerError reports whether items carry an Error item and its code.
func peerError(items tlv8.Items) (tlv8.ErrorCode, bool, error) {
	if !items.Has(tlv8.TypeError) {
		return 0, false, nil
	}
	code, err := items.GetUint8(tlv8.TypeError)
	if err != nil {
		return 0, true, malformed("error", err)
	}
	return tlv8.ErrorCode(code), true, nil
}

func (s *Session) tracef(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Tracef(format, args...)
	}
}
