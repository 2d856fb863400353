package pairing

import (
	"errors"
	"fmt"

	"github.com/backkem/pairing/pkg/crypto"
	"github.com/backkem/pairing/pkg/crypto/srp"
	"github.com/backkem/pairing/pkg/tlv8"
)

func (s *Session) setupServerExchange(input []byte) ([]byte, bool, error) {
	switch s.step {
	case stepM1:
		return s.setupServerM1(input)
	case stepM3:
		return s.setupServerM3(input)
	case stepM5:
		return s.setupServerM5(input)
	default:
		return nil, false, ErrState
	}
}

// setupServerM1 applies the throttle, presents the setup code and answers
// with the SRP salt and public value.
func (s *Session) setupServerM1(input []byte) ([]byte, bool, error) {
	items, err := parseState(input, stepM1)
	if err != nil {
		return nil, false, err
	}
	method := tlv8.MethodPairSetup
	if items.Has(tlv8.TypeMethod) {
		m, err := items.GetUint8(tlv8.TypeMethod)
		if err != nil {
			return nil, false, malformed("method", err)
		}
		method = tlv8.Method(m)
	}
	if method != tlv8.MethodPairSetup {
		return errorReport(tlv8.ErrorUnknown, stepM2), false, fmt.Errorf("%w: %s", ErrUnsupported, method)
	}
	s.method = method

	if s.throttle != nil {
		delay, err := s.throttle.Begin()
		if errors.Is(err, ErrMaxTries) {
			if s.log != nil {
				s.log.Warnf("%s: too many attempts", s.typ)
			}
			return errorReport(tlv8.ErrorMaxTries, stepM2), false, err
		}
		if delay > 0 {
			out, berr := tlv8.NewBuilder().
				AppendUint(tlv8.TypeError, uint64(tlv8.ErrorBackoff)).
				AppendUint(tlv8.TypeRetryDelay, uint64(delay)).
				AppendUint(tlv8.TypeState, uint64(stepM2)).
				Bytes()
			if berr != nil {
				return nil, false, berr
			}
			s.resetAttempt()
			if s.log != nil {
				s.log.Infof("%s: throttled, retry in %ds", s.typ, delay)
			}
			return out, false, recoverable(&ThrottleError{Delay: delay})
		}
	}

	if s.setupCode == nil {
		code, err := s.delegate.ShowSetupCode(s.flags)
		if err != nil {
			return nil, false, err
		}
		if len(code) < MinSetupCodeLen || len(code) > MaxSetupCodeLen {
			return nil, false, fmt.Errorf("%w: setup code length %d", ErrParam, len(code))
		}
		s.setupCode = []byte(code)
		s.showingSetupCode = true
	}

	server, err := srp.NewServer(s.setupCode)
	if err != nil {
		return nil, false, err
	}
	s.srpServer = server

	out, err := tlv8.NewBuilder().
		AppendUint(tlv8.TypeState, uint64(stepM2)).
		AppendBytes(tlv8.TypeSalt, server.Salt()).
		AppendBytes(tlv8.TypePublicKey, server.PublicKey()).
		Bytes()
	if err != nil {
		return nil, false, err
	}
	s.tracef("%s: sent M2", s.typ)
	s.step = stepM3
	return out, false, nil
}

// setupServerM3 checks the client's proof. A wrong code leaves the session
// ready for another attempt with the same code.
func (s *Session) setupServerM3(input []byte) ([]byte, bool, error) {
	items, err := parseState(input, stepM3)
	if err != nil {
		return nil, false, err
	}
	pk, err := items.GetBytes(tlv8.TypePublicKey, 1, 0)
	if err != nil {
		return nil, false, malformed("public key", err)
	}
	proof, err := items.GetBytes(tlv8.TypeProof, 1, 0)
	if err != nil {
		return nil, false, malformed("proof", err)
	}

	var serverProof []byte
	err = s.srpServer.ComputeKey(pk)
	if err == nil {
		serverProof, err = s.srpServer.VerifyClientProof(proof)
	}
	if err != nil {
		if s.log != nil {
			s.log.Infof("%s: client proof rejected: %v", s.typ, err)
		}
		s.resetAttempt()
		return errorReport(tlv8.ErrorAuthentication, stepM4), false, recoverable(fmt.Errorf("%w: %w", ErrAuthentication, err))
	}

	shared, err := s.srpServer.SharedSecret()
	if err != nil {
		return nil, false, err
	}
	if err := s.deriveSetupKey(shared); err != nil {
		return nil, false, err
	}
	s.hideSetupCode()
	crypto.Zero(s.setupCode)
	s.setupCode = nil

	out, err := tlv8.NewBuilder().
		AppendUint(tlv8.TypeState, uint64(stepM4)).
		AppendBytes(tlv8.TypeProof, serverProof).
		Bytes()
	if err != nil {
		return nil, false, err
	}
	s.tracef("%s: sent M4", s.typ)
	s.step = stepM5
	return out, false, nil
}

// setupServerM5 authenticates and saves the client, then presents our
// identity in M6.
func (s *Session) setupServerM5(input []byte) ([]byte, bool, error) {
	items, err := parseState(input, stepM5)
	if err != nil {
		return nil, false, err
	}
	peer, err := s.openIdentity(items, setupControllerSignSalt, setupControllerSignInfo, nonceSetupM5)
	if err != nil {
		return errorReport(tlv8.ErrorAuthentication, stepM6), false, err
	}
	if err := s.savePeer(peer); err != nil {
		return errorReport(codeForError(err), stepM6), false, err
	}

	out, err := s.sealIdentity(setupAccessorySignSalt, setupAccessorySignInfo, nonceSetupM6, stepM6)
	if err != nil {
		return errorReport(codeForError(err), stepM6), false, err
	}
	if s.throttle != nil {
		s.throttle.Reset()
	}
	s.resetAttempt()
	return out, true, nil
}
