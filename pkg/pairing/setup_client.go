package pairing

import (
	"fmt"

	"github.com/backkem/pairing/pkg/crypto"
	"github.com/backkem/pairing/pkg/crypto/srp"
	"github.com/backkem/pairing/pkg/tlv8"
)

func (s *Session) setupClientExchange(input []byte) ([]byte, bool, error) {
	switch s.step {
	case stepM1:
		return s.setupClientM1(input)
	case stepM2:
		return s.setupClientM2(input)
	case stepM4:
		return s.setupClientM4(input)
	case stepM6:
		return s.setupClientM6(input)
	default:
		return nil, false, ErrState
	}
}

// setupClientM1 starts pair-setup.
func (s *Session) setupClientM1(input []byte) ([]byte, bool, error) {
	if len(input) != 0 {
		return nil, false, fmt.Errorf("%w: input before M1", ErrState)
	}
	s.method = tlv8.MethodPairSetup
	if s.flags&FlagMFi != 0 {
		s.method = tlv8.MethodMFiPairSetup
	}
	out, err := tlv8.NewBuilder().
		AppendUint(tlv8.TypeMethod, uint64(s.method)).
		AppendUint(tlv8.TypeState, uint64(stepM1)).
		Bytes()
	if err != nil {
		return nil, false, err
	}
	s.tracef("%s: sent M1", s.typ)
	s.step = stepM2
	return out, false, nil
}

// setupClientM2 handles the server's salt and public value. It suspends when
// no setup code is available yet and resumes on an empty input.
func (s *Session) setupClientM2(input []byte) ([]byte, bool, error) {
	if len(input) == 0 {
		if s.srpSalt == nil {
			return nil, false, fmt.Errorf("%w: missing M2", ErrState)
		}
		if s.setupCode == nil {
			return nil, false, nil
		}
		return s.setupClientM3()
	}

	items, err := tlv8.Parse(input)
	if err != nil {
		return nil, false, malformed("tlv8", err)
	}
	code, has, err := peerError(items)
	if err != nil {
		return nil, false, err
	}
	if has {
		if code == tlv8.ErrorBackoff {
			return nil, false, s.setupClientBackoff(items)
		}
		return nil, false, fmt.Errorf("%w: server reported %s", errorFromCode(uint8(code)), code)
	}
	if _, err := parseState(input, stepM2); err != nil {
		return nil, false, err
	}

	salt, err := items.GetBytes(tlv8.TypeSalt, 16, 0)
	if err != nil {
		return nil, false, malformed("salt", err)
	}
	pk, err := items.GetBytes(tlv8.TypePublicKey, 1, 0)
	if err != nil {
		return nil, false, malformed("public key", err)
	}
	s.srpSalt = salt
	s.srpPeerPK = pk
	s.tracef("%s: received M2", s.typ)

	if s.setupCode == nil {
		flags := s.flags
		if s.setupCodeFailed {
			flags |= FlagIncorrect
		}
		if err := s.delegate.PromptForSetupCode(flags, -1); err != nil {
			return nil, false, err
		}
		if s.setupCode == nil {
			if s.log != nil {
				s.log.Debugf("%s: waiting for setup code", s.typ)
			}
			return nil, false, nil
		}
	}
	return s.setupClientM3()
}

// setupClientBackoff resets the attempt after the server throttled it.
func (s *Session) setupClientBackoff(items tlv8.Items) error {
	delay, err := items.GetUint(tlv8.TypeRetryDelay)
	if err != nil {
		return malformed("retry delay", err)
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	s.resetAttempt()
	if s.log != nil {
		s.log.Infof("%s: server throttled, retry in %ds", s.typ, delay)
	}
	if err := s.delegate.PromptForSetupCode(s.flags|FlagThrottle, int32(delay)); err != nil {
		return err
	}
	return recoverable(&ThrottleError{Delay: int32(delay)})
}

func (s *Session) setupClientM3() ([]byte, bool, error) {
	client, err := srp.NewClient(s.setupCode, s.srpSalt, s.srpPeerPK)
	if err != nil {
		return nil, false, malformed("srp", err)
	}
	s.srpClient = client

	out, err := tlv8.NewBuilder().
		AppendUint(tlv8.TypeState, uint64(stepM3)).
		AppendBytes(tlv8.TypePublicKey, client.PublicKey()).
		AppendBytes(tlv8.TypeProof, client.Proof()).
		Bytes()
	if err != nil {
		return nil, false, err
	}
	s.tracef("%s: sent M3", s.typ)
	s.step = stepM4
	return out, false, nil
}

// setupClientM4 verifies the server's proof and sends M5.
func (s *Session) setupClientM4(input []byte) ([]byte, bool, error) {
	items, err := tlv8.Parse(input)
	if err != nil {
		return nil, false, malformed("tlv8", err)
	}
	code, has, err := peerError(items)
	if err != nil {
		return nil, false, err
	}
	if has {
		if code == tlv8.ErrorAuthentication {
			return nil, false, s.setupClientWrongCode()
		}
		return nil, false, fmt.Errorf("%w: server reported %s", errorFromCode(uint8(code)), code)
	}
	if _, err := parseState(input, stepM4); err != nil {
		return nil, false, err
	}

	proof, err := items.GetBytes(tlv8.TypeProof, 1, 0)
	if err != nil {
		return nil, false, malformed("proof", err)
	}
	if err := s.srpClient.VerifyServerProof(proof); err != nil {
		return nil, false, fmt.Errorf("%w: server proof: %w", ErrAuthentication, err)
	}
	shared, err := s.srpClient.SharedSecret()
	if err != nil {
		return nil, false, err
	}
	if err := s.deriveSetupKey(shared); err != nil {
		return nil, false, err
	}
	crypto.Zero(s.setupCode)
	s.setupCode = nil
	s.tracef("%s: server proof verified", s.typ)

	out, err := s.sealIdentity(setupControllerSignSalt, setupControllerSignInfo, nonceSetupM5, stepM5)
	if err != nil {
		return nil, false, err
	}
	s.step = stepM6
	return out, false, nil
}

// setupClientWrongCode resets the attempt after the server rejected the code.
func (s *Session) setupClientWrongCode() error {
	s.resetAttempt()
	crypto.Zero(s.setupCode)
	s.setupCode = nil
	s.setupCodeFailed = true
	if s.log != nil {
		s.log.Infof("%s: setup code rejected", s.typ)
	}
	if err := s.delegate.PromptForSetupCode(s.flags|FlagIncorrect, -1); err != nil {
		return err
	}
	return recoverable(ErrAuthentication)
}

// setupClientM6 authenticates the server and saves it as a peer.
func (s *Session) setupClientM6(input []byte) ([]byte, bool, error) {
	items, err := tlv8.Parse(input)
	if err != nil {
		return nil, false, malformed("tlv8", err)
	}
	code, has, err := peerError(items)
	if err != nil {
		return nil, false, err
	}
	if has {
		return nil, false, fmt.Errorf("%w: server reported %s", errorFromCode(uint8(code)), code)
	}
	if _, err := parseState(input, stepM6); err != nil {
		return nil, false, err
	}

	peer, err := s.openIdentity(items, setupAccessorySignSalt, setupAccessorySignInfo, nonceSetupM6)
	if err != nil {
		return nil, false, err
	}
	if err := s.savePeer(peer); err != nil {
		return nil, false, err
	}
	s.resetAttempt()
	return nil, true, nil
}
