package pairing

import (
	"errors"
	"fmt"

	"github.com/backkem/pairing/pkg/crypto"
	"github.com/backkem/pairing/pkg/tlv8"
)

func (s *Session) verifyServerExchange(input []byte) ([]byte, bool, error) {
	switch s.step {
	case stepM1:
		return s.verifyServerM1(input)
	case stepM3:
		return s.verifyServerM3(input)
	default:
		return nil, false, ErrState
	}
}

// verifyServerM1 answers with our ephemeral key and signed identity.
func (s *Session) verifyServerM1(input []byte) ([]byte, bool, error) {
	items, err := parseState(input, stepM1)
	if err != nil {
		return nil, false, err
	}
	peerPK, err := items.GetBytes(tlv8.TypePublicKey, crypto.X25519KeySize, crypto.X25519KeySize)
	if err != nil {
		return nil, false, malformed("public key", err)
	}
	if err := s.verifyKeyExchange(peerPK); err != nil {
		return errorReport(tlv8.ErrorAuthentication, stepM2), false, err
	}
	sealed, err := s.sealProof(nonceVerifyM2)
	if err != nil {
		return errorReport(codeForError(err), stepM2), false, err
	}

	out, err := tlv8.NewBuilder().
		AppendUint(tlv8.TypeState, uint64(stepM2)).
		AppendBytes(tlv8.TypePublicKey, s.ourCurvePK).
		AppendBytes(tlv8.TypeEncryptedData, sealed).
		Bytes()
	if err != nil {
		return nil, false, err
	}
	s.tracef("%s: sent M2", s.typ)
	s.step = stepM3
	return out, false, nil
}

// verifyServerM3 authenticates the client. Every failure is reported to the
// client as an authentication error.
func (s *Session) verifyServerM3(input []byte) ([]byte, bool, error) {
	items, err := parseState(input, stepM3)
	if err != nil {
		return nil, false, err
	}
	if err := s.openProof(items, nonceVerifyM3); err != nil {
		if s.log != nil && errors.Is(err, ErrNotFound) {
			s.log.Infof("%s: unknown peer", s.typ)
		}
		return errorReport(tlv8.ErrorAuthentication, stepM4), false, err
	}

	out, err := tlv8.NewBuilder().
		AppendUint(tlv8.TypeState, uint64(stepM4)).
		Bytes()
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrUnknown, err)
	}
	s.finishVerify()
	return out, true, nil
}
