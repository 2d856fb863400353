package pairing

import (
	"fmt"

	"github.com/backkem/pairing/pkg/crypto"
	"github.com/backkem/pairing/pkg/tlv8"
)

func (s *Session) verifyClientExchange(input []byte) ([]byte, bool, error) {
	switch s.step {
	case stepM1:
		return s.verifyClientM1(input)
	case stepM2:
		return s.verifyClientM2(input)
	case stepM4:
		return s.verifyClientM4(input)
	default:
		return nil, false, ErrState
	}
}

func (s *Session) verifyClientM1(input []byte) ([]byte, bool, error) {
	if len(input) != 0 {
		return nil, false, fmt.Errorf("%w: input before M1", ErrState)
	}
	pk, sk, err := crypto.GenerateX25519(s.rand)
	if err != nil {
		return nil, false, err
	}
	s.ourCurvePK, s.ourCurveSK = pk, sk

	out, err := tlv8.NewBuilder().
		AppendUint(tlv8.TypeState, uint64(stepM1)).
		AppendBytes(tlv8.TypePublicKey, pk).
		Bytes()
	if err != nil {
		return nil, false, err
	}
	s.tracef("%s: sent M1", s.typ)
	s.step = stepM2
	return out, false, nil
}

// verifyClientM2 authenticates the server and answers with our proof.
func (s *Session) verifyClientM2(input []byte) ([]byte, bool, error) {
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
	if _, err := parseState(input, stepM2); err != nil {
		return nil, false, err
	}

	peerPK, err := items.GetBytes(tlv8.TypePublicKey, crypto.X25519KeySize, crypto.X25519KeySize)
	if err != nil {
		return nil, false, malformed("public key", err)
	}
	if err := s.verifyKeyExchange(peerPK); err != nil {
		return nil, false, err
	}
	if err := s.openProof(items, nonceVerifyM2); err != nil {
		return nil, false, err
	}

	sealed, err := s.sealProof(nonceVerifyM3)
	if err != nil {
		return nil, false, err
	}
	out, err := tlv8.NewBuilder().
		AppendUint(tlv8.TypeState, uint64(stepM3)).
		AppendBytes(tlv8.TypeEncryptedData, sealed).
		Bytes()
	if err != nil {
		return nil, false, err
	}
	s.tracef("%s: sent M3", s.typ)
	s.step = stepM4
	return out, false, nil
}

func (s *Session) verifyClientM4(input []byte) ([]byte, bool, error) {
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
	if _, err := parseState(input, stepM4); err != nil {
		return nil, false, err
	}
	s.finishVerify()
	return nil, true, nil
}
