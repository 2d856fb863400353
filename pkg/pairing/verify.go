package pairing

import (
	"errors"
	"fmt"

	"github.com/backkem/pairing/pkg/crypto"
	"github.com/backkem/pairing/pkg/tlv8"
)

// verifyInfo returns the material signed in pair-verify:
// signer curve key || signer identifier || other curve key.
func verifyInfo(signerPK []byte, identifier string, otherPK []byte) []byte {
	msg := make([]byte, 0, len(signerPK)+len(identifier)+len(otherPK))
	msg = append(msg, signerPK...)
	msg = append(msg, identifier...)
	msg = append(msg, otherPK...)
	return msg
}

// verifyKeyExchange generates our ephemeral key if needed and derives the
// shared secret and the M2/M3 encryption key from the peer's public key.
func (s *Session) verifyKeyExchange(peerPK []byte) error {
	if s.ourCurveSK == nil {
		pk, sk, err := crypto.GenerateX25519(s.rand)
		if err != nil {
			return err
		}
		s.ourCurvePK, s.ourCurveSK = pk, sk
	}
	shared, err := crypto.X25519(s.ourCurveSK, peerPK)
	if err != nil {
		if errors.Is(err, crypto.ErrLowOrderPublicKey) {
			return fmt.Errorf("%w: %w", ErrAuthentication, err)
		}
		return malformed("public key", err)
	}
	key, err := crypto.HKDFSHA512String(shared, verifyEncryptSalt, verifyEncryptInfo, crypto.SymmetricKeySize)
	if err != nil {
		crypto.Zero(shared)
		return err
	}
	s.peerCurvePK = peerPK
	s.sharedSecret = shared
	s.key = key
	return nil
}

// sealProof signs our curve key and identifier and seals the result with
// nonce. It returns the EncryptedData value.
func (s *Session) sealProof(nonce string) ([]byte, error) {
	identity, err := s.copyIdentity(false)
	if err != nil {
		return nil, err
	}
	defer identity.Wipe()

	msg := verifyInfo(s.ourCurvePK, identity.Identifier, s.peerCurvePK)
	sig, err := crypto.SignEd25519(identity.PrivateKey, msg)
	if err != nil {
		return nil, err
	}
	sub, err := tlv8.NewBuilder().
		AppendString(tlv8.TypeIdentifier, identity.Identifier).
		AppendBytes(tlv8.TypeSignature, sig).
		Bytes()
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(sub)
	return crypto.SealLabel(s.key, nonce, sub)
}

// openProof decrypts the peer's EncryptedData and checks its signature
// against the stored long-term key of the peer it names.
func (s *Session) openProof(items tlv8.Items, nonce string) error {
	sealed, err := items.GetBytes(tlv8.TypeEncryptedData, crypto.TagSize, 0)
	if err != nil {
		return malformed("encrypted data", err)
	}
	plain, err := crypto.OpenLabel(s.key, nonce, sealed)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	defer crypto.Zero(plain)

	sub, err := tlv8.Parse(plain)
	if err != nil {
		return malformed("sub-tlv", err)
	}
	id, err := sub.GetBytes(tlv8.TypeIdentifier, 1, 0)
	if err != nil {
		return malformed("identifier", err)
	}
	sig, err := sub.GetBytes(tlv8.TypeSignature, crypto.Ed25519SignatureSize, crypto.Ed25519SignatureSize)
	if err != nil {
		return malformed("signature", err)
	}

	peer, err := s.delegate.FindPeer(string(id))
	if err != nil {
		return storeError(err)
	}
	if peer == nil {
		return ErrNotFound
	}
	msg := verifyInfo(s.peerCurvePK, string(id), s.ourCurvePK)
	if err := crypto.VerifyEd25519(peer.PublicKey, msg, sig); err != nil {
		return fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	s.peerIdentifier = string(id)
	s.peerPublicKey = append([]byte{}, peer.PublicKey...)
	return nil
}

// finishVerify drops everything except the shared secret.
func (s *Session) finishVerify() {
	for _, b := range [][]byte{s.key, s.ourCurveSK} {
		crypto.Zero(b)
	}
	s.key, s.ourCurveSK = nil, nil
}
