package pairing

import (
	"fmt"

	"github.com/backkem/pairing/pkg/crypto"
	"github.com/backkem/pairing/pkg/store"
	"github.com/backkem/pairing/pkg/tlv8"
)

// setupSignInfo returns the material signed in M5 or M6:
// HKDF(K, salt, info) || identifier || ltpk.
func setupSignInfo(shared []byte, salt, info, identifier string, ltpk []byte) ([]byte, error) {
	x, err := crypto.HKDFSHA512String(shared, salt, info, 32)
	if err != nil {
		return nil, err
	}
	msg := make([]byte, 0, len(x)+len(identifier)+len(ltpk))
	msg = append(msg, x...)
	msg = append(msg, identifier...)
	msg = append(msg, ltpk...)
	crypto.Zero(x)
	return msg, nil
}

// deriveSetupKey derives the M5/M6 encryption key from the SRP shared secret.
func (s *Session) deriveSetupKey(shared []byte) error {
	key, err := crypto.HKDFSHA512String(shared, setupEncryptSalt, setupEncryptInfo, crypto.SymmetricKeySize)
	if err != nil {
		return err
	}
	s.srpShared = shared
	s.key = key
	return nil
}

// sealIdentity builds the encrypted M5/M6 sub-message that presents our
// long-term identity.
func (s *Session) sealIdentity(signSalt, signInfo, nonce string, state step) ([]byte, error) {
	identity, err := s.copyIdentity(true)
	if err != nil {
		return nil, err
	}
	defer identity.Wipe()

	msg, err := setupSignInfo(s.srpShared, signSalt, signInfo, identity.Identifier, identity.PublicKey)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.SignEd25519(identity.PrivateKey, msg)
	crypto.Zero(msg)
	if err != nil {
		return nil, err
	}

	sub, err := tlv8.NewBuilder().
		AppendString(tlv8.TypeIdentifier, identity.Identifier).
		AppendBytes(tlv8.TypePublicKey, identity.PublicKey).
		AppendBytes(tlv8.TypeSignature, sig).
		Bytes()
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.SealLabel(s.key, nonce, sub)
	crypto.Zero(sub)
	if err != nil {
		return nil, err
	}

	return tlv8.NewBuilder().
		AppendUint(tlv8.TypeState, uint64(state)).
		AppendBytes(tlv8.TypeEncryptedData, sealed).
		Bytes()
}

// openIdentity decrypts and authenticates the peer's M5/M6 sub-message and
// returns the peer it presents.
func (s *Session) openIdentity(items tlv8.Items, signSalt, signInfo, nonce string) (*store.Peer, error) {
	sealed, err := items.GetBytes(tlv8.TypeEncryptedData, crypto.TagSize, 0)
	if err != nil {
		return nil, malformed("encrypted data", err)
	}
	plain, err := crypto.OpenLabel(s.key, nonce, sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	defer crypto.Zero(plain)

	sub, err := tlv8.Parse(plain)
	if err != nil {
		return nil, malformed("sub-tlv", err)
	}
	id, err := sub.GetBytes(tlv8.TypeIdentifier, 1, 0)
	if err != nil {
		return nil, malformed("identifier", err)
	}
	ltpk, err := sub.GetBytes(tlv8.TypePublicKey, crypto.Ed25519PublicKeySize, crypto.Ed25519PublicKeySize)
	if err != nil {
		return nil, malformed("public key", err)
	}
	sig, err := sub.GetBytes(tlv8.TypeSignature, crypto.Ed25519SignatureSize, crypto.Ed25519SignatureSize)
	if err != nil {
		return nil, malformed("signature", err)
	}

	msg, err := setupSignInfo(s.srpShared, signSalt, signInfo, string(id), ltpk)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(msg)
	if err := crypto.VerifyEd25519(ltpk, msg, sig); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAuthentication, err)
	}
	return &store.Peer{Identifier: string(id), PublicKey: ltpk}, nil
}

// savePeer records an authenticated peer through the delegate.
func (s *Session) savePeer(peer *store.Peer) error {
	if err := s.delegate.SavePeer(peer); err != nil {
		return storeError(err)
	}
	s.peerIdentifier = peer.Identifier
	s.peerPublicKey = append([]byte{}, peer.PublicKey...)
	return nil
}
