package crypto

import (
	"crypto/subtle"
	"io"

	"golang.org/x/crypto/curve25519"
)

// X25519 sizes.
const (
	X25519KeySize = curve25519.ScalarSize
)

// Labels used to whiten the random scalar of an ephemeral pair-verify key.
const (
	ecdhSalt = "Pair-Verify-ECDH-Salt"
	ecdhInfo = "Pair-Verify-ECDH-Info"
)

// GenerateX25519 returns an ephemeral Curve25519 key pair. The secret is
// HKDF-SHA512 over 32 random bytes so that a weak entropy source is not
// used as a scalar directly.
func GenerateX25519(rand io.Reader) (publicKey, secret []byte, err error) {
	seed := make([]byte, X25519KeySize)
	defer Zero(seed)
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, nil, err
	}

	secret, err = HKDFSHA512String(seed, ecdhSalt, ecdhInfo, X25519KeySize)
	if err != nil {
		return nil, nil, err
	}
	publicKey, err = curve25519.X25519(secret, curve25519.Basepoint)
	if err != nil {
		Zero(secret)
		return nil, nil, err
	}
	return publicKey, secret, nil
}

// X25519 computes the shared secret between a local secret and a peer public
// key. Both must be 32 bytes; low-order peer keys yielding an all-zero output
// are rejected.
func X25519(secret, peerPublicKey []byte) ([]byte, error) {
	if len(secret) != X25519KeySize || len(peerPublicKey) != X25519KeySize {
		return nil, ErrInvalidKeySize
	}
	shared, err := curve25519.X25519(secret, peerPublicKey)
	if err != nil {
		return nil, ErrLowOrderPublicKey
	}
	var zero [X25519KeySize]byte
	if subtle.ConstantTimeCompare(shared, zero[:]) == 1 {
		return nil, ErrLowOrderPublicKey
	}
	return shared, nil
}
