package crypto

import (
	"crypto/ed25519"
	"io"
)

// Ed25519 sizes.
const (
	Ed25519PublicKeySize = ed25519.PublicKeySize
	Ed25519SeedSize      = ed25519.SeedSize
	Ed25519SignatureSize = ed25519.SignatureSize
)

// GenerateEd25519 returns a new long-term signing key pair. The private key
// is returned as its 32-byte seed, which is the form the credential store
// persists.
func GenerateEd25519(rand io.Reader) (publicKey, seed []byte, err error) {
	seed = make([]byte, Ed25519SeedSize)
	if _, err := io.ReadFull(rand, seed); err != nil {
		return nil, nil, err
	}
	priv := ed25519.NewKeyFromSeed(seed)
	publicKey = append([]byte{}, priv.Public().(ed25519.PublicKey)...)
	Zero(priv)
	return publicKey, seed, nil
}

// Ed25519PublicFromSeed returns the public key for a 32-byte seed.
func Ed25519PublicFromSeed(seed []byte) ([]byte, error) {
	if len(seed) != Ed25519SeedSize {
		return nil, ErrInvalidKeySize
	}
	priv := ed25519.NewKeyFromSeed(seed)
	defer Zero(priv)
	return append([]byte{}, priv.Public().(ed25519.PublicKey)...), nil
}

// SignEd25519 signs message with the key derived from a 32-byte seed.
func SignEd25519(seed, message []byte) ([]byte, error) {
	if len(seed) != Ed25519SeedSize {
		return nil, ErrInvalidKeySize
	}
	priv := ed25519.NewKeyFromSeed(seed)
	defer Zero(priv)
	return ed25519.Sign(priv, message), nil
}

// VerifyEd25519 checks a signature over message.
func VerifyEd25519(publicKey, message, signature []byte) error {
	if len(publicKey) != Ed25519PublicKeySize {
		return ErrInvalidKeySize
	}
	if len(signature) != Ed25519SignatureSize {
		return ErrInvalidSignature
	}
	if !ed25519.Verify(ed25519.PublicKey(publicKey), message, signature) {
		return ErrInvalidSignature
	}
	return nil
}
