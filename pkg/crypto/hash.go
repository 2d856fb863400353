// Package crypto provides the cryptographic primitives used by pairing:
// HKDF-SHA512, ChaCha20-Poly1305, Ed25519 and X25519.
//
// The functions are thin wrappers over the standard library and
// golang.org/x/crypto that enforce the fixed key and nonce sizes of the
// pairing protocol and return errors instead of panicking on bad input.
package crypto

import (
	"crypto/sha512"
	"errors"
	"hash"
)

// SHA-512 constants.
const (
	// SHA512LenBytes is the SHA-512 output length in bytes.
	SHA512LenBytes = 64
)

// Errors shared by the primitives.
var (
	ErrInvalidLength     = errors.New("crypto: invalid length")
	ErrInvalidKeySize    = errors.New("crypto: invalid key size")
	ErrInvalidNonceSize  = errors.New("crypto: invalid nonce label size")
	ErrDecrypt           = errors.New("crypto: message authentication failed")
	ErrInvalidSignature  = errors.New("crypto: signature verification failed")
	ErrLowOrderPublicKey = errors.New("crypto: low order public key")
)

// SHA512 computes the SHA-512 digest of message.
func SHA512(message []byte) []byte {
	h := sha512.Sum512(message)
	return h[:]
}

// NewSHA512 returns a new hash.Hash for computing SHA-512 digests incrementally.
func NewSHA512() hash.Hash {
	return sha512.New()
}
