package crypto

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20poly1305"
)

// ChaCha20-Poly1305 constants.
const (
	// SymmetricKeySize is the ChaCha20-Poly1305 key length.
	SymmetricKeySize = chacha20poly1305.KeySize

	// TagSize is the Poly1305 authenticator length appended to ciphertexts.
	TagSize = chacha20poly1305.Overhead

	// NonceLabelSize is the length of a pairing message nonce label ("PS-Msg05").
	NonceLabelSize = 8
)

// LabelNonce expands an 8-byte label into a 12-byte nonce by left-padding it
// with four zero bytes, matching the 64-bit nonce layout of the original
// ChaCha20-Poly1305 construction.
func LabelNonce(label string) ([]byte, error) {
	if len(label) != NonceLabelSize {
		return nil, ErrInvalidNonceSize
	}
	nonce := make([]byte, chacha20poly1305.NonceSize)
	copy(nonce[4:], label)
	return nonce, nil
}

// CounterNonce builds a 12-byte nonce holding counter as 64-bit little-endian
// in its last 8 bytes.
func CounterNonce(counter uint64) []byte {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	binary.LittleEndian.PutUint64(nonce[4:], counter)
	return nonce
}

// Seal encrypts and authenticates plaintext with ChaCha20-Poly1305.
// The returned slice is ciphertext || tag.
func Seal(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrInvalidKeySize
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrInvalidNonceSize
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// Open authenticates and decrypts ciphertext || tag with ChaCha20-Poly1305.
func Open(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrInvalidKeySize
	}
	if len(nonce) != aead.NonceSize() {
		return nil, ErrInvalidNonceSize
	}
	if len(ciphertext) < TagSize {
		return nil, ErrDecrypt
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// SealLabel seals plaintext under key with a labelled nonce such as "PS-Msg05".
func SealLabel(key []byte, label string, plaintext []byte) ([]byte, error) {
	nonce, err := LabelNonce(label)
	if err != nil {
		return nil, err
	}
	return Seal(key, nonce, plaintext, nil)
}

// OpenLabel opens a message sealed by SealLabel.
func OpenLabel(key []byte, label string, ciphertext []byte) ([]byte, error) {
	nonce, err := LabelNonce(label)
	if err != nil {
		return nil, err
	}
	return Open(key, nonce, ciphertext, nil)
}
