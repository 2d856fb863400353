package crypto

import (
	"crypto/sha512"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFSHA512 derives key material using HKDF-SHA512 (RFC 5869).
//
// Parameters:
//   - inputKey: Input keying material (IKM)
//   - salt: Optional salt value (can be nil or empty)
//   - info: Optional context/application-specific info (can be nil or empty)
//   - length: Number of bytes to derive (at most 255*64)
//
// Returns the derived key material of the specified length.
func HKDFSHA512(inputKey, salt, info []byte, length int) ([]byte, error) {
	if length < 0 {
		return nil, ErrInvalidLength
	}
	reader := hkdf.New(sha512.New, inputKey, salt, info)
	result := make([]byte, length)
	if _, err := io.ReadFull(reader, result); err != nil {
		return nil, err
	}
	return result, nil
}

// HKDFSHA512String is HKDFSHA512 with string salt and info labels.
func HKDFSHA512String(inputKey []byte, salt, info string, length int) ([]byte, error) {
	return HKDFSHA512(inputKey, []byte(salt), []byte(info), length)
}
