// Package tlv8 implements the TLV8 encoding used by pairing messages.
//
// Each item is a 1-byte type, a 1-byte length and up to 255 bytes of value.
// Longer values are split across consecutive items of the same type and
// coalesced again when read.
package tlv8

// MIMEType is the content type of a TLV8 pairing message on HTTP transports.
const MIMEType = "application/pairing+tlv8"

// MaxItemLen is the largest value a single item can carry.
const MaxItemLen = 255

// MaxSize is the default cap on an encoded message.
const MaxSize = 16000

// Type identifies an item.
type Type uint8

// Pairing item types.
const (
	TypeMethod        Type = 0x00 // Pairing method (Method).
	TypeIdentifier    Type = 0x01 // UTF-8 identifier of the signing party.
	TypeSalt          Type = 0x02 // 16+ byte SRP salt.
	TypePublicKey     Type = 0x03 // SRP B/A, Curve25519 or Ed25519 public key.
	TypeProof         Type = 0x04 // SRP proof.
	TypeEncryptedData Type = 0x05 // ChaCha20-Poly1305 sealed sub-message.
	TypeState         Type = 0x06 // Exchange step (M1..M6).
	TypeError         Type = 0x07 // ErrorCode.
	TypeRetryDelay    Type = 0x08 // Seconds until the next attempt is allowed.
	TypeCertificate   Type = 0x09 // Factory-trust certificate.
	TypeSignature     Type = 0x0A // Ed25519 signature.
	TypeFragmentData  Type = 0x0C // Non-final fragment; empty means ack.
	TypeFragmentLast  Type = 0x0D // Final fragment.
)

var typeNames = map[Type]string{
	TypeMethod:        "Method",
	TypeIdentifier:    "Identifier",
	TypeSalt:          "Salt",
	TypePublicKey:     "PublicKey",
	TypeProof:         "Proof",
	TypeEncryptedData: "EncryptedData",
	TypeState:         "State",
	TypeError:         "Error",
	TypeRetryDelay:    "RetryDelay",
	TypeCertificate:   "Certificate",
	TypeSignature:     "Signature",
	TypeFragmentData:  "FragmentData",
	TypeFragmentLast:  "FragmentLast",
}

// String returns the item type name.
func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// Method is the value of a TypeMethod item.
type Method uint8

// Pairing methods.
const (
	MethodPairSetup    Method = 0
	MethodMFiPairSetup Method = 1
	MethodPairVerify   Method = 2
)

// String returns the method name.
func (m Method) String() string {
	switch m {
	case MethodPairSetup:
		return "PairSetup"
	case MethodMFiPairSetup:
		return "MFiPairSetup"
	case MethodPairVerify:
		return "PairVerify"
	default:
		return "Unknown"
	}
}

// ErrorCode is the value of a TypeError item.
type ErrorCode uint8

// Error codes reported to the peer.
const (
	ErrorUnknown        ErrorCode = 1
	ErrorAuthentication ErrorCode = 2
	ErrorBackoff        ErrorCode = 3
	ErrorUnknownPeer    ErrorCode = 4
	ErrorMaxPeers       ErrorCode = 5
	ErrorMaxTries       ErrorCode = 6
)

// String returns the error code name.
func (c ErrorCode) String() string {
	switch c {
	case ErrorUnknown:
		return "Unknown"
	case ErrorAuthentication:
		return "Authentication"
	case ErrorBackoff:
		return "Backoff"
	case ErrorUnknownPeer:
		return "UnknownPeer"
	case ErrorMaxPeers:
		return "MaxPeers"
	case ErrorMaxTries:
		return "MaxTries"
	default:
		return "Invalid"
	}
}

// MaxPayloadForTotal returns the largest payload that can be carried by an
// encoded value of at most total bytes, accounting for a 2-byte header per
// 255-byte item. Returns 0 when not even one payload byte fits.
func MaxPayloadForTotal(total int) int {
	if total <= 0 {
		return 0
	}
	full := total / (MaxItemLen + 2)
	rem := total % (MaxItemLen + 2)
	n := full * MaxItemLen
	if rem > 2 {
		n += rem - 2
	}
	return n
}

// EncodedLen returns the number of bytes a value of n bytes occupies once
// split into items.
func EncodedLen(n int) int {
	if n == 0 {
		return 2
	}
	items := (n + MaxItemLen - 1) / MaxItemLen
	return n + 2*items
}
