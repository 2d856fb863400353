// Package pairing implements the pair-setup and pair-verify handshakes.
//
// Pair-setup bootstraps long-term trust between a controller (client) and an
// accessory (server) from a short setup code shown on the accessory, using
// SRP-6a followed by an exchange of Ed25519 long-term public keys over a
// ChaCha20-Poly1305 protected channel. Pair-verify re-authenticates two
// previously paired devices with an ephemeral X25519 exchange signed by their
// long-term keys and yields a shared secret for session key derivation.
//
// # Protocol Flow
//
// Pair-setup:
//
//	Client                                   Server
//	------                                   ------
//	M1 Method, State=1         ------>
//	                           <------       M2 Salt, PublicKey (B)
//	M3 PublicKey (A), Proof    ------>
//	                           <------       M4 Proof
//	M5 EncryptedData           ------>       (save client peer)
//	(save server peer)         <------       M6 EncryptedData
//
// Pair-verify:
//
//	Client                                   Server
//	------                                   ------
//	M1 PublicKey               ------>
//	                           <------       M2 PublicKey, EncryptedData
//	M3 EncryptedData           ------>
//	                           <------       M4 State=4
//
// # Usage
//
// Both sides drive a Session with Exchange, passing each message received
// from the peer, until done is reported:
//
//	s, err := pairing.Create(delegate, pairing.SetupClient)
//	var in []byte
//	for {
//		out, done, err := s.Exchange(in)
//		if len(out) > 0 {
//			// send out to the peer
//		}
//		if err != nil || done {
//			break
//		}
//		// in = next message from the peer
//	}
//	defer s.Close()
//
// A Session is not safe for concurrent use. Independent sessions may run in
// parallel; they share only the credential store and, optionally, a Throttle.
package pairing

// Type selects the handshake and side a Session runs. It is fixed at creation.
type Type int

const (
	// SetupClient is the controller side of pair-setup.
	SetupClient Type = iota + 1
	// SetupServer is the accessory side of pair-setup.
	SetupServer
	// VerifyClient is the controller side of pair-verify.
	VerifyClient
	// VerifyServer is the accessory side of pair-verify.
	VerifyServer
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case SetupClient:
		return "SetupClient"
	case SetupServer:
		return "SetupServer"
	case VerifyClient:
		return "VerifyClient"
	case VerifyServer:
		return "VerifyServer"
	default:
		return "Unknown"
	}
}

// IsValid returns true if t is one of the defined types.
func (t Type) IsValid() bool {
	return t >= SetupClient && t <= VerifyServer
}

func (t Type) isSetup() bool  { return t == SetupClient || t == SetupServer }
func (t Type) isVerify() bool { return t == VerifyClient || t == VerifyServer }

// Flags carry protocol policy and user-interface hints.
type Flags uint32

const (
	// FlagMFi requests proof of a factory-trust credential during pair-setup.
	FlagMFi Flags = 1 << 0

	// FlagIncorrect tells the prompt callback the previous code was wrong.
	FlagIncorrect Flags = 1 << 16

	// FlagThrottle tells the prompt callback that attempts are rate limited.
	FlagThrottle Flags = 1 << 17
)

// State is the coarse progress of a Session.
type State int

const (
	StateStart State = iota
	StateAwaitingPeer
	StateKeyExchange
	StateProofExchange
	StateAuthenticated
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStart:
		return "Start"
	case StateAwaitingPeer:
		return "AwaitingPeer"
	case StateKeyExchange:
		return "KeyExchange"
	case StateProofExchange:
		return "ProofExchange"
	case StateAuthenticated:
		return "Authenticated"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// step is the next message a session expects to process or produce.
type step uint8

const (
	stepM1 step = iota + 1
	stepM2
	stepM3
	stepM4
	stepM5
	stepM6
	stepDone
)

// Protocol constants.
const (
	// MinSetupCodeLen is the shortest setup code a server will present.
	MinSetupCodeLen = 4

	// MaxSetupCodeLen bounds the code returned by ShowSetupCode.
	MaxSetupCodeLen = 64

	// maxRetryDelay is the largest backoff a client accepts from a server.
	maxRetryDelay = 1<<31 - 1
)

// HKDF labels and nonces.
const (
	setupEncryptSalt        = "Pair-Setup-Encrypt-Salt"
	setupEncryptInfo        = "Pair-Setup-Encrypt-Info"
	setupControllerSignSalt = "Pair-Setup-Controller-Sign-Salt"
	setupControllerSignInfo = "Pair-Setup-Controller-Sign-Info"
	setupAccessorySignSalt  = "Pair-Setup-Accessory-Sign-Salt"
	setupAccessorySignInfo  = "Pair-Setup-Accessory-Sign-Info"

	verifyEncryptSalt = "Pair-Verify-Encrypt-Salt"
	verifyEncryptInfo = "Pair-Verify-Encrypt-Info"

	nonceSetupM5  = "PS-Msg05"
	nonceSetupM6  = "PS-Msg06"
	nonceVerifyM2 = "PV-Msg02"
	nonceVerifyM3 = "PV-Msg03"
)

// Labels for deriving control channel keys from a verified session.
const (
	ControlSalt               = "Control-Salt"
	ControlReadEncryptionKey  = "Control-Read-Encryption-Key"
	ControlWriteEncryptionKey = "Control-Write-Encryption-Key"
)
