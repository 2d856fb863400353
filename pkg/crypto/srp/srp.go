// Package srp implements the SRP-6a exchange used by pair-setup.
//
// Parameters are fixed by the pairing protocol:
//   - Group: RFC 5054 3072-bit
//   - Hash: SHA-512
//   - Username: "Pair-Setup"
//   - Key derivative: x = H(s | H(I | ":" | P)) (RFC 2945)
//   - Salt: 16 random bytes
//
// Protocol flow:
//
//	Client (controller)                 Server (accessory)
//	-------------------                 ------------------
//	                                    NewServer(code)
//	               <----salt, B----     Salt(), PublicKey()
//	NewClient(code, salt, B)
//	PublicKey(), Proof() ---A, M1--->   ComputeKey(A)
//	                                    M2 = VerifyClientProof(M1)
//	VerifyServerProof(M2) <---M2----
//	K = SharedSecret()                  K = SharedSecret()
//
// The big-number arithmetic is provided by github.com/tadglines/go-pkgs.
package srp

import (
	"crypto/sha512"
	"errors"
	"hash"

	tsrp "github.com/tadglines/go-pkgs/crypto/srp"

	"github.com/backkem/pairing/pkg/crypto"
)

const (
	// Group is the SRP group name understood by the big-number backend.
	Group = "rfc5054.3072"

	// Username is the SRP identity used by pair-setup.
	Username = "Pair-Setup"

	// SaltSize is the length of generated salts.
	SaltSize = 16

	// MinSaltSize is the shortest salt accepted from a server.
	MinSaltSize = 16
)

// Errors returned by SRP sessions.
var (
	ErrEmptyCode     = errors.New("srp: empty setup code")
	ErrShortSalt     = errors.New("srp: salt too short")
	ErrEmptyKey      = errors.New("srp: empty public value")
	ErrInvalidKey    = errors.New("srp: invalid public value")
	ErrInvalidProof  = errors.New("srp: proof verification failed")
	ErrNoSharedKey   = errors.New("srp: shared key not computed")
	ErrSessionClosed = errors.New("srp: session closed")
)

// keyDerivativeRFC2945 returns x = H(s | H(I | ":" | P)).
func keyDerivativeRFC2945(h func() hash.Hash, id []byte) tsrp.KeyDerivationFunc {
	return func(salt, password []byte) []byte {
		hh := h()
		hh.Write(id)
		hh.Write([]byte(":"))
		hh.Write(password)
		inner := hh.Sum(nil)
		hh.Reset()
		hh.Write(salt)
		hh.Write(inner)
		return hh.Sum(nil)
	}
}

func newSRP() (*tsrp.SRP, error) {
	s, err := tsrp.NewSRP(Group, sha512.New, keyDerivativeRFC2945(sha512.New, []byte(Username)))
	if err != nil {
		return nil, err
	}
	s.SaltLength = SaltSize
	return s, nil
}

// Server is the accessory side of an SRP exchange.
type Server struct {
	session *tsrp.ServerSession
	salt    []byte
	key     []byte
	closed  bool
}

// NewServer computes a fresh salt and verifier for code and starts a server
// session.
func NewServer(code []byte) (*Server, error) {
	if len(code) == 0 {
		return nil, ErrEmptyCode
	}
	s, err := newSRP()
	if err != nil {
		return nil, err
	}
	salt, verifier, err := s.ComputeVerifier(code)
	if err != nil {
		return nil, err
	}
	return &Server{
		session: s.NewServerSession([]byte(Username), salt, verifier),
		salt:    salt,
	}, nil
}

// Salt returns the salt to send to the client.
func (s *Server) Salt() []byte {
	return append([]byte{}, s.salt...)
}

// PublicKey returns the server public value B.
func (s *Server) PublicKey() []byte {
	return s.session.GetB()
}

// ComputeKey derives the shared key from the client public value A.
func (s *Server) ComputeKey(clientPublic []byte) error {
	if s.closed {
		return ErrSessionClosed
	}
	if len(clientPublic) == 0 {
		return ErrEmptyKey
	}
	key, err := s.session.ComputeKey(clientPublic)
	if err != nil {
		return ErrInvalidKey
	}
	s.key = key
	return nil
}

// VerifyClientProof checks the client proof M1 and returns the server proof M2.
func (s *Server) VerifyClientProof(proof []byte) ([]byte, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.key == nil {
		return nil, ErrNoSharedKey
	}
	if !s.session.VerifyClientAuthenticator(proof) {
		return nil, ErrInvalidProof
	}
	return s.session.ComputeAuthenticator(proof), nil
}

// SharedSecret returns a copy of the shared key K.
func (s *Server) SharedSecret() ([]byte, error) {
	if s.key == nil {
		return nil, ErrNoSharedKey
	}
	return append([]byte{}, s.key...), nil
}

// Close wipes the retained shared key.
func (s *Server) Close() {
	crypto.Zero(s.key)
	s.key = nil
	s.closed = true
}

// Client is the controller side of an SRP exchange.
type Client struct {
	session *tsrp.ClientSession
	key     []byte
	proof   []byte
	closed  bool
}

// NewClient starts a client session for code against the server's salt and
// public value B and computes the shared key.
func NewClient(code, salt, serverPublic []byte) (*Client, error) {
	if len(code) == 0 {
		return nil, ErrEmptyCode
	}
	if len(salt) < MinSaltSize {
		return nil, ErrShortSalt
	}
	if len(serverPublic) == 0 {
		return nil, ErrEmptyKey
	}
	s, err := newSRP()
	if err != nil {
		return nil, err
	}

	session := s.NewClientSession([]byte(Username), code)
	key, err := session.ComputeKey(salt, serverPublic)
	if err != nil {
		return nil, ErrInvalidKey
	}
	return &Client{
		session: session,
		key:     key,
		proof:   session.ComputeAuthenticator(),
	}, nil
}

// PublicKey returns the client public value A.
func (c *Client) PublicKey() []byte {
	return c.session.GetA()
}

// Proof returns the client proof M1.
func (c *Client) Proof() []byte {
	return append([]byte{}, c.proof...)
}

// VerifyServerProof checks the server proof M2.
func (c *Client) VerifyServerProof(proof []byte) error {
	if c.closed {
		return ErrSessionClosed
	}
	if !c.session.VerifyServerAuthenticator(proof) {
		return ErrInvalidProof
	}
	return nil
}

// SharedSecret returns a copy of the shared key K.
func (c *Client) SharedSecret() ([]byte, error) {
	if c.key == nil {
		return nil, ErrNoSharedKey
	}
	return append([]byte{}, c.key...), nil
}

// Close wipes the retained shared key.
func (c *Client) Close() {
	crypto.Zero(c.key)
	crypto.Zero(c.proof)
	c.key = nil
	c.closed = true
}
