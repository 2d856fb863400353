// Package store persists this device's pairing identity and its paired peers.
package store

import (
	"crypto/rand"
	"errors"
	"io"
	"maps"
	"strings"

	"github.com/google/uuid"

	"github.com/backkem/pairing/pkg/crypto"
)

// Key sizes.
const (
	// PublicKeySize is the Ed25519 public key length.
	PublicKeySize = crypto.Ed25519PublicKeySize

	// PrivateKeySize is the Ed25519 seed length.
	PrivateKeySize = crypto.Ed25519SeedSize
)

// Well-known peer info keys.
const (
	// InfoPermissions holds the peer's permission bits (0 user, 1 admin).
	InfoPermissions = "permissions"
)

// Errors returned by stores.
var (
	ErrNotFound          = errors.New("store: not found")
	ErrInvalidKey        = errors.New("store: public key must be 32 bytes")
	ErrInvalidIdentifier = errors.New("store: empty identifier")
	ErrMaxPeers          = errors.New("store: peer limit reached")
	ErrClosed            = errors.New("store: closed")
)

// Identity is this device's long-term credential.
type Identity struct {
	Identifier string
	PublicKey  []byte // 32-byte Ed25519 public key
	PrivateKey []byte // 32-byte Ed25519 seed
}

// Clone returns a deep copy of the identity.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	return &Identity{
		Identifier: i.Identifier,
		PublicKey:  append([]byte{}, i.PublicKey...),
		PrivateKey: append([]byte{}, i.PrivateKey...),
	}
}

// Wipe zeroes the private key.
func (i *Identity) Wipe() {
	if i != nil {
		crypto.Zero(i.PrivateKey)
	}
}

// Peer is a remote device trusted after pair-setup.
type Peer struct {
	Identifier string
	PublicKey  []byte         // 32-byte Ed25519 public key
	Info       map[string]any // optional metadata
}

// Clone returns a copy of the peer. Info values are copied shallowly.
func (p *Peer) Clone() *Peer {
	if p == nil {
		return nil
	}
	return &Peer{
		Identifier: p.Identifier,
		PublicKey:  append([]byte{}, p.PublicKey...),
		Info:       maps.Clone(p.Info),
	}
}

// Validate checks the identifier and key length.
func (p *Peer) Validate() error {
	if p.Identifier == "" {
		return ErrInvalidIdentifier
	}
	if len(p.PublicKey) != PublicKeySize {
		return ErrInvalidKey
	}
	return nil
}

// Store abstracts persistent storage of the identity and peers.
// Implementations can use files, databases, or in-memory storage.
//
// All methods must be safe for concurrent use, and SavePeer must replace a
// record atomically so that a concurrent FindPeer never observes a partial
// write.
type Store interface {
	// CopyIdentity returns this device's identity. When none exists it is
	// created if allowCreate is set, otherwise ErrNotFound is returned.
	CopyIdentity(allowCreate bool) (*Identity, error)
	DeleteIdentity() error

	// FindPeer returns the peer with the given identifier or ErrNotFound.
	FindPeer(identifier string) (*Peer, error)

	// SavePeer inserts or replaces a peer. An existing record loses its old
	// key and metadata; a nil Info leaves it without metadata.
	SavePeer(peer *Peer) error

	// DeletePeer removes one peer, or all peers when identifier is empty.
	DeletePeer(identifier string) error

	CopyPeers() ([]*Peer, error)

	// UpdatePeerInfo replaces the metadata of an existing peer.
	UpdatePeerInfo(identifier string, info map[string]any) error
}

// NewIdentity generates an identity with an upper-case UUID identifier.
// A nil rand uses crypto/rand.
func NewIdentity(r io.Reader) (*Identity, error) {
	if r == nil {
		r = rand.Reader
	}
	id, err := uuid.NewRandomFromReader(r)
	if err != nil {
		return nil, err
	}
	pub, seed, err := crypto.GenerateEd25519(r)
	if err != nil {
		return nil, err
	}
	return &Identity{
		Identifier: strings.ToUpper(id.String()),
		PublicKey:  pub,
		PrivateKey: seed,
	}, nil
}
