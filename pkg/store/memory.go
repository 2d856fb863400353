package store

import (
	"io"
	"maps"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store implementation.
// Useful for testing and development. Data is lost when the process exits.
//
// All methods are safe for concurrent use.
type MemoryStore struct {
	mu sync.RWMutex

	identity *Identity
	peers    map[string]*Peer
	maxPeers int
	rand     io.Reader
}

// MemoryStoreConfig configures a MemoryStore.
type MemoryStoreConfig struct {
	// MaxPeers limits the number of stored peers. 0 means unlimited.
	MaxPeers int

	// Rand is the entropy source for identity creation. nil uses crypto/rand.
	Rand io.Reader
}

// NewMemoryStore creates an empty, unlimited in-memory store.
func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryStoreConfig{})
}

// NewMemoryStoreWithConfig creates an empty in-memory store.
func NewMemoryStoreWithConfig(config MemoryStoreConfig) *MemoryStore {
	return &MemoryStore{
		peers:    make(map[string]*Peer),
		maxPeers: config.MaxPeers,
		rand:     config.Rand,
	}
}

// SetIdentity replaces the stored identity.
func (m *MemoryStore) SetIdentity(identity *Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity.Wipe()
	m.identity = identity.Clone()
}

// CopyIdentity returns the stored identity, creating one if allowed.
func (m *MemoryStore) CopyIdentity(allowCreate bool) (*Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.identity == nil {
		if !allowCreate {
			return nil, ErrNotFound
		}
		identity, err := NewIdentity(m.rand)
		if err != nil {
			return nil, err
		}
		m.identity = identity
	}
	return m.identity.Clone(), nil
}

// DeleteIdentity removes the stored identity.
func (m *MemoryStore) DeleteIdentity() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity.Wipe()
	m.identity = nil
	return nil
}

// FindPeer returns a copy of the peer.
func (m *MemoryStore) FindPeer(identifier string) (*Peer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.peers[identifier]
	if !ok {
		return nil, ErrNotFound
	}
	return p.Clone(), nil
}

// SavePeer stores or replaces a peer.
func (m *MemoryStore) SavePeer(peer *Peer) error {
	if err := peer.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.peers[peer.Identifier]; !ok && m.maxPeers > 0 && len(m.peers) >= m.maxPeers {
		return ErrMaxPeers
	}
	m.peers[peer.Identifier] = peer.Clone()
	return nil
}

// DeletePeer removes a peer, or all peers for an empty identifier.
func (m *MemoryStore) DeletePeer(identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if identifier == "" {
		m.peers = make(map[string]*Peer)
		return nil
	}
	if _, ok := m.peers[identifier]; !ok {
		return ErrNotFound
	}
	delete(m.peers, identifier)
	return nil
}

// CopyPeers returns copies of all peers ordered by identifier.
func (m *MemoryStore) CopyPeers() ([]*Peer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*Peer, 0, len(m.peers))
	for _, p := range m.peers {
		result = append(result, p.Clone())
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Identifier < result[j].Identifier })
	return result, nil
}

// UpdatePeerInfo replaces a peer's metadata.
func (m *MemoryStore) UpdatePeerInfo(identifier string, info map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.peers[identifier]
	if !ok {
		return ErrNotFound
	}
	updated := p.Clone()
	updated.Info = maps.Clone(info)
	m.peers[identifier] = updated
	return nil
}

// Verify MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
