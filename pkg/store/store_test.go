package store

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
)

func testPeer(id string, fill byte) *Peer {
	return &Peer{Identifier: id, PublicKey: bytes.Repeat([]byte{fill}, PublicKeySize)}
}

// storeFactories returns constructors for every Store implementation.
func storeFactories() map[string]func(t *testing.T, maxPeers int) Store {
	return map[string]func(t *testing.T, maxPeers int) Store{
		"memory": func(t *testing.T, maxPeers int) Store {
			return NewMemoryStoreWithConfig(MemoryStoreConfig{MaxPeers: maxPeers})
		},
		"sqlite": func(t *testing.T, maxPeers int) Store {
			s, err := OpenSQLiteStore(SQLiteStoreConfig{
				Path:     filepath.Join(t.TempDir(), "pairing.db"),
				MaxPeers: maxPeers,
			})
			if err != nil {
				t.Fatalf("OpenSQLiteStore failed: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStore_Identity(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, 0)

			if _, err := s.CopyIdentity(false); !errors.Is(err, ErrNotFound) {
				t.Fatalf("CopyIdentity(false) err = %v, want ErrNotFound", err)
			}

			created, err := s.CopyIdentity(true)
			if err != nil {
				t.Fatalf("CopyIdentity(true) failed: %v", err)
			}
			if created.Identifier == "" || len(created.PublicKey) != PublicKeySize || len(created.PrivateKey) != PrivateKeySize {
				t.Fatalf("unexpected identity %+v", created)
			}

			again, err := s.CopyIdentity(false)
			if err != nil {
				t.Fatalf("CopyIdentity(false) failed: %v", err)
			}
			if again.Identifier != created.Identifier || !bytes.Equal(again.PublicKey, created.PublicKey) {
				t.Error("identity changed between calls")
			}

			if err := s.DeleteIdentity(); err != nil {
				t.Fatalf("DeleteIdentity failed: %v", err)
			}
			if _, err := s.CopyIdentity(false); !errors.Is(err, ErrNotFound) {
				t.Errorf("after delete err = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestStore_Peers(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, 0)

			if _, err := s.FindPeer("A"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("FindPeer err = %v, want ErrNotFound", err)
			}

			if err := s.SavePeer(testPeer("B", 2)); err != nil {
				t.Fatalf("SavePeer failed: %v", err)
			}
			if err := s.SavePeer(testPeer("A", 1)); err != nil {
				t.Fatalf("SavePeer failed: %v", err)
			}

			// Overwrite replaces the key.
			if err := s.SavePeer(testPeer("A", 9)); err != nil {
				t.Fatalf("SavePeer overwrite failed: %v", err)
			}
			p, err := s.FindPeer("A")
			if err != nil {
				t.Fatalf("FindPeer failed: %v", err)
			}
			if p.PublicKey[0] != 9 {
				t.Errorf("public key not overwritten: %x", p.PublicKey)
			}

			peers, err := s.CopyPeers()
			if err != nil {
				t.Fatalf("CopyPeers failed: %v", err)
			}
			if len(peers) != 2 || peers[0].Identifier != "A" || peers[1].Identifier != "B" {
				t.Fatalf("CopyPeers = %v", peers)
			}

			if err := s.DeletePeer("A"); err != nil {
				t.Fatalf("DeletePeer failed: %v", err)
			}
			if err := s.DeletePeer("A"); !errors.Is(err, ErrNotFound) {
				t.Errorf("second DeletePeer err = %v, want ErrNotFound", err)
			}
			if err := s.DeletePeer(""); err != nil {
				t.Fatalf("DeletePeer(all) failed: %v", err)
			}
			peers, _ = s.CopyPeers()
			if len(peers) != 0 {
				t.Errorf("peers remain after delete all: %d", len(peers))
			}
		})
	}
}

func TestStore_PeerInfo(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, 0)

			if err := s.UpdatePeerInfo("missing", map[string]any{"x": "y"}); !errors.Is(err, ErrNotFound) {
				t.Fatalf("UpdatePeerInfo(missing) err = %v, want ErrNotFound", err)
			}

			if err := s.SavePeer(testPeer("A", 1)); err != nil {
				t.Fatalf("SavePeer failed: %v", err)
			}
			if err := s.UpdatePeerInfo("A", map[string]any{"name": "kitchen", "admin": true}); err != nil {
				t.Fatalf("UpdatePeerInfo failed: %v", err)
			}

			p, err := s.FindPeer("A")
			if err != nil {
				t.Fatalf("FindPeer failed: %v", err)
			}
			if p.Info["name"] != "kitchen" || p.Info["admin"] != true {
				t.Errorf("Info = %v", p.Info)
			}

			// Saving with Info replaces it.
			withInfo := testPeer("A", 3)
			withInfo.Info = map[string]any{"name": "hall"}
			if err := s.SavePeer(withInfo); err != nil {
				t.Fatalf("SavePeer failed: %v", err)
			}
			p, _ = s.FindPeer("A")
			if p.Info["name"] != "hall" {
				t.Errorf("Info = %v, want name=hall", p.Info)
			}
		})
	}
}

// Re-saving an identifier is a new pairing: the old key and metadata go.
func TestStore_SavePeerReplacesInfo(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, 0)
			if err := s.SavePeer(testPeer("A", 1)); err != nil {
				t.Fatalf("SavePeer failed: %v", err)
			}
			if err := s.UpdatePeerInfo("A", map[string]any{InfoPermissions: uint64(1)}); err != nil {
				t.Fatalf("UpdatePeerInfo failed: %v", err)
			}

			if err := s.SavePeer(testPeer("A", 2)); err != nil {
				t.Fatalf("SavePeer failed: %v", err)
			}
			p, err := s.FindPeer("A")
			if err != nil {
				t.Fatalf("FindPeer failed: %v", err)
			}
			if p.PublicKey[0] != 2 {
				t.Errorf("PublicKey not replaced: %x", p.PublicKey)
			}
			if len(p.Info) != 0 {
				t.Errorf("Info = %v after re-save, want none", p.Info)
			}
		})
	}
}

func TestStore_Validation(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, 0)
			if err := s.SavePeer(&Peer{Identifier: "A", PublicKey: make([]byte, 31)}); !errors.Is(err, ErrInvalidKey) {
				t.Errorf("short key err = %v, want ErrInvalidKey", err)
			}
			if err := s.SavePeer(testPeer("", 1)); !errors.Is(err, ErrInvalidIdentifier) {
				t.Errorf("empty id err = %v, want ErrInvalidIdentifier", err)
			}
		})
	}
}

func TestStore_MaxPeers(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, 1)
			if err := s.SavePeer(testPeer("A", 1)); err != nil {
				t.Fatalf("SavePeer failed: %v", err)
			}
			if err := s.SavePeer(testPeer("B", 2)); !errors.Is(err, ErrMaxPeers) {
				t.Errorf("second peer err = %v, want ErrMaxPeers", err)
			}
			// Updating an existing peer is allowed at the limit.
			if err := s.SavePeer(testPeer("A", 3)); err != nil {
				t.Errorf("overwrite at limit failed: %v", err)
			}
		})
	}
}

func TestStore_ConcurrentSaveFind(t *testing.T) {
	for name, newStore := range storeFactories() {
		t.Run(name, func(t *testing.T) {
			s := newStore(t, 0)
			if err := s.SavePeer(testPeer("P", 0)); err != nil {
				t.Fatalf("SavePeer failed: %v", err)
			}

			var wg sync.WaitGroup
			errCh := make(chan error, 64)
			for i := 0; i < 8; i++ {
				wg.Add(2)
				go func(fill byte) {
					defer wg.Done()
					for j := 0; j < 10; j++ {
						if err := s.SavePeer(testPeer("P", fill)); err != nil {
							errCh <- err
							return
						}
					}
				}(byte(i))
				go func() {
					defer wg.Done()
					for j := 0; j < 10; j++ {
						p, err := s.FindPeer("P")
						if err != nil {
							errCh <- err
							return
						}
						// A record is always a single writer's key.
						if !bytes.Equal(p.PublicKey, bytes.Repeat(p.PublicKey[:1], PublicKeySize)) {
							errCh <- fmt.Errorf("torn record %x", p.PublicKey)
							return
						}
					}
				}()
			}
			wg.Wait()
			close(errCh)
			for err := range errCh {
				t.Error(err)
			}
		})
	}
}

func TestSQLiteStore_Persists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pairing.db")

	s, err := OpenSQLiteStore(SQLiteStoreConfig{Path: path})
	if err != nil {
		t.Fatalf("OpenSQLiteStore failed: %v", err)
	}
	identity, err := s.CopyIdentity(true)
	if err != nil {
		t.Fatalf("CopyIdentity failed: %v", err)
	}
	peer := testPeer("A", 7)
	peer.Info = map[string]any{InfoPermissions: uint64(1)}
	if err := s.SavePeer(peer); err != nil {
		t.Fatalf("SavePeer failed: %v", err)
	}
	s.Close()

	s, err = OpenSQLiteStore(SQLiteStoreConfig{Path: path})
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	defer s.Close()

	again, err := s.CopyIdentity(false)
	if err != nil {
		t.Fatalf("CopyIdentity after reopen failed: %v", err)
	}
	if again.Identifier != identity.Identifier || !bytes.Equal(again.PrivateKey, identity.PrivateKey) {
		t.Error("identity not persisted")
	}
	p, err := s.FindPeer("A")
	if err != nil {
		t.Fatalf("FindPeer after reopen failed: %v", err)
	}
	if p.Info[InfoPermissions] != uint64(1) {
		t.Errorf("Info = %#v", p.Info)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	if err := s.SavePeer(testPeer("A", 1)); err != nil {
		t.Fatalf("SavePeer failed: %v", err)
	}
	p, _ := s.FindPeer("A")
	p.PublicKey[0] = 0xFF

	again, _ := s.FindPeer("A")
	if again.PublicKey[0] != 1 {
		t.Error("FindPeer returned shared storage")
	}
}
