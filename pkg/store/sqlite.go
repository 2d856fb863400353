package store

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"reflect"
	"sync"

	"github.com/fxamacker/cbor/v2"
	"github.com/pion/logging"
	_ "modernc.org/sqlite"
)

// SQLiteStoreConfig configures a SQLiteStore.
type SQLiteStoreConfig struct {
	// Path is the database file. ":memory:" keeps the database in memory.
	Path string

	// MaxPeers limits the number of stored peers. 0 means unlimited.
	MaxPeers int

	// Rand is the entropy source for identity creation. nil uses crypto/rand.
	Rand io.Reader

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// SQLiteStore is a durable Store backed by SQLite.
//
// Peer metadata is stored as a CBOR map. Each write is a single statement,
// so readers see either the old or the new record.
type SQLiteStore struct {
	db       *sql.DB
	maxPeers int
	rand     io.Reader
	log      logging.LeveledLogger

	// mu serializes identity creation and the peer-limit check with inserts.
	mu sync.Mutex
}

var infoDecMode = func() cbor.DecMode {
	dm, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(err)
	}
	return dm
}()

var infoEncMode = func() cbor.EncMode {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	return em
}()

// OpenSQLiteStore opens or creates the database and its schema.
func OpenSQLiteStore(config SQLiteStoreConfig) (*SQLiteStore, error) {
	path := config.Path
	if path == "" {
		path = ":memory:"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}

	s := &SQLiteStore{
		db:       db,
		maxPeers: config.MaxPeers,
		rand:     config.Rand,
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("store")
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS identity (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		identifier TEXT NOT NULL,
		public_key BLOB NOT NULL,
		private_key BLOB NOT NULL
	);

	CREATE TABLE IF NOT EXISTS peers (
		identifier TEXT PRIMARY KEY,
		public_key BLOB NOT NULL,
		info BLOB
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CopyIdentity returns the stored identity, creating one if allowed.
func (s *SQLiteStore) CopyIdentity(allowCreate bool) (*Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var identity Identity
	err := s.db.QueryRow(`SELECT identifier, public_key, private_key FROM identity WHERE id = 1`).
		Scan(&identity.Identifier, &identity.PublicKey, &identity.PrivateKey)
	switch {
	case err == nil:
		return &identity, nil
	case !errors.Is(err, sql.ErrNoRows):
		return nil, err
	case !allowCreate:
		return nil, ErrNotFound
	}

	created, err := NewIdentity(s.rand)
	if err != nil {
		return nil, err
	}
	_, err = s.db.Exec(`INSERT INTO identity (id, identifier, public_key, private_key) VALUES (1, ?, ?, ?)`,
		created.Identifier, created.PublicKey, created.PrivateKey)
	if err != nil {
		return nil, err
	}
	if s.log != nil {
		s.log.Infof("created identity %s", created.Identifier)
	}
	return created, nil
}

// DeleteIdentity removes the stored identity.
func (s *SQLiteStore) DeleteIdentity() error {
	_, err := s.db.Exec(`DELETE FROM identity`)
	return err
}

// FindPeer returns the peer with the given identifier.
func (s *SQLiteStore) FindPeer(identifier string) (*Peer, error) {
	var (
		peer Peer
		info []byte
	)
	err := s.db.QueryRow(`SELECT identifier, public_key, info FROM peers WHERE identifier = ?`, identifier).
		Scan(&peer.Identifier, &peer.PublicKey, &info)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if peer.Info, err = decodeInfo(info); err != nil {
		return nil, err
	}
	return &peer, nil
}

// SavePeer inserts or replaces a peer, key and metadata, in one statement.
func (s *SQLiteStore) SavePeer(peer *Peer) error {
	if err := peer.Validate(); err != nil {
		return err
	}
	info, err := encodeInfo(peer.Info)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxPeers > 0 {
		var exists, count int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM peers WHERE identifier = ?`, peer.Identifier).Scan(&exists); err != nil {
			return err
		}
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM peers`).Scan(&count); err != nil {
			return err
		}
		if exists == 0 && count >= s.maxPeers {
			return ErrMaxPeers
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO peers (identifier, public_key, info) VALUES (?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			public_key = excluded.public_key,
			info = excluded.info`,
		peer.Identifier, peer.PublicKey, info)
	if err != nil {
		return err
	}
	if s.log != nil {
		s.log.Debugf("saved peer %s", peer.Identifier)
	}
	return nil
}

// DeletePeer removes one peer, or all peers for an empty identifier.
func (s *SQLiteStore) DeletePeer(identifier string) error {
	if identifier == "" {
		_, err := s.db.Exec(`DELETE FROM peers`)
		return err
	}
	res, err := s.db.Exec(`DELETE FROM peers WHERE identifier = ?`, identifier)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CopyPeers returns all peers ordered by identifier.
func (s *SQLiteStore) CopyPeers() ([]*Peer, error) {
	rows, err := s.db.Query(`SELECT identifier, public_key, info FROM peers ORDER BY identifier`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make([]*Peer, 0)
	for rows.Next() {
		var (
			peer Peer
			info []byte
		)
		if err := rows.Scan(&peer.Identifier, &peer.PublicKey, &info); err != nil {
			return nil, err
		}
		if peer.Info, err = decodeInfo(info); err != nil {
			return nil, err
		}
		result = append(result, &peer)
	}
	return result, rows.Err()
}

// UpdatePeerInfo replaces a peer's metadata.
func (s *SQLiteStore) UpdatePeerInfo(identifier string, info map[string]any) error {
	blob, err := encodeInfo(info)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(`UPDATE peers SET info = ? WHERE identifier = ?`, blob, identifier)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func encodeInfo(info map[string]any) ([]byte, error) {
	if info == nil {
		return nil, nil
	}
	blob, err := infoEncMode.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("store: encode peer info: %w", err)
	}
	return blob, nil
}

func decodeInfo(blob []byte) (map[string]any, error) {
	if len(blob) == 0 {
		return nil, nil
	}
	var info map[string]any
	if err := infoDecMode.Unmarshal(blob, &info); err != nil {
		return nil, fmt.Errorf("store: decode peer info: %w", err)
	}
	return info, nil
}

// Verify SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)
