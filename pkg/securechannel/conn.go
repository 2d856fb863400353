// Package securechannel provides an encrypted byte stream over a net.Conn
// keyed from a completed pair-verify session.
//
// Each frame is a 2-byte little-endian length, the ChaCha20-Poly1305
// ciphertext of that many bytes and a 16-byte tag. The length bytes are the
// additional authenticated data. Each direction uses its own key and a 64-bit
// frame counter as nonce, starting at zero.
package securechannel

import (
	"crypto/cipher"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/backkem/pairing/pkg/crypto"
	"github.com/backkem/pairing/pkg/pairing"
)

const (
	// LengthSize is the size of the frame length prefix.
	LengthSize = 2

	// MaxWriteFrame is the largest plaintext written in one frame.
	MaxWriteFrame = 1024

	// MaxReadFrame is the largest plaintext accepted in one frame.
	MaxReadFrame = 16 * 1024
)

// Errors.
var (
	ErrInvalidKey     = errors.New("securechannel: key must be 32 bytes")
	ErrFrameTooLarge  = errors.New("securechannel: frame too large")
	ErrDecrypt        = errors.New("securechannel: frame authentication failed")
	ErrNonceExhausted = errors.New("securechannel: frame counter exhausted")
	ErrUnverifiedPeer = errors.New("securechannel: session is not a completed pair-verify")
)

// Config configures a Conn.
type Config struct {
	// ReadKey decrypts frames from the peer. Required.
	ReadKey []byte

	// WriteKey encrypts frames to the peer. Required.
	WriteKey []byte

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Conn is an encrypted net.Conn. Reads and writes may run concurrently with
// each other; concurrent reads (or writes) are serialized.
type Conn struct {
	conn net.Conn
	log  logging.LeveledLogger

	readMu    sync.Mutex
	readAEAD  cipher.AEAD
	readKey   []byte
	readNonce uint64
	pending   []byte // decrypted bytes not yet returned
	readErr   error

	writeMu    sync.Mutex
	writeAEAD  cipher.AEAD
	writeKey   []byte
	writeNonce uint64

	closeOnce sync.Once
}

// NewConn wraps conn with the given keys.
func NewConn(conn net.Conn, config Config) (*Conn, error) {
	if len(config.ReadKey) != chacha20poly1305.KeySize || len(config.WriteKey) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	c := &Conn{
		conn:     conn,
		readKey:  append([]byte{}, config.ReadKey...),
		writeKey: append([]byte{}, config.WriteKey...),
	}
	var err error
	if c.readAEAD, err = chacha20poly1305.New(c.readKey); err != nil {
		return nil, err
	}
	if c.writeAEAD, err = chacha20poly1305.New(c.writeKey); err != nil {
		return nil, err
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("securechannel")
	}
	return c, nil
}

// Keys derives the control channel keys from a completed pair-verify
// session. The controller writes with the write key and the accessory reads
// with it; isClient selects the side.
func Keys(s *pairing.Session, isClient bool) (read, write []byte, err error) {
	if s == nil || !s.Done() {
		return nil, nil, ErrUnverifiedPeer
	}
	readInfo, writeInfo := pairing.ControlReadEncryptionKey, pairing.ControlWriteEncryptionKey
	if !isClient {
		readInfo, writeInfo = writeInfo, readInfo
	}
	read, err = s.DeriveKey([]byte(pairing.ControlSalt), []byte(readInfo), chacha20poly1305.KeySize)
	if err != nil {
		return nil, nil, err
	}
	write, err = s.DeriveKey([]byte(pairing.ControlSalt), []byte(writeInfo), chacha20poly1305.KeySize)
	if err != nil {
		crypto.Zero(read)
		return nil, nil, err
	}
	return read, write, nil
}

// Client wraps conn as the controller side of a verified session.
func Client(conn net.Conn, s *pairing.Session, factory logging.LoggerFactory) (*Conn, error) {
	return newFromSession(conn, s, true, factory)
}

// Server wraps conn as the accessory side of a verified session.
func Server(conn net.Conn, s *pairing.Session, factory logging.LoggerFactory) (*Conn, error) {
	return newFromSession(conn, s, false, factory)
}

func newFromSession(conn net.Conn, s *pairing.Session, isClient bool, factory logging.LoggerFactory) (*Conn, error) {
	read, write, err := Keys(s, isClient)
	if err != nil {
		return nil, err
	}
	defer crypto.Zero(read)
	defer crypto.Zero(write)
	return NewConn(conn, Config{ReadKey: read, WriteKey: write, LoggerFactory: factory})
}

// Read reads decrypted data.
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if len(c.pending) == 0 {
		if c.readErr != nil {
			return 0, c.readErr
		}
		if err := c.readFrame(); err != nil {
			c.readErr = err
			return 0, err
		}
	}
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *Conn) readFrame() error {
	var hdr [LengthSize]byte
	if _, err := io.ReadFull(c.conn, hdr[:]); err != nil {
		return err
	}
	n := int(binary.LittleEndian.Uint16(hdr[:]))
	if n > MaxReadFrame {
		return ErrFrameTooLarge
	}

	buf := make([]byte, n+chacha20poly1305.Overhead)
	if _, err := io.ReadFull(c.conn, buf); err != nil {
		if errors.Is(err, io.EOF) {
			return io.ErrUnexpectedEOF
		}
		return err
	}
	if c.readNonce == math.MaxUint64 {
		return ErrNonceExhausted
	}
	plain, err := c.readAEAD.Open(buf[:0], crypto.CounterNonce(c.readNonce), buf, hdr[:])
	if err != nil {
		if c.log != nil {
			c.log.Warnf("frame %d failed authentication", c.readNonce)
		}
		return ErrDecrypt
	}
	c.readNonce++
	c.pending = plain
	return nil
}

// Write encrypts p in frames of at most MaxWriteFrame bytes.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	written := 0
	for len(p) > 0 {
		n := min(len(p), MaxWriteFrame)
		if c.writeNonce == math.MaxUint64 {
			return written, ErrNonceExhausted
		}

		frame := make([]byte, LengthSize, LengthSize+n+chacha20poly1305.Overhead)
		binary.LittleEndian.PutUint16(frame, uint16(n))
		frame = c.writeAEAD.Seal(frame, crypto.CounterNonce(c.writeNonce), p[:n], frame[:LengthSize])
		c.writeNonce++

		if _, err := c.conn.Write(frame); err != nil {
			return written, err
		}
		written += n
		p = p[n:]
	}
	return written, nil
}

// Close closes the underlying connection and wipes the retained key copies.
func (c *Conn) Close() error {
	err := c.conn.Close()
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		crypto.Zero(c.writeKey)
		c.writeMu.Unlock()
		// Read may be blocked on the network; the read key is wiped
		// without its lock once the conn is closed.
		crypto.Zero(c.readKey)
	})
	return err
}

// LocalAddr returns the local network address.
func (c *Conn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// RemoteAddr returns the remote network address.
func (c *Conn) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

// SetDeadline sets the read and write deadlines.
func (c *Conn) SetDeadline(t time.Time) error { return c.conn.SetDeadline(t) }

// SetReadDeadline sets the read deadline.
func (c *Conn) SetReadDeadline(t time.Time) error { return c.conn.SetReadDeadline(t) }

// SetWriteDeadline sets the write deadline.
func (c *Conn) SetWriteDeadline(t time.Time) error { return c.conn.SetWriteDeadline(t) }

var _ net.Conn = (*Conn)(nil)
