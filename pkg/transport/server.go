package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/pairing/pkg/pairing"
	"github.com/backkem/pairing/pkg/securechannel"
	"github.com/backkem/pairing/pkg/store"
	"github.com/backkem/pairing/pkg/tlv8"
)

// DefaultHandshakeTimeout bounds one pair-setup or pair-verify exchange.
const DefaultHandshakeTimeout = 30 * time.Second

// ConnHandler serves a connection after pair-verify. It owns conn and must
// close it.
type ConnHandler func(conn *securechannel.Conn, peerIdentifier string)

// ServerConfig configures the pairing Server.
type ServerConfig struct {
	// Listener is an optional pre-existing Listener to use.
	// If nil, a new listener will be created using ListenAddr.
	Listener net.Listener

	// ListenAddr is the address to listen on (e.g., ":5541").
	// Ignored if Listener is provided.
	ListenAddr string

	// Store holds the accessory identity and its paired controllers.
	// Required.
	Store store.Store

	// Delegate supplies ShowSetupCode and HideSetupCode for pair-setup.
	// Credential callbacks left unset are served by Store.
	Delegate pairing.Delegate

	// Throttle is shared by every pair-setup session of the server.
	// If nil, one is created with MaxTries.
	Throttle *pairing.Throttle

	// MaxTries caps pair-setup attempts when Throttle is nil. 0 selects
	// exponential backoff.
	MaxTries int

	// HandshakeTimeout bounds each exchange. Default: 30s.
	HandshakeTimeout time.Duration

	// Handler serves verified connections. If nil, EchoHandler is used.
	Handler ConnHandler

	// OnPaired is called after a controller completes pair-setup.
	OnPaired func(peerIdentifier string)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// DefaultServerConfig returns a ServerConfig with default timeouts.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:       ":0",
		HandshakeTimeout: DefaultHandshakeTimeout,
	}
}

// Server accepts stream connections and runs pairing over length-prefixed
// frames. A connection may carry any number of pair-setup exchanges
// followed by one pair-verify, after which it is upgraded to a
// securechannel.Conn and passed to the handler.
type Server struct {
	config   ServerConfig
	listener net.Listener
	throttle *pairing.Throttle
	handler  ConnHandler
	log      logging.LeveledLogger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connsMu sync.Mutex
	conns   map[net.Conn]struct{}

	mu      sync.Mutex
	started bool
	closed  bool
}

// NewServer creates a new Server with the given configuration.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Store == nil {
		return nil, ErrNoStore
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}

	s := &Server{
		config:   config,
		listener: config.Listener,
		throttle: config.Throttle,
		handler:  config.Handler,
		conns:    make(map[net.Conn]struct{}),
	}
	if s.throttle == nil {
		s.throttle = pairing.NewThrottle(pairing.ThrottleConfig{MaxTries: config.MaxTries})
	}
	if s.handler == nil {
		s.handler = EchoHandler
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("transport")
	}

	if s.listener == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}
		listener, err := net.Listen("tcp", addr)
		if err != nil {
			return nil, err
		}
		s.listener = listener
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s, nil
}

// Start begins accepting connections.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if s.log != nil {
		s.log.Infof("pairing server listening on %s", s.listener.Addr())
	}

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener and all connections and waits for handlers.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	if s.log != nil {
		s.log.Info("stopping pairing server")
	}

	s.cancel()
	s.listener.Close()

	s.connsMu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.connsMu.Unlock()

	s.wg.Wait()
	return nil
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Throttle returns the throttle shared by the server's pair-setup sessions.
func (s *Server) Throttle() *pairing.Throttle {
	return s.throttle
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			continue
		}

		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// track registers conn so Stop can close it. It returns false once the
// server is stopping.
func (s *Server) track(conn net.Conn) bool {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	delete(s.conns, conn)
}

// handleConn runs pairing exchanges until a pair-verify completes or the
// connection fails.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	upgraded := false
	defer func() {
		s.untrack(conn)
		if !upgraded {
			conn.Close()
		}
	}()

	reader := NewFrameReader(conn)
	for {
		conn.SetReadDeadline(time.Now().Add(s.config.HandshakeTimeout))
		first, err := reader.ReadFrame()
		if err != nil {
			if s.log != nil && !errors.Is(err, io.EOF) && s.ctx.Err() == nil {
				s.log.Debugf("%s: read failed: %v", conn.RemoteAddr(), err)
			}
			return
		}
		conn.SetReadDeadline(time.Time{})

		typ := sessionType(first)
		session, err := pairing.New(pairing.Config{
			Type:          typ,
			Delegate:      s.config.Delegate,
			Store:         s.config.Store,
			Throttle:      s.throttle,
			LoggerFactory: s.config.LoggerFactory,
		})
		if err != nil {
			if s.log != nil {
				s.log.Errorf("failed to create %s session: %v", typ, err)
			}
			return
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.config.HandshakeTimeout)
		err = RunExchange(ctx, conn, session, first)
		cancel()
		if err != nil {
			if s.log != nil {
				s.log.Infof("%s: %s failed: %v", conn.RemoteAddr(), typ, err)
			}
			session.Close()
			return
		}

		peer, _ := session.PeerIdentifier()
		if typ == pairing.SetupServer {
			session.Close()
			if s.log != nil {
				s.log.Infof("%s: paired with %q", conn.RemoteAddr(), peer)
			}
			if s.config.OnPaired != nil {
				s.config.OnPaired(peer)
			}
			continue
		}

		secure, err := securechannel.Server(conn, session, s.config.LoggerFactory)
		session.Close()
		if err != nil {
			if s.log != nil {
				s.log.Errorf("%s: secure channel setup failed: %v", conn.RemoteAddr(), err)
			}
			return
		}
		if s.log != nil {
			s.log.Infof("%s: verified %q", conn.RemoteAddr(), peer)
		}
		upgraded = true
		s.handler(secure, peer)
		return
	}
}

// sessionType selects the server handshake from the first message. Pair-setup
// M1 carries a Method item; pair-verify M1 does not.
func sessionType(first []byte) pairing.Type {
	items, err := tlv8.Parse(first)
	if err != nil || !items.Has(tlv8.TypeMethod) {
		return pairing.VerifyServer
	}
	m, err := items.GetUint8(tlv8.TypeMethod)
	if err != nil || tlv8.Method(m) == tlv8.MethodPairVerify {
		return pairing.VerifyServer
	}
	return pairing.SetupServer
}

// EchoHandler writes back everything it reads until the peer closes.
func EchoHandler(conn *securechannel.Conn, peerIdentifier string) {
	defer conn.Close()
	io.Copy(conn, conn)
}
