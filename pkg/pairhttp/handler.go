// Package pairhttp serves pair-setup and pair-verify over HTTP.
//
// Each POST carries one TLV8 message with Content-Type
// application/pairing+tlv8 and the response body is the reply message. The
// first message of an exchange is sent without a session header; the
// response names the session in X-Pairing-Session and every later message of
// the exchange must echo it.
//
// A session is wiped as soon as its exchange completes. For /pair-verify this
// means the shared secret is discarded along with it: over HTTP, pair-verify
// only confirms that a controller is reachable and still paired, and no key
// can be derived from it afterwards. Encrypted traffic needs the TCP
// transport, which keeps the verified session on the connection.
package pairhttp

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/backkem/pairing/pkg/pairing"
	"github.com/backkem/pairing/pkg/store"
	"github.com/backkem/pairing/pkg/tlv8"
)

const (
	// ContentType is the media type of pairing message bodies.
	ContentType = "application/pairing+tlv8"

	// SessionHeader names the pairing session a message belongs to.
	SessionHeader = "X-Pairing-Session"

	// DefaultIdleTimeout is how long an unfinished session is kept.
	DefaultIdleTimeout = time.Minute

	// DefaultMaxSessions caps concurrently open sessions.
	DefaultMaxSessions = 16
)

// Errors.
var (
	ErrNoStore = errors.New("pairhttp: store is required")
	ErrClosed  = errors.New("pairhttp: handler closed")
)

// Config configures a Handler.
type Config struct {
	// Store holds the accessory identity and its paired controllers.
	// Required.
	Store store.Store

	// Delegate supplies ShowSetupCode and HideSetupCode. Credential
	// callbacks left unset are served by Store.
	Delegate pairing.Delegate

	// Throttle is shared by every pair-setup session. If nil, one is
	// created with MaxTries.
	Throttle *pairing.Throttle

	// MaxTries caps pair-setup attempts when Throttle is nil.
	MaxTries int

	// IdleTimeout expires sessions that receive no message. Default: 1m.
	IdleTimeout time.Duration

	// MaxSessions caps open sessions. Default: 16.
	MaxSessions int

	// RateLimit caps pairing POSTs per client IP per minute. 0 disables it.
	RateLimit int

	// Registerer receives the handler's collectors. If nil, metrics are
	// kept but not exported.
	Registerer prometheus.Registerer

	// OnPaired is called after a controller completes pair-setup.
	OnPaired func(peerIdentifier string)

	// OnRemoved is called after DELETE /pairings/{id} removes a controller.
	OnRemoved func(peerIdentifier string)

	// Now returns the current time. nil uses time.Now.
	Now func() time.Time

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// DefaultConfig returns a Config with default limits.
func DefaultConfig() Config {
	return Config{
		IdleTimeout: DefaultIdleTimeout,
		MaxSessions: DefaultMaxSessions,
	}
}

// Handler is an http.Handler for the pairing endpoints.
type Handler struct {
	config   Config
	router   chi.Router
	throttle *pairing.Throttle
	metrics  *metrics
	log      logging.LeveledLogger

	mu       sync.Mutex
	sessions map[string]*entry
	closed   bool
}

// entry is one open pairing session.
type entry struct {
	mu       sync.Mutex
	typ      pairing.Type
	session  *pairing.Session
	lastUsed time.Time
	closed   bool
}

func (e *entry) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		e.session.Close()
	}
}

// New creates a Handler.
func New(config Config) (*Handler, error) {
	if config.Store == nil {
		return nil, ErrNoStore
	}
	if config.IdleTimeout <= 0 {
		config.IdleTimeout = DefaultIdleTimeout
	}
	if config.MaxSessions <= 0 {
		config.MaxSessions = DefaultMaxSessions
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	h := &Handler{
		config:   config,
		throttle: config.Throttle,
		metrics:  newMetrics(config.Registerer),
		sessions: make(map[string]*entry),
	}
	if h.throttle == nil {
		h.throttle = pairing.NewThrottle(pairing.ThrottleConfig{MaxTries: config.MaxTries, Now: config.Now})
	}
	if config.LoggerFactory != nil {
		h.log = config.LoggerFactory.NewLogger("pairhttp")
	}

	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Group(func(r chi.Router) {
		if config.RateLimit > 0 {
			r.Use(httprate.LimitByIP(config.RateLimit, time.Minute))
		}
		r.Post("/pair-setup", h.exchangeHandler(pairing.SetupServer))
		r.Post("/pair-verify", h.exchangeHandler(pairing.VerifyServer))
	})
	r.Get("/pairings", h.listPairings)
	r.Delete("/pairings/{id}", h.removePairing)
	h.router = r
	return h, nil
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

// Throttle returns the throttle shared by pair-setup sessions.
func (h *Handler) Throttle() *pairing.Throttle {
	return h.throttle
}

// Sessions returns the number of open sessions.
func (h *Handler) Sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close wipes every open session. Later pairing requests fail with 503.
func (h *Handler) Close() error {
	h.mu.Lock()
	h.closed = true
	entries := h.sessions
	h.sessions = make(map[string]*entry)
	h.mu.Unlock()

	for _, e := range entries {
		e.close()
	}
	h.metrics.sessions.Set(0)
	return nil
}

func (h *Handler) exchangeHandler(typ pairing.Type) http.HandlerFunc {
	method := "pair-setup"
	if typ == pairing.VerifyServer {
		method = "pair-verify"
	}

	return func(w http.ResponseWriter, r *http.Request) {
		mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil || mediaType != ContentType {
			http.Error(w, "expected "+ContentType, http.StatusUnsupportedMediaType)
			return
		}
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, tlv8.MaxSize))
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if len(body) == 0 {
			http.Error(w, "empty message", http.StatusBadRequest)
			return
		}

		h.expire()

		id := r.Header.Get(SessionHeader)
		var e *entry
		if id == "" {
			id, e, err = h.open(typ)
			if err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		} else if e = h.lookup(id); e == nil {
			http.Error(w, "unknown pairing session", http.StatusNotFound)
			return
		}
		if e.typ != typ {
			http.Error(w, "session belongs to another exchange", http.StatusConflict)
			return
		}

		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			http.Error(w, "unknown pairing session", http.StatusNotFound)
			return
		}
		out, done, err := e.session.Exchange(body)
		e.lastUsed = h.config.Now()
		failed := e.session.State() == pairing.StateFailed
		peer, _ := e.session.PeerIdentifier()
		e.mu.Unlock()

		result := resultContinue
		switch {
		case done:
			result = resultDone
			h.remove(id, e)
		case err != nil && failed:
			result = resultFailed
			h.remove(id, e)
			if h.log != nil {
				h.log.Infof("%s session %s failed: %v", method, id, err)
			}
		case err != nil:
			result = resultRetry
			if h.log != nil {
				h.log.Debugf("%s session %s: %v", method, id, err)
			}
		}
		h.metrics.exchanges.WithLabelValues(method, result).Inc()

		if len(out) == 0 {
			status := http.StatusBadRequest
			if err == nil {
				status = http.StatusInternalServerError
			}
			http.Error(w, "pairing failed", status)
			return
		}

		if done && typ == pairing.SetupServer {
			h.metrics.paired.Inc()
			if h.log != nil {
				h.log.Infof("paired with %q", peer)
			}
			if h.config.OnPaired != nil {
				h.config.OnPaired(peer)
			}
		}

		if result != resultDone && result != resultFailed {
			w.Header().Set(SessionHeader, id)
		}
		w.Header().Set("Content-Type", ContentType)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(out)
	}
}

// open creates a session of typ under a new identifier.
func (h *Handler) open(typ pairing.Type) (string, *entry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return "", nil, ErrClosed
	}
	if len(h.sessions) >= h.config.MaxSessions {
		return "", nil, errors.New("too many pairing sessions")
	}

	s, err := pairing.New(pairing.Config{
		Type:          typ,
		Delegate:      h.config.Delegate,
		Store:         h.config.Store,
		Throttle:      h.throttle,
		LoggerFactory: h.config.LoggerFactory,
	})
	if err != nil {
		return "", nil, err
	}
	id := uuid.NewString()
	e := &entry{typ: typ, session: s, lastUsed: h.config.Now()}
	h.sessions[id] = e
	h.metrics.sessions.Inc()
	return id, e, nil
}

func (h *Handler) lookup(id string) *entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[id]
}

// remove drops e if it is still registered under id and wipes it.
func (h *Handler) remove(id string, e *entry) {
	h.mu.Lock()
	if h.sessions[id] == e {
		delete(h.sessions, id)
		h.metrics.sessions.Dec()
	}
	h.mu.Unlock()
	e.close()
}

// expire wipes sessions idle for longer than IdleTimeout.
func (h *Handler) expire() {
	now := h.config.Now()
	var expired []*entry

	h.mu.Lock()
	for id, e := range h.sessions {
		e.mu.Lock()
		idle := now.Sub(e.lastUsed)
		e.mu.Unlock()
		if idle > h.config.IdleTimeout {
			delete(h.sessions, id)
			h.metrics.sessions.Dec()
			expired = append(expired, e)
			if h.log != nil {
				h.log.Debugf("session %s expired", id)
			}
		}
	}
	h.mu.Unlock()

	for _, e := range expired {
		e.close()
	}
}

// Pairing is the JSON form of a paired peer.
type Pairing struct {
	Identifier string         `json:"identifier"`
	PublicKey  string         `json:"publicKey"`
	Info       map[string]any `json:"info,omitempty"`
}

func (h *Handler) listPairings(w http.ResponseWriter, r *http.Request) {
	peers, err := h.config.Store.CopyPeers()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]Pairing, 0, len(peers))
	for _, p := range peers {
		out = append(out, Pairing{
			Identifier: p.Identifier,
			PublicKey:  hex.EncodeToString(p.PublicKey),
			Info:       p.Info,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) removePairing(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := h.config.Store.FindPeer(id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "pairing not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := h.config.Store.DeletePeer(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if h.log != nil {
		h.log.Infof("removed pairing %q", id)
	}
	if h.config.OnRemoved != nil {
		h.config.OnRemoved(id)
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
