package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/backkem/pairing/pkg/pairing"
	"github.com/backkem/pairing/pkg/securechannel"
	"github.com/backkem/pairing/pkg/store"
)

const testSetupCode = "518-08-582"

// controller is the dialing side of a test connection.
type controller struct {
	store   *store.MemoryStore
	codes   []string
	prompts []pairing.Flags
	session *pairing.Session
}

func newController(codes ...string) *controller {
	return &controller{store: store.NewMemoryStore(), codes: codes}
}

func (c *controller) run(t *testing.T, conn net.Conn, typ pairing.Type) error {
	t.Helper()
	d := pairing.StoreDelegate(c.store)
	d.PromptForSetupCode = func(flags pairing.Flags, delay int32) error {
		c.prompts = append(c.prompts, flags)
		if len(c.codes) == 0 {
			return nil
		}
		code := c.codes[0]
		c.codes = c.codes[1:]
		return c.session.SetSetupCode(code)
	}
	if c.session == nil || c.session.Type() != typ {
		if c.session != nil {
			c.session.Close()
		}
		s, err := pairing.Create(d, typ)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		c.session = s
		t.Cleanup(func() { s.Close() })
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return RunExchange(ctx, conn, c.session, nil)
}

type testServer struct {
	*Server
	store  *store.MemoryStore
	paired chan string
}

func newTestServer(t *testing.T, listener net.Listener) *testServer {
	t.Helper()
	ts := &testServer{
		store:  store.NewMemoryStore(),
		paired: make(chan string, 4),
	}
	srv, err := NewServer(ServerConfig{
		Listener: listener,
		Store:    ts.store,
		Delegate: pairing.Delegate{
			ShowSetupCode: func(pairing.Flags) (string, error) { return testSetupCode, nil },
		},
		MaxTries:         10,
		HandshakeTimeout: 5 * time.Second,
		OnPaired:         func(id string) { ts.paired <- id },
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	ts.Server = srv
	return ts
}

func (ts *testServer) waitPaired(t *testing.T) string {
	t.Helper()
	select {
	case id := <-ts.paired:
		return id
	case <-time.After(2 * time.Second):
		t.Fatal("OnPaired was not called")
		return ""
	}
}

func echo(t *testing.T, conn net.Conn, verify *pairing.Session) {
	t.Helper()
	secure, err := securechannel.Client(conn, verify, nil)
	if err != nil {
		t.Fatalf("securechannel.Client failed: %v", err)
	}
	defer secure.Close()

	msg := []byte("hello over the secure channel")
	if _, err := secure.Write(msg); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(secure, buf); err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if string(buf) != string(msg) {
		t.Errorf("echo = %q, want %q", buf, msg)
	}
}

func TestServer_SetupVerifyEcho(t *testing.T) {
	pipe := NewPipe()
	defer pipe.Close()
	srv := newTestServer(t, pipe.Listener())

	c := newController(testSetupCode)
	conn := pipe.Client()

	if err := c.run(t, conn, pairing.SetupClient); err != nil {
		t.Fatalf("pair-setup failed: %v", err)
	}
	ctrl, err := c.store.CopyIdentity(false)
	if err != nil {
		t.Fatalf("CopyIdentity failed: %v", err)
	}
	if got := srv.waitPaired(t); got != ctrl.Identifier {
		t.Errorf("OnPaired(%q), want %q", got, ctrl.Identifier)
	}
	if _, err := srv.store.FindPeer(ctrl.Identifier); err != nil {
		t.Errorf("server did not store controller: %v", err)
	}
	if srv.Throttle().Tries() != 0 {
		t.Errorf("Tries = %d after success, want 0", srv.Throttle().Tries())
	}

	if err := c.run(t, conn, pairing.VerifyClient); err != nil {
		t.Fatalf("pair-verify failed: %v", err)
	}
	echo(t, conn, c.session)
}

func TestServer_WrongCodeRetry(t *testing.T) {
	pipe := NewPipe()
	defer pipe.Close()
	srv := newTestServer(t, pipe.Listener())

	c := newController("000-00-000", testSetupCode)
	conn := pipe.Client()

	err := c.run(t, conn, pairing.SetupClient)
	if !errors.Is(err, pairing.ErrAuthentication) {
		t.Fatalf("first attempt err = %v, want ErrAuthentication", err)
	}
	if err := c.run(t, conn, pairing.SetupClient); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	srv.waitPaired(t)

	if len(c.prompts) != 2 {
		t.Fatalf("prompts = %d, want 2", len(c.prompts))
	}
	if c.prompts[1]&pairing.FlagIncorrect == 0 {
		t.Errorf("second prompt flags = %v, want FlagIncorrect", c.prompts[1])
	}
}

func TestServer_VerifyUnknownController(t *testing.T) {
	pipe := NewPipe()
	defer pipe.Close()
	newTestServer(t, pipe.Listener())

	// The controller knows the accessory but the accessory has no record of
	// the controller.
	c := newController()
	acc := store.NewMemoryStore()
	id, err := acc.CopyIdentity(true)
	if err != nil {
		t.Fatalf("CopyIdentity failed: %v", err)
	}
	c.store.SavePeer(&store.Peer{Identifier: id.Identifier, PublicKey: id.PublicKey})

	err = c.run(t, pipe.Client(), pairing.VerifyClient)
	if err == nil {
		t.Fatal("expected pair-verify to fail")
	}
}

func TestServer_TCP(t *testing.T) {
	config := DefaultServerConfig()
	config.ListenAddr = "127.0.0.1:0"
	config.Store = store.NewMemoryStore()
	config.MaxTries = 10
	config.Delegate.ShowSetupCode = func(pairing.Flags) (string, error) { return testSetupCode, nil }

	srv, err := NewServer(config)
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop()

	if err := srv.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start err = %v, want ErrAlreadyStarted", err)
	}

	conn, err := net.Dial("tcp", srv.Addr().String())
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	c := newController(testSetupCode)
	if err := c.run(t, conn, pairing.SetupClient); err != nil {
		t.Fatalf("pair-setup failed: %v", err)
	}
	if err := c.run(t, conn, pairing.VerifyClient); err != nil {
		t.Fatalf("pair-verify failed: %v", err)
	}
	echo(t, conn, c.session)
}

func TestServer_StopClosesConnections(t *testing.T) {
	pipe := NewPipe()
	defer pipe.Close()
	srv := newTestServer(t, pipe.Listener())

	c := newController(testSetupCode)
	conn := pipe.Client()
	if err := c.run(t, conn, pairing.SetupClient); err != nil {
		t.Fatalf("pair-setup failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- srv.Stop() }()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Stop failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}
}

func TestNewServer_RequiresStore(t *testing.T) {
	if _, err := NewServer(ServerConfig{}); !errors.Is(err, ErrNoStore) {
		t.Errorf("err = %v, want ErrNoStore", err)
	}
}

func TestSessionType(t *testing.T) {
	tests := []struct {
		name  string
		first []byte
		want  pairing.Type
	}{
		{"setup", []byte{0x00, 0x01, 0x00, 0x06, 0x01, 0x01}, pairing.SetupServer},
		{"verify method", []byte{0x00, 0x01, 0x02, 0x06, 0x01, 0x01}, pairing.VerifyServer},
		{"verify", []byte{0x06, 0x01, 0x01, 0x03, 0x01, 0xAA}, pairing.VerifyServer},
		{"garbage", []byte{0x06, 0x05}, pairing.VerifyServer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sessionType(tt.first); got != tt.want {
				t.Errorf("sessionType = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunExchange_ContextCanceled(t *testing.T) {
	// net.Pipe is synchronous: with nobody reading the peer end, the M1
	// write blocks until the deadline cuts it.
	conn, peer := net.Pipe()
	defer conn.Close()
	defer peer.Close()

	c := newController(testSetupCode)
	d := pairing.StoreDelegate(c.store)
	d.PromptForSetupCode = func(pairing.Flags, int32) error { return nil }
	s, err := pairing.Create(d, pairing.SetupClient)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = RunExchange(ctx, conn, s, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}
