package securechannel_test

import (
	"bytes"
	"errors"
	"io"
	"net"
	"testing"

	"github.com/backkem/pairing/pkg/pairing"
	"github.com/backkem/pairing/pkg/securechannel"
	"github.com/backkem/pairing/pkg/store"
	"github.com/backkem/pairing/pkg/transport"
)

const testSetupCode = "123-45-678"

// drive passes messages between a client and a server session until the
// client completes.
func drive(t *testing.T, client, server *pairing.Session) {
	t.Helper()
	msg, _, err := client.Exchange(nil)
	if err != nil {
		t.Fatalf("client M1 failed: %v", err)
	}
	for i := 0; i < 16; i++ {
		reply, _, err := server.Exchange(msg)
		if err != nil {
			t.Fatalf("server exchange failed: %v", err)
		}
		var done bool
		msg, done, err = client.Exchange(reply)
		if err != nil {
			t.Fatalf("client exchange failed: %v", err)
		}
		if done {
			return
		}
	}
	t.Fatal("exchange did not complete")
}

// verifiedPair pairs two fresh stores and returns completed pair-verify
// sessions for both sides.
func verifiedPair(t *testing.T) (client, server *pairing.Session) {
	t.Helper()
	ctrl := store.NewMemoryStore()
	acc := store.NewMemoryStore()

	var setupClient *pairing.Session
	cd := pairing.StoreDelegate(ctrl)
	cd.PromptForSetupCode = func(pairing.Flags, int32) error {
		return setupClient.SetSetupCode(testSetupCode)
	}
	ad := pairing.StoreDelegate(acc)
	ad.ShowSetupCode = func(pairing.Flags) (string, error) { return testSetupCode, nil }

	newSession := func(d pairing.Delegate, typ pairing.Type) *pairing.Session {
		s, err := pairing.Create(d, typ)
		if err != nil {
			t.Fatalf("Create(%s) failed: %v", typ, err)
		}
		t.Cleanup(func() { s.Close() })
		return s
	}

	setupClient = newSession(cd, pairing.SetupClient)
	drive(t, setupClient, newSession(ad, pairing.SetupServer))

	client = newSession(cd, pairing.VerifyClient)
	server = newSession(ad, pairing.VerifyServer)
	drive(t, client, server)
	if !server.Done() {
		t.Fatal("server session not done")
	}
	return client, server
}

func securePair(t *testing.T) (client, server *securechannel.Conn, pipe *transport.Pipe) {
	t.Helper()
	cs, ss := verifiedPair(t)
	pipe = transport.NewPipe()
	t.Cleanup(func() { pipe.Close() })

	var err error
	client, err = securechannel.Client(pipe.Client(), cs, nil)
	if err != nil {
		t.Fatalf("Client failed: %v", err)
	}
	server, err = securechannel.Server(pipe.Server(), ss, nil)
	if err != nil {
		t.Fatalf("Server failed: %v", err)
	}
	return client, server, pipe
}

func TestConn_RoundTrip(t *testing.T) {
	client, server, _ := securePair(t)

	if _, err := client.Write([]byte("ping")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(server, buf); err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if string(buf) != "ping" {
		t.Errorf("server read %q, want ping", buf)
	}

	if _, err := server.Write([]byte("pong")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if _, err := io.ReadFull(client, buf); err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if string(buf) != "pong" {
		t.Errorf("client read %q, want pong", buf)
	}
}

func TestConn_LargeWrite(t *testing.T) {
	client, server, _ := securePair(t)

	data := bytes.Repeat([]byte("0123456789abcdef"), 300) // spans several frames
	go client.Write(data)

	got := make([]byte, len(data))
	if _, err := io.ReadFull(server, got); err != nil {
		t.Fatalf("ReadFull failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("data mismatch")
	}
}

// TestConn_Tampered checks that a modified frame fails authentication and
// that the error sticks.
func TestConn_Tampered(t *testing.T) {
	cs, ss := verifiedPair(t)
	pipe := transport.NewPipe()
	defer pipe.Close()

	read, write, err := securechannel.Keys(cs, true)
	if err != nil {
		t.Fatalf("Keys failed: %v", err)
	}
	// Encrypt into a buffer, flip a ciphertext bit and hand it to the server.
	var buf bytes.Buffer
	sealer, err := securechannel.NewConn(&bufConn{Buffer: &buf}, securechannel.Config{ReadKey: read, WriteKey: write})
	if err != nil {
		t.Fatalf("NewConn failed: %v", err)
	}
	sealer.Write([]byte("secret"))
	frame := buf.Bytes()
	frame[securechannel.LengthSize] ^= 0x01

	server, err := securechannel.Server(pipe.Server(), ss, nil)
	if err != nil {
		t.Fatalf("Server failed: %v", err)
	}
	pipe.Client().Write(frame)

	p := make([]byte, 16)
	if _, err := server.Read(p); !errors.Is(err, securechannel.ErrDecrypt) {
		t.Fatalf("Read err = %v, want ErrDecrypt", err)
	}
	if _, err := server.Read(p); !errors.Is(err, securechannel.ErrDecrypt) {
		t.Fatalf("second Read err = %v, want ErrDecrypt", err)
	}
}

func TestConn_KeyMismatch(t *testing.T) {
	cs, _ := verifiedPair(t)
	_, other := verifiedPair(t)
	pipe := transport.NewPipe()
	defer pipe.Close()

	client, err := securechannel.Client(pipe.Client(), cs, nil)
	if err != nil {
		t.Fatalf("Client failed: %v", err)
	}
	server, err := securechannel.Server(pipe.Server(), other, nil)
	if err != nil {
		t.Fatalf("Server failed: %v", err)
	}

	client.Write([]byte("hello"))
	p := make([]byte, 16)
	if _, err := server.Read(p); !errors.Is(err, securechannel.ErrDecrypt) {
		t.Fatalf("Read err = %v, want ErrDecrypt", err)
	}
}

func TestKeys_Directions(t *testing.T) {
	cs, ss := verifiedPair(t)

	cRead, cWrite, err := securechannel.Keys(cs, true)
	if err != nil {
		t.Fatalf("Keys(client) failed: %v", err)
	}
	sRead, sWrite, err := securechannel.Keys(ss, false)
	if err != nil {
		t.Fatalf("Keys(server) failed: %v", err)
	}
	if !bytes.Equal(cWrite, sRead) || !bytes.Equal(cRead, sWrite) {
		t.Error("client and server keys do not pair up")
	}
	if bytes.Equal(cRead, cWrite) {
		t.Error("read and write keys must differ")
	}
}

func TestKeys_Unverified(t *testing.T) {
	s, err := pairing.Create(pairing.StoreDelegate(store.NewMemoryStore()), pairing.VerifyClient)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	defer s.Close()

	if _, _, err := securechannel.Keys(s, true); !errors.Is(err, securechannel.ErrUnverifiedPeer) {
		t.Errorf("err = %v, want ErrUnverifiedPeer", err)
	}
	if _, _, err := securechannel.Keys(nil, true); !errors.Is(err, securechannel.ErrUnverifiedPeer) {
		t.Errorf("nil session err = %v, want ErrUnverifiedPeer", err)
	}
}

func TestNewConn_InvalidKey(t *testing.T) {
	_, err := securechannel.NewConn(&bufConn{Buffer: &bytes.Buffer{}}, securechannel.Config{
		ReadKey:  make([]byte, 16),
		WriteKey: make([]byte, 32),
	})
	if !errors.Is(err, securechannel.ErrInvalidKey) {
		t.Errorf("err = %v, want ErrInvalidKey", err)
	}
}

// bufConn is a net.Conn that writes into a buffer.
type bufConn struct {
	net.Conn
	*bytes.Buffer
}

func (c *bufConn) Read(p []byte) (int, error)  { return c.Buffer.Read(p) }
func (c *bufConn) Write(p []byte) (int, error) { return c.Buffer.Write(p) }
func (c *bufConn) Close() error                { return nil }
