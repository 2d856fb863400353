package srp

import (
	"bytes"
	"testing"
)

func runExchange(t *testing.T, serverCode, clientCode string) (*Server, *Client, []byte, error) {
	t.Helper()

	server, err := NewServer([]byte(serverCode))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if len(server.Salt()) != SaltSize {
		t.Fatalf("salt length = %d, want %d", len(server.Salt()), SaltSize)
	}

	client, err := NewClient([]byte(clientCode), server.Salt(), server.PublicKey())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if err := server.ComputeKey(client.PublicKey()); err != nil {
		t.Fatalf("ComputeKey failed: %v", err)
	}
	m2, err := server.VerifyClientProof(client.Proof())
	return server, client, m2, err
}

func TestExchange_MatchingCode(t *testing.T) {
	server, client, m2, err := runExchange(t, "123-45-678", "123-45-678")
	if err != nil {
		t.Fatalf("VerifyClientProof failed: %v", err)
	}
	if err := client.VerifyServerProof(m2); err != nil {
		t.Fatalf("VerifyServerProof failed: %v", err)
	}

	sk, _ := server.SharedSecret()
	ck, _ := client.SharedSecret()
	if len(sk) == 0 || !bytes.Equal(sk, ck) {
		t.Error("shared secrets differ")
	}
}

func TestExchange_WrongCode(t *testing.T) {
	_, _, _, err := runExchange(t, "123-45-678", "111-11-111")
	if err != ErrInvalidProof {
		t.Fatalf("VerifyClientProof err = %v, want ErrInvalidProof", err)
	}
}

func TestClient_RejectsBadServerValues(t *testing.T) {
	if _, err := NewClient([]byte("1234"), make([]byte, 8), []byte{1}); err != ErrShortSalt {
		t.Errorf("short salt err = %v, want ErrShortSalt", err)
	}
	if _, err := NewClient([]byte("1234"), make([]byte, 16), nil); err != ErrEmptyKey {
		t.Errorf("empty B err = %v, want ErrEmptyKey", err)
	}
	if _, err := NewClient(nil, make([]byte, 16), []byte{1}); err != ErrEmptyCode {
		t.Errorf("empty code err = %v, want ErrEmptyCode", err)
	}
}

func TestServer_ProofBeforeKey(t *testing.T) {
	server, err := NewServer([]byte("1234"))
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if _, err := server.VerifyClientProof([]byte{1}); err != ErrNoSharedKey {
		t.Errorf("err = %v, want ErrNoSharedKey", err)
	}
}

func TestClose_WipesKey(t *testing.T) {
	server, client, m2, err := runExchange(t, "1234", "1234")
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	key := server.key
	server.Close()
	for _, b := range key {
		if b != 0 {
			t.Fatal("server key not wiped")
		}
	}
	if _, err := server.SharedSecret(); err != ErrNoSharedKey {
		t.Errorf("SharedSecret after Close err = %v, want ErrNoSharedKey", err)
	}

	client.Close()
	if err := client.VerifyServerProof(m2); err != ErrSessionClosed {
		t.Errorf("VerifyServerProof after Close err = %v, want ErrSessionClosed", err)
	}
}
