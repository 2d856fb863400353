package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"
)

func TestEd25519_SignVerify(t *testing.T) {
	pub, seed, err := GenerateEd25519(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateEd25519 failed: %v", err)
	}
	if len(pub) != Ed25519PublicKeySize || len(seed) != Ed25519SeedSize {
		t.Fatalf("unexpected key sizes %d/%d", len(pub), len(seed))
	}

	derived, err := Ed25519PublicFromSeed(seed)
	if err != nil {
		t.Fatalf("Ed25519PublicFromSeed failed: %v", err)
	}
	if !bytes.Equal(derived, pub) {
		t.Error("public key from seed mismatch")
	}

	msg := []byte("transcript")
	sig, err := SignEd25519(seed, msg)
	if err != nil {
		t.Fatalf("SignEd25519 failed: %v", err)
	}
	if err := VerifyEd25519(pub, msg, sig); err != nil {
		t.Errorf("VerifyEd25519 failed: %v", err)
	}
	if err := VerifyEd25519(pub, []byte("other"), sig); err != ErrInvalidSignature {
		t.Errorf("wrong message err = %v, want ErrInvalidSignature", err)
	}
}

func TestEd25519_BadSizes(t *testing.T) {
	if _, err := SignEd25519(make([]byte, 31), nil); err != ErrInvalidKeySize {
		t.Errorf("SignEd25519 err = %v, want ErrInvalidKeySize", err)
	}
	if err := VerifyEd25519(make([]byte, 33), nil, make([]byte, 64)); err != ErrInvalidKeySize {
		t.Errorf("VerifyEd25519 key err = %v, want ErrInvalidKeySize", err)
	}
	if err := VerifyEd25519(make([]byte, 32), nil, make([]byte, 10)); err != ErrInvalidSignature {
		t.Errorf("VerifyEd25519 sig err = %v, want ErrInvalidSignature", err)
	}
}

func TestX25519_Agreement(t *testing.T) {
	aPub, aSec, err := GenerateX25519(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateX25519 failed: %v", err)
	}
	bPub, bSec, err := GenerateX25519(rand.Reader)
	if err != nil {
		t.Fatalf("GenerateX25519 failed: %v", err)
	}

	ab, err := X25519(aSec, bPub)
	if err != nil {
		t.Fatalf("X25519 failed: %v", err)
	}
	ba, err := X25519(bSec, aPub)
	if err != nil {
		t.Fatalf("X25519 failed: %v", err)
	}
	if !bytes.Equal(ab, ba) {
		t.Error("shared secrets differ")
	}
}

func TestX25519_Rejects(t *testing.T) {
	_, sec, _ := GenerateX25519(rand.Reader)
	if _, err := X25519(sec, make([]byte, 31)); err != ErrInvalidKeySize {
		t.Errorf("short key err = %v, want ErrInvalidKeySize", err)
	}
	if _, err := X25519(sec, make([]byte, 32)); err != ErrLowOrderPublicKey {
		t.Errorf("zero key err = %v, want ErrLowOrderPublicKey", err)
	}
}

func TestZero(t *testing.T) {
	b := []byte{1, 2, 3}
	if IsZero(b) {
		t.Fatal("IsZero reported true for non-zero buffer")
	}
	Zero(b)
	if !IsZero(b) {
		t.Errorf("Zero left %x", b)
	}
}
