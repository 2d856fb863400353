package crypto

import (
	"bytes"
	"testing"
)

func TestLabelNonce(t *testing.T) {
	nonce, err := LabelNonce("PS-Msg05")
	if err != nil {
		t.Fatalf("LabelNonce failed: %v", err)
	}
	want := append([]byte{0, 0, 0, 0}, []byte("PS-Msg05")...)
	if !bytes.Equal(nonce, want) {
		t.Errorf("nonce = %x, want %x", nonce, want)
	}

	if _, err := LabelNonce("short"); err != ErrInvalidNonceSize {
		t.Errorf("short label err = %v, want ErrInvalidNonceSize", err)
	}
}

func TestCounterNonce(t *testing.T) {
	got := CounterNonce(0x0102)
	want := []byte{0, 0, 0, 0, 0x02, 0x01, 0, 0, 0, 0, 0, 0}
	if !bytes.Equal(got, want) {
		t.Errorf("CounterNonce = %x, want %x", got, want)
	}
}

func TestSealOpenLabel(t *testing.T) {
	key := bytes.Repeat([]byte{0x42}, SymmetricKeySize)
	msg := []byte("sub-tlv payload")

	sealed, err := SealLabel(key, "PV-Msg02", msg)
	if err != nil {
		t.Fatalf("SealLabel failed: %v", err)
	}
	if len(sealed) != len(msg)+TagSize {
		t.Fatalf("sealed length = %d, want %d", len(sealed), len(msg)+TagSize)
	}

	opened, err := OpenLabel(key, "PV-Msg02", sealed)
	if err != nil {
		t.Fatalf("OpenLabel failed: %v", err)
	}
	if !bytes.Equal(opened, msg) {
		t.Error("opened plaintext mismatch")
	}

	// Wrong label must not authenticate.
	if _, err := OpenLabel(key, "PV-Msg03", sealed); err != ErrDecrypt {
		t.Errorf("wrong label err = %v, want ErrDecrypt", err)
	}

	sealed[0] ^= 0x01
	if _, err := OpenLabel(key, "PV-Msg02", sealed); err != ErrDecrypt {
		t.Errorf("tampered err = %v, want ErrDecrypt", err)
	}
}

func TestSeal_InvalidKey(t *testing.T) {
	if _, err := SealLabel([]byte("short"), "PS-Msg05", nil); err != ErrInvalidKeySize {
		t.Errorf("err = %v, want ErrInvalidKeySize", err)
	}
	key := make([]byte, SymmetricKeySize)
	if _, err := OpenLabel(key, "PS-Msg05", []byte{1, 2, 3}); err != ErrDecrypt {
		t.Errorf("short ciphertext err = %v, want ErrDecrypt", err)
	}
}
