package transport

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

func TestFrameRoundtrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)

	frames := [][]byte{
		{0x06, 0x01, 0x01},
		bytes.Repeat([]byte{0xAA}, 1000),
		bytes.Repeat([]byte{0x55}, MaxFrameSize),
	}
	for _, f := range frames {
		if err := w.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}

	r := NewFrameReader(&buf)
	for i, want := range frames {
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d failed: %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("frame %d mismatch", i)
		}
	}
	if _, err := r.ReadFrame(); !errors.Is(err, io.EOF) {
		t.Errorf("ReadFrame at end err = %v, want io.EOF", err)
	}
}

func TestEncodeFrame(t *testing.T) {
	got := EncodeFrame([]byte{0xAB, 0xCD})
	want := []byte{0x02, 0x00, 0x00, 0x00, 0xAB, 0xCD}
	if !bytes.Equal(got, want) {
		t.Errorf("EncodeFrame = %x, want %x", got, want)
	}
}

func TestFrameErrors(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  error
	}{
		{"empty", []byte{0, 0, 0, 0}, ErrEmptyFrame},
		{"too large", []byte{0x81, 0x3E, 0, 0}, ErrFrameTooLarge},
		{"truncated prefix", []byte{0x01, 0x00}, io.ErrUnexpectedEOF},
		{"truncated body", []byte{0x04, 0, 0, 0, 0x01}, io.ErrUnexpectedEOF},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameReader(bytes.NewReader(tt.input)).ReadFrame()
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}

	w := NewFrameWriter(io.Discard)
	if err := w.WriteFrame(nil); !errors.Is(err, ErrEmptyFrame) {
		t.Errorf("WriteFrame(nil) err = %v, want ErrEmptyFrame", err)
	}
	if err := w.WriteFrame(make([]byte, MaxFrameSize+1)); !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("WriteFrame(large) err = %v, want ErrFrameTooLarge", err)
	}
}
