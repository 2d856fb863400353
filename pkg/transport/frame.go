package transport

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/backkem/pairing/pkg/tlv8"
)

const (
	// LengthPrefixSize is the size of the frame length prefix.
	LengthPrefixSize = 4

	// MaxFrameSize is the largest frame body; it matches the TLV8 message cap.
	MaxFrameSize = tlv8.MaxSize
)

// FrameWriter writes length-prefixed pairing messages to a stream.
type FrameWriter struct {
	w io.Writer
}

// NewFrameWriter creates a new frame writer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

// WriteFrame writes frame with its 4-byte little-endian length prefix in a
// single Write.
func (fw *FrameWriter) WriteFrame(frame []byte) error {
	if len(frame) == 0 {
		return ErrEmptyFrame
	}
	if len(frame) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	_, err := fw.w.Write(EncodeFrame(frame))
	return err
}

// FrameReader reads length-prefixed pairing messages from a stream.
type FrameReader struct {
	r io.Reader
}

// NewFrameReader creates a new frame reader.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// ReadFrame reads one frame and returns its body without the prefix.
// Returns io.EOF if the stream ends cleanly before a frame starts.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	var lenBuf [LengthPrefixSize]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		return nil, err
	}

	n := binary.LittleEndian.Uint32(lenBuf[:])
	if n == 0 {
		return nil, ErrEmptyFrame
	}
	if n > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}

	frame := make([]byte, n)
	if _, err := io.ReadFull(fr.r, frame); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return frame, nil
}

// EncodeFrame adds a 4-byte length prefix to frame.
func EncodeFrame(frame []byte) []byte {
	buf := make([]byte, LengthPrefixSize+len(frame))
	binary.LittleEndian.PutUint32(buf[:LengthPrefixSize], uint32(len(frame)))
	copy(buf[LengthPrefixSize:], frame)
	return buf
}
