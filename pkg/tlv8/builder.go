package tlv8

import "encoding/binary"

// Builder encodes a TLV8 message.
//
// Append methods record the first error and turn later appends into no-ops,
// so a message can be assembled without checking every call. Bytes returns
// the recorded error.
type Builder struct {
	buf     []byte
	maxSize int
	err     error
}

// NewBuilder creates a Builder capped at MaxSize bytes.
func NewBuilder() *Builder {
	return &Builder{maxSize: MaxSize}
}

// NewBuilderSize creates a Builder capped at maxSize bytes.
// A maxSize of 0 or less disables the cap.
func NewBuilderSize(maxSize int) *Builder {
	return &Builder{maxSize: maxSize}
}

// AppendBytes appends an item, splitting values longer than 255 bytes into
// consecutive items of the same type. An empty value encodes as a single
// zero-length item.
func (b *Builder) AppendBytes(t Type, value []byte) *Builder {
	if b.err != nil {
		return b
	}
	if b.maxSize > 0 && len(b.buf)+EncodedLen(len(value)) > b.maxSize {
		b.err = ErrTooLarge
		return b
	}

	for {
		n := len(value)
		if n > MaxItemLen {
			n = MaxItemLen
		}
		b.buf = append(b.buf, byte(t), byte(n))
		b.buf = append(b.buf, value[:n]...)
		value = value[n:]
		if len(value) == 0 {
			break
		}
	}
	return b
}

// AppendString appends a string item.
func (b *Builder) AppendString(t Type, s string) *Builder {
	return b.AppendBytes(t, []byte(s))
}

// AppendUint appends an integer item using the fewest little-endian bytes
// that hold v (1, 2, 4 or 8).
func (b *Builder) AppendUint(t Type, v uint64) *Builder {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)

	n := 8
	switch {
	case v <= 0xFF:
		n = 1
	case v <= 0xFFFF:
		n = 2
	case v <= 0xFFFFFFFF:
		n = 4
	}
	return b.AppendBytes(t, tmp[:n])
}

// Len returns the number of encoded bytes so far.
func (b *Builder) Len() int {
	return len(b.buf)
}

// Err returns the first append error, if any.
func (b *Builder) Err() error {
	return b.err
}

// Bytes returns the encoded message.
func (b *Builder) Bytes() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	out := make([]byte, len(b.buf))
	copy(out, b.buf)
	return out, nil
}

// Reset clears the builder, wiping any buffered bytes.
func (b *Builder) Reset() {
	for i := range b.buf {
		b.buf[i] = 0
	}
	b.buf = b.buf[:0]
	b.err = nil
}
