package tlv8

import "encoding/binary"

// Item is one decoded TLV8 item. Value aliases the parsed input.
type Item struct {
	Type  Type
	Value []byte
}

// Items is a parsed TLV8 message in wire order.
type Items []Item

// Parse splits data into items. The values alias data.
func Parse(data []byte) (Items, error) {
	var items Items
	for len(data) > 0 {
		if len(data) < 2 {
			return nil, ErrTruncated
		}
		t, n := Type(data[0]), int(data[1])
		if len(data) < 2+n {
			return nil, ErrTruncated
		}
		items = append(items, Item{Type: t, Value: data[2 : 2+n]})
		data = data[2+n:]
	}
	return items, nil
}

// Has reports whether an item of type t is present.
func (items Items) Has(t Type) bool {
	for _, it := range items {
		if it.Type == t {
			return true
		}
	}
	return false
}

// Get returns the value of the first item of type t, coalescing it with any
// directly following items of the same type. The result is a fresh copy.
func (items Items) Get(t Type) ([]byte, error) {
	for i, it := range items {
		if it.Type != t {
			continue
		}
		out := append([]byte{}, it.Value...)
		for _, next := range items[i+1:] {
			if next.Type != t {
				break
			}
			out = append(out, next.Value...)
		}
		return out, nil
	}
	return nil, ErrNotFound
}

// GetBytes returns the coalesced value of type t and checks that its length
// is within [min, max]. A max of 0 or less means unbounded.
func (items Items) GetBytes(t Type, min, max int) ([]byte, error) {
	v, err := items.Get(t)
	if err != nil {
		return nil, err
	}
	if len(v) < min || (max > 0 && len(v) > max) {
		return nil, ErrLength
	}
	return v, nil
}

// GetUint returns the little-endian integer value of type t.
func (items Items) GetUint(t Type) (uint64, error) {
	v, err := items.Get(t)
	if err != nil {
		return 0, err
	}
	if len(v) == 0 || len(v) > 8 {
		return 0, ErrIntegerSize
	}
	var tmp [8]byte
	copy(tmp[:], v)
	return binary.LittleEndian.Uint64(tmp[:]), nil
}

// GetUint8 returns a single-byte value of type t.
func (items Items) GetUint8(t Type) (uint8, error) {
	v, err := items.Get(t)
	if err != nil {
		return 0, err
	}
	if len(v) != 1 {
		return 0, ErrIntegerSize
	}
	return v[0], nil
}
