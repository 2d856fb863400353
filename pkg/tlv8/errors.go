package tlv8

import "errors"

// Codec errors.
var (
	// ErrTruncated is returned when an item header or value runs past the end of the input.
	ErrTruncated = errors.New("tlv8: truncated item")

	// ErrNotFound is returned when the requested item type is absent.
	ErrNotFound = errors.New("tlv8: item not found")

	// ErrLength is returned when an item value is outside the allowed length range.
	ErrLength = errors.New("tlv8: invalid item length")

	// ErrTooLarge is returned when encoding would exceed the builder's size cap.
	ErrTooLarge = errors.New("tlv8: message too large")

	// ErrIntegerSize is returned when an integer item is empty or wider than 8 bytes.
	ErrIntegerSize = errors.New("tlv8: invalid integer size")
)
