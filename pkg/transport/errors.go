package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed server.
	ErrClosed = errors.New("transport: closed")

	// ErrAlreadyStarted is returned when Start is called on a running server.
	ErrAlreadyStarted = errors.New("transport: already started")

	// ErrNoStore is returned when a server is configured without a credential store.
	ErrNoStore = errors.New("transport: no credential store configured")

	// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("transport: frame too large")

	// ErrEmptyFrame is returned when a frame has a zero length prefix.
	ErrEmptyFrame = errors.New("transport: empty frame")

	// ErrSuspended is returned when a client session waits for a setup code
	// that the prompt did not provide.
	ErrSuspended = errors.New("transport: session waiting for setup code")
)
