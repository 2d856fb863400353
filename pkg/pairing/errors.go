package pairing

import (
	"errors"
	"fmt"

	"github.com/backkem/pairing/pkg/store"
	"github.com/backkem/pairing/pkg/tlv8"
)

// Errors.
var (
	ErrParam            = errors.New("pairing: invalid parameter")
	ErrAuthentication   = errors.New("pairing: authentication failed")
	ErrNotFound         = errors.New("pairing: peer or identity not found")
	ErrBackoff          = errors.New("pairing: attempts throttled")
	ErrMaxTries         = errors.New("pairing: too many attempts")
	ErrMaxPeers         = errors.New("pairing: peer limit reached")
	ErrMalformedMessage = errors.New("pairing: malformed message")
	ErrNotPrepared      = errors.New("pairing: not prepared")
	ErrState            = errors.New("pairing: unexpected message for state")
	ErrSessionFailed    = errors.New("pairing: session already failed")
	ErrUnsupported      = errors.New("pairing: unsupported method")
	ErrUnknown          = errors.New("pairing: unknown peer error")
)

// ThrottleError reports that pair-setup attempts are rate limited.
type ThrottleError struct {
	// Delay is the number of seconds to wait before the next attempt.
	Delay int32
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("pairing: attempts throttled, retry in %ds", e.Delay)
}

// Unwrap returns ErrBackoff.
func (e *ThrottleError) Unwrap() error {
	return ErrBackoff
}

// recoverableError marks a failure after which the setup session has been
// reset to its first step and may be retried.
type recoverableError struct {
	err error
}

func (e *recoverableError) Error() string { return e.err.Error() }
func (e *recoverableError) Unwrap() error { return e.err }

func recoverable(err error) error {
	return &recoverableError{err: err}
}

// errorFromCode maps an Error item received from the peer to a local error.
func errorFromCode(code uint8) error {
	switch tlv8.ErrorCode(code) {
	case tlv8.ErrorAuthentication:
		return ErrAuthentication
	case tlv8.ErrorBackoff:
		return ErrBackoff
	case tlv8.ErrorUnknownPeer:
		return ErrNotFound
	case tlv8.ErrorMaxPeers:
		return ErrMaxPeers
	case tlv8.ErrorMaxTries:
		return ErrMaxTries
	default:
		return ErrUnknown
	}
}

// codeForError maps a local error to the Error item reported to the peer.
func codeForError(err error) tlv8.ErrorCode {
	switch {
	case errors.Is(err, ErrAuthentication):
		return tlv8.ErrorAuthentication
	case errors.Is(err, ErrBackoff):
		return tlv8.ErrorBackoff
	case errors.Is(err, ErrNotFound), errors.Is(err, store.ErrNotFound):
		return tlv8.ErrorUnknownPeer
	case errors.Is(err, ErrMaxPeers), errors.Is(err, store.ErrMaxPeers):
		return tlv8.ErrorMaxPeers
	case errors.Is(err, ErrMaxTries):
		return tlv8.ErrorMaxTries
	default:
		return tlv8.ErrorUnknown
	}
}

// storeError converts credential store errors to pairing errors.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, store.ErrMaxPeers):
		return fmt.Errorf("%w: %w", ErrMaxPeers, err)
	default:
		return err
	}
}

// malformed wraps a decoding failure as ErrMalformedMessage.
func malformed(what string, err error) error {
	if err == nil {
		return fmt.Errorf("%w: %s", ErrMalformedMessage, what)
	}
	return fmt.Errorf("%w: %s: %w", ErrMalformedMessage, what, err)
}
