package transport

import (
	"context"
	"io"
	"time"

	"github.com/backkem/pairing/pkg/pairing"
)

type deadliner interface {
	SetDeadline(t time.Time) error
}

// RunExchange drives s over framed I/O on rw until it completes.
//
// first is the first message received from the peer, or nil when s is a
// client. A server session survives a wrong setup code or a throttled
// attempt and keeps reading the client's next attempt; a client session
// returns the error so the caller can retry with a new RunExchange.
//
// When rw supports deadlines, the context deadline and cancellation are
// applied to it.
func RunExchange(ctx context.Context, rw io.ReadWriter, s *pairing.Session, first []byte) error {
	if d, ok := rw.(deadliner); ok {
		if deadline, ok := ctx.Deadline(); ok {
			d.SetDeadline(deadline)
		}
		stop := context.AfterFunc(ctx, func() {
			d.SetDeadline(time.Now())
		})
		defer func() {
			if stop() {
				d.SetDeadline(time.Time{})
			}
		}()
	}

	reader := NewFrameReader(rw)
	writer := NewFrameWriter(rw)
	client := s.Type() == pairing.SetupClient || s.Type() == pairing.VerifyClient

	input := first
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		out, done, err := s.Exchange(input)
		if len(out) > 0 {
			if werr := writer.WriteFrame(out); werr != nil {
				return contextError(ctx, werr)
			}
		}
		switch {
		case err != nil:
			if client || s.State() == pairing.StateFailed {
				return err
			}
		case done:
			return nil
		case len(out) == 0:
			return ErrSuspended
		}

		input, err = reader.ReadFrame()
		if err != nil {
			return contextError(ctx, err)
		}
	}
}

// contextError prefers the context error over the I/O error it caused.
func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}
