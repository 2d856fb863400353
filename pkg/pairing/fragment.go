package pairing

import (
	"fmt"

	"github.com/backkem/pairing/pkg/crypto"
	"github.com/backkem/pairing/pkg/tlv8"
)

// ackMessage acknowledges a FragmentData item.
var ackMessage = []byte{byte(tlv8.TypeFragmentData), 0}

func isAck(input []byte) bool {
	items, err := tlv8.Parse(input)
	if err != nil || len(items) != 1 {
		return false
	}
	return items[0].Type == tlv8.TypeFragmentData && len(items[0].Value) == 0
}

// progressInput handles fragmentation of the peer's message. It returns the
// reassembled message in in, or handled=true with the reply to send when the
// message was a fragment or an ack.
func (s *Session) progressInput(input []byte) (in, out []byte, done, handled bool, err error) {
	if len(input) == 0 {
		if s.outFrag != nil {
			return nil, nil, false, false, fmt.Errorf("%w: expected fragment ack", ErrState)
		}
		return input, nil, false, false, nil
	}

	items, perr := tlv8.Parse(input)
	if perr != nil || !(items.Has(tlv8.TypeFragmentData) || items.Has(tlv8.TypeFragmentLast)) {
		if s.outFrag != nil {
			return nil, nil, false, false, fmt.Errorf("%w: expected fragment ack", ErrState)
		}
		return input, nil, false, false, nil
	}

	if items.Has(tlv8.TypeFragmentData) {
		chunk, _ := items.Get(tlv8.TypeFragmentData)
		if len(chunk) == 0 {
			if s.outFrag == nil {
				return nil, nil, false, false, fmt.Errorf("%w: unexpected fragment ack", ErrState)
			}
			out, done, err = s.nextFragment()
			return nil, out, done, true, err
		}
		if err := s.appendFragment(chunk); err != nil {
			return nil, nil, false, false, err
		}
		s.tracef("%s: received fragment, %d bytes buffered", s.typ, len(s.inFrag))
		return nil, append([]byte{}, ackMessage...), false, true, nil
	}

	chunk, _ := items.Get(tlv8.TypeFragmentLast)
	if err := s.appendFragment(chunk); err != nil {
		return nil, nil, false, false, err
	}
	in = s.inFrag
	s.inFrag = nil
	return in, nil, false, false, nil
}

func (s *Session) appendFragment(chunk []byte) error {
	if len(s.inFrag)+len(chunk) > tlv8.MaxSize {
		crypto.Zero(s.inFrag)
		s.inFrag = nil
		return malformed("fragments", tlv8.ErrTooLarge)
	}
	s.inFrag = append(s.inFrag, chunk...)
	return nil
}

// progressOutput splits out into fragments when it exceeds the MTU and
// returns the first one. done is deferred until the last fragment is sent.
// A fragmented out is owned by the session and zeroed after its last fragment.
func (s *Session) progressOutput(out []byte, done bool) ([]byte, bool, error) {
	if s.mtuTotal <= 0 || len(out) <= s.mtuTotal {
		return out, done, nil
	}
	s.outFrag = out
	s.outFragOffset = 0
	s.outDone = done
	return s.nextFragment()
}

// nextFragment returns the next outbound fragment.
func (s *Session) nextFragment() ([]byte, bool, error) {
	remaining := len(s.outFrag) - s.outFragOffset
	n := min(remaining, s.mtuPayload)
	chunk := s.outFrag[s.outFragOffset : s.outFragOffset+n]
	s.outFragOffset += n

	last := s.outFragOffset >= len(s.outFrag)
	t := tlv8.TypeFragmentData
	if last {
		t = tlv8.TypeFragmentLast
	}
	out, err := tlv8.NewBuilderSize(0).AppendBytes(t, chunk).Bytes()
	if err != nil {
		return nil, false, err
	}

	done := false
	if last {
		crypto.Zero(s.outFrag)
		s.outFrag = nil
		s.outFragOffset = 0
		done = s.outDone
		s.outDone = false
	}
	return out, done, nil
}
