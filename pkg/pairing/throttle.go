package pairing

import (
	"sync"
	"time"
)

// MaxBackoff caps the exponential backoff delay.
const MaxBackoff = 3 * time.Hour

// ThrottleConfig configures a Throttle.
type ThrottleConfig struct {
	// MaxTries caps the number of pair-setup attempts until one succeeds.
	// 0 selects exponential backoff instead of a hard cap.
	MaxTries int

	// Now returns the current time. nil uses time.Now.
	Now func() time.Time
}

// Throttle rate limits pair-setup attempts. It is safe for concurrent use and
// is normally shared by every server session of a process so that opening a
// new session does not reset the count.
type Throttle struct {
	mu sync.Mutex

	maxTries int
	now      func() time.Time

	tries   int           // attempts started since the last success
	backoff time.Duration // current backoff window
	next    time.Time     // earliest time the next attempt may start
}

// NewThrottle creates a Throttle.
func NewThrottle(config ThrottleConfig) *Throttle {
	t := &Throttle{
		maxTries: config.MaxTries,
		now:      config.Now,
	}
	if t.now == nil {
		t.now = time.Now
	}
	return t
}

// SetMaxTries changes the attempt cap. 0 selects exponential backoff.
func (t *Throttle) SetMaxTries(n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n < 0 {
		n = 0
	}
	t.maxTries = n
}

// MaxTries returns the attempt cap.
func (t *Throttle) MaxTries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.maxTries
}

// Begin records the start of a pair-setup attempt.
//
// With a cap, it returns ErrMaxTries once the cap has been consumed. Without
// a cap, it returns the number of whole seconds (rounded up) until an attempt
// is allowed, or 0 when the attempt may proceed. Each allowed attempt doubles
// the window the following one must wait, starting at one second and capped
// at MaxBackoff.
func (t *Throttle) Begin() (int32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.maxTries > 0 {
		if t.tries >= t.maxTries {
			return 0, ErrMaxTries
		}
		t.tries++
		return 0, nil
	}

	now := t.now()
	if !t.next.IsZero() && t.next.After(now) {
		wait := t.next.Sub(now)
		secs := int64(wait / time.Second)
		if wait%time.Second != 0 {
			secs++
		}
		return int32(secs), nil
	}

	t.tries++
	if t.backoff == 0 {
		t.backoff = time.Second
	} else {
		t.backoff *= 2
	}
	if t.backoff > MaxBackoff {
		t.backoff = MaxBackoff
	}
	t.next = now.Add(t.backoff)
	return 0, nil
}

// Reset clears the attempt history after a successful pair-setup.
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tries = 0
	t.backoff = 0
	t.next = time.Time{}
}

// Tries returns the number of attempts since the last success.
func (t *Throttle) Tries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.tries
}
