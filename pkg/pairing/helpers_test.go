package pairing

import (
	"testing"
	"time"

	"github.com/backkem/pairing/pkg/store"
)

const testSetupCode = "123-45-678"

// device is one side of a test pairing with its own credential store.
type device struct {
	store *store.MemoryStore

	shown   int
	hidden  int
	prompts []Flags
	delays  []int32
	saved   int
	code    string // setup code shown by a server or entered by a client
	enter   func(s *Session, flags Flags, delay int32)
	session *Session
}

func newDevice() *device {
	return &device{store: store.NewMemoryStore(), code: testSetupCode}
}

func (d *device) delegate() Delegate {
	return Delegate{
		ShowSetupCode: func(flags Flags) (string, error) {
			d.shown++
			return d.code, nil
		},
		HideSetupCode: func() {
			d.hidden++
		},
		PromptForSetupCode: func(flags Flags, delay int32) error {
			d.prompts = append(d.prompts, flags)
			d.delays = append(d.delays, delay)
			if d.enter != nil {
				d.enter(d.session, flags, delay)
				return nil
			}
			return d.session.SetSetupCode(d.code)
		},
		CopyIdentity: d.store.CopyIdentity,
		FindPeer:     d.store.FindPeer,
		SavePeer: func(peer *store.Peer) error {
			d.saved++
			return d.store.SavePeer(peer)
		},
	}
}

func (d *device) newSession(t *testing.T, typ Type) *Session {
	t.Helper()
	s, err := Create(d.delegate(), typ)
	if err != nil {
		t.Fatalf("Create(%s) failed: %v", typ, err)
	}
	d.session = s
	t.Cleanup(func() { s.Close() })
	return s
}

// run passes messages between a and b, starting with an empty input to a,
// until one side has nothing left to send. It returns the error last reported
// by each side and the number of messages sent.
func run(t *testing.T, a, b *Session) (errA, errB error, messages int) {
	t.Helper()
	return runLimit(t, a, b, 0)
}

// runLimit is run with a check that no message exceeds limit bytes.
func runLimit(t *testing.T, a, b *Session, limit int) (errA, errB error, messages int) {
	t.Helper()
	var msg []byte
	from := a
	for messages < 1024 {
		out, _, err := from.Exchange(msg)
		if limit > 0 && len(out) > limit {
			t.Fatalf("message %d is %d bytes, limit %d", messages, len(out), limit)
		}
		if err != nil {
			if from == a {
				errA = err
			} else {
				errB = err
			}
		}
		if len(out) == 0 {
			return errA, errB, messages
		}
		messages++
		msg = out
		if from == a {
			from = b
		} else {
			from = a
		}
	}
	t.Fatalf("exchange did not settle after %d messages", messages)
	return
}

// pair runs pair-setup between two fresh devices.
func pair(t *testing.T) (controller, accessory *device) {
	t.Helper()
	controller, accessory = newDevice(), newDevice()
	client := controller.newSession(t, SetupClient)
	server := accessory.newSession(t, SetupServer)
	if errA, errB, _ := run(t, client, server); errA != nil || errB != nil {
		t.Fatalf("pair-setup failed: client %v, server %v", errA, errB)
	}
	if !client.Done() || !server.Done() {
		t.Fatalf("pair-setup not done: client %v, server %v", client.State(), server.State())
	}
	return controller, accessory
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }
