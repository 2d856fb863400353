package pairing

import "github.com/backkem/pairing/pkg/store"

// Delegate supplies the user-interface and credential callbacks a Session
// invokes. Callbacks run synchronously inside Exchange and must not call
// Exchange themselves. PromptForSetupCode may call Session.SetSetupCode
// before returning.
type Delegate struct {
	// ShowSetupCode returns the code to display to the local user.
	// Required for SetupServer.
	ShowSetupCode func(flags Flags) (string, error)

	// HideSetupCode is called once a displayed code is no longer needed.
	HideSetupCode func()

	// PromptForSetupCode asks the user for the code. delaySeconds is -1 when
	// there is no delay, otherwise the number of seconds to wait before the
	// next attempt. Required for SetupClient.
	PromptForSetupCode func(flags Flags, delaySeconds int32) error

	// CopyIdentity returns this device's long-term identity, creating it if
	// allowCreate is set. Required for all types.
	CopyIdentity func(allowCreate bool) (*store.Identity, error)

	// FindPeer returns a paired peer. Required for verify types.
	FindPeer func(identifier string) (*store.Peer, error)

	// SavePeer records a newly paired peer. Required for setup types.
	SavePeer func(peer *store.Peer) error
}

// StoreDelegate returns a Delegate whose credential callbacks are served by st.
func StoreDelegate(st store.Store) Delegate {
	var d Delegate
	d.withStore(st)
	return d
}

// withStore fills unset credential callbacks from st.
func (d *Delegate) withStore(st store.Store) {
	if st == nil {
		return
	}
	if d.CopyIdentity == nil {
		d.CopyIdentity = st.CopyIdentity
	}
	if d.FindPeer == nil {
		d.FindPeer = st.FindPeer
	}
	if d.SavePeer == nil {
		d.SavePeer = st.SavePeer
	}
}

// validate checks that the callbacks required for t are present.
func (d *Delegate) validate(t Type) error {
	if d.CopyIdentity == nil {
		return ErrParam
	}
	switch t {
	case SetupClient:
		if d.PromptForSetupCode == nil || d.SavePeer == nil {
			return ErrParam
		}
	case SetupServer:
		if d.ShowSetupCode == nil || d.SavePeer == nil {
			return ErrParam
		}
	case VerifyClient, VerifyServer:
		if d.FindPeer == nil {
			return ErrParam
		}
	default:
		return ErrParam
	}
	return nil
}
