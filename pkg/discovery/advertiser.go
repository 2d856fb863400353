// Package discovery advertises and finds pairing daemons over DNS-SD.
//
// A daemon publishes one instance of ServicePairing with a TXT record
// carrying its pairing identifier, its long-term public key and whether any
// controller is paired yet. Controllers browse for the service or look up a
// known identifier to learn where to dial.
package discovery

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// DefaultPort is the default pairing port.
const DefaultPort = 5541

// Registration is a live DNS-SD registration.
type Registration interface {
	SetText(txt []string)
	Shutdown()
}

// RegisterFunc registers instance on the network.
type RegisterFunc func(instance string, port int, txt []string, ifaces []net.Interface) (Registration, error)

func registerZeroconf(instance string, port int, txt []string, ifaces []net.Interface) (Registration, error) {
	return zeroconf.Register(instance, ServicePairing, DefaultDomain, port, txt, ifaces)
}

// AdvertiserConfig configures an Advertiser.
type AdvertiserConfig struct {
	// Instance is the DNS-SD instance name, usually a human readable device
	// name. Empty uses the TXT identifier.
	Instance string

	// Port is the advertised pairing port. Default: DefaultPort.
	Port int

	// Interfaces restricts the announcement. nil announces on all
	// interfaces.
	Interfaces []net.Interface

	// Register replaces the zeroconf registration, mainly for tests.
	Register RegisterFunc

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Advertiser keeps one pairing service published and its TXT record in sync
// with the pairing state.
type Advertiser struct {
	instance string
	port     int
	ifaces   []net.Interface
	register RegisterFunc
	log      logging.LeveledLogger

	mu     sync.Mutex
	reg    Registration
	name   string
	txt    PairingTXT
	closed bool
}

// NewAdvertiser returns an Advertiser. Nothing is announced until Publish.
func NewAdvertiser(config AdvertiserConfig) *Advertiser {
	a := &Advertiser{
		instance: config.Instance,
		port:     config.Port,
		ifaces:   config.Interfaces,
		register: config.Register,
	}
	if a.port <= 0 || a.port > 0xffff {
		a.port = DefaultPort
	}
	if a.register == nil {
		a.register = registerZeroconf
	}
	if config.LoggerFactory != nil {
		a.log = config.LoggerFactory.NewLogger("discovery")
	}
	return a
}

// Publish announces txt. The first call registers the service; later calls
// only replace the TXT record unless the identifier changed.
func (a *Advertiser) Publish(txt PairingTXT) error {
	if err := txt.Validate(); err != nil {
		return err
	}
	records := txt.Encode()

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}

	if a.reg != nil && a.txt.Identifier == txt.Identifier {
		if a.log != nil {
			a.log.Tracef("TXT %v", records)
		}
		a.reg.SetText(records)
		a.txt = txt
		return nil
	}
	if a.reg != nil {
		a.reg.Shutdown()
		a.reg = nil
	}

	name := a.instance
	if name == "" {
		name = txt.Identifier
	}
	reg, err := a.register(name, a.port, records, a.ifaces)
	if err != nil {
		return fmt.Errorf("discovery: register %q: %w", name, err)
	}
	if a.log != nil {
		a.log.Infof("published %s as %q on port %d", ServicePairing, name, a.port)
	}
	a.reg, a.name, a.txt = reg, name, txt
	return nil
}

// Withdraw removes the announcement. Publish may be called again.
func (a *Advertiser) Withdraw() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.reg == nil {
		return ErrNotPublished
	}
	a.reg.Shutdown()
	a.reg, a.name = nil, ""
	return nil
}

// Close withdraws the announcement for good.
func (a *Advertiser) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	if a.reg != nil {
		a.reg.Shutdown()
		a.reg = nil
	}
	a.closed = true
	return nil
}

// Published reports the announced instance name and record.
func (a *Advertiser) Published() (name string, txt PairingTXT, ok bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.reg == nil {
		return "", PairingTXT{}, false
	}
	return a.name, a.txt, true
}

// Run publishes txt and keeps the announcement up until ctx is done.
func (a *Advertiser) Run(ctx context.Context, txt PairingTXT) error {
	if err := a.Publish(txt); err != nil {
		return err
	}
	<-ctx.Done()
	a.Close()
	return ctx.Err()
}
