package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/pion/logging"
)

// Default search windows.
const (
	DefaultBrowseTimeout = 10 * time.Second
	DefaultLookupTimeout = 5 * time.Second
)

// Service is a resolved pairing service.
type Service struct {
	Instance string
	Host     string
	Port     int

	// Addrs holds the service addresses, best first.
	Addrs []net.IP

	// Record is the raw TXT record.
	Record map[string]string

	// TXT is the decoded record, or nil when the record is malformed.
	TXT *PairingTXT
}

// DialAddress returns host:port for the best address, or "" when the service
// announced none.
func (s *Service) DialAddress() string {
	if len(s.Addrs) == 0 {
		return ""
	}
	return net.JoinHostPort(s.Addrs[0].String(), strconv.Itoa(s.Port))
}

// Browser runs DNS-SD queries. Both methods send answers to entries until
// the search ends and never close entries.
type Browser interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
	Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

type zeroconfBrowser struct {
	r *zeroconf.Resolver
}

func (z zeroconfBrowser) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	in := make(chan *zeroconf.ServiceEntry)
	if err := z.r.Browse(ctx, service, domain, in); err != nil {
		return err
	}
	return relay(ctx, in, entries)
}

func (z zeroconfBrowser) Lookup(ctx context.Context, instance, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	in := make(chan *zeroconf.ServiceEntry)
	if err := z.r.Lookup(ctx, instance, service, domain, in); err != nil {
		return err
	}
	return relay(ctx, in, entries)
}

// relay copies answers from zeroconf, which closes in itself, to out.
func relay(ctx context.Context, in <-chan *zeroconf.ServiceEntry, out chan<- *zeroconf.ServiceEntry) error {
	for {
		var entry *zeroconf.ServiceEntry
		select {
		case e, ok := <-in:
			if !ok {
				return nil
			}
			entry = e
		case <-ctx.Done():
			return ctx.Err()
		}
		select {
		case out <- entry:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	// Browser replaces the zeroconf client, mainly for tests.
	Browser Browser

	// BrowseTimeout bounds Browse and Find when ctx has no deadline.
	// Default: DefaultBrowseTimeout.
	BrowseTimeout time.Duration

	// LookupTimeout bounds Lookup when ctx has no deadline.
	// Default: DefaultLookupTimeout.
	LookupTimeout time.Duration

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Resolver finds pairing services.
type Resolver struct {
	browser       Browser
	browseTimeout time.Duration
	lookupTimeout time.Duration
	log           logging.LeveledLogger
}

// NewResolver returns a Resolver. Without a configured Browser it opens a
// zeroconf client on all interfaces.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	r := &Resolver{
		browser:       config.Browser,
		browseTimeout: config.BrowseTimeout,
		lookupTimeout: config.LookupTimeout,
	}
	if r.browser == nil {
		zr, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, err
		}
		r.browser = zeroconfBrowser{r: zr}
	}
	if r.browseTimeout <= 0 {
		r.browseTimeout = DefaultBrowseTimeout
	}
	if r.lookupTimeout <= 0 {
		r.lookupTimeout = DefaultLookupTimeout
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("discovery")
	}
	return r, nil
}

func withDefaultTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// Browse streams services until the browse window closes or ctx is done.
// The returned channel is closed at the end of the search.
func (r *Resolver) Browse(ctx context.Context) <-chan Service {
	out := make(chan Service)
	ctx, cancel := withDefaultTimeout(ctx, r.browseTimeout)

	entries := make(chan *zeroconf.ServiceEntry)
	go func() {
		defer close(entries)
		if err := r.browser.Browse(ctx, ServicePairing, DefaultDomain, entries); err != nil &&
			!errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) && r.log != nil {
			r.log.Warnf("browse %s: %v", ServicePairing, err)
		}
	}()

	go func() {
		defer close(out)
		defer cancel()
		for entry := range entries {
			select {
			case out <- r.service(entry):
			case <-ctx.Done():
				for range entries {
				}
				return
			}
		}
	}()
	return out
}

// Collect browses and returns every service seen in the browse window.
func (r *Resolver) Collect(ctx context.Context) []Service {
	var services []Service
	for svc := range r.Browse(ctx) {
		services = append(services, svc)
	}
	return services
}

// Lookup resolves one instance by name.
func (r *Resolver) Lookup(ctx context.Context, instance string) (*Service, error) {
	ctx, cancel := withDefaultTimeout(ctx, r.lookupTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 1)
	done := make(chan error, 1)
	go func() {
		done <- r.browser.Lookup(ctx, instance, ServicePairing, DefaultDomain, entries)
	}()

	select {
	case entry := <-entries:
		svc := r.service(entry)
		return &svc, nil
	case <-done:
		// The browser may have answered just before returning.
		select {
		case entry := <-entries:
			svc := r.service(entry)
			return &svc, nil
		default:
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrNotFound
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrTimeout
		}
		return nil, ctx.Err()
	}
}

// Find browses for the service advertising identifier.
func (r *Resolver) Find(ctx context.Context, identifier string) (*Service, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for svc := range r.Browse(ctx) {
		if svc.TXT != nil && svc.TXT.Identifier == identifier {
			return &svc, nil
		}
	}
	return nil, ErrNotFound
}

func (r *Resolver) service(entry *zeroconf.ServiceEntry) Service {
	addrs := make([]net.IP, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	addrs = append(addrs, entry.AddrIPv6...)
	addrs = append(addrs, entry.AddrIPv4...)

	svc := Service{
		Instance: entry.Instance,
		Host:     entry.HostName,
		Port:     entry.Port,
		Addrs:    RankAddrs(addrs),
		Record:   ParseTXT(entry.Text),
	}
	txt, err := ParsePairingTXT(entry.Text)
	if err != nil {
		if r.log != nil {
			r.log.Debugf("%q: %v", entry.Instance, err)
		}
		return svc
	}
	svc.TXT = txt
	return svc
}
