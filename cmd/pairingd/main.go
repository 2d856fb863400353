// pairingd is a pairing daemon.
//
// It holds a long-term identity in SQLite, accepts pair-setup and
// pair-verify on a framed TCP listener and over HTTP, advertises itself over
// DNS-SD, and echoes data back on connections that complete pair-verify.
//
// Usage:
//
//	pairingd [options]
//
// Options:
//
//	-config  YAML configuration file (default: pairingd.yaml)
//	-env     .env file with PAIRINGD_* overrides (default: .env)
//	-tcp     TCP listen address, overrides tcp_listen
//	-http    HTTP listen address, overrides http_listen
//	-store   SQLite database path, overrides store
//
// Example:
//
//	pairingd -config /etc/pairingd.yaml -tcp :5541
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pion/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/backkem/pairing/pkg/discovery"
	"github.com/backkem/pairing/pkg/pairhttp"
	"github.com/backkem/pairing/pkg/pairing"
	"github.com/backkem/pairing/pkg/store"
	"github.com/backkem/pairing/pkg/transport"
)

func main() {
	configPath := flag.String("config", "pairingd.yaml", "YAML configuration file")
	envFile := flag.String("env", ".env", ".env file with PAIRINGD_* overrides")
	tcpAddr := flag.String("tcp", "", "TCP listen address (overrides tcp_listen)")
	httpAddr := flag.String("http", "", "HTTP listen address (overrides http_listen)")
	storePath := flag.String("store", "", "SQLite database path (overrides store)")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.ApplyEnv(*envFile); err != nil {
		log.Fatalf("Failed to apply environment: %v", err)
	}
	if *tcpAddr != "" {
		cfg.TCPListen = *tcpAddr
	}
	if *httpAddr != "" {
		cfg.HTTPListen = *httpAddr
	}
	if *storePath != "" {
		cfg.Store = *storePath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("pairingd: %v", err)
	}
}

// daemon holds the running components.
type daemon struct {
	cfg        *Config
	store      *store.SQLiteStore
	identity   *store.Identity
	setupCode  string
	throttle   *pairing.Throttle
	advertiser *discovery.Advertiser
	log        logging.LeveledLogger
}

func run(ctx context.Context, cfg *Config) error {
	level, _ := parseLogLevel(cfg.LogLevel)
	loggerFactory := logging.NewDefaultLoggerFactory()
	loggerFactory.DefaultLogLevel = level

	d := &daemon{
		cfg:      cfg,
		throttle: pairing.NewThrottle(pairing.ThrottleConfig{MaxTries: cfg.MaxTries}),
		log:      loggerFactory.NewLogger("pairingd"),
	}

	path := cfg.Store
	if path == "" {
		path = ":memory:"
	}
	st, err := store.OpenSQLiteStore(store.SQLiteStoreConfig{
		Path:          path,
		MaxPeers:      cfg.MaxPeers,
		LoggerFactory: loggerFactory,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()
	d.store = st

	identity, err := st.CopyIdentity(true)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	identity.Wipe()
	d.identity = identity

	d.setupCode = cfg.SetupCode
	if d.setupCode == "" {
		if d.setupCode, err = pairing.GenerateSetupCode(nil); err != nil {
			return fmt.Errorf("generate setup code: %w", err)
		}
	}

	delegate := pairing.Delegate{
		ShowSetupCode: func(flags pairing.Flags) (string, error) {
			d.log.Infof("pair-setup started, setup code %s", d.setupCode)
			return d.setupCode, nil
		},
		HideSetupCode: func() {
			d.log.Debug("setup code hidden")
		},
	}

	tcp, err := transport.NewServer(transport.ServerConfig{
		ListenAddr:       cfg.TCPListen,
		Store:            st,
		Delegate:         delegate,
		Throttle:         d.throttle,
		HandshakeTimeout: cfg.handshakeTimeout(),
		OnPaired:         d.peersChanged,
		LoggerFactory:    loggerFactory,
	})
	if err != nil {
		return fmt.Errorf("tcp listener: %w", err)
	}
	defer tcp.Stop()

	// Advertise before accepting so that OnPaired never races the
	// advertiser assignment.
	if cfg.Advertise {
		port := discovery.DefaultPort
		if addr, ok := tcp.Addr().(*net.TCPAddr); ok {
			port = addr.Port
		}
		adv := discovery.NewAdvertiser(discovery.AdvertiserConfig{
			Instance:      cfg.Name,
			Port:          port,
			LoggerFactory: loggerFactory,
		})
		if err := adv.Publish(d.txt()); err != nil {
			d.log.Warnf("advertising on port %d failed: %v", port, err)
		} else {
			d.advertiser = adv
			defer adv.Close()
		}
	}

	if err := tcp.Start(); err != nil {
		return fmt.Errorf("start tcp server: %w", err)
	}

	var httpServer *http.Server
	var pairHandler *pairhttp.Handler
	if cfg.HTTPListen != "" {
		registry := prometheus.NewRegistry()
		pairHandler, err = pairhttp.New(pairhttp.Config{
			Store:         st,
			Delegate:      delegate,
			Throttle:      d.throttle,
			IdleTimeout:   cfg.sessionIdle(),
			MaxSessions:   pairhttp.DefaultMaxSessions,
			RateLimit:     cfg.RateLimit,
			Registerer:    registry,
			OnPaired:      d.peersChanged,
			OnRemoved:     d.peersChanged,
			LoggerFactory: loggerFactory,
		})
		if err != nil {
			return fmt.Errorf("http handler: %w", err)
		}
		defer pairHandler.Close()

		r := chi.NewRouter()
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		r.Mount("/", pairHandler)

		httpServer = &http.Server{
			Addr:              cfg.HTTPListen,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				d.log.Errorf("http server: %v", err)
			}
		}()
	}

	printInfo(d, tcp.Addr())

	<-ctx.Done()
	d.log.Info("shutting down")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			d.log.Warnf("http shutdown: %v", err)
		}
	}
	return nil
}

// txt builds the TXT record from the current pairing state.
func (d *daemon) txt() discovery.PairingTXT {
	peers, err := d.store.CopyPeers()
	if err != nil {
		d.log.Warnf("list peers: %v", err)
	}
	return discovery.PairingTXT{
		Identifier: d.identity.Identifier,
		PublicKey:  d.identity.PublicKey,
		Unpaired:   err == nil && len(peers) == 0,
	}
}

// peersChanged refreshes the advertisement after a pairing is added or
// removed.
func (d *daemon) peersChanged(peerIdentifier string) {
	d.log.Infof("pairings changed (%s)", peerIdentifier)
	if d.advertiser == nil {
		return
	}
	if err := d.advertiser.Publish(d.txt()); err != nil {
		d.log.Warnf("update advertisement: %v", err)
	}
}

// printInfo prints onboarding information to the console.
func printInfo(d *daemon, tcpAddr net.Addr) {
	fmt.Println("\n========================================")
	fmt.Println("           Pairing Daemon Ready")
	fmt.Println("========================================")
	fmt.Printf("Name:           %s\n", d.cfg.Name)
	fmt.Printf("Identifier:     %s\n", d.identity.Identifier)
	fmt.Printf("TCP:            %s\n", tcpAddr)
	if d.cfg.HTTPListen != "" {
		fmt.Printf("HTTP:           %s\n", d.cfg.HTTPListen)
	}
	fmt.Println("----------------------------------------")
	fmt.Printf("Setup Code:     %s\n", d.setupCode)
	fmt.Println("========================================")
}
