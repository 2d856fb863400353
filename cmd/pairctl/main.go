// pairctl is a pairing controller.
//
// It keeps its own identity and paired accessories in SQLite and talks to
// pairingd over the framed TCP transport and the HTTP pairing API.
//
// Usage:
//
//	pairctl [global options] <command> [command options]
//
// Commands:
//
//	setup    run pair-setup against -addr
//	verify   run pair-verify against -addr and echo -message
//	list     list the pairings held by the accessory at -http
//	remove   remove a pairing from the accessory at -http
//	browse   list pairing services advertised on the local network
//	peers    list the accessories held in the local store
//
// Example:
//
//	pairctl -store pairctl.db setup -addr 192.168.1.20:5541 -code 518-08-582
//	pairctl verify -addr 192.168.1.20:5541 -message hello
package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/pairing/pkg/discovery"
	"github.com/backkem/pairing/pkg/pairhttp"
	"github.com/backkem/pairing/pkg/pairing"
	"github.com/backkem/pairing/pkg/securechannel"
	"github.com/backkem/pairing/pkg/store"
	"github.com/backkem/pairing/pkg/transport"
)

const maxAttempts = 3

func main() {
	storePath := flag.String("store", "pairctl.db", "SQLite database path")
	verbose := flag.Bool("v", false, "enable debug logging")
	timeout := flag.Duration("timeout", 30*time.Second, "per-exchange timeout")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	loggerFactory := logging.NewDefaultLoggerFactory()
	if *verbose {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c := &ctl{
		storePath:     *storePath,
		timeout:       *timeout,
		loggerFactory: loggerFactory,
		log:           loggerFactory.NewLogger("pairctl"),
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	var err error
	switch cmd {
	case "setup":
		err = c.setup(ctx, args)
	case "verify":
		err = c.verify(ctx, args)
	case "list":
		err = c.list(ctx, args)
	case "remove":
		err = c.remove(ctx, args)
	case "browse":
		err = c.browse(ctx, args)
	case "peers":
		err = c.peers(args)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", cmd)
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "pairctl %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: pairctl [options] <setup|verify|list|remove|browse|peers> [command options]\n\n")
	flag.PrintDefaults()
}

type ctl struct {
	storePath     string
	timeout       time.Duration
	loggerFactory logging.LoggerFactory
	log           logging.LeveledLogger
}

func (c *ctl) openStore() (*store.SQLiteStore, error) {
	return store.OpenSQLiteStore(store.SQLiteStoreConfig{
		Path:          c.storePath,
		LoggerFactory: c.loggerFactory,
	})
}

func (c *ctl) dial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	dialCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return d.DialContext(dialCtx, "tcp", addr)
}

// resolveAddr returns addr, or finds the accessory with the given
// identifier over DNS-SD when addr is empty.
func (c *ctl) resolveAddr(ctx context.Context, addr, identifier string) (string, error) {
	if addr != "" {
		return addr, nil
	}
	if identifier == "" {
		return "", errors.New("-addr or -id is required")
	}
	r, err := discovery.NewResolver(discovery.ResolverConfig{LoggerFactory: c.loggerFactory})
	if err != nil {
		return "", err
	}
	svc, err := r.Find(ctx, identifier)
	if err != nil {
		return "", fmt.Errorf("find %s: %w", identifier, err)
	}
	return svc.DialAddress(), nil
}

func (c *ctl) setup(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("setup", flag.ExitOnError)
	addr := fs.String("addr", "", "accessory TCP address")
	id := fs.String("id", "", "accessory identifier to resolve over DNS-SD")
	code := fs.String("code", "", "setup code; prompted on stdin when empty")
	fs.Parse(args)

	addrStr, err := c.resolveAddr(ctx, *addr, *id)
	if err != nil {
		return err
	}

	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	conn, err := c.dial(ctx, addrStr)
	if err != nil {
		return err
	}
	defer conn.Close()

	stdin := bufio.NewReader(os.Stdin)
	var session *pairing.Session
	delegate := pairing.StoreDelegate(st)
	delegate.PromptForSetupCode = func(flags pairing.Flags, delaySeconds int32) error {
		if delaySeconds > 0 {
			fmt.Printf("Accessory asks to wait %ds before the next attempt.\n", delaySeconds)
		}
		if *code != "" && flags&pairing.FlagIncorrect == 0 {
			return session.SetSetupCode(*code)
		}
		if flags&pairing.FlagIncorrect != 0 {
			fmt.Println("Incorrect setup code.")
		}
		fmt.Print("Setup code: ")
		line, err := stdin.ReadString('\n')
		if err != nil && line == "" {
			return err
		}
		return session.SetSetupCode(strings.TrimSpace(line))
	}

	session, err = pairing.New(pairing.Config{
		Type:          pairing.SetupClient,
		Delegate:      delegate,
		LoggerFactory: c.loggerFactory,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	for attempt := 1; ; attempt++ {
		exCtx, cancel := context.WithTimeout(ctx, c.timeout)
		err = transport.RunExchange(exCtx, conn, session, nil)
		cancel()
		if err == nil {
			break
		}
		retry := errors.Is(err, pairing.ErrAuthentication) || errors.Is(err, pairing.ErrBackoff)
		if !retry || attempt >= maxAttempts {
			return err
		}
		c.log.Debugf("attempt %d failed: %v", attempt, err)
	}

	peer, _ := session.PeerIdentifier()
	fmt.Printf("Paired with %s\n", peer)
	return nil
}

func (c *ctl) verify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	addr := fs.String("addr", "", "accessory TCP address")
	id := fs.String("id", "", "accessory identifier to resolve over DNS-SD")
	message := fs.String("message", "ping", "message echoed over the secure channel")
	fs.Parse(args)

	addrStr, err := c.resolveAddr(ctx, *addr, *id)
	if err != nil {
		return err
	}

	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	conn, err := c.dial(ctx, addrStr)
	if err != nil {
		return err
	}
	defer conn.Close()

	session, err := pairing.New(pairing.Config{
		Type:          pairing.VerifyClient,
		Store:         st,
		LoggerFactory: c.loggerFactory,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	exCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := transport.RunExchange(exCtx, conn, session, nil); err != nil {
		return err
	}
	peer, _ := session.PeerIdentifier()
	fmt.Printf("Verified %s\n", peer)

	secure, err := securechannel.Client(conn, session, c.loggerFactory)
	if err != nil {
		return err
	}
	defer secure.Close()

	if deadline, ok := exCtx.Deadline(); ok {
		secure.SetDeadline(deadline)
	}
	if _, err := secure.Write([]byte(*message)); err != nil {
		return err
	}
	reply := make([]byte, len(*message))
	if _, err := io.ReadFull(secure, reply); err != nil {
		return err
	}
	fmt.Printf("Echo: %s\n", reply)
	return nil
}

func (c *ctl) list(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	base := fs.String("http", "http://localhost:8080", "accessory HTTP base URL")
	fs.Parse(args)

	resp, err := c.httpDo(ctx, http.MethodGet, *base+"/pairings")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s", resp.Status)
	}

	var list []pairhttp.Pairing
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return fmt.Errorf("decode pairings: %w", err)
	}
	if len(list) == 0 {
		fmt.Println("No pairings.")
		return nil
	}
	for _, p := range list {
		fmt.Printf("%s  %s\n", p.Identifier, p.PublicKey)
	}
	return nil
}

func (c *ctl) remove(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	base := fs.String("http", "http://localhost:8080", "accessory HTTP base URL")
	fs.Parse(args)
	if fs.NArg() != 1 {
		return errors.New("usage: remove [-http url] <identifier>")
	}

	resp, err := c.httpDo(ctx, http.MethodDelete, *base+"/pairings/"+url.PathEscape(fs.Arg(0)))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusNoContent:
		fmt.Printf("Removed %s\n", fs.Arg(0))
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%s is not paired", fs.Arg(0))
	}
	return fmt.Errorf("unexpected status %s", resp.Status)
}

func (c *ctl) httpDo(ctx context.Context, method, target string) (*http.Response, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	req, err := http.NewRequestWithContext(reqCtx, method, target, nil)
	if err != nil {
		cancel()
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = cancelBody{resp.Body, cancel}
	return resp, nil
}

// cancelBody releases the request context when the body is closed.
type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func (c *ctl) browse(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("browse", flag.ExitOnError)
	wait := fs.Duration("wait", 5*time.Second, "how long to listen for advertisements")
	fs.Parse(args)

	r, err := discovery.NewResolver(discovery.ResolverConfig{
		BrowseTimeout: *wait,
		LoggerFactory: c.loggerFactory,
	})
	if err != nil {
		return err
	}
	found := 0
	for svc := range r.Browse(ctx) {
		found++
		status := "paired"
		id := "?"
		if svc.TXT != nil {
			id = svc.TXT.Identifier
			if svc.TXT.Unpaired {
				status = "unpaired"
			}
		}
		fmt.Printf("%-24s %-40s %-22s %s\n", svc.Instance, id, svc.DialAddress(), status)
	}
	if found == 0 {
		fmt.Println("No pairing services found.")
	}
	return nil
}

func (c *ctl) peers(args []string) error {
	fs := flag.NewFlagSet("peers", flag.ExitOnError)
	fs.Parse(args)

	st, err := c.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	identity, err := st.CopyIdentity(true)
	if err != nil {
		return err
	}
	identity.Wipe()
	fmt.Printf("Controller: %s\n", identity.Identifier)

	peers, err := st.CopyPeers()
	if err != nil {
		return err
	}
	for _, p := range peers {
		fmt.Printf("%s  %s\n", p.Identifier, hex.EncodeToString(p.PublicKey))
	}
	return nil
}
