package transport

import (
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// Pipe is an in-memory stream connection for tests. It runs on pion's
// test.Bridge, which moves each Write across as one packet when the bridge
// ticks; the endpoints buffer those packets into a byte stream.
//
// The server end is Server, or the conn returned by Listener().Accept. The
// dialing end is Client.
type Pipe struct {
	bridge *test.Bridge
	server *pipeConn
	client *pipeConn

	stop     chan struct{}
	done     chan struct{}
	closeMu  sync.Mutex
	isClosed bool
}

// NewPipe returns a Pipe that delivers writes in the background.
func NewPipe() *Pipe {
	br := test.NewBridge()
	p := &Pipe{
		bridge: br,
		server: &pipeConn{Conn: br.GetConn0(), local: "pipe:server", remote: "pipe:client"},
		client: &pipeConn{Conn: br.GetConn1(), local: "pipe:client", remote: "pipe:server"},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go p.deliver(time.Millisecond)
	return p
}

func (p *Pipe) deliver(every time.Duration) {
	defer close(p.done)
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-t.C:
			p.bridge.Tick()
		}
	}
}

// Server returns the accepting end.
func (p *Pipe) Server() net.Conn { return p.server }

// Client returns the dialing end.
func (p *Pipe) Client() net.Conn { return p.client }

// Listener returns a listener whose first Accept yields the server end.
func (p *Pipe) Listener() net.Listener {
	return &pipeListener{conn: p.server, closed: make(chan struct{})}
}

// Close closes both ends, discarding undelivered writes, and stops delivery.
// Blocked reads on either end return io.EOF.
func (p *Pipe) Close() error {
	p.closeMu.Lock()
	if p.isClosed {
		p.closeMu.Unlock()
		return nil
	}
	p.isClosed = true
	p.closeMu.Unlock()

	serr := p.server.Close()
	if cerr := p.client.Close(); serr == nil {
		serr = cerr
	}

	// The bridge closes a reader only once its queue is empty, and only
	// on a tick.
	p.bridge.Drop(0, 0, p.bridge.Len(0))
	p.bridge.Drop(1, 0, p.bridge.Len(1))
	p.bridge.Tick()

	close(p.stop)
	<-p.done
	return serr
}

type pipeAddr string

func (a pipeAddr) Network() string { return "pipe" }
func (a pipeAddr) String() string  { return string(a) }

// pipeConn turns a packet endpoint of the bridge into a stream.
type pipeConn struct {
	net.Conn
	local, remote pipeAddr

	mu      sync.Mutex
	packet  [64 * 1024]byte
	pending []byte

	closeOnce sync.Once
	closeErr  error
}

func (c *pipeConn) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.pending) == 0 {
		n, err := c.Conn.Read(c.packet[:])
		if err != nil {
			return 0, err
		}
		c.pending = c.packet[:n]
	}
	n := copy(b, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *pipeConn) Close() error {
	c.closeOnce.Do(func() { c.closeErr = c.Conn.Close() })
	return c.closeErr
}

func (c *pipeConn) LocalAddr() net.Addr  { return c.local }
func (c *pipeConn) RemoteAddr() net.Addr { return c.remote }

// pipeListener accepts its conn once, then blocks until closed.
type pipeListener struct {
	conn   *pipeConn
	closed chan struct{}

	mu       sync.Mutex
	accepted bool
	isClosed bool
}

func (l *pipeListener) Accept() (net.Conn, error) {
	l.mu.Lock()
	if !l.isClosed && !l.accepted {
		l.accepted = true
		l.mu.Unlock()
		return l.conn, nil
	}
	l.mu.Unlock()
	<-l.closed
	return nil, &net.OpError{Op: "accept", Net: "pipe", Addr: l.Addr(), Err: net.ErrClosed}
}

func (l *pipeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isClosed {
		l.isClosed = true
		close(l.closed)
	}
	return nil
}

func (l *pipeListener) Addr() net.Addr { return l.conn.local }
