package wire

import (
	"bufio"
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/oklog/ulid/v2"
)

// ErrClosed is returned by Send when the connection has been shut down.
var ErrClosed = errors.New("connection closed")

// Conn is one persistent byte-stream connection to a peer, owning the
// send/receive primitives and liveness state. Send is safe for
// concurrent use; Receive has a single reader by contract.
type Conn struct {
	id string
	nc net.Conn
	r  *bufio.Reader

	wmu       sync.Mutex
	alive     atomic.Bool
	closeOnce sync.Once
}

// Dial connects to a relay address.
func Dial(address string) (*Conn, error) {
	nc, err := net.Dial("tcp", address)
	if err != nil {
		return nil, err
	}
	return Wrap(nc), nil
}

// Wrap adopts an accepted network connection.
func Wrap(nc net.Conn) *Conn {
	c := &Conn{
		id: ulid.Make().String(),
		nc: nc,
		r:  bufio.NewReader(nc),
	}
	c.alive.Store(true)
	return c
}

// ID is the connection's ULID, assigned at wrap time.
func (c *Conn) ID() string { return c.id }

// Alive reports whether Shutdown has not yet run.
func (c *Conn) Alive() bool { return c.alive.Load() }

// RemoteAddr is the peer's full source endpoint, unique per connection.
func (c *Conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

// RemoteHost is the peer's address without the port, or the raw remote
// address when it does not split.
func (c *Conn) RemoteHost() string {
	host, _, err := net.SplitHostPort(c.nc.RemoteAddr().String())
	if err != nil {
		return c.nc.RemoteAddr().String()
	}
	return host
}

// Send writes one frame.
func (c *Conn) Send(payload []byte) error {
	if !c.alive.Load() {
		return ErrClosed
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return WriteFrame(c.nc, payload)
}

// SendSentinel writes the zero-length disconnect sentinel.
func (c *Conn) SendSentinel() error {
	return c.Send(nil)
}

// Receive blocks for one frame. An empty payload with a nil error is the
// disconnect sentinel; any error means the peer is gone.
func (c *Conn) Receive() ([]byte, error) {
	return ReadFrame(c.r)
}

// Shutdown announces the sentinel best-effort and tears the stream down.
// Failures are swallowed: the peer may already be gone.
func (c *Conn) Shutdown() {
	c.closeOnce.Do(func() {
		c.wmu.Lock()
		_ = WriteFrame(c.nc, nil)
		c.wmu.Unlock()
		c.alive.Store(false)
		_ = c.nc.Close()
	})
}

// Close tears the stream down without announcing the sentinel. Used when
// the peer has already been told to go, as after a kick.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		_ = c.nc.Close()
	})
}
