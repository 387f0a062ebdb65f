package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/Reckless312/peerchat/chat/domain"
	"github.com/Reckless312/peerchat/wire"
)

// ErrNotConnected is returned by SendMessage when no live connection to
// a relay exists.
var ErrNotConnected = errors.New("not connected to a relay")

// Client is the connection every participant, the host included, keeps
// to the relay. It applies role-state changes pushed by the relay and
// never computes them from chat traffic.
type Client struct {
	username string
	logger   *slog.Logger

	mu     sync.RWMutex
	conn   *wire.Conn
	status domain.UserStatus

	onMessage func(domain.Message)
	onStatus  func(domain.UserStatus)
	onClosed  func()
}

// New builds a client for one username. Callbacks must be set before
// Connect; they fire from the receive goroutine.
func New(username string, logger *slog.Logger) *Client {
	return &Client{
		username: username,
		logger:   logger.With(slog.String("component", "client"), slog.String("username", username)),
	}
}

// OnMessage registers the chat-message callback.
func (c *Client) OnMessage(fn func(domain.Message)) { c.onMessage = fn }

// OnStatus registers the role-state callback.
func (c *Client) OnStatus(fn func(domain.UserStatus)) { c.onStatus = fn }

// OnClosed registers the connection-teardown callback.
func (c *Client) OnClosed(fn func()) { c.onClosed = fn }

// Username is the name this client handshakes with.
func (c *Client) Username() string { return c.username }

// Status is a snapshot of the relay's view of this user.
func (c *Client) Status() domain.UserStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// SetAsHost marks this client as the one whose process also runs the
// relay. One-way.
func (c *Client) SetAsHost() {
	c.mu.Lock()
	c.status.IsHost = true
	c.mu.Unlock()
}

// Connect establishes the stream, sends the username as the handshake
// frame and starts the receive loop. No retry on failure.
func (c *Client) Connect(address string) error {
	if c.username == "" {
		return errors.New("username must not be empty")
	}
	conn, err := wire.Dial(address)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", address, err)
	}
	if err := conn.Send([]byte(c.username)); err != nil {
		conn.Close()
		return fmt.Errorf("handshake with %s: %w", address, err)
	}
	c.mu.Lock()
	c.conn = conn
	c.status.IsConnected = true
	c.mu.Unlock()
	go c.receiveLoop(conn)
	c.logger.Info("connected", slog.String("addr", address))
	return nil
}

// SendMessage writes one frame of chat text. Empty text is rejected
// upstream; the zero-length frame stays reserved for the sentinel.
func (c *Client) SendMessage(text string) error {
	c.mu.RLock()
	conn := c.conn
	connected := c.status.IsConnected
	c.mu.RUnlock()
	if conn == nil || !connected {
		return ErrNotConnected
	}
	if err := conn.Send([]byte(text)); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Disconnect announces the sentinel best-effort and tears the stream
// down; failures are swallowed, the relay may already be gone.
func (c *Client) Disconnect() {
	c.mu.Lock()
	conn := c.conn
	c.status.IsConnected = false
	c.mu.Unlock()
	if conn != nil {
		conn.Shutdown()
	}
}

// receiveLoop blocks on the stream until the peer closes or sends the
// sentinel. Envelopes whose content wears the INFO shape toggle local
// role state instead of surfacing as chat.
func (c *Client) receiveLoop(conn *wire.Conn) {
	for {
		payload, err := conn.Receive()
		if err != nil || len(payload) == 0 {
			c.markDisconnected(conn)
			return
		}
		msg, err := wire.DecodeEnvelope(payload)
		if err != nil {
			c.logger.Warn("dropping undecodable frame", slog.Any("error", err))
			continue
		}
		if status, ok := domain.ParseInfo(msg.Content); ok {
			c.applyInfo(status, conn)
			continue
		}
		if c.onMessage != nil {
			c.onMessage(msg)
		}
	}
}

// applyInfo toggles the flag an INFO command names. Kick is terminal for
// the connection; there is no relay push for "unkick".
func (c *Client) applyInfo(status domain.Status, conn *wire.Conn) {
	c.mu.Lock()
	switch status {
	case domain.StatusMute:
		c.status.IsMuted = !c.status.IsMuted
	case domain.StatusAdmin:
		c.status.IsAdmin = !c.status.IsAdmin
	case domain.StatusKick:
		c.status.IsConnected = false
	}
	snapshot := c.status
	c.mu.Unlock()

	c.logger.Info("role state changed", slog.String("status", status.String()))
	if c.onStatus != nil {
		c.onStatus(snapshot)
	}
	if status == domain.StatusKick {
		conn.Close()
	}
}

func (c *Client) markDisconnected(conn *wire.Conn) {
	c.mu.Lock()
	wasConnected := c.status.IsConnected
	c.status.IsConnected = false
	c.mu.Unlock()
	conn.Close()
	c.logger.Info("disconnected")
	if wasConnected && c.onClosed != nil {
		c.onClosed()
	}
}
