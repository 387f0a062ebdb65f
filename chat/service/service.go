// Package service wires the relay and client halves of a chat room
// together and converts their failures into a single reportable error
// event for the presentation layer.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Reckless312/peerchat/chat/client"
	"github.com/Reckless312/peerchat/chat/domain"
	"github.com/Reckless312/peerchat/chat/relay"
)

// SelfHosted is the invite-address sentinel meaning "run the relay in
// this process".
const SelfHosted = ""

var (
	// ErrEmptyMessage rejects empty chat text; the zero-length frame is
	// reserved for the disconnect sentinel.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrRelayStopped surfaces after a send when the hosted relay has
	// shut down in the meantime, typically on the idle timeout.
	ErrRelayStopped = errors.New("relay is no longer running")
)

// Dispatcher marshals event delivery onto the presentation layer's
// single thread. Network goroutines never call presentation code
// directly.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatchFunc adapts a function to the Dispatcher interface. Tests use
// a synchronous one.
type DispatchFunc func(fn func())

func (f DispatchFunc) Dispatch(fn func()) { f(fn) }

// Config parameterizes one chat session.
type Config struct {
	Username      string
	ListenAddress string
	InviteAddress string
	Capacity      int
	MinOccupancy  int
	IdleTimeout   time.Duration
}

// Service decides host-vs-join, aligns messages for display and owns
// the error channel to the presentation layer.
type Service struct {
	cfg        Config
	logger     *slog.Logger
	dispatcher Dispatcher

	// Connect runs on a network goroutine while the presentation layer
	// keeps calling SendMessage and Status, so both halves are read and
	// written under mu.
	mu     sync.RWMutex
	client *client.Client
	relay  *relay.Relay

	onMessage func(domain.Message)
	onStatus  func(domain.UserStatus)
	onError   func(error)
}

// New builds a service; event callbacks must be set before Connect.
func New(cfg Config, dispatcher Dispatcher, logger *slog.Logger) *Service {
	return &Service{
		cfg:        cfg,
		logger:     logger.With(slog.String("component", "service")),
		dispatcher: dispatcher,
	}
}

// OnMessage registers the MessageReceived callback.
func (s *Service) OnMessage(fn func(domain.Message)) { s.onMessage = fn }

// OnStatus registers the UserStatusChanged callback.
func (s *Service) OnStatus(fn func(domain.UserStatus)) { s.onStatus = fn }

// OnError registers the ExceptionOccurred callback.
func (s *Service) OnError(fn func(error)) { s.onError = fn }

// Connect starts the session. With the self-host sentinel as the invite
// address it spins up a relay on the listen address first; either way a
// client is connected to the resulting relay. Failures from either step
// are emitted as a single error event, never rethrown to the caller.
func (s *Service) Connect() {
	address := s.cfg.InviteAddress
	var rl *relay.Relay
	if s.cfg.InviteAddress == SelfHosted {
		rl = relay.New(relay.Config{
			ListenAddress: s.cfg.ListenAddress,
			HostName:      s.cfg.Username,
			Capacity:      s.cfg.Capacity,
			MinOccupancy:  s.cfg.MinOccupancy,
			IdleTimeout:   s.cfg.IdleTimeout,
		}, s.logger)
		if err := rl.Start(); err != nil {
			s.emitError(fmt.Errorf("hosting chat room: %w", err))
			return
		}
		address = rl.Addr()
		s.mu.Lock()
		s.relay = rl
		s.mu.Unlock()
	}

	c := client.New(s.cfg.Username, s.logger)
	c.OnMessage(s.handleMessage)
	c.OnStatus(s.handleStatus)
	c.OnClosed(s.handleClosed)
	if rl != nil {
		c.SetAsHost()
	}
	if err := c.Connect(address); err != nil {
		s.emitError(fmt.Errorf("joining chat room: %w", err))
		return
	}
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
}

// session snapshots the client and relay handles for one call.
func (s *Service) session() (*client.Client, *relay.Relay) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.client, s.relay
}

// SendMessage relays one line of chat. The relay-stopped check runs
// after the send because a hosted relay may shut down asynchronously
// between sends.
func (s *Service) SendMessage(text string) {
	if text == "" {
		s.emitError(ErrEmptyMessage)
		return
	}
	c, rl := s.session()
	if c == nil || !c.Status().IsConnected {
		s.emitError(client.ErrNotConnected)
		return
	}
	if err := c.SendMessage(text); err != nil {
		s.emitError(err)
		return
	}
	if rl != nil && !rl.IsRunning() {
		s.emitError(ErrRelayStopped)
	}
}

// MuteUser asks the relay to toggle the target's mute flag. No local
// authorization check: the relay is the sole authority.
func (s *Service) MuteUser(target string) {
	s.SendMessage(domain.FormatCommand(s.cfg.Username, domain.StatusMute, target))
}

// AdminUser asks the relay to toggle the target's admin flag.
func (s *Service) AdminUser(target string) {
	s.SendMessage(domain.FormatCommand(s.cfg.Username, domain.StatusAdmin, target))
}

// KickUser asks the relay to remove the target.
func (s *Service) KickUser(target string) {
	s.SendMessage(domain.FormatCommand(s.cfg.Username, domain.StatusKick, target))
}

// Status snapshots the local user's role state.
func (s *Service) Status() domain.UserStatus {
	c, _ := s.session()
	if c == nil {
		return domain.UserStatus{}
	}
	return c.Status()
}

// Hosting reports whether this participant also runs the relay.
func (s *Service) Hosting() bool {
	_, rl := s.session()
	return rl != nil
}

// RelayAddr is the hosted relay's bound address, empty when joining
// someone else's room. Useful when the listen port was 0.
func (s *Service) RelayAddr() string {
	_, rl := s.session()
	if rl == nil {
		return ""
	}
	return rl.Addr()
}

// Disconnect leaves the room. When this participant hosts, the relay
// sees its own sentinel arrive and cascades the shutdown to everyone.
func (s *Service) Disconnect() {
	c, _ := s.session()
	if c != nil {
		c.Disconnect()
	}
}

// handleMessage rewrites alignment from the local user's point of view
// before the message reaches the presentation layer: own messages sit
// right, everyone else's left. The relay-assigned value is always
// overwritten.
func (s *Service) handleMessage(msg domain.Message) {
	if msg.SenderName == s.cfg.Username {
		msg.Alignment = domain.AlignRight
	} else {
		msg.Alignment = domain.AlignLeft
	}
	if s.onMessage != nil {
		s.dispatcher.Dispatch(func() { s.onMessage(msg) })
	}
}

func (s *Service) handleStatus(status domain.UserStatus) {
	if s.onStatus != nil {
		s.dispatcher.Dispatch(func() { s.onStatus(status) })
	}
}

func (s *Service) handleClosed() {
	status := s.Status()
	if s.onStatus != nil {
		s.dispatcher.Dispatch(func() { s.onStatus(status) })
	}
}

func (s *Service) emitError(err error) {
	s.logger.Warn("chat error", slog.Any("error", err))
	if s.onError != nil {
		s.dispatcher.Dispatch(func() { s.onError(err) })
	}
}
