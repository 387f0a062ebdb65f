package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Reckless312/peerchat/chat/domain"
	"github.com/Reckless312/peerchat/wire"
)

const (
	// DefaultCapacity is the concurrent participant limit per relay.
	DefaultCapacity = 20
	// DefaultMinOccupancy is the participant count below which the idle
	// timer runs.
	DefaultMinOccupancy = 2
	// DefaultIdleTimeout is how long a relay stays up while under the
	// minimum occupancy.
	DefaultIdleTimeout = 3 * time.Minute
)

// Config carries the relay construction parameters. The host username is
// fixed for the relay's whole lifetime.
type Config struct {
	ListenAddress string
	HostName      string
	Capacity      int
	MinOccupancy  int
	IdleTimeout   time.Duration
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.MinOccupancy <= 0 {
		c.MinOccupancy = DefaultMinOccupancy
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	return c
}

// Relay is the single authoritative process per chat room: it accepts
// every participant's connection, validates and executes role-change
// commands, and rebroadcasts chat. Its state machine is Running →
// ShuttingDown, terminal; shutdown triggers are host departure and the
// idle timer, never capacity.
type Relay struct {
	cfg      Config
	logger   *slog.Logger
	reg      *registry
	listener net.Listener
	bindHost string

	running      atomic.Bool
	shutdownOnce sync.Once

	// idleMu guards the dispose-then-rearm sequence on the single idle
	// timer against concurrent re-arms from disconnecting handlers.
	idleMu    sync.Mutex
	idleTimer *time.Timer
}

// New builds a relay; Start must follow.
func New(cfg Config, logger *slog.Logger) *Relay {
	return &Relay{
		cfg:    cfg.withDefaults(),
		logger: logger.With(slog.String("component", "relay")),
		reg:    newRegistry(),
	}
}

// Start binds the listener and runs the accept loop in the background.
func (r *Relay) Start() error {
	ln, err := net.Listen("tcp", r.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("relay listen on %s: %w", r.cfg.ListenAddress, err)
	}
	r.listener = ln
	if host, _, err := net.SplitHostPort(ln.Addr().String()); err == nil {
		r.bindHost = host
	}
	r.running.Store(true)
	r.maybeArmIdle()
	go r.acceptLoop()
	r.logger.Info("relay started",
		slog.String("addr", ln.Addr().String()),
		slog.String("host", r.cfg.HostName))
	return nil
}

// IsRunning reports whether the relay has not yet shut down.
func (r *Relay) IsRunning() bool { return r.running.Load() }

// Addr is the bound listener address, useful when the configured port
// was 0.
func (r *Relay) Addr() string {
	if r.listener == nil {
		return ""
	}
	return r.listener.Addr().String()
}

// Shutdown flips the relay into its terminal state, closes the listener
// and tears down every connection. Handlers blocked in reads are
// unblocked by the forced closes.
func (r *Relay) Shutdown() {
	r.shutdownOnce.Do(func() {
		r.running.Store(false)
		r.idleMu.Lock()
		if r.idleTimer != nil {
			r.idleTimer.Stop()
		}
		r.idleMu.Unlock()
		if r.listener != nil {
			_ = r.listener.Close()
		}
		for _, conn := range r.reg.conns() {
			conn.Shutdown()
		}
		r.logger.Info("relay stopped")
	})
}

func (r *Relay) acceptLoop() {
	for r.running.Load() {
		nc, err := r.listener.Accept()
		if err != nil {
			if !r.running.Load() {
				return
			}
			r.logger.Warn("accept failed", slog.Any("error", err))
			continue
		}
		conn := wire.Wrap(nc)
		if r.reg.count() >= r.cfg.Capacity {
			r.reject(conn)
			continue
		}
		p := r.reg.add(conn)
		r.maybeArmIdle()
		go r.handle(p)
	}
}

// reject turns away a connection over capacity: a capacity notice, then
// an immediate kick, without the connection ever entering the registry.
func (r *Relay) reject(conn *wire.Conn) {
	r.logger.Info("capacity reached, rejecting connection",
		slog.String("remote", conn.RemoteAddr()))
	r.send(conn, r.createMessage("Chat room is full, try again later.", r.cfg.HostName))
	r.send(conn, r.createMessage(domain.FormatInfo(domain.StatusKick), r.cfg.HostName))
	conn.Close()
}

// handle owns one participant connection: handshake first, then the
// frame loop. Failures here are local to the connection; they never
// propagate to the accept loop or other handlers.
func (r *Relay) handle(p *participant) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("connection handler panicked", slog.Any("panic", rec))
			r.reg.remove(p.conn.ID())
			p.conn.Close()
		}
	}()

	payload, err := p.conn.Receive()
	if err != nil || len(payload) == 0 {
		r.reg.remove(p.conn.ID())
		p.conn.Close()
		r.maybeArmIdle()
		return
	}
	username := string(payload)
	if err := r.reg.complete(p.conn.ID(), username); err != nil {
		r.logger.Warn("handshake rejected", slog.Any("error", err))
		if errors.Is(err, errNameTaken) {
			r.send(p.conn, r.createMessage(
				fmt.Sprintf("The name %s is already taken.", username), r.cfg.HostName))
		}
		r.reg.remove(p.conn.ID())
		p.conn.Close()
		r.maybeArmIdle()
		return
	}
	r.logger.Info("participant joined",
		slog.String("username", username),
		slog.String("remote", p.addr))
	r.broadcast(r.createMessage(fmt.Sprintf("%s has joined the chat", username), username))

	for r.running.Load() {
		payload, err := p.conn.Receive()
		if err != nil || len(payload) == 0 {
			r.disconnect(p)
			return
		}
		text := string(payload)

		// A client must never succeed in spoofing a role change by
		// echoing the relay's own INFO shape.
		if domain.IsInfo(text) {
			continue
		}
		if cmd, ok := domain.ParseCommand(text); ok {
			r.changeStatus(cmd, p)
			continue
		}
		r.broadcast(r.createMessage(text, p.username))
	}
}

// disconnect handles the sentinel (or a broken stream). Host departure
// is keyed on source-IP equality with the relay's bind address, which
// conflates distinct users sharing the host's address; kept as-is.
func (r *Relay) disconnect(p *participant) {
	if !r.running.Load() {
		// Shutdown already in progress; the cascade closed this stream.
		r.reg.remove(p.conn.ID())
		p.conn.Close()
		return
	}
	if r.isHostAddr(p.host) {
		r.logger.Info("host departed, shutting down", slog.String("username", p.username))
		r.broadcast(r.createMessage("The host has closed the chat", r.cfg.HostName))
		r.Shutdown()
		return
	}
	r.logger.Info("participant left", slog.String("username", p.username))
	r.reg.remove(p.conn.ID())
	p.conn.Close()
	r.broadcast(r.createMessage(fmt.Sprintf("%s has left the chat", p.username), p.username))
	r.maybeArmIdle()
}

func (r *Relay) isHostAddr(host string) bool {
	if r.bindHost == "" {
		return true
	}
	if ip := net.ParseIP(r.bindHost); ip != nil && ip.IsUnspecified() {
		remote := net.ParseIP(host)
		return remote != nil && remote.IsLoopback()
	}
	return host == r.bindHost
}

// changeStatus validates and executes one MUTE/ADMIN/KICK command. The
// requester's rank comes from its registered username, not from the
// command text.
func (r *Relay) changeStatus(cmd domain.Command, requester *participant) {
	target, ok := r.reg.byUsername(cmd.Target)
	if !ok {
		// Target already left or never existed.
		return
	}
	requesterRank := r.deriveRank(requester.username)
	targetRank := r.deriveRank(target.username)
	if !domain.CanChange(requesterRank, targetRank) {
		r.send(requester.conn, r.createMessage(
			fmt.Sprintf("You do not have permission to change %s", target.username),
			r.cfg.HostName))
		return
	}

	var announcement string
	switch cmd.Status {
	case domain.StatusMute:
		if r.reg.toggleMuted(target.username) {
			announcement = fmt.Sprintf("%s has been muted", target.username)
		} else {
			announcement = fmt.Sprintf("%s has been unmuted", target.username)
		}
		r.send(target.conn, r.createMessage(domain.FormatInfo(domain.StatusMute), r.cfg.HostName))
	case domain.StatusAdmin:
		if r.reg.toggleAdmin(target.username) {
			announcement = fmt.Sprintf("%s is now an admin", target.username)
		} else {
			announcement = fmt.Sprintf("%s is no longer an admin", target.username)
		}
		r.send(target.conn, r.createMessage(domain.FormatInfo(domain.StatusAdmin), r.cfg.HostName))
	case domain.StatusKick:
		announcement = fmt.Sprintf("%s has been kicked", target.username)
		r.send(target.conn, r.createMessage(domain.FormatInfo(domain.StatusKick), r.cfg.HostName))
		r.reg.remove(target.conn.ID())
		target.conn.Close()
		r.maybeArmIdle()
	}
	r.logger.Info("status changed",
		slog.String("status", cmd.Status.String()),
		slog.String("requester", requester.username),
		slog.String("target", target.username))
	r.broadcast(r.createMessage(announcement, requester.username))
}

// deriveRank computes the effective rank: the fixed host username wins,
// then the admin flag, then regular.
func (r *Relay) deriveRank(username string) domain.Role {
	if username == r.cfg.HostName {
		return domain.RoleHost
	}
	if r.reg.isAdmin(username) {
		return domain.RoleAdmin
	}
	return domain.RoleRegular
}

// createMessage stamps the relay's view of a message: current time, left
// alignment, the sender's current derived rank.
func (r *Relay) createMessage(content, sender string) domain.Message {
	return domain.NewMessage(content, sender, r.deriveRank(sender))
}

// broadcast sends best-effort to every registered connection; a failure
// on one never aborts delivery to the rest.
func (r *Relay) broadcast(msg domain.Message) {
	payload, err := wire.EncodeEnvelope(msg)
	if err != nil {
		r.logger.Error("encode broadcast failed", slog.Any("error", err))
		return
	}
	for _, conn := range r.reg.conns() {
		if err := conn.Send(payload); err != nil {
			r.logger.Debug("broadcast send failed",
				slog.String("conn", conn.ID()), slog.Any("error", err))
		}
	}
}

func (r *Relay) send(conn *wire.Conn, msg domain.Message) {
	payload, err := wire.EncodeEnvelope(msg)
	if err != nil {
		r.logger.Error("encode send failed", slog.Any("error", err))
		return
	}
	if err := conn.Send(payload); err != nil {
		r.logger.Debug("send failed",
			slog.String("conn", conn.ID()), slog.Any("error", err))
	}
}

// maybeArmIdle re-arms the shutdown timer whenever occupancy sits below
// the minimum. The previous timer is disposed, never stacked, and the
// occupancy check repeats at fire time so a join during the window
// cancels the effect implicitly.
func (r *Relay) maybeArmIdle() {
	if r.reg.count() >= r.cfg.MinOccupancy {
		return
	}
	r.idleMu.Lock()
	defer r.idleMu.Unlock()
	if r.idleTimer != nil {
		r.idleTimer.Stop()
	}
	r.idleTimer = time.AfterFunc(r.cfg.IdleTimeout, func() {
		if !r.running.Load() {
			return
		}
		if r.reg.count() >= r.cfg.MinOccupancy {
			return
		}
		r.logger.Info("idle timeout reached, shutting down")
		r.Shutdown()
	})
}
