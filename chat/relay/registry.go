package relay

import (
	"errors"
	"fmt"
	"sync"

	"github.com/Reckless312/peerchat/wire"
)

// errNameTaken rejects a handshake whose username is already live in
// the room. Letting it through would make the username view ambiguous
// and leak role flags between two connections.
var errNameTaken = errors.New("username already taken")

// participant is one connected peer. A record starts address-only when
// the connection is accepted and becomes handshake-complete once the
// username frame arrives.
type participant struct {
	conn     *wire.Conn
	addr     string // full source endpoint, unique per connection
	host     string // source IP only, used for host detection
	username string
}

// registry is the participant table plus its generated lookup views (by
// connection ID, by remote address, by username) and the per-username
// role flags. Everything mutates under one lock so a participant is in
// all views or in none, and flags never outlive the record.
type registry struct {
	mu     sync.RWMutex
	byID   map[string]*participant
	byAddr map[string]*participant
	byName map[string]*participant
	admins map[string]bool
	muted  map[string]bool
}

func newRegistry() *registry {
	return &registry{
		byID:   make(map[string]*participant),
		byAddr: make(map[string]*participant),
		byName: make(map[string]*participant),
		admins: make(map[string]bool),
		muted:  make(map[string]bool),
	}
}

// add registers an accepted connection before its handshake. Only the
// connection and address views see it until complete runs.
func (r *registry) add(conn *wire.Conn) *participant {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &participant{
		conn: conn,
		addr: conn.RemoteAddr(),
		host: conn.RemoteHost(),
	}
	r.byID[conn.ID()] = p
	r.byAddr[p.addr] = p
	return p
}

// complete finishes the handshake: the username view is filled and both
// role flags default to false. A username already held by a live
// participant is refused so the existing record keeps its views and
// flags untouched.
func (r *registry) complete(connID, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[connID]
	if !ok {
		return fmt.Errorf("no pending participant for connection %s", connID)
	}
	if _, taken := r.byName[username]; taken {
		return fmt.Errorf("%w: %s", errNameTaken, username)
	}
	p.username = username
	r.byName[username] = p
	r.admins[username] = false
	r.muted[username] = false
	return nil
}

// remove drops a participant from every view and both flag maps. It is
// idempotent; removing an unknown connection is a no-op.
func (r *registry) remove(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.byID[connID]
	if !ok {
		return
	}
	delete(r.byID, connID)
	delete(r.byAddr, p.addr)
	if p.username != "" {
		delete(r.byName, p.username)
		delete(r.admins, p.username)
		delete(r.muted, p.username)
	}
}

func (r *registry) byUsername(username string) (*participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[username]
	return p, ok
}

func (r *registry) count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// conns snapshots every registered connection for a broadcast pass.
func (r *registry) conns() []*wire.Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*wire.Conn, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p.conn)
	}
	return out
}

func (r *registry) isAdmin(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.admins[username]
}

func (r *registry) isMuted(username string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.muted[username]
}

// toggleAdmin negates the admin flag, inserting it as false first when
// absent, and returns the new value.
func (r *registry) toggleAdmin(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.admins[username] = !r.admins[username]
	return r.admins[username]
}

// toggleMuted behaves like toggleAdmin for the mute flag.
func (r *registry) toggleMuted(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.muted[username] = !r.muted[username]
	return r.muted[username]
}
