// internal/router/router.go

// Package router fans out update and ephemeral events to live client
// connections selected by scope filters.
//
// The router holds non-owning references to connections: a connection may
// disappear between lookup and emit, and sends to a gone connection are
// silently dropped. Delivery order per connection follows emit order for
// updates; ephemeral events carry no ordering guarantee.
package router

import (
	"sync"

	"github.com/user/remcli/internal/types"
)

// ScopeKind discriminates connection scopes.
type ScopeKind string

const (
	ScopeUser    ScopeKind = "user"
	ScopeSession ScopeKind = "session"
	ScopeMachine ScopeKind = "machine"
)

// Scope is the tagged variant {user | session(sid) | machine(mid)} carried
// by every authenticated connection.
type Scope struct {
	Kind      ScopeKind
	SessionID types.SessionID
	MachineID types.MachineID
}

// UserScope returns the user-wide scope.
func UserScope() Scope {
	return Scope{Kind: ScopeUser}
}

// SessionScope returns a scope bound to one session.
func SessionScope(id types.SessionID) Scope {
	return Scope{Kind: ScopeSession, SessionID: id}
}

// MachineScope returns a scope bound to one machine.
func MachineScope(id types.MachineID) Scope {
	return Scope{Kind: ScopeMachine, MachineID: id}
}

// Connection is a live client attachment. Send must be safe for
// concurrent use and must not block the router; implementations queue
// writes and drop them once the connection is gone.
type Connection interface {
	Scope() Scope
	Send(event string, payload any)
}

// Filter is a pure predicate selecting recipient connections by scope.
type Filter func(Scope) bool

// UserScopedOnly admits user-scoped connections.
func UserScopedOnly() Filter {
	return func(s Scope) bool {
		return s.Kind == ScopeUser
	}
}

// SessionInterest admits user-scoped connections and connections bound to
// the given session.
func SessionInterest(id types.SessionID) Filter {
	return func(s Scope) bool {
		return s.Kind == ScopeUser || (s.Kind == ScopeSession && s.SessionID == id)
	}
}

// MachineScoped admits user-scoped connections and connections bound to
// the given machine.
func MachineScoped(id types.MachineID) Filter {
	return func(s Scope) bool {
		return s.Kind == ScopeUser || (s.Kind == ScopeMachine && s.MachineID == id)
	}
}

// AllAuthenticated admits every attached connection.
func AllAuthenticated() Filter {
	return func(Scope) bool {
		return true
	}
}

// Sequencer allocates user-scope sequence numbers for update envelopes.
type Sequencer interface {
	NextUserSeq() int64
}

// Clock returns the current time in unix milliseconds.
type Clock func() int64

// Router is the registry of live connections.
type Router struct {
	seq   Sequencer
	clock Clock

	mu    sync.RWMutex
	conns map[Connection]struct{}

	// emitMu serializes update emission so that envelope seq order and
	// per-connection enqueue order agree.
	emitMu sync.Mutex
}

// New creates a Router drawing envelope sequence numbers from seq.
func New(seq Sequencer, clock Clock) *Router {
	return &Router{
		seq:   seq,
		clock: clock,
		conns: make(map[Connection]struct{}),
	}
}

// Attach registers a connection for event delivery.
func (r *Router) Attach(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn] = struct{}{}
}

// Detach removes a connection. Safe to call for connections that were
// never attached.
func (r *Router) Detach(conn Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, conn)
}

// Count returns the number of attached connections.
func (r *Router) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// EmitUpdate wraps body in a sequenced update envelope and delivers it to
// every connection admitted by filter, excluding skip. The envelope is
// returned for callers that also serve it over HTTP.
func (r *Router) EmitUpdate(body any, filter Filter, skip Connection) *types.UpdateEnvelope {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	envelope := &types.UpdateEnvelope{
		ID:        types.NewUpdateID(),
		Seq:       r.seq.NextUserSeq(),
		Body:      body,
		CreatedAt: r.clock(),
	}
	r.deliver("update", envelope, filter, skip)
	return envelope
}

// EmitUpdateSeq is EmitUpdate with a caller-provided sequence number.
// Entity creations use it so the announcing envelope carries the seq
// already allocated to the entity: a seq is assigned at most once per
// update.
func (r *Router) EmitUpdateSeq(seq int64, body any, filter Filter, skip Connection) *types.UpdateEnvelope {
	r.emitMu.Lock()
	defer r.emitMu.Unlock()

	envelope := &types.UpdateEnvelope{
		ID:        types.NewUpdateID(),
		Seq:       seq,
		Body:      body,
		CreatedAt: r.clock(),
	}
	r.deliver("update", envelope, filter, skip)
	return envelope
}

// EmitEphemeral delivers a bare transient payload to every connection
// admitted by filter, excluding skip.
func (r *Router) EmitEphemeral(payload any, filter Filter, skip Connection) {
	r.deliver("ephemeral", payload, filter, skip)
}

func (r *Router) deliver(event string, payload any, filter Filter, skip Connection) {
	r.mu.RLock()
	recipients := make([]Connection, 0, len(r.conns))
	for conn := range r.conns {
		if conn == skip {
			continue
		}
		if filter(conn.Scope()) {
			recipients = append(recipients, conn)
		}
	}
	r.mu.RUnlock()

	for _, conn := range recipients {
		conn.Send(event, payload)
	}
}
