// internal/rpc/registry.go

// Package rpc maps method names to owning connections and forwards calls
// with an ack protocol: each forwarded request carries a correlation id,
// and the owner must reply with that id before the caller's deadline.
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/remcli/internal/router"
	"github.com/user/remcli/internal/types"
)

// DefaultCallTimeout bounds the ack wait for a forwarded call.
const DefaultCallTimeout = 30 * time.Second

var (
	// ErrMethodBound is returned when registering a method that already
	// has a live owner.
	ErrMethodBound = errors.New("method already registered")

	// ErrNotBound is returned when unregistering a method with no owner.
	ErrNotBound = errors.New("method not registered")

	// ErrNotOwner is returned when a connection unregisters a method it
	// does not own.
	ErrNotOwner = errors.New("method registered to another connection")
)

type pendingCall struct {
	reply chan types.RPCCallResult
}

// Registry owns the method-name → connection bindings.
type Registry struct {
	timeout time.Duration

	mu      sync.Mutex
	methods map[string]router.Connection
	calls   map[types.CallID]*pendingCall
}

// New creates an empty Registry with the default call timeout.
func New() *Registry {
	return &Registry{
		timeout: DefaultCallTimeout,
		methods: make(map[string]router.Connection),
		calls:   make(map[types.CallID]*pendingCall),
	}
}

// SetTimeout overrides the ack deadline. Intended for tests.
func (r *Registry) SetTimeout(d time.Duration) {
	r.timeout = d
}

// Register binds method to conn. At most one binding exists per method.
func (r *Registry) Register(method string, conn router.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.methods[method]; ok {
		return ErrMethodBound
	}
	r.methods[method] = conn
	return nil
}

// Unregister removes the binding for method if conn owns it.
func (r *Registry) Unregister(method string, conn router.Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	owner, ok := r.methods[method]
	if !ok {
		return ErrNotBound
	}
	if owner != conn {
		return ErrNotOwner
	}
	delete(r.methods, method)
	return nil
}

// UnregisterAll removes every binding owned by conn. Called on
// disconnect.
func (r *Registry) UnregisterAll(conn router.Connection) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var removed []string
	for method, owner := range r.methods {
		if owner == conn {
			delete(r.methods, method)
			removed = append(removed, method)
		}
	}
	return removed
}

// Owner returns the connection bound to method, or nil.
func (r *Registry) Owner(method string) router.Connection {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.methods[method]
}

// Call forwards params to the owner of method and awaits its ack. An
// absent binding, a transport failure or an expired deadline all produce
// {ok:false, error} without leaving state behind.
func (r *Registry) Call(ctx context.Context, method string, params json.RawMessage) types.RPCCallResult {
	r.mu.Lock()
	owner, ok := r.methods[method]
	if !ok {
		r.mu.Unlock()
		return types.RPCCallResult{OK: false, Error: fmt.Sprintf("no handler registered for method %q", method)}
	}

	callID := types.NewCallID()
	pending := &pendingCall{reply: make(chan types.RPCCallResult, 1)}
	r.calls[callID] = pending
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.calls, callID)
		r.mu.Unlock()
	}()

	owner.Send("rpc-request", &types.RPCRequestFrame{
		Method: method,
		Params: params,
		CallID: callID,
	})

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	select {
	case result := <-pending.reply:
		return result
	case <-timer.C:
		return types.RPCCallResult{OK: false, Error: fmt.Sprintf("rpc call %q timed out after %s", method, r.timeout)}
	case <-ctx.Done():
		return types.RPCCallResult{OK: false, Error: ctx.Err().Error()}
	}
}

// Resolve completes a pending call with the owner's reply. Unknown call
// ids (late or duplicate acks) are ignored.
func (r *Registry) Resolve(callID types.CallID, result types.RPCCallResult) {
	r.mu.Lock()
	pending, ok := r.calls[callID]
	if ok {
		delete(r.calls, callID)
	}
	r.mu.Unlock()

	if ok {
		pending.reply <- result
	}
}
