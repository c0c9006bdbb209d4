// internal/rpc/registry_test.go
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/user/remcli/internal/router"
	"github.com/user/remcli/internal/types"
)

type fakeConn struct {
	scope router.Scope

	mu     sync.Mutex
	frames []*types.RPCRequestFrame
}

func (f *fakeConn) Scope() router.Scope { return f.scope }

func (f *fakeConn) Send(event string, payload any) {
	if event != "rpc-request" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, payload.(*types.RPCRequestFrame))
}

func (f *fakeConn) lastFrame() *types.RPCRequestFrame {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.frames) == 0 {
		return nil
	}
	return f.frames[len(f.frames)-1]
}

func TestRegisterExclusive(t *testing.T) {
	r := New()
	a := &fakeConn{}
	b := &fakeConn{}

	if err := r.Register("bash", a); err != nil {
		t.Fatal(err)
	}
	if err := r.Register("bash", b); !errors.Is(err, ErrMethodBound) {
		t.Errorf("expected ErrMethodBound, got %v", err)
	}

	// A different method is independent.
	if err := r.Register("ls", b); err != nil {
		t.Fatal(err)
	}
}

func TestUnregisterOwnership(t *testing.T) {
	r := New()
	a := &fakeConn{}
	b := &fakeConn{}
	_ = r.Register("bash", a)

	if err := r.Unregister("bash", b); !errors.Is(err, ErrNotOwner) {
		t.Errorf("expected ErrNotOwner, got %v", err)
	}
	if err := r.Unregister("bash", a); err != nil {
		t.Fatal(err)
	}
	if err := r.Unregister("bash", a); !errors.Is(err, ErrNotBound) {
		t.Errorf("expected ErrNotBound, got %v", err)
	}

	// After unregister, a fresh registration succeeds.
	if err := r.Register("bash", b); err != nil {
		t.Fatal(err)
	}
}

func TestUnregisterAllOnDisconnect(t *testing.T) {
	r := New()
	a := &fakeConn{}
	b := &fakeConn{}
	_ = r.Register("bash", a)
	_ = r.Register("readFile", a)
	_ = r.Register("other", b)

	removed := r.UnregisterAll(a)
	if len(removed) != 2 {
		t.Errorf("expected 2 removed methods, got %v", removed)
	}
	if r.Owner("other") != b {
		t.Error("other connection's binding must survive")
	}
	if err := r.Register("bash", b); err != nil {
		t.Error("method must be registrable after owner disconnect")
	}
}

func TestCallRoundTrip(t *testing.T) {
	r := New()
	owner := &fakeConn{}
	_ = r.Register("bash", owner)

	done := make(chan types.RPCCallResult, 1)
	go func() {
		done <- r.Call(context.Background(), "bash", json.RawMessage(`"ls"`))
	}()

	// Wait for the request frame, then ack it.
	var frame *types.RPCRequestFrame
	for i := 0; i < 100; i++ {
		if frame = owner.lastFrame(); frame != nil {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if frame == nil {
		t.Fatal("owner never received the rpc-request frame")
	}
	if frame.Method != "bash" || string(frame.Params) != `"ls"` {
		t.Errorf("unexpected frame %+v", frame)
	}

	r.Resolve(frame.CallID, types.RPCCallResult{OK: true, Result: json.RawMessage(`"ok\n"`)})

	result := <-done
	if !result.OK || string(result.Result) != `"ok\n"` {
		t.Errorf("unexpected result %+v", result)
	}
}

func TestCallUnknownMethod(t *testing.T) {
	r := New()
	result := r.Call(context.Background(), "missing", nil)
	if result.OK || result.Error == "" {
		t.Errorf("expected error result, got %+v", result)
	}
}

func TestCallTimeout(t *testing.T) {
	r := New()
	r.SetTimeout(30 * time.Millisecond)
	owner := &fakeConn{}
	_ = r.Register("slow", owner)

	start := time.Now()
	result := r.Call(context.Background(), "slow", nil)
	if result.OK {
		t.Error("expected timeout failure")
	}
	if time.Since(start) < 30*time.Millisecond {
		t.Error("call returned before the deadline")
	}

	// A late ack must be ignored without blocking.
	if frame := owner.lastFrame(); frame != nil {
		r.Resolve(frame.CallID, types.RPCCallResult{OK: true})
	}
}

func TestCallContextCancel(t *testing.T) {
	r := New()
	owner := &fakeConn{}
	_ = r.Register("slow", owner)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan types.RPCCallResult, 1)
	go func() {
		done <- r.Call(ctx, "slow", nil)
	}()
	cancel()

	select {
	case result := <-done:
		if result.OK {
			t.Error("expected cancellation failure")
		}
	case <-time.After(time.Second):
		t.Fatal("call did not observe context cancellation")
	}
}
