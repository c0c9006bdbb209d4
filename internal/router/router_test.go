// internal/router/router_test.go
package router

import (
	"sync"
	"testing"

	"github.com/user/remcli/internal/types"
)

type fakeSeq struct {
	mu sync.Mutex
	n  int64
}

func (f *fakeSeq) NextUserSeq() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	return f.n
}

type fakeConn struct {
	scope Scope

	mu     sync.Mutex
	events []string
	bodies []any
}

func (f *fakeConn) Scope() Scope { return f.scope }

func (f *fakeConn) Send(event string, payload any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	f.bodies = append(f.bodies, payload)
}

func (f *fakeConn) received() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func newTestRouter() *Router {
	return New(&fakeSeq{}, func() int64 { return 42 })
}

func TestFilterCorrectness(t *testing.T) {
	r := newTestRouter()

	user := &fakeConn{scope: UserScope()}
	sessA := &fakeConn{scope: SessionScope("sa")}
	sessB := &fakeConn{scope: SessionScope("sb")}
	machM := &fakeConn{scope: MachineScope("m1")}
	for _, c := range []*fakeConn{user, sessA, sessB, machM} {
		r.Attach(c)
	}

	r.EmitUpdate("u1", UserScopedOnly(), nil)
	r.EmitUpdate("u2", SessionInterest("sa"), nil)
	r.EmitUpdate("u3", MachineScoped("m1"), nil)
	r.EmitUpdate("u4", AllAuthenticated(), nil)

	// User scope sees every update whose filter includes user scope.
	if user.received() != 4 {
		t.Errorf("user-scoped connection: expected 4 updates, got %d", user.received())
	}
	// Session scope sees exactly its session's updates plus broadcasts.
	if sessA.received() != 2 {
		t.Errorf("session sa: expected 2, got %d", sessA.received())
	}
	if sessB.received() != 1 {
		t.Errorf("session sb: expected 1, got %d", sessB.received())
	}
	if machM.received() != 2 {
		t.Errorf("machine m1: expected 2, got %d", machM.received())
	}
}

func TestSenderSuppression(t *testing.T) {
	r := newTestRouter()

	sender := &fakeConn{scope: UserScope()}
	other := &fakeConn{scope: UserScope()}
	r.Attach(sender)
	r.Attach(other)

	r.EmitUpdate("u", AllAuthenticated(), sender)
	r.EmitEphemeral("e", AllAuthenticated(), sender)

	if sender.received() != 0 {
		t.Errorf("sender must never be echoed, got %d events", sender.received())
	}
	if other.received() != 2 {
		t.Errorf("other connection expected 2 events, got %d", other.received())
	}
}

func TestUpdateEnvelopeSequencing(t *testing.T) {
	r := newTestRouter()
	conn := &fakeConn{scope: UserScope()}
	r.Attach(conn)

	first := r.EmitUpdate("a", AllAuthenticated(), nil)
	second := r.EmitUpdate("b", AllAuthenticated(), nil)

	if first.Seq >= second.Seq {
		t.Errorf("envelope seqs must be strictly increasing: %d then %d", first.Seq, second.Seq)
	}
	if first.ID == second.ID {
		t.Error("envelope ids must be distinct")
	}
	if first.CreatedAt != 42 {
		t.Errorf("clock not applied, got %d", first.CreatedAt)
	}

	// Delivery order matches emit order.
	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.bodies) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(conn.bodies))
	}
	if conn.bodies[0].(*types.UpdateEnvelope).Seq != first.Seq {
		t.Error("delivery order diverged from emit order")
	}
}

func TestConcurrentEmitOrderPerSubscriber(t *testing.T) {
	r := newTestRouter()
	conn := &fakeConn{scope: UserScope()}
	r.Attach(conn)

	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.EmitUpdate("x", AllAuthenticated(), nil)
		}()
	}
	wg.Wait()

	conn.mu.Lock()
	defer conn.mu.Unlock()
	last := int64(0)
	for _, body := range conn.bodies {
		seq := body.(*types.UpdateEnvelope).Seq
		if seq <= last {
			t.Fatalf("out-of-order delivery: %d after %d", seq, last)
		}
		last = seq
	}
}

func TestDetach(t *testing.T) {
	r := newTestRouter()
	conn := &fakeConn{scope: UserScope()}
	r.Attach(conn)
	r.Detach(conn)
	r.Detach(conn) // idempotent

	r.EmitUpdate("u", AllAuthenticated(), nil)
	if conn.received() != 0 {
		t.Error("detached connection must not receive events")
	}
	if r.Count() != 0 {
		t.Errorf("expected empty registry, got %d", r.Count())
	}
}

func TestEphemeralBarePayload(t *testing.T) {
	r := newTestRouter()
	conn := &fakeConn{scope: SessionScope("s1")}
	r.Attach(conn)

	payload := &types.ActivityEphemeral{Type: types.EphemeralActivity, ID: "s1", Active: true}
	r.EmitEphemeral(payload, SessionInterest("s1"), nil)

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.bodies) != 1 {
		t.Fatalf("expected 1 event, got %d", len(conn.bodies))
	}
	if _, wrapped := conn.bodies[0].(*types.UpdateEnvelope); wrapped {
		t.Error("ephemeral payloads must not be wrapped in update envelopes")
	}
	if conn.events[0] != "ephemeral" {
		t.Errorf("expected ephemeral event, got %s", conn.events[0])
	}
}
