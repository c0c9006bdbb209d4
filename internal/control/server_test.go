// internal/control/server_test.go
package control

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/user/remcli/internal/supervisor"
	"github.com/user/remcli/internal/tmux"
)

type nopRunner struct{}

func (nopRunner) Available() error { return nil }
func (nopRunner) SpawnWindow(window, dir string, env map[string]string, command []string) (string, int, error) {
	return "@0", 7001, nil
}
func (nopRunner) KillWindow(windowID string) error { return nil }
func (nopRunner) KillAll() error                   { return nil }

var _ tmux.Runner = nopRunner{}

func newTestServer(t *testing.T) (*Client, *supervisor.Supervisor, *int) {
	t.Helper()
	sup := supervisor.New(nopRunner{}, "/bin/remcli", t.TempDir())
	sup.SetWebhookDeadline(200 * time.Millisecond)

	stops := 0
	srv := NewServer(sup, func() { stops++ })
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return NewClient(ts.URL), sup, &stops
}

func TestHealth(t *testing.T) {
	client, _, _ := newTestServer(t)
	if !client.Health(context.Background()) {
		t.Error("expected healthy daemon")
	}
}

func TestSessionStartedWebhook(t *testing.T) {
	client, sup, _ := newTestServer(t)

	if err := client.ReportSessionStarted(context.Background(), "S1", 9999); err != nil {
		t.Fatal(err)
	}
	children, err := client.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].PID != 9999 || children[0].SessionID != "S1" {
		t.Errorf("unexpected children %+v", children)
	}
	if children[0].StartedBy != supervisor.StartedByExternal {
		t.Error("webhook-first children are external")
	}
	_ = sup
}

func TestSpawnAndStopSession(t *testing.T) {
	client, sup, _ := newTestServer(t)
	// The supervisor's kill is irrelevant here; the nopRunner child is
	// resolved by a concurrent webhook.
	go func() {
		for i := 0; i < 100; i++ {
			if children := sup.List(); len(children) == 1 {
				sup.OnChildReport("S2", children[0].PID)
				return
			}
			time.Sleep(2 * time.Millisecond)
		}
	}()

	result, err := client.SpawnSession(context.Background(), supervisor.SpawnOptions{Directory: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if result.Type != supervisor.SpawnSuccess || result.SessionID != "S2" {
		t.Fatalf("unexpected spawn result %+v", result)
	}

	ok, err := client.StopSession(context.Background(), "S2")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected stop to succeed")
	}
}

func TestSpawnNeedsApprovalOverHTTP(t *testing.T) {
	client, _, _ := newTestServer(t)

	result, err := client.SpawnSession(context.Background(), supervisor.SpawnOptions{
		Directory: t.TempDir() + "/does/not/exist",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Type != supervisor.SpawnNeedsDirectoryApproval {
		t.Errorf("expected directory approval request, got %+v", result)
	}
}

func TestStopTriggersShutdownCallback(t *testing.T) {
	var mu sync.Mutex
	fired := false

	sup := supervisor.New(nopRunner{}, "/bin/remcli", t.TempDir())
	srv := NewServer(sup, func() {
		mu.Lock()
		fired = true
		mu.Unlock()
	})
	ts := httptest.NewServer(srv)
	defer ts.Close()

	if err := NewClient(ts.URL).Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		ok := fired
		mu.Unlock()
		if ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("shutdown callback never fired")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestLoopbackBinding(t *testing.T) {
	sup := supervisor.New(nopRunner{}, "/bin/remcli", t.TempDir())
	srv := NewServer(sup, nil)
	if err := srv.Start(); err != nil {
		t.Fatal(err)
	}
	defer srv.Shutdown(context.Background())

	if srv.Port() == 0 {
		t.Error("expected an OS-assigned port")
	}
	if !NewClient(srv.URL()).Health(context.Background()) {
		t.Error("expected health over the bound listener")
	}
}
