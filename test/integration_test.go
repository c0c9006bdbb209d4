//go:build integration

package test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/user/remcli/internal/auth"
	"github.com/user/remcli/internal/control"
	"github.com/user/remcli/internal/public"
	"github.com/user/remcli/internal/router"
	"github.com/user/remcli/internal/rpc"
	"github.com/user/remcli/internal/store"
	"github.com/user/remcli/internal/supervisor"
	"github.com/user/remcli/internal/types"
)

type fakeRunner struct{ pid int }

func (f *fakeRunner) Available() error { return nil }
func (f *fakeRunner) SpawnWindow(window, dir string, env map[string]string, command []string) (string, int, error) {
	f.pid++
	return "@w", 9000 + f.pid, nil
}
func (f *fakeRunner) KillWindow(string) error { return nil }
func (f *fakeRunner) KillAll() error          { return nil }

// TestSpawnReportStopFlow drives the control plane the way a CLI and a
// freshly spawned child would: spawn, self-report, list, stop.
func TestSpawnReportStopFlow(t *testing.T) {
	sup := supervisor.New(&fakeRunner{}, "/bin/remcli", t.TempDir())
	sup.SetWebhookDeadline(2 * time.Second)

	srv := control.NewServer(sup, nil)
	ts := httptest.NewServer(srv)
	defer ts.Close()
	client := control.NewClient(ts.URL)
	sup.SetControlURL(ts.URL)

	ctx := context.Background()

	// The "child" self-reports as soon as it is tracked.
	go func() {
		for i := 0; i < 200; i++ {
			children, err := client.List(ctx)
			if err == nil && len(children) == 1 {
				_ = client.ReportSessionStarted(ctx, "SESSION-1", children[0].PID)
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()

	result, err := client.SpawnSession(ctx, supervisor.SpawnOptions{Directory: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if result.Type != supervisor.SpawnSuccess || result.SessionID != "SESSION-1" {
		t.Fatalf("unexpected spawn result %+v", result)
	}

	ok, err := client.StopSession(ctx, "SESSION-1")
	if err != nil || !ok {
		t.Fatalf("stop failed: ok=%v err=%v", ok, err)
	}
	children, _ := client.List(ctx)
	if len(children) != 0 {
		t.Errorf("expected no tracked children, got %d", len(children))
	}
}

// TestPublicPlaneSessionLifecycle creates a session by tag and rebinds it
// over the HTTP API, then appends a message directly on the same store.
func TestPublicPlaneSessionLifecycle(t *testing.T) {
	secret, _ := auth.GenerateSecret()
	st := store.New()
	events := router.New(st, func() int64 { return time.Now().UnixMilli() })
	srv := public.NewServer(secret, st, events, rpc.New(), "")
	ts := httptest.NewServer(srv)
	defer ts.Close()
	token := auth.DeriveToken(secret)

	post := func(path string, body any, out any) int {
		data, _ := json.Marshal(body)
		req, _ := http.NewRequest(http.MethodPost, ts.URL+path, bytes.NewReader(data))
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if out != nil {
			json.NewDecoder(resp.Body).Decode(out)
		}
		return resp.StatusCode
	}

	var created struct {
		Session *types.Session `json:"session"`
	}
	if status := post("/v1/sessions", map[string]any{"tag": "worktree-1", "metadata": "AAAA"}, &created); status != http.StatusOK {
		t.Fatalf("create status %d", status)
	}

	var rebound struct {
		Session *types.Session `json:"session"`
	}
	post("/v1/sessions", map[string]any{"tag": "worktree-1", "metadata": "BBBB"}, &rebound)
	if rebound.Session.ID != created.Session.ID || rebound.Session.MetadataVersion != 2 {
		t.Fatalf("rebind broke identity: %+v", rebound.Session)
	}

	if msg := st.AppendMessage(created.Session.ID, types.EncryptedContent("CCCC"), nil); msg == nil || msg.Seq != 1 {
		t.Fatal("message append failed")
	}
}
