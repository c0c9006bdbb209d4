// internal/store/snapshot_test.go
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/user/remcli/internal/types"
)

func populated() *Store {
	s := New()
	sess, _ := s.CreateSession("snap", "meta", nil)
	s.AppendMessage(sess.ID, types.EncryptedContent("AAAA"), nil)
	s.AppendMessage(sess.ID, types.EncryptedContent("BBBB"), nil)
	s.UpsertMachine("m1", "meta", nil, nil)
	s.CreateArtifact("a1", "h", "b", nil)
	s.RecordUsage("k", nil, map[string]int64{"input": 3}, nil)
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.snapshot.json")

	src := populated()
	src.EnableSnapshot(path)
	src.Close() // flushes the final state

	dst := New()
	dst.Load(path)

	srcSessions := src.ListSessions()
	dstSessions := dst.ListSessions()
	if len(dstSessions) != len(srcSessions) {
		t.Fatalf("expected %d sessions, got %d", len(srcSessions), len(dstSessions))
	}
	if dstSessions[0].ID != srcSessions[0].ID || dstSessions[0].Metadata != srcSessions[0].Metadata {
		t.Error("session state diverged through snapshot")
	}

	msgs := dst.ListMessages(srcSessions[0].ID, 10)
	if len(msgs) != 2 || msgs[0].Seq != 2 {
		t.Errorf("messages diverged through snapshot: %+v", msgs)
	}

	// Seq counters survive: next allocations continue past loaded state.
	if next := dst.NextUserSeq(); next != src.NextUserSeq() {
		t.Error("user seq counter diverged through snapshot")
	}
	if dst.NextSessionSeq(srcSessions[0].ID) != 3 {
		t.Error("session seq counter diverged through snapshot")
	}

	if dst.GetMachine("m1") == nil || dst.GetArtifact("a1") == nil {
		t.Error("machines/artifacts lost through snapshot")
	}
	if len(dst.ListUsage()) != 1 {
		t.Error("usage lost through snapshot")
	}
}

func TestLoadMissingFileStartsFresh(t *testing.T) {
	s := New()
	s.Load(filepath.Join(t.TempDir(), "absent.json"))
	if len(s.ListSessions()) != 0 {
		t.Error("expected a fresh store")
	}
}

func TestLoadCorruptFileStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.snapshot.json")
	if err := os.WriteFile(path, []byte("{truncated"), 0o600); err != nil {
		t.Fatal(err)
	}

	s := New()
	s.Load(path)
	if len(s.ListSessions()) != 0 {
		t.Error("expected a fresh store after parse failure")
	}
}

func TestLoadSchemaMismatchStartsFresh(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.snapshot.json")
	data, _ := json.Marshal(map[string]any{"schemaVersion": 999})
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	s := New()
	s.Load(path)
	if s.NextUserSeq() != 1 {
		t.Error("expected fresh counters after schema mismatch")
	}
}
