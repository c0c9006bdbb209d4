// internal/store/snapshot.go
package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/user/remcli/internal/types"
)

// snapshotSchemaVersion gates snapshot loading. A file written by an
// incompatible build is discarded and the store starts fresh.
const snapshotSchemaVersion = 1

// snapshotInterval is the minimum spacing between snapshot writes.
const snapshotInterval = time.Second

// snapshotState is the single-file serialization of the full store.
type snapshotState struct {
	SchemaVersion int                                     `json:"schemaVersion"`
	SavedAt       int64                                   `json:"savedAt"`
	UserSeq       int64                                   `json:"userSeq"`
	SessionSeq    map[types.SessionID]int64               `json:"sessionSeq"`
	Sessions      []*types.Session                        `json:"sessions"`
	Messages      map[types.SessionID][]*types.Message    `json:"messages"`
	Machines      []*types.Machine                        `json:"machines"`
	Artifacts     []*types.Artifact                       `json:"artifacts"`
	Usage         []*UsageTotals                          `json:"usage"`
}

// snapshotWriter debounces full-state writes to at most one per
// snapshotInterval.
type snapshotWriter struct {
	store *Store
	path  string

	dirty chan struct{}
	stop  chan struct{}
	done  chan struct{}
	once  sync.Once
}

// EnableSnapshot starts the debounced snapshot writer against path.
// Call Close to flush the final state and stop the writer.
func (s *Store) EnableSnapshot(path string) {
	w := &snapshotWriter{
		store: s,
		path:  path,
		dirty: make(chan struct{}, 1),
		stop:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	s.mu.Lock()
	s.snapshots = w
	s.mu.Unlock()
	go w.run()
}

// Close flushes a final snapshot (best effort) and stops the writer.
func (s *Store) Close() {
	s.mu.Lock()
	w := s.snapshots
	s.snapshots = nil
	s.mu.Unlock()
	if w != nil {
		w.close()
	}
}

func (w *snapshotWriter) markDirty() {
	select {
	case w.dirty <- struct{}{}:
	default:
	}
}

func (w *snapshotWriter) run() {
	defer close(w.done)
	for {
		select {
		case <-w.dirty:
			if err := w.write(); err != nil {
				slog.Warn("snapshot write failed", "path", w.path, "error", err)
			}
			// Debounce: absorb further dirty marks for the interval.
			select {
			case <-time.After(snapshotInterval):
			case <-w.stop:
				return
			}
		case <-w.stop:
			return
		}
	}
}

func (w *snapshotWriter) close() {
	w.once.Do(func() {
		close(w.stop)
		<-w.done
		if err := w.write(); err != nil {
			slog.Warn("final snapshot write failed", "path", w.path, "error", err)
		}
	})
}

// write serializes the full store state atomically: temp file then rename.
func (w *snapshotWriter) write() error {
	state := w.store.serialize()

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmp := w.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tmp, w.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename snapshot: %w", err)
	}
	return nil
}

func (s *Store) serialize() *snapshotState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := &snapshotState{
		SchemaVersion: snapshotSchemaVersion,
		SavedAt:       s.nowMillis(),
		UserSeq:       s.userSeq,
		SessionSeq:    make(map[types.SessionID]int64, len(s.sessionSeq)),
		Messages:      make(map[types.SessionID][]*types.Message, len(s.messages)),
	}
	for id, seq := range s.sessionSeq {
		state.SessionSeq[id] = seq
	}
	for _, sess := range s.sessions {
		state.Sessions = append(state.Sessions, cloneSession(sess))
	}
	for id, msgs := range s.messages {
		out := make([]*types.Message, len(msgs))
		for i, m := range msgs {
			clone := *m
			out[i] = &clone
		}
		state.Messages[id] = out
	}
	for _, m := range s.machines {
		state.Machines = append(state.Machines, cloneMachine(m))
	}
	for _, a := range s.artifacts {
		clone := *a
		state.Artifacts = append(state.Artifacts, &clone)
	}
	for _, totals := range s.usage {
		state.Usage = append(state.Usage, cloneUsage(totals))
	}
	return state
}

// Load restores a snapshot into an empty store. A missing file leaves the
// store fresh silently; an unreadable file, a parse failure or an unknown
// schema version also leave it fresh and are logged as warnings.
func (s *Store) Load(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("snapshot unreadable, starting fresh", "path", path, "error", err)
		}
		return
	}

	var state snapshotState
	if err := json.Unmarshal(data, &state); err != nil {
		slog.Warn("snapshot corrupt, starting fresh", "path", path, "error", err)
		return
	}
	if state.SchemaVersion != snapshotSchemaVersion {
		slog.Warn("snapshot schema mismatch, starting fresh",
			"path", path, "have", state.SchemaVersion, "want", snapshotSchemaVersion)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.userSeq = state.UserSeq
	for id, seq := range state.SessionSeq {
		s.sessionSeq[id] = seq
	}
	for _, sess := range state.Sessions {
		s.sessions[sess.ID] = sess
		s.sessionsByTag[sess.Tag] = sess.ID
	}
	for id, msgs := range state.Messages {
		s.messages[id] = msgs
	}
	for _, m := range state.Machines {
		s.machines[m.ID] = m
	}
	for _, a := range state.Artifacts {
		s.artifacts[a.ID] = a
	}
	for _, totals := range state.Usage {
		s.usage[totals.Key] = totals
	}
}
