// internal/store/store.go

// Package store is the daemon's authoritative in-memory state: sessions,
// messages, machines, artifacts and usage counters, with monotonic
// sequence counters and per-field version counters.
//
// The Store is the single consistency boundary. Every mutating operation,
// including sequence allocation, runs under one exclusive section; reads
// take the shared side of the lock and return copies.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/user/remcli/internal/types"
)

// activeWindow bounds how far back activeAt may lie for a session to
// count as active in listings.
const activeWindow = 15 * time.Minute

// WriteResult is the outcome discriminator of a versioned write.
type WriteResult string

const (
	WriteSuccess         WriteResult = "success"
	WriteVersionMismatch WriteResult = "version-mismatch"
	WriteError           WriteResult = "error"
)

// UpdateOutcome is returned from optimistic-concurrency writes. On a
// mismatch, Version and Value carry the current state so the caller can
// merge and retry.
type UpdateOutcome struct {
	Result  WriteResult `json:"result"`
	Version int64       `json:"version"`
	Value   string      `json:"value"`
}

// Store holds all daemon state behind a single read-write lock.
type Store struct {
	mu sync.RWMutex

	sessions      map[types.SessionID]*types.Session
	sessionsByTag map[string]types.SessionID
	messages      map[types.SessionID][]*types.Message
	machines      map[types.MachineID]*types.Machine
	artifacts     map[types.ArtifactID]*types.Artifact
	usage         map[string]*UsageTotals

	userSeq    int64
	sessionSeq map[types.SessionID]int64

	snapshots *snapshotWriter
	now       func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		sessions:      make(map[types.SessionID]*types.Session),
		sessionsByTag: make(map[string]types.SessionID),
		messages:      make(map[types.SessionID][]*types.Message),
		machines:      make(map[types.MachineID]*types.Machine),
		artifacts:     make(map[types.ArtifactID]*types.Artifact),
		usage:         make(map[string]*UsageTotals),
		sessionSeq:    make(map[types.SessionID]int64),
		now:           time.Now,
	}
}

func (s *Store) nowMillis() int64 {
	return s.now().UnixMilli()
}

// markDirty schedules a debounced snapshot write. Callers must hold the
// write lock; the writer itself serializes state on its own schedule.
func (s *Store) markDirty() {
	if s.snapshots != nil {
		s.snapshots.markDirty()
	}
}

// NextUserSeq allocates the next per-user sequence number. This is the
// sole source of user-scope ordering; callers must never fabricate seq
// values.
func (s *Store) NextUserSeq() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextUserSeqLocked()
}

func (s *Store) nextUserSeqLocked() int64 {
	s.userSeq++
	return s.userSeq
}

// NextSessionSeq allocates the next sequence number within a session.
func (s *Store) NextSessionSeq(id types.SessionID) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSessionSeqLocked(id)
}

func (s *Store) nextSessionSeqLocked(id types.SessionID) int64 {
	s.sessionSeq[id]++
	return s.sessionSeq[id]
}

// CreateSession returns the session bound to tag, creating it if absent.
// Re-creating an existing tag rebinds metadata, bumps metadataVersion and
// marks the session active, preserving its id and seq.
func (s *Store) CreateSession(tag, metadata string, dataEncryptionKey *string) (*types.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMillis()
	if id, ok := s.sessionsByTag[tag]; ok {
		sess := s.sessions[id]
		sess.Metadata = metadata
		sess.MetadataVersion++
		if dataEncryptionKey != nil {
			sess.DataEncryptionKey = dataEncryptionKey
		}
		sess.Active = true
		sess.ActiveAt = now
		sess.UpdatedAt = now
		s.markDirty()
		return cloneSession(sess), false
	}

	sess := &types.Session{
		ID:                types.NewSessionID(),
		Tag:               tag,
		Seq:               s.nextUserSeqLocked(),
		Metadata:          metadata,
		MetadataVersion:   1,
		AgentStateVersion: 1,
		DataEncryptionKey: dataEncryptionKey,
		Active:            true,
		ActiveAt:          now,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.sessions[sess.ID] = sess
	s.sessionsByTag[tag] = sess.ID
	s.markDirty()
	return cloneSession(sess), true
}

// GetSession returns the session with the given id, or nil.
func (s *Store) GetSession(id types.SessionID) *types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if sess, ok := s.sessions[id]; ok {
		return cloneSession(sess)
	}
	return nil
}

// GetSessionByTag returns the session bound to tag, or nil.
func (s *Store) GetSessionByTag(tag string) *types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id, ok := s.sessionsByTag[tag]; ok {
		return cloneSession(s.sessions[id])
	}
	return nil
}

// ListSessions returns all sessions sorted by updatedAt descending.
func (s *Store) ListSessions() []*types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*types.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, cloneSession(sess))
	}
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt != sessions[j].UpdatedAt {
			return sessions[i].UpdatedAt > sessions[j].UpdatedAt
		}
		return sessions[i].Seq > sessions[j].Seq
	})
	return sessions
}

// ListActiveSessions returns up to limit sessions that are active and
// were seen within the activity window, most recently active first.
func (s *Store) ListActiveSessions(limit int) []*types.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cutoff := s.now().Add(-activeWindow).UnixMilli()
	active := make([]*types.Session, 0)
	for _, sess := range s.sessions {
		if sess.Active && sess.ActiveAt > cutoff {
			active = append(active, cloneSession(sess))
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].ActiveAt > active[j].ActiveAt
	})
	if limit > 0 && len(active) > limit {
		active = active[:limit]
	}
	return active
}

// SessionPage is a cursor-paged session listing.
type SessionPage struct {
	Sessions   []*types.Session `json:"sessions"`
	NextCursor string           `json:"nextCursor,omitempty"`
	HasMore    bool             `json:"hasMore"`
}

const cursorPrefix = "cursor_v1_"

// ListSessionsPage returns sessions in creation order (seq ascending)
// after the cursor position, optionally restricted to sessions changed
// since the given time.
func (s *Store) ListSessionsPage(cursor string, limit int, changedSince int64) *SessionPage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := make([]*types.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].Seq < sessions[j].Seq
	})

	var afterSeq int64 = -1
	if strings.HasPrefix(cursor, cursorPrefix) {
		if anchor, ok := s.sessions[types.SessionID(strings.TrimPrefix(cursor, cursorPrefix))]; ok {
			afterSeq = anchor.Seq
		}
	}

	if limit <= 0 {
		limit = 50
	}

	page := &SessionPage{Sessions: make([]*types.Session, 0, limit)}
	for _, sess := range sessions {
		if sess.Seq <= afterSeq {
			continue
		}
		if changedSince > 0 && sess.UpdatedAt < changedSince {
			continue
		}
		if len(page.Sessions) == limit {
			page.HasMore = true
			break
		}
		page.Sessions = append(page.Sessions, cloneSession(sess))
	}
	if page.HasMore && len(page.Sessions) > 0 {
		page.NextCursor = cursorPrefix + string(page.Sessions[len(page.Sessions)-1].ID)
	}
	return page
}

// DeleteSession removes a session and its messages. Returns false if the
// session does not exist.
func (s *Store) DeleteSession(id types.SessionID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	delete(s.sessions, id)
	delete(s.sessionsByTag, sess.Tag)
	delete(s.messages, id)
	delete(s.sessionSeq, id)
	s.markDirty()
	return true
}

// UpdateSessionMetadata replaces a session's metadata under the OCC
// discipline: the write succeeds only when expectedVersion matches the
// stored version, and the version advances by exactly one.
func (s *Store) UpdateSessionMetadata(id types.SessionID, value string, expectedVersion int64) UpdateOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return UpdateOutcome{Result: WriteError}
	}
	if sess.MetadataVersion != expectedVersion {
		return UpdateOutcome{Result: WriteVersionMismatch, Version: sess.MetadataVersion, Value: sess.Metadata}
	}
	sess.Metadata = value
	sess.MetadataVersion++
	sess.UpdatedAt = s.nowMillis()
	s.markDirty()
	return UpdateOutcome{Result: WriteSuccess, Version: sess.MetadataVersion, Value: sess.Metadata}
}

// UpdateSessionState replaces a session's agent state with the same OCC
// discipline as UpdateSessionMetadata.
func (s *Store) UpdateSessionState(id types.SessionID, value string, expectedVersion int64) UpdateOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return UpdateOutcome{Result: WriteError}
	}
	if sess.AgentStateVersion != expectedVersion {
		current := ""
		if sess.AgentState != nil {
			current = *sess.AgentState
		}
		return UpdateOutcome{Result: WriteVersionMismatch, Version: sess.AgentStateVersion, Value: current}
	}
	sess.AgentState = &value
	sess.AgentStateVersion++
	sess.UpdatedAt = s.nowMillis()
	s.markDirty()
	return UpdateOutcome{Result: WriteSuccess, Version: sess.AgentStateVersion, Value: value}
}

// SetSessionActive refreshes a session's activity flags without touching
// any version counter. Returns the refreshed session, or nil if absent.
func (s *Store) SetSessionActive(id types.SessionID, active bool) *types.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	now := s.nowMillis()
	sess.Active = active
	sess.ActiveAt = now
	sess.UpdatedAt = now
	s.markDirty()
	return cloneSession(sess)
}

// AppendMessage allocates the session's next seq and appends a message.
// The session's activity is refreshed in the same critical section.
// Returns nil if the session does not exist.
func (s *Store) AppendMessage(sessionID types.SessionID, content types.MessageContent, localID *string) *types.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}

	now := s.nowMillis()
	msg := &types.Message{
		ID:        types.NewMessageID(),
		SessionID: sessionID,
		Seq:       s.nextSessionSeqLocked(sessionID),
		Content:   content,
		LocalID:   localID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.messages[sessionID] = append(s.messages[sessionID], msg)

	sess.Active = true
	sess.ActiveAt = now
	sess.UpdatedAt = now
	s.markDirty()

	clone := *msg
	return &clone
}

// ListMessages returns the last limit messages of a session, newest
// first.
func (s *Store) ListMessages(sessionID types.SessionID, limit int) []*types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.messages[sessionID]
	if limit <= 0 || limit > len(msgs) {
		limit = len(msgs)
	}

	out := make([]*types.Message, 0, limit)
	for i := len(msgs) - 1; i >= len(msgs)-limit; i-- {
		clone := *msgs[i]
		out = append(out, &clone)
	}
	return out
}

func cloneSession(sess *types.Session) *types.Session {
	clone := *sess
	return &clone
}
