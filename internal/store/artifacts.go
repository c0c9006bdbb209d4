// internal/store/artifacts.go
package store

import (
	"sort"

	"github.com/user/remcli/internal/types"
)

// CreateArtifact inserts an artifact with the given client-supplied id.
// Returns nil if the id is already taken.
func (s *Store) CreateArtifact(id types.ArtifactID, header, body string, dataEncryptionKey *string) *types.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artifacts[id]; ok {
		return nil
	}

	now := s.nowMillis()
	a := &types.Artifact{
		ID:                id,
		Seq:               s.nextUserSeqLocked(),
		Header:            header,
		HeaderVersion:     1,
		Body:              body,
		BodyVersion:       1,
		DataEncryptionKey: dataEncryptionKey,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	s.artifacts[id] = a
	s.markDirty()
	clone := *a
	return &clone
}

// GetArtifact returns the artifact with the given id, or nil.
func (s *Store) GetArtifact(id types.ArtifactID) *types.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if a, ok := s.artifacts[id]; ok {
		clone := *a
		return &clone
	}
	return nil
}

// ListArtifacts returns all artifacts, most recently updated first.
func (s *Store) ListArtifacts() []*types.Artifact {
	s.mu.RLock()
	defer s.mu.RUnlock()

	artifacts := make([]*types.Artifact, 0, len(s.artifacts))
	for _, a := range s.artifacts {
		clone := *a
		artifacts = append(artifacts, &clone)
	}
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].UpdatedAt > artifacts[j].UpdatedAt
	})
	return artifacts
}

// UpdateArtifactHeader replaces an artifact's header under the OCC
// discipline. The body version is untouched.
func (s *Store) UpdateArtifactHeader(id types.ArtifactID, value string, expectedVersion int64) UpdateOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[id]
	if !ok {
		return UpdateOutcome{Result: WriteError}
	}
	if a.HeaderVersion != expectedVersion {
		return UpdateOutcome{Result: WriteVersionMismatch, Version: a.HeaderVersion, Value: a.Header}
	}
	a.Header = value
	a.HeaderVersion++
	a.UpdatedAt = s.nowMillis()
	s.markDirty()
	return UpdateOutcome{Result: WriteSuccess, Version: a.HeaderVersion, Value: a.Header}
}

// UpdateArtifactBody replaces an artifact's body under the OCC
// discipline. The header version is untouched.
func (s *Store) UpdateArtifactBody(id types.ArtifactID, value string, expectedVersion int64) UpdateOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.artifacts[id]
	if !ok {
		return UpdateOutcome{Result: WriteError}
	}
	if a.BodyVersion != expectedVersion {
		return UpdateOutcome{Result: WriteVersionMismatch, Version: a.BodyVersion, Value: a.Body}
	}
	a.Body = value
	a.BodyVersion++
	a.UpdatedAt = s.nowMillis()
	s.markDirty()
	return UpdateOutcome{Result: WriteSuccess, Version: a.BodyVersion, Value: a.Body}
}

// DeleteArtifact removes an artifact. Returns false if absent.
func (s *Store) DeleteArtifact(id types.ArtifactID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.artifacts[id]; !ok {
		return false
	}
	delete(s.artifacts, id)
	s.markDirty()
	return true
}
