// internal/store/machines.go
package store

import (
	"sort"

	"github.com/user/remcli/internal/types"
)

// UpsertMachine registers a machine or, if it already exists, rebinds its
// metadata (bumping metadataVersion) and marks it active.
func (s *Store) UpsertMachine(id types.MachineID, metadata string, daemonState *string, dataEncryptionKey *string) (*types.Machine, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowMillis()
	if m, ok := s.machines[id]; ok {
		m.Metadata = metadata
		m.MetadataVersion++
		if daemonState != nil {
			m.DaemonState = daemonState
			m.DaemonStateVersion++
		}
		if dataEncryptionKey != nil {
			m.DataEncryptionKey = dataEncryptionKey
		}
		m.Active = true
		m.ActiveAt = now
		m.UpdatedAt = now
		s.markDirty()
		return cloneMachine(m), false
	}

	m := &types.Machine{
		ID:                 id,
		Seq:                s.nextUserSeqLocked(),
		Metadata:           metadata,
		MetadataVersion:    1,
		DaemonState:        daemonState,
		DaemonStateVersion: 1,
		DataEncryptionKey:  dataEncryptionKey,
		Active:             true,
		ActiveAt:           now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	s.machines[id] = m
	s.markDirty()
	return cloneMachine(m), true
}

// GetMachine returns the machine with the given id, or nil.
func (s *Store) GetMachine(id types.MachineID) *types.Machine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.machines[id]; ok {
		return cloneMachine(m)
	}
	return nil
}

// ListMachines returns all registered machines, most recently updated
// first.
func (s *Store) ListMachines() []*types.Machine {
	s.mu.RLock()
	defer s.mu.RUnlock()

	machines := make([]*types.Machine, 0, len(s.machines))
	for _, m := range s.machines {
		machines = append(machines, cloneMachine(m))
	}
	sort.Slice(machines, func(i, j int) bool {
		return machines[i].UpdatedAt > machines[j].UpdatedAt
	})
	return machines
}

// UpdateMachineMetadata replaces a machine's metadata under the OCC
// discipline.
func (s *Store) UpdateMachineMetadata(id types.MachineID, value string, expectedVersion int64) UpdateOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.machines[id]
	if !ok {
		return UpdateOutcome{Result: WriteError}
	}
	if m.MetadataVersion != expectedVersion {
		return UpdateOutcome{Result: WriteVersionMismatch, Version: m.MetadataVersion, Value: m.Metadata}
	}
	m.Metadata = value
	m.MetadataVersion++
	m.UpdatedAt = s.nowMillis()
	s.markDirty()
	return UpdateOutcome{Result: WriteSuccess, Version: m.MetadataVersion, Value: m.Metadata}
}

// UpdateMachineDaemonState replaces a machine's daemon state under the
// OCC discipline.
func (s *Store) UpdateMachineDaemonState(id types.MachineID, value string, expectedVersion int64) UpdateOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.machines[id]
	if !ok {
		return UpdateOutcome{Result: WriteError}
	}
	if m.DaemonStateVersion != expectedVersion {
		current := ""
		if m.DaemonState != nil {
			current = *m.DaemonState
		}
		return UpdateOutcome{Result: WriteVersionMismatch, Version: m.DaemonStateVersion, Value: current}
	}
	m.DaemonState = &value
	m.DaemonStateVersion++
	m.UpdatedAt = s.nowMillis()
	s.markDirty()
	return UpdateOutcome{Result: WriteSuccess, Version: m.DaemonStateVersion, Value: value}
}

// SetMachineActive refreshes a machine's activity flags without touching
// any version counter. Returns the refreshed machine, or nil if absent.
func (s *Store) SetMachineActive(id types.MachineID, active bool) *types.Machine {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.machines[id]
	if !ok {
		return nil
	}
	now := s.nowMillis()
	m.Active = active
	m.ActiveAt = now
	m.UpdatedAt = now
	s.markDirty()
	return cloneMachine(m)
}

func cloneMachine(m *types.Machine) *types.Machine {
	clone := *m
	return &clone
}
