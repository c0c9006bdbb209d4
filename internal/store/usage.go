// internal/store/usage.go
package store

import (
	"sort"

	"github.com/user/remcli/internal/types"
)

// UsageTotals aggregates usage reports per reporting key. Token and cost
// buckets are summed per category as reported by clients; the daemon
// attaches no meaning to the category names.
type UsageTotals struct {
	Key       string             `json:"key"`
	SessionID *types.SessionID   `json:"sessionId,omitempty"`
	Tokens    map[string]int64   `json:"tokens"`
	Cost      map[string]float64 `json:"cost"`
	Reports   int64              `json:"reports"`
	UpdatedAt int64              `json:"updatedAt"`
}

// RecordUsage folds a usage report into the per-key totals and returns
// the updated aggregate.
func (s *Store) RecordUsage(key string, sessionID *types.SessionID, tokens map[string]int64, cost map[string]float64) *UsageTotals {
	s.mu.Lock()
	defer s.mu.Unlock()

	totals, ok := s.usage[key]
	if !ok {
		totals = &UsageTotals{
			Key:    key,
			Tokens: make(map[string]int64),
			Cost:   make(map[string]float64),
		}
		s.usage[key] = totals
	}
	if sessionID != nil {
		totals.SessionID = sessionID
	}
	for k, v := range tokens {
		totals.Tokens[k] += v
	}
	for k, v := range cost {
		totals.Cost[k] += v
	}
	totals.Reports++
	totals.UpdatedAt = s.nowMillis()
	s.markDirty()
	return cloneUsage(totals)
}

// ListUsage returns all usage aggregates sorted by key.
func (s *Store) ListUsage() []*UsageTotals {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*UsageTotals, 0, len(s.usage))
	for _, totals := range s.usage {
		out = append(out, cloneUsage(totals))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func cloneUsage(totals *UsageTotals) *UsageTotals {
	clone := &UsageTotals{
		Key:       totals.Key,
		SessionID: totals.SessionID,
		Tokens:    make(map[string]int64, len(totals.Tokens)),
		Cost:      make(map[string]float64, len(totals.Cost)),
		Reports:   totals.Reports,
		UpdatedAt: totals.UpdatedAt,
	}
	for k, v := range totals.Tokens {
		clone.Tokens[k] = v
	}
	for k, v := range totals.Cost {
		clone.Cost[k] = v
	}
	return clone
}
