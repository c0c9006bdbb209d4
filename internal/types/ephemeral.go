// internal/types/ephemeral.go
package types

// Ephemeral event discriminators carried in the "type" field. Ephemeral
// events have no sequence numbers and no replay guarantee.
const (
	EphemeralActivity        = "activity"
	EphemeralMachineActivity = "machine-activity"
	EphemeralUsage           = "usage"
	EphemeralMachineStatus   = "machine-status"
)

// ActivityEphemeral reports a session's presence and thinking state.
type ActivityEphemeral struct {
	Type     string    `json:"type"`
	ID       SessionID `json:"id"`
	Active   bool      `json:"active"`
	ActiveAt int64     `json:"activeAt"`
	Thinking bool      `json:"thinking"`
}

// MachineActivityEphemeral reports a machine's presence.
type MachineActivityEphemeral struct {
	Type     string    `json:"type"`
	ID       MachineID `json:"id"`
	Active   bool      `json:"active"`
	ActiveAt int64     `json:"activeAt"`
}

// UsageEphemeral relays a usage report from a session to interested
// subscribers. Tokens and Cost are opaque aggregates supplied by the
// reporting client.
type UsageEphemeral struct {
	Type      string          `json:"type"`
	Key       string          `json:"key"`
	SessionID *SessionID      `json:"sessionId,omitempty"`
	Tokens    map[string]int64 `json:"tokens"`
	Cost      map[string]float64 `json:"cost"`
	Timestamp int64           `json:"timestamp"`
}

// MachineStatusEphemeral reports coarse daemon status for a machine.
type MachineStatusEphemeral struct {
	Type      string    `json:"type"`
	MachineID MachineID `json:"machineId"`
	Status    string    `json:"status"`
	Timestamp int64     `json:"timestamp"`
}
