// internal/types/updates.go
package types

import "encoding/json"

// Update body discriminators carried in the "t" field.
const (
	UpdateNewSession          = "new-session"
	UpdateSessionChanged      = "update-session"
	UpdateDeleteSession       = "delete-session"
	UpdateNewMessage          = "new-message"
	UpdateNewMachine          = "new-machine"
	UpdateMachineChanged      = "update-machine"
	UpdateNewArtifact         = "new-artifact"
	UpdateArtifactChanged     = "update-artifact"
	UpdateDeleteArtifact      = "delete-artifact"
	UpdateAccountChanged      = "update-account"
	UpdateRelationshipChanged = "relationship-updated"
	UpdateNewFeedPost         = "new-feed-post"
	UpdateKVBatch             = "kv-batch-update"
)

// UpdateEnvelope is the persistent, sequenced notification of a state
// change. Seq comes from the per-user counter: it is allocated at emit
// time, except for entity creations, whose envelope carries the seq
// already allocated to the new entity.
type UpdateEnvelope struct {
	ID        UpdateID `json:"id"`
	Seq       int64    `json:"seq"`
	Body      any      `json:"body"`
	CreatedAt int64    `json:"createdAt"`
}

// NewSessionBody announces a freshly created session.
type NewSessionBody struct {
	T       string   `json:"t"`
	Session *Session `json:"session"`
}

// UpdateSessionBody announces a change to a session's versioned fields or
// activity flags. Only the changed fields are populated.
type UpdateSessionBody struct {
	T          string          `json:"t"`
	ID         SessionID       `json:"id"`
	Metadata   *VersionedValue `json:"metadata,omitempty"`
	AgentState *VersionedValue `json:"agentState,omitempty"`
	Active     *bool           `json:"active,omitempty"`
	ActiveAt   *int64          `json:"activeAt,omitempty"`
}

// DeleteSessionBody announces a session removal.
type DeleteSessionBody struct {
	T  string    `json:"t"`
	ID SessionID `json:"id"`
}

// NewMessageBody announces a message appended to a session.
type NewMessageBody struct {
	T         string    `json:"t"`
	SessionID SessionID `json:"sid"`
	Message   *Message  `json:"message"`
}

// NewMachineBody announces a machine registration.
type NewMachineBody struct {
	T       string   `json:"t"`
	Machine *Machine `json:"machine"`
}

// UpdateMachineBody announces a change to a machine's versioned fields.
type UpdateMachineBody struct {
	T           string          `json:"t"`
	MachineID   MachineID       `json:"machineId"`
	Metadata    *VersionedValue `json:"metadata,omitempty"`
	DaemonState *VersionedValue `json:"daemonState,omitempty"`
}

// NewArtifactBody announces an artifact creation.
type NewArtifactBody struct {
	T        string    `json:"t"`
	Artifact *Artifact `json:"artifact"`
}

// UpdateArtifactBody announces a change to an artifact's header or body.
type UpdateArtifactBody struct {
	T          string          `json:"t"`
	ArtifactID ArtifactID      `json:"artifactId"`
	Header     *VersionedValue `json:"header,omitempty"`
	Body       *VersionedValue `json:"body,omitempty"`
}

// DeleteArtifactBody announces an artifact removal.
type DeleteArtifactBody struct {
	T          string     `json:"t"`
	ArtifactID ArtifactID `json:"artifactId"`
}

// GenericUpdateBody covers discriminators the daemon relays without
// interpreting (account, relationship, feed, kv-batch). Fields is the raw
// remainder of the body.
type GenericUpdateBody struct {
	T      string          `json:"t"`
	Fields json.RawMessage `json:"fields,omitempty"`
}
