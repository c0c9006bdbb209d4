// internal/types/models.go
package types

// All value fields named Metadata, AgentState, DaemonState, Header, Body,
// DataEncryptionKey and message content C are opaque base64 strings. The
// daemon stores and forwards them without ever parsing their interior.

// Session is a logical agent run, identified internally by an opaque id
// and externally by a client-supplied tag.
type Session struct {
	ID                SessionID `json:"id"`
	Tag               string    `json:"tag"`
	Seq               int64     `json:"seq"`
	Metadata          string    `json:"metadata"`
	MetadataVersion   int64     `json:"metadataVersion"`
	AgentState        *string   `json:"agentState"`
	AgentStateVersion int64     `json:"agentStateVersion"`
	DataEncryptionKey *string   `json:"dataEncryptionKey"`
	Active            bool      `json:"active"`
	ActiveAt          int64     `json:"activeAt"`
	CreatedAt         int64     `json:"createdAt"`
	UpdatedAt         int64     `json:"updatedAt"`
}

// MessageContent wraps an end-to-end encrypted message body. The daemon
// treats C as an opaque base64 blob.
type MessageContent struct {
	T string `json:"t"`
	C string `json:"c"`
}

// EncryptedContent builds the standard {t:"encrypted", c:...} wrapper.
func EncryptedContent(c string) MessageContent {
	return MessageContent{T: "encrypted", C: c}
}

// Message is an append-only record within a session. Messages are never
// mutated after insert.
type Message struct {
	ID        MessageID      `json:"id"`
	SessionID SessionID      `json:"sessionId"`
	Seq       int64          `json:"seq"`
	Content   MessageContent `json:"content"`
	LocalID   *string        `json:"localId,omitempty"`
	CreatedAt int64          `json:"createdAt"`
	UpdatedAt int64          `json:"updatedAt"`
}

// Machine is a registered daemon host, keyed by a client-supplied id.
type Machine struct {
	ID                 MachineID `json:"id"`
	Seq                int64     `json:"seq"`
	Metadata           string    `json:"metadata"`
	MetadataVersion    int64     `json:"metadataVersion"`
	DaemonState        *string   `json:"daemonState"`
	DaemonStateVersion int64     `json:"daemonStateVersion"`
	DataEncryptionKey  *string   `json:"dataEncryptionKey"`
	Active             bool      `json:"active"`
	ActiveAt           int64     `json:"activeAt"`
	CreatedAt          int64     `json:"createdAt"`
	UpdatedAt          int64     `json:"updatedAt"`
}

// Artifact is a client-managed document with independently versioned
// header and body.
type Artifact struct {
	ID                ArtifactID `json:"id"`
	Seq               int64      `json:"seq"`
	Header            string     `json:"header"`
	HeaderVersion     int64      `json:"headerVersion"`
	Body              string     `json:"body"`
	BodyVersion       int64      `json:"bodyVersion"`
	DataEncryptionKey *string    `json:"dataEncryptionKey"`
	CreatedAt         int64      `json:"createdAt"`
	UpdatedAt         int64      `json:"updatedAt"`
}

// VersionedValue carries a value together with its version counter, used
// in update events and version-mismatch responses so clients can merge.
type VersionedValue struct {
	Version int64  `json:"version"`
	Value   string `json:"value"`
}
