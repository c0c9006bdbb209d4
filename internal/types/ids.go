// internal/types/ids.go
package types

import (
	"github.com/google/uuid"
)

type SessionID string
type MessageID string
type MachineID string
type ArtifactID string
type UpdateID string
type CallID string

func NewSessionID() SessionID {
	return SessionID(uuid.New().String())
}

func NewMessageID() MessageID {
	return MessageID(uuid.New().String())
}

func NewUpdateID() UpdateID {
	return UpdateID(uuid.New().String())
}

func NewCallID() CallID {
	return CallID(uuid.New().String())
}
