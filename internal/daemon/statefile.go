// internal/daemon/statefile.go
package daemon

import (
	"encoding/json"
	"fmt"
	"os"
)

// StateFile is the single JSON object a running daemon maintains on
// disk. Clients and later daemon generations read it to find the ports,
// the shared secret and the owning PID.
type StateFile struct {
	PID                   int    `json:"pid"`
	HTTPPort              int    `json:"httpPort"`
	P2PPort               int    `json:"p2pPort"`
	P2PHost               string `json:"p2pHost"`
	P2PSharedSecret       string `json:"p2pSharedSecret"`
	TunnelURL             string `json:"tunnelUrl,omitempty"`
	StartTime             int64  `json:"startTime"`
	StartedWithCLIVersion string `json:"startedWithCliVersion"`
	LastHeartbeat         int64  `json:"lastHeartbeat,omitempty"`
	LogPath               string `json:"logPath"`
}

// ReadStateFile loads the state file at path. A missing file returns
// (nil, nil).
func ReadStateFile(path string) (*StateFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}
	var state StateFile
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	return &state, nil
}

// WriteStateFile atomically replaces the state file at path.
func WriteStateFile(path string, state *StateFile) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state file: %w", err)
	}
	data = append(data, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// RemoveStateFile deletes the state file, tolerating its absence.
func RemoveStateFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state file: %w", err)
	}
	return nil
}
