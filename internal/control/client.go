// internal/control/client.go
package control

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/user/remcli/internal/supervisor"
	"github.com/user/remcli/internal/types"
)

// Client is the thin HTTP client half of the control plane, used by the
// CLI subcommands, by spawned children for their self-report, and by a
// new daemon generation to stop the old one.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the control plane at baseURL
// (e.g. http://127.0.0.1:<httpPort>).
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Health reports whether the daemon answers on its control port.
func (c *Client) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ReportSessionStarted posts the child self-report webhook.
func (c *Client) ReportSessionStarted(ctx context.Context, sessionID types.SessionID, hostPID int) error {
	body := SessionStartedRequest{
		SessionID: sessionID,
		Metadata:  ChildMetadata{HostPID: hostPID},
	}
	return c.post(ctx, "/session-started", body, nil)
}

// List fetches the current tracked-children snapshot.
func (c *Client) List(ctx context.Context) ([]*supervisor.TrackedChild, error) {
	var out struct {
		Children []*supervisor.TrackedChild `json:"children"`
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/list", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("list sessions: status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode list response: %w", err)
	}
	return out.Children, nil
}

// SpawnSession requests a new agent child.
func (c *Client) SpawnSession(ctx context.Context, opts supervisor.SpawnOptions) (*supervisor.SpawnResult, error) {
	var result supervisor.SpawnResult
	if err := c.post(ctx, "/spawn-session", opts, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// StopSession requests termination of one child.
func (c *Client) StopSession(ctx context.Context, sessionID string) (bool, error) {
	var out struct {
		Success bool `json:"success"`
	}
	if err := c.post(ctx, "/stop-session", StopSessionRequest{SessionID: sessionID}, &out); err != nil {
		return false, err
	}
	return out.Success, nil
}

// Stop requests a graceful daemon shutdown.
func (c *Client) Stop(ctx context.Context) error {
	return c.post(ctx, "/stop", struct{}{}, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("post %s: status %d", path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}
