// internal/supervisor/supervisor.go

// Package supervisor spawns, tracks and reaps child agent processes.
// Children are indexed by OS PID; a freshly spawned child later
// self-reports through the loopback webhook, which resolves the pending
// spawn request with its session id.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/user/remcli/internal/tmux"
	"github.com/user/remcli/internal/types"
)

// webhookDeadline bounds the wait between a spawn and the child's
// self-report.
const webhookDeadline = 15 * time.Second

// maxConcurrentSpawns bounds simultaneous window launches so a burst of
// spawn requests cannot exhaust file descriptors mid-setup.
const maxConcurrentSpawns = 4

// StartedBy records who launched a tracked child.
type StartedBy string

const (
	StartedByDaemon   StartedBy = "daemon"
	StartedByExternal StartedBy = "external"
)

// TrackedChild is the supervisor's record for a live or recently-live
// agent process.
type TrackedChild struct {
	PID              int             `json:"pid"`
	StartedBy        StartedBy       `json:"startedBy"`
	SessionID        types.SessionID `json:"sessionId,omitempty"`
	WindowID         string          `json:"windowId,omitempty"`
	Directory        string          `json:"directory,omitempty"`
	DirectoryCreated bool            `json:"directoryCreated"`
	Agent            string          `json:"agent,omitempty"`
	StartedAt        int64           `json:"startedAt"`
}

// SpawnOptions describe a spawn request.
type SpawnOptions struct {
	// Directory is the child's working directory.
	Directory string `json:"directory"`

	// Agent selects the agent kind to launch.
	Agent string `json:"agent"`

	// AuthToken, when set, is handed to the child: written into a
	// disposable credentials directory for the claude agent family,
	// injected as an environment variable for every other kind.
	AuthToken string `json:"token,omitempty"`

	// Env are profile-provided variable overrides, expanded against the
	// daemon's process environment before the auth variables are layered
	// on top.
	Env map[string]string `json:"env,omitempty"`

	// ApprovedNewDirectoryCreation permits creating Directory when it
	// does not exist yet.
	ApprovedNewDirectoryCreation bool `json:"approvedNewDirectoryCreation,omitempty"`

	// SessionTag optionally pins the tag the child should register
	// under.
	SessionTag string `json:"sessionTag,omitempty"`
}

// Spawn result discriminators.
const (
	SpawnSuccess                = "success"
	SpawnNeedsDirectoryApproval = "needsDirectoryApproval"
	SpawnError                  = "error"
)

// SpawnResult is the outcome of a spawn request.
type SpawnResult struct {
	Type         string          `json:"type"`
	SessionID    types.SessionID `json:"sessionId,omitempty"`
	Directory    string          `json:"directory,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
}

func spawnErrorf(format string, args ...any) SpawnResult {
	return SpawnResult{Type: SpawnError, ErrorMessage: fmt.Sprintf(format, args...)}
}

// Supervisor owns the TrackedChildren map and the pending spawn
// awaiters.
type Supervisor struct {
	runner   tmux.Runner
	cliPath  string
	credsDir string

	controlURL string
	deadline   time.Duration
	kill       func(pid int, sig syscall.Signal) error
	spawnGate  *semaphore.Weighted

	mu       sync.Mutex
	children map[int]*TrackedChild
	awaiters map[int]chan types.SessionID
}

// New creates a Supervisor launching children through runner. cliPath is
// the daemon's own binary, re-invoked in started-by-daemon mode;
// credsDir hosts disposable per-spawn credential directories.
func New(runner tmux.Runner, cliPath, credsDir string) *Supervisor {
	return &Supervisor{
		runner:   runner,
		cliPath:  cliPath,
		credsDir: credsDir,
		deadline:  webhookDeadline,
		kill:      syscall.Kill,
		spawnGate: semaphore.NewWeighted(maxConcurrentSpawns),
		children: make(map[int]*TrackedChild),
		awaiters: make(map[int]chan types.SessionID),
	}
}

// SetControlURL points children at the loopback control plane for their
// self-report webhook.
func (s *Supervisor) SetControlURL(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controlURL = url
}

// SetWebhookDeadline overrides the self-report deadline. Intended for
// tests.
func (s *Supervisor) SetWebhookDeadline(d time.Duration) {
	s.deadline = d
}

// Spawn launches a child agent in a multiplexer window and blocks until
// the child self-reports or the webhook deadline fires.
func (s *Supervisor) Spawn(opts SpawnOptions) SpawnResult {
	if err := s.spawnGate.Acquire(context.Background(), 1); err != nil {
		return spawnErrorf("spawn gate: %v", err)
	}
	defer s.spawnGate.Release(1)

	if opts.Directory == "" {
		return spawnErrorf("directory is required")
	}
	if opts.Agent == "" {
		opts.Agent = "claude"
	}

	directoryCreated := false
	if _, err := os.Stat(opts.Directory); err != nil {
		if !os.IsNotExist(err) {
			return spawnErrorf("stat directory %s: %v", opts.Directory, err)
		}
		if !opts.ApprovedNewDirectoryCreation {
			return SpawnResult{Type: SpawnNeedsDirectoryApproval, Directory: opts.Directory}
		}
		if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
			return spawnErrorf("create directory %s: %v", opts.Directory, err)
		}
		directoryCreated = true
	}

	auth, cleanup, err := s.authEnv(opts)
	if err != nil {
		return spawnErrorf("%v", err)
	}

	overlay, err := composeOverlay(opts.Env, auth)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return spawnErrorf("%v", err)
	}

	command := []string{s.cliPath, "agent", "--started-by", "daemon", "--agent", opts.Agent}
	window := "agent-" + uuid.NewString()[:8]

	windowID, pid, err := s.runner.SpawnWindow(window, opts.Directory, overlay, command)
	if err != nil {
		if cleanup != nil {
			cleanup()
		}
		return spawnErrorf("spawn window: %v", err)
	}

	await := make(chan types.SessionID, 1)

	s.mu.Lock()
	child, reported := s.children[pid]
	if reported {
		// The webhook beat us here; the entry is authoritative for the
		// session id, ours for provenance.
		child.StartedBy = StartedByDaemon
		child.WindowID = windowID
		child.Directory = opts.Directory
		child.DirectoryCreated = directoryCreated
		child.Agent = opts.Agent
	} else {
		child = &TrackedChild{
			PID:              pid,
			StartedBy:        StartedByDaemon,
			WindowID:         windowID,
			Directory:        opts.Directory,
			DirectoryCreated: directoryCreated,
			Agent:            opts.Agent,
			StartedAt:        time.Now().UnixMilli(),
		}
		s.children[pid] = child
	}
	if child.SessionID != "" {
		s.mu.Unlock()
		return SpawnResult{Type: SpawnSuccess, SessionID: child.SessionID}
	}
	s.awaiters[pid] = await
	s.mu.Unlock()

	slog.Info("spawned agent child", "pid", pid, "window", windowID, "agent", opts.Agent, "directory", opts.Directory)

	select {
	case sessionID := <-await:
		return SpawnResult{Type: SpawnSuccess, SessionID: sessionID}
	case <-time.After(s.deadline):
		s.mu.Lock()
		delete(s.awaiters, pid)
		delete(s.children, pid)
		s.mu.Unlock()
		if err := s.runner.KillWindow(windowID); err != nil {
			slog.Warn("kill window after webhook timeout failed", "window", windowID, "error", err)
		}
		if cleanup != nil {
			cleanup()
		}
		return spawnErrorf("child did not report within %s", s.deadline)
	}
}

// authEnv prepares the authentication variables for a child, writing the
// token into a disposable credentials directory for the claude agent
// family. The returned cleanup removes that directory on spawn failure.
func (s *Supervisor) authEnv(opts SpawnOptions) (map[string]string, func(), error) {
	auth := map[string]string{}
	if s.controlURL != "" {
		auth[EnvControlURL] = s.controlURL
	}
	if opts.SessionTag != "" {
		auth[EnvSessionTag] = opts.SessionTag
	}
	if opts.AuthToken == "" {
		return auth, nil, nil
	}

	if strings.HasPrefix(opts.Agent, "claude") {
		dir := filepath.Join(s.credsDir, uuid.NewString())
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("create credentials dir: %w", err)
		}
		path := filepath.Join(dir, "token")
		if err := os.WriteFile(path, []byte(opts.AuthToken), 0o600); err != nil {
			os.RemoveAll(dir)
			return nil, nil, fmt.Errorf("write credentials: %w", err)
		}
		auth[EnvCredentialsDir] = dir
		return auth, func() { os.RemoveAll(dir) }, nil
	}

	auth[EnvAuthToken] = opts.AuthToken
	return auth, nil, nil
}

// OnChildReport handles a child's self-report webhook. An existing entry
// for the PID is authoritative and is enriched with the session id; an
// unknown PID is inserted as an externally started child.
func (s *Supervisor) OnChildReport(sessionID types.SessionID, hostPID int) {
	s.mu.Lock()

	if child, ok := s.children[hostPID]; ok {
		child.SessionID = sessionID
	} else {
		s.children[hostPID] = &TrackedChild{
			PID:       hostPID,
			StartedBy: StartedByExternal,
			SessionID: sessionID,
			StartedAt: time.Now().UnixMilli(),
		}
	}

	await, ok := s.awaiters[hostPID]
	if ok {
		delete(s.awaiters, hostPID)
	}
	s.mu.Unlock()

	if ok {
		await <- sessionID
	}
	slog.Info("child session reported", "pid", hostPID, "session_id", sessionID)
}

// Stop terminates a tracked child by session id, or by the "PID-<n>"
// fallback syntax when the child never bound a session. Daemon-spawned
// children are torn down through their multiplexer window; external ones
// get an OS signal.
func (s *Supervisor) Stop(sessionID string) bool {
	s.mu.Lock()
	var child *TrackedChild
	for _, c := range s.children {
		if string(c.SessionID) == sessionID {
			child = c
			break
		}
	}
	if child == nil {
		if n, ok := strings.CutPrefix(sessionID, "PID-"); ok {
			if pid, err := strconv.Atoi(n); err == nil {
				child = s.children[pid]
			}
		}
	}
	if child == nil {
		s.mu.Unlock()
		return false
	}
	delete(s.children, child.PID)
	delete(s.awaiters, child.PID)
	s.mu.Unlock()

	if child.StartedBy == StartedByDaemon && child.WindowID != "" {
		if err := s.runner.KillWindow(child.WindowID); err != nil {
			slog.Warn("kill window failed, falling back to signal", "window", child.WindowID, "error", err)
			_ = s.kill(child.PID, syscall.SIGTERM)
		}
	} else {
		_ = s.kill(child.PID, syscall.SIGTERM)
	}
	slog.Info("stopped child", "pid", child.PID, "session_id", child.SessionID)
	return true
}

// StopAll terminates every tracked child. Used at daemon shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	children := make([]*TrackedChild, 0, len(s.children))
	for _, c := range s.children {
		children = append(children, c)
	}
	s.children = make(map[int]*TrackedChild)
	s.awaiters = make(map[int]chan types.SessionID)
	s.mu.Unlock()

	for _, child := range children {
		if child.StartedBy == StartedByDaemon && child.WindowID != "" {
			_ = s.runner.KillWindow(child.WindowID)
		} else {
			_ = s.kill(child.PID, syscall.SIGTERM)
		}
	}
}

// Prune drops every tracked child whose process has disappeared, probing
// with a zero signal. Returns the PIDs removed.
func (s *Supervisor) Prune() []int {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []int
	for pid := range s.children {
		if err := s.kill(pid, 0); err != nil {
			delete(s.children, pid)
			removed = append(removed, pid)
		}
	}
	if len(removed) > 0 {
		slog.Info("pruned dead children", "pids", removed)
	}
	return removed
}

// List returns a snapshot of the tracked children.
func (s *Supervisor) List() []*TrackedChild {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*TrackedChild, 0, len(s.children))
	for _, c := range s.children {
		clone := *c
		out = append(out, &clone)
	}
	return out
}
