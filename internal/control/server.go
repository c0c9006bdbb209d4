// internal/control/server.go

// Package control is the daemon's loopback HTTP surface. The CLI front
// end and freshly spawned children talk to it; binding to the loopback
// address is its sole protection, so it carries no authentication.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/user/remcli/internal/supervisor"
	"github.com/user/remcli/internal/types"
)

// ChildMetadata is the child's self-description in its session-started
// report. Beyond HostPID the daemon treats it as opaque.
type ChildMetadata struct {
	HostPID int             `json:"hostPid"`
	Extra   json.RawMessage `json:"extra,omitempty"`
}

// SessionStartedRequest is the webhook body posted by a spawned child.
type SessionStartedRequest struct {
	SessionID types.SessionID `json:"sessionId"`
	Metadata  ChildMetadata   `json:"metadata"`
}

// StopSessionRequest names the session to terminate.
type StopSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// Server is the loopback control plane.
type Server struct {
	supervisor *supervisor.Supervisor
	onStop     func()

	mux      *http.ServeMux
	httpSrv  *http.Server
	listener net.Listener
}

// NewServer creates a control plane over the given supervisor. onStop is
// invoked asynchronously on every POST /stop request.
func NewServer(sup *supervisor.Supervisor, onStop func()) *Server {
	s := &Server{
		supervisor: sup,
		onStop:     onStop,
		mux:        http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /session-started", s.handleSessionStarted)
	s.mux.HandleFunc("GET /list", s.handleList)
	s.mux.HandleFunc("POST /spawn-session", s.handleSpawnSession)
	s.mux.HandleFunc("POST /stop-session", s.handleStopSession)
	s.mux.HandleFunc("POST /stop", s.handleStop)
	return s
}

// ServeHTTP delegates to the internal mux, implementing http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Start binds the loopback listener on an OS-assigned port and begins
// serving.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return fmt.Errorf("listen control plane: %w", err)
	}
	s.listener = listener
	s.httpSrv = &http.Server{Handler: s.mux}
	go func() {
		if err := s.httpSrv.Serve(listener); err != nil && err != http.ErrServerClosed {
			slog.Error("control plane serve failed", "error", err)
		}
	}()
	slog.Info("control plane listening", "addr", listener.Addr())
	return nil
}

// Port returns the bound loopback port.
func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}

// URL returns the loopback base URL.
func (s *Server) URL() string {
	return fmt.Sprintf("http://127.0.0.1:%d", s.Port())
}

// Shutdown stops the listener, waiting briefly for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSessionStarted(w http.ResponseWriter, r *http.Request) {
	var req SessionStartedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.SessionID == "" || req.Metadata.HostPID <= 0 {
		http.Error(w, `{"error":"sessionId and metadata.hostPid are required"}`, http.StatusBadRequest)
		return
	}

	s.supervisor.OnChildReport(req.SessionID, req.Metadata.HostPID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"children": s.supervisor.List()})
}

func (s *Server) handleSpawnSession(w http.ResponseWriter, r *http.Request) {
	var opts supervisor.SpawnOptions
	if err := json.NewDecoder(r.Body).Decode(&opts); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, s.supervisor.Spawn(opts))
}

func (s *Server) handleStopSession(w http.ResponseWriter, r *http.Request) {
	var req StopSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": s.supervisor.Stop(req.SessionID)})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
	if s.onStop != nil {
		go s.onStop()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}
