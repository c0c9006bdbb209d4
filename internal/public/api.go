// internal/public/api.go
package public

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/user/remcli/internal/router"
	"github.com/user/remcli/internal/types"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response failed", "error", err)
	}
}

func queryInt(r *http.Request, key string, fallback int) int {
	if q := r.URL.Query().Get(key); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// handleV1 routes the authenticated /v1 surface.
func (s *Server) handleV1(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/")

	switch {
	case path == "sessions":
		switch r.Method {
		case http.MethodPost:
			s.handleCreateSession(w, r)
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"sessions": s.store.ListSessions()})
		default:
			http.NotFound(w, r)
		}
	case strings.HasPrefix(path, "sessions/"):
		s.handleSessionByID(w, r, strings.TrimPrefix(path, "sessions/"))
	case path == "machines":
		switch r.Method {
		case http.MethodPost:
			s.handleUpsertMachine(w, r)
		case http.MethodGet:
			writeJSON(w, http.StatusOK, map[string]any{"machines": s.store.ListMachines()})
		default:
			http.NotFound(w, r)
		}
	case strings.HasPrefix(path, "machines/"):
		s.handleMachineByID(w, r, strings.TrimPrefix(path, "machines/"))
	case path == "artifacts" || strings.HasPrefix(path, "artifacts/"):
		// Artifact CRUD lives on the WebSocket surface in p2p mode.
		http.Error(w, `{"error":"artifacts are not served over HTTP in p2p mode"}`, http.StatusNotImplemented)
	case path == "usage":
		writeJSON(w, http.StatusOK, map[string]any{"usage": s.store.ListUsage()})
	default:
		http.NotFound(w, r)
	}
}

// handleV2 routes the authenticated /v2 surface.
func (s *Server) handleV2(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v2/")
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	switch path {
	case "sessions/active":
		limit := queryInt(r, "limit", 20)
		writeJSON(w, http.StatusOK, map[string]any{"sessions": s.store.ListActiveSessions(limit)})
	case "sessions":
		var changedSince int64
		if q := r.URL.Query().Get("changedSince"); q != "" {
			changedSince, _ = strconv.ParseInt(q, 10, 64)
		}
		page := s.store.ListSessionsPage(r.URL.Query().Get("cursor"), queryInt(r, "limit", 50), changedSince)
		writeJSON(w, http.StatusOK, page)
	default:
		http.NotFound(w, r)
	}
}

type createSessionRequest struct {
	Tag               string  `json:"tag"`
	Metadata          string  `json:"metadata"`
	DataEncryptionKey *string `json:"dataEncryptionKey"`
}

// handleCreateSession implements create-or-get by tag. A fresh session
// is announced to user-scoped subscribers with its own seq; a rebind is
// announced as a metadata update.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.Tag == "" {
		http.Error(w, `{"error":"tag is required"}`, http.StatusBadRequest)
		return
	}

	sess, created := s.store.CreateSession(req.Tag, req.Metadata, req.DataEncryptionKey)
	if created {
		s.events.EmitUpdateSeq(sess.Seq, &types.NewSessionBody{
			T:       types.UpdateNewSession,
			Session: sess,
		}, router.UserScopedOnly(), nil)
	} else {
		s.events.EmitUpdate(&types.UpdateSessionBody{
			T:        types.UpdateSessionChanged,
			ID:       sess.ID,
			Metadata: &types.VersionedValue{Version: sess.MetadataVersion, Value: sess.Metadata},
		}, router.SessionInterest(sess.ID), nil)
	}
	writeJSON(w, http.StatusOK, map[string]any{"session": sess})
}

func (s *Server) handleSessionByID(w http.ResponseWriter, r *http.Request, rest string) {
	parts := strings.SplitN(rest, "/", 2)
	id := types.SessionID(parts[0])

	if len(parts) == 2 {
		if parts[1] == "messages" && r.Method == http.MethodGet {
			if s.store.GetSession(id) == nil {
				http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
				return
			}
			limit := queryInt(r, "limit", 100)
			writeJSON(w, http.StatusOK, map[string]any{"messages": s.store.ListMessages(id, limit)})
			return
		}
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sess := s.store.GetSession(id)
		if sess == nil {
			writeJSON(w, http.StatusOK, map[string]any{"session": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"session": sess})
	case http.MethodDelete:
		if !s.store.DeleteSession(id) {
			http.Error(w, `{"error":"session not found"}`, http.StatusNotFound)
			return
		}
		s.events.EmitUpdate(&types.DeleteSessionBody{
			T:  types.UpdateDeleteSession,
			ID: id,
		}, router.UserScopedOnly(), nil)
		writeJSON(w, http.StatusOK, map[string]string{"result": "success"})
	default:
		http.NotFound(w, r)
	}
}

type upsertMachineRequest struct {
	ID                types.MachineID `json:"id"`
	Metadata          string          `json:"metadata"`
	DaemonState       *string         `json:"daemonState"`
	DataEncryptionKey *string         `json:"dataEncryptionKey"`
}

func (s *Server) handleUpsertMachine(w http.ResponseWriter, r *http.Request) {
	var req upsertMachineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if req.ID == "" {
		http.Error(w, `{"error":"id is required"}`, http.StatusBadRequest)
		return
	}

	machine, created := s.store.UpsertMachine(req.ID, req.Metadata, req.DaemonState, req.DataEncryptionKey)
	if created {
		s.events.EmitUpdateSeq(machine.Seq, &types.NewMachineBody{
			T:       types.UpdateNewMachine,
			Machine: machine,
		}, router.MachineScoped(machine.ID), nil)
	} else {
		s.events.EmitUpdate(&types.UpdateMachineBody{
			T:         types.UpdateMachineChanged,
			MachineID: machine.ID,
			Metadata:  &types.VersionedValue{Version: machine.MetadataVersion, Value: machine.Metadata},
		}, router.MachineScoped(machine.ID), nil)
	}
	writeJSON(w, http.StatusOK, map[string]any{"machine": machine})
}

func (s *Server) handleMachineByID(w http.ResponseWriter, r *http.Request, rest string) {
	if r.Method != http.MethodGet || strings.Contains(rest, "/") {
		http.NotFound(w, r)
		return
	}
	machine := s.store.GetMachine(types.MachineID(rest))
	if machine == nil {
		writeJSON(w, http.StatusOK, map[string]any{"machine": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"machine": machine})
}
