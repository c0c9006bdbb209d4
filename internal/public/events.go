// internal/public/events.go
package public

import (
	"context"
	"encoding/json"
	"time"

	"github.com/user/remcli/internal/router"
	"github.com/user/remcli/internal/store"
	"github.com/user/remcli/internal/types"
)

// errorReply is the generic {result:"error"} callback payload.
type errorReply struct {
	Result  string `json:"result"`
	Message string `json:"message,omitempty"`
}

func errReply(message string) errorReply {
	return errorReply{Result: "error", Message: message}
}

// dispatch routes one client frame to its handler. Unknown events get an
// error callback when the client asked for one, and are otherwise
// dropped.
func (s *Server) dispatch(conn *wsConn, frame *clientFrame) {
	reply := func(payload any) {
		if frame.ID != nil {
			conn.reply(*frame.ID, payload)
		}
	}

	switch frame.Event {
	case "ping":
		reply(map[string]any{})
	case "message":
		s.onMessage(conn, frame.Data, reply)
	case "session-alive":
		s.onSessionAlive(conn, frame.Data)
	case "session-end":
		s.onSessionEnd(conn, frame.Data)
	case "update-metadata":
		s.onUpdateMetadata(conn, frame.Data, reply)
	case "update-state":
		s.onUpdateState(conn, frame.Data, reply)
	case "machine-alive":
		s.onMachineAlive(conn, frame.Data)
	case "machine-register":
		s.onMachineRegister(conn, frame.Data, reply)
	case "machine-update-metadata":
		s.onMachineUpdateMetadata(conn, frame.Data, reply)
	case "machine-update-state":
		s.onMachineUpdateState(conn, frame.Data, reply)
	case "artifact-create":
		s.onArtifactCreate(conn, frame.Data, reply)
	case "artifact-read":
		s.onArtifactRead(frame.Data, reply)
	case "artifact-update":
		s.onArtifactUpdate(conn, frame.Data, reply)
	case "artifact-delete":
		s.onArtifactDelete(conn, frame.Data, reply)
	case "usage-report":
		s.onUsageReport(conn, frame.Data, reply)
	case "rpc-register":
		s.onRPCRegister(conn, frame.Data, reply)
	case "rpc-unregister":
		s.onRPCUnregister(conn, frame.Data, reply)
	case "rpc-call":
		s.onRPCCall(frame.Data, reply)
	case "rpc-response":
		s.onRPCResponse(frame.Data)
	default:
		reply(errReply("unknown event " + frame.Event))
	}
}

type messageRequest struct {
	SessionID types.SessionID `json:"sid"`
	Message   string          `json:"message"`
	LocalID   *string         `json:"localId,omitempty"`
}

func (s *Server) onMessage(conn *wsConn, data json.RawMessage, reply func(any)) {
	var req messageRequest
	if err := json.Unmarshal(data, &req); err != nil {
		reply(errReply("invalid message payload"))
		return
	}

	msg := s.store.AppendMessage(req.SessionID, types.EncryptedContent(req.Message), req.LocalID)
	if msg == nil {
		reply(errReply("session not found"))
		return
	}

	s.events.EmitUpdate(&types.NewMessageBody{
		T:         types.UpdateNewMessage,
		SessionID: req.SessionID,
		Message:   msg,
	}, router.SessionInterest(req.SessionID), conn)

	reply(map[string]any{"result": "success", "message": msg})
}

type sessionAliveRequest struct {
	SessionID types.SessionID `json:"sid"`
	Time      int64           `json:"time"`
	Thinking  bool            `json:"thinking,omitempty"`
}

func (s *Server) onSessionAlive(conn *wsConn, data json.RawMessage) {
	var req sessionAliveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	if s.store.SetSessionActive(req.SessionID, true) == nil {
		return
	}
	at := req.Time
	if at == 0 {
		at = time.Now().UnixMilli()
	}
	s.events.EmitEphemeral(&types.ActivityEphemeral{
		Type:     types.EphemeralActivity,
		ID:       req.SessionID,
		Active:   true,
		ActiveAt: at,
		Thinking: req.Thinking,
	}, router.SessionInterest(req.SessionID), conn)
}

type sessionEndRequest struct {
	SessionID types.SessionID `json:"sid"`
	Time      int64           `json:"time"`
}

func (s *Server) onSessionEnd(conn *wsConn, data json.RawMessage) {
	var req sessionEndRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	if s.store.SetSessionActive(req.SessionID, false) == nil {
		return
	}
	at := req.Time
	if at == 0 {
		at = time.Now().UnixMilli()
	}
	s.events.EmitEphemeral(&types.ActivityEphemeral{
		Type:     types.EphemeralActivity,
		ID:       req.SessionID,
		Active:   false,
		ActiveAt: at,
	}, router.SessionInterest(req.SessionID), conn)
}

type updateMetadataRequest struct {
	SessionID       types.SessionID `json:"sid"`
	Metadata        string          `json:"metadata"`
	ExpectedVersion int64           `json:"expectedVersion"`
}

// occReply shapes a versioned-write callback: on success or mismatch the
// current version and value ride along so the client can merge.
func occReply(outcome store.UpdateOutcome, field string) map[string]any {
	out := map[string]any{"result": string(outcome.Result)}
	if outcome.Result != store.WriteError {
		out["version"] = outcome.Version
		out[field] = outcome.Value
	}
	return out
}

func (s *Server) onUpdateMetadata(conn *wsConn, data json.RawMessage, reply func(any)) {
	var req updateMetadataRequest
	if err := json.Unmarshal(data, &req); err != nil {
		reply(errReply("invalid update-metadata payload"))
		return
	}

	outcome := s.store.UpdateSessionMetadata(req.SessionID, req.Metadata, req.ExpectedVersion)
	if outcome.Result == store.WriteSuccess {
		s.events.EmitUpdate(&types.UpdateSessionBody{
			T:        types.UpdateSessionChanged,
			ID:       req.SessionID,
			Metadata: &types.VersionedValue{Version: outcome.Version, Value: outcome.Value},
		}, router.SessionInterest(req.SessionID), conn)
	}
	reply(occReply(outcome, "metadata"))
}

type updateStateRequest struct {
	SessionID       types.SessionID `json:"sid"`
	AgentState      string          `json:"agentState"`
	ExpectedVersion int64           `json:"expectedVersion"`
}

func (s *Server) onUpdateState(conn *wsConn, data json.RawMessage, reply func(any)) {
	var req updateStateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		reply(errReply("invalid update-state payload"))
		return
	}

	outcome := s.store.UpdateSessionState(req.SessionID, req.AgentState, req.ExpectedVersion)
	if outcome.Result == store.WriteSuccess {
		s.events.EmitUpdate(&types.UpdateSessionBody{
			T:          types.UpdateSessionChanged,
			ID:         req.SessionID,
			AgentState: &types.VersionedValue{Version: outcome.Version, Value: outcome.Value},
		}, router.SessionInterest(req.SessionID), conn)
	}
	reply(occReply(outcome, "agentState"))
}

type machineAliveRequest struct {
	MachineID types.MachineID `json:"machineId"`
	Time      int64           `json:"time"`
}

func (s *Server) onMachineAlive(conn *wsConn, data json.RawMessage) {
	var req machineAliveRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	if s.store.SetMachineActive(req.MachineID, true) == nil {
		return
	}
	at := req.Time
	if at == 0 {
		at = time.Now().UnixMilli()
	}
	s.events.EmitEphemeral(&types.MachineActivityEphemeral{
		Type:     types.EphemeralMachineActivity,
		ID:       req.MachineID,
		Active:   true,
		ActiveAt: at,
	}, router.MachineScoped(req.MachineID), conn)
}

type machineRegisterRequest struct {
	MachineID         types.MachineID `json:"machineId"`
	Metadata          string          `json:"metadata"`
	DaemonState       *string         `json:"daemonState,omitempty"`
	DataEncryptionKey *string         `json:"dataEncryptionKey,omitempty"`
}

func (s *Server) onMachineRegister(conn *wsConn, data json.RawMessage, reply func(any)) {
	var req machineRegisterRequest
	if err := json.Unmarshal(data, &req); err != nil {
		reply(errReply("invalid machine-register payload"))
		return
	}
	if req.MachineID == "" {
		reply(errReply("machineId is required"))
		return
	}

	machine, created := s.store.UpsertMachine(req.MachineID, req.Metadata, req.DaemonState, req.DataEncryptionKey)
	if created {
		s.events.EmitUpdateSeq(machine.Seq, &types.NewMachineBody{
			T:       types.UpdateNewMachine,
			Machine: machine,
		}, router.MachineScoped(req.MachineID), conn)
	} else {
		s.events.EmitUpdate(&types.UpdateMachineBody{
			T:         types.UpdateMachineChanged,
			MachineID: req.MachineID,
			Metadata:  &types.VersionedValue{Version: machine.MetadataVersion, Value: machine.Metadata},
		}, router.MachineScoped(req.MachineID), conn)
	}
	reply(map[string]any{"result": "success", "machine": machine})
}

type machineUpdateRequest struct {
	MachineID       types.MachineID `json:"machineId"`
	Metadata        string          `json:"metadata,omitempty"`
	DaemonState     string          `json:"daemonState,omitempty"`
	ExpectedVersion int64           `json:"expectedVersion"`
}

func (s *Server) onMachineUpdateMetadata(conn *wsConn, data json.RawMessage, reply func(any)) {
	var req machineUpdateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		reply(errReply("invalid machine-update-metadata payload"))
		return
	}

	outcome := s.store.UpdateMachineMetadata(req.MachineID, req.Metadata, req.ExpectedVersion)
	if outcome.Result == store.WriteSuccess {
		s.events.EmitUpdate(&types.UpdateMachineBody{
			T:         types.UpdateMachineChanged,
			MachineID: req.MachineID,
			Metadata:  &types.VersionedValue{Version: outcome.Version, Value: outcome.Value},
		}, router.MachineScoped(req.MachineID), conn)
	}
	reply(occReply(outcome, "metadata"))
}

func (s *Server) onMachineUpdateState(conn *wsConn, data json.RawMessage, reply func(any)) {
	var req machineUpdateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		reply(errReply("invalid machine-update-state payload"))
		return
	}

	outcome := s.store.UpdateMachineDaemonState(req.MachineID, req.DaemonState, req.ExpectedVersion)
	if outcome.Result == store.WriteSuccess {
		s.events.EmitUpdate(&types.UpdateMachineBody{
			T:           types.UpdateMachineChanged,
			MachineID:   req.MachineID,
			DaemonState: &types.VersionedValue{Version: outcome.Version, Value: outcome.Value},
		}, router.MachineScoped(req.MachineID), conn)
	}
	reply(occReply(outcome, "daemonState"))
}

type artifactCreateRequest struct {
	ID                types.ArtifactID `json:"id"`
	Header            string           `json:"header"`
	Body              string           `json:"body"`
	DataEncryptionKey *string          `json:"dataEncryptionKey,omitempty"`
}

func (s *Server) onArtifactCreate(conn *wsConn, data json.RawMessage, reply func(any)) {
	var req artifactCreateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		reply(errReply("invalid artifact-create payload"))
		return
	}
	if req.ID == "" {
		reply(errReply("artifact id is required"))
		return
	}

	artifact := s.store.CreateArtifact(req.ID, req.Header, req.Body, req.DataEncryptionKey)
	if artifact == nil {
		reply(errReply("artifact already exists"))
		return
	}
	s.events.EmitUpdateSeq(artifact.Seq, &types.NewArtifactBody{
		T:        types.UpdateNewArtifact,
		Artifact: artifact,
	}, router.UserScopedOnly(), conn)
	reply(map[string]any{"result": "success", "artifact": artifact})
}

type artifactReadRequest struct {
	ID types.ArtifactID `json:"id,omitempty"`
}

func (s *Server) onArtifactRead(data json.RawMessage, reply func(any)) {
	var req artifactReadRequest
	if err := json.Unmarshal(data, &req); err != nil {
		reply(errReply("invalid artifact-read payload"))
		return
	}
	if req.ID == "" {
		reply(map[string]any{"result": "success", "artifacts": s.store.ListArtifacts()})
		return
	}
	artifact := s.store.GetArtifact(req.ID)
	if artifact == nil {
		reply(errReply("artifact not found"))
		return
	}
	reply(map[string]any{"result": "success", "artifact": artifact})
}

type artifactUpdateRequest struct {
	ID                    types.ArtifactID `json:"id"`
	Header                *string          `json:"header,omitempty"`
	ExpectedHeaderVersion int64            `json:"expectedHeaderVersion,omitempty"`
	Body                  *string          `json:"body,omitempty"`
	ExpectedBodyVersion   int64            `json:"expectedBodyVersion,omitempty"`
}

func (s *Server) onArtifactUpdate(conn *wsConn, data json.RawMessage, reply func(any)) {
	var req artifactUpdateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		reply(errReply("invalid artifact-update payload"))
		return
	}

	update := &types.UpdateArtifactBody{T: types.UpdateArtifactChanged, ArtifactID: req.ID}
	out := map[string]any{"result": "success"}

	if req.Header != nil {
		outcome := s.store.UpdateArtifactHeader(req.ID, *req.Header, req.ExpectedHeaderVersion)
		out["header"] = occReply(outcome, "value")
		if outcome.Result == store.WriteSuccess {
			update.Header = &types.VersionedValue{Version: outcome.Version, Value: outcome.Value}
		} else {
			out["result"] = string(outcome.Result)
		}
	}
	if req.Body != nil {
		outcome := s.store.UpdateArtifactBody(req.ID, *req.Body, req.ExpectedBodyVersion)
		out["body"] = occReply(outcome, "value")
		if outcome.Result == store.WriteSuccess {
			update.Body = &types.VersionedValue{Version: outcome.Version, Value: outcome.Value}
		} else {
			out["result"] = string(outcome.Result)
		}
	}

	if update.Header != nil || update.Body != nil {
		s.events.EmitUpdate(update, router.UserScopedOnly(), conn)
	}
	reply(out)
}

type artifactDeleteRequest struct {
	ID types.ArtifactID `json:"id"`
}

func (s *Server) onArtifactDelete(conn *wsConn, data json.RawMessage, reply func(any)) {
	var req artifactDeleteRequest
	if err := json.Unmarshal(data, &req); err != nil {
		reply(errReply("invalid artifact-delete payload"))
		return
	}
	if !s.store.DeleteArtifact(req.ID) {
		reply(errReply("artifact not found"))
		return
	}
	s.events.EmitUpdate(&types.DeleteArtifactBody{
		T:          types.UpdateDeleteArtifact,
		ArtifactID: req.ID,
	}, router.UserScopedOnly(), conn)
	reply(map[string]any{"result": "success"})
}

type usageReportRequest struct {
	Key       string             `json:"key"`
	SessionID *types.SessionID   `json:"sessionId,omitempty"`
	Tokens    map[string]int64   `json:"tokens"`
	Cost      map[string]float64 `json:"cost"`
}

func (s *Server) onUsageReport(conn *wsConn, data json.RawMessage, reply func(any)) {
	var req usageReportRequest
	if err := json.Unmarshal(data, &req); err != nil {
		reply(errReply("invalid usage-report payload"))
		return
	}
	if req.Key == "" {
		reply(errReply("key is required"))
		return
	}

	s.store.RecordUsage(req.Key, req.SessionID, req.Tokens, req.Cost)
	s.events.EmitEphemeral(&types.UsageEphemeral{
		Type:      types.EphemeralUsage,
		Key:       req.Key,
		SessionID: req.SessionID,
		Tokens:    req.Tokens,
		Cost:      req.Cost,
		Timestamp: time.Now().UnixMilli(),
	}, router.UserScopedOnly(), conn)
	reply(map[string]any{"result": "success"})
}

type rpcMethodRequest struct {
	Method string `json:"method"`
}

func (s *Server) onRPCRegister(conn *wsConn, data json.RawMessage, reply func(any)) {
	var req rpcMethodRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Method == "" {
		reply(errReply("method is required"))
		return
	}

	if err := s.rpc.Register(req.Method, conn); err != nil {
		conn.Send("rpc-error", &types.RPCErrorFrame{Method: req.Method, Message: err.Error()})
		reply(errReply(err.Error()))
		return
	}
	conn.Send("rpc-registered", &types.RPCMethodFrame{Method: req.Method})
	reply(map[string]any{"result": "success"})
}

func (s *Server) onRPCUnregister(conn *wsConn, data json.RawMessage, reply func(any)) {
	var req rpcMethodRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Method == "" {
		reply(errReply("method is required"))
		return
	}

	if err := s.rpc.Unregister(req.Method, conn); err != nil {
		conn.Send("rpc-error", &types.RPCErrorFrame{Method: req.Method, Message: err.Error()})
		reply(errReply(err.Error()))
		return
	}
	conn.Send("rpc-unregistered", &types.RPCMethodFrame{Method: req.Method})
	reply(map[string]any{"result": "success"})
}

type rpcCallRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (s *Server) onRPCCall(data json.RawMessage, reply func(any)) {
	var req rpcCallRequest
	if err := json.Unmarshal(data, &req); err != nil || req.Method == "" {
		reply(types.RPCCallResult{OK: false, Error: "method is required"})
		return
	}

	// The ack wait may take up to the full RPC deadline; it must not
	// stall this connection's read loop.
	go func() {
		reply(s.rpc.Call(context.Background(), req.Method, req.Params))
	}()
}

type rpcResponseFrame struct {
	CallID types.CallID    `json:"callId"`
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

func (s *Server) onRPCResponse(data json.RawMessage) {
	var frame rpcResponseFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.CallID == "" {
		return
	}
	s.rpc.Resolve(frame.CallID, types.RPCCallResult{OK: frame.OK, Result: frame.Result, Error: frame.Error})
}
