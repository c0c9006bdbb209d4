// internal/daemon/selfclient.go
package daemon

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/user/remcli/internal/supervisor"
	"github.com/user/remcli/internal/types"
)

// rpcHandler executes one RPC method on behalf of a remote caller.
type rpcHandler func(params json.RawMessage) (any, error)

// machineClient is the daemon's own machine-scoped connection to its
// public plane. It exists so that RPC dispatches from mobile clients
// (spawn, stop, host tools) flow through the same registry as any other
// machine's.
type machineClient struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	handlers map[string]rpcHandler

	done      chan struct{}
	closeOnce sync.Once
}

// machineClientConfig carries what the self client needs to connect and
// serve.
type machineClientConfig struct {
	URL       string // ws://127.0.0.1:<p2pPort>/v1/updates
	Token     string
	MachineID types.MachineID
	Metadata  string // opaque machine self-description
}

// startMachineClient dials the public plane, registers machine scope and
// binds the daemon's RPC methods.
func startMachineClient(cfg machineClientConfig, sup *supervisor.Supervisor, requestShutdown func()) (*machineClient, error) {
	conn, _, err := websocket.DefaultDialer.Dial(cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial own public plane: %w", err)
	}

	hello := map[string]any{
		"token":      cfg.Token,
		"clientType": "machine-scoped",
		"machineId":  cfg.MachineID,
	}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}

	c := &machineClient{
		conn: conn,
		handlers: map[string]rpcHandler{
			"bash":          handleBash,
			"readFile":      handleReadFile,
			"writeFile":     handleWriteFile,
			"listDirectory": handleListDirectory,
		},
		done: make(chan struct{}),
	}

	c.handlers["spawn-remcli-session"] = func(params json.RawMessage) (any, error) {
		var opts supervisor.SpawnOptions
		if err := json.Unmarshal(params, &opts); err != nil {
			return nil, fmt.Errorf("parse spawn options: %w", err)
		}
		return sup.Spawn(opts), nil
	}
	c.handlers["stop-session"] = func(params json.RawMessage) (any, error) {
		var req struct {
			SessionID string `json:"sessionId"`
		}
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, fmt.Errorf("parse stop request: %w", err)
		}
		return map[string]bool{"success": sup.Stop(req.SessionID)}, nil
	}
	c.handlers["stop-daemon"] = func(json.RawMessage) (any, error) {
		go requestShutdown()
		return map[string]string{"status": "stopping"}, nil
	}

	c.send("machine-register", map[string]any{
		"machineId": cfg.MachineID,
		"metadata":  cfg.Metadata,
	})
	for method := range c.handlers {
		c.send("rpc-register", map[string]string{"method": method})
	}

	go c.readLoop()
	return c, nil
}

func (c *machineClient) send(event string, data any) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		slog.Warn("self machine client write failed", "event", event, "error", err)
	}
}

func (c *machineClient) readLoop() {
	defer c.Close()
	for {
		var frame struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := c.conn.ReadJSON(&frame); err != nil {
			select {
			case <-c.done:
			default:
				slog.Warn("self machine client disconnected", "error", err)
			}
			return
		}

		switch frame.Event {
		case "rpc-request":
			var req types.RPCRequestFrame
			if err := json.Unmarshal(frame.Data, &req); err != nil {
				continue
			}
			go c.serve(&req)
		case "rpc-error":
			slog.Warn("self machine client rpc error", "data", string(frame.Data))
		}
	}
}

// serve runs one RPC request and acks it with the same call id.
func (c *machineClient) serve(req *types.RPCRequestFrame) {
	handler, ok := c.handlers[req.Method]
	response := map[string]any{"callId": req.CallID}
	if !ok {
		response["ok"] = false
		response["error"] = fmt.Sprintf("unknown method %q", req.Method)
		c.send("rpc-response", response)
		return
	}

	result, err := handler(req.Params)
	if err != nil {
		response["ok"] = false
		response["error"] = err.Error()
	} else {
		response["ok"] = true
		response["result"] = result
	}
	c.send("rpc-response", response)
}

// Close disconnects the self client.
func (c *machineClient) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}
