// internal/types/rpc.go
package types

import "encoding/json"

// RPCRequestFrame is delivered to the connection owning a method. The
// owner must reply with the same call id within the caller's deadline.
type RPCRequestFrame struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
	CallID CallID          `json:"callId"`
}

// RPCMethodFrame announces a registration change to the affected
// connection (rpc-registered / rpc-unregistered).
type RPCMethodFrame struct {
	Method string `json:"method"`
}

// RPCErrorFrame reports a registry-level failure to a connection.
type RPCErrorFrame struct {
	Method  string `json:"method,omitempty"`
	Message string `json:"message"`
}

// RPCCallResult is returned to the calling connection.
type RPCCallResult struct {
	OK     bool            `json:"ok"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}
