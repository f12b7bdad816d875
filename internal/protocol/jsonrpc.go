package protocol

import "encoding/json"

// JSON-RPC 2.0 framing for the tool tunnel.
// Specification: https://www.jsonrpc.org/specification

const JSONRPCVersion = "2.0"

// Reserved JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Tunnel-specific extension codes.
const (
	CodeToolNotFound = -32001
	// CodeToolExecutionError exists for completeness; handler failures are
	// reported through the IsError result flag, not as an RPC error.
	CodeToolExecutionError = -32002
	CodeResourceNotFound   = -32003
	CodeNotInitialized     = -32004
)

// RPCRequest is a JSON-RPC 2.0 request or notification. Notifications have
// no ID and receive no response.
type RPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

func (r *RPCRequest) IsNotification() bool {
	return len(r.ID) == 0
}

// RPCResponse is a JSON-RPC 2.0 response. Exactly one of Result or Error is
// set.
type RPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return "rpc error"
	}
	return e.Message
}

func NewRPCResult(id json.RawMessage, result any) RPCResponse {
	return RPCResponse{JSONRPC: JSONRPCVersion, ID: id, Result: result}
}

func NewRPCError(id json.RawMessage, code int, message string) RPCResponse {
	if len(id) == 0 {
		id = json.RawMessage("null")
	}
	return RPCResponse{JSONRPC: JSONRPCVersion, ID: id, Error: &RPCError{Code: code, Message: message}}
}
