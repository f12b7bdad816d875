// Package tunnel answers JSON-RPC 2.0 requests arriving over the
// connection's tunnel envelopes, exposing the local tool registry and
// workspace resources to the remote peer.
package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"relay/cli/internal/protocol"
	"relay/cli/internal/toolbox"
)

const (
	protocolVersion = "2025-03-26"
	serverName      = "relay"

	resourceScheme = "workspace:///"
)

// ToolRegistry is the capability the tunnel consumes. Execute reports
// an unknown name via toolbox.ErrToolNotFound; any other error is a
// tool execution failure.
type ToolRegistry interface {
	List() []toolbox.Definition
	Execute(ctx context.Context, name string, args json.RawMessage) (string, error)
}

type Options struct {
	Registry      ToolRegistry
	WorkspaceRoot string
	Logger        *slog.Logger
	Version       string
}

// Responder dispatches JSON-RPC requests to local handlers. Failures
// always come back as JSON-RPC error objects; a request never
// terminates the tunnel or the transport.
type Responder struct {
	registry ToolRegistry
	root     string
	logger   *slog.Logger
	version  string

	mu          sync.Mutex
	initialized bool
}

func NewResponder(opts Options) (*Responder, error) {
	if opts.Registry == nil {
		return nil, errors.New("tool registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := strings.TrimSpace(opts.Version)
	if version == "" {
		version = "dev"
	}
	return &Responder{
		registry: opts.Registry,
		root:     strings.TrimSpace(opts.WorkspaceRoot),
		logger:   logger,
		version:  version,
	}, nil
}

// Handle processes one raw JSON-RPC payload and returns the encoded
// response, or nil for notifications.
func (r *Responder) Handle(ctx context.Context, raw []byte) []byte {
	var req protocol.RPCRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return r.encode(protocol.NewRPCError(nil, protocol.CodeParseError, "parse error: "+err.Error()))
	}
	if req.JSONRPC != protocol.JSONRPCVersion {
		if req.IsNotification() {
			return nil
		}
		return r.encode(protocol.NewRPCError(req.ID, protocol.CodeInvalidRequest, "unsupported JSON-RPC version"))
	}

	if req.IsNotification() {
		r.handleNotification(&req)
		return nil
	}

	return r.encode(r.dispatch(ctx, &req))
}

func (r *Responder) handleNotification(req *protocol.RPCRequest) {
	switch req.Method {
	case "notifications/initialized", "initialized":
		r.mu.Lock()
		r.initialized = true
		r.mu.Unlock()
	default:
		r.logger.Debug("ignoring notification", "method", req.Method)
	}
}

func (r *Responder) dispatch(ctx context.Context, req *protocol.RPCRequest) protocol.RPCResponse {
	switch req.Method {
	case "initialize":
		return r.handleInitialize(req)
	case "ping":
		return protocol.NewRPCResult(req.ID, map[string]any{})
	}

	r.mu.Lock()
	ready := r.initialized
	r.mu.Unlock()
	if !ready {
		return protocol.NewRPCError(req.ID, protocol.CodeNotInitialized, "session not initialized (call initialize first)")
	}

	switch req.Method {
	case "tools/list":
		return r.handleToolsList(req)
	case "tools/call":
		return r.handleToolsCall(ctx, req)
	case "resources/list":
		return r.handleResourcesList(req)
	case "resources/read":
		return r.handleResourcesRead(req)
	default:
		return protocol.NewRPCError(req.ID, protocol.CodeMethodNotFound, "unknown method: "+req.Method)
	}
}

func (r *Responder) handleInitialize(req *protocol.RPCRequest) protocol.RPCResponse {
	r.mu.Lock()
	r.initialized = true
	r.mu.Unlock()

	return protocol.NewRPCResult(req.ID, initializeResult{
		ProtocolVersion: protocolVersion,
		Capabilities: serverCapabilities{
			Tools:     &struct{}{},
			Resources: &struct{}{},
		},
		ServerInfo:   serverInfo{Name: serverName, Version: r.version},
		Instructions: "Tools run against the client workspace. Resources are workspace:/// relative paths.",
	})
}

func (r *Responder) handleToolsList(req *protocol.RPCRequest) protocol.RPCResponse {
	defs := r.registry.List()
	descriptions := make([]toolDescription, 0, len(defs))
	for _, def := range defs {
		descriptions = append(descriptions, toolDescription{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	return protocol.NewRPCResult(req.ID, toolsListResult{Tools: descriptions})
}

func (r *Responder) handleToolsCall(ctx context.Context, req *protocol.RPCRequest) protocol.RPCResponse {
	if len(req.Params) == 0 {
		return protocol.NewRPCError(req.ID, protocol.CodeInvalidParams, "params required for tools/call")
	}
	var params toolsCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewRPCError(req.ID, protocol.CodeInvalidParams, "invalid tools/call params: "+err.Error())
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return protocol.NewRPCError(req.ID, protocol.CodeInvalidParams, "tool name is required")
	}

	output, err := r.registry.Execute(ctx, name, params.Arguments)
	if errors.Is(err, toolbox.ErrToolNotFound) {
		return protocol.NewRPCError(req.ID, protocol.CodeToolNotFound, "unknown tool: "+name)
	}

	result := toolsCallResult{}
	if output != "" {
		result.Content = append(result.Content, contentBlock{Type: "text", Text: output})
	}
	if err != nil {
		// Execution failures are a normal tool result flagged as an
		// error, visible to the peer but not an RPC failure.
		result.IsError = true
		result.Content = append(result.Content, contentBlock{Type: "text", Text: err.Error()})
		r.logger.Warn("tool execution failed", "tool", name, "error", err)
	}
	if len(result.Content) == 0 {
		result.Content = []contentBlock{{Type: "text", Text: ""}}
	}
	return protocol.NewRPCResult(req.ID, result)
}

func (r *Responder) handleResourcesList(req *protocol.RPCRequest) protocol.RPCResponse {
	resources := []resourceDescription{}
	if r.root != "" {
		resources = append(resources, resourceDescription{
			URI:      resourceScheme,
			Name:     filepath.Base(r.root),
			MimeType: "inode/directory",
		})
	}
	return protocol.NewRPCResult(req.ID, resourcesListResult{Resources: resources})
}

func (r *Responder) handleResourcesRead(req *protocol.RPCRequest) protocol.RPCResponse {
	if len(req.Params) == 0 {
		return protocol.NewRPCError(req.ID, protocol.CodeInvalidParams, "params required for resources/read")
	}
	var params resourcesReadParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return protocol.NewRPCError(req.ID, protocol.CodeInvalidParams, "invalid resources/read params: "+err.Error())
	}

	path, err := r.resolveResource(params.URI)
	if err != nil {
		return protocol.NewRPCError(req.ID, protocol.CodeResourceNotFound, err.Error())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return protocol.NewRPCError(req.ID, protocol.CodeResourceNotFound, fmt.Sprintf("resource not found: %s", params.URI))
	}
	return protocol.NewRPCResult(req.ID, resourcesReadResult{
		Contents: []resourceContent{{URI: params.URI, MimeType: "text/plain", Text: string(data)}},
	})
}

func (r *Responder) resolveResource(uri string) (string, error) {
	u := strings.TrimSpace(uri)
	if r.root == "" {
		return "", errors.New("no workspace root configured")
	}
	if !strings.HasPrefix(u, resourceScheme) {
		return "", fmt.Errorf("unsupported resource uri: %s", u)
	}
	rel := strings.TrimPrefix(u, resourceScheme)
	if rel == "" {
		return "", errors.New("resource uri names no file")
	}
	clean := filepath.Clean(rel)
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("resource escapes workspace: %s", u)
	}
	return filepath.Join(r.root, clean), nil
}

// Announce builds the registration frame sent right after transport
// open so the peer can route tool calls without a discovery round trip.
func (r *Responder) Announce() ([]byte, error) {
	defs := r.registry.List()
	tools := make([]toolDescription, 0, len(defs))
	for _, def := range defs {
		tools = append(tools, toolDescription{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	payload, err := json.Marshal(registerToolsPayload{Tools: tools})
	if err != nil {
		return nil, fmt.Errorf("encode tool registration: %w", err)
	}
	frame := map[string]any{
		"type": string(protocol.TypeRegisterTools),
		"data": json.RawMessage(payload),
	}
	return json.Marshal(frame)
}

func (r *Responder) encode(resp protocol.RPCResponse) []byte {
	raw, err := json.Marshal(resp)
	if err != nil {
		// Response shapes are all marshalable; failure here is a
		// programming error.
		r.logger.Error("encode rpc response failed", "error", err)
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32603,"message":"internal error"}}`)
	}
	return raw
}
