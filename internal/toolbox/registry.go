package toolbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

// ErrToolNotFound reports an Execute against an unregistered name. The
// tunnel maps it to its own error code; everything else a tool returns is a
// tool-internal failure.
var ErrToolNotFound = errors.New("tool not found")

// Definition describes a tool in the shape the tunnel advertises.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type Tool interface {
	Name() string
	Definition() Definition
	Execute(ctx context.Context, input json.RawMessage) (string, error)
}

type Registry struct {
	mu     sync.RWMutex
	byName map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{byName: map[string]Tool{}}
}

func (r *Registry) Register(tool Tool) error {
	if r == nil {
		return errors.New("registry is nil")
	}
	if tool == nil {
		return errors.New("tool is nil")
	}
	name := strings.TrimSpace(tool.Name())
	if name == "" {
		return errors.New("tool name is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.byName[name] = tool
	return nil
}

func (r *Registry) Get(name string) (Tool, bool) {
	if r == nil {
		return nil, false
	}
	name = strings.TrimSpace(name)
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.byName[name]
	return tool, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// List returns definitions sorted by name for stable advertisement.
func (r *Registry) List() []Definition {
	if r == nil {
		return []Definition{}
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make([]Definition, 0, len(names))
	for _, name := range names {
		out = append(out, r.byName[name].Definition())
	}
	return out
}

// Execute resolves a tool by name and runs it. Unknown names return
// ErrToolNotFound; any other error is the tool's own failure.
func (r *Registry) Execute(ctx context.Context, name string, input json.RawMessage) (string, error) {
	tool, ok := r.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool.Execute(ctx, input)
}
