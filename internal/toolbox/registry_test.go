package toolbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

type echoTool struct {
	name string
	err  error
}

func (t *echoTool) Name() string { return t.name }

func (t *echoTool) Definition() Definition {
	return Definition{Name: t.name, Description: "echoes input"}
}

func (t *echoTool) Execute(_ context.Context, input json.RawMessage) (string, error) {
	if t.err != nil {
		return "", t.err
	}
	return string(input), nil
}

func TestRegistry_RegisterAndExecute(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&echoTool{name: "echo"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}

	out, err := reg.Execute(context.Background(), "echo", json.RawMessage(`{"a":1}`))
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if out != `{"a":1}` {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestRegistry_DuplicateNameRejected(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register(&echoTool{name: "echo"}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	if err := reg.Register(&echoTool{name: "echo"}); err == nil {
		t.Fatal("duplicate registration should fail")
	}
}

func TestRegistry_ExecuteUnknownTool(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Execute(context.Background(), "missing", nil)
	if !errors.Is(err, ErrToolNotFound) {
		t.Fatalf("expected ErrToolNotFound, got: %v", err)
	}
}

func TestRegistry_ToolFailurePassesThrough(t *testing.T) {
	reg := NewRegistry()
	boom := errors.New("boom")
	if err := reg.Register(&echoTool{name: "fail", err: boom}); err != nil {
		t.Fatalf("register failed: %v", err)
	}
	_, err := reg.Execute(context.Background(), "fail", nil)
	if !errors.Is(err, boom) {
		t.Fatalf("expected tool error, got: %v", err)
	}
	if errors.Is(err, ErrToolNotFound) {
		t.Fatal("tool failure must not look like a missing tool")
	}
}

func TestRegistry_ListSortedByName(t *testing.T) {
	reg := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := reg.Register(&echoTool{name: name}); err != nil {
			t.Fatalf("register failed: %v", err)
		}
	}
	defs := reg.List()
	if len(defs) != 3 {
		t.Fatalf("unexpected count: %d", len(defs))
	}
	if defs[0].Name != "alpha" || defs[1].Name != "mid" || defs[2].Name != "zeta" {
		t.Fatalf("unexpected order: %+v", defs)
	}
}
