package toolbox

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newWorkspace(t *testing.T) (string, *Registry) {
	t.Helper()
	root := t.TempDir()
	reg := NewRegistry()
	if err := RegisterWorkspaceTools(reg, root); err != nil {
		t.Fatalf("register workspace tools failed: %v", err)
	}
	return root, reg
}

func callTool(t *testing.T, reg *Registry, name string, args any) (string, error) {
	t.Helper()
	raw, err := json.Marshal(args)
	if err != nil {
		t.Fatalf("marshal args failed: %v", err)
	}
	return reg.Execute(context.Background(), name, raw)
}

func TestWriteThenReadFile(t *testing.T) {
	_, reg := newWorkspace(t)

	if _, err := callTool(t, reg, "write_file", map[string]string{
		"path":    "nested/notes.txt",
		"content": "hello workspace",
	}); err != nil {
		t.Fatalf("write_file failed: %v", err)
	}

	out, err := callTool(t, reg, "read_file", map[string]string{"path": "nested/notes.txt"})
	if err != nil {
		t.Fatalf("read_file failed: %v", err)
	}
	if out != "hello workspace" {
		t.Fatalf("unexpected content: %q", out)
	}
}

func TestReadFile_RejectsEscapePaths(t *testing.T) {
	_, reg := newWorkspace(t)
	for _, path := range []string{"../outside.txt", "/etc/passwd"} {
		if _, err := callTool(t, reg, "read_file", map[string]string{"path": path}); err == nil {
			t.Fatalf("path %q should be rejected", path)
		}
	}
}

func TestListFiles(t *testing.T) {
	root, reg := newWorkspace(t)
	if err := os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(root, "sub"), 0o755); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	out, err := callTool(t, reg, "list_files", map[string]string{})
	if err != nil {
		t.Fatalf("list_files failed: %v", err)
	}
	if !strings.Contains(out, "a.txt") || !strings.Contains(out, "sub/") {
		t.Fatalf("unexpected listing: %q", out)
	}
}

func TestSearchText(t *testing.T) {
	root, reg := newWorkspace(t)
	if err := os.WriteFile(filepath.Join(root, "main.go"), []byte("package main\nfunc main() {}\n"), 0o644); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	out, err := callTool(t, reg, "search_text", map[string]string{"pattern": "func main"})
	if err != nil {
		t.Fatalf("search_text failed: %v", err)
	}
	if !strings.Contains(out, "main.go:2") {
		t.Fatalf("unexpected matches: %q", out)
	}

	out, err = callTool(t, reg, "search_text", map[string]string{"pattern": "no such needle"})
	if err != nil {
		t.Fatalf("search_text failed: %v", err)
	}
	if out != "no matches" {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestRunCommand(t *testing.T) {
	_, reg := newWorkspace(t)

	out, err := callTool(t, reg, "run_command", map[string]string{"command": "echo tool-ok"})
	if err != nil {
		t.Fatalf("run_command failed: %v", err)
	}
	if strings.TrimSpace(out) != "tool-ok" {
		t.Fatalf("unexpected output: %q", out)
	}

	if _, err := callTool(t, reg, "run_command", map[string]string{"command": "exit 3"}); err == nil {
		t.Fatal("failing command should return an error")
	}
}
