package toolbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Workspace tools give the remote peer file and command access scoped to one
// local directory. Argument validation is each tool's own responsibility;
// the tunnel passes arguments through untouched.

const (
	maxSearchResults  = 200
	commandTimeout    = 30 * time.Second
	maxCommandOutput  = 64 * 1024
	maxReadFileLength = 1 << 20
)

// RegisterWorkspaceTools registers the built-in tool set over root.
func RegisterWorkspaceTools(reg *Registry, root string) error {
	root = strings.TrimSpace(root)
	if root == "" {
		return errors.New("workspace root is required")
	}
	tools := []Tool{
		&ReadFileTool{Root: root},
		&WriteFileTool{Root: root},
		&ListFilesTool{Root: root},
		&SearchTextTool{Root: root},
		&RunCommandTool{Root: root},
	}
	for _, tool := range tools {
		if err := reg.Register(tool); err != nil {
			return err
		}
	}
	return nil
}

// resolveWorkspacePath joins rel onto root and rejects paths that escape it.
func resolveWorkspacePath(root, rel string) (string, error) {
	rel = strings.TrimSpace(rel)
	if rel == "" {
		return "", errors.New("path is required")
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("path must be workspace-relative: %s", rel)
	}
	joined := filepath.Join(root, rel)
	cleanRoot := filepath.Clean(root)
	if joined != cleanRoot && !strings.HasPrefix(joined, cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return joined, nil
}

type ReadFileTool struct {
	Root string
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Definition() Definition {
	return Definition{
		Name:        t.Name(),
		Description: "Read a workspace-relative text file and return its contents.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
			"required": []string{"path"},
		},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, input json.RawMessage) (string, error) {
	var req struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return "", err
	}
	path, err := resolveWorkspacePath(t.Root, req.Path)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if len(data) > maxReadFileLength {
		data = data[:maxReadFileLength]
	}
	return string(data), nil
}

type WriteFileTool struct {
	Root string
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Definition() Definition {
	return Definition{
		Name:        t.Name(),
		Description: "Write content to a workspace-relative file, creating parent directories.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string"},
			},
			"required": []string{"path", "content"},
		},
	}
}

func (t *WriteFileTool) Execute(_ context.Context, input json.RawMessage) (string, error) {
	var req struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return "", err
	}
	path, err := resolveWorkspacePath(t.Root, req.Path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, []byte(req.Content), 0o644); err != nil {
		return "", err
	}
	return fmt.Sprintf("wrote %d bytes to %s", len(req.Content), req.Path), nil
}

type ListFilesTool struct {
	Root string
}

func (t *ListFilesTool) Name() string { return "list_files" }

func (t *ListFilesTool) Definition() Definition {
	return Definition{
		Name:        t.Name(),
		Description: "List entries of a workspace directory (non-recursive).",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string"},
			},
		},
	}
}

func (t *ListFilesTool) Execute(_ context.Context, input json.RawMessage) (string, error) {
	var req struct {
		Path string `json:"path"`
	}
	if len(input) > 0 {
		if err := json.Unmarshal(input, &req); err != nil {
			return "", err
		}
	}
	dir := filepath.Clean(t.Root)
	if strings.TrimSpace(req.Path) != "" {
		resolved, err := resolveWorkspacePath(t.Root, req.Path)
		if err != nil {
			return "", err
		}
		dir = resolved
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			name += "/"
		}
		lines = append(lines, name)
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n"), nil
}

type SearchTextTool struct {
	Root string
}

func (t *SearchTextTool) Name() string { return "search_text" }

func (t *SearchTextTool) Definition() Definition {
	return Definition{
		Name:        t.Name(),
		Description: "Search workspace files for a substring and return path:line matches.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string"},
				"path":    map[string]any{"type": "string"},
			},
			"required": []string{"pattern"},
		},
	}
}

func (t *SearchTextTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var req struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Pattern) == "" {
		return "", errors.New("pattern is required")
	}
	start := filepath.Clean(t.Root)
	if strings.TrimSpace(req.Path) != "" {
		resolved, err := resolveWorkspacePath(t.Root, req.Path)
		if err != nil {
			return "", err
		}
		start = resolved
	}

	var matches []string
	err := filepath.WalkDir(start, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != start {
				return filepath.SkipDir
			}
			return nil
		}
		if len(matches) >= maxSearchResults {
			return filepath.SkipAll
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil
		}
		rel, relErr := filepath.Rel(t.Root, path)
		if relErr != nil {
			rel = path
		}
		for i, line := range strings.Split(string(data), "\n") {
			if strings.Contains(line, req.Pattern) {
				matches = append(matches, fmt.Sprintf("%s:%d: %s", rel, i+1, strings.TrimSpace(line)))
				if len(matches) >= maxSearchResults {
					break
				}
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "no matches", nil
	}
	return strings.Join(matches, "\n"), nil
}

type RunCommandTool struct {
	Root string
}

func (t *RunCommandTool) Name() string { return "run_command" }

func (t *RunCommandTool) Definition() Definition {
	return Definition{
		Name:        t.Name(),
		Description: "Run a shell command in the workspace root and return combined output.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"command": map[string]any{"type": "string"},
			},
			"required": []string{"command"},
		},
	}
}

func (t *RunCommandTool) Execute(ctx context.Context, input json.RawMessage) (string, error) {
	var req struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(input, &req); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Command) == "" {
		return "", errors.New("command is required")
	}

	runCtx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", req.Command)
	cmd.Dir = t.Root
	out, err := cmd.CombinedOutput()
	if len(out) > maxCommandOutput {
		out = out[:maxCommandOutput]
	}
	if err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(string(out)), err)
	}
	return string(out), nil
}
