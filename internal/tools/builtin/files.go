package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agentcore/agentcore/internal/models"
)

const defaultMaxReadBytes = 200_000

// workspaceResolver confines relative paths to a workspace root, ported
// from the teacher's internal/tools/files.Resolver.
type workspaceResolver struct {
	root string
}

func (r workspaceResolver) resolve(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", fmt.Errorf("path must not be empty")
	}
	path = filepath.Clean(path)
	full := path
	if !filepath.IsAbs(full) {
		full = filepath.Join(r.root, full)
	}
	rel, err := filepath.Rel(r.root, full)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace", path)
	}
	return full, nil
}

// ReadFileTool reads a file confined to a workspace root.
type ReadFileTool struct {
	resolver     workspaceResolver
	maxReadBytes int
}

// NewReadFileTool constructs a read_file tool confined to workspace. A
// maxReadBytes of 0 uses defaultMaxReadBytes.
func NewReadFileTool(workspace string, maxReadBytes int) *ReadFileTool {
	if maxReadBytes <= 0 {
		maxReadBytes = defaultMaxReadBytes
	}
	return &ReadFileTool{resolver: workspaceResolver{root: workspace}, maxReadBytes: maxReadBytes}
}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Reads a file's contents, confined to the session workspace."
}

func (t *ReadFileTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "workspace-relative file path"}
		},
		"required": ["path"]
	}`)
}

type readFileArgs struct {
	Path string `json:"path"`
}

func (t *ReadFileTool) Execute(ctx context.Context, args json.RawMessage) (models.ToolResult, error) {
	start := time.Now()
	var a readFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return models.NewToolErrorResult("", fmt.Errorf("invalid arguments: %w", err), time.Since(start)), nil
	}
	resolved, err := t.resolver.resolve(a.Path)
	if err != nil {
		return models.NewToolErrorResult("", err, time.Since(start)), nil
	}
	content, err := os.ReadFile(resolved)
	if err != nil {
		return models.NewToolErrorResult("", err, time.Since(start)), nil
	}
	if len(content) > t.maxReadBytes {
		content = content[:t.maxReadBytes]
	}
	return models.NewToolResult("", string(content), time.Since(start)), nil
}

// WriteFileTool writes a file confined to a workspace root, creating
// parent directories as needed.
type WriteFileTool struct {
	resolver workspaceResolver
}

// NewWriteFileTool constructs a write_file tool confined to workspace.
func NewWriteFileTool(workspace string) *WriteFileTool {
	return &WriteFileTool{resolver: workspaceResolver{root: workspace}}
}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Writes content to a file, confined to the session workspace, creating parent directories as needed."
}

func (t *WriteFileTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"path": {"type": "string", "description": "workspace-relative file path"},
			"content": {"type": "string", "description": "content to write"}
		},
		"required": ["path", "content"]
	}`)
}

type writeFileArgs struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

func (t *WriteFileTool) Execute(ctx context.Context, args json.RawMessage) (models.ToolResult, error) {
	start := time.Now()
	var a writeFileArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return models.NewToolErrorResult("", fmt.Errorf("invalid arguments: %w", err), time.Since(start)), nil
	}
	resolved, err := t.resolver.resolve(a.Path)
	if err != nil {
		return models.NewToolErrorResult("", err, time.Since(start)), nil
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o755); err != nil {
		return models.NewToolErrorResult("", err, time.Since(start)), nil
	}
	if err := os.WriteFile(resolved, []byte(a.Content), 0o644); err != nil {
		return models.NewToolErrorResult("", err, time.Since(start)), nil
	}
	return models.NewToolResult("", fmt.Sprintf("wrote %d bytes to %s", len(a.Content), a.Path), time.Since(start)), nil
}
