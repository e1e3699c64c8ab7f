// Package builtin implements concrete Tool Registry (C12) tools grounded
// on the teacher's internal/tools/exec and internal/tools/files packages.
// The shell and python tools run through the Sandbox Executor (C10); the
// read/write file tools act directly on a workspace directory on the host.
package builtin

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/agentcore/agentcore/internal/models"
	"github.com/agentcore/agentcore/internal/sandboxexec"
)

// ShellExecTool runs a shell command inside the Sandbox Executor.
type ShellExecTool struct {
	executor sandboxexec.Executor
	limits   sandboxexec.ResourceConfig
}

// NewShellExecTool constructs a shell_exec tool bound to executor, applying
// limits to every invocation.
func NewShellExecTool(executor sandboxexec.Executor, limits sandboxexec.ResourceConfig) *ShellExecTool {
	return &ShellExecTool{executor: executor, limits: limits}
}

func (t *ShellExecTool) Name() string { return "shell_exec" }

func (t *ShellExecTool) Description() string {
	return "Runs a shell command inside the sandboxed execution environment and returns its stdout/stderr."
}

func (t *ShellExecTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"command": {"type": "string", "description": "the shell command to run"}
		},
		"required": ["command"]
	}`)
}

type shellExecArgs struct {
	Command string `json:"command"`
}

func (t *ShellExecTool) Execute(ctx context.Context, args json.RawMessage) (models.ToolResult, error) {
	start := time.Now()
	var a shellExecArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return models.NewToolErrorResult("", fmt.Errorf("invalid arguments: %w", err), time.Since(start)), nil
	}
	result, err := t.executor.ExecuteShell(ctx, a.Command, t.limits)
	if err != nil {
		return models.NewToolErrorResult("", err, time.Since(start)), nil
	}
	if !result.Success {
		return models.NewToolErrorResult("", fmt.Errorf("exit code %d: %s", result.ExitCode, result.Stderr), time.Since(start)), nil
	}
	return models.NewToolResult("", result.Stdout, time.Since(start)), nil
}

// PythonExecTool runs a Python snippet inside the Sandbox Executor.
type PythonExecTool struct {
	executor sandboxexec.Executor
	limits   sandboxexec.ResourceConfig
}

// NewPythonExecTool constructs an execute_python tool bound to executor.
func NewPythonExecTool(executor sandboxexec.Executor, limits sandboxexec.ResourceConfig) *PythonExecTool {
	return &PythonExecTool{executor: executor, limits: limits}
}

func (t *PythonExecTool) Name() string { return "execute_python" }

func (t *PythonExecTool) Description() string {
	return "Runs a Python snippet inside the sandboxed execution environment and returns its stdout/stderr."
}

func (t *PythonExecTool) ParametersSchema() json.RawMessage {
	return json.RawMessage(`{
		"type": "object",
		"properties": {
			"code": {"type": "string", "description": "the Python code to run"}
		},
		"required": ["code"]
	}`)
}

type pythonExecArgs struct {
	Code string `json:"code"`
}

func (t *PythonExecTool) Execute(ctx context.Context, args json.RawMessage) (models.ToolResult, error) {
	start := time.Now()
	var a pythonExecArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return models.NewToolErrorResult("", fmt.Errorf("invalid arguments: %w", err), time.Since(start)), nil
	}
	result, err := t.executor.ExecutePython(ctx, a.Code, t.limits)
	if err != nil {
		return models.NewToolErrorResult("", err, time.Since(start)), nil
	}
	if !result.Success {
		return models.NewToolErrorResult("", fmt.Errorf("exit code %d: %s", result.ExitCode, result.Stderr), time.Since(start)), nil
	}
	return models.NewToolResult("", result.Stdout, time.Since(start)), nil
}
