// Package sandboxexec implements the Sandbox Executor (C10): a stateless
// Docker mode (one container per call) and a session mode (one long-lived
// container reused across calls via docker exec), grounded on the
// teacher's internal/tools/sandbox/executor.go Docker invocation shape.
package sandboxexec

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/agentcore/agentcore/internal/models"
)

// ResourceConfig bounds a single execution.
type ResourceConfig struct {
	MemoryLimitMB int
	CPULimit      float64
	Timeout       time.Duration
	NetworkOff    bool
	Workspace     string // host path mounted at ContainerWorkspace
}

func (c ResourceConfig) withDefaults() ResourceConfig {
	if c.MemoryLimitMB == 0 {
		c.MemoryLimitMB = 512
	}
	if c.CPULimit == 0 {
		c.CPULimit = 1.0
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	return c
}

const ContainerWorkspace = "/workspace"

// ExecutionResult is the outcome of one executed command.
type ExecutionResult struct {
	Success    bool
	Stdout     string
	Stderr     string
	ExitCode   int
	DurationMS int64
	Error      string
}

// Executor runs Python/shell code in an isolated environment. Both modes
// implement the same capability so the Turn Orchestrator sees only an
// opaque Executor.
type Executor interface {
	ExecutePython(ctx context.Context, code string, cfg ResourceConfig) (ExecutionResult, error)
	ExecuteShell(ctx context.Context, cmd string, cfg ResourceConfig) (ExecutionResult, error)
	Close() error
}

// StatelessDocker spawns a fresh `docker run --rm` per call.
type StatelessDocker struct {
	Image string
}

// NewStatelessDocker constructs a stateless Docker executor using the given
// image (e.g. "python:3.12-slim").
func NewStatelessDocker(image string) *StatelessDocker {
	return &StatelessDocker{Image: image}
}

func (d *StatelessDocker) ExecutePython(ctx context.Context, code string, cfg ResourceConfig) (ExecutionResult, error) {
	return d.run(ctx, []string{"python3", "-c", code}, cfg)
}

func (d *StatelessDocker) ExecuteShell(ctx context.Context, cmd string, cfg ResourceConfig) (ExecutionResult, error) {
	return d.run(ctx, []string{"sh", "-c", cmd}, cfg)
}

func (d *StatelessDocker) run(ctx context.Context, command []string, cfg ResourceConfig) (ExecutionResult, error) {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	args := []string{
		"run", "--rm",
		"--memory", strconv.Itoa(cfg.MemoryLimitMB) + "m",
		"--cpus", strconv.FormatFloat(cfg.CPULimit, 'f', 2, 64),
		"--read-only",
		"--tmpfs", "/tmp",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
	}
	if cfg.NetworkOff {
		args = append(args, "--network", "none")
	}
	if cfg.Workspace != "" {
		args = append(args, "-v", cfg.Workspace+":"+ContainerWorkspace)
	}
	args = append(args, d.Image)
	// The command is wrapped once by sh -c here; callers must not
	// pre-wrap their own command in another shell invocation.
	args = append(args, "sh", "-c", strings.Join(shellQuoteAll(command), " "))

	return runDocker(ctx, args, cfg.Timeout)
}

func (d *StatelessDocker) Close() error { return nil }

// SessionDocker starts one detached container and reuses it across calls
// via docker exec.
type SessionDocker struct {
	Image        string
	containerID  string
	lastActivity time.Time
	maxIdle      time.Duration
}

// NewSessionDocker starts a detached `tail -f /dev/null` container.
func NewSessionDocker(ctx context.Context, image string, cfg ResourceConfig, maxIdle time.Duration) (*SessionDocker, error) {
	cfg = cfg.withDefaults()
	args := []string{
		"run", "-d",
		"--memory", strconv.Itoa(cfg.MemoryLimitMB) + "m",
		"--cpus", strconv.FormatFloat(cfg.CPULimit, 'f', 2, 64),
	}
	if cfg.NetworkOff {
		args = append(args, "--network", "none")
	}
	if cfg.Workspace != "" {
		args = append(args, "-v", cfg.Workspace+":"+ContainerWorkspace)
	}
	args = append(args, image, "tail", "-f", "/dev/null")

	out, err := exec.CommandContext(ctx, "docker", args...).Output()
	if err != nil {
		return nil, models.NewError(models.KindExecutionTimeout, "failed to start session container", err)
	}
	return &SessionDocker{
		Image:        image,
		containerID:  strings.TrimSpace(string(out)),
		lastActivity: time.Now(),
		maxIdle:      maxIdle,
	}, nil
}

func (s *SessionDocker) ExecutePython(ctx context.Context, code string, cfg ResourceConfig) (ExecutionResult, error) {
	return s.exec(ctx, []string{"python3", "-c", code}, cfg)
}

func (s *SessionDocker) ExecuteShell(ctx context.Context, cmd string, cfg ResourceConfig) (ExecutionResult, error) {
	return s.exec(ctx, []string{"sh", "-c", cmd}, cfg)
}

func (s *SessionDocker) exec(ctx context.Context, command []string, cfg ResourceConfig) (ExecutionResult, error) {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	args := append([]string{"exec", s.containerID}, command...)
	result, err := runDocker(ctx, args, cfg.Timeout)
	s.lastActivity = time.Now()
	return result, err
}

// IsExpired reports whether the session has been idle beyond maxIdle.
func (s *SessionDocker) IsExpired() bool {
	if s.maxIdle <= 0 {
		return false
	}
	return time.Since(s.lastActivity) > s.maxIdle
}

func (s *SessionDocker) Close() error {
	return exec.Command("docker", "rm", "-f", s.containerID).Run()
}

func runDocker(ctx context.Context, args []string, timeout time.Duration) (ExecutionResult, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if ctx.Err() == context.DeadlineExceeded {
		return ExecutionResult{
			Success:    false,
			ExitCode:   -1,
			DurationMS: elapsed.Milliseconds(),
			Error:      fmt.Sprintf("Execution timed out after %ds", int(timeout.Seconds())),
		}, models.NewError(models.KindExecutionTimeout, "sandbox execution timed out", err)
	}

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	return ExecutionResult{
		Success:    err == nil,
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
		ExitCode:   exitCode,
		DurationMS: elapsed.Milliseconds(),
	}, nil
}

func shellQuoteAll(parts []string) []string {
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = "'" + strings.ReplaceAll(p, "'", `'\''`) + "'"
	}
	return out
}
