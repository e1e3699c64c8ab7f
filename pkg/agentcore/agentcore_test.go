package agentcore

import (
	"context"
	"testing"

	"github.com/agentcore/agentcore/internal/config"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Memory.Vector.Backend = "sqlite"
	cfg.Memory.Vector.Path = ":memory:"
	cfg.Memory.Doc.Path = ":memory:"
	cfg.Sandbox.Enabled = false
	cfg.Sandbox.Backend = "docker"
	cfg.Sandbox.Image = "python:3.12-slim"
	cfg.Agent.MaxToolIterations = 10
	return cfg
}

func TestNewWiresEveryComponent(t *testing.T) {
	ctx := context.Background()
	core, err := New(ctx, testConfig(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer core.Close(ctx)

	if core.Gateway == nil {
		t.Fatal("expected a non-nil Gateway")
	}
	if core.Memory == nil {
		t.Fatal("expected a non-nil Long-Term Memory store")
	}
	if core.Tools == nil {
		t.Fatal("expected a non-nil Tool Registry")
	}
	if core.Sessions == nil {
		t.Fatal("expected a non-nil Sandbox Session Manager")
	}
	if core.Orchestrator == nil {
		t.Fatal("expected a non-nil Orchestrator")
	}
}

func TestNewSkipsBuiltinToolsWhenSandboxDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Sandbox.Enabled = false
	core, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer core.Close(ctx)

	if _, ok := core.Tools.Get("shell_exec"); ok {
		t.Fatal("expected shell_exec to be unregistered when sandbox is disabled")
	}
}

func TestNewRegistersBuiltinToolsWhenSandboxEnabled(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.Sandbox.Enabled = true
	cfg.Sandbox.WorkspaceRoot = t.TempDir()
	core, err := New(ctx, cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer core.Close(ctx)

	for _, name := range []string{"shell_exec", "execute_python", "read_file", "write_file"} {
		if _, ok := core.Tools.Get(name); !ok {
			t.Fatalf("expected tool %q to be registered", name)
		}
	}
}
