package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeTempConfig(t, `
gateway:
  default_provider: anthropic
  providers:
    anthropic:
      api_key: test-key
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPPort != 8080 {
		t.Fatalf("expected default http_port 8080, got %d", cfg.Server.HTTPPort)
	}
	if cfg.Sandbox.Backend != "docker" {
		t.Fatalf("expected default sandbox backend docker, got %q", cfg.Sandbox.Backend)
	}
	if cfg.Session.MaxSessionsPerUser != 5 {
		t.Fatalf("expected default max_sessions_per_user 5, got %d", cfg.Session.MaxSessionsPerUser)
	}
	if cfg.Session.AllowSessionReuse == nil || !*cfg.Session.AllowSessionReuse {
		t.Fatal("expected allow_session_reuse to default true")
	}
	if cfg.Agent.MaxToolIterations != 10 {
		t.Fatalf("expected default max_tool_iterations 10, got %d", cfg.Agent.MaxToolIterations)
	}
	if cfg.Memory.Vector.Backend != "sqlite" {
		t.Fatalf("expected default vector backend sqlite, got %q", cfg.Memory.Vector.Backend)
	}
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_ANTHROPIC_KEY", "env-secret")
	path := writeTempConfig(t, `
gateway:
  providers:
    anthropic:
      api_key: ${TEST_ANTHROPIC_KEY}
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.Providers["anthropic"].APIKey != "env-secret" {
		t.Fatalf("expected expanded env var, got %q", cfg.Gateway.Providers["anthropic"].APIKey)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	includedPath := filepath.Join(dir, "sandbox.yaml")
	if err := os.WriteFile(includedPath, []byte("sandbox:\n  image: custom:latest\n"), 0o644); err != nil {
		t.Fatalf("write include: %v", err)
	}
	mainPath := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(mainPath, []byte("$include: sandbox.yaml\nserver:\n  http_port: 9001\n"), 0o644); err != nil {
		t.Fatalf("write main: %v", err)
	}

	cfg, err := Load(mainPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Sandbox.Image != "custom:latest" {
		t.Fatalf("expected included sandbox.image, got %q", cfg.Sandbox.Image)
	}
	if cfg.Server.HTTPPort != 9001 {
		t.Fatalf("expected main config's http_port to win, got %d", cfg.Server.HTTPPort)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeTempConfig(t, "totally_unknown_field: true\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected strict decoding to reject an unknown top-level field")
	}
}

func TestLoadRejectsInvalidVectorBackend(t *testing.T) {
	path := writeTempConfig(t, "memory:\n  vector:\n    backend: dynamodb\n")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error for unsupported vector backend")
	}
	if _, ok := err.(*ConfigValidationError); !ok {
		t.Fatalf("expected *ConfigValidationError, got %T", err)
	}
}

func TestLoadRejectsPgvectorWithoutDSN(t *testing.T) {
	path := writeTempConfig(t, "memory:\n  vector:\n    backend: pgvector\n")
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error for pgvector backend without a dsn")
	}
}
