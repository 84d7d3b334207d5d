package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"workforce/internal/config"
)

func TestDefaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":8765" {
		t.Fatalf("http_addr = %q", cfg.HTTPAddr)
	}
	if cfg.DefaultAutonomyMode != "advisory" {
		t.Fatalf("default_autonomy_mode = %q", cfg.DefaultAutonomyMode)
	}
	if cfg.RouterActor != "jarvis" {
		t.Fatalf("router_actor = %q", cfg.RouterActor)
	}
	if !cfg.ApprovalRequiredForDone {
		t.Fatal("approval_required_for_done should default on")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WORKFORCE_HTTP_ADDR", ":9000")
	t.Setenv("WORKFORCE_ROUTER_ACTOR", "dispatch")
	t.Setenv("WORKFORCE_HUMAN_APPROVERS", "alice, bob")
	t.Setenv("WORKFORCE_LOG_LEVEL", "debug")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":9000" {
		t.Fatalf("http_addr = %q", cfg.HTTPAddr)
	}
	if cfg.RouterActor != "dispatch" {
		t.Fatalf("router_actor = %q", cfg.RouterActor)
	}
	if len(cfg.HumanApprovers) != 2 || cfg.HumanApprovers[0] != "alice" || cfg.HumanApprovers[1] != "bob" {
		t.Fatalf("human_approvers = %v", cfg.HumanApprovers)
	}
	if cfg.LogLevel != "debug" {
		t.Fatalf("log_level = %q", cfg.LogLevel)
	}
}

func TestInvalidModeRejected(t *testing.T) {
	t.Setenv("WORKFORCE_DEFAULT_AUTONOMY_MODE", "yolo")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected validation error for unknown autonomy mode")
	}
}

func TestInvalidLogLevelRejected(t *testing.T) {
	t.Setenv("WORKFORCE_LOG_LEVEL", "verbose")
	if _, err := config.Load(); err == nil {
		t.Fatal("expected validation error for unknown log level")
	}
}

func TestLoadAgentSeeds(t *testing.T) {
	dir := t.TempDir()
	seeds, err := config.LoadAgentSeeds(dir)
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if seeds != nil {
		t.Fatalf("seeds = %v, want nil", seeds)
	}

	doc := `agents:
  - name: Data Scout
    role: researcher
    capabilities: [research, summarize]
  - name: Reviewer
    role: qa
`
	if err := os.WriteFile(filepath.Join(dir, "agents.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	seeds, err = config.LoadAgentSeeds(dir)
	if err != nil {
		t.Fatalf("load seeds: %v", err)
	}
	if len(seeds) != 2 {
		t.Fatalf("seeds = %d, want 2", len(seeds))
	}
	if seeds[0].Name != "Data Scout" || seeds[0].Role != "researcher" {
		t.Fatalf("first seed = %+v", seeds[0])
	}
	if len(seeds[0].Capabilities) != 2 {
		t.Fatalf("capabilities = %v", seeds[0].Capabilities)
	}
}

func TestAgentSeedsRequireNameAndRole(t *testing.T) {
	dir := t.TempDir()
	doc := `agents:
  - role: qa
`
	if err := os.WriteFile(filepath.Join(dir, "agents.yaml"), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := config.LoadAgentSeeds(dir); err == nil {
		t.Fatal("expected error for seed without name")
	}
}
