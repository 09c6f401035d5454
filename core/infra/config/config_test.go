package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BLACKBOARD_CONFIG", "")
	t.Setenv("REDIS_URL", "")
	cfg := Load()
	if cfg.RedisURL != defaultRedisURL {
		t.Fatalf("unexpected redis url %q", cfg.RedisURL)
	}
	if cfg.WorkflowDir != defaultWorkflowDir || cfg.HTTPAddr != defaultHTTPAddr {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ClipboardTTL != defaultClipboardTTL {
		t.Fatalf("expected default ttl, got %d", cfg.ClipboardTTL)
	}
	if cfg.ReconcileInterval != defaultReconcileInterval {
		t.Fatalf("expected default reconcile interval, got %s", cfg.ReconcileInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://cache:6380")
	t.Setenv("NATS_URL", " nats://bus:4222 ")
	t.Setenv("SERVER_TIMEZONE", "Australia/Adelaide")
	t.Setenv("CLIPBOARD_TTL", "4")
	t.Setenv("STRICT_STEP_ORDERING", "true")
	t.Setenv("RECONCILE_INTERVAL", "5s")

	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RedisURL != "redis://cache:6380" || cfg.NatsURL != "nats://bus:4222" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.Timezone != "Australia/Adelaide" || cfg.ClipboardTTL != 4 || !cfg.StrictStepOrdering {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.ReconcileInterval != 5*time.Second {
		t.Fatalf("unexpected interval %s", cfg.ReconcileInterval)
	}
}

func TestLoadFileLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "blackboard.yaml")
	body := "workflow_dir: /srv/workflows\nllm_model: qwen2.5\nclipboard_token_budget: 2048\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("LLM_MODEL", "override")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WorkflowDir != "/srv/workflows" || cfg.ClipboardTokenBudget != 2048 {
		t.Fatalf("file values not applied: %+v", cfg)
	}
	if cfg.LLMModel != "override" {
		t.Fatalf("env should win over file, got %q", cfg.LLMModel)
	}
	if cfg.ConfigFile != path {
		t.Fatalf("expected config file recorded")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestValidateTimezone(t *testing.T) {
	cfg := &Config{RedisURL: defaultRedisURL, Timezone: "Mars/Olympus"}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid timezone error")
	}
}

func TestLoadSandboxDirIsAbsolute(t *testing.T) {
	t.Setenv("SANDBOX_DIR", "")
	cfg, err := LoadFile("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	wd, _ := os.Getwd()
	if cfg.SandboxDir != filepath.Join(wd, defaultSandboxDir) {
		t.Fatalf("unexpected default sandbox dir %q", cfg.SandboxDir)
	}

	t.Setenv("SANDBOX_DIR", "/srv/sandbox/../shared")
	cfg, err = LoadFile("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SandboxDir != "/srv/shared" {
		t.Fatalf("unexpected sandbox dir %q", cfg.SandboxDir)
	}
}
