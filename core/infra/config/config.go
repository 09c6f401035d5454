package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultRedisURL          = "redis://localhost:6379"
	defaultWorkflowDir       = "workflows"
	defaultAgentDir          = "agents"
	defaultWorkspaceDir      = "workspaces"
	defaultSandboxDir        = "sandbox"
	defaultHTTPAddr          = ":9093"
	defaultTimezone          = "UTC"
	defaultLLMBaseURL        = "http://localhost:11434/v1"
	defaultLLMModel          = "llama3.1"
	defaultClipboardTTL      = 10
	defaultReconcileInterval = 30 * time.Second

	envConfigFile = "BLACKBOARD_CONFIG"
)

const (
	keyRedisURL          = "redis_url"
	keyNatsURL           = "nats_url"
	keyWorkflowDir       = "workflow_dir"
	keyAgentDir          = "agent_dir"
	keyWorkspaceDir      = "workspace_dir"
	keySandboxDir        = "sandbox_dir"
	keyHTTPAddr          = "http_addr"
	keyTimezone          = "server_timezone"
	keyLLMBaseURL        = "llm_base_url"
	keyLLMAPIKey         = "llm_api_key"
	keyLLMModel          = "llm_model"
	keyClipboardTTL      = "clipboard_ttl"
	keyClipboardBudget   = "clipboard_token_budget"
	keyStrictOrdering    = "strict_step_ordering"
	keyReconcileInterval = "reconcile_interval"
	keyInstanceID        = "instance_id"
)

// Config holds runtime configuration for the engine process.
type Config struct {
	RedisURL     string
	NatsURL      string
	WorkflowDir  string
	AgentDir     string
	WorkspaceDir string
	// SandboxDir roots relative file inputs and schedule base directories.
	// It is always absolute.
	SandboxDir string
	HTTPAddr   string
	Timezone   string

	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	ClipboardTTL         int
	ClipboardTokenBudget int

	StrictStepOrdering bool
	ReconcileInterval  time.Duration
	InstanceID         string

	// ConfigFile is the file the values were layered from, if any.
	ConfigFile string
}

// Load returns configuration using environment variables with sane defaults.
// When BLACKBOARD_CONFIG names a YAML file its values sit between the
// defaults and the environment.
func Load() *Config {
	cfg, err := LoadFile(os.Getenv(envConfigFile))
	if err != nil {
		// An unreadable file should not stop the process; env and defaults still apply.
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		cfg, _ = LoadFile("")
	}
	return cfg
}

// LoadFile is Load with an explicit config file path. Empty path skips the file.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	path = strings.TrimSpace(path)
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	cfg := &Config{
		RedisURL:             v.GetString(keyRedisURL),
		NatsURL:              strings.TrimSpace(v.GetString(keyNatsURL)),
		WorkflowDir:          v.GetString(keyWorkflowDir),
		AgentDir:             v.GetString(keyAgentDir),
		WorkspaceDir:         v.GetString(keyWorkspaceDir),
		SandboxDir:           strings.TrimSpace(v.GetString(keySandboxDir)),
		HTTPAddr:             v.GetString(keyHTTPAddr),
		Timezone:             v.GetString(keyTimezone),
		LLMBaseURL:           v.GetString(keyLLMBaseURL),
		LLMAPIKey:            v.GetString(keyLLMAPIKey),
		LLMModel:             v.GetString(keyLLMModel),
		ClipboardTTL:         v.GetInt(keyClipboardTTL),
		ClipboardTokenBudget: v.GetInt(keyClipboardBudget),
		StrictStepOrdering:   v.GetBool(keyStrictOrdering),
		ReconcileInterval:    v.GetDuration(keyReconcileInterval),
		InstanceID:           v.GetString(keyInstanceID),
		ConfigFile:           path,
	}
	if cfg.SandboxDir == "" {
		cfg.SandboxDir = defaultSandboxDir
	}
	abs, err := filepath.Abs(cfg.SandboxDir)
	if err != nil {
		return nil, fmt.Errorf("resolve sandbox dir: %w", err)
	}
	cfg.SandboxDir = abs
	if cfg.ClipboardTTL <= 0 {
		cfg.ClipboardTTL = defaultClipboardTTL
	}
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = defaultReconcileInterval
	}
	return cfg, nil
}

// Validate reports settings that would fail later at wiring time.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(c.RedisURL) == "" {
		return fmt.Errorf("redis url required")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid server timezone %q: %w", c.Timezone, err)
	}
	if c.ClipboardTokenBudget < 0 {
		return fmt.Errorf("clipboard token budget must be >= 0")
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault(keyRedisURL, defaultRedisURL)
	v.SetDefault(keyNatsURL, "")
	v.SetDefault(keyWorkflowDir, defaultWorkflowDir)
	v.SetDefault(keyAgentDir, defaultAgentDir)
	v.SetDefault(keyWorkspaceDir, defaultWorkspaceDir)
	v.SetDefault(keySandboxDir, defaultSandboxDir)
	v.SetDefault(keyHTTPAddr, defaultHTTPAddr)
	v.SetDefault(keyTimezone, defaultTimezone)
	v.SetDefault(keyLLMBaseURL, defaultLLMBaseURL)
	v.SetDefault(keyLLMAPIKey, "")
	v.SetDefault(keyLLMModel, defaultLLMModel)
	v.SetDefault(keyClipboardTTL, defaultClipboardTTL)
	v.SetDefault(keyClipboardBudget, 0)
	v.SetDefault(keyStrictOrdering, false)
	v.SetDefault(keyReconcileInterval, defaultReconcileInterval.String())
	v.SetDefault(keyInstanceID, "")
	v.AutomaticEnv()
	return v
}
