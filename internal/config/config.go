// Package config loads and watches the toolgate configuration file.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Mode selects how detected tool calls are executed.
type Mode string

const (
	// ModeAuto executes detected tool calls immediately and loops until the
	// model produces a final answer.
	ModeAuto Mode = "auto"
	// ModeHITL suspends the run and persists an approval request; execution
	// resumes only after an explicit approve call.
	ModeHITL Mode = "hitl"
)

// Config is the top-level configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	LLM     LLMConfig     `yaml:"llm"`
	Agent   AgentConfig   `yaml:"agent"`
	Store   StoreConfig   `yaml:"store"`
	Engine  EngineConfig  `yaml:"engine"`
	Limits  LimitsConfig  `yaml:"limits"`
	Logging LoggingConfig `yaml:"logging"`

	// Profile support: when ActiveProfile names an entry in LLMProfiles,
	// that profile becomes the effective LLM section.
	LLMProfiles   map[string]LLMConfig `yaml:"llm_profiles,omitempty"`
	ActiveProfile string               `yaml:"active_profile,omitempty"`
}

// ServerConfig configures the caller-facing HTTP listener.
type ServerConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Token string `yaml:"token"` // bearer token, empty disables auth
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// LLMConfig configures the model backend.
type LLMConfig struct {
	Provider       string `yaml:"provider"`
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// AgentConfig configures the agent loop.
type AgentConfig struct {
	Name          string     `yaml:"name"`
	Mode          Mode       `yaml:"mode"`
	MaxIterations int        `yaml:"max_iterations"`
	SystemHint    HintConfig `yaml:"system_hint"`
}

// HintConfig is the optional system-prompt hint enumerating tool names.
// The content may use the {tool_names} placeholder.
type HintConfig struct {
	Enabled bool   `yaml:"enabled"`
	Content string `yaml:"content"`
}

// StoreConfig holds sqlite file paths.
type StoreConfig struct {
	ApprovalsPath string `yaml:"approvals_path"`
	DirectoryPath string `yaml:"directory_path"`
}

// EngineConfig configures the session engine and its transports.
type EngineConfig struct {
	QueueSize        int `yaml:"queue_size"`
	KeepAliveSeconds int `yaml:"keepalive_seconds"`
}

// LimitsConfig configures request and tool rate limits.
type LimitsConfig struct {
	RequestsPerMinute  int `yaml:"requests_per_minute"`  // 0 disables
	Burst              int `yaml:"burst"`
	ToolActionsPerHour int `yaml:"tool_actions_per_hour"` // 0 disables
}

// LoggingConfig configures slog.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns a config with all defaults applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads, parses, and normalizes the config file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.resolveProfile()
	cfg.applyDefaults()
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolveProfile copies the active profile over the llm section.
func (c *Config) resolveProfile() {
	if c.ActiveProfile == "" {
		return
	}
	if profile, ok := c.LLMProfiles[c.ActiveProfile]; ok {
		c.LLM = profile
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8100
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "http://127.0.0.1:11434/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "qwen2.5-coder:7b"
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
	}
	if c.LLM.TimeoutSeconds <= 0 {
		c.LLM.TimeoutSeconds = 120
	}
	if c.Agent.Name == "" {
		c.Agent.Name = "toolgate"
	}
	if c.Agent.Mode == "" {
		c.Agent.Mode = ModeHITL
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = 5
	}
	if c.Store.ApprovalsPath == "" {
		c.Store.ApprovalsPath = "toolgate.db"
	}
	if c.Store.DirectoryPath == "" {
		c.Store.DirectoryPath = "directory.db"
	}
	if c.Engine.QueueSize <= 0 {
		c.Engine.QueueSize = 100
	}
	if c.Engine.KeepAliveSeconds <= 0 {
		c.Engine.KeepAliveSeconds = 20
	}
	if c.Limits.Burst <= 0 {
		c.Limits.Burst = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// applyEnv lets secrets come from the environment instead of the file.
func (c *Config) applyEnv() {
	if v := os.Getenv("TOOLGATE_TOKEN"); v != "" {
		c.Server.Token = v
	}
	if v := os.Getenv("TOOLGATE_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
}

func (c *Config) validate() error {
	switch c.Agent.Mode {
	case ModeAuto, ModeHITL:
	default:
		return fmt.Errorf("invalid agent mode %q (want auto or hitl)", c.Agent.Mode)
	}
	if !strings.HasPrefix(c.LLM.BaseURL, "http://") && !strings.HasPrefix(c.LLM.BaseURL, "https://") {
		return fmt.Errorf("llm base_url must be an http(s) URL, got %q", c.LLM.BaseURL)
	}
	return nil
}
