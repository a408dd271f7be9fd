// Package config loads the security auditor's hierarchical configuration:
// a YAML file (secaudit.yaml) describing LLM providers, per-role agent
// settings, tool permissions, sandbox limits and rate limits, with
// environment-variable expansion and built-in defaults for anything the
// file omits. Loading runs as one load -> expand -> merge -> validate
// pipeline so a broken file fails at startup, not mid-investigation.
package config

import (
	"time"
)

// Config is the umbrella object returned by Initialize and threaded
// through cmd/secauditd.
type Config struct {
	configDir string

	Server    ServerConfig
	LLM       LLMConfig
	Sandbox   SandboxConfig
	Semantic  SemanticConfig
	Telemetry TelemetryConfig
	RateLimits RateLimitConfig
	Roles    map[string]RoleConfig
}

// ServerConfig configures the HTTP/websocket control surface (pkg/api).
type ServerConfig struct {
	HTTPPort         string   `yaml:"http_port"`
	GinMode          string   `yaml:"gin_mode"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins"`
}

// LLMProviderConfig describes one configured LLM backend.
type LLMProviderConfig struct {
	Type      string `yaml:"type"` // "anthropic" | "openai"
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url,omitempty"`
	Model     string `yaml:"model"`
	MaxTokens int64  `yaml:"max_tokens,omitempty"`
}

// LLMConfig selects and configures the active LLM provider.
type LLMConfig struct {
	Provider  string                       `yaml:"provider"` // key into Providers
	Providers map[string]LLMProviderConfig `yaml:"providers"`
}

// SandboxConfig bounds every sandboxed proof-of-concept run.
type SandboxConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	CPUCores    float64       `yaml:"cpu_cores"`
	MemoryMB    int64         `yaml:"memory_mb"`
	PIDsLimit   int64         `yaml:"pids_limit"`
	AllowNetwork bool         `yaml:"allow_network"`
}

// SemanticConfig points the semantic.* tools (pkg/tool/semantic) at the
// external RAG/vector-index service. Left with an empty BaseURL, the
// tools are simply not registered - they depend on an indexer the
// orchestrator never runs itself, per the external-interfaces design.
type SemanticConfig struct {
	BaseURL string `yaml:"base_url"`
}

// TelemetryConfig points the engine's distributed tracing at an OTLP/gRPC
// collector. An empty Endpoint disables export; spans are still created
// against the global no-op tracer so instrumentation call sites never
// need to branch on whether tracing is configured.
type TelemetryConfig struct {
	Endpoint       string  `yaml:"endpoint"`
	Insecure       bool    `yaml:"insecure"`
	SamplingRatio  float64 `yaml:"sampling_ratio"`
}

// RateLimitConfig tunes the named token-bucket presets in
// pkg/resilience/ratelimit.
type RateLimitConfig struct {
	LLMPerSec       float64 `yaml:"llm_per_sec"`
	LLMBurst        int     `yaml:"llm_burst"`
	ToolPerSec      float64 `yaml:"tool_per_sec"`
	ToolBurst       int     `yaml:"tool_burst"`
}

// RoleConfig tunes one agent role's loop guardrails and tool permissions.
type RoleConfig struct {
	MaxIterations    int           `yaml:"max_iterations"`
	IterationTimeout time.Duration `yaml:"iteration_timeout"`
	AllowedTools     []string      `yaml:"allowed_tools"` // "*" for all registered tools
}

// ConfigDir returns the directory Initialize loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// RoleSettings looks up a role's settings, falling back to the
// "default" entry (or package defaults) when the role has no specific
// override.
func (c *Config) RoleSettings(role string) RoleConfig {
	if rc, ok := c.Roles[role]; ok {
		return rc
	}
	if rc, ok := c.Roles["default"]; ok {
		return rc
	}
	return RoleConfig{MaxIterations: 15, IterationTimeout: 120 * time.Second, AllowedTools: []string{"*"}}
}

// ActiveProvider returns the LLM provider config selected by LLM.Provider.
func (c *Config) ActiveProvider() (LLMProviderConfig, error) {
	p, ok := c.LLM.Providers[c.LLM.Provider]
	if !ok {
		return LLMProviderConfig{}, NewValidationError("llm", c.LLM.Provider, "", ErrLLMProviderNotFound)
	}
	return p, nil
}

// ToolAllowed reports whether a role may call the given "server.tool"
// name, per its AllowedTools list ("*" allows everything).
func (rc RoleConfig) ToolAllowed(name string) bool {
	for _, allowed := range rc.AllowedTools {
		if allowed == "*" || allowed == name {
			return true
		}
	}
	return false
}
