package config

import "time"

// defaultConfig is layered under whatever secaudit.yaml provides: any zero
// value left after loading the user file falls back to these settings.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: "8080",
			GinMode:  "debug",
		},
		LLM: LLMConfig{
			Provider: "anthropic",
			Providers: map[string]LLMProviderConfig{
				"anthropic": {
					Type:      "anthropic",
					APIKeyEnv: "ANTHROPIC_API_KEY",
					Model:     "claude-3-5-sonnet-latest",
					MaxTokens: 4096,
				},
				"openai": {
					Type:      "openai",
					APIKeyEnv: "OPENAI_API_KEY",
					Model:     "gpt-4o",
				},
			},
		},
		Sandbox: SandboxConfig{
			Timeout:   60 * time.Second,
			CPUCores:  1,
			MemoryMB:  512,
			PIDsLimit: 64,
		},
		Telemetry: TelemetryConfig{
			SamplingRatio: 1.0,
		},
		RateLimits: RateLimitConfig{
			LLMPerSec:  1.0,
			LLMBurst:   5,
			ToolPerSec: 5.0,
			ToolBurst:  10,
		},
		Roles: map[string]RoleConfig{
			"default": {
				MaxIterations:    15,
				IterationTimeout: 120 * time.Second,
				AllowedTools:     []string{"*"},
			},
			"orchestrator": {
				MaxIterations:    20,
				IterationTimeout: 180 * time.Second,
				AllowedTools:     []string{"*"},
			},
			"recon": {
				MaxIterations:    15,
				IterationTimeout: 120 * time.Second,
				AllowedTools: []string{
					"fileset.read_file", "fileset.list_files", "fileset.search_code",
					"patternmatch.pattern_match",
					"semantic.rag_query", "semantic.security_search", "semantic.function_context",
					"scanner.semgrep_scan", "scanner.gitleaks_scan", "scanner.trufflehog_scan",
					"report.create_vulnerability_report", "agentctl.send_message", "agentctl.wait_for_message",
					"agentctl.think", "agentctl.agent_finish",
				},
			},
			"analysis": {
				MaxIterations:    15,
				IterationTimeout: 120 * time.Second,
				AllowedTools: []string{
					"fileset.read_file", "fileset.list_files", "fileset.search_code",
					"patternmatch.pattern_match",
					"semantic.rag_query", "semantic.security_search", "semantic.function_context",
					"report.create_vulnerability_report", "agentctl.send_message", "agentctl.wait_for_message",
					"agentctl.reflect", "agentctl.agent_finish",
				},
			},
			"verification": {
				MaxIterations:    10,
				IterationTimeout: 120 * time.Second,
				AllowedTools: []string{
					"fileset.read_file", "sandboxrun.execute",
					"sandboxrun.sandbox_exec", "sandboxrun.sandbox_http",
					"sandboxrun.php_test", "sandboxrun.python_test", "sandboxrun.javascript_test",
					"sandboxrun.java_test", "sandboxrun.go_test", "sandboxrun.ruby_test",
					"sandboxrun.shell_test",
					"vulntest.test_command_injection", "vulntest.test_sql_injection", "vulntest.test_xss",
					"vulntest.test_path_traversal", "vulntest.test_ssti", "vulntest.test_deserialization",
					"vulntest.universal_vuln_test",
					"report.create_vulnerability_report", "agentctl.send_message", "agentctl.wait_for_message",
					"agentctl.agent_finish",
				},
			},
			"specialist": {
				MaxIterations:    15,
				IterationTimeout: 120 * time.Second,
				AllowedTools:     []string{"*"},
			},
		},
	}
}
