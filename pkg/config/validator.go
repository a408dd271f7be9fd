package config

import (
	"fmt"
	"os"
)

// validate checks cross-field invariants Initialize cannot catch by
// merge-over-defaults alone: the active provider must exist, its API key
// env var must actually be set, and every role's tool allowlist must be
// non-empty.
func validate(cfg *Config) error {
	provider, ok := cfg.LLM.Providers[cfg.LLM.Provider]
	if !ok {
		return NewValidationError("llm", cfg.LLM.Provider, "provider", ErrLLMProviderNotFound)
	}
	if provider.APIKeyEnv == "" {
		return NewValidationError("llm", cfg.LLM.Provider, "api_key_env", ErrMissingRequiredField)
	}
	if os.Getenv(provider.APIKeyEnv) == "" {
		return NewValidationError("llm", cfg.LLM.Provider, provider.APIKeyEnv, fmt.Errorf("%w: environment variable not set", ErrMissingRequiredField))
	}

	for name, rc := range cfg.Roles {
		if len(rc.AllowedTools) == 0 {
			return NewValidationError("role", name, "allowed_tools", ErrMissingRequiredField)
		}
		if rc.MaxIterations <= 0 {
			return NewValidationError("role", name, "max_iterations", fmt.Errorf("%w: must be > 0", ErrInvalidValue))
		}
	}

	return nil
}
