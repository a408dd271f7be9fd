package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeUsesDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")

	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, "8080", cfg.Server.HTTPPort)
	assert.Equal(t, 15, cfg.RoleSettings("recon").MaxIterations)
}

func TestInitializeMergesUserYAMLOverDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	dir := t.TempDir()
	yamlContent := `
server:
  http_port: "9090"
llm:
  provider: anthropic
roles:
  recon:
    max_iterations: 30
    iteration_timeout: 5m
    allowed_tools: ["fileset.read_file"]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secaudit.yaml"), []byte(yamlContent), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.HTTPPort)
	recon := cfg.RoleSettings("recon")
	assert.Equal(t, 30, recon.MaxIterations)
	assert.Equal(t, 5*time.Minute, recon.IterationTimeout)
	assert.True(t, recon.ToolAllowed("fileset.read_file"))
	assert.False(t, recon.ToolAllowed("sandboxrun.run"))

	// Untouched roles still carry their built-in defaults.
	assert.Equal(t, 10, cfg.RoleSettings("verification").MaxIterations)
}

func TestInitializeExpandsEnvVars(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "test-key")
	t.Setenv("CUSTOM_MODEL", "claude-3-7-sonnet-latest")
	dir := t.TempDir()
	yamlContent := `
llm:
  provider: anthropic
  providers:
    anthropic:
      type: anthropic
      api_key_env: ANTHROPIC_API_KEY
      model: ${CUSTOM_MODEL}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secaudit.yaml"), []byte(yamlContent), 0o644))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	provider, err := cfg.ActiveProvider()
	require.NoError(t, err)
	assert.Equal(t, "claude-3-7-sonnet-latest", provider.Model)
}

func TestInitializeRejectsUnknownProvider(t *testing.T) {
	dir := t.TempDir()
	yamlContent := `
llm:
  provider: does-not-exist
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "secaudit.yaml"), []byte(yamlContent), 0o644))

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
}

func TestRoleSettingsFallsBackToDefault(t *testing.T) {
	cfg := defaultConfig()
	delete(cfg.Roles, "specialist")

	rc := cfg.RoleSettings("specialist")
	assert.Equal(t, cfg.Roles["default"].MaxIterations, rc.MaxIterations)
}

func TestToolAllowedWildcard(t *testing.T) {
	rc := RoleConfig{AllowedTools: []string{"*"}}
	assert.True(t, rc.ToolAllowed("anything.at_all"))
}
