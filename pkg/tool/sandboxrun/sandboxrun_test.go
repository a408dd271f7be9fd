package sandboxrun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/secaudit/pkg/sandbox"
)

type fakeRunner struct {
	lastSpec sandbox.Spec
	result   sandbox.Result
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, spec sandbox.Spec) (sandbox.Result, error) {
	f.lastSpec = spec
	return f.result, f.err
}

func TestExecuteRejectsMissingFields(t *testing.T) {
	tl := New(&fakeRunner{})
	result, err := tl.Execute(context.Background(), map[string]any{"language": "python"})
	require.Error(t, err)
	assert.False(t, result.Success)
}

func TestExecuteReturnsSuccessOnZeroExit(t *testing.T) {
	runner := &fakeRunner{result: sandbox.Result{Stdout: "ok\n", ExitCode: 0}}
	tl := New(runner)

	result, err := tl.Execute(context.Background(), map[string]any{
		"language": "python",
		"code":     "print('ok')",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, sandbox.LanguagePython, runner.lastSpec.Language)
}

func TestExecuteReportsNonZeroExit(t *testing.T) {
	runner := &fakeRunner{result: sandbox.Result{Stderr: "boom", ExitCode: 1}}
	tl := New(runner)

	result, err := tl.Execute(context.Background(), map[string]any{
		"language": "bash",
		"code":     "exit 1",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "status 1")
}

func TestExecutePropagatesFilesAndTimeout(t *testing.T) {
	runner := &fakeRunner{result: sandbox.Result{ExitCode: 0}}
	tl := New(runner)

	_, err := tl.Execute(context.Background(), map[string]any{
		"language":        "nodejs",
		"code":            "require('./helper')",
		"files":           map[string]any{"helper.js": "module.exports = 1"},
		"timeout_seconds": float64(5),
	})
	require.NoError(t, err)
	assert.Equal(t, "module.exports = 1", runner.lastSpec.Files["helper.js"])
	assert.Equal(t, int64(5), int64(runner.lastSpec.Timeout.Seconds()))
}

func TestExecuteReportsTimeout(t *testing.T) {
	runner := &fakeRunner{result: sandbox.Result{TimedOut: true}}
	tl := New(runner)

	result, err := tl.Execute(context.Background(), map[string]any{
		"language": "python",
		"code":     "while True: pass",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "timed out")
}
