package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/secaudit/pkg/sandbox"
)

type fakeExecer struct {
	lastSpec sandbox.ExecSpec
	result   sandbox.Result
	err      error
}

func (f *fakeExecer) Exec(ctx context.Context, spec sandbox.ExecSpec) (sandbox.Result, error) {
	f.lastSpec = spec
	return f.result, f.err
}

func newTestTool(execer Execer, projectRoot string) *Tool {
	return &Tool{
		ToolName: "scanner.semgrep_scan", ToolDesc: "test scanner",
		Execer: execer, ProjectRoot: projectRoot, ProjectDirName: filepath.Base(projectRoot),
		BuildCommand: func(target string) []string { return []string{"semgrep", "--json", target} },
	}
}

func TestExecuteParsesJSONArrayOutput(t *testing.T) {
	dir := t.TempDir()
	execer := &fakeExecer{result: sandbox.Result{Stdout: `[{"rule":"r1"},{"rule":"r2"}]`, ExitCode: 0}}
	tl := newTestTool(execer, dir)

	result, err := tl.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	data := result.Data.(map[string]any)
	assert.Len(t, data["findings"], 2)
}

func TestExecuteTreatsUnparseableOutputWithoutFaultAsZeroFindings(t *testing.T) {
	dir := t.TempDir()
	execer := &fakeExecer{result: sandbox.Result{Stdout: "no vulnerabilities found\n", ExitCode: 0}}
	tl := newTestTool(execer, dir)

	result, err := tl.Execute(context.Background(), map[string]any{})
	require.NoError(t, err)
	assert.True(t, result.Success)
	data := result.Data.(map[string]any)
	assert.Empty(t, data["findings"])
}

func TestExecuteReportsFaultFromStderr(t *testing.T) {
	dir := t.TempDir()
	execer := &fakeExecer{result: sandbox.Result{Stdout: "not json", Stderr: "bash: semgrep: command not found", ExitCode: 127}}
	tl := newTestTool(execer, dir)

	result, err := tl.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.False(t, result.Success)
}

func TestExecuteReportsTimeout(t *testing.T) {
	dir := t.TempDir()
	execer := &fakeExecer{result: sandbox.Result{TimedOut: true}}
	tl := newTestTool(execer, dir)

	result, err := tl.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.False(t, result.Success)
}

func TestResolveTargetDefaultsToRoot(t *testing.T) {
	dir := t.TempDir()
	resolved, warning, err := ResolveTarget(dir, filepath.Base(dir), "")
	require.NoError(t, err)
	assert.Equal(t, sandbox.ProjectMountPath, resolved)
	assert.Empty(t, warning)
}

func TestResolveTargetRewritesProjectDirNameMistake(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Base(dir)
	resolved, warning, err := ResolveTarget(dir, name, name)
	require.NoError(t, err)
	assert.Equal(t, sandbox.ProjectMountPath, resolved)
	assert.NotEmpty(t, warning)
}

func TestResolveTargetFallsBackWhenMissingOnHost(t *testing.T) {
	dir := t.TempDir()
	resolved, warning, err := ResolveTarget(dir, filepath.Base(dir), "does/not/exist")
	require.NoError(t, err)
	assert.Equal(t, sandbox.ProjectMountPath, resolved)
	assert.NotEmpty(t, warning)
}

func TestResolveTargetAcceptsExistingSubdir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	resolved, warning, err := ResolveTarget(dir, filepath.Base(dir), "sub")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(sandbox.ProjectMountPath, "sub"), resolved)
	assert.Empty(t, warning)
}

func TestResolveTargetRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	_, _, err := ResolveTarget(dir, filepath.Base(dir), "../../etc")
	require.Error(t, err)
}
