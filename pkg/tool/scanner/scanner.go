// Package scanner wraps the external scanner binaries (Semgrep, Bandit,
// Gitleaks, TruffleHog, npm audit, Safety, OSV) as tool.Tool adapters.
// Every scanner runs inside pkg/sandbox against a read-only mount of the
// project root; only its stdout and exit code are trusted (Gitleaks
// writes its report to /dev/stdout). Missing or unparseable JSON
// output is treated as "zero findings" unless stderr clearly indicates a
// fault.
package scanner

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/sandbox"
	"github.com/codeready-toolchain/secaudit/pkg/tool"
)

// Execer runs a command inside the sandbox substrate; sandbox.Runner
// satisfies this directly, tests substitute a fake to avoid a Docker
// daemon dependency.
type Execer interface {
	Exec(ctx context.Context, spec sandbox.ExecSpec) (sandbox.Result, error)
}

// Tool is a generic external-scanner adapter: it resolves the requested
// target against the project-path policy (see ResolveTarget), runs
// BuildCommand inside the sandbox, and treats stdout as a trusted JSON
// (or JSON-lines) report.
type Tool struct {
	ToolName       string // e.g. "scanner.semgrep_scan"
	ToolDesc       string
	Image          string
	BuildCommand   func(target string) []string
	Execer         Execer
	ProjectRoot    string // host path, bind-mounted read-only
	ProjectDirName string // basename of ProjectRoot; LLM-mistake rewrite target
	AllowNetwork   bool   // only scanners that fetch rule sets or vulnerability data opt in (semgrep, osv)
	Timeout        time.Duration
}

func (t *Tool) Name() string        { return t.ToolName }
func (t *Tool) Description() string { return t.ToolDesc }
func (t *Tool) Schema() string {
	return `{"type":"object","properties":{"target":{"type":"string","description":"path within the project to scan; defaults to the project root"}},"required":[]}`
}

func (t *Tool) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	rawTarget, _ := args["target"].(string)
	resolvedTarget, warning, err := ResolveTarget(t.ProjectRoot, t.ProjectDirName, rawTarget)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}

	result, err := t.Execer.Exec(ctx, sandbox.ExecSpec{
		Image:        t.Image,
		Command:      t.BuildCommand(resolvedTarget),
		ProjectRoot:  t.ProjectRoot,
		AllowNetwork: t.AllowNetwork,
		Timeout:      timeout,
	})
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	if result.TimedOut {
		wrapped := apperr.New(apperr.KindToolTimeout, t.ToolName+" timed out", nil)
		return tool.Result{Success: false, Error: wrapped.Error()}, wrapped
	}

	findings, parseErr := parseFindings(result.Stdout)
	meta := map[string]any{"exit_code": result.ExitCode}
	if warning != "" {
		meta["warning"] = warning
	}

	if parseErr != nil {
		if looksLikeFault(result.Stderr) {
			wrapped := apperr.New(apperr.KindToolExternal, t.ToolName+" failed: "+firstLine(result.Stderr), nil)
			return tool.Result{Success: false, Error: wrapped.Error(), Metadata: meta}, wrapped
		}
		// No parseable JSON and nothing in stderr looks like a fault:
		// absence of JSON output means zero findings.
		findings = []any{}
	}

	return tool.Result{
		Success:  true,
		Data:     map[string]any{"findings": findings, "raw_stdout": truncate(result.Stdout, maxRawBytes)},
		Metadata: meta,
	}, nil
}

const maxRawBytes = 64 * 1024

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...[truncated]"
}

// parseFindings accepts either a single JSON document or newline-delimited
// JSON (Gitleaks/TruffleHog both support the latter) and returns a flat
// slice of decoded values.
func parseFindings(stdout string) ([]any, error) {
	trimmed := strings.TrimSpace(stdout)
	if trimmed == "" {
		return nil, apperr.New(apperr.KindToolExecution, "empty scanner output", nil)
	}

	var single any
	if err := json.Unmarshal([]byte(trimmed), &single); err == nil {
		switch v := single.(type) {
		case []any:
			return v, nil
		case map[string]any:
			if results, ok := v["results"].([]any); ok {
				return results, nil
			}
			if vulns, ok := v["vulnerabilities"].([]any); ok {
				return vulns, nil
			}
			return []any{v}, nil
		default:
			return []any{v}, nil
		}
	}

	var lines []any
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var v any
		if err := json.Unmarshal([]byte(line), &v); err != nil {
			return nil, apperr.New(apperr.KindToolExecution, "scanner output is not JSON", err)
		}
		lines = append(lines, v)
	}
	if lines == nil {
		return nil, apperr.New(apperr.KindToolExecution, "scanner output is not JSON", nil)
	}
	return lines, nil
}

func looksLikeFault(stderr string) bool {
	lower := strings.ToLower(stderr)
	for _, marker := range []string{"command not found", "no such file", "permission denied", "panic", "traceback", "fatal"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// ResolveTarget implements the scanner target path policy: try ".",
// else the literal target, else rewrite the common LLM mistake of
// passing the project's own directory name, else fall back to "." with
// a warning when the resolved path doesn't exist on the host. The final
// resolved path is re-checked for existence; a missing path is rejected.
var statFunc = os.Stat

func ResolveTarget(projectRoot, projectDirName, rawTarget string) (resolved string, warning string, err error) {
	target := strings.TrimSpace(rawTarget)
	if target == "" {
		target = "."
	}
	if target == projectDirName && target != "." {
		warning = "target equaled the project directory name; rewritten to \".\""
		target = "."
	}

	if strings.Contains(target, "..") || filepath.IsAbs(target) {
		return "", "", apperr.New(apperr.KindValidationPath, "scan target must be a relative path within the project: "+rawTarget, nil)
	}

	hostPath := filepath.Join(projectRoot, target)
	if _, statErr := statFunc(hostPath); statErr != nil {
		if target != "." {
			warning = "scan target did not exist on host; falling back to project root"
			target = "."
			hostPath = projectRoot
			if _, statErr := statFunc(hostPath); statErr != nil {
				return "", "", apperr.New(apperr.KindValidationInput, "project root does not exist: "+projectRoot, statErr)
			}
		} else {
			return "", "", apperr.New(apperr.KindValidationInput, "project root does not exist: "+projectRoot, statErr)
		}
	}

	containerTarget := sandbox.ProjectMountPath
	if target != "." {
		containerTarget = filepath.Join(sandbox.ProjectMountPath, target)
	}
	return containerTarget, warning, nil
}
