// Package sandboxrun exposes sandbox.Runner as a tool an agent can call to
// execute a proof-of-concept snippet and observe its real behavior, rather
// than reasoning about it from source alone.
package sandboxrun

import (
	"context"
	"fmt"
	"time"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/sandbox"
	"github.com/codeready-toolchain/secaudit/pkg/tool"
)

const schema = `{
	"type": "object",
	"properties": {
		"language": {"type": "string", "enum": ["python", "nodejs", "javascript", "go", "bash", "shell", "php", "java", "ruby"]},
		"code": {"type": "string", "description": "entrypoint source to execute"},
		"files": {"type": "object", "additionalProperties": {"type": "string"}, "description": "extra filename -> content"},
		"timeout_seconds": {"type": "integer", "minimum": 1, "maximum": 120}
	},
	"required": ["language", "code"]
}`

// Runner executes a sandbox.Spec; sandbox.Runner satisfies this directly,
// and tests substitute a fake to avoid requiring a Docker daemon.
type Runner interface {
	Run(ctx context.Context, spec sandbox.Spec) (sandbox.Result, error)
}

// Tool runs a proof-of-concept snippet in an isolated container and reports
// its stdout, stderr, and exit code.
type Tool struct {
	runner Runner
}

// New wraps an already-connected sandbox runner as a tool.Tool.
func New(runner Runner) *Tool {
	return &Tool{runner: runner}
}

func (t *Tool) Name() string        { return "sandboxrun.execute" }
func (t *Tool) Description() string { return "Execute a short proof-of-concept snippet in an isolated, network-disabled container and report stdout/stderr/exit code." }
func (t *Tool) Schema() string      { return schema }

func (t *Tool) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	language, _ := args["language"].(string)
	code, _ := args["code"].(string)
	if language == "" || code == "" {
		err := apperr.New(apperr.KindToolInputInvalid, "sandboxrun.execute requires language and code", nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	spec := sandbox.Spec{
		Language: sandbox.NormalizeLanguage(language),
		Code:     code,
	}
	if files, ok := args["files"].(map[string]any); ok {
		spec.Files = make(map[string]string, len(files))
		for name, content := range files {
			if s, ok := content.(string); ok {
				spec.Files[name] = s
			}
		}
	}
	if seconds, ok := args["timeout_seconds"].(float64); ok && seconds > 0 {
		spec.Timeout = time.Duration(seconds * float64(time.Second))
	}

	result, err := t.runner.Run(ctx, spec)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	if result.TimedOut {
		return tool.Result{Success: false, Error: "sandbox execution timed out"}, nil
	}

	return tool.Result{
		Success: result.ExitCode == 0,
		Data: map[string]any{
			"stdout":    result.Stdout,
			"stderr":    result.Stderr,
			"exit_code": result.ExitCode,
		},
		Error: errorIfNonZero(result),
	}, nil
}

func errorIfNonZero(r sandbox.Result) string {
	if r.ExitCode == 0 {
		return ""
	}
	return fmt.Sprintf("process exited with status %d", r.ExitCode)
}
