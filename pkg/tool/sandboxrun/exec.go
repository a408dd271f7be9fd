package sandboxrun

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/sandbox"
	"github.com/codeready-toolchain/secaudit/pkg/tool"
)

// Execer runs an arbitrary command inside the sandbox substrate;
// sandbox.Runner satisfies this directly, and tests substitute a fake to
// avoid requiring a Docker daemon.
type Execer interface {
	Exec(ctx context.Context, spec sandbox.ExecSpec) (sandbox.Result, error)
}

// allowedCommands is the prefix allowlist for sandbox_exec. Broad on
// purpose: the container itself is the isolation boundary, this list only
// keeps the model from wandering into package managers and daemons.
var allowedCommands = []string{
	// interpreters and compilers
	"python", "python3", "node", "php", "ruby", "perl",
	"go", "java", "javac", "bash", "sh",
	// network probes
	"curl", "wget", "nc", "netcat",
	// file inspection
	"cat", "head", "tail", "grep", "find", "ls", "wc",
	"sed", "awk", "cut", "sort", "uniq", "tr", "xargs",
	// environment probes, useful for proving command execution
	"echo", "printf", "test", "id", "whoami", "uname",
	"env", "printenv", "pwd", "hostname",
	// encoders
	"base64", "xxd", "od", "hexdump",
	// misc
	"timeout", "time", "sleep", "true", "false",
	"md5sum", "sha256sum", "strings",
}

// SandboxExec runs a shell command in an isolated container with the
// project mounted read-only, for proving command execution, inspecting
// files with real tooling, or driving a proof of concept step by step.
type SandboxExec struct {
	Execer      Execer
	ProjectRoot string // host path bind-mounted read-only in the container
}

func (t *SandboxExec) Name() string { return "sandboxrun.sandbox_exec" }
func (t *SandboxExec) Description() string {
	return "Execute a shell command in an isolated, network-disabled container with the project mounted read-only. " +
		"Only a fixed allowlist of command prefixes is accepted."
}
func (t *SandboxExec) Schema() string {
	return `{"type":"object","properties":{"command":{"type":"string","description":"shell command to run"},"timeout_seconds":{"type":"integer","minimum":1,"maximum":120}},"required":["command"]}`
}

func (t *SandboxExec) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	command, _ := args["command"].(string)
	command = strings.TrimSpace(command)
	if command == "" {
		err := apperr.New(apperr.KindToolInputInvalid, "sandbox_exec requires a command", nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	base := strings.Fields(command)[0]
	if !commandAllowed(base) {
		sorted := append([]string(nil), allowedCommands...)
		sort.Strings(sorted)
		err := apperr.New(apperr.KindToolInputInvalid,
			fmt.Sprintf("command %q is not allowed; allowed prefixes: %s", base, strings.Join(sorted, ", ")), nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	result, err := t.Execer.Exec(ctx, sandbox.ExecSpec{
		Command:     []string{"sh", "-c", command},
		ProjectRoot: t.ProjectRoot,
		Timeout:     timeoutFrom(args),
	})
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	if result.TimedOut {
		return tool.Result{Success: false, Error: "sandbox command timed out"}, nil
	}

	return tool.Result{
		Success: result.ExitCode == 0,
		Data: map[string]any{
			"stdout":    result.Stdout,
			"stderr":    result.Stderr,
			"exit_code": result.ExitCode,
		},
		Error:    errorIfNonZero(result),
		Metadata: map[string]any{"command": command},
	}, nil
}

func commandAllowed(base string) bool {
	for _, allowed := range allowedCommands {
		if strings.HasPrefix(base, allowed) {
			return true
		}
	}
	return false
}

// curlImage carries a current curl build; the default exec image does not.
const curlImage = "curlimages/curl:8.5.0"

// SandboxHTTP sends one HTTP request from inside the sandbox via curl,
// with bridged networking enabled for just that run. Useful for testing
// injection payloads and auth bypasses against a locally running target.
type SandboxHTTP struct {
	Execer Execer
}

func (t *SandboxHTTP) Name() string { return "sandboxrun.sandbox_http" }
func (t *SandboxHTTP) Description() string {
	return "Send an HTTP request from inside the sandbox (method, url, optional headers and body) and report the status code and response body."
}
func (t *SandboxHTTP) Schema() string {
	return `{"type":"object","properties":{"method":{"type":"string","description":"HTTP method, default GET"},"url":{"type":"string"},"headers":{"type":"object","additionalProperties":{"type":"string"}},"body":{"type":"string"},"timeout_seconds":{"type":"integer","minimum":1,"maximum":120}},"required":["url"]}`
}

func (t *SandboxHTTP) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	url, _ := args["url"].(string)
	if url == "" {
		err := apperr.New(apperr.KindToolInputInvalid, "sandbox_http requires a url", nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	method, _ := args["method"].(string)
	if method == "" {
		method = "GET"
	}

	command := []string{"curl", "-s", "-S", "-w", "\n%{http_code}", "-X", method}
	if headers, ok := args["headers"].(map[string]any); ok {
		keys := make([]string, 0, len(headers))
		for k := range headers {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if v, ok := headers[k].(string); ok {
				command = append(command, "-H", k+": "+v)
			}
		}
	}
	if body, ok := args["body"].(string); ok && body != "" {
		command = append(command, "-d", body)
	}
	command = append(command, url)

	result, err := t.Execer.Exec(ctx, sandbox.ExecSpec{
		Image:        curlImage,
		Command:      command,
		AllowNetwork: true,
		Timeout:      timeoutFrom(args),
	})
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	if result.TimedOut {
		return tool.Result{Success: false, Error: "http request timed out"}, nil
	}

	statusCode, responseBody := splitCurlOutput(result.Stdout)
	return tool.Result{
		Success: result.ExitCode == 0,
		Data: map[string]any{
			"status_code": statusCode,
			"body":        responseBody,
			"stderr":      result.Stderr,
		},
		Error:    errorIfNonZero(result),
		Metadata: map[string]any{"method": method, "url": url, "response_length": len(responseBody)},
	}, nil
}

// splitCurlOutput separates curl's appended "\n%{http_code}" trailer from
// the response body.
func splitCurlOutput(stdout string) (string, string) {
	trimmed := strings.TrimRight(stdout, "\n")
	idx := strings.LastIndexByte(trimmed, '\n')
	if idx < 0 {
		return strings.TrimSpace(trimmed), ""
	}
	return strings.TrimSpace(trimmed[idx+1:]), trimmed[:idx]
}

func timeoutFrom(args map[string]any) time.Duration {
	if seconds, ok := args["timeout_seconds"].(float64); ok && seconds > 0 {
		return time.Duration(seconds * float64(time.Second))
	}
	return 0
}
