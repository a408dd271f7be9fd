package sandboxrun

import (
	"context"
	"time"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/sandbox"
	"github.com/codeready-toolchain/secaudit/pkg/tool"
)

// LangTest is one language-specific test wrapper: the same run-a-snippet
// behavior as the general execute tool, with the language pinned so the
// model doesn't have to name it (or get it wrong).
type LangTest struct {
	ToolName string
	ToolDesc string
	Language sandbox.Language
	Runner   Runner
}

func (t *LangTest) Name() string        { return t.ToolName }
func (t *LangTest) Description() string { return t.ToolDesc }
func (t *LangTest) Schema() string {
	return `{"type":"object","properties":{"code":{"type":"string","description":"source to execute"},"files":{"type":"object","additionalProperties":{"type":"string"}},"timeout_seconds":{"type":"integer","minimum":1,"maximum":120}},"required":["code"]}`
}

func (t *LangTest) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	code, _ := args["code"].(string)
	if code == "" {
		err := apperr.New(apperr.KindToolInputInvalid, t.ToolName+" requires code", nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	spec := sandbox.Spec{Language: t.Language, Code: code}
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

	result, err := t.Runner.Run(ctx, spec)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	if result.TimedOut {
		return tool.Result{Success: false, Error: t.ToolName + " timed out"}, nil
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

// LangTestPresets returns the per-language test wrappers, one per
// supported sandbox language.
func LangTestPresets(runner Runner) []*LangTest {
	return []*LangTest{
		{ToolName: "sandboxrun.php_test", ToolDesc: "Run a PHP snippet in the sandbox and report stdout/stderr/exit code.", Language: sandbox.LanguagePHP, Runner: runner},
		{ToolName: "sandboxrun.python_test", ToolDesc: "Run a Python snippet in the sandbox and report stdout/stderr/exit code.", Language: sandbox.LanguagePython, Runner: runner},
		{ToolName: "sandboxrun.javascript_test", ToolDesc: "Run a JavaScript (Node.js) snippet in the sandbox and report stdout/stderr/exit code.", Language: sandbox.LanguageNode, Runner: runner},
		{ToolName: "sandboxrun.java_test", ToolDesc: "Run a Java snippet (class Main) in the sandbox and report stdout/stderr/exit code.", Language: sandbox.LanguageJava, Runner: runner},
		{ToolName: "sandboxrun.go_test", ToolDesc: "Run a Go snippet (package main) in the sandbox and report stdout/stderr/exit code.", Language: sandbox.LanguageGo, Runner: runner},
		{ToolName: "sandboxrun.ruby_test", ToolDesc: "Run a Ruby snippet in the sandbox and report stdout/stderr/exit code.", Language: sandbox.LanguageRuby, Runner: runner},
		{ToolName: "sandboxrun.shell_test", ToolDesc: "Run a shell script in the sandbox and report stdout/stderr/exit code.", Language: sandbox.LanguageBash, Runner: runner},
	}
}
