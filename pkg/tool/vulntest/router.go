package vulntest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/tool"
)

// Router is the universal_vuln_test tool: it dispatches to one of the
// named Tests by vuln_type, so an agent that only remembers the vuln
// class (and not the exact tool name) can still reach a tester.
type Router struct {
	Tests map[string]*Test
}

// NewRouter indexes a Presets() slice by VulnType.
func NewRouter(tests []*Test) *Router {
	r := &Router{Tests: make(map[string]*Test, len(tests))}
	for _, t := range tests {
		r.Tests[t.VulnType] = t
	}
	return r
}

func (r *Router) Name() string { return "vulntest.universal_vuln_test" }
func (r *Router) Description() string {
	return "Dispatch to the matching vuln-class tester (command_injection, sql_injection, xss, path_traversal, ssti, deserialization) by name."
}
func (r *Router) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"vuln_type": {"type": "string", "description": "one of: command_injection, sql_injection, xss, path_traversal, ssti, deserialization"},
			"url": {"type": "string"},
			"param": {"type": "string"},
			"method": {"type": "string", "enum": ["GET", "POST"], "default": "GET"},
			"payload": {"type": "string"}
		},
		"required": ["vuln_type", "url", "param"]
	}`
}

func (r *Router) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	vulnType, _ := args["vuln_type"].(string)
	test, ok := r.Tests[strings.ToLower(strings.TrimSpace(vulnType))]
	if !ok {
		names := make([]string, 0, len(r.Tests))
		for name := range r.Tests {
			names = append(names, name)
		}
		sort.Strings(names)
		err := apperr.New(apperr.KindToolInputInvalid,
			fmt.Sprintf("unknown vuln_type %q, expected one of: %s", vulnType, strings.Join(names, ", ")), nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	return test.Execute(ctx, args)
}
