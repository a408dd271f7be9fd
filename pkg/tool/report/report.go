// Package report exposes the create_vulnerability_report tool: the tool
// by which a running agent hands a discovered vulnerability to the
// orchestrator's deduplicated finding set. The orchestrator also adds
// findings it harvests from a child agent's Final Answer. Kept separate from
// pkg/tool/agentctl so the finding schema can evolve (report formats,
// export targets) independently of the agent-graph control tools.
package report

import (
	"context"

	execctx "github.com/codeready-toolchain/secaudit/pkg/agent/exec"
	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/finding"
	"github.com/codeready-toolchain/secaudit/pkg/tool"
)

// FindingSink accepts a normalized finding into the orchestrator's
// deduplicated set. Add reports whether the finding introduced a new
// fingerprint.
type FindingSink interface {
	Add(f finding.Finding) bool
}

func currentContext(ctx context.Context) (execctx.Context, error) {
	c, ok := execctx.FromContext(ctx)
	if !ok {
		return execctx.Context{}, apperr.New(apperr.KindAgentInit, "report tool called without an execution context", nil)
	}
	return c, nil
}

// CreateVulnerabilityReport is the create_vulnerability_report tool: it
// normalizes and hands a finding to the orchestrator's deduplicated set.
// No finding enters the investigation's result without passing through
// this normalization step.
type CreateVulnerabilityReport struct {
	Sink FindingSink
}

func (t *CreateVulnerabilityReport) Name() string { return "report.create_vulnerability_report" }
func (t *CreateVulnerabilityReport) Description() string {
	return "Report a discovered vulnerability finding to the investigation."
}
func (t *CreateVulnerabilityReport) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"title": {"type": "string"},
			"vulnerability_type": {"type": "string"},
			"severity": {"type": "string", "enum": ["critical", "high", "medium", "low", "info"]},
			"file_path": {"type": "string"},
			"description": {"type": "string"},
			"line_start": {"type": "integer"},
			"line_end": {"type": "integer"},
			"code_snippet": {"type": "string"},
			"confidence": {"type": "number"},
			"cwe_id": {"type": "string"},
			"recommendation": {"type": "string"}
		},
		"required": ["title", "vulnerability_type", "severity", "file_path", "description"]
	}`
}

func (t *CreateVulnerabilityReport) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	self, err := currentContext(ctx)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	f := finding.NormalizeDict(args, self.AgentID)
	if err := f.Validate(); err != nil {
		wrapped := apperr.New(apperr.KindValidationInput, err.Error(), err)
		return tool.Result{Success: false, Error: wrapped.Error()}, wrapped
	}

	isNew := t.Sink.Add(f)
	return tool.Result{
		Success: true,
		Data:    map[string]any{"fingerprint": f.Fingerprint(), "new": isNew},
	}, nil
}
