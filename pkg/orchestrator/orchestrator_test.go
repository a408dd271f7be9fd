package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	execctx "github.com/codeready-toolchain/secaudit/pkg/agent/exec"
	"github.com/codeready-toolchain/secaudit/pkg/config"
	"github.com/codeready-toolchain/secaudit/pkg/finding"
	"github.com/codeready-toolchain/secaudit/pkg/llm"
	"github.com/codeready-toolchain/secaudit/pkg/react"
	"github.com/codeready-toolchain/secaudit/pkg/tool"
)

// scriptedClient returns canned responses keyed by how many times
// Generate has been called on each distinct agent conversation; since
// every agent gets its own Loop instance, a fresh scriptedClient per role
// is simplest and matches pkg/react's own test fakes.
type scriptedClient struct {
	responses []string
	calls     int
}

func (c *scriptedClient) Generate(ctx context.Context, input llm.GenerateInput) (<-chan llm.Chunk, error) {
	ch := make(chan llm.Chunk, 2)
	idx := c.calls
	c.calls++
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	ch <- &llm.TextChunk{Content: c.responses[idx]}
	ch <- &llm.UsageChunk{InputTokens: 1, OutputTokens: 1, TotalTokens: 2}
	close(ch)
	return ch, nil
}
func (c *scriptedClient) Close() error { return nil }

// roleRoutedClient dispatches Generate calls to a different scripted
// client depending on which role's system prompt opens the conversation,
// so a single Orchestrator.Run can drive both the root and its children
// through a deterministic, multi-agent scripted conversation.
type roleRoutedClient struct {
	byRole map[Role]*scriptedClient
}

func (c *roleRoutedClient) Generate(ctx context.Context, input llm.GenerateInput) (<-chan llm.Chunk, error) {
	role := RoleOrchestrator
	if len(input.Messages) > 0 {
		for r := range c.byRole {
			if input.Messages[0].Content == systemPrompt(r) {
				role = r
				break
			}
		}
	}
	return c.byRole[role].Generate(ctx, input)
}
func (c *roleRoutedClient) Close() error { return nil }

func TestRunCompletesWithoutDispatch(t *testing.T) {
	client := &roleRoutedClient{byRole: map[Role]*scriptedClient{
		RoleOrchestrator: {responses: []string{"Thought: trivial task.\nFinal Answer: no findings."}},
	}}

	o := New(client, tool.NewRegistry(), DefaultConfig())
	result, err := o.Run(context.Background(), "audit nothing")
	require.NoError(t, err)
	assert.Equal(t, react.StatusCompleted, result.Status)
	assert.Equal(t, "no findings.", result.Analysis)
	assert.Equal(t, 1, result.AgentTree.Total)
}

func TestRunDispatchesChildAndCollectsFinding(t *testing.T) {
	client := &roleRoutedClient{byRole: map[Role]*scriptedClient{
		RoleOrchestrator: {responses: []string{
			"Thought: delegate recon.\nAction: agentctl.dispatch_agent\n" +
				`Action Input: {"name": "recon-1", "role": "recon", "task": "scan for sqli"}`,
			"Thought: recon reported a finding.\nFinal Answer: one finding confirmed.",
		}},
		RoleRecon: {responses: []string{
			"Thought: found it.\nAction: report.create_vulnerability_report\n" +
				`Action Input: {"title":"SQLi in login","vulnerability_type":"sqli","severity":"high","file_path":"a.go","description":"concatenated query"}`,
			"Thought: reported.\nFinal Answer: sql injection found in login handler.",
		}},
	}}

	o := New(client, tool.NewRegistry(), DefaultConfig())
	result, err := o.Run(context.Background(), "audit the login flow")
	require.NoError(t, err)
	assert.Equal(t, react.StatusCompleted, result.Status)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "sql_injection", result.Findings[0].VulnerabilityType)
	assert.Equal(t, 2, result.AgentTree.Total) // root + recon-1
}

func TestDispatchHarvestsReconHighRiskAreaFromFinalAnswer(t *testing.T) {
	client := &roleRoutedClient{byRole: map[Role]*scriptedClient{
		RoleRecon: {responses: []string{
			`Final Answer: {"tech_stack": ["flask"], "high_risk_areas": ["app.py:36 - command injection"]}`,
		}},
	}}
	o := New(client, tool.NewRegistry(), DefaultConfig())
	parent := execctx.New("corr_1", "task_1", "agent_root", string(RoleOrchestrator))

	result, err := o.Dispatch(context.Background(), parent, "recon-1", "recon", "map the attack surface")
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)

	got := result.Findings[0]
	assert.Equal(t, "command_injection", got.VulnerabilityType)
	assert.Equal(t, "app.py", got.FilePath)
	assert.Equal(t, 36, got.LineStart)
	assert.Equal(t, finding.SeverityHigh, got.Severity)

	assert.Len(t, o.Findings(), 1)
}

func TestDispatchFoldsReconSurveyFieldsIntoObservation(t *testing.T) {
	client := &roleRoutedClient{byRole: map[Role]*scriptedClient{
		RoleRecon: {responses: []string{
			`Final Answer: {"tech_stack": ["flask", "sqlalchemy"], "entry_points": ["app.py:/login"], ` +
				`"project_structure": {"app.py": "entrypoint"}, "findings": []}`,
		}},
	}}
	o := New(client, tool.NewRegistry(), DefaultConfig())
	parent := execctx.New("corr_1", "task_1", "agent_root", string(RoleOrchestrator))

	result, err := o.Dispatch(context.Background(), parent, "recon-1", "recon", "map the attack surface")
	require.NoError(t, err)
	assert.Contains(t, result.Analysis, "tech stack: flask, sqlalchemy")
	assert.Contains(t, result.Analysis, "entry points: app.py:/login")
	assert.Contains(t, result.Analysis, "project structure: 1 top-level entries")
	assert.Contains(t, result.Analysis, "0 finding(s) reported")
}

func TestDispatchHarvestsFindingsListForAnyRole(t *testing.T) {
	client := &roleRoutedClient{byRole: map[Role]*scriptedClient{
		RoleAnalysis: {responses: []string{
			`Final Answer: {"findings": [{"file_path": "b.go", "line_start": 7, "type": "xss", "description": "reflected param", "severity": "medium"}]}`,
		}},
	}}
	o := New(client, tool.NewRegistry(), DefaultConfig())
	parent := execctx.New("corr_1", "task_1", "agent_root", string(RoleOrchestrator))

	result, err := o.Dispatch(context.Background(), parent, "analysis-1", "analysis", "confirm the xss candidate")
	require.NoError(t, err)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, "xss", result.Findings[0].VulnerabilityType)
	assert.Equal(t, "b.go", result.Findings[0].FilePath)
}

func TestDispatchRejectsBeyondMaxDepth(t *testing.T) {
	client := &roleRoutedClient{byRole: map[Role]*scriptedClient{
		RoleOrchestrator: {responses: []string{"Final Answer: done."}},
	}}
	o := New(client, tool.NewRegistry(), Config{MaxIterations: 5, MaxDepth: 0, MaxPerName: 3})

	parent := execctx.New("corr_1", "task_1", "agent_root", string(RoleOrchestrator))
	_, err := o.Dispatch(context.Background(), parent, "child", "specialist", "task")
	require.Error(t, err)
}

func registeredNames(reg *tool.Registry) map[string]bool {
	names := map[string]bool{}
	for _, def := range reg.List() {
		names[def.Name] = true
	}
	return names
}

func TestToolsForReservesDispatchSurfaceForOrchestrator(t *testing.T) {
	o := New(&scriptedClient{responses: []string{"Final Answer: done."}}, tool.NewRegistry(), DefaultConfig())

	root := registeredNames(o.toolsFor(RoleOrchestrator))
	assert.True(t, root["agentctl.dispatch_agent"])
	assert.True(t, root["agentctl.run_sub_agents"])
	assert.True(t, root["agentctl.collect_sub_agent_results"])
	assert.True(t, root["agentctl.summarize"])
	assert.True(t, root["agentctl.finish_scan"])

	for _, role := range []Role{RoleRecon, RoleAnalysis, RoleVerification, RoleSpecialist} {
		names := registeredNames(o.toolsFor(role))
		assert.False(t, names["agentctl.dispatch_agent"], "role %s must not dispatch", role)
		assert.False(t, names["agentctl.run_sub_agents"], "role %s must not dispatch", role)
		assert.False(t, names["agentctl.summarize"], "summarize is orchestrator-only, got it on %s", role)
		assert.True(t, names["agentctl.agent_finish"], "role %s needs its terminal tool", role)
	}
}

func TestToolsForFiltersBaseToolsByRoleAllowlist(t *testing.T) {
	base := tool.NewRegistry()
	require.NoError(t, base.Register(allowedStubTool{name: "fileset.read_file"}))
	require.NoError(t, base.Register(allowedStubTool{name: "sandboxrun.execute"}))

	cfg := DefaultConfig()
	cfg.Roles = map[string]config.RoleConfig{
		"recon": {
			MaxIterations:    7,
			IterationTimeout: 30 * time.Second,
			AllowedTools:     []string{"fileset.read_file", "agentctl.agent_finish"},
		},
	}
	o := New(&scriptedClient{responses: []string{"Final Answer: done."}}, base, cfg)

	names := registeredNames(o.toolsFor(RoleRecon))
	assert.True(t, names["fileset.read_file"])
	assert.False(t, names["sandboxrun.execute"])
	assert.True(t, names["agentctl.agent_finish"])
	assert.False(t, names["agentctl.send_message"])
}

func TestRoleSettingsFallBackToDefaultEntryThenFlatFields(t *testing.T) {
	cfg := Config{
		MaxIterations:    9,
		IterationTimeout: 45 * time.Second,
		Roles: map[string]config.RoleConfig{
			"recon":   {MaxIterations: 3, IterationTimeout: 10 * time.Second, AllowedTools: []string{"*"}},
			"default": {MaxIterations: 6, IterationTimeout: 20 * time.Second, AllowedTools: []string{"*"}},
		},
	}
	assert.Equal(t, 3, cfg.roleSettings(RoleRecon).MaxIterations)
	assert.Equal(t, 6, cfg.roleSettings(RoleAnalysis).MaxIterations)

	flat := Config{MaxIterations: 9, IterationTimeout: 45 * time.Second}
	assert.Equal(t, 9, flat.roleSettings(RoleAnalysis).MaxIterations)
	assert.True(t, flat.roleSettings(RoleAnalysis).ToolAllowed("fileset.read_file"))
}

func TestDispatchHonorsChildRoleIterationBudget(t *testing.T) {
	// Recon's budget is one iteration; its script never produces a Final
	// Answer, so the loop must stop at the cap and force a conclusion
	// rather than running to the orchestrator's larger budget.
	recon := &scriptedClient{responses: []string{
		"Thought: looking.\nAction: agentctl.think\nAction Input: {\"thought\": \"still mapping\"}",
		"Final Answer: forced wrap-up.",
	}}
	client := &roleRoutedClient{byRole: map[Role]*scriptedClient{
		RoleOrchestrator: {responses: []string{"Final Answer: done."}},
		RoleRecon:        recon,
	}}

	cfg := DefaultConfig()
	cfg.Roles = map[string]config.RoleConfig{
		"orchestrator": {MaxIterations: 20, IterationTimeout: time.Minute, AllowedTools: []string{"*"}},
		"recon":        {MaxIterations: 1, IterationTimeout: time.Minute, AllowedTools: []string{"*"}},
	}
	o := New(client, tool.NewRegistry(), cfg)

	parent := execctx.New("corr_1", "task_1", "agent_root", string(RoleOrchestrator))
	result, err := o.Dispatch(context.Background(), parent, "recon-1", "recon", "map the surface")
	require.NoError(t, err)
	// One budgeted iteration plus the forced-conclusion call.
	assert.Equal(t, 2, recon.calls)
	assert.Contains(t, result.Analysis, "forced wrap-up")
}

// allowedStubTool is a minimal named tool for allowlist-filtering tests.
type allowedStubTool struct{ name string }

func (t allowedStubTool) Name() string        { return t.name }
func (t allowedStubTool) Description() string { return "stub" }
func (t allowedStubTool) Schema() string      { return "" }
func (t allowedStubTool) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	return tool.Result{Success: true}, nil
}
