// Package orchestrator runs the root agent's Reason+Act loop and answers
// its dispatch_agent calls by spawning child loops of the recon, analysis,
// verification or specialist role, sharing one agent tree (pkg/graph), one
// message bus (pkg/bus) and one deduplicated finding set (pkg/finding)
// across the whole investigation.
package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	execctx "github.com/codeready-toolchain/secaudit/pkg/agent/exec"
	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/bus"
	"github.com/codeready-toolchain/secaudit/pkg/checkpoint"
	"github.com/codeready-toolchain/secaudit/pkg/config"
	"github.com/codeready-toolchain/secaudit/pkg/finding"
	"github.com/codeready-toolchain/secaudit/pkg/graph"
	"github.com/codeready-toolchain/secaudit/pkg/jsonrepair"
	"github.com/codeready-toolchain/secaudit/pkg/llm"
	"github.com/codeready-toolchain/secaudit/pkg/react"
	"github.com/codeready-toolchain/secaudit/pkg/resilience/fallback"
	"github.com/codeready-toolchain/secaudit/pkg/tool"
	"github.com/codeready-toolchain/secaudit/pkg/tool/agentctl"
	"github.com/codeready-toolchain/secaudit/pkg/tool/report"
	"github.com/google/uuid"
)

// terminalTools names the tools that end a role's react.Loop the same way
// a Final Answer does. agent_finish covers every child role; finish_scan is
// meaningful only at the root but is harmless to register everywhere since
// a child agent that calls it simply ends its own sub-task early.
var terminalTools = map[string]bool{
	"agentctl.agent_finish": true,
	"agentctl.finish_scan":  true,
}

// Role is an agent's investigative specialty. The same Loop implementation
// runs every role; only the system prompt and tool set change.
type Role string

const (
	RoleOrchestrator Role = "orchestrator"
	RoleRecon        Role = "recon"
	RoleAnalysis     Role = "analysis"
	RoleVerification Role = "verification"
	RoleSpecialist   Role = "specialist"
)

// Config bounds one investigation's resource usage. Roles carries each
// role's own iteration budget, timeout and tool allowlist; a role absent
// from the map falls back to the "default" entry, then to the flat
// MaxIterations/IterationTimeout fields with every tool allowed.
type Config struct {
	MaxIterations    int
	IterationTimeout time.Duration
	MaxDepth         int // dispatch_agent calls beyond this depth are rejected
	MaxPerName       int // per-child-name cap on total dispatches (not released on completion), see graph.ReserveDispatch

	Roles map[string]config.RoleConfig
}

// DefaultConfig returns the guardrails used when Config is left zeroed.
func DefaultConfig() Config {
	return Config{MaxIterations: 15, IterationTimeout: 120 * time.Second, MaxDepth: 4, MaxPerName: 3}
}

// roleSettings resolves one role's loop guardrails and tool allowlist,
// with the same role -> "default" -> flat-fields fallback Config documents.
func (c Config) roleSettings(role Role) config.RoleConfig {
	if rc, ok := c.Roles[string(role)]; ok {
		return rc
	}
	if rc, ok := c.Roles["default"]; ok {
		return rc
	}
	maxIter := c.MaxIterations
	if maxIter <= 0 {
		maxIter = 15
	}
	timeout := c.IterationTimeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return config.RoleConfig{MaxIterations: maxIter, IterationTimeout: timeout, AllowedTools: []string{"*"}}
}

// Result is the final outcome of one investigation.
type Result struct {
	Status    react.Status
	Analysis  string
	Findings  []finding.Finding
	AgentTree graph.Statistics
}

// Orchestrator coordinates one investigation's agent tree over a task.
type Orchestrator struct {
	LLM     llm.Client
	Tools   *tool.Registry // base tools every role gets, e.g. fileset, sandboxrun, scanner
	Cfg     Config
	Observer react.Observer

	Registry *graph.Registry
	Bus      *bus.Bus
	Results  *agentctl.InMemoryResults

	// Fallbacks supplies every agent loop's tool-substitution policy
	// (e.g. a failed external scanner degrading to pattern matching).
	Fallbacks *fallback.Handler

	// Checkpoints, when set, persists periodic and terminal snapshots of
	// every dispatched agent's conversation for crash recovery.
	// Left nil (the "audit" CLI one-shot path has no database connection
	// to persist to), agents simply run without checkpointing.
	Checkpoints    *checkpoint.Store
	CheckpointKeep int

	findingsMu sync.Mutex
	findings   *finding.Deduper
}

// New wires a fresh Orchestrator with its own agent tree, bus and finding
// set. baseTools are shared read-only/execution tools every agent role is
// given in addition to the agentctl dispatch/messaging/reporting tools this
// constructor adds automatically.
func New(client llm.Client, baseTools *tool.Registry, cfg Config) *Orchestrator {
	o := &Orchestrator{
		LLM:       client,
		Tools:     baseTools,
		Cfg:       cfg,
		Registry:  graph.NewRegistry(),
		Bus:       bus.New(),
		Results:   agentctl.NewInMemoryResults(),
		Fallbacks: fallback.New(fallback.DefaultConfig()),
		findings:  finding.NewDeduper(),
	}
	return o
}

// Add lets the caller satisfy report.FindingSink without exposing the
// Deduper's non-thread-safe internals directly.
func (o *Orchestrator) Add(f finding.Finding) bool {
	o.findingsMu.Lock()
	defer o.findingsMu.Unlock()
	return o.findings.Add(f)
}

// Findings implements graph.FindingsProvider, giving a Controller
// read-only access to the investigation's deduplicated finding set.
func (o *Orchestrator) Findings() []finding.Finding {
	o.findingsMu.Lock()
	defer o.findingsMu.Unlock()
	return o.findings.Findings()
}

// toolsFor builds one role's tool registry: the shared base tools plus
// the agentctl tools bound to this orchestrator's shared graph/bus/
// findings, filtered through the role's AllowedTools list. The dispatch
// surface (dispatch_agent, run_sub_agents, collect_sub_agent_results,
// summarize, finish_scan) is registered only for the orchestrator role,
// regardless of configuration: child roles never dispatch.
func (o *Orchestrator) toolsFor(role Role) *tool.Registry {
	settings := o.Cfg.roleSettings(role)
	registry := tool.NewRegistry()
	register := func(t tool.Tool) {
		if settings.ToolAllowed(t.Name()) {
			_ = registry.Register(t)
		}
	}

	for _, def := range o.Tools.List() {
		t, _ := o.Tools.Get(def.Name)
		register(t)
	}
	register(&agentctl.SendMessage{Bus: o.Bus})
	register(&agentctl.WaitForMessage{Bus: o.Bus})
	register(&agentctl.ViewAgentGraph{Registry: o.Registry})
	register(&agentctl.AgentFinish{})
	register(&agentctl.Think{})
	register(&agentctl.Reflect{})
	register(&report.CreateVulnerabilityReport{Sink: o})

	if role == RoleOrchestrator {
		register(&agentctl.DispatchAgent{Spawner: o})
		register(&agentctl.RunSubAgents{Spawner: o, Results: o.Results})
		register(&agentctl.CollectSubAgentResults{Results: o.Results})
		register(&agentctl.Summarize{Findings: o})
		register(&agentctl.FinishScan{})
	}
	return registry
}

// Run starts the root agent and drives it to completion. The root always
// runs with RoleOrchestrator and has no parent in the agent tree.
func (o *Orchestrator) Run(ctx context.Context, task string) (*Result, error) {
	correlationID := "corr_" + uuid.NewString()[:8]
	taskID := "task_" + uuid.NewString()[:8]
	rootID := "agent_" + uuid.NewString()[:8]

	root := execctx.New(correlationID, taskID, rootID, string(RoleOrchestrator))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := o.Registry.Register(rootID, string(RoleOrchestrator), string(RoleOrchestrator), "", cancel); err != nil {
		return nil, err
	}
	o.Bus.CreateQueue(rootID)
	o.persistAgentRecord(runCtx, root, string(RoleOrchestrator), string(RoleOrchestrator), "", task)

	res, err := o.runAgent(runCtx, root, RoleOrchestrator, task)
	if err != nil {
		_ = o.Registry.UpdateStatus(rootID, graph.StatusFailed, nil)
		o.persistAgentStatus(runCtx, rootID, graph.StatusFailed, 0, "")
		return nil, err
	}

	status := graph.StatusCompleted
	if res.Status != react.StatusCompleted {
		status = graph.StatusFailed
	}
	_ = o.Registry.UpdateStatus(rootID, status, res)
	o.persistAgentStatus(runCtx, rootID, status, res.Iterations, res.FinalAnalysis)

	o.findingsMu.Lock()
	findings := o.findings.Findings()
	o.findingsMu.Unlock()

	return &Result{
		Status:    res.Status,
		Analysis:  res.FinalAnalysis,
		Findings:  findings,
		AgentTree: o.Registry.Statistics(),
	}, nil
}

// Dispatch implements agentctl.Spawner: it registers a child node, runs its
// loop to completion, and returns its outcome to the calling agent's
// dispatch_agent tool call. Findings the child reports are already in
// o.findings by the time Dispatch returns, via report.CreateVulnerabilityReport's Sink.
func (o *Orchestrator) Dispatch(ctx context.Context, parent execctx.Context, name, roleName, task string) (agentctl.SpawnResult, error) {
	if parent.Depth+1 > o.Cfg.MaxDepth {
		return agentctl.SpawnResult{}, apperr.New(apperr.KindAgentIterLimit,
			fmt.Sprintf("dispatch_agent exceeds max depth %d", o.Cfg.MaxDepth), nil)
	}

	maxPerName := o.Cfg.MaxPerName
	if maxPerName <= 0 {
		maxPerName = 3
	}
	if _, allowed := o.Registry.ReserveDispatch(name, maxPerName); !allowed {
		return agentctl.SpawnResult{}, apperr.New(apperr.KindResourceExhausted,
			fmt.Sprintf("dispatch cap reached for agent name %q (max %d dispatches)", name, maxPerName), nil)
	}

	agentID := "agent_" + uuid.NewString()[:8]
	childCtx := parent.Child(agentID, name)
	role := Role(roleName)

	childRunCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := o.Registry.Register(agentID, name, roleName, parent.AgentID, cancel); err != nil {
		return agentctl.SpawnResult{}, err
	}
	o.Bus.CreateQueue(agentID)
	o.persistAgentRecord(childRunCtx, childCtx, name, roleName, parent.AgentID, task)

	res, err := o.runAgent(childRunCtx, childCtx, role, task)
	if err != nil {
		_ = o.Registry.UpdateStatus(agentID, graph.StatusFailed, nil)
		o.persistAgentStatus(childRunCtx, agentID, graph.StatusFailed, 0, "")
		return agentctl.SpawnResult{}, err
	}

	status := graph.StatusCompleted
	if res.Status != react.StatusCompleted {
		status = graph.StatusFailed
	}
	_ = o.Registry.UpdateStatus(agentID, status, res)
	o.persistAgentStatus(childRunCtx, agentID, status, res.Iterations, res.FinalAnalysis)

	parsedAnswer := parseFinalAnswer(res.FinalAnalysis)

	harvested := o.harvestFindings(role, parsedAnswer, agentID)
	for _, f := range harvested {
		o.Add(f)
	}

	return agentctl.SpawnResult{
		AgentID:  agentID,
		Status:   string(status),
		Analysis: buildObservation(role, res.FinalAnalysis, parsedAnswer, len(harvested)),
		Findings: harvested,
	}, nil
}

// parseFinalAnswer attempts to read a child's Final Answer as the JSON
// object agents are asked to emit; a plain-prose answer (or one that
// survives none of the jsonrepair rungs) yields a nil map, which every
// extractor here treats as "nothing structured to harvest."
func parseFinalAnswer(finalAnalysis string) map[string]any {
	if strings.TrimSpace(finalAnalysis) == "" {
		return nil
	}
	parsed, err := jsonrepair.Parse(finalAnalysis)
	if err != nil {
		return nil
	}
	return parsed.Value
}

// harvestFindings extracts and normalizes every finding a child agent's
// Final Answer reported. Every role may report a findings[] list; recon
// additionally reports initial_findings (as dicts or "file:line -
// description" strings) and high_risk_areas (the same string shape,
// defaulting to high severity) in place of, or alongside, findings[].
// pkg/finding's normalizer is authoritative: nothing here constructs a
// Finding without routing through it.
func (o *Orchestrator) harvestFindings(role Role, parsed map[string]any, agentID string) []finding.Finding {
	if parsed == nil {
		return nil
	}

	var out []finding.Finding
	out = append(out, extractFindingDicts(parsed["findings"], agentID)...)

	if role == RoleRecon {
		out = append(out, extractFindingDicts(parsed["initial_findings"], agentID)...)
		out = append(out, extractLocationStrings(parsed["initial_findings"], agentID, finding.ParseInitialFindingString)...)
		out = append(out, extractLocationStrings(parsed["high_risk_areas"], agentID, finding.ParseHighRiskArea)...)
	}
	return out
}

// buildObservation composes the role-aware summary a dispatching agent
// sees as its child's analysis. Recon's survey fields (tech_stack,
// entry_points, project_structure) aren't findings, but the caller still
// needs them to decide what to dispatch next, so they're folded into the
// observation alongside the finding count; every other role's raw Final
// Answer text passes through unchanged.
func buildObservation(role Role, finalAnalysis string, parsed map[string]any, findingCount int) string {
	if role != RoleRecon || parsed == nil {
		return finalAnalysis
	}

	var parts []string
	if techStack := stringListOf(parsed["tech_stack"]); len(techStack) > 0 {
		parts = append(parts, "tech stack: "+strings.Join(techStack, ", "))
	}
	if entryPoints := stringListOf(parsed["entry_points"]); len(entryPoints) > 0 {
		parts = append(parts, "entry points: "+strings.Join(entryPoints, ", "))
	}
	if structure := structureSummary(parsed["project_structure"]); structure != "" {
		parts = append(parts, "project structure: "+structure)
	}
	parts = append(parts, fmt.Sprintf("%d finding(s) reported", findingCount))

	summary := strings.Join(parts, "; ")
	if strings.TrimSpace(finalAnalysis) == "" {
		return summary
	}
	return finalAnalysis + " (" + summary + ")"
}

// stringListOf coerces a []any of strings (the shape tech_stack and
// entry_points are reported in) into a []string, skipping non-string
// entries rather than failing the whole field.
func stringListOf(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// structureSummary renders whatever shape project_structure was reported
// in (models vary between a free-text tree, a list of paths, or a nested
// dict) down to a short phrase rather than dumping the raw value.
func structureSummary(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		if len(t) == 0 {
			return ""
		}
		return fmt.Sprintf("%d entries", len(t))
	case map[string]any:
		if len(t) == 0 {
			return ""
		}
		return fmt.Sprintf("%d top-level entries", len(t))
	default:
		return ""
	}
}

// extractFindingDicts normalizes a []any of finding dicts. Non-dict
// entries (e.g. the string shape recon sometimes uses) are skipped here
// and picked up by extractLocationStrings instead.
func extractFindingDicts(v any, agentID string) []finding.Finding {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []finding.Finding
	for _, item := range items {
		if dict, ok := item.(map[string]any); ok {
			out = append(out, finding.NormalizeDict(dict, agentID))
		}
	}
	return out
}

// extractLocationStrings applies a "file:line - description" string
// parser (finding.ParseInitialFindingString or finding.ParseHighRiskArea)
// to every string entry in a []any, skipping anything else or anything
// that doesn't match the shape.
func extractLocationStrings(v any, agentID string, parse func(s, agentID string) (finding.Finding, bool)) []finding.Finding {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []finding.Finding
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if f, ok := parse(s, agentID); ok {
			out = append(out, f)
		}
	}
	return out
}

// runAgent builds the conversation and tool set for one role and drives a
// react.Loop to completion under that role's own iteration budget and
// timeout.
func (o *Orchestrator) runAgent(ctx context.Context, agentCtx execctx.Context, role Role, task string) (*react.Result, error) {
	ctx = execctx.WithContext(ctx, agentCtx)

	settings := o.Cfg.roleSettings(role)
	loop := &react.Loop{
		Client:           o.LLM,
		Tools:            o.toolsFor(role),
		MaxIterations:    settings.MaxIterations,
		IterationTimeout: settings.IterationTimeout,
		Observer:         o.Observer,
		TerminalTools:    terminalTools,
		Fallbacks:        o.Fallbacks,
	}
	if o.Checkpoints != nil {
		loop.Checkpointer = &checkpointAdapter{store: o.Checkpoints, agentID: agentCtx.AgentID, keep: o.CheckpointKeep}
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt(role)},
		{Role: llm.RoleUser, Content: task},
	}

	return loop.Run(ctx, messages)
}

// systemPrompt returns the role-specific instructions prefixed to every
// agent's conversation. The ReAct response grammar itself (Thought/Action/
// Action Input/Final Answer) is documented by pkg/react's parser, not
// repeated here.
func systemPrompt(role Role) string {
	switch role {
	case RoleRecon:
		return "You are a reconnaissance agent. Map the codebase's attack surface: entry points, " +
			"authentication boundaries, data flows touching user input. Use scanner.* and semantic.* " +
			"tools to survey broadly before reading files one at a time. Report anything that looks " +
			"like a candidate vulnerability with report.create_vulnerability_report, even at low " +
			"confidence; verification happens downstream. Call agentctl.agent_finish with a summary " +
			"when the sub-task is covered."
	case RoleAnalysis:
		return "You are an analysis agent. Given a candidate finding or code region, trace the data " +
			"flow from source to sink, assess exploitability, and report confirmed or refined findings " +
			"with report.create_vulnerability_report. Use agentctl.reflect if the picture is still " +
			"unclear after a few tool calls. Call agentctl.agent_finish with a summary when done."
	case RoleVerification:
		return "You are a verification agent. Given a candidate finding, attempt to reproduce it - " +
			"using sandboxrun.execute for a full proof of concept, or a vulntest.* tester as a quicker " +
			"first pass - and report the outcome with an updated verdict and confidence via " +
			"report.create_vulnerability_report. Call agentctl.agent_finish with a summary when done."
	case RoleSpecialist:
		return "You are a specialist agent assigned a narrow, well-defined task by the orchestrator. " +
			"Focus only on that task and call agentctl.agent_finish with your analysis when complete."
	default:
		return "You are the orchestrating agent for a security audit. Break the task into sub-tasks " +
			"and dispatch them to recon, analysis, verification or specialist agents using " +
			"agentctl.dispatch_agent, or agentctl.run_sub_agents to run several at once. Use " +
			"agentctl.view_agent_graph to track progress, agentctl.collect_sub_agent_results to " +
			"retrieve a completed batch's outcomes, and agentctl.summarize to review every finding " +
			"gathered so far. When the investigation is complete, call " +
			"agentctl.finish_scan with a summary of the confirmed findings."
	}
}
