// Package agentctl exposes the agent-graph primitives (pkg/graph, pkg/bus)
// as agent-callable tools: dispatch_agent, send_message, wait_for_message,
// view_agent_graph, run_sub_agents, collect_sub_agent_results, agent_finish,
// finish_scan, summarize, think, reflect. These are the only path by
// which a running agent can spawn children, talk to siblings, run a batch
// of sub-agents concurrently, review the findings gathered so far, or
// signal that it (or the whole investigation) is done.
// Finding submission lives in pkg/tool/report, not here.
package agentctl

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	execctx "github.com/codeready-toolchain/secaudit/pkg/agent/exec"
	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/bus"
	"github.com/codeready-toolchain/secaudit/pkg/executor"
	"github.com/codeready-toolchain/secaudit/pkg/finding"
	"github.com/codeready-toolchain/secaudit/pkg/graph"
	"github.com/codeready-toolchain/secaudit/pkg/tool"
)

// SpawnResult is what a dispatched child agent reports back to its caller.
type SpawnResult struct {
	AgentID  string
	Status   string
	Analysis string
	Findings []finding.Finding
}

// Spawner runs a child agent to completion. Implemented by pkg/orchestrator;
// agentctl depends only on this narrow shape so the import runs
// orchestrator -> agentctl and never the reverse.
type Spawner interface {
	Dispatch(ctx context.Context, parent execctx.Context, name, role, task string) (SpawnResult, error)
}

func currentContext(ctx context.Context) (execctx.Context, error) {
	c, ok := execctx.FromContext(ctx)
	if !ok {
		return execctx.Context{}, apperr.New(apperr.KindAgentInit, "agentctl tool called without an execution context", nil)
	}
	return c, nil
}

// DispatchAgent is the dispatch_agent tool: it creates a sub-agent under
// the calling agent, runs it to completion (blocking), and returns its
// final analysis plus the number of findings it reported.
type DispatchAgent struct {
	Spawner Spawner
}

func (t *DispatchAgent) Name() string { return "agentctl.dispatch_agent" }
func (t *DispatchAgent) Description() string {
	return "Dispatch a child agent to investigate a sub-task and block until it returns its analysis and findings."
}
func (t *DispatchAgent) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"name": {"type": "string", "description": "child agent instance name, e.g. recon-1"},
			"role": {"type": "string", "enum": ["recon", "analysis", "verification", "specialist"]},
			"task": {"type": "string", "description": "the sub-task for the child to investigate"}
		},
		"required": ["name", "role", "task"]
	}`
}

func (t *DispatchAgent) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	parent, err := currentContext(ctx)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	name, _ := args["name"].(string)
	role, _ := args["role"].(string)
	task, _ := args["task"].(string)
	if name == "" || role == "" || task == "" {
		err := apperr.New(apperr.KindToolInputInvalid, "dispatch_agent requires name, role and task", nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	result, err := t.Spawner.Dispatch(ctx, parent, name, role, task)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	return tool.Result{
		Success: result.Status == string(graph.StatusCompleted),
		Data: map[string]any{
			"agent_id":     result.AgentID,
			"status":       result.Status,
			"analysis":     result.Analysis,
			"finding_count": len(result.Findings),
		},
	}, nil
}

// SendMessage is the send_message tool: post a message to another agent's
// inbox on the shared bus.
type SendMessage struct {
	Bus *bus.Bus
}

func (t *SendMessage) Name() string        { return "agentctl.send_message" }
func (t *SendMessage) Description() string { return "Send a message to another agent in the current investigation." }
func (t *SendMessage) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"to": {"type": "string"},
			"content": {"type": "string"},
			"type": {"type": "string", "enum": ["query", "instruction", "information", "result", "error"]},
			"priority": {"type": "string", "enum": ["low", "normal", "high", "urgent"]}
		},
		"required": ["to", "content"]
	}`
}

var priorityNames = map[string]bus.Priority{
	"low": bus.PriorityLow, "normal": bus.PriorityNormal,
	"high": bus.PriorityHigh, "urgent": bus.PriorityUrgent,
}

func (t *SendMessage) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	self, err := currentContext(ctx)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	to, _ := args["to"].(string)
	content, _ := args["content"].(string)
	if to == "" || content == "" {
		err := apperr.New(apperr.KindToolInputInvalid, "send_message requires to and content", nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	typ := bus.TypeInformation
	if rawType, ok := args["type"].(string); ok && rawType != "" {
		typ = bus.Type(rawType)
	}
	priority := bus.PriorityNormal
	if rawPriority, ok := args["priority"].(string); ok {
		if p, known := priorityNames[rawPriority]; known {
			priority = p
		}
	}

	msg := t.Bus.Send(self.AgentID, to, content, typ, priority, nil)
	return tool.Result{Success: true, Data: map[string]any{"message_id": msg.ID}}, nil
}

// WaitForMessage is the wait_for_message tool: poll the caller's inbox for
// unread messages, returning as soon as one arrives or the timeout elapses.
type WaitForMessage struct {
	Bus          *bus.Bus
	PollInterval time.Duration
}

func (t *WaitForMessage) Name() string        { return "agentctl.wait_for_message" }
func (t *WaitForMessage) Description() string { return "Block until a message arrives in this agent's inbox, or a timeout elapses." }
func (t *WaitForMessage) Schema() string {
	return `{"type":"object","properties":{"timeout_seconds":{"type":"integer","minimum":1,"maximum":300}},"required":[]}`
}

func (t *WaitForMessage) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	self, err := currentContext(ctx)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	timeout := 30 * time.Second
	if seconds, ok := args["timeout_seconds"].(float64); ok && seconds > 0 {
		timeout = time.Duration(seconds) * time.Second
	}
	poll := t.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	deadline := time.Now().Add(timeout)
	for {
		if msgs := t.Bus.Receive(self.AgentID, true, true); len(msgs) > 0 {
			out := make([]map[string]any, len(msgs))
			for i, m := range msgs {
				out[i] = map[string]any{"from": m.From, "content": m.Content, "type": string(m.Type)}
			}
			return tool.Result{Success: true, Data: out}, nil
		}
		if time.Now().After(deadline) {
			return tool.Result{Success: true, Data: []map[string]any{}, Metadata: map[string]any{"timed_out": true}}, nil
		}
		select {
		case <-ctx.Done():
			return tool.Result{Success: false, Error: ctx.Err().Error()}, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// ViewAgentGraph is the view_agent_graph tool: a read-only snapshot of the
// current agent tree, for the orchestrator to decide what to dispatch next.
type ViewAgentGraph struct {
	Registry *graph.Registry
}

func (t *ViewAgentGraph) Name() string        { return "agentctl.view_agent_graph" }
func (t *ViewAgentGraph) Description() string { return "View the current agent tree: every agent's status and parent/child relationships." }
func (t *ViewAgentGraph) Schema() string      { return `{"type":"object","properties":{},"required":[]}` }

func (t *ViewAgentGraph) Execute(_ context.Context, _ map[string]any) (tool.Result, error) {
	stats := t.Registry.Statistics()
	byStatus := make(map[string]int, len(stats.ByStatus))
	for status, count := range stats.ByStatus {
		byStatus[string(status)] = count
	}
	return tool.Result{
		Success: true,
		Data: map[string]any{
			"total":     stats.Total,
			"max_depth": stats.MaxDepth,
			"by_status": byStatus,
		},
	}, nil
}

// RunSubAgents is the run_sub_agents tool: dispatch a batch of named child
// agents concurrently (bounded by pkg/executor) and block until they all
// finish. Unlike repeated dispatch_agent calls, the whole batch shares one
// concurrency-capped wave rather than running strictly sequentially.
type RunSubAgents struct {
	Spawner     Spawner
	Concurrency int
	Results     ResultSink // optional: if set, results are cached for later collect_sub_agent_results
}

func (t *RunSubAgents) Name() string { return "agentctl.run_sub_agents" }
func (t *RunSubAgents) Description() string {
	return "Dispatch several child agents concurrently and block until all of them return."
}
func (t *RunSubAgents) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"agents": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"name": {"type": "string"},
						"role": {"type": "string", "enum": ["recon", "analysis", "verification", "specialist"]},
						"task": {"type": "string"}
					},
					"required": ["name", "role", "task"]
				}
			}
		},
		"required": ["agents"]
	}`
}

func (t *RunSubAgents) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	parent, err := currentContext(ctx)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	rawAgents, _ := args["agents"].([]any)
	if len(rawAgents) == 0 {
		err := apperr.New(apperr.KindToolInputInvalid, "run_sub_agents requires a non-empty agents array", nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	tasks := make([]executor.Task, 0, len(rawAgents))
	for i, raw := range rawAgents {
		spec, _ := raw.(map[string]any)
		name, _ := spec["name"].(string)
		role, _ := spec["role"].(string)
		task, _ := spec["task"].(string)
		if name == "" || role == "" || task == "" {
			err := apperr.New(apperr.KindToolInputInvalid, "each run_sub_agents entry requires name, role and task", nil)
			return tool.Result{Success: false, Error: err.Error()}, err
		}
		tasks = append(tasks, executor.Task{
			ID: fmt.Sprintf("%s-%d", name, i),
			Run: func(runCtx context.Context) (any, error) {
				return t.Spawner.Dispatch(runCtx, parent, name, role, task)
			},
		})
	}

	concurrency := t.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	results, err := executor.New(concurrency).Execute(ctx, tasks)
	if err != nil {
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	out := make([]map[string]any, 0, len(tasks))
	var spawned []SpawnResult
	for _, task := range tasks {
		r := results[task.ID]
		entry := map[string]any{"task_id": task.ID, "skipped": r.Skipped}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
		} else if sr, ok := r.Value.(SpawnResult); ok {
			entry["agent_id"] = sr.AgentID
			entry["status"] = sr.Status
			entry["analysis"] = sr.Analysis
			spawned = append(spawned, sr)
		}
		out = append(out, entry)
	}
	if t.Results != nil && len(spawned) > 0 {
		t.Results.Store(spawned)
	}

	return tool.Result{Success: true, Data: out}, nil
}

// ResultSink caches SpawnResults from a run_sub_agents batch so a later
// collect_sub_agent_results call can retrieve them by agent ID without the
// caller having to thread the results through the conversation itself.
type ResultSink interface {
	Store(results []SpawnResult)
	Collect(agentIDs []string) []SpawnResult
}

// CollectSubAgentResults is the collect_sub_agent_results tool: retrieve
// previously cached results for a set of agent IDs returned by
// run_sub_agents. dispatch_agent results are not cached.
type CollectSubAgentResults struct {
	Results ResultSink
}

func (t *CollectSubAgentResults) Name() string { return "agentctl.collect_sub_agent_results" }
func (t *CollectSubAgentResults) Description() string {
	return "Retrieve the cached analysis and findings of previously dispatched sub-agents by agent ID."
}
func (t *CollectSubAgentResults) Schema() string {
	return `{"type":"object","properties":{"agent_ids":{"type":"array","items":{"type":"string"}}},"required":["agent_ids"]}`
}

func (t *CollectSubAgentResults) Execute(_ context.Context, args map[string]any) (tool.Result, error) {
	rawIDs, _ := args["agent_ids"].([]any)
	ids := make([]string, 0, len(rawIDs))
	for _, raw := range rawIDs {
		if id, ok := raw.(string); ok && id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		err := apperr.New(apperr.KindToolInputInvalid, "collect_sub_agent_results requires a non-empty agent_ids array", nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}

	results := t.Results.Collect(ids)
	out := make([]map[string]any, len(results))
	for i, r := range results {
		out[i] = map[string]any{
			"agent_id": r.AgentID, "status": r.Status, "analysis": r.Analysis,
			"finding_count": len(r.Findings),
		}
	}
	return tool.Result{Success: true, Data: out}, nil
}

// InMemoryResults is the default ResultSink: a mutex-guarded map keyed by
// agent ID, good for the lifetime of a single investigation.
type InMemoryResults struct {
	mu      sync.Mutex
	results map[string]SpawnResult
}

// NewInMemoryResults returns an empty ResultSink.
func NewInMemoryResults() *InMemoryResults {
	return &InMemoryResults{results: make(map[string]SpawnResult)}
}

func (r *InMemoryResults) Store(results []SpawnResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, res := range results {
		r.results[res.AgentID] = res
	}
}

func (r *InMemoryResults) Collect(agentIDs []string) []SpawnResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SpawnResult, 0, len(agentIDs))
	for _, id := range agentIDs {
		if res, ok := r.results[id]; ok {
			out = append(out, res)
		}
	}
	return out
}

// AgentFinish is the agent_finish tool: a child agent's explicit signal
// that it is done, carrying the same weight as a Final Answer. Registering
// it as a terminal tool (pkg/react.Loop.TerminalTools) lets an agent end
// its loop via a normal tool call instead of free-text "Final Answer:".
type AgentFinish struct{}

func (t *AgentFinish) Name() string        { return "agentctl.agent_finish" }
func (t *AgentFinish) Description() string { return "Signal that this agent's task is complete, with a final summary." }
func (t *AgentFinish) Schema() string {
	return `{"type":"object","properties":{"summary":{"type":"string"}},"required":["summary"]}`
}

func (t *AgentFinish) Execute(_ context.Context, args map[string]any) (tool.Result, error) {
	summary, _ := args["summary"].(string)
	if summary == "" {
		err := apperr.New(apperr.KindToolInputInvalid, "agent_finish requires summary", nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	return tool.Result{Success: true, Data: map[string]any{"summary": summary}}, nil
}

// FinishScan is the finish_scan tool: the orchestrator's explicit signal
// that the whole investigation is complete, not just one agent's sub-task.
// Also registered as a terminal tool; only meaningful on the root agent.
type FinishScan struct{}

func (t *FinishScan) Name() string        { return "agentctl.finish_scan" }
func (t *FinishScan) Description() string { return "Signal that the investigation is complete, with a final summary of all confirmed findings." }
func (t *FinishScan) Schema() string {
	return `{"type":"object","properties":{"summary":{"type":"string"}},"required":["summary"]}`
}

func (t *FinishScan) Execute(_ context.Context, args map[string]any) (tool.Result, error) {
	summary, _ := args["summary"].(string)
	if summary == "" {
		err := apperr.New(apperr.KindToolInputInvalid, "finish_scan requires summary", nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	return tool.Result{Success: true, Data: map[string]any{"summary": summary}}, nil
}

// FindingsSource provides read access to the investigation's accumulated,
// deduplicated finding set. Implemented by pkg/orchestrator.
type FindingsSource interface {
	Findings() []finding.Finding
}

// Summarize is the summarize tool: a deterministic digest of every
// finding gathered so far, grouped by severity and vulnerability type,
// so the orchestrator can review its running state without spending an
// LLM call on it. Only the orchestrator gets this tool: the finding set
// it reads spans the whole investigation, not one agent's sub-task.
type Summarize struct {
	Findings FindingsSource
}

func (t *Summarize) Name() string { return "agentctl.summarize" }
func (t *Summarize) Description() string {
	return "Summarize every finding gathered so far, grouped by severity and vulnerability type."
}
func (t *Summarize) Schema() string { return `{"type":"object","properties":{},"required":[]}` }

func (t *Summarize) Execute(_ context.Context, _ map[string]any) (tool.Result, error) {
	findings := t.Findings.Findings()
	if len(findings) == 0 {
		return tool.Result{
			Success:  true,
			Data:     "No findings have been reported yet.",
			Metadata: map[string]any{"total": 0},
		}, nil
	}

	bySeverity := map[string]int{}
	byType := map[string]int{}
	for _, f := range findings {
		bySeverity[string(f.Severity)]++
		vtype := f.VulnerabilityType
		if vtype == "" {
			vtype = "other"
		}
		byType[vtype]++
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Findings so far: %d total\n\nBy severity:\n", len(findings))
	for _, sev := range []string{"critical", "high", "medium", "low", "info"} {
		if count := bySeverity[sev]; count > 0 {
			fmt.Fprintf(&sb, "- %s: %d\n", sev, count)
		}
	}
	sb.WriteString("\nBy type:\n")
	types := make([]string, 0, len(byType))
	for vtype := range byType {
		types = append(types, vtype)
	}
	sort.Strings(types)
	for _, vtype := range types {
		fmt.Fprintf(&sb, "- %s: %d\n", vtype, byType[vtype])
	}
	sb.WriteString("\nDetails:\n")
	for i, f := range findings {
		fmt.Fprintf(&sb, "%d. [%s] %s (%s)\n", i+1, f.Severity, f.Title, f.FilePath)
	}

	return tool.Result{
		Success: true,
		Data: map[string]any{
			"summary":     sb.String(),
			"total":       len(findings),
			"by_severity": bySeverity,
			"by_type":     byType,
		},
		Metadata: map[string]any{"total": len(findings)},
	}, nil
}

// Think is the think tool: a scratchpad an agent can call to reason out
// loud without side effects, mirroring the ReAct Thought field for models
// that reason more reliably inside a tool call than free text.
type Think struct{}

func (t *Think) Name() string        { return "agentctl.think" }
func (t *Think) Description() string { return "Record a reasoning step without taking any action. Returns the thought unchanged." }
func (t *Think) Schema() string {
	return `{"type":"object","properties":{"thought":{"type":"string"}},"required":["thought"]}`
}

func (t *Think) Execute(_ context.Context, args map[string]any) (tool.Result, error) {
	thought, _ := args["thought"].(string)
	return tool.Result{Success: true, Data: map[string]any{"thought": thought}}, nil
}

// Reflect is the reflect tool: a heavier scratchpad than Think, meant for
// an agent to check its progress against its task before deciding whether
// to continue, dispatch more sub-agents, or finish.
type Reflect struct{}

func (t *Reflect) Name() string { return "agentctl.reflect" }
func (t *Reflect) Description() string {
	return "Reflect on progress so far against the assigned task before deciding the next step."
}
func (t *Reflect) Schema() string {
	return `{
		"type": "object",
		"properties": {
			"progress_summary": {"type": "string"},
			"remaining_gaps": {"type": "string"},
			"next_step": {"type": "string"}
		},
		"required": ["progress_summary"]
	}`
}

func (t *Reflect) Execute(_ context.Context, args map[string]any) (tool.Result, error) {
	summary, _ := args["progress_summary"].(string)
	if summary == "" {
		err := apperr.New(apperr.KindToolInputInvalid, "reflect requires progress_summary", nil)
		return tool.Result{Success: false, Error: err.Error()}, err
	}
	gaps, _ := args["remaining_gaps"].(string)
	next, _ := args["next_step"].(string)
	return tool.Result{
		Success: true,
		Data: map[string]any{"progress_summary": summary, "remaining_gaps": gaps, "next_step": next},
	}, nil
}
