package orchestrator

import (
	"context"
	"log/slog"

	execctx "github.com/codeready-toolchain/secaudit/pkg/agent/exec"
	"github.com/codeready-toolchain/secaudit/pkg/agent/state"
	"github.com/codeready-toolchain/secaudit/pkg/checkpoint"
	"github.com/codeready-toolchain/secaudit/pkg/graph"
	"github.com/codeready-toolchain/secaudit/pkg/llm"
	"github.com/codeready-toolchain/secaudit/pkg/react"
)

// persistAgentRecord writes the durable Agent row a dispatched agent's
// checkpoints will reference, when checkpointing is configured. Best
// effort: a failure here is logged, not surfaced, since the in-memory
// graph.Registry (not this row) is what the running investigation
// actually depends on.
func (o *Orchestrator) persistAgentRecord(ctx context.Context, agentCtx execctx.Context, name, role, parentID, task string) {
	if o.Checkpoints == nil {
		return
	}
	rec := checkpoint.AgentRecord{
		ID:            agentCtx.AgentID,
		TaskID:        agentCtx.TaskID,
		CorrelationID: agentCtx.CorrelationID,
		ParentAgentID: parentID,
		Name:          name,
		Role:          role,
		Depth:         agentCtx.Depth,
		Task:          task,
	}
	if err := o.Checkpoints.EnsureAgent(ctx, rec); err != nil {
		slog.Warn("failed to persist durable agent record", "agent_id", agentCtx.AgentID, "error", err)
	}
}

// persistAgentStatus mirrors a terminal (or failed-before-start) status
// transition into the durable Agent row, when checkpointing is
// configured.
func (o *Orchestrator) persistAgentStatus(ctx context.Context, agentID string, status graph.Status, iterations int, analysis string) {
	if o.Checkpoints == nil {
		return
	}
	if err := o.Checkpoints.UpdateAgentStatus(ctx, agentID, string(status), iterations, analysis); err != nil {
		slog.Warn("failed to persist agent status", "agent_id", agentID, "status", status, "error", err)
	}
}

// checkpointAdapter implements react.Checkpointer against a durable
// pkg/checkpoint.Store, translating a Loop's iteration/status/messages
// into the agent/state.Snapshot shape the store persists. One adapter is
// built per dispatched agent so Checkpoint never has to thread an agent
// ID through the Loop itself.
type checkpointAdapter struct {
	store   *checkpoint.Store
	agentID string
	keep    int
}

func (a *checkpointAdapter) Checkpoint(ctx context.Context, iteration int, status react.Status, messages []llm.Message, terminal bool) {
	if a.store == nil {
		return
	}
	gs := graph.StatusRunning
	switch status {
	case react.StatusCompleted:
		gs = graph.StatusCompleted
	case react.StatusFailed:
		gs = graph.StatusFailed
	}

	snap := state.NewSnapshot(a.agentID, iteration, gs, messages, "")
	if _, err := a.store.Save(ctx, a.agentID, iteration, snap.ToMap()); err != nil {
		slog.Warn("failed to save agent checkpoint", "agent_id", a.agentID, "iteration", iteration, "error", err)
		return
	}
	if terminal {
		keep := a.keep
		if keep <= 0 {
			keep = 5
		}
		if _, err := a.store.Prune(ctx, a.agentID, keep); err != nil {
			slog.Warn("failed to prune agent checkpoint history", "agent_id", a.agentID, "error", err)
		}
	}
}
