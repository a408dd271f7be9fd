// Package state maps a dispatched agent's run outcome onto a terminal
// graph.Status and snapshots its conversation for checkpointing. An
// errors.Is(context.Canceled) check distinguishes cancellation from a
// genuine failure; a deadline exceeded error, any other error, or a nil
// loop result folds to failed.
package state

import (
	"context"
	"errors"

	"github.com/codeready-toolchain/secaudit/pkg/graph"
	"github.com/codeready-toolchain/secaudit/pkg/llm"
	"github.com/codeready-toolchain/secaudit/pkg/react"
)

// Snapshot is the checkpointed state of one agent's run: enough to
// resume the ReAct loop (the conversation so far) or to report what it
// was doing when it stopped.
type Snapshot struct {
	AgentID   string
	Iteration int
	Status    graph.Status
	Messages  []llm.Message
	Analysis  string
}

// FromLoopResult maps a completed react.Loop run onto a terminal
// graph.Status. A nil result (programming error, never expected from
// Loop.Run) is treated as failed rather than panicking.
func FromLoopResult(res *react.Result) graph.Status {
	if res == nil {
		return graph.StatusFailed
	}
	if res.Status == react.StatusCompleted {
		return graph.StatusCompleted
	}
	return graph.StatusFailed
}

// FromError maps an error returned directly from Loop.Run (rather than
// carried inside a react.Result) onto a terminal graph.Status. graph.Status
// has no distinct "timed out" value, so a deadline exceeded error folds
// into failed same as any other error; cancellation is distinguished
// because a cancelled agent should not count against retry/failure
// budgets the way a genuine failure does.
func FromError(err error) graph.Status {
	switch {
	case err == nil:
		return graph.StatusCompleted
	case errors.Is(err, context.Canceled):
		return graph.StatusCancelled
	default:
		return graph.StatusFailed
	}
}

// NewSnapshot builds a Snapshot for checkpointing mid-run or at
// completion.
func NewSnapshot(agentID string, iteration int, status graph.Status, messages []llm.Message, analysis string) Snapshot {
	cloned := make([]llm.Message, len(messages))
	copy(cloned, messages)
	return Snapshot{AgentID: agentID, Iteration: iteration, Status: status, Messages: cloned, Analysis: analysis}
}

// ToMap renders a Snapshot as the JSON-friendly map[string]interface{}
// shape ent/schema/checkpoint.go's Snapshot JSON field stores.
func (s Snapshot) ToMap() map[string]interface{} {
	messages := make([]map[string]interface{}, len(s.Messages))
	for i, m := range s.Messages {
		messages[i] = map[string]interface{}{
			"role":         string(m.Role),
			"content":      m.Content,
			"tool_call_id": m.ToolCallID,
			"tool_name":    m.ToolName,
		}
	}
	return map[string]interface{}{
		"agent_id":  s.AgentID,
		"iteration": s.Iteration,
		"status":    string(s.Status),
		"messages":  messages,
		"analysis":  s.Analysis,
	}
}

// FromMap reconstructs a Snapshot from the map produced by ToMap, as
// returned by an ent.Checkpoint's Snapshot field after a JSON round trip.
func FromMap(m map[string]interface{}) Snapshot {
	s := Snapshot{}
	if v, ok := m["agent_id"].(string); ok {
		s.AgentID = v
	}
	if v, ok := m["iteration"].(float64); ok {
		s.Iteration = int(v)
	}
	if v, ok := m["status"].(string); ok {
		s.Status = graph.Status(v)
	}
	if v, ok := m["analysis"].(string); ok {
		s.Analysis = v
	}
	if rawMsgs, ok := m["messages"].([]interface{}); ok {
		s.Messages = make([]llm.Message, 0, len(rawMsgs))
		for _, raw := range rawMsgs {
			entry, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			msg := llm.Message{}
			if v, ok := entry["role"].(string); ok {
				msg.Role = llm.Role(v)
			}
			if v, ok := entry["content"].(string); ok {
				msg.Content = v
			}
			if v, ok := entry["tool_call_id"].(string); ok {
				msg.ToolCallID = v
			}
			if v, ok := entry["tool_name"].(string); ok {
				msg.ToolName = v
			}
			s.Messages = append(s.Messages, msg)
		}
	}
	return s
}
