package state

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/secaudit/pkg/graph"
	"github.com/codeready-toolchain/secaudit/pkg/llm"
	"github.com/codeready-toolchain/secaudit/pkg/react"
)

func TestFromLoopResult(t *testing.T) {
	tests := []struct {
		name string
		res  *react.Result
		want graph.Status
	}{
		{"nil result", nil, graph.StatusFailed},
		{"completed", &react.Result{Status: react.StatusCompleted}, graph.StatusCompleted},
		{"failed", &react.Result{Status: react.StatusFailed}, graph.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromLoopResult(tt.res))
		})
	}
}

func TestFromError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want graph.Status
	}{
		{"nil error", nil, graph.StatusCompleted},
		{"cancelled", context.Canceled, graph.StatusCancelled},
		{"deadline exceeded folds to failed", context.DeadlineExceeded, graph.StatusFailed},
		{"other error", errors.New("boom"), graph.StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FromError(tt.err))
		})
	}
}

func TestSnapshotRoundTripsThroughMap(t *testing.T) {
	original := NewSnapshot("agent-1", 3, graph.StatusRunning, []llm.Message{
		{Role: llm.RoleSystem, Content: "you are a recon agent"},
		{Role: llm.RoleAssistant, Content: "Thought: looking for injection flaws"},
	}, "")

	restored := FromMap(original.ToMap())

	assert.Equal(t, original.AgentID, restored.AgentID)
	assert.Equal(t, original.Iteration, restored.Iteration)
	assert.Equal(t, original.Status, restored.Status)
	assert.Equal(t, original.Analysis, restored.Analysis)
	if assert.Len(t, restored.Messages, 2) {
		assert.Equal(t, original.Messages[0].Role, restored.Messages[0].Role)
		assert.Equal(t, original.Messages[0].Content, restored.Messages[0].Content)
		assert.Equal(t, original.Messages[1].Content, restored.Messages[1].Content)
	}
}

func TestNewSnapshotClonesMessages(t *testing.T) {
	msgs := []llm.Message{{Role: llm.RoleUser, Content: "task"}}
	snap := NewSnapshot("agent-1", 0, graph.StatusPending, msgs, "")

	msgs[0].Content = "mutated after snapshot"

	assert.Equal(t, "task", snap.Messages[0].Content)
}
