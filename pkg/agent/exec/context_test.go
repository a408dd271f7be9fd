package exec

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildInheritsCorrelationAndTaskPushesTrace(t *testing.T) {
	root := New("corr-1", "task-1", "agent-root", "orchestrator")
	child := root.Child("agent-child", "recon")

	assert.Equal(t, root.CorrelationID, child.CorrelationID)
	assert.Equal(t, root.TaskID, child.TaskID)
	assert.Equal(t, root.AgentID, child.ParentAgentID)
	assert.Equal(t, []string{"orchestrator", "recon"}, child.TracePath)
	assert.Equal(t, root.Depth+1, child.Depth)
	assert.Equal(t, 0, child.Iteration)
}

func TestChildTracePathDoesNotAliasParent(t *testing.T) {
	root := New("c", "t", "a", "orchestrator")
	_ = root.Child("b", "recon")
	assert.Equal(t, []string{"orchestrator"}, root.TracePath)
}

func TestWithIteration(t *testing.T) {
	c := New("c", "t", "a", "orchestrator").WithIteration(5)
	assert.Equal(t, 5, c.Iteration)
}

func TestContextRoundTripsThroughStdContext(t *testing.T) {
	c := New("corr", "task", "agent", "orchestrator")
	ctx := WithContext(context.Background(), c)

	got, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, c, got)

	_, ok = FromContext(context.Background())
	assert.False(t, ok)
}

func TestStartSpanStoresContext(t *testing.T) {
	c := New("corr", "task", "agent", "orchestrator")
	spanCtx, end := StartSpan(context.Background(), c, "test-span")
	defer end()

	got, ok := FromContext(spanCtx)
	require.True(t, ok)
	assert.Equal(t, c, got)
}
