package react

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/llm"
	"github.com/codeready-toolchain/secaudit/pkg/resilience/fallback"
	"github.com/codeready-toolchain/secaudit/pkg/tool"
)

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
	ch <- &llm.UsageChunk{InputTokens: 10, OutputTokens: 5, TotalTokens: 15}
	close(ch)
	return ch, nil
}

func (c *scriptedClient) Close() error { return nil }

type erroringClient struct{ err error }

func (c *erroringClient) Generate(ctx context.Context, input llm.GenerateInput) (<-chan llm.Chunk, error) {
	return nil, c.err
}
func (c *erroringClient) Close() error { return nil }

type echoTool struct{}

func (echoTool) Name() string        { return "fileset.read_file" }
func (echoTool) Description() string { return "reads a file" }
func (echoTool) Schema() string      { return "" }
func (echoTool) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	return tool.Result{Success: true, Data: "package main"}, nil
}

func newRegistry(t *testing.T) *tool.Registry {
	t.Helper()
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(echoTool{}))
	return reg
}

func TestLoopReturnsFinalAnswerImmediately(t *testing.T) {
	loop := &Loop{
		Client: &scriptedClient{responses: []string{"Thought: done.\nFinal Answer: clean."}},
		Tools:  newRegistry(t),
	}
	result, err := loop.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "go"}})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "clean.", result.FinalAnalysis)
	assert.Equal(t, 1, result.Iterations)
}

type recordingCheckpointer struct {
	calls    int
	terminal int
}

func (c *recordingCheckpointer) Checkpoint(ctx context.Context, iteration int, status Status, messages []llm.Message, terminal bool) {
	c.calls++
	if terminal {
		c.terminal++
	}
}

func TestLoopCheckpointsOnTerminalTransition(t *testing.T) {
	cp := &recordingCheckpointer{}
	loop := &Loop{
		Client:       &scriptedClient{responses: []string{"Thought: done.\nFinal Answer: clean."}},
		Tools:        newRegistry(t),
		Checkpointer: cp,
	}
	result, err := loop.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "go"}})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, cp.calls)
	assert.Equal(t, 1, cp.terminal)
}

func TestLoopCheckpointsPeriodicallyAcrossIterations(t *testing.T) {
	responses := make([]string, 0, 6)
	for i := 0; i < 5; i++ {
		responses = append(responses, "Thought: still working.\nAction: fileset.read_file\nAction Input: {\"path\": \"a.go\"}")
	}
	responses = append(responses, "Thought: done.\nFinal Answer: clean.")

	cp := &recordingCheckpointer{}
	loop := &Loop{
		Client:          &scriptedClient{responses: responses},
		Tools:           newRegistry(t),
		Checkpointer:    cp,
		CheckpointEvery: 2,
		MaxIterations:   10,
	}
	result, err := loop.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "go"}})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	// Periodic checkpoints fire on iterations 2 and 4, plus one terminal
	// checkpoint on the Final Answer iteration.
	assert.Equal(t, 3, cp.calls)
	assert.Equal(t, 1, cp.terminal)
}

func TestLoopExecutesToolThenConcludes(t *testing.T) {
	loop := &Loop{
		Client: &scriptedClient{responses: []string{
			"Thought: inspect.\nAction: fileset.read_file\nAction Input: {\"path\": \"main.go\"}",
			"Thought: reviewed.\nFinal Answer: no issues.",
		}},
		Tools: newRegistry(t),
	}

	var observed string
	loop.Observer.OnObservation = func(iteration int, observation string, isError bool) {
		observed = observation
		assert.False(t, isError)
	}

	result, err := loop.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "go"}})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "no issues.", result.FinalAnalysis)
	assert.Contains(t, observed, "package main")
}

func TestLoopUnknownToolProducesObservationAndContinues(t *testing.T) {
	loop := &Loop{
		Client: &scriptedClient{responses: []string{
			"Thought: try.\nAction: fileset.delete_everything\nAction Input: {}",
			"Final Answer: gave up.",
		}},
		Tools: newRegistry(t),
	}
	result, err := loop.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "go"}})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "gave up.", result.FinalAnalysis)
}

func TestLoopForcesConclusionAtIterationLimit(t *testing.T) {
	loop := &Loop{
		Client: &scriptedClient{responses: []string{
			"Thought: still looking.\nAction: fileset.read_file\nAction Input: {\"path\": \"a.go\"}",
		}},
		Tools:         newRegistry(t),
		MaxIterations: 2,
	}
	result, err := loop.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "go"}})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.NotEmpty(t, result.FinalAnalysis)
}

func TestLoopAbortsAfterConsecutiveFailures(t *testing.T) {
	loop := &Loop{
		Client:                  &erroringClient{err: errors.New("provider unavailable")},
		Tools:                   newRegistry(t),
		ConsecutiveFailureLimit: 2,
		MaxIterations:           5,
	}
	result, err := loop.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "go"}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Error(t, result.Err)
}

func TestLoopFailsAfterConsecutiveEmptyResponses(t *testing.T) {
	loop := &Loop{
		Client:          &scriptedClient{responses: []string{""}},
		Tools:           newRegistry(t),
		EmptyRetryLimit: 3,
		MaxIterations:   10,
	}
	result, err := loop.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "go"}})
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, result.Status)
	require.Error(t, result.Err)
	kind, ok := apperr.KindOf(result.Err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindLLMInvalidResp, kind)
}

func TestLoopRecoversFromSingleEmptyResponse(t *testing.T) {
	loop := &Loop{
		Client: &scriptedClient{responses: []string{
			"",
			"Thought: done.\nFinal Answer: clean.",
		}},
		Tools:           newRegistry(t),
		EmptyRetryLimit: 3,
	}
	result, err := loop.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "go"}})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, "clean.", result.FinalAnalysis)
}

type failingTool struct{ calls int }

func (t *failingTool) Name() string        { return "scanner.semgrep_scan" }
func (t *failingTool) Description() string { return "always fails" }
func (t *failingTool) Schema() string      { return "" }
func (t *failingTool) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	t.calls++
	return tool.Result{Success: false, Error: "scanner binary missing"}, nil
}

func TestLoopInjectsRemediationAfterRepeatedIdenticalFailures(t *testing.T) {
	reg := tool.NewRegistry()
	failing := &failingTool{}
	require.NoError(t, reg.Register(failing))
	require.NoError(t, reg.Register(echoTool{}))

	call := "Thought: scan.\nAction: scanner.semgrep_scan\nAction Input: {\"target\": \".\"}"
	loop := &Loop{
		Client: &scriptedClient{responses: []string{
			call, call, call,
			"Final Answer: gave up on the scanner.",
		}},
		Tools:         reg,
		MaxIterations: 10,
	}

	var observations []string
	loop.Observer.OnObservation = func(iteration int, observation string, isError bool) {
		observations = append(observations, observation)
	}

	result, err := loop.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "go"}})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	require.Len(t, observations, 3)
	assert.NotContains(t, observations[0], "failed several times")
	assert.NotContains(t, observations[1], "failed several times")
	assert.Contains(t, observations[2], "failed several times")
	assert.Contains(t, observations[2], "fileset.read_file")
	assert.Equal(t, 3, failing.calls)
}

type countingSuccessTool struct{ calls int }

func (t *countingSuccessTool) Name() string        { return "patternmatch.pattern_match" }
func (t *countingSuccessTool) Description() string { return "fallback sweep" }
func (t *countingSuccessTool) Schema() string      { return "" }
func (t *countingSuccessTool) Execute(ctx context.Context, args map[string]any) (tool.Result, error) {
	t.calls++
	return tool.Result{Success: true, Data: "2 potential issues"}, nil
}

func TestLoopRunsFallbackToolWhenPrimaryFails(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(&failingTool{}))
	fallbackTool := &countingSuccessTool{}
	require.NoError(t, reg.Register(fallbackTool))

	loop := &Loop{
		Client: &scriptedClient{responses: []string{
			"Thought: scan.\nAction: scanner.semgrep_scan\nAction Input: {\"target\": \".\"}",
			"Final Answer: done.",
		}},
		Tools:     reg,
		Fallbacks: fallback.New(fallback.DefaultConfig()),
	}

	var observed string
	loop.Observer.OnObservation = func(iteration int, observation string, isError bool) {
		observed = observation
		assert.False(t, isError)
	}

	result, err := loop.Run(context.Background(), []llm.Message{{Role: llm.RoleUser, Content: "go"}})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, result.Status)
	assert.Equal(t, 1, fallbackTool.calls)
	assert.Contains(t, observed, "patternmatch.pattern_match")
	assert.Contains(t, observed, "2 potential issues")
}
