package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/resilience/breaker"
	"github.com/codeready-toolchain/secaudit/pkg/resilience/ratelimit"
)

type stubClient struct {
	calls     int
	responses []func() (<-chan Chunk, error)
}

func (s *stubClient) Generate(_ context.Context, _ GenerateInput) (<-chan Chunk, error) {
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i]()
}

func (s *stubClient) Close() error { return nil }

func textChannel(text string) (<-chan Chunk, error) {
	ch := make(chan Chunk, 1)
	ch <- &TextChunk{Content: text}
	close(ch)
	return ch, nil
}

func TestShimGeneratePassesThroughOnSuccess(t *testing.T) {
	stub := &stubClient{responses: []func() (<-chan Chunk, error){
		func() (<-chan Chunk, error) { return textChannel("hello") },
	}}
	shim := NewShim(stub, ratelimit.NewRegistry(), breaker.NewRegistry(breaker.DefaultConfig(), nil))

	ch, err := shim.Generate(context.Background(), GenerateInput{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)

	text, _, _, _ := Collect(ch)
	assert.Equal(t, "hello", text)
}

func TestShimRetriesRecoverableErrorThenSucceeds(t *testing.T) {
	attempt := 0
	stub := &stubClient{responses: []func() (<-chan Chunk, error){
		func() (<-chan Chunk, error) {
			attempt++
			return nil, apperr.New(apperr.KindLLMConnection, "connection reset", nil)
		},
		func() (<-chan Chunk, error) { return textChannel("recovered") },
	}}
	shim := NewShim(stub, ratelimit.NewRegistry(), breaker.NewRegistry(breaker.DefaultConfig(), nil))

	ch, err := shim.Generate(context.Background(), GenerateInput{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.NoError(t, err)
	text, _, _, _ := Collect(ch)
	assert.Equal(t, "recovered", text)
	assert.Equal(t, 1, attempt)
	assert.Equal(t, 2, stub.calls)
}

func TestShimReducesContextOnContextLengthError(t *testing.T) {
	stub := &stubClient{responses: []func() (<-chan Chunk, error){
		func() (<-chan Chunk, error) {
			return nil, apperr.New(apperr.KindLLMContextLength, "too long", nil)
		},
	}}
	shim := NewShim(stub, ratelimit.NewRegistry(), breaker.NewRegistry(breaker.DefaultConfig(), nil))

	messages := make([]Message, 0, 10)
	messages = append(messages, Message{Role: RoleSystem, Content: "sys"})
	for i := 0; i < 8; i++ {
		messages = append(messages, Message{Role: RoleUser, Content: "msg"})
	}

	_, err := shim.Generate(context.Background(), GenerateInput{Messages: messages})
	require.Error(t, err)
}
