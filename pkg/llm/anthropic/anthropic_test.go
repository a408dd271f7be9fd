package anthropic

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/llm"
)

func TestSystemPrompt_ExtractsTheSystemMessage(t *testing.T) {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: "you are a recon agent"},
		{Role: llm.RoleUser, Content: "scan app.py"},
	}
	assert.Equal(t, "you are a recon agent", systemPrompt(messages))
}

func TestSystemPrompt_EmptyWhenNoSystemMessage(t *testing.T) {
	messages := []llm.Message{{Role: llm.RoleUser, Content: "scan app.py"}}
	assert.Equal(t, "", systemPrompt(messages))
}

func TestClassifyRetryable_MatchesRecoverableAppErrors(t *testing.T) {
	retryable := apperr.New(apperr.KindLLMRateLimit, "rate limited", nil)
	assert.True(t, classifyRetryable(retryable))

	nonRetryable := apperr.New(apperr.KindLLMAuth, "bad api key", nil)
	assert.False(t, classifyRetryable(nonRetryable))

	assert.False(t, classifyRetryable(errors.New("plain error")))
}
