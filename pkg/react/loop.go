// Package react also provides Loop, the Reason+Act iteration loop that
// drives Parse: build a prompt, call the LLM, parse the response,
// dispatch the requested tool or format feedback, append the
// observation, and repeat until a Final Answer or the iteration cap.
package react

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/secaudit/pkg/apperr"
	"github.com/codeready-toolchain/secaudit/pkg/jsonrepair"
	"github.com/codeready-toolchain/secaudit/pkg/llm"
	"github.com/codeready-toolchain/secaudit/pkg/resilience/fallback"
	"github.com/codeready-toolchain/secaudit/pkg/tool"
)

// Status is the terminal state of a Loop run.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Result is the outcome of running a Loop to completion.
type Result struct {
	Status        Status
	FinalAnalysis string
	Iterations    int
	Usage         llm.UsageChunk
	Err           error
}

// Observer receives loop progress for timeline/event recording; any hook
// left nil is simply not called.
type Observer struct {
	OnThought     func(iteration int, thought string)
	OnToolCall    func(iteration int, action, input string)
	OnObservation func(iteration int, observation string, isError bool)
	OnFinalAnswer func(answer string)
	OnError       func(iteration int, err error)
}

// Checkpointer receives a snapshot of the loop's conversation state at
// iteration boundaries so a crashed or cancelled run can be resumed rather
// than restarted from scratch. terminal is true for the snapshot taken at
// a Completed/Failed transition. A nil Checkpointer disables checkpointing
// entirely.
type Checkpointer interface {
	Checkpoint(ctx context.Context, iteration int, status Status, messages []llm.Message, terminal bool)
}

// Loop drives a single agent's Reason+Act cycle over a conversation.
type Loop struct {
	Client           llm.Client
	Tools            *tool.Registry
	MaxIterations    int
	IterationTimeout time.Duration
	Observer         Observer

	// Checkpointer, when set, is called every CheckpointEvery iterations
	// (default 5) and once more at the loop's terminal transition.
	Checkpointer    Checkpointer
	CheckpointEvery int

	// ConsecutiveFailureLimit aborts the loop early after this many
	// back-to-back failed LLM calls, rather than burning every remaining
	// iteration on a provider that is clearly down.
	ConsecutiveFailureLimit int

	// EmptyRetryLimit bounds how many consecutive empty model responses
	// are answered with a format reminder before the loop fails the run
	// outright (default 5). Each reminder is preceded by a short,
	// cancellable sleep that doubles per consecutive empty response, since
	// an empty completion usually means the provider is momentarily
	// degraded rather than confused.
	EmptyRetryLimit int

	// Fallbacks, when set, is consulted after a failed tool call: if its
	// substitution table maps the failed tool to another registered tool,
	// that tool runs with the same arguments and its output becomes the
	// observation instead of the bare failure.
	Fallbacks *fallback.Handler

	// TerminalTools names tools whose successful result ends the loop the
	// same way a Final Answer does (e.g. agentctl.agent_finish,
	// agentctl.finish_scan), for models that reason more reliably through
	// a structured tool call than through the free-text Final Answer
	// convention. The tool's "summary" data field becomes FinalAnalysis;
	// a failed call falls through to the normal tool-error observation and
	// the loop continues.
	TerminalTools map[string]bool
}

// Run executes the loop starting from an initial conversation (typically
// a system prompt plus the investigation task), returning once a Final
// Answer is produced, the iteration cap is hit and a forced conclusion is
// extracted, or the consecutive-failure limit trips.
func (l *Loop) Run(ctx context.Context, messages []llm.Message) (*Result, error) {
	maxIter := l.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}
	failureLimit := l.ConsecutiveFailureLimit
	if failureLimit <= 0 {
		failureLimit = 3
	}

	tools := l.Tools.List()
	toolNames := map[string]bool{}
	for _, t := range tools {
		toolNames[t.Name] = true
	}

	checkpointEvery := l.CheckpointEvery
	if checkpointEvery <= 0 {
		checkpointEvery = 5
	}

	emptyLimit := l.EmptyRetryLimit
	if emptyLimit <= 0 {
		emptyLimit = 5
	}

	totalUsage := llm.UsageChunk{}
	consecutiveFailures := 0
	emptyRetries := 0
	lastFailureKey := ""
	identicalFailures := 0
	var lastErr error

	for iteration := 1; iteration <= maxIter; iteration++ {
		if consecutiveFailures >= failureLimit {
			l.checkpoint(ctx, iteration-1, StatusFailed, messages, true)
			return &Result{Status: StatusFailed, Iterations: iteration - 1, Usage: totalUsage, Err: lastErr}, nil
		}

		iterCtx := ctx
		var cancel context.CancelFunc
		if l.IterationTimeout > 0 {
			iterCtx, cancel = context.WithTimeout(ctx, l.IterationTimeout)
		}

		text, usage, err := l.callLLM(iterCtx, messages)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			consecutiveFailures++
			lastErr = err
			l.notifyError(iteration, err)
			observation := FormatErrorObservation(err)
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: observation})
			continue
		}
		consecutiveFailures = 0
		addUsage(&totalUsage, usage)

		if strings.TrimSpace(text) == "" {
			emptyRetries++
			if emptyRetries >= emptyLimit {
				emptyErr := apperr.New(apperr.KindLLMInvalidResp,
					fmt.Sprintf("model returned %d consecutive empty responses", emptyRetries), nil)
				l.notifyError(iteration, emptyErr)
				l.checkpoint(ctx, iteration, StatusFailed, messages, true)
				return &Result{Status: StatusFailed, Iterations: iteration, Usage: totalUsage, Err: emptyErr}, nil
			}
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: FormatCorrectionReminder()})
			select {
			case <-ctx.Done():
				l.checkpoint(ctx, iteration, StatusFailed, messages, true)
				return &Result{Status: StatusFailed, Iterations: iteration, Usage: totalUsage, Err: ctx.Err()}, nil
			case <-time.After(emptyRetryDelay(emptyRetries)):
			}
			continue
		}
		emptyRetries = 0

		messages = append(messages, llm.Message{Role: llm.RoleAssistant, Content: text})

		parsed := Parse(text)
		if parsed.Thought != "" && l.Observer.OnThought != nil {
			l.Observer.OnThought(iteration, parsed.Thought)
		}

		switch {
		case parsed.IsFinalAnswer:
			if l.Observer.OnFinalAnswer != nil {
				l.Observer.OnFinalAnswer(parsed.FinalAnswer)
			}
			l.checkpoint(ctx, iteration, StatusCompleted, messages, true)
			return &Result{Status: StatusCompleted, FinalAnalysis: parsed.FinalAnswer, Iterations: iteration, Usage: totalUsage}, nil

		case parsed.HasAction && !parsed.IsUnknownTool:
			if !toolNames[parsed.Action] {
				observation := FormatUnknownToolError(fmt.Sprintf("Unknown tool '%s'", parsed.Action), tools)
				l.notifyObservation(iteration, observation, true)
				messages = append(messages, llm.Message{Role: llm.RoleUser, Content: observation})
				continue
			}

			if l.Observer.OnToolCall != nil {
				l.Observer.OnToolCall(iteration, parsed.Action, parsed.ActionInput)
			}

			args, parseErr := decodeArgs(parsed.ActionInput)
			if parseErr != nil {
				observation := FormatToolErrorObservation(parseErr)
				l.notifyObservation(iteration, observation, true)
				messages = append(messages, llm.Message{Role: llm.RoleUser, Content: observation})
				continue
			}

			// Tool calls run under the loop's own context rather than the
			// iteration timeout, which is released once the LLM call
			// returns; every tool bounds its own execution time.
			result, toolErr := l.Tools.Execute(ctx, parsed.Action, args)
			failed := toolErr != nil || !result.Success
			var observation string
			switch {
			case toolErr != nil:
				if fbObs, ok := l.tryFallback(ctx, parsed.Action, args, toolErr); ok {
					observation, failed = fbObs, false
				} else {
					observation = FormatToolErrorObservation(toolErr)
				}
			case !result.Success:
				if fbObs, ok := l.tryFallback(ctx, parsed.Action, args, errors.New(result.Error)); ok {
					observation, failed = fbObs, false
				} else {
					observation = FormatObservation(parsed.Action, result)
				}
			default:
				observation = FormatObservation(parsed.Action, result)
			}
			if failed {
				key := parsed.Action + "\x00" + parsed.ActionInput
				if key == lastFailureKey {
					identicalFailures++
				} else {
					lastFailureKey, identicalFailures = key, 1
				}
				if identicalFailures >= identicalFailureLimit {
					observation += "\n\n" + FormatRepeatedFailureNotice(parsed.Action, tools)
					lastFailureKey, identicalFailures = "", 0
				}
			} else {
				lastFailureKey, identicalFailures = "", 0
			}

			l.notifyObservation(iteration, observation, failed)

			if !failed && toolErr == nil && result.Success && l.TerminalTools[parsed.Action] {
				summary := terminalSummary(result)
				if l.Observer.OnFinalAnswer != nil {
					l.Observer.OnFinalAnswer(summary)
				}
				l.checkpoint(ctx, iteration, StatusCompleted, messages, true)
				return &Result{Status: StatusCompleted, FinalAnalysis: summary, Iterations: iteration, Usage: totalUsage}, nil
			}

			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: observation})

		case parsed.IsUnknownTool:
			observation := FormatUnknownToolError(parsed.ErrorMessage, tools)
			l.notifyObservation(iteration, observation, true)
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: observation})

		default:
			feedback := FormatErrorFeedback(parsed)
			l.notifyObservation(iteration, feedback, true)
			messages = append(messages, llm.Message{Role: llm.RoleUser, Content: feedback})
		}

		if iteration%checkpointEvery == 0 {
			l.checkpoint(ctx, iteration, "", messages, false)
		}
	}

	return l.forceConclusion(ctx, messages, totalUsage)
}

// checkpoint calls the configured Checkpointer, if any, swallowing no
// errors of its own since persistence failures are the Checkpointer
// implementation's concern, not the loop's.
func (l *Loop) checkpoint(ctx context.Context, iteration int, status Status, messages []llm.Message, terminal bool) {
	if l.Checkpointer == nil {
		return
	}
	l.Checkpointer.Checkpoint(ctx, iteration, status, messages, terminal)
}

func (l *Loop) forceConclusion(ctx context.Context, messages []llm.Message, usage llm.UsageChunk) (*Result, error) {
	prompt := "You have reached the iteration limit. Provide your best Final Answer now " +
		"based on everything gathered so far, using \"Final Answer:\" exactly as described."
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: prompt})

	iterCtx := ctx
	var cancel context.CancelFunc
	if l.IterationTimeout > 0 {
		iterCtx, cancel = context.WithTimeout(ctx, l.IterationTimeout)
		defer cancel()
	}

	text, callUsage, err := l.callLLM(iterCtx, messages)
	if err != nil {
		l.checkpoint(ctx, -1, StatusFailed, messages, true)
		return &Result{Status: StatusFailed, Usage: usage, Err: fmt.Errorf("forced conclusion call failed: %w", err)}, nil
	}
	addUsage(&usage, callUsage)

	parsed := Parse(text)
	if parsed.Thought != "" && l.Observer.OnThought != nil {
		l.Observer.OnThought(-1, parsed.Thought)
	}

	finalAnswer := ExtractForcedConclusionAnswer(parsed)
	if finalAnswer == "" {
		finalAnswer = text
	}
	if l.Observer.OnFinalAnswer != nil {
		l.Observer.OnFinalAnswer(finalAnswer)
	}

	l.checkpoint(ctx, -1, StatusCompleted, messages, true)
	return &Result{Status: StatusCompleted, FinalAnalysis: finalAnswer, Usage: usage}, nil
}

func (l *Loop) callLLM(ctx context.Context, messages []llm.Message) (string, llm.UsageChunk, error) {
	ch, err := l.Client.Generate(ctx, llm.GenerateInput{Messages: messages})
	if err != nil {
		return "", llm.UsageChunk{}, err
	}
	text, _, usage, errChunk := llm.Collect(ch)
	if errChunk != nil {
		return "", usage, fmt.Errorf("%s", errChunk.Message)
	}
	return text, usage, nil
}

func (l *Loop) notifyObservation(iteration int, observation string, isError bool) {
	if l.Observer.OnObservation != nil {
		l.Observer.OnObservation(iteration, observation, isError)
	}
}

func (l *Loop) notifyError(iteration int, err error) {
	if l.Observer.OnError != nil {
		l.Observer.OnError(iteration, err)
	}
}

// terminalSummary pulls the "summary" field out of a terminal tool's
// result data, falling back to the raw observation text if the tool
// returned something unstructured.
func terminalSummary(result tool.Result) string {
	if data, ok := result.Data.(map[string]any); ok {
		if summary, ok := data["summary"].(string); ok && summary != "" {
			return summary
		}
	}
	return FormatObservation("", result)
}

func addUsage(total *llm.UsageChunk, delta llm.UsageChunk) {
	total.InputTokens += delta.InputTokens
	total.OutputTokens += delta.OutputTokens
	total.TotalTokens += delta.TotalTokens
	total.ThinkingTokens += delta.ThinkingTokens
}

// identicalFailureLimit is how many consecutive identical failing tool
// calls are tolerated before the observation gains a remediation notice
// steering the model toward a different tool.
const identicalFailureLimit = 3

// tryFallback consults the fallback handler's substitution table for a
// replacement tool and, when one is configured and registered, runs it
// with the original arguments. The returned observation names both tools
// so the model knows whose output it is reading.
func (l *Loop) tryFallback(ctx context.Context, action string, args map[string]any, cause error) (string, bool) {
	if l.Fallbacks == nil {
		return "", false
	}
	res := l.Fallbacks.HandleToolFailure(action, cause, args, func(name string, input map[string]any) (any, error) {
		r, err := l.Tools.Execute(ctx, name, input)
		if err != nil {
			return nil, err
		}
		if !r.Success {
			return nil, errors.New(r.Error)
		}
		return r.Data, nil
	})
	if res.Action != fallback.ActionUseFallbackTool || !res.Success {
		return "", false
	}
	return fmt.Sprintf("Observation: %s failed (%v); ran fallback tool %s instead:\n%v",
		action, cause, res.FallbackUsed, res.Value), true
}

// emptyRetryDelay doubles per consecutive empty response, capped at 5s,
// since an empty completion usually means the provider needs a moment
// rather than another prompt right away.
func emptyRetryDelay(attempt int) time.Duration {
	delay := 200 * time.Millisecond << (attempt - 1)
	if delay > 5*time.Second {
		delay = 5 * time.Second
	}
	return delay
}

// decodeArgs parses the raw Action Input text into a tool argument map,
// escalating through the jsonrepair ladder since models rarely emit
// perfectly valid JSON under this text-based calling convention. An empty
// input (no-argument tools) decodes to an empty map rather than an error.
func decodeArgs(raw string) (map[string]any, error) {
	if raw == "" {
		return map[string]any{}, nil
	}
	result, err := jsonrepair.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("could not parse Action Input as JSON: %w", err)
	}
	return result.Value, nil
}
