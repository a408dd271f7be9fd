// Package apperr defines the security auditor's error taxonomy: a single
// tagged-union error type carrying a stable kind, a recovery policy and
// structured debugging context, mirroring the original Python AgentError
// hierarchy's code/recoverable/recovery_strategy/severity fields.
package apperr

import (
	"fmt"
	"time"
)

// Severity classifies how much an error should worry an operator.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// RecoveryStrategy is the suggested response to an error.
type RecoveryStrategy string

const (
	RecoveryRetry            RecoveryStrategy = "retry"
	RecoveryRetryWithBackoff RecoveryStrategy = "retry_backoff"
	RecoverySkip             RecoveryStrategy = "skip"
	RecoveryFallback         RecoveryStrategy = "fallback"
	RecoveryAbort            RecoveryStrategy = "abort"
	RecoveryManual           RecoveryStrategy = "manual"
)

// Kind is a stable, dotted error code. Values match the catalogue confirmed
// against the original Python implementation's core/errors.py re-exports.
type Kind string

const (
	KindLLMRateLimit      Kind = "LLM.RateLimit"
	KindLLMTimeout        Kind = "LLM.Timeout"
	KindLLMConnection     Kind = "LLM.Connection"
	KindLLMAuth           Kind = "LLM.Auth"
	KindLLMContentFilter  Kind = "LLM.ContentFilter"
	KindLLMContextLength  Kind = "LLM.ContextLength"
	KindLLMInvalidResp    Kind = "LLM.InvalidResponse"
	KindLLMQuotaExceeded  Kind = "LLM.QuotaExceeded"
	KindToolExecution     Kind = "Tool.Execution"
	KindToolTimeout       Kind = "Tool.Timeout"
	KindToolNotFound      Kind = "Tool.NotFound"
	KindToolInputInvalid  Kind = "Tool.InputInvalid"
	KindToolPermission    Kind = "Tool.Permission"
	KindToolResource      Kind = "Tool.Resource"
	KindToolExternal      Kind = "Tool.ExternalTool"
	KindAgentCancelled    Kind = "Agent.Cancelled"
	KindAgentTimeout      Kind = "Agent.Timeout"
	KindAgentIterLimit    Kind = "Agent.IterationLimit"
	KindAgentInit         Kind = "Agent.Init"
	KindStateRecovery     Kind = "State.Recovery"
	KindStatePersistence  Kind = "State.Persistence"
	KindStateInvalidTrans Kind = "State.InvalidTransition"
	KindCommMessage       Kind = "Comm.MessageDelivery"
	KindCommAgentNotFound Kind = "Comm.AgentNotFound"
	KindResourceCircuit   Kind = "Resource.CircuitOpen"
	KindResourceRateLimit Kind = "Resource.RateLimit"
	KindResourceExhausted Kind = "Resource.Exhausted"
	KindValidationInput   Kind = "Validation.Input"
	KindValidationPath    Kind = "Validation.PathTraversal"
	KindValidationSize    Kind = "Validation.FileSize"
)

// policy is the static recovery-behavior entry for a Kind, looked up once
// at construction time and treated as authoritative for that error.
type policy struct {
	recoverable bool
	strategy    RecoveryStrategy
	severity    Severity
	retryAfter  time.Duration
}

var policies = map[Kind]policy{
	KindLLMRateLimit:      {true, RecoveryRetryWithBackoff, SeverityMedium, 0},
	KindLLMTimeout:        {true, RecoveryRetryWithBackoff, SeverityMedium, 0},
	KindLLMConnection:     {true, RecoveryRetryWithBackoff, SeverityMedium, 0},
	KindLLMAuth:           {false, RecoveryAbort, SeverityCritical, 0},
	KindLLMContentFilter:  {true, RecoverySkip, SeverityLow, 0},
	KindLLMContextLength:  {true, RecoveryFallback, SeverityMedium, 0},
	KindLLMInvalidResp:    {false, RecoveryAbort, SeverityHigh, 0},
	KindLLMQuotaExceeded:  {false, RecoveryAbort, SeverityCritical, 0},
	KindToolExecution:     {true, RecoverySkip, SeverityMedium, 0},
	KindToolTimeout:       {true, RecoveryFallback, SeverityMedium, 0},
	KindToolNotFound:      {false, RecoverySkip, SeverityLow, 0},
	KindToolInputInvalid:  {false, RecoverySkip, SeverityLow, 0},
	KindToolPermission:    {false, RecoveryAbort, SeverityHigh, 0},
	KindToolResource:      {true, RecoveryRetry, SeverityMedium, 0},
	KindToolExternal:      {true, RecoveryFallback, SeverityMedium, 0},
	KindAgentCancelled:    {false, RecoveryAbort, SeverityLow, 0},
	KindAgentTimeout:      {false, RecoveryAbort, SeverityHigh, 0},
	KindAgentIterLimit:    {false, RecoveryAbort, SeverityMedium, 0},
	KindAgentInit:         {false, RecoveryAbort, SeverityCritical, 0},
	KindStateRecovery:     {false, RecoveryManual, SeverityHigh, 0},
	KindStatePersistence:  {true, RecoveryRetry, SeverityMedium, 0},
	KindStateInvalidTrans: {false, RecoveryAbort, SeverityHigh, 0},
	KindCommMessage:       {true, RecoveryRetry, SeverityLow, 0},
	KindCommAgentNotFound: {false, RecoverySkip, SeverityLow, 0},
	KindResourceCircuit:   {true, RecoveryRetryWithBackoff, SeverityMedium, 0},
	KindResourceRateLimit: {true, RecoveryRetryWithBackoff, SeverityLow, 0},
	KindResourceExhausted: {false, RecoveryAbort, SeverityHigh, 0},
	KindValidationInput:   {false, RecoverySkip, SeverityLow, 0},
	KindValidationPath:    {false, RecoveryAbort, SeverityHigh, 0},
	KindValidationSize:    {false, RecoverySkip, SeverityLow, 0},
}

// Context carries the debugging metadata every Error attaches: which
// correlation/task/agent produced it and where in the execution tree.
type Context struct {
	CorrelationID string
	AgentID       string
	AgentName     string
	TaskID        string
	Iteration     int
	ToolName      string
	Extra         map[string]any
}

// Error is the tagged-union error type used throughout the module.
type Error struct {
	Kind       Kind
	Message    string
	Recoverable bool
	Strategy   RecoveryStrategy
	Severity   Severity
	RetryAfter time.Duration
	Context    Context
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is allows errors.Is(err, &Error{Kind: KindX}) style matching on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// WithContext returns e with ctx merged in (fields set on ctx override).
func (e *Error) WithContext(ctx Context) *Error {
	if ctx.CorrelationID != "" {
		e.Context.CorrelationID = ctx.CorrelationID
	}
	if ctx.AgentID != "" {
		e.Context.AgentID = ctx.AgentID
	}
	if ctx.AgentName != "" {
		e.Context.AgentName = ctx.AgentName
	}
	if ctx.TaskID != "" {
		e.Context.TaskID = ctx.TaskID
	}
	if ctx.Iteration != 0 {
		e.Context.Iteration = ctx.Iteration
	}
	if ctx.ToolName != "" {
		e.Context.ToolName = ctx.ToolName
	}
	for k, v := range ctx.Extra {
		if e.Context.Extra == nil {
			e.Context.Extra = map[string]any{}
		}
		e.Context.Extra[k] = v
	}
	return e
}

// New constructs an Error of the given kind, applying its static policy,
// including the kind's default RetryAfter. WithRetryAfterDuration
// overrides that default (e.g. a rate-limit error carrying a
// server-provided Retry-After value).
func New(kind Kind, message string, cause error) *Error {
	p, ok := policies[kind]
	if !ok {
		p = policy{recoverable: false, strategy: RecoveryAbort, severity: SeverityHigh}
	}
	return &Error{
		Kind:        kind,
		Message:     message,
		Recoverable: p.recoverable,
		Strategy:    p.strategy,
		Severity:    p.severity,
		RetryAfter:  p.retryAfter,
		Cause:       cause,
	}
}

// WithRetryAfterDuration sets an explicit retry-after duration on the error,
// overriding the kind's policy default (e.g. from a provider's rate-limit
// response header).
func (e *Error) WithRetryAfterDuration(d time.Duration) *Error {
	e.RetryAfter = d
	return e
}

// Recoverable reports whether err (or an *Error in its chain) is recoverable.
func Recoverable(err error) bool {
	var ae *Error
	if ok := asError(err, &ae); ok {
		return ae.Recoverable
	}
	return false
}

// RetryAfter returns the suggested wait duration carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var ae *Error
	if ok := asError(err, &ae); ok && ae.RetryAfter > 0 {
		return ae.RetryAfter, true
	}
	return 0, false
}

// KindOf extracts the Kind from err, if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var ae *Error
	if ok := asError(err, &ae); ok {
		return ae.Kind, true
	}
	return "", false
}

// asError walks the Unwrap chain looking for an *Error, avoiding an import
// of errors.As to keep this leaf package free of incidental dependencies.
func asError(err error, target **Error) bool {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
