// Package exec carries the ambient, task-scoped execution context:
// correlation id, task id, current agent identity, trace path, iteration,
// depth and metadata. Propagated as a value inside the standard
// context.Context and, when a tracer is configured, projected onto an
// OpenTelemetry span.
package exec

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Context is the ambient record threaded through every call in an agent's
// execution tree.
type Context struct {
	CorrelationID string
	TaskID        string
	ParentAgentID string
	AgentID       string
	AgentName     string
	TracePath     []string
	Iteration     int
	Depth         int
	Metadata      map[string]any
}

type ctxKey struct{}

// New creates a root Context for a new task (no parent, depth 0).
func New(correlationID, taskID, agentID, agentName string) Context {
	return Context{
		CorrelationID: correlationID,
		TaskID:        taskID,
		AgentID:       agentID,
		AgentName:     agentName,
		TracePath:     []string{agentName},
		Metadata:      map[string]any{},
	}
}

// Child derives a context for a dispatched sub-agent: correlation and task
// ids are inherited, the child's name is pushed onto the trace path, and
// depth increments.
func (c Context) Child(agentID, agentName string) Context {
	path := make([]string, len(c.TracePath), len(c.TracePath)+1)
	copy(path, c.TracePath)
	path = append(path, agentName)

	meta := make(map[string]any, len(c.Metadata))
	for k, v := range c.Metadata {
		meta[k] = v
	}

	return Context{
		CorrelationID: c.CorrelationID,
		TaskID:        c.TaskID,
		ParentAgentID: c.AgentID,
		AgentID:       agentID,
		AgentName:     agentName,
		TracePath:     path,
		Iteration:     0,
		Depth:         c.Depth + 1,
		Metadata:      meta,
	}
}

// WithIteration returns a copy of c advanced to the given iteration.
func (c Context) WithIteration(n int) Context {
	c.Iteration = n
	return c
}

// Attributes projects the context's identity fields as structured
// key-value pairs, suitable for log/slog attributes or span tagging.
func (c Context) Attributes() []any {
	return []any{
		"correlation_id", c.CorrelationID,
		"task_id", c.TaskID,
		"agent_id", c.AgentID,
		"agent_name", c.AgentName,
		"iteration", c.Iteration,
		"depth", c.Depth,
	}
}

func (c Context) otelAttributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("correlation_id", c.CorrelationID),
		attribute.String("task_id", c.TaskID),
		attribute.String("agent_id", c.AgentID),
		attribute.String("agent_name", c.AgentName),
		attribute.Int("iteration", c.Iteration),
		attribute.Int("depth", c.Depth),
	}
}

// WithContext stores c in ctx for retrieval by FromContext.
func WithContext(ctx context.Context, c Context) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext retrieves the Context stored by WithContext, if any.
func FromContext(ctx context.Context) (Context, bool) {
	c, ok := ctx.Value(ctxKey{}).(Context)
	return c, ok
}

const tracerName = "github.com/codeready-toolchain/secaudit/pkg/agent/exec"

// StartSpan begins an OpenTelemetry span tagged with the execution
// context's identity fields, and stores the updated Context (still the
// same value — spans don't mutate it) back into the returned
// context.Context. Callers end the span via the returned func.
func StartSpan(ctx context.Context, c Context, spanName string) (context.Context, func()) {
	tracer := otel.Tracer(tracerName)
	spanCtx, span := tracer.Start(ctx, spanName, trace.WithAttributes(c.otelAttributes()...))
	spanCtx = WithContext(spanCtx, c)
	return spanCtx, func() { span.End() }
}
