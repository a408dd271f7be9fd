package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// EventPublisher publishes events for WebSocket delivery.
// Persistent events are stored in the events table then broadcast via NOTIFY.
// Transient events (streaming chunks, progress ticks) are broadcast via
// NOTIFY only.
//
// Each public method accepts a specific typed payload struct -- see
// payloads.go. Internally, payloads are marshaled to JSON and routed to
// the appropriate channel (derived from taskID) via persistAndNotify or
// notifyOnly.
type EventPublisher struct {
	db *sql.DB
}

// NewEventPublisher creates a new EventPublisher.
// The db parameter should be the *sql.DB from database.Client.DB().
func NewEventPublisher(db *sql.DB) *EventPublisher {
	return &EventPublisher{db: db}
}

// --- Typed public methods ---

// PublishTimelineEventCreated persists and broadcasts a
// timeline_event.created event. Used whenever an agent appends to a
// task's shared timeline.
func (p *EventPublisher) PublishTimelineEventCreated(ctx context.Context, taskID string, payload TimelineEventCreatedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal TimelineEventCreatedPayload: %w", err)
	}
	return p.persistAndNotify(ctx, taskID, TaskChannel(taskID), payloadJSON)
}

// PublishStreamChunk broadcasts a stream.chunk transient event (no DB persistence).
// Used for high-frequency LLM streaming tokens -- ephemeral, lost on disconnect.
func (p *EventPublisher) PublishStreamChunk(ctx context.Context, taskID string, payload StreamChunkPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal StreamChunkPayload: %w", err)
	}
	return p.notifyOnly(ctx, TaskChannel(taskID), payloadJSON)
}

// PublishAgentStatus persists a status event to the task channel and
// broadcasts a transient copy to the global tasks channel so the task
// list page updates without polling. Both publishes are best-effort: if
// the persistent one fails, the transient one is still attempted.
// Returns the first error encountered, if any.
func (p *EventPublisher) PublishAgentStatus(ctx context.Context, taskID string, payload AgentStatusPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal AgentStatusPayload: %w", err)
	}

	var firstErr error
	if err := p.persistAndNotify(ctx, taskID, TaskChannel(taskID), payloadJSON); err != nil {
		slog.Warn("failed to publish agent status to task channel",
			"task_id", taskID, "agent_id", payload.AgentID, "status", payload.Status, "error", err)
		firstErr = err
	}

	if err := p.notifyOnly(ctx, GlobalTasksChannel, payloadJSON); err != nil {
		slog.Warn("failed to publish agent status to global channel",
			"task_id", taskID, "agent_id", payload.AgentID, "status", payload.Status, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// PublishAgentDispatched persists and broadcasts an agent.dispatched event.
// Fired when the orchestrator or a specialist spawns a child agent.
func (p *EventPublisher) PublishAgentDispatched(ctx context.Context, taskID string, payload AgentDispatchedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal AgentDispatchedPayload: %w", err)
	}
	return p.persistAndNotify(ctx, taskID, TaskChannel(taskID), payloadJSON)
}

// PublishFindingReported persists and broadcasts a finding.reported event.
// Fired when an agent records a vulnerability finding.
func (p *EventPublisher) PublishFindingReported(ctx context.Context, taskID string, payload FindingReportedPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal FindingReportedPayload: %w", err)
	}
	return p.persistAndNotify(ctx, taskID, TaskChannel(taskID), payloadJSON)
}

// PublishAgentProgress broadcasts an agent.progress transient event (no
// DB persistence). Published on every ReAct iteration for a live
// "iteration N/max" display.
func (p *EventPublisher) PublishAgentProgress(ctx context.Context, taskID string, payload AgentProgressPayload) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal AgentProgressPayload: %w", err)
	}
	return p.notifyOnly(ctx, TaskChannel(taskID), payloadJSON)
}

// --- Internal core methods ---

// persistAndNotify persists a pre-marshaled event to the database and broadcasts
// via NOTIFY in a single transaction (pg_notify is transactional -- held until COMMIT).
func (p *EventPublisher) persistAndNotify(ctx context.Context, taskID, channel string, payloadJSON []byte) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var eventID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO events (task_id, channel, payload, created_at) VALUES ($1, $2, $3, $4) RETURNING id`,
		taskID, channel, payloadJSON, time.Now(),
	).Scan(&eventID)
	if err != nil {
		return fmt.Errorf("failed to persist event: %w", err)
	}

	notifyPayload, err := injectDBEventIDAndTruncate(payloadJSON, eventID)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit event transaction: %w", err)
	}

	return nil
}

// notifyOnly broadcasts a pre-marshaled event via NOTIFY without persisting to DB.
func (p *EventPublisher) notifyOnly(ctx context.Context, channel string, payloadJSON []byte) error {
	notifyPayload, err := truncateIfNeeded(string(payloadJSON))
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", channel, notifyPayload)
	if err != nil {
		return fmt.Errorf("pg_notify failed: %w", err)
	}
	return nil
}

// --- Internal helpers ---

// injectDBEventIDAndTruncate adds db_event_id to the JSON payload for NOTIFY
// delivery and applies truncation if the result exceeds PostgreSQL's limit.
func injectDBEventIDAndTruncate(payloadJSON []byte, dbEventID int64) (string, error) {
	var m map[string]any
	if err := json.Unmarshal(payloadJSON, &m); err != nil {
		return "", fmt.Errorf("failed to unmarshal payload for db_event_id injection: %w", err)
	}
	m["db_event_id"] = dbEventID

	enrichedBytes, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to marshal enriched NOTIFY payload: %w", err)
	}

	return truncateIfNeeded(string(enrichedBytes))
}

// truncateIfNeeded returns the payload string as-is if it fits within
// PostgreSQL's 8000-byte NOTIFY limit, otherwise returns a minimal
// truncation envelope with only routing fields.
func truncateIfNeeded(payloadStr string) (string, error) {
	if len(payloadStr) <= 7900 {
		return payloadStr, nil
	}
	return buildTruncatedPayload([]byte(payloadStr))
}

// buildTruncatedPayload creates a minimal truncation envelope from the full
// JSON payload bytes, extracting only the routing fields the client needs
// to fetch the complete event from the database.
func buildTruncatedPayload(payloadBytes []byte) (string, error) {
	var routing struct {
		Type      string `json:"type"`
		EventID   string `json:"event_id"`
		TaskID    string `json:"task_id"`
		DBEventID *int64 `json:"db_event_id,omitempty"`
	}
	if err := json.Unmarshal(payloadBytes, &routing); err != nil {
		return "", fmt.Errorf("failed to extract routing fields for truncation: %w", err)
	}

	truncated := map[string]any{
		"type":      routing.Type,
		"event_id":  routing.EventID,
		"task_id":   routing.TaskID,
		"truncated": true,
	}
	if routing.DBEventID != nil {
		truncated["db_event_id"] = *routing.DBEventID
	}

	truncBytes, err := json.Marshal(truncated)
	if err != nil {
		return "", fmt.Errorf("failed to marshal truncated payload: %w", err)
	}
	return string(truncBytes), nil
}
