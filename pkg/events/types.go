// Package events provides real-time event delivery via WebSocket and
// PostgreSQL NOTIFY/LISTEN for cross-pod distribution.
//
// An agent's timeline — thoughts, tool calls, dispatches, findings — is
// published as it happens. Each event is both persisted to the events
// table (for catchup on reconnect) and broadcast via pg_notify so every
// pod serving a websocket client hears it, not just the pod that ran
// the agent.
package events

// Persistent event types (stored in DB + NOTIFY).
const (
	EventTypeTimelineEventCreated = "timeline_event.created"
	EventTypeAgentStatus          = "agent.status"
	EventTypeAgentDispatched      = "agent.dispatched"
	EventTypeFindingReported      = "finding.reported"
)

// Transient event types (NOTIFY only, no DB persistence).
const (
	// LLM streaming chunks — high-frequency, ephemeral.
	EventTypeStreamChunk = "stream.chunk"
	// Per-agent iteration progress, not replayed on reconnect.
	EventTypeAgentProgress = "agent.progress"
)

// GlobalTasksChannel is the channel for task-level status events. The
// task list page subscribes to this for real-time updates across all
// running investigations.
const GlobalTasksChannel = "tasks"

// TaskChannel returns the channel name for a specific task's events.
// Format: "task:{task_id}"
func TaskChannel(taskID string) string {
	return "task:" + taskID
}

// ClientMessage is the JSON structure for client -> server WebSocket messages.
type ClientMessage struct {
	Action      string `json:"action"`                  // "subscribe", "unsubscribe", "catchup", "ping"
	Channel     string `json:"channel,omitempty"`       // Channel name (e.g., "task:abc-123")
	LastEventID *int   `json:"last_event_id,omitempty"` // For catchup
}
