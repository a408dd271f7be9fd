package events

// TimelineEventCreatedPayload is the payload for timeline_event.created
// events. Published when any agent appends an entry to a task's shared
// timeline (thought, tool call, observation, dispatch, message, finding,
// final answer — see ent/schema/timelineevent.go's event-type enum).
type TimelineEventCreatedPayload struct {
	Type           string         `json:"type"` // always EventTypeTimelineEventCreated
	EventID        string         `json:"event_id"`
	TaskID         string         `json:"task_id"`
	AgentID        string         `json:"agent_id"`
	EventType      string         `json:"event_type"` // e.g. "thought", "tool_call", "finding_reported"
	Status         string         `json:"status"`      // "streaming" or "completed"
	Content        string         `json:"content"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	SequenceNumber int            `json:"sequence_number"`
	Timestamp      string         `json:"timestamp"` // RFC3339Nano
}

// StreamChunkPayload is the payload for stream.chunk transient events.
// Published for each LLM streaming token -- high frequency, ephemeral.
type StreamChunkPayload struct {
	Type      string `json:"type"`      // always EventTypeStreamChunk
	EventID   string `json:"event_id"`  // parent timeline event UUID
	Delta     string `json:"delta"`     // incremental text chunk
	Timestamp string `json:"timestamp"` // RFC3339Nano
}

// AgentStatusPayload is the payload for agent.status events. Published
// when an agent transitions between lifecycle states (pending, running,
// waiting, completed, failed, cancelled -- see graph.Status).
type AgentStatusPayload struct {
	Type      string `json:"type"` // always EventTypeAgentStatus
	TaskID    string `json:"task_id"`
	AgentID   string `json:"agent_id"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// AgentDispatchedPayload is the payload for agent.dispatched events.
// Published when the orchestrator (or a specialist) spawns a child
// agent, before the child has produced any timeline events of its own.
type AgentDispatchedPayload struct {
	Type          string `json:"type"` // always EventTypeAgentDispatched
	TaskID        string `json:"task_id"`
	ParentAgentID string `json:"parent_agent_id"`
	AgentID       string `json:"agent_id"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	Depth         int    `json:"depth"`
	Timestamp     string `json:"timestamp"`
}

// FindingReportedPayload is the payload for finding.reported events.
// Published when an agent records a vulnerability finding, so the
// findings panel can update live without polling.
type FindingReportedPayload struct {
	Type              string  `json:"type"` // always EventTypeFindingReported
	TaskID            string  `json:"task_id"`
	AgentID           string  `json:"agent_id"`
	FindingID         string  `json:"finding_id"`
	Title             string  `json:"title"`
	VulnerabilityType string  `json:"vulnerability_type"`
	Severity          string  `json:"severity"`
	FilePath          string  `json:"file_path"`
	Confidence        float64 `json:"confidence"`
	Timestamp         string  `json:"timestamp"`
}

// AgentProgressPayload is the payload for agent.progress transient
// events (no DB persistence). Published on every ReAct iteration so a
// live dashboard can show "iteration 4/15" without waiting for a
// timeline event.
type AgentProgressPayload struct {
	Type      string `json:"type"` // always EventTypeAgentProgress
	TaskID    string `json:"task_id"`
	AgentID   string `json:"agent_id"`
	Iteration int    `json:"iteration"`
	MaxIter   int    `json:"max_iterations"`
	Timestamp string `json:"timestamp"`
}
