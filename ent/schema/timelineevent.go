package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// TimelineEvent holds the schema definition for the TimelineEvent entity:
// the user-facing, streamed investigation timeline (pkg/events fans these
// out over websockets as they're created).
type TimelineEvent struct {
	ent.Schema
}

// Fields of the TimelineEvent.
func (TimelineEvent) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("event_id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.String("agent_id").
			Immutable(),

		field.Int("sequence_number").
			Comment("Task-scoped order"),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),

		// Event types:
		//   thought          — ReAct "Thought:" content for this iteration.
		//   tool_call        — agent invoked a tool (metadata: tool, arguments).
		//   observation       — tool result fed back into the conversation.
		//   agent_dispatched  — dispatch_agent created a child (metadata: child_agent_id).
		//   message_sent      — send_message/wait_for_message bus activity.
		//   finding_reported  — create_vulnerability_report landed a new or merged fingerprint.
		//   final_answer      — agent's concluding analysis.
		field.Enum("event_type").
			Values(
				"thought",
				"tool_call",
				"observation",
				"agent_dispatched",
				"message_sent",
				"finding_reported",
				"final_answer",
			),
		field.Enum("status").
			Values("streaming", "completed", "failed", "cancelled").
			Default("completed"),
		field.Text("content"),
		field.JSON("metadata", map[string]interface{}{}).
			Optional(),
	}
}

// Edges of the TimelineEvent.
func (TimelineEvent) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("agent", Agent.Type).
			Ref("timeline_events").
			Field("agent_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the TimelineEvent.
func (TimelineEvent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "sequence_number"),
		index.Fields("agent_id", "sequence_number"),
	}
}
