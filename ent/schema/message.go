package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Message holds the schema definition for the Message entity: one turn in
// an agent's LLM conversation, persisted for replay and checkpoint
// recovery. Rows are immutable and ordered by sequence within an agent.
type Message struct {
	ent.Schema
}

// Fields of the Message.
func (Message) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("message_id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.String("agent_id").
			Immutable().
			Comment("Which agent's conversation this belongs to"),

		field.Int("sequence_number").
			Comment("Agent-scoped order"),
		field.Enum("role").
			Values("system", "user", "assistant", "tool"),
		field.Text("content"),

		field.JSON("tool_calls", []map[string]interface{}{}).
			Optional().
			Comment("For assistant messages: tool calls requested by the LLM"),
		field.String("tool_call_id").
			Optional().
			Nillable().
			Comment("For tool messages: links the result to its originating call"),
		field.String("tool_name").
			Optional().
			Nillable(),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the Message.
func (Message) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("agent", Agent.Type).
			Ref("messages").
			Field("agent_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the Message.
func (Message) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("agent_id", "sequence_number"),
	}
}
