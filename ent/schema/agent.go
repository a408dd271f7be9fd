package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Agent holds the schema definition for one node in an investigation's
// agent tree: the root orchestrator or a dispatched recon/analysis/
// verification/specialist sub-agent.
type Agent struct {
	ent.Schema
}

// Fields of the Agent.
func (Agent) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("agent_id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable().
			Comment("Groups every agent in one investigation run"),
		field.String("correlation_id").
			Immutable(),
		field.String("parent_agent_id").
			Optional().
			Nillable().
			Immutable().
			Comment("Empty for the root orchestrator"),

		field.String("name").
			Immutable().
			Comment("Instance name, e.g. recon-1"),
		field.Enum("role").
			Values("orchestrator", "recon", "analysis", "verification", "specialist").
			Immutable(),
		field.Enum("status").
			Values("pending", "running", "waiting", "completed", "failed", "cancelled").
			Default("pending"),

		field.Int("depth").
			Default(0).
			Immutable(),
		field.Text("task").
			Immutable().
			Comment("Sub-task text this agent was dispatched with"),
		field.Text("analysis").
			Optional().
			Comment("Final Answer text once terminal"),
		field.Int("iterations").
			Default(0),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
		field.Time("completed_at").
			Optional().
			Nillable(),
	}
}

// Edges of the Agent.
// Parent/child links are tracked by parent_agent_id alone rather than an
// ent self-reference edge; pkg/graph.Registry is the authoritative
// in-memory tree for a running investigation, this table is its durable
// record.
func (Agent) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("findings", Finding.Type),
		edge.To("checkpoints", Checkpoint.Type),
		edge.To("messages", Message.Type),
		edge.To("timeline_events", TimelineEvent.Type),
	}
}

// Indexes of the Agent.
func (Agent) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "status"),
		index.Fields("parent_agent_id"),
	}
}
