package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Checkpoint holds the schema definition for a durable, resumable snapshot
// of one agent's state.Snapshot (pkg/agent/state). Snapshots are version-tagged JSON so
// a future schema change can still deserialize older rows; keyed by
// (agent_id, taken_at) so the most recent row per agent is a simple
// ORDER BY taken_at DESC LIMIT 1 query.
type Checkpoint struct {
	ent.Schema
}

// Fields of the Checkpoint.
func (Checkpoint) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("checkpoint_id").
			Unique().
			Immutable(),
		field.String("agent_id").
			Immutable(),
		field.Int("version").
			Comment("Snapshot version: the agent loop's iteration number at save time"),
		field.JSON("snapshot", map[string]interface{}{}).
			Comment("Serialized state.Snapshot: agent id, iteration, status, conversation messages, analysis"),
		field.Time("taken_at").
			Default(time.Now).
			Immutable(),
	}
}

// Edges of the Checkpoint.
func (Checkpoint) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("agent", Agent.Type).
			Ref("checkpoints").
			Field("agent_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the Checkpoint.
func (Checkpoint) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("agent_id", "taken_at"),
	}
}
