package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// AgentLink holds the schema definition for one parent-child link in an
// investigation's agent tree. Kept as its own append-only table (rather
// than a self-referential edge on Agent) so the dispatch graph survives
// independently of any single agent row and can be queried/replayed for
// the view_agent_graph tool and the graph control-plane endpoints without
// joining Agent against itself.
//
// Named AgentLink rather than AgentEdge: ent pluralizes entity names for
// generated slice aliases, and "AgentEdge" would collide with the
// "AgentEdges" struct ent generates to hold Agent's own loaded edges.
// The entsql annotation keeps the underlying table name (agent_edges)
// unchanged.
type AgentLink struct {
	ent.Schema
}

// Annotations of the AgentLink.
func (AgentLink) Annotations() []ent.Annotation {
	return []ent.Annotation{
		entsql.Annotation{Table: "agent_edges"},
	}
}

// Fields of the AgentLink.
func (AgentLink) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("edge_id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.String("parent_agent_id").
			Immutable(),
		field.String("child_agent_id").
			Immutable(),
		field.Time("created_at").
			Default(time.Now).
			Immutable(),
	}
}

// Indexes of the AgentLink.
func (AgentLink) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id"),
		index.Fields("parent_agent_id"),
		index.Fields("child_agent_id"),
	}
}
