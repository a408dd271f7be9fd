package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Finding holds the schema definition for one deduplicated vulnerability
// finding surfaced during an investigation. Field set mirrors
// pkg/finding.Finding directly; Fingerprint is stored so a unique index
// enforces the same dedup invariant pkg/finding.Deduper keeps in memory.
type Finding struct {
	ent.Schema
}

// Fields of the Finding.
func (Finding) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").
			StorageKey("finding_id").
			Unique().
			Immutable(),
		field.String("task_id").
			Immutable(),
		field.String("agent_id").
			Immutable().
			Comment("Reporting agent"),
		field.String("fingerprint").
			Immutable().
			Comment("file_path:line_start:vulnerability_type"),

		field.String("title"),
		field.String("vulnerability_type"),
		field.Enum("severity").
			Values("critical", "high", "medium", "low", "info"),
		field.String("file_path"),
		field.Text("description"),

		field.Int("line_start").Optional(),
		field.Int("line_end").Optional(),
		field.Text("code_snippet").Optional(),
		field.String("source").Optional(),
		field.String("sink").Optional(),
		field.Text("poc").Optional(),
		field.Text("impact").Optional(),
		field.Text("recommendation").Optional(),
		field.Float("confidence").Default(0),
		field.String("cwe_id").Optional(),
		field.Float("cvss_score").Optional(),
		field.Enum("verdict").
			Values("confirmed", "likely", "uncertain", "false_positive").
			Optional(),
		field.Bool("is_verified").Default(false),

		field.Time("created_at").
			Default(time.Now).
			Immutable(),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}

// Edges of the Finding.
func (Finding) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("agent", Agent.Type).
			Ref("findings").
			Field("agent_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the Finding.
func (Finding) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("task_id", "fingerprint").Unique(),
		index.Fields("task_id", "severity"),
	}
}
