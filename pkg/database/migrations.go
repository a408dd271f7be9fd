package database

import (
	"context"
	"fmt"

	"entgo.io/ent/dialect/sql"
)

// CreateGINIndexes creates full-text search GIN indexes for PostgreSQL.
// These indexes enable efficient full-text search over finding descriptions
// and agent analyses, beyond what the golang-migrate SQL migrations define.
func CreateGINIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	_, err := db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_findings_description_gin
		ON findings USING gin(to_tsvector('english', description))`)
	if err != nil {
		return fmt.Errorf("failed to create finding description GIN index: %w", err)
	}

	_, err = db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_agents_analysis_gin
		ON agents USING gin(to_tsvector('english', COALESCE(analysis, '')))`)
	if err != nil {
		return fmt.Errorf("failed to create agent analysis GIN index: %w", err)
	}

	return nil
}

// CreatePartialUniqueIndexes creates Postgres partial unique indexes that
// enforce invariants a plain column-level UNIQUE constraint can't express.
func CreatePartialUniqueIndexes(ctx context.Context, driver *sql.Driver) error {
	db := driver.DB()

	// Exactly one root orchestrator agent per investigation: a root is an
	// agent row with no parent, so the partial index only applies there.
	_, err := db.ExecContext(ctx,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_agents_one_root_per_task
		ON agents (task_id) WHERE parent_agent_id IS NULL`)
	if err != nil {
		return fmt.Errorf("failed to create one-root-per-task partial unique index: %w", err)
	}

	return nil
}
