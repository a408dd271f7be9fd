package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// SQLCatchupQuerier implements CatchupQuerier directly against the events
// table, avoiding a round trip through ent for a query shape (channel +
// id range) ent's generated client has no builder for.
type SQLCatchupQuerier struct {
	db *sql.DB
}

// NewSQLCatchupQuerier creates a CatchupQuerier backed by the raw events table.
func NewSQLCatchupQuerier(db *sql.DB) *SQLCatchupQuerier {
	return &SQLCatchupQuerier{db: db}
}

// GetCatchupEvents returns events published on channel with id > sinceID,
// oldest first, capped at limit rows.
func (q *SQLCatchupQuerier) GetCatchupEvents(ctx context.Context, channel string, sinceID, limit int) ([]CatchupEvent, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT id, payload FROM events WHERE channel = $1 AND id > $2 ORDER BY id ASC LIMIT $3`,
		channel, sinceID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query catchup events: %w", err)
	}
	defer rows.Close()

	var events []CatchupEvent
	for rows.Next() {
		var id int
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan catchup event: %w", err)
		}
		var payload map[string]interface{}
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal catchup event payload: %w", err)
		}
		events = append(events, CatchupEvent{ID: id, Payload: payload})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate catchup events: %w", err)
	}

	return events, nil
}
