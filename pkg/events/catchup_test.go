package events

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/secaudit/test/util"
)

func TestSQLCatchupQuerier_GetCatchupEvents(t *testing.T) {
	_, db := util.SetupTestDatabase(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE events (
		id BIGSERIAL PRIMARY KEY,
		task_id VARCHAR NOT NULL,
		channel VARCHAR NOT NULL,
		payload JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	require.NoError(t, err)

	insert := func(channel, payload string) int {
		var id int
		err := db.QueryRowContext(ctx,
			`INSERT INTO events (task_id, channel, payload) VALUES ($1, $2, $3) RETURNING id`,
			"task-1", channel, payload).Scan(&id)
		require.NoError(t, err)
		return id
	}

	id1 := insert("task:task-1", `{"type":"agent.status","status":"running"}`)
	id2 := insert("task:task-1", `{"type":"agent.status","status":"completed"}`)
	insert("task:other-task", `{"type":"agent.status","status":"running"}`)

	q := NewSQLCatchupQuerier(db)

	t.Run("returns events since id in order", func(t *testing.T) {
		events, err := q.GetCatchupEvents(ctx, "task:task-1", 0, 10)
		require.NoError(t, err)
		require.Len(t, events, 2)
		require.Equal(t, id1, events[0].ID)
		require.Equal(t, id2, events[1].ID)
		require.Equal(t, "running", events[0].Payload["status"])
	})

	t.Run("excludes events at or before sinceID", func(t *testing.T) {
		events, err := q.GetCatchupEvents(ctx, "task:task-1", id1, 10)
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, id2, events[0].ID)
	})

	t.Run("respects limit", func(t *testing.T) {
		events, err := q.GetCatchupEvents(ctx, "task:task-1", 0, 1)
		require.NoError(t, err)
		require.Len(t, events, 1)
		require.Equal(t, id1, events[0].ID)
	})

	t.Run("ignores other channels", func(t *testing.T) {
		events, err := q.GetCatchupEvents(ctx, "task:does-not-exist", 0, 10)
		require.NoError(t, err)
		require.Empty(t, events)
	})
}
