package checkpoint

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/secaudit/test/util"
)

func newTestAgent(t *testing.T, ctx context.Context, store *Store, agentID string) {
	_, err := store.client.Agent.Create().
		SetID(agentID).
		SetTaskID("task-1").
		SetCorrelationID("corr-1").
		SetName("recon-1").
		SetRole("recon").
		SetTask("scan for injection flaws").
		Save(ctx)
	require.NoError(t, err)
}

func TestStore_SaveAndLatest(t *testing.T) {
	entClient, _ := util.SetupTestDatabase(t)
	store := New(entClient)
	ctx := context.Background()
	newTestAgent(t, ctx, store, "agent-1")

	_, err := store.Save(ctx, "agent-1", 1, map[string]interface{}{"iteration": float64(1)})
	require.NoError(t, err)
	_, err = store.Save(ctx, "agent-1", 2, map[string]interface{}{"iteration": float64(2)})
	require.NoError(t, err)

	latest, err := store.Latest(ctx, "agent-1")
	require.NoError(t, err)
	require.NotNil(t, latest)
	require.Equal(t, 2, latest.Version)
}

func TestStore_LatestReturnsNilWhenNoneExist(t *testing.T) {
	entClient, _ := util.SetupTestDatabase(t)
	store := New(entClient)
	ctx := context.Background()

	latest, err := store.Latest(ctx, "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, latest)
}

func TestStore_History(t *testing.T) {
	entClient, _ := util.SetupTestDatabase(t)
	store := New(entClient)
	ctx := context.Background()
	newTestAgent(t, ctx, store, "agent-1")

	for v := 1; v <= 3; v++ {
		_, err := store.Save(ctx, "agent-1", v, map[string]interface{}{"iteration": float64(v)})
		require.NoError(t, err)
	}

	history, err := store.History(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, 1, history[0].Version)
	require.Equal(t, 3, history[2].Version)
}

func TestStore_Prune(t *testing.T) {
	entClient, _ := util.SetupTestDatabase(t)
	store := New(entClient)
	ctx := context.Background()
	newTestAgent(t, ctx, store, "agent-1")

	for v := 1; v <= 5; v++ {
		_, err := store.Save(ctx, "agent-1", v, map[string]interface{}{"iteration": float64(v)})
		require.NoError(t, err)
	}

	deleted, err := store.Prune(ctx, "agent-1", 2)
	require.NoError(t, err)
	require.Equal(t, 3, deleted)

	remaining, err := store.History(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, remaining, 2)
	require.Equal(t, 4, remaining[0].Version)
	require.Equal(t, 5, remaining[1].Version)
}

func TestStore_PruneNoopWhenUnderLimit(t *testing.T) {
	entClient, _ := util.SetupTestDatabase(t)
	store := New(entClient)
	ctx := context.Background()
	newTestAgent(t, ctx, store, "agent-1")

	_, err := store.Save(ctx, "agent-1", 1, map[string]interface{}{"iteration": float64(1)})
	require.NoError(t, err)

	deleted, err := store.Prune(ctx, "agent-1", 5)
	require.NoError(t, err)
	require.Equal(t, 0, deleted)
}
