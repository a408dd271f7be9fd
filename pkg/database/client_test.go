package database

import (
	"context"
	"testing"
	"time"

	"entgo.io/ent/dialect"
	"entgo.io/ent/dialect/sql"
	"github.com/codeready-toolchain/secaudit/ent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// newTestClient creates a test database client inline (avoiding import cycle with test/database)
func newTestClient(t *testing.T) *Client {
	ctx := context.Background()

	// Start PostgreSQL container
	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts("../../deploy/postgres-init/01-init.sql"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	// Get connection string
	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	// Open connection with driver
	drv, err := sql.Open(dialect.Postgres, connStr)
	require.NoError(t, err)

	// Configure connection pool for tests
	db := drv.DB()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	// Create Ent client
	entClient := ent.NewClient(ent.Driver(drv))

	// Run migrations (auto-migration for tests)
	err = entClient.Schema.Create(ctx)
	require.NoError(t, err)

	// Create GIN indexes
	err = CreateGINIndexes(ctx, drv)
	require.NoError(t, err)

	// Wrap in our client type
	client := NewClientFromEnt(entClient, db)

	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func TestDatabaseClient_ConnectionPool(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	// Test basic connectivity
	err := client.DB().PingContext(ctx)
	require.NoError(t, err)

	// Test health check
	health, err := Health(ctx, client.DB())
	require.NoError(t, err)
	assert.Equal(t, "healthy", health.Status)
	assert.Greater(t, health.MaxOpenConns, 0)
}

func TestFullTextSearch(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	agent, err := client.Agent.Create().
		SetID("agent-1").
		SetTaskID("task-1").
		SetCorrelationID("corr-1").
		SetName("recon-1").
		SetRole("recon").
		SetTask("scan the repo for injection flaws").
		Save(ctx)
	require.NoError(t, err)

	// Create test findings
	finding1, err := client.Finding.Create().
		SetID("finding-1").
		SetTaskID("task-1").
		SetAgentID(agent.ID).
		SetFingerprint("api/handler.go:42:sql_injection").
		SetTitle("Unsanitized query parameter").
		SetVulnerabilityType("sql_injection").
		SetSeverity("critical").
		SetFilePath("api/handler.go").
		SetDescription("Critical error in production query path with unsanitized input").
		Save(ctx)
	require.NoError(t, err)

	finding2, err := client.Finding.Create().
		SetID("finding-2").
		SetTaskID("task-1").
		SetAgentID(agent.ID).
		SetFingerprint("api/handler.go:77:info_leak").
		SetTitle("Verbose error response").
		SetVulnerabilityType("info_leak").
		SetSeverity("low").
		SetFilePath("api/handler.go").
		SetDescription("Warning: stack trace exposed to client on failure").
		Save(ctx)
	require.NoError(t, err)

	// Test full-text search using the GIN index created by CreateGINIndexes
	rows, err := client.DB().QueryContext(ctx,
		`SELECT finding_id FROM findings
		WHERE to_tsvector('english', description) @@ to_tsquery('english', $1)`,
		"error & production",
	)
	require.NoError(t, err)
	defer rows.Close()

	// Collect results
	var results []string
	for rows.Next() {
		var findingID string
		err := rows.Scan(&findingID)
		require.NoError(t, err)
		results = append(results, findingID)
	}

	// Should only match finding1
	assert.Len(t, results, 1)
	assert.Equal(t, finding1.ID, results[0])

	// Test search for "stack" - should match finding2
	rows2, err := client.DB().QueryContext(ctx,
		`SELECT finding_id FROM findings
		WHERE to_tsvector('english', description) @@ to_tsquery('english', $1)`,
		"stack",
	)
	require.NoError(t, err)
	defer rows2.Close()

	results2 := []string{}
	for rows2.Next() {
		var findingID string
		err := rows2.Scan(&findingID)
		require.NoError(t, err)
		results2 = append(results2, findingID)
	}

	assert.Len(t, results2, 1)
	assert.Equal(t, finding2.ID, results2[0])
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{
			name: "valid config",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "test",
				Database:     "test",
				SSLMode:      "disable",
				MaxOpenConns: 10,
				MaxIdleConns: 5,
			},
			wantErr: false,
		},
		{
			name: "missing password",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "",
				Database:     "test",
				MaxOpenConns: 10,
				MaxIdleConns: 5,
			},
			wantErr: true,
		},
		{
			name: "idle conns exceed max conns",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "test",
				Database:     "test",
				MaxOpenConns: 5,
				MaxIdleConns: 10,
			},
			wantErr: true,
		},
		{
			name: "zero max open conns",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "test",
				Database:     "test",
				MaxOpenConns: 0,
				MaxIdleConns: 0,
			},
			wantErr: true,
		},
		{
			name: "negative idle conns",
			cfg: Config{
				Host:         "localhost",
				Port:         5432,
				User:         "test",
				Password:     "test",
				Database:     "test",
				MaxOpenConns: 10,
				MaxIdleConns: -1,
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
