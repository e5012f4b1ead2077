// Package database provides the shared PostgreSQL harness for
// integration tests.
package database

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/agentlens/agentlens/pkg/database"
	"github.com/agentlens/agentlens/test/util"
)

// NewTestClient creates a database client on an isolated, fully
// migrated schema.
// In CI (when CI_DATABASE_URL is set): connects to the external
// PostgreSQL service container. In local dev: spins up a testcontainer.
// Cleanup (schema drop and pool close) happens when the test ends.
func NewTestClient(t *testing.T) *database.Client {
	t.Helper()
	ctx := context.Background()

	connStr := util.SetupTestDatabase(t)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	require.NoError(t, pool.Ping(ctx))
	t.Cleanup(pool.Close)

	return database.NewClientFromPool(pool)
}
