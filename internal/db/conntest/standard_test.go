//go:build conntest

package conntest

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vvka-141/pgwarden/internal/stmtcache"
	testhelper "github.com/vvka-141/pgwarden/internal/testing"
	"github.com/vvka-141/pgwarden/internal/testinfra"
	"github.com/vvka-141/pgwarden/pkg/pgwarden"
)

func TestStandardConnection_Ping(t *testing.T) {
	connStr := testhelper.RequireDatabase(t)
	s := openSession(t, testhelper.NewTestConfig(t, connStr))

	require.NoError(t, s.Ping(context.Background()))
	version := fetchOne(t, s, "SELECT version()")
	assert.Contains(t, version, "PostgreSQL")
	assert.False(t, s.Manager().EmulatedPrepares())
}

func TestStandardConnection_WrongPassword(t *testing.T) {
	connStr := testhelper.RequireDatabase(t)
	cfg := testhelper.NewTestConfig(t, connStr)
	cfg.Password = "definitely-wrong-password"
	cfg.ConnectRetries = 1
	s := openSession(t, cfg)

	err := s.Ping(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, pgwarden.ErrConnectionFailed)
	assert.True(t,
		strings.Contains(err.Error(), "password") ||
			strings.Contains(err.Error(), "authentication"),
		"error should mention authentication: %v", err)
}

func TestStandardConnection_DelayedPrepareReachesServer(t *testing.T) {
	connStr := testhelper.RequireDatabase(t)
	cfg := testhelper.NewTestConfig(t, connStr)
	cfg.DelayedPrepares = 2
	s := openSession(t, cfg)
	ctx := context.Background()

	const query = "SELECT $1::int + 1"
	name := stmtcache.StatementName(stmtcache.Key(query))
	countPrepared := func() int64 {
		rows, err := s.FetchQueryResults(ctx, "SELECT count(*) AS n FROM pg_prepared_statements WHERE name = $1", name)
		require.NoError(t, err)
		return rows[0]["n"].(int64)
	}

	for i := 0; i < 2; i++ {
		_, err := s.FetchQueryResults(ctx, query, i)
		require.NoError(t, err)
	}
	assert.Equal(t, int64(0), countPrepared(), "still on the emulated path")

	_, err := s.FetchQueryResults(ctx, query, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(1), countPrepared())
}

func TestStandardConnection_ReconnectsAfterBackendTermination(t *testing.T) {
	connStr := testhelper.RequireDatabase(t)
	cfg := testhelper.NewTestConfig(t, connStr)
	appName := fmt.Sprintf("pgwarden-reconnect-%d", time.Now().UnixNano())
	cfg.Options["application_name"] = appName
	s := openSession(t, cfg)
	ctx := context.Background()

	require.NoError(t, s.Ping(ctx))
	firstPID := fetchOne(t, s, "SELECT pg_backend_pid()")

	admin := testhelper.GetAdminPool(t, connStr)
	n, err := testhelper.TerminateBackends(ctx, admin, "application_name = $1", appName)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	secondPID := fetchOne(t, s, "SELECT pg_backend_pid()")
	assert.NotEqual(t, firstPID, secondPID)
}

func TestStandardConnection_TransactionBracketing(t *testing.T) {
	connStr := testhelper.RequireDatabase(t)
	dbName := fmt.Sprintf("pgwarden_tx_%d", time.Now().UnixNano())
	t.Cleanup(testhelper.CreateTestDB(t, connStr, dbName))

	cfg := testhelper.NewTestConfig(t, connStr)
	cfg.Database = dbName
	s := openSession(t, cfg)
	ctx := context.Background()

	_, err := s.RunQuery(ctx, "CREATE TABLE items (id serial PRIMARY KEY, active boolean, note text)")
	require.NoError(t, err)

	require.NoError(t, s.StartTransaction(ctx))
	_, err = s.RunQuery(ctx, "INSERT INTO items (active, note) VALUES ($1, $2)", 1, "rolled back")
	require.NoError(t, err)
	require.NoError(t, s.Rollback(ctx))
	assert.Equal(t, int64(0), fetchOne(t, s, "SELECT count(*) FROM items"))

	require.NoError(t, s.StartTransaction(ctx))
	n, err := s.RunQuery(ctx, "INSERT INTO items (active, note) VALUES ($1, $2)", true, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	id, err := s.LastInsertID(ctx, "items_id_seq")
	require.NoError(t, err)
	require.NoError(t, s.Commit(ctx))

	assert.Equal(t, true, fetchOne(t, s, "SELECT active FROM items WHERE id = $1", id))
	assert.Nil(t, fetchOne(t, s, "SELECT note FROM items WHERE id = $1", id))

	err = s.Commit(ctx)
	assert.ErrorIs(t, err, pgwarden.ErrTransactionState)
}

func TestStandardConnection_IntegerBindsIntoBoolean(t *testing.T) {
	connStr := testhelper.RequireDatabase(t)
	cfg := testhelper.NewTestConfig(t, connStr)
	cfg.DelayedPrepares = 1
	s := openSession(t, cfg)

	// First call runs emulated, the second on a server-side statement.
	for i := 0; i < 2; i++ {
		assert.Equal(t, true, fetchOne(t, s, "SELECT $1::boolean", 1))
		assert.Equal(t, false, fetchOne(t, s, "SELECT $1::boolean", 0))
	}
}

func TestStandardConnection_SchemaSwitch(t *testing.T) {
	connStr := testhelper.RequireDatabase(t)
	dbName := fmt.Sprintf("pgwarden_schema_%d", time.Now().UnixNano())
	t.Cleanup(testhelper.CreateTestDB(t, connStr, dbName))

	cfg := testhelper.NewTestConfig(t, connStr)
	cfg.Database = dbName
	s := openSession(t, cfg)
	ctx := context.Background()

	_, err := s.RunQuery(ctx, "CREATE SCHEMA reporting")
	require.NoError(t, err)
	require.NoError(t, s.SwitchSchema(ctx, "reporting"))

	assert.Equal(t, "reporting", fetchOne(t, s, "SELECT current_schema()"))
}

func TestLegacyServer_UsesEmulatedPrepares(t *testing.T) {
	testhelper.SkipIfShort(t)
	ctx := context.Background()
	ctr, err := testinfra.StartPostgres(ctx, "postgres:9.6-alpine")
	if err != nil {
		t.Skipf("cannot start legacy server: %v", err)
	}
	t.Cleanup(func() { _ = ctr.Terminate(ctx) })

	s := openSession(t, testhelper.NewTestConfig(t, ctr.ConnString))
	require.NoError(t, s.Ping(ctx))

	assert.True(t, s.Manager().EmulatedPrepares())
	assert.Equal(t, int64(1), fetchOne(t, s, "SELECT count(*) FROM pg_class WHERE relname = $1", "pg_class"))
}
