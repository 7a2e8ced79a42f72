package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	database, err := Open(context.Background(), "sqlite://"+filepath.Join(t.TempDir(), "rules.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestMigrateUp(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)

	require.NoError(t, MigrateUp(ctx, database))
	// second run is a no-op
	require.NoError(t, MigrateUp(ctx, database))

	statuses, err := MigrateStatus(ctx, database)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		require.True(t, s.Applied, s.ID)
		require.NotNil(t, s.AppliedAt)
		require.WithinDuration(t, time.Now(), *s.AppliedAt, time.Minute)
	}
	require.Equal(t, "001_initial_schema.sql", statuses[0].ID)
	require.Equal(t, "002_api_keys.sql", statuses[1].ID)

	var n int
	require.NoError(t, database.Get(&n, "SELECT COUNT(*) FROM rule_sets"))
	require.Equal(t, 0, n)
}

func TestMigrateStatus_Pending(t *testing.T) {
	statuses, err := MigrateStatus(context.Background(), openTestDB(t))
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	for _, s := range statuses {
		require.False(t, s.Applied)
		require.Len(t, s.Checksum, 64)
	}
}

func TestMigrateUp_ChecksumMismatch(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	require.NoError(t, MigrateUp(ctx, database))

	database.MustExec("UPDATE migrations SET checksum = 'tampered' WHERE migration_id = '001_initial_schema.sql'")
	err := MigrateUp(ctx, database)
	require.ErrorContains(t, err, "checksum mismatch for migration 001_initial_schema.sql")
}

func TestMigrateUp_UnknownMigration(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	require.NoError(t, MigrateUp(ctx, database))

	database.MustExec("INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms) VALUES ('999_future.sql', 'x', '2026-01-01T00:00:00Z', 1)")
	require.ErrorContains(t, MigrateUp(ctx, database), "999_future.sql exists in database")
}

func TestSplitStatements(t *testing.T) {
	script := `-- header
CREATE TABLE a (id INTEGER);

-- explains b
CREATE TABLE b (
    id INTEGER -- trailing comments stay
);
-- only a comment;
`
	got := splitStatements(script)
	require.Equal(t, []string{
		"CREATE TABLE a (id INTEGER)",
		"CREATE TABLE b (\n    id INTEGER -- trailing comments stay\n)",
	}, got)
}

func TestQueries(t *testing.T) {
	ctx := context.Background()
	database := openTestDB(t)
	require.NoError(t, MigrateUp(ctx, database))

	q, err := LoadQueries(database)
	require.NoError(t, err)

	now := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	_, err = q.Exec(ctx, "insert-rule-set", "rs-1", "Checkout", "", "Cart", true, "OR", false, now, now)
	require.NoError(t, err)

	type ruleSetRow struct {
		ID              string     `db:"rule_set_id"`
		Name            string     `db:"name"`
		Description     string     `db:"description"`
		Scope           string     `db:"scope"`
		IsActive        bool       `db:"is_active"`
		LogicalOperator string     `db:"logical_operator"`
		IsSubGroup      bool       `db:"is_sub_group"`
		CreatedOnUtc    time.Time  `db:"created_on_utc"`
		UpdatedOnUtc    time.Time  `db:"updated_on_utc"`
		LastProcessed   *time.Time `db:"last_processed_on_utc"`
	}
	var row ruleSetRow
	require.NoError(t, q.Get(ctx, "get-rule-set", &row, "rs-1"))
	require.Equal(t, "Checkout", row.Name)
	require.Equal(t, "OR", row.LogicalOperator)
	require.True(t, row.IsActive)
	require.True(t, now.Equal(row.UpdatedOnUtc), "updated = %v", row.UpdatedOnUtc)
	require.Nil(t, row.LastProcessed)

	tx, err := database.BeginTxx(ctx, nil)
	require.NoError(t, err)
	_, err = q.WithTx(tx).Exec(ctx, "delete-rule-set", "rs-1")
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())

	// rolled back, so the rule set is still there
	var rows []ruleSetRow
	require.NoError(t, q.Select(ctx, "list-rule-sets", &rows))
	require.Len(t, rows, 1)

	_, err = q.Exec(ctx, "no-such-query")
	require.ErrorContains(t, err, "query not found")
}
