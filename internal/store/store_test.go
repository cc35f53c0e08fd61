package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/sovereign/internal/record"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "Open() iteration %d", i)
		require.NoError(t, s.Close())
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"ledger", "consensus_votes", "system_status"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q not found after idempotent opens", table)
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s, _ := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestOpen_SetsSchemaVersion(t *testing.T) {
	s, _ := createTestStore(t)

	var version int
	require.NoError(t, s.db.QueryRow("PRAGMA user_version").Scan(&version))
	assert.Equal(t, currentSchemaVersion, version)

	var name string
	err := s.db.QueryRow(
		"SELECT name FROM sqlite_master WHERE type='index' AND name='idx_ledger_agent_id'",
	).Scan(&name)
	assert.NoError(t, err)
}

func TestOpen_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(path)
	require.NoError(t, err)
	_, err = s1.Append(ctx, createTestRecord("ghost_commit_1", "github_scan", nil))
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	n, err := s2.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestPing(t *testing.T) {
	s, _ := createTestStore(t)
	assert.NoError(t, s.Ping(context.Background()))
}

func TestClosedStore_IsUnavailable(t *testing.T) {
	ctx := context.Background()
	s, _ := createTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.Records(ctx, Query{})
	require.Error(t, err)
	assert.True(t, IsUnavailable(err), "got %v", err)

	_, err = s.Append(ctx, createTestRecord("a", "b", nil))
	assert.True(t, IsUnavailable(err), "got %v", err)

	_, _, err = s.SystemStatus(ctx)
	assert.True(t, IsUnavailable(err), "got %v", err)

	var ue *UnavailableError
	assert.ErrorAs(t, err, &ue)
}

func TestOpen_MigratesStatusTableToV2(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "v1.db")

	raw, err := sql.Open("sqlite3", path)
	require.NoError(t, err)
	_, err = raw.Exec(`
		CREATE TABLE system_status (
			seq         INTEGER PRIMARY KEY AUTOINCREMENT,
			kill_signal TEXT    NOT NULL,
			reason      TEXT    NOT NULL DEFAULT '',
			updated_at  INTEGER NOT NULL
		);
		INSERT INTO system_status (kill_signal, reason, updated_at) VALUES ('HALT', 'old', 1);
		PRAGMA user_version = 1;
	`)
	require.NoError(t, err)
	require.NoError(t, raw.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	st, ok, err := s.SystemStatus(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, st.Halted())
	assert.Equal(t, record.DefaultMode, st.CurrentMode())

	require.NoError(t, s.SetMode(ctx, record.ModeMoney, "volatility"))
	mode, err := s.Mode(ctx)
	require.NoError(t, err)
	assert.Equal(t, record.ModeMoney, mode)
}
