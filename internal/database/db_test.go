package database

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CreatesDatabaseFile(t *testing.T) {
	dir := t.TempDir()
	db, err := New(Config{
		Path:    filepath.Join(dir, "ledger.db"),
		Profile: ProfileLedger,
		Name:    "ledger",
	})
	require.NoError(t, err)
	defer db.Close()

	_, err = os.Stat(filepath.Join(dir, "ledger.db"))
	assert.NoError(t, err)
	assert.Equal(t, "ledger", db.Name())
}

func TestNew_DefaultsToStandardProfile(t *testing.T) {
	db, err := New(Config{
		Path: filepath.Join(t.TempDir(), "plain.db"),
		Name: "plain",
	})
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, ProfileStandard, db.profile)
}

func TestInitSchemaAndHealthCheck(t *testing.T) {
	db, err := New(Config{
		Path: filepath.Join(t.TempDir(), "test.db"),
		Name: "test",
	})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.InitSchema(`CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY)`))

	// Idempotent
	require.NoError(t, db.InitSchema(`CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY)`))

	assert.NoError(t, db.HealthCheck(context.Background()))
}

func TestBackupTo(t *testing.T) {
	dir := t.TempDir()
	db, err := New(Config{Path: filepath.Join(dir, "src.db"), Name: "src"})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.InitSchema(`CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY)`))
	_, err = db.Conn().Exec(`INSERT INTO t (id) VALUES (1)`)
	require.NoError(t, err)

	dest := filepath.Join(dir, "backups", "src-copy.db")
	require.NoError(t, db.BackupTo(dest))

	copied, err := New(Config{Path: dest, Name: "copy"})
	require.NoError(t, err)
	defer copied.Close()

	var count int
	require.NoError(t, copied.Conn().QueryRow(`SELECT COUNT(*) FROM t`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestWithTransaction_RollsBackOnError(t *testing.T) {
	db, err := New(Config{Path: filepath.Join(t.TempDir(), "tx.db"), Name: "tx"})
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.InitSchema(`CREATE TABLE IF NOT EXISTS t (id INTEGER PRIMARY KEY)`))

	err = WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(`INSERT INTO t (id) VALUES (1)`); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.Error(t, err)

	var count int
	require.NoError(t, db.Conn().QueryRow(`SELECT COUNT(*) FROM t`).Scan(&count))
	assert.Equal(t, 0, count)
}
