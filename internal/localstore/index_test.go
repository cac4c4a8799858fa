package localstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hostscan/internal/logging"
)

func TestIndexPinLookup(t *testing.T) {
	x, err := OpenIndex(filepath.Join(t.TempDir(), "sub", "index.db"), logging.Discard())
	require.NoError(t, err)
	defer x.Close()

	base := time.Unix(1717243200, 0)
	require.NoError(t, x.Record(IndexEntry{Filename: "scan_a.json", ScanID: "a", AccessPin: "AB12", Hostname: "h1", SavedAt: base, SizeBytes: 10}))
	require.NoError(t, x.Record(IndexEntry{Filename: "scan_b.json", ScanID: "b", AccessPin: "AB12", Hostname: "h2", SavedAt: base.Add(time.Hour), SizeBytes: 20}))
	require.NoError(t, x.Record(IndexEntry{Filename: "scan_c.json", ScanID: "c", AccessPin: "ZZ99", Hostname: "h3", SavedAt: base, SizeBytes: 30}))

	got, err := x.FindByPin("AB12")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "scan_b.json", got[0].Filename)
	assert.Equal(t, "scan_a.json", got[1].Filename)
	assert.Equal(t, base.Add(time.Hour).Unix(), got[0].SavedAt.Unix())

	none, err := x.FindByPin("0000")
	require.NoError(t, err)
	assert.Empty(t, none)

	e, err := x.FindByScanID("c")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, int64(30), e.SizeBytes)

	e, err = x.FindByScanID("missing")
	require.NoError(t, err)
	assert.Nil(t, e)

	require.NoError(t, x.Remove("scan_c.json"))
	n, err := x.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	tables, err := x.Tables()
	require.NoError(t, err)
	assert.Contains(t, tables, "scans")
	assert.Contains(t, tables, "schema_migrations")
}

func TestMigrationsAreRepeatable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.db")
	x, err := OpenIndex(path, logging.Discard())
	require.NoError(t, err)
	require.NoError(t, x.Close())

	x, err = OpenIndex(path, logging.Discard())
	require.NoError(t, err)
	defer x.Close()
	require.NoError(t, RunMigrations(x.DB, logging.Discard()))

	applied, err := x.Migrations()
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_scans.sql", "0002_scans_pin_index.sql"}, applied)

	var n int
	require.NoError(t, x.DB.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 2, n)
}

func TestMigrationsSkipRecordedFiles(t *testing.T) {
	x, err := OpenIndex(filepath.Join(t.TempDir(), "index.db"), logging.Discard())
	require.NoError(t, err)
	defer x.Close()

	// A recorded migration is not run again even though its index is gone.
	_, err = x.DB.Exec(`DROP INDEX idx_scans_pin`)
	require.NoError(t, err)
	require.NoError(t, RunMigrations(x.DB, logging.Discard()))

	var n int
	require.NoError(t, x.DB.QueryRow(
		`SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name='idx_scans_pin'`).Scan(&n))
	assert.Zero(t, n)
}
