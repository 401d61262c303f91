package storage

import (
	"bytes"
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates an in-memory SQLite database for testing.
func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	require.NoError(t, RunMigrations(db.conn))
	require.NoError(t, RunMigrations(db.conn))

	var n int
	require.NoError(t, db.conn.Get(&n, `SELECT COUNT(*) FROM pragma_table_info('page_backups') WHERE name = 'url'`))
	assert.Equal(t, 1, n)
}

func TestKeyValue_WriteReadDelete(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	_, ok, err := db.Read(ctx, "secure_1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Write(ctx, "secure_1", []byte{1, 2, 3}))
	require.NoError(t, db.Write(ctx, "secure_1", []byte{4, 5}))

	v, ok, err := db.Read(ctx, "secure_1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte{4, 5}, v)

	require.NoError(t, db.Delete(ctx, "secure_1"))
	require.NoError(t, db.Delete(ctx, "secure_1"))

	_, ok, err = db.Read(ctx, "secure_1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestKeyValue_ConcurrentReads(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	want := bytes.Repeat([]byte{0xAB}, 256)
	require.NoError(t, db.Write(ctx, "secure_2", want))

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok, err := db.Read(ctx, "secure_2")
			assert.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func TestBackups(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)

	_, ok, err := db.LatestBackup(ctx, "42")
	require.NoError(t, err)
	assert.False(t, ok)

	for v := 1; v <= 3; v++ {
		id, err := db.SaveBackup(ctx, PageBackup{
			RunID:     "run",
			PageID:    "42",
			SpaceKey:  "ENG",
			Title:     "Design",
			URL:       "https://acme.atlassian.net/wiki/spaces/ENG/pages/42",
			Version:   v,
			Content:   "<p>v</p>",
			CreatedAt: time.Date(2025, 1, v, 0, 0, 0, 0, time.UTC),
		})
		require.NoError(t, err)
		assert.Positive(t, id)
	}

	latest, ok, err := db.LatestBackup(ctx, "42")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, latest.Version)
	assert.Equal(t, "Design", latest.Title)
	assert.Equal(t, "https://acme.atlassian.net/wiki/spaces/ENG/pages/42", latest.URL)

	all, err := db.ListBackups(ctx, "42")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.Equal(t, 1, all[2].Version)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "specpipe.db")
	db, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Write(context.Background(), "secure_3", []byte("x")))
	require.NoError(t, db.Close())

	db, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = db.Close() }()

	v, ok, err := db.Read(context.Background(), "secure_3")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), v)
}
