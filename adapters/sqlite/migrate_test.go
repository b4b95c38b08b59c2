package sqlite

import (
	"database/sql"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
)

func TestUpSection(t *testing.T) {
	require.Equal(t, "\nCREATE TABLE a (x);\n\n", upSection("-- +migrate Up\nCREATE TABLE a (x);\n\n-- +migrate Down\nDROP TABLE a;"))
	require.Equal(t, "CREATE TABLE b (x);", upSection("CREATE TABLE b (x);"))
}

func TestMigrate(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	fsys := fstest.MapFS{
		"m/002_b.sql":  {Data: []byte("-- +migrate Up\nCREATE TABLE b (x);\n-- +migrate Down\nDROP TABLE b;")},
		"m/001_a.sql":  {Data: []byte("CREATE TABLE a (x);")},
		"m/readme.txt": {Data: []byte("ignored")},
	}

	applied, err := migrate(t.Context(), db, fsys, "m")
	require.NoError(t, err)
	require.Equal(t, []string{"001_a.sql", "002_b.sql"}, applied)

	applied, err = migrate(t.Context(), db, fsys, "m")
	require.NoError(t, err)
	require.Empty(t, applied)

	fsys["m/003_broken.sql"] = &fstest.MapFile{Data: []byte("CREATE TABLE a (x);")}
	_, err = migrate(t.Context(), db, fsys, "m")
	require.ErrorContains(t, err, "003_broken.sql")

	var n int
	require.NoError(t, db.QueryRowContext(t.Context(), "SELECT COUNT(*) FROM "+migrationTable).Scan(&n))
	require.Equal(t, 2, n)
}
