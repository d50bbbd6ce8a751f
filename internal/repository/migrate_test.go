package repository

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingMigrations(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"002_indexes.sql", "001_init.sql", "003_seed.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "004_dir.sql"), 0o700))

	pending, err := pendingMigrations(dir, []string{"002_indexes.sql"})
	require.NoError(t, err)
	assert.Equal(t, []string{"001_init.sql", "003_seed.sql"}, pending)

	_, err = pendingMigrations(filepath.Join(dir, "missing"), nil)
	assert.Error(t, err)
}

func TestShippedMigrationsAreFound(t *testing.T) {
	pending, err := pendingMigrations(filepath.Join("..", "..", "migrations"), nil)
	require.NoError(t, err)
	assert.Contains(t, pending, "001_init.sql")
}
