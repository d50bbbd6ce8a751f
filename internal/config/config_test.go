package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Assignment.ReviewCapacity)
	assert.Equal(t, 6, cfg.Assignment.ApprovalCapacity)
	assert.Equal(t, "0.0.0.0:8080", cfg.Server.GetServerAddr())
}

func TestLoadConfigFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"server": {"port": 9000},
		"database": {"driver": "memory", "db_name": "from_file"},
		"scheduler": {"timezone": "Europe/Berlin"}
	}`), 0o600))

	t.Setenv("DATABASE_DBNAME", "from_env")
	t.Setenv("NOTIFICATION_DISPATCH_INTERVAL", "10s")
	t.Setenv("ELASTICSEARCH_ADDRESSES", "http://es1:9200,http://es2:9200")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, "from_env", cfg.Database.DBName)
	assert.Equal(t, "Europe/Berlin", cfg.Scheduler.Timezone)
	assert.Equal(t, 10*time.Second, cfg.Notifications.DispatchInterval)
	assert.Equal(t, []string{"http://es1:9200", "http://es2:9200"}, cfg.Audit.ElasticAddresses)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	chdir(t, t.TempDir())

	t.Setenv("DATABASE_DRIVER", "mysql")
	_, err := LoadConfig("")
	assert.Error(t, err)

	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("SERVER_PORT", "eighty")
	_, err = LoadConfig("")
	assert.Error(t, err)
}

// chdir changes the working directory for the duration of the test,
// equivalent to testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
