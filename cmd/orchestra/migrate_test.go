package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateCommand_URLOverride(t *testing.T) {
	url := "file:" + filepath.Join(t.TempDir(), "migrate.db") + "?mode=rwc"
	flags := []string{"--db-type", "sqlite", "--db-url", url}

	out, err := execute(t, append([]string{"migrate", "version"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "No migrations applied yet.")

	out, err = execute(t, append([]string{"migrate", "up"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Migrations complete. Current version: 2")

	out, err = execute(t, append([]string{"migrate", "status"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 2, Applied: 2, Pending: 0")

	out, err = execute(t, append(append([]string{"migrate", "steps"}, flags...), "--", "-1")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 1")

	out, err = execute(t, append([]string{"migrate", "down", "--all"}, flags...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "All migrations rolled back.")
}

func TestMigrateCommand_FromConfig(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	dbPath := filepath.Join(dir, "orchestra.db")
	require.NoError(t, os.WriteFile(cfgPath, []byte("database:\n  driver: sqlite\n  name: "+dbPath+"\nlog:\n  level: error\n"), 0o600))

	out, err := execute(t, "--config", cfgPath, "migrate", "up")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 2")

	out, err = execute(t, "--config", cfgPath, "migrate", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "Current version: 2")
}

func TestMigrateCommand_InvalidArgs(t *testing.T) {
	url := "file:" + filepath.Join(t.TempDir(), "migrate.db") + "?mode=rwc"

	_, err := execute(t, "migrate", "steps", "many", "--db-type", "sqlite", "--db-url", url)
	assert.ErrorContains(t, err, "invalid step count")

	_, err = execute(t, "migrate", "force", "--db-type", "sqlite", "--db-url", url)
	assert.Error(t, err, "force requires a version")

	_, err = execute(t, "migrate", "up", "--db-type", "oracle", "--db-url", "oracle://x")
	assert.ErrorContains(t, err, "failed to create migrator")
}
