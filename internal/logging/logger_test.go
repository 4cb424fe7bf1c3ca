package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeLoggingConfig(t *testing.T, dir string, cfg loggingConfig) {
	t.Helper()
	data, err := json.Marshal(configFile{Logging: cfg})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), data, 0644))
}

func resetLogging() {
	CloseAll()
	CloseAudit()
	logsDir = ""
	dataDir = ""
	config = loggingConfig{}
	configLoaded = false
}

func TestInitialize_NoConfigIsProductionMode(t *testing.T) {
	defer resetLogging()
	dir := t.TempDir()

	require.NoError(t, Initialize(dir))
	assert.False(t, IsDebugMode())

	// No logs directory should be created in production mode
	_, err := os.Stat(filepath.Join(dir, "logs"))
	assert.True(t, os.IsNotExist(err))
}

func TestInitialize_DebugModeCreatesLogs(t *testing.T) {
	defer resetLogging()
	dir := t.TempDir()
	writeLoggingConfig(t, dir, loggingConfig{DebugMode: true, Level: "debug"})

	require.NoError(t, Initialize(dir))
	assert.True(t, IsDebugMode())

	Get(CategoryExecutor).Info("tick %d", 1)

	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
}

func TestCategoryFilter(t *testing.T) {
	defer resetLogging()
	dir := t.TempDir()
	writeLoggingConfig(t, dir, loggingConfig{
		DebugMode:  true,
		Categories: map[string]bool{"gateway": false},
	})

	require.NoError(t, Initialize(dir))

	assert.False(t, IsCategoryEnabled(CategoryGateway))
	assert.True(t, IsCategoryEnabled(CategoryExecutor))

	// Disabled category returns a no-op logger; must not panic
	Get(CategoryGateway).Error("should go nowhere")
}

func TestAuditRoundTrip(t *testing.T) {
	defer resetLogging()
	dir := t.TempDir()
	writeLoggingConfig(t, dir, loggingConfig{DebugMode: true})

	require.NoError(t, Initialize(dir))
	require.NoError(t, InitAudit())

	WriteAudit(AuditEvent{
		EventType:  AuditActionShadow,
		Origin:     "executor",
		ActionType: "craft_item",
		Mode:       "shadow",
	})
	CloseAudit()

	entries, err := os.ReadDir(filepath.Join(dir, "logs"))
	require.NoError(t, err)

	found := false
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, "logs", e.Name()))
		require.NoError(t, err)
		if len(data) > 0 && string(data[0]) == "#" {
			found = true
		}
	}
	assert.True(t, found, "audit log file should exist with header")
}
