package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, path string, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadDefaultsWhenMissing(t *testing.T) {
	config, err := Load(filepath.Join(t.TempDir(), "config.yaml"))

	require.NoError(t, err)
	assert.Equal(t, Default(), config)
}

func TestLoadMergesDevOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	write(t, path, `
translator:
  type: gemini
  model: gemini-1.5-pro
  concurrency: 3
render:
  backend: vector
  dpi: 150
compose:
  start_size: 24
worker:
  poll_interval: 500ms
`)
	write(t, filepath.Join(dir, "config.dev.yaml"), `
translator:
  model: gemini-1.5-flash
log:
  level: debug
`)

	config, err := Load(path)

	require.NoError(t, err)
	assert.Equal(t, "gemini", config.Translator.Type)
	assert.Equal(t, "gemini-1.5-flash", config.Translator.Model)
	assert.Equal(t, 3, config.Translator.Concurrency)
	assert.Equal(t, "vector", config.Render.Backend)
	assert.Equal(t, "side-by-side", config.Render.Mode)
	assert.Equal(t, 150, config.Render.DPI)
	assert.Equal(t, 24, config.Compose.StartSize)
	assert.Equal(t, 1.1, config.Compose.LineSpacing)
	assert.Equal(t, 500*time.Millisecond, config.Worker.PollInterval)
	assert.Equal(t, "debug", config.Log.Level)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	for name, content := range map[string]string{
		"dpi":         "render:\n  dpi: 0\n",
		"concurrency": "translator:\n  concurrency: -1\n",
		"level":       "log:\n  level: loud\n",
		"syntax":      "render: [",
	} {
		path := filepath.Join(t.TempDir(), "config.yaml")
		write(t, path, content)

		_, err := Load(path)
		assert.Error(t, err, name)
	}
}

func TestRegistryPath(t *testing.T) {
	config := Default()
	assert.Equal(t, filepath.Join("temp", "jobs.db"), config.RegistryPath())

	config.Storage.Registry = "/var/lib/pagetrans/jobs.db"
	assert.Equal(t, "/var/lib/pagetrans/jobs.db", config.RegistryPath())
}

func TestConfigureLogging(t *testing.T) {
	defer log.SetLevel(log.GetLevel())
	config := Default()
	config.Log.Level = "warn"

	config.ConfigureLogging()

	assert.Equal(t, log.WarnLevel, log.GetLevel())
}
