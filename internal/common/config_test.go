package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "formrunner.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewDefaultConfig_IsValid(t *testing.T) {
	config := NewDefaultConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, 3, config.Batch.DefaultWorkers)
	assert.Equal(t, 2, config.Batch.MaxRetries)
	assert.Equal(t, "badger", config.Storage.Type)
}

func TestLoadFromFiles_LaterFilesOverride(t *testing.T) {
	first := writeConfig(t, `
[batch]
default_workers = 2
max_retries = 5
`)
	second := writeConfig(t, `
[batch]
default_workers = 4

[browser]
headless = false
`)

	config, err := LoadFromFiles(first, second)
	require.NoError(t, err)
	assert.Equal(t, 4, config.Batch.DefaultWorkers)
	assert.Equal(t, 5, config.Batch.MaxRetries)
	assert.False(t, config.Browser.Headless)
	assert.Equal(t, 10, config.Batch.MaxWorkers, "unset values keep defaults")
}

func TestLoadFromFiles_EnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
[batch]
default_workers = 2
`)
	t.Setenv("FORMRUNNER_BATCH_WORKERS", "6")
	t.Setenv("FORMRUNNER_FORMS_DIR", "/srv/forms")

	config, err := LoadFromFiles(path)
	require.NoError(t, err)
	assert.Equal(t, 6, config.Batch.DefaultWorkers)
	assert.Equal(t, "/srv/forms", config.Forms.DefinitionsDir)
}

func TestLoadFromFiles_Errors(t *testing.T) {
	_, err := LoadFromFiles(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = LoadFromFiles(writeConfig(t, `[batch`))
	assert.Error(t, err)

	_, err = LoadFromFiles(writeConfig(t, `
[browser]
locate_timeout = "soon"
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "browser.locate_timeout")

	_, err = LoadFromFiles(writeConfig(t, `
[batch]
default_workers = 8
max_workers = 4
`))
	assert.Error(t, err)
}

func TestApplyFlagOverrides(t *testing.T) {
	config := NewDefaultConfig()
	headless := false

	ApplyFlagOverrides(config, 9090, "0.0.0.0", &headless)

	assert.Equal(t, 9090, config.Server.Port)
	assert.True(t, config.Server.Enabled, "a port flag enables the server")
	assert.Equal(t, "0.0.0.0", config.Server.Host)
	assert.False(t, config.Browser.Headless)

	ApplyFlagOverrides(config, 0, "", nil)
	assert.Equal(t, 9090, config.Server.Port)
}

func TestParseDurationOr(t *testing.T) {
	assert.Equal(t, 2*time.Second, ParseDurationOr("2s", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOr("", time.Minute))
	assert.Equal(t, time.Minute, ParseDurationOr("bad", time.Minute))
}
