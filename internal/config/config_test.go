package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps the host's global config out of the test.
func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

func TestLoad_ProjectJSONC(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	content := `{
		// port for the backend
		"server": { "port": 9191, "sessionTTLSeconds": 30 },
		"client": { "baseURL": "http://localhost:9191" }
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pair-review.jsonc"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.Equal(t, 30, cfg.Server.SessionTTLSeconds)
	assert.Equal(t, "http://localhost:9191", cfg.Client.BaseURL)
}

func TestLoad_ProjectYAML(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	content := "server:\n  port: 7070\nlog:\n  level: debug\n  pretty: true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pair-review.yaml"), []byte(content), 0644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.True(t, cfg.Log.Pretty)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	content := `{"server": {"port": 1000}, "client": {"reviewID": "rev-file"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pair-review.json"), []byte(content), 0644))

	t.Setenv("PAIRREVIEW_PORT", "2000")
	t.Setenv("PAIRREVIEW_REVIEW_ID", "rev-env")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 2000, cfg.Server.Port)
	assert.Equal(t, "rev-env", cfg.Client.ReviewID)
}

func TestLoad_ConfigFileOverride(t *testing.T) {
	isolate(t)
	dir := t.TempDir()
	override := filepath.Join(dir, "custom.jsonc")
	require.NoError(t, os.WriteFile(override, []byte(`{"client": {"providerHint": "council"}}`), 0644))

	t.Setenv("PAIRREVIEW_CONFIG", override)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "council", cfg.Client.ProviderHint)
}

func TestLoad_MissingFilesAreFine(t *testing.T) {
	isolate(t)
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Zero(t, cfg.Server.Port)
}

func TestGetPaths(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg-config")
	paths := GetPaths()
	assert.Equal(t, filepath.Join("/tmp/xdg-config", "pair-review"), paths.Config)
}
