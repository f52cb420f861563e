package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultsWhenNoFileExists(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "downloads", cfg.DownloadRoot)
	assert.Equal(t, 4, cfg.MaxParallelFetch)
	assert.True(t, cfg.Cache.Enable)

	assert.FileExists(t, filepath.Join(dir, yamlFileName))
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yamlBody := []byte(`
download_root: /books
max_parallel_fetch: 8
cache:
  enable: false
batch:
  book: 2
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, yamlFileName), yamlBody, 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "/books", cfg.DownloadRoot)
	assert.Equal(t, 8, cfg.MaxParallelFetch)
	assert.False(t, cfg.Cache.Enable)
	assert.Equal(t, 2, cfg.Batch.Book)
	// Untouched defaults still apply.
	assert.Equal(t, "temp", cfg.TempRoot)
	assert.Equal(t, 10, cfg.Batch.InitCrawl)
}

func TestLoadPrefersYAMLOverJSONWhenBothExist(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, yamlFileName), []byte("download_root: from-yaml\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, jsonFileName), []byte(`{"download_root":"from-json"}`), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-yaml", cfg.DownloadRoot)
}

func TestLoadFallsBackToJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, jsonFileName), []byte(`{"download_root":"from-json","max_parallel_fetch":2}`), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-json", cfg.DownloadRoot)
	assert.Equal(t, 2, cfg.MaxParallelFetch)
}

func TestLoadRejectsInvalidBatchSize(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, yamlFileName), []byte("batch:\n  book: 0\n"), 0o644))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestFetchContextComposesAllWithPluginOverlay(t *testing.T) {
	cfg := &Config{
		Requests: map[string]RequestProfile{
			AllProfile: {
				UserAgent: "base-agent",
				Headers:   map[string]string{"X-A": "1"},
				Cookies:   map[string]string{"session": "abc"},
			},
			"moonreader": {
				UserAgent: "moon-agent",
				Headers:   map[string]string{"X-B": "2"},
			},
		},
	}

	fc, err := cfg.FetchContext("moonreader")
	require.NoError(t, err)
	assert.Equal(t, "moon-agent", fc.UserAgent)
	hv, ok := fc.Headers.Get("X-A")
	assert.True(t, ok)
	assert.Equal(t, "1", hv)
	hv, ok = fc.Headers.Get("X-B")
	assert.True(t, ok)
	assert.Equal(t, "2", hv)
	require.Len(t, fc.Cookies, 1)
	assert.Equal(t, "session", fc.Cookies[0].Name)
}

func TestFetchContextFallsBackToBaselineForUnknownPlugin(t *testing.T) {
	cfg := &Config{
		Requests: map[string]RequestProfile{
			AllProfile: {UserAgent: "base-agent"},
		},
	}

	fc, err := cfg.FetchContext("unknown-plugin")
	require.NoError(t, err)
	assert.Equal(t, "base-agent", fc.UserAgent)
}

func TestIngestCookieFileInstallsAllProfileCookies(t *testing.T) {
	cfg := &Config{}
	require.NoError(t, cfg.IngestCookieFile([]byte(`{"a":"1","b":"2"}`)))

	profile, err := cfg.Profile(AllProfile)
	require.NoError(t, err)
	require.Len(t, profile.Cookies, 2)
	assert.Equal(t, "a", profile.Cookies[0].Name)
	assert.Equal(t, "1", profile.Cookies[0].Value)
}

func TestPluginSettingsReturnsExtraConfig(t *testing.T) {
	cfg := &Config{
		Requests: map[string]RequestProfile{
			"moonreader": {ExtraConfig: map[string]string{"base_url": "https://example.test"}},
		},
	}

	assert.Equal(t, "https://example.test", cfg.PluginSettings("moonreader")["base_url"])
	assert.Nil(t, cfg.PluginSettings("absent"))
}
