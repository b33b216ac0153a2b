package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "jira", cfg.Source.Type)
	assert.Equal(t, DefaultPageSize, cfg.Source.PageSize)
	assert.Equal(t, DefaultSchemaVersion, cfg.Cache.SchemaVersion)
	assert.Equal(t, DefaultCompression, cfg.Cache.Compression)
	assert.Equal(t, DefaultLegacyKeys, cfg.Cache.LegacyKeys)
	assert.NotNil(t, cfg.Names)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg := defaultAppConfig()
	cfg.Source.BaseURL = "https://jira.example.com"
	cfg.Source.Email = "ana@example.com"
	cfg.Source.Token = "secret"
	cfg.Source.JQL = "project = CORE"
	cfg.Cache.Compression = "lz4"
	cfg.Filters.Tags = []string{"backend"}
	cfg.Filters.IncludeClosed = true
	cfg.Names = map[string]string{"u1": "Ana Lima"}

	require.NoError(t, SaveConfig(path, cfg))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret", "token must stay out of the file")

	got, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://jira.example.com", got.Source.BaseURL)
	assert.Equal(t, "ana@example.com", got.Source.Email)
	assert.Empty(t, got.Source.Token)
	assert.Equal(t, "project = CORE", got.Source.JQL)
	assert.Equal(t, "lz4", got.Cache.Compression)
	assert.Equal(t, []string{"backend"}, got.Filters.Tags)
	assert.True(t, got.Filters.IncludeClosed)
	assert.Equal(t, "Ana Lima", got.Names["u1"])
	assert.Equal(t, "ana@example.com", cfg.Source.Email, "caller's config is untouched")
	assert.Equal(t, "secret", cfg.Source.Token)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("source:\n  base_url: https://file.example.com\n"), 0o600))

	t.Setenv("TASKCACHE_SOURCE_BASE_URL", "https://env.example.com")
	t.Setenv("TASKCACHE_SOURCE_TOKEN", "from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "https://env.example.com", cfg.Source.BaseURL)
	assert.Equal(t, "from-env", cfg.Source.Token)
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  compression: gzip\n"), 0o600))

	_, err := LoadConfig(path)
	assert.ErrorContains(t, err, "cache.compression")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*AppConfig)
		wantErr string
	}{
		{"defaults", func(*AppConfig) {}, ""},
		{"empty version", func(c *AppConfig) { c.Cache.SchemaVersion = " " }, "schema_version"},
		{"none codec", func(c *AppConfig) { c.Cache.Compression = "none" }, ""},
		{"bad codec", func(c *AppConfig) { c.Cache.Compression = "brotli" }, "compression"},
		{"zero timeout", func(c *AppConfig) { c.Cache.SyncTimeoutSec = 0 }, "sync_timeout_sec"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultAppConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestValidateResetsPageSize(t *testing.T) {
	t.Parallel()

	cfg := defaultAppConfig()
	cfg.Source.PageSize = -5
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultPageSize, cfg.Source.PageSize)
}

func TestSummarize(t *testing.T) {
	t.Parallel()

	items := []Item{
		{
			ID: "A-1", Status: "open", Project: "Core", Priority: "High",
			Tags:      []Tag{{Name: "q3"}, {Name: "backend"}},
			Assignees: []User{{ID: "u1", Username: "ana"}},
		},
		{
			ID: "A-2", Status: "closed", Project: "Web",
			Tags:      []Tag{{Name: "backend"}, {Name: ""}},
			Assignees: []User{{ID: "u2", Username: "bo"}, {ID: "u1", Username: "ana"}},
		},
	}

	got := Summarize(items, map[string]string{"u2": "Bo Diaz"})

	assert.Equal(t, Summary{
		Tags:       []string{"backend", "q3"},
		Statuses:   []string{"closed", "open"},
		Assignees:  []string{"Bo Diaz", "ana"},
		Projects:   []string{"Core", "Web"},
		Priorities: []string{"High"},
	}, got)
}

func TestSummarizeEmpty(t *testing.T) {
	t.Parallel()

	got := Summarize(nil, nil)
	assert.Empty(t, got.Tags)
	assert.NotNil(t, got.Tags)
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	names := map[string]string{"u1": "Ana Lima", "u3": ""}

	assert.Equal(t, "Ana Lima", DisplayName(User{ID: "u1", Username: "ana"}, names))
	assert.Equal(t, "bo", DisplayName(User{ID: "u2", Username: "bo"}, names))
	assert.Equal(t, "cy", DisplayName(User{ID: "u3", Username: "cy"}, names), "empty mapping is ignored")
	assert.Equal(t, "u4", DisplayName(User{ID: "u4"}, names))
	assert.Equal(t, "Ana Lima", DisplayName(User{Username: "u1"}, names), "identity falls back to username")
}

func TestItemHelpers(t *testing.T) {
	t.Parallel()

	item := Item{
		Tags:      []Tag{{Name: "a"}, {Name: "b"}},
		Assignees: []User{{ID: "u1", Username: "ana"}, {Username: "bo"}},
	}
	assert.Equal(t, []string{"a", "b"}, item.TagNames())
	assert.Equal(t, []string{"u1", "bo"}, item.AssigneeIDs())
	assert.False(t, item.Closed())

	closedAt := item.DateUpdated
	item.DateClosed = &closedAt
	assert.True(t, item.Closed())
}
