package model

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Defaults applied when the config file or a key is missing.
const (
	DefaultSchemaVersion   = "3"
	DefaultCompression     = "zstd"
	DefaultSyncTimeoutSec  = 180
	DefaultPollIntervalSec = 600
	DefaultPageSize        = 100
	DefaultLegacyConfigKey = "app_config"
)

// DefaultLegacyKeys are storage keys written by earlier cache generations,
// in the order the recovery scanner tries them.
var DefaultLegacyKeys = []string{
	"processed_data_v2",
	"processed_data_v1",
	"taskCache",
	"old_cache",
	"cached_data",
}

// SourceConfig holds the connection settings for the remote tracker.
type SourceConfig struct {
	// Type identifies the tracker kind. Only "jira" is supported.
	Type string `mapstructure:"type" yaml:"type"`

	// BaseURL is the root URL of the tracker.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// Email is the account the token belongs to.
	Email string `mapstructure:"email" yaml:"email"`

	// Token is the API token. It is normally loaded from the keyring
	// rather than written to the config file.
	Token string `mapstructure:"token" yaml:"token,omitempty"`

	// JQL scopes which items are fetched.
	JQL string `mapstructure:"jql" yaml:"jql"`

	// PageSize is the number of items requested per search page.
	PageSize int `mapstructure:"page_size" yaml:"page_size"`
}

// CacheConfig controls where and how the cache tiers are stored.
type CacheConfig struct {
	// Path is the SQLite database holding the metadata and processed tiers.
	Path string `mapstructure:"path" yaml:"path"`

	// BlobDir, when set, stores the raw tier as files in this directory
	// instead of inside the SQLite database.
	BlobDir string `mapstructure:"blob_dir" yaml:"blob_dir"`

	// SchemaVersion is stamped into every record. Bumping it invalidates
	// every tier.
	SchemaVersion string `mapstructure:"schema_version" yaml:"schema_version"`

	// Compression selects the processed tier codec: "zstd", "lz4" or "none".
	Compression string `mapstructure:"compression" yaml:"compression"`

	SyncTimeoutSec  int `mapstructure:"sync_timeout_sec" yaml:"sync_timeout_sec"`
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// LegacyKeys and LegacyConfigKey drive the recovery scanner.
	LegacyKeys      []string `mapstructure:"legacy_keys" yaml:"legacy_keys"`
	LegacyConfigKey string   `mapstructure:"legacy_config_key" yaml:"legacy_config_key"`
}

// FilterConfig holds the active view filters. Empty lists do not constrain.
type FilterConfig struct {
	Tags          []string `mapstructure:"tags" yaml:"tags"`
	Statuses      []string `mapstructure:"statuses" yaml:"statuses"`
	Assignees     []string `mapstructure:"assignees" yaml:"assignees"`
	Projects      []string `mapstructure:"projects" yaml:"projects"`
	Priorities    []string `mapstructure:"priorities" yaml:"priorities"`
	DueAfter      string   `mapstructure:"due_after" yaml:"due_after"`
	DueBefore     string   `mapstructure:"due_before" yaml:"due_before"`
	IncludeClosed bool     `mapstructure:"include_closed" yaml:"include_closed"`
}

// LogConfig controls the rotating log file.
type LogConfig struct {
	Path       string `mapstructure:"path" yaml:"path"`
	Level      string `mapstructure:"level" yaml:"level"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Source  SourceConfig `mapstructure:"source" yaml:"source"`
	Cache   CacheConfig  `mapstructure:"cache" yaml:"cache"`
	Filters FilterConfig `mapstructure:"filters" yaml:"filters"`
	Log     LogConfig    `mapstructure:"log" yaml:"log"`

	// Names maps a user identity to the display name used in views.
	Names map[string]string `mapstructure:"names" yaml:"names"`
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/taskcache/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "taskcache")
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".cache", "taskcache")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Source: SourceConfig{
			Type:     "jira",
			PageSize: DefaultPageSize,
		},
		Cache: CacheConfig{
			Path:            filepath.Join(dataDir(), "cache.db"),
			SchemaVersion:   DefaultSchemaVersion,
			Compression:     DefaultCompression,
			SyncTimeoutSec:  DefaultSyncTimeoutSec,
			PollIntervalSec: DefaultPollIntervalSec,
			LegacyKeys:      append([]string(nil), DefaultLegacyKeys...),
			LegacyConfigKey: DefaultLegacyConfigKey,
		},
		Log: LogConfig{
			Path:       filepath.Join(dataDir(), "taskcache.log"),
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Names: map[string]string{},
	}
}

// setDefaults mirrors defaultAppConfig so missing keys resolve to the same
// values whether or not a config file exists.
func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("source.type", d.Source.Type)
	// Empty defaults register the keys so AutomaticEnv can override them.
	v.SetDefault("source.base_url", "")
	v.SetDefault("source.email", "")
	v.SetDefault("source.token", "")
	v.SetDefault("source.jql", "")
	v.SetDefault("source.page_size", d.Source.PageSize)
	v.SetDefault("cache.path", d.Cache.Path)
	v.SetDefault("cache.schema_version", d.Cache.SchemaVersion)
	v.SetDefault("cache.compression", d.Cache.Compression)
	v.SetDefault("cache.sync_timeout_sec", d.Cache.SyncTimeoutSec)
	v.SetDefault("cache.poll_interval_sec", d.Cache.PollIntervalSec)
	v.SetDefault("cache.legacy_keys", d.Cache.LegacyKeys)
	v.SetDefault("cache.legacy_config_key", d.Cache.LegacyConfigKey)
	v.SetDefault("log.path", d.Log.Path)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.max_size_mb", d.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", d.Log.MaxBackups)
	v.SetDefault("log.max_age_days", d.Log.MaxAgeDays)
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// Environment variables prefixed with TASKCACHE_ override file values
// (e.g. TASKCACHE_SOURCE_BASE_URL). If the file does not exist, defaults
// are used.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("taskcache")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		_, isPathErr := err.(*os.PathError)
		_, isNotFound := err.(viper.ConfigFileNotFoundError)
		if !isPathErr && !isNotFound {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Names == nil {
		cfg.Names = map[string]string{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate rejects settings that would make the cache unusable.
func (c *AppConfig) Validate() error {
	if strings.TrimSpace(c.Cache.SchemaVersion) == "" {
		return fmt.Errorf("cache.schema_version must not be empty")
	}
	switch c.Cache.Compression {
	case "zstd", "lz4", "none":
	default:
		return fmt.Errorf("cache.compression must be zstd, lz4 or none, got %q", c.Cache.Compression)
	}
	if c.Cache.SyncTimeoutSec <= 0 {
		return fmt.Errorf("cache.sync_timeout_sec must be positive")
	}
	if c.Source.PageSize <= 0 {
		c.Source.PageSize = DefaultPageSize
	}
	return nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. The token is never written.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	src := cfg.Source
	src.Token = ""

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("source", src)
	v.Set("cache", cfg.Cache)
	v.Set("filters", cfg.Filters)
	v.Set("log", cfg.Log)
	v.Set("names", cfg.Names)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
