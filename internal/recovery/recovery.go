// Package recovery salvages data written by earlier cache generations when
// every current tier is empty, typically right after a schema version bump.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tailscale/hujson"

	"github.com/nhle/taskcache/internal/grouping"
	"github.com/nhle/taskcache/internal/model"
	"github.com/nhle/taskcache/internal/store"
)

// Result is a grouped view found under a legacy key.
type Result struct {
	Key    string
	Groups []grouping.Group
}

// Scanner reads legacy keys from a key/value store. It never writes to
// the current tiers.
type Scanner struct {
	kv        store.KeyValueStore
	keys      []string
	configKey string
	logger    *slog.Logger
}

// NewScanner returns a scanner that tries keys in order. Empty keys or
// configKey fall back to the defaults.
func NewScanner(kv store.KeyValueStore, keys []string, configKey string, logger *slog.Logger) *Scanner {
	if len(keys) == 0 {
		keys = model.DefaultLegacyKeys
	}
	if configKey == "" {
		configKey = model.DefaultLegacyConfigKey
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		kv:        kv,
		keys:      keys,
		configKey: configKey,
		logger:    logger.With("component", "recovery"),
	}
}

// Scan returns the first legacy key whose value parses as a list of groups,
// either bare or wrapped in an object's "data" field. It returns nil when no
// key yields usable data.
func (s *Scanner) Scan(ctx context.Context) *Result {
	for _, key := range s.keys {
		if ctx.Err() != nil {
			return nil
		}

		value, err := s.kv.Get(ctx, key)
		if err != nil {
			if !store.IsNotFound(err) {
				s.logger.Warn("reading legacy key failed", "key", key, "error", err)
			}
			continue
		}

		groups, err := parseGroups([]byte(value))
		if err != nil {
			s.logger.Debug("legacy key not usable", "key", key, "error", err)
			continue
		}

		s.logger.Info("recovered legacy cache", "key", key, "groups", len(groups))
		return &Result{Key: key, Groups: groups}
	}
	return nil
}

// parseGroups accepts JSON or JSONC holding either a list of groups or an
// object with the list under "data".
func parseGroups(data []byte) ([]grouping.Group, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return nil, fmt.Errorf("invalid JSONC: %w", err)
	}

	var list []json.RawMessage
	if err := json.Unmarshal(standardized, &list); err != nil {
		var wrapped struct {
			Data json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(standardized, &wrapped); err != nil {
			return nil, fmt.Errorf("neither a list nor an object: %w", err)
		}
		if err := json.Unmarshal(wrapped.Data, &list); err != nil || list == nil {
			return nil, fmt.Errorf("object has no data list")
		}
	}
	if list == nil {
		return nil, fmt.Errorf("null list")
	}

	groups := make([]grouping.Group, 0, len(list))
	for i, raw := range list {
		var g grouping.Group
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, fmt.Errorf("group %d: %w", i, err)
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// legacyConfig is the configuration shape earlier generations stored.
type legacyConfig struct {
	BaseURL string `json:"base_url"`
	Email   string `json:"email"`
	Token   string `json:"token"`
	JQL     string `json:"jql"`
	Project string `json:"project"`
}

// RecoverConfig copies settings from the legacy configuration key into cfg,
// filling only fields cfg leaves empty. It returns the config keys it
// filled. A missing legacy key is not an error.
func (s *Scanner) RecoverConfig(ctx context.Context, cfg *model.AppConfig) ([]string, error) {
	value, err := s.kv.Get(ctx, s.configKey)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading legacy config: %w", err)
	}

	standardized, err := hujson.Standardize([]byte(value))
	if err != nil {
		return nil, fmt.Errorf("parsing legacy config: invalid JSONC: %w", err)
	}

	var legacy legacyConfig
	if err := json.Unmarshal(standardized, &legacy); err != nil {
		return nil, fmt.Errorf("parsing legacy config: %w", err)
	}

	var filled []string
	fill := func(key string, dst *string, src string) {
		if *dst == "" && src != "" {
			*dst = src
			filled = append(filled, key)
		}
	}
	fill("source.base_url", &cfg.Source.BaseURL, legacy.BaseURL)
	fill("source.email", &cfg.Source.Email, legacy.Email)
	fill("source.token", &cfg.Source.Token, legacy.Token)
	fill("source.jql", &cfg.Source.JQL, legacy.JQL)
	if len(cfg.Filters.Projects) == 0 && legacy.Project != "" {
		cfg.Filters.Projects = []string{legacy.Project}
		filled = append(filled, "filters.projects")
	}

	if len(filled) > 0 {
		s.logger.Info("recovered legacy config", "fields", filled)
	}
	return filled, nil
}
