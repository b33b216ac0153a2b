package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/taskcache/internal/model"
	"github.com/nhle/taskcache/internal/store"
)

// MetadataTier stores the corpus summary in a key/value store.
type MetadataTier struct {
	kv      store.KeyValueStore
	version string
	logger  *slog.Logger
	now     func() time.Time
}

// NewMetadataTier returns a tier that stamps records with version.
func NewMetadataTier(kv store.KeyValueStore, version string, opts ...Option) *MetadataTier {
	o := buildOptions("metadata", opts)
	return &MetadataTier{kv: kv, version: version, logger: o.logger, now: o.now}
}

// Save records summary and itemCount with the current time as the last
// sync time.
func (t *MetadataTier) Save(ctx context.Context, summary model.Summary, itemCount int) error {
	return t.SaveAt(ctx, summary, itemCount, t.now())
}

// SaveAt records summary and itemCount with an explicit last sync time.
func (t *MetadataTier) SaveAt(
	ctx context.Context,
	summary model.Summary,
	itemCount int,
	lastSync time.Time,
) error {
	record := model.Metadata{
		Summary:   summary,
		Version:   t.version,
		LastSync:  lastSync.UTC(),
		ItemCount: itemCount,
	}

	data, err := json.Marshal(record)
	if err != nil {
		t.logger.Warn("encoding metadata failed", "error", err)
		return fmt.Errorf("encoding metadata: %w", err)
	}

	if err := t.kv.Set(ctx, MetadataKey, string(data)); err != nil {
		t.logger.Warn("saving metadata failed", "error", err)
		return fmt.Errorf("saving metadata: %w", err)
	}

	t.logger.Debug("metadata saved", "item_count", itemCount)
	return nil
}

// Load returns the stored record, or nil when it is absent, unreadable, or
// stamped with another version. Stale and unreadable records are deleted.
func (t *MetadataTier) Load(ctx context.Context) *model.Metadata {
	data, err := t.kv.Get(ctx, MetadataKey)
	if err != nil {
		if !store.IsNotFound(err) {
			t.logger.Warn("reading metadata failed", "error", err)
		}
		return nil
	}

	var record model.Metadata
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		t.discard(ctx, fmt.Errorf("%w: %v", ErrCorruptPayload, err))
		return nil
	}

	if record.Version != t.version {
		t.discard(ctx, fmt.Errorf("%w: have %q, want %q", ErrStaleVersion, record.Version, t.version))
		return nil
	}

	return &record
}

// Clear deletes the stored record.
func (t *MetadataTier) Clear(ctx context.Context) error {
	if err := t.kv.Delete(ctx, MetadataKey); err != nil {
		return fmt.Errorf("clearing metadata: %w", err)
	}
	return nil
}

func (t *MetadataTier) discard(ctx context.Context, reason error) {
	logDiscard(t.logger, reason)
	if err := t.Clear(ctx); err != nil {
		t.logger.Warn("deleting invalid metadata failed", "error", err)
	}
}

// logDiscard logs stale records quietly and corrupt ones as warnings.
func logDiscard(logger *slog.Logger, reason error) {
	if isStale(reason) {
		logger.Debug("discarding record", "reason", reason)
		return
	}
	logger.Warn("discarding record", "reason", reason)
}
