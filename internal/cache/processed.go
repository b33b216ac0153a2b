package cache

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/taskcache/internal/grouping"
	"github.com/nhle/taskcache/internal/store"
)

// ProcessedInfo is the header of a processed record.
type ProcessedInfo struct {
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
	Codec     Codec     `json:"codec"`

	// Size is the uncompressed payload length.
	Size int `json:"size"`

	// Checksum is the BLAKE3 digest of the uncompressed payload.
	Checksum string `json:"checksum"`
}

// ProcessedTier stores the grouped view compressed in a key/value store.
// The header and the base64 payload live under separate keys.
type ProcessedTier struct {
	kv      store.KeyValueStore
	version string
	codec   Codec
	logger  *slog.Logger
	now     func() time.Time
}

// NewProcessedTier returns a tier that stamps records with version.
func NewProcessedTier(kv store.KeyValueStore, version string, opts ...Option) *ProcessedTier {
	o := buildOptions("processed", opts)
	return &ProcessedTier{
		kv:      kv,
		version: version,
		codec:   o.codec,
		logger:  o.logger,
		now:     o.now,
	}
}

// Save serializes, compresses and stores groups. The payload is written
// before the header so a reader never sees a header without its payload.
func (t *ProcessedTier) Save(ctx context.Context, groups []grouping.Group) error {
	if groups == nil {
		groups = []grouping.Group{}
	}

	serialized, err := json.Marshal(groups)
	if err != nil {
		t.logger.Warn("encoding processed data failed", "error", err)
		return fmt.Errorf("encoding processed data: %w", err)
	}
	if len(serialized) > MaxPayloadSize {
		t.logger.Warn("processed data too large", "size", len(serialized))
		return fmt.Errorf("processed data is %d bytes, limit %d", len(serialized), MaxPayloadSize)
	}

	compressed, codec, err := compress(serialized, t.codec)
	if err != nil {
		t.logger.Warn("compressing processed data failed", "error", err)
		return fmt.Errorf("compressing processed data: %w", err)
	}

	header, err := json.Marshal(ProcessedInfo{
		Version:   t.version,
		Timestamp: t.now().UTC(),
		Codec:     codec,
		Size:      len(serialized),
		Checksum:  checksum(serialized),
	})
	if err != nil {
		return fmt.Errorf("encoding processed header: %w", err)
	}

	payload := base64.StdEncoding.EncodeToString(compressed)
	if err := t.kv.Set(ctx, ProcessedPayloadKey, payload); err != nil {
		t.logger.Warn("saving processed payload failed", "error", err)
		return fmt.Errorf("saving processed payload: %w", err)
	}
	if err := t.kv.Set(ctx, ProcessedKey, string(header)); err != nil {
		t.logger.Warn("saving processed header failed", "error", err)
		return fmt.Errorf("saving processed header: %w", err)
	}

	t.logger.Debug("processed data saved",
		"groups", len(groups),
		"codec", codec,
		"size", len(serialized),
		"compressed", len(compressed),
	)
	return nil
}

// Load returns the stored groups and true, or false when the record is
// absent, stale or corrupt. Stale and corrupt records are cleared.
func (t *ProcessedTier) Load(ctx context.Context) ([]grouping.Group, bool) {
	info := t.Info(ctx)
	if info == nil {
		return nil, false
	}

	groups, err := t.readPayload(ctx, info)
	if err != nil {
		if store.IsNotFound(err) {
			err = fmt.Errorf("%w: header without payload", ErrCorruptPayload)
		}
		t.discard(ctx, err)
		return nil, false
	}

	return groups, true
}

// Info returns the record header without reading the payload, or nil when
// the record is absent or unusable. Stale and unreadable headers are cleared.
func (t *ProcessedTier) Info(ctx context.Context) *ProcessedInfo {
	data, err := t.kv.Get(ctx, ProcessedKey)
	if err != nil {
		if !store.IsNotFound(err) {
			t.logger.Warn("reading processed header failed", "error", err)
		}
		return nil
	}

	var info ProcessedInfo
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		t.discard(ctx, fmt.Errorf("%w: header: %v", ErrCorruptPayload, err))
		return nil
	}
	if info.Version != t.version {
		t.discard(ctx, fmt.Errorf("%w: have %q, want %q", ErrStaleVersion, info.Version, t.version))
		return nil
	}

	return &info
}

func (t *ProcessedTier) readPayload(ctx context.Context, info *ProcessedInfo) ([]grouping.Group, error) {
	if info.Size < 0 || info.Size > MaxPayloadSize {
		return nil, fmt.Errorf("%w: header size %d out of range", ErrCorruptPayload, info.Size)
	}

	encoded, err := t.kv.Get(ctx, ProcessedPayloadKey)
	if err != nil {
		return nil, err
	}

	compressed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrCorruptPayload, err)
	}

	serialized, err := decompress(compressed, info.Codec, info.Size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}

	if sum := checksum(serialized); sum != info.Checksum {
		return nil, fmt.Errorf("%w: checksum %s does not match %s", ErrCorruptPayload, sum, info.Checksum)
	}

	var groups []grouping.Group
	if err := json.Unmarshal(serialized, &groups); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}

	return groups, nil
}

// Clear deletes both the header and the payload. Both deletions are
// attempted even if the first fails.
func (t *ProcessedTier) Clear(ctx context.Context) error {
	var errs []error
	if err := t.kv.Delete(ctx, ProcessedKey); err != nil {
		errs = append(errs, err)
	}
	if err := t.kv.Delete(ctx, ProcessedPayloadKey); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("clearing processed data: %w", err)
	}
	return nil
}

func (t *ProcessedTier) discard(ctx context.Context, reason error) {
	logDiscard(t.logger, reason)
	if err := t.Clear(ctx); err != nil {
		t.logger.Warn("deleting invalid processed data failed", "error", err)
	}
}
