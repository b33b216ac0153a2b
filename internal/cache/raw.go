package cache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nhle/taskcache/internal/model"
	"github.com/nhle/taskcache/internal/store"
)

// cborNull is the CBOR encoding of null.
const cborNull = 0xf6

// RawInfo is the header of a raw record.
type RawInfo struct {
	Version   string    `cbor:"version"`
	Timestamp time.Time `cbor:"timestamp"`
	Count     int       `cbor:"count"`

	// SyncedAt is the last sync time of the run that wrote the record. It
	// pairs the record with the metadata written by the same run.
	SyncedAt time.Time `cbor:"synced_at"`
}

// rawRecord is the stored form. Items stays undecoded until the header
// has been checked.
type rawRecord struct {
	RawInfo
	Items cbor.RawMessage `cbor:"items"`
}

type rawRecordOut struct {
	RawInfo
	Items []model.Item `cbor:"items"`
}

// Times are written as RFC 3339 text to keep sub-second precision.
var (
	rawEncMode cbor.EncMode
	rawDecMode cbor.DecMode
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	var err error
	rawEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	rawDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}

// RawTier stores the full item list in a blob store.
type RawTier struct {
	blobs   store.BlobStore
	version string
	logger  *slog.Logger
	now     func() time.Time
}

// NewRawTier returns a tier that stamps records with version.
func NewRawTier(blobs store.BlobStore, version string, opts ...Option) *RawTier {
	o := buildOptions("raw", opts)
	return &RawTier{blobs: blobs, version: version, logger: o.logger, now: o.now}
}

// Save encodes and stores the full item list. It may be slow; callers that
// must not wait run it in the background.
func (t *RawTier) Save(ctx context.Context, items []model.Item) error {
	return t.SaveAt(ctx, items, time.Time{})
}

// SaveAt is Save with the last sync time of the writing run recorded.
func (t *RawTier) SaveAt(ctx context.Context, items []model.Item, syncedAt time.Time) error {
	if items == nil {
		items = []model.Item{}
	}

	data, err := rawEncMode.Marshal(rawRecordOut{
		RawInfo: RawInfo{
			Version:   t.version,
			Timestamp: t.now().UTC(),
			Count:     len(items),
			SyncedAt:  syncedAt.UTC(),
		},
		Items: items,
	})
	if err != nil {
		t.logger.Warn("encoding raw items failed", "error", err)
		return fmt.Errorf("encoding raw items: %w", err)
	}

	if err := t.blobs.SetBlob(ctx, RawKey, data); err != nil {
		t.logger.Warn("saving raw items failed", "error", err)
		return fmt.Errorf("saving raw items: %w", err)
	}

	t.logger.Debug("raw items saved", "count", len(items), "bytes", len(data))
	return nil
}

// Load returns the stored items and true, or false when the record is
// absent, malformed or stale. Malformed and stale records are cleared.
func (t *RawTier) Load(ctx context.Context) ([]model.Item, bool) {
	_, items, ok := t.LoadRecord(ctx)
	return items, ok
}

// LoadRecord is Load that also returns the record header.
func (t *RawTier) LoadRecord(ctx context.Context) (*RawInfo, []model.Item, bool) {
	record, ok := t.read(ctx)
	if !ok {
		return nil, nil, false
	}

	if len(record.Items) == 0 || record.Items[0] == cborNull {
		t.discard(ctx, fmt.Errorf("%w: missing items", ErrCorruptPayload))
		return nil, nil, false
	}

	var items []model.Item
	if err := rawDecMode.Unmarshal(record.Items, &items); err != nil {
		t.discard(ctx, fmt.Errorf("%w: items: %v", ErrCorruptPayload, err))
		return nil, nil, false
	}

	if record.Count != len(items) {
		t.logger.Warn("raw record count does not match items",
			"count", record.Count, "items", len(items))
	}

	return &record.RawInfo, items, true
}

// Info returns the record header, or nil when the record is absent, stale
// or unreadable.
func (t *RawTier) Info(ctx context.Context) *RawInfo {
	record, ok := t.read(ctx)
	if !ok {
		return nil
	}
	return &record.RawInfo
}

func (t *RawTier) read(ctx context.Context) (*rawRecord, bool) {
	data, err := t.blobs.GetBlob(ctx, RawKey)
	if err != nil {
		if !store.IsNotFound(err) {
			t.logger.Warn("reading raw items failed", "error", err)
		}
		return nil, false
	}

	var record rawRecord
	if err := rawDecMode.Unmarshal(data, &record); err != nil {
		t.discard(ctx, fmt.Errorf("%w: %v", ErrCorruptPayload, err))
		return nil, false
	}

	if record.Version != t.version {
		t.discard(ctx, fmt.Errorf("%w: have %q, want %q", ErrStaleVersion, record.Version, t.version))
		return nil, false
	}

	return &record, true
}

// Clear deletes the stored record.
func (t *RawTier) Clear(ctx context.Context) error {
	if err := t.blobs.DeleteBlob(ctx, RawKey); err != nil {
		return fmt.Errorf("clearing raw items: %w", err)
	}
	return nil
}

func (t *RawTier) discard(ctx context.Context, reason error) {
	logDiscard(t.logger, reason)
	if err := t.Clear(ctx); err != nil {
		t.logger.Warn("deleting invalid raw items failed", "error", err)
	}
}
