// Package cache implements the three storage tiers that hold the local
// replica of the tracker's work items:
//
//   - MetadataTier: a small JSON summary (distinct tags, statuses,
//     assignees, projects, priorities, item count, last sync time).
//   - ProcessedTier: the compressed, display-ready grouping of items.
//     It is derived data and is never used as a merge source.
//   - RawTier: the full item list, CBOR encoded in a blob store. It is the
//     source of truth from which the processed tier is regenerated.
//
// Every record carries a schema version stamp. A record whose stamp does
// not match the running version is deleted and reported as absent.
//
// Load never returns an error: a missing, stale or corrupt record all read
// as a cache miss. Save returns the store error for the caller to log; the
// tier has already logged it.
package cache

import (
	"errors"
	"log/slog"
	"time"
)

// Storage keys. They are fixed per tier.
const (
	MetadataKey         = "metadata"
	ProcessedKey        = "processed_data"
	ProcessedPayloadKey = "processed_data:payload"
	RawKey              = "raw_items"
)

var (
	// ErrStaleVersion marks a record written under another schema version.
	ErrStaleVersion = errors.New("stale schema version")

	// ErrCorruptPayload marks a record that could not be decoded.
	ErrCorruptPayload = errors.New("corrupt payload")
)

// Option configures a tier.
type Option func(*options)

type options struct {
	logger *slog.Logger
	now    func() time.Time
	codec  Codec
}

// WithLogger sets the tier's logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source used for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithCodec selects the processed tier's compression. The default is zstd.
// Other tiers ignore it.
func WithCodec(c Codec) Option {
	return func(o *options) {
		if c != "" {
			o.codec = c
		}
	}
}

func buildOptions(tier string, opts []Option) options {
	o := options{
		logger: slog.Default(),
		now:    time.Now,
		codec:  CodecZstd,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.logger = o.logger.With("tier", tier)
	return o
}

func isStale(err error) bool {
	return errors.Is(err, ErrStaleVersion)
}
