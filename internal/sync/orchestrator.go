// Package sync drives fetch, merge and persistence across the cache tiers.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/google/uuid"

	"github.com/nhle/taskcache/internal/cache"
	"github.com/nhle/taskcache/internal/grouping"
	"github.com/nhle/taskcache/internal/merge"
	"github.com/nhle/taskcache/internal/model"
	"github.com/nhle/taskcache/internal/recovery"
	"github.com/nhle/taskcache/internal/source"
	"github.com/nhle/taskcache/internal/store"
)

var (
	// ErrSyncInProgress is returned when an operation that needs exclusive
	// use of the tiers is requested while another one runs.
	ErrSyncInProgress = errors.New("sync already in progress")

	// ErrTimeout is returned when a sync exceeds its deadline.
	ErrTimeout = errors.New("sync timed out")

	// ErrFetch wraps failures reported by the remote source.
	ErrFetch = errors.New("fetch failed")

	// ErrNoRawData is returned by Reprocess when the raw tier is empty.
	ErrNoRawData = errors.New("no raw data cached")
)

// DefaultTimeout bounds a sync when Config.Timeout is unset.
const DefaultTimeout = 180 * time.Second

// SyncState is the orchestrator's position in the sync lifecycle.
type SyncState int

const (
	SyncIdle SyncState = iota
	SyncFetching
	SyncReconciling
	SyncPersisting
	SyncFailed
)

func (s SyncState) String() string {
	switch s {
	case SyncIdle:
		return "idle"
	case SyncFetching:
		return "fetching"
	case SyncReconciling:
		return "reconciling"
	case SyncPersisting:
		return "persisting"
	case SyncFailed:
		return "failed"
	default:
		return fmt.Sprintf("SyncState(%d)", int(s))
	}
}

// busy reports whether the state holds the tiers.
func (s SyncState) busy() bool {
	return s == SyncFetching || s == SyncReconciling || s == SyncPersisting
}

// Mode says which fetch a sync performed.
type Mode string

const (
	ModeFull        Mode = "full"
	ModeIncremental Mode = "incremental"
)

// Result describes a successful sync.
type Result struct {
	RunID     string           `json:"run_id"`
	Mode      Mode             `json:"mode"`
	Stats     merge.Stats      `json:"stats"`
	ItemCount int              `json:"item_count"`
	Groups    []grouping.Group `json:"groups"`

	// Warnings lists tier writes that failed without failing the sync.
	Warnings []string `json:"warnings,omitempty"`

	Duration time.Duration `json:"duration"`
}

// CacheStatus is a read-only view of what each tier holds.
type CacheStatus struct {
	HasMetadata      bool      `json:"has_metadata"`
	HasProcessedData bool      `json:"has_processed_data"`
	HasRawData       bool      `json:"has_raw_data"`
	LastSync         time.Time `json:"last_sync"`
	ItemCount        int       `json:"item_count"`
	Version          string    `json:"version"`
	State            string    `json:"state"`
}

// SnapshotSource says where LoadSnapshot found its data.
type SnapshotSource string

const (
	SnapshotNone      SnapshotSource = "none"
	SnapshotProcessed SnapshotSource = "processed"
	SnapshotRaw       SnapshotSource = "raw"
	SnapshotRecovery  SnapshotSource = "recovery"
)

// Snapshot is the best cached view available without fetching.
type Snapshot struct {
	Source   SnapshotSource
	Groups   []grouping.Group
	Metadata *model.Metadata

	// RecoveredKey names the legacy key the groups came from when Source
	// is SnapshotRecovery.
	RecoveredKey string
}

// Tiers bundles the three cache tiers.
type Tiers struct {
	Metadata  *cache.MetadataTier
	Processed *cache.ProcessedTier
	Raw       *cache.RawTier
}

// NewTiers builds the tiers over kv and blobs, all stamped with version.
func NewTiers(
	kv store.KeyValueStore,
	blobs store.BlobStore,
	version string,
	opts ...cache.Option,
) Tiers {
	return Tiers{
		Metadata:  cache.NewMetadataTier(kv, version, opts...),
		Processed: cache.NewProcessedTier(kv, version, opts...),
		Raw:       cache.NewRawTier(blobs, version, opts...),
	}
}

// Config holds the orchestrator's settings.
type Config struct {
	// Version is the schema version the tiers are stamped with.
	Version string

	// Timeout bounds each sync. Zero means DefaultTimeout.
	Timeout time.Duration

	// Filters select the items shown in the processed view.
	Filters grouping.Filters

	// Names maps user identities to display names.
	Names map[string]string

	// Scanner is consulted on cold start when every tier is empty.
	// Nil disables recovery.
	Scanner *recovery.Scanner

	Logger *slog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Orchestrator owns the tiers and serializes every operation that
// mutates them.
type Orchestrator struct {
	fetcher source.Fetcher
	tiers   Tiers
	scanner *recovery.Scanner
	version string
	timeout time.Duration
	names   map[string]string
	logger  *slog.Logger
	now     func() time.Time

	mu      gosync.Mutex
	state   SyncState
	lastErr error
	filters grouping.Filters

	// pending holds one channel per detached raw write, closed when the
	// write returns.
	writesMu gosync.Mutex
	pending  []chan struct{}
}

// New creates an orchestrator pulling from fetcher into tiers.
func New(fetcher source.Fetcher, tiers Tiers, cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Orchestrator{
		fetcher: fetcher,
		tiers:   tiers,
		scanner: cfg.Scanner,
		version: cfg.Version,
		timeout: timeout,
		names:   cfg.Names,
		logger:  logger.With("component", "sync"),
		now:     now,
		filters: cfg.Filters,
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() SyncState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// LastError returns the error of the most recent failed sync, or nil.
func (o *Orchestrator) LastError() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.lastErr
}

// Filters returns the filters the processed view is built with.
func (o *Orchestrator) Filters() grouping.Filters {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.filters
}

// acquire moves to state and returns the state it replaced, or fails if
// another operation holds the tiers.
func (o *Orchestrator) acquire(state SyncState) (SyncState, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state.busy() {
		return o.state, ErrSyncInProgress
	}
	prev := o.state
	o.state = state
	return prev, nil
}

func (o *Orchestrator) setState(state SyncState) {
	o.mu.Lock()
	o.state = state
	o.mu.Unlock()
}

// release hands the tiers back, restoring the state acquire replaced so a
// failed sync stays visible.
func (o *Orchestrator) release(prev SyncState) {
	o.setState(prev)
}

// finish releases the tiers, recording err when the sync failed.
func (o *Orchestrator) finish(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastErr = err
	if err != nil {
		o.state = SyncFailed
		return
	}
	o.state = SyncIdle
}

// Sync fetches from the source and updates every tier. With a previous
// sync on record and a readable raw tier it fetches only the items
// updated since then and merges them in; otherwise it fetches everything.
//
// Metadata is written first, then the processed view. The raw tier is
// written in the background after Sync returns; Wait blocks until it is
// done. Tier write failures are reported in Result.Warnings, not as
// errors. A fetch failure or timeout leaves every tier untouched.
func (o *Orchestrator) Sync(ctx context.Context) (*Result, error) {
	if _, err := o.acquire(SyncFetching); err != nil {
		return nil, err
	}

	result, err := o.sync(ctx)
	o.finish(err)
	return result, err
}

func (o *Orchestrator) sync(parent context.Context) (*Result, error) {
	start := o.now()
	runID := uuid.NewString()
	logger := o.logger.With("run_id", runID)

	ctx, cancel := context.WithTimeout(parent, o.timeout)
	defer cancel()

	// A raw write from the previous run must land before it is read back.
	if err := o.waitWrites(ctx); err != nil {
		return nil, o.deadlineErr(logger, err)
	}

	mode := ModeFull
	var (
		since  time.Time
		cached []model.Item
	)
	if meta := o.tiers.Metadata.Load(ctx); meta != nil && !meta.LastSync.IsZero() {
		info, items, ok := o.tiers.Raw.LoadRecord(ctx)
		switch {
		case !ok:
			logger.Info("raw tier unavailable, falling back to full fetch",
				"last_sync", meta.LastSync)
		case !info.SyncedAt.Equal(meta.LastSync) || info.Count != meta.ItemCount:
			// The raw write of a later sync was lost; a delta since
			// lastSync would not cover the items only it held.
			logger.Info("raw tier older than metadata, falling back to full fetch",
				"last_sync", meta.LastSync,
				"raw_synced_at", info.SyncedAt,
				"raw_count", info.Count,
				"item_count", meta.ItemCount,
			)
		default:
			mode = ModeIncremental
			since = meta.LastSync
			cached = items
		}
	}

	logger.Info("sync started", "mode", mode, "cached", len(cached))

	fetchStart := o.now()
	fresh, err := o.fetch(ctx, since)
	if err != nil {
		if ctx.Err() != nil {
			return nil, o.deadlineErr(logger, ctx.Err())
		}
		logger.Warn("sync failed", "error", err, "auth", source.IsAuthError(err))
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	o.setState(SyncReconciling)
	var (
		merged []model.Item
		stats  merge.Stats
	)
	if mode == ModeIncremental {
		merged, stats = merge.MergeWith(logger, cached, fresh)
	} else {
		// Offset paging repeats items updated mid-walk.
		merged = merge.Dedupe(fresh)
		stats = merge.Stats{Added: len(merged)}
		if dropped := len(fresh) - len(merged); dropped > 0 {
			logger.Debug("dropped repeated items from full fetch", "count", dropped)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, o.deadlineErr(logger, err)
	}

	// Once persisting starts it runs to completion so the tiers stay
	// consistent with each other.
	o.setState(SyncPersisting)
	persistCtx := context.WithoutCancel(ctx)
	var warnings []string

	summary := o.fetcher.SummaryFields(merged, o.names)
	if err := o.tiers.Metadata.SaveAt(persistCtx, summary, len(merged), fetchStart); err != nil {
		warnings = append(warnings, err.Error())
	}

	groups := grouping.Build(merged, o.Filters(), o.names)
	if err := o.tiers.Processed.Save(persistCtx, groups); err != nil {
		warnings = append(warnings, err.Error())
	}

	o.saveRawDetached(persistCtx, logger, merged, fetchStart)

	result := &Result{
		RunID:     runID,
		Mode:      mode,
		Stats:     stats,
		ItemCount: len(merged),
		Groups:    groups,
		Warnings:  warnings,
		Duration:  o.now().Sub(start),
	}
	logger.Info("sync finished",
		"mode", mode,
		"items", result.ItemCount,
		"added", stats.Added,
		"updated", stats.Updated,
		"unchanged", stats.Unchanged,
		"warnings", len(warnings),
		"duration", result.Duration,
	)
	return result, nil
}

// fetch runs a full fetch, or a delta fetch when since is set. The call
// runs in its own goroutine so the deadline abandons it even if the source
// ignores its context.
func (o *Orchestrator) fetch(ctx context.Context, since time.Time) ([]model.Item, error) {
	type fetchResult struct {
		items []model.Item
		err   error
	}
	done := make(chan fetchResult, 1)

	go func() {
		var r fetchResult
		if since.IsZero() {
			r.items, r.err = o.fetcher.FetchFull(ctx)
		} else {
			r.items, r.err = o.fetcher.FetchSince(ctx, since)
		}
		done <- r
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		return r.items, r.err
	}
}

func (o *Orchestrator) deadlineErr(logger *slog.Logger, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		logger.Warn("sync timed out", "timeout", o.timeout)
		return fmt.Errorf("%w after %s", ErrTimeout, o.timeout)
	}
	logger.Warn("sync cancelled", "error", err)
	return err
}

// saveRawDetached writes the raw tier in the background, stamped with the
// run's last sync time.
func (o *Orchestrator) saveRawDetached(
	ctx context.Context,
	logger *slog.Logger,
	items []model.Item,
	syncedAt time.Time,
) {
	done := make(chan struct{})
	o.writesMu.Lock()
	o.pending = append(o.pending, done)
	o.writesMu.Unlock()

	go func() {
		defer close(done)
		if err := o.tiers.Raw.SaveAt(ctx, items, syncedAt); err != nil {
			logger.Warn("background raw write failed", "error", err)
			return
		}
		logger.Debug("background raw write finished", "items", len(items))
	}()
}

// waitWrites blocks until detached raw writes finish or ctx is done.
func (o *Orchestrator) waitWrites(ctx context.Context) error {
	o.writesMu.Lock()
	pending := append([]chan struct{}(nil), o.pending...)
	o.writesMu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	o.writesMu.Lock()
	kept := o.pending[:0]
	for _, done := range o.pending {
		select {
		case <-done:
		default:
			kept = append(kept, done)
		}
	}
	o.pending = kept
	o.writesMu.Unlock()
	return nil
}

// Wait blocks until every background raw write has finished.
func (o *Orchestrator) Wait(ctx context.Context) error {
	return o.waitWrites(ctx)
}

// Reprocess rebuilds the processed view from the raw tier under filters
// and makes them the active filters.
func (o *Orchestrator) Reprocess(ctx context.Context, filters grouping.Filters) ([]grouping.Group, error) {
	prev, err := o.acquire(SyncReconciling)
	if err != nil {
		return nil, err
	}
	defer o.release(prev)
	return o.reprocess(ctx, filters)
}

func (o *Orchestrator) reprocess(ctx context.Context, filters grouping.Filters) ([]grouping.Group, error) {
	if err := o.waitWrites(ctx); err != nil {
		return nil, err
	}

	items, ok := o.tiers.Raw.Load(ctx)
	if !ok {
		return nil, ErrNoRawData
	}

	o.mu.Lock()
	o.filters = filters
	o.mu.Unlock()

	groups := grouping.Build(items, filters, o.names)
	if err := o.tiers.Processed.Save(ctx, groups); err != nil {
		return groups, fmt.Errorf("reprocessing: %w", err)
	}
	return groups, nil
}

// LoadSnapshot returns the cheapest cached view available: the processed
// tier, else a view rebuilt from the raw tier, else, when every tier is
// empty, whatever the recovery scanner finds. Recovered data is returned
// for display only and is not written to any tier.
//
// Loading may rewrite or clear tiers, so it takes the same guard as Sync
// and returns ErrSyncInProgress while another operation holds the tiers.
func (o *Orchestrator) LoadSnapshot(ctx context.Context) (*Snapshot, error) {
	prev, err := o.acquire(SyncReconciling)
	if err != nil {
		return nil, err
	}
	defer o.release(prev)

	if err := o.waitWrites(ctx); err != nil {
		return nil, err
	}
	return o.loadSnapshot(ctx), nil
}

func (o *Orchestrator) loadSnapshot(ctx context.Context) *Snapshot {
	meta := o.tiers.Metadata.Load(ctx)
	snap := &Snapshot{Source: SnapshotNone, Metadata: meta}

	if groups, ok := o.tiers.Processed.Load(ctx); ok {
		snap.Source = SnapshotProcessed
		snap.Groups = groups
		return snap
	}

	if items, ok := o.tiers.Raw.Load(ctx); ok {
		groups := grouping.Build(items, o.Filters(), o.names)
		if err := o.tiers.Processed.Save(ctx, groups); err != nil {
			o.logger.Warn("regenerating processed view failed", "error", err)
		}
		snap.Source = SnapshotRaw
		snap.Groups = groups
		return snap
	}

	if meta != nil || o.scanner == nil {
		return snap
	}

	if found := o.scanner.Scan(ctx); found != nil {
		snap.Source = SnapshotRecovery
		snap.Groups = found.Groups
		snap.RecoveredKey = found.Key
	}
	return snap
}

// Clear deletes every tier once in-flight raw writes have finished. All
// three deletions are attempted even if one fails.
func (o *Orchestrator) Clear(ctx context.Context) error {
	prev, err := o.acquire(SyncPersisting)
	if err != nil {
		return err
	}
	defer o.release(prev)

	if err := o.waitWrites(ctx); err != nil {
		return fmt.Errorf("waiting for background writes: %w", err)
	}

	err = errors.Join(
		o.tiers.Metadata.Clear(ctx),
		o.tiers.Processed.Clear(ctx),
		o.tiers.Raw.Clear(ctx),
	)
	if err != nil {
		o.logger.Warn("clearing cache failed", "error", err)
		return err
	}
	o.logger.Info("cache cleared")
	return nil
}

// Status reports what each tier currently holds.
func (o *Orchestrator) Status(ctx context.Context) CacheStatus {
	status := CacheStatus{
		Version: o.version,
		State:   o.State().String(),
	}

	if meta := o.tiers.Metadata.Load(ctx); meta != nil {
		status.HasMetadata = true
		status.LastSync = meta.LastSync
		status.ItemCount = meta.ItemCount
		status.Version = meta.Version
	}
	status.HasProcessedData = o.tiers.Processed.Info(ctx) != nil
	if info := o.tiers.Raw.Info(ctx); info != nil {
		status.HasRawData = true
		if !status.HasMetadata {
			status.ItemCount = info.Count
		}
	}
	return status
}
