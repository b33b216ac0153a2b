// Package merge reconciles a delta fetched from the tracker against the
// cached raw item list.
//
// A delta only contains items touched since the last sync, so items it
// omits are kept. The engine never deletes.
package merge

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/nhle/taskcache/internal/model"
)

// Stats counts what a merge did with each item of the delta.
type Stats struct {
	Added     int `json:"added"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
}

// Merge returns cached with delta applied, plus change statistics. It logs
// through slog.Default; MergeWith takes a logger.
func Merge(cached, delta []model.Item) ([]model.Item, Stats) {
	return MergeWith(slog.Default(), cached, delta)
}

// MergeWith returns cached with delta applied, plus change statistics.
//
// A delta item whose ID is new is appended. One whose ID exists replaces
// the cached entry only if Changed reports a difference; otherwise the
// cached entry is kept as is. Cached items absent from delta are retained.
// Output order is the cached order followed by new items in delta order.
//
// If merging panics the delta is returned unchanged with all-added stats.
func MergeWith(logger *slog.Logger, cached, delta []model.Item) ([]model.Item, Stats) {
	return mergeSafely(logger, cached, delta, mergeItems)
}

func mergeSafely(
	logger *slog.Logger,
	cached, delta []model.Item,
	apply func(cached, delta []model.Item) ([]model.Item, Stats),
) (merged []model.Item, stats Stats) {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("merge failed, using delta as is",
				"panic", fmt.Sprint(r),
				"cached", len(cached),
				"delta", len(delta),
			)
			merged = delta
			stats = Stats{Added: len(delta)}
		}
	}()
	return apply(cached, delta)
}

func mergeItems(cached, delta []model.Item) ([]model.Item, Stats) {
	var stats Stats
	index := make(map[string]int, len(cached)+len(delta))
	merged := make([]model.Item, 0, len(cached)+len(delta))

	for _, item := range cached {
		if pos, ok := index[item.ID]; ok {
			// Duplicate IDs in the cache collapse to the last entry.
			merged[pos] = item
			continue
		}
		index[item.ID] = len(merged)
		merged = append(merged, item)
	}

	for _, fresh := range delta {
		pos, ok := index[fresh.ID]
		if !ok {
			index[fresh.ID] = len(merged)
			merged = append(merged, fresh)
			stats.Added++
			continue
		}
		if Changed(merged[pos], fresh) {
			merged[pos] = fresh
			stats.Updated++
			continue
		}
		stats.Unchanged++
	}

	return merged, stats
}

// Dedupe returns items with one entry per ID. A repeated ID keeps the
// position of its first occurrence and the value of its last.
func Dedupe(items []model.Item) []model.Item {
	index := make(map[string]int, len(items))
	out := make([]model.Item, 0, len(items))
	for _, item := range items {
		if pos, ok := index[item.ID]; ok {
			out[pos] = item
			continue
		}
		index[item.ID] = len(out)
		out = append(out, item)
	}
	return out
}

// Changed reports whether fresh differs from old in any tracked field:
// name, status, time estimate, time spent, due date, closed date, the set
// of tag names, or the set of assignee identities. Other fields, such as
// the description, are ignored.
func Changed(old, fresh model.Item) bool {
	return old.Name != fresh.Name ||
		old.Status != fresh.Status ||
		old.TimeEstimate != fresh.TimeEstimate ||
		old.TimeSpent != fresh.TimeSpent ||
		!sameTime(old.DueDate, fresh.DueDate) ||
		!sameTime(old.DateClosed, fresh.DateClosed) ||
		!sameSet(old.TagNames(), fresh.TagNames()) ||
		!sameSet(old.AssigneeIDs(), fresh.AssigneeIDs())
}

func sameTime(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// sameSet compares a and b ignoring order and repetition.
func sameSet(a, b []string) bool {
	setA := make(map[string]struct{}, len(a))
	for _, v := range a {
		setA[v] = struct{}{}
	}
	setB := make(map[string]struct{}, len(b))
	for _, v := range b {
		if _, ok := setA[v]; !ok {
			return false
		}
		setB[v] = struct{}{}
	}
	return len(setA) == len(setB)
}
