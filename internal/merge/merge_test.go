package merge_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nhle/taskcache/internal/merge"
	"github.com/nhle/taskcache/internal/model"
	"github.com/nhle/taskcache/internal/testutil"
)

func TestMergeRetainsItemsAbsentFromDelta(t *testing.T) {
	t.Parallel()

	a := testutil.NewItem("A")
	b := testutil.NewItem("B")
	bPrime := testutil.NewItem("B", testutil.WithStatus(model.StatusClosed))

	merged, stats := merge.Merge([]model.Item{a, b}, []model.Item{bPrime})

	want := []model.Item{a, bPrime}
	if diff := cmp.Diff(want, merged); diff != "" {
		t.Errorf("merged mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, merge.Stats{Added: 0, Updated: 1, Unchanged: 0}, stats)
}

func TestMergeStatsCountUnchangedDeltaItems(t *testing.T) {
	t.Parallel()

	a := testutil.NewItem("A")
	b := testutil.NewItem("B")
	bPrime := testutil.NewItem("B", testutil.WithStatus(model.StatusClosed))

	_, stats := merge.Merge([]model.Item{a, b}, []model.Item{a, bPrime})
	assert.Equal(t, merge.Stats{Added: 0, Updated: 1, Unchanged: 1}, stats)
}

func TestMergeAddsNewItems(t *testing.T) {
	t.Parallel()

	a := testutil.NewItem("A")
	c := testutil.NewItem("C")

	merged, stats := merge.Merge([]model.Item{a}, []model.Item{c})

	require.Len(t, merged, 2)
	assert.Equal(t, "A", merged[0].ID)
	assert.Equal(t, "C", merged[1].ID)
	assert.Equal(t, merge.Stats{Added: 1}, stats)
}

func TestMergeKeepsCachedEntryWhenUnchanged(t *testing.T) {
	t.Parallel()

	cached := testutil.NewItem("A", testutil.WithDescription("original"))
	fresh := testutil.NewItem("A", testutil.WithDescription("edited"))

	merged, stats := merge.Merge([]model.Item{cached}, []model.Item{fresh})

	require.Len(t, merged, 1)
	assert.Equal(t, "original", merged[0].Description,
		"a change outside the tracked fields must not replace the cached entry")
	assert.Equal(t, merge.Stats{Unchanged: 1}, stats)
}

func TestMergeIsIdempotent(t *testing.T) {
	t.Parallel()

	cached := []model.Item{
		testutil.NewItem("A"),
		testutil.NewItem("B"),
		testutil.NewItem("C", testutil.WithTags("x")),
	}
	delta := []model.Item{
		testutil.NewItem("B", testutil.WithName("renamed")),
		testutil.NewItem("D"),
		testutil.NewItem("C", testutil.WithTags("x", "y")),
	}

	once, _ := merge.Merge(cached, delta)
	twice, stats := merge.Merge(once, delta)

	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("second merge changed the result (-once +twice):\n%s", diff)
	}
	assert.Equal(t, merge.Stats{Unchanged: 3}, stats)
}

func TestMergeOutputHasUniqueIDs(t *testing.T) {
	t.Parallel()

	cached := []model.Item{
		testutil.NewItem("A"),
		testutil.NewItem("A", testutil.WithName("dup")),
		testutil.NewItem("B"),
	}
	delta := []model.Item{
		testutil.NewItem("C"),
		testutil.NewItem("C", testutil.WithName("second copy")),
	}

	merged, stats := merge.Merge(cached, delta)

	seen := make(map[string]bool)
	for _, item := range merged {
		require.False(t, seen[item.ID], "duplicate id %s", item.ID)
		seen[item.ID] = true
	}
	assert.Len(t, merged, 3)
	assert.Equal(t, merge.Stats{Added: 1, Updated: 1}, stats)
}

func TestMergeEmptyInputs(t *testing.T) {
	t.Parallel()

	merged, stats := merge.Merge(nil, nil)
	assert.Empty(t, merged)
	assert.Equal(t, merge.Stats{}, stats)

	delta := []model.Item{testutil.NewItem("A")}
	merged, stats = merge.Merge(nil, delta)
	assert.Equal(t, delta, merged)
	assert.Equal(t, merge.Stats{Added: 1}, stats)
}

func TestChanged(t *testing.T) {
	t.Parallel()

	due := testutil.Epoch.Add(48 * time.Hour)
	base := testutil.NewItem("A",
		testutil.WithTags("backend", "urgent"),
		testutil.WithAssignees(
			model.User{ID: "u1", Username: "ana"},
			model.User{ID: "u2", Username: "bo"},
		),
		testutil.WithDue(due),
	)

	tests := []struct {
		name    string
		mutate  func(*model.Item)
		changed bool
	}{
		{"identical", func(*model.Item) {}, false},
		{"name", func(i *model.Item) { i.Name = "other" }, true},
		{"status", func(i *model.Item) { i.Status = "done" }, true},
		{"estimate", func(i *model.Item) { i.TimeEstimate++ }, true},
		{"spent", func(i *model.Item) { i.TimeSpent = 60 }, true},
		{"due cleared", func(i *model.Item) { i.DueDate = nil }, true},
		{"due moved", func(i *model.Item) { d := due.Add(time.Hour); i.DueDate = &d }, true},
		{"due same instant other zone", func(i *model.Item) {
			d := due.In(time.FixedZone("X", 3600))
			i.DueDate = &d
		}, false},
		{"closed", func(i *model.Item) { c := testutil.Epoch; i.DateClosed = &c }, true},
		{"tag added", func(i *model.Item) { i.Tags = append(i.Tags, model.Tag{Name: "new"}) }, true},
		{"tag removed", func(i *model.Item) { i.Tags = i.Tags[:1] }, true},
		{"tags reordered", func(i *model.Item) {
			i.Tags = []model.Tag{{Name: "urgent"}, {Name: "backend"}}
		}, false},
		{"assignees reordered", func(i *model.Item) {
			i.Assignees = []model.User{{ID: "u2", Username: "bo"}, {ID: "u1", Username: "ana"}}
		}, false},
		{"assignee swapped", func(i *model.Item) {
			i.Assignees = []model.User{{ID: "u1"}, {ID: "u3"}}
		}, true},
		{"assignee renamed", func(i *model.Item) { i.Assignees[0].Username = "anna" }, false},
		{"description", func(i *model.Item) { i.Description = "free text" }, false},
		{"priority", func(i *model.Item) { i.Priority = "Low" }, false},
		{"updated timestamp", func(i *model.Item) { i.DateUpdated = i.DateUpdated.Add(time.Minute) }, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fresh := base
			fresh.Tags = append([]model.Tag(nil), base.Tags...)
			fresh.Assignees = append([]model.User(nil), base.Assignees...)
			tt.mutate(&fresh)
			assert.Equal(t, tt.changed, merge.Changed(base, fresh))
		})
	}
}

func TestDedupeKeepsLastValueAtFirstPosition(t *testing.T) {
	t.Parallel()

	a := testutil.NewItem("A")
	b := testutil.NewItem("B")
	aLater := testutil.NewItem("A", testutil.WithDescription("edited during paging"))

	got := merge.Dedupe([]model.Item{a, b, aLater})

	require.Len(t, got, 2)
	assert.Equal(t, "A", got[0].ID)
	assert.Equal(t, "edited during paging", got[0].Description)
	assert.Equal(t, "B", got[1].ID)
	assert.Empty(t, merge.Dedupe(nil))
}
