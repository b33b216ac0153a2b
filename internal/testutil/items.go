package testutil

import (
	"time"

	"github.com/nhle/taskcache/internal/model"
)

// Epoch is a fixed reference time for test fixtures.
var Epoch = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

// ItemOption customises an item built by NewItem.
type ItemOption func(*model.Item)

// NewItem returns an open item with the given id and sensible defaults.
func NewItem(id string, opts ...ItemOption) model.Item {
	item := model.Item{
		ID:           id,
		Name:         "Item " + id,
		Status:       model.StatusOpen,
		Priority:     "Medium",
		Project:      "Core",
		TimeEstimate: 3600,
		DateUpdated:  Epoch,
		Assignees:    []model.User{{ID: "u1", Username: "ana"}},
	}
	for _, opt := range opts {
		opt(&item)
	}
	return item
}

// WithStatus sets the item's status.
func WithStatus(status string) ItemOption {
	return func(i *model.Item) { i.Status = status }
}

// WithName sets the item's name.
func WithName(name string) ItemOption {
	return func(i *model.Item) { i.Name = name }
}

// WithProject sets the item's project.
func WithProject(project string) ItemOption {
	return func(i *model.Item) { i.Project = project }
}

// WithTags replaces the item's tags.
func WithTags(names ...string) ItemOption {
	return func(i *model.Item) {
		i.Tags = nil
		for _, n := range names {
			i.Tags = append(i.Tags, model.Tag{Name: n})
		}
	}
}

// WithAssignees replaces the item's assignees.
func WithAssignees(users ...model.User) ItemOption {
	return func(i *model.Item) { i.Assignees = users }
}

// WithDescription sets the item's free-text description.
func WithDescription(d string) ItemOption {
	return func(i *model.Item) { i.Description = d }
}

// WithDue sets the item's due date.
func WithDue(t time.Time) ItemOption {
	return func(i *model.Item) { i.DueDate = &t }
}

// WithClosed marks the item closed at t.
func WithClosed(t time.Time) ItemOption {
	return func(i *model.Item) { i.DateClosed = &t }
}

// WithTime sets the estimate and logged time in seconds.
func WithTime(estimate, spent int64) ItemOption {
	return func(i *model.Item) {
		i.TimeEstimate = estimate
		i.TimeSpent = spent
	}
}
