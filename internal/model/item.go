package model

import "time"

// Normalized status constants used when the source does not supply its own.
const (
	StatusOpen       = "open"
	StatusInProgress = "in progress"
	StatusReview     = "review"
	StatusClosed     = "closed"
)

// Tag is a label attached to a work item.
type Tag struct {
	Name string `json:"name" cbor:"name"`
}

// User identifies a person a work item is assigned to.
type User struct {
	// ID is the tracker's stable identifier for the user.
	ID string `json:"id" cbor:"id"`

	// Username is the login or display name reported by the tracker.
	Username string `json:"username" cbor:"username"`

	// Email is optional and only used for display.
	Email string `json:"email,omitempty" cbor:"email,omitempty"`
}

// Item is the unified representation of a work item fetched from the
// remote tracker. It is the unit stored in the raw cache tier.
type Item struct {
	// ID is the tracker's unique key for this item (e.g., a Jira issue key).
	ID string `json:"id" cbor:"id"`

	// Name is the human-readable summary of the item.
	Name string `json:"name" cbor:"name"`

	// Description is the free-text body. It is not part of change detection.
	Description string `json:"description,omitempty" cbor:"description,omitempty"`

	// Status is the tracker's status name.
	Status string `json:"status" cbor:"status"`

	// Priority is the tracker's priority name.
	Priority string `json:"priority,omitempty" cbor:"priority,omitempty"`

	// Project is the project, list or board the item belongs to.
	Project string `json:"project,omitempty" cbor:"project,omitempty"`

	// TimeEstimate is the original estimate in seconds.
	TimeEstimate int64 `json:"time_estimate" cbor:"time_estimate"`

	// TimeSpent is the logged time in seconds.
	TimeSpent int64 `json:"time_spent" cbor:"time_spent"`

	// DueDate is nil when the item has no due date.
	DueDate *time.Time `json:"due_date,omitempty" cbor:"due_date,omitempty"`

	// DateClosed is nil while the item is unresolved.
	DateClosed *time.Time `json:"date_closed,omitempty" cbor:"date_closed,omitempty"`

	// DateUpdated is when the item was last modified in the tracker.
	DateUpdated time.Time `json:"date_updated" cbor:"date_updated"`

	// Tags holds the item's labels. Order carries no meaning.
	Tags []Tag `json:"tags,omitempty" cbor:"tags,omitempty"`

	// Assignees holds everyone the item is assigned to. Order carries no meaning.
	Assignees []User `json:"assignees,omitempty" cbor:"assignees,omitempty"`

	// URL links back to the item in the tracker.
	URL string `json:"url,omitempty" cbor:"url,omitempty"`
}

// Closed reports whether the item has been resolved.
func (i Item) Closed() bool {
	return i.DateClosed != nil
}

// TagNames returns the names of the item's tags in their stored order.
func (i Item) TagNames() []string {
	names := make([]string, 0, len(i.Tags))
	for _, t := range i.Tags {
		names = append(names, t.Name)
	}
	return names
}

// AssigneeIDs returns the identities of the item's assignees in their stored
// order. Users without an ID fall back to their username.
func (i Item) AssigneeIDs() []string {
	ids := make([]string, 0, len(i.Assignees))
	for _, u := range i.Assignees {
		ids = append(ids, u.Identity())
	}
	return ids
}

// Identity returns the stable key for a user: the ID when set, otherwise the
// username.
func (u User) Identity() string {
	if u.ID != "" {
		return u.ID
	}
	return u.Username
}
