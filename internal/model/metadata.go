package model

import (
	"sort"
	"time"
)

// Summary lists the distinct values found across a set of items. It feeds
// filter selection before the full dataset is available.
type Summary struct {
	Tags       []string `json:"tags"`
	Statuses   []string `json:"statuses"`
	Assignees  []string `json:"assignees"`
	Projects   []string `json:"projects"`
	Priorities []string `json:"priorities"`
}

// Metadata is the record kept in the metadata tier.
type Metadata struct {
	Summary

	// Version is the schema version the record was written under.
	Version string `json:"version"`

	// LastSync is when the most recent successful fetch started.
	LastSync time.Time `json:"last_sync"`

	// ItemCount is the number of items in the raw tier after that sync.
	ItemCount int `json:"item_count"`
}

// Summarize scans items once and returns every distinct tag, status,
// assignee, project and priority, each sorted. Assignees are reported by
// display name: names maps a user identity to the name to show, falling back
// to the tracker username.
func Summarize(items []Item, names map[string]string) Summary {
	tags := make(map[string]struct{})
	statuses := make(map[string]struct{})
	assignees := make(map[string]struct{})
	projects := make(map[string]struct{})
	priorities := make(map[string]struct{})

	for _, item := range items {
		for _, t := range item.Tags {
			addNonEmpty(tags, t.Name)
		}
		for _, u := range item.Assignees {
			addNonEmpty(assignees, DisplayName(u, names))
		}
		addNonEmpty(statuses, item.Status)
		addNonEmpty(projects, item.Project)
		addNonEmpty(priorities, item.Priority)
	}

	return Summary{
		Tags:       sortedKeys(tags),
		Statuses:   sortedKeys(statuses),
		Assignees:  sortedKeys(assignees),
		Projects:   sortedKeys(projects),
		Priorities: sortedKeys(priorities),
	}
}

// DisplayName resolves the name shown for a user.
func DisplayName(u User, names map[string]string) string {
	if name, ok := names[u.Identity()]; ok && name != "" {
		return name
	}
	if u.Username != "" {
		return u.Username
	}
	return u.ID
}

func addNonEmpty(set map[string]struct{}, v string) {
	if v == "" {
		return
	}
	set[v] = struct{}{}
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
