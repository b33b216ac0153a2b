// Package grouping derives the display-ready view of the cached items:
// items filtered by the active filters and grouped by assignee, then by
// project. The processed cache tier stores this structure.
package grouping

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/nhle/taskcache/internal/model"
)

// Unassigned is the group name used for items with no assignee.
const Unassigned = "Unassigned"

// NoProject is the project name used for items with no project.
const NoProject = "No project"

// dateLayout is the format accepted for due date bounds in config.
const dateLayout = "2006-01-02"

// Filters selects which items appear in the derived view. An empty list
// places no constraint on that field.
type Filters struct {
	Tags          []string
	Statuses      []string
	Assignees     []string
	Projects      []string
	Priorities    []string
	DueAfter      *time.Time
	DueBefore     *time.Time
	IncludeClosed bool
}

// FiltersFromConfig converts the configured filters, parsing date bounds.
func FiltersFromConfig(fc model.FilterConfig) (Filters, error) {
	f := Filters{
		Tags:          fc.Tags,
		Statuses:      fc.Statuses,
		Assignees:     fc.Assignees,
		Projects:      fc.Projects,
		Priorities:    fc.Priorities,
		IncludeClosed: fc.IncludeClosed,
	}
	var err error
	if f.DueAfter, err = parseDate(fc.DueAfter); err != nil {
		return Filters{}, fmt.Errorf("filters.due_after: %w", err)
	}
	if f.DueBefore, err = parseDate(fc.DueBefore); err != nil {
		return Filters{}, fmt.Errorf("filters.due_before: %w", err)
	}
	return f, nil
}

func parseDate(s string) (*time.Time, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Match reports whether item passes every filter. Assignee filters match
// either a user's identity or display name; tag filters match any tag.
func (f Filters) Match(item model.Item, names map[string]string) bool {
	if !f.IncludeClosed && item.Closed() {
		return false
	}
	if !containsFold(f.Statuses, item.Status) ||
		!containsFold(f.Projects, item.Project) ||
		!containsFold(f.Priorities, item.Priority) {
		return false
	}
	if len(f.Tags) > 0 && !anyFold(f.Tags, item.TagNames()) {
		return false
	}
	if len(f.Assignees) > 0 {
		var keys []string
		for _, u := range item.Assignees {
			keys = append(keys, u.Identity(), model.DisplayName(u, names))
		}
		if len(item.Assignees) == 0 {
			keys = append(keys, Unassigned)
		}
		if !anyFold(f.Assignees, keys) {
			return false
		}
	}
	if f.DueAfter != nil || f.DueBefore != nil {
		if item.DueDate == nil {
			return false
		}
		if f.DueAfter != nil && item.DueDate.Before(*f.DueAfter) {
			return false
		}
		if f.DueBefore != nil && !item.DueDate.Before(*f.DueBefore) {
			return false
		}
	}
	return true
}

// containsFold reports whether v is in allowed. An empty allowed list
// accepts everything.
func containsFold(allowed []string, v string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(a, v) {
			return true
		}
	}
	return false
}

func anyFold(allowed []string, values []string) bool {
	for _, v := range values {
		for _, a := range allowed {
			if strings.EqualFold(a, v) {
				return true
			}
		}
	}
	return false
}

// ItemView is the display form of a single item.
type ItemView struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	Status        string     `json:"status"`
	Priority      string     `json:"priority,omitempty"`
	Tags          []string   `json:"tags,omitempty"`
	DueDate       *time.Time `json:"due_date,omitempty"`
	Closed        bool       `json:"closed,omitempty"`
	EstimateHours float64    `json:"estimate_hours"`
	SpentHours    float64    `json:"spent_hours"`
	URL           string     `json:"url,omitempty"`
}

// ProjectGroup holds one assignee's items within a project.
type ProjectGroup struct {
	Name          string     `json:"name"`
	Items         []ItemView `json:"items"`
	Count         int        `json:"count"`
	EstimateHours float64    `json:"estimate_hours"`
	SpentHours    float64    `json:"spent_hours"`
}

// Group holds everything assigned to one person.
type Group struct {
	Assignee      string         `json:"assignee"`
	Projects      []ProjectGroup `json:"projects"`
	Count         int            `json:"count"`
	EstimateHours float64        `json:"estimate_hours"`
	SpentHours    float64        `json:"spent_hours"`
}

// Build filters items and groups them by assignee display name, then by
// project. An item with several assignees appears under each of them.
// Groups are sorted by name with Unassigned last; projects by name; items
// by due date (undated last), then name.
func Build(items []model.Item, filters Filters, names map[string]string) []Group {
	byAssignee := make(map[string]map[string][]ItemView)

	add := func(assignee, project string, v ItemView) {
		projects, ok := byAssignee[assignee]
		if !ok {
			projects = make(map[string][]ItemView)
			byAssignee[assignee] = projects
		}
		projects[project] = append(projects[project], v)
	}

	for _, item := range items {
		if !filters.Match(item, names) {
			continue
		}
		view := toView(item)
		project := item.Project
		if project == "" {
			project = NoProject
		}
		if len(item.Assignees) == 0 {
			add(Unassigned, project, view)
			continue
		}
		seen := make(map[string]bool, len(item.Assignees))
		for _, u := range item.Assignees {
			name := model.DisplayName(u, names)
			if seen[name] {
				continue
			}
			seen[name] = true
			add(name, project, view)
		}
	}

	groups := make([]Group, 0, len(byAssignee))
	for assignee, projects := range byAssignee {
		g := Group{Assignee: assignee, Projects: make([]ProjectGroup, 0, len(projects))}
		for name, views := range projects {
			sortViews(views)
			pg := ProjectGroup{Name: name, Items: views, Count: len(views)}
			for _, v := range views {
				pg.EstimateHours += v.EstimateHours
				pg.SpentHours += v.SpentHours
			}
			g.Projects = append(g.Projects, pg)
			g.Count += pg.Count
			g.EstimateHours += pg.EstimateHours
			g.SpentHours += pg.SpentHours
		}
		sort.Slice(g.Projects, func(i, j int) bool {
			return g.Projects[i].Name < g.Projects[j].Name
		})
		groups = append(groups, g)
	}

	sort.Slice(groups, func(i, j int) bool {
		a, b := groups[i].Assignee, groups[j].Assignee
		if (a == Unassigned) != (b == Unassigned) {
			return b == Unassigned
		}
		return a < b
	})

	return groups
}

func toView(item model.Item) ItemView {
	var tags []string
	if len(item.Tags) > 0 {
		tags = item.TagNames()
	}
	return ItemView{
		ID:            item.ID,
		Name:          item.Name,
		Status:        item.Status,
		Priority:      item.Priority,
		Tags:          tags,
		DueDate:       item.DueDate,
		Closed:        item.Closed(),
		EstimateHours: hours(item.TimeEstimate),
		SpentHours:    hours(item.TimeSpent),
		URL:           item.URL,
	}
}

func hours(seconds int64) float64 {
	return float64(seconds) / 3600
}

func sortViews(views []ItemView) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		switch {
		case a.DueDate != nil && b.DueDate != nil && !a.DueDate.Equal(*b.DueDate):
			return a.DueDate.Before(*b.DueDate)
		case (a.DueDate == nil) != (b.DueDate == nil):
			return a.DueDate != nil
		case a.Name != b.Name:
			return a.Name < b.Name
		}
		return a.ID < b.ID
	})
}
