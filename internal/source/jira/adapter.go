package jira

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/nhle/taskcache/internal/model"
	"github.com/nhle/taskcache/internal/source"
)

// defaultJQL is used when no custom JQL is configured.
const defaultJQL = "assignee=currentUser() ORDER BY updated DESC"

// jqlTimeLayout is the minute-precision format JQL accepts for dates.
const jqlTimeLayout = "2006/01/02 15:04"

const (
	defaultPageSize = 50

	// maxPages bounds a single fetch in case the server misreports totals.
	maxPages = 1000
)

// fetchFields are the Jira fields requested during search queries.
var fetchFields = []string{
	"summary", "description", "status", "priority", "assignee",
	"project", "updated", "duedate", "resolutiondate", "labels",
	"timeoriginalestimate", "timespent",
}

// orderByPattern matches a trailing ORDER BY clause.
var orderByPattern = regexp.MustCompile(`(?i)\s*\border\s+by\b.*$`)

// Adapter implements source.Fetcher for Jira.
type Adapter struct {
	client   *Client
	baseURL  string
	jql      string
	pageSize int
	location *time.Location
	logger   *slog.Logger
}

// NewAdapter creates a new Jira source adapter. An empty jql selects the
// issues assigned to the current user; a pageSize below one uses the default.
func NewAdapter(
	baseURL string,
	email string,
	token string,
	jql string,
	pageSize int,
	logger *slog.Logger,
) *Adapter {
	if strings.TrimSpace(jql) == "" {
		jql = defaultJQL
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		client:   NewClient(baseURL, email, token),
		baseURL:  strings.TrimRight(baseURL, "/"),
		jql:      jql,
		pageSize: pageSize,
		location: time.Local,
		logger:   logger.With("source", string(source.SourceTypeJira)),
	}
}

// SetLocation sets the time zone delta queries are expressed in. Jira reads
// JQL dates in the calling user's zone, which defaults to the local one.
func (a *Adapter) SetLocation(loc *time.Location) {
	if loc != nil {
		a.location = loc
	}
}

// Type returns the source type identifier for Jira.
func (a *Adapter) Type() source.SourceType {
	return source.SourceTypeJira
}

// ValidateConnection verifies credentials by calling GET /rest/api/2/myself.
// Returns the user's display name on success.
func (a *Adapter) ValidateConnection(
	ctx context.Context,
) (string, error) {
	var me Myself
	if err := a.client.Get(ctx, "/rest/api/2/myself", &me); err != nil {
		return "", fmt.Errorf("validating Jira connection: %w", err)
	}
	return me.DisplayName, nil
}

// FetchFull retrieves every issue matched by the configured JQL.
func (a *Adapter) FetchFull(ctx context.Context) ([]model.Item, error) {
	items, err := a.fetchAll(ctx, a.jql)
	if err != nil {
		return nil, fmt.Errorf("fetching Jira items: %w", err)
	}
	return items, nil
}

// FetchSince retrieves the issues matched by the configured JQL that were
// updated at or after since. JQL dates have minute precision, so since is
// truncated down and the boundary minute is fetched again.
func (a *Adapter) FetchSince(
	ctx context.Context,
	since time.Time,
) ([]model.Item, error) {
	items, err := a.fetchAll(ctx, a.deltaJQL(since))
	if err != nil {
		return nil, fmt.Errorf("fetching Jira items updated since %s: %w",
			since.Format(time.RFC3339), err)
	}
	return items, nil
}

// SummaryFields extracts the distinct filter values from items.
func (a *Adapter) SummaryFields(
	items []model.Item,
	names map[string]string,
) model.Summary {
	return model.Summarize(items, names)
}

// deltaJQL restricts the configured query to recently updated issues.
func (a *Adapter) deltaJQL(since time.Time) string {
	base := strings.TrimSpace(orderByPattern.ReplaceAllString(a.jql, ""))
	clause := fmt.Sprintf(`updated >= "%s"`, since.In(a.location).Format(jqlTimeLayout))
	if base == "" {
		return clause + " ORDER BY updated ASC"
	}
	return "(" + base + ") AND " + clause + " ORDER BY updated ASC"
}

// fetchAll walks every page of a search.
func (a *Adapter) fetchAll(ctx context.Context, jql string) ([]model.Item, error) {
	var items []model.Item
	for page := 1; page <= maxPages; page++ {
		result, err := a.fetchPage(ctx, jql, source.FetchOptions{
			Page:     page,
			PageSize: a.pageSize,
		})
		if err != nil {
			return nil, err
		}
		items = append(items, result.Items...)
		a.logger.Debug("fetched page",
			"page", page,
			"items", len(result.Items),
			"total", result.Total,
		)
		if !result.HasMore {
			break
		}
	}
	if items == nil {
		items = []model.Item{}
	}
	return items, nil
}

// fetchPage retrieves a single page of search results.
func (a *Adapter) fetchPage(
	ctx context.Context,
	jql string,
	opts source.FetchOptions,
) (*source.FetchResult, error) {
	page := opts.Page
	if page < 1 {
		page = 1
	}
	pageSize := opts.PageSize
	if pageSize < 1 {
		pageSize = defaultPageSize
	}

	startAt := (page - 1) * pageSize

	body := SearchRequest{
		JQL:        jql,
		Fields:     fetchFields,
		StartAt:    startAt,
		MaxResults: pageSize,
	}

	var searchResp SearchResponse
	if err := a.client.Post(ctx, "/rest/api/2/search", body, &searchResp); err != nil {
		return nil, err
	}

	items := make([]model.Item, 0, len(searchResp.Issues))
	for _, issue := range searchResp.Issues {
		items = append(items, a.issueToItem(issue))
	}

	// An empty page ends the walk even if the total says otherwise.
	hasMore := len(searchResp.Issues) > 0 &&
		startAt+len(searchResp.Issues) < searchResp.Total

	return &source.FetchResult{
		Items:   items,
		Total:   searchResp.Total,
		HasMore: hasMore,
	}, nil
}

// issueToItem converts a Jira Issue to a model.Item.
func (a *Adapter) issueToItem(issue Issue) model.Item {
	f := issue.Fields

	item := model.Item{
		ID:          issue.Key,
		Name:        f.Summary,
		Description: f.Description,
		Status:      normalizeStatus(f.Status),
		Project:     f.Project.Name,
		DateUpdated: parseJiraTime(f.Updated),
		URL:         a.baseURL + "/browse/" + issue.Key,
	}
	if item.Project == "" {
		item.Project = f.Project.Key
	}
	if f.Priority != nil {
		item.Priority = f.Priority.Name
	}
	if f.TimeOriginalEstimate != nil {
		item.TimeEstimate = *f.TimeOriginalEstimate
	}
	if f.TimeSpent != nil {
		item.TimeSpent = *f.TimeSpent
	}
	if due, err := time.Parse(time.DateOnly, f.DueDate); err == nil {
		item.DueDate = &due
	}
	if resolved := parseJiraTime(f.ResolutionDate); !resolved.IsZero() {
		item.DateClosed = &resolved
	}

	seen := make(map[string]bool, len(f.Labels))
	for _, label := range f.Labels {
		if label == "" || seen[label] {
			continue
		}
		seen[label] = true
		item.Tags = append(item.Tags, model.Tag{Name: label})
	}

	if f.Assignee != nil {
		item.Assignees = []model.User{userToModel(*f.Assignee)}
	}

	return item
}

// userToModel maps a Jira user. Cloud identifies users by account ID,
// Server/DC by key or name.
func userToModel(u User) model.User {
	id := u.AccountID
	if id == "" {
		id = u.Key
	}
	if id == "" {
		id = u.Name
	}
	username := u.DisplayName
	if username == "" {
		username = u.Name
	}
	return model.User{
		ID:       id,
		Username: username,
		Email:    u.EmailAddress,
	}
}

// normalizeStatus returns the lower-cased status name. When Jira sends no
// name, the status category key is mapped to a normalized status.
func normalizeStatus(status Status) string {
	if name := strings.TrimSpace(status.Name); name != "" {
		return strings.ToLower(name)
	}

	switch strings.ToLower(status.StatusCategory.Key) {
	case "indeterminate":
		return model.StatusInProgress
	case "done":
		return model.StatusClosed
	default:
		return model.StatusOpen
	}
}

// parseJiraTime parses a Jira timestamp string. Jira uses the format
// "2006-01-02T15:04:05.000+0000".
func parseJiraTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}

	layouts := []string{
		"2006-01-02T15:04:05.000-0700",
		"2006-01-02T15:04:05-0700",
		time.RFC3339Nano,
	}

	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}

	return time.Time{}
}
