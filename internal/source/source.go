package source

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nhle/taskcache/internal/model"
)

// AuthError indicates that authentication has failed or expired for a source.
// It is returned by source clients when a 401 response is received.
type AuthError struct {
	SourceType SourceType
	Message    string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.SourceType, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// SourceType identifies the kind of remote tracker.
type SourceType string

const (
	SourceTypeJira SourceType = "jira"
)

// FetchOptions controls pagination for search operations.
type FetchOptions struct {
	Page     int
	PageSize int
}

// FetchResult holds one page of items returned from a source query.
type FetchResult struct {
	Items   []model.Item
	Total   int
	HasMore bool
}

// Fetcher is the remote collaborator the sync orchestrator pulls from.
type Fetcher interface {
	// Type returns the source type identifier.
	Type() SourceType

	// FetchFull retrieves every item in scope.
	FetchFull(ctx context.Context) ([]model.Item, error)

	// FetchSince retrieves the items updated at or after since.
	FetchSince(ctx context.Context, since time.Time) ([]model.Item, error)

	// SummaryFields extracts the distinct filter values from items.
	SummaryFields(items []model.Item, names map[string]string) model.Summary
}
