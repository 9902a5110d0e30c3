package api

import (
	"context"

	"taskdeck-api/domain"
)

// Engine abstracts the task engine for handlers.
type Engine interface {
	Create(ctx context.Context, userID string, d domain.Draft) (domain.Task, error)
	Get(ctx context.Context, userID, taskID string) (domain.Task, error)
	Update(ctx context.Context, userID, taskID string, patch domain.TaskPatch) (domain.Task, error)
	Complete(ctx context.Context, userID, taskID string) (domain.Task, error)
	Reopen(ctx context.Context, userID, taskID string) (domain.Task, error)
	Delete(ctx context.Context, userID, taskID string) error
	List(ctx context.Context, userID string, q domain.Query) (domain.QueryResult, error)
	Stats(ctx context.Context, userID string) (domain.Stats, error)
	Completions(ctx context.Context, userID, taskID string) ([]domain.CompletionRecord, error)
	TagSuggestions(ctx context.Context, userID, prefix string, exclude []string) ([]domain.TagCount, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}
