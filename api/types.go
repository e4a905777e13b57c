package api

import (
	"context"

	"boardsync/domain"
)

// Storage abstracts persistence for handlers. The board-scoped write methods
// mirror what the gateway drives; the rest serves bootstrap and session load.
type Storage interface {
	GetOrCreateDefaultBoard(ctx context.Context, userID string) (string, error)
	FetchBoardState(ctx context.Context, boardID string) (domain.BoardState, error)
	FetchMemberships(ctx context.Context, userID string) ([]domain.Membership, error)

	NextTaskNumber(ctx context.Context, boardID string) (int, error)
	InsertTask(ctx context.Context, task domain.Task) error
	UpdateTask(ctx context.Context, task domain.Task) error
	DeleteTask(ctx context.Context, boardID, taskID string) error
	InsertColumn(ctx context.Context, col domain.Column) error
	UpdateColumn(ctx context.Context, col domain.Column) error
	DeleteColumn(ctx context.Context, boardID, slug string) error
	InsertComment(ctx context.Context, cm domain.Comment) error
	DeleteComment(ctx context.Context, boardID, taskID, commentID string) error
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Deduper prevents processing of duplicate commands.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
	// AddMany records a batch of keys and reports which were newly added.
	AddMany(ctx context.Context, userID string, keys []string) ([]bool, error)
}
