package bookmarks

import (
	"context"

	"github.com/MrSnakeDoc/marksync/internal/domain"
)

// Repository is the data store query interface the Store drives.
//
// ListByUser returns every record owned by userID, newest first.
// Insert lets the backend assign ID and CreatedAt.
// Delete filters on both id and userID and returns domain.ErrNotFound when
// nothing matched.
type Repository interface {
	ListByUser(ctx context.Context, userID string) ([]domain.Bookmark, error)
	Insert(ctx context.Context, userID, title, url string) (domain.Bookmark, error)
	Delete(ctx context.Context, userID, id string) error
}
