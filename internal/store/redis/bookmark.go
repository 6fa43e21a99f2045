package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/feed"
)

// Repository stores bookmarks as JSON records indexed by a per-user sorted
// set. Every write publishes a change on the owner's channel in the same
// transaction.
type Repository struct {
	client *redis.Client
	now    func() time.Time
}

// NewRepository creates a Redis bookmark repository
func NewRepository(client *redis.Client) *Repository {
	return &Repository{
		client: client,
		now:    time.Now,
	}
}

// ListByUser returns the user's bookmarks, newest first
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.Bookmark, error) {
	ids, err := r.client.ZRevRange(ctx, UserBookmarksKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmark IDs: %w", err)
	}
	if len(ids) == 0 {
		return []domain.Bookmark{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = BookmarkKey(id)
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get bookmarks: %w", err)
	}

	bookmarks := make([]domain.Bookmark, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Index entry without a record; skip it
			continue
		}
		var b domain.Bookmark
		if err := json.Unmarshal([]byte(raw), &b); err != nil {
			return nil, fmt.Errorf("failed to unmarshal bookmark %s: %w", ids[i], err)
		}
		bookmarks = append(bookmarks, b)
	}

	return bookmarks, nil
}

// Insert stores a new bookmark with a generated ID and creation time
func (r *Repository) Insert(ctx context.Context, userID, title, url string) (domain.Bookmark, error) {
	b := domain.Bookmark{
		ID:        uuid.NewString(),
		UserID:    userID,
		Title:     title,
		URL:       url,
		CreatedAt: r.now().UTC().Truncate(time.Millisecond),
	}

	data, err := json.Marshal(b)
	if err != nil {
		return domain.Bookmark{}, fmt.Errorf("failed to marshal bookmark: %w", err)
	}
	change, err := encodeChange(feed.OpInsert, userID, b.ID)
	if err != nil {
		return domain.Bookmark{}, err
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, BookmarkKey(b.ID), data, 0)
		pipe.ZAdd(ctx, UserBookmarksKey(userID), redis.Z{
			Score:  float64(b.CreatedAt.UnixMilli()),
			Member: b.ID,
		})
		pipe.Publish(ctx, ChangesChannel(userID), change)
		return nil
	})
	if err != nil {
		return domain.Bookmark{}, fmt.Errorf("failed to save bookmark: %w", err)
	}

	return b, nil
}

// Delete removes a bookmark owned by userID. A bookmark that does not exist
// or belongs to someone else yields domain.ErrNotFound.
func (r *Repository) Delete(ctx context.Context, userID, id string) error {
	userKey := UserBookmarksKey(userID)
	change, err := encodeChange(feed.OpDelete, userID, id)
	if err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		if err := tx.ZScore(ctx, userKey, id).Err(); err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("bookmark %s: %w", id, domain.ErrNotFound)
			}
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, BookmarkKey(id))
			pipe.ZRem(ctx, userKey, id)
			pipe.Publish(ctx, ChangesChannel(userID), change)
			return nil
		})
		return err
	}

	if err := r.client.Watch(ctx, txf, userKey); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete bookmark: %w", err)
	}
	return nil
}

func encodeChange(op feed.Op, userID, id string) ([]byte, error) {
	data, err := json.Marshal(feed.Event{Op: op, UserID: userID, RecordID: id})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal change: %w", err)
	}
	return data, nil
}
