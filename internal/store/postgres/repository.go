package postgres

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"

	"github.com/MrSnakeDoc/marksync/internal/domain"
)

const tableBookmarks = "bookmarks"

var (
	psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

	// uuid columns are read back as text so domain ids stay plain strings.
	bookmarkColumns = []string{
		"id::text AS id",
		"user_id::text AS user_id",
		"title",
		"url",
		"created_at",
	}
)

// Repository implements bookmarks.Repository on the bookmarks table.
type Repository struct {
	q Querier
}

// NewRepository creates a repository over q.
func NewRepository(q Querier) *Repository {
	return &Repository{q: q}
}

// ListByUser returns every bookmark owned by userID, newest first.
func (r *Repository) ListByUser(ctx context.Context, userID string) ([]domain.Bookmark, error) {
	query, args, err := psql.
		Select(bookmarkColumns...).
		From(tableBookmarks).
		Where(sq.Eq{"user_id": userID}).
		OrderBy("created_at DESC", "id DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, mapError(err, "list bookmarks of", userID)
	}
	defer rows.Close()

	out := make([]domain.Bookmark, 0)
	for rows.Next() {
		b, err := scanBookmark(rows)
		if err != nil {
			return nil, mapError(err, "scan bookmark of", userID)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError(err, "list bookmarks of", userID)
	}
	return out, nil
}

// Insert creates a bookmark. id and created_at are assigned by the database.
func (r *Repository) Insert(ctx context.Context, userID, title, url string) (domain.Bookmark, error) {
	query, args, err := psql.
		Insert(tableBookmarks).
		Columns("user_id", "title", "url").
		Values(userID, title, url).
		Suffix("RETURNING id::text, user_id::text, title, url, created_at").
		ToSql()
	if err != nil {
		return domain.Bookmark{}, fmt.Errorf("build insert query: %w", err)
	}

	b, err := scanBookmark(r.q.QueryRow(ctx, query, args...))
	if err != nil {
		return domain.Bookmark{}, mapError(err, "insert bookmark for", userID)
	}
	return b, nil
}

// Delete removes the bookmark id owned by userID.
func (r *Repository) Delete(ctx context.Context, userID, id string) error {
	query, args, err := psql.
		Delete(tableBookmarks).
		Where(sq.Eq{"id": id, "user_id": userID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build delete query: %w", err)
	}

	tag, err := r.q.Exec(ctx, query, args...)
	if err != nil {
		return mapError(err, "delete bookmark", id)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("delete bookmark %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

func scanBookmark(row pgx.Row) (domain.Bookmark, error) {
	var b domain.Bookmark
	err := row.Scan(&b.ID, &b.UserID, &b.Title, &b.URL, &b.CreatedAt)
	return b, err
}
