package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/feed"
)

const (
	alice = "7b4cf9e2-51a4-4c8e-9d0b-0d1b1b3f4a11"
	bm1   = "0f6c2c1e-8f60-4d5b-b0a5-4c1f0bda0001"
	bm2   = "0f6c2c1e-8f60-4d5b-b0a5-4c1f0bda0002"
)

var columns = []string{"id", "user_id", "title", "url", "created_at"}

func newMock(t *testing.T) (*Repository, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewRepository(mock), mock
}

func TestRepository_ListByUser(t *testing.T) {
	now := time.Now().UTC()

	tests := []struct {
		name    string
		setup   func(mock pgxmock.PgxPoolIface)
		wantIDs []string
		wantErr error
	}{
		{
			name: "rows in database order",
			setup: func(mock pgxmock.PgxPoolIface) {
				rows := pgxmock.NewRows(columns).
					AddRow(bm2, alice, "Docs", "https://docs.example", now).
					AddRow(bm1, alice, "Home", "https://example.com", now.Add(-time.Minute))
				mock.ExpectQuery(`SELECT .* FROM bookmarks WHERE user_id = \$1 ORDER BY created_at DESC, id DESC`).
					WithArgs(alice).
					WillReturnRows(rows)
			},
			wantIDs: []string{bm2, bm1},
		},
		{
			name: "empty collection is not an error",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT .* FROM bookmarks`).
					WithArgs(alice).
					WillReturnRows(pgxmock.NewRows(columns))
			},
			wantIDs: []string{},
		},
		{
			name: "query failure",
			setup: func(mock pgxmock.PgxPoolIface) {
				mock.ExpectQuery(`SELECT .* FROM bookmarks`).
					WithArgs(alice).
					WillReturnError(context.DeadlineExceeded)
			},
			wantErr: context.DeadlineExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMock(t)
			tt.setup(mock)

			got, err := repo.ListByUser(context.Background(), alice)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				ids := make([]string, 0, len(got))
				for _, b := range got {
					assert.Equal(t, alice, b.UserID)
					ids = append(ids, b.ID)
				}
				assert.Equal(t, tt.wantIDs, ids)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestRepository_Insert(t *testing.T) {
	repo, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`INSERT INTO bookmarks \(user_id,title,url\) VALUES \(\$1,\$2,\$3\) RETURNING`).
		WithArgs(alice, "Docs", "https://docs.example").
		WillReturnRows(pgxmock.NewRows(columns).AddRow(bm1, alice, "Docs", "https://docs.example", now))

	got, err := repo.Insert(context.Background(), alice, "Docs", "https://docs.example")
	require.NoError(t, err)
	assert.Equal(t, domain.Bookmark{ID: bm1, UserID: alice, Title: "Docs", URL: "https://docs.example", CreatedAt: now}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_InsertCheckViolation(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectQuery(`INSERT INTO bookmarks`).
		WithArgs(alice, " ", "https://docs.example").
		WillReturnError(&pgconn.PgError{Code: "23514"})

	_, err := repo.Insert(context.Background(), alice, " ", "https://docs.example")
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Delete(t *testing.T) {
	tests := []struct {
		name    string
		result  pgconn.CommandTag
		err     error
		wantErr error
	}{
		{name: "deleted", result: pgxmock.NewResult("DELETE", 1)},
		{name: "nothing matched", result: pgxmock.NewResult("DELETE", 0), wantErr: domain.ErrNotFound},
		{name: "malformed id", err: &pgconn.PgError{Code: "22P02"}, wantErr: domain.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo, mock := newMock(t)

			exp := mock.ExpectExec(`DELETE FROM bookmarks WHERE id = \$1 AND user_id = \$2`).
				WithArgs(bm1, alice)
			if tt.err != nil {
				exp.WillReturnError(tt.err)
			} else {
				exp.WillReturnResult(tt.result)
			}

			err := repo.Delete(context.Background(), alice, bm1)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMapError(t *testing.T) {
	assert.NoError(t, mapError(nil, "op", "x"))
	assert.ErrorIs(t, mapError(pgx.ErrNoRows, "op", "x"), domain.ErrNotFound)
	assert.ErrorIs(t, mapError(context.Canceled, "op", "x"), context.Canceled)

	other := errors.New("boom")
	err := mapError(other, "op", "x")
	assert.ErrorIs(t, err, other)
	assert.False(t, errors.Is(err, domain.ErrNotFound))
}

func TestDecodeNotification(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    feed.Event
		ok      bool
	}{
		{
			name:    "own insert",
			payload: `{"op":"insert","id":"` + bm1 + `","user_id":"` + alice + `"}`,
			want:    feed.Event{Op: feed.OpInsert, UserID: alice, RecordID: bm1},
			ok:      true,
		},
		{
			name:    "own delete",
			payload: `{"op":"delete","id":"` + bm2 + `","user_id":"` + alice + `"}`,
			want:    feed.Event{Op: feed.OpDelete, UserID: alice, RecordID: bm2},
			ok:      true,
		},
		{
			name:    "other user dropped",
			payload: `{"op":"insert","id":"` + bm1 + `","user_id":"someone-else"}`,
			ok:      false,
		},
		{
			name:    "garbage still signals",
			payload: `not json`,
			want:    feed.Event{Op: feed.OpUnknown, UserID: alice},
			ok:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := decodeNotification(tt.payload, alice)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := migrationFiles.ReadFile("migrations/00001_bookmarks.sql")
	require.NoError(t, err)
	assert.Contains(t, string(data), "-- +goose Up")
	assert.Contains(t, string(data), "pg_notify('"+ChangesChannel+"'")
}
