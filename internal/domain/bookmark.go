package domain

import (
	"cmp"
	"slices"
	"strings"
	"time"
)

// Bookmark is a saved link owned by exactly one user.
//
// ID, UserID and CreatedAt are assigned by the backing store. The engine
// never synthesizes them locally; a new bookmark only appears after a resync.
type Bookmark struct {
	// ─────────────────────────────
	// Identity (immutable)
	// ─────────────────────────────

	// ID is the store-assigned unique identifier.
	ID string `json:"id"`

	// UserID is the owning user identifier.
	UserID string `json:"user_id"`

	// ─────────────────────────────
	// Content
	// ─────────────────────────────

	// Title is the non-empty display string.
	Title string `json:"title"`

	// URL is the target link. Non-empty, not guaranteed well-formed.
	URL string `json:"url"`

	// ─────────────────────────────
	// Metadata
	// ─────────────────────────────

	// CreatedAt is assigned by the store and drives the default ordering.
	CreatedAt time.Time `json:"created_at"`
}

// NewBookmarkInput validates and normalizes the user-supplied fields of a
// bookmark to create. Both values are trimmed; empty results are rejected.
func NewBookmarkInput(title, url string) (string, string, error) {
	title = strings.TrimSpace(title)
	url = strings.TrimSpace(url)

	var errs []FieldError
	if title == "" {
		errs = append(errs, FieldError{Field: "title", Message: "must not be empty"})
	}
	if url == "" {
		errs = append(errs, FieldError{Field: "url", Message: "must not be empty"})
	}
	if len(errs) > 0 {
		return "", "", NewValidationErrors(errs)
	}
	return title, url, nil
}

// SortNewestFirst orders bookmarks by CreatedAt descending.
// Equal timestamps fall back to ID descending so the order is total.
func SortNewestFirst(bookmarks []Bookmark) {
	slices.SortStableFunc(bookmarks, func(a, b Bookmark) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
}
