package bookmarks

import (
	"time"

	"github.com/MrSnakeDoc/marksync/internal/domain"
)

// State is the lifecycle state of a Store.
type State int

const (
	StateEmpty State = iota
	StateLoading
	StateReady
	StateError
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	default:
		return "empty"
	}
}

// PendingKind distinguishes in-flight mutations.
type PendingKind string

const (
	PendingAdd    PendingKind = "add"
	PendingDelete PendingKind = "delete"
)

// PendingMutation is an add or delete request in flight.
//
// Marker is the bookmark ID for deletes and a client-generated UUID for adds.
// Completed is set on a delete that succeeded but whose record is still
// present in the last applied collection.
type PendingMutation struct {
	Marker    string      `json:"marker"`
	Kind      PendingKind `json:"kind"`
	Title     string      `json:"title,omitempty"`
	URL       string      `json:"url,omitempty"`
	StartedAt time.Time   `json:"started_at"`
	Completed bool        `json:"completed,omitempty"`
}

// Snapshot is an immutable view of the Store. Slices are owned by the caller.
type Snapshot struct {
	UserID    string
	State     State
	Bookmarks []domain.Bookmark
	Pending   []PendingMutation
	Version   uint64
	Err       error
	SyncedAt  time.Time
}

// IsPending reports whether marker has a mutation in flight.
func (s Snapshot) IsPending(marker string) bool {
	for _, p := range s.Pending {
		if p.Marker == marker {
			return true
		}
	}
	return false
}

// Contains reports whether a bookmark with id is in the collection.
func (s Snapshot) Contains(id string) bool {
	for _, b := range s.Bookmarks {
		if b.ID == id {
			return true
		}
	}
	return false
}
