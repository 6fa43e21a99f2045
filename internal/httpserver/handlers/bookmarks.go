package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/marksync/internal/bookmarks"
	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marksync/internal/importer"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

const maxImportBytes = 1 << 20

// snapshotView is the wire form of a bookmarks.Snapshot.
type snapshotView struct {
	UserID    string                      `json:"user_id"`
	State     string                      `json:"state"`
	Version   uint64                      `json:"version"`
	Bookmarks []domain.Bookmark           `json:"bookmarks"`
	Pending   []bookmarks.PendingMutation `json:"pending"`
	Error     string                      `json:"error,omitempty"`
	SyncedAt  *time.Time                  `json:"synced_at,omitempty"`
}

func newSnapshotView(s bookmarks.Snapshot) snapshotView {
	v := snapshotView{
		UserID:    s.UserID,
		State:     s.State.String(),
		Version:   s.Version,
		Bookmarks: s.Bookmarks,
		Pending:   s.Pending,
	}
	if v.Bookmarks == nil {
		v.Bookmarks = []domain.Bookmark{}
	}
	if v.Pending == nil {
		v.Pending = []bookmarks.PendingMutation{}
	}
	if s.Err != nil {
		v.Error = s.Err.Error()
	}
	if !s.SyncedAt.IsZero() {
		t := s.SyncedAt
		v.SyncedAt = &t
	}
	return v
}

// ListBookmarks returns the current snapshot. It never reaches the backend.
func ListBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap := d.Engine.Snapshot()
		if snap.UserID == "" {
			writeError(w, d.Logger, domain.ErrUnauthenticated)
			return
		}
		writeJSON(w, http.StatusOK, newSnapshotView(snap))
	}
}

type createBookmarkRequest struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// CreateBookmark adds a bookmark. The response carries the stored record;
// the collection picks it up on the following resync.
func CreateBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createBookmarkRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, d.Logger, err)
			return
		}

		rec, err := d.Engine.Add(r.Context(), req.Title, req.URL)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, rec)
	}
}

// DeleteBookmark removes the bookmark named by the {id} path parameter.
func DeleteBookmark(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := d.Engine.Remove(r.Context(), id); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// RefreshBookmarks asks for a resync and returns immediately.
func RefreshBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if d.Engine.Snapshot().UserID == "" {
			writeError(w, d.Logger, domain.ErrUnauthenticated)
			return
		}
		d.Engine.Refresh()
		d.Logger.Info("manual resync triggered via endpoint",
			logger.String("remote_ip", r.RemoteAddr))
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "resync requested"})
	}
}

// ImportBookmarks creates every bookmark of a Homepage YAML document sent as
// the request body. ?format= selects bookmarks or services, default both.
func ImportBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		format, err := importer.ParseFormat(r.URL.Query().Get("format"))
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxImportBytes))
		if err != nil {
			writeError(w, d.Logger, domain.NewValidationError("body", "import document too large or unreadable"))
			return
		}

		entries, err := importer.Parse(data, format)
		if err != nil {
			if statusFor(err) == http.StatusBadGateway {
				err = domain.NewValidationError("body", err.Error())
			}
			writeError(w, d.Logger, err)
			return
		}

		report, err := d.Engine.Import(r.Context(), entries)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

// StreamBookmarks upgrades to a websocket and pushes every republished
// snapshot as a JSON text message, starting with the current one. Slow
// readers skip intermediate versions.
func StreamBookmarks(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Lift the server read deadline for the lifetime of the stream.
		_ = http.NewResponseController(w).SetReadDeadline(time.Time{})

		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			d.Logger.Debug("websocket upgrade failed", logger.Error(err))
			return
		}
		defer conn.CloseNow()

		// Client messages are ignored; the returned context ends when the
		// client goes away.
		ctx := conn.CloseRead(r.Context())

		snaps, cancel := d.Engine.Watch()
		defer cancel()

		for {
			select {
			case <-ctx.Done():
				return
			case snap, ok := <-snaps:
				if !ok {
					_ = conn.Close(websocket.StatusGoingAway, "engine stopped")
					return
				}
				if err := writeSnapshot(ctx, conn, snap); err != nil {
					d.Logger.Debug("snapshot stream closed", logger.Error(err))
					return
				}
			}
		}
	}
}

func writeSnapshot(ctx context.Context, conn *websocket.Conn, snap bookmarks.Snapshot) error {
	data, err := json.Marshal(newSnapshotView(snap))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
