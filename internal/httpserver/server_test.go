package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/marksync/internal/bookmarks"
	"github.com/MrSnakeDoc/marksync/internal/coordinator"
	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

const alice = "2f1e3c4d-0000-4000-8000-00000000a11c"

// ─────────────────────────────
// Fakes
// ─────────────────────────────

type fakeEngine struct {
	mu        sync.Mutex
	snap      bookmarks.Snapshot
	watch     chan bookmarks.Snapshot
	addErr    error
	removeErr error
	refreshes int
	imported  []coordinator.ImportEntry
	status    coordinator.Status
	signOuts  int
}

func (f *fakeEngine) Snapshot() bookmarks.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeEngine) Watch() (<-chan bookmarks.Snapshot, func()) {
	f.watch <- f.Snapshot()
	return f.watch, func() {}
}

func (f *fakeEngine) Add(_ context.Context, title, url string) (domain.Bookmark, error) {
	if _, _, err := domain.NewBookmarkInput(title, url); err != nil {
		return domain.Bookmark{}, err
	}
	if f.addErr != nil {
		return domain.Bookmark{}, f.addErr
	}
	return domain.Bookmark{ID: "b-new", UserID: alice, Title: title, URL: url}, nil
}

func (f *fakeEngine) Remove(_ context.Context, _ string) error { return f.removeErr }

func (f *fakeEngine) Refresh() {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
}

func (f *fakeEngine) Import(_ context.Context, entries []coordinator.ImportEntry) (coordinator.ImportReport, error) {
	f.imported = entries
	return coordinator.ImportReport{Added: len(entries)}, nil
}

func (f *fakeEngine) Status() coordinator.Status { return f.status }

func (f *fakeEngine) SignOut(context.Context) error {
	f.mu.Lock()
	f.signOuts++
	f.mu.Unlock()
	return nil
}

type fakeIdentity struct {
	state domain.SessionState
}

func (f *fakeIdentity) CurrentSession(context.Context) (domain.SessionState, error) {
	return f.state, nil
}

func (f *fakeIdentity) SignIn(_ context.Context, token string) (domain.SessionState, error) {
	if token != "good-token" {
		return domain.Unauthenticated(), fmt.Errorf("%w: bad token", domain.ErrUnauthenticated)
	}
	f.state = domain.Authenticated(alice, domain.Credential{AccessToken: token, ExpiresAt: time.Now().Add(time.Hour)})
	return f.state, nil
}

func (f *fakeIdentity) SignOut(context.Context) error {
	f.state = domain.Unauthenticated()
	return nil
}

func (f *fakeIdentity) BeginOAuthLogin(provider, target string) (string, error) {
	if provider != "google" {
		return "", domain.NewValidationError("provider", "not enabled")
	}
	return "https://auth.example/authorize?provider=google&redirect_to=" + target, nil
}

func signedIn() bookmarks.Snapshot {
	return bookmarks.Snapshot{
		UserID:  alice,
		State:   bookmarks.StateReady,
		Version: 3,
		Bookmarks: []domain.Bookmark{
			{ID: "b1", UserID: alice, Title: "Docs", URL: "https://docs.example"},
		},
	}
}

func newTestRouter(t *testing.T, eng *fakeEngine, id *fakeIdentity) http.Handler {
	t.Helper()
	return NewRouter(logger.NewNop(), deps.Deps{
		Logger:         logger.NewNop(),
		StartTime:      time.Now(),
		Version:        "test",
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		Backend:        "redis",
		Engine:         eng,
		Identity:       id,
		RedirectTarget: "http://localhost:3000/dashboard",
	})
}

func serve(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

// ─────────────────────────────
// Tests
// ─────────────────────────────

func TestHealthz(t *testing.T) {
	h := newTestRouter(t, &fakeEngine{}, &fakeIdentity{})

	w := serve(h, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestReadyz(t *testing.T) {
	eng := &fakeEngine{status: coordinator.Status{Running: true, State: "ready", UserID: alice, FeedConnected: true}}
	h := newTestRouter(t, eng, &fakeIdentity{})

	w := serve(h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"mode":"live"`)

	failing := NewRouter(logger.NewNop(), deps.Deps{
		Logger:      logger.NewNop(),
		Engine:      eng,
		Identity:    &fakeIdentity{},
		PingBackend: func(context.Context) error { return errors.New("connection refused") },
	})
	w = serve(failing, http.MethodGet, "/readyz", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"mode":"critical"`)
}

func TestListBookmarks(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestRouter(t, eng, &fakeIdentity{})

	w := serve(h, http.MethodGet, "/api/bookmarks", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	eng.snap = signedIn()
	w = serve(h, http.MethodGet, "/api/bookmarks", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got struct {
		UserID    string            `json:"user_id"`
		State     string            `json:"state"`
		Bookmarks []domain.Bookmark `json:"bookmarks"`
		Pending   []any             `json:"pending"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, alice, got.UserID)
	assert.Equal(t, "ready", got.State)
	require.Len(t, got.Bookmarks, 1)
	assert.Equal(t, "Docs", got.Bookmarks[0].Title)
	assert.NotNil(t, got.Pending)
}

func TestCreateBookmark(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		addErr error
		status int
	}{
		{name: "created", body: `{"title":"Docs","url":"https://docs.example"}`, status: http.StatusCreated},
		{name: "empty title", body: `{"title":"  ","url":"https://docs.example"}`, status: http.StatusBadRequest},
		{name: "malformed body", body: `{"title":`, status: http.StatusBadRequest},
		{name: "signed out", body: `{"title":"Docs","url":"u"}`, addErr: domain.ErrUnauthenticated, status: http.StatusUnauthorized},
		{name: "backend down", body: `{"title":"Docs","url":"u"}`, addErr: errors.New("dial tcp: refused"), status: http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(t, &fakeEngine{snap: signedIn(), addErr: tt.addErr}, &fakeIdentity{})
			w := serve(h, http.MethodPost, "/api/bookmarks", tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
		})
	}
}

func TestCreateBookmarkValidationFields(t *testing.T) {
	h := newTestRouter(t, &fakeEngine{snap: signedIn()}, &fakeIdentity{})

	w := serve(h, http.MethodPost, "/api/bookmarks", `{"title":"","url":""}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"field":"title"`)
	assert.Contains(t, w.Body.String(), `"field":"url"`)
}

func TestDeleteBookmark(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "deleted", status: http.StatusNoContent},
		{name: "already pending", err: fmt.Errorf("remove b1: %w", domain.ErrPending), status: http.StatusConflict},
		{name: "unknown", err: bookmarks.ErrNotInCollection, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestRouter(t, &fakeEngine{snap: signedIn(), removeErr: tt.err}, &fakeIdentity{})
			w := serve(h, http.MethodDelete, "/api/bookmarks/b1", "")
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRefreshBookmarks(t *testing.T) {
	eng := &fakeEngine{snap: signedIn()}
	h := newTestRouter(t, eng, &fakeIdentity{})

	w := serve(h, http.MethodPost, "/api/bookmarks/refresh", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, 1, eng.refreshes)
}

func TestImportBookmarks(t *testing.T) {
	eng := &fakeEngine{snap: signedIn()}
	h := newTestRouter(t, eng, &fakeIdentity{})

	doc := "- Developer:\n    - Github:\n        - abbr: GH\n          href: https://github.com/\n"
	w := serve(h, http.MethodPost, "/api/bookmarks/import?format=bookmarks", doc)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"added":1}`, w.Body.String())
	assert.Equal(t, []coordinator.ImportEntry{{Title: "Github", URL: "https://github.com/"}}, eng.imported)

	w = serve(h, http.MethodPost, "/api/bookmarks/import?format=netscape", doc)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(h, http.MethodPost, "/api/bookmarks/import", "- Developer: [unclosed")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSessionFlow(t *testing.T) {
	id := &fakeIdentity{state: domain.Unauthenticated()}
	eng := &fakeEngine{}
	h := newTestRouter(t, eng, id)

	w := serve(h, http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"unauthenticated"`)

	w = serve(h, http.MethodPost, "/api/session", `{"access_token":"forged"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r := httptest.NewRequest(http.MethodPost, "/api/session", nil)
	r.Header.Set("Authorization", "Bearer good-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), alice)
	assert.NotContains(t, rec.Body.String(), "good-token")

	w = serve(h, http.MethodPost, "/api/session/signout", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, 1, eng.signOuts, "sign out goes through the engine")
}

func TestLoginRedirect(t *testing.T) {
	h := newTestRouter(t, &fakeEngine{}, &fakeIdentity{})

	w := serve(h, http.MethodGet, "/login?provider=google", "")
	require.Equal(t, http.StatusFound, w.Code)
	assert.Contains(t, w.Header().Get("Location"), "redirect_to=http://localhost:3000/dashboard")

	w = serve(h, http.MethodGet, "/login?provider=github", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginRedirectTarget(t *testing.T) {
	h := newTestRouter(t, &fakeEngine{}, &fakeIdentity{})

	tests := []struct {
		name       string
		redirectTo string
		wantStatus int
		wantTarget string
	}{
		{"same origin", "http://localhost:3000/settings", http.StatusFound, "redirect_to=http://localhost:3000/settings"},
		{"path only", "/settings", http.StatusFound, "redirect_to=http://localhost:3000/settings"},
		{"foreign host", "https://evil.example/phish", http.StatusBadRequest, ""},
		{"scheme relative", "//evil.example/phish", http.StatusBadRequest, ""},
		{"other port", "http://localhost:4000/dashboard", http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := "/login?provider=google&redirect_to=" + url.QueryEscape(tt.redirectTo)
			w := serve(h, http.MethodGet, path, "")
			require.Equal(t, tt.wantStatus, w.Code)
			if tt.wantTarget != "" {
				assert.Contains(t, w.Header().Get("Location"), tt.wantTarget)
			} else {
				assert.Contains(t, w.Body.String(), `"field":"redirect_to"`)
			}
		})
	}
}

func TestAccessGuard(t *testing.T) {
	eng := &fakeEngine{snap: signedIn()}
	h := NewRouter(logger.NewNop(), deps.Deps{
		Logger:         logger.NewNop(),
		AllowedCIDRS:   []string{"127.0.0.1/32"},
		AllowedHosts:   []string{"marks.lan"},
		RateLimitRPS:   100,
		RateLimitBurst: 100,
		Engine:         eng,
		Identity:       &fakeIdentity{state: domain.Unauthenticated()},
		RedirectTarget: "http://localhost:3000/dashboard",
	})

	call := func(method, path, remote, host string) int {
		r := httptest.NewRequest(method, path, nil)
		r.RemoteAddr = remote
		r.Host = host
		w := httptest.NewRecorder()
		h.ServeHTTP(w, r)
		return w.Code
	}

	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/bookmarks"},
		{http.MethodDelete, "/api/bookmarks/b1"},
		{http.MethodPost, "/api/bookmarks/refresh"},
		{http.MethodGet, "/api/bookmarks/stream"},
		{http.MethodGet, "/api/session"},
		{http.MethodPost, "/api/session/signout"},
		{http.MethodGet, "/login?provider=google"},
		{http.MethodGet, "/readyz"},
	}
	for _, rt := range routes {
		t.Run(rt.method+" "+rt.path, func(t *testing.T) {
			assert.Equal(t, http.StatusForbidden, call(rt.method, rt.path, "203.0.113.9:4000", "marks.lan"), "foreign client")
			if rt.path != "/readyz" {
				assert.Equal(t, http.StatusForbidden, call(rt.method, rt.path, "127.0.0.1:4000", "evil.example"), "foreign host")
			}
		})
	}

	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/api/bookmarks", "127.0.0.1:4000", "marks.lan:8080"))
	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/healthz", "203.0.113.9:4000", "evil.example"))
	assert.Zero(t, eng.signOuts)
}

func TestStreamBookmarks(t *testing.T) {
	eng := &fakeEngine{snap: signedIn(), watch: make(chan bookmarks.Snapshot, 1)}
	srv := httptest.NewServer(newTestRouter(t, eng, &fakeIdentity{}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/bookmarks/stream"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	read := func() map[string]any {
		_, data, err := conn.Read(ctx)
		require.NoError(t, err)
		var v map[string]any
		require.NoError(t, json.Unmarshal(data, &v))
		return v
	}

	first := read()
	assert.Equal(t, "ready", first["state"])
	assert.EqualValues(t, 3, first["version"])

	next := signedIn()
	next.Version = 4
	next.State = bookmarks.StateError
	next.Err = errors.New("backend unavailable")
	eng.watch <- next

	second := read()
	assert.EqualValues(t, 4, second["version"])
	assert.Equal(t, "error", second["state"])
	assert.Equal(t, "backend unavailable", second["error"])
	assert.Len(t, second["bookmarks"], 1)

	close(eng.watch)
	_, _, err = conn.Read(ctx)
	assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
}

func TestUnknownRoute(t *testing.T) {
	h := newTestRouter(t, &fakeEngine{}, &fakeIdentity{})
	w := serve(h, http.MethodGet, "/api/nope", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	_, _ = io.Copy(io.Discard, w.Body)
}
