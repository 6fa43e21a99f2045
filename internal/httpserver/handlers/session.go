package handlers

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MrSnakeDoc/marksync/internal/domain"
	"github.com/MrSnakeDoc/marksync/internal/httpserver/deps"
	"github.com/MrSnakeDoc/marksync/internal/logger"
)

type sessionResponse struct {
	Status    string     `json:"status"`
	UserID    string     `json:"user_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func newSessionResponse(s domain.SessionState) sessionResponse {
	resp := sessionResponse{Status: s.Status.String(), UserID: s.Scope()}
	if s.IsAuthenticated() && !s.Credential.ExpiresAt.IsZero() {
		t := s.Credential.ExpiresAt
		resp.ExpiresAt = &t
	}
	return resp
}

// GetSession reports the current session. The token itself is never returned.
func GetSession(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		state, err := d.Identity.CurrentSession(r.Context())
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, newSessionResponse(state))
	}
}

type signInRequest struct {
	AccessToken string `json:"access_token"`
}

// SignIn hands the credential obtained after the OAuth redirect to the
// identity provider. The token is read from the JSON body or an
// Authorization: Bearer header.
func SignIn(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			var req signInRequest
			if err := decodeJSON(w, r, &req); err != nil {
				writeError(w, d.Logger, err)
				return
			}
			token = strings.TrimSpace(req.AccessToken)
		}
		if token == "" {
			writeError(w, d.Logger, domain.NewValidationError("access_token", "is required"))
			return
		}

		state, err := d.Identity.SignIn(r.Context(), token)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		d.Logger.Info("session established via endpoint", logger.String("user_id", state.UserID))
		writeJSON(w, http.StatusOK, newSessionResponse(state))
	}
}

// SignOut ends the session. The engine tears the user's data down.
func SignOut(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := d.Engine.SignOut(r.Context()); err != nil {
			writeError(w, d.Logger, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// Login redirects the browser to the OAuth authorize URL of ?provider=.
// ?redirect_to= overrides the configured post-login destination but must stay
// on its origin.
func Login(d deps.Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		provider := q.Get("provider")
		target, err := loginTarget(d.RedirectTarget, q.Get("redirect_to"))
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}

		u, err := d.Identity.BeginOAuthLogin(provider, target)
		if err != nil {
			writeError(w, d.Logger, err)
			return
		}
		http.Redirect(w, r, u, http.StatusFound)
	}
}

// loginTarget resolves requested against the configured target. Absolute URLs
// must share its scheme and host; paths are placed on its origin.
func loginTarget(configured, requested string) (string, error) {
	if requested == "" {
		return configured, nil
	}
	base, err := url.Parse(configured)
	if err != nil {
		return "", fmt.Errorf("redirect target: %w", err)
	}
	u, err := url.Parse(requested)
	if err != nil {
		return "", domain.NewValidationError("redirect_to", "not a valid URL")
	}
	if u.Scheme == "" && u.Host == "" && strings.HasPrefix(u.Path, "/") {
		return base.ResolveReference(u).String(), nil
	}
	if !strings.EqualFold(u.Scheme, base.Scheme) || !strings.EqualFold(u.Host, base.Host) {
		return "", domain.NewValidationError("redirect_to", "must stay on "+base.Scheme+"://"+base.Host)
	}
	return u.String(), nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}
