package domain

import "time"

// SessionStatus tags a SessionState.
type SessionStatus int

const (
	StatusUnauthenticated SessionStatus = iota
	StatusAuthenticated
)

func (s SessionStatus) String() string {
	switch s {
	case StatusAuthenticated:
		return "authenticated"
	default:
		return "unauthenticated"
	}
}

// Credential is the opaque handle issued by the identity provider.
// The engine only carries it around; it never inspects the token.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

// String never prints the token.
func (c Credential) String() string {
	if c.AccessToken == "" {
		return "<none>"
	}
	return "<redacted>"
}

// SessionState is either Unauthenticated or Authenticated(UserID, Credential).
type SessionState struct {
	Status     SessionStatus
	UserID     string
	Credential Credential
}

// Unauthenticated returns the signed-out state.
func Unauthenticated() SessionState {
	return SessionState{Status: StatusUnauthenticated}
}

// Authenticated returns the signed-in state for userID.
func Authenticated(userID string, cred Credential) SessionState {
	return SessionState{
		Status:     StatusAuthenticated,
		UserID:     userID,
		Credential: cred,
	}
}

// IsAuthenticated reports whether a user is signed in.
func (s SessionState) IsAuthenticated() bool {
	return s.Status == StatusAuthenticated && s.UserID != ""
}

// Scope is the user identifier the session scopes data to.
// Unauthenticated sessions have the empty scope.
func (s SessionState) Scope() string {
	if !s.IsAuthenticated() {
		return ""
	}
	return s.UserID
}
