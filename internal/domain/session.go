package domain

type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleModerator, RoleAdmin:
		return true
	}
	return false
}

type SessionState string

const (
	// SessionLoading means resolution has not finished yet. It is never
	// the same thing as unauthenticated; callers must wait, not guess.
	SessionLoading         SessionState = "loading"
	SessionUnauthenticated SessionState = "unauthenticated"
	SessionAuthenticated   SessionState = "authenticated"
)

type Session struct {
	State  SessionState `json:"state"`
	UserID string       `json:"user_id,omitempty"`
	Role   Role         `json:"role,omitempty"`
}

func LoadingSession() Session {
	return Session{State: SessionLoading}
}

func UnauthenticatedSession() Session {
	return Session{State: SessionUnauthenticated}
}

func AuthenticatedSession(userID string, role Role) Session {
	return Session{State: SessionAuthenticated, UserID: userID, Role: role}
}

func (s Session) Authenticated() bool {
	return s.State == SessionAuthenticated
}
