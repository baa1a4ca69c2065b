// Package routing decides, for every (path, session) pair, whether the View
// Layer may render the requested screen or where it must send the visitor
// instead. Decisions are values; authorization never surfaces as an error.
package routing

import (
	"slices"

	"github.com/google/uuid"

	"github.com/rferrao/tradepost/internal/domain"
)

type DecisionKind string

const (
	DecisionAllow    DecisionKind = "allow"
	DecisionWait     DecisionKind = "wait"
	DecisionRedirect DecisionKind = "redirect"
)

type Decision struct {
	Kind   DecisionKind `json:"kind"`
	Target string       `json:"target,omitempty"`
}

func Allow() Decision { return Decision{Kind: DecisionAllow} }

func Wait() Decision { return Decision{Kind: DecisionWait} }

func RedirectTo(target string) Decision {
	return Decision{Kind: DecisionRedirect, Target: target}
}

// Decide maps a navigation to exactly one outcome. A loading session always
// waits, whatever the route: no data yet is never treated as logged out.
func Decide(path string, session domain.Session) Decision {
	if session.State == domain.SessionLoading {
		return Wait()
	}

	// A session that is structurally authenticated but carries a malformed
	// user id is semantically invalid and handled as unauthenticated.
	if session.Authenticated() && uuid.Validate(session.UserID) != nil {
		session = domain.UnauthenticatedSession()
	}

	if path == PathAuth {
		if session.Authenticated() {
			return RedirectTo(PathLanding)
		}
		return Allow()
	}

	if path == PathLanding {
		switch {
		case session.Authenticated() && session.Role == domain.RoleAdmin:
			return RedirectTo(PathAdminDashboard)
		case session.Authenticated() && session.Role == domain.RoleModerator:
			return RedirectTo(PathModeratorDashboard)
		}
		return Allow()
	}

	route := Lookup(path)
	switch route.Access {
	case AccessPublic:
		return Allow()
	case AccessRoleScoped:
		if !session.Authenticated() {
			return RedirectTo(PathAuth)
		}
		if !slices.Contains(route.Roles, session.Role) {
			return RedirectTo(PathLanding)
		}
		return Allow()
	default:
		if !session.Authenticated() {
			return RedirectTo(PathAuth)
		}
		return Allow()
	}
}
