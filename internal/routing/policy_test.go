package routing

import (
	"testing"

	"github.com/google/uuid"

	"github.com/rferrao/tradepost/internal/domain"
)

func authedAs(role domain.Role) domain.Session {
	return domain.AuthenticatedSession(uuid.NewString(), role)
}

func TestDecide(t *testing.T) {
	user := authedAs(domain.RoleUser)
	moderator := authedAs(domain.RoleModerator)
	admin := authedAs(domain.RoleAdmin)
	anon := domain.UnauthenticatedSession()
	loading := domain.LoadingSession()

	tests := []struct {
		name    string
		path    string
		session domain.Session
		want    Decision
	}{
		{"loading session waits on protected route", "/profile", loading, Wait()},
		{"loading session waits on public route", "/products", loading, Wait()},
		{"public route allows anonymous", "/about", anon, Allow()},
		{"public subtree allows anonymous", "/products/p-1", anon, Allow()},
		{"protected route redirects anonymous to auth", "/profile", anon, RedirectTo("/auth")},
		{"protected route allows user", "/profile", user, Allow()},
		{"orders subtree redirects anonymous", "/orders/o-1", anon, RedirectTo("/auth")},
		{"admin tree rejects plain user", "/admin/dashboard", user, RedirectTo("/")},
		{"admin tree rejects moderator", "/admin/users", moderator, RedirectTo("/")},
		{"admin tree allows admin", "/admin/dashboard", admin, Allow()},
		{"admin tree redirects anonymous to auth", "/admin/dashboard", anon, RedirectTo("/auth")},
		{"moderator tree allows moderator", "/moderator/dashboard", moderator, Allow()},
		{"moderator tree allows admin", "/moderator/reports", admin, Allow()},
		{"moderator tree rejects user", "/moderator/dashboard", user, RedirectTo("/")},
		{"landing allows anonymous", "/", anon, Allow()},
		{"landing allows plain user", "/", user, Allow()},
		{"landing redirects admin to dashboard", "/", admin, RedirectTo("/admin/dashboard")},
		{"landing redirects moderator to dashboard", "/", moderator, RedirectTo("/moderator/dashboard")},
		{"auth route allows anonymous", "/auth", anon, Allow()},
		{"auth route redirects authenticated", "/auth", user, RedirectTo("/")},
		{"auth route redirects admin to landing", "/auth", admin, RedirectTo("/")},
		{"unlisted path is protected", "/some/unknown/screen", anon, RedirectTo("/auth")},
		{"unlisted path allows authenticated", "/some/unknown/screen", user, Allow()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Decide(tt.path, tt.session)
			if got != tt.want {
				t.Errorf("Decide(%q) = %+v, want %+v", tt.path, got, tt.want)
			}
		})
	}
}

func TestDecideMalformedUserID(t *testing.T) {
	// Structurally authenticated, semantically invalid: treated exactly
	// like an unauthenticated visitor.
	broken := domain.AuthenticatedSession("not-a-uuid", domain.RoleAdmin)

	if got := Decide("/profile", broken); got != RedirectTo("/auth") {
		t.Errorf("protected route: got %+v, want redirect to /auth", got)
	}
	if got := Decide("/admin/dashboard", broken); got != RedirectTo("/auth") {
		t.Errorf("role-scoped route: got %+v, want redirect to /auth", got)
	}
	if got := Decide("/", broken); got != Allow() {
		t.Errorf("landing: got %+v, want allow", got)
	}
}

func TestDecideIsTotal(t *testing.T) {
	sessions := []domain.Session{
		domain.LoadingSession(),
		domain.UnauthenticatedSession(),
		authedAs(domain.RoleUser),
		authedAs(domain.RoleModerator),
		authedAs(domain.RoleAdmin),
		domain.AuthenticatedSession("garbage", "ghost"),
	}
	paths := []string{"/", "/auth", "/products", "/products/x", "/profile",
		"/orders", "/orders/abc", "/cart", "/checkout", "/admin", "/admin/x/y",
		"/moderator", "/nope", ""}

	for _, s := range sessions {
		for _, p := range paths {
			d := Decide(p, s)
			switch d.Kind {
			case DecisionAllow, DecisionWait, DecisionRedirect:
			default:
				t.Errorf("Decide(%q, %v) returned unknown kind %q", p, s, d.Kind)
			}
			if d.Kind == DecisionRedirect && d.Target == "" {
				t.Errorf("Decide(%q, %v) redirect without target", p, s)
			}
		}
	}
}

func TestLookup(t *testing.T) {
	t.Run("prefers the longest match", func(t *testing.T) {
		if route := Lookup("/products/p-9"); route.Access != AccessPublic {
			t.Errorf("expected public, got %s", route.Access)
		}
	})
	t.Run("subtree does not match bare prefix strings", func(t *testing.T) {
		if route := Lookup("/productsfoo"); route.Access != AccessProtected {
			t.Errorf("expected protected fallback, got %s", route.Access)
		}
	})
	t.Run("unlisted path falls back to protected", func(t *testing.T) {
		if route := Lookup("/whatever"); route.Access != AccessProtected {
			t.Errorf("expected protected, got %s", route.Access)
		}
	})
}
