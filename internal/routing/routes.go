package routing

import "github.com/rferrao/tradepost/internal/domain"

type Access string

const (
	AccessPublic     Access = "public"
	AccessProtected  Access = "protected"
	AccessRoleScoped Access = "role-scoped"
)

type Route struct {
	Path    string
	Subtree bool
	Access  Access
	Roles   []domain.Role
}

const (
	PathLanding            = "/"
	PathAuth               = "/auth"
	PathAdminDashboard     = "/admin/dashboard"
	PathModeratorDashboard = "/moderator/dashboard"
)

// Table is the whole route surface, as data. Paths not listed here are
// treated as protected, so nothing falls through undecided.
var Table = []Route{
	{Path: "/", Access: AccessPublic},
	{Path: "/auth", Access: AccessPublic},
	{Path: "/about", Access: AccessPublic},
	{Path: "/terms", Access: AccessPublic},
	{Path: "/products", Subtree: true, Access: AccessPublic},
	{Path: "/profile", Access: AccessProtected},
	{Path: "/orders", Subtree: true, Access: AccessProtected},
	{Path: "/cart", Access: AccessProtected},
	{Path: "/checkout", Access: AccessProtected},
	{Path: "/admin", Subtree: true, Access: AccessRoleScoped, Roles: []domain.Role{domain.RoleAdmin}},
	{Path: "/moderator", Subtree: true, Access: AccessRoleScoped, Roles: []domain.Role{domain.RoleModerator, domain.RoleAdmin}},
}

// Lookup returns the longest matching route for the path. Unlisted paths
// resolve to a protected route.
func Lookup(path string) Route {
	best := Route{Path: path, Access: AccessProtected}
	bestLen := -1
	for _, route := range Table {
		if matches(route, path) && len(route.Path) > bestLen {
			best = route
			bestLen = len(route.Path)
		}
	}
	return best
}

func matches(route Route, path string) bool {
	if route.Path == path {
		return true
	}
	if !route.Subtree {
		return false
	}
	if len(path) <= len(route.Path) {
		return false
	}
	return path[:len(route.Path)] == route.Path && path[len(route.Path)] == '/'
}
