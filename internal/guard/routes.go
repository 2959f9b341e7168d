package guard

import (
	"conserv/internal/models"
	"conserv/internal/session"
)

type Route struct {
	Path         string      `json:"path"`
	RequiredRole models.Role `json:"requiredRole,omitempty"`
}

// Routes lists the dashboard destinations behind the login.
var Routes = []Route{
	{Path: "/"},
	{Path: "/orders"},
	{Path: "/chat"},
	{Path: "/profile"},
	{Path: "/analytics", RequiredRole: models.RoleManager},
}

// PublicRoutes are reachable without a session.
var PublicRoutes = []string{"/login", "/register"}

// Lookup finds a route by path.
func Lookup(path string) (Route, bool) {
	for _, r := range Routes {
		if r.Path == path {
			return r, true
		}
	}
	return Route{}, false
}

// DecidePath applies Decide to a path. Public paths are always allowed,
// unknown paths are denied.
func DecidePath(s session.State, path string) Decision {
	for _, p := range PublicRoutes {
		if p == path {
			return Allow
		}
	}
	r, ok := Lookup(path)
	if !ok {
		return Deny
	}
	return Decide(s, r.RequiredRole)
}

// AllowedRoutes returns the protected destinations the session may open right now.
func AllowedRoutes(s session.State) []Route {
	var out []Route
	for _, r := range Routes {
		if Decide(s, r.RequiredRole) == Allow {
			out = append(out, r)
		}
	}
	return out
}
