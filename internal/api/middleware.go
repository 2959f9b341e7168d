package api

import (
	"net/http"
	"net/url"

	"conserv/internal/guard"
)

// RequireSameOrigin rejects browser requests sent from another origin.
func RequireSameOrigin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" {
			u, err := url.Parse(origin)
			if err != nil || u.Host != r.Host {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
		}
		next(w, r)
	}
}

// RequireAuth lets the request through only for a resolved, signed-in session.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch guard.Decide(a.session.Snapshot(), "") {
		case guard.Allow:
			next(w, r)
		case guard.Pending:
			writeError(w, guard.ErrPending, nil)
		default:
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		}
	}
}
