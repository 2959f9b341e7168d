package guard

import (
	"errors"
	"fmt"

	"conserv/internal/models"
	"conserv/internal/session"
)

// ErrPending means the session is still resolving and no decision can be made yet.
var ErrPending = errors.New("session pending")

type Decision string

const (
	Pending       Decision = "PENDING"
	Allow         Decision = "ALLOW"
	RedirectLogin Decision = "REDIRECT_LOGIN"
	Deny          Decision = "DENY"
)

// Decide derives the access decision for a destination requiring role.
// An empty role means any authenticated user. ADMIN passes every role check.
func Decide(s session.State, role models.Role) Decision {
	if s.IsLoading {
		return Pending
	}
	if !s.IsAuthenticated {
		return RedirectLogin
	}
	if role == "" {
		return Allow
	}
	if s.User == nil {
		// Authenticated from a stored token, profile not loaded yet.
		return Pending
	}
	if s.User.Role != role && s.User.Role != models.RoleAdmin {
		return Deny
	}
	return Allow
}

// Err converts a decision into the error a gated operation returns.
func (d Decision) Err() error {
	switch d {
	case Allow:
		return nil
	case Pending:
		return ErrPending
	case RedirectLogin:
		return fmt.Errorf("%w: not signed in", models.ErrAuth)
	default:
		return models.ErrForbidden
	}
}

// StateSource provides the current session snapshot.
type StateSource interface {
	Snapshot() session.State
}

// Gate returns a check suitable for gating remote fetches on the session.
func Gate(src StateSource, role models.Role) func() error {
	return func() error {
		return Decide(src.Snapshot(), role).Err()
	}
}
