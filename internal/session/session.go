package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"conserv/internal/content"
	"conserv/internal/models"
	"conserv/internal/remote"
)

// ErrSuperseded is returned to callers whose operation was overtaken by a later one
// (typically a logout) before the remote call completed.
var ErrSuperseded = errors.New("session operation superseded")

// State is a snapshot of the authenticated identity.
// User is present only when IsAuthenticated is true. IsLoading and Error are never both set.
type State struct {
	IsAuthenticated bool
	User            *models.User
	IsLoading       bool
	Error           error
}

func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		IsAuthenticated bool              `json:"isAuthenticated"`
		User            *models.User      `json:"user,omitempty"`
		IsLoading       bool              `json:"isLoading"`
		Error           *models.ErrorInfo `json:"error,omitempty"`
	}{s.IsAuthenticated, s.User, s.IsLoading, models.Describe(s.Error)})
}

func (s State) clone() State {
	if s.User != nil {
		u := *s.User
		s.User = &u
	}
	return s
}

// Role returns the user's role or an empty string when the profile is unknown.
func (s State) Role() models.Role {
	if s.User == nil {
		return ""
	}
	return s.User.Role
}

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Registration struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
	Phone           string `json:"phone,omitempty"`
	Address         string `json:"address,omitempty"`
}

// ValidationError reports form fields rejected before any request was made.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = name + ": " + e.Fields[name]
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return models.ErrAuth
}

// TokenStore persists the credential between process restarts.
type TokenStore interface {
	SaveToken(userID, token string) error
	Token() (string, error)
	DeleteToken() error
}

// Store owns the session state. All mutations go through its methods.
type Store struct {
	api    remote.AuthAPI
	tokens TokenStore

	mu    sync.Mutex
	state State
	// gen is bumped by every operation; remote completions carrying an older value are dropped.
	gen uint64

	onChange func(State)
}

func NewStore(api remote.AuthAPI, tokens TokenStore) *Store {
	return &Store{api: api, tokens: tokens}
}

// OnChange registers a callback invoked with a snapshot after every state change.
func (s *Store) OnChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onChange = fn
}

func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Restore marks the session authenticated when a token survived a restart.
// The profile stays absent until FetchProfile fills it.
func (s *Store) Restore() (State, error) {
	token, err := s.tokens.Token()
	if err != nil {
		return s.Snapshot(), fmt.Errorf("failed to read stored token: %w", err)
	}
	if token == "" {
		return s.Snapshot(), nil
	}

	return s.mutate(func(st *State) {
		s.gen++
		*st = State{IsAuthenticated: true}
	}), nil
}

func (s *Store) Login(ctx context.Context, c Credentials) (State, error) {
	if v := content.ValidateLogin(content.LoginForm{Email: c.Email, Password: c.Password}); !v.Valid {
		return s.reject(&ValidationError{Fields: v.FieldErrors})
	}

	gen := s.begin()
	resp, err := s.api.Login(ctx, remote.LoginRequest{Email: c.Email, Password: c.Password})
	return s.finishAuth(gen, resp, err)
}

// Register validates the form locally and sends it without the password confirmation.
func (s *Store) Register(ctx context.Context, r Registration) (State, error) {
	v := content.ValidateRegistration(content.RegistrationForm{
		Name:            r.Name,
		Email:           r.Email,
		Password:        r.Password,
		ConfirmPassword: r.ConfirmPassword,
		Phone:           r.Phone,
		Address:         r.Address,
	})
	if !v.Valid {
		return s.reject(&ValidationError{Fields: v.FieldErrors})
	}

	gen := s.begin()
	resp, err := s.api.Register(ctx, remote.RegisterRequest{
		Name:     strings.TrimSpace(r.Name),
		Email:    r.Email,
		Password: r.Password,
		Phone:    r.Phone,
		Address:  r.Address,
	})
	return s.finishAuth(gen, resp, err)
}

// FetchProfile loads the user for a session restored from a token.
// It does nothing unless the session is authenticated without a user.
func (s *Store) FetchProfile(ctx context.Context) (State, error) {
	s.mu.Lock()
	if !s.state.IsAuthenticated || s.state.User != nil || s.state.IsLoading {
		st := s.state.clone()
		s.mu.Unlock()
		return st, nil
	}
	gen := s.beginLocked()
	st, fn := s.state.clone(), s.onChange
	s.mu.Unlock()
	notify(fn, st)

	user, err := s.api.Profile(ctx)

	s.mu.Lock()
	if gen != s.gen {
		st = s.state.clone()
		s.mu.Unlock()
		return st, ErrSuperseded
	}
	switch {
	case err == nil:
		s.state = State{IsAuthenticated: true, User: &user}
	case errors.Is(err, models.ErrAuth):
		slog.Warn("stored session rejected, signing out", "error", err)
		s.deleteTokenLocked()
		s.state = State{Error: err}
	default:
		s.state.IsLoading = false
		s.state.Error = err
	}
	st, fn = s.state.clone(), s.onChange
	s.mu.Unlock()

	notify(fn, st)
	return st, err
}

// Logout resets the session immediately and forgets the stored token.
func (s *Store) Logout() State {
	return s.mutate(func(st *State) {
		s.gen++
		s.deleteTokenLocked()
		*st = State{}
	})
}

func (s *Store) ClearError() State {
	return s.mutate(func(st *State) {
		st.Error = nil
	})
}

func (s *Store) begin() uint64 {
	s.mu.Lock()
	gen := s.beginLocked()
	st, fn := s.state.clone(), s.onChange
	s.mu.Unlock()

	notify(fn, st)
	return gen
}

func (s *Store) beginLocked() uint64 {
	s.gen++
	s.state.IsLoading = true
	s.state.Error = nil
	return s.gen
}

// reject records a locally rejected form. The current identity is kept and
// an operation in flight keeps its loading state.
func (s *Store) reject(err error) (State, error) {
	st := s.mutate(func(st *State) {
		if !st.IsLoading {
			st.Error = err
		}
	})
	return st, err
}

func (s *Store) finishAuth(gen uint64, resp remote.AuthResponse, err error) (State, error) {
	if err == nil && resp.User.ID == "" {
		err = fmt.Errorf("%w: response carries no user", models.ErrAuth)
	}

	s.mu.Lock()
	if gen != s.gen {
		st := s.state.clone()
		s.mu.Unlock()
		return st, ErrSuperseded
	}

	if err != nil {
		// A failed sign-in leaves no identity behind, in memory or on disk.
		s.deleteTokenLocked()
		s.state = State{Error: err}
	} else {
		if resp.Token != "" {
			if serr := s.tokens.SaveToken(resp.User.ID, resp.Token); serr != nil {
				slog.Error("failed to persist token", "user_id", resp.User.ID, "error", serr)
			}
		}
		user := resp.User
		s.state = State{IsAuthenticated: true, User: &user}
	}
	st, fn := s.state.clone(), s.onChange
	s.mu.Unlock()

	notify(fn, st)
	return st, err
}

func (s *Store) mutate(fn func(st *State)) State {
	s.mu.Lock()
	fn(&s.state)
	st, cb := s.state.clone(), s.onChange
	s.mu.Unlock()

	notify(cb, st)
	return st
}

func (s *Store) deleteTokenLocked() {
	if err := s.tokens.DeleteToken(); err != nil {
		slog.Error("failed to delete token", "error", err)
	}
}

func notify(fn func(State), st State) {
	if fn != nil {
		fn(st)
	}
}
