package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"conserv/internal/models"
)

type staticToken string

func (s staticToken) Token() (string, error) { return string(s), nil }

func TestHTTPClient_Login(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/auth/login" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad body: %v", err)
		}
		if req.Password != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(errorBody{Message: "Invalid credentials"})
			return
		}
		_ = json.NewEncoder(w).Encode(AuthResponse{
			User:  models.User{ID: "u1", Email: req.Email, Role: models.RoleClient},
			Token: "tok",
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", time.Second, nil)

	resp, err := c.Login(context.Background(), LoginRequest{Email: "a@b.co", Password: "secret"})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if resp.Token != "tok" || resp.User.ID != "u1" {
		t.Errorf("unexpected response: %+v", resp)
	}

	_, err = c.Login(context.Background(), LoginRequest{Email: "a@b.co", Password: "wrong"})
	if !errors.Is(err, models.ErrAuth) {
		t.Errorf("expected ErrAuth, got %v", err)
	}
}

func TestHTTPClient_Orders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			q := r.URL.Query()
			if q.Get("page") != "2" || q.Get("limit") != "5" || q.Get("status") != "PENDING" {
				t.Errorf("unexpected query: %s", r.URL.RawQuery)
			}
			_ = json.NewEncoder(w).Encode(models.Page[models.Order]{
				Items: []models.Order{{ID: "o6"}},
				Page:  2, Limit: 5, Total: 6, TotalPages: 2,
			})
		case http.MethodPatch:
			w.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(w).Encode(errorBody{Message: "order already completed"})
		}
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, staticToken("tok"))

	page, err := c.ListOrders(context.Background(), models.Query{
		Page: 2, Limit: 5, Filters: models.Filters{models.FilterStatus: "PENDING"},
	})
	if err != nil {
		t.Fatalf("ListOrders failed: %v", err)
	}
	if page.Total != 6 || len(page.Items) != 1 {
		t.Errorf("unexpected page: %+v", page)
	}

	_, err = c.PatchOrder(context.Background(), "o6", models.StatusPatch(models.OrderStatusCompleted))
	if !errors.Is(err, models.ErrConflict) {
		t.Errorf("expected ErrConflict, got %v", err)
	}
}

func TestHTTPClient_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusForbidden, models.ErrForbidden},
		{http.StatusNotFound, models.ErrNotFound},
		{http.StatusBadRequest, models.ErrInvalidInput},
		{http.StatusBadGateway, models.ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL, time.Second, nil)
			_, err := c.ListChatSessions(context.Background())
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestHTTPClient_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	c := NewHTTPClient(srv.URL, time.Second, nil)
	_, err := c.Profile(context.Background())
	if !errors.Is(err, models.ErrNetwork) {
		t.Errorf("expected ErrNetwork, got %v", err)
	}
}
