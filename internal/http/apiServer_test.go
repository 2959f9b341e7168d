package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"conserv/internal/api"
	"conserv/internal/chat"
	"conserv/internal/guard"
	"conserv/internal/orders"
	"conserv/internal/session"
	"conserv/internal/stubs"
	"conserv/internal/ws"
)

type noToken struct{}

func (noToken) SaveToken(userID, token string) error { return nil }

func (noToken) Token() (string, error) { return "", nil }

func (noToken) DeleteToken() error { return nil }

func TestBridgeRoutes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := stubs.NewBackend(ctx, noToken{}, stubs.Options{})
	store := session.NewStore(backend, noToken{})
	engine := chat.NewEngine(ctx, chat.Config{Remote: backend})
	hub := ws.NewHub(engine)
	handlers := api.New(store, orders.New(backend, guard.Gate(store, "")), engine, 10)

	srv := httptest.NewServer(NewBridgeServer(handlers, ws.NewServer(hub, store), "").Handler())
	defer srv.Close()

	tests := []struct {
		name   string
		method string
		path   string
		want   int
	}{
		{"Session", http.MethodGet, "/api/session", http.StatusOK},
		{"Access", http.MethodGet, "/api/access?path=/login", http.StatusOK},
		{"Orders need login", http.MethodGet, "/api/orders", http.StatusUnauthorized},
		{"Chat needs login", http.MethodGet, "/api/chat/sessions", http.StatusUnauthorized},
		{"Events need login", http.MethodGet, "/api/events", http.StatusUnauthorized},
		{"Wrong method", http.MethodGet, "/api/login", http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(tt.method, srv.URL+tt.path, nil)
			if err != nil {
				t.Fatal(err)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			_ = resp.Body.Close()
			if resp.StatusCode != tt.want {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, resp.StatusCode, tt.want)
			}
		})
	}
}
