package http

import (
	"context"
	"log"
	"net/http"
	"sync"

	"conserv/internal/api"
	"conserv/internal/ws"
)

// BridgeServer exposes the dashboard core to a local UI.
type BridgeServer struct {
	server *http.Server
	wg     sync.WaitGroup
}

func NewBridgeServer(apiHandlers *api.API, events *ws.Server, addr string) *BridgeServer {
	mux := http.NewServeMux()

	// Session
	mux.HandleFunc("POST /api/login", api.RequireSameOrigin(apiHandlers.LoginHandler))
	mux.HandleFunc("POST /api/register", api.RequireSameOrigin(apiHandlers.RegisterHandler))
	mux.HandleFunc("POST /api/logout", api.RequireSameOrigin(apiHandlers.LogoutHandler))
	mux.HandleFunc("GET /api/session", apiHandlers.SessionHandler)
	mux.HandleFunc("GET /api/access", apiHandlers.AccessHandler)

	// Orders are gated inside the cache
	mux.HandleFunc("GET /api/orders", apiHandlers.OrdersHandler)
	mux.HandleFunc("PUT /api/orders/filters", api.RequireSameOrigin(apiHandlers.SetFiltersHandler))
	mux.HandleFunc("PATCH /api/orders/{id}", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.PatchOrderHandler)))

	// Chat
	mux.HandleFunc("GET /api/chat/sessions", apiHandlers.RequireAuth(apiHandlers.ChatSessionsHandler))
	mux.HandleFunc("POST /api/chat/sessions", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.CreateChatSessionHandler)))
	mux.HandleFunc("POST /api/chat/sessions/{id}/select", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.SelectChatSessionHandler)))
	mux.HandleFunc("GET /api/chat/sessions/{id}/messages", apiHandlers.RequireAuth(apiHandlers.MessagesHandler))
	mux.HandleFunc("POST /api/chat/sessions/{id}/messages", api.RequireSameOrigin(apiHandlers.RequireAuth(apiHandlers.SendMessageHandler)))

	// WebSocket endpoint
	mux.HandleFunc("/api/events", events.HandleConnections)

	if addr == "" {
		addr = "127.0.0.1:8080"
	}

	return &BridgeServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Handler returns the routing handler, for serving it from tests.
func (s *BridgeServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *BridgeServer) Start() error {
	log.Printf("Bridge started on %s", s.server.Addr)
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *BridgeServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
