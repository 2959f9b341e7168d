package ws

import (
	"log"
	"net/http"

	"conserv/internal/guard"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

type Server struct {
	hub      *Hub
	session  guard.StateSource
	upgrader *websocket.Upgrader
}

func NewServer(hub *Hub, session guard.StateSource) *Server {
	return &Server{
		hub:     hub,
		session: session,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // The bridge listens on a local address only.
			},
		},
	}
}

// HandleConnections upgrades an authenticated request and serves it until either side closes.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if !s.session.Snapshot().IsAuthenticated {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	clientID := uuid.NewString()
	c := NewConnection(s.hub, conn, clientID)
	// New clients start from the current session.
	s.hub.sendTo(clientID, ServerMessage{Type: ServerMessageTypeSession, Payload: s.session.Snapshot()})
	if err := c.Handle(r.Context()); err != nil {
		log.Printf("websocket client %s disconnected: %v", clientID, err)
	}
}
