package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"conserv/internal/chat"
	"conserv/internal/models"
	"conserv/internal/orders"
	"conserv/internal/session"
)

const clientBuffer = 100

// ChatEngine is the part of the chat engine driven by socket intents.
type ChatEngine interface {
	SendMessage(sessionID, content string) error
	SelectSession(ctx context.Context, id string) error
	CreateSession(participants []models.User) models.ChatSession
}

// Hub fans state changes out to every connected client and routes client intents to the chat engine.
type Hub struct {
	engine ChatEngine

	// Map of connection id -> outgoing channel
	clients map[string]chan ServerMessage

	mu sync.RWMutex
}

func NewHub(engine ChatEngine) *Hub {
	return &Hub{
		engine:  engine,
		clients: make(map[string]chan ServerMessage),
	}
}

func (h *Hub) Join(clientID string) chan ServerMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[clientID]; ok {
		return nil
	}
	ch := make(chan ServerMessage, clientBuffer)
	h.clients[clientID] = ch
	return ch
}

func (h *Hub) Leave(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if ch, ok := h.clients[clientID]; ok {
		close(ch)
		delete(h.clients, clientID)
	}
}

// Dispatch applies one client intent. Failures are reported back to that client only.
func (h *Hub) Dispatch(ctx context.Context, clientID string, msg ClientMessage) {
	var err error
	switch msg.Type {
	case ClientMessageTypeSend:
		err = h.engine.SendMessage(msg.SessionID, msg.Content)
	case ClientMessageTypeSelect:
		err = h.engine.SelectSession(ctx, msg.SessionID)
		if errors.Is(err, chat.ErrSuperseded) {
			err = nil
		}
	case ClientMessageTypeCreate:
		s := h.engine.CreateSession(nil)
		err = h.engine.SelectSession(ctx, s.ID)
	default:
		err = fmt.Errorf("%w: unknown message type %q", models.ErrInvalidInput, msg.Type)
	}

	if err != nil {
		slog.Debug("client intent failed", "client", clientID, "type", msg.Type, "error", err)
		h.sendTo(clientID, ServerMessage{Type: ServerMessageTypeError, Error: models.Describe(err)})
	}
}

func (h *Hub) PublishSession(state session.State) {
	h.Broadcast(ServerMessage{Type: ServerMessageTypeSession, Payload: state})
}

func (h *Hub) PublishOrders(col orders.Collection) {
	h.Broadcast(ServerMessage{Type: ServerMessageTypeOrders, Payload: col})
}

func (h *Hub) PublishChat(ev chat.Event) {
	h.Broadcast(ServerMessage{Type: ServerMessageTypeChat, Chat: &ev})
}

func (h *Hub) Broadcast(msg ServerMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, ch := range h.clients {
		deliver(id, ch, msg)
	}
}

func (h *Hub) sendTo(clientID string, msg ServerMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if ch, ok := h.clients[clientID]; ok {
		deliver(clientID, ch, msg)
	}
}

func deliver(clientID string, ch chan ServerMessage, msg ServerMessage) {
	select {
	case ch <- msg:
	default:
		slog.Warn("dropping message for slow client", "client", clientID, "type", msg.Type)
	}
}
