package ws

import (
	"conserv/internal/chat"
	"conserv/internal/models"
)

type ClientMessageType string

const (
	ClientMessageTypeSend   ClientMessageType = "send"
	ClientMessageTypeSelect ClientMessageType = "select"
	ClientMessageTypeCreate ClientMessageType = "create"
)

// ClientMessage is a chat intent sent by the UI.
type ClientMessage struct {
	Type      ClientMessageType `json:"type"`
	SessionID string            `json:"sessionId,omitempty"`
	Content   string            `json:"content,omitempty"`
}

type ServerMessageType string

const (
	ServerMessageTypeSession ServerMessageType = "session"
	ServerMessageTypeOrders  ServerMessageType = "orders"
	ServerMessageTypeChat    ServerMessageType = "chat"
	ServerMessageTypeError   ServerMessageType = "error"
)

// ServerMessage is pushed to every connected UI.
type ServerMessage struct {
	Type ServerMessageType `json:"type"`
	// Payload is a session state or an orders collection, depending on Type.
	Payload any               `json:"payload,omitempty"`
	Chat    *chat.Event       `json:"chat,omitempty"`
	Error   *models.ErrorInfo `json:"error,omitempty"`
}
