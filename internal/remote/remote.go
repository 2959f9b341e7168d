package remote

import (
	"context"

	"conserv/internal/models"
)

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the wire form of a registration. It never carries the password confirmation.
type RegisterRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Phone    string `json:"phone,omitempty"`
	Address  string `json:"address,omitempty"`
}

type AuthResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

type AuthAPI interface {
	Login(ctx context.Context, req LoginRequest) (AuthResponse, error)
	Register(ctx context.Context, req RegisterRequest) (AuthResponse, error)
	Profile(ctx context.Context) (models.User, error)
}

type OrdersAPI interface {
	ListOrders(ctx context.Context, q models.Query) (models.Page[models.Order], error)
	PatchOrder(ctx context.Context, id string, patch models.OrderPatch) (models.Order, error)
}

type ChatAPI interface {
	ListChatSessions(ctx context.Context) ([]models.ChatSession, error)
	ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
	PostMessage(ctx context.Context, sessionID, content string) (models.ChatMessage, error)
}

// Client is the full remote service contract.
type Client interface {
	AuthAPI
	OrdersAPI
	ChatAPI
}

// TokenSource supplies the credential attached to authenticated requests.
type TokenSource interface {
	Token() (string, error)
}
