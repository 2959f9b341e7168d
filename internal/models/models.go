package models

import "time"

type Role string

const (
	RoleClient     Role = "CLIENT"
	RoleContractor Role = "CONTRACTOR"
	RoleManager    Role = "MANAGER"
	RoleAdmin      Role = "ADMIN"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleContractor, RoleManager, RoleAdmin:
		return true
	}
	return false
}

// User represents a marketplace account as returned by the remote API.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Role    Role   `json:"role"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
	Avatar  string `json:"avatar,omitempty"`
}

// Pagination describes one page of a server-side collection.
// Total and TotalPages are authoritative only when copied from a server response.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Page is a single page of items in server order.
type Page[T any] struct {
	Items      []T `json:"items"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

func (p Page[T]) Pagination() Pagination {
	return Pagination{
		Page:       p.Page,
		Limit:      p.Limit,
		Total:      p.Total,
		TotalPages: p.TotalPages,
	}
}

// ChatSession represents a conversation.
type ChatSession struct {
	ID           string       `json:"id"`
	Participants []User       `json:"participants"`
	LastMessage  *ChatMessage `json:"lastMessage,omitempty"`
	// Ephemeral sessions were created locally and have not been acknowledged by the server yet.
	Ephemeral bool `json:"ephemeral,omitempty"`
	Unread    int  `json:"unread,omitempty"`
}

// ChatMessage represents a single message in a chat session.
type ChatMessage struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	SenderID  string    `json:"senderId"`
	Content   string    `json:"content"`
	IsFromAI  bool      `json:"isFromAI"`
	CreatedAt time.Time `json:"createdAt"`
	// Failed is set locally when the server never acknowledged the message.
	Failed bool `json:"failed,omitempty"`
}
