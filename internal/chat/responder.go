package chat

import (
	"context"
	"fmt"
	"time"

	"conserv/internal/models"
	"conserv/internal/remote"

	"github.com/google/uuid"
)

// AssistantID is the sender id of assistant messages.
const AssistantID = "ai-assistant"

// Responder produces the single reply to a user message.
// ctx is done when the engine stops waiting for the reply.
type Responder interface {
	Respond(ctx context.Context, trigger models.ChatMessage) (models.ChatMessage, error)
}

// ResponderFunc adapts a function to Responder.
type ResponderFunc func(ctx context.Context, trigger models.ChatMessage) (models.ChatMessage, error)

func (f ResponderFunc) Respond(ctx context.Context, trigger models.ChatMessage) (models.ChatMessage, error) {
	return f(ctx, trigger)
}

// AssistantReply is the templated answer of the demo assistant.
func AssistantReply(text string) string {
	return fmt.Sprintf("Thank you for your message: %q. I am the conserv-service assistant. How can I help?", text)
}

// SimulatedResponder answers every message with a templated reply after Delay.
type SimulatedResponder struct {
	Delay time.Duration
	Now   func() time.Time
}

func (r SimulatedResponder) Respond(ctx context.Context, trigger models.ChatMessage) (models.ChatMessage, error) {
	timer := time.NewTimer(r.Delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return models.ChatMessage{}, ctx.Err()
	}

	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	return models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: trigger.SessionID,
		SenderID:  AssistantID,
		Content:   AssistantReply(trigger.Content),
		IsFromAI:  true,
		CreatedAt: now(),
	}, nil
}

// RemoteResponder waits for the assistant reply to appear in the remote session history.
type RemoteResponder struct {
	API      remote.ChatAPI
	Interval time.Duration
}

func (r RemoteResponder) Respond(ctx context.Context, trigger models.ChatMessage) (models.ChatMessage, error) {
	interval := r.Interval
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		msgs, err := r.API.ListMessages(ctx, trigger.SessionID)
		if err != nil {
			return models.ChatMessage{}, err
		}
		if reply, ok := replyAfter(msgs, trigger.ID); ok {
			return reply, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return models.ChatMessage{}, ctx.Err()
		}
	}
}

func replyAfter(msgs []models.ChatMessage, triggerID string) (models.ChatMessage, bool) {
	seen := false
	for _, m := range msgs {
		if m.ID == triggerID {
			seen = true
			continue
		}
		if seen && m.IsFromAI {
			return m, true
		}
	}
	return models.ChatMessage{}, false
}
