package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"conserv/internal/models"

	"github.com/stretchr/testify/require"
)

type historyAPI struct {
	fakeChat
	mu   sync.Mutex
	msgs []models.ChatMessage
}

func (h *historyAPI) ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.ChatMessage(nil), h.msgs...), nil
}

func (h *historyAPI) add(m models.ChatMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, m)
}

func TestSimulatedResponder(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	r := SimulatedResponder{Delay: time.Millisecond, Now: func() time.Time { return now }}

	reply, err := r.Respond(context.Background(), models.ChatMessage{SessionID: "s1", Content: "hi"})
	require.NoError(t, err)
	require.Equal(t, "s1", reply.SessionID)
	require.Equal(t, AssistantID, reply.SenderID)
	require.True(t, reply.IsFromAI)
	require.Equal(t, AssistantReply("hi"), reply.Content)
	require.Equal(t, now, reply.CreatedAt)
	require.NotEmpty(t, reply.ID)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = SimulatedResponder{Delay: time.Hour}.Respond(ctx, models.ChatMessage{})
	require.ErrorIs(t, err, context.Canceled)
}

func TestRemoteResponderWaitsForReplyAfterTrigger(t *testing.T) {
	api := &historyAPI{}
	api.add(models.ChatMessage{ID: "old-reply", IsFromAI: true})
	api.add(models.ChatMessage{ID: "trigger"})

	go func() {
		time.Sleep(10 * time.Millisecond)
		api.add(models.ChatMessage{ID: "reply", IsFromAI: true})
	}()

	r := RemoteResponder{API: api, Interval: 2 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := r.Respond(ctx, models.ChatMessage{ID: "trigger", SessionID: "s1"})
	require.NoError(t, err)
	require.Equal(t, "reply", reply.ID)
}

func TestRemoteResponderGivesUp(t *testing.T) {
	api := &historyAPI{}
	api.add(models.ChatMessage{ID: "trigger"})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := RemoteResponder{API: api, Interval: 2 * time.Millisecond}.Respond(ctx, models.ChatMessage{ID: "trigger"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
