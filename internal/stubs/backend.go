package stubs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"conserv/internal/chat"
	"conserv/internal/models"
	"conserv/internal/remote"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
)

type account struct {
	user     models.User
	password string
}

type chatRoom struct {
	session  models.ChatSession
	messages []models.ChatMessage
}

type Options struct {
	// Latency is added to every call.
	Latency time.Duration
	// ReplyDelay is how long the assistant takes to answer a posted message.
	// Zero disables assistant replies.
	ReplyDelay time.Duration
	TokenTTL   time.Duration
}

// Backend is an in-memory implementation of the marketplace API.
type Backend struct {
	opts   Options
	tokens remote.TokenSource

	accounts   *geche.Locker[string, *account]
	liveTokens geche.Geche[string, string]

	mu     sync.Mutex
	orders []models.Order
	rooms  map[string]*chatRoom
	now    func() time.Time
}

var _ remote.Client = (*Backend)(nil)

// NewBackend seeds a backend with the demo users and orders.
// tokens supplies the credential of the caller, as the HTTP transport would.
func NewBackend(ctx context.Context, tokens remote.TokenSource, opts Options) *Backend {
	if opts.TokenTTL == 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	b := &Backend{
		opts:       opts,
		tokens:     tokens,
		accounts:   geche.NewLocker[string, *account](geche.NewMapCache[string, *account]()),
		liveTokens: geche.NewMapTTLCache[string, string](ctx, opts.TokenTTL, time.Minute),
		rooms:      make(map[string]*chatRoom),
		now:        time.Now,
	}

	tx := b.accounts.Lock()
	for _, u := range Users {
		tx.Set(strings.ToLower(u.Email), &account{user: u, password: DemoPassword})
	}
	tx.Unlock()

	b.orders = Orders(b.now())
	return b
}

func (b *Backend) Login(ctx context.Context, req remote.LoginRequest) (remote.AuthResponse, error) {
	if err := b.wait(ctx); err != nil {
		return remote.AuthResponse{}, err
	}

	tx := b.accounts.RLock()
	acc, err := tx.Get(strings.ToLower(req.Email))
	tx.Unlock()
	if err != nil || acc.password != req.Password {
		return remote.AuthResponse{}, fmt.Errorf("%w: invalid email or password", models.ErrAuth)
	}

	return b.issue(acc.user), nil
}

func (b *Backend) Register(ctx context.Context, req remote.RegisterRequest) (remote.AuthResponse, error) {
	if err := b.wait(ctx); err != nil {
		return remote.AuthResponse{}, err
	}

	key := strings.ToLower(req.Email)
	tx := b.accounts.Lock()
	if _, err := tx.Get(key); err == nil {
		tx.Unlock()
		return remote.AuthResponse{}, fmt.Errorf("%w: user already exists", models.ErrAuth)
	}
	user := models.User{
		ID:      uuid.NewString(),
		Name:    req.Name,
		Email:   req.Email,
		Role:    models.RoleClient,
		Phone:   req.Phone,
		Address: req.Address,
	}
	tx.Set(key, &account{user: user, password: req.Password})
	tx.Unlock()

	return b.issue(user), nil
}

func (b *Backend) Profile(ctx context.Context) (models.User, error) {
	if err := b.wait(ctx); err != nil {
		return models.User{}, err
	}
	return b.caller()
}

func (b *Backend) ListOrders(ctx context.Context, q models.Query) (models.Page[models.Order], error) {
	if err := b.wait(ctx); err != nil {
		return models.Page[models.Order]{}, err
	}
	if _, err := b.caller(); err != nil {
		return models.Page[models.Order]{}, err
	}
	if err := q.Validate(); err != nil {
		return models.Page[models.Order]{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var matched []models.Order
	for _, o := range b.orders {
		if matches(o, q.Filters) {
			matched = append(matched, o)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	from := (q.Page - 1) * q.Limit
	if from > total {
		from = total
	}
	to := from + q.Limit
	if to > total {
		to = total
	}

	return models.Page[models.Order]{
		Items:      append([]models.Order(nil), matched[from:to]...),
		Page:       q.Page,
		Limit:      q.Limit,
		Total:      total,
		TotalPages: (total + q.Limit - 1) / q.Limit,
	}, nil
}

func (b *Backend) PatchOrder(ctx context.Context, id string, patch models.OrderPatch) (models.Order, error) {
	if err := b.wait(ctx); err != nil {
		return models.Order{}, err
	}
	if _, err := b.caller(); err != nil {
		return models.Order{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for i, o := range b.orders {
		if o.ID != id {
			continue
		}
		updated, err := patch.Apply(o)
		if err != nil {
			return models.Order{}, fmt.Errorf("%w: %v", models.ErrConflict, err)
		}
		b.orders[i] = updated
		return updated, nil
	}
	return models.Order{}, fmt.Errorf("%w: order %s", models.ErrNotFound, id)
}

func (b *Backend) ListChatSessions(ctx context.Context) ([]models.ChatSession, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	user, err := b.caller()
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []models.ChatSession
	for _, room := range b.rooms {
		for _, p := range room.session.Participants {
			if p.ID == user.ID {
				out = append(out, cloneSession(room.session))
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (b *Backend) ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	if _, err := b.caller(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	room, ok := b.rooms[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: chat session %s", models.ErrNotFound, sessionID)
	}
	return append([]models.ChatMessage(nil), room.messages...), nil
}

// PostMessage stores a message. Posting to an unknown session id opens a new durable session.
func (b *Backend) PostMessage(ctx context.Context, sessionID, text string) (models.ChatMessage, error) {
	if err := b.wait(ctx); err != nil {
		return models.ChatMessage{}, err
	}
	user, err := b.caller()
	if err != nil {
		return models.ChatMessage{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	room, ok := b.rooms[sessionID]
	if !ok {
		room = &chatRoom{session: models.ChatSession{
			ID:           "chat-" + uuid.NewString(),
			Participants: []models.User{user},
		}}
		b.rooms[room.session.ID] = room
	}

	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		SessionID: room.session.ID,
		SenderID:  user.ID,
		Content:   text,
		CreatedAt: b.now(),
	}
	b.appendLocked(room, msg)

	if b.opts.ReplyDelay > 0 {
		time.AfterFunc(b.opts.ReplyDelay, func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.appendLocked(room, models.ChatMessage{
				ID:        uuid.NewString(),
				SessionID: room.session.ID,
				SenderID:  chat.AssistantID,
				Content:   chat.AssistantReply(text),
				IsFromAI:  true,
				CreatedAt: b.now(),
			})
		})
	}

	return msg, nil
}

func (b *Backend) appendLocked(room *chatRoom, msg models.ChatMessage) {
	room.messages = append(room.messages, msg)
	last := msg
	room.session.LastMessage = &last
}

func (b *Backend) issue(user models.User) remote.AuthResponse {
	token := uuid.NewString()
	b.liveTokens.Set(token, strings.ToLower(user.Email))
	return remote.AuthResponse{User: user, Token: token}
}

func (b *Backend) caller() (models.User, error) {
	if b.tokens == nil {
		return models.User{}, fmt.Errorf("%w: no credentials", models.ErrAuth)
	}
	token, err := b.tokens.Token()
	if err != nil || token == "" {
		return models.User{}, fmt.Errorf("%w: no credentials", models.ErrAuth)
	}
	email, err := b.liveTokens.Get(token)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: token expired", models.ErrAuth)
	}

	tx := b.accounts.RLock()
	defer tx.Unlock()
	acc, err := tx.Get(email)
	if err != nil {
		return models.User{}, fmt.Errorf("%w: unknown user", models.ErrAuth)
	}
	return acc.user, nil
}

func (b *Backend) wait(ctx context.Context) error {
	if b.opts.Latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(b.opts.Latency)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func matches(o models.Order, f models.Filters) bool {
	if v := f[models.FilterStatus]; v != "" && string(o.Status) != v {
		return false
	}
	if v := f[models.FilterUrgency]; v != "" && string(o.Urgency) != v {
		return false
	}
	if v := f[models.FilterCategory]; v != "" && o.Category != v {
		return false
	}
	if v := strings.ToLower(f[models.FilterSearch]); v != "" {
		if !strings.Contains(strings.ToLower(o.Title), v) && !strings.Contains(strings.ToLower(o.Description), v) {
			return false
		}
	}
	return true
}

func cloneSession(s models.ChatSession) models.ChatSession {
	s.Participants = append([]models.User(nil), s.Participants...)
	if s.LastMessage != nil {
		m := *s.LastMessage
		s.LastMessage = &m
	}
	return s
}
