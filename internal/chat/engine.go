// Package chat keeps the conversation sessions of the dashboard user: ordered message logs,
// serialized sends and the typing indicator around assistant replies.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"conserv/internal/content"
	"conserv/internal/models"
	"conserv/internal/remote"

	"github.com/c-pro/geche"
	"github.com/google/uuid"
)

// ErrSuperseded is returned when a newer selection or a reset overtook the call. Its result was discarded.
var ErrSuperseded = errors.New("chat operation superseded")

const (
	tempPrefix  = "tmp-"
	localPrefix = "local-"
)

type State string

const (
	StateIdle          State = "idle"
	StateSending       State = "sending"
	StateAwaitingReply State = "awaiting_reply"
)

type EventType string

const (
	EventMessage         EventType = "message"
	EventMessageUpdated  EventType = "message_updated"
	EventTyping          EventType = "typing"
	EventSessionPromoted EventType = "session_promoted"
	EventSessions        EventType = "sessions"
	EventHistory         EventType = "history"
)

// Event describes one visible change of the chat state.
type Event struct {
	Type       EventType           `json:"type"`
	SessionID  string              `json:"sessionId,omitempty"`
	PreviousID string              `json:"previousId,omitempty"`
	Message    *models.ChatMessage `json:"message,omitempty"`
	Typing     bool                `json:"typing,omitempty"`
	Unread     int                 `json:"unread,omitempty"`
}

type Config struct {
	Remote    remote.ChatAPI
	Responder Responder
	// TypingTimeout bounds the wait for one reply.
	TypingTimeout time.Duration
	// HistoryTTL is how long a loaded history counts as fresh.
	HistoryTTL time.Duration
	// MaxMessages caps every session log. Zero means unlimited.
	MaxMessages int
	Now         func() time.Time
	// SelfID returns the id of the current user.
	SelfID  func() string
	OnEvent func(Event)
}

type session struct {
	info    models.ChatSession
	created time.Time
	// log is ordered by createdAt, ties in arrival order.
	log     []models.ChatMessage
	ids     map[string]bool
	state   State
	typing  bool
	queue   []string
	running bool
	// done is closed when the current worker drains the queue.
	done chan struct{}
}

// Engine owns every chat session of one user.
type Engine struct {
	ctx     context.Context
	cfg     Config
	history geche.Geche[string, bool]

	mu       sync.Mutex
	sessions map[string]*session
	// aliases maps promoted temporary ids to their durable ids.
	aliases map[string]string
	active  string
	// selectGen counts selections; only the latest may apply its history.
	selectGen uint64
	epoch     uint64
}

// NewEngine creates an engine. ctx bounds background work and the history cache.
func NewEngine(ctx context.Context, cfg Config) *Engine {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.SelfID == nil {
		cfg.SelfID = func() string { return "me" }
	}
	if cfg.TypingTimeout <= 0 {
		cfg.TypingTimeout = 30 * time.Second
	}
	if cfg.HistoryTTL <= 0 {
		cfg.HistoryTTL = 5 * time.Minute
	}

	return &Engine{
		ctx:      ctx,
		cfg:      cfg,
		history:  geche.NewMapTTLCache[string, bool](ctx, cfg.HistoryTTL, time.Minute),
		sessions: make(map[string]*session),
		aliases:  make(map[string]string),
	}
}

// LoadSessions merges the remote session list into the local one.
func (e *Engine) LoadSessions(ctx context.Context) ([]models.ChatSession, error) {
	e.mu.Lock()
	epoch := e.epoch
	e.mu.Unlock()

	remoteSessions, err := e.cfg.Remote.ListChatSessions(ctx)
	if err != nil {
		return e.Sessions(), err
	}

	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return nil, ErrSuperseded
	}
	for _, rs := range remoteSessions {
		s, ok := e.sessions[rs.ID]
		if !ok {
			s = e.newSessionLocked(rs.ID, false)
		}
		s.info.Participants = append([]models.User(nil), rs.Participants...)
		if rs.LastMessage != nil && (s.info.LastMessage == nil || rs.LastMessage.CreatedAt.After(s.info.LastMessage.CreatedAt)) {
			m := *rs.LastMessage
			s.info.LastMessage = &m
		}
	}
	list := e.sessionsLocked()
	e.mu.Unlock()

	e.emit(Event{Type: EventSessions})
	return list, nil
}

// CreateSession allocates a session with a temporary id. Nothing is sent until the first message.
func (e *Engine) CreateSession(participants []models.User) models.ChatSession {
	e.mu.Lock()
	s := e.newSessionLocked(tempPrefix+uuid.NewString(), true)
	s.info.Participants = append([]models.User(nil), participants...)
	info := cloneSession(s.info)
	e.mu.Unlock()

	e.emit(Event{Type: EventSessions, SessionID: info.ID})
	return info
}

// SelectSession makes id the active session and loads its history unless it is cached.
// A selection overtaken by a newer one returns ErrSuperseded and applies nothing.
func (e *Engine) SelectSession(ctx context.Context, id string) error {
	e.mu.Lock()
	s := e.lookupLocked(id)
	if s == nil {
		e.mu.Unlock()
		return fmt.Errorf("%w: chat session %s", models.ErrNotFound, id)
	}
	id = s.info.ID
	e.active = id
	s.info.Unread = 0
	e.selectGen++
	gen, epoch := e.selectGen, e.epoch
	_, cacheErr := e.history.Get(id)
	fresh := s.info.Ephemeral || cacheErr == nil
	e.mu.Unlock()

	e.emit(Event{Type: EventSessions, SessionID: id})
	if fresh {
		return nil
	}

	msgs, err := e.cfg.Remote.ListMessages(ctx, id)

	e.mu.Lock()
	if gen != e.selectGen || epoch != e.epoch {
		e.mu.Unlock()
		slog.Debug("discarding superseded chat history", "session", id)
		return ErrSuperseded
	}
	if err != nil {
		e.mu.Unlock()
		slog.Warn("failed to load chat history", "session", id, "error", err)
		return err
	}
	for _, m := range msgs {
		m.SessionID = s.info.ID
		e.insertLocked(s, m)
	}
	e.refreshLastLocked(s)
	e.history.Set(s.info.ID, true)
	e.mu.Unlock()

	e.emit(Event{Type: EventHistory, SessionID: id})
	return nil
}

// SendMessage queues text for sessionID, or for the active session when sessionID is empty.
// Sends of one session are dispatched one at a time in call order.
func (e *Engine) SendMessage(sessionID, text string) error {
	if !content.ValidateMessage(text) {
		return fmt.Errorf("%w: message is empty", models.ErrInvalidInput)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.active == "" {
		return fmt.Errorf("%w: no active chat session", models.ErrInvalidInput)
	}
	if sessionID == "" {
		sessionID = e.active
	}
	s := e.lookupLocked(sessionID)
	if s == nil {
		return fmt.Errorf("%w: chat session %s", models.ErrNotFound, sessionID)
	}

	s.queue = append(s.queue, content.Sanitize(strings.TrimSpace(text)))
	if !s.running {
		s.running = true
		s.done = make(chan struct{})
		go e.work(s, e.epoch)
	}
	return nil
}

// ReceiveMessage adds a message pushed from outside a send, such as a late assistant reply.
// Messages already in the log are ignored.
func (e *Engine) ReceiveMessage(msg models.ChatMessage) error {
	if msg.ID == "" || msg.SessionID == "" {
		return fmt.Errorf("%w: message needs an id and a session", models.ErrInvalidInput)
	}

	e.mu.Lock()
	s := e.lookupLocked(msg.SessionID)
	if s == nil {
		s = e.newSessionLocked(msg.SessionID, false)
	}
	events := e.receiveLocked(s, msg)
	e.mu.Unlock()

	e.emit(events...)
	return nil
}

// WaitIdle blocks until every queued send of the session has completed.
func (e *Engine) WaitIdle(ctx context.Context, id string) error {
	for {
		e.mu.Lock()
		s := e.lookupLocked(id)
		if s == nil {
			e.mu.Unlock()
			return fmt.Errorf("%w: chat session %s", models.ErrNotFound, id)
		}
		if !s.running {
			e.mu.Unlock()
			return nil
		}
		done := s.done
		e.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) Sessions() []models.ChatSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionsLocked()
}

// Messages returns the ordered log of a session.
func (e *Engine) Messages(id string) ([]models.ChatMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.lookupLocked(id)
	if s == nil {
		return nil, fmt.Errorf("%w: chat session %s", models.ErrNotFound, id)
	}
	return append([]models.ChatMessage(nil), s.log...), nil
}

// Active returns the id of the active session, or "" when none is selected.
func (e *Engine) Active() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *Engine) Typing(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.lookupLocked(id); s != nil {
		return s.typing
	}
	return false
}

func (e *Engine) State(id string) State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s := e.lookupLocked(id); s != nil {
		return s.state
	}
	return StateIdle
}

// Reset forgets every session. Work in flight finishes without touching the new state.
func (e *Engine) Reset() {
	e.mu.Lock()
	e.epoch++
	e.selectGen++
	for id := range e.sessions {
		_ = e.history.Del(id)
	}
	e.sessions = make(map[string]*session)
	e.aliases = make(map[string]string)
	e.active = ""
	e.mu.Unlock()

	e.emit(Event{Type: EventSessions})
}

func (e *Engine) work(s *session, epoch uint64) {
	for {
		e.mu.Lock()
		if epoch != e.epoch || len(s.queue) == 0 {
			s.running = false
			s.state = StateIdle
			close(s.done)
			e.mu.Unlock()
			return
		}
		text := s.queue[0]
		s.queue = s.queue[1:]
		e.mu.Unlock()

		e.dispatch(s, epoch, text)
	}
}

// dispatch runs one send through Sending and AwaitingReply back to Idle.
func (e *Engine) dispatch(s *session, epoch uint64, text string) {
	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return
	}
	s.state = StateSending
	createdAt := e.cfg.Now()
	// A queued message never sorts before what the session already shows.
	if n := len(s.log); n > 0 && createdAt.Before(s.log[n-1].CreatedAt) {
		createdAt = s.log[n-1].CreatedAt
	}
	msg := models.ChatMessage{
		ID:        localPrefix + uuid.NewString(),
		SessionID: s.info.ID,
		SenderID:  e.cfg.SelfID(),
		Content:   text,
		CreatedAt: createdAt,
	}
	events := e.receiveLocked(s, msg)
	sessionID := s.info.ID
	e.mu.Unlock()
	e.emit(events...)

	ack, err := e.cfg.Remote.PostMessage(e.ctx, sessionID, text)

	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return
	}
	if err != nil {
		slog.Warn("failed to send chat message", "session", sessionID, "error", err)
		events = e.markFailedLocked(s, msg.ID)
		s.state = StateIdle
		e.mu.Unlock()
		e.emit(events...)
		return
	}

	events = e.promoteLocked(s, ack.SessionID)
	trigger, reconciled := e.reconcileLocked(s, msg.ID, ack.ID)
	events = append(events, reconciled...)
	s.state = StateAwaitingReply
	s.typing = true
	events = append(events, Event{Type: EventTyping, SessionID: s.info.ID, Typing: true})
	e.mu.Unlock()
	e.emit(events...)

	if e.cfg.Responder == nil {
		e.stopTyping(s, epoch)
		return
	}

	reply, err := e.respond(trigger)

	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return
	}
	s.typing = false
	s.state = StateIdle
	events = []Event{{Type: EventTyping, SessionID: s.info.ID}}
	if err != nil {
		slog.Warn("no reply to chat message", "session", s.info.ID, "error", err)
	} else {
		reply.SessionID = s.info.ID
		if reply.ID == "" {
			reply.ID = uuid.NewString()
		}
		// A reply never sorts before the message that triggered it.
		if reply.CreatedAt.Before(trigger.CreatedAt) {
			reply.CreatedAt = trigger.CreatedAt
		}
		events = append(events, e.receiveLocked(s, reply)...)
	}
	e.mu.Unlock()
	e.emit(events...)
}

type replyResult struct {
	msg models.ChatMessage
	err error
}

// respond waits for the responder at most TypingTimeout. A reply arriving
// after that is dropped.
func (e *Engine) respond(trigger models.ChatMessage) (models.ChatMessage, error) {
	ctx, cancel := context.WithTimeout(e.ctx, e.cfg.TypingTimeout)
	defer cancel()

	replies := make(chan replyResult, 1)
	go func() {
		msg, err := e.cfg.Responder.Respond(ctx, trigger)
		replies <- replyResult{msg, err}
	}()

	select {
	case res := <-replies:
		return res.msg, res.err
	case <-ctx.Done():
		return models.ChatMessage{}, ctx.Err()
	}
}

func (e *Engine) stopTyping(s *session, epoch uint64) {
	e.mu.Lock()
	if epoch != e.epoch {
		e.mu.Unlock()
		return
	}
	s.typing = false
	s.state = StateIdle
	id := s.info.ID
	e.mu.Unlock()

	e.emit(Event{Type: EventTyping, SessionID: id})
}

// promoteLocked moves a temporary session to the durable id assigned by the server.
func (e *Engine) promoteLocked(s *session, durableID string) []Event {
	if !s.info.Ephemeral || durableID == "" {
		return nil
	}
	old := s.info.ID
	s.info.Ephemeral = false
	if durableID == old {
		return nil
	}

	delete(e.sessions, old)
	s.info.ID = durableID
	e.sessions[durableID] = s
	e.aliases[old] = durableID
	if e.active == old {
		e.active = durableID
	}
	for i := range s.log {
		s.log[i].SessionID = durableID
	}
	if s.info.LastMessage != nil {
		s.info.LastMessage.SessionID = durableID
	}
	return []Event{{Type: EventSessionPromoted, SessionID: durableID, PreviousID: old}}
}

// reconcileLocked replaces the local id of a sent message with the server id.
func (e *Engine) reconcileLocked(s *session, localID, serverID string) (models.ChatMessage, []Event) {
	i := indexOf(s, localID)
	if i < 0 {
		return models.ChatMessage{}, nil
	}
	if serverID == "" || serverID == localID {
		return s.log[i], nil
	}

	delete(s.ids, localID)
	if s.ids[serverID] {
		// The server copy already arrived through another path.
		msg := s.log[i]
		msg.ID = serverID
		s.log = append(s.log[:i], s.log[i+1:]...)
		e.refreshLastLocked(s)
		return msg, []Event{{Type: EventMessageUpdated, SessionID: s.info.ID, PreviousID: localID, Message: &msg}}
	}

	s.ids[serverID] = true
	s.log[i].ID = serverID
	msg := s.log[i]
	e.refreshLastLocked(s)
	return msg, []Event{{Type: EventMessageUpdated, SessionID: s.info.ID, PreviousID: localID, Message: &msg}}
}

func (e *Engine) markFailedLocked(s *session, id string) []Event {
	i := indexOf(s, id)
	if i < 0 {
		return nil
	}
	s.log[i].Failed = true
	msg := s.log[i]
	e.refreshLastLocked(s)
	return []Event{{Type: EventMessageUpdated, SessionID: s.info.ID, Message: &msg}}
}

// receiveLocked inserts msg in (createdAt, arrival) order and counts it as unread
// when its session is not active.
func (e *Engine) receiveLocked(s *session, msg models.ChatMessage) []Event {
	msg.SessionID = s.info.ID
	if !e.insertLocked(s, msg) {
		return nil
	}
	e.refreshLastLocked(s)

	events := []Event{{Type: EventMessage, SessionID: s.info.ID, Message: &msg}}
	if s.info.ID != e.active {
		s.info.Unread++
		events = append(events, Event{Type: EventSessions, SessionID: s.info.ID, Unread: s.info.Unread})
	}
	return events
}

func (e *Engine) insertLocked(s *session, msg models.ChatMessage) bool {
	if s.ids[msg.ID] {
		return false
	}
	i := sort.Search(len(s.log), func(i int) bool {
		return s.log[i].CreatedAt.After(msg.CreatedAt)
	})
	s.log = append(s.log, models.ChatMessage{})
	copy(s.log[i+1:], s.log[i:])
	s.log[i] = msg
	s.ids[msg.ID] = true

	if limit := e.cfg.MaxMessages; limit > 0 && len(s.log) > limit {
		for _, old := range s.log[:len(s.log)-limit] {
			delete(s.ids, old.ID)
		}
		s.log = append([]models.ChatMessage(nil), s.log[len(s.log)-limit:]...)
	}
	return true
}

func (e *Engine) refreshLastLocked(s *session) {
	if len(s.log) == 0 {
		s.info.LastMessage = nil
		return
	}
	last := s.log[len(s.log)-1]
	s.info.LastMessage = &last
}

func (e *Engine) newSessionLocked(id string, ephemeral bool) *session {
	s := &session{
		info:    models.ChatSession{ID: id, Ephemeral: ephemeral},
		created: e.cfg.Now(),
		ids:     make(map[string]bool),
		state:   StateIdle,
	}
	e.sessions[id] = s
	return s
}

func (e *Engine) lookupLocked(id string) *session {
	if s, ok := e.sessions[id]; ok {
		return s
	}
	if durable, ok := e.aliases[id]; ok {
		return e.sessions[durable]
	}
	return nil
}

// sessionsLocked lists sessions, most recently active first.
func (e *Engine) sessionsLocked() []models.ChatSession {
	list := make([]*session, 0, len(e.sessions))
	for _, s := range e.sessions {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		ai, aj := activity(list[i]), activity(list[j])
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return list[i].info.ID < list[j].info.ID
	})

	out := make([]models.ChatSession, len(list))
	for i, s := range list {
		out[i] = cloneSession(s.info)
	}
	return out
}

func (e *Engine) emit(events ...Event) {
	if e.cfg.OnEvent == nil {
		return
	}
	for _, ev := range events {
		e.cfg.OnEvent(ev)
	}
}

func activity(s *session) time.Time {
	if s.info.LastMessage != nil && s.info.LastMessage.CreatedAt.After(s.created) {
		return s.info.LastMessage.CreatedAt
	}
	return s.created
}

func indexOf(s *session, id string) int {
	for i, m := range s.log {
		if m.ID == id {
			return i
		}
	}
	return -1
}

func cloneSession(s models.ChatSession) models.ChatSession {
	s.Participants = append([]models.User(nil), s.Participants...)
	if s.LastMessage != nil {
		m := *s.LastMessage
		s.LastMessage = &m
	}
	return s
}
