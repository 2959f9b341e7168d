package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"conserv/internal/chat"
	"conserv/internal/content"
	"conserv/internal/guard"
	"conserv/internal/models"
	"conserv/internal/orders"
	"conserv/internal/resource"
	"conserv/internal/session"
)

// API serves the local bridge the dashboard UI talks to.
type API struct {
	session   *session.Store
	orders    *orders.Cache
	chat      *chat.Engine
	pageLimit int
}

func New(s *session.Store, o *orders.Cache, c *chat.Engine, pageLimit int) *API {
	return &API{session: s, orders: o, chat: c, pageLimit: pageLimit}
}

type errorResponse struct {
	Error       *models.ErrorInfo `json:"error"`
	FieldErrors map[string]string `json:"fieldErrors,omitempty"`
	// State is the component snapshot after the failure, when there is one.
	State any `json:"state,omitempty"`
}

type accessResponse struct {
	Path     string         `json:"path"`
	Decision guard.Decision `json:"decision"`
	Routes   []guard.Route  `json:"routes"`
}

type messageView struct {
	models.ChatMessage
	HTML string `json:"html"`
}

type messagesResponse struct {
	SessionID string        `json:"sessionId"`
	Messages  []messageView `json:"messages"`
	Typing    bool          `json:"typing"`
	State     chat.State    `json:"state"`
}

func (a *API) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req session.Credentials

	// Support both JSON and Form
	if r.Header.Get("Content-Type") == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "Failed to parse form", http.StatusBadRequest)
			return
		}
		req.Email = r.FormValue("email")
		req.Password = r.FormValue("password")
	}

	state, err := a.session.Login(r.Context(), req)
	if err != nil {
		writeError(w, err, state)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *API) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req session.Registration
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	state, err := a.session.Register(r.Context(), req)
	if err != nil {
		writeError(w, err, state)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (a *API) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.session.Logout())
}

func (a *API) SessionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.session.Snapshot())
}

// AccessHandler reports the guard decision for ?path= and the routes the session may open.
func (a *API) AccessHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		path = "/"
	}
	state := a.session.Snapshot()
	routes := guard.AllowedRoutes(state)
	if routes == nil {
		routes = []guard.Route{}
	}
	writeJSON(w, http.StatusOK, accessResponse{
		Path:     path,
		Decision: guard.DecidePath(state, path),
		Routes:   routes,
	})
}

// OrdersHandler fetches one page. Without filter parameters the stored filters apply.
func (a *API) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()
	page, err := intParam(values.Get("page"), 1)
	if err != nil {
		http.Error(w, "Invalid page", http.StatusBadRequest)
		return
	}
	limit, err := intParam(values.Get("limit"), a.pageLimit)
	if err != nil {
		http.Error(w, "Invalid limit", http.StatusBadRequest)
		return
	}

	filters := models.FiltersFromQuery(values)
	if len(filters) == 0 {
		filters = a.orders.Snapshot().Filters
	}

	col, err := a.orders.Fetch(r.Context(), models.Query{Page: page, Limit: limit, Filters: filters})
	if err != nil && !errors.Is(err, resource.ErrSuperseded) {
		writeError(w, err, col)
		return
	}
	writeJSON(w, http.StatusOK, col)
}

func (a *API) SetFiltersHandler(w http.ResponseWriter, r *http.Request) {
	var filters models.Filters
	if err := json.NewDecoder(r.Body).Decode(&filters); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	col, err := a.orders.SetFilters(filters)
	if err != nil {
		writeError(w, err, col)
		return
	}
	writeJSON(w, http.StatusOK, col)
}

func (a *API) PatchOrderHandler(w http.ResponseWriter, r *http.Request) {
	var patch models.OrderPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	col, err := a.orders.Update(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		writeError(w, err, col)
		return
	}
	writeJSON(w, http.StatusOK, col)
}

func (a *API) ChatSessionsHandler(w http.ResponseWriter, r *http.Request) {
	sessions, err := a.chat.LoadSessions(r.Context())
	if err != nil {
		writeError(w, err, a.chat.Sessions())
		return
	}
	if sessions == nil {
		sessions = []models.ChatSession{}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *API) CreateChatSessionHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Participants []models.User `json:"participants"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
	}
	if len(req.Participants) == 0 {
		if u := a.session.Snapshot().User; u != nil {
			req.Participants = []models.User{*u}
		}
	}

	writeJSON(w, http.StatusCreated, a.chat.CreateSession(req.Participants))
}

func (a *API) SelectChatSessionHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.chat.SelectSession(r.Context(), id); err != nil {
		writeError(w, err, nil)
		return
	}
	a.writeMessages(w, a.chat.Active())
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	a.writeMessages(w, r.PathValue("id"))
}

// SendMessageHandler queues a message. Progress is reported on the event socket.
func (a *API) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Content string `json:"content"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := a.chat.SendMessage(r.PathValue("id"), req.Content); err != nil {
		writeError(w, err, nil)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (a *API) writeMessages(w http.ResponseWriter, id string) {
	msgs, err := a.chat.Messages(id)
	if err != nil {
		writeError(w, err, nil)
		return
	}

	views := make([]messageView, len(msgs))
	for i, m := range msgs {
		views[i] = messageView{ChatMessage: m, HTML: content.RenderMarkdown(m.Content)}
	}
	writeJSON(w, http.StatusOK, messagesResponse{
		SessionID: id,
		Messages:  views,
		Typing:    a.chat.Typing(id),
		State:     a.chat.State(id),
	})
}

func intParam(v string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, err error, state any) {
	resp := errorResponse{Error: models.Describe(err), State: state}
	var ve *session.ValidationError
	if errors.As(err, &ve) {
		resp.FieldErrors = ve.Fields
	}
	writeJSON(w, StatusFor(err), resp)
}

// StatusFor maps an error to the HTTP status the bridge answers with.
func StatusFor(err error) int {
	var ve *session.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest
	case errors.Is(err, guard.ErrPending):
		return http.StatusServiceUnavailable
	case errors.Is(err, resource.ErrSuperseded),
		errors.Is(err, session.ErrSuperseded),
		errors.Is(err, chat.ErrSuperseded):
		return http.StatusConflict
	}

	switch models.KindOf(err) {
	case models.KindAuth:
		return http.StatusUnauthorized
	case models.KindNetwork:
		return http.StatusBadGateway
	case models.KindConflict:
		return http.StatusConflict
	case models.KindInvalidInput:
		return http.StatusBadRequest
	case models.KindForbidden:
		return http.StatusForbidden
	case models.KindNotFound:
		return http.StatusNotFound
	case models.KindCanceled:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
