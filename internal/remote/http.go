package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"conserv/internal/models"
)

// HTTPClient talks to the marketplace REST API.
type HTTPClient struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

func NewHTTPClient(baseURL string, timeout time.Duration, tokens TokenSource) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		tokens:  tokens,
	}
}

type errorBody struct {
	Message string `json:"message"`
}

func (c *HTTPClient) Login(ctx context.Context, req LoginRequest) (AuthResponse, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", nil, req, &resp, true)
	return resp, err
}

func (c *HTTPClient) Register(ctx context.Context, req RegisterRequest) (AuthResponse, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, "/auth/register", nil, req, &resp, true)
	return resp, err
}

func (c *HTTPClient) Profile(ctx context.Context) (models.User, error) {
	var user models.User
	err := c.do(ctx, http.MethodGet, "/auth/profile", nil, nil, &user, true)
	return user, err
}

func (c *HTTPClient) ListOrders(ctx context.Context, q models.Query) (models.Page[models.Order], error) {
	var page models.Page[models.Order]
	err := c.do(ctx, http.MethodGet, "/orders", q.Values(), nil, &page, false)
	return page, err
}

func (c *HTTPClient) PatchOrder(ctx context.Context, id string, patch models.OrderPatch) (models.Order, error) {
	var order models.Order
	err := c.do(ctx, http.MethodPatch, "/orders/"+url.PathEscape(id), nil, patch, &order, false)
	return order, err
}

func (c *HTTPClient) ListChatSessions(ctx context.Context) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	err := c.do(ctx, http.MethodGet, "/chat/sessions", nil, nil, &sessions, false)
	return sessions, err
}

func (c *HTTPClient) ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	var messages []models.ChatMessage
	err := c.do(ctx, http.MethodGet, "/chat/sessions/"+url.PathEscape(sessionID)+"/messages", nil, nil, &messages, false)
	return messages, err
}

func (c *HTTPClient) PostMessage(ctx context.Context, sessionID, content string) (models.ChatMessage, error) {
	var msg models.ChatMessage
	body := struct {
		Content string `json:"content"`
	}{Content: content}
	err := c.do(ctx, http.MethodPost, "/chat/sessions/"+url.PathEscape(sessionID)+"/messages", nil, body, &msg, false)
	return msg, err
}

// do performs one request. authEndpoint makes client errors map to models.ErrAuth.
func (c *HTTPClient) do(ctx context.Context, method, path string, query url.Values, body, out any, authEndpoint bool) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		token, err := c.tokens.Token()
		if err != nil {
			return fmt.Errorf("failed to read token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s %s: %v", models.ErrNetwork, method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(method, path, resp, authEndpoint)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: failed to decode %s %s response: %v", models.ErrNetwork, method, path, err)
	}
	return nil
}

func statusError(method, path string, resp *http.Response, authEndpoint bool) error {
	msg := http.StatusText(resp.StatusCode)
	var eb errorBody
	if data, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil && len(data) > 0 {
		if json.Unmarshal(data, &eb) == nil && eb.Message != "" {
			msg = eb.Message
		}
	}

	var kind error
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		kind = models.ErrAuth
	case resp.StatusCode == http.StatusForbidden:
		kind = models.ErrForbidden
	case resp.StatusCode == http.StatusNotFound:
		kind = models.ErrNotFound
	case resp.StatusCode == http.StatusConflict, resp.StatusCode == http.StatusPreconditionFailed:
		kind = models.ErrConflict
	case resp.StatusCode < 500 && authEndpoint:
		kind = models.ErrAuth
	case resp.StatusCode < 500:
		kind = models.ErrInvalidInput
	default:
		kind = models.ErrNetwork
	}

	return fmt.Errorf("%w: %s %s: %d %s", kind, method, path, resp.StatusCode, msg)
}
