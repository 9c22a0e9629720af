// Package remote implements backend.Backend against a linksync relay over
// HTTP and WebSocket.
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
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tOgg1/linksync/internal/backend"
	"github.com/tOgg1/linksync/internal/localstore"
	"github.com/tOgg1/linksync/internal/logging"
	"github.com/tOgg1/linksync/internal/models"
)

const defaultReconnectDelay = 2 * time.Second

// APIError is a non-2xx relay response.
type APIError struct {
	Status  int
	Code    string
	Message string
	// Fields carries per-field failures of a rejected message or credential.
	Fields []models.ValidationError
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("relay returned %d", e.Status)
	}
	return fmt.Sprintf("relay returned %d (%s): %s", e.Status, e.Code, e.Message)
}

// Unwrap maps relay error codes onto backend sentinels. Field failures
// unwrap to *models.ValidationErrors.
func (e *APIError) Unwrap() []error {
	var out []error
	switch e.Code {
	case "session_rejected":
		out = append(out, backend.ErrSessionRejected)
	case "invalid_credentials":
		out = append(out, backend.ErrInvalidCredentials)
	case "account_exists":
		out = append(out, backend.ErrAccountExists)
	case "invalid_request", "forbidden":
		out = append(out, backend.ErrInvalidRequest)
	case "unauthorized", "token_expired":
		out = append(out, backend.ErrNotAuthenticated)
	}
	if len(e.Fields) > 0 {
		out = append(out, &models.ValidationErrors{Errors: e.Fields})
	}
	return out
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithStore remembers the active session in store.
func WithStore(store localstore.Store) Option {
	return func(c *Client) { c.file = backend.SessionFile{Store: store} }
}

// WithReconnectDelay sets the pause between stream reconnect attempts.
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Client) { c.reconnectDelay = d }
}

// Client is a relay client.
type Client struct {
	baseURL        *url.URL
	http           *http.Client
	dialer         *websocket.Dialer
	file           backend.SessionFile
	reconnectDelay time.Duration
	listeners      backend.Listeners
	logger         zerolog.Logger

	mu     sync.Mutex
	active *models.Session
}

var _ backend.Backend = (*Client)(nil)

// New creates a client for the relay at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(strings.TrimSpace(baseURL), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url must be http or https: %q", baseURL)
	}
	c := &Client{
		baseURL:        u,
		http:           &http.Client{Timeout: 15 * time.Second},
		dialer:         websocket.DefaultDialer,
		reconnectDelay: defaultReconnectDelay,
		logger:         logging.Component("backend.remote"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type sessionEnvelope struct {
	Session models.Session `json:"session"`
}

type messagesEnvelope struct {
	Messages []models.Message `json:"messages"`
}

type errorEnvelope struct {
	Error struct {
		Code    string                   `json:"code"`
		Message string                   `json:"message"`
		Fields  []models.ValidationError `json:"fields"`
	} `json:"error"`
}

// SignIn implements backend.Backend.
func (c *Client) SignIn(ctx context.Context, creds models.Credentials) (*models.Session, error) {
	return c.authenticate(ctx, "/v1/auth/signin", creds)
}

// SignUp implements backend.Backend.
func (c *Client) SignUp(ctx context.Context, creds models.Credentials) (*models.Session, error) {
	return c.authenticate(ctx, "/v1/auth/signup", creds)
}

func (c *Client) authenticate(ctx context.Context, path string, creds models.Credentials) (*models.Session, error) {
	var out sessionEnvelope
	if err := c.do(ctx, http.MethodPost, path, "", creds, &out); err != nil {
		return nil, err
	}
	c.setActive(&out.Session)
	return cloneSession(&out.Session), nil
}

// ActiveSession implements backend.Backend.
func (c *Client) ActiveSession(ctx context.Context) (*models.Session, error) {
	current := c.current()
	if current == nil {
		remembered, err := c.file.Load()
		if err != nil {
			c.logger.Warn().Err(err).Msg("ignoring remembered session")
		}
		if remembered == nil {
			return nil, nil
		}
		current = remembered
	}
	session, err := c.refresh(ctx, current.Tokens)
	if err != nil {
		if errors.Is(err, backend.ErrSessionRejected) {
			c.setActive(nil)
			return nil, &backend.RejectedSessionError{Identity: current.Identity}
		}
		return nil, err
	}
	c.setActive(session)
	return cloneSession(session), nil
}

// AdoptSession implements backend.Backend.
func (c *Client) AdoptSession(ctx context.Context, tokens models.Tokens) (*models.Session, error) {
	session, err := c.refresh(ctx, tokens)
	if err != nil {
		return nil, err
	}
	c.setActive(session)
	return cloneSession(session), nil
}

func (c *Client) refresh(ctx context.Context, tokens models.Tokens) (*models.Session, error) {
	var out sessionEnvelope
	if err := c.do(ctx, http.MethodPost, "/v1/auth/session", "", tokens, &out); err != nil {
		return nil, err
	}
	return &out.Session, nil
}

// InvalidateSession implements backend.Backend.
func (c *Client) InvalidateSession(ctx context.Context) error {
	current := c.current()
	if current == nil {
		return nil
	}
	err := c.do(ctx, http.MethodDelete, "/v1/auth/session", current.AccessToken, nil, nil)
	if err != nil && !errors.Is(err, backend.ErrNotAuthenticated) {
		return err
	}
	c.setActive(nil)
	return nil
}

// Insert implements backend.Backend.
func (c *Client) Insert(ctx context.Context, draft models.MessageDraft) error {
	body := map[string]any{"content": draft.Content, "type": draft.Type}
	return c.authorized(ctx, func(token string) error {
		return c.do(ctx, http.MethodPost, "/v1/messages", token, body, nil)
	})
}

// QueryPage implements backend.Backend.
func (c *Client) QueryPage(ctx context.Context, identity string, offset, limit int) ([]models.Message, error) {
	if current := c.current(); current == nil || models.NormalizeIdentity(current.Identity) != models.NormalizeIdentity(identity) {
		return nil, backend.ErrNotAuthenticated
	}
	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))

	var out messagesEnvelope
	err := c.authorized(ctx, func(token string) error {
		return c.do(ctx, http.MethodGet, "/v1/messages?"+query.Encode(), token, nil, &out)
	})
	if err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// OnSessionChanged implements backend.Backend.
func (c *Client) OnSessionChanged(fn func(*models.Session)) func() {
	return c.listeners.Add(fn)
}

// authorized runs call with the active access token. An expired token is
// refreshed once and the call retried. A session the relay no longer knows
// is cleared and listeners are told.
func (c *Client) authorized(ctx context.Context, call func(token string) error) error {
	current := c.current()
	if current == nil {
		return backend.ErrNotAuthenticated
	}
	err := call(current.AccessToken)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusUnauthorized {
		return err
	}

	refreshed, err := c.renew(ctx, current, apiErr.Code == "token_expired")
	if err != nil {
		return err
	}
	return call(refreshed.AccessToken)
}

// renew handles a 401 for current. An expired access token is exchanged for
// a fresh pair; otherwise, or when the exchange is rejected, the session is
// cleared and ErrNotAuthenticated returned. Listeners see either outcome.
func (c *Client) renew(ctx context.Context, current *models.Session, expired bool) (*models.Session, error) {
	if expired {
		refreshed, err := c.refresh(ctx, current.Tokens)
		if err == nil {
			c.setActive(refreshed)
			c.listeners.Notify(refreshed)
			return cloneSession(refreshed), nil
		}
		if !errors.Is(err, backend.ErrSessionRejected) {
			return nil, err
		}
	}

	c.logger.Info().Str("identity", current.Identity).Msg("session ended remotely")
	c.setActive(nil)
	c.listeners.Notify(nil)
	return nil, backend.ErrNotAuthenticated
}

func (c *Client) do(ctx context.Context, method, path, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.String()+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope errorEnvelope
		if json.NewDecoder(resp.Body).Decode(&envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
			apiErr.Fields = envelope.Error.Fields
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) current() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneSession(c.active)
}

func (c *Client) setActive(session *models.Session) {
	c.mu.Lock()
	c.active = cloneSession(session)
	c.mu.Unlock()
	if err := c.file.Save(session); err != nil {
		c.logger.Warn().Err(err).Msg("failed to remember active session")
	}
}

func cloneSession(session *models.Session) *models.Session {
	if session == nil {
		return nil
	}
	s := *session
	return &s
}
