package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/tOgg1/linksync/internal/logging"
	"github.com/tOgg1/linksync/internal/models"
)

// Error codes returned in {"error":{"code","message"}} bodies.
const (
	CodeInvalidRequest     = "invalid_request"
	CodeUnauthorized       = "unauthorized"
	CodeTokenExpired       = "token_expired"
	CodeSessionRejected    = "session_rejected"
	CodeInvalidCredentials = "invalid_credentials"
	CodeAccountExists      = "account_exists"
	CodeForbidden          = "forbidden"
	CodeInternal           = "internal"
)

const (
	streamPingInterval = 30 * time.Second
	streamWriteTimeout = 10 * time.Second
	maxRequestBody     = 1 << 20
)

// SessionResponse wraps a session.
type SessionResponse struct {
	Session models.Session `json:"session"`
}

// MessageResponse wraps a single message.
type MessageResponse struct {
	Message models.Message `json:"message"`
}

// MessagesResponse wraps a page of messages.
type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
}

// InsertRequest is the body of POST /v1/messages.
type InsertRequest struct {
	Content string             `json:"content"`
	Type    models.MessageType `json:"type"`
}

// ErrorBody is the error payload.
type ErrorBody struct {
	Code    string                   `json:"code"`
	Message string                   `json:"message"`
	Fields  []models.ValidationError `json:"fields,omitempty"`
}

// ErrorResponse wraps ErrorBody.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type identityKey struct{}

// Server exposes a Service over HTTP and WebSocket.
type Server struct {
	service  *Service
	router   *mux.Router
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewServer builds the relay router.
func NewServer(service *Service) *Server {
	s := &Server{
		service: service,
		router:  mux.NewRouter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: logging.Component("relay.http"),
	}
	s.routes()
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(s.logRequests)

	s.router.Methods(http.MethodGet).Path("/healthz").HandlerFunc(s.healthz)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.Methods(http.MethodPost).Path("/auth/signup").HandlerFunc(s.signUp)
	v1.Methods(http.MethodPost).Path("/auth/signin").HandlerFunc(s.signIn)
	v1.Methods(http.MethodPost).Path("/auth/session").HandlerFunc(s.adoptSession)
	v1.Methods(http.MethodDelete).Path("/auth/session").HandlerFunc(s.signOut)

	v1.Methods(http.MethodGet).Path("/messages").Handler(s.requireAuth(http.HandlerFunc(s.listMessages)))
	v1.Methods(http.MethodPost).Path("/messages").Handler(s.requireAuth(http.HandlerFunc(s.insertMessage)))
	v1.Methods(http.MethodGet).Path("/messages/stream").Handler(s.requireAuth(http.HandlerFunc(s.streamMessages)))
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger := s.logger.With().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Logger()
		r = r.WithContext(logging.WithContext(r.Context(), logger))

		m := httpsnoop.CaptureMetrics(next, w, r)
		event := logger.Info()
		if query := redactQuery(r.URL.Query()); query != "" {
			event = event.Str("query", query)
		}
		event.
			Int("status", m.Code).
			Dur("duration", m.Duration).
			Int64("bytes", m.Written).
			Msg("handled")
	})
}

// redactQuery encodes query with sensitive values masked.
func redactQuery(query url.Values) string {
	for key, values := range query {
		if !logging.IsSensitiveField(key) {
			continue
		}
		for i := range values {
			values[i] = logging.RedactedValue
		}
	}
	return logging.Redact(query.Encode())
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.service.Authenticate(r.Context(), bearerToken(r))
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
		ctx := context.WithValue(r.Context(), identityKey{}, identity)
		ctx = logging.WithContext(ctx, logging.WithIdentity(logging.FromContext(ctx), identity))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) signUp(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if !s.decode(w, r, &creds) {
		return
	}
	session, err := s.service.SignUp(r.Context(), creds)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, SessionResponse{Session: *session})
}

func (s *Server) signIn(w http.ResponseWriter, r *http.Request) {
	var creds models.Credentials
	if !s.decode(w, r, &creds) {
		return
	}
	session, err := s.service.SignIn(r.Context(), creds)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: *session})
}

func (s *Server) adoptSession(w http.ResponseWriter, r *http.Request) {
	var tokens models.Tokens
	if !s.decode(w, r, &tokens) {
		return
	}
	session, err := s.service.Refresh(r.Context(), tokens)
	if err != nil {
		if errors.Is(err, ErrUnauthorized) {
			writeError(w, http.StatusUnauthorized, CodeSessionRejected, "session rejected")
			return
		}
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SessionResponse{Session: *session})
}

func (s *Server) signOut(w http.ResponseWriter, r *http.Request) {
	if err := s.service.SignOut(r.Context(), bearerToken(r)); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil || offset < 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "offset must be a non-negative integer")
		return
	}
	limit, err := queryInt(r, "limit", 25)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "limit must be a non-negative integer")
		return
	}
	messages, err := s.service.Page(r.Context(), identityFrom(r.Context()), offset, limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{Messages: messages})
}

func (s *Server) insertMessage(w http.ResponseWriter, r *http.Request) {
	var req InsertRequest
	if !s.decode(w, r, &req) {
		return
	}
	identity := identityFrom(r.Context())
	msg, err := s.service.Insert(r.Context(), identity, models.MessageDraft{
		Content:       req.Content,
		Type:          req.Type,
		OwnerIdentity: identity,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, MessageResponse{Message: *msg})
}

// streamMessages upgrades to a WebSocket and writes one JSON text frame per
// inserted message. With ?since=<id>, rows newer than id are replayed first.
func (s *Server) streamMessages(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r.Context())

	// Subscribe before replaying so nothing inserted in between is lost.
	stream, cancel, err := s.service.Subscribe(identity)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	defer cancel()

	var replay []models.Message
	if since := strings.TrimSpace(r.URL.Query().Get("since")); since != "" {
		replay, err = s.service.Since(r.Context(), identity, since)
		if err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("failed to upgrade")
		return
	}
	defer conn.Close()

	logger := logging.FromContext(r.Context())
	logger.Debug().Int("replay", len(replay)).Msg("stream opened")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	sent := make(map[string]struct{}, len(replay))
	for _, msg := range replay {
		if err := writeFrame(conn, msg); err != nil {
			logger.Debug().Err(err).Msg("stream write failed")
			return
		}
		sent[msg.ID] = struct{}{}
	}

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			logger.Debug().Msg("stream closed by peer")
			return
		case msg, ok := <-stream:
			if !ok {
				return
			}
			if _, dup := sent[msg.ID]; dup {
				continue
			}
			if err := writeFrame(conn, msg); err != nil {
				logger.Debug().Err(err).Msg("stream write failed")
				return
			}
		case <-ping.C:
			deadline := time.Now().Add(streamWriteTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, msg models.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid JSON body")
		return false
	}
	return true
}

func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *models.ValidationErrors
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorBody{
			Code:    CodeInvalidRequest,
			Message: err.Error(),
			Fields:  validation.Errors,
		}})
	case errors.Is(err, ErrTokenExpired):
		writeError(w, http.StatusUnauthorized, CodeTokenExpired, err.Error())
	case errors.Is(err, ErrUnauthorized):
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, err.Error())
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, CodeInvalidCredentials, err.Error())
	case errors.Is(err, ErrAccountExists):
		writeError(w, http.StatusConflict, CodeAccountExists, err.Error())
	case errors.Is(err, ErrForbidden):
		writeError(w, http.StatusForbidden, CodeForbidden, err.Error())
	default:
		logger := logging.FromContext(r.Context())
		logger.Error().Err(err).Msg("request failed")
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorBody{Code: code, Message: message}})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, nil
	}
	return strconv.Atoi(raw)
}

func identityFrom(ctx context.Context) string {
	identity, _ := ctx.Value(identityKey{}).(string)
	return identity
}
