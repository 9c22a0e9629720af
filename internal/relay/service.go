// Package relay implements the linksync relay: accounts, rotating sessions,
// append-only message storage and live insert fan-out.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/tOgg1/linksync/internal/db"
	"github.com/tOgg1/linksync/internal/events"
	"github.com/tOgg1/linksync/internal/logging"
	"github.com/tOgg1/linksync/internal/models"
)

// Service errors.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTokenExpired       = errors.New("access token expired")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountExists      = errors.New("account already exists")
	ErrForbidden          = errors.New("message owner does not match session")
)

const (
	accessTokenPrefix  = "lsa_"
	refreshTokenPrefix = "lsr_"
)

// Config controls token lifetimes and limits.
type Config struct {
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
	BcryptCost      int
	MaxPageSize     int

	// Now overrides the clock. Tests use it to expire tokens.
	Now func() time.Time
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		AccessTokenTTL:  time.Hour,
		RefreshTokenTTL: 30 * 24 * time.Hour,
		BcryptCost:      bcrypt.DefaultCost,
		MaxPageSize:     100,
	}
}

// Service is the relay's domain layer.
type Service struct {
	cfg       Config
	accounts  *db.AccountRepository
	sessions  *db.SessionRepository
	messages  *db.MessageRepository
	publisher events.Publisher
	logger    zerolog.Logger
}

// NewService creates a relay service over database. A nil publisher gets an
// in-memory one.
func NewService(database *db.DB, publisher events.Publisher, cfg Config) *Service {
	defaults := DefaultConfig()
	if cfg.AccessTokenTTL <= 0 {
		cfg.AccessTokenTTL = defaults.AccessTokenTTL
	}
	if cfg.RefreshTokenTTL <= 0 {
		cfg.RefreshTokenTTL = defaults.RefreshTokenTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = defaults.BcryptCost
	}
	if cfg.MaxPageSize <= 0 {
		cfg.MaxPageSize = defaults.MaxPageSize
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if publisher == nil {
		publisher = events.NewInMemoryPublisher()
	}
	return &Service{
		cfg:       cfg,
		accounts:  db.NewAccountRepository(database),
		sessions:  db.NewSessionRepository(database),
		messages:  db.NewMessageRepository(database),
		publisher: publisher,
		logger:    logging.Component("relay"),
	}
}

func (s *Service) now() time.Time {
	return s.cfg.Now().UTC()
}

// SignUp registers a new account and opens a session for it.
func (s *Service) SignUp(ctx context.Context, creds models.Credentials) (*models.Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	account := &models.Account{
		Identity:     models.NormalizeIdentity(creds.Email),
		PasswordHash: string(hash),
		CreatedAt:    s.now(),
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, models.ErrAlreadyExists) {
			return nil, ErrAccountExists
		}
		return nil, err
	}
	s.logger.Info().Str("identity", account.Identity).Msg("account created")
	return s.issue(ctx, account.Identity)
}

// SignIn verifies credentials and opens a new session.
func (s *Service) SignIn(ctx context.Context, creds models.Credentials) (*models.Session, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	account, err := s.accounts.Get(ctx, creds.Email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(creds.Password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return s.issue(ctx, account.Identity)
}

// Refresh validates a cached token pair. A pair whose access token is still
// live is returned unchanged. An expired access token with a live refresh
// token is rotated into a new pair. Anything else is ErrUnauthorized.
func (s *Service) Refresh(ctx context.Context, tokens models.Tokens) (*models.Session, error) {
	if !tokens.Valid() {
		return nil, ErrUnauthorized
	}
	record, err := s.sessions.GetByRefresh(ctx, tokens.RefreshToken)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	if record.AccessToken != tokens.AccessToken {
		return nil, ErrUnauthorized
	}

	now := s.now()
	if record.RefreshExpired(now) {
		if err := s.sessions.Delete(ctx, record.AccessToken); err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn().Err(err).Msg("failed to drop expired session")
		}
		return nil, ErrUnauthorized
	}
	if !record.AccessExpired(now) {
		session := record.Session()
		return &session, nil
	}

	next, err := s.newRecord(record.Identity)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Rotate(ctx, record.AccessToken, next); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, ErrUnauthorized
		}
		return nil, err
	}
	s.logger.Debug().
		Str("identity", next.Identity).
		Str("access", logging.TokenHint(next.AccessToken)).
		Msg("session rotated")
	session := next.Session()
	return &session, nil
}

// Authenticate resolves an access token to its identity.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (string, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return "", ErrUnauthorized
	}
	record, err := s.sessions.GetByAccess(ctx, accessToken)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", ErrUnauthorized
		}
		return "", err
	}
	if record.AccessExpired(s.now()) {
		return "", ErrTokenExpired
	}
	return record.Identity, nil
}

// SignOut revokes the session owning accessToken.
func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	if err := s.sessions.Delete(ctx, accessToken); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return ErrUnauthorized
		}
		return err
	}
	return nil
}

// Insert stores a message for identity and fans it out to live subscribers.
func (s *Service) Insert(ctx context.Context, identity string, draft models.MessageDraft) (*models.Message, error) {
	identity = models.NormalizeIdentity(identity)
	if draft.OwnerIdentity == "" {
		draft.OwnerIdentity = identity
	}
	if err := draft.Validate(); err != nil {
		return nil, err
	}
	if models.NormalizeIdentity(draft.OwnerIdentity) != identity {
		return nil, ErrForbidden
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate message id: %w", err)
	}
	msg := models.Message{
		ID:            id.String(),
		Content:       draft.Content,
		Type:          draft.Type,
		CreatedAt:     s.now(),
		OwnerIdentity: identity,
	}
	if err := s.messages.Create(ctx, &msg); err != nil {
		return nil, err
	}
	s.publisher.Publish(context.WithoutCancel(ctx), msg)
	return &msg, nil
}

// Page returns one page of identity's messages, newest first.
func (s *Service) Page(ctx context.Context, identity string, offset, limit int) ([]models.Message, error) {
	if limit > s.cfg.MaxPageSize {
		limit = s.cfg.MaxPageSize
	}
	return s.messages.List(ctx, identity, offset, limit)
}

// Since returns messages newer than sinceID, oldest first.
func (s *Service) Since(ctx context.Context, identity, sinceID string) ([]models.Message, error) {
	return s.messages.ListSince(ctx, identity, sinceID, s.cfg.MaxPageSize)
}

// Subscribe streams future inserts for identity. The cancel func must be called.
func (s *Service) Subscribe(identity string) (<-chan models.Message, func(), error) {
	return events.Stream(s.publisher, events.Filter{OwnerIdentity: identity}, 0)
}

// PruneSessions deletes sessions whose refresh token has expired.
func (s *Service) PruneSessions(ctx context.Context) (int64, error) {
	return s.sessions.DeleteExpired(ctx, s.now())
}

func (s *Service) issue(ctx context.Context, identity string) (*models.Session, error) {
	record, err := s.newRecord(identity)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Create(ctx, record); err != nil {
		return nil, err
	}
	session := record.Session()
	return &session, nil
}

func (s *Service) newRecord(identity string) (*models.SessionRecord, error) {
	access, err := newToken(accessTokenPrefix)
	if err != nil {
		return nil, err
	}
	refresh, err := newToken(refreshTokenPrefix)
	if err != nil {
		return nil, err
	}
	now := s.now()
	return &models.SessionRecord{
		Identity:         identity,
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  now.Add(s.cfg.AccessTokenTTL),
		RefreshExpiresAt: now.Add(s.cfg.RefreshTokenTTL),
		CreatedAt:        now,
	}, nil
}

// newToken joins two random UUIDs so a token carries 244 bits of entropy.
func newToken(prefix string) (string, error) {
	a, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	b, err := uuid.NewRandom()
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return prefix + strings.ReplaceAll(a.String()+b.String(), "-", ""), nil
}
