package backend

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/linksync/internal/db"
	"github.com/tOgg1/linksync/internal/events"
	"github.com/tOgg1/linksync/internal/localstore"
	"github.com/tOgg1/linksync/internal/logging"
	"github.com/tOgg1/linksync/internal/models"
	"github.com/tOgg1/linksync/internal/relay"
)

// Local is a Backend running the relay service in process. Each Local is one
// client device with its own active session; several may share a service.
type Local struct {
	service   *relay.Service
	file      SessionFile
	listeners Listeners
	logger    zerolog.Logger

	mu     sync.Mutex
	active *models.Session
}

var _ Backend = (*Local)(nil)

const streamBuffer = 64

// NewLocal creates a device bound to service. store, if non-nil, remembers
// the active session between runs.
func NewLocal(service *relay.Service, store localstore.Store) *Local {
	return &Local{
		service: service,
		file:    SessionFile{Store: store},
		logger:  logging.Component("backend.local"),
	}
}

// OpenRelay opens a relay service over the SQLite database at path
// (":memory:" for a throwaway one). The returned func closes the database.
func OpenRelay(ctx context.Context, path string, cfg relay.Config) (*relay.Service, func() error, error) {
	database, err := db.Open(ctx, db.Config{Path: path})
	if err != nil {
		return nil, nil, err
	}
	return relay.NewService(database, events.NewInMemoryPublisher(), cfg), database.Close, nil
}

// SignIn implements Backend.
func (l *Local) SignIn(ctx context.Context, creds models.Credentials) (*models.Session, error) {
	session, err := l.service.SignIn(ctx, creds)
	if err != nil {
		return nil, mapRelayError(err)
	}
	l.setActive(session)
	return cloneSession(session), nil
}

// SignUp implements Backend.
func (l *Local) SignUp(ctx context.Context, creds models.Credentials) (*models.Session, error) {
	session, err := l.service.SignUp(ctx, creds)
	if err != nil {
		return nil, mapRelayError(err)
	}
	l.setActive(session)
	return cloneSession(session), nil
}

// ActiveSession implements Backend.
func (l *Local) ActiveSession(ctx context.Context) (*models.Session, error) {
	current := l.current()
	if current == nil {
		remembered, err := l.file.Load()
		if err != nil {
			l.logger.Warn().Err(err).Msg("ignoring remembered session")
		}
		if remembered == nil {
			return nil, nil
		}
		current = remembered
	}

	session, err := l.service.Refresh(ctx, current.Tokens)
	if err != nil {
		if errors.Is(err, relay.ErrUnauthorized) {
			l.setActive(nil)
			return nil, &RejectedSessionError{Identity: current.Identity}
		}
		return nil, err
	}
	l.setActive(session)
	return cloneSession(session), nil
}

// AdoptSession implements Backend.
func (l *Local) AdoptSession(ctx context.Context, tokens models.Tokens) (*models.Session, error) {
	session, err := l.service.Refresh(ctx, tokens)
	if err != nil {
		if errors.Is(err, relay.ErrUnauthorized) {
			return nil, ErrSessionRejected
		}
		return nil, err
	}
	l.setActive(session)
	return cloneSession(session), nil
}

// InvalidateSession implements Backend.
func (l *Local) InvalidateSession(ctx context.Context) error {
	current := l.current()
	if current == nil {
		return nil
	}
	if err := l.service.SignOut(ctx, current.AccessToken); err != nil && !errors.Is(err, relay.ErrUnauthorized) {
		return err
	}
	l.setActive(nil)
	return nil
}

// Insert implements Backend.
func (l *Local) Insert(ctx context.Context, draft models.MessageDraft) error {
	identity, err := l.authorize(ctx)
	if err != nil {
		return err
	}
	if _, err := l.service.Insert(ctx, identity, draft); err != nil {
		return mapRelayError(err)
	}
	return nil
}

// QueryPage implements Backend.
func (l *Local) QueryPage(ctx context.Context, identity string, offset, limit int) ([]models.Message, error) {
	active, err := l.authorize(ctx)
	if err != nil {
		return nil, err
	}
	if models.NormalizeIdentity(identity) != active {
		return nil, ErrNotAuthenticated
	}
	return l.service.Page(ctx, active, offset, limit)
}

// SubscribeInserts implements Backend. When the relay cuts the stream off
// because this reader fell behind, it resubscribes and replays everything
// after the last delivered id.
func (l *Local) SubscribeInserts(identity string) (<-chan models.Message, func()) {
	stream, cancelStream, err := l.service.Subscribe(identity)
	if err != nil {
		l.logger.Error().Err(err).Msg("subscribe failed")
		return ClosedStream()
	}

	ctx, cancel := context.WithCancel(context.Background())
	out := make(chan models.Message, streamBuffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer close(out)
		var lastID string
		send := func(msg models.Message) bool {
			select {
			case out <- msg:
				lastID = msg.ID
				return true
			case <-ctx.Done():
				return false
			}
		}
		// pump forwards until the relay closes the stream. It reports false
		// once the subscriber has cancelled.
		pump := func() bool {
			for {
				select {
				case <-ctx.Done():
					return false
				case msg, ok := <-stream:
					if !ok {
						return true
					}
					if !send(msg) {
						return false
					}
				}
			}
		}

		for {
			cut := pump()
			cancelStream()
			if !cut {
				return
			}

			l.logger.Warn().Str("identity", identity).Str("last_id", lastID).Msg("insert stream cut off, resubscribing")
			stream, cancelStream, err = l.service.Subscribe(identity)
			if err != nil {
				l.logger.Error().Err(err).Msg("resubscribe failed")
				return
			}
			if lastID == "" {
				continue
			}
			replay, err := l.service.Since(ctx, identity, lastID)
			if err != nil {
				l.logger.Error().Err(err).Msg("replay after resubscribe failed")
				cancelStream()
				return
			}
			for _, msg := range replay {
				if !send(msg) {
					cancelStream()
					return
				}
			}
		}
	}()

	var once sync.Once
	return out, func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}
}

// OnSessionChanged implements Backend.
func (l *Local) OnSessionChanged(fn func(*models.Session)) func() {
	return l.listeners.Add(fn)
}

// authorize returns the active identity, refreshing an expired access token.
// A session revoked elsewhere is cleared and reported to listeners.
func (l *Local) authorize(ctx context.Context) (string, error) {
	current := l.current()
	if current == nil {
		return "", ErrNotAuthenticated
	}

	identity, err := l.service.Authenticate(ctx, current.AccessToken)
	switch {
	case err == nil:
		return identity, nil
	case errors.Is(err, relay.ErrTokenExpired):
		refreshed, rerr := l.service.Refresh(ctx, current.Tokens)
		if rerr == nil {
			l.setActive(refreshed)
			l.listeners.Notify(refreshed)
			return refreshed.Identity, nil
		}
		if !errors.Is(rerr, relay.ErrUnauthorized) {
			return "", rerr
		}
	case !errors.Is(err, relay.ErrUnauthorized):
		return "", err
	}

	l.logger.Info().Str("identity", current.Identity).Msg("session ended remotely")
	l.setActive(nil)
	l.listeners.Notify(nil)
	return "", ErrNotAuthenticated
}

func (l *Local) current() *models.Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return cloneSession(l.active)
}

func (l *Local) setActive(session *models.Session) {
	l.mu.Lock()
	l.active = cloneSession(session)
	l.mu.Unlock()
	if err := l.file.Save(session); err != nil {
		l.logger.Warn().Err(err).Msg("failed to remember active session")
	}
}

func mapRelayError(err error) error {
	var validation *models.ValidationErrors
	switch {
	case errors.Is(err, relay.ErrInvalidCredentials):
		return ErrInvalidCredentials
	case errors.Is(err, relay.ErrAccountExists):
		return ErrAccountExists
	case errors.Is(err, relay.ErrUnauthorized), errors.Is(err, relay.ErrTokenExpired):
		return ErrNotAuthenticated
	case errors.As(err, &validation), errors.Is(err, relay.ErrForbidden):
		return errors.Join(ErrInvalidRequest, err)
	default:
		return err
	}
}

func cloneSession(session *models.Session) *models.Session {
	if session == nil {
		return nil
	}
	s := *session
	return &s
}
