// Package session owns the active identity: startup session check, account
// switching, sign-in and sign-out.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/linksync/internal/backend"
	"github.com/tOgg1/linksync/internal/credcache"
	"github.com/tOgg1/linksync/internal/logging"
	"github.com/tOgg1/linksync/internal/models"
)

// Controller errors.
var (
	ErrAlreadyInitialized = errors.New("session already initialized")
	ErrSessionExpired     = errors.New("saved session expired, sign in again")
	ErrNotSignedIn        = errors.New("not signed in")
	ErrSwitchInProgress   = errors.New("account switch already in progress")
)

// Status is the controller state.
type Status string

// Controller states.
const (
	StatusUninitialized   Status = "uninitialized"
	StatusInitializing    Status = "initializing"
	StatusAuthenticated   Status = "authenticated"
	StatusUnauthenticated Status = "unauthenticated"
	StatusSwitching       Status = "switching"
)

// Hooks receive controller side effects. Each is called without the
// controller lock held and may be nil.
type Hooks struct {
	// IdentityChanged fires when the active identity changes. A nil session
	// means nobody is signed in any more.
	IdentityChanged func(ctx context.Context, session *models.Session)

	// SessionUpdated fires when the active identity's tokens change.
	SessionUpdated func(session models.Session)

	// RouteSignIn asks the presentation layer to show sign-in.
	RouteSignIn func()
}

// Controller owns the active session and the credential cache.
type Controller struct {
	backend backend.Backend
	cache   *credcache.Cache
	hooks   Hooks
	logger  zerolog.Logger

	mu          sync.Mutex
	status      Status
	active      *models.Session
	initialized bool
	baseCtx     context.Context
	unsubscribe func()
}

// New creates a controller in the uninitialized state.
func New(b backend.Backend, cache *credcache.Cache, hooks Hooks) *Controller {
	if hooks.IdentityChanged == nil {
		hooks.IdentityChanged = func(context.Context, *models.Session) {}
	}
	if hooks.SessionUpdated == nil {
		hooks.SessionUpdated = func(models.Session) {}
	}
	if hooks.RouteSignIn == nil {
		hooks.RouteSignIn = func() {}
	}
	c := &Controller{
		backend: b,
		cache:   cache,
		hooks:   hooks,
		logger:  logging.Component("session"),
		status:  StatusUninitialized,
		baseCtx: context.Background(),
	}
	c.unsubscribe = b.OnSessionChanged(c.handleSessionChanged)
	return c
}

// Status returns the current state.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// IsInitialized reports whether the startup session check has finished.
func (c *Controller) IsInitialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.initialized
}

// Active returns a copy of the active session, or nil.
func (c *Controller) Active() *models.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	s := *c.active
	return &s
}

// Cache returns the credential cache.
func (c *Controller) Cache() *credcache.Cache {
	return c.cache
}

// Initialize asks the backend for a valid session. It runs once; later
// calls return ErrAlreadyInitialized. A backend error leaves the controller
// unauthenticated and is returned. A rejected remembered session is dropped
// from the cache and routes to sign-in without an error.
func (c *Controller) Initialize(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatusUninitialized {
		c.mu.Unlock()
		return ErrAlreadyInitialized
	}
	c.status = StatusInitializing
	c.baseCtx = context.WithoutCancel(ctx)
	c.mu.Unlock()

	session, err := c.backend.ActiveSession(ctx)
	var rejected *backend.RejectedSessionError
	if errors.As(err, &rejected) {
		c.cache.Remove(rejected.Identity)
		c.logger.Info().Str("identity", rejected.Identity).Msg("remembered session expired")
		err = nil
	}

	c.mu.Lock()
	c.initialized = true
	if err != nil || session == nil {
		c.status = StatusUnauthenticated
		c.active = nil
		c.mu.Unlock()
		if err != nil {
			c.logger.Warn().Err(err).Msg("session check failed")
		}
		c.hooks.RouteSignIn()
		if err != nil {
			return fmt.Errorf("check session: %w", err)
		}
		return nil
	}
	c.status = StatusAuthenticated
	c.active = session
	c.mu.Unlock()

	c.cache.Upsert(*session)
	c.logger.Info().Str("identity", session.Identity).Msg("session restored")
	c.hooks.IdentityChanged(ctx, session)
	return nil
}

// handleSessionChanged applies a change the backend made on its own.
func (c *Controller) handleSessionChanged(session *models.Session) {
	c.mu.Lock()
	if !c.initialized {
		c.mu.Unlock()
		return
	}
	ctx := c.baseCtx
	previous := c.active

	if session == nil {
		if previous == nil {
			c.mu.Unlock()
			return
		}
		c.active = nil
		c.status = StatusUnauthenticated
		c.mu.Unlock()

		c.logger.Info().Str("identity", previous.Identity).Msg("signed out by backend")
		c.hooks.IdentityChanged(ctx, nil)
		c.hooks.RouteSignIn()
		return
	}

	next := *session
	c.active = &next
	c.status = StatusAuthenticated
	c.mu.Unlock()

	c.cache.Upsert(next)
	if previous != nil && sameIdentity(previous.Identity, next.Identity) {
		c.hooks.SessionUpdated(next)
		return
	}
	c.hooks.IdentityChanged(ctx, &next)
}

// SwitchTo makes a cached identity active. Switching to the active identity
// is a no-op. Rejected tokens drop the entry and return ErrSessionExpired,
// leaving the previous identity active. Other errors change nothing.
func (c *Controller) SwitchTo(ctx context.Context, entry models.CredentialEntry) error {
	c.mu.Lock()
	if c.active != nil && sameIdentity(c.active.Identity, entry.Identity) {
		c.mu.Unlock()
		return nil
	}
	if c.status == StatusSwitching {
		c.mu.Unlock()
		return ErrSwitchInProgress
	}
	previous := c.status
	c.status = StatusSwitching
	c.mu.Unlock()

	session, err := c.backend.AdoptSession(ctx, entry.Session)
	if err != nil {
		c.mu.Lock()
		c.status = previous
		c.mu.Unlock()

		if !errors.Is(err, backend.ErrSessionRejected) {
			return fmt.Errorf("switch account: %w", err)
		}
		c.logger.Info().Str("identity", entry.Identity).Msg("cached session rejected")
		c.cache.Remove(entry.Identity)
		if c.cache.Len() == 0 {
			c.hooks.RouteSignIn()
		}
		return fmt.Errorf("%w: %s", ErrSessionExpired, entry.Identity)
	}

	c.activate(ctx, session)
	return nil
}

// SignOut ends the active session and drops it from the cache. The most
// recent remaining identity becomes active, skipping any whose session was
// rejected. With nothing left the presentation layer is routed to sign-in.
func (c *Controller) SignOut(ctx context.Context) error {
	c.mu.Lock()
	if c.active == nil {
		c.mu.Unlock()
		return ErrNotSignedIn
	}
	identity := c.active.Identity
	c.mu.Unlock()

	if err := c.backend.InvalidateSession(ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}

	c.mu.Lock()
	c.active = nil
	c.status = StatusUnauthenticated
	c.mu.Unlock()

	c.cache.Remove(identity)
	c.logger.Info().Str("identity", identity).Msg("signed out")
	c.hooks.IdentityChanged(ctx, nil)

	for {
		entries := c.cache.List()
		if len(entries) == 0 {
			c.hooks.RouteSignIn()
			return nil
		}
		err := c.SwitchTo(ctx, entries[0])
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrSessionExpired) {
			c.hooks.RouteSignIn()
			return err
		}
		if c.cache.Len() == 0 {
			// SwitchTo already routed to sign-in.
			return nil
		}
	}
}

// SignIn authenticates with credentials and makes the session active.
func (c *Controller) SignIn(ctx context.Context, creds models.Credentials) error {
	session, err := c.backend.SignIn(ctx, creds)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	c.activate(ctx, session)
	return nil
}

// SignUp registers an account and makes its session active.
func (c *Controller) SignUp(ctx context.Context, creds models.Credentials) error {
	session, err := c.backend.SignUp(ctx, creds)
	if err != nil {
		return fmt.Errorf("sign up: %w", err)
	}
	c.activate(ctx, session)
	return nil
}

// Close stops listening for backend session changes.
func (c *Controller) Close() {
	c.mu.Lock()
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (c *Controller) activate(ctx context.Context, session *models.Session) {
	next := *session

	c.mu.Lock()
	previous := c.active
	c.active = &next
	c.status = StatusAuthenticated
	c.initialized = true
	c.mu.Unlock()

	c.cache.Upsert(next)
	if previous != nil && sameIdentity(previous.Identity, next.Identity) {
		c.hooks.SessionUpdated(next)
		return
	}
	c.logger.Info().Str("identity", next.Identity).Msg("identity active")
	c.hooks.IdentityChanged(ctx, &next)
}

func sameIdentity(a, b string) bool {
	return models.NormalizeIdentity(a) == models.NormalizeIdentity(b)
}
