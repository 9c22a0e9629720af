// Package engine is the client sync engine: it wires the session controller,
// the per-identity timeline and the credential cache behind one state
// snapshot, a set of actions and a notification channel.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/linksync/internal/backend"
	"github.com/tOgg1/linksync/internal/credcache"
	"github.com/tOgg1/linksync/internal/logging"
	"github.com/tOgg1/linksync/internal/models"
	"github.com/tOgg1/linksync/internal/session"
	"github.com/tOgg1/linksync/internal/timeline"
)

// LinkReceivedText is the notification text for a pushed url message.
const LinkReceivedText = "New link received!"

// maxBacklog bounds notifications held while the channel is full.
const maxBacklog = 1024

// NotificationKind identifies a notification.
type NotificationKind string

// Notification kinds.
const (
	NotifyLinkReceived NotificationKind = "link_received"
	NotifyRouteSignIn  NotificationKind = "route_sign_in"
	NotifyError        NotificationKind = "error"
	NotifySwitched     NotificationKind = "switched"
	NotifyChanged      NotificationKind = "changed"
)

// Notification is a side-channel event for the presentation layer.
type Notification struct {
	Kind     NotificationKind
	Text     string
	Identity string
	Message  *models.Message
	Err      error
}

// State is a read-only snapshot of the engine.
type State struct {
	Identity          string
	Messages          []models.Message
	IsSubmitting      bool
	IsFetchingInitial bool
	IsFetchingMore    bool
	HasMore           bool
	InitialLoadFailed bool
	IsInitialized     bool
	Status            session.Status
	SavedAccounts     []models.CredentialEntry
}

// Option configures an Engine.
type Option func(*Engine)

// WithPageSize overrides the timeline page size.
func WithPageSize(n int) Option {
	return func(e *Engine) { e.pageSize = n }
}

// WithNotificationBuffer sets the notification channel capacity.
func WithNotificationBuffer(n int) Option {
	return func(e *Engine) { e.bufferSize = n }
}

// WithCacheWatch reloads the credential cache whenever changes fires,
// typically fed by localstore.FileStore.Watch.
func WithCacheWatch(changes <-chan struct{}) Option {
	return func(e *Engine) { e.cacheChanges = changes }
}

// Engine is the sync engine.
type Engine struct {
	backend      backend.Backend
	cache        *credcache.Cache
	session      *session.Controller
	logger       zerolog.Logger
	pageSize     int
	bufferSize   int
	cacheChanges <-chan struct{}

	mu            sync.Mutex
	timeline      *timeline.Store
	notifications chan Notification
	backlog       []Notification
	flush         chan struct{}
	closed        bool
	done          chan struct{}
	wg            sync.WaitGroup
}

// New creates an engine. Call Start to run the startup session check.
func New(b backend.Backend, cache *credcache.Cache, opts ...Option) *Engine {
	e := &Engine{
		backend:    b,
		cache:      cache,
		logger:     logging.Component("engine"),
		pageSize:   timeline.DefaultPageSize,
		bufferSize: 64,
		done:       make(chan struct{}),
		flush:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.notifications = make(chan Notification, e.bufferSize)
	e.session = session.New(b, cache, session.Hooks{
		IdentityChanged: e.onIdentityChanged,
		SessionUpdated:  func(models.Session) { e.emit(Notification{Kind: NotifyChanged}) },
		RouteSignIn:     func() { e.emit(Notification{Kind: NotifyRouteSignIn}) },
	})
	e.wg.Add(1)
	go e.flushBacklog()
	return e
}

// Start restores the active session, loads its first page and starts
// watching the credential cache.
func (e *Engine) Start(ctx context.Context) error {
	err := e.session.Initialize(ctx)
	if err != nil && !errors.Is(err, session.ErrAlreadyInitialized) {
		e.reportError(err)
	}

	if e.cacheChanges != nil && err == nil {
		e.wg.Add(1)
		go e.watchCache()
	}
	return err
}

func (e *Engine) watchCache() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case _, ok := <-e.cacheChanges:
			if !ok {
				return
			}
			entries := e.cache.Reload()
			e.logger.Debug().Int("accounts", len(entries)).Msg("credential cache reloaded")
			e.emit(Notification{Kind: NotifyChanged})
		}
	}
}

// Notifications returns the notification channel. It is closed by Close.
// Notifications are dropped when the buffer is full.
func (e *Engine) Notifications() <-chan Notification {
	return e.notifications
}

// Snapshot returns the current state.
func (e *Engine) Snapshot() State {
	e.mu.Lock()
	tl := e.timeline
	e.mu.Unlock()

	state := State{
		IsInitialized: e.session.IsInitialized(),
		Status:        e.session.Status(),
		SavedAccounts: e.cache.List(),
	}
	if active := e.session.Active(); active != nil {
		state.Identity = active.Identity
	}
	if tl != nil {
		view := tl.View()
		state.Messages = view.Messages
		state.IsSubmitting = view.IsSubmitting
		state.IsFetchingInitial = view.IsFetchingInitial
		state.IsFetchingMore = view.IsFetchingMore
		state.HasMore = view.HasMore
		state.InitialLoadFailed = view.InitialFailed
	}
	return state
}

// Submit sends text as a new message for the active identity.
func (e *Engine) Submit(ctx context.Context, text string) error {
	tl := e.currentTimeline()
	if tl == nil {
		return session.ErrNotSignedIn
	}
	if err := tl.Submit(ctx, text); err != nil {
		if !errors.Is(err, timeline.ErrEmptyContent) {
			e.reportError(err)
		}
		return err
	}
	return nil
}

// LoadMore fetches the next page of history, or retries the first page if
// it failed.
func (e *Engine) LoadMore(ctx context.Context) error {
	tl := e.currentTimeline()
	if tl == nil {
		return session.ErrNotSignedIn
	}
	if err := tl.LoadMore(ctx); err != nil {
		e.reportError(err)
		return err
	}
	return nil
}

// Reload refetches the first page of the active timeline. Loaded older
// pages are dropped.
func (e *Engine) Reload(ctx context.Context) error {
	tl := e.currentTimeline()
	if tl == nil {
		return session.ErrNotSignedIn
	}
	if err := tl.LoadInitial(ctx); err != nil {
		e.reportError(err)
		return err
	}
	return nil
}

// SwitchAccount makes a saved identity active.
func (e *Engine) SwitchAccount(ctx context.Context, entry models.CredentialEntry) error {
	before := e.activeIdentity()
	if err := e.session.SwitchTo(ctx, entry); err != nil {
		e.reportError(err)
		return err
	}
	if after := e.activeIdentity(); after != before {
		e.emit(Notification{Kind: NotifySwitched, Identity: after})
	}
	return nil
}

// SignOut signs the active identity out.
func (e *Engine) SignOut(ctx context.Context) error {
	if err := e.session.SignOut(ctx); err != nil {
		e.reportError(err)
		return err
	}
	if identity := e.activeIdentity(); identity != "" {
		e.emit(Notification{Kind: NotifySwitched, Identity: identity})
	}
	return nil
}

// SignIn signs in with credentials, adding the account to the saved list.
func (e *Engine) SignIn(ctx context.Context, creds models.Credentials) error {
	if err := e.session.SignIn(ctx, creds); err != nil {
		e.reportError(err)
		return err
	}
	return nil
}

// SignUp registers a new account and signs into it.
func (e *Engine) SignUp(ctx context.Context, creds models.Credentials) error {
	if err := e.session.SignUp(ctx, creds); err != nil {
		e.reportError(err)
		return err
	}
	return nil
}

// Close tears the engine down and closes the notification channel.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	close(e.done)
	tl := e.timeline
	e.timeline = nil
	e.mu.Unlock()

	e.session.Close()
	if tl != nil {
		tl.Close()
	}
	e.wg.Wait()

	e.mu.Lock()
	close(e.notifications)
	e.mu.Unlock()
}

// onIdentityChanged replaces the timeline. The new store starts empty, so
// nothing from the previous identity is visible once this returns.
func (e *Engine) onIdentityChanged(ctx context.Context, active *models.Session) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	previous := e.timeline
	var next *timeline.Store
	if active != nil {
		next = timeline.New(e.backend, active.Identity, timeline.Options{
			PageSize: e.pageSize,
			Notify:   e.onTimelineEvent,
		})
	}
	e.timeline = next
	e.mu.Unlock()

	if previous != nil {
		previous.Close()
	}
	e.emit(Notification{Kind: NotifyChanged})

	if next != nil {
		if err := next.LoadInitial(ctx); err != nil && !errors.Is(err, timeline.ErrClosed) {
			e.reportError(err)
		}
	}
}

func (e *Engine) onTimelineEvent(ev timeline.Event) {
	switch ev.Kind {
	case timeline.EventLinkReceived:
		msg := ev.Message
		e.emit(Notification{
			Kind:     NotifyLinkReceived,
			Text:     LinkReceivedText,
			Identity: msg.OwnerIdentity,
			Message:  &msg,
		})
	default:
		e.emit(Notification{Kind: NotifyChanged})
	}
}

func (e *Engine) currentTimeline() *timeline.Store {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.timeline
}

func (e *Engine) activeIdentity() string {
	if active := e.session.Active(); active != nil {
		return active.Identity
	}
	return ""
}

func (e *Engine) reportError(err error) {
	e.logger.Warn().Err(err).Msg("engine action failed")
	e.emit(Notification{Kind: NotifyError, Text: err.Error(), Err: err})
}

// emit delivers n without blocking. With the channel full, changed
// notifications are dropped because the next Snapshot carries their state.
// Every other kind is queued and delivered in order by flushBacklog.
func (e *Engine) emit(n Notification) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if len(e.backlog) == 0 {
		select {
		case e.notifications <- n:
			return
		default:
		}
	}
	if n.Kind == NotifyChanged {
		e.logger.Debug().Msg("changed notification dropped")
		return
	}
	if len(e.backlog) >= maxBacklog {
		e.logger.Warn().Str("kind", string(n.Kind)).Int("backlog", len(e.backlog)).Msg("notification backlog full, dropping")
		return
	}
	e.backlog = append(e.backlog, n)
	select {
	case e.flush <- struct{}{}:
	default:
	}
}

func (e *Engine) flushBacklog() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case <-e.flush:
		}
		for {
			e.mu.Lock()
			if len(e.backlog) == 0 {
				e.mu.Unlock()
				break
			}
			n := e.backlog[0]
			e.mu.Unlock()

			select {
			case e.notifications <- n:
			case <-e.done:
				return
			}

			e.mu.Lock()
			e.backlog = e.backlog[1:]
			e.mu.Unlock()
		}
	}
}
