// Package backend defines the collaborator the sync engine talks to: auth,
// message insert and query, and a live insert subscription.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tOgg1/linksync/internal/localstore"
	"github.com/tOgg1/linksync/internal/models"
)

// Backend errors.
var (
	// ErrSessionRejected means cached tokens can no longer be adopted.
	ErrSessionRejected = errors.New("session rejected")

	// ErrNotAuthenticated means there is no usable active session.
	ErrNotAuthenticated = errors.New("not authenticated")

	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrAccountExists      = errors.New("account already exists")
	ErrInvalidRequest     = errors.New("invalid request")
)

// RejectedSessionError reports that the remembered session for Identity was
// refused at startup. It matches ErrSessionRejected.
type RejectedSessionError struct {
	Identity string
}

func (e *RejectedSessionError) Error() string {
	return fmt.Sprintf("remembered session for %s rejected", e.Identity)
}

func (e *RejectedSessionError) Unwrap() error { return ErrSessionRejected }

// ActiveSessionKey is the durable-store key remembering the active session.
const ActiveSessionKey = "link-sync-active-session"

// Backend is the remote collaborator contract.
type Backend interface {
	// SignIn authenticates and makes the returned session active.
	SignIn(ctx context.Context, creds models.Credentials) (*models.Session, error)

	// SignUp registers an account and makes its session active.
	SignUp(ctx context.Context, creds models.Credentials) (*models.Session, error)

	// ActiveSession returns the current valid session, refreshing it if
	// needed. It returns nil, nil when nobody is signed in, and a
	// *RejectedSessionError when the remembered session is no longer valid.
	ActiveSession(ctx context.Context) (*models.Session, error)

	// AdoptSession makes a cached token pair active. Returns
	// ErrSessionRejected when the pair is no longer valid.
	AdoptSession(ctx context.Context, tokens models.Tokens) (*models.Session, error)

	// InvalidateSession signs the active session out.
	InvalidateSession(ctx context.Context) error

	// Insert appends a message owned by the active identity.
	Insert(ctx context.Context, draft models.MessageDraft) error

	// QueryPage returns identity's messages newest first.
	QueryPage(ctx context.Context, identity string, offset, limit int) ([]models.Message, error)

	// SubscribeInserts streams future inserts for identity until the
	// returned func is called. The channel is closed after cancel.
	SubscribeInserts(identity string) (<-chan models.Message, func())

	// OnSessionChanged registers fn for session changes the backend makes
	// on its own: token refreshes and remote sign-outs (nil session).
	OnSessionChanged(fn func(*models.Session)) func()
}

// Listeners is a registry of session-change callbacks.
type Listeners struct {
	mu   sync.Mutex
	next int
	fns  map[int]func(*models.Session)
}

// Add registers fn and returns its removal func.
func (l *Listeners) Add(fn func(*models.Session)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fns == nil {
		l.fns = make(map[int]func(*models.Session))
	}
	id := l.next
	l.next++
	l.fns[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			delete(l.fns, id)
		})
	}
}

// Notify calls every listener with session, outside the registry lock.
func (l *Listeners) Notify(session *models.Session) {
	l.mu.Lock()
	fns := make([]func(*models.Session), 0, len(l.fns))
	for _, fn := range l.fns {
		fns = append(fns, fn)
	}
	l.mu.Unlock()

	for _, fn := range fns {
		var copied *models.Session
		if session != nil {
			s := *session
			copied = &s
		}
		fn(copied)
	}
}

// SessionFile persists the active session under ActiveSessionKey. A nil
// store makes it a no-op.
type SessionFile struct {
	Store localstore.Store
}

// Load returns the remembered session, or nil if none or unreadable.
func (f SessionFile) Load() (*models.Session, error) {
	if f.Store == nil {
		return nil, nil
	}
	raw, ok, err := f.Store.Get(ActiveSessionKey)
	if err != nil || !ok || raw == "" {
		return nil, err
	}
	var session models.Session
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return nil, fmt.Errorf("decode active session: %w", err)
	}
	if err := session.Validate(); err != nil {
		return nil, fmt.Errorf("decode active session: %w", err)
	}
	return &session, nil
}

// Save remembers session; nil clears it.
func (f SessionFile) Save(session *models.Session) error {
	if f.Store == nil {
		return nil
	}
	if session == nil {
		return f.Store.Set(ActiveSessionKey, "")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encode active session: %w", err)
	}
	return f.Store.Set(ActiveSessionKey, string(payload))
}

// ClosedStream returns an already-closed message channel and a no-op cancel.
func ClosedStream() (<-chan models.Message, func()) {
	ch := make(chan models.Message)
	close(ch)
	return ch, func() {}
}
