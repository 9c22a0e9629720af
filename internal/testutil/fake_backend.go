// Package testutil provides test doubles shared across packages.
package testutil

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/tOgg1/linksync/internal/backend"
	"github.com/tOgg1/linksync/internal/models"
)

// FakeBackend is a scriptable in-memory backend.Backend.
type FakeBackend struct {
	mu        sync.Mutex
	rows      map[string][]models.Message
	sessions  map[string]models.Session
	active    *models.Session
	subs      map[int]*fakeSub
	nextSub   int
	nextID    int
	clock     time.Time
	listeners backend.Listeners

	// QueryHook runs before QueryPage answers. A non-nil error fails the query.
	// It may block to hold a fetch in flight.
	QueryHook func(identity string, offset, limit int) error

	// InsertErr, when set, rejects every Insert.
	InsertErr error

	// ActiveErr, when set, fails ActiveSession.
	ActiveErr error

	// InvalidateErr, when set, fails InvalidateSession.
	InvalidateErr error

	Inserted []models.MessageDraft
}

type fakeSub struct {
	identity string
	ch       chan models.Message
}

var _ backend.Backend = (*FakeBackend)(nil)

// NewFakeBackend creates an empty fake.
func NewFakeBackend() *FakeBackend {
	return &FakeBackend{
		rows:     make(map[string][]models.Message),
		sessions: make(map[string]models.Session),
		subs:     make(map[int]*fakeSub),
		clock:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// SessionFor returns a deterministic session for identity and registers its
// tokens as adoptable.
func (f *FakeBackend) SessionFor(identity string) models.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity = models.NormalizeIdentity(identity)
	session := models.Session{
		Identity: identity,
		Tokens: models.Tokens{
			AccessToken:  "lsa_" + identity,
			RefreshToken: "lsr_" + identity,
		},
	}
	f.sessions[session.RefreshToken] = session
	return session
}

// Revoke makes identity's tokens unadoptable.
func (f *FakeBackend) Revoke(identity string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.sessions, "lsr_"+models.NormalizeIdentity(identity))
}

// SetActive sets the session ActiveSession reports.
func (f *FakeBackend) SetActive(session *models.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = session
}

// ChangeSession simulates a backend-driven session change.
func (f *FakeBackend) ChangeSession(session *models.Session) {
	f.SetActive(session)
	f.listeners.Notify(session)
}

// Seed creates n messages for identity, oldest first, and returns them
// newest first.
func (f *FakeBackend) Seed(identity string, n int) []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	identity = models.NormalizeIdentity(identity)
	for i := 0; i < n; i++ {
		f.appendLocked(models.Message{
			Content:       fmt.Sprintf("%s #%d", identity, i),
			Type:          models.MessageTypeText,
			OwnerIdentity: identity,
		})
	}
	return slices.Clone(f.rows[identity])
}

// NewMessage builds a message newer than every seeded row without storing it.
func (f *FakeBackend) NewMessage(identity, content string, typ models.MessageType) models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.clock = f.clock.Add(time.Second)
	return models.Message{
		ID:            fmt.Sprintf("m%05d", f.nextID),
		Content:       content,
		Type:          typ,
		CreatedAt:     f.clock,
		OwnerIdentity: models.NormalizeIdentity(identity),
	}
}

// Push delivers msg to live subscribers without storing it.
func (f *FakeBackend) Push(msg models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pushLocked(msg)
}

// Subscribers returns the number of open subscriptions.
func (f *FakeBackend) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

// SignIn implements backend.Backend.
func (f *FakeBackend) SignIn(_ context.Context, creds models.Credentials) (*models.Session, error) {
	if creds.Password == "" {
		return nil, backend.ErrInvalidCredentials
	}
	session := f.SessionFor(creds.Email)
	f.SetActive(&session)
	return &session, nil
}

// SignUp implements backend.Backend.
func (f *FakeBackend) SignUp(ctx context.Context, creds models.Credentials) (*models.Session, error) {
	return f.SignIn(ctx, creds)
}

// ActiveSession implements backend.Backend.
func (f *FakeBackend) ActiveSession(context.Context) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ActiveErr != nil {
		return nil, f.ActiveErr
	}
	if f.active == nil {
		return nil, nil
	}
	s := *f.active
	return &s, nil
}

// AdoptSession implements backend.Backend.
func (f *FakeBackend) AdoptSession(_ context.Context, tokens models.Tokens) (*models.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[tokens.RefreshToken]
	if !ok || session.AccessToken != tokens.AccessToken {
		return nil, backend.ErrSessionRejected
	}
	f.active = &session
	s := session
	return &s, nil
}

// InvalidateSession implements backend.Backend.
func (f *FakeBackend) InvalidateSession(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InvalidateErr != nil {
		return f.InvalidateErr
	}
	f.active = nil
	return nil
}

// Insert implements backend.Backend. Accepted drafts are stored and pushed.
func (f *FakeBackend) Insert(_ context.Context, draft models.MessageDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.InsertErr != nil {
		return f.InsertErr
	}
	if err := draft.Validate(); err != nil {
		return err
	}
	f.Inserted = append(f.Inserted, draft)
	msg := f.appendLocked(models.Message{
		Content:       draft.Content,
		Type:          draft.Type,
		OwnerIdentity: models.NormalizeIdentity(draft.OwnerIdentity),
	})
	f.pushLocked(msg)
	return nil
}

// QueryPage implements backend.Backend.
func (f *FakeBackend) QueryPage(_ context.Context, identity string, offset, limit int) ([]models.Message, error) {
	f.mu.Lock()
	hook := f.QueryHook
	f.mu.Unlock()
	if hook != nil {
		if err := hook(identity, offset, limit); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	rows := f.rows[models.NormalizeIdentity(identity)]
	if offset >= len(rows) {
		return []models.Message{}, nil
	}
	end := min(offset+limit, len(rows))
	return slices.Clone(rows[offset:end]), nil
}

// SubscribeInserts implements backend.Backend.
func (f *FakeBackend) SubscribeInserts(identity string) (<-chan models.Message, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextSub
	f.nextSub++
	sub := &fakeSub{identity: models.NormalizeIdentity(identity), ch: make(chan models.Message, 64)}
	f.subs[id] = sub

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			close(sub.ch)
		})
	}
}

// OnSessionChanged implements backend.Backend.
func (f *FakeBackend) OnSessionChanged(fn func(*models.Session)) func() {
	return f.listeners.Add(fn)
}

// appendLocked stores msg as the newest row for its owner.
func (f *FakeBackend) appendLocked(msg models.Message) models.Message {
	f.nextID++
	f.clock = f.clock.Add(time.Second)
	msg.ID = fmt.Sprintf("m%05d", f.nextID)
	msg.CreatedAt = f.clock
	f.rows[msg.OwnerIdentity] = append([]models.Message{msg}, f.rows[msg.OwnerIdentity]...)
	return msg
}

func (f *FakeBackend) pushLocked(msg models.Message) {
	for _, sub := range f.subs {
		if sub.identity != models.NormalizeIdentity(msg.OwnerIdentity) {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
		}
	}
}
