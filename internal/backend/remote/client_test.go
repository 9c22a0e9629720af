package remote

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tOgg1/linksync/internal/backend"
	"github.com/tOgg1/linksync/internal/localstore"
	"github.com/tOgg1/linksync/internal/models"
	"github.com/tOgg1/linksync/internal/relay"
	"github.com/tOgg1/linksync/internal/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newRelay(t *testing.T) (*httptest.Server, *fakeClock) {
	t.Helper()
	testutil.SkipIfNoNetwork(t)
	clock := &fakeClock{now: time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)}
	svc, closeFn, err := backend.OpenRelay(context.Background(), ":memory:", relay.Config{
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		BcryptCost:      bcrypt.MinCost,
		Now:             clock.Now,
	})
	require.NoError(t, err)
	srv := httptest.NewServer(relay.NewServer(svc).Handler())
	t.Cleanup(func() {
		srv.Close()
		_ = closeFn()
	})
	return srv, clock
}

func newClient(t *testing.T, url string, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithReconnectDelay(20 * time.Millisecond)}, opts...)
	c, err := New(url, opts...)
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadURL(t *testing.T) {
	_, err := New("ftp://example.com")
	require.Error(t, err)
}

func TestClientAuthErrors(t *testing.T) {
	srv, _ := newRelay(t)
	ctx := context.Background()
	c := newClient(t, srv.URL)

	_, err := c.SignIn(ctx, models.Credentials{Email: "a@x.io", Password: "pw"})
	require.ErrorIs(t, err, backend.ErrInvalidCredentials)

	_, err = c.SignUp(ctx, models.Credentials{Email: "a@x.io", Password: "pw"})
	require.NoError(t, err)
	_, err = c.SignUp(ctx, models.Credentials{Email: "a@x.io", Password: "pw"})
	require.ErrorIs(t, err, backend.ErrAccountExists)

	_, err = c.AdoptSession(ctx, models.Tokens{AccessToken: "lsa_nope", RefreshToken: "lsr_nope"})
	require.ErrorIs(t, err, backend.ErrSessionRejected)

	err = c.Insert(ctx, models.MessageDraft{Content: " ", Type: models.MessageTypeText})
	require.ErrorIs(t, err, backend.ErrInvalidRequest)
}

func TestClientInsertQueryAndRefresh(t *testing.T) {
	srv, clock := newRelay(t)
	ctx := context.Background()
	store := localstore.NewMemoryStore()
	c := newClient(t, srv.URL, WithStore(store))

	original, err := c.SignUp(ctx, models.Credentials{Email: "a@x.io", Password: "pw"})
	require.NoError(t, err)

	changed := make(chan *models.Session, 4)
	c.OnSessionChanged(func(s *models.Session) { changed <- s })

	clock.Advance(2 * time.Minute)
	require.NoError(t, c.Insert(ctx, models.MessageDraft{Content: "https://go.dev", Type: models.MessageTypeURL}))

	select {
	case s := <-changed:
		require.NotNil(t, s)
		assert.NotEqual(t, original.AccessToken, s.AccessToken)
	default:
		t.Fatal("expected refresh notification")
	}

	page, err := c.QueryPage(ctx, "a@x.io", 0, 25)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, models.MessageTypeURL, page[0].Type)

	// The rotated session was remembered.
	restarted := newClient(t, srv.URL, WithStore(store))
	active, err := restarted.ActiveSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "a@x.io", active.Identity)
}

func TestClientInvalidate(t *testing.T) {
	srv, _ := newRelay(t)
	ctx := context.Background()
	phone := newClient(t, srv.URL)
	laptop := newClient(t, srv.URL)

	session, err := phone.SignUp(ctx, models.Credentials{Email: "a@x.io", Password: "pw"})
	require.NoError(t, err)
	_, err = laptop.AdoptSession(ctx, session.Tokens)
	require.NoError(t, err)

	require.NoError(t, laptop.InvalidateSession(ctx))
	require.NoError(t, laptop.InvalidateSession(ctx))

	var got []*models.Session
	phone.OnSessionChanged(func(s *models.Session) { got = append(got, s) })
	_, err = phone.QueryPage(ctx, "a@x.io", 0, 25)
	require.ErrorIs(t, err, backend.ErrNotAuthenticated)
	require.Len(t, got, 1)
	assert.Nil(t, got[0])

	active, err := phone.ActiveSession(ctx)
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestClientInsertRejectionKeepsFieldErrors(t *testing.T) {
	srv, _ := newRelay(t)
	ctx := context.Background()
	c := newClient(t, srv.URL)
	_, err := c.SignUp(ctx, models.Credentials{Email: "a@x.io", Password: "pw"})
	require.NoError(t, err)

	err = c.Insert(ctx, models.MessageDraft{Content: " ", Type: "image"})
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrInvalidRequest)
	assert.ErrorIs(t, err, models.ErrEmptyContent)
	assert.ErrorIs(t, err, models.ErrInvalidMessageType)

	var validation *models.ValidationErrors
	require.ErrorAs(t, err, &validation)
	require.Len(t, validation.Field("content"), 1)
	assert.Equal(t, "empty_content", validation.Field("content")[0].Code)
}

func TestClientSubscribeInserts(t *testing.T) {
	srv, _ := newRelay(t)
	ctx := context.Background()
	phone := newClient(t, srv.URL)
	laptop := newClient(t, srv.URL)

	session, err := phone.SignUp(ctx, models.Credentials{Email: "a@x.io", Password: "pw"})
	require.NoError(t, err)
	_, err = laptop.AdoptSession(ctx, session.Tokens)
	require.NoError(t, err)

	stream, cancel := phone.SubscribeInserts("a@x.io")
	defer cancel()

	require.NoError(t, laptop.Insert(ctx, models.MessageDraft{Content: "ping", Type: models.MessageTypeText}))
	msg := receive(t, stream)
	assert.Equal(t, "a@x.io", msg.OwnerIdentity)
	assert.Equal(t, "ping", msg.Content)

	cancel()
	for range stream {
	}
}

// An insert landing right after the history fetch must still reach the
// stream even though the stream connected without a since cursor.
func TestClientSubscribeCatchesInsertAfterPageFetch(t *testing.T) {
	srv, _ := newRelay(t)
	ctx := context.Background()
	phone := newClient(t, srv.URL)
	laptop := newClient(t, srv.URL)

	session, err := phone.SignUp(ctx, models.Credentials{Email: "a@x.io", Password: "pw"})
	require.NoError(t, err)
	_, err = laptop.AdoptSession(ctx, session.Tokens)
	require.NoError(t, err)
	require.NoError(t, laptop.Insert(ctx, models.MessageDraft{Content: "old", Type: models.MessageTypeText}))

	stream, cancel := phone.SubscribeInserts("a@x.io")
	defer cancel()
	page, err := phone.QueryPage(ctx, "a@x.io", 0, 25)
	require.NoError(t, err)
	require.Len(t, page, 1)

	require.NoError(t, laptop.Insert(ctx, models.MessageDraft{Content: "https://example.com/new", Type: models.MessageTypeURL}))
	msg := receive(t, stream)
	assert.Equal(t, "https://example.com/new", msg.Content)
	assert.Equal(t, models.MessageTypeURL, msg.Type)
}

func receive(t *testing.T, stream <-chan models.Message) models.Message {
	t.Helper()
	select {
	case msg, ok := <-stream:
		require.True(t, ok, "stream closed")
		return msg
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for streamed insert")
	}
	return models.Message{}
}

func TestAPIErrorUnwrap(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"session_rejected", backend.ErrSessionRejected},
		{"invalid_credentials", backend.ErrInvalidCredentials},
		{"account_exists", backend.ErrAccountExists},
		{"invalid_request", backend.ErrInvalidRequest},
		{"token_expired", backend.ErrNotAuthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.ErrorIs(t, &APIError{Status: 400, Code: tt.code}, tt.want)
		})
	}
	assert.Empty(t, (&APIError{Status: 500, Code: "internal"}).Unwrap())
}
