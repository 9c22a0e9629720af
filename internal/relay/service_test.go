package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tOgg1/linksync/internal/db"
	"github.com/tOgg1/linksync/internal/models"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestService(t *testing.T) (*Service, *testClock) {
	t.Helper()
	database, err := db.Open(context.Background(), db.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewService(database, nil, Config{
		AccessTokenTTL:  time.Minute,
		RefreshTokenTTL: time.Hour,
		BcryptCost:      bcrypt.MinCost,
		Now:             clock.Now,
	})
	return svc, clock
}

func TestServiceSignUpAndSignIn(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.SignUp(ctx, models.Credentials{Email: "Ana@Example.com", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", session.Identity)
	assert.Contains(t, session.AccessToken, accessTokenPrefix)
	assert.Contains(t, session.RefreshToken, refreshTokenPrefix)

	_, err = svc.SignUp(ctx, models.Credentials{Email: "ana@example.com", Password: "pw"})
	require.ErrorIs(t, err, ErrAccountExists)

	_, err = svc.SignIn(ctx, models.Credentials{Email: "ana@example.com", Password: "wrong"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.SignIn(ctx, models.Credentials{Email: "nobody@example.com", Password: "pw"})
	require.ErrorIs(t, err, ErrInvalidCredentials)

	second, err := svc.SignIn(ctx, models.Credentials{Email: "ANA@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.NotEqual(t, session.AccessToken, second.AccessToken)

	_, err = svc.SignIn(ctx, models.Credentials{Email: "ana@example.com"})
	require.ErrorIs(t, err, models.ErrMissingPassword)
}

func TestServiceRefreshRotation(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	session, err := svc.SignUp(ctx, models.Credentials{Email: "a@x.io", Password: "pw"})
	require.NoError(t, err)

	same, err := svc.Refresh(ctx, session.Tokens)
	require.NoError(t, err)
	assert.Equal(t, session.Tokens, same.Tokens, "live access token is returned unchanged")

	clock.Advance(2 * time.Minute)
	_, err = svc.Authenticate(ctx, session.AccessToken)
	require.ErrorIs(t, err, ErrTokenExpired)

	rotated, err := svc.Refresh(ctx, session.Tokens)
	require.NoError(t, err)
	assert.NotEqual(t, session.AccessToken, rotated.AccessToken)
	assert.NotEqual(t, session.RefreshToken, rotated.RefreshToken)

	identity, err := svc.Authenticate(ctx, rotated.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "a@x.io", identity)

	// The old pair is spent.
	_, err = svc.Refresh(ctx, session.Tokens)
	require.ErrorIs(t, err, ErrUnauthorized)

	clock.Advance(2 * time.Hour)
	_, err = svc.Refresh(ctx, rotated.Tokens)
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestServiceRefreshRejectsMismatchedPair(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	a, err := svc.SignUp(ctx, models.Credentials{Email: "a@x.io", Password: "pw"})
	require.NoError(t, err)
	b, err := svc.SignIn(ctx, models.Credentials{Email: "a@x.io", Password: "pw"})
	require.NoError(t, err)

	_, err = svc.Refresh(ctx, models.Tokens{AccessToken: a.AccessToken, RefreshToken: b.RefreshToken})
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = svc.Refresh(ctx, models.Tokens{})
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestServiceSignOut(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	session, err := svc.SignUp(ctx, models.Credentials{Email: "a@x.io", Password: "pw"})
	require.NoError(t, err)

	require.NoError(t, svc.SignOut(ctx, session.AccessToken))
	_, err = svc.Authenticate(ctx, session.AccessToken)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.ErrorIs(t, svc.SignOut(ctx, session.AccessToken), ErrUnauthorized)
}

func TestServiceInsertPageAndSubscribe(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, models.Credentials{Email: "a@x.io", Password: "pw"})
	require.NoError(t, err)
	_, err = svc.SignUp(ctx, models.Credentials{Email: "b@x.io", Password: "pw"})
	require.NoError(t, err)

	stream, cancel, err := svc.Subscribe("a@x.io")
	require.NoError(t, err)
	defer cancel()

	var inserted []models.Message
	for _, content := range []string{"one", "two", "three"} {
		clock.Advance(time.Second)
		msg, err := svc.Insert(ctx, "a@x.io", models.MessageDraft{Content: content, Type: models.MessageTypeText})
		require.NoError(t, err)
		inserted = append(inserted, *msg)
	}
	_, err = svc.Insert(ctx, "b@x.io", models.MessageDraft{Content: "other", Type: models.MessageTypeText})
	require.NoError(t, err)

	for _, want := range inserted {
		select {
		case got := <-stream:
			assert.Equal(t, want.ID, got.ID)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for pushed insert")
		}
	}
	select {
	case got := <-stream:
		t.Fatalf("unexpected push for another identity: %+v", got)
	default:
	}

	page, err := svc.Page(ctx, "a@x.io", 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "three", page[0].Content)
	assert.Equal(t, "two", page[1].Content)

	since, err := svc.Since(ctx, "a@x.io", inserted[0].ID)
	require.NoError(t, err)
	require.Len(t, since, 2)
	assert.Equal(t, "two", since[0].Content)

	_, err = svc.Insert(ctx, "a@x.io", models.MessageDraft{Content: "x", Type: models.MessageTypeText, OwnerIdentity: "b@x.io"})
	require.ErrorIs(t, err, ErrForbidden)
	_, err = svc.Insert(ctx, "a@x.io", models.MessageDraft{Content: "", Type: models.MessageTypeText})
	require.ErrorIs(t, err, models.ErrEmptyContent)
}

func TestServicePruneSessions(t *testing.T) {
	svc, clock := newTestService(t)
	ctx := context.Background()

	_, err := svc.SignUp(ctx, models.Credentials{Email: "a@x.io", Password: "pw"})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	n, err := svc.PruneSessions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
