package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tOgg1/linksync/internal/credcache"
	"github.com/tOgg1/linksync/internal/localstore"
	"github.com/tOgg1/linksync/internal/models"
	"github.com/tOgg1/linksync/internal/session"
	"github.com/tOgg1/linksync/internal/testutil"
	"github.com/tOgg1/linksync/internal/timeline"
)

const (
	alice = "alice@example.com"
	bob   = "bob@example.com"
)

func newEngine(t *testing.T, fake *testutil.FakeBackend, opts ...Option) (*Engine, *credcache.Cache) {
	t.Helper()
	cache := credcache.New(localstore.NewMemoryStore())
	e := New(fake, cache, opts...)
	t.Cleanup(e.Close)
	return e, cache
}

func waitFor(t *testing.T, e *Engine, kind NotificationKind) Notification {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case n, ok := <-e.Notifications():
			require.True(t, ok, "notifications closed while waiting for %s", kind)
			if n.Kind == kind {
				return n
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s notification", kind)
		}
	}
}

func drain(e *Engine) []Notification {
	var out []Notification
	for {
		select {
		case n := <-e.Notifications():
			out = append(out, n)
		default:
			return out
		}
	}
}

func kinds(ns []Notification) []NotificationKind {
	out := make([]NotificationKind, 0, len(ns))
	for _, n := range ns {
		out = append(out, n.Kind)
	}
	return out
}

func TestStartLoadsFirstPageAndPaginates(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Seed(alice, 30)
	a := fake.SessionFor(alice)
	fake.SetActive(&a)
	e, _ := newEngine(t, fake)
	ctx := context.Background()

	state := e.Snapshot()
	assert.False(t, state.IsInitialized)
	assert.Equal(t, session.StatusUninitialized, state.Status)

	require.NoError(t, e.Start(ctx))
	state = e.Snapshot()
	assert.True(t, state.IsInitialized)
	assert.Equal(t, alice, state.Identity)
	assert.Len(t, state.Messages, 25)
	assert.True(t, state.HasMore)
	require.Len(t, state.SavedAccounts, 1)

	require.NoError(t, e.LoadMore(ctx))
	state = e.Snapshot()
	assert.Len(t, state.Messages, 30)
	assert.False(t, state.HasMore)

	require.ErrorIs(t, e.Start(ctx), session.ErrAlreadyInitialized)
}

func TestStartWithoutSessionRoutesToSignIn(t *testing.T) {
	fake := testutil.NewFakeBackend()
	e, _ := newEngine(t, fake)

	require.NoError(t, e.Start(context.Background()))
	waitFor(t, e, NotifyRouteSignIn)

	state := e.Snapshot()
	assert.True(t, state.IsInitialized)
	assert.Equal(t, session.StatusUnauthenticated, state.Status)
	assert.Empty(t, state.Messages)
	require.ErrorIs(t, e.Submit(context.Background(), "hi"), session.ErrNotSignedIn)
	require.ErrorIs(t, e.LoadMore(context.Background()), session.ErrNotSignedIn)
}

func TestSwitchDiscardsInFlightPage(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Seed(alice, 30)
	bobRows := fake.Seed(bob, 3)
	a := fake.SessionFor(alice)
	b := fake.SessionFor(bob)
	fake.SetActive(&a)
	e, cache := newEngine(t, fake)
	cache.Upsert(b)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	started := make(chan struct{})
	release := make(chan struct{})
	fake.QueryHook = func(identity string, offset, _ int) error {
		if identity == alice && offset == 25 {
			close(started)
			<-release
		}
		return nil
	}

	loadDone := make(chan error, 1)
	go func() { loadDone <- e.LoadMore(ctx) }()
	<-started

	require.NoError(t, e.SwitchAccount(ctx, models.EntryFromSession(b)))
	close(release)
	require.NoError(t, <-loadDone)

	state := e.Snapshot()
	assert.Equal(t, bob, state.Identity)
	require.Len(t, state.Messages, 3)
	for i, msg := range state.Messages {
		assert.Equal(t, bob, msg.OwnerIdentity)
		assert.Equal(t, bobRows[i].ID, msg.ID)
	}
	assert.False(t, state.HasMore)
	assert.Equal(t, bob, waitFor(t, e, NotifySwitched).Identity)
}

func TestSwitchClearsListBeforeNewFetchApplies(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Seed(alice, 10)
	fake.Seed(bob, 4)
	a := fake.SessionFor(alice)
	b := fake.SessionFor(bob)
	fake.SetActive(&a)
	e, _ := newEngine(t, fake)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	require.Len(t, e.Snapshot().Messages, 10)

	var during State
	fake.QueryHook = func(identity string, offset, _ int) error {
		if identity == bob && offset == 0 {
			during = e.Snapshot()
		}
		return nil
	}
	require.NoError(t, e.SwitchAccount(ctx, models.EntryFromSession(b)))

	assert.Equal(t, bob, during.Identity)
	assert.Empty(t, during.Messages, "old identity's messages are gone before the new page lands")
	assert.True(t, during.IsFetchingInitial)
	assert.Len(t, e.Snapshot().Messages, 4)
}

func TestSwitchToExpiredAccount(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Seed(alice, 2)
	a := fake.SessionFor(alice)
	b := fake.SessionFor(bob)
	fake.SetActive(&a)
	e, cache := newEngine(t, fake)
	cache.Upsert(b)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	drain(e)

	fake.Revoke(bob)
	err := e.SwitchAccount(ctx, models.EntryFromSession(b))
	require.ErrorIs(t, err, session.ErrSessionExpired)

	state := e.Snapshot()
	assert.Equal(t, alice, state.Identity)
	assert.Len(t, state.Messages, 2)
	require.Len(t, state.SavedAccounts, 1)
	assert.Equal(t, alice, state.SavedAccounts[0].Identity)
	n := waitFor(t, e, NotifyError)
	assert.ErrorIs(t, n.Err, session.ErrSessionExpired)
}

func TestLinkPushNotifies(t *testing.T) {
	fake := testutil.NewFakeBackend()
	a := fake.SessionFor(alice)
	fake.SetActive(&a)
	e, _ := newEngine(t, fake)
	require.NoError(t, e.Start(context.Background()))

	link := fake.NewMessage(alice, "https://go.dev", models.MessageTypeURL)
	fake.Push(link)

	n := waitFor(t, e, NotifyLinkReceived)
	assert.Equal(t, LinkReceivedText, n.Text)
	require.NotNil(t, n.Message)
	assert.Equal(t, link.ID, n.Message.ID)

	// The same row pushed again leaves the list unchanged.
	fake.Push(link)
	fake.Push(fake.NewMessage(alice, "plain", models.MessageTypeText))
	require.Eventually(t, func() bool { return len(e.Snapshot().Messages) == 2 }, time.Second, 5*time.Millisecond)
}

func TestSubmit(t *testing.T) {
	fake := testutil.NewFakeBackend()
	a := fake.SessionFor(alice)
	fake.SetActive(&a)
	e, _ := newEngine(t, fake)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	drain(e)

	require.ErrorIs(t, e.Submit(ctx, "   "), timeline.ErrEmptyContent)
	assert.NotContains(t, kinds(drain(e)), NotifyError)

	require.NoError(t, e.Submit(ctx, "example.com"))
	require.Eventually(t, func() bool { return len(e.Snapshot().Messages) == 1 }, time.Second, 5*time.Millisecond)
	msg := e.Snapshot().Messages[0]
	assert.Equal(t, "https://example.com", msg.Content)
	assert.Equal(t, models.MessageTypeURL, msg.Type)

	fake.InsertErr = errors.New("quota exceeded")
	err := e.Submit(ctx, "hello world")
	var submitErr *timeline.SubmitError
	require.ErrorAs(t, err, &submitErr)
	waitFor(t, e, NotifyError)
}

func TestLoadMoreFailureNotifies(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Seed(alice, 30)
	a := fake.SessionFor(alice)
	fake.SetActive(&a)
	e, _ := newEngine(t, fake)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	fake.QueryHook = func(string, int, int) error { return errors.New("timeout") }
	require.Error(t, e.LoadMore(ctx))
	waitFor(t, e, NotifyError)

	state := e.Snapshot()
	assert.Len(t, state.Messages, 25)
	assert.True(t, state.HasMore)
}

func TestFailedFirstPageIsRetriedByLoadMore(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Seed(alice, 30)
	a := fake.SessionFor(alice)
	fake.SetActive(&a)
	fake.QueryHook = func(string, int, int) error { return errors.New("relay unreachable") }
	e, _ := newEngine(t, fake)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	waitFor(t, e, NotifyError)

	state := e.Snapshot()
	assert.Empty(t, state.Messages)
	assert.False(t, state.HasMore)
	assert.True(t, state.InitialLoadFailed)

	fake.QueryHook = nil
	require.NoError(t, e.LoadMore(ctx))

	state = e.Snapshot()
	assert.Len(t, state.Messages, 25)
	assert.True(t, state.HasMore)
	assert.False(t, state.InitialLoadFailed)
	assert.Equal(t, alice+" #29", state.Messages[0].Content)

	require.NoError(t, e.LoadMore(ctx))
	assert.Len(t, e.Snapshot().Messages, 30)
}

func TestReloadRefetchesFirstPage(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Seed(alice, 30)
	a := fake.SessionFor(alice)
	fake.SetActive(&a)
	e, _ := newEngine(t, fake)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))
	require.NoError(t, e.LoadMore(ctx))
	require.Len(t, e.Snapshot().Messages, 30)

	fake.QueryHook = func(string, int, int) error { return errors.New("timeout") }
	require.Error(t, e.Reload(ctx))
	assert.Len(t, e.Snapshot().Messages, 30, "failed reload keeps the last good list")

	fake.QueryHook = nil
	require.NoError(t, e.Reload(ctx))
	state := e.Snapshot()
	assert.Len(t, state.Messages, 25)
	assert.True(t, state.HasMore)
	assert.False(t, state.InitialLoadFailed)
}

func TestReloadRequiresSignIn(t *testing.T) {
	e, _ := newEngine(t, testutil.NewFakeBackend())
	require.NoError(t, e.Start(context.Background()))
	assert.ErrorIs(t, e.Reload(context.Background()), session.ErrNotSignedIn)
}

func TestSignOutSwitchesToRemainingAccount(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Seed(bob, 1)
	a := fake.SessionFor(alice)
	b := fake.SessionFor(bob)
	fake.SetActive(&a)
	e, cache := newEngine(t, fake)
	cache.Upsert(b)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	require.NoError(t, e.SignOut(ctx))
	assert.Equal(t, bob, waitFor(t, e, NotifySwitched).Identity)

	state := e.Snapshot()
	assert.Equal(t, bob, state.Identity)
	assert.Len(t, state.Messages, 1)
	require.Len(t, state.SavedAccounts, 1)

	require.NoError(t, e.SignOut(ctx))
	waitFor(t, e, NotifyRouteSignIn)
	state = e.Snapshot()
	assert.Empty(t, state.Identity)
	assert.Empty(t, state.Messages)
	assert.Empty(t, state.SavedAccounts)
}

func TestRemoteSignOutTearsDownTimeline(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Seed(alice, 2)
	a := fake.SessionFor(alice)
	fake.SetActive(&a)
	e, _ := newEngine(t, fake)
	require.NoError(t, e.Start(context.Background()))
	require.Equal(t, 1, fake.Subscribers())

	fake.ChangeSession(nil)
	waitFor(t, e, NotifyRouteSignIn)
	assert.Empty(t, e.Snapshot().Messages)
	assert.Equal(t, 0, fake.Subscribers())
}

func TestSignInAddsAccount(t *testing.T) {
	fake := testutil.NewFakeBackend()
	fake.Seed(bob, 2)
	e, _ := newEngine(t, fake)
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	require.NoError(t, e.SignIn(ctx, models.Credentials{Email: bob, Password: "pw"}))
	state := e.Snapshot()
	assert.Equal(t, bob, state.Identity)
	assert.Len(t, state.Messages, 2)

	require.Error(t, e.SignUp(ctx, models.Credentials{Email: alice}))
	waitFor(t, e, NotifyError)
}

func TestCacheWatchReloadsAccounts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	store, err := localstore.NewFileStore(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changes, err := store.Watch(ctx)
	require.NoError(t, err)

	fake := testutil.NewFakeBackend()
	a := fake.SessionFor(alice)
	fake.SetActive(&a)
	e := New(fake, credcache.New(store), WithCacheWatch(changes))
	defer e.Close()
	require.NoError(t, e.Start(context.Background()))

	otherStore, err := localstore.NewFileStore(path)
	require.NoError(t, err)
	other := credcache.New(otherStore)
	other.Upsert(fake.SessionFor(bob))

	require.Eventually(t, func() bool {
		return len(e.Snapshot().SavedAccounts) == 2
	}, 3*time.Second, 20*time.Millisecond)
}

func TestLinkAndErrorNotificationsSurviveFullChannel(t *testing.T) {
	fake := testutil.NewFakeBackend()
	a := fake.SessionFor(alice)
	fake.SetActive(&a)
	e, _ := newEngine(t, fake, WithNotificationBuffer(1))
	ctx := context.Background()
	require.NoError(t, e.Start(ctx))

	const links = 5
	for i := range links {
		fake.Push(fake.NewMessage(alice, fmt.Sprintf("https://example.com/%d", i), models.MessageTypeURL))
	}
	require.Eventually(t, func() bool { return len(e.Snapshot().Messages) == links }, time.Second, 5*time.Millisecond)
	fake.InsertErr = errors.New("relay down")
	require.Error(t, e.Submit(ctx, "hello"))

	var got []string
	sawError := false
	timeout := time.After(2 * time.Second)
	for len(got) < links || !sawError {
		select {
		case n := <-e.Notifications():
			switch n.Kind {
			case NotifyLinkReceived:
				require.NotNil(t, n.Message)
				got = append(got, n.Message.Content)
			case NotifyError:
				sawError = true
			}
		case <-timeout:
			t.Fatalf("got %d links, error seen %v", len(got), sawError)
		}
	}
	assert.Equal(t, "https://example.com/0", got[0])
	assert.Equal(t, "https://example.com/4", got[links-1])
}

func TestCloseClosesNotifications(t *testing.T) {
	fake := testutil.NewFakeBackend()
	e := New(fake, credcache.New(nil), WithNotificationBuffer(1))
	require.NoError(t, e.Start(context.Background()))
	e.Close()
	e.Close()

	for range e.Notifications() {
	}
}
