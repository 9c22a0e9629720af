package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/tOgg1/linksync/internal/backend"
	"github.com/tOgg1/linksync/internal/credcache"
	"github.com/tOgg1/linksync/internal/localstore"
	"github.com/tOgg1/linksync/internal/models"
	"github.com/tOgg1/linksync/internal/relay"
)

func TestTwoDevicesOverLocalRelay(t *testing.T) {
	ctx := context.Background()
	svc, closeFn, err := backend.OpenRelay(ctx, ":memory:", relay.Config{BcryptCost: bcrypt.MinCost})
	require.NoError(t, err)
	defer closeFn()

	phone := New(backend.NewLocal(svc, nil), credcache.New(localstore.NewMemoryStore()))
	defer phone.Close()
	laptop := New(backend.NewLocal(svc, nil), credcache.New(localstore.NewMemoryStore()))
	defer laptop.Close()

	require.NoError(t, phone.Start(ctx))
	require.NoError(t, laptop.Start(ctx))

	creds := models.Credentials{Email: "Alice@Example.com", Password: "hunter2"}
	require.NoError(t, phone.SignUp(ctx, creds))
	require.NoError(t, laptop.SignIn(ctx, creds))

	require.NoError(t, laptop.Submit(ctx, "go.dev/doc"))

	n := waitFor(t, phone, NotifyLinkReceived)
	require.NotNil(t, n.Message)
	assert.Equal(t, "https://go.dev/doc", n.Message.Content)

	require.Eventually(t, func() bool {
		return len(laptop.Snapshot().Messages) == 1 && len(phone.Snapshot().Messages) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, phone.Snapshot().Messages[0].ID, laptop.Snapshot().Messages[0].ID)

	require.NoError(t, phone.Submit(ctx, "remember the milk"))
	require.Eventually(t, func() bool {
		msgs := laptop.Snapshot().Messages
		return len(msgs) == 2 && msgs[0].Content == "remember the milk"
	}, 2*time.Second, 10*time.Millisecond)
}
