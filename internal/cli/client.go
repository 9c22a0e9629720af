package cli

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/tOgg1/linksync/internal/backend"
	"github.com/tOgg1/linksync/internal/backend/remote"
	"github.com/tOgg1/linksync/internal/credcache"
	"github.com/tOgg1/linksync/internal/engine"
	"github.com/tOgg1/linksync/internal/localstore"
	"github.com/tOgg1/linksync/internal/logging"
	"github.com/tOgg1/linksync/internal/relay"
	"github.com/tOgg1/linksync/internal/session"
)

// client is one engine plus the resources it was built from.
type client struct {
	engine *engine.Engine
	cache  *credcache.Cache
	store  *localstore.FileStore
	logger zerolog.Logger

	closers []func()
}

// clientOptions controls how openClient builds the engine.
type clientOptions struct {
	// watchCache reloads saved accounts when another process changes them.
	watchCache bool
}

// openClient builds the backend selected by config and flags and starts an
// engine on it. The caller must Close the result.
func (a *app) openClient(ctx context.Context, opts clientOptions) (*client, error) {
	cfg := a.cfg
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := localstore.NewFileStore(cfg.StateFilePath())
	if err != nil {
		return nil, fmt.Errorf("open state file: %w", err)
	}

	c := &client{
		store:  store,
		cache:  credcache.New(store),
		logger: logging.Component("cli"),
	}

	var b backend.Backend
	if a.offline {
		svc, closeDB, err := backend.OpenRelay(ctx, cfg.OfflineDatabasePath(), relay.Config{
			AccessTokenTTL:  cfg.Server.AccessTokenTTL,
			RefreshTokenTTL: cfg.Server.RefreshTokenTTL,
			BcryptCost:      cfg.Server.BcryptCost,
		})
		if err != nil {
			return nil, fmt.Errorf("open offline relay: %w", err)
		}
		c.closers = append(c.closers, func() { _ = closeDB() })
		b = backend.NewLocal(svc, store)
		c.logger.Debug().Str("path", cfg.OfflineDatabasePath()).Msg("using offline relay")
	} else {
		rc, err := remote.New(cfg.Client.ServerURL,
			remote.WithStore(store),
			remote.WithHTTPClient(&http.Client{Timeout: cfg.Client.RequestTimeout}),
		)
		if err != nil {
			return nil, err
		}
		b = rc
		c.logger.Debug().Str("server", cfg.Client.ServerURL).Msg("using relay")
	}

	engineOpts := []engine.Option{engine.WithPageSize(cfg.Client.PageSize)}
	if opts.watchCache {
		watchCtx, cancel := context.WithCancel(context.Background())
		changes, err := store.Watch(watchCtx)
		if err != nil {
			cancel()
			c.Close()
			return nil, fmt.Errorf("watch state file: %w", err)
		}
		c.closers = append(c.closers, cancel)
		engineOpts = append(engineOpts, engine.WithCacheWatch(changes))
	}

	c.engine = engine.New(b, c.cache, engineOpts...)
	if err := c.engine.Start(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("restore session: %w", err)
	}
	return c, nil
}

// Close releases the engine first, then the backing resources in reverse order.
func (c *client) Close() {
	if c.engine != nil {
		c.engine.Close()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// requireSignedIn returns the active identity or a not-signed-in error.
func (c *client) requireSignedIn() (string, error) {
	state := c.engine.Snapshot()
	if state.Status != session.StatusAuthenticated || state.Identity == "" {
		return "", notSignedIn()
	}
	return state.Identity, nil
}
