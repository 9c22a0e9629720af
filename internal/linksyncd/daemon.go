// Package linksyncd runs the linksync relay: the HTTP and WebSocket API over
// the SQLite store, plus periodic pruning of expired sessions.
package linksyncd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tOgg1/linksync/internal/config"
	"github.com/tOgg1/linksync/internal/db"
	"github.com/tOgg1/linksync/internal/events"
	"github.com/tOgg1/linksync/internal/relay"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Options override config for one daemon.
type Options struct {
	// ListenAddr overrides server.listen_addr.
	ListenAddr string

	// DatabasePath overrides the database path. ":memory:" keeps nothing.
	DatabasePath string
}

// Daemon is a running relay.
type Daemon struct {
	cfg      *config.Config
	logger   zerolog.Logger
	addr     string
	database *db.DB
	service  *relay.Service
	server   *http.Server

	mu       sync.Mutex
	listener net.Listener
	ready    chan struct{}
}

// New opens the database and builds the relay service.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Daemon, error) {
	addr := cfg.Server.ListenAddr
	if opts.ListenAddr != "" {
		addr = opts.ListenAddr
	}
	path := cfg.DatabasePath()
	if opts.DatabasePath != "" {
		path = opts.DatabasePath
	}

	database, err := db.Open(ctx, db.Config{
		Path:           path,
		MaxConnections: cfg.Server.Database.MaxConnections,
		BusyTimeoutMs:  cfg.Server.Database.BusyTimeoutMs,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	service := relay.NewService(database, events.NewInMemoryPublisher(), relay.Config{
		AccessTokenTTL:  cfg.Server.AccessTokenTTL,
		RefreshTokenTTL: cfg.Server.RefreshTokenTTL,
		BcryptCost:      cfg.Server.BcryptCost,
	})

	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		addr:     addr,
		database: database,
		service:  service,
		ready:    make(chan struct{}),
	}
	d.server = &http.Server{
		Handler:           relay.NewServer(service).Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return d, nil
}

// Service returns the relay service.
func (d *Daemon) Service() *relay.Service { return d.service }

// Database returns the relay database.
func (d *Daemon) Database() *db.DB { return d.database }

// Addr returns the bound address once Run is listening, else the configured one.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener != nil {
		return d.listener.Addr().String()
	}
	return d.addr
}

// Ready is closed once Run is accepting connections.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Run serves until ctx is canceled, then shuts down gracefully. Open
// streams are ended through their request contexts.
func (d *Daemon) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", d.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.addr, err)
	}
	d.mu.Lock()
	d.listener = listener
	d.mu.Unlock()

	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	d.server.BaseContext = func(net.Listener) context.Context { return baseCtx }

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		d.pruneLoop(baseCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- d.server.Serve(listener)
	}()
	close(d.ready)
	d.logger.Info().Str("addr", listener.Addr().String()).Msg("relay listening")

	select {
	case err := <-serveErr:
		cancelBase()
		wg.Wait()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	d.logger.Info().Msg("relay shutting down")
	cancelBase()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = d.server.Shutdown(shutdownCtx)
	wg.Wait()
	if err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (d *Daemon) pruneLoop(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Server.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.prune(ctx)
		}
	}
}

func (d *Daemon) prune(ctx context.Context) {
	n, err := d.service.PruneSessions(ctx)
	if err != nil {
		if ctx.Err() == nil {
			d.logger.Warn().Err(err).Msg("failed to prune sessions")
		}
		return
	}
	if n > 0 {
		d.logger.Info().Int64("sessions", n).Msg("pruned expired sessions")
	}
}

// Close closes the database. Call after Run returns.
func (d *Daemon) Close() error {
	return d.database.Close()
}
