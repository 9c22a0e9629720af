// Package timeline holds one identity's ordered message list. It merges
// paginated history with the live insert stream.
package timeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/tOgg1/linksync/internal/backend"
	"github.com/tOgg1/linksync/internal/classify"
	"github.com/tOgg1/linksync/internal/logging"
	"github.com/tOgg1/linksync/internal/models"
)

// DefaultPageSize is the number of messages per page.
const DefaultPageSize = 25

// Timeline errors.
var (
	ErrEmptyContent = errors.New("message is empty")
	ErrClosed       = errors.New("timeline closed")
)

// SubmitError reports a write the backend refused. The caller should keep
// the user's input for resubmission.
type SubmitError struct {
	Err error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("send failed: %v", e.Err)
}

func (e *SubmitError) Unwrap() error {
	return e.Err
}

// EventKind identifies a timeline event.
type EventKind int

const (
	// EventChanged means the snapshot changed.
	EventChanged EventKind = iota

	// EventLinkReceived means a url message arrived on the live stream.
	EventLinkReceived
)

// Event is emitted to the store's Notify func.
type Event struct {
	Kind    EventKind
	Message models.Message
}

// Options configures a Store.
type Options struct {
	PageSize int

	// Notify receives events. It is called without the store lock held.
	Notify func(Event)
}

// View is a point-in-time copy of the store state.
type View struct {
	Identity          string
	Messages          []models.Message
	Cursor            int
	HasMore           bool
	InitialFailed     bool
	IsFetchingInitial bool
	IsFetchingMore    bool
	IsSubmitting      bool
}

// Store is the timeline for a single identity. A new Store is made whenever
// the active identity changes.
type Store struct {
	backend  backend.Backend
	identity string
	pageSize int
	notify   func(Event)
	logger   zerolog.Logger

	mu          sync.Mutex
	messages    []models.Message
	ids         map[string]struct{}
	cursor      int
	hasMore     bool
	initFailed  bool
	loadingInit bool
	loadingMore bool
	submitting  int
	pushed      []models.Message
	generation  uint64
	closed      bool

	subscribed  bool
	unsubscribe func()
	streamDone  chan struct{}
}

// New creates an empty store for identity.
func New(b backend.Backend, identity string, opts Options) *Store {
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Notify == nil {
		opts.Notify = func(Event) {}
	}
	return &Store{
		backend:  b,
		identity: models.NormalizeIdentity(identity),
		pageSize: opts.PageSize,
		notify:   opts.Notify,
		logger:   logging.WithIdentity(logging.Component("timeline"), identity),
		ids:      make(map[string]struct{}),
	}
}

// Identity returns the identity the store is scoped to.
func (s *Store) Identity() string {
	return s.identity
}

// View returns a copy of the current state.
func (s *Store) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		Identity:          s.identity,
		Messages:          slices.Clone(s.messages),
		Cursor:            s.cursor,
		HasMore:           s.hasMore,
		InitialFailed:     s.initFailed,
		IsFetchingInitial: s.loadingInit,
		IsFetchingMore:    s.loadingMore,
		IsSubmitting:      s.submitting > 0,
	}
}

// LoadInitial fetches page 0 and replaces the list with it. It opens the
// live subscription on first use. In-flight page loads are invalidated.
func (s *Store) LoadInitial(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.generation++
	gen := s.generation
	s.loadingInit = true
	s.loadingMore = false
	s.pushed = nil
	s.mu.Unlock()

	s.subscribe()
	s.notify(Event{Kind: EventChanged})

	page, err := s.backend.QueryPage(ctx, s.identity, 0, s.pageSize)

	s.mu.Lock()
	if s.closed || s.generation != gen {
		s.mu.Unlock()
		s.logger.Debug().Msg("discarding stale initial page")
		return nil
	}
	s.loadingInit = false
	if err != nil {
		s.initFailed = true
		s.mu.Unlock()
		s.notify(Event{Kind: EventChanged})
		return fmt.Errorf("load initial page: %w", err)
	}
	s.initFailed = false
	// Pushes that raced the fetch are newer than the page and are kept.
	pushed := s.pushed
	s.pushed = nil
	s.messages = nil
	s.ids = make(map[string]struct{}, len(page)+len(pushed))
	s.mergeLocked(pushed)
	s.mergeLocked(page)
	s.cursor = 0
	s.hasMore = len(page) == s.pageSize
	s.mu.Unlock()

	s.notify(Event{Kind: EventChanged})
	return nil
}

// LoadMore fetches the next page and appends it. It is a no-op while another
// page load runs or when no more pages exist. The cursor only advances when
// the fetch succeeds. If page 0 itself failed, LoadMore retries it.
func (s *Store) LoadMore(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.initFailed && !s.loadingInit {
		s.mu.Unlock()
		return s.LoadInitial(ctx)
	}
	if s.loadingMore || s.loadingInit || !s.hasMore {
		s.mu.Unlock()
		return nil
	}
	gen := s.generation
	next := s.cursor + 1
	s.loadingMore = true
	s.mu.Unlock()

	s.notify(Event{Kind: EventChanged})

	page, err := s.backend.QueryPage(ctx, s.identity, next*s.pageSize, s.pageSize)

	s.mu.Lock()
	if s.closed || s.generation != gen {
		s.mu.Unlock()
		s.logger.Debug().Int("page", next).Msg("discarding stale page")
		return nil
	}
	s.loadingMore = false
	if err != nil {
		s.mu.Unlock()
		s.notify(Event{Kind: EventChanged})
		return fmt.Errorf("load page %d: %w", next, err)
	}
	s.mergeLocked(page)
	s.cursor = next
	s.hasMore = len(page) == s.pageSize
	s.mu.Unlock()

	s.notify(Event{Kind: EventChanged})
	return nil
}

// OnPush applies a message from the live stream. Messages for other
// identities and ids already present are ignored.
func (s *Store) OnPush(msg models.Message) {
	s.mu.Lock()
	if s.closed || models.NormalizeIdentity(msg.OwnerIdentity) != s.identity {
		s.mu.Unlock()
		return
	}
	if _, ok := s.ids[msg.ID]; ok {
		s.mu.Unlock()
		return
	}
	s.insertLocked(msg)
	if s.loadingInit {
		s.pushed = append(s.pushed, msg)
	}
	s.mu.Unlock()

	if msg.IsURL() {
		s.notify(Event{Kind: EventLinkReceived, Message: msg})
	}
	s.notify(Event{Kind: EventChanged})
}

// Submit classifies content and sends it to the backend. Nothing is added
// locally; the stored copy arrives through the live stream.
func (s *Store) Submit(ctx context.Context, content string) error {
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	result := classify.Classify(content)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.submitting++
	s.mu.Unlock()
	s.notify(Event{Kind: EventChanged})

	err := s.backend.Insert(ctx, models.MessageDraft{
		Content:       result.Normalized,
		Type:          result.Type,
		OwnerIdentity: s.identity,
	})

	s.mu.Lock()
	s.submitting--
	s.mu.Unlock()
	s.notify(Event{Kind: EventChanged})

	if err != nil {
		return &SubmitError{Err: err}
	}
	return nil
}

// Close stops the live subscription and discards any in-flight results.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.generation++
	unsubscribe := s.unsubscribe
	done := s.streamDone
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
		<-done
	}
}

// subscribe opens the live stream once. The backend call runs without the
// lock because it may wait for a network handshake.
func (s *Store) subscribe() {
	s.mu.Lock()
	if s.subscribed || s.closed {
		s.mu.Unlock()
		return
	}
	s.subscribed = true
	s.mu.Unlock()

	stream, cancel := s.backend.SubscribeInserts(s.identity)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range stream {
			s.OnPush(msg)
		}
	}()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		<-done
		return
	}
	s.unsubscribe = cancel
	s.streamDone = done
	s.mu.Unlock()
}

// mergeLocked adds page entries not yet present and keeps the list sorted.
// Pages normally hold strictly older rows, so this is an append.
func (s *Store) mergeLocked(page []models.Message) {
	for _, msg := range page {
		if _, ok := s.ids[msg.ID]; ok {
			continue
		}
		s.ids[msg.ID] = struct{}{}
		s.messages = append(s.messages, msg)
	}
	if !slices.IsSortedFunc(s.messages, compareMessages) {
		slices.SortStableFunc(s.messages, compareMessages)
	}
}

func (s *Store) insertLocked(msg models.Message) {
	idx, _ := slices.BinarySearchFunc(s.messages, msg, compareMessages)
	s.messages = slices.Insert(s.messages, idx, msg)
	s.ids[msg.ID] = struct{}{}
}

// compareMessages orders newest first.
func compareMessages(a, b models.Message) int {
	switch {
	case a.NewerThan(b):
		return -1
	case b.NewerThan(a):
		return 1
	default:
		return 0
	}
}
