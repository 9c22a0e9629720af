// Package events fans out newly inserted messages to live subscribers.
package events

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/tOgg1/linksync/internal/logging"
	"github.com/tOgg1/linksync/internal/models"
)

// Handler is invoked for each message matching a subscription.
type Handler func(msg models.Message)

// Filter scopes a subscription.
type Filter struct {
	// OwnerIdentity restricts delivery to one identity's rows (empty = all).
	OwnerIdentity string

	// Types restricts delivery to message types (nil = all).
	Types []models.MessageType
}

// Matches returns true if the message matches the filter criteria.
func (f *Filter) Matches(msg models.Message) bool {
	if f.OwnerIdentity != "" && models.NormalizeIdentity(msg.OwnerIdentity) != models.NormalizeIdentity(f.OwnerIdentity) {
		return false
	}
	if len(f.Types) > 0 {
		for _, t := range f.Types {
			if msg.Type == t {
				return true
			}
		}
		return false
	}
	return true
}

type subscription struct {
	id      string
	filter  Filter
	handler Handler
}

// Publisher defines insert-event publishing and subscription.
type Publisher interface {
	// Publish sends a message to all matching subscribers.
	Publish(ctx context.Context, msg models.Message)

	// Subscribe registers a handler for messages matching the filter.
	Subscribe(id string, filter Filter, handler Handler) error

	// Unsubscribe removes a subscription by ID.
	Unsubscribe(id string) error

	// SubscriberCount returns the number of active subscribers.
	SubscriberCount() int
}

// InMemoryPublisher implements Publisher using in-process pub/sub.
type InMemoryPublisher struct {
	mu            sync.RWMutex
	subscriptions map[string]*subscription
}

// NewInMemoryPublisher creates a new in-memory publisher.
func NewInMemoryPublisher() *InMemoryPublisher {
	return &InMemoryPublisher{
		subscriptions: make(map[string]*subscription),
	}
}

// Publish sends a message to all matching subscribers synchronously.
func (p *InMemoryPublisher) Publish(ctx context.Context, msg models.Message) {
	p.mu.RLock()
	var handlers []Handler
	for _, sub := range p.subscriptions {
		if sub.filter.Matches(msg) {
			handlers = append(handlers, sub.handler)
		}
	}
	p.mu.RUnlock()

	// Invoke handlers outside the lock to avoid deadlocks
	for _, handler := range handlers {
		if ctx.Err() != nil {
			return
		}
		handler(msg)
	}
}

// Subscribe registers a handler to receive messages matching the filter.
func (p *InMemoryPublisher) Subscribe(id string, filter Filter, handler Handler) error {
	if strings.TrimSpace(id) == "" {
		return ErrInvalidSubscriptionID
	}
	if handler == nil {
		return ErrNilHandler
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; exists {
		return ErrSubscriptionExists
	}
	p.subscriptions[id] = &subscription{
		id:      id,
		filter:  filter,
		handler: handler,
	}
	return nil
}

// Unsubscribe removes a subscription by ID.
func (p *InMemoryPublisher) Unsubscribe(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.subscriptions[id]; !exists {
		return ErrSubscriptionNotFound
	}
	delete(p.subscriptions, id)
	return nil
}

// SubscriberCount returns the number of active subscribers.
func (p *InMemoryPublisher) SubscriberCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscriptions)
}

// Close removes all subscriptions.
func (p *InMemoryPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscriptions = make(map[string]*subscription)
}

// Stream subscribes with a buffered channel. A reader that lets the buffer
// fill is cut off: the subscription ends and the channel is closed, so
// Publish never blocks and the reader can resubscribe from its last seen id
// instead of silently missing a message. The returned cancel func
// unsubscribes and closes the channel; it is safe to call twice.
func Stream(p Publisher, filter Filter, buffer int) (<-chan models.Message, func(), error) {
	if buffer <= 0 {
		buffer = 64
	}
	out := make(chan models.Message, buffer)
	id := uuid.NewString()

	var (
		mu     sync.Mutex
		closed bool
	)
	err := p.Subscribe(id, filter, func(msg models.Message) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- msg:
		default:
			logging.Component("events").Warn().
				Str("identity", filter.OwnerIdentity).
				Str("message_id", msg.ID).
				Int("buffer", buffer).
				Msg("stream reader fell behind, closing stream")
			closed = true
			_ = p.Unsubscribe(id)
			close(out)
		}
	})
	if err != nil {
		return nil, nil, err
	}

	cancel := func() {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		closed = true
		_ = p.Unsubscribe(id)
		close(out)
	}
	return out, cancel, nil
}

// Errors for publisher operations.
var (
	ErrInvalidSubscriptionID = &PublisherError{Message: "subscription ID is required"}
	ErrNilHandler            = &PublisherError{Message: "handler cannot be nil"}
	ErrSubscriptionExists    = &PublisherError{Message: "subscription with this ID already exists"}
	ErrSubscriptionNotFound  = &PublisherError{Message: "subscription not found"}
)

// PublisherError represents an error from publisher operations.
type PublisherError struct {
	Message string
}

func (e *PublisherError) Error() string {
	return e.Message
}
