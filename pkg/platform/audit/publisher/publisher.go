// Package publisher fans protocol events out to a store and optional sinks.
package publisher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	audit "trustcore/pkg/platform/audit"
)

// ErrBufferFull is returned by Emit in async mode when the buffer cannot
// accept another event.
var ErrBufferFull = errors.New("audit buffer full")

// Publisher records events in a store and forwards them to sinks. In async
// mode events are queued to a buffered channel and written by a single
// background goroutine; Close drains the queue.
type Publisher struct {
	store  audit.Store
	sinks  []audit.Sink
	logger *slog.Logger

	queue  chan audit.Event
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithAsyncBuffer enables async mode with the given queue size.
func WithAsyncBuffer(size int) Option {
	return func(p *Publisher) {
		if size > 0 {
			p.queue = make(chan audit.Event, size)
		}
	}
}

// WithSinks adds delivery sinks. Sink failures are logged and never
// surface to the emitter.
func WithSinks(sinks ...audit.Sink) Option {
	return func(p *Publisher) {
		p.sinks = append(p.sinks, sinks...)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

func NewPublisher(store audit.Store, opts ...Option) *Publisher {
	p := &Publisher{store: store}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.queue != nil {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

// Emit records an event. ID and OccurredAt are filled in when unset.
func (p *Publisher) Emit(ctx context.Context, event audit.Event) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	if p.queue == nil {
		return p.deliver(ctx, event)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return p.deliver(ctx, event)
	}

	select {
	case p.queue <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		p.logger.WarnContext(ctx, "audit buffer full, dropping event",
			"event_type", string(event.Type),
			"entity_id", event.EntityID,
		)
		return ErrBufferFull
	}
}

// List returns the stored events for an entity.
func (p *Publisher) List(ctx context.Context, entityID string) ([]audit.Event, error) {
	return p.store.ListByEntity(ctx, entityID)
}

// Recent returns the most recent stored events.
func (p *Publisher) Recent(ctx context.Context, limit int) ([]audit.Event, error) {
	return p.store.ListRecent(ctx, limit)
}

// Close stops accepting async events and waits for the queue to drain.
func (p *Publisher) Close() {
	if p.queue == nil {
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for event := range p.queue {
		if err := p.deliver(context.Background(), event); err != nil {
			p.logger.Error("failed to persist audit event",
				"event_type", string(event.Type),
				"entity_id", event.EntityID,
				"error", err,
			)
		}
	}
}

func (p *Publisher) deliver(ctx context.Context, event audit.Event) error {
	if err := p.store.Append(ctx, event); err != nil {
		return err
	}
	for _, sink := range p.sinks {
		if err := sink.Append(ctx, event); err != nil {
			p.logger.WarnContext(ctx, "event sink append failed",
				"event_type", string(event.Type),
				"error", err,
			)
		}
	}
	return nil
}
