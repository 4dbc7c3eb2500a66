package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"trustcore/internal/platform/metrics"
	audit "trustcore/pkg/platform/audit"
	"trustcore/pkg/platform/audit/buffer"
	"trustcore/pkg/platform/circuit"
)

// Producer is the subset of *kgo.Client the sink needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
}

// wireEvent is the JSON document written to the topic.
type wireEvent struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Category   string            `json:"category"`
	EntityID   string            `json:"entity_id"`
	Actor      string            `json:"actor,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	OccurredAt string            `json:"occurred_at"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Sink implements audit.Sink on a Kafka topic. Records are keyed by entity
// id so all events for one entity land on one partition in order. Events
// that cannot be produced are held in a ring buffer and replayed, oldest
// first, after the next successful produce.
type Sink struct {
	producer Producer
	topic    string
	breaker  *circuit.Breaker
	pending  *buffer.RingBuffer
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type SinkOption func(*Sink)

func WithLogger(logger *slog.Logger) SinkOption {
	return func(s *Sink) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) SinkOption {
	return func(s *Sink) {
		s.metrics = m
	}
}

// WithBreaker overrides the default circuit breaker.
func WithBreaker(b *circuit.Breaker) SinkOption {
	return func(s *Sink) {
		s.breaker = b
	}
}

// WithBufferSize sets the replay buffer capacity.
func WithBufferSize(n int) SinkOption {
	return func(s *Sink) {
		s.pending = buffer.NewRingBuffer(n)
	}
}

func NewSink(producer Producer, topic string, opts ...SinkOption) *Sink {
	s := &Sink{
		producer: producer,
		topic:    topic,
		breaker:  circuit.New("kafka-events"),
		pending:  buffer.NewRingBuffer(10000),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append produces the event. On failure the event is buffered for replay
// and the produce error is returned.
func (s *Sink) Append(ctx context.Context, event audit.Event) error {
	if err := s.produce(ctx, event); err != nil {
		s.pending.Enqueue(event)
		s.onFailure(ctx, err)
		return err
	}
	s.onSuccess(ctx)
	return nil
}

// Pending returns the number of events waiting for replay.
func (s *Sink) Pending() int {
	return s.pending.Len()
}

// Flush replays buffered events until the buffer is empty or a produce fails.
func (s *Sink) Flush(ctx context.Context) error {
	for {
		batch := s.pending.DequeueBatch(100)
		if len(batch) == 0 {
			return nil
		}
		for i, event := range batch {
			if err := s.produce(ctx, event); err != nil {
				for _, e := range batch[i:] {
					s.pending.Enqueue(e)
				}
				s.onFailure(ctx, err)
				return err
			}
			s.metrics.ObserveEventPublished(true)
		}
	}
}

func (s *Sink) produce(ctx context.Context, event audit.Event) error {
	value, err := json.Marshal(wireEvent{
		ID:         event.ID.String(),
		Type:       string(event.Type),
		Category:   string(event.Category()),
		EntityID:   event.EntityID,
		Actor:      event.Actor,
		RequestID:  event.RequestID,
		OccurredAt: event.OccurredAt.UTC().Format(time.RFC3339Nano),
		Attributes: event.Attributes,
	})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	record := &kgo.Record{
		Topic: s.topic,
		Key:   []byte(event.EntityID),
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}
	return s.producer.ProduceSync(ctx, record).FirstErr()
}

func (s *Sink) onFailure(ctx context.Context, err error) {
	s.metrics.ObserveEventPublished(false)
	_, change := s.breaker.RecordFailure()
	if change.Opened {
		s.logger.WarnContext(ctx, "event stream circuit opened", "breaker", s.breaker.Name(), "error", err)
	}
	s.metrics.SetEventBuffer(s.pending.Len(), s.breaker.IsOpen())
}

func (s *Sink) onSuccess(ctx context.Context) {
	s.metrics.ObserveEventPublished(true)
	_, change := s.breaker.RecordSuccess()
	if change.Closed {
		s.logger.InfoContext(ctx, "event stream circuit closed", "breaker", s.breaker.Name(), "pending", s.pending.Len())
	}
	if s.pending.Len() > 0 && !s.breaker.IsOpen() {
		if err := s.Flush(ctx); err != nil {
			s.logger.WarnContext(ctx, "event replay interrupted", "error", err, "pending", s.pending.Len())
		}
	}
	s.metrics.SetEventBuffer(s.pending.Len(), s.breaker.IsOpen())
}
