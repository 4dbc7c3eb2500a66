package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"trustcore/internal/platform/metrics"
	audit "trustcore/pkg/platform/audit"
	"trustcore/pkg/platform/circuit"
)

type fakeProducer struct {
	mu      sync.Mutex
	fail    bool
	records []*kgo.Record
}

func (p *fakeProducer) ProduceSync(_ context.Context, rs ...*kgo.Record) kgo.ProduceResults {
	p.mu.Lock()
	defer p.mu.Unlock()
	results := make(kgo.ProduceResults, 0, len(rs))
	for _, r := range rs {
		if p.fail {
			results = append(results, kgo.ProduceResult{Record: r, Err: errors.New("broker unavailable")})
			continue
		}
		p.records = append(p.records, r)
		results = append(results, kgo.ProduceResult{Record: r})
	}
	return results
}

func (p *fakeProducer) setFail(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fail
}

type SinkSuite struct {
	suite.Suite
	producer *fakeProducer
	sink     *Sink
}

func TestSinkSuite(t *testing.T) {
	suite.Run(t, new(SinkSuite))
}

func (s *SinkSuite) SetupTest() {
	s.producer = &fakeProducer{}
	s.sink = NewSink(s.producer, "trustcore.events",
		WithBreaker(circuit.New("test", circuit.WithFailureThreshold(2))),
		WithMetrics(metrics.New(prometheus.NewRegistry())),
	)
}

func newEvent(entity string) audit.Event {
	return audit.Event{
		ID:         uuid.New(),
		Type:       audit.EventSettlementCreated,
		EntityID:   entity,
		OccurredAt: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Attributes: map[string]string{"amount": "1000"},
	}
}

func (s *SinkSuite) TestAppend() {
	s.Run("produces keyed json record", func() {
		s.Require().NoError(s.sink.Append(context.Background(), newEvent("settlement-1")))

		s.Require().Len(s.producer.records, 1)
		rec := s.producer.records[0]
		s.Equal("trustcore.events", rec.Topic)
		s.Equal("settlement-1", string(rec.Key))

		var body map[string]any
		s.Require().NoError(json.Unmarshal(rec.Value, &body))
		s.Equal("settlement.created", body["type"])
		s.Equal("operations", body["category"])
	})
}

func (s *SinkSuite) TestFailureBuffersAndReplays() {
	ctx := context.Background()
	s.producer.setFail(true)

	s.Error(s.sink.Append(ctx, newEvent("a")))
	s.Error(s.sink.Append(ctx, newEvent("b")))
	s.Equal(2, s.sink.Pending())

	s.producer.setFail(false)
	s.Require().NoError(s.sink.Append(ctx, newEvent("c")))

	s.Zero(s.sink.Pending(), "buffer should drain once the stream recovers")
	s.Require().Len(s.producer.records, 3)
	s.Equal("c", string(s.producer.records[0].Key))
	s.Equal("a", string(s.producer.records[1].Key))
	s.Equal("b", string(s.producer.records[2].Key))
}

func (s *SinkSuite) TestFlushStopsOnFailure() {
	ctx := context.Background()
	s.producer.setFail(true)
	_ = s.sink.Append(ctx, newEvent("a"))

	s.Error(s.sink.Flush(ctx))
	s.Equal(1, s.sink.Pending())
}
