package main

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/dealership/internal/domain"
	"github.com/vladislavdragonenkov/dealership/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/dealership/internal/service/outbox"
)

var occurredAt = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

func deadLetterValue(t *testing.T, outboxID, orderID string) []byte {
	t.Helper()

	letter, err := json.Marshal(outbox.DeadLetter{
		OutboxID:      outboxID,
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     "order.created",
		Payload:       json.RawMessage(`{"order_id":"` + orderID + `"}`),
		PublishError:  "broker unavailable",
	})
	require.NoError(t, err)

	value, err := json.Marshal(kafka.NewEnvelope(domain.OutboxMessage{
		ID:            outboxID,
		AggregateType: "order",
		AggregateID:   orderID,
		EventType:     "order.created",
		Payload:       letter,
		CreatedAt:     occurredAt,
	}, occurredAt.Add(time.Minute)))
	require.NoError(t, err)
	return value
}

func TestParseConfig(t *testing.T) {
	env := func(values map[string]string) func(string) (string, bool) {
		return func(key string) (string, bool) {
			v, ok := values[key]
			return v, ok
		}
	}

	cfg, err := parseConfig(nil, env(map[string]string{envKafkaBrokers: " kafka-1:9092, ,kafka-2:9092 "}))
	require.NoError(t, err)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.brokers)
	require.Equal(t, kafka.TopicDeadLetterQueue, cfg.sourceTopic)
	require.Equal(t, kafka.TopicOrderEvents, cfg.targetTopic)
	require.False(t, cfg.execute)

	_, err = parseConfig(nil, env(nil))
	require.ErrorContains(t, err, "kafka brokers are required")

	_, err = parseConfig([]string{"-brokers=k:9092", "-target-topic=" + kafka.TopicDeadLetterQueue}, env(nil))
	require.ErrorContains(t, err, "must differ")

	_, err = parseConfig([]string{"-brokers=k:9092", "-limit=0"}, env(nil))
	require.ErrorContains(t, err, "limit must be > 0")
}

func TestDecodeDeadLetter(t *testing.T) {
	event, err := decodeDeadLetter(&sarama.ConsumerMessage{Value: deadLetterValue(t, "outbox-1", "order-1")})
	require.NoError(t, err)
	require.Equal(t, "outbox-1", event.ID)
	require.Equal(t, "order-1", event.AggregateID)
	require.Equal(t, "order.created", event.EventType)
	require.JSONEq(t, `{"order_id":"order-1"}`, string(event.Payload))
	require.True(t, event.CreatedAt.Equal(occurredAt))

	_, err = decodeDeadLetter(&sarama.ConsumerMessage{Value: []byte(`not json`)})
	require.ErrorIs(t, err, errNotDeadLetter)

	_, err = decodeDeadLetter(&sarama.ConsumerMessage{Value: []byte(`{"id":"x","payload":{"foo":"bar"}}`)})
	require.ErrorIs(t, err, errNotDeadLetter)
}

func TestReplayer_ExecuteRepublishes(t *testing.T) {
	source := newFakeSource(
		&sarama.ConsumerMessage{Partition: 0, Offset: 0, Value: deadLetterValue(t, "outbox-1", "order-1")},
		&sarama.ConsumerMessage{Partition: 0, Offset: 1, Value: []byte(`garbage`)},
		&sarama.ConsumerMessage{Partition: 0, Offset: 2, Value: deadLetterValue(t, "outbox-2", "order-2")},
	)
	publisher := &recordingPublisher{}

	r := &replayer{
		cfg:       config{sourceTopic: kafka.TopicDeadLetterQueue, limit: 10, idleTimeout: time.Second},
		client:    fakeClient{newest: 3},
		source:    source,
		publisher: publisher,
		logger:    log.WithField("test", "replay"),
	}

	stats, err := r.run(context.Background())
	require.NoError(t, err)
	require.Equal(t, replayStats{scanned: 3, replayed: 2, skipped: 1}, stats)
	require.Equal(t, []string{"outbox-1", "outbox-2"}, publisher.ids())
}

func TestReplayer_DryRunDoesNotPublish(t *testing.T) {
	source := newFakeSource(&sarama.ConsumerMessage{Offset: 0, Value: deadLetterValue(t, "outbox-1", "order-1")})

	r := &replayer{
		cfg:    config{sourceTopic: kafka.TopicDeadLetterQueue, limit: 10, idleTimeout: time.Second},
		client: fakeClient{newest: 1},
		source: source,
		logger: log.WithField("test", "dry-run"),
	}

	stats, err := r.run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.replayed)
}

func TestReplayer_RespectsLimit(t *testing.T) {
	source := newFakeSource(
		&sarama.ConsumerMessage{Offset: 0, Value: deadLetterValue(t, "outbox-1", "order-1")},
		&sarama.ConsumerMessage{Offset: 1, Value: deadLetterValue(t, "outbox-2", "order-2")},
	)
	publisher := &recordingPublisher{}

	r := &replayer{
		cfg:       config{sourceTopic: kafka.TopicDeadLetterQueue, limit: 1, idleTimeout: time.Second},
		client:    fakeClient{newest: 2},
		source:    source,
		publisher: publisher,
		logger:    log.WithField("test", "limit"),
	}

	stats, err := r.run(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stats.scanned)
	require.Equal(t, []string{"outbox-1"}, publisher.ids())
}

func TestReplayer_PublishErrorStops(t *testing.T) {
	source := newFakeSource(&sarama.ConsumerMessage{Offset: 0, Value: deadLetterValue(t, "outbox-1", "order-1")})

	r := &replayer{
		cfg:       config{sourceTopic: kafka.TopicDeadLetterQueue, limit: 10, idleTimeout: time.Second},
		client:    fakeClient{newest: 1},
		source:    source,
		publisher: &recordingPublisher{err: errors.New("broker down")},
		logger:    log.WithField("test", "publish-error"),
	}

	_, err := r.run(context.Background())
	require.ErrorContains(t, err, "broker down")
}

type fakeClient struct {
	newest int64
}

func (c fakeClient) Partitions(string) ([]int32, error) { return []int32{0}, nil }

func (c fakeClient) GetOffset(_ string, _ int32, at int64) (int64, error) {
	if at == sarama.OffsetNewest {
		return c.newest, nil
	}
	return 0, nil
}

type fakePartition struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
}

func (p *fakePartition) Messages() <-chan *sarama.ConsumerMessage { return p.messages }
func (p *fakePartition) Errors() <-chan *sarama.ConsumerError     { return p.errors }
func (p *fakePartition) Close() error                             { return nil }

type fakeSource struct {
	partition *fakePartition
}

func newFakeSource(msgs ...*sarama.ConsumerMessage) *fakeSource {
	p := &fakePartition{
		messages: make(chan *sarama.ConsumerMessage, len(msgs)),
		errors:   make(chan *sarama.ConsumerError),
	}
	for _, msg := range msgs {
		p.messages <- msg
	}
	return &fakeSource{partition: p}
}

func (s *fakeSource) ConsumePartition(string, int32, int64) (partitionConsumer, error) {
	return s.partition, nil
}

type recordingPublisher struct {
	mu        sync.Mutex
	err       error
	published []domain.OutboxMessage
}

func (p *recordingPublisher) Publish(_ context.Context, msg domain.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, msg)
	return nil
}

func (p *recordingPublisher) ids() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.published))
	for _, msg := range p.published {
		ids = append(ids, msg.ID)
	}
	return ids
}
