package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const clientID = "dealer-service"

// Message: запись для отправки: Value сериализуется в JSON.
type Message struct {
	Topic   string
	Key     string
	Value   any
	Headers map[string]string
}

// Delivery: куда брокер записал сообщение.
type Delivery struct {
	Partition int32
	Offset    int64
}

// Producer: синхронный Kafka producer, отдающий JSON-сообщения.
type Producer struct {
	sync   sarama.SyncProducer
	logger *log.Entry
	now    func() time.Time
}

// NewProducer подключается к brokers с идемпотентной доставкой и acks=all.
func NewProducer(brokers []string, logger *log.Entry) (*Producer, error) {
	sync, err := sarama.NewSyncProducer(brokers, producerConfig())
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return NewProducerFromSync(sync, logger), nil
}

// NewProducerFromSync оборачивает готовый sarama.SyncProducer, например из sarama/mocks.
func NewProducerFromSync(sync sarama.SyncProducer, logger *log.Entry) *Producer {
	if logger == nil {
		logger = log.WithField("component", "kafka-producer")
	}
	return &Producer{sync: sync, logger: logger, now: time.Now}
}

func producerConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Return.Successes = true
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Compression = sarama.CompressionSnappy
	// Idempotent producer требует ровно один запрос в полёте на соединение.
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	return cfg
}

// Send сериализует msg.Value и ждёт подтверждения брокера.
func (p *Producer) Send(ctx context.Context, msg Message) (Delivery, error) {
	if err := ctx.Err(); err != nil {
		return Delivery{}, err
	}

	record, err := p.record(msg)
	if err != nil {
		return Delivery{}, err
	}

	logger := p.logger.WithFields(log.Fields{"topic": msg.Topic, "key": msg.Key})
	partition, offset, err := p.sync.SendMessage(record)
	if err != nil {
		logger.WithError(err).Error("kafka send failed")
		return Delivery{}, fmt.Errorf("send to %s: %w", msg.Topic, err)
	}
	logger.WithFields(log.Fields{"partition": partition, "offset": offset}).Debug("kafka message sent")
	return Delivery{Partition: partition, Offset: offset}, nil
}

// record собирает sarama-сообщение; заголовки идут в порядке имён.
func (p *Producer) record(msg Message) (*sarama.ProducerMessage, error) {
	value, err := json.Marshal(msg.Value)
	if err != nil {
		return nil, fmt.Errorf("encode kafka message for %s: %w", msg.Topic, err)
	}

	record := &sarama.ProducerMessage{
		Topic:     msg.Topic,
		Key:       sarama.StringEncoder(msg.Key),
		Value:     sarama.ByteEncoder(value),
		Timestamp: p.now(),
	}

	names := make([]string, 0, len(msg.Headers))
	for name := range msg.Headers {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		record.Headers = append(record.Headers, sarama.RecordHeader{Key: []byte(name), Value: []byte(msg.Headers[name])})
	}
	return record, nil
}

// Close закрывает соединения с брокерами.
func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("close kafka producer: %w", err)
	}
	return nil
}
