package kafka

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/yourorg/market-ingest/internal/model"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageWriter is the part of *kafka.Writer the producer needs
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes JSON messages to Kafka topics
type Producer struct {
	mu        sync.Mutex
	writers   map[string]MessageWriter
	newWriter func(topic string) MessageWriter
	logger    *zap.Logger
}

// NewProducer creates a new Kafka producer
func NewProducer(brokers []string, clientID string, logger *zap.Logger) *Producer {
	return &Producer{
		writers: make(map[string]MessageWriter),
		newWriter: func(topic string) MessageWriter {
			return &kafka.Writer{
				Addr:         kafka.TCP(brokers...),
				Topic:        topic,
				Balancer:     &kafka.Hash{},
				BatchSize:    100,
				BatchTimeout: 10 * time.Millisecond,
				RequiredAcks: kafka.RequireOne,
				Transport: &kafka.Transport{
					ClientID: clientID,
				},
			}
		},
		logger: logger,
	}
}

func (p *Producer) writer(topic string) MessageWriter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.writers[topic]; ok {
		return w
	}
	w := p.newWriter(topic)
	p.writers[topic] = w
	return w
}

// Publish marshals value to JSON and writes it to topic under key
func (p *Producer) Publish(ctx context.Context, topic, key string, value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		p.logger.Error("Failed to marshal message", zap.String("topic", topic), zap.Error(err))
		return err
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now(),
	}
	if err := p.writer(topic).WriteMessages(ctx, msg); err != nil {
		p.logger.Error("Failed to publish message",
			zap.String("topic", topic),
			zap.String("key", key),
			zap.Error(err))
		return err
	}

	p.logger.Debug("Message published", zap.String("topic", topic), zap.String("key", key))
	return nil
}

// Close closes all Kafka writers
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for topic, w := range p.writers {
		if err := w.Close(); err != nil {
			p.logger.Error("Failed to close Kafka writer", zap.String("topic", topic), zap.Error(err))
		}
	}
	p.writers = make(map[string]MessageWriter)
	return nil
}

// IngestEventPublisher sends ingest events to a fixed topic, keyed by file
type IngestEventPublisher struct {
	producer *Producer
	topic    string
}

// NewIngestEventPublisher creates a publisher for ingest events
func NewIngestEventPublisher(producer *Producer, topic string) *IngestEventPublisher {
	return &IngestEventPublisher{producer: producer, topic: topic}
}

// PublishIngestEvent publishes one event
func (p *IngestEventPublisher) PublishIngestEvent(ctx context.Context, event model.IngestEvent) error {
	return p.producer.Publish(ctx, p.topic, event.File, event)
}
