package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"ms-fairpass/internal/config"
	"ms-fairpass/internal/logger"
	"ms-fairpass/internal/models"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer publishes booking lifecycle events, keyed by intent id so every
// event of one intent lands on the same partition.
type Producer struct {
	Writer messageWriter
	Topics config.TopicConfig
	Logger *logger.Logger
}

func NewProducer(brokers []string, topics config.TopicConfig, log *logger.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newProducer(writer, topics, log)
}

func newProducer(w messageWriter, topics config.TopicConfig, log *logger.Logger) *Producer {
	if log == nil {
		log = logger.NewLoggerWithWriter(io.Discard)
	}
	return &Producer{Writer: w, Topics: topics, Logger: log}
}

// TopicFor maps an event type onto its configured topic.
func (p *Producer) TopicFor(eventType models.BookingEventType) (string, error) {
	switch eventType {
	case models.BookingReserved:
		return p.Topics.Reserved, nil
	case models.BookingConfirmed:
		return p.Topics.Confirmed, nil
	case models.BookingCancelled:
		return p.Topics.Cancelled, nil
	case models.BookingExpired:
		return p.Topics.Expired, nil
	}
	return "", fmt.Errorf("no topic for booking event type %q", eventType)
}

func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	err := p.Writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	return nil
}

// PublishBookingEvent streams a booking event to the topic of its type
func (p *Producer) PublishBookingEvent(ctx context.Context, event models.BookingEvent) error {
	topic, err := p.TopicFor(event.Type)
	if err != nil {
		return err
	}

	msgBytes, err := json.Marshal(event)
	if err != nil {
		return err
	}

	if err := p.Publish(ctx, topic, event.IntentID, msgBytes); err != nil {
		return err
	}
	p.Logger.LogKafka("PUBLISH", topic, fmt.Sprintf("%s intent=%s tickets=%d", event.Type, event.IntentID, len(event.TicketIDs)))
	return nil
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}
