package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"
)

const (
	batchTimeout = 10 * time.Millisecond
	batchSize    = 100
	writeTimeout = 2 * time.Second
	maxAttempts  = 3
)

// MessageWriter is the part of kafka-go's Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

type KafkaPublisher struct {
	writer MessageWriter
}

// NewKafkaPublisher writes to topic on the comma-separated brokers. Events
// of one option share a partition.
func NewKafkaPublisher(brokers, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafkago.Writer{
			Addr:         kafkago.TCP(strings.Split(brokers, ",")...),
			Topic:        topic,
			Balancer:     &kafkago.Hash{},
			BatchTimeout: batchTimeout,
			BatchSize:    batchSize,
			RequiredAcks: kafkago.RequireOne,
			WriteTimeout: writeTimeout,
			MaxAttempts:  maxAttempts,
		},
	}
}

func NewKafkaPublisherWithWriter(w MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: w}
}

func (p *KafkaPublisher) Publish(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", evt.Type, err)
	}
	msg := kafkago.Message{
		Key:   []byte(evt.Key()),
		Value: payload,
		Headers: []kafkago.Header{
			{Key: "event-type", Value: []byte(evt.Type)},
			{Key: "event-id", Value: []byte(evt.ID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s: %w", evt.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Discard drops events; used when no broker is configured.
type Discard struct{}

func (Discard) Publish(context.Context, Event) error { return nil }
