package eventbus

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	HeaderEventID      = "orchestrator-event-id"
	HeaderEventType    = "orchestrator-event-type"
	HeaderDeadLetterID = "orchestrator-dead-letter-id"
	HeaderRetryCount   = "orchestrator-retry-count"
)

type KafkaProducerConfig struct {
	Brokers  []string
	ClientID string
	DLQTopic string
}

// MessageWriter is the part of kafka.Writer the producer needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaProducer struct {
	writer   MessageWriter
	dlqTopic string
}

func NewKafkaProducer(cfg KafkaProducerConfig) *KafkaProducer {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
		Transport: &kafka.Transport{
			ClientID: cfg.ClientID,
		},
	}
	return NewKafkaProducerWithWriter(writer, cfg.DLQTopic)
}

func NewKafkaProducerWithWriter(writer MessageWriter, dlqTopic string) *KafkaProducer {
	return &KafkaProducer{writer: writer, dlqTopic: dlqTopic}
}

func (p *KafkaProducer) PublishDLQ(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	if p.dlqTopic == "" {
		return errors.New("dlq topic is not configured")
	}

	message := kafka.Message{
		Topic:   p.dlqTopic,
		Key:     key,
		Value:   value,
		Headers: headers,
		Time:    time.Now(),
	}
	return p.writer.WriteMessages(ctx, message)
}

func (p *KafkaProducer) Close() error {
	return p.writer.Close()
}
