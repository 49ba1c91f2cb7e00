package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink streams every event to a topic keyed by session id, so a
// session's events stay ordered within one partition.
type KafkaSink struct {
	writer MessageWriter
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}})
	return &KafkaSink{writer: w}
}

func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink { return &KafkaSink{writer: w} }

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Handle(ctx context.Context, e Event) error {
	b, err := json.Marshal(NewMessage(e))
	if err != nil {
		return fmt.Errorf("encode dispatch message: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.SessionID), Value: b, Time: e.At})
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
