package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"quotehub/internal/domain/model"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes quotes keyed by symbol, so one symbol always lands on one partition.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
	log    *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, log *slog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Snappy,
		RequiredAcks:           kafka.RequireOne,
		MaxAttempts:            3,
		WriteBackoffMin:        100 * time.Millisecond,
		WriteBackoffMax:        time.Second,
		BatchTimeout:           50 * time.Millisecond,
	}
	log.Info("kafka publisher created", "brokers", brokers, "topic", topic)
	return &KafkaPublisher{writer: w, topic: topic, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, quotes ...model.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	msgs := make([]kafka.Message, 0, len(quotes))
	for _, q := range quotes {
		data, err := json.Marshal(q)
		if err != nil {
			return fmt.Errorf("failed to marshal quote %s: %w", q.Symbol, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(q.Symbol),
			Value: data,
			Time:  q.Timestamp,
			Headers: []kafka.Header{
				{Key: "source", Value: []byte(q.Source)},
			},
		})
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		p.log.Error("failed to publish quotes", "topic", p.topic, "count", len(msgs), "error", err)
		return fmt.Errorf("failed to publish quotes: %w", err)
	}
	p.log.Debug("quotes published", "topic", p.topic, "count", len(msgs))
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Nop drops everything; it stands in when Kafka is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, ...model.Quote) error { return nil }
func (Nop) Close() error                                  { return nil }
