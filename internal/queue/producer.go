// Package queue implements the Queue Consumer of spec.md §4.2 (and the
// producer side ingress uses): a kafka-go reader with consumer-group
// semantics feeding a bounded worker pool, and a writer wrapping kafka-go's
// Writer, grounded in the teacher's internal/tools/kafka/kafka.go (Writer
// interface) and internal/orchestrator/kafka.go (StartKafkaConsumer).
package queue

import (
	"context"
	"strings"

	"github.com/segmentio/kafka-go"
)

// Producer implements internal/ingress.Enqueuer by writing the raw event
// body onto the configured Kafka topic.
type Producer struct {
	writer *kafka.Writer
}

// NewProducer builds a Producer against brokers (comma-separated) and topic.
func NewProducer(brokers, topic string) *Producer {
	return &Producer{writer: &kafka.Writer{
		Addr:     kafka.TCP(splitBrokers(brokers)...),
		Topic:    topic,
		Balancer: &kafka.LeastBytes{},
	}}
}

// Enqueue writes body as a single Kafka message with no key: the gateway
// never parses the envelope, so no stable partition key is available yet
// (§4.1 — "the gateway never touches the database").
func (p *Producer) Enqueue(ctx context.Context, body []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{Value: body})
}

// Close flushes and closes the underlying writer.
func (p *Producer) Close() error { return p.writer.Close() }

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			out = append(out, b)
		}
	}
	return out
}
