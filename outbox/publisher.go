package outbox

import (
	"context"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
)

// Message is one event handed to a Publisher.
type Message struct {
	Topic   string
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// Publisher delivers relayed outbox messages.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
}

// KafkaPublisher publishes through a confluent-kafka producer and waits for
// the delivery report of each message.
type KafkaPublisher struct {
	producer        *kafka.Producer
	deliveryTimeout time.Duration
}

// NewKafkaPublisher connects a producer to the bootstrap servers.
func NewKafkaPublisher(bootstrapServers string) (*KafkaPublisher, error) {
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  bootstrapServers,
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox: create kafka producer: %w", err)
	}
	return &KafkaPublisher{producer: p, deliveryTimeout: 10 * time.Second}, nil
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, msg Message) error {
	headers := make([]kafka.Header, 0, len(msg.Headers))
	for k, v := range msg.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}
	topic := msg.Topic

	deliveryChan := make(chan kafka.Event, 1)
	defer close(deliveryChan)

	if err := p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &topic, Partition: kafka.PartitionAny},
		Key:            msg.Key,
		Value:          msg.Value,
		Headers:        headers,
	}, deliveryChan); err != nil {
		return fmt.Errorf("outbox: produce: %w", err)
	}

	select {
	case e := <-deliveryChan:
		delivered, ok := e.(*kafka.Message)
		if !ok {
			return fmt.Errorf("outbox: unexpected kafka event %T", e)
		}
		if delivered.TopicPartition.Error != nil {
			return fmt.Errorf("outbox: delivery failed: %w", delivered.TopicPartition.Error)
		}
		return nil
	case <-time.After(p.deliveryTimeout):
		return fmt.Errorf("outbox: delivery timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes outstanding messages and releases the producer.
func (p *KafkaPublisher) Close() {
	p.producer.Flush(15 * 1000)
	p.producer.Close()
}
