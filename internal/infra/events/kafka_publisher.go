package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"course-billing/internal/config"
	"course-billing/internal/domain/ports/adapter"
	"course-billing/internal/infra/metrics"
)

var _ adapter.EventPublisher = (*KafkaPublisher)(nil)

type kafkaProducer interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Flush(timeoutMs int) int
	Close()
}

// KafkaPublisher keys messages by user id so one user's grants stay ordered.
type KafkaPublisher struct {
	producer kafkaProducer
	topic    string
}

func NewKafkaPublisher(cfg config.EventsConfig) (*KafkaPublisher, error) {
	brokers := strings.Trim(cfg.Kafka.Brokers, "\"")
	p, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers":  brokers,
		"acks":               "all",
		"enable.idempotence": true,
	})
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}
	return &KafkaPublisher{producer: p, topic: cfg.Kafka.Topic}, nil
}

func (p *KafkaPublisher) PublishEntitlementGranted(ctx context.Context, ev adapter.EntitlementGranted) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	delivery := make(chan kafka.Event, 1)
	err = p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(ev.UserID),
		Value:          body,
		Headers:        []kafka.Header{{Key: "event_type", Value: []byte("entitlement.granted")}},
	}, delivery)
	if err != nil {
		metrics.IncEventPublished("kafka", "error")
		return fmt.Errorf("kafka produce: %w", err)
	}

	select {
	case <-ctx.Done():
		metrics.IncEventPublished("kafka", "error")
		return ctx.Err()
	case e := <-delivery:
		if m, ok := e.(*kafka.Message); ok && m.TopicPartition.Error != nil {
			metrics.IncEventPublished("kafka", "error")
			return fmt.Errorf("kafka delivery: %w", m.TopicPartition.Error)
		}
	}
	metrics.IncEventPublished("kafka", "ok")
	return nil
}

func (p *KafkaPublisher) Close() error {
	p.producer.Flush(5000)
	p.producer.Close()
	return nil
}
