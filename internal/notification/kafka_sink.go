package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/segmentio/kafka-go"
)

const DefaultKafkaTopic = "storefront-notifications"

// KafkaSink publishes notifications keyed by user id, so one user's notifications
// stay ordered within a partition.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(topic string, brokers ...string) *KafkaSink {
	if topic == "" {
		topic = DefaultKafkaTopic
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
	return &KafkaSink{writer: w}
}

type kafkaPayload struct {
	UserID       string              `json:"user_id"`
	Notification domain.Notification `json:"notification"`
}

func (s *KafkaSink) Deliver(ctx context.Context, userID string, n domain.Notification) error {
	payload, err := json.Marshal(kafkaPayload{UserID: userID, Notification: n})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(userID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "notification_type", Value: []byte(n.Type)},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write notification %s: %w", n.ID, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
