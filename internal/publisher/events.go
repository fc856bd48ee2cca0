// Package publisher emits order lifecycle events for downstream consumers
// (fulfilment, notifications).
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

type Events struct {
	writer *kafka.Writer
}

func NewEvents(brokers ...string) *Events {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  "storefront-orders",
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &Events{writer: w}
}

// OrderConfirmed publishes a settlement-confirmed event keyed by order id
// for per-order ordering.
func (e *Events) OrderConfirmed(ctx context.Context, orderID, provider string) error {
	payload := map[string]interface{}{
		"order_id":     orderID,
		"provider":     provider,
		"confirmed_at": time.Now(),
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal order event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(orderID),
		Value: payloadJSON,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte("order_confirmed")},
		},
	}
	return e.writer.WriteMessages(ctx, msg)
}

func (e *Events) Close() error {
	return e.writer.Close()
}
