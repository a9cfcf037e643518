/*
Package notify publishes alert lifecycle events to external sinks.

PURPOSE:
  When the evaluator creates an alert, downstream systems (the admin
  console, a WhatsApp bridge, a reporting pipeline) want to hear about
  it. This package adapts engine.Notifier onto a Kafka topic.

DELIVERY SEMANTICS:
  Best effort. A publish failure is logged and counted; it never fails
  the evaluation tick and never blocks status updates. The alert row in
  the store is the source of truth, the event is a convenience.

USAGE:
  notifier := notify.NewKafkaNotifier(brokers, "shelflife.alerts", logger)
  defer notifier.Close()

SEE ALSO:
  - engine/store.go: Notifier interface and NopNotifier
  - api/scheduler.go: Where notifications are emitted
*/
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/yoamart/shelflife/engine"
)

// AlertEvent is the wire shape published for each created alert.
type AlertEvent struct {
	AlertID   string    `json:"alert_id"`
	BatchID   string    `json:"batch_id"`
	RuleID    string    `json:"rule_id,omitempty"`
	AlertType string    `json:"alert_type"`
	AlertDate time.Time `json:"alert_date"`
	CreatedAt time.Time `json:"created_at"`
}

// KafkaNotifier publishes AlertEvents to a Kafka topic, keyed by batch
// id so all events for one batch land on one partition in order.
type KafkaNotifier struct {
	writer *kafka.Writer
	log    zerolog.Logger
}

// NewKafkaNotifier creates a notifier publishing to topic via brokers.
func NewKafkaNotifier(brokers []string, topic string, log zerolog.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        false,
		},
		log: log.With().Str("component", "notify").Logger(),
	}
}

// AlertCreated implements engine.Notifier.
func (n *KafkaNotifier) AlertCreated(ctx context.Context, a engine.Alert) error {
	event := AlertEvent{
		AlertID:   string(a.ID),
		BatchID:   string(a.BatchID),
		RuleID:    string(a.RuleID),
		AlertType: string(a.AlertType),
		AlertDate: a.AlertDate,
		CreatedAt: a.CreatedAt,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal alert event: %w", err)
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(a.BatchID),
		Value: payload,
	})
	if err != nil {
		n.log.Error().Err(err).
			Str("alert_id", string(a.ID)).
			Str("batch_id", string(a.BatchID)).
			Msg("failed to publish alert event")
		return fmt.Errorf("failed to publish alert event: %w", err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
