// README: Domain events published on order and settlement changes.
package events

import (
	"context"
	"time"
)

const (
	TopicOrderCreated      = "order.created"
	TopicOrderAccepted     = "order.accepted"
	TopicOrderStatus       = "order.status_changed"
	TopicOrderCancelled    = "order.cancelled"
	TopicOrderPaid         = "order.paid"
	TopicPayoutCompleted   = "settlement.payout_completed"
	TopicPayoutFailed      = "settlement.payout_failed"
	TopicSettlementCreated = "settlement.created"
)

type Event struct {
	Type       string         `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, topic string, data map[string]any) error
}

func New(topic string, data map[string]any) Event {
	return Event{Type: topic, OccurredAt: time.Now().UTC(), Data: data}
}

// Nop drops every event. Used when no broker is configured and in tests.
type Nop struct{}

func (Nop) Publish(context.Context, string, map[string]any) error { return nil }
