package analytics

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"

	"github.com/bytefrontng/bytefront-backend/pkg/enums"
	outboxpkg "github.com/bytefrontng/bytefront-backend/pkg/outbox"
)

// Run consumes storefront events from the subscription until the context is
// canceled. Undecodable messages are acked; transient failures are nacked for
// redelivery.
func (c *Consumer) Run(ctx context.Context, subscription *pubsub.Subscriber) error {
	if subscription == nil {
		return fmt.Errorf("analytics subscription required")
	}
	return subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		eventType := enums.OutboxEventType(msg.Attributes["event_type"])
		logCtx := c.logg.WithFields(ctx, map[string]any{
			"message_id": msg.ID,
			"event_type": eventType,
		})

		var envelope outboxpkg.PayloadEnvelope
		if err := json.Unmarshal(msg.Data, &envelope); err != nil {
			c.logg.Error(logCtx, "failed to decode envelope", err)
			msg.Ack()
			return
		}

		if err := c.Process(ctx, eventType, envelope); err != nil {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}
