package notifications

import (
	"context"
	"encoding/json"
	"fmt"

	pubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/bytefrontng/bytefront-backend/pkg/db/models"
	"github.com/bytefrontng/bytefront-backend/pkg/enums"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
	"github.com/bytefrontng/bytefront-backend/pkg/mailer"
	"github.com/bytefrontng/bytefront-backend/pkg/outbox"
	"github.com/bytefrontng/bytefront-backend/pkg/outbox/idempotency"
)

const orderNotificationConsumer = "order-notifications"

const notificationKindOrder = "order"

type repository interface {
	Create(ctx context.Context, notification *models.Notification) error
}

type userDirectory interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Consumer watches order events and turns them into in-app notifications and
// transactional email.
type Consumer struct {
	repo         repository
	users        userDirectory
	mail         mailer.Mailer
	subscription *pubsub.Subscriber
	idempotency  *idempotency.Manager
	logg         *logger.Logger
}

// NewConsumer builds an order notification consumer.
func NewConsumer(
	repo repository,
	users userDirectory,
	mail mailer.Mailer,
	subscription *pubsub.Subscriber,
	manager *idempotency.Manager,
	logg *logger.Logger,
) (*Consumer, error) {
	if repo == nil {
		return nil, fmt.Errorf("notifications repository required")
	}
	if users == nil {
		return nil, fmt.Errorf("user directory required")
	}
	if mail == nil {
		return nil, fmt.Errorf("mailer required")
	}
	if subscription == nil {
		return nil, fmt.Errorf("orders subscription required")
	}
	if manager == nil {
		return nil, fmt.Errorf("idempotency manager required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Consumer{
		repo:         repo,
		users:        users,
		mail:         mail,
		subscription: subscription,
		idempotency:  manager,
		logg:         logg,
	}, nil
}

// Run starts the consumer loop until the context is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		result := c.process(ctx, msg)
		if result.nack {
			msg.Nack()
			return
		}
		msg.Ack()
	})
}

type processResult struct {
	ack  bool
	nack bool
}

func (c *Consumer) process(ctx context.Context, msg *pubsub.Message) processResult {
	eventType := msg.Attributes["event_type"]
	logCtx := c.logg.WithFields(ctx, map[string]any{
		"message_id": msg.ID,
		"event_type": eventType,
	})

	switch eventType {
	case string(enums.EventOrderCreated), string(enums.EventOrderStatusChanged):
	default:
		c.logg.Info(logCtx, "skipping non-order event")
		return processResult{ack: true}
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		c.logg.Error(logCtx, "failed to decode envelope", err)
		return processResult{ack: true}
	}
	if envelope.EventID == "" {
		c.logg.Warn(logCtx, "envelope missing event id")
		return processResult{ack: true}
	}

	already, err := c.idempotency.CheckAndMarkProcessed(ctx, orderNotificationConsumer, envelope.EventID)
	if err != nil {
		c.logg.Error(logCtx, "idempotency check failed", err)
		return processResult{nack: true}
	}
	if already {
		c.logg.Info(logCtx, "event already processed")
		return processResult{ack: true}
	}

	var handleErr error
	switch eventType {
	case string(enums.EventOrderCreated):
		handleErr = c.handleOrderCreated(ctx, envelope.Data, logCtx)
	case string(enums.EventOrderStatusChanged):
		handleErr = c.handleStatusChanged(ctx, envelope.Data, logCtx)
	}
	if handleErr != nil {
		c.logg.Error(logCtx, "notification handling failed", handleErr)
		_ = c.idempotency.Delete(ctx, orderNotificationConsumer, envelope.EventID)
		return processResult{nack: true}
	}
	return processResult{ack: true}
}

type orderCreatedPayload struct {
	OrderID   uuid.UUID `json:"order_id"`
	Reference string    `json:"reference"`
	UserID    uuid.UUID `json:"user_id"`
	TotalKobo int       `json:"total_kobo"`
	ItemCount int       `json:"item_count"`
}

type orderStatusChangedPayload struct {
	OrderID   uuid.UUID         `json:"order_id"`
	Reference string            `json:"reference"`
	UserID    uuid.UUID         `json:"user_id"`
	NewStatus enums.OrderStatus `json:"new_status"`
}

func (c *Consumer) handleOrderCreated(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload orderCreatedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parsing order.created payload: %w", err)
	}
	if payload.UserID == uuid.Nil {
		return fmt.Errorf("user id missing")
	}

	title := "Order received"
	message := fmt.Sprintf(
		"We received your order %s (%d item(s), %s). We'll confirm your bank transfer shortly.",
		payload.Reference, payload.ItemCount, formatNaira(payload.TotalKobo),
	)
	return c.deliver(ctx, payload.UserID, payload.OrderID, title, message, logCtx)
}

func (c *Consumer) handleStatusChanged(ctx context.Context, data json.RawMessage, logCtx context.Context) error {
	var payload orderStatusChangedPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return fmt.Errorf("parsing order.status_changed payload: %w", err)
	}
	if payload.UserID == uuid.Nil {
		return fmt.Errorf("user id missing")
	}

	var title, message string
	switch payload.NewStatus {
	case enums.OrderStatusFulfilled:
		title = "Order fulfilled"
		message = fmt.Sprintf("Your order %s has been fulfilled and is on its way.", payload.Reference)
	case enums.OrderStatusCancelled:
		title = "Order cancelled"
		message = fmt.Sprintf("Your order %s was cancelled. Contact support if this is unexpected.", payload.Reference)
	default:
		c.logg.Info(logCtx, "status not handled")
		return nil
	}
	return c.deliver(ctx, payload.UserID, payload.OrderID, title, message, logCtx)
}

// deliver writes the in-app row first; email is best-effort on top of it.
func (c *Consumer) deliver(ctx context.Context, userID, orderID uuid.UUID, title, message string, logCtx context.Context) error {
	link := fmt.Sprintf("/orders/%s", orderID)
	notification := &models.Notification{
		UserID:  userID,
		Kind:    notificationKindOrder,
		Title:   title,
		Message: message,
		Link:    &link,
	}
	if err := c.repo.Create(ctx, notification); err != nil {
		return err
	}

	user, err := c.users.FindByID(ctx, userID)
	if err != nil {
		c.logg.Error(logCtx, "loading user for email failed", err)
		return nil
	}
	if err := c.mail.Send(ctx, user.Email, title, message); err != nil {
		c.logg.Error(logCtx, "sending order email failed", err)
		return nil
	}
	c.logg.Info(logCtx, "order notification delivered")
	return nil
}

func formatNaira(kobo int) string {
	return fmt.Sprintf("₦%d.%02d", kobo/100, kobo%100)
}
