package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column on outbox events.
type OutboxAggregateType string

const (
	AggregateOrder   OutboxAggregateType = "order"
	AggregateProduct OutboxAggregateType = "product"
)

// OutboxEventType identifies the domain event carried by an outbox row.
type OutboxEventType string

const (
	EventOrderCreated       OutboxEventType = "order.created"
	EventOrderStatusChanged OutboxEventType = "order.status_changed"
	EventProductViewed      OutboxEventType = "product.viewed"
)

// OutboxStatus tracks publication state of an outbox row.
type OutboxStatus string

const (
	OutboxStatusPending   OutboxStatus = "pending"
	OutboxStatusPublished OutboxStatus = "published"
	OutboxStatusFailed    OutboxStatus = "failed"
)

// IsValid reports whether the value is a known OutboxStatus.
func (o OutboxStatus) IsValid() bool {
	switch o {
	case OutboxStatusPending, OutboxStatusPublished, OutboxStatusFailed:
		return true
	}
	return false
}

// ParseOutboxStatus converts raw input into an OutboxStatus.
func ParseOutboxStatus(value string) (OutboxStatus, error) {
	status := OutboxStatus(value)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid outbox status %q", value)
	}
	return status, nil
}
