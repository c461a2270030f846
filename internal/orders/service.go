package orders

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bytefrontng/bytefront-backend/pkg/db/models"
	"github.com/bytefrontng/bytefront-backend/pkg/enums"
	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
	"github.com/bytefrontng/bytefront-backend/pkg/outbox"
	"github.com/bytefrontng/bytefront-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// Service defines order-level operations beyond repository reads.
type Service interface {
	ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error)
	GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error)
	AdminList(ctx context.Context, params pagination.Params, filters OrderFilters) (*OrderList, error)
	AdminGet(ctx context.Context, orderID uuid.UUID) (*models.Order, error)
	ChangeStatus(ctx context.Context, input ChangeStatusInput) (*models.Order, error)
}

type service struct {
	repo   Repository
	tx     txRunner
	outbox outboxPublisher
}

// ChangeStatusInput captures an admin's status decision on an order.
type ChangeStatusInput struct {
	OrderID   uuid.UUID
	NewStatus enums.OrderStatus
	AdminNote *string
	ActorID   uuid.UUID
}

// OrderStatusChangedEvent is emitted when an admin resolves an order.
type OrderStatusChangedEvent struct {
	OrderID   uuid.UUID         `json:"order_id"`
	Reference string            `json:"reference"`
	UserID    uuid.UUID         `json:"user_id"`
	OldStatus enums.OrderStatus `json:"old_status"`
	NewStatus enums.OrderStatus `json:"new_status"`
	ChangedAt time.Time         `json:"changed_at"`
}

// NewService builds an orders service with the required dependencies.
func NewService(repo Repository, tx txRunner, outboxSvc outboxPublisher) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	return &service{repo: repo, tx: tx, outbox: outboxSvc}, nil
}

func (s *service) ListForUser(ctx context.Context, userID uuid.UUID, params pagination.Params) (*OrderList, error) {
	list, err := s.repo.ListByUser(ctx, userID, params)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing orders")
	}
	return list, nil
}

func (s *service) GetForUser(ctx context.Context, userID, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	// Customers only ever see their own orders; leaking existence is avoided
	// by answering not-found rather than forbidden.
	if order.UserID != userID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
	}
	return order, nil
}

func (s *service) AdminList(ctx context.Context, params pagination.Params, filters OrderFilters) (*OrderList, error) {
	list, err := s.repo.ListAll(ctx, params, filters)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing orders")
	}
	return list, nil
}

func (s *service) AdminGet(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	return s.findOrder(ctx, orderID)
}

// ChangeStatus moves an order to one of the terminal states. Pending is the
// only state transitions are allowed from.
func (s *service) ChangeStatus(ctx context.Context, input ChangeStatusInput) (*models.Order, error) {
	if !input.NewStatus.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status")
	}
	if !input.NewStatus.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "orders can only move to fulfilled or cancelled")
	}

	order, err := s.findOrder(ctx, input.OrderID)
	if err != nil {
		return nil, err
	}
	if order.Status.IsTerminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("order is already %s", order.Status)).
			WithDetails(map[string]string{"status": order.Status.String()})
	}

	oldStatus := order.Status
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		if err := s.repo.WithTx(tx).UpdateStatus(ctx, order.ID, input.NewStatus, input.AdminNote); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStatusChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.ActorID, Role: enums.UserRoleAdmin.String()},
			Data: OrderStatusChangedEvent{
				OrderID:   order.ID,
				Reference: order.Reference,
				UserID:    order.UserID,
				OldStatus: oldStatus,
				NewStatus: input.NewStatus,
				ChangedAt: time.Now().UTC(),
			},
			Version: 1,
		})
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "changing order status")
	}
	return s.findOrder(ctx, order.ID)
}

func (s *service) findOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	order, err := s.repo.FindByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading order")
	}
	return order, nil
}

// NewReference generates a short human-readable order reference.
func NewReference() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating order reference: %w", err)
	}
	return "BF-" + strings.ToUpper(hex.EncodeToString(buf)), nil
}
