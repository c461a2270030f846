// Package checkout converts a user's synchronized cart into a pending order.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/bytefrontng/bytefront-backend/internal/cartsync"
	"github.com/bytefrontng/bytefront-backend/internal/catalog"
	"github.com/bytefrontng/bytefront-backend/internal/orders"
	"github.com/bytefrontng/bytefront-backend/pkg/db/models"
	"github.com/bytefrontng/bytefront-backend/pkg/enums"
	pkgerrors "github.com/bytefrontng/bytefront-backend/pkg/errors"
	"github.com/bytefrontng/bytefront-backend/pkg/logger"
	"github.com/bytefrontng/bytefront-backend/pkg/outbox"
	"github.com/bytefrontng/bytefront-backend/pkg/types"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxPublisher interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type cartSessions interface {
	Acquire(ctx context.Context, userID string) (*cartsync.Synchronizer, error)
}

// Service places orders from synchronized carts.
type Service interface {
	Checkout(ctx context.Context, input CheckoutInput) (*models.Order, error)
}

type service struct {
	ordersRepo      orders.Repository
	catalogRepo     catalog.Repository
	carts           cartSessions
	tx              txRunner
	outbox          outboxPublisher
	logg            *logger.Logger
	shippingFeeKobo int
}

// CheckoutInput carries everything needed to place an order.
type CheckoutInput struct {
	UserID             uuid.UUID
	ShippingAddress    types.Address
	PaymentProofObject string
}

// OrderCreatedEvent is emitted alongside each placed order.
type OrderCreatedEvent struct {
	OrderID   uuid.UUID `json:"order_id"`
	Reference string    `json:"reference"`
	UserID    uuid.UUID `json:"user_id"`
	TotalKobo int       `json:"total_kobo"`
	ItemCount int       `json:"item_count"`
	CreatedAt time.Time `json:"created_at"`
}

// NewService builds a checkout service with the required dependencies.
func NewService(
	ordersRepo orders.Repository,
	catalogRepo catalog.Repository,
	carts cartSessions,
	tx txRunner,
	outboxSvc outboxPublisher,
	logg *logger.Logger,
	shippingFeeKobo int,
) (Service, error) {
	if ordersRepo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if catalogRepo == nil {
		return nil, fmt.Errorf("catalog repository required")
	}
	if carts == nil {
		return nil, fmt.Errorf("cart sessions required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if outboxSvc == nil {
		return nil, fmt.Errorf("outbox publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{
		ordersRepo:      ordersRepo,
		catalogRepo:     catalogRepo,
		carts:           carts,
		tx:              tx,
		outbox:          outboxSvc,
		logg:            logg,
		shippingFeeKobo: shippingFeeKobo,
	}, nil
}

func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*models.Order, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	sync, err := s.carts.Acquire(ctx, input.UserID.String())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "opening cart session")
	}
	if err := sync.WaitReady(ctx); err != nil {
		return nil, err
	}

	items := sync.Items()
	if len(items) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
	}

	lineItems, subtotal, err := s.buildLineItems(ctx, items)
	if err != nil {
		return nil, err
	}

	reference, err := orders.NewReference()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generating reference")
	}

	order := &models.Order{
		ID:                 uuid.New(),
		Reference:          reference,
		UserID:             input.UserID,
		Status:             enums.OrderStatusPending,
		ShippingAddress:    input.ShippingAddress.Normalized(),
		PaymentProofObject: input.PaymentProofObject,
		SubtotalKobo:       subtotal,
		ShippingFeeKobo:    s.shippingFeeKobo,
		TotalKobo:          subtotal + s.shippingFeeKobo,
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		// The conditional decrement is the authoritative stock guard; the
		// read in buildLineItems can race concurrent checkouts.
		catalogTx := s.catalogRepo.WithTx(tx)
		for _, line := range lineItems {
			ok, err := catalogTx.DecrementStock(ctx, line.ProductID, line.Qty)
			if err != nil {
				return err
			}
			if !ok {
				return pkgerrors.New(pkgerrors.CodeStateConflict,
					fmt.Sprintf("%s does not have enough stock", line.Name)).
					WithDetails(map[string]string{"product_id": line.ProductID.String()})
			}
		}

		repo := s.ordersRepo.WithTx(tx)
		if _, err := repo.CreateOrder(ctx, order); err != nil {
			return err
		}
		for i := range lineItems {
			lineItems[i].OrderID = order.ID
		}
		if err := repo.CreateOrderLineItems(ctx, lineItems); err != nil {
			return err
		}
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         &outbox.ActorRef{UserID: input.UserID, Role: enums.UserRoleCustomer.String()},
			Data: OrderCreatedEvent{
				OrderID:   order.ID,
				Reference: order.Reference,
				UserID:    order.UserID,
				TotalKobo: order.TotalKobo,
				ItemCount: len(lineItems),
				CreatedAt: time.Now().UTC(),
			},
			Version: 1,
		})
	})
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil {
			return nil, typed
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "placing order")
	}

	// The cart is cleared immediately, not debounced, so an order can never
	// be placed twice from the same lines.
	if err := sync.ClearCart(ctx); err != nil {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"order_id": order.ID.String(),
			"error":    err.Error(),
		})
		s.logg.Warn(logCtx, "clearing cart after checkout failed")
	}

	order.Items = lineItems
	return order, nil
}

// buildLineItems snapshots cart lines into order rows, using cart prices
// captured at add-time, and rejects carts referencing missing or deactivated
// products.
func (s *service) buildLineItems(ctx context.Context, items []cartsync.LineItem) ([]models.OrderLineItem, int, error) {
	ids := make([]uuid.UUID, 0, len(items))
	for _, item := range items {
		id, err := uuid.Parse(item.ProductID)
		if err != nil {
			return nil, 0, pkgerrors.New(pkgerrors.CodeValidation, "cart contains an invalid product id")
		}
		ids = append(ids, id)
	}

	active, err := s.catalogRepo.FindActiveByIDs(ctx, ids)
	if err != nil {
		return nil, 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading cart products")
	}
	activeByID := make(map[uuid.UUID]models.Product, len(active))
	for _, product := range active {
		activeByID[product.ID] = product
	}

	lineItems := make([]models.OrderLineItem, 0, len(items))
	subtotal := 0
	for i, item := range items {
		product, ok := activeByID[ids[i]]
		if !ok {
			return nil, 0, pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("%s is no longer available", item.Name)).
				WithDetails(map[string]string{"product_id": item.ProductID})
		}
		if product.StockQty < item.Quantity {
			return nil, 0, pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("%s does not have enough stock", item.Name)).
				WithDetails(map[string]string{"product_id": item.ProductID})
		}
		lineTotal := item.EffectivePriceKobo() * item.Quantity
		subtotal += lineTotal
		line := models.OrderLineItem{
			ID:                uuid.New(),
			ProductID:         ids[i],
			Name:              item.Name,
			Qty:               item.Quantity,
			UnitPriceKobo:     item.PriceKobo,
			DiscountPriceKobo: item.DiscountPriceKobo,
			LineTotalKobo:     lineTotal,
		}
		if item.Image != "" {
			image := item.Image
			line.Image = &image
		}
		lineItems = append(lineItems, line)
	}
	return lineItems, subtotal, nil
}

// PaymentProofPrefix is the storage namespace a user's payment-proof uploads
// are presigned under. Checkout only accepts proof objects inside the
// caller's own prefix.
func PaymentProofPrefix(userID string) string {
	return "payment-proofs/" + userID + "/"
}

func validateInput(input CheckoutInput) error {
	if input.UserID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "user id is required")
	}
	proof := strings.TrimSpace(input.PaymentProofObject)
	if proof == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment proof upload is required")
	}
	// Proof objects are presigned under the caller's own prefix; anything
	// else references another user's upload.
	if !strings.HasPrefix(proof, PaymentProofPrefix(input.UserID.String())) {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment proof does not belong to this user")
	}
	addr := input.ShippingAddress.Normalized()
	switch {
	case addr.Line1 == "", addr.City == "", addr.State == "", addr.Country == "", addr.Phone == "":
		return pkgerrors.New(pkgerrors.CodeValidation, "shipping address is incomplete")
	}
	return nil
}
