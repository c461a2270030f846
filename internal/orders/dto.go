package orders

import (
	"time"

	"github.com/bytefrontng/bytefront-backend/pkg/db/models"
	"github.com/bytefrontng/bytefront-backend/pkg/enums"
)

// OrderFilters describe the inputs supported by the admin order list.
type OrderFilters struct {
	Status   *enums.OrderStatus
	DateFrom *time.Time
	DateTo   *time.Time
	// Query matches against the order reference.
	Query string
}

// OrderList wraps one page of orders plus the next page cursor.
type OrderList struct {
	Orders     []models.Order `json:"orders"`
	NextCursor string         `json:"next_cursor,omitempty"`
}
