// Package allocation binds order lines to warehouse lots and tracks each binding through fulfillment.
package allocation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/orders"
)

// Status is the fulfillment state of one allocation row.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAllocated Status = "ALLOCATED"
	StatusPicked    Status = "PICKED"
	StatusShipped   Status = "SHIPPED"
	StatusCancelled Status = "CANCELLED"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusAllocated, StatusCancelled},
	StatusAllocated: {StatusPicked, StatusCancelled},
	StatusPicked:    {StatusShipped, StatusCancelled},
}

// IsValid reports whether the status is known.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusAllocated, StatusPicked, StatusShipped, StatusCancelled:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further transition exists.
func (s Status) IsTerminal() bool {
	return s == StatusShipped || s == StatusCancelled
}

// HoldsStock reports whether rows in this status count against the item requirement.
func (s Status) HoldsStock() bool {
	return s == StatusAllocated || s == StatusPicked || s == StatusShipped
}

// CanTransition reports whether the move from s to next is permitted.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Allocation binds part of an order line to one lot.
type Allocation struct {
	ID                int64           `json:"id"`
	OrderID           string          `json:"order_id"`
	OrderItemID       int64           `json:"order_item_id"`
	ProductID         int64           `json:"product_id"`
	PromotionID       *int64          `json:"promotion_id,omitempty"`
	IsFreebie         bool            `json:"is_freebie"`
	// RequiredQuantity is the line requirement net of allocations made before this row.
	RequiredQuantity  decimal.Decimal `json:"required_quantity"`
	AllocatedQuantity decimal.Decimal `json:"allocated_quantity"`
	WarehouseID       int64           `json:"warehouse_id,omitempty"`
	LotID             int64           `json:"lot_id,omitempty"`
	LotNumber         string          `json:"lot_number,omitempty"`
	Status            Status          `json:"status"`
	ConsumeDocument   string          `json:"consume_document,omitempty"`
	ReverseDocument   string          `json:"reverse_document,omitempty"`
	CreatedBy         int64           `json:"created_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Filter narrows listAllocations.
type Filter struct {
	Status      Status
	OrderID     string
	OrderItemID int64
}

// AllocateItemInput requests stock for one order line.
type AllocateItemInput struct {
	OrderItemID int64           `json:"-"`
	WarehouseID int64           `json:"warehouse_id" validate:"required,gt=0"`
	Quantity    decimal.Decimal `json:"quantity"`
	// LotNumber pins a lot; empty means FIFO.
	LotNumber      string `json:"lot_number,omitempty" validate:"max=64"`
	IdempotencyKey string `json:"-"`
	ActorID        int64  `json:"-"`
}

// AllocateOrderInput requests stock for every unmet line of an order.
type AllocateOrderInput struct {
	OrderID string `json:"-"`
	// WarehouseID zero falls back to the province suggestion.
	WarehouseID    int64  `json:"warehouse_id,omitempty" validate:"omitempty,gt=0"`
	IdempotencyKey string `json:"-"`
	ActorID        int64  `json:"-"`
}

// UpdateInput is the PATCH payload of updateAllocation.
type UpdateInput struct {
	WarehouseID       *int64           `json:"warehouse_id,omitempty"`
	LotNumber         *string          `json:"lot_number,omitempty"`
	AllocatedQuantity *decimal.Decimal `json:"allocated_quantity,omitempty"`
	Status            *Status          `json:"status,omitempty"`
}

// SyncQuantityInput records an edited order line quantity.
type SyncQuantityInput struct {
	Quantity decimal.Decimal `json:"quantity"`
}

// ItemState is the authoritative allocation picture of one order line.
type ItemState struct {
	OrderID           string                 `json:"order_id"`
	OrderItemID       int64                  `json:"order_item_id"`
	ProductID         int64                  `json:"product_id"`
	IsFreebie         bool                   `json:"is_freebie"`
	RequiredQuantity  decimal.Decimal        `json:"required_quantity"`
	AllocatedQuantity decimal.Decimal        `json:"allocated_quantity"`
	RemainingQuantity decimal.Decimal        `json:"remaining_quantity"`
	Allocations       []Allocation           `json:"allocations"`
	Document          *inventory.Transaction `json:"document,omitempty"`
	Replayed          bool                   `json:"replayed,omitempty"`
}

// NewItemState summarises rows of one line.
func NewItemState(item orders.Item, rows []Allocation) ItemState {
	allocated := AllocatedSum(rows)
	if rows == nil {
		rows = []Allocation{}
	}
	return ItemState{
		OrderID:           item.OrderID,
		OrderItemID:       item.ID,
		ProductID:         item.ProductID,
		IsFreebie:         item.IsFreebie,
		RequiredQuantity:  item.Quantity,
		AllocatedQuantity: allocated,
		RemainingQuantity: item.Quantity.Sub(allocated),
		Allocations:       rows,
	}
}

// AllocatedSum totals rows that hold stock.
func AllocatedSum(rows []Allocation) decimal.Decimal {
	total := decimal.Zero
	for _, row := range rows {
		if row.Status.HoldsStock() {
			total = total.Add(row.AllocatedQuantity)
		}
	}
	return total
}

// LineOutcome explains why a line of a bulk allocation was skipped or failed.
type LineOutcome struct {
	OrderItemID int64           `json:"order_item_id"`
	ProductID   int64           `json:"product_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	Reason      string          `json:"reason"`
	Meta        map[string]any  `json:"meta,omitempty"`
}

// BulkResult reports every line of allocateOrder.
type BulkResult struct {
	OrderID     string        `json:"order_id"`
	WarehouseID int64         `json:"warehouse_id"`
	Succeeded   []ItemState   `json:"succeeded"`
	Skipped     []LineOutcome `json:"skipped"`
	Failed      []LineOutcome `json:"failed"`
	Replayed    bool          `json:"replayed,omitempty"`
}
