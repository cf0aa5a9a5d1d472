// Package orders is the read model of externally owned orders consumed by allocation and COD reconciliation.
package orders

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrOrderNotFound indicates an unknown order id.
var ErrOrderNotFound = errors.New("orders: order not found")

// ErrItemNotFound indicates an unknown order item id.
var ErrItemNotFound = errors.New("orders: order item not found")

// PaymentMethod is how the customer settles the order.
type PaymentMethod string

const (
	PaymentTransfer PaymentMethod = "transfer"
	PaymentCOD      PaymentMethod = "cod"
	PaymentPayAfter PaymentMethod = "pay_after"
	PaymentClaim    PaymentMethod = "claim"
	PaymentFreeGift PaymentMethod = "free_gift"
)

// IsValid reports whether the method is known.
func (m PaymentMethod) IsValid() bool {
	switch m {
	case PaymentTransfer, PaymentCOD, PaymentPayAfter, PaymentClaim, PaymentFreeGift:
		return true
	default:
		return false
	}
}

// IsCOD reports whether the amount is collected per box on delivery.
func (m PaymentMethod) IsCOD() bool {
	return m == PaymentCOD
}

// Order is an order with its lines.
type Order struct {
	ID               string          `json:"id"`
	OrderNumber      string          `json:"order_number"`
	CustomerProvince string          `json:"customer_province"`
	PaymentMethod    PaymentMethod   `json:"payment_method"`
	ShippingCost     decimal.Decimal `json:"shipping_cost"`
	BillDiscount     decimal.Decimal `json:"bill_discount"`
	Items            []Item          `json:"items"`
}

// Item is one ordered product line.
type Item struct {
	ID                int64           `json:"id"`
	OrderID           string          `json:"order_id"`
	ProductID         int64           `json:"product_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	UnitPrice         decimal.Decimal `json:"unit_price"`
	Discount          decimal.Decimal `json:"discount"`
	IsFreebie         bool            `json:"is_freebie"`
	BoxNumber         *int            `json:"box_number,omitempty"`
	PromotionID       *int64          `json:"promotion_id,omitempty"`
	ParentItemID      *int64          `json:"parent_item_id,omitempty"`
	IsPromotionParent bool            `json:"is_promotion_parent"`
}

// Total is the line amount. Freebies are worth nothing.
func (i Item) Total() decimal.Decimal {
	if i.IsFreebie {
		return decimal.Zero
	}
	return i.Quantity.Mul(i.UnitPrice).Sub(i.Discount)
}

// Subtotal sums every line total.
func (o Order) Subtotal() decimal.Decimal {
	return Subtotal(o.Items)
}

// NetPayable is subtotal plus shipping less the bill discount.
func (o Order) NetPayable() decimal.Decimal {
	return NetPayableOf(o.Items, o.ShippingCost, o.BillDiscount)
}

// Item finds a line by id.
func (o Order) Item(id int64) (Item, bool) {
	for _, item := range o.Items {
		if item.ID == id {
			return item, true
		}
	}
	return Item{}, false
}

// Subtotal sums item totals, freebies contributing zero.
func Subtotal(items []Item) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Total())
	}
	return total
}

// NetPayableOf computes the collectable amount for a set of lines.
func NetPayableOf(items []Item, shipping, discount decimal.Decimal) decimal.Decimal {
	return Subtotal(items).Add(shipping).Sub(discount)
}

// NormalizeOrderID trims an order reference.
func NormalizeOrderID(id string) string {
	return strings.TrimSpace(id)
}
