package inventory

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Draw is the quantity taken from one lot.
type Draw struct {
	Lot      Lot             `json:"lot"`
	Quantity decimal.Decimal `json:"quantity"`
}

// Plan is the outcome of FIFO selection for a requested quantity.
type Plan struct {
	Draws     []Draw          `json:"draws"`
	Requested decimal.Decimal `json:"requested"`
	Fulfilled decimal.Decimal `json:"fulfilled"`
}

// Shortfall is the part of the request no lot could cover.
func (p Plan) Shortfall() decimal.Decimal {
	return p.Requested.Sub(p.Fulfilled)
}

// Complete reports whether the whole request is covered.
func (p Plan) Complete() bool {
	return p.Fulfilled.Equal(p.Requested)
}

// SortFIFO orders lots oldest receipt first, lot id breaking ties.
func SortFIFO(lots []Lot) {
	sort.SliceStable(lots, func(i, j int) bool {
		return fifoLess(lots[i], lots[j])
	})
}

func fifoLess(a, b Lot) bool {
	if !a.ReceivedAt.Equal(b.ReceivedAt) {
		return a.ReceivedAt.Before(b.ReceivedAt)
	}
	return a.ID < b.ID
}

// PlanFIFO draws qty from the oldest available lots, splitting across lots as needed.
// The input slice is not modified. Lots that are not active or hold no stock are skipped.
func PlanFIFO(lots []Lot, qty decimal.Decimal) Plan {
	plan := Plan{Requested: qty, Fulfilled: decimal.Zero}
	if !qty.IsPositive() {
		return plan
	}
	ordered := make([]Lot, 0, len(lots))
	for _, lot := range lots {
		if lot.Available() {
			ordered = append(ordered, lot)
		}
	}
	SortFIFO(ordered)

	need := qty
	for _, lot := range ordered {
		if !need.IsPositive() {
			break
		}
		take := decimal.Min(need, lot.QtyRemaining)
		plan.Draws = append(plan.Draws, Draw{Lot: lot, Quantity: take})
		plan.Fulfilled = plan.Fulfilled.Add(take)
		need = need.Sub(take)
	}
	return plan
}

// AvailableQuantity sums the remaining quantity of drawable lots.
func AvailableQuantity(lots []Lot) decimal.Decimal {
	total := decimal.Zero
	for _, lot := range lots {
		if lot.Available() {
			total = total.Add(lot.QtyRemaining)
		}
	}
	return total
}
