// Package cod reconciles cash-on-delivery amounts declared per shipment box.
package cod

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrCodMismatch indicates box amounts that do not add up to the amount due.
	ErrCodMismatch = errors.New("cod: box amounts do not match net payable")
	// ErrNotCOD indicates an order settled by another payment method.
	ErrNotCOD = errors.New("cod: order is not cash on delivery")
	// ErrNothingToCollect indicates a COD order or increment whose net payable is not positive.
	ErrNothingToCollect = errors.New("cod: net payable must be positive")
	// ErrInvalidBoxCount indicates fewer than one box or a count/amount mismatch.
	ErrInvalidBoxCount = errors.New("cod: invalid box count")
	// ErrInvalidAmount indicates a negative amount or one with sub-cent precision.
	ErrInvalidAmount = errors.New("cod: invalid box amount")
	// ErrNoItems indicates an upsell without lines.
	ErrNoItems = errors.New("cod: upsell requires at least one item")
	// ErrItemAlreadyBoxed indicates an upsell line already collected by an existing box.
	ErrItemAlreadyBoxed = errors.New("cod: item already covered by a box")
)

// Tolerance is the largest absolute difference still treated as a match, exclusive.
var Tolerance = decimal.New(1, -2)

// Box is one physical parcel and the cash the carrier collects on it.
type Box struct {
	ID        int64           `json:"id"`
	OrderID   string          `json:"order_id"`
	BoxNumber int             `json:"box_number"`
	CodAmount decimal.Decimal `json:"cod_amount"`

	// ItemIDs are the order lines paid through the batch this box was declared in.
	ItemIDs []int64 `json:"item_ids"`

	// Adjustment is shipping less discount charged on top of the order for an upsell batch.
	// Only the first box of a batch carries it.
	Adjustment decimal.Decimal `json:"adjustment"`

	CreatedAt time.Time `json:"created_at"`
}

// CoveredItems returns the order lines already paid through existing boxes.
func CoveredItems(boxes []Box) map[int64]bool {
	covered := make(map[int64]bool)
	for _, b := range boxes {
		for _, id := range b.ItemIDs {
			covered[id] = true
		}
	}
	return covered
}

// Adjustments sums the upsell adjustments recorded on boxes.
func Adjustments(boxes []Box) decimal.Decimal {
	total := decimal.Zero
	for _, b := range boxes {
		total = total.Add(b.Adjustment)
	}
	return total
}

// Outcome classifies a reconciliation.
type Outcome string

const (
	OutcomeMatch     Outcome = "match"
	OutcomeOverage   Outcome = "overage"
	OutcomeShortfall Outcome = "shortfall"
)

// ValidationResult compares declared box amounts with the amount due.
type ValidationResult struct {
	Expected decimal.Decimal `json:"expected"`
	Declared decimal.Decimal `json:"declared"`
	// Difference is declared minus expected.
	Difference decimal.Decimal `json:"difference"`
	Valid      bool            `json:"valid"`
	Outcome    Outcome         `json:"outcome"`
	BoxCount   int             `json:"box_count"`
}

// Err returns a MismatchError for an invalid result and nil otherwise.
func (r ValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	return &MismatchError{Expected: r.Expected, Declared: r.Declared, Difference: r.Difference}
}

// Reconcile checks that the box amounts sum to netPayable within Tolerance.
func Reconcile(boxes []Box, netPayable decimal.Decimal) ValidationResult {
	amounts := make([]decimal.Decimal, len(boxes))
	for i, b := range boxes {
		amounts[i] = b.CodAmount
	}
	return ReconcileAmounts(amounts, netPayable)
}

// ReconcileAmounts is Reconcile over bare amounts.
func ReconcileAmounts(amounts []decimal.Decimal, netPayable decimal.Decimal) ValidationResult {
	declared := decimal.Sum(decimal.Zero, amounts...)
	diff := declared.Sub(netPayable)
	res := ValidationResult{
		Expected:   netPayable,
		Declared:   declared,
		Difference: diff,
		Valid:      diff.Abs().LessThan(Tolerance),
		BoxCount:   len(amounts),
	}
	switch {
	case res.Valid:
		res.Outcome = OutcomeMatch
	case diff.IsPositive():
		res.Outcome = OutcomeOverage
	default:
		res.Outcome = OutcomeShortfall
	}
	return res
}

// DivideEqually splits total over n boxes. Every box but the last gets total/n
// floored to the cent and the last takes the residual, so the parts sum to total exactly.
func DivideEqually(n int, total decimal.Decimal) ([]decimal.Decimal, error) {
	if n < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBoxCount, n)
	}
	if total.IsNegative() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, total)
	}
	share := total.Div(decimal.NewFromInt(int64(n))).RoundFloor(2)
	parts := make([]decimal.Decimal, n)
	for i := 0; i < n-1; i++ {
		parts[i] = share
	}
	parts[n-1] = total.Sub(share.Mul(decimal.NewFromInt(int64(n - 1))))
	return parts, nil
}

// NextBoxNumbers returns count numbers continuing after the highest existing box.
func NextBoxNumbers(existing []Box, count int) []int {
	highest := 0
	for _, b := range existing {
		if b.BoxNumber > highest {
			highest = b.BoxNumber
		}
	}
	numbers := make([]int, count)
	for i := range numbers {
		numbers[i] = highest + i + 1
	}
	return numbers
}

func validateAmounts(amounts []decimal.Decimal) error {
	if len(amounts) == 0 {
		return fmt.Errorf("%w: no boxes", ErrInvalidBoxCount)
	}
	for i, a := range amounts {
		if a.IsNegative() || !a.Equal(a.Round(2)) {
			return fmt.Errorf("%w: box %d amount %s", ErrInvalidAmount, i+1, a)
		}
	}
	return nil
}

// MismatchError reports how far declared amounts are from the amount due.
type MismatchError struct {
	Expected   decimal.Decimal
	Declared   decimal.Decimal
	Difference decimal.Decimal
}

func (e *MismatchError) Error() string {
	kind := OutcomeShortfall
	if e.Difference.IsPositive() {
		kind = OutcomeOverage
	}
	return fmt.Sprintf("cod: declared %s against net payable %s (%s of %s)",
		e.Declared.StringFixed(2), e.Expected.StringFixed(2), kind, e.Difference.Abs().StringFixed(2))
}

func (e *MismatchError) Unwrap() error { return ErrCodMismatch }

// ProblemMeta exposes the mismatch amount.
func (e *MismatchError) ProblemMeta() map[string]any {
	kind := OutcomeShortfall
	if e.Difference.IsPositive() {
		kind = OutcomeOverage
	}
	return map[string]any{
		"expected":   e.Expected.StringFixed(2),
		"declared":   e.Declared.StringFixed(2),
		"difference": e.Difference.StringFixed(2),
		"kind":       string(kind),
	}
}
