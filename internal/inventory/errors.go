package inventory

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientStock indicates active lots cannot cover the requested quantity.
	ErrInsufficientStock = errors.New("inventory: insufficient stock")
	// ErrLotNotFound indicates a referenced lot number does not exist.
	ErrLotNotFound = errors.New("inventory: lot not found")
	// ErrInvalidLot indicates a lot exists but cannot serve the request.
	ErrInvalidLot = errors.New("inventory: invalid lot")
	// ErrDocumentReversal indicates a document cannot be reversed without breaking lot bounds.
	ErrDocumentReversal = errors.New("inventory: document reversal failure")
	// ErrLedgerInconsistent indicates lot quantities diverge from the ledger.
	ErrLedgerInconsistent = errors.New("inventory: ledger inconsistent")
	// ErrInvalidQuantity indicates a non positive quantity.
	ErrInvalidQuantity = errors.New("inventory: quantity must be greater than zero")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = errors.New("inventory: unit cost must be >= 0")
	// ErrInvalidTransactionType indicates an unknown or non manual document type.
	ErrInvalidTransactionType = errors.New("inventory: invalid transaction type")
	// ErrEmptyItems indicates a document without lines.
	ErrEmptyItems = errors.New("inventory: at least one item is required")
	// ErrTransactionNotFound indicates a missing or voided document.
	ErrTransactionNotFound = errors.New("inventory: transaction not found")
	// ErrNotDeletable indicates an allocation document targeted by manual deletion.
	ErrNotDeletable = errors.New("inventory: only receive and adjustment documents can be deleted")
	// ErrAdjustmentCeiling indicates an add adjustment above the lot's received quantity.
	ErrAdjustmentCeiling = errors.New("inventory: adjustment exceeds received quantity")
	// ErrLotRequired indicates an adjustment line without lot number.
	ErrLotRequired = errors.New("inventory: lot number required")
	// ErrInvalidFilter indicates a malformed listing filter.
	ErrInvalidFilter = errors.New("inventory: invalid filter")
	// ErrLotConflict indicates a conditional lot update matched no row.
	ErrLotConflict = errors.New("inventory: lot changed concurrently")
)

// InsufficientStockError carries the shortfall of a failed draw.
type InsufficientStockError struct {
	ProductID   int64
	WarehouseID int64
	LotNumber   string
	Requested   decimal.Decimal
	Available   decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	if e.LotNumber != "" {
		return fmt.Sprintf("inventory: insufficient stock in lot %s: requested %s, available %s", e.LotNumber, e.Requested, e.Available)
	}
	return fmt.Sprintf("inventory: insufficient stock for product %d in warehouse %d: requested %s, available %s", e.ProductID, e.WarehouseID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }

// Shortfall is the quantity that could not be covered.
func (e *InsufficientStockError) Shortfall() decimal.Decimal {
	return e.Requested.Sub(e.Available)
}

// ProblemMeta exposes the shortfall details.
func (e *InsufficientStockError) ProblemMeta() map[string]any {
	meta := map[string]any{
		"product_id":   e.ProductID,
		"warehouse_id": e.WarehouseID,
		"requested":    e.Requested.String(),
		"available":    e.Available.String(),
		"shortfall":    e.Shortfall().String(),
	}
	if e.LotNumber != "" {
		meta["lot_number"] = e.LotNumber
	}
	return meta
}

// LotError explains why a referenced lot was rejected.
type LotError struct {
	LotID     int64
	LotNumber string
	Reason    string
	Err       error
}

func (e *LotError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("%s: %s", e.Err, e.LotNumber)
	}
	return fmt.Sprintf("%s: %s: %s", e.Err, e.LotNumber, e.Reason)
}

func (e *LotError) Unwrap() error { return e.Err }

// ProblemMeta exposes the lot reference.
func (e *LotError) ProblemMeta() map[string]any {
	meta := map[string]any{"lot_number": e.LotNumber}
	if e.LotID != 0 {
		meta["lot_id"] = e.LotID
	}
	if e.Reason != "" {
		meta["reason"] = e.Reason
	}
	return meta
}

// ReversalError names the lot that blocks a document deletion.
type ReversalError struct {
	DocumentNumber string
	LotID          int64
	LotNumber      string
	Remaining      decimal.Decimal
	Received       decimal.Decimal
	Delta          decimal.Decimal
}

func (e *ReversalError) Error() string {
	return fmt.Sprintf("inventory: cannot reverse %s: lot %s would hold %s of %s received",
		e.DocumentNumber, e.LotNumber, e.Remaining.Add(e.Delta), e.Received)
}

func (e *ReversalError) Unwrap() error { return ErrDocumentReversal }

// ProblemMeta exposes the blocking lot.
func (e *ReversalError) ProblemMeta() map[string]any {
	return map[string]any{
		"document_number": e.DocumentNumber,
		"lot_id":          e.LotID,
		"lot_number":      e.LotNumber,
		"remaining":       e.Remaining.String(),
		"received":        e.Received.String(),
		"reversal_delta":  e.Delta.String(),
	}
}

// LedgerError lists lots whose quantities diverge from the ledger.
type LedgerError struct {
	Checks []LedgerCheck
}

func (e *LedgerError) Error() string {
	if len(e.Checks) == 1 {
		c := e.Checks[0]
		return fmt.Sprintf("inventory: ledger inconsistent for lot %d: remaining %s, ledger %s", c.LotID, c.QtyRemaining, c.LedgerDeltaTotal)
	}
	return fmt.Sprintf("inventory: ledger inconsistent for %d lots", len(e.Checks))
}

func (e *LedgerError) Unwrap() error { return ErrLedgerInconsistent }
