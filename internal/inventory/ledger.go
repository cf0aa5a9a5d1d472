package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// TxRepository exposes the lot and ledger operations available inside one database transaction.
// Lock* methods take row locks held until the transaction ends.
type TxRepository interface {
	// LockCandidateLots returns active lots with stock in FIFO order.
	LockCandidateLots(ctx context.Context, productID, warehouseID int64) ([]Lot, error)
	// LockLotsByNumber returns every lot carrying the number, in id order.
	LockLotsByNumber(ctx context.Context, lotNumber string) ([]Lot, error)
	LockLot(ctx context.Context, lotID int64) (Lot, error)
	InsertLot(ctx context.Context, lot Lot) (Lot, error)
	// ApplyLotDelta changes received and remaining quantities only when the result stays
	// within 0 <= remaining <= received, and returns ErrLotConflict otherwise.
	ApplyLotDelta(ctx context.Context, lotID int64, receivedDelta, remainingDelta decimal.Decimal) (Lot, error)
	NextDocumentSequence(ctx context.Context, prefix string, day time.Time) (int64, error)
	InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error)
	InsertTransactionLines(ctx context.Context, txID int64, lines []TransactionLine) ([]TransactionLine, error)
	// LockTransaction loads a non voided document with its lines.
	LockTransaction(ctx context.Context, id int64) (Transaction, error)
	VoidTransaction(ctx context.Context, id, actorID int64, at time.Time) error
	LedgerTotals(ctx context.Context, lotIDs []int64) (map[int64]LedgerTotals, error)
}

// FormatDocumentNumber renders PREFIXyymmdd-NNNNN.
func FormatDocumentNumber(prefix string, day time.Time, seq int64) string {
	return fmt.Sprintf("%s%s-%05d", prefix, day.Format("060102"), seq)
}

// ConsumeRequest takes stock for an allocation.
type ConsumeRequest struct {
	ProductID   int64
	WarehouseID int64
	Quantity    decimal.Decimal
	// LotNumber pins a lot and bypasses FIFO ordering.
	LotNumber string
	Reference string
	Notes     string
	ActorID   int64
	Date      time.Time
}

// Movement is a committed-in-transaction ledger document and the lots it drew from.
type Movement struct {
	Transaction Transaction
	Draws       []Draw
}

// Consume decrements lots for req and appends an allocation_consume document.
// Every lot it touches is locked and ledger-verified within tx.
func Consume(ctx context.Context, tx TxRepository, req ConsumeRequest) (Movement, error) {
	if !req.Quantity.IsPositive() {
		return Movement{}, ErrInvalidQuantity
	}
	var plan Plan
	if req.LotNumber != "" {
		lot, err := resolvePinnedLot(ctx, tx, req.ProductID, req.WarehouseID, req.LotNumber)
		if err != nil {
			return Movement{}, err
		}
		if lot.Status != LotStatusActive {
			return Movement{}, &LotError{LotID: lot.ID, LotNumber: lot.LotNumber, Reason: "lot is " + string(lot.Status), Err: ErrInvalidLot}
		}
		if lot.QtyRemaining.LessThan(req.Quantity) {
			return Movement{}, &InsufficientStockError{
				ProductID: req.ProductID, WarehouseID: req.WarehouseID, LotNumber: lot.LotNumber,
				Requested: req.Quantity, Available: lot.QtyRemaining,
			}
		}
		plan = Plan{Requested: req.Quantity, Fulfilled: req.Quantity, Draws: []Draw{{Lot: lot, Quantity: req.Quantity}}}
	} else {
		lots, err := tx.LockCandidateLots(ctx, req.ProductID, req.WarehouseID)
		if err != nil {
			return Movement{}, err
		}
		plan = PlanFIFO(lots, req.Quantity)
		if !plan.Complete() {
			return Movement{}, &InsufficientStockError{
				ProductID: req.ProductID, WarehouseID: req.WarehouseID,
				Requested: req.Quantity, Available: plan.Fulfilled,
			}
		}
	}

	touched := make(map[int64]Lot, len(plan.Draws))
	lines := make([]TransactionLine, 0, len(plan.Draws))
	for i, draw := range plan.Draws {
		updated, err := tx.ApplyLotDelta(ctx, draw.Lot.ID, decimal.Zero, draw.Quantity.Neg())
		if err != nil {
			if errors.Is(err, ErrLotConflict) {
				return Movement{}, &InsufficientStockError{
					ProductID: req.ProductID, WarehouseID: req.WarehouseID, LotNumber: draw.Lot.LotNumber,
					Requested: draw.Quantity, Available: draw.Lot.QtyRemaining,
				}
			}
			return Movement{}, err
		}
		touched[updated.ID] = updated
		plan.Draws[i].Lot = updated
		lines = append(lines, TransactionLine{
			ProductID:   updated.ProductID,
			WarehouseID: updated.WarehouseID,
			LotID:       updated.ID,
			LotNumber:   updated.LotNumber,
			Qty:         draw.Quantity.Neg(),
			UnitCost:    updated.UnitCost,
		})
	}

	doc, err := writeDocument(ctx, tx, Transaction{
		Type:            TransactionTypeAllocationConsume,
		TransactionDate: req.Date,
		Reference:       req.Reference,
		Notes:           req.Notes,
		CreatedBy:       req.ActorID,
	}, lines)
	if err != nil {
		return Movement{}, err
	}
	if err := VerifyLots(ctx, tx, touched); err != nil {
		return Movement{}, err
	}
	return Movement{Transaction: doc, Draws: plan.Draws}, nil
}

// RestoreRequest returns previously consumed stock to a lot.
type RestoreRequest struct {
	LotID     int64
	Quantity  decimal.Decimal
	Reference string
	Notes     string
	ActorID   int64
	Date      time.Time
}

// Restore increments the lot and appends an allocation_reverse document.
func Restore(ctx context.Context, tx TxRepository, req RestoreRequest) (Transaction, error) {
	if !req.Quantity.IsPositive() {
		return Transaction{}, ErrInvalidQuantity
	}
	lot, err := tx.LockLot(ctx, req.LotID)
	if err != nil {
		return Transaction{}, err
	}
	updated, err := tx.ApplyLotDelta(ctx, lot.ID, decimal.Zero, req.Quantity)
	if err != nil {
		if errors.Is(err, ErrLotConflict) {
			// Returning more than was ever taken means the lot and ledger already disagree.
			return Transaction{}, &LedgerError{Checks: []LedgerCheck{{
				LotID: lot.ID, LotNumber: lot.LotNumber, ProductID: lot.ProductID, WarehouseID: lot.WarehouseID,
				QtyReceived: lot.QtyReceived, QtyRemaining: lot.QtyRemaining.Add(req.Quantity),
			}}}
		}
		return Transaction{}, err
	}
	doc, err := writeDocument(ctx, tx, Transaction{
		Type:            TransactionTypeAllocationReverse,
		TransactionDate: req.Date,
		Reference:       req.Reference,
		Notes:           req.Notes,
		CreatedBy:       req.ActorID,
	}, []TransactionLine{{
		ProductID:   updated.ProductID,
		WarehouseID: updated.WarehouseID,
		LotID:       updated.ID,
		LotNumber:   updated.LotNumber,
		Qty:         req.Quantity,
		UnitCost:    updated.UnitCost,
	}})
	if err != nil {
		return Transaction{}, err
	}
	if err := VerifyLots(ctx, tx, map[int64]Lot{updated.ID: updated}); err != nil {
		return Transaction{}, err
	}
	return doc, nil
}

// VerifyLots checks the given post-mutation lots against their ledger sums.
func VerifyLots(ctx context.Context, tx TxRepository, lots map[int64]Lot) error {
	if len(lots) == 0 {
		return nil
	}
	ids := make([]int64, 0, len(lots))
	for id := range lots {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	totals, err := tx.LedgerTotals(ctx, ids)
	if err != nil {
		return err
	}
	var bad []LedgerCheck
	for _, id := range ids {
		check := NewLedgerCheck(lots[id], totals[id])
		if !check.Consistent() {
			bad = append(bad, check)
		}
	}
	if len(bad) > 0 {
		return &LedgerError{Checks: bad}
	}
	return nil
}

func resolvePinnedLot(ctx context.Context, tx TxRepository, productID, warehouseID int64, lotNumber string) (Lot, error) {
	lots, err := tx.LockLotsByNumber(ctx, lotNumber)
	if err != nil {
		return Lot{}, err
	}
	if len(lots) == 0 {
		return Lot{}, &LotError{LotNumber: lotNumber, Err: ErrLotNotFound}
	}
	for _, lot := range lots {
		if lot.ProductID == productID && lot.WarehouseID == warehouseID {
			return lot, nil
		}
	}
	return Lot{}, &LotError{LotNumber: lotNumber, Reason: "lot belongs to a different warehouse or product", Err: ErrInvalidLot}
}

func writeDocument(ctx context.Context, tx TxRepository, header Transaction, lines []TransactionLine) (Transaction, error) {
	if header.TransactionDate.IsZero() {
		header.TransactionDate = time.Now().UTC()
	}
	if header.DocumentNumber == "" {
		number, err := nextDocumentNumber(ctx, tx, header.Type, header.TransactionDate)
		if err != nil {
			return Transaction{}, err
		}
		header.DocumentNumber = number
	}
	doc, err := tx.InsertTransaction(ctx, header)
	if err != nil {
		return Transaction{}, err
	}
	stored, err := tx.InsertTransactionLines(ctx, doc.ID, lines)
	if err != nil {
		return Transaction{}, err
	}
	doc.Lines = stored
	return doc, nil
}

func nextDocumentNumber(ctx context.Context, tx TxRepository, docType TransactionType, day time.Time) (string, error) {
	prefix := docType.DocumentPrefix()
	seq, err := tx.NextDocumentSequence(ctx, prefix, day)
	if err != nil {
		return "", err
	}
	return FormatDocumentNumber(prefix, day, seq), nil
}
