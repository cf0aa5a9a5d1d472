package inventory

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// TransactionType enumerates stock ledger document kinds.
type TransactionType string

const (
	// TransactionTypeReceive records goods received into a lot.
	TransactionTypeReceive TransactionType = "receive"
	// TransactionTypeAdjustment records a manual add or reduce against a lot.
	TransactionTypeAdjustment TransactionType = "adjustment"
	// TransactionTypeAllocationConsume records stock taken by an allocation.
	TransactionTypeAllocationConsume TransactionType = "allocation_consume"
	// TransactionTypeAllocationReverse records stock returned by a cancelled allocation.
	TransactionTypeAllocationReverse TransactionType = "allocation_reverse"
)

// IsValid reports whether the type is known.
func (t TransactionType) IsValid() bool {
	switch t {
	case TransactionTypeReceive, TransactionTypeAdjustment, TransactionTypeAllocationConsume, TransactionTypeAllocationReverse:
		return true
	default:
		return false
	}
}

// IsManual reports whether documents of this type are created and deleted by users.
func (t TransactionType) IsManual() bool {
	return t == TransactionTypeReceive || t == TransactionTypeAdjustment
}

// DocumentPrefix returns the document number prefix.
func (t TransactionType) DocumentPrefix() string {
	switch t {
	case TransactionTypeReceive:
		return "REC"
	case TransactionTypeAdjustment:
		return "AJ"
	case TransactionTypeAllocationConsume:
		return "AL"
	case TransactionTypeAllocationReverse:
		return "AR"
	default:
		return "TX"
	}
}

// LotStatus is the lifecycle state of a lot.
type LotStatus string

const (
	LotStatusActive   LotStatus = "active"
	LotStatusDepleted LotStatus = "depleted"
	LotStatusExpired  LotStatus = "expired"
)

// IsValid reports whether the status is known.
func (s LotStatus) IsValid() bool {
	switch s {
	case LotStatusActive, LotStatusDepleted, LotStatusExpired:
		return true
	default:
		return false
	}
}

// next derives the status after remaining quantity changes. Expired is sticky.
func (s LotStatus) next(remaining decimal.Decimal) LotStatus {
	if s == LotStatusExpired {
		return s
	}
	if remaining.IsPositive() {
		return LotStatusActive
	}
	return LotStatusDepleted
}

// AdjustmentDirection selects whether an adjustment adds or removes stock.
type AdjustmentDirection string

const (
	AdjustmentAdd    AdjustmentDirection = "add"
	AdjustmentReduce AdjustmentDirection = "reduce"
)

// IsValid reports whether the direction is known.
func (d AdjustmentDirection) IsValid() bool {
	return d == AdjustmentAdd || d == AdjustmentReduce
}

// Lot is a dated batch of one product at one warehouse.
type Lot struct {
	ID           int64           `json:"id"`
	WarehouseID  int64           `json:"warehouse_id"`
	ProductID    int64           `json:"product_id"`
	LotNumber    string          `json:"lot_number"`
	QtyReceived  decimal.Decimal `json:"quantity_received"`
	QtyRemaining decimal.Decimal `json:"quantity_remaining"`
	UnitCost     decimal.Decimal `json:"unit_cost"`
	ExpiryDate   *time.Time      `json:"expiry_date,omitempty"`
	ReceivedAt   time.Time       `json:"received_at"`
	Status       LotStatus       `json:"status"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Available reports whether FIFO may draw from the lot.
func (l Lot) Available() bool {
	return l.Status == LotStatusActive && l.QtyRemaining.IsPositive()
}

// Transaction is an append-only stock ledger document.
type Transaction struct {
	ID              int64             `json:"id"`
	DocumentNumber  string            `json:"document_number"`
	Type            TransactionType   `json:"type"`
	TransactionDate time.Time         `json:"transaction_date"`
	Reference       string            `json:"reference,omitempty"`
	Notes           string            `json:"notes"`
	CreatedBy       int64             `json:"created_by"`
	CreatedAt       time.Time         `json:"created_at"`
	VoidedAt        *time.Time        `json:"voided_at,omitempty"`
	VoidedBy        int64             `json:"voided_by,omitempty"`
	Lines           []TransactionLine `json:"items"`
}

// TransactionLine is one lot effect. Qty is the signed change to the lot's remaining quantity.
type TransactionLine struct {
	ID            int64           `json:"id"`
	TransactionID int64           `json:"transaction_id"`
	ProductID     int64           `json:"product_id"`
	WarehouseID   int64           `json:"warehouse_id"`
	LotID         int64           `json:"lot_id"`
	LotNumber     string          `json:"lot_number"`
	Qty           decimal.Decimal `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	Remarks       string          `json:"remarks,omitempty"`
}

// StockItemInput describes one line of a receive or adjustment document.
type StockItemInput struct {
	ProductID   int64               `json:"product_id" validate:"required,gt=0"`
	WarehouseID int64               `json:"warehouse_id" validate:"required,gt=0"`
	LotNumber   string              `json:"lot_number" validate:"max=64"`
	Quantity    decimal.Decimal     `json:"quantity"`
	UnitCost    decimal.Decimal     `json:"unit_cost"`
	ExpiryDate  *time.Time          `json:"expiry_date,omitempty"`
	Adjustment  AdjustmentDirection `json:"adjustment,omitempty" validate:"omitempty,oneof=add reduce"`
	Remarks     string              `json:"remarks" validate:"max=500"`
}

// CreateTransactionInput is the payload of createStockTransaction.
type CreateTransactionInput struct {
	Type            TransactionType  `json:"type" validate:"required,oneof=receive adjustment"`
	TransactionDate time.Time        `json:"transaction_date"`
	Notes           string           `json:"notes" validate:"max=1000"`
	Items           []StockItemInput `json:"items" validate:"required,min=1,dive"`
	IdempotencyKey  string           `json:"-"`
	ActorID         int64            `json:"-"`
}

// TransactionFilter filters listStockTransactions.
type TransactionFilter struct {
	Type    TransactionType
	Search  string
	Month   int
	Year    int
	Page    int
	PerPage int
}

// TransactionPage is a paginated listing.
type TransactionPage struct {
	Transactions []Transaction     `json:"data"`
	Pagination   shared.Pagination `json:"pagination"`
}

// LotFilter filters lot listings. WarehouseID zero means every warehouse.
type LotFilter struct {
	ProductID   int64
	WarehouseID int64
}

// LedgerTotals aggregates non-voided ledger lines of one lot.
type LedgerTotals struct {
	LotID     int64
	Received  decimal.Decimal
	DeltaSum  decimal.Decimal
	LineCount int
}

// LedgerCheck compares a lot's stored quantities with its ledger.
type LedgerCheck struct {
	LotID            int64           `json:"lot_id"`
	LotNumber        string          `json:"lot_number"`
	ProductID        int64           `json:"product_id"`
	WarehouseID      int64           `json:"warehouse_id"`
	QtyReceived      decimal.Decimal `json:"quantity_received"`
	QtyRemaining     decimal.Decimal `json:"quantity_remaining"`
	LedgerReceived   decimal.Decimal `json:"ledger_received"`
	LedgerDeltaTotal decimal.Decimal `json:"ledger_delta_total"`
}

// Consistent reports whether received and remaining both match the ledger.
func (c LedgerCheck) Consistent() bool {
	return c.QtyReceived.Equal(c.LedgerReceived) && c.QtyRemaining.Equal(c.LedgerDeltaTotal)
}

// NewLedgerCheck pairs a lot with its ledger totals.
func NewLedgerCheck(lot Lot, totals LedgerTotals) LedgerCheck {
	return LedgerCheck{
		LotID:            lot.ID,
		LotNumber:        lot.LotNumber,
		ProductID:        lot.ProductID,
		WarehouseID:      lot.WarehouseID,
		QtyReceived:      lot.QtyReceived,
		QtyRemaining:     lot.QtyRemaining,
		LedgerReceived:   totals.Received,
		LedgerDeltaTotal: totals.DeltaSum,
	}
}

// StockSummaryRow aggregates remaining stock per warehouse and product.
type StockSummaryRow struct {
	WarehouseID  int64           `json:"warehouse_id"`
	ProductID    int64           `json:"product_id"`
	LotCount     int             `json:"lot_count"`
	QtyReceived  decimal.Decimal `json:"quantity_received"`
	QtyRemaining decimal.Decimal `json:"quantity_remaining"`
	StockValue   decimal.Decimal `json:"stock_value"`
}
