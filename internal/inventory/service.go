package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/observability"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error)
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	ListLots(ctx context.Context, filter LotFilter) ([]Lot, error)
	CandidateLots(ctx context.Context, productID, warehouseID int64) ([]Lot, error)
	ProductTotalStock(ctx context.Context, productID int64) (decimal.Decimal, error)
	StockSummary(ctx context.Context, filter LotFilter) ([]StockSummaryRow, error)
	LedgerChecks(ctx context.Context, filter LotFilter) ([]LedgerCheck, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort records processed client tokens.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Service coordinates lot and ledger operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     *observability.FulfillmentMetrics
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Audit       AuditPort
	Idempotency IdempotencyPort
	Metrics     *observability.FulfillmentMetrics
	Logger      *slog.Logger
	Clock       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:        repo,
		audit:       cfg.Audit,
		idempotency: cfg.Idempotency,
		metrics:     cfg.Metrics,
		logger:      logger,
		now:         clock,
	}
}

const idempotencyModule = "inventory"

// CreateStockTransaction posts a receive or adjustment document.
func (s *Service) CreateStockTransaction(ctx context.Context, input CreateTransactionInput) (Transaction, error) {
	if err := validateCreate(input); err != nil {
		return Transaction{}, err
	}
	if input.TransactionDate.IsZero() {
		input.TransactionDate = s.now()
	}

	key := ""
	if input.IdempotencyKey != "" && s.idempotency != nil {
		key = shared.IdempotencyKey(idempotencyModule, "create", input.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			return Transaction{}, err
		}
	}

	var doc Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := nextDocumentNumber(ctx, tx, input.Type, input.TransactionDate)
		if err != nil {
			return err
		}
		touched := make(map[int64]Lot, len(input.Items))
		lines := make([]TransactionLine, 0, len(input.Items))
		for i, item := range input.Items {
			var line TransactionLine
			var lot Lot
			switch input.Type {
			case TransactionTypeReceive:
				lot, line, err = s.receiveItem(ctx, tx, number, i, input.TransactionDate, item)
			case TransactionTypeAdjustment:
				lot, line, err = s.adjustItem(ctx, tx, item)
			}
			if err != nil {
				return err
			}
			touched[lot.ID] = lot
			lines = append(lines, line)
		}
		doc, err = writeDocument(ctx, tx, Transaction{
			DocumentNumber:  number,
			Type:            input.Type,
			TransactionDate: input.TransactionDate,
			Notes:           strings.TrimSpace(input.Notes),
			CreatedBy:       input.ActorID,
		}, lines)
		if err != nil {
			return err
		}
		return VerifyLots(ctx, tx, touched)
	})
	if err != nil {
		if key != "" {
			_ = s.idempotency.Delete(ctx, key)
		}
		s.logFailure(ctx, "create stock transaction", err)
		return Transaction{}, err
	}

	s.metrics.ObserveStockDocument(string(doc.Type), "created")
	s.recordAudit(ctx, input.ActorID, "inventory:"+string(doc.Type), doc, map[string]any{
		"document_number": doc.DocumentNumber,
		"lines":           len(doc.Lines),
	})
	return doc, nil
}

func (s *Service) receiveItem(ctx context.Context, tx TxRepository, docNumber string, index int, date time.Time, item StockItemInput) (Lot, TransactionLine, error) {
	lotNumber := strings.TrimSpace(item.LotNumber)
	if lotNumber == "" {
		lotNumber = docNumber + "-" + strconv.Itoa(index+1)
	}
	existing, err := tx.LockLotsByNumber(ctx, lotNumber)
	if err != nil {
		return Lot{}, TransactionLine{}, err
	}
	var lot Lot
	found := false
	for _, candidate := range existing {
		if candidate.ProductID == item.ProductID && candidate.WarehouseID == item.WarehouseID {
			lot, found = candidate, true
			break
		}
	}
	if found {
		lot, err = tx.ApplyLotDelta(ctx, lot.ID, item.Quantity, item.Quantity)
	} else {
		lot, err = tx.InsertLot(ctx, Lot{
			WarehouseID:  item.WarehouseID,
			ProductID:    item.ProductID,
			LotNumber:    lotNumber,
			QtyReceived:  item.Quantity,
			QtyRemaining: item.Quantity,
			UnitCost:     item.UnitCost,
			ExpiryDate:   item.ExpiryDate,
			ReceivedAt:   date,
			Status:       LotStatusActive,
		})
	}
	if err != nil {
		return Lot{}, TransactionLine{}, err
	}
	return lot, TransactionLine{
		ProductID:   item.ProductID,
		WarehouseID: item.WarehouseID,
		LotID:       lot.ID,
		LotNumber:   lot.LotNumber,
		Qty:         item.Quantity,
		UnitCost:    item.UnitCost,
		Remarks:     strings.TrimSpace(item.Remarks),
	}, nil
}

func (s *Service) adjustItem(ctx context.Context, tx TxRepository, item StockItemInput) (Lot, TransactionLine, error) {
	lot, err := resolvePinnedLot(ctx, tx, item.ProductID, item.WarehouseID, strings.TrimSpace(item.LotNumber))
	if err != nil {
		return Lot{}, TransactionLine{}, err
	}
	delta := item.Quantity
	if item.Adjustment == AdjustmentReduce {
		if lot.QtyRemaining.LessThan(item.Quantity) {
			return Lot{}, TransactionLine{}, &InsufficientStockError{
				ProductID: item.ProductID, WarehouseID: item.WarehouseID, LotNumber: lot.LotNumber,
				Requested: item.Quantity, Available: lot.QtyRemaining,
			}
		}
		delta = delta.Neg()
	} else if lot.QtyRemaining.Add(item.Quantity).GreaterThan(lot.QtyReceived) {
		return Lot{}, TransactionLine{}, fmt.Errorf("%w: lot %s can take %s more", ErrAdjustmentCeiling, lot.LotNumber, lot.QtyReceived.Sub(lot.QtyRemaining))
	}
	updated, err := tx.ApplyLotDelta(ctx, lot.ID, decimal.Zero, delta)
	if err != nil {
		return Lot{}, TransactionLine{}, err
	}
	return updated, TransactionLine{
		ProductID:   item.ProductID,
		WarehouseID: item.WarehouseID,
		LotID:       updated.ID,
		LotNumber:   updated.LotNumber,
		Qty:         delta,
		UnitCost:    updated.UnitCost,
		Remarks:     strings.TrimSpace(item.Remarks),
	}, nil
}

// DeleteStockTransaction reverses a receive or adjustment document and voids it.
// Nothing changes when any lot would leave 0 <= remaining <= received.
func (s *Service) DeleteStockTransaction(ctx context.Context, id, actorID int64) (Transaction, error) {
	if id <= 0 {
		return Transaction{}, ErrTransactionNotFound
	}
	var doc Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		doc, err = tx.LockTransaction(ctx, id)
		if err != nil {
			return err
		}
		if !doc.Type.IsManual() {
			return ErrNotDeletable
		}

		// Lock lots in id order so concurrent deletions cannot deadlock.
		lines := append([]TransactionLine(nil), doc.Lines...)
		sort.SliceStable(lines, func(i, j int) bool { return lines[i].LotID < lines[j].LotID })

		touched := make(map[int64]Lot, len(lines))
		for _, line := range lines {
			lot, ok := touched[line.LotID]
			if !ok {
				lot, err = tx.LockLot(ctx, line.LotID)
				if err != nil {
					return err
				}
			}
			receivedDelta := decimal.Zero
			if doc.Type == TransactionTypeReceive {
				receivedDelta = line.Qty.Neg()
			}
			remainingDelta := line.Qty.Neg()
			newRemaining := lot.QtyRemaining.Add(remainingDelta)
			newReceived := lot.QtyReceived.Add(receivedDelta)
			if newRemaining.IsNegative() || newRemaining.GreaterThan(newReceived) {
				return &ReversalError{
					DocumentNumber: doc.DocumentNumber,
					LotID:          lot.ID,
					LotNumber:      lot.LotNumber,
					Remaining:      lot.QtyRemaining,
					Received:       newReceived,
					Delta:          remainingDelta,
				}
			}
			updated, err := tx.ApplyLotDelta(ctx, lot.ID, receivedDelta, remainingDelta)
			if err != nil {
				if errors.Is(err, ErrLotConflict) {
					return &ReversalError{DocumentNumber: doc.DocumentNumber, LotID: lot.ID, LotNumber: lot.LotNumber,
						Remaining: lot.QtyRemaining, Received: newReceived, Delta: remainingDelta}
				}
				return err
			}
			touched[updated.ID] = updated
		}
		now := s.now()
		if err := tx.VoidTransaction(ctx, doc.ID, actorID, now); err != nil {
			return err
		}
		doc.VoidedAt = &now
		doc.VoidedBy = actorID
		return VerifyLots(ctx, tx, touched)
	})
	if err != nil {
		s.logFailure(ctx, "delete stock transaction", err)
		return Transaction{}, err
	}
	s.metrics.ObserveStockDocument(string(doc.Type), "voided")
	s.recordAudit(ctx, actorID, "inventory:void", doc, map[string]any{"document_number": doc.DocumentNumber})
	return doc, nil
}

// ListStockTransactions lists non voided documents newest first.
func (s *Service) ListStockTransactions(ctx context.Context, filter TransactionFilter) (TransactionPage, error) {
	if filter.Type != "" && !filter.Type.IsValid() {
		return TransactionPage{}, fmt.Errorf("%w: type %q", ErrInvalidFilter, filter.Type)
	}
	if filter.Month < 0 || filter.Month > 12 {
		return TransactionPage{}, fmt.Errorf("%w: month %d", ErrInvalidFilter, filter.Month)
	}
	if filter.Month != 0 && filter.Year == 0 {
		filter.Year = s.now().Year()
	}
	filter.Search = strings.TrimSpace(filter.Search)
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	txs, total, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return TransactionPage{}, err
	}
	if txs == nil {
		txs = []Transaction{}
	}
	return TransactionPage{Transactions: txs, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)}, nil
}

// GetStockTransaction loads one document with lines.
func (s *Service) GetStockTransaction(ctx context.Context, id int64) (Transaction, error) {
	if id <= 0 {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.repo.GetTransaction(ctx, id)
}

// ListProductLots lists every lot of a product, optionally within one warehouse.
func (s *Service) ListProductLots(ctx context.Context, filter LotFilter) ([]Lot, error) {
	if filter.ProductID <= 0 {
		return nil, fmt.Errorf("%w: product_id required", ErrInvalidFilter)
	}
	return s.repo.ListLots(ctx, filter)
}

// CandidateLots returns drawable lots for a product at a warehouse in FIFO order.
func (s *Service) CandidateLots(ctx context.Context, productID, warehouseID int64) ([]Lot, error) {
	if productID <= 0 || warehouseID <= 0 {
		return nil, fmt.Errorf("%w: product_id and warehouse_id required", ErrInvalidFilter)
	}
	return s.repo.CandidateLots(ctx, productID, warehouseID)
}

// GetProductTotalStock sums remaining quantity across every warehouse and lot.
func (s *Service) GetProductTotalStock(ctx context.Context, productID int64) (decimal.Decimal, error) {
	if productID <= 0 {
		return decimal.Zero, fmt.Errorf("%w: product_id required", ErrInvalidFilter)
	}
	return s.repo.ProductTotalStock(ctx, productID)
}

// StockSummary aggregates lots per warehouse and product.
func (s *Service) StockSummary(ctx context.Context, filter LotFilter) ([]StockSummaryRow, error) {
	return s.repo.StockSummary(ctx, filter)
}

// VerifyLedger returns every lot whose quantities diverge from its ledger.
func (s *Service) VerifyLedger(ctx context.Context, filter LotFilter) ([]LedgerCheck, error) {
	checks, err := s.repo.LedgerChecks(ctx, filter)
	if err != nil {
		return nil, err
	}
	var bad []LedgerCheck
	for _, c := range checks {
		if !c.Consistent() {
			bad = append(bad, c)
		}
	}
	if len(bad) > 0 {
		s.metrics.ObserveLedgerMismatch(len(bad))
		s.logger.ErrorContext(ctx, "ledger verification found inconsistent lots", slog.Int("lots", len(bad)), slog.Int("checked", len(checks)))
	}
	return bad, nil
}

func validateCreate(input CreateTransactionInput) error {
	if !input.Type.IsManual() {
		return fmt.Errorf("%w: %q", ErrInvalidTransactionType, input.Type)
	}
	if len(input.Items) == 0 {
		return ErrEmptyItems
	}
	for i, item := range input.Items {
		if item.ProductID <= 0 || item.WarehouseID <= 0 {
			return fmt.Errorf("inventory: item %d: product and warehouse required", i+1)
		}
		if !item.Quantity.IsPositive() {
			return fmt.Errorf("item %d: %w", i+1, ErrInvalidQuantity)
		}
		switch input.Type {
		case TransactionTypeReceive:
			if item.UnitCost.IsNegative() {
				return fmt.Errorf("item %d: %w", i+1, ErrInvalidUnitCost)
			}
		case TransactionTypeAdjustment:
			if strings.TrimSpace(item.LotNumber) == "" {
				return fmt.Errorf("item %d: %w", i+1, ErrLotRequired)
			}
			if !item.Adjustment.IsValid() {
				return fmt.Errorf("inventory: item %d: adjustment must be add or reduce", i+1)
			}
		}
	}
	return nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, doc Transaction, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock_transaction",
		EntityID: strconv.FormatInt(doc.ID, 10),
		Meta:     meta,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit stock transaction", slog.Any("error", err))
	}
}

func (s *Service) logFailure(ctx context.Context, op string, err error) {
	if errors.Is(err, ErrLedgerInconsistent) {
		s.metrics.ObserveLedgerMismatch(1)
		s.logger.ErrorContext(ctx, op+" halted", slog.Any("error", err))
		return
	}
	s.logger.InfoContext(ctx, op+" rejected", slog.Any("error", err))
}
