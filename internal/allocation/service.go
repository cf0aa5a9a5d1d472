package allocation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/observability"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/orders"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// TxRepository extends the ledger transaction with allocation and order line rows.
type TxRepository interface {
	inventory.TxRepository
	// LockOrderItem locks the order line so concurrent allocations on it serialise.
	LockOrderItem(ctx context.Context, itemID int64) (orders.Item, error)
	UpdateOrderItemQuantity(ctx context.Context, itemID int64, qty decimal.Decimal) error
	// ListItemAllocations returns every row of the line, locked, in id order.
	ListItemAllocations(ctx context.Context, itemID int64) ([]Allocation, error)
	LockAllocation(ctx context.Context, id int64) (Allocation, error)
	InsertAllocation(ctx context.Context, a Allocation) (Allocation, error)
	UpdateAllocation(ctx context.Context, a Allocation) (Allocation, error)
}

// RepositoryPort abstracts allocation persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListAllocations(ctx context.Context, filter Filter) ([]Allocation, error)
	GetAllocation(ctx context.Context, id int64) (Allocation, error)
	GetOrderItem(ctx context.Context, itemID int64) (orders.Item, error)
	ItemAllocations(ctx context.Context, itemID int64) ([]Allocation, error)
}

// OrderReader loads orders owned elsewhere.
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (orders.Order, error)
}

// Suggester proposes a default warehouse for a delivery province.
type Suggester interface {
	SuggestWarehouse(ctx context.Context, province string) (int64, bool, error)
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

// Service implements the allocation engine.
type Service struct {
	repo        RepositoryPort
	orders      OrderReader
	suggester   Suggester
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     *observability.FulfillmentMetrics
	logger      *slog.Logger
	now         func() time.Time
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Suggester   Suggester
	Audit       AuditPort
	Idempotency IdempotencyPort
	Metrics     *observability.FulfillmentMetrics
	Logger      *slog.Logger
	Clock       func() time.Time
}

// NewService builds the allocation engine.
func NewService(repo RepositoryPort, orderReader OrderReader, cfg ServiceConfig) *Service {
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
		orders:      orderReader,
		suggester:   cfg.Suggester,
		audit:       cfg.Audit,
		idempotency: cfg.Idempotency,
		metrics:     cfg.Metrics,
		logger:      logger,
		now:         clock,
	}
}

const idempotencyModule = "allocation"

type allocateRequest struct {
	itemID      int64
	warehouseID int64
	quantity    decimal.Decimal
	// fill allocates whatever is still unmet, ignoring quantity.
	fill      bool
	lotNumber string
	actorID   int64
}

// AllocateItem binds quantity of one order line to lots of a warehouse.
func (s *Service) AllocateItem(ctx context.Context, input AllocateItemInput) (ItemState, error) {
	if input.OrderItemID <= 0 {
		return ItemState{}, orders.ErrItemNotFound
	}
	if input.WarehouseID <= 0 {
		return ItemState{}, ErrWarehouseRequired
	}
	if !input.Quantity.IsPositive() {
		return ItemState{}, inventory.ErrInvalidQuantity
	}

	key := ""
	if input.IdempotencyKey != "" && s.idempotency != nil {
		key = shared.IdempotencyKey(idempotencyModule, "item:"+strconv.FormatInt(input.OrderItemID, 10), input.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				s.metrics.ObserveAllocation("allocate_item", "replayed")
				return s.replayItem(ctx, input.OrderItemID)
			}
			return ItemState{}, err
		}
	}

	state, err := s.allocate(ctx, allocateRequest{
		itemID:      input.OrderItemID,
		warehouseID: input.WarehouseID,
		quantity:    input.Quantity,
		lotNumber:   input.LotNumber,
		actorID:     input.ActorID,
	})
	if err != nil {
		if key != "" {
			_ = s.idempotency.Delete(ctx, key)
		}
		s.metrics.ObserveAllocation("allocate_item", outcomeOf(err))
		s.logFailure(ctx, "allocate item", err, slog.Int64("order_item_id", input.OrderItemID))
		return ItemState{}, err
	}
	s.metrics.ObserveAllocation("allocate_item", "success")
	return state, nil
}

func (s *Service) replayItem(ctx context.Context, itemID int64) (ItemState, error) {
	item, err := s.repo.GetOrderItem(ctx, itemID)
	if err != nil {
		return ItemState{}, err
	}
	rows, err := s.repo.ItemAllocations(ctx, itemID)
	if err != nil {
		return ItemState{}, err
	}
	state := NewItemState(item, rows)
	state.Replayed = true
	return state, nil
}

func (s *Service) allocate(ctx context.Context, req allocateRequest) (ItemState, error) {
	var state ItemState
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.LockOrderItem(ctx, req.itemID)
		if err != nil {
			return err
		}
		rows, err := tx.ListItemAllocations(ctx, item.ID)
		if err != nil {
			return err
		}
		remaining := item.Quantity.Sub(AllocatedSum(rows))
		qty := req.quantity
		if req.fill {
			qty = remaining
		}
		if !qty.IsPositive() {
			return &RequirementError{OrderItemID: item.ID, Remaining: remaining, Requested: qty}
		}
		if qty.GreaterThan(remaining) {
			return &RequirementError{OrderItemID: item.ID, Remaining: remaining, Requested: qty}
		}

		movement, err := inventory.Consume(ctx, tx, inventory.ConsumeRequest{
			ProductID:   item.ProductID,
			WarehouseID: req.warehouseID,
			Quantity:    qty,
			LotNumber:   req.lotNumber,
			Reference:   itemReference(item),
			ActorID:     req.actorID,
			Date:        s.now(),
		})
		if err != nil {
			return err
		}

		pending := pendingRow(rows)
		need := remaining
		for i, draw := range movement.Draws {
			row := Allocation{
				OrderID:           item.OrderID,
				OrderItemID:       item.ID,
				ProductID:         item.ProductID,
				PromotionID:       item.PromotionID,
				IsFreebie:         item.IsFreebie,
				RequiredQuantity:  need,
				AllocatedQuantity: draw.Quantity,
				WarehouseID:       req.warehouseID,
				LotID:             draw.Lot.ID,
				LotNumber:         draw.Lot.LotNumber,
				Status:            StatusAllocated,
				ConsumeDocument:   movement.Transaction.DocumentNumber,
				CreatedBy:         req.actorID,
			}
			need = need.Sub(draw.Quantity)
			if i == 0 && pending != nil {
				row.ID = pending.ID
				row.CreatedAt = pending.CreatedAt
				if _, err := tx.UpdateAllocation(ctx, row); err != nil {
					return err
				}
				continue
			}
			if _, err := tx.InsertAllocation(ctx, row); err != nil {
				return err
			}
		}

		rows, err = tx.ListItemAllocations(ctx, item.ID)
		if err != nil {
			return err
		}
		if rows, err = s.syncPending(ctx, tx, item, rows, req.warehouseID, req.actorID); err != nil {
			return err
		}
		state = NewItemState(item, rows)
		doc := movement.Transaction
		state.Document = &doc
		return nil
	})
	if err != nil {
		return ItemState{}, err
	}
	s.recordAudit(ctx, req.actorID, "allocation:allocate", "order_item", strconv.FormatInt(state.OrderItemID, 10), map[string]any{
		"document_number": state.Document.DocumentNumber,
		"warehouse_id":    req.warehouseID,
		"allocated":       state.AllocatedQuantity.String(),
	})
	return state, nil
}

// syncPending keeps exactly one PENDING row carrying the unmet quantity of the line, or none when fully met.
func (s *Service) syncPending(ctx context.Context, tx TxRepository, item orders.Item, rows []Allocation, warehouseID, actorID int64) ([]Allocation, error) {
	unmet := item.Quantity.Sub(AllocatedSum(rows))
	pending := pendingRow(rows)
	changed := false
	switch {
	case unmet.IsPositive() && pending == nil:
		if _, err := tx.InsertAllocation(ctx, Allocation{
			OrderID:           item.OrderID,
			OrderItemID:       item.ID,
			ProductID:         item.ProductID,
			PromotionID:       item.PromotionID,
			IsFreebie:         item.IsFreebie,
			RequiredQuantity:  unmet,
			AllocatedQuantity: decimal.Zero,
			WarehouseID:       warehouseID,
			Status:            StatusPending,
			CreatedBy:         actorID,
		}); err != nil {
			return nil, err
		}
		changed = true
	case unmet.IsPositive() && !pending.RequiredQuantity.Equal(unmet):
		next := *pending
		next.RequiredQuantity = unmet
		if next.WarehouseID == 0 {
			next.WarehouseID = warehouseID
		}
		if _, err := tx.UpdateAllocation(ctx, next); err != nil {
			return nil, err
		}
		changed = true
	case !unmet.IsPositive() && pending != nil:
		next := *pending
		next.Status = StatusCancelled
		if _, err := tx.UpdateAllocation(ctx, next); err != nil {
			return nil, err
		}
		changed = true
	}
	if !changed {
		return rows, nil
	}
	return tx.ListItemAllocations(ctx, item.ID)
}

func pendingRow(rows []Allocation) *Allocation {
	for i := range rows {
		if rows[i].Status == StatusPending {
			return &rows[i]
		}
	}
	return nil
}

// AllocateOrder allocates the full unmet quantity of every line. Lines succeed or fail independently.
func (s *Service) AllocateOrder(ctx context.Context, input AllocateOrderInput) (BulkResult, error) {
	order, err := s.orders.GetOrder(ctx, input.OrderID)
	if err != nil {
		return BulkResult{}, err
	}
	warehouseID := input.WarehouseID
	if warehouseID == 0 {
		warehouseID, err = s.suggest(ctx, order.CustomerProvince)
		if err != nil {
			return BulkResult{}, err
		}
	}
	result := BulkResult{OrderID: order.ID, WarehouseID: warehouseID, Succeeded: []ItemState{}, Skipped: []LineOutcome{}, Failed: []LineOutcome{}}

	key := ""
	if input.IdempotencyKey != "" && s.idempotency != nil {
		key = shared.IdempotencyKey(idempotencyModule, "order:"+order.ID, input.IdempotencyKey)
		if err := s.idempotency.CheckAndInsert(ctx, key, idempotencyModule); err != nil {
			if !errors.Is(err, shared.ErrIdempotencyConflict) {
				return BulkResult{}, err
			}
			result.Replayed = true
			for _, item := range order.Items {
				state, err := s.replayItem(ctx, item.ID)
				if err != nil {
					return BulkResult{}, err
				}
				result.Succeeded = append(result.Succeeded, state)
			}
			s.metrics.ObserveAllocation("allocate_order", "replayed")
			return result, nil
		}
	}

	for _, item := range order.Items {
		rows, err := s.repo.ItemAllocations(ctx, item.ID)
		if err != nil {
			return result, err
		}
		unmet := item.Quantity.Sub(AllocatedSum(rows))
		if !unmet.IsPositive() {
			result.Skipped = append(result.Skipped, LineOutcome{OrderItemID: item.ID, ProductID: item.ProductID, Quantity: unmet, Reason: "fully allocated"})
			continue
		}
		state, err := s.allocate(ctx, allocateRequest{itemID: item.ID, warehouseID: warehouseID, fill: true, actorID: input.ActorID})
		if err != nil {
			if errors.Is(err, inventory.ErrLedgerInconsistent) {
				s.logFailure(ctx, "allocate order", err, slog.String("order_id", order.ID))
				return result, err
			}
			s.metrics.ObserveAllocation("allocate_order", outcomeOf(err))
			outcome := LineOutcome{OrderItemID: item.ID, ProductID: item.ProductID, Quantity: unmet, Reason: err.Error()}
			var meta interface{ ProblemMeta() map[string]any }
			if errors.As(err, &meta) {
				outcome.Meta = meta.ProblemMeta()
			}
			result.Failed = append(result.Failed, outcome)
			continue
		}
		s.metrics.ObserveAllocation("allocate_order", "success")
		result.Succeeded = append(result.Succeeded, state)
	}

	if key != "" && len(result.Succeeded) == 0 {
		// Nothing was committed, so a retry must be allowed to run again.
		_ = s.idempotency.Delete(ctx, key)
	}
	s.logger.InfoContext(ctx, "order allocated",
		slog.String("order_id", order.ID),
		slog.Int64("warehouse_id", warehouseID),
		slog.Int("succeeded", len(result.Succeeded)),
		slog.Int("skipped", len(result.Skipped)),
		slog.Int("failed", len(result.Failed)))
	return result, nil
}

// MaterializeOrder creates PENDING rows for every line with unmet quantity.
func (s *Service) MaterializeOrder(ctx context.Context, orderID string, actorID int64) ([]Allocation, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	warehouseID, err := s.suggest(ctx, order.CustomerProvince)
	if err != nil && !errors.Is(err, ErrWarehouseRequired) {
		return nil, err
	}
	items := append([]orders.Item(nil), order.Items...)
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, ref := range items {
			item, err := tx.LockOrderItem(ctx, ref.ID)
			if err != nil {
				return err
			}
			rows, err := tx.ListItemAllocations(ctx, item.ID)
			if err != nil {
				return err
			}
			if _, err := s.syncPending(ctx, tx, item, rows, warehouseID, actorID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.repo.ListAllocations(ctx, Filter{OrderID: order.ID})
}

// ReverseAllocation cancels a row, returning its stock to the lot. Cancelling twice is a no-op.
func (s *Service) ReverseAllocation(ctx context.Context, id, actorID int64) (Allocation, error) {
	current, err := s.repo.GetAllocation(ctx, id)
	if err != nil {
		return Allocation{}, err
	}
	if current.Status == StatusCancelled {
		return current, nil
	}

	var result Allocation
	var reversed bool
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.LockOrderItem(ctx, current.OrderItemID)
		if err != nil {
			return err
		}
		row, err := tx.LockAllocation(ctx, id)
		if err != nil {
			return err
		}
		switch row.Status {
		case StatusCancelled:
			result = row
			return nil
		case StatusShipped:
			return &TransitionError{From: row.Status, To: StatusCancelled}
		case StatusAllocated, StatusPicked:
			doc, err := inventory.Restore(ctx, tx, inventory.RestoreRequest{
				LotID:     row.LotID,
				Quantity:  row.AllocatedQuantity,
				Reference: itemReference(item),
				Notes:     "reversal of " + row.ConsumeDocument,
				ActorID:   actorID,
				Date:      s.now(),
			})
			if err != nil {
				return err
			}
			row.ReverseDocument = doc.DocumentNumber
			reversed = true
		}
		row.Status = StatusCancelled
		if result, err = tx.UpdateAllocation(ctx, row); err != nil {
			return err
		}
		if !reversed {
			return nil
		}
		rows, err := tx.ListItemAllocations(ctx, item.ID)
		if err != nil {
			return err
		}
		_, err = s.syncPending(ctx, tx, item, rows, row.WarehouseID, actorID)
		return err
	})
	if err != nil {
		s.metrics.ObserveAllocation("reverse", outcomeOf(err))
		s.logFailure(ctx, "reverse allocation", err, slog.Int64("allocation_id", id))
		return Allocation{}, err
	}
	s.metrics.ObserveAllocation("reverse", "success")
	s.recordAudit(ctx, actorID, "allocation:reverse", "allocation", strconv.FormatInt(id, 10), map[string]any{
		"reverse_document": result.ReverseDocument,
		"quantity":         result.AllocatedQuantity.String(),
	})
	return result, nil
}

// SyncItemQuantity records an edited line quantity. Going below the allocated quantity is a conflict.
func (s *Service) SyncItemQuantity(ctx context.Context, itemID int64, qty decimal.Decimal, actorID int64) (ItemState, error) {
	if qty.IsNegative() {
		return ItemState{}, inventory.ErrInvalidQuantity
	}
	var state ItemState
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		item, err := tx.LockOrderItem(ctx, itemID)
		if err != nil {
			return err
		}
		rows, err := tx.ListItemAllocations(ctx, itemID)
		if err != nil {
			return err
		}
		allocated := AllocatedSum(rows)
		if qty.LessThan(allocated) {
			return &QuantityConflictError{OrderItemID: itemID, Allocated: allocated, Requested: qty}
		}
		if !qty.Equal(item.Quantity) {
			if err := tx.UpdateOrderItemQuantity(ctx, itemID, qty); err != nil {
				return err
			}
			item.Quantity = qty
		}
		warehouseID := int64(0)
		if p := pendingRow(rows); p != nil {
			warehouseID = p.WarehouseID
		}
		rows, err = s.syncPending(ctx, tx, item, rows, warehouseID, actorID)
		if err != nil {
			return err
		}
		state = NewItemState(item, rows)
		return nil
	})
	if err != nil {
		s.logFailure(ctx, "sync item quantity", err, slog.Int64("order_item_id", itemID))
		return ItemState{}, err
	}
	s.recordAudit(ctx, actorID, "allocation:sync_quantity", "order_item", strconv.FormatInt(itemID, 10), map[string]any{
		"quantity": qty.String(),
	})
	return state, nil
}

// UpdateAllocation applies a PATCH and returns the row as stored afterwards.
func (s *Service) UpdateAllocation(ctx context.Context, id int64, input UpdateInput, actorID int64) (Allocation, error) {
	current, err := s.repo.GetAllocation(ctx, id)
	if err != nil {
		return Allocation{}, err
	}
	target := current.Status
	if input.Status != nil {
		target = *input.Status
		if !target.IsValid() {
			return Allocation{}, fmt.Errorf("%w: %q", ErrInvalidStatus, target)
		}
	}

	if target == StatusCancelled {
		return s.ReverseAllocation(ctx, id, actorID)
	}
	if current.Status.HoldsStock() && rebinds(current, input) {
		return Allocation{}, ErrRebindRequiresReversal
	}
	if target == current.Status {
		if current.Status != StatusPending {
			return current, nil
		}
		return s.updatePendingPreferences(ctx, current, input, actorID)
	}
	if !current.Status.CanTransition(target) {
		return Allocation{}, &TransitionError{From: current.Status, To: target}
	}

	if current.Status == StatusPending && target == StatusAllocated {
		return s.allocatePending(ctx, current, input, actorID)
	}
	return s.advance(ctx, current, target, actorID)
}

func rebinds(a Allocation, input UpdateInput) bool {
	if input.WarehouseID != nil && *input.WarehouseID != a.WarehouseID {
		return true
	}
	if input.LotNumber != nil && *input.LotNumber != a.LotNumber {
		return true
	}
	if input.AllocatedQuantity != nil && !input.AllocatedQuantity.Equal(a.AllocatedQuantity) {
		return true
	}
	return false
}

func (s *Service) allocatePending(ctx context.Context, current Allocation, input UpdateInput, actorID int64) (Allocation, error) {
	warehouseID := current.WarehouseID
	if input.WarehouseID != nil {
		warehouseID = *input.WarehouseID
	}
	if warehouseID <= 0 {
		order, err := s.orders.GetOrder(ctx, current.OrderID)
		if err != nil {
			return Allocation{}, err
		}
		if warehouseID, err = s.suggest(ctx, order.CustomerProvince); err != nil {
			return Allocation{}, err
		}
	}
	qty := current.RequiredQuantity
	if input.AllocatedQuantity != nil {
		qty = *input.AllocatedQuantity
	}
	lotNumber := ""
	if input.LotNumber != nil {
		lotNumber = *input.LotNumber
	}
	if _, err := s.AllocateItem(ctx, AllocateItemInput{
		OrderItemID: current.OrderItemID,
		WarehouseID: warehouseID,
		Quantity:    qty,
		LotNumber:   lotNumber,
		ActorID:     actorID,
	}); err != nil {
		return Allocation{}, err
	}
	return s.repo.GetAllocation(ctx, current.ID)
}

func (s *Service) updatePendingPreferences(ctx context.Context, current Allocation, input UpdateInput, actorID int64) (Allocation, error) {
	if input.AllocatedQuantity != nil {
		return Allocation{}, fmt.Errorf("%w: allocated_quantity applies only when moving to %s", ErrInvalidUpdate, StatusAllocated)
	}
	var result Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		row, err := tx.LockAllocation(ctx, current.ID)
		if err != nil {
			return err
		}
		if row.Status != StatusPending {
			return &TransitionError{From: row.Status, To: StatusPending}
		}
		if input.WarehouseID != nil {
			row.WarehouseID = *input.WarehouseID
		}
		if input.LotNumber != nil {
			row.LotNumber = *input.LotNumber
		}
		result, err = tx.UpdateAllocation(ctx, row)
		return err
	})
	if err != nil {
		return Allocation{}, err
	}
	s.recordAudit(ctx, actorID, "allocation:update", "allocation", strconv.FormatInt(result.ID, 10), map[string]any{
		"warehouse_id": result.WarehouseID,
		"lot_number":   result.LotNumber,
	})
	return result, nil
}

func (s *Service) advance(ctx context.Context, current Allocation, target Status, actorID int64) (Allocation, error) {
	var result Allocation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		row, err := tx.LockAllocation(ctx, current.ID)
		if err != nil {
			return err
		}
		if !row.Status.CanTransition(target) {
			return &TransitionError{From: row.Status, To: target}
		}
		row.Status = target
		result, err = tx.UpdateAllocation(ctx, row)
		return err
	})
	if err != nil {
		return Allocation{}, err
	}
	s.metrics.ObserveAllocation("advance_"+string(target), "success")
	s.recordAudit(ctx, actorID, "allocation:status", "allocation", strconv.FormatInt(result.ID, 10), map[string]any{
		"from": string(current.Status),
		"to":   string(target),
	})
	return result, nil
}

// ListAllocations lists rows matching filter.
func (s *Service) ListAllocations(ctx context.Context, filter Filter) ([]Allocation, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, filter.Status)
	}
	filter.OrderID = orders.NormalizeOrderID(filter.OrderID)
	rows, err := s.repo.ListAllocations(ctx, filter)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []Allocation{}
	}
	return rows, nil
}

// GetAllocation loads one row.
func (s *Service) GetAllocation(ctx context.Context, id int64) (Allocation, error) {
	if id <= 0 {
		return Allocation{}, ErrAllocationNotFound
	}
	return s.repo.GetAllocation(ctx, id)
}

// ItemState returns the current allocation picture of one line.
func (s *Service) ItemState(ctx context.Context, itemID int64) (ItemState, error) {
	item, err := s.repo.GetOrderItem(ctx, itemID)
	if err != nil {
		return ItemState{}, err
	}
	rows, err := s.repo.ItemAllocations(ctx, itemID)
	if err != nil {
		return ItemState{}, err
	}
	return NewItemState(item, rows), nil
}

func (s *Service) suggest(ctx context.Context, province string) (int64, error) {
	if s.suggester == nil {
		return 0, ErrWarehouseRequired
	}
	id, ok, err := s.suggester.SuggestWarehouse(ctx, province)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: no warehouse covers %q", ErrWarehouseRequired, province)
	}
	return id, nil
}

func itemReference(item orders.Item) string {
	return "order:" + item.OrderID + "/item:" + strconv.FormatInt(item.ID, 10)
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, inventory.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, inventory.ErrLotNotFound), errors.Is(err, inventory.ErrInvalidLot):
		return "invalid_lot"
	case errors.Is(err, ErrExceedsRequirement), errors.Is(err, ErrQuantityConflict):
		return "quantity_conflict"
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, inventory.ErrLedgerInconsistent):
		return "ledger_inconsistent"
	default:
		return "error"
	}
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, entity, entityID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: entityID,
		Meta:     meta,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit allocation", slog.Any("error", err))
	}
}

func (s *Service) logFailure(ctx context.Context, op string, err error, attrs ...any) {
	attrs = append(attrs, slog.Any("error", err))
	if errors.Is(err, inventory.ErrLedgerInconsistent) {
		s.logger.ErrorContext(ctx, op+" halted", attrs...)
		return
	}
	s.logger.InfoContext(ctx, op+" rejected", attrs...)
}
