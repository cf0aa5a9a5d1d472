package cod

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/observability"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/orders"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// TxRepository is the box store inside one transaction.
type TxRepository interface {
	// LockBoxes locks the order and returns its boxes by box number.
	LockBoxes(ctx context.Context, orderID string) ([]Box, error)
	DeleteBoxes(ctx context.Context, orderID string) error
	InsertBox(ctx context.Context, box Box) (Box, error)
}

// RepositoryPort abstracts box persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListBoxes(ctx context.Context, orderID string) ([]Box, error)
}

// OrderReader loads orders owned elsewhere.
type OrderReader interface {
	GetOrder(ctx context.Context, id string) (orders.Order, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns COD boxes.
type Service struct {
	repo    RepositoryPort
	orders  OrderReader
	audit   AuditPort
	metrics *observability.FulfillmentMetrics
	logger  *slog.Logger
}

// ServiceConfig groups optional collaborators.
type ServiceConfig struct {
	Audit   AuditPort
	Metrics *observability.FulfillmentMetrics
	Logger  *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, orderReader OrderReader, cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, orders: orderReader, audit: cfg.Audit, metrics: cfg.Metrics, logger: logger}
}

// DeclareInput replaces every box of an order.
type DeclareInput struct {
	Amounts []decimal.Decimal `json:"amounts" validate:"required,min=1"`
	ActorID int64             `json:"-"`
}

// SplitInput divides the order net payable over a number of boxes.
type SplitInput struct {
	Boxes   int   `json:"boxes" validate:"required,gt=0,lte=100"`
	ActorID int64 `json:"-"`
}

// UpsellInput appends boxes for lines added to an order after it was boxed.
type UpsellInput struct {
	OrderID      string            `json:"-"`
	ItemIDs      []int64           `json:"item_ids" validate:"required,min=1,dive,gt=0"`
	BoxCount     int               `json:"box_count" validate:"required,gt=0,lte=100"`
	Amounts      []decimal.Decimal `json:"amounts,omitempty"`
	ShippingCost decimal.Decimal   `json:"shipping_cost"`
	Discount     decimal.Decimal   `json:"discount"`
	ActorID      int64             `json:"-"`
}

// UpsellResult carries the boxes created for the increment.
type UpsellResult struct {
	NetAmount  decimal.Decimal  `json:"net_amount"`
	Boxes      []Box            `json:"boxes"`
	Validation ValidationResult `json:"validation"`
}

// Boxes lists the boxes of an order.
func (s *Service) Boxes(ctx context.Context, orderID string) ([]Box, error) {
	order, err := s.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListBoxes(ctx, order.ID)
}

// Validate reconciles the stored boxes against the order net payable plus upsell adjustments.
func (s *Service) Validate(ctx context.Context, orderID string) (ValidationResult, error) {
	order, net, err := s.codOrder(ctx, orderID)
	if err != nil {
		return ValidationResult{}, err
	}
	boxes, err := s.repo.ListBoxes(ctx, order.ID)
	if err != nil {
		return ValidationResult{}, err
	}
	res := Reconcile(boxes, net.Add(Adjustments(boxes)))
	s.metrics.ObserveCODValidation(res.Valid)
	return res, nil
}

// DeclareBoxes replaces the order boxes with the given amounts, numbered from 1.
func (s *Service) DeclareBoxes(ctx context.Context, orderID string, input DeclareInput) ([]Box, error) {
	if err := validateAmounts(input.Amounts); err != nil {
		return nil, err
	}
	order, net, err := s.codOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	res := ReconcileAmounts(input.Amounts, net)
	s.metrics.ObserveCODValidation(res.Valid)
	if err := res.Err(); err != nil {
		return nil, err
	}

	var boxes []Box
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.LockBoxes(ctx, order.ID); err != nil {
			return err
		}
		if err := tx.DeleteBoxes(ctx, order.ID); err != nil {
			return err
		}
		itemIDs := make([]int64, len(order.Items))
		for i, item := range order.Items {
			itemIDs[i] = item.ID
		}
		boxes = make([]Box, 0, len(input.Amounts))
		for i, amount := range input.Amounts {
			box, err := tx.InsertBox(ctx, Box{OrderID: order.ID, BoxNumber: i + 1, CodAmount: amount, ItemIDs: itemIDs})
			if err != nil {
				return err
			}
			boxes = append(boxes, box)
		}
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "declare cod boxes", slog.String("order_id", order.ID), slog.Any("error", err))
		return nil, err
	}
	s.recordAudit(ctx, input.ActorID, "cod:declare", order.ID, map[string]any{
		"boxes":       len(boxes),
		"net_payable": net.StringFixed(2),
	})
	return boxes, nil
}

// SplitEqually declares n boxes sharing the net payable as evenly as cents allow.
func (s *Service) SplitEqually(ctx context.Context, orderID string, input SplitInput) ([]Box, error) {
	_, net, err := s.codOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	amounts, err := DivideEqually(input.Boxes, net)
	if err != nil {
		return nil, err
	}
	return s.DeclareBoxes(ctx, orderID, DeclareInput{Amounts: amounts, ActorID: input.ActorID})
}

// AddUpsellBoxes appends boxes for an upsell increment. Existing boxes are left untouched
// and only the new boxes must sum to the increment net amount.
func (s *Service) AddUpsellBoxes(ctx context.Context, input UpsellInput) (UpsellResult, error) {
	if len(input.ItemIDs) == 0 {
		return UpsellResult{}, ErrNoItems
	}
	if input.BoxCount < 1 {
		return UpsellResult{}, fmt.Errorf("%w: %d", ErrInvalidBoxCount, input.BoxCount)
	}
	if len(input.Amounts) > 0 && len(input.Amounts) != input.BoxCount {
		return UpsellResult{}, fmt.Errorf("%w: %d amounts for %d boxes", ErrInvalidBoxCount, len(input.Amounts), input.BoxCount)
	}
	order, err := s.orders.GetOrder(ctx, input.OrderID)
	if err != nil {
		return UpsellResult{}, err
	}
	if !order.PaymentMethod.IsCOD() {
		return UpsellResult{}, ErrNotCOD
	}
	items := make([]orders.Item, 0, len(input.ItemIDs))
	seen := make(map[int64]bool, len(input.ItemIDs))
	for _, id := range input.ItemIDs {
		if seen[id] {
			return UpsellResult{}, fmt.Errorf("%w: item %d listed twice", ErrItemAlreadyBoxed, id)
		}
		seen[id] = true
		item, ok := order.Item(id)
		if !ok {
			return UpsellResult{}, fmt.Errorf("%w: %d", orders.ErrItemNotFound, id)
		}
		items = append(items, item)
	}
	net := orders.NetPayableOf(items, input.ShippingCost, input.Discount)
	if !net.IsPositive() {
		return UpsellResult{}, ErrNothingToCollect
	}

	amounts := input.Amounts
	if len(amounts) == 0 {
		if amounts, err = DivideEqually(input.BoxCount, net); err != nil {
			return UpsellResult{}, err
		}
	}
	if err := validateAmounts(amounts); err != nil {
		return UpsellResult{}, err
	}
	res := ReconcileAmounts(amounts, net)
	s.metrics.ObserveCODValidation(res.Valid)
	if err := res.Err(); err != nil {
		return UpsellResult{}, err
	}

	result := UpsellResult{NetAmount: net, Validation: res}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		existing, err := tx.LockBoxes(ctx, order.ID)
		if err != nil {
			return err
		}
		if err := checkUncovered(existing, items); err != nil {
			return err
		}
		numbers := NextBoxNumbers(existing, len(amounts))
		adjustment := input.ShippingCost.Sub(input.Discount)
		result.Boxes = make([]Box, 0, len(amounts))
		for i, amount := range amounts {
			box := Box{OrderID: order.ID, BoxNumber: numbers[i], CodAmount: amount, ItemIDs: input.ItemIDs}
			if i == 0 {
				box.Adjustment = adjustment
			}
			saved, err := tx.InsertBox(ctx, box)
			if err != nil {
				return err
			}
			result.Boxes = append(result.Boxes, saved)
		}
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "add upsell boxes", slog.String("order_id", order.ID), slog.Any("error", err))
		return UpsellResult{}, err
	}
	s.recordAudit(ctx, input.ActorID, "cod:upsell", order.ID, map[string]any{
		"boxes":      len(result.Boxes),
		"net_amount": net.StringFixed(2),
		"first_box":  result.Boxes[0].BoxNumber,
	})
	return result, nil
}

// checkUncovered rejects lines an existing box already collects, either through the
// box item links or through the line's own box number.
func checkUncovered(existing []Box, items []orders.Item) error {
	covered := CoveredItems(existing)
	numbers := make(map[int]bool, len(existing))
	for _, b := range existing {
		numbers[b.BoxNumber] = true
	}
	for _, item := range items {
		if covered[item.ID] || (item.BoxNumber != nil && numbers[*item.BoxNumber]) {
			return fmt.Errorf("%w: %d", ErrItemAlreadyBoxed, item.ID)
		}
	}
	return nil
}

func (s *Service) codOrder(ctx context.Context, orderID string) (orders.Order, decimal.Decimal, error) {
	order, err := s.orders.GetOrder(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return orders.Order{}, decimal.Zero, err
	}
	if !order.PaymentMethod.IsCOD() {
		return orders.Order{}, decimal.Zero, ErrNotCOD
	}
	net := order.NetPayable()
	if !net.IsPositive() {
		return orders.Order{}, decimal.Zero, ErrNothingToCollect
	}
	return order, net, nil
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action, orderID string, meta map[string]any) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "order",
		EntityID: orderID,
		Meta:     meta,
	}); err != nil {
		s.logger.WarnContext(ctx, "audit record failed", slog.String("action", action), slog.Any("error", err))
	}
}
