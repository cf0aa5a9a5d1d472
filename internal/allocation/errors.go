package allocation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrAllocationNotFound indicates an unknown allocation id.
	ErrAllocationNotFound = errors.New("allocation: not found")
	// ErrQuantityConflict indicates a line quantity below what is already allocated.
	ErrQuantityConflict = errors.New("allocation: quantity conflict")
	// ErrExceedsRequirement indicates a request above the line's unmet quantity.
	ErrExceedsRequirement = errors.New("allocation: quantity exceeds remaining requirement")
	// ErrInvalidTransition indicates a status move outside the state machine.
	ErrInvalidTransition = errors.New("allocation: invalid status transition")
	// ErrRebindRequiresReversal indicates an attempt to change the lot binding of a row holding stock.
	ErrRebindRequiresReversal = errors.New("allocation: reverse the allocation before changing warehouse, lot or quantity")
	// ErrWarehouseRequired indicates no warehouse was given and none could be suggested.
	ErrWarehouseRequired = errors.New("allocation: warehouse required")
	// ErrInvalidStatus indicates an unknown status value.
	ErrInvalidStatus = errors.New("allocation: invalid status")
	// ErrInvalidUpdate indicates update fields that do not apply to the row.
	ErrInvalidUpdate = errors.New("allocation: invalid update")
)

// QuantityConflictError reports a line edit below the allocated quantity.
type QuantityConflictError struct {
	OrderItemID int64
	Allocated   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *QuantityConflictError) Error() string {
	return fmt.Sprintf("allocation: item %d already has %s allocated, cannot reduce to %s", e.OrderItemID, e.Allocated, e.Requested)
}

func (e *QuantityConflictError) Unwrap() error { return ErrQuantityConflict }

// ProblemMeta exposes the conflicting quantities.
func (e *QuantityConflictError) ProblemMeta() map[string]any {
	return map[string]any{
		"order_item_id":      e.OrderItemID,
		"allocated_quantity": e.Allocated.String(),
		"requested_quantity": e.Requested.String(),
		"excess":             e.Allocated.Sub(e.Requested).String(),
	}
}

// RequirementError reports a request above the unmet quantity.
type RequirementError struct {
	OrderItemID int64
	Remaining   decimal.Decimal
	Requested   decimal.Decimal
}

func (e *RequirementError) Error() string {
	return fmt.Sprintf("allocation: item %d needs %s more, requested %s", e.OrderItemID, e.Remaining, e.Requested)
}

func (e *RequirementError) Unwrap() error { return ErrExceedsRequirement }

// ProblemMeta exposes the remaining requirement.
func (e *RequirementError) ProblemMeta() map[string]any {
	return map[string]any{
		"order_item_id":      e.OrderItemID,
		"remaining_quantity": e.Remaining.String(),
		"requested_quantity": e.Requested.String(),
	}
}

// TransitionError names a rejected status move.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("allocation: cannot move from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// ProblemMeta exposes both states.
func (e *TransitionError) ProblemMeta() map[string]any {
	return map[string]any{"from": string(e.From), "to": string(e.To)}
}
