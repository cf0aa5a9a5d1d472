package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLedgerVerify recomputes lot quantities from the stock ledger.
	TaskLedgerVerify = "inventory:ledger_verify"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// LedgerVerifyPayload optionally narrows the scan to one product or warehouse.
type LedgerVerifyPayload struct {
	ProductID   int64 `json:"product_id,omitempty"`
	WarehouseID int64 `json:"warehouse_id,omitempty"`
}

// NewLedgerVerifyTask constructs a ledger verification task.
func NewLedgerVerifyTask(payload LedgerVerifyPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerVerify, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload overrides the configured retention when positive.
type IdempotencyCleanupPayload struct {
	Retention time.Duration `json:"retention,omitempty"`
}

// NewIdempotencyCleanupTask constructs a purge task.
func NewIdempotencyCleanupTask(payload IdempotencyCleanupPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}

// NewTaskByName builds a task with its default payload, for manual triggers.
func NewTaskByName(name string) (*asynq.Task, error) {
	switch name {
	case TaskLedgerVerify:
		return NewLedgerVerifyTask(LedgerVerifyPayload{})
	case TaskIdempotencyCleanup:
		return NewIdempotencyCleanupTask(IdempotencyCleanupPayload{})
	default:
		return nil, fmt.Errorf("jobs: unsupported task %q", name)
	}
}
