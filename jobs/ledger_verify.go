package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-fulfillment/internal/jobs"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

// ErrLedgerDrift marks a verification run that found inconsistent lots.
var ErrLedgerDrift = errors.New("jobs: ledger drift detected")

// LedgerVerifier recomputes lot quantities from the ledger.
type LedgerVerifier interface {
	VerifyLedger(ctx context.Context, filter inventory.LotFilter) ([]inventory.LedgerCheck, error)
}

// LedgerVerifyJob compares every lot with its ledger under a cluster-wide lock.
type LedgerVerifyJob struct {
	Verifier LedgerVerifier
	Locker   *redislock.Client
	LockTTL  time.Duration
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewLedgerVerifyJob initialises the verification handler.
func NewLedgerVerifyJob(verifier LedgerVerifier, locker *redislock.Client, lockTTL time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerVerifyJob {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &LedgerVerifyJob{Verifier: verifier, Locker: locker, LockTTL: lockTTL, Logger: logger, Metrics: metrics}
}

// Handle runs one verification. A held lock means another worker is scanning and the run is skipped.
func (j *LedgerVerifyJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Verifier == nil {
		return errors.New("ledger verify: handler not configured")
	}
	var payload LedgerVerifyPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("ledger verify: decode payload: %v: %w", err, asynq.SkipRetry)
	}
	logger := j.logger().With(slog.String("job", TaskLedgerVerify),
		slog.Int64("product_id", payload.ProductID), slog.Int64("warehouse_id", payload.WarehouseID))

	key := shared.LedgerIntegrityLockKey()
	if payload.ProductID > 0 {
		key = shared.ProductLedgerLockKey(payload.ProductID)
	}
	if j.Locker != nil {
		lock, err := j.Locker.Obtain(ctx, key, j.LockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			logger.Info("ledger verification already running, skipping")
			j.Metrics.Skip(TaskLedgerVerify)
			return nil
		}
		if err != nil {
			return fmt.Errorf("ledger verify: obtain lock: %w", err)
		}
		defer func() {
			if releaseErr := lock.Release(context.WithoutCancel(ctx)); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
				logger.Warn("release ledger lock", slog.Any("error", releaseErr))
			}
		}()
	}

	tracker := j.Metrics.Track(TaskLedgerVerify)
	defer func() { err = tracker.End(err) }()

	start := time.Now()
	bad, err := j.Verifier.VerifyLedger(ctx, inventory.LotFilter{ProductID: payload.ProductID, WarehouseID: payload.WarehouseID})
	if err != nil {
		logger.Error("ledger verification failed", slog.Any("error", err))
		return err
	}
	for _, c := range bad {
		logger.Error("lot diverges from ledger",
			slog.Int64("lot_id", c.LotID),
			slog.String("lot_number", c.LotNumber),
			slog.String("quantity_received", c.QtyReceived.String()),
			slog.String("ledger_received", c.LedgerReceived.String()),
			slog.String("quantity_remaining", c.QtyRemaining.String()),
			slog.String("ledger_remaining", c.LedgerDeltaTotal.String()),
		)
	}
	logger.Info("completed ledger verification", slog.Int("inconsistent", len(bad)), slog.Duration("duration", time.Since(start)))
	if len(bad) > 0 {
		return fmt.Errorf("%w: %d lots: %w", ErrLedgerDrift, len(bad), asynq.SkipRetry)
	}
	return nil
}

func (j *LedgerVerifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
