package jobs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	jobmetrics "github.com/odyssey-erp/odyssey-fulfillment/internal/jobs"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

type stubVerifier struct {
	calls  int
	filter inventory.LotFilter
	bad    []inventory.LedgerCheck
	err    error
}

func (s *stubVerifier) VerifyLedger(_ context.Context, filter inventory.LotFilter) ([]inventory.LedgerCheck, error) {
	s.calls++
	s.filter = filter
	return s.bad, s.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLocker(t *testing.T) *redislock.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redislock.New(client)
}

func TestLedgerVerifyClean(t *testing.T) {
	verifier := &stubVerifier{}
	job := NewLedgerVerifyJob(verifier, newLocker(t), time.Minute, quietLogger(), jobmetrics.NewMetrics(prometheus.NewRegistry()))
	task, err := NewLedgerVerifyTask(LedgerVerifyPayload{WarehouseID: 2})
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 1, verifier.calls)
	require.Equal(t, int64(2), verifier.filter.WarehouseID)
}

func TestLedgerVerifySkipsWhenLockHeld(t *testing.T) {
	locker := newLocker(t)
	ctx := context.Background()
	held, err := locker.Obtain(ctx, shared.LedgerIntegrityLockKey(), time.Minute, nil)
	require.NoError(t, err)
	defer func() { _ = held.Release(ctx) }()

	verifier := &stubVerifier{}
	job := NewLedgerVerifyJob(verifier, locker, time.Minute, quietLogger(), nil)
	task, err := NewLedgerVerifyTask(LedgerVerifyPayload{})
	require.NoError(t, err)

	require.NoError(t, job.Handle(ctx, task))
	require.Zero(t, verifier.calls)

	product, err := NewLedgerVerifyTask(LedgerVerifyPayload{ProductID: 9})
	require.NoError(t, err)
	require.NoError(t, job.Handle(ctx, product))
	require.Equal(t, 1, verifier.calls)
}

func TestLedgerVerifyDriftFailsWithoutRetry(t *testing.T) {
	verifier := &stubVerifier{bad: []inventory.LedgerCheck{{
		LotID:            3,
		LotNumber:        "L-3",
		QtyReceived:      decimal.NewFromInt(10),
		LedgerReceived:   decimal.NewFromInt(10),
		QtyRemaining:     decimal.NewFromInt(4),
		LedgerDeltaTotal: decimal.NewFromInt(5),
	}}}
	job := NewLedgerVerifyJob(verifier, newLocker(t), time.Minute, quietLogger(), nil)
	task, err := NewLedgerVerifyTask(LedgerVerifyPayload{})
	require.NoError(t, err)

	err = job.Handle(context.Background(), task)
	require.ErrorIs(t, err, ErrLedgerDrift)
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestLedgerVerifyErrors(t *testing.T) {
	job := NewLedgerVerifyJob(&stubVerifier{}, nil, 0, quietLogger(), nil)
	err := job.Handle(context.Background(), asynq.NewTask(TaskLedgerVerify, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)

	boom := errors.New("db down")
	job = NewLedgerVerifyJob(&stubVerifier{err: boom}, nil, 0, quietLogger(), nil)
	task, err := NewLedgerVerifyTask(LedgerVerifyPayload{})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)

	var nilJob *LedgerVerifyJob
	require.Error(t, nilJob.Handle(context.Background(), task))
}

type stubPurger struct {
	olderThan time.Duration
}

func (s *stubPurger) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	s.olderThan = olderThan
	return 4, nil
}

func TestIdempotencyCleanup(t *testing.T) {
	purger := &stubPurger{}
	job := &IdempotencyCleanupJob{Store: purger, Retention: 72 * time.Hour, Locker: newLocker(t), Logger: quietLogger()}

	task, err := NewIdempotencyCleanupTask(IdempotencyCleanupPayload{})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 72*time.Hour, purger.olderThan)

	task, err = NewIdempotencyCleanupTask(IdempotencyCleanupPayload{Retention: time.Hour})
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, time.Hour, purger.olderThan)

	job.Retention = 0
	task, err = NewIdempotencyCleanupTask(IdempotencyCleanupPayload{})
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), asynq.SkipRetry)
}

func TestNewTaskByName(t *testing.T) {
	task, err := NewTaskByName(TaskLedgerVerify)
	require.NoError(t, err)
	require.Equal(t, TaskLedgerVerify, task.Type())
	_, err = NewTaskByName("mail:send")
	require.Error(t, err)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthHandler(t *testing.T) {
	cases := []struct {
		name      string
		inspector QueueInspector
		status    int
		body      string
	}{
		{"no inspector", nil, http.StatusOK, `"pending":0`},
		{"queue info", stubInspector{info: &asynq.QueueInfo{Queue: "default", Pending: 3, Failed: 1}}, http.StatusOK, `"pending":3`},
		{"redis down", stubInspector{err: errors.New("dial")}, http.StatusServiceUnavailable, `Queue Unavailable`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := chi.NewRouter()
			r.Route("/jobs", NewHandler(tc.inspector, quietLogger()).MountRoutes)
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
			require.Equal(t, tc.status, rec.Code)
			require.Contains(t, rec.Body.String(), tc.body)
		})
	}
}

func TestLogFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	task := asynq.NewTask(TaskLedgerVerify, []byte(`{"product_id":9}`))

	logFailure(context.Background(), logger, task, fmt.Errorf("%w: 2 lots: %w", ErrLedgerDrift, asynq.SkipRetry))
	require.Contains(t, buf.String(), "level=ERROR")
	require.Contains(t, buf.String(), `msg="ledger drift"`)
	require.Contains(t, buf.String(), "product_id")

	buf.Reset()
	logFailure(context.Background(), logger, task, errors.New("pg down"))
	require.Contains(t, buf.String(), `msg="job failed"`)
}
