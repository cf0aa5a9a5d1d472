package inventory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testDay = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc := NewService(store, ServiceConfig{Clock: func() time.Time { return testDay }})
	return svc, store
}

func receive(t *testing.T, svc *Service, lotNumber string, qty string, at time.Time) Transaction {
	t.Helper()
	doc, err := svc.CreateStockTransaction(context.Background(), CreateTransactionInput{
		Type:            TransactionTypeReceive,
		TransactionDate: at,
		Items: []StockItemInput{{
			ProductID: 1, WarehouseID: 1, LotNumber: lotNumber, Quantity: dec(qty), UnitCost: dec("1500"),
		}},
		ActorID: 7,
	})
	require.NoError(t, err)
	return doc
}

func requireLedgerConsistent(t *testing.T, svc *Service) {
	t.Helper()
	bad, err := svc.VerifyLedger(context.Background(), LotFilter{})
	require.NoError(t, err)
	require.Empty(t, bad)
}

func TestReceiveCreatesLotAndDocumentNumber(t *testing.T) {
	svc, store := newTestService(t)

	doc := receive(t, svc, "LOT-A", "10", testDay)
	require.Equal(t, "REC250314-00001", doc.DocumentNumber)
	require.Len(t, doc.Lines, 1)
	require.True(t, doc.Lines[0].Qty.Equal(dec("10")))

	lot, ok := store.Lot(doc.Lines[0].LotID)
	require.True(t, ok)
	require.Equal(t, LotStatusActive, lot.Status)
	require.True(t, lot.QtyReceived.Equal(dec("10")))
	require.True(t, lot.QtyRemaining.Equal(dec("10")))
	require.True(t, lot.ReceivedAt.Equal(testDay))

	second := receive(t, svc, "LOT-A", "5", testDay)
	require.Equal(t, "REC250314-00002", second.DocumentNumber)
	require.Equal(t, doc.Lines[0].LotID, second.Lines[0].LotID, "same lot number tops up the existing lot")
	lot, _ = store.Lot(doc.Lines[0].LotID)
	require.True(t, lot.QtyReceived.Equal(dec("15")))
	require.True(t, lot.QtyRemaining.Equal(dec("15")))
	requireLedgerConsistent(t, svc)
}

func TestReceiveGeneratesLotNumber(t *testing.T) {
	svc, _ := newTestService(t)
	doc, err := svc.CreateStockTransaction(context.Background(), CreateTransactionInput{
		Type: TransactionTypeReceive,
		Items: []StockItemInput{
			{ProductID: 1, WarehouseID: 1, Quantity: dec("3"), UnitCost: dec("10")},
			{ProductID: 2, WarehouseID: 1, Quantity: dec("4"), UnitCost: dec("10")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, doc.DocumentNumber+"-1", doc.Lines[0].LotNumber)
	require.Equal(t, doc.DocumentNumber+"-2", doc.Lines[1].LotNumber)
	require.True(t, doc.TransactionDate.Equal(testDay))
}

func TestCreateStockTransactionValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	cases := []struct {
		name  string
		input CreateTransactionInput
		err   error
	}{
		{"allocation type", CreateTransactionInput{Type: TransactionTypeAllocationConsume, Items: []StockItemInput{{ProductID: 1, WarehouseID: 1, Quantity: dec("1")}}}, ErrInvalidTransactionType},
		{"no items", CreateTransactionInput{Type: TransactionTypeReceive}, ErrEmptyItems},
		{"zero quantity", CreateTransactionInput{Type: TransactionTypeReceive, Items: []StockItemInput{{ProductID: 1, WarehouseID: 1, Quantity: decimal.Zero}}}, ErrInvalidQuantity},
		{"negative cost", CreateTransactionInput{Type: TransactionTypeReceive, Items: []StockItemInput{{ProductID: 1, WarehouseID: 1, Quantity: dec("1"), UnitCost: dec("-1")}}}, ErrInvalidUnitCost},
		{"adjustment without lot", CreateTransactionInput{Type: TransactionTypeAdjustment, Items: []StockItemInput{{ProductID: 1, WarehouseID: 1, Quantity: dec("1"), Adjustment: AdjustmentAdd}}}, ErrLotRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.CreateStockTransaction(ctx, tc.input)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func TestAdjustmentBounds(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	doc := receive(t, svc, "LOT-A", "10", testDay)
	lotID := doc.Lines[0].LotID

	reduce := func(qty string) (Transaction, error) {
		return svc.CreateStockTransaction(ctx, CreateTransactionInput{
			Type:  TransactionTypeAdjustment,
			Items: []StockItemInput{{ProductID: 1, WarehouseID: 1, LotNumber: "LOT-A", Quantity: dec(qty), Adjustment: AdjustmentReduce}},
		})
	}
	add := func(qty string) (Transaction, error) {
		return svc.CreateStockTransaction(ctx, CreateTransactionInput{
			Type:  TransactionTypeAdjustment,
			Items: []StockItemInput{{ProductID: 1, WarehouseID: 1, LotNumber: "LOT-A", Quantity: dec(qty), Adjustment: AdjustmentAdd}},
		})
	}

	_, err := add("1")
	require.ErrorIs(t, err, ErrAdjustmentCeiling)

	adj, err := reduce("4")
	require.NoError(t, err)
	require.Equal(t, "AJ250314-00001", adj.DocumentNumber)
	require.True(t, adj.Lines[0].Qty.Equal(dec("-4")))

	_, err = reduce("7")
	var short *InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.True(t, short.Shortfall().Equal(dec("1")))

	_, err = add("4")
	require.NoError(t, err)
	lot, _ := store.Lot(lotID)
	require.True(t, lot.QtyRemaining.Equal(dec("10")))
	requireLedgerConsistent(t, svc)
}

func TestAdjustmentPinnedLotErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	receive(t, svc, "LOT-A", "10", testDay)

	_, err := svc.CreateStockTransaction(ctx, CreateTransactionInput{
		Type:  TransactionTypeAdjustment,
		Items: []StockItemInput{{ProductID: 1, WarehouseID: 1, LotNumber: "NOPE", Quantity: dec("1"), Adjustment: AdjustmentReduce}},
	})
	require.ErrorIs(t, err, ErrLotNotFound)

	_, err = svc.CreateStockTransaction(ctx, CreateTransactionInput{
		Type:  TransactionTypeAdjustment,
		Items: []StockItemInput{{ProductID: 1, WarehouseID: 2, LotNumber: "LOT-A", Quantity: dec("1"), Adjustment: AdjustmentReduce}},
	})
	require.ErrorIs(t, err, ErrInvalidLot)
}

func TestFailedDocumentRollsBackEveryLine(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	doc := receive(t, svc, "LOT-A", "10", testDay)

	_, err := svc.CreateStockTransaction(ctx, CreateTransactionInput{
		Type: TransactionTypeAdjustment,
		Items: []StockItemInput{
			{ProductID: 1, WarehouseID: 1, LotNumber: "LOT-A", Quantity: dec("3"), Adjustment: AdjustmentReduce},
			{ProductID: 1, WarehouseID: 1, LotNumber: "LOT-A", Quantity: dec("30"), Adjustment: AdjustmentReduce},
		},
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	lot, _ := store.Lot(doc.Lines[0].LotID)
	require.True(t, lot.QtyRemaining.Equal(dec("10")))
	require.Len(t, store.Transactions(), 1)
	requireLedgerConsistent(t, svc)
}

func TestConsumeAndRestore(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	older := receive(t, svc, "LOT-OLD", "3", testDay.Add(-48*time.Hour))
	newer := receive(t, svc, "LOT-NEW", "5", testDay)

	var movement Movement
	err := store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		movement, err = Consume(ctx, tx, ConsumeRequest{ProductID: 1, WarehouseID: 1, Quantity: dec("4"), Date: testDay})
		return err
	})
	require.NoError(t, err)
	require.Len(t, movement.Draws, 2)
	require.Equal(t, "LOT-OLD", movement.Draws[0].Lot.LotNumber)
	require.True(t, movement.Draws[0].Quantity.Equal(dec("3")))
	require.True(t, movement.Draws[1].Quantity.Equal(dec("1")))
	require.Equal(t, TransactionTypeAllocationConsume, movement.Transaction.Type)
	require.Equal(t, "AL250314-00001", movement.Transaction.DocumentNumber)

	oldLot, _ := store.Lot(older.Lines[0].LotID)
	require.Equal(t, LotStatusDepleted, oldLot.Status)

	err = store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := Restore(ctx, tx, RestoreRequest{LotID: oldLot.ID, Quantity: dec("3"), Date: testDay})
		return err
	})
	require.NoError(t, err)
	oldLot, _ = store.Lot(older.Lines[0].LotID)
	require.Equal(t, LotStatusActive, oldLot.Status)
	require.True(t, oldLot.QtyRemaining.Equal(dec("3")))
	newLot, _ := store.Lot(newer.Lines[0].LotID)
	require.True(t, newLot.QtyRemaining.Equal(dec("4")))
	requireLedgerConsistent(t, svc)
}

func TestConsumeShortfallLeavesLotsUntouched(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	doc := receive(t, svc, "LOT-A", "6", testDay)

	err := store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := Consume(ctx, tx, ConsumeRequest{ProductID: 1, WarehouseID: 1, Quantity: dec("7")})
		return err
	})
	var short *InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.True(t, short.Available.Equal(dec("6")))
	lot, _ := store.Lot(doc.Lines[0].LotID)
	require.True(t, lot.QtyRemaining.Equal(dec("6")))
}

func TestConsumePinnedExpiredLot(t *testing.T) {
	svc, store := newTestService(t)
	doc := receive(t, svc, "LOT-A", "6", testDay)
	lot, _ := store.Lot(doc.Lines[0].LotID)
	lot.Status = LotStatusExpired
	store.PutLot(lot)

	err := store.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		_, err := Consume(ctx, tx, ConsumeRequest{ProductID: 1, WarehouseID: 1, Quantity: dec("1"), LotNumber: "LOT-A"})
		return err
	})
	var lotErr *LotError
	require.ErrorAs(t, err, &lotErr)
	require.ErrorIs(t, err, ErrInvalidLot)
}

// Scenario: a receive already partly consumed cannot be deleted.
func TestDeleteReceiveRejectedWhenConsumed(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	doc := receive(t, svc, "LOT-A", "10", testDay)

	err := store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, err := Consume(ctx, tx, ConsumeRequest{ProductID: 1, WarehouseID: 1, Quantity: dec("4")})
		return err
	})
	require.NoError(t, err)
	before := store.Transactions()

	_, err = svc.DeleteStockTransaction(ctx, doc.ID, 7)
	var rev *ReversalError
	require.ErrorAs(t, err, &rev)
	require.ErrorIs(t, err, ErrDocumentReversal)
	require.Equal(t, "LOT-A", rev.LotNumber)

	lot, _ := store.Lot(doc.Lines[0].LotID)
	require.True(t, lot.QtyRemaining.Equal(dec("6")))
	require.True(t, lot.QtyReceived.Equal(dec("10")))
	require.Equal(t, before, store.Transactions())
	requireLedgerConsistent(t, svc)
}

func TestDeleteReceiveVoidsDocument(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	doc := receive(t, svc, "LOT-A", "10", testDay)

	voided, err := svc.DeleteStockTransaction(ctx, doc.ID, 9)
	require.NoError(t, err)
	require.NotNil(t, voided.VoidedAt)
	require.EqualValues(t, 9, voided.VoidedBy)

	lot, _ := store.Lot(doc.Lines[0].LotID)
	require.True(t, lot.QtyReceived.IsZero())
	require.Equal(t, LotStatusDepleted, lot.Status)

	page, err := svc.ListStockTransactions(ctx, TransactionFilter{})
	require.NoError(t, err)
	require.Empty(t, page.Transactions)

	_, err = svc.DeleteStockTransaction(ctx, doc.ID, 9)
	require.ErrorIs(t, err, ErrTransactionNotFound)
	requireLedgerConsistent(t, svc)
}

func TestDeleteAllocationDocumentRejected(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()
	receive(t, svc, "LOT-A", "10", testDay)
	var movement Movement
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		movement, err = Consume(ctx, tx, ConsumeRequest{ProductID: 1, WarehouseID: 1, Quantity: dec("1")})
		return err
	}))
	_, err := svc.DeleteStockTransaction(ctx, movement.Transaction.ID, 1)
	require.ErrorIs(t, err, ErrNotDeletable)
}

func TestListStockTransactionsFilters(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	receive(t, svc, "LOT-JAN", "1", time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC))
	receive(t, svc, "LOT-MAR", "1", testDay)
	receive(t, svc, "OTHER", "1", testDay)

	page, err := svc.ListStockTransactions(ctx, TransactionFilter{Month: 3})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)
	require.Equal(t, 2, page.Pagination.Total)

	page, err = svc.ListStockTransactions(ctx, TransactionFilter{Search: "lot-"})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 2)

	page, err = svc.ListStockTransactions(ctx, TransactionFilter{PerPage: 1, Page: 2})
	require.NoError(t, err)
	require.Len(t, page.Transactions, 1)
	require.Equal(t, 3, page.Pagination.TotalPages)

	_, err = svc.ListStockTransactions(ctx, TransactionFilter{Month: 13})
	require.ErrorIs(t, err, ErrInvalidFilter)
	_, err = svc.ListStockTransactions(ctx, TransactionFilter{Type: "transfer"})
	require.ErrorIs(t, err, ErrInvalidFilter)
}

func TestVerifyLedgerReportsDrift(t *testing.T) {
	svc, store := newTestService(t)
	doc := receive(t, svc, "LOT-A", "10", testDay)
	lot, _ := store.Lot(doc.Lines[0].LotID)
	lot.QtyRemaining = dec("9")
	store.PutLot(lot)

	bad, err := svc.VerifyLedger(context.Background(), LotFilter{})
	require.NoError(t, err)
	require.Len(t, bad, 1)
	require.Equal(t, lot.ID, bad[0].LotID)
	require.True(t, bad[0].LedgerDeltaTotal.Equal(dec("10")))

	_, err = svc.CreateStockTransaction(context.Background(), CreateTransactionInput{
		Type:  TransactionTypeAdjustment,
		Items: []StockItemInput{{ProductID: 1, WarehouseID: 1, LotNumber: "LOT-A", Quantity: dec("1"), Adjustment: AdjustmentReduce}},
	})
	require.True(t, errors.Is(err, ErrLedgerInconsistent))
	after, _ := store.Lot(lot.ID)
	require.True(t, after.QtyRemaining.Equal(dec("9")), "mutation halted and rolled back")
}

type stubIdempotency struct {
	seen    map[string]bool
	deleted []string
}

func (s *stubIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	if s.seen[key] {
		return errDuplicateKey
	}
	s.seen[key] = true
	return nil
}

func (s *stubIdempotency) Delete(_ context.Context, key string) error {
	delete(s.seen, key)
	s.deleted = append(s.deleted, key)
	return nil
}

var errDuplicateKey = errors.New("duplicate")

func TestCreateStockTransactionIdempotency(t *testing.T) {
	store := NewMemoryStore()
	idem := &stubIdempotency{seen: map[string]bool{}}
	svc := NewService(store, ServiceConfig{Idempotency: idem, Clock: func() time.Time { return testDay }})
	ctx := context.Background()
	input := CreateTransactionInput{
		Type:           TransactionTypeReceive,
		Items:          []StockItemInput{{ProductID: 1, WarehouseID: 1, Quantity: dec("1"), UnitCost: dec("1")}},
		IdempotencyKey: "8c7d4b1e-35c9-4b8e-9d8a-0d6e3b1b2f10",
	}
	_, err := svc.CreateStockTransaction(ctx, input)
	require.NoError(t, err)
	_, err = svc.CreateStockTransaction(ctx, input)
	require.ErrorIs(t, err, errDuplicateKey)

	bad := input
	bad.IdempotencyKey = "0e4c7a52-9f0a-4f51-b2a2-6f4e1f0b7c11"
	bad.Type = TransactionTypeAdjustment
	bad.Items = []StockItemInput{{ProductID: 1, WarehouseID: 1, LotNumber: "missing", Quantity: dec("1"), Adjustment: AdjustmentAdd}}
	_, err = svc.CreateStockTransaction(ctx, bad)
	require.ErrorIs(t, err, ErrLotNotFound)
	require.Equal(t, []string{"inventory:create:0e4c7a52-9f0a-4f51-b2a2-6f4e1f0b7c11"}, idem.deleted)
}

func TestStockQueries(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	receive(t, svc, "LOT-A", "10", testDay)
	receive(t, svc, "LOT-B", "2.5", testDay.Add(time.Hour))

	total, err := svc.GetProductTotalStock(ctx, 1)
	require.NoError(t, err)
	require.True(t, total.Equal(dec("12.5")))

	lots, err := svc.CandidateLots(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, lots, 2)
	require.Equal(t, "LOT-A", lots[0].LotNumber)

	_, err = svc.ListProductLots(ctx, LotFilter{})
	require.ErrorIs(t, err, ErrInvalidFilter)

	summary, err := svc.StockSummary(ctx, LotFilter{ProductID: 1})
	require.NoError(t, err)
	require.Len(t, summary, 1)
	require.Equal(t, 2, summary[0].LotCount)
	require.True(t, summary[0].StockValue.Equal(dec("18750")))
}

func TestListProductLotsFIFOOrder(t *testing.T) {
	svc, _ := newTestService(t)
	receive(t, svc, "LOT-LATE", "1", testDay.Add(2*time.Hour))
	receive(t, svc, "LOT-EARLY", "1", testDay)
	receive(t, svc, "LOT-TIE", "1", testDay)

	lots, err := svc.ListProductLots(context.Background(), LotFilter{ProductID: 1})
	require.NoError(t, err)
	require.Len(t, lots, 3)
	require.Equal(t, []string{"LOT-EARLY", "LOT-TIE", "LOT-LATE"},
		[]string{lots[0].LotNumber, lots[1].LotNumber, lots[2].LotNumber})
}
