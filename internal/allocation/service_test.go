package allocation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/orders"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

var testNow = time.Date(2025, 6, 2, 10, 0, 0, 0, time.UTC)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

type stubSuggester map[string]int64

func (s stubSuggester) SuggestWarehouse(_ context.Context, province string) (int64, bool, error) {
	id, ok := s[province]
	return id, ok, nil
}

type fixture struct {
	svc    *Service
	store  *MemoryStore
	inv    *inventory.MemoryStore
	invSvc *inventory.Service
	orders *orders.MemoryStore
}

func newFixture(t *testing.T, items ...orders.Item) *fixture {
	t.Helper()
	inv := inventory.NewMemoryStore()
	ord := orders.NewMemoryStore(orders.Order{
		ID:               "SO-1",
		OrderNumber:      "SO-1",
		CustomerProvince: "Bangkok",
		PaymentMethod:    orders.PaymentCOD,
		Items:            items,
	})
	store := NewMemoryStore(inv, ord)
	clock := func() time.Time { return testNow }
	return &fixture{
		svc:    NewService(store, ord, ServiceConfig{Suggester: stubSuggester{"Bangkok": 2}, Clock: clock}),
		store:  store,
		inv:    inv,
		invSvc: inventory.NewService(inv, inventory.ServiceConfig{Clock: clock}),
		orders: ord,
	}
}

func item(id, product int64, qty string) orders.Item {
	return orders.Item{ID: id, OrderID: "SO-1", ProductID: product, Quantity: dec(qty), UnitPrice: dec("100")}
}

// receiveLot stocks product at warehouse and returns the lot id.
func (f *fixture) receiveLot(t *testing.T, warehouseID, productID int64, lotNumber, qty string, at time.Time) int64 {
	t.Helper()
	doc, err := f.invSvc.CreateStockTransaction(context.Background(), inventory.CreateTransactionInput{
		Type:            inventory.TransactionTypeReceive,
		TransactionDate: at,
		Items: []inventory.StockItemInput{{
			ProductID: productID, WarehouseID: warehouseID, LotNumber: lotNumber, Quantity: dec(qty), UnitCost: dec("40"),
		}},
	})
	require.NoError(t, err)
	return doc.Lines[0].LotID
}

func (f *fixture) remaining(t *testing.T, lotID int64) decimal.Decimal {
	t.Helper()
	lot, ok := f.inv.Lot(lotID)
	require.True(t, ok)
	return lot.QtyRemaining
}

func (f *fixture) requireLedgerConsistent(t *testing.T) {
	t.Helper()
	bad, err := f.invSvc.VerifyLedger(context.Background(), inventory.LotFilter{})
	require.NoError(t, err)
	require.Empty(t, bad)
}

func TestStatusTransitions(t *testing.T) {
	all := []Status{StatusPending, StatusAllocated, StatusPicked, StatusShipped, StatusCancelled}
	allowed := map[[2]Status]bool{
		{StatusPending, StatusAllocated}:   true,
		{StatusPending, StatusCancelled}:   true,
		{StatusAllocated, StatusPicked}:    true,
		{StatusAllocated, StatusCancelled}: true,
		{StatusPicked, StatusShipped}:      true,
		{StatusPicked, StatusCancelled}:    true,
	}
	for _, from := range all {
		for _, to := range all {
			require.Equal(t, allowed[[2]Status{from, to}], from.CanTransition(to), "%s -> %s", from, to)
		}
	}
	require.True(t, StatusShipped.IsTerminal())
	require.False(t, Status("LOST").IsValid())
}

// Scenario: allocate 4 of lot X (10), then 7 more fails and leaves 6.
func TestAllocateItemInsufficientStockKeepsRemaining(t *testing.T) {
	f := newFixture(t, item(1, 100, "11"))
	ctx := context.Background()
	lotX := f.receiveLot(t, 1, 100, "X", "10", testNow.Add(-time.Hour))

	state, err := f.svc.AllocateItem(ctx, AllocateItemInput{OrderItemID: 1, WarehouseID: 1, Quantity: dec("4")})
	require.NoError(t, err)
	require.True(t, f.remaining(t, lotX).Equal(dec("6")))
	require.True(t, state.AllocatedQuantity.Equal(dec("4")))
	require.True(t, state.RemainingQuantity.Equal(dec("7")))
	require.NotNil(t, state.Document)
	require.Equal(t, "AL250602-00001", state.Document.DocumentNumber)

	var allocated *Allocation
	for i := range state.Allocations {
		if state.Allocations[i].Status == StatusAllocated {
			allocated = &state.Allocations[i]
		}
	}
	require.NotNil(t, allocated)
	require.True(t, allocated.AllocatedQuantity.Equal(dec("4")))
	require.Equal(t, "X", allocated.LotNumber)

	_, err = f.svc.AllocateItem(ctx, AllocateItemInput{OrderItemID: 1, WarehouseID: 1, Quantity: dec("7")})
	var short *inventory.InsufficientStockError
	require.ErrorAs(t, err, &short)
	require.True(t, short.Shortfall().Equal(dec("1")))
	require.True(t, f.remaining(t, lotX).Equal(dec("6")))
	f.requireLedgerConsistent(t)
}

func TestAllocateItemRejectsAboveRequirement(t *testing.T) {
	f := newFixture(t, item(1, 100, "5"))
	f.receiveLot(t, 1, 100, "X", "10", testNow)

	_, err := f.svc.AllocateItem(context.Background(), AllocateItemInput{OrderItemID: 1, WarehouseID: 1, Quantity: dec("6")})
	var reqErr *RequirementError
	require.ErrorAs(t, err, &reqErr)
	require.True(t, reqErr.Remaining.Equal(dec("5")))

	_, err = f.svc.AllocateItem(context.Background(), AllocateItemInput{OrderItemID: 1, WarehouseID: 1, Quantity: decimal.Zero})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
}

func TestAllocateItemFIFONeverTouchesNewerLot(t *testing.T) {
	f := newFixture(t, item(1, 100, "3"))
	older := f.receiveLot(t, 1, 100, "L1", "5", testNow.Add(-48*time.Hour))
	newer := f.receiveLot(t, 1, 100, "L2", "5", testNow.Add(-time.Hour))

	_, err := f.svc.AllocateItem(context.Background(), AllocateItemInput{OrderItemID: 1, WarehouseID: 1, Quantity: dec("3")})
	require.NoError(t, err)
	require.True(t, f.remaining(t, older).Equal(dec("2")))
	require.True(t, f.remaining(t, newer).Equal(dec("5")))
}

func TestAllocateItemSplitsAcrossLots(t *testing.T) {
	f := newFixture(t, item(1, 100, "8"))
	ctx := context.Background()
	l1 := f.receiveLot(t, 1, 100, "L1", "3", testNow.Add(-48*time.Hour))
	l2 := f.receiveLot(t, 1, 100, "L2", "5", testNow.Add(-time.Hour))

	pending, err := f.svc.MaterializeOrder(ctx, "SO-1", 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, StatusPending, pending[0].Status)
	require.EqualValues(t, 2, pending[0].WarehouseID, "prefilled from suggestion")

	state, err := f.svc.AllocateItem(ctx, AllocateItemInput{OrderItemID: 1, WarehouseID: 1, Quantity: dec("6")})
	require.NoError(t, err)
	require.Len(t, state.Allocations, 3)

	first := state.Allocations[0]
	require.Equal(t, pending[0].ID, first.ID, "first split reuses the pending row")
	require.Equal(t, StatusAllocated, first.Status)
	require.Equal(t, l1, first.LotID)
	require.True(t, first.AllocatedQuantity.Equal(dec("3")))
	require.True(t, first.RequiredQuantity.Equal(dec("8")))

	second := state.Allocations[1]
	require.Equal(t, l2, second.LotID)
	require.True(t, second.AllocatedQuantity.Equal(dec("3")))
	require.True(t, second.RequiredQuantity.Equal(dec("5")), "net of the row drawn before it")
	require.Equal(t, first.ConsumeDocument, second.ConsumeDocument)

	rest := state.Allocations[2]
	require.Equal(t, StatusPending, rest.Status)
	require.True(t, rest.RequiredQuantity.Equal(dec("2")))

	require.True(t, f.remaining(t, l1).IsZero())
	require.True(t, f.remaining(t, l2).Equal(dec("2")))
	f.requireLedgerConsistent(t)
}

func TestConcurrentAllocationsSameLot(t *testing.T) {
	f := newFixture(t, item(1, 100, "6"), item(2, 100, "6"))
	lot := f.receiveLot(t, 1, 100, "X", "10", testNow.Add(-time.Hour))

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.AllocateItem(context.Background(), AllocateItemInput{
				OrderItemID: int64(i + 1), WarehouseID: 1, Quantity: dec("6"),
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var short *inventory.InsufficientStockError
		require.ErrorAs(t, err, &short)
		require.True(t, short.Available.Equal(dec("4")), "available %s", short.Available)
	}
	require.Equal(t, 1, succeeded)
	require.True(t, f.remaining(t, lot).Equal(dec("4")))
	f.requireLedgerConsistent(t)
}

func TestAllocateItemRollsBackWholeSplit(t *testing.T) {
	f := newFixture(t, item(1, 100, "6"))
	ctx := context.Background()
	l1 := f.receiveLot(t, 1, 100, "L1", "3", testNow.Add(-48*time.Hour))
	l2 := f.receiveLot(t, 1, 100, "L2", "5", testNow.Add(-time.Hour))

	// L2 drifts away from its ledger so the second draw trips verification.
	drifted, _ := f.inv.Lot(l2)
	drifted.QtyRemaining = dec("4")
	f.inv.PutLot(drifted)
	docs := len(f.inv.Transactions())

	_, err := f.svc.AllocateItem(ctx, AllocateItemInput{OrderItemID: 1, WarehouseID: 1, Quantity: dec("6")})
	require.ErrorIs(t, err, inventory.ErrLedgerInconsistent)

	require.True(t, f.remaining(t, l1).Equal(dec("3")))
	require.True(t, f.remaining(t, l2).Equal(dec("4")))
	require.Len(t, f.inv.Transactions(), docs)
	rows, err := f.svc.ListAllocations(ctx, Filter{OrderID: "SO-1"})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestReverseAllocationIsIdempotent(t *testing.T) {
	f := newFixture(t, item(1, 100, "4"))
	ctx := context.Background()
	lot := f.receiveLot(t, 1, 100, "X", "10", testNow)

	state, err := f.svc.AllocateItem(ctx, AllocateItemInput{OrderItemID: 1, WarehouseID: 1, Quantity: dec("4")})
	require.NoError(t, err)
	require.Len(t, state.Allocations, 1)
	id := state.Allocations[0].ID

	first, err := f.svc.ReverseAllocation(ctx, id, 5)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, first.Status)
	require.Equal(t, "AR250602-00001", first.ReverseDocument)
	require.True(t, f.remaining(t, lot).Equal(dec("10")))
	docs := len(f.inv.Transactions())

	second, err := f.svc.ReverseAllocation(ctx, id, 5)
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.True(t, f.remaining(t, lot).Equal(dec("10")))
	require.Len(t, f.inv.Transactions(), docs)

	line, err := f.svc.ItemState(ctx, 1)
	require.NoError(t, err)
	require.True(t, line.RemainingQuantity.Equal(dec("4")))
	pending := pendingRow(line.Allocations)
	require.NotNil(t, pending, "freed requirement comes back as pending")
	require.True(t, pending.RequiredQuantity.Equal(dec("4")))
	f.requireLedgerConsistent(t)
}

func TestReverseShippedRejected(t *testing.T) {
	f := newFixture(t, item(1, 100, "2"))
	ctx := context.Background()
	f.receiveLot(t, 1, 100, "X", "10", testNow)
	state, err := f.svc.AllocateItem(ctx, AllocateItemInput{OrderItemID: 1, WarehouseID: 1, Quantity: dec("2")})
	require.NoError(t, err)
	id := state.Allocations[0].ID

	for _, next := range []Status{StatusPicked, StatusShipped} {
		st := next
		_, err := f.svc.UpdateAllocation(ctx, id, UpdateInput{Status: &st}, 1)
		require.NoError(t, err)
	}
	_, err = f.svc.ReverseAllocation(ctx, id, 1)
	var trErr *TransitionError
	require.ErrorAs(t, err, &trErr)
	require.Equal(t, StatusShipped, trErr.From)
}

func TestSyncItemQuantity(t *testing.T) {
	f := newFixture(t, item(1, 100, "10"))
	ctx := context.Background()
	f.receiveLot(t, 1, 100, "X", "10", testNow)
	_, err := f.svc.AllocateItem(ctx, AllocateItemInput{OrderItemID: 1, WarehouseID: 1, Quantity: dec("4")})
	require.NoError(t, err)

	_, err = f.svc.SyncItemQuantity(ctx, 1, dec("3"), 1)
	var conflict *QuantityConflictError
	require.ErrorAs(t, err, &conflict)
	require.True(t, conflict.Allocated.Equal(dec("4")))
	stored, _ := f.orders.FindItem(ctx, 1)
	require.True(t, stored.Quantity.Equal(dec("10")), "conflict never auto-corrects")

	state, err := f.svc.SyncItemQuantity(ctx, 1, dec("6"), 1)
	require.NoError(t, err)
	require.True(t, state.RemainingQuantity.Equal(dec("2")))
	require.True(t, pendingRow(state.Allocations).RequiredQuantity.Equal(dec("2")))

	state, err = f.svc.SyncItemQuantity(ctx, 1, dec("4"), 1)
	require.NoError(t, err)
	require.Nil(t, pendingRow(state.Allocations))
	stored, _ = f.orders.FindItem(ctx, 1)
	require.True(t, stored.Quantity.Equal(dec("4")))
}

func TestUpdateAllocationFlow(t *testing.T) {
	f := newFixture(t, item(1, 100, "5"))
	ctx := context.Background()
	lot := f.receiveLot(t, 2, 100, "W2-A", "10", testNow)

	rows, err := f.svc.MaterializeOrder(ctx, "SO-1", 1)
	require.NoError(t, err)
	id := rows[0].ID

	allocated := StatusAllocated
	a, err := f.svc.UpdateAllocation(ctx, id, UpdateInput{Status: &allocated}, 1)
	require.NoError(t, err)
	require.Equal(t, id, a.ID)
	require.Equal(t, StatusAllocated, a.Status)
	require.EqualValues(t, 2, a.WarehouseID)
	require.True(t, a.AllocatedQuantity.Equal(dec("5")))
	require.True(t, f.remaining(t, lot).Equal(dec("5")))

	other := int64(3)
	_, err = f.svc.UpdateAllocation(ctx, id, UpdateInput{WarehouseID: &other}, 1)
	require.ErrorIs(t, err, ErrRebindRequiresReversal)

	pending := StatusPending
	_, err = f.svc.UpdateAllocation(ctx, id, UpdateInput{Status: &pending}, 1)
	require.ErrorIs(t, err, ErrInvalidTransition)

	shipped := StatusShipped
	_, err = f.svc.UpdateAllocation(ctx, id, UpdateInput{Status: &shipped}, 1)
	require.ErrorIs(t, err, ErrInvalidTransition, "picked cannot be skipped")

	cancelled := StatusCancelled
	a, err = f.svc.UpdateAllocation(ctx, id, UpdateInput{Status: &cancelled}, 1)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, a.Status)
	require.True(t, f.remaining(t, lot).Equal(dec("10")))
	f.requireLedgerConsistent(t)
}

func TestUpdatePendingPinnedLot(t *testing.T) {
	f := newFixture(t, item(1, 100, "3"))
	ctx := context.Background()
	f.receiveLot(t, 2, 100, "OLD", "5", testNow.Add(-time.Hour))
	newer := f.receiveLot(t, 2, 100, "NEW", "5", testNow)
	rows, err := f.svc.MaterializeOrder(ctx, "SO-1", 1)
	require.NoError(t, err)

	allocated := StatusAllocated
	lotNumber := "NEW"
	qty := dec("2")
	a, err := f.svc.UpdateAllocation(ctx, rows[0].ID, UpdateInput{Status: &allocated, LotNumber: &lotNumber, AllocatedQuantity: &qty}, 1)
	require.NoError(t, err)
	require.Equal(t, newer, a.LotID)
	require.True(t, f.remaining(t, newer).Equal(dec("3")))

	_, err = f.svc.AllocateItem(ctx, AllocateItemInput{OrderItemID: 1, WarehouseID: 2, Quantity: dec("1"), LotNumber: "GONE"})
	require.ErrorIs(t, err, inventory.ErrLotNotFound)

	_, err = f.svc.AllocateItem(ctx, AllocateItemInput{OrderItemID: 1, WarehouseID: 1, Quantity: dec("1"), LotNumber: "NEW"})
	require.ErrorIs(t, err, inventory.ErrInvalidLot)
}

func TestAllocateOrderReportsPerLine(t *testing.T) {
	free := item(2, 200, "3")
	free.IsFreebie = true
	f := newFixture(t, item(1, 100, "4"), free, item(3, 300, "1"))
	ctx := context.Background()
	f.receiveLot(t, 2, 100, "A", "10", testNow)
	f.receiveLot(t, 2, 200, "B", "1", testNow)
	f.receiveLot(t, 2, 300, "C", "1", testNow)

	result, err := f.svc.AllocateOrder(ctx, AllocateOrderInput{OrderID: "SO-1"})
	require.NoError(t, err)
	require.EqualValues(t, 2, result.WarehouseID)
	require.Len(t, result.Succeeded, 2)
	require.Len(t, result.Failed, 1)
	require.EqualValues(t, 2, result.Failed[0].OrderItemID, "freebie draws from the same pool")
	require.Equal(t, "2", result.Failed[0].Meta["shortfall"])

	again, err := f.svc.AllocateOrder(ctx, AllocateOrderInput{OrderID: "SO-1", WarehouseID: 2})
	require.NoError(t, err)
	require.Len(t, again.Skipped, 2)
	require.Len(t, again.Failed, 1)
	f.requireLedgerConsistent(t)
}

func TestAllocateOrderNeedsWarehouse(t *testing.T) {
	f := newFixture(t, item(1, 100, "1"))
	f.svc.suggester = stubSuggester{}
	_, err := f.svc.AllocateOrder(context.Background(), AllocateOrderInput{OrderID: "SO-1"})
	require.ErrorIs(t, err, ErrWarehouseRequired)

	_, err = f.svc.AllocateOrder(context.Background(), AllocateOrderInput{OrderID: "SO-404", WarehouseID: 1})
	require.ErrorIs(t, err, orders.ErrOrderNotFound)
}

type memoryIdempotency map[string]bool

func (m memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	if m[key] {
		return shared.ErrIdempotencyConflict
	}
	m[key] = true
	return nil
}

func (m memoryIdempotency) Delete(_ context.Context, key string) error {
	delete(m, key)
	return nil
}

func TestAllocateItemReplayReturnsCurrentState(t *testing.T) {
	f := newFixture(t, item(1, 100, "5"))
	f.svc.idempotency = memoryIdempotency{}
	ctx := context.Background()
	lot := f.receiveLot(t, 1, 100, "X", "10", testNow)
	input := AllocateItemInput{OrderItemID: 1, WarehouseID: 1, Quantity: dec("2"), IdempotencyKey: "5b0b3f8e-8f7e-4d7f-9f2e-2a4e0a1c6d3b"}

	first, err := f.svc.AllocateItem(ctx, input)
	require.NoError(t, err)
	require.False(t, first.Replayed)

	replay, err := f.svc.AllocateItem(ctx, input)
	require.NoError(t, err)
	require.True(t, replay.Replayed)
	require.Nil(t, replay.Document)
	require.True(t, replay.AllocatedQuantity.Equal(dec("2")))
	require.True(t, f.remaining(t, lot).Equal(dec("8")), "retry does not consume twice")
}
