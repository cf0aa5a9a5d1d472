package cod

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/orders"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/shared"
)

type stubAudit struct {
	logs []shared.AuditLog
}

func (s *stubAudit) Record(_ context.Context, log shared.AuditLog) error {
	s.logs = append(s.logs, log)
	return nil
}

type failingStore struct {
	*MemoryStore
	failOn int
}

type failingTx struct {
	TxRepository
	store *failingStore
}

func (f *failingStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return f.MemoryStore.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return fn(ctx, failingTx{TxRepository: tx, store: f})
	})
}

func (t failingTx) InsertBox(ctx context.Context, box Box) (Box, error) {
	if box.BoxNumber == t.store.failOn {
		return Box{}, errors.New("disk full")
	}
	return t.TxRepository.InsertBox(ctx, box)
}

func codOrder(items ...orders.Item) orders.Order {
	return orders.Order{ID: "SO-7", OrderNumber: "SO-7", PaymentMethod: orders.PaymentCOD, Items: items}
}

func line(id int64, qty, price string) orders.Item {
	return orders.Item{ID: id, OrderID: "SO-7", ProductID: id * 10, Quantity: dec(qty), UnitPrice: dec(price)}
}

func newTestService(seed ...orders.Order) (*Service, *MemoryStore, *orders.MemoryStore, *stubAudit) {
	store := NewMemoryStore()
	ord := orders.NewMemoryStore(seed...)
	audit := &stubAudit{}
	return NewService(store, ord, ServiceConfig{Audit: audit}), store, ord, audit
}

func amounts(boxes []Box) []string {
	out := make([]string, len(boxes))
	for i, b := range boxes {
		out[i] = b.CodAmount.StringFixed(2)
	}
	return out
}

func TestSplitEquallyScenarioC(t *testing.T) {
	svc, _, _, audit := newTestService(codOrder(line(1, "2", "450"), line(2, "1", "100")))
	ctx := context.Background()

	boxes, err := svc.SplitEqually(ctx, "SO-7", SplitInput{Boxes: 3, ActorID: 4})
	require.NoError(t, err)
	require.Equal(t, []string{"333.33", "333.33", "333.34"}, amounts(boxes))
	require.Equal(t, 1, boxes[0].BoxNumber)
	require.Equal(t, 3, boxes[2].BoxNumber)

	res, err := svc.Validate(ctx, "SO-7")
	require.NoError(t, err)
	require.True(t, res.Valid)
	require.Equal(t, "1000.00", res.Declared.StringFixed(2))
	require.Len(t, audit.logs, 1)
	require.Equal(t, "cod:declare", audit.logs[0].Action)
}

func TestDeclareBoxesReplacesAndRejectsMismatch(t *testing.T) {
	order := codOrder(line(1, "1", "1000"))
	order.ShippingCost = dec("50")
	order.BillDiscount = dec("20")
	svc, _, _, _ := newTestService(order)
	ctx := context.Background()

	_, err := svc.DeclareBoxes(ctx, "SO-7", DeclareInput{Amounts: []decimal.Decimal{dec("500"), dec("500")}})
	var mismatch *MismatchError
	require.ErrorAs(t, err, &mismatch)
	require.Equal(t, "1030", mismatch.Expected.String())
	require.Equal(t, "-30.00", mismatch.ProblemMeta()["difference"])

	_, err = svc.DeclareBoxes(ctx, "SO-7", DeclareInput{Amounts: []decimal.Decimal{dec("530"), dec("500")}})
	require.NoError(t, err)
	boxes, err := svc.DeclareBoxes(ctx, "SO-7", DeclareInput{Amounts: []decimal.Decimal{dec("1030")}})
	require.NoError(t, err)
	require.Len(t, boxes, 1)

	stored, err := svc.Boxes(ctx, "SO-7")
	require.NoError(t, err)
	require.Equal(t, []string{"1030.00"}, amounts(stored))
}

func TestUpsellScenarioD(t *testing.T) {
	svc, _, ord, audit := newTestService(codOrder(line(1, "1", "700")))
	ctx := context.Background()

	_, err := svc.DeclareBoxes(ctx, "SO-7", DeclareInput{Amounts: []decimal.Decimal{dec("400"), dec("300")}})
	require.NoError(t, err)

	freebie := line(3, "1", "90")
	freebie.IsFreebie = true
	ord.Put(codOrder(line(1, "1", "700"), line(2, "2", "125"), freebie))

	res, err := svc.AddUpsellBoxes(ctx, UpsellInput{OrderID: "SO-7", ItemIDs: []int64{2, 3}, BoxCount: 2})
	require.NoError(t, err)
	require.Equal(t, "250", res.NetAmount.String())
	require.Equal(t, []string{"125.00", "125.00"}, amounts(res.Boxes))
	require.Equal(t, 3, res.Boxes[0].BoxNumber)
	require.Equal(t, 4, res.Boxes[1].BoxNumber)
	require.True(t, res.Validation.Valid)

	stored, err := svc.Boxes(ctx, "SO-7")
	require.NoError(t, err)
	require.Equal(t, []string{"400.00", "300.00", "125.00", "125.00"}, amounts(stored))
	require.Equal(t, "cod:upsell", audit.logs[len(audit.logs)-1].Action)
}

func TestUpsellRejectsBoxedItems(t *testing.T) {
	svc, _, ord, _ := newTestService(codOrder(line(1, "2", "450"), line(2, "1", "100")))
	ctx := context.Background()

	_, err := svc.SplitEqually(ctx, "SO-7", SplitInput{Boxes: 2})
	require.NoError(t, err)

	_, err = svc.AddUpsellBoxes(ctx, UpsellInput{OrderID: "SO-7", ItemIDs: []int64{1}, BoxCount: 1})
	require.ErrorIs(t, err, ErrItemAlreadyBoxed)

	boxed := line(3, "1", "80")
	boxNumber := 2
	boxed.BoxNumber = &boxNumber
	ord.Put(codOrder(line(1, "2", "450"), line(2, "1", "100"), boxed, line(4, "1", "60")))
	_, err = svc.AddUpsellBoxes(ctx, UpsellInput{OrderID: "SO-7", ItemIDs: []int64{3}, BoxCount: 1})
	require.ErrorIs(t, err, ErrItemAlreadyBoxed)
	_, err = svc.AddUpsellBoxes(ctx, UpsellInput{OrderID: "SO-7", ItemIDs: []int64{4, 4}, BoxCount: 1})
	require.ErrorIs(t, err, ErrItemAlreadyBoxed)

	stored, err := svc.Boxes(ctx, "SO-7")
	require.NoError(t, err)
	require.Equal(t, []string{"500.00", "500.00"}, amounts(stored))

	res, err := svc.AddUpsellBoxes(ctx, UpsellInput{OrderID: "SO-7", ItemIDs: []int64{4}, BoxCount: 1})
	require.NoError(t, err)
	require.Equal(t, []int64{4}, res.Boxes[0].ItemIDs)
	_, err = svc.AddUpsellBoxes(ctx, UpsellInput{OrderID: "SO-7", ItemIDs: []int64{4}, BoxCount: 1})
	require.ErrorIs(t, err, ErrItemAlreadyBoxed)
}

func TestUpsellAdjustmentCountsInValidate(t *testing.T) {
	svc, _, ord, _ := newTestService(codOrder(line(1, "2", "450"), line(2, "1", "100")))
	ctx := context.Background()

	_, err := svc.SplitEqually(ctx, "SO-7", SplitInput{Boxes: 2})
	require.NoError(t, err)
	ord.Put(codOrder(line(1, "2", "450"), line(2, "1", "100"), line(3, "1", "250")))

	res, err := svc.AddUpsellBoxes(ctx, UpsellInput{OrderID: "SO-7", ItemIDs: []int64{3}, BoxCount: 2, ShippingCost: dec("50")})
	require.NoError(t, err)
	require.Equal(t, []string{"150.00", "150.00"}, amounts(res.Boxes))
	require.Equal(t, "50", res.Boxes[0].Adjustment.String())
	require.True(t, res.Boxes[1].Adjustment.IsZero())

	check, err := svc.Validate(ctx, "SO-7")
	require.NoError(t, err)
	require.True(t, check.Valid, "difference %s", check.Difference)
	require.Equal(t, "1300.00", check.Expected.StringFixed(2))

	_, err = svc.SplitEqually(ctx, "SO-7", SplitInput{Boxes: 1})
	require.NoError(t, err)
	check, err = svc.Validate(ctx, "SO-7")
	require.NoError(t, err)
	require.True(t, check.Valid)
	require.Equal(t, "1250.00", check.Expected.StringFixed(2))
}

func TestUpsellExplicitAmounts(t *testing.T) {
	svc, _, _, _ := newTestService(codOrder(line(1, "1", "700"), line(2, "1", "250")))
	ctx := context.Background()

	_, err := svc.AddUpsellBoxes(ctx, UpsellInput{
		OrderID: "SO-7", ItemIDs: []int64{2}, BoxCount: 2,
		Amounts: []decimal.Decimal{dec("200"), dec("60")},
	})
	require.ErrorIs(t, err, ErrCodMismatch)

	_, err = svc.AddUpsellBoxes(ctx, UpsellInput{
		OrderID: "SO-7", ItemIDs: []int64{2}, BoxCount: 2, Amounts: []decimal.Decimal{dec("250")},
	})
	require.ErrorIs(t, err, ErrInvalidBoxCount)

	res, err := svc.AddUpsellBoxes(ctx, UpsellInput{
		OrderID: "SO-7", ItemIDs: []int64{2}, BoxCount: 2, ShippingCost: dec("40"), Discount: dec("10"),
		Amounts: []decimal.Decimal{dec("200"), dec("80")},
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2}, []int{res.Boxes[0].BoxNumber, res.Boxes[1].BoxNumber})

	_, err = svc.AddUpsellBoxes(ctx, UpsellInput{OrderID: "SO-7", ItemIDs: []int64{9}, BoxCount: 1})
	require.ErrorIs(t, err, orders.ErrItemNotFound)
}

func TestCODGuards(t *testing.T) {
	transfer := codOrder(line(1, "1", "100"))
	transfer.ID = "SO-8"
	transfer.PaymentMethod = orders.PaymentTransfer
	gifts := codOrder(line(2, "1", "100"))
	gifts.ID = "SO-9"
	gifts.Items[0].IsFreebie = true
	svc, _, _, _ := newTestService(transfer, gifts)
	ctx := context.Background()

	_, err := svc.SplitEqually(ctx, "SO-8", SplitInput{Boxes: 2})
	require.ErrorIs(t, err, ErrNotCOD)
	_, err = svc.Validate(ctx, "SO-8")
	require.ErrorIs(t, err, ErrNotCOD)
	_, err = svc.SplitEqually(ctx, "SO-9", SplitInput{Boxes: 2})
	require.ErrorIs(t, err, ErrNothingToCollect)
	_, err = svc.AddUpsellBoxes(ctx, UpsellInput{OrderID: "SO-9", ItemIDs: []int64{2}, BoxCount: 1})
	require.ErrorIs(t, err, ErrNothingToCollect)
	_, err = svc.Boxes(ctx, "SO-404")
	require.ErrorIs(t, err, orders.ErrOrderNotFound)
}

func TestDeclareRollsBackOnFailure(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore()}
	svc := NewService(store, orders.NewMemoryStore(codOrder(line(1, "1", "300"))), ServiceConfig{})
	ctx := context.Background()

	_, err := svc.SplitEqually(ctx, "SO-7", SplitInput{Boxes: 2})
	require.NoError(t, err)

	store.failOn = 3
	_, err = svc.SplitEqually(ctx, "SO-7", SplitInput{Boxes: 3})
	require.Error(t, err)

	boxes, err := svc.Boxes(ctx, "SO-7")
	require.NoError(t, err)
	require.Equal(t, []string{"150.00", "150.00"}, amounts(boxes))
}
