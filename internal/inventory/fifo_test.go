package inventory

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func lotAt(id int64, remaining string, received time.Time) Lot {
	return Lot{
		ID: id, ProductID: 1, WarehouseID: 1, LotNumber: "L" + decimal.NewFromInt(id).String(),
		QtyReceived: dec(remaining), QtyRemaining: dec(remaining), ReceivedAt: received, Status: LotStatusActive,
	}
}

func TestPlanFIFOOrdersByReceiptThenID(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	lots := []Lot{
		lotAt(3, "5", base.Add(time.Hour)),
		lotAt(2, "2", base),
		lotAt(1, "1", base),
	}
	plan := PlanFIFO(lots, dec("4"))
	require.True(t, plan.Complete())
	require.Len(t, plan.Draws, 3)
	require.EqualValues(t, 1, plan.Draws[0].Lot.ID)
	require.EqualValues(t, 2, plan.Draws[1].Lot.ID)
	require.EqualValues(t, 3, plan.Draws[2].Lot.ID)
	require.True(t, plan.Draws[2].Quantity.Equal(dec("1")))
	require.EqualValues(t, 3, lots[0].ID, "input order untouched")
}

func TestPlanFIFOShortfallAndSkips(t *testing.T) {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	expired := lotAt(1, "100", base)
	expired.Status = LotStatusExpired
	empty := lotAt(2, "0", base)
	empty.QtyReceived = dec("5")
	lots := []Lot{expired, empty, lotAt(3, "6", base)}

	plan := PlanFIFO(lots, dec("11"))
	require.False(t, plan.Complete())
	require.True(t, plan.Fulfilled.Equal(dec("6")))
	require.True(t, plan.Shortfall().Equal(dec("5")))
	require.Len(t, plan.Draws, 1)
	require.True(t, AvailableQuantity(lots).Equal(dec("6")))

	require.Empty(t, PlanFIFO(lots, decimal.Zero).Draws)
}

// Every draw but the last empties its lot, and no younger lot is touched while an older one has stock.
func TestPlanFIFOProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for iter := 0; iter < 200; iter++ {
		n := rng.Intn(6) + 1
		lots := make([]Lot, 0, n)
		for i := 0; i < n; i++ {
			lots = append(lots, lotAt(int64(i+1), decimal.NewFromInt(int64(rng.Intn(10)+1)).String(), base.Add(time.Duration(rng.Intn(4))*time.Hour)))
		}
		qty := decimal.NewFromInt(int64(rng.Intn(30) + 1))
		plan := PlanFIFO(lots, qty)

		sum := decimal.Zero
		for i, d := range plan.Draws {
			sum = sum.Add(d.Quantity)
			require.True(t, d.Quantity.IsPositive())
			require.True(t, d.Quantity.LessThanOrEqual(d.Lot.QtyRemaining))
			if i < len(plan.Draws)-1 {
				require.True(t, d.Quantity.Equal(d.Lot.QtyRemaining))
			}
			if i > 0 {
				prev := plan.Draws[i-1].Lot
				require.False(t, d.Lot.ReceivedAt.Before(prev.ReceivedAt))
			}
		}
		require.True(t, sum.Equal(plan.Fulfilled))
		require.True(t, plan.Fulfilled.Equal(decimal.Min(qty, AvailableQuantity(lots))))
	}
}

func TestFormatDocumentNumber(t *testing.T) {
	day := time.Date(2025, 12, 3, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "AL251203-00042", FormatDocumentNumber(TransactionTypeAllocationConsume.DocumentPrefix(), day, 42))
	require.Equal(t, "AR", TransactionTypeAllocationReverse.DocumentPrefix())
	require.Equal(t, "AJ", TransactionTypeAdjustment.DocumentPrefix())
}
