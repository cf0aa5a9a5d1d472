package inventory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-process RepositoryPort used by tests and local runs.
// WithTx serialises transactions and rolls state back when the callback fails.
type MemoryStore struct {
	mu     sync.RWMutex
	lots   map[int64]Lot
	txs    map[int64]Transaction
	seqs   map[string]int64
	nextID int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		lots: make(map[int64]Lot),
		txs:  make(map[int64]Transaction),
		seqs: make(map[string]int64),
	}
}

type memorySnapshot struct {
	lots   map[int64]Lot
	txs    map[int64]Transaction
	seqs   map[string]int64
	nextID int64
}

func (m *MemoryStore) snapshot() memorySnapshot {
	snap := memorySnapshot{
		lots:   make(map[int64]Lot, len(m.lots)),
		txs:    make(map[int64]Transaction, len(m.txs)),
		seqs:   make(map[string]int64, len(m.seqs)),
		nextID: m.nextID,
	}
	for k, v := range m.lots {
		snap.lots[k] = v
	}
	for k, v := range m.txs {
		v.Lines = append([]TransactionLine(nil), v.Lines...)
		snap.txs[k] = v
	}
	for k, v := range m.seqs {
		snap.seqs[k] = v
	}
	return snap
}

func (m *MemoryStore) restore(snap memorySnapshot) {
	m.lots, m.txs, m.seqs, m.nextID = snap.lots, snap.txs, snap.seqs, snap.nextID
}

// Begin takes the store lock and returns a TxRepository plus a finish func that
// commits when err is nil and rolls back otherwise. Callers composing their own
// in-memory state use it to join the same transaction.
func (m *MemoryStore) Begin() (TxRepository, func(err error)) {
	m.mu.Lock()
	snap := m.snapshot()
	return &memoryTx{store: m}, func(err error) {
		if err != nil {
			m.restore(snap)
		}
		m.mu.Unlock()
	}
}

// WithTx runs fn under the store lock.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx, finish := m.Begin()
	err := fn(ctx, tx)
	finish(err)
	return err
}

// Lot returns a copy of a stored lot.
func (m *MemoryStore) Lot(id int64) (Lot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	lot, ok := m.lots[id]
	return lot, ok
}

// PutLot overwrites a lot without touching the ledger.
func (m *MemoryStore) PutLot(lot Lot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lots[lot.ID] = lot
}

// Transactions returns every stored document, voided included, ordered by id.
func (m *MemoryStore) Transactions() []Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Transaction, 0, len(m.txs))
	for _, tx := range m.txs {
		out = append(out, tx)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *MemoryStore) ListTransactions(_ context.Context, filter TransactionFilter) ([]Transaction, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	search := strings.ToLower(filter.Search)
	matched := []Transaction{}
	for _, tx := range m.txs {
		if tx.VoidedAt != nil {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		if filter.Month > 0 && int(tx.TransactionDate.Month()) != filter.Month {
			continue
		}
		if filter.Year > 0 && tx.TransactionDate.Year() != filter.Year {
			continue
		}
		if search != "" && !transactionMatches(tx, search) {
			continue
		}
		matched = append(matched, tx)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].TransactionDate.Equal(matched[j].TransactionDate) {
			return matched[i].TransactionDate.After(matched[j].TransactionDate)
		}
		return matched[i].ID > matched[j].ID
	})
	total := len(matched)
	start := (filter.Page - 1) * filter.PerPage
	if start > total {
		start = total
	}
	end := start + filter.PerPage
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func transactionMatches(tx Transaction, search string) bool {
	if strings.Contains(strings.ToLower(tx.DocumentNumber), search) || strings.Contains(strings.ToLower(tx.Notes), search) {
		return true
	}
	for _, line := range tx.Lines {
		if strings.Contains(strings.ToLower(line.LotNumber), search) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) GetTransaction(_ context.Context, id int64) (Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, nil
}

func (m *MemoryStore) ListLots(_ context.Context, filter LotFilter) ([]Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Lot{}
	for _, lot := range m.lots {
		if lot.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && lot.WarehouseID != filter.WarehouseID {
			continue
		}
		out = append(out, lot)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WarehouseID != out[j].WarehouseID {
			return out[i].WarehouseID < out[j].WarehouseID
		}
		return fifoLess(out[i], out[j])
	})
	return out, nil
}

func (m *MemoryStore) CandidateLots(_ context.Context, productID, warehouseID int64) ([]Lot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.candidates(productID, warehouseID), nil
}

func (m *MemoryStore) candidates(productID, warehouseID int64) []Lot {
	out := []Lot{}
	for _, lot := range m.lots {
		if lot.ProductID == productID && lot.WarehouseID == warehouseID && lot.Available() {
			out = append(out, lot)
		}
	}
	SortFIFO(out)
	return out
}

func (m *MemoryStore) ProductTotalStock(_ context.Context, productID int64) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	total := decimal.Zero
	for _, lot := range m.lots {
		if lot.ProductID == productID {
			total = total.Add(lot.QtyRemaining)
		}
	}
	return total, nil
}

func (m *MemoryStore) StockSummary(_ context.Context, filter LotFilter) ([]StockSummaryRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type key struct{ warehouse, product int64 }
	rows := map[key]*StockSummaryRow{}
	for _, lot := range m.lots {
		if filter.ProductID != 0 && lot.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && lot.WarehouseID != filter.WarehouseID {
			continue
		}
		k := key{lot.WarehouseID, lot.ProductID}
		row, ok := rows[k]
		if !ok {
			row = &StockSummaryRow{WarehouseID: lot.WarehouseID, ProductID: lot.ProductID}
			rows[k] = row
		}
		row.LotCount++
		row.QtyReceived = row.QtyReceived.Add(lot.QtyReceived)
		row.QtyRemaining = row.QtyRemaining.Add(lot.QtyRemaining)
		row.StockValue = row.StockValue.Add(lot.QtyRemaining.Mul(lot.UnitCost))
	}
	out := make([]StockSummaryRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WarehouseID != out[j].WarehouseID {
			return out[i].WarehouseID < out[j].WarehouseID
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

func (m *MemoryStore) LedgerChecks(_ context.Context, filter LotFilter) ([]LedgerCheck, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := []int64{}
	for id, lot := range m.lots {
		if filter.ProductID != 0 && lot.ProductID != filter.ProductID {
			continue
		}
		if filter.WarehouseID != 0 && lot.WarehouseID != filter.WarehouseID {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	totals := m.totals(ids)
	checks := make([]LedgerCheck, 0, len(ids))
	for _, id := range ids {
		checks = append(checks, NewLedgerCheck(m.lots[id], totals[id]))
	}
	return checks, nil
}

func (m *MemoryStore) totals(ids []int64) map[int64]LedgerTotals {
	want := make(map[int64]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	out := make(map[int64]LedgerTotals, len(ids))
	for _, tx := range m.txs {
		if tx.VoidedAt != nil {
			continue
		}
		for _, line := range tx.Lines {
			if !want[line.LotID] {
				continue
			}
			t := out[line.LotID]
			t.LotID = line.LotID
			t.DeltaSum = t.DeltaSum.Add(line.Qty)
			if tx.Type == TransactionTypeReceive {
				t.Received = t.Received.Add(line.Qty)
			}
			t.LineCount++
			out[line.LotID] = t
		}
	}
	return out
}

func (m *MemoryStore) id() int64 {
	m.nextID++
	return m.nextID
}

// memoryTx runs with MemoryStore.mu held by WithTx.
type memoryTx struct {
	store *MemoryStore
}

func (t *memoryTx) LockCandidateLots(_ context.Context, productID, warehouseID int64) ([]Lot, error) {
	return t.store.candidates(productID, warehouseID), nil
}

func (t *memoryTx) LockLotsByNumber(_ context.Context, lotNumber string) ([]Lot, error) {
	out := []Lot{}
	for _, lot := range t.store.lots {
		if lot.LotNumber == lotNumber {
			out = append(out, lot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (t *memoryTx) LockLot(_ context.Context, lotID int64) (Lot, error) {
	lot, ok := t.store.lots[lotID]
	if !ok {
		return Lot{}, &LotError{LotID: lotID, Err: ErrLotNotFound}
	}
	return lot, nil
}

func (t *memoryTx) InsertLot(_ context.Context, lot Lot) (Lot, error) {
	for _, existing := range t.store.lots {
		if existing.LotNumber == lot.LotNumber && existing.ProductID == lot.ProductID && existing.WarehouseID == lot.WarehouseID {
			return Lot{}, ErrLotConflict
		}
	}
	now := time.Now().UTC()
	lot.ID = t.store.id()
	lot.CreatedAt, lot.UpdatedAt = now, now
	t.store.lots[lot.ID] = lot
	return lot, nil
}

func (t *memoryTx) ApplyLotDelta(_ context.Context, lotID int64, receivedDelta, remainingDelta decimal.Decimal) (Lot, error) {
	lot, ok := t.store.lots[lotID]
	if !ok {
		return Lot{}, ErrLotConflict
	}
	received := lot.QtyReceived.Add(receivedDelta)
	remaining := lot.QtyRemaining.Add(remainingDelta)
	if remaining.IsNegative() || remaining.GreaterThan(received) {
		return Lot{}, ErrLotConflict
	}
	lot.QtyReceived, lot.QtyRemaining = received, remaining
	lot.Status = lot.Status.next(remaining)
	lot.UpdatedAt = time.Now().UTC()
	t.store.lots[lotID] = lot
	return lot, nil
}

func (t *memoryTx) NextDocumentSequence(_ context.Context, prefix string, day time.Time) (int64, error) {
	key := prefix + day.Format("20060102")
	t.store.seqs[key]++
	return t.store.seqs[key], nil
}

func (t *memoryTx) InsertTransaction(_ context.Context, tx Transaction) (Transaction, error) {
	tx.ID = t.store.id()
	tx.CreatedAt = time.Now().UTC()
	t.store.txs[tx.ID] = tx
	return tx, nil
}

func (t *memoryTx) InsertTransactionLines(_ context.Context, txID int64, lines []TransactionLine) ([]TransactionLine, error) {
	tx, ok := t.store.txs[txID]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	stored := make([]TransactionLine, 0, len(lines))
	for _, line := range lines {
		line.ID = t.store.id()
		line.TransactionID = txID
		stored = append(stored, line)
	}
	tx.Lines = append(tx.Lines, stored...)
	t.store.txs[txID] = tx
	return stored, nil
}

func (t *memoryTx) LockTransaction(_ context.Context, id int64) (Transaction, error) {
	tx, ok := t.store.txs[id]
	if !ok || tx.VoidedAt != nil {
		return Transaction{}, ErrTransactionNotFound
	}
	tx.Lines = append([]TransactionLine(nil), tx.Lines...)
	return tx, nil
}

func (t *memoryTx) VoidTransaction(_ context.Context, id, actorID int64, at time.Time) error {
	tx, ok := t.store.txs[id]
	if !ok || tx.VoidedAt != nil {
		return ErrTransactionNotFound
	}
	tx.VoidedAt = &at
	tx.VoidedBy = actorID
	t.store.txs[id] = tx
	return nil
}

func (t *memoryTx) LedgerTotals(_ context.Context, lotIDs []int64) (map[int64]LedgerTotals, error) {
	return t.store.totals(lotIDs), nil
}
