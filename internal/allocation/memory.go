package allocation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/orders"
)

// MemoryStore keeps allocations in process, sharing transactions with an inventory.MemoryStore.
type MemoryStore struct {
	mu          sync.RWMutex
	inventory   *inventory.MemoryStore
	orders      *orders.MemoryStore
	allocations map[int64]Allocation
	nextID      int64
}

// NewMemoryStore composes the in-memory ledger and order stores.
func NewMemoryStore(inv *inventory.MemoryStore, ord *orders.MemoryStore) *MemoryStore {
	return &MemoryStore{inventory: inv, orders: ord, allocations: make(map[int64]Allocation)}
}

// WithTx joins the inventory transaction and rolls allocation rows back with it.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	invTx, finish := m.inventory.Begin()
	m.mu.Lock()
	snapshot := make(map[int64]Allocation, len(m.allocations))
	for k, v := range m.allocations {
		snapshot[k] = v
	}
	nextID := m.nextID
	tx := &memoryTx{TxRepository: invTx, store: m, quantities: map[int64]decimal.Decimal{}}

	err := fn(ctx, tx)
	if err != nil {
		m.allocations, m.nextID = snapshot, nextID
	}
	m.mu.Unlock()
	if err == nil {
		for itemID, qty := range tx.quantities {
			if setErr := m.orders.SetItemQuantity(ctx, itemID, qty); setErr != nil {
				err = setErr
			}
		}
	}
	finish(err)
	return err
}

func (m *MemoryStore) ListAllocations(_ context.Context, filter Filter) ([]Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(filter), nil
}

func (m *MemoryStore) filter(filter Filter) []Allocation {
	out := []Allocation{}
	for _, a := range m.allocations {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.OrderID != "" && a.OrderID != filter.OrderID {
			continue
		}
		if filter.OrderItemID != 0 && a.OrderItemID != filter.OrderItemID {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OrderID != out[j].OrderID {
			return out[i].OrderID < out[j].OrderID
		}
		if out[i].OrderItemID != out[j].OrderItemID {
			return out[i].OrderItemID < out[j].OrderItemID
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *MemoryStore) GetAllocation(_ context.Context, id int64) (Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.allocations[id]
	if !ok {
		return Allocation{}, ErrAllocationNotFound
	}
	return a, nil
}

func (m *MemoryStore) GetOrderItem(ctx context.Context, itemID int64) (orders.Item, error) {
	return m.orders.FindItem(ctx, itemID)
}

func (m *MemoryStore) ItemAllocations(_ context.Context, itemID int64) ([]Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(Filter{OrderItemID: itemID}), nil
}

// memoryTx runs with both store locks held.
type memoryTx struct {
	inventory.TxRepository
	store      *MemoryStore
	quantities map[int64]decimal.Decimal
}

func (t *memoryTx) LockOrderItem(ctx context.Context, itemID int64) (orders.Item, error) {
	item, err := t.store.orders.FindItem(ctx, itemID)
	if err != nil {
		return orders.Item{}, err
	}
	if qty, ok := t.quantities[itemID]; ok {
		item.Quantity = qty
	}
	return item, nil
}

func (t *memoryTx) UpdateOrderItemQuantity(ctx context.Context, itemID int64, qty decimal.Decimal) error {
	if _, err := t.store.orders.FindItem(ctx, itemID); err != nil {
		return err
	}
	t.quantities[itemID] = qty
	return nil
}

func (t *memoryTx) ListItemAllocations(_ context.Context, itemID int64) ([]Allocation, error) {
	return t.store.filter(Filter{OrderItemID: itemID}), nil
}

func (t *memoryTx) LockAllocation(_ context.Context, id int64) (Allocation, error) {
	a, ok := t.store.allocations[id]
	if !ok {
		return Allocation{}, ErrAllocationNotFound
	}
	return a, nil
}

func (t *memoryTx) InsertAllocation(_ context.Context, a Allocation) (Allocation, error) {
	t.store.nextID++
	now := time.Now().UTC()
	a.ID = t.store.nextID
	a.CreatedAt, a.UpdatedAt = now, now
	t.store.allocations[a.ID] = a
	return a, nil
}

func (t *memoryTx) UpdateAllocation(_ context.Context, a Allocation) (Allocation, error) {
	existing, ok := t.store.allocations[a.ID]
	if !ok {
		return Allocation{}, ErrAllocationNotFound
	}
	a.OrderID, a.OrderItemID, a.ProductID = existing.OrderID, existing.OrderItemID, existing.ProductID
	a.CreatedAt, a.CreatedBy = existing.CreatedAt, existing.CreatedBy
	a.UpdatedAt = time.Now().UTC()
	t.store.allocations[a.ID] = a
	return a, nil
}
