package orders

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// MemoryStore keeps orders in process for tests and local runs.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]Order
}

// NewMemoryStore seeds a store with the given orders.
func NewMemoryStore(seed ...Order) *MemoryStore {
	s := &MemoryStore{orders: make(map[string]Order)}
	for _, o := range seed {
		s.Put(o)
	}
	return s
}

// Put stores or replaces an order.
func (s *MemoryStore) Put(order Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	order.Items = append([]Item(nil), order.Items...)
	s.orders[order.ID] = order
}

// GetOrder returns a copy of the stored order.
func (s *MemoryStore) GetOrder(_ context.Context, id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	order, ok := s.orders[NormalizeOrderID(id)]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	order.Items = append([]Item(nil), order.Items...)
	return order, nil
}

// FindItem locates a line across every order.
func (s *MemoryStore) FindItem(_ context.Context, itemID int64) (Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, order := range s.orders {
		if item, ok := order.Item(itemID); ok {
			return item, nil
		}
	}
	return Item{}, ErrItemNotFound
}

// SetItemQuantity replaces a line quantity.
func (s *MemoryStore) SetItemQuantity(_ context.Context, itemID int64, qty decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, order := range s.orders {
		for i := range order.Items {
			if order.Items[i].ID == itemID {
				order.Items[i].Quantity = qty
				s.orders[id] = order
				return nil
			}
		}
	}
	return ErrItemNotFound
}
