package cod

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps boxes in process for tests and local runs.
type MemoryStore struct {
	mu     sync.Mutex
	boxes  map[int64]Box
	nextID int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{boxes: make(map[int64]Box)}
}

// WithTx serialises fn and restores the boxes when it fails.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	snapshot := make(map[int64]Box, len(m.boxes))
	for k, v := range m.boxes {
		snapshot[k] = v
	}
	nextID := m.nextID
	if err := fn(ctx, memoryTx{m}); err != nil {
		m.boxes, m.nextID = snapshot, nextID
		return err
	}
	return nil
}

// ListBoxes returns the boxes of an order by box number.
func (m *MemoryStore) ListBoxes(_ context.Context, orderID string) ([]Box, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.list(orderID), nil
}

func (m *MemoryStore) list(orderID string) []Box {
	out := []Box{}
	for _, b := range m.boxes {
		if b.OrderID == orderID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BoxNumber < out[j].BoxNumber })
	return out
}

type memoryTx struct {
	store *MemoryStore
}

func (t memoryTx) LockBoxes(_ context.Context, orderID string) ([]Box, error) {
	return t.store.list(orderID), nil
}

func (t memoryTx) DeleteBoxes(_ context.Context, orderID string) error {
	for id, b := range t.store.boxes {
		if b.OrderID == orderID {
			delete(t.store.boxes, id)
		}
	}
	return nil
}

func (t memoryTx) InsertBox(_ context.Context, box Box) (Box, error) {
	t.store.nextID++
	box.ID = t.store.nextID
	box.ItemIDs = append([]int64(nil), box.ItemIDs...)
	box.CreatedAt = time.Now().UTC()
	t.store.boxes[box.ID] = box
	return box, nil
}
