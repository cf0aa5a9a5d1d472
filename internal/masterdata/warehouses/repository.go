package warehouses

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads warehouses and their coverage.
type Repository interface {
	List(ctx context.Context, filters ListFilters) ([]Warehouse, error)
	Get(ctx context.Context, id int64) (Warehouse, error)
	UpdateCoverage(ctx context.Context, id int64, input CoverageInput) (Warehouse, error)
}

type repository struct {
	pool *pgxpool.Pool
}

// NewRepository returns the PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool}
}

const warehouseColumns = `id, code, name, home_province, responsible_provinces, active, created_at, updated_at`

func scanWarehouse(row pgx.Row) (Warehouse, error) {
	var w Warehouse
	err := row.Scan(&w.ID, &w.Code, &w.Name, &w.HomeProvince, &w.ResponsibleProvinces, &w.Active, &w.CreatedAt, &w.UpdatedAt)
	if w.ResponsibleProvinces == nil {
		w.ResponsibleProvinces = []string{}
	}
	return w, err
}

// List orders by id so callers can rely on the lowest-id tie break.
func (r *repository) List(ctx context.Context, filters ListFilters) ([]Warehouse, error) {
	query := `SELECT ` + warehouseColumns + ` FROM warehouses WHERE 1=1`
	args := []any{}
	if filters.ActiveOnly {
		query += ` AND active`
	}
	if filters.Search != "" {
		args = append(args, "%"+filters.Search+"%")
		n := strconv.Itoa(len(args))
		query += ` AND (name ILIKE $` + n + ` OR code ILIKE $` + n + `)`
	}
	query += ` ORDER BY id`

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Warehouse{}
	for rows.Next() {
		w, err := scanWarehouse(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *repository) Get(ctx context.Context, id int64) (Warehouse, error) {
	w, err := scanWarehouse(r.pool.QueryRow(ctx, `SELECT `+warehouseColumns+` FROM warehouses WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, ErrWarehouseNotFound
	}
	return w, err
}

func (r *repository) UpdateCoverage(ctx context.Context, id int64, input CoverageInput) (Warehouse, error) {
	w, err := scanWarehouse(r.pool.QueryRow(ctx, `UPDATE warehouses SET
responsible_provinces=$2, home_province=COALESCE($3, home_province), active=COALESCE($4, active), updated_at=NOW()
WHERE id=$1 RETURNING `+warehouseColumns, id, input.ResponsibleProvinces, input.HomeProvince, input.Active))
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, ErrWarehouseNotFound
	}
	return w, err
}

// MemoryRepository is an in-process Repository for tests and local runs.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[int64]Warehouse
	// Lists counts List calls.
	Lists int
}

// NewMemoryRepository seeds the repository.
func NewMemoryRepository(seed ...Warehouse) *MemoryRepository {
	m := &MemoryRepository{items: make(map[int64]Warehouse, len(seed))}
	for _, w := range seed {
		m.items[w.ID] = w
	}
	return m
}

func (m *MemoryRepository) List(_ context.Context, filters ListFilters) ([]Warehouse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Lists++
	out := []Warehouse{}
	for _, w := range m.items {
		if filters.ActiveOnly && !w.Active {
			continue
		}
		if filters.Search != "" && !containsFold(w.Name, filters.Search) && !containsFold(w.Code, filters.Search) {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) Get(_ context.Context, id int64) (Warehouse, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.items[id]
	if !ok {
		return Warehouse{}, ErrWarehouseNotFound
	}
	return w, nil
}

func (m *MemoryRepository) UpdateCoverage(_ context.Context, id int64, input CoverageInput) (Warehouse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.items[id]
	if !ok {
		return Warehouse{}, ErrWarehouseNotFound
	}
	w.ResponsibleProvinces = append([]string(nil), input.ResponsibleProvinces...)
	if input.HomeProvince != nil {
		w.HomeProvince = *input.HomeProvince
	}
	if input.Active != nil {
		w.Active = *input.Active
	}
	w.UpdatedAt = time.Now().UTC()
	m.items[id] = w
	return w, nil
}
