package allocation

import (
	"context"
	"errors"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/inventory"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/orders"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
)

// Repository persists allocations in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	inventory.TxRepository
	tx pgx.Tx
}

// WithTx runs fn in one stock transaction shared with the ledger.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("allocation repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, db.StockTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{TxRepository: inventory.NewTxRepository(tx), tx: tx})
	})
}

const allocationColumns = `id, order_id, order_item_id, product_id, promotion_id, is_freebie, required_quantity, allocated_quantity,
COALESCE(warehouse_id, 0), COALESCE(lot_id, 0), lot_number, status, consume_document, reverse_document, COALESCE(created_by, 0), created_at, updated_at`

func scanAllocation(row pgx.Row) (Allocation, error) {
	var a Allocation
	err := row.Scan(&a.ID, &a.OrderID, &a.OrderItemID, &a.ProductID, &a.PromotionID, &a.IsFreebie, &a.RequiredQuantity,
		&a.AllocatedQuantity, &a.WarehouseID, &a.LotID, &a.LotNumber, &a.Status, &a.ConsumeDocument, &a.ReverseDocument,
		&a.CreatedBy, &a.CreatedAt, &a.UpdatedAt)
	return a, err
}

func collectAllocations(rows pgx.Rows) ([]Allocation, error) {
	defer rows.Close()
	out := []Allocation{}
	for rows.Next() {
		a, err := scanAllocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *txRepo) LockOrderItem(ctx context.Context, itemID int64) (orders.Item, error) {
	item, err := orders.ScanItem(r.tx.QueryRow(ctx, `SELECT `+orders.ItemColumns+` FROM order_items WHERE id=$1 FOR UPDATE`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Item{}, orders.ErrItemNotFound
	}
	return item, err
}

func (r *txRepo) UpdateOrderItemQuantity(ctx context.Context, itemID int64, qty decimal.Decimal) error {
	tag, err := r.tx.Exec(ctx, `UPDATE order_items SET quantity=$2 WHERE id=$1`, itemID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return orders.ErrItemNotFound
	}
	return nil
}

func (r *txRepo) ListItemAllocations(ctx context.Context, itemID int64) ([]Allocation, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE order_item_id=$1 ORDER BY id FOR UPDATE`, itemID)
	if err != nil {
		return nil, err
	}
	return collectAllocations(rows)
}

func (r *txRepo) LockAllocation(ctx context.Context, id int64) (Allocation, error) {
	a, err := scanAllocation(r.tx.QueryRow(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Allocation{}, ErrAllocationNotFound
	}
	return a, err
}

func (r *txRepo) InsertAllocation(ctx context.Context, a Allocation) (Allocation, error) {
	return scanAllocation(r.tx.QueryRow(ctx, `INSERT INTO allocations
(order_id, order_item_id, product_id, promotion_id, is_freebie, required_quantity, allocated_quantity, warehouse_id, lot_id,
 lot_number, status, consume_document, reverse_document, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW(),NOW())
RETURNING `+allocationColumns,
		a.OrderID, a.OrderItemID, a.ProductID, a.PromotionID, a.IsFreebie, a.RequiredQuantity, a.AllocatedQuantity,
		nullID(a.WarehouseID), nullID(a.LotID), a.LotNumber, string(a.Status), a.ConsumeDocument, a.ReverseDocument, nullID(a.CreatedBy)))
}

func (r *txRepo) UpdateAllocation(ctx context.Context, a Allocation) (Allocation, error) {
	updated, err := scanAllocation(r.tx.QueryRow(ctx, `UPDATE allocations SET
required_quantity=$2, allocated_quantity=$3, warehouse_id=$4, lot_id=$5, lot_number=$6, status=$7,
consume_document=$8, reverse_document=$9, updated_at=NOW()
WHERE id=$1
RETURNING `+allocationColumns,
		a.ID, a.RequiredQuantity, a.AllocatedQuantity, nullID(a.WarehouseID), nullID(a.LotID), a.LotNumber, string(a.Status),
		a.ConsumeDocument, a.ReverseDocument))
	if errors.Is(err, pgx.ErrNoRows) {
		return Allocation{}, ErrAllocationNotFound
	}
	return updated, err
}

// ListAllocations lists rows newest first.
func (r *Repository) ListAllocations(ctx context.Context, filter Filter) ([]Allocation, error) {
	query := `SELECT ` + allocationColumns + ` FROM allocations WHERE 1=1`
	args := []any{}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += ` AND status=$` + strconv.Itoa(len(args))
	}
	if filter.OrderID != "" {
		args = append(args, filter.OrderID)
		query += ` AND order_id=$` + strconv.Itoa(len(args))
	}
	if filter.OrderItemID != 0 {
		args = append(args, filter.OrderItemID)
		query += ` AND order_item_id=$` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY order_id, order_item_id, id`
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectAllocations(rows)
}

func (r *Repository) GetAllocation(ctx context.Context, id int64) (Allocation, error) {
	a, err := scanAllocation(r.pool.QueryRow(ctx, `SELECT `+allocationColumns+` FROM allocations WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Allocation{}, ErrAllocationNotFound
	}
	return a, err
}

func (r *Repository) GetOrderItem(ctx context.Context, itemID int64) (orders.Item, error) {
	item, err := orders.ScanItem(r.pool.QueryRow(ctx, `SELECT `+orders.ItemColumns+` FROM order_items WHERE id=$1`, itemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Item{}, orders.ErrItemNotFound
	}
	return item, err
}

func (r *Repository) ItemAllocations(ctx context.Context, itemID int64) ([]Allocation, error) {
	return r.ListAllocations(ctx, Filter{OrderItemID: itemID})
}

func nullID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
