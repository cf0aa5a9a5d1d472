package orders

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository reads orders from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrder loads an order with its lines.
func (r *Repository) GetOrder(ctx context.Context, id string) (Order, error) {
	return LoadOrder(ctx, r.pool, id)
}

// LoadOrder reads an order through q so callers can use it inside their own transaction.
func LoadOrder(ctx context.Context, q Querier, id string) (Order, error) {
	var order Order
	err := q.QueryRow(ctx, `SELECT id, order_number, customer_province, payment_method, shipping_cost, bill_discount
FROM orders WHERE id=$1`, NormalizeOrderID(id)).Scan(
		&order.ID, &order.OrderNumber, &order.CustomerProvince, &order.PaymentMethod, &order.ShippingCost, &order.BillDiscount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, ErrOrderNotFound
	}
	if err != nil {
		return Order{}, err
	}
	rows, err := q.Query(ctx, `SELECT `+ItemColumns+` FROM order_items WHERE order_id=$1 ORDER BY id`, order.ID)
	if err != nil {
		return Order{}, err
	}
	defer rows.Close()
	order.Items = []Item{}
	for rows.Next() {
		item, err := ScanItem(rows)
		if err != nil {
			return Order{}, err
		}
		order.Items = append(order.Items, item)
	}
	return order, rows.Err()
}

// ItemColumns lists order_items columns in ScanItem order.
const ItemColumns = `id, order_id, product_id, quantity, unit_price, discount, is_freebie, box_number, promotion_id, parent_item_id, is_promotion_parent`

// ScanItem reads one order_items row selected with ItemColumns.
func ScanItem(row pgx.Row) (Item, error) {
	var item Item
	err := row.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Quantity, &item.UnitPrice, &item.Discount,
		&item.IsFreebie, &item.BoxNumber, &item.PromotionID, &item.ParentItemID, &item.IsPromotionParent)
	return item, err
}
