package cod

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/orders"
	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
)

// Repository persists boxes in cod_boxes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx runs fn inside a read committed transaction; boxes serialise on the order row lock.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("cod repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, db.StockTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

const boxColumns = `id, order_id, box_number, cod_amount, item_ids, adjustment, created_at`

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func queryBoxes(ctx context.Context, q querier, orderID string) ([]Box, error) {
	rows, err := q.Query(ctx, `SELECT `+boxColumns+` FROM cod_boxes WHERE order_id=$1 ORDER BY box_number`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	boxes := []Box{}
	for rows.Next() {
		var b Box
		if err := rows.Scan(&b.ID, &b.OrderID, &b.BoxNumber, &b.CodAmount, &b.ItemIDs, &b.Adjustment, &b.CreatedAt); err != nil {
			return nil, err
		}
		boxes = append(boxes, b)
	}
	return boxes, rows.Err()
}

func (r *txRepository) LockBoxes(ctx context.Context, orderID string) ([]Box, error) {
	var id string
	err := r.tx.QueryRow(ctx, `SELECT id FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, orders.ErrOrderNotFound
	}
	if err != nil {
		return nil, err
	}
	return queryBoxes(ctx, r.tx, id)
}

func (r *txRepository) DeleteBoxes(ctx context.Context, orderID string) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM cod_boxes WHERE order_id=$1`, orderID)
	return err
}

func (r *txRepository) InsertBox(ctx context.Context, box Box) (Box, error) {
	itemIDs := box.ItemIDs
	if itemIDs == nil {
		itemIDs = []int64{}
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO cod_boxes (order_id, box_number, cod_amount, item_ids, adjustment, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING `+boxColumns, box.OrderID, box.BoxNumber, box.CodAmount, itemIDs, box.Adjustment).
		Scan(&box.ID, &box.OrderID, &box.BoxNumber, &box.CodAmount, &box.ItemIDs, &box.Adjustment, &box.CreatedAt)
	return box, err
}

// ListBoxes returns the boxes of an order by box number.
func (r *Repository) ListBoxes(ctx context.Context, orderID string) ([]Box, error) {
	return queryBoxes(ctx, r.pool, orderID)
}
