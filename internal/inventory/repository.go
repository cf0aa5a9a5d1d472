package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-fulfillment/internal/platform/db"
)

// Repository persists lots and ledger documents in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txRepository struct {
	tx pgx.Tx
}

// NewTxRepository wraps an open transaction so other modules can post ledger movements in it.
func NewTxRepository(tx pgx.Tx) TxRepository {
	return &txRepository{tx: tx}
}

// WithTx executes the callback inside a stock transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTxOptions(ctx, r.pool, db.StockTxOptions, func(tx pgx.Tx) error {
		return fn(ctx, NewTxRepository(tx))
	})
}

const lotColumns = `id, warehouse_id, product_id, lot_number, qty_received, qty_remaining, unit_cost, expiry_date, received_at, status, created_at, updated_at`

func scanLot(row pgx.Row) (Lot, error) {
	var lot Lot
	err := row.Scan(&lot.ID, &lot.WarehouseID, &lot.ProductID, &lot.LotNumber, &lot.QtyReceived, &lot.QtyRemaining,
		&lot.UnitCost, &lot.ExpiryDate, &lot.ReceivedAt, &lot.Status, &lot.CreatedAt, &lot.UpdatedAt)
	return lot, err
}

func queryLots(ctx context.Context, q querier, sql string, args ...any) ([]Lot, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	lots := []Lot{}
	for rows.Next() {
		lot, err := scanLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (r *txRepository) LockCandidateLots(ctx context.Context, productID, warehouseID int64) ([]Lot, error) {
	return queryLots(ctx, r.tx, `SELECT `+lotColumns+` FROM product_lots
WHERE product_id=$1 AND warehouse_id=$2 AND status='active' AND qty_remaining > 0
ORDER BY received_at ASC, id ASC
FOR UPDATE`, productID, warehouseID)
}

func (r *txRepository) LockLotsByNumber(ctx context.Context, lotNumber string) ([]Lot, error) {
	return queryLots(ctx, r.tx, `SELECT `+lotColumns+` FROM product_lots WHERE lot_number=$1 ORDER BY id FOR UPDATE`, lotNumber)
}

func (r *txRepository) LockLot(ctx context.Context, lotID int64) (Lot, error) {
	lot, err := scanLot(r.tx.QueryRow(ctx, `SELECT `+lotColumns+` FROM product_lots WHERE id=$1 FOR UPDATE`, lotID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, &LotError{LotID: lotID, LotNumber: strconv.FormatInt(lotID, 10), Err: ErrLotNotFound}
	}
	return lot, err
}

func (r *txRepository) InsertLot(ctx context.Context, lot Lot) (Lot, error) {
	created, err := scanLot(r.tx.QueryRow(ctx, `INSERT INTO product_lots
(warehouse_id, product_id, lot_number, qty_received, qty_remaining, unit_cost, expiry_date, received_at, status, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,NOW(),NOW())
RETURNING `+lotColumns,
		lot.WarehouseID, lot.ProductID, lot.LotNumber, lot.QtyReceived, lot.QtyRemaining, lot.UnitCost,
		lot.ExpiryDate, lot.ReceivedAt, string(lot.Status)))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Lot{}, fmt.Errorf("%w: lot %s inserted concurrently", ErrLotConflict, lot.LotNumber)
		}
		return Lot{}, err
	}
	return created, nil
}

func (r *txRepository) ApplyLotDelta(ctx context.Context, lotID int64, receivedDelta, remainingDelta decimal.Decimal) (Lot, error) {
	lot, err := scanLot(r.tx.QueryRow(ctx, `UPDATE product_lots
SET qty_received = qty_received + $2,
    qty_remaining = qty_remaining + $3,
    status = CASE
        WHEN status = 'expired' THEN status
        WHEN qty_remaining + $3 > 0 THEN 'active'
        ELSE 'depleted'
    END,
    updated_at = NOW()
WHERE id = $1
  AND qty_remaining + $3 >= 0
  AND qty_remaining + $3 <= qty_received + $2
RETURNING `+lotColumns, lotID, receivedDelta, remainingDelta))
	if errors.Is(err, pgx.ErrNoRows) {
		return Lot{}, ErrLotConflict
	}
	return lot, err
}

func (r *txRepository) NextDocumentSequence(ctx context.Context, prefix string, day time.Time) (int64, error) {
	var seq int64
	err := r.tx.QueryRow(ctx, `INSERT INTO document_sequences (prefix, seq_date, last_value) VALUES ($1, $2, 1)
ON CONFLICT (prefix, seq_date) DO UPDATE SET last_value = document_sequences.last_value + 1
RETURNING last_value`, prefix, day.Format("2006-01-02")).Scan(&seq)
	return seq, err
}

func (r *txRepository) InsertTransaction(ctx context.Context, tx Transaction) (Transaction, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transactions (document_number, tx_type, transaction_date, reference, notes, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id, created_at`,
		tx.DocumentNumber, string(tx.Type), tx.TransactionDate, tx.Reference, tx.Notes, nullInt(tx.CreatedBy)).Scan(&tx.ID, &tx.CreatedAt)
	return tx, err
}

func (r *txRepository) InsertTransactionLines(ctx context.Context, txID int64, lines []TransactionLine) ([]TransactionLine, error) {
	stored := make([]TransactionLine, 0, len(lines))
	for _, line := range lines {
		line.TransactionID = txID
		if err := r.tx.QueryRow(ctx, `INSERT INTO stock_transaction_lines (transaction_id, product_id, warehouse_id, lot_id, lot_number, qty, unit_cost, remarks)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id`, txID, line.ProductID, line.WarehouseID, line.LotID, line.LotNumber, line.Qty, line.UnitCost, line.Remarks).Scan(&line.ID); err != nil {
			return nil, err
		}
		stored = append(stored, line)
	}
	return stored, nil
}

func (r *txRepository) LockTransaction(ctx context.Context, id int64) (Transaction, error) {
	tx, err := scanTransaction(r.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM stock_transactions WHERE id=$1 AND voided_at IS NULL FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return Transaction{}, err
	}
	lines, err := loadLines(ctx, r.tx, []int64{tx.ID})
	if err != nil {
		return Transaction{}, err
	}
	tx.Lines = lines[tx.ID]
	return tx, nil
}

func (r *txRepository) VoidTransaction(ctx context.Context, id, actorID int64, at time.Time) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_transactions SET voided_at=$2, voided_by=$3 WHERE id=$1 AND voided_at IS NULL`, id, at, nullInt(actorID))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *txRepository) LedgerTotals(ctx context.Context, lotIDs []int64) (map[int64]LedgerTotals, error) {
	rows, err := r.tx.Query(ctx, `SELECT l.lot_id,
       COALESCE(SUM(l.qty) FILTER (WHERE t.tx_type = 'receive'), 0),
       COALESCE(SUM(l.qty), 0),
       COUNT(*)
FROM stock_transaction_lines l
JOIN stock_transactions t ON t.id = l.transaction_id
WHERE l.lot_id = ANY($1) AND t.voided_at IS NULL
GROUP BY l.lot_id`, lotIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	totals := make(map[int64]LedgerTotals, len(lotIDs))
	for rows.Next() {
		var t LedgerTotals
		if err := rows.Scan(&t.LotID, &t.Received, &t.DeltaSum, &t.LineCount); err != nil {
			return nil, err
		}
		totals[t.LotID] = t
	}
	return totals, rows.Err()
}

const transactionColumns = `id, document_number, tx_type, transaction_date, reference, notes, COALESCE(created_by, 0), created_at, voided_at, COALESCE(voided_by, 0)`

const listTransactionColumns = `t.id, t.document_number, t.tx_type, t.transaction_date, t.reference, t.notes, COALESCE(t.created_by, 0), t.created_at, t.voided_at, COALESCE(t.voided_by, 0)`

func scanTransaction(row pgx.Row) (Transaction, error) {
	var tx Transaction
	err := row.Scan(&tx.ID, &tx.DocumentNumber, &tx.Type, &tx.TransactionDate, &tx.Reference, &tx.Notes,
		&tx.CreatedBy, &tx.CreatedAt, &tx.VoidedAt, &tx.VoidedBy)
	return tx, err
}

func loadLines(ctx context.Context, q querier, txIDs []int64) (map[int64][]TransactionLine, error) {
	rows, err := q.Query(ctx, `SELECT id, transaction_id, product_id, warehouse_id, lot_id, lot_number, qty, unit_cost, remarks
FROM stock_transaction_lines WHERE transaction_id = ANY($1) ORDER BY transaction_id, id`, txIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64][]TransactionLine, len(txIDs))
	for rows.Next() {
		var line TransactionLine
		if err := rows.Scan(&line.ID, &line.TransactionID, &line.ProductID, &line.WarehouseID, &line.LotID, &line.LotNumber,
			&line.Qty, &line.UnitCost, &line.Remarks); err != nil {
			return nil, err
		}
		out[line.TransactionID] = append(out[line.TransactionID], line)
	}
	return out, rows.Err()
}

// ListTransactions returns one page of non voided documents and the total count.
func (r *Repository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, int, error) {
	where := ` WHERE t.voided_at IS NULL`
	args := []any{}
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if filter.Type != "" {
		where += ` AND t.tx_type = ` + arg(string(filter.Type))
	}
	if filter.Search != "" {
		p := arg("%" + filter.Search + "%")
		where += ` AND (t.document_number ILIKE ` + p + ` OR t.notes ILIKE ` + p +
			` OR EXISTS (SELECT 1 FROM stock_transaction_lines l WHERE l.transaction_id = t.id AND l.lot_number ILIKE ` + p + `))`
	}
	if filter.Month > 0 {
		where += ` AND EXTRACT(MONTH FROM t.transaction_date) = ` + arg(filter.Month)
	}
	if filter.Year > 0 {
		where += ` AND EXTRACT(YEAR FROM t.transaction_date) = ` + arg(filter.Year)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_transactions t`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query := `SELECT ` + listTransactionColumns + ` FROM stock_transactions t` + where +
		` ORDER BY t.transaction_date DESC, t.id DESC LIMIT ` + arg(filter.PerPage) + ` OFFSET ` + arg((filter.Page-1)*filter.PerPage)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	txs := []Transaction{}
	ids := []int64{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, 0, err
		}
		txs = append(txs, tx)
		ids = append(ids, tx.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if len(ids) == 0 {
		return txs, total, nil
	}
	lines, err := loadLines(ctx, r.pool, ids)
	if err != nil {
		return nil, 0, err
	}
	for i := range txs {
		txs[i].Lines = lines[txs[i].ID]
	}
	return txs, total, nil
}

// GetTransaction loads a document, voided or not, with its lines.
func (r *Repository) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	tx, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM stock_transactions WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, ErrTransactionNotFound
	}
	if err != nil {
		return Transaction{}, err
	}
	lines, err := loadLines(ctx, r.pool, []int64{id})
	if err != nil {
		return Transaction{}, err
	}
	tx.Lines = lines[id]
	return tx, nil
}

func (r *Repository) ListLots(ctx context.Context, filter LotFilter) ([]Lot, error) {
	return queryLots(ctx, r.pool, `SELECT `+lotColumns+` FROM product_lots
WHERE product_id=$1 AND ($2::bigint = 0 OR warehouse_id=$2)
ORDER BY warehouse_id, received_at, id`, filter.ProductID, filter.WarehouseID)
}

func (r *Repository) CandidateLots(ctx context.Context, productID, warehouseID int64) ([]Lot, error) {
	return queryLots(ctx, r.pool, `SELECT `+lotColumns+` FROM product_lots
WHERE product_id=$1 AND warehouse_id=$2 AND status='active' AND qty_remaining > 0
ORDER BY received_at ASC, id ASC`, productID, warehouseID)
}

func (r *Repository) ProductTotalStock(ctx context.Context, productID int64) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(qty_remaining), 0) FROM product_lots WHERE product_id=$1`, productID).Scan(&total)
	return total, err
}

func (r *Repository) StockSummary(ctx context.Context, filter LotFilter) ([]StockSummaryRow, error) {
	rows, err := r.pool.Query(ctx, `SELECT warehouse_id, product_id, COUNT(*), SUM(qty_received), SUM(qty_remaining), SUM(qty_remaining * unit_cost)
FROM product_lots
WHERE ($1::bigint = 0 OR product_id=$1) AND ($2::bigint = 0 OR warehouse_id=$2)
GROUP BY warehouse_id, product_id
ORDER BY warehouse_id, product_id`, filter.ProductID, filter.WarehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []StockSummaryRow{}
	for rows.Next() {
		var row StockSummaryRow
		if err := rows.Scan(&row.WarehouseID, &row.ProductID, &row.LotCount, &row.QtyReceived, &row.QtyRemaining, &row.StockValue); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (r *Repository) LedgerChecks(ctx context.Context, filter LotFilter) ([]LedgerCheck, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.id, p.lot_number, p.product_id, p.warehouse_id, p.qty_received, p.qty_remaining,
       COALESCE(s.received, 0), COALESCE(s.delta, 0)
FROM product_lots p
LEFT JOIN (
    SELECT l.lot_id,
           SUM(l.qty) FILTER (WHERE t.tx_type = 'receive') AS received,
           SUM(l.qty) AS delta
    FROM stock_transaction_lines l
    JOIN stock_transactions t ON t.id = l.transaction_id
    WHERE t.voided_at IS NULL
    GROUP BY l.lot_id
) s ON s.lot_id = p.id
WHERE ($1::bigint = 0 OR p.product_id=$1) AND ($2::bigint = 0 OR p.warehouse_id=$2)
ORDER BY p.id`, filter.ProductID, filter.WarehouseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	checks := []LedgerCheck{}
	for rows.Next() {
		var c LedgerCheck
		if err := rows.Scan(&c.LotID, &c.LotNumber, &c.ProductID, &c.WarehouseID, &c.QtyReceived, &c.QtyRemaining,
			&c.LedgerReceived, &c.LedgerDeltaTotal); err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	return checks, rows.Err()
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
