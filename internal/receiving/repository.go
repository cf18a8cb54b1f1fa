package receiving

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/catalog"
	"github.com/abdialidrus/scm-mining/internal/history"
	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/locations"
	"github.com/abdialidrus/scm-mining/internal/platform/db"
	"github.com/abdialidrus/scm-mining/internal/procurement"
	"github.com/abdialidrus/scm-mining/internal/sequence"
	"github.com/abdialidrus/scm-mining/internal/serials"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

const receiptColumns = `id, gr_number, purchase_order_id, warehouse_id, status, remarks, po_snapshot, warehouse_snapshot,
	created_by, created_at, updated_at, posted_by, posted_at, cancelled_by, cancelled_at, cancel_reason`

// Repository provides PostgreSQL persistence for goods receipts.
type Repository struct {
	pool   *pgxpool.Pool
	txOpts []db.TxOption
}

// NewRepository constructs a receiving repository.
func NewRepository(pool *pgxpool.Pool, opts ...db.TxOption) *Repository {
	return &Repository{pool: pool, txOpts: opts}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	}, r.txOpts...)
}

// GetReceipt loads a receipt with its lines.
func (r *Repository) GetReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	gr, err := scanReceipt(r.pool.QueryRow(ctx, `SELECT `+receiptColumns+` FROM goods_receipts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return GoodsReceipt{}, ErrNotFound
	}
	if err != nil {
		return GoodsReceipt{}, err
	}
	gr.Lines, err = loadLines(ctx, r.pool, id)
	return gr, err
}

// ListReceipts returns receipt headers matching filter, newest first.
func (r *Repository) ListReceipts(ctx context.Context, filter ListFilter) ([]GoodsReceipt, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.PurchaseOrderID > 0 {
		args = append(args, filter.PurchaseOrderID)
		where = append(where, fmt.Sprintf("purchase_order_id = $%d", len(args)))
	}
	if filter.WarehouseID > 0 {
		args = append(args, filter.WarehouseID)
		where = append(where, fmt.Sprintf("warehouse_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM goods_receipts`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	args = append(args, perPage, (page-1)*perPage)
	rows, err := r.pool.Query(ctx, `SELECT `+receiptColumns+` FROM goods_receipts`+clause+
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []GoodsReceipt
	for rows.Next() {
		gr, err := scanReceipt(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, gr)
	}
	return out, total, rows.Err()
}

// History returns the status transitions of a receipt.
func (r *Repository) History(ctx context.Context, id int64) ([]shared.StatusHistory, error) {
	return history.List(ctx, r.pool, shared.RefGoodsReceipt, id)
}

// PurchaseOrderProgress sums POSTED receipts per order line.
func (r *Repository) PurchaseOrderProgress(ctx context.Context, purchaseOrderID int64) ([]POLineProgress, error) {
	po, err := procurement.NewStore(r.pool).Get(ctx, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	received, err := receivedToDate(ctx, r.pool, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	return Progress(po, received), nil
}

func (t *txRepository) PurchaseOrders() procurement.Locker { return procurement.NewStore(t.tx) }
func (t *txRepository) Locations() locations.Store         { return locations.NewStore(t.tx) }
func (t *txRepository) Items() catalog.Reader              { return catalog.NewStore(t.tx) }
func (t *txRepository) Ledger() ledger.Store               { return ledger.NewStore(t.tx) }
func (t *txRepository) Serials() serials.Store             { return serials.NewStore(t.tx) }
func (t *txRepository) Sequences() sequence.Store          { return sequence.NewStore(t.tx) }

func (t *txRepository) ReceiptPurchaseOrderID(ctx context.Context, id int64) (int64, error) {
	var poID int64
	err := t.tx.QueryRow(ctx, `SELECT purchase_order_id FROM goods_receipts WHERE id = $1`, id).Scan(&poID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return poID, err
}

func (t *txRepository) LockReceipt(ctx context.Context, id int64) (GoodsReceipt, error) {
	gr, err := scanReceipt(t.tx.QueryRow(ctx, `SELECT `+receiptColumns+` FROM goods_receipts WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return GoodsReceipt{}, ErrNotFound
	}
	if err != nil {
		return GoodsReceipt{}, err
	}
	gr.Lines, err = loadLines(ctx, t.tx, id)
	return gr, err
}

func (t *txRepository) InsertReceipt(ctx context.Context, gr GoodsReceipt) (GoodsReceipt, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO goods_receipts (gr_number, purchase_order_id, warehouse_id, status, remarks, po_snapshot, warehouse_snapshot, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, gr.Number, gr.PurchaseOrderID, gr.WarehouseID, string(gr.Status), gr.Remarks, []byte(gr.POSnapshot), []byte(gr.WarehouseSnapshot),
		gr.CreatedBy, gr.CreatedAt, gr.UpdatedAt).Scan(&gr.ID)
	return gr, err
}

func (t *txRepository) UpdateReceipt(ctx context.Context, gr GoodsReceipt) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE goods_receipts
		SET warehouse_id = $2, status = $3, remarks = $4, po_snapshot = $5, warehouse_snapshot = $6, updated_at = $7,
			posted_by = $8, posted_at = $9, cancelled_by = $10, cancelled_at = $11, cancel_reason = $12
		WHERE id = $1
	`, gr.ID, gr.WarehouseID, string(gr.Status), gr.Remarks, []byte(gr.POSnapshot), []byte(gr.WarehouseSnapshot), gr.UpdatedAt,
		gr.PostedBy, gr.PostedAt, gr.CancelledBy, gr.CancelledAt, gr.CancelReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepository) ReplaceReceiptLines(ctx context.Context, receiptID int64, lines []Line) ([]Line, error) {
	if _, err := t.tx.Exec(ctx, `DELETE FROM goods_receipt_items WHERE goods_receipt_id = $1`, receiptID); err != nil {
		return nil, err
	}
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		l.ReceiptID = receiptID
		if l.SerialNumbers == nil {
			l.SerialNumbers = []string{}
		}
		err := t.tx.QueryRow(ctx, `
			INSERT INTO goods_receipt_items (goods_receipt_id, line_no, purchase_order_line_id, item_id, uom_id, qty, serial_numbers)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, receiptID, l.LineNo, l.PurchaseOrderLineID, l.ItemID, l.UOMID, l.Qty, l.SerialNumbers).Scan(&l.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (t *txRepository) ReceivedToDate(ctx context.Context, purchaseOrderID int64) (map[int64]decimal.Decimal, error) {
	return receivedToDate(ctx, t.tx, purchaseOrderID)
}

func (t *txRepository) InsertHistory(ctx context.Context, h shared.StatusHistory) error {
	return history.Insert(ctx, t.tx, h)
}

func receivedToDate(ctx context.Context, q db.Querier, purchaseOrderID int64) (map[int64]decimal.Decimal, error) {
	rows, err := q.Query(ctx, `
		SELECT gri.purchase_order_line_id, COALESCE(SUM(gri.qty), 0)
		FROM goods_receipt_items gri
		JOIN goods_receipts gr ON gr.id = gri.goods_receipt_id
		WHERE gr.purchase_order_id = $1 AND gr.status = 'POSTED'
		GROUP BY gri.purchase_order_line_id
	`, purchaseOrderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[int64]decimal.Decimal)
	for rows.Next() {
		var (
			lineID int64
			qty    decimal.Decimal
		)
		if err := rows.Scan(&lineID, &qty); err != nil {
			return nil, err
		}
		out[lineID] = qty
	}
	return out, rows.Err()
}

func loadLines(ctx context.Context, q db.Querier, receiptID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `
		SELECT id, goods_receipt_id, line_no, purchase_order_line_id, item_id, uom_id, qty, serial_numbers
		FROM goods_receipt_items
		WHERE goods_receipt_id = $1
		ORDER BY line_no
	`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.ReceiptID, &l.LineNo, &l.PurchaseOrderLineID, &l.ItemID, &l.UOMID, &l.Qty, &l.SerialNumbers); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanReceipt(row pgx.Row) (GoodsReceipt, error) {
	var (
		gr     GoodsReceipt
		status string
		poSnap []byte
		whSnap []byte
	)
	err := row.Scan(&gr.ID, &gr.Number, &gr.PurchaseOrderID, &gr.WarehouseID, &status, &gr.Remarks, &poSnap, &whSnap,
		&gr.CreatedBy, &gr.CreatedAt, &gr.UpdatedAt, &gr.PostedBy, &gr.PostedAt, &gr.CancelledBy, &gr.CancelledAt, &gr.CancelReason)
	gr.Status = shared.DocStatus(status)
	gr.POSnapshot = poSnap
	gr.WarehouseSnapshot = whSnap
	return gr, err
}
