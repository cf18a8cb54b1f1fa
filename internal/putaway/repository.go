package putaway

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
	"github.com/abdialidrus/scm-mining/internal/sequence"
	"github.com/abdialidrus/scm-mining/internal/serials"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

const putAwayColumns = `id, pa_number, goods_receipt_id, warehouse_id, source_location_id, status, remarks,
	created_by, created_at, updated_at, posted_by, posted_at, cancelled_by, cancelled_at, cancel_reason`

// Repository provides PostgreSQL persistence for put-aways.
type Repository struct {
	pool   *pgxpool.Pool
	txOpts []db.TxOption
}

// NewRepository constructs a put-away repository.
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

// GetPutAway loads a put-away with its lines.
func (r *Repository) GetPutAway(ctx context.Context, id int64) (PutAway, error) {
	pa, err := scanPutAway(r.pool.QueryRow(ctx, `SELECT `+putAwayColumns+` FROM put_aways WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PutAway{}, ErrNotFound
	}
	if err != nil {
		return PutAway{}, err
	}
	pa.Lines, err = loadLines(ctx, r.pool, id)
	return pa, err
}

// ListPutAways returns put-away headers matching filter, newest first.
func (r *Repository) ListPutAways(ctx context.Context, filter ListFilter) ([]PutAway, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.GoodsReceiptID > 0 {
		args = append(args, filter.GoodsReceiptID)
		where = append(where, fmt.Sprintf("goods_receipt_id = $%d", len(args)))
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
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM put_aways`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	args = append(args, perPage, (page-1)*perPage)
	rows, err := r.pool.Query(ctx, `SELECT `+putAwayColumns+` FROM put_aways`+clause+
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []PutAway
	for rows.Next() {
		pa, err := scanPutAway(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, pa)
	}
	return out, total, rows.Err()
}

// History returns the status transitions of a put-away.
func (r *Repository) History(ctx context.Context, id int64) ([]shared.StatusHistory, error) {
	return history.List(ctx, r.pool, shared.RefPutAway, id)
}

// GetGoodsReceipt loads a receipt without locking.
func (r *Repository) GetGoodsReceipt(ctx context.Context, id int64) (Receipt, error) {
	return loadReceipt(ctx, r.pool, id, false)
}

// PostedPutAway sums POSTED put-away quantities per receipt line.
func (r *Repository) PostedPutAway(ctx context.Context, goodsReceiptID int64) (map[int64]decimal.Decimal, error) {
	return putAwayToDate(ctx, r.pool, goodsReceiptID)
}

func (t *txRepository) Locations() locations.Store { return locations.NewStore(t.tx) }
func (t *txRepository) Items() catalog.Reader      { return catalog.NewStore(t.tx) }
func (t *txRepository) Ledger() ledger.Store       { return ledger.NewStore(t.tx) }
func (t *txRepository) Serials() serials.Store     { return serials.NewStore(t.tx) }
func (t *txRepository) Sequences() sequence.Store  { return sequence.NewStore(t.tx) }

func (t *txRepository) PutAwayReceiptID(ctx context.Context, id int64) (int64, error) {
	var grID int64
	err := t.tx.QueryRow(ctx, `SELECT goods_receipt_id FROM put_aways WHERE id = $1`, id).Scan(&grID)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return grID, err
}

func (t *txRepository) LockGoodsReceipt(ctx context.Context, id int64) (Receipt, error) {
	return loadReceipt(ctx, t.tx, id, true)
}

func (t *txRepository) LockPutAway(ctx context.Context, id int64) (PutAway, error) {
	pa, err := scanPutAway(t.tx.QueryRow(ctx, `SELECT `+putAwayColumns+` FROM put_aways WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return PutAway{}, ErrNotFound
	}
	if err != nil {
		return PutAway{}, err
	}
	pa.Lines, err = loadLines(ctx, t.tx, id)
	return pa, err
}

func (t *txRepository) InsertPutAway(ctx context.Context, pa PutAway) (PutAway, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO put_aways (pa_number, goods_receipt_id, warehouse_id, source_location_id, status, remarks, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, pa.Number, pa.GoodsReceiptID, pa.WarehouseID, pa.SourceLocationID, string(pa.Status), pa.Remarks,
		pa.CreatedBy, pa.CreatedAt, pa.UpdatedAt).Scan(&pa.ID)
	return pa, err
}

func (t *txRepository) UpdatePutAway(ctx context.Context, pa PutAway) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE put_aways
		SET source_location_id = $2, status = $3, remarks = $4, updated_at = $5,
			posted_by = $6, posted_at = $7, cancelled_by = $8, cancelled_at = $9, cancel_reason = $10
		WHERE id = $1
	`, pa.ID, pa.SourceLocationID, string(pa.Status), pa.Remarks, pa.UpdatedAt,
		pa.PostedBy, pa.PostedAt, pa.CancelledBy, pa.CancelledAt, pa.CancelReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepository) ReplacePutAwayLines(ctx context.Context, putAwayID int64, lines []Line) ([]Line, error) {
	if _, err := t.tx.Exec(ctx, `DELETE FROM put_away_items WHERE put_away_id = $1`, putAwayID); err != nil {
		return nil, err
	}
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		l.PutAwayID = putAwayID
		if l.SerialNumbers == nil {
			l.SerialNumbers = []string{}
		}
		err := t.tx.QueryRow(ctx, `
			INSERT INTO put_away_items (put_away_id, line_no, goods_receipt_item_id, item_id, uom_id, destination_location_id, qty, serial_numbers)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, putAwayID, l.LineNo, l.GoodsReceiptLineID, l.ItemID, l.UOMID, l.DestinationLocationID, l.Qty, l.SerialNumbers).Scan(&l.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (t *txRepository) PutAwayToDate(ctx context.Context, goodsReceiptID int64) (map[int64]decimal.Decimal, error) {
	return putAwayToDate(ctx, t.tx, goodsReceiptID)
}

func (t *txRepository) InsertHistory(ctx context.Context, h shared.StatusHistory) error {
	return history.Insert(ctx, t.tx, h)
}

func loadReceipt(ctx context.Context, q db.Querier, id int64, lock bool) (Receipt, error) {
	query := `SELECT id, gr_number, warehouse_id, status FROM goods_receipts WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var (
		gr     Receipt
		status string
	)
	err := q.QueryRow(ctx, query, id).Scan(&gr.ID, &gr.Number, &gr.WarehouseID, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, ErrReceiptNotFound
	}
	if err != nil {
		return Receipt{}, err
	}
	gr.Status = shared.DocStatus(status)

	rows, err := q.Query(ctx, `
		SELECT id, item_id, uom_id, qty, serial_numbers
		FROM goods_receipt_items
		WHERE goods_receipt_id = $1
		ORDER BY line_no
	`, id)
	if err != nil {
		return Receipt{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l ReceiptLine
		if err := rows.Scan(&l.ID, &l.ItemID, &l.UOMID, &l.Qty, &l.SerialNumbers); err != nil {
			return Receipt{}, err
		}
		gr.Lines = append(gr.Lines, l)
	}
	return gr, rows.Err()
}

func putAwayToDate(ctx context.Context, q db.Querier, goodsReceiptID int64) (map[int64]decimal.Decimal, error) {
	rows, err := q.Query(ctx, `
		SELECT pai.goods_receipt_item_id, COALESCE(SUM(pai.qty), 0)
		FROM put_away_items pai
		JOIN put_aways pa ON pa.id = pai.put_away_id
		WHERE pa.goods_receipt_id = $1 AND pa.status = 'POSTED'
		GROUP BY pai.goods_receipt_item_id
	`, goodsReceiptID)
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

func loadLines(ctx context.Context, q db.Querier, putAwayID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `
		SELECT id, put_away_id, line_no, goods_receipt_item_id, item_id, uom_id, destination_location_id, qty, serial_numbers
		FROM put_away_items
		WHERE put_away_id = $1
		ORDER BY line_no
	`, putAwayID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.PutAwayID, &l.LineNo, &l.GoodsReceiptLineID, &l.ItemID, &l.UOMID, &l.DestinationLocationID, &l.Qty, &l.SerialNumbers); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanPutAway(row pgx.Row) (PutAway, error) {
	var (
		pa     PutAway
		status string
	)
	err := row.Scan(&pa.ID, &pa.Number, &pa.GoodsReceiptID, &pa.WarehouseID, &pa.SourceLocationID, &status, &pa.Remarks,
		&pa.CreatedBy, &pa.CreatedAt, &pa.UpdatedAt, &pa.PostedBy, &pa.PostedAt, &pa.CancelledBy, &pa.CancelledAt, &pa.CancelReason)
	pa.Status = shared.DocStatus(status)
	return pa, err
}
