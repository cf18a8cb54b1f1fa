package picking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdialidrus/scm-mining/internal/catalog"
	"github.com/abdialidrus/scm-mining/internal/history"
	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/locations"
	"github.com/abdialidrus/scm-mining/internal/platform/db"
	"github.com/abdialidrus/scm-mining/internal/sequence"
	"github.com/abdialidrus/scm-mining/internal/serials"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

const pickingColumns = `id, pk_number, warehouse_id, department_id, purpose, status, remarks,
	created_by, created_at, updated_at, posted_by, posted_at, cancelled_by, cancelled_at, cancel_reason`

// Repository provides PostgreSQL persistence for pickings.
type Repository struct {
	pool   *pgxpool.Pool
	txOpts []db.TxOption
}

// NewRepository constructs a picking repository.
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

// GetPicking loads a picking with its lines.
func (r *Repository) GetPicking(ctx context.Context, id int64) (Picking, error) {
	p, err := scanPicking(r.pool.QueryRow(ctx, `SELECT `+pickingColumns+` FROM pickings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Picking{}, ErrNotFound
	}
	if err != nil {
		return Picking{}, err
	}
	p.Lines, err = loadLines(ctx, r.pool, id)
	return p, err
}

// ListPickings returns picking headers matching filter, newest first.
func (r *Repository) ListPickings(ctx context.Context, filter ListFilter) ([]Picking, int, error) {
	var (
		where []string
		args  []any
	)
	if filter.WarehouseID > 0 {
		args = append(args, filter.WarehouseID)
		where = append(where, fmt.Sprintf("warehouse_id = $%d", len(args)))
	}
	if filter.DepartmentID > 0 {
		args = append(args, filter.DepartmentID)
		where = append(where, fmt.Sprintf("department_id = $%d", len(args)))
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
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pickings`+clause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, perPage := shared.NormalizePage(filter.Page, filter.PerPage)
	args = append(args, perPage, (page-1)*perPage)
	rows, err := r.pool.Query(ctx, `SELECT `+pickingColumns+` FROM pickings`+clause+
		fmt.Sprintf(" ORDER BY id DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []Picking
	for rows.Next() {
		p, err := scanPicking(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}

// History returns the status transitions of a picking.
func (r *Repository) History(ctx context.Context, id int64) ([]shared.StatusHistory, error) {
	return history.List(ctx, r.pool, shared.RefPicking, id)
}

func (t *txRepository) Locations() locations.Store { return locations.NewStore(t.tx) }
func (t *txRepository) Items() catalog.Reader      { return catalog.NewStore(t.tx) }
func (t *txRepository) Ledger() ledger.Store       { return ledger.NewStore(t.tx) }
func (t *txRepository) Serials() serials.Store     { return serials.NewStore(t.tx) }
func (t *txRepository) Sequences() sequence.Store  { return sequence.NewStore(t.tx) }

func (t *txRepository) LockPicking(ctx context.Context, id int64) (Picking, error) {
	p, err := scanPicking(t.tx.QueryRow(ctx, `SELECT `+pickingColumns+` FROM pickings WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Picking{}, ErrNotFound
	}
	if err != nil {
		return Picking{}, err
	}
	p.Lines, err = loadLines(ctx, t.tx, id)
	return p, err
}

func (t *txRepository) InsertPicking(ctx context.Context, p Picking) (Picking, error) {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO pickings (pk_number, warehouse_id, department_id, purpose, status, remarks, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`, p.Number, p.WarehouseID, p.DepartmentID, p.Purpose, string(p.Status), p.Remarks,
		p.CreatedBy, p.CreatedAt, p.UpdatedAt).Scan(&p.ID)
	return p, err
}

func (t *txRepository) UpdatePicking(ctx context.Context, p Picking) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE pickings
		SET department_id = $2, purpose = $3, status = $4, remarks = $5, updated_at = $6,
			posted_by = $7, posted_at = $8, cancelled_by = $9, cancelled_at = $10, cancel_reason = $11
		WHERE id = $1
	`, p.ID, p.DepartmentID, p.Purpose, string(p.Status), p.Remarks, p.UpdatedAt,
		p.PostedBy, p.PostedAt, p.CancelledBy, p.CancelledAt, p.CancelReason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (t *txRepository) ReplacePickingLines(ctx context.Context, pickingID int64, lines []Line) ([]Line, error) {
	if _, err := t.tx.Exec(ctx, `DELETE FROM picking_items WHERE picking_id = $1`, pickingID); err != nil {
		return nil, err
	}
	out := make([]Line, 0, len(lines))
	for _, l := range lines {
		l.PickingID = pickingID
		if l.SerialNumbers == nil {
			l.SerialNumbers = []string{}
		}
		err := t.tx.QueryRow(ctx, `
			INSERT INTO picking_items (picking_id, line_no, item_id, uom_id, source_location_id, qty, serial_numbers)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id
		`, pickingID, l.LineNo, l.ItemID, l.UOMID, l.SourceLocationID, l.Qty, l.SerialNumbers).Scan(&l.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func (t *txRepository) InsertHistory(ctx context.Context, h shared.StatusHistory) error {
	return history.Insert(ctx, t.tx, h)
}

func loadLines(ctx context.Context, q db.Querier, pickingID int64) ([]Line, error) {
	rows, err := q.Query(ctx, `
		SELECT id, picking_id, line_no, item_id, uom_id, source_location_id, qty, serial_numbers
		FROM picking_items
		WHERE picking_id = $1
		ORDER BY line_no
	`, pickingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Line
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.PickingID, &l.LineNo, &l.ItemID, &l.UOMID, &l.SourceLocationID, &l.Qty, &l.SerialNumbers); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanPicking(row pgx.Row) (Picking, error) {
	var (
		p      Picking
		status string
	)
	err := row.Scan(&p.ID, &p.Number, &p.WarehouseID, &p.DepartmentID, &p.Purpose, &status, &p.Remarks,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt, &p.PostedBy, &p.PostedAt, &p.CancelledBy, &p.CancelledAt, &p.CancelReason)
	p.Status = shared.DocStatus(status)
	return p, err
}
