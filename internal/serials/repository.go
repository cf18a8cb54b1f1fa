package serials

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/platform/db"
)

const uniqueSerialConstraint = "uq_serial_units_serial"

const unitColumns = `id, serial, item_id, uom_id, status, location_id, goods_receipt_item_id, picking_item_id, created_at, updated_at`

// Repository persists serial units in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	txOpts []db.TxOption
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, opts ...db.TxOption) *Repository {
	return &Repository{pool: pool, txOpts: opts}
}

type txRepository struct {
	tx pgx.Tx
}

func (t *txRepository) Serials() Store       { return NewStore(t.tx) }
func (t *txRepository) Ledger() ledger.Store { return ledger.NewStore(t.tx) }

// WithTx executes the callback inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	}, r.txOpts...)
}

// GetUnit loads a unit by serial.
func (r *Repository) GetUnit(ctx context.Context, serial string) (Unit, error) {
	u, err := scanUnit(r.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM serial_units WHERE serial = $1`, Normalize(serial)))
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, ErrUnitNotFound
	}
	return u, err
}

// GetUnitByID loads a unit by id.
func (r *Repository) GetUnitByID(ctx context.Context, id int64) (Unit, error) {
	u, err := scanUnit(r.pool.QueryRow(ctx, `SELECT `+unitColumns+` FROM serial_units WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Unit{}, ErrUnitNotFound
	}
	return u, err
}

// ListUnits returns units matching filter.
func (r *Repository) ListUnits(ctx context.Context, filter ListFilter) ([]Unit, error) {
	var (
		where []string
		args  []any
	)
	if filter.ItemID > 0 {
		args = append(args, filter.ItemID)
		where = append(where, fmt.Sprintf("item_id = $%d", len(args)))
	}
	if filter.LocationID > 0 {
		args = append(args, filter.LocationID)
		where = append(where, fmt.Sprintf("location_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	query := `SELECT ` + unitColumns + ` FROM serial_units`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY serial LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectUnits(rows)
}

// PGStore implements Store on a transaction.
type PGStore struct {
	q db.Querier
}

// NewStore binds a PGStore to q.
func NewStore(q db.Querier) *PGStore {
	return &PGStore{q: q}
}

func (s *PGStore) ExistingSerials(ctx context.Context, serials []string) ([]string, error) {
	rows, err := s.q.Query(ctx, `SELECT serial FROM serial_units WHERE serial = ANY($1)`, serials)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var serial string
		if err := rows.Scan(&serial); err != nil {
			return nil, err
		}
		out = append(out, serial)
	}
	return out, rows.Err()
}

func (s *PGStore) InsertUnits(ctx context.Context, units []Unit) ([]Unit, error) {
	out := make([]Unit, 0, len(units))
	for _, u := range units {
		err := s.q.QueryRow(ctx, `
			INSERT INTO serial_units (serial, item_id, uom_id, status, location_id, goods_receipt_item_id, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			RETURNING id
		`, u.Serial, u.ItemID, u.UOMID, string(u.Status), u.LocationID, u.ReceiptLineID, u.CreatedAt, u.UpdatedAt).Scan(&u.ID)
		if err != nil {
			if db.UniqueViolation(err, uniqueSerialConstraint) {
				return nil, &DuplicateError{Serials: []string{u.Serial}}
			}
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

func (s *PGStore) LockUnits(ctx context.Context, serials []string) ([]Unit, error) {
	rows, err := s.q.Query(ctx, `SELECT `+unitColumns+` FROM serial_units WHERE serial = ANY($1) ORDER BY serial FOR UPDATE`, serials)
	if err != nil {
		return nil, err
	}
	return collectUnits(rows)
}

func (s *PGStore) UpdateUnit(ctx context.Context, u Unit) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE serial_units
		SET status = $2, location_id = $3, picking_item_id = $4, updated_at = $5
		WHERE id = $1
	`, u.ID, string(u.Status), u.LocationID, u.PickingLineID, u.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrUnitNotFound
	}
	return nil
}

func scanUnit(row pgx.Row) (Unit, error) {
	var (
		u      Unit
		status string
	)
	err := row.Scan(&u.ID, &u.Serial, &u.ItemID, &u.UOMID, &status, &u.LocationID, &u.ReceiptLineID, &u.PickingLineID, &u.CreatedAt, &u.UpdatedAt)
	u.Status = Status(status)
	return u, err
}

func collectUnits(rows pgx.Rows) ([]Unit, error) {
	defer rows.Close()
	var out []Unit
	for rows.Next() {
		u, err := scanUnit(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
