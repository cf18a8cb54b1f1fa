package locations

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/platform/db"
)

const locationColumns = `id, warehouse_id, parent_id, code, name, type, is_default, is_active, created_at, updated_at`

// Repository persists warehouses and locations in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	txOpts []db.TxOption
	*PGStore
}

// NewRepository constructs Repository. Reads outside WithTx go straight to the pool.
func NewRepository(pool *pgxpool.Pool, opts ...db.TxOption) *Repository {
	return &Repository{pool: pool, txOpts: opts, PGStore: NewStore(pool)}
}

// WithTx executes the callback inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, Store) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewStore(tx))
	}, r.txOpts...)
}

// ListWarehouses returns all warehouses ordered by code.
func (r *Repository) ListWarehouses(ctx context.Context) ([]Warehouse, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, code, name, address, is_active, created_at FROM warehouses ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Warehouse
	for rows.Next() {
		var wh Warehouse
		if err := rows.Scan(&wh.ID, &wh.Code, &wh.Name, &wh.Address, &wh.IsActive, &wh.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, wh)
	}
	return out, rows.Err()
}

// PGStore implements Store.
type PGStore struct {
	q db.Querier
}

// NewStore binds a PGStore to q.
func NewStore(q db.Querier) *PGStore {
	return &PGStore{q: q}
}

func (s *PGStore) GetWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	return s.warehouse(ctx, id, false)
}

func (s *PGStore) LockWarehouse(ctx context.Context, id int64) (Warehouse, error) {
	return s.warehouse(ctx, id, true)
}

func (s *PGStore) warehouse(ctx context.Context, id int64, lock bool) (Warehouse, error) {
	query := `SELECT id, code, name, address, is_active, created_at FROM warehouses WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var wh Warehouse
	err := s.q.QueryRow(ctx, query, id).Scan(&wh.ID, &wh.Code, &wh.Name, &wh.Address, &wh.IsActive, &wh.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Warehouse{}, ErrWarehouseNotFound
	}
	return wh, err
}

func (s *PGStore) GetLocation(ctx context.Context, id int64) (Location, error) {
	return s.location(ctx, id, false)
}

func (s *PGStore) LockLocation(ctx context.Context, id int64) (Location, error) {
	return s.location(ctx, id, true)
}

func (s *PGStore) location(ctx context.Context, id int64, lock bool) (Location, error) {
	query := `SELECT ` + locationColumns + ` FROM warehouse_locations WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	loc, err := scanLocation(s.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Location{}, ErrLocationNotFound
	}
	return loc, err
}

func (s *PGStore) ListLocations(ctx context.Context, filter ListFilter) ([]Location, error) {
	var (
		where []string
		args  []any
	)
	if filter.WarehouseID > 0 {
		args = append(args, filter.WarehouseID)
		where = append(where, fmt.Sprintf("warehouse_id = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		where = append(where, fmt.Sprintf("type = $%d", len(args)))
	}
	if !filter.IncludeInactive {
		where = append(where, "is_active")
	}
	if filter.DefaultOnly {
		where = append(where, "is_default")
	}
	query := `SELECT ` + locationColumns + ` FROM warehouse_locations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY warehouse_id, code"

	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Location
	for rows.Next() {
		loc, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

func (s *PGStore) InsertLocation(ctx context.Context, loc Location) (Location, error) {
	err := s.q.QueryRow(ctx, `
		INSERT INTO warehouse_locations (warehouse_id, parent_id, code, name, type, is_default, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at, updated_at
	`, loc.WarehouseID, loc.ParentID, loc.Code, loc.Name, string(loc.Type), loc.IsDefault, loc.IsActive).
		Scan(&loc.ID, &loc.CreatedAt, &loc.UpdatedAt)
	return loc, err
}

func (s *PGStore) UpdateLocation(ctx context.Context, loc Location) error {
	tag, err := s.q.Exec(ctx, `
		UPDATE warehouse_locations
		SET parent_id = $2, code = $3, name = $4, type = $5, is_default = $6, is_active = $7, updated_at = NOW()
		WHERE id = $1
	`, loc.ID, loc.ParentID, loc.Code, loc.Name, string(loc.Type), loc.IsDefault, loc.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrLocationNotFound
	}
	return nil
}

func (s *PGStore) LocationStock(ctx context.Context, id int64) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := s.q.QueryRow(ctx, `SELECT COALESCE(SUM(qty), 0) FROM stock_balances WHERE location_id = $1 AND qty > 0`, id).Scan(&qty)
	return qty, err
}

func scanLocation(row pgx.Row) (Location, error) {
	var (
		loc Location
		typ string
	)
	err := row.Scan(&loc.ID, &loc.WarehouseID, &loc.ParentID, &loc.Code, &loc.Name, &typ, &loc.IsDefault, &loc.IsActive, &loc.CreatedAt, &loc.UpdatedAt)
	loc.Type = Type(typ)
	return loc, err
}
