package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/platform/db"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool   *pgxpool.Pool
	txOpts []db.TxOption
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, opts ...db.TxOption) *Repository {
	return &Repository{pool: pool, txOpts: opts}
}

// TxRepository exposes the operations reconciliation runs inside one transaction.
type TxRepository interface {
	LockProjection(ctx context.Context) error
	SumMovements(ctx context.Context) (map[BalanceKey]decimal.Decimal, error)
	ProjectedBalances(ctx context.Context) (map[BalanceKey]decimal.Decimal, error)
	SetBalance(ctx context.Context, key BalanceKey, qty decimal.Decimal, at time.Time) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	}, r.txOpts...)
}

// ListMovements returns movements matching filter, newest first.
func (r *Repository) ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Ref != nil {
		add("ref_type = $%d", string(filter.Ref.Kind))
		add("ref_id = $%d", filter.Ref.ID)
	}
	if filter.ItemID > 0 {
		add("item_id = $%d", filter.ItemID)
	}
	if filter.LocationID > 0 {
		args = append(args, filter.LocationID)
		where = append(where, fmt.Sprintf("(source_location_id = $%d OR destination_location_id = $%d)", len(args), len(args)))
	}
	if !filter.From.IsZero() {
		add("moved_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("moved_at < $%d", filter.To)
	}
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	query := `SELECT id, item_id, uom_id, source_location_id, destination_location_id, qty, ref_type, ref_id, actor_id, moved_at, meta FROM stock_movements`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY moved_at DESC, id DESC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Movement
	for rows.Next() {
		m, err := scanMovement(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMovement loads one movement.
func (r *Repository) GetMovement(ctx context.Context, id int64) (Movement, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, item_id, uom_id, source_location_id, destination_location_id, qty, ref_type, ref_id, actor_id, moved_at, meta FROM stock_movements WHERE id = $1`, id)
	m, err := scanMovement(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Movement{}, fmt.Errorf("ledger: movement %d: %w", id, shared.ErrNotFound)
	}
	return m, err
}

// ListBalances returns projection rows matching filter.
func (r *Repository) ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	var (
		where []string
		args  []any
	)
	if filter.ItemID > 0 {
		args = append(args, filter.ItemID)
		where = append(where, fmt.Sprintf("b.item_id = $%d", len(args)))
	}
	if filter.LocationID > 0 {
		args = append(args, filter.LocationID)
		where = append(where, fmt.Sprintf("b.location_id = $%d", len(args)))
	}
	if filter.WarehouseID > 0 {
		args = append(args, filter.WarehouseID)
		where = append(where, fmt.Sprintf("l.warehouse_id = $%d", len(args)))
	}
	if filter.NonZero {
		where = append(where, "b.qty <> 0")
	}
	query := `SELECT b.location_id, b.item_id, b.uom_id, b.qty, b.updated_at FROM stock_balances b JOIN warehouse_locations l ON l.id = b.location_id`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY b.location_id, b.item_id, b.uom_id"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Balance
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.LocationID, &b.ItemID, &b.UOMID, &b.Qty, &b.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GetBalance returns one projection row; a missing row reads as zero.
func (r *Repository) GetBalance(ctx context.Context, key BalanceKey) (Balance, error) {
	b := Balance{BalanceKey: key, Qty: decimal.Zero}
	err := r.pool.QueryRow(ctx, `SELECT qty, updated_at FROM stock_balances WHERE location_id = $1 AND item_id = $2 AND uom_id = $3`,
		key.LocationID, key.ItemID, key.UOMID).Scan(&b.Qty, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return b, nil
	}
	return b, err
}

func (t *txRepo) LockProjection(ctx context.Context) error {
	_, err := t.tx.Exec(ctx, `LOCK TABLE stock_balances IN SHARE ROW EXCLUSIVE MODE`)
	return err
}

func (t *txRepo) SumMovements(ctx context.Context) (map[BalanceKey]decimal.Decimal, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT location_id, item_id, uom_id, SUM(delta)
		FROM (
			SELECT destination_location_id AS location_id, item_id, uom_id, qty AS delta
			FROM stock_movements WHERE destination_location_id IS NOT NULL
			UNION ALL
			SELECT source_location_id, item_id, uom_id, -qty
			FROM stock_movements WHERE source_location_id IS NOT NULL
		) flows
		GROUP BY location_id, item_id, uom_id
	`)
	if err != nil {
		return nil, err
	}
	return scanKeyed(rows)
}

func (t *txRepo) ProjectedBalances(ctx context.Context) (map[BalanceKey]decimal.Decimal, error) {
	rows, err := t.tx.Query(ctx, `SELECT location_id, item_id, uom_id, qty FROM stock_balances`)
	if err != nil {
		return nil, err
	}
	return scanKeyed(rows)
}

func (t *txRepo) SetBalance(ctx context.Context, key BalanceKey, qty decimal.Decimal, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO stock_balances (location_id, item_id, uom_id, qty, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (location_id, item_id, uom_id)
		DO UPDATE SET qty = EXCLUDED.qty, updated_at = EXCLUDED.updated_at
	`, key.LocationID, key.ItemID, key.UOMID, qty, at)
	return err
}

// PGStore implements Store on top of a transaction.
type PGStore struct {
	q db.Querier
}

// NewStore binds a PGStore to q.
func NewStore(q db.Querier) *PGStore {
	return &PGStore{q: q}
}

func (s *PGStore) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	meta := m.Meta
	if meta == nil {
		meta = map[string]any{}
	}
	payload, err := json.Marshal(meta)
	if err != nil {
		return 0, err
	}
	var id int64
	err = s.q.QueryRow(ctx, `
		INSERT INTO stock_movements (
			item_id, uom_id, source_location_id, destination_location_id, qty,
			ref_type, ref_id, actor_id, moved_at, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id
	`, m.ItemID, m.UOMID, m.SourceLocationID, m.DestinationLocationID, m.Qty,
		string(m.Ref.Kind), m.Ref.ID, m.ActorID, m.MovedAt, payload).Scan(&id)
	return id, err
}

func (s *PGStore) AdjustBalance(ctx context.Context, key BalanceKey, delta decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := s.q.QueryRow(ctx, `
		INSERT INTO stock_balances (location_id, item_id, uom_id, qty, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (location_id, item_id, uom_id)
		DO UPDATE SET qty = stock_balances.qty + EXCLUDED.qty, updated_at = EXCLUDED.updated_at
		RETURNING qty
	`, key.LocationID, key.ItemID, key.UOMID, delta, at).Scan(&qty)
	return qty, err
}

func (s *PGStore) LockBalances(ctx context.Context, keys []BalanceKey) (map[BalanceKey]decimal.Decimal, error) {
	out := make(map[BalanceKey]decimal.Decimal, len(keys))
	for _, key := range keys {
		if _, err := s.q.Exec(ctx, `
			INSERT INTO stock_balances (location_id, item_id, uom_id, qty)
			VALUES ($1, $2, $3, 0)
			ON CONFLICT (location_id, item_id, uom_id) DO NOTHING
		`, key.LocationID, key.ItemID, key.UOMID); err != nil {
			return nil, err
		}
		var qty decimal.Decimal
		err := s.q.QueryRow(ctx, `
			SELECT qty FROM stock_balances
			WHERE location_id = $1 AND item_id = $2 AND uom_id = $3
			FOR UPDATE
		`, key.LocationID, key.ItemID, key.UOMID).Scan(&qty)
		if err != nil {
			return nil, err
		}
		out[key] = qty
	}
	return out, nil
}

func scanMovement(row pgx.Row) (Movement, error) {
	var (
		m        Movement
		refType  string
		metaJSON []byte
	)
	if err := row.Scan(&m.ID, &m.ItemID, &m.UOMID, &m.SourceLocationID, &m.DestinationLocationID, &m.Qty,
		&refType, &m.Ref.ID, &m.ActorID, &m.MovedAt, &metaJSON); err != nil {
		return Movement{}, err
	}
	m.Ref.Kind = shared.RefKind(refType)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &m.Meta); err != nil {
			return Movement{}, fmt.Errorf("ledger: decode meta: %w", err)
		}
	}
	return m, nil
}

func scanKeyed(rows pgx.Rows) (map[BalanceKey]decimal.Decimal, error) {
	defer rows.Close()
	out := make(map[BalanceKey]decimal.Decimal)
	for rows.Next() {
		var (
			k   BalanceKey
			qty decimal.Decimal
		)
		if err := rows.Scan(&k.LocationID, &k.ItemID, &k.UOMID, &qty); err != nil {
			return nil, err
		}
		out[k] = qty
	}
	return out, rows.Err()
}
