package procurement

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/abdialidrus/scm-mining/internal/platform/db"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

// Locker loads purchase orders inside the caller's transaction.
type Locker interface {
	// LockPurchaseOrder takes a row lock on the order header and returns it with its lines.
	LockPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error)
}

// Store reads purchase orders from PostgreSQL.
type Store struct {
	q db.Querier
}

// NewStore binds a Store to q.
func NewStore(q db.Querier) *Store {
	return &Store{q: q}
}

// LockPurchaseOrder implements Locker.
func (s *Store) LockPurchaseOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.load(ctx, id, true)
}

// Get loads an order without locking.
func (s *Store) Get(ctx context.Context, id int64) (PurchaseOrder, error) {
	return s.load(ctx, id, false)
}

func (s *Store) load(ctx context.Context, id int64, lock bool) (PurchaseOrder, error) {
	query := `SELECT id, po_number, supplier_name, status FROM purchase_orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	var (
		po     PurchaseOrder
		status string
	)
	err := s.q.QueryRow(ctx, query, id).Scan(&po.ID, &po.Number, &po.SupplierName, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, fmt.Errorf("%w: %w", ErrNotFound, shared.ErrNotFound)
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	po.Status = POStatus(status)

	rows, err := s.q.Query(ctx, `
		SELECT id, item_id, uom_id, ordered_qty
		FROM purchase_order_lines
		WHERE purchase_order_id = $1
		ORDER BY id
	`, id)
	if err != nil {
		return PurchaseOrder{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var l Line
		if err := rows.Scan(&l.ID, &l.ItemID, &l.UOMID, &l.OrderedQty); err != nil {
			return PurchaseOrder{}, err
		}
		po.Lines = append(po.Lines, l)
	}
	return po, rows.Err()
}
