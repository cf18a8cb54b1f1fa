package memstore

import (
	"context"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/locations"
	"github.com/abdialidrus/scm-mining/internal/picking"
	"github.com/abdialidrus/scm-mining/internal/putaway"
	"github.com/abdialidrus/scm-mining/internal/receiving"
	"github.com/abdialidrus/scm-mining/internal/serials"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

func page[T any](rows []T, p, perPage int) []T {
	p, perPage = shared.NormalizePage(p, perPage)
	start := (p - 1) * perPage
	if start >= len(rows) {
		return nil
	}
	end := start + perPage
	if end > len(rows) {
		end = len(rows)
	}
	return rows[start:end]
}

// ReceiptRepo implements receiving.RepositoryPort.
type ReceiptRepo struct{ db *DB }

// Receipts returns the goods receipt repository over d.
func Receipts(d *DB) *ReceiptRepo { return &ReceiptRepo{db: d} }

func (r *ReceiptRepo) WithTx(ctx context.Context, fn func(context.Context, receiving.TxRepository) error) error {
	return r.db.Atomic(func(tx *Tx) error { return fn(ctx, tx) })
}

func (r *ReceiptRepo) GetReceipt(ctx context.Context, id int64) (receiving.GoodsReceipt, error) {
	return read(r.db, func(tx *Tx) (receiving.GoodsReceipt, error) { return tx.LockReceipt(ctx, id) })
}

func (r *ReceiptRepo) ListReceipts(_ context.Context, filter receiving.ListFilter) ([]receiving.GoodsReceipt, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var rows []receiving.GoodsReceipt
	for _, gr := range r.db.st.receipts {
		if filter.PurchaseOrderID > 0 && gr.PurchaseOrderID != filter.PurchaseOrderID {
			continue
		}
		if filter.WarehouseID > 0 && gr.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.Status != "" && gr.Status != filter.Status {
			continue
		}
		gr.Lines = nil
		rows = append(rows, gr)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })
	return page(rows, filter.Page, filter.PerPage), len(rows), nil
}

func (r *ReceiptRepo) History(_ context.Context, id int64) ([]shared.StatusHistory, error) {
	return r.db.HistoryOf(shared.RefGoodsReceipt, id), nil
}

func (r *ReceiptRepo) PurchaseOrderProgress(ctx context.Context, purchaseOrderID int64) ([]receiving.POLineProgress, error) {
	return read(r.db, func(tx *Tx) ([]receiving.POLineProgress, error) {
		po, err := tx.LockPurchaseOrder(ctx, purchaseOrderID)
		if err != nil {
			return nil, err
		}
		return receiving.Progress(po, receivedToDate(tx.st, purchaseOrderID)), nil
	})
}

// PutAwayRepo implements putaway.RepositoryPort.
type PutAwayRepo struct{ db *DB }

// PutAways returns the put-away repository over d.
func PutAways(d *DB) *PutAwayRepo { return &PutAwayRepo{db: d} }

func (r *PutAwayRepo) WithTx(ctx context.Context, fn func(context.Context, putaway.TxRepository) error) error {
	return r.db.Atomic(func(tx *Tx) error { return fn(ctx, tx) })
}

func (r *PutAwayRepo) GetPutAway(ctx context.Context, id int64) (putaway.PutAway, error) {
	return read(r.db, func(tx *Tx) (putaway.PutAway, error) { return tx.LockPutAway(ctx, id) })
}

func (r *PutAwayRepo) ListPutAways(_ context.Context, filter putaway.ListFilter) ([]putaway.PutAway, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var rows []putaway.PutAway
	for _, pa := range r.db.st.putAways {
		if filter.GoodsReceiptID > 0 && pa.GoodsReceiptID != filter.GoodsReceiptID {
			continue
		}
		if filter.WarehouseID > 0 && pa.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.Status != "" && pa.Status != filter.Status {
			continue
		}
		pa.Lines = nil
		rows = append(rows, pa)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })
	return page(rows, filter.Page, filter.PerPage), len(rows), nil
}

func (r *PutAwayRepo) History(_ context.Context, id int64) ([]shared.StatusHistory, error) {
	return r.db.HistoryOf(shared.RefPutAway, id), nil
}

func (r *PutAwayRepo) GetGoodsReceipt(_ context.Context, id int64) (putaway.Receipt, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return receiptView(r.db.st, id)
}

func (r *PutAwayRepo) PostedPutAway(_ context.Context, goodsReceiptID int64) (map[int64]decimal.Decimal, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	return putAwayToDate(r.db.st, goodsReceiptID), nil
}

// PickingRepo implements picking.RepositoryPort.
type PickingRepo struct{ db *DB }

// Pickings returns the picking repository over d.
func Pickings(d *DB) *PickingRepo { return &PickingRepo{db: d} }

func (r *PickingRepo) WithTx(ctx context.Context, fn func(context.Context, picking.TxRepository) error) error {
	return r.db.Atomic(func(tx *Tx) error { return fn(ctx, tx) })
}

func (r *PickingRepo) GetPicking(ctx context.Context, id int64) (picking.Picking, error) {
	return read(r.db, func(tx *Tx) (picking.Picking, error) { return tx.LockPicking(ctx, id) })
}

func (r *PickingRepo) ListPickings(_ context.Context, filter picking.ListFilter) ([]picking.Picking, int, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var rows []picking.Picking
	for _, p := range r.db.st.pickings {
		if filter.WarehouseID > 0 && p.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.DepartmentID > 0 && (p.DepartmentID == nil || *p.DepartmentID != filter.DepartmentID) {
			continue
		}
		if filter.Status != "" && p.Status != filter.Status {
			continue
		}
		p.Lines = nil
		rows = append(rows, p)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].ID > rows[j].ID })
	return page(rows, filter.Page, filter.PerPage), len(rows), nil
}

func (r *PickingRepo) History(_ context.Context, id int64) ([]shared.StatusHistory, error) {
	return r.db.HistoryOf(shared.RefPicking, id), nil
}

// LedgerRepo implements ledger.RepositoryPort.
type LedgerRepo struct{ db *DB }

// Ledger returns the ledger repository over d.
func Ledger(d *DB) *LedgerRepo { return &LedgerRepo{db: d} }

func (r *LedgerRepo) WithTx(ctx context.Context, fn func(context.Context, ledger.TxRepository) error) error {
	return r.db.Atomic(func(tx *Tx) error { return fn(ctx, tx) })
}

func (r *LedgerRepo) ListMovements(_ context.Context, filter ledger.MovementFilter) ([]ledger.Movement, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var out []ledger.Movement
	for i := len(r.db.st.movements) - 1; i >= 0 && len(out) < limit; i-- {
		m := r.db.st.movements[i]
		if filter.Ref != nil && m.Ref != *filter.Ref {
			continue
		}
		if filter.ItemID > 0 && m.ItemID != filter.ItemID {
			continue
		}
		if filter.LocationID > 0 && !touches(m, filter.LocationID) {
			continue
		}
		if !filter.From.IsZero() && m.MovedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !m.MovedAt.Before(filter.To) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func touches(m ledger.Movement, locationID int64) bool {
	return (m.SourceLocationID != nil && *m.SourceLocationID == locationID) ||
		(m.DestinationLocationID != nil && *m.DestinationLocationID == locationID)
}

func (r *LedgerRepo) GetMovement(_ context.Context, id int64) (ledger.Movement, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	for _, m := range r.db.st.movements {
		if m.ID == id {
			return m, nil
		}
	}
	return ledger.Movement{}, fmt.Errorf("ledger: movement %w", shared.ErrNotFound)
}

func (r *LedgerRepo) ListBalances(_ context.Context, filter ledger.BalanceFilter) ([]ledger.Balance, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	var out []ledger.Balance
	for k, b := range r.db.st.balances {
		if filter.ItemID > 0 && k.ItemID != filter.ItemID {
			continue
		}
		if filter.LocationID > 0 && k.LocationID != filter.LocationID {
			continue
		}
		if filter.WarehouseID > 0 && r.db.st.locations[k.LocationID].WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.NonZero && b.Qty.IsZero() {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j].BalanceKey) })
	return out, nil
}

func (r *LedgerRepo) GetBalance(_ context.Context, key ledger.BalanceKey) (ledger.Balance, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	b, ok := r.db.st.balances[key]
	if !ok {
		return ledger.Balance{BalanceKey: key, Qty: decimal.Zero}, nil
	}
	return b, nil
}

// SerialRepo implements serials.RepositoryPort.
type SerialRepo struct{ db *DB }

// SerialUnits returns the serial unit repository over d.
func SerialUnits(d *DB) *SerialRepo { return &SerialRepo{db: d} }

func (r *SerialRepo) WithTx(ctx context.Context, fn func(context.Context, serials.TxRepository) error) error {
	return r.db.Atomic(func(tx *Tx) error { return fn(ctx, tx) })
}

func (r *SerialRepo) GetUnit(_ context.Context, serial string) (serials.Unit, error) {
	return read(r.db, func(tx *Tx) (serials.Unit, error) {
		u, ok := tx.unitBySerial(serial)
		if !ok {
			return serials.Unit{}, serials.ErrUnitNotFound
		}
		return u, nil
	})
}

func (r *SerialRepo) GetUnitByID(_ context.Context, id int64) (serials.Unit, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	u, ok := r.db.st.units[id]
	if !ok {
		return serials.Unit{}, serials.ErrUnitNotFound
	}
	return u, nil
}

func (r *SerialRepo) ListUnits(_ context.Context, filter serials.ListFilter) ([]serials.Unit, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 200
	}
	var out []serials.Unit
	for _, u := range r.db.Units() {
		if filter.ItemID > 0 && u.ItemID != filter.ItemID {
			continue
		}
		if filter.LocationID > 0 && (u.LocationID == nil || *u.LocationID != filter.LocationID) {
			continue
		}
		if filter.Status != "" && u.Status != filter.Status {
			continue
		}
		out = append(out, u)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// LocationRepo implements locations.RepositoryPort.
type LocationRepo struct{ db *DB }

// Locations returns the location repository over d.
func Locations(d *DB) *LocationRepo { return &LocationRepo{db: d} }

func (r *LocationRepo) WithTx(ctx context.Context, fn func(context.Context, locations.Store) error) error {
	return r.db.Atomic(func(tx *Tx) error { return fn(ctx, tx) })
}

func (r *LocationRepo) ListWarehouses(context.Context) ([]locations.Warehouse, error) {
	r.db.mu.Lock()
	defer r.db.mu.Unlock()
	out := make([]locations.Warehouse, 0, len(r.db.st.warehouses))
	for _, wh := range r.db.st.warehouses {
		out = append(out, wh)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (r *LocationRepo) GetWarehouse(ctx context.Context, id int64) (locations.Warehouse, error) {
	return read(r.db, func(tx *Tx) (locations.Warehouse, error) { return tx.GetWarehouse(ctx, id) })
}

func (r *LocationRepo) LockWarehouse(ctx context.Context, id int64) (locations.Warehouse, error) {
	return r.GetWarehouse(ctx, id)
}

func (r *LocationRepo) GetLocation(ctx context.Context, id int64) (locations.Location, error) {
	return read(r.db, func(tx *Tx) (locations.Location, error) { return tx.GetLocation(ctx, id) })
}

func (r *LocationRepo) LockLocation(ctx context.Context, id int64) (locations.Location, error) {
	return r.GetLocation(ctx, id)
}

func (r *LocationRepo) ListLocations(ctx context.Context, filter locations.ListFilter) ([]locations.Location, error) {
	return read(r.db, func(tx *Tx) ([]locations.Location, error) { return tx.ListLocations(ctx, filter) })
}

func (r *LocationRepo) InsertLocation(ctx context.Context, loc locations.Location) (locations.Location, error) {
	return read(r.db, func(tx *Tx) (locations.Location, error) { return tx.InsertLocation(ctx, loc) })
}

func (r *LocationRepo) UpdateLocation(ctx context.Context, loc locations.Location) error {
	return r.db.Atomic(func(tx *Tx) error { return tx.UpdateLocation(ctx, loc) })
}

func (r *LocationRepo) LocationStock(ctx context.Context, id int64) (decimal.Decimal, error) {
	return read(r.db, func(tx *Tx) (decimal.Decimal, error) { return tx.LocationStock(ctx, id) })
}

var (
	_ receiving.RepositoryPort = (*ReceiptRepo)(nil)
	_ putaway.RepositoryPort   = (*PutAwayRepo)(nil)
	_ picking.RepositoryPort   = (*PickingRepo)(nil)
	_ ledger.RepositoryPort    = (*LedgerRepo)(nil)
	_ serials.RepositoryPort   = (*SerialRepo)(nil)
	_ locations.RepositoryPort = (*LocationRepo)(nil)
)
