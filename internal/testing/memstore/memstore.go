// Package memstore is an in-memory implementation of every warehouse store.
// Transactions are serialized on one mutex and roll back by restoring a
// snapshot, which is enough to exercise posting flows under concurrency.
package memstore

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/catalog"
	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/locations"
	"github.com/abdialidrus/scm-mining/internal/picking"
	"github.com/abdialidrus/scm-mining/internal/procurement"
	"github.com/abdialidrus/scm-mining/internal/putaway"
	"github.com/abdialidrus/scm-mining/internal/receiving"
	"github.com/abdialidrus/scm-mining/internal/serials"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

type state struct {
	nextID     int64
	warehouses map[int64]locations.Warehouse
	locations  map[int64]locations.Location
	items      map[int64]catalog.Item
	orders     map[int64]procurement.PurchaseOrder
	sequences  map[string]int
	movements  []ledger.Movement
	balances   map[ledger.BalanceKey]ledger.Balance
	units      map[int64]serials.Unit
	receipts   map[int64]receiving.GoodsReceipt
	putAways   map[int64]putaway.PutAway
	pickings   map[int64]picking.Picking
	history    []shared.StatusHistory
}

func newState() *state {
	return &state{
		warehouses: map[int64]locations.Warehouse{},
		locations:  map[int64]locations.Location{},
		items:      map[int64]catalog.Item{},
		orders:     map[int64]procurement.PurchaseOrder{},
		sequences:  map[string]int{},
		balances:   map[ledger.BalanceKey]ledger.Balance{},
		units:      map[int64]serials.Unit{},
		receipts:   map[int64]receiving.GoodsReceipt{},
		putAways:   map[int64]putaway.PutAway{},
		pickings:   map[int64]picking.Picking{},
	}
}

// clone copies the maps. Stored values are replaced, never mutated in
// place, so sharing their inner slices is safe.
func (s *state) clone() *state {
	c := &state{
		nextID:     s.nextID,
		warehouses: make(map[int64]locations.Warehouse, len(s.warehouses)),
		locations:  make(map[int64]locations.Location, len(s.locations)),
		items:      make(map[int64]catalog.Item, len(s.items)),
		orders:     make(map[int64]procurement.PurchaseOrder, len(s.orders)),
		sequences:  make(map[string]int, len(s.sequences)),
		movements:  append([]ledger.Movement(nil), s.movements...),
		balances:   make(map[ledger.BalanceKey]ledger.Balance, len(s.balances)),
		units:      make(map[int64]serials.Unit, len(s.units)),
		receipts:   make(map[int64]receiving.GoodsReceipt, len(s.receipts)),
		putAways:   make(map[int64]putaway.PutAway, len(s.putAways)),
		pickings:   make(map[int64]picking.Picking, len(s.pickings)),
		history:    append([]shared.StatusHistory(nil), s.history...),
	}
	for k, v := range s.warehouses {
		c.warehouses[k] = v
	}
	for k, v := range s.locations {
		c.locations[k] = v
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = v
	}
	for k, v := range s.sequences {
		c.sequences[k] = v
	}
	for k, v := range s.balances {
		c.balances[k] = v
	}
	for k, v := range s.units {
		c.units[k] = v
	}
	for k, v := range s.receipts {
		c.receipts[k] = v
	}
	for k, v := range s.putAways {
		c.putAways[k] = v
	}
	for k, v := range s.pickings {
		c.pickings[k] = v
	}
	return c
}

func (s *state) id() int64 {
	s.nextID++
	return s.nextID
}

// DB holds the shared state.
type DB struct {
	mu         sync.Mutex
	st         *state
	violations []string
}

// New returns an empty DB.
func New() *DB {
	return &DB{st: newState()}
}

// Atomic runs fn as one transaction. A returned error discards every change fn made.
func (d *DB) Atomic(fn func(tx *Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	work := d.st.clone()
	if err := fn(&Tx{st: work, db: d}); err != nil {
		return err
	}
	d.st = work
	return nil
}

// LockViolations lists row locks taken out of order, or balance writes made
// without a lock, by any transaction so far. Postgres would risk a deadlock
// on each of them.
func (d *DB) LockViolations() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.violations...)
}

func read[T any](d *DB, fn func(tx *Tx) (T, error)) (T, error) {
	var out T
	err := d.Atomic(func(tx *Tx) error {
		var err error
		out, err = fn(tx)
		return err
	})
	return out, err
}

// AddWarehouse seeds an active warehouse.
func (d *DB) AddWarehouse(code string) locations.Warehouse {
	d.mu.Lock()
	defer d.mu.Unlock()
	wh := locations.Warehouse{ID: d.st.id(), Code: code, Name: code, IsActive: true, CreatedAt: time.Now()}
	d.st.warehouses[wh.ID] = wh
	return wh
}

// SetWarehouseActive toggles a seeded warehouse.
func (d *DB) SetWarehouseActive(id int64, active bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	wh := d.st.warehouses[id]
	wh.IsActive = active
	d.st.warehouses[id] = wh
}

// AddLocation seeds a location as given, bypassing the default checks.
func (d *DB) AddLocation(loc locations.Location) locations.Location {
	d.mu.Lock()
	defer d.mu.Unlock()
	loc.ID = d.st.id()
	if loc.Name == "" {
		loc.Name = loc.Code
	}
	loc.CreatedAt = time.Now()
	loc.UpdatedAt = loc.CreatedAt
	d.st.locations[loc.ID] = loc
	return loc
}

// AddItem seeds an item.
func (d *DB) AddItem(item catalog.Item) catalog.Item {
	d.mu.Lock()
	defer d.mu.Unlock()
	item.ID = d.st.id()
	if item.BaseUOMID == 0 {
		item.BaseUOMID = 1
	}
	d.st.items[item.ID] = item
	return item
}

// AddPurchaseOrder seeds an order, assigning ids to it and its lines.
func (d *DB) AddPurchaseOrder(po procurement.PurchaseOrder) procurement.PurchaseOrder {
	d.mu.Lock()
	defer d.mu.Unlock()
	po.ID = d.st.id()
	lines := make([]procurement.Line, len(po.Lines))
	for i, l := range po.Lines {
		l.ID = d.st.id()
		lines[i] = l
	}
	po.Lines = lines
	d.st.orders[po.ID] = po
	return po
}

// SetPurchaseOrderStatus changes an order's status.
func (d *DB) SetPurchaseOrderStatus(id int64, status procurement.POStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	po := d.st.orders[id]
	po.Status = status
	d.st.orders[id] = po
}

// BalanceOf returns the projected quantity of a key, zero when absent.
func (d *DB) BalanceOf(locationID, itemID, uomID int64) decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.st.balances[ledger.BalanceKey{LocationID: locationID, ItemID: itemID, UOMID: uomID}].Qty
}

// OverwriteBalance corrupts the projection directly, as drift would.
func (d *DB) OverwriteBalance(key ledger.BalanceKey, qty decimal.Decimal) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.st.balances[key] = ledger.Balance{BalanceKey: key, Qty: qty, UpdatedAt: time.Now()}
}

// Movements returns every movement in insertion order.
func (d *DB) Movements() []ledger.Movement {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]ledger.Movement(nil), d.st.movements...)
}

// Units returns every serial unit ordered by serial.
func (d *DB) Units() []serials.Unit {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]serials.Unit, 0, len(d.st.units))
	for _, u := range d.st.units {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out
}

// Receipt returns a stored goods receipt.
func (d *DB) Receipt(id int64) (receiving.GoodsReceipt, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	gr, ok := d.st.receipts[id]
	return gr, ok
}

// Receipts returns every goods receipt ordered by id.
func (d *DB) Receipts() []receiving.GoodsReceipt {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]receiving.GoodsReceipt, 0, len(d.st.receipts))
	for _, gr := range d.st.receipts {
		out = append(out, gr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HistoryOf returns the transitions of one document, oldest first.
func (d *DB) HistoryOf(kind shared.RefKind, docID int64) []shared.StatusHistory {
	d.mu.Lock()
	defer d.mu.Unlock()
	return historyOf(d.st, kind, docID)
}

func historyOf(st *state, kind shared.RefKind, docID int64) []shared.StatusHistory {
	var out []shared.StatusHistory
	for _, h := range st.history {
		if h.DocType == kind && h.DocID == docID {
			out = append(out, h)
		}
	}
	return out
}
