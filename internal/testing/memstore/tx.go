package memstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/catalog"
	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/locations"
	"github.com/abdialidrus/scm-mining/internal/picking"
	"github.com/abdialidrus/scm-mining/internal/procurement"
	"github.com/abdialidrus/scm-mining/internal/putaway"
	"github.com/abdialidrus/scm-mining/internal/receiving"
	"github.com/abdialidrus/scm-mining/internal/sequence"
	"github.com/abdialidrus/scm-mining/internal/serials"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

// Tx is a view over a working copy of the state. It satisfies every
// transactional store interface of the warehouse packages.
type Tx struct {
	st *state
	db *DB

	// row locks taken so far, used to flag out-of-order acquisition
	locked      map[ledger.BalanceKey]struct{}
	highest     *ledger.BalanceKey
	unitsLocked bool
}

func (t *Tx) violate(format string, args ...any) {
	if t.db != nil {
		t.db.violations = append(t.db.violations, fmt.Sprintf(format, args...))
	}
}

var (
	_ procurement.Locker     = (*Tx)(nil)
	_ locations.Store        = (*Tx)(nil)
	_ catalog.Reader         = (*Tx)(nil)
	_ ledger.Store           = (*Tx)(nil)
	_ ledger.TxRepository    = (*Tx)(nil)
	_ serials.Store          = (*Tx)(nil)
	_ serials.TxRepository   = (*Tx)(nil)
	_ sequence.Store         = (*Tx)(nil)
	_ receiving.TxRepository = (*Tx)(nil)
	_ putaway.TxRepository   = (*Tx)(nil)
	_ picking.TxRepository   = (*Tx)(nil)
)

func (t *Tx) PurchaseOrders() procurement.Locker { return t }
func (t *Tx) Locations() locations.Store         { return t }
func (t *Tx) Items() catalog.Reader              { return t }
func (t *Tx) Ledger() ledger.Store               { return t }
func (t *Tx) Serials() serials.Store             { return t }
func (t *Tx) Sequences() sequence.Store          { return t }

// procurement

func (t *Tx) LockPurchaseOrder(_ context.Context, id int64) (procurement.PurchaseOrder, error) {
	po, ok := t.st.orders[id]
	if !ok {
		return procurement.PurchaseOrder{}, fmt.Errorf("%w: %w", procurement.ErrNotFound, shared.ErrNotFound)
	}
	return po, nil
}

// catalog

func (t *Tx) ItemsByID(_ context.Context, ids []int64) (map[int64]catalog.Item, error) {
	out := make(map[int64]catalog.Item, len(ids))
	for _, id := range ids {
		if it, ok := t.st.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

// sequences

func (t *Tx) Increment(_ context.Context, prefix, period string) (int, error) {
	key := prefix + "/" + period
	t.st.sequences[key]++
	return t.st.sequences[key], nil
}

// locations

func (t *Tx) GetWarehouse(_ context.Context, id int64) (locations.Warehouse, error) {
	wh, ok := t.st.warehouses[id]
	if !ok {
		return locations.Warehouse{}, locations.ErrWarehouseNotFound
	}
	return wh, nil
}

func (t *Tx) LockWarehouse(ctx context.Context, id int64) (locations.Warehouse, error) {
	return t.GetWarehouse(ctx, id)
}

func (t *Tx) GetLocation(_ context.Context, id int64) (locations.Location, error) {
	loc, ok := t.st.locations[id]
	if !ok {
		return locations.Location{}, locations.ErrLocationNotFound
	}
	return loc, nil
}

func (t *Tx) LockLocation(ctx context.Context, id int64) (locations.Location, error) {
	return t.GetLocation(ctx, id)
}

func (t *Tx) ListLocations(_ context.Context, filter locations.ListFilter) ([]locations.Location, error) {
	var out []locations.Location
	for _, loc := range t.st.locations {
		if filter.WarehouseID > 0 && loc.WarehouseID != filter.WarehouseID {
			continue
		}
		if filter.Type != "" && loc.Type != filter.Type {
			continue
		}
		if !filter.IncludeInactive && !loc.IsActive {
			continue
		}
		if filter.DefaultOnly && !loc.IsDefault {
			continue
		}
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].WarehouseID != out[j].WarehouseID {
			return out[i].WarehouseID < out[j].WarehouseID
		}
		return out[i].Code < out[j].Code
	})
	return out, nil
}

func (t *Tx) InsertLocation(_ context.Context, loc locations.Location) (locations.Location, error) {
	for _, existing := range t.st.locations {
		if existing.WarehouseID == loc.WarehouseID && existing.Code == loc.Code {
			return locations.Location{}, fmt.Errorf("%w: location code %s already exists", shared.ErrConflict, loc.Code)
		}
	}
	loc.ID = t.st.id()
	t.st.locations[loc.ID] = loc
	return loc, nil
}

func (t *Tx) UpdateLocation(_ context.Context, loc locations.Location) error {
	if _, ok := t.st.locations[loc.ID]; !ok {
		return locations.ErrLocationNotFound
	}
	t.st.locations[loc.ID] = loc
	return nil
}

func (t *Tx) LocationStock(_ context.Context, id int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for k, b := range t.st.balances {
		if k.LocationID == id && b.Qty.IsPositive() {
			total = total.Add(b.Qty)
		}
	}
	return total, nil
}

// ledger

func (t *Tx) InsertMovement(_ context.Context, m ledger.Movement) (int64, error) {
	m.ID = t.st.id()
	t.st.movements = append(t.st.movements, m)
	return m.ID, nil
}

func (t *Tx) AdjustBalance(_ context.Context, key ledger.BalanceKey, delta decimal.Decimal, at time.Time) (decimal.Decimal, error) {
	if _, ok := t.locked[key]; !ok {
		t.violate("balance %v written without a lock", key)
	}
	b := t.st.balances[key]
	b.BalanceKey = key
	b.Qty = b.Qty.Add(delta)
	b.UpdatedAt = at
	t.st.balances[key] = b
	return b.Qty, nil
}

func (t *Tx) LockBalances(_ context.Context, keys []ledger.BalanceKey) (map[ledger.BalanceKey]decimal.Decimal, error) {
	if t.locked == nil {
		t.locked = map[ledger.BalanceKey]struct{}{}
	}
	out := make(map[ledger.BalanceKey]decimal.Decimal, len(keys))
	for _, k := range keys {
		if _, held := t.locked[k]; !held {
			if t.unitsLocked {
				t.violate("balance %v locked after serial units", k)
			}
			if t.highest != nil && k.Less(*t.highest) {
				t.violate("balance %v locked after %v", k, *t.highest)
			}
			t.locked[k] = struct{}{}
			if t.highest == nil || t.highest.Less(k) {
				key := k
				t.highest = &key
			}
		}
		b, ok := t.st.balances[k]
		if !ok {
			b = ledger.Balance{BalanceKey: k, Qty: decimal.Zero, UpdatedAt: time.Now()}
			t.st.balances[k] = b
		}
		out[k] = b.Qty
	}
	return out, nil
}

func (t *Tx) LockProjection(context.Context) error { return nil }

func (t *Tx) SumMovements(context.Context) (map[ledger.BalanceKey]decimal.Decimal, error) {
	return ledger.Rebuild(t.st.movements), nil
}

func (t *Tx) ProjectedBalances(context.Context) (map[ledger.BalanceKey]decimal.Decimal, error) {
	out := make(map[ledger.BalanceKey]decimal.Decimal, len(t.st.balances))
	for k, b := range t.st.balances {
		out[k] = b.Qty
	}
	return out, nil
}

func (t *Tx) SetBalance(_ context.Context, key ledger.BalanceKey, qty decimal.Decimal, at time.Time) error {
	t.st.balances[key] = ledger.Balance{BalanceKey: key, Qty: qty, UpdatedAt: at}
	return nil
}

// serials

func (t *Tx) unitBySerial(serial string) (serials.Unit, bool) {
	for _, u := range t.st.units {
		if u.Serial == serial {
			return u, true
		}
	}
	return serials.Unit{}, false
}

func (t *Tx) ExistingSerials(_ context.Context, list []string) ([]string, error) {
	var out []string
	for _, s := range list {
		if _, ok := t.unitBySerial(s); ok {
			out = append(out, s)
		}
	}
	return out, nil
}

func (t *Tx) InsertUnits(_ context.Context, units []serials.Unit) ([]serials.Unit, error) {
	out := make([]serials.Unit, 0, len(units))
	for _, u := range units {
		if _, ok := t.unitBySerial(u.Serial); ok {
			return nil, &serials.DuplicateError{Serials: []string{u.Serial}}
		}
		u.ID = t.st.id()
		t.st.units[u.ID] = u
		out = append(out, u)
	}
	return out, nil
}

func (t *Tx) LockUnits(_ context.Context, list []string) ([]serials.Unit, error) {
	t.unitsLocked = true
	var out []serials.Unit
	for _, s := range list {
		if u, ok := t.unitBySerial(s); ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Serial < out[j].Serial })
	return out, nil
}

func (t *Tx) UpdateUnit(_ context.Context, u serials.Unit) error {
	if _, ok := t.st.units[u.ID]; !ok {
		return serials.ErrUnitNotFound
	}
	t.st.units[u.ID] = u
	return nil
}

// history

func (t *Tx) InsertHistory(_ context.Context, h shared.StatusHistory) error {
	h.ID = t.st.id()
	h.CreatedAt = time.Now()
	t.st.history = append(t.st.history, h)
	return nil
}

// receiving

func (t *Tx) ReceiptPurchaseOrderID(_ context.Context, id int64) (int64, error) {
	gr, ok := t.st.receipts[id]
	if !ok {
		return 0, receiving.ErrNotFound
	}
	return gr.PurchaseOrderID, nil
}

func (t *Tx) LockReceipt(_ context.Context, id int64) (receiving.GoodsReceipt, error) {
	gr, ok := t.st.receipts[id]
	if !ok {
		return receiving.GoodsReceipt{}, receiving.ErrNotFound
	}
	gr.Lines = append([]receiving.Line(nil), gr.Lines...)
	return gr, nil
}

func (t *Tx) InsertReceipt(_ context.Context, gr receiving.GoodsReceipt) (receiving.GoodsReceipt, error) {
	for _, existing := range t.st.receipts {
		if existing.Number == gr.Number {
			return receiving.GoodsReceipt{}, fmt.Errorf("%w: receipt number %s taken", shared.ErrConflict, gr.Number)
		}
	}
	gr.ID = t.st.id()
	gr.Lines = nil
	t.st.receipts[gr.ID] = gr
	return gr, nil
}

func (t *Tx) UpdateReceipt(_ context.Context, gr receiving.GoodsReceipt) error {
	stored, ok := t.st.receipts[gr.ID]
	if !ok {
		return receiving.ErrNotFound
	}
	gr.Lines = stored.Lines
	t.st.receipts[gr.ID] = gr
	return nil
}

func (t *Tx) ReplaceReceiptLines(_ context.Context, receiptID int64, lines []receiving.Line) ([]receiving.Line, error) {
	gr, ok := t.st.receipts[receiptID]
	if !ok {
		return nil, receiving.ErrNotFound
	}
	out := make([]receiving.Line, 0, len(lines))
	for _, l := range lines {
		l.ID = t.st.id()
		l.ReceiptID = receiptID
		if l.SerialNumbers == nil {
			l.SerialNumbers = []string{}
		}
		out = append(out, l)
	}
	gr.Lines = out
	t.st.receipts[receiptID] = gr
	return append([]receiving.Line(nil), out...), nil
}

func (t *Tx) ReceivedToDate(_ context.Context, purchaseOrderID int64) (map[int64]decimal.Decimal, error) {
	return receivedToDate(t.st, purchaseOrderID), nil
}

func receivedToDate(st *state, purchaseOrderID int64) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal)
	for _, gr := range st.receipts {
		if gr.PurchaseOrderID != purchaseOrderID || gr.Status != shared.DocStatusPosted {
			continue
		}
		for _, l := range gr.Lines {
			out[l.PurchaseOrderLineID] = out[l.PurchaseOrderLineID].Add(l.Qty)
		}
	}
	return out
}

// put-away

func (t *Tx) PutAwayReceiptID(_ context.Context, id int64) (int64, error) {
	pa, ok := t.st.putAways[id]
	if !ok {
		return 0, putaway.ErrNotFound
	}
	return pa.GoodsReceiptID, nil
}

func (t *Tx) LockGoodsReceipt(_ context.Context, id int64) (putaway.Receipt, error) {
	return receiptView(t.st, id)
}

func receiptView(st *state, id int64) (putaway.Receipt, error) {
	gr, ok := st.receipts[id]
	if !ok {
		return putaway.Receipt{}, putaway.ErrReceiptNotFound
	}
	out := putaway.Receipt{ID: gr.ID, Number: gr.Number, WarehouseID: gr.WarehouseID, Status: gr.Status}
	for _, l := range gr.Lines {
		out.Lines = append(out.Lines, putaway.ReceiptLine{
			ID:            l.ID,
			ItemID:        l.ItemID,
			UOMID:         l.UOMID,
			Qty:           l.Qty,
			SerialNumbers: l.SerialNumbers,
		})
	}
	return out, nil
}

func (t *Tx) LockPutAway(_ context.Context, id int64) (putaway.PutAway, error) {
	pa, ok := t.st.putAways[id]
	if !ok {
		return putaway.PutAway{}, putaway.ErrNotFound
	}
	pa.Lines = append([]putaway.Line(nil), pa.Lines...)
	return pa, nil
}

func (t *Tx) InsertPutAway(_ context.Context, pa putaway.PutAway) (putaway.PutAway, error) {
	pa.ID = t.st.id()
	pa.Lines = nil
	t.st.putAways[pa.ID] = pa
	return pa, nil
}

func (t *Tx) UpdatePutAway(_ context.Context, pa putaway.PutAway) error {
	stored, ok := t.st.putAways[pa.ID]
	if !ok {
		return putaway.ErrNotFound
	}
	pa.Lines = stored.Lines
	t.st.putAways[pa.ID] = pa
	return nil
}

func (t *Tx) ReplacePutAwayLines(_ context.Context, putAwayID int64, lines []putaway.Line) ([]putaway.Line, error) {
	pa, ok := t.st.putAways[putAwayID]
	if !ok {
		return nil, putaway.ErrNotFound
	}
	out := make([]putaway.Line, 0, len(lines))
	for _, l := range lines {
		l.ID = t.st.id()
		l.PutAwayID = putAwayID
		if l.SerialNumbers == nil {
			l.SerialNumbers = []string{}
		}
		out = append(out, l)
	}
	pa.Lines = out
	t.st.putAways[putAwayID] = pa
	return append([]putaway.Line(nil), out...), nil
}

func (t *Tx) PutAwayToDate(_ context.Context, goodsReceiptID int64) (map[int64]decimal.Decimal, error) {
	return putAwayToDate(t.st, goodsReceiptID), nil
}

func putAwayToDate(st *state, goodsReceiptID int64) map[int64]decimal.Decimal {
	out := make(map[int64]decimal.Decimal)
	for _, pa := range st.putAways {
		if pa.GoodsReceiptID != goodsReceiptID || pa.Status != shared.DocStatusPosted {
			continue
		}
		for _, l := range pa.Lines {
			out[l.GoodsReceiptLineID] = out[l.GoodsReceiptLineID].Add(l.Qty)
		}
	}
	return out
}

// picking

func (t *Tx) LockPicking(_ context.Context, id int64) (picking.Picking, error) {
	p, ok := t.st.pickings[id]
	if !ok {
		return picking.Picking{}, picking.ErrNotFound
	}
	p.Lines = append([]picking.Line(nil), p.Lines...)
	return p, nil
}

func (t *Tx) InsertPicking(_ context.Context, p picking.Picking) (picking.Picking, error) {
	p.ID = t.st.id()
	p.Lines = nil
	t.st.pickings[p.ID] = p
	return p, nil
}

func (t *Tx) UpdatePicking(_ context.Context, p picking.Picking) error {
	stored, ok := t.st.pickings[p.ID]
	if !ok {
		return picking.ErrNotFound
	}
	p.Lines = stored.Lines
	t.st.pickings[p.ID] = p
	return nil
}

func (t *Tx) ReplacePickingLines(_ context.Context, pickingID int64, lines []picking.Line) ([]picking.Line, error) {
	p, ok := t.st.pickings[pickingID]
	if !ok {
		return nil, picking.ErrNotFound
	}
	out := make([]picking.Line, 0, len(lines))
	for _, l := range lines {
		l.ID = t.st.id()
		l.PickingID = pickingID
		if l.SerialNumbers == nil {
			l.SerialNumbers = []string{}
		}
		out = append(out, l)
	}
	p.Lines = out
	t.st.pickings[pickingID] = p
	return append([]picking.Line(nil), out...), nil
}
