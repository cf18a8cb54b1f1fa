// Package ledger keeps the append-only stock movement log and the per
// location balance projection derived from it.
package ledger

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

var (
	// ErrInvalidQuantity indicates a non-positive movement quantity.
	ErrInvalidQuantity = fmt.Errorf("%w: ledger: quantity must be greater than zero", shared.ErrValidation)
	// ErrNoEndpoint indicates a movement with neither source nor destination.
	ErrNoEndpoint = fmt.Errorf("%w: ledger: source or destination location required", shared.ErrValidation)
	// ErrSameEndpoint indicates a movement whose source equals its destination.
	ErrSameEndpoint = fmt.Errorf("%w: ledger: source and destination must differ", shared.ErrValidation)
	// ErrInvalidReference indicates an unknown or empty reference.
	ErrInvalidReference = fmt.Errorf("%w: ledger: reference kind and id required", shared.ErrValidation)
	// ErrItemRequired indicates a movement without item or unit of measure.
	ErrItemRequired = fmt.Errorf("%w: ledger: item and uom required", shared.ErrValidation)
)

// Movement is one immutable stock transfer. A nil source means stock enters
// from outside the tracked locations; a nil destination means it leaves them.
type Movement struct {
	ID                    int64            `json:"id"`
	ItemID                int64            `json:"item_id"`
	UOMID                 int64            `json:"uom_id"`
	SourceLocationID      *int64           `json:"source_location_id,omitempty"`
	DestinationLocationID *int64           `json:"destination_location_id,omitempty"`
	Qty                   decimal.Decimal  `json:"qty"`
	Ref                   shared.Reference `json:"ref"`
	ActorID               int64            `json:"actor_id"`
	MovedAt               time.Time        `json:"moved_at"`
	Meta                  map[string]any   `json:"meta,omitempty"`
}

// BalanceKey identifies one row of the projection.
type BalanceKey struct {
	LocationID int64 `json:"location_id"`
	ItemID     int64 `json:"item_id"`
	UOMID      int64 `json:"uom_id"`
}

// Less orders keys by location, item, uom. Locks are always taken in this order.
func (k BalanceKey) Less(o BalanceKey) bool {
	if k.LocationID != o.LocationID {
		return k.LocationID < o.LocationID
	}
	if k.ItemID != o.ItemID {
		return k.ItemID < o.ItemID
	}
	return k.UOMID < o.UOMID
}

// SortKeys sorts keys in lock order and drops duplicates.
func SortKeys(keys []BalanceKey) []BalanceKey {
	out := make([]BalanceKey, 0, len(keys))
	seen := make(map[BalanceKey]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Balance is the projected on-hand quantity of one key.
type Balance struct {
	BalanceKey
	Qty       decimal.Decimal `json:"qty"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ItemOnHand aggregates an item's balances across locations.
type ItemOnHand struct {
	ItemID    int64           `json:"item_id"`
	Total     decimal.Decimal `json:"total"`
	Locations []Balance       `json:"locations"`
}

// MovementInput describes a movement to append.
type MovementInput struct {
	ItemID                int64
	UOMID                 int64
	SourceLocationID      *int64
	DestinationLocationID *int64
	Qty                   decimal.Decimal
	Ref                   shared.Reference
	ActorID               int64
	At                    time.Time
	Meta                  map[string]any
	// RequireAvailable rejects the movement when it would drive the source
	// on-hand below zero.
	RequireAvailable bool
	// Line is reported in InsufficientStockError.
	Line int
}

// Keys returns the balance keys the movement writes, unsorted.
func (in MovementInput) Keys() []BalanceKey {
	keys := make([]BalanceKey, 0, 2)
	if in.SourceLocationID != nil {
		keys = append(keys, in.sourceKey())
	}
	if in.DestinationLocationID != nil {
		keys = append(keys, BalanceKey{LocationID: *in.DestinationLocationID, ItemID: in.ItemID, UOMID: in.UOMID})
	}
	return keys
}

func (in MovementInput) sourceKey() BalanceKey {
	return BalanceKey{LocationID: *in.SourceLocationID, ItemID: in.ItemID, UOMID: in.UOMID}
}

// MovementFilter narrows movement queries. Zero values are ignored.
type MovementFilter struct {
	Ref        *shared.Reference
	ItemID     int64
	LocationID int64
	From       time.Time
	To         time.Time
	Limit      int
}

// BalanceFilter narrows balance queries. Zero values are ignored.
type BalanceFilter struct {
	ItemID      int64
	LocationID  int64
	WarehouseID int64
	NonZero     bool
}

// Rebuild folds movements into balances from scratch.
func Rebuild(movements []Movement) map[BalanceKey]decimal.Decimal {
	out := make(map[BalanceKey]decimal.Decimal)
	for _, m := range movements {
		if m.DestinationLocationID != nil {
			k := BalanceKey{LocationID: *m.DestinationLocationID, ItemID: m.ItemID, UOMID: m.UOMID}
			out[k] = out[k].Add(m.Qty)
		}
		if m.SourceLocationID != nil {
			k := BalanceKey{LocationID: *m.SourceLocationID, ItemID: m.ItemID, UOMID: m.UOMID}
			out[k] = out[k].Sub(m.Qty)
		}
	}
	return out
}

// Int64Ptr is a helper for optional location ids.
func Int64Ptr(v int64) *int64 {
	return &v
}
