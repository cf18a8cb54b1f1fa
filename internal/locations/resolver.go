package locations

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// Store is the persistence used inside the caller's transaction.
type Store interface {
	GetWarehouse(ctx context.Context, id int64) (Warehouse, error)
	// LockWarehouse takes a row lock on the warehouse. Location writes of
	// one warehouse serialize on it.
	LockWarehouse(ctx context.Context, id int64) (Warehouse, error)
	GetLocation(ctx context.Context, id int64) (Location, error)
	LockLocation(ctx context.Context, id int64) (Location, error)
	ListLocations(ctx context.Context, filter ListFilter) ([]Location, error)
	InsertLocation(ctx context.Context, loc Location) (Location, error)
	UpdateLocation(ctx context.Context, loc Location) error
	// LocationStock sums the positive balances held at the location.
	LocationStock(ctx context.Context, id int64) (decimal.Decimal, error)
}

// RequireActiveWarehouse loads a warehouse and rejects inactive ones.
func RequireActiveWarehouse(ctx context.Context, store Store, id int64) (Warehouse, error) {
	wh, err := store.GetWarehouse(ctx, id)
	if err != nil {
		return Warehouse{}, err
	}
	if !wh.IsActive {
		return Warehouse{}, ErrWarehouseInactive
	}
	return wh, nil
}

// ResolveDefaultReceiving returns the unique active default RECEIVING location
// of a warehouse. Zero or several candidates fail.
func ResolveDefaultReceiving(ctx context.Context, store Store, warehouseID int64) (Location, error) {
	candidates, err := store.ListLocations(ctx, ListFilter{WarehouseID: warehouseID, Type: TypeReceiving, DefaultOnly: true})
	if err != nil {
		return Location{}, err
	}
	switch len(candidates) {
	case 0:
		return Location{}, fmt.Errorf("%w (warehouse %d)", ErrNoDefaultReceiving, warehouseID)
	case 1:
		return candidates[0], nil
	default:
		return Location{}, fmt.Errorf("%w (warehouse %d)", ErrAmbiguousDefaultReceiving, warehouseID)
	}
}

// RequireLocation loads an active location of the given warehouse and type.
func RequireLocation(ctx context.Context, store Store, warehouseID, locationID int64, want Type) (Location, error) {
	loc, err := store.GetLocation(ctx, locationID)
	if err != nil {
		return Location{}, err
	}
	if !loc.IsActive {
		return Location{}, ErrLocationInactive
	}
	if loc.WarehouseID != warehouseID {
		return Location{}, ErrWrongWarehouse
	}
	if want != "" && loc.Type != want {
		return Location{}, fmt.Errorf("%w: expected %s, got %s", ErrWrongType, want, loc.Type)
	}
	return loc, nil
}
