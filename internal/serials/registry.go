package serials

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

// Store persists units inside the caller's transaction.
type Store interface {
	// ExistingSerials returns which of serials are already registered.
	ExistingSerials(ctx context.Context, serials []string) ([]string, error)
	InsertUnits(ctx context.Context, units []Unit) ([]Unit, error)
	// LockUnits locks the units with the given serials, ordered by serial.
	LockUnits(ctx context.Context, serials []string) ([]Unit, error)
	UpdateUnit(ctx context.Context, unit Unit) error
}

// MintInput registers the units created by one receipt line.
type MintInput struct {
	Line          int
	ItemID        int64
	UOMID         int64
	LocationID    int64
	ReceiptLineID int64
	Serials       []string
	At            time.Time
}

// Mint creates AVAILABLE units at the receiving location. Serials are
// globally unique: a serial seen before, in any status, is rejected.
func Mint(ctx context.Context, store Store, in MintInput) ([]Unit, error) {
	if len(in.Serials) == 0 {
		return nil, nil
	}
	existing, err := store.ExistingSerials(ctx, in.Serials)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		sort.Strings(existing)
		return nil, &DuplicateError{Line: in.Line, Serials: existing}
	}
	at := in.At
	if at.IsZero() {
		at = time.Now()
	}
	units := make([]Unit, 0, len(in.Serials))
	for _, s := range in.Serials {
		loc := in.LocationID
		units = append(units, Unit{
			Serial:        s,
			ItemID:        in.ItemID,
			UOMID:         in.UOMID,
			Status:        StatusAvailable,
			LocationID:    &loc,
			ReceiptLineID: in.ReceiptLineID,
			CreatedAt:     at,
			UpdatedAt:     at,
		})
	}
	return store.InsertUnits(ctx, units)
}

// MoveInput names units leaving one location.
type MoveInput struct {
	Line    int
	ItemID  int64
	FromID  int64
	Serials []string
	At      time.Time
}

func lockAvailable(ctx context.Context, store Store, in MoveInput) ([]Unit, error) {
	units, err := store.LockUnits(ctx, in.Serials)
	if err != nil {
		return nil, err
	}
	found := make(map[string]Unit, len(units))
	for _, u := range units {
		found[u.Serial] = u
	}
	for _, s := range in.Serials {
		u, ok := found[s]
		if !ok {
			return nil, shared.InvalidLine(in.Line, "serial_numbers", fmt.Errorf("%w: %s", ErrUnitNotFound, s))
		}
		if u.ItemID != in.ItemID || u.Status != StatusAvailable || u.LocationID == nil || *u.LocationID != in.FromID {
			return nil, shared.InvalidLine(in.Line, "serial_numbers", fmt.Errorf("%w: %s", ErrUnitUnavailable, s))
		}
	}
	return units, nil
}

// Relocate moves AVAILABLE units from in.FromID to toID.
func Relocate(ctx context.Context, store Store, in MoveInput, toID int64) error {
	units, err := lockAvailable(ctx, store, in)
	if err != nil {
		return err
	}
	for _, u := range units {
		dst := toID
		u.LocationID = &dst
		u.UpdatedAt = stamp(in.At)
		if err := store.UpdateUnit(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

// Consume marks AVAILABLE units at in.FromID as PICKED by a picking line.
func Consume(ctx context.Context, store Store, in MoveInput, pickingLineID int64) error {
	units, err := lockAvailable(ctx, store, in)
	if err != nil {
		return err
	}
	for _, u := range units {
		line := pickingLineID
		u.Status = StatusPicked
		u.PickingLineID = &line
		u.LocationID = nil
		u.UpdatedAt = stamp(in.At)
		if err := store.UpdateUnit(ctx, u); err != nil {
			return err
		}
	}
	return nil
}

func stamp(at time.Time) time.Time {
	if at.IsZero() {
		return time.Now()
	}
	return at
}
