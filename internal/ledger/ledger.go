package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Store is the transactional persistence the ledger writes through.
// Implementations must run every call in the caller's transaction.
type Store interface {
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	// AdjustBalance adds delta to the key, creating the row at zero first, and returns the new quantity.
	AdjustBalance(ctx context.Context, key BalanceKey, delta decimal.Decimal, at time.Time) (decimal.Decimal, error)
	// LockBalances locks the rows of keys in the order given, creating missing
	// rows at zero first, and returns their quantities.
	LockBalances(ctx context.Context, keys []BalanceKey) (map[BalanceKey]decimal.Decimal, error)
}

// Validate checks the shape of a movement before anything is written.
func (in MovementInput) Validate() error {
	if in.ItemID <= 0 || in.UOMID <= 0 {
		return ErrItemRequired
	}
	if !in.Qty.IsPositive() {
		return ErrInvalidQuantity
	}
	if in.SourceLocationID == nil && in.DestinationLocationID == nil {
		return ErrNoEndpoint
	}
	if in.SourceLocationID != nil && in.DestinationLocationID != nil && *in.SourceLocationID == *in.DestinationLocationID {
		return ErrSameEndpoint
	}
	if !in.Ref.Kind.Valid() || in.Ref.ID <= 0 {
		return ErrInvalidReference
	}
	return nil
}

// Record appends one movement and applies it to the balance projection in
// the same transaction. It is the only writer of stock_balances outside
// reconciliation. Rows already locked by LockMovements are not locked again.
func Record(ctx context.Context, store Store, in MovementInput) (Movement, error) {
	if err := LockMovements(ctx, store, []MovementInput{in}); err != nil {
		return Movement{}, err
	}
	at := in.At
	if at.IsZero() {
		at = time.Now()
	}

	m := Movement{
		ItemID:                in.ItemID,
		UOMID:                 in.UOMID,
		SourceLocationID:      in.SourceLocationID,
		DestinationLocationID: in.DestinationLocationID,
		Qty:                   in.Qty,
		Ref:                   in.Ref,
		ActorID:               in.ActorID,
		MovedAt:               at,
		Meta:                  in.Meta,
	}
	id, err := store.InsertMovement(ctx, m)
	if err != nil {
		return Movement{}, fmt.Errorf("ledger: insert movement: %w", err)
	}
	m.ID = id

	if m.DestinationLocationID != nil {
		key := BalanceKey{LocationID: *m.DestinationLocationID, ItemID: m.ItemID, UOMID: m.UOMID}
		if _, err := store.AdjustBalance(ctx, key, m.Qty, at); err != nil {
			return Movement{}, fmt.Errorf("ledger: credit balance: %w", err)
		}
	}
	if m.SourceLocationID != nil {
		key := BalanceKey{LocationID: *m.SourceLocationID, ItemID: m.ItemID, UOMID: m.UOMID}
		if _, err := store.AdjustBalance(ctx, key, m.Qty.Neg(), at); err != nil {
			return Movement{}, fmt.Errorf("ledger: debit balance: %w", err)
		}
	}
	return m, nil
}
