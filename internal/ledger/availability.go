package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

// Demand is an outbound quantity drawn from one balance key.
type Demand struct {
	Key  BalanceKey
	Qty  decimal.Decimal
	Line int
}

// EnsureAvailable locks every key in lock order, then checks that the summed
// demand per key fits the locked on-hand quantity. Demands against the same
// key accumulate, so two lines picking the same stock are checked together.
func EnsureAvailable(ctx context.Context, store Store, demands []Demand) error {
	if len(demands) == 0 {
		return nil
	}
	keys := make([]BalanceKey, 0, len(demands))
	for _, d := range demands {
		keys = append(keys, d.Key)
	}
	onHand, err := lockKeys(ctx, store, keys)
	if err != nil {
		return err
	}
	return checkDemands(onHand, demands)
}

// LockMovements takes the balance row locks of a whole posting up front:
// the source and destination keys of every movement, together, in key
// order. Movements flagged RequireAvailable are then checked against the
// locked quantities. Postings call it once before their first Record so no
// row is ever locked out of order.
func LockMovements(ctx context.Context, store Store, moves []MovementInput) error {
	keys := make([]BalanceKey, 0, 2*len(moves))
	var demands []Demand
	for _, in := range moves {
		if err := in.Validate(); err != nil {
			return err
		}
		keys = append(keys, in.Keys()...)
		if in.RequireAvailable && in.SourceLocationID != nil {
			demands = append(demands, Demand{Key: in.sourceKey(), Qty: in.Qty, Line: in.Line})
		}
	}
	onHand, err := lockKeys(ctx, store, keys)
	if err != nil {
		return err
	}
	return checkDemands(onHand, demands)
}

func lockKeys(ctx context.Context, store Store, keys []BalanceKey) (map[BalanceKey]decimal.Decimal, error) {
	if len(keys) == 0 {
		return map[BalanceKey]decimal.Decimal{}, nil
	}
	onHand, err := store.LockBalances(ctx, SortKeys(keys))
	if err != nil {
		return nil, fmt.Errorf("ledger: lock balances: %w", err)
	}
	return onHand, nil
}

func checkDemands(onHand map[BalanceKey]decimal.Decimal, demands []Demand) error {
	drawn := make(map[BalanceKey]decimal.Decimal, len(demands))
	for _, d := range demands {
		total := drawn[d.Key].Add(d.Qty)
		drawn[d.Key] = total
		available := onHand[d.Key]
		if total.Sub(available).GreaterThan(shared.QuantityEpsilon) {
			return &shared.InsufficientStockError{
				Line:       d.Line,
				ItemID:     d.Key.ItemID,
				LocationID: d.Key.LocationID,
				UOMID:      d.Key.UOMID,
				OnHand:     available.Sub(total.Sub(d.Qty)),
				Requested:  d.Qty,
			}
		}
	}
	return nil
}
