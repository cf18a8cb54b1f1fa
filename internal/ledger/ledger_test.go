package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/shared"
	"github.com/abdialidrus/scm-mining/internal/testing/memstore"
)

var dec = memstore.Dec

func requireQty(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func record(t *testing.T, db *memstore.DB, in ledger.MovementInput) ledger.Movement {
	t.Helper()
	var m ledger.Movement
	err := db.Atomic(func(tx *memstore.Tx) error {
		var err error
		m, err = ledger.Record(context.Background(), tx, in)
		return err
	})
	require.NoError(t, err)
	return m
}

func inbound(loc, item int64, qty string, refID int64) ledger.MovementInput {
	return ledger.MovementInput{
		ItemID:                item,
		UOMID:                 1,
		DestinationLocationID: ledger.Int64Ptr(loc),
		Qty:                   dec(qty),
		Ref:                   shared.Reference{Kind: shared.RefGoodsReceipt, ID: refID},
		ActorID:               1,
	}
}

func TestRecordRejectsMalformedMovements(t *testing.T) {
	db := memstore.New()
	ref := shared.Reference{Kind: shared.RefPicking, ID: 1}
	loc := ledger.Int64Ptr(3)

	cases := []struct {
		name string
		in   ledger.MovementInput
		want error
	}{
		{"zero qty", ledger.MovementInput{ItemID: 1, UOMID: 1, DestinationLocationID: loc, Qty: decimal.Zero, Ref: ref}, ledger.ErrInvalidQuantity},
		{"negative qty", ledger.MovementInput{ItemID: 1, UOMID: 1, DestinationLocationID: loc, Qty: dec("-2"), Ref: ref}, ledger.ErrInvalidQuantity},
		{"no endpoint", ledger.MovementInput{ItemID: 1, UOMID: 1, Qty: dec("1"), Ref: ref}, ledger.ErrNoEndpoint},
		{"same endpoint", ledger.MovementInput{ItemID: 1, UOMID: 1, SourceLocationID: loc, DestinationLocationID: loc, Qty: dec("1"), Ref: ref}, ledger.ErrSameEndpoint},
		{"no reference", ledger.MovementInput{ItemID: 1, UOMID: 1, DestinationLocationID: loc, Qty: dec("1")}, ledger.ErrInvalidReference},
		{"unknown reference", ledger.MovementInput{ItemID: 1, UOMID: 1, DestinationLocationID: loc, Qty: dec("1"), Ref: shared.Reference{Kind: "TRANSFER", ID: 1}}, ledger.ErrInvalidReference},
		{"no item", ledger.MovementInput{UOMID: 1, DestinationLocationID: loc, Qty: dec("1"), Ref: ref}, ledger.ErrItemRequired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := db.Atomic(func(tx *memstore.Tx) error {
				_, err := ledger.Record(context.Background(), tx, tc.in)
				return err
			})
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}
	require.Empty(t, db.Movements())
}

func TestRecordTransferMovesBothSides(t *testing.T) {
	db := memstore.New()
	record(t, db, inbound(10, 5, "8", 1))
	m := record(t, db, ledger.MovementInput{
		ItemID:                5,
		UOMID:                 1,
		SourceLocationID:      ledger.Int64Ptr(10),
		DestinationLocationID: ledger.Int64Ptr(20),
		Qty:                   dec("2.5"),
		Ref:                   shared.Reference{Kind: shared.RefPutAway, ID: 1},
		RequireAvailable:      true,
	})
	require.NotZero(t, m.ID)
	require.False(t, m.MovedAt.IsZero())
	requireQty(t, "5.5", db.BalanceOf(10, 5, 1))
	requireQty(t, "2.5", db.BalanceOf(20, 5, 1))

	err := db.Atomic(func(tx *memstore.Tx) error {
		_, err := ledger.Record(context.Background(), tx, ledger.MovementInput{
			ItemID:           5,
			UOMID:            1,
			SourceLocationID: ledger.Int64Ptr(20),
			Qty:              dec("3"),
			Ref:              shared.Reference{Kind: shared.RefPicking, ID: 1},
			RequireAvailable: true,
			Line:             4,
		})
		return err
	})
	var short *shared.InsufficientStockError
	require.True(t, errors.As(err, &short))
	require.Equal(t, 4, short.Line)
	requireQty(t, "2.5", short.OnHand)
	requireQty(t, "2.5", db.BalanceOf(20, 5, 1))
}

func TestEnsureAvailableSumsDemandsPerKey(t *testing.T) {
	db := memstore.New()
	record(t, db, inbound(10, 5, "5", 1))
	record(t, db, inbound(11, 5, "1", 1))
	ctx := context.Background()

	a := ledger.BalanceKey{LocationID: 10, ItemID: 5, UOMID: 1}
	b := ledger.BalanceKey{LocationID: 11, ItemID: 5, UOMID: 1}

	err := db.Atomic(func(tx *memstore.Tx) error {
		return ledger.EnsureAvailable(ctx, tx, []ledger.Demand{
			{Key: a, Qty: dec("2"), Line: 1},
			{Key: b, Qty: dec("1"), Line: 2},
			{Key: a, Qty: dec("3"), Line: 3},
		})
	})
	require.NoError(t, err)

	err = db.Atomic(func(tx *memstore.Tx) error {
		return ledger.EnsureAvailable(ctx, tx, []ledger.Demand{
			{Key: a, Qty: dec("4"), Line: 1},
			{Key: a, Qty: dec("1.00000001"), Line: 2},
		})
	})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)

	// differences inside the epsilon are tolerated
	err = db.Atomic(func(tx *memstore.Tx) error {
		return ledger.EnsureAvailable(ctx, tx, []ledger.Demand{{Key: a, Qty: dec("5.0000000001")}})
	})
	require.NoError(t, err)

	err = db.Atomic(func(tx *memstore.Tx) error {
		return ledger.EnsureAvailable(ctx, tx, []ledger.Demand{{Key: ledger.BalanceKey{LocationID: 99, ItemID: 5, UOMID: 1}, Qty: dec("1")}})
	})
	var short *shared.InsufficientStockError
	require.True(t, errors.As(err, &short))
	requireQty(t, "0", short.OnHand)
}

func TestSortKeysDeduplicates(t *testing.T) {
	keys := ledger.SortKeys([]ledger.BalanceKey{
		{LocationID: 2, ItemID: 1, UOMID: 1},
		{LocationID: 1, ItemID: 9, UOMID: 1},
		{LocationID: 2, ItemID: 1, UOMID: 1},
		{LocationID: 1, ItemID: 3, UOMID: 2},
	})
	require.Equal(t, []ledger.BalanceKey{
		{LocationID: 1, ItemID: 3, UOMID: 2},
		{LocationID: 1, ItemID: 9, UOMID: 1},
		{LocationID: 2, ItemID: 1, UOMID: 1},
	}, keys)
}

func TestReconcileRepairsDrift(t *testing.T) {
	db := memstore.New()
	ctx := context.Background()
	record(t, db, inbound(10, 5, "7", 1))
	record(t, db, inbound(10, 6, "3", 2))
	svc := ledger.NewService(memstore.Ledger(db), nil, nil, nil)

	report, err := svc.Reconcile(ctx, true)
	require.NoError(t, err)
	require.True(t, report.Consistent())
	require.Equal(t, 2, report.CheckedKeys)

	drifted := ledger.BalanceKey{LocationID: 10, ItemID: 5, UOMID: 1}
	db.OverwriteBalance(drifted, dec("9"))
	db.OverwriteBalance(ledger.BalanceKey{LocationID: 44, ItemID: 6, UOMID: 1}, dec("1"))

	report, err = svc.Reconcile(ctx, false)
	require.NoError(t, err)
	require.Len(t, report.Drifts, 2)
	require.False(t, report.Repaired)
	require.Equal(t, drifted, report.Drifts[0].Key)
	requireQty(t, "2", report.Drifts[0].Difference)
	requireQty(t, "9", db.BalanceOf(10, 5, 1))

	report, err = svc.Reconcile(ctx, true)
	require.NoError(t, err)
	require.True(t, report.Repaired)
	requireQty(t, "7", db.BalanceOf(10, 5, 1))
	requireQty(t, "0", db.BalanceOf(44, 6, 1))

	report, err = svc.Reconcile(ctx, true)
	require.NoError(t, err)
	require.True(t, report.Consistent())
	require.False(t, report.Repaired)
}

func TestRebuildMatchesProjection(t *testing.T) {
	db := memstore.New()
	record(t, db, inbound(10, 5, "7", 1))
	record(t, db, ledger.MovementInput{
		ItemID:                5,
		UOMID:                 1,
		SourceLocationID:      ledger.Int64Ptr(10),
		DestinationLocationID: ledger.Int64Ptr(11),
		Qty:                   dec("4"),
		Ref:                   shared.Reference{Kind: shared.RefPutAway, ID: 1},
	})
	record(t, db, ledger.MovementInput{
		ItemID:           5,
		UOMID:            1,
		SourceLocationID: ledger.Int64Ptr(11),
		Qty:              dec("1.25"),
		Ref:              shared.Reference{Kind: shared.RefPicking, ID: 1},
	})

	rebuilt := ledger.Rebuild(db.Movements())
	requireQty(t, "3", rebuilt[ledger.BalanceKey{LocationID: 10, ItemID: 5, UOMID: 1}])
	requireQty(t, "2.75", rebuilt[ledger.BalanceKey{LocationID: 11, ItemID: 5, UOMID: 1}])
	requireQty(t, "2.75", db.BalanceOf(11, 5, 1))
}

func TestMovementQueries(t *testing.T) {
	db := memstore.New()
	ctx := context.Background()
	first := record(t, db, inbound(10, 5, "1", 1))
	record(t, db, inbound(11, 5, "1", 2))
	record(t, db, inbound(10, 6, "1", 3))
	svc := ledger.NewService(memstore.Ledger(db), nil, nil, nil)

	byLoc, err := svc.Movements(ctx, ledger.MovementFilter{LocationID: 10})
	require.NoError(t, err)
	require.Len(t, byLoc, 2)
	require.Equal(t, int64(6), byLoc[0].ItemID)

	byRef, err := svc.MovementsByReference(ctx, shared.Reference{Kind: shared.RefGoodsReceipt, ID: 2})
	require.NoError(t, err)
	require.Len(t, byRef, 1)

	src, err := svc.MovementSource(ctx, first.ID)
	require.NoError(t, err)
	require.Equal(t, shared.RefGoodsReceipt, src.Kind)

	_, err = svc.MovementSource(ctx, 999)
	require.ErrorIs(t, err, shared.ErrNotFound)

	bal, err := svc.Balance(ctx, ledger.BalanceKey{LocationID: 77, ItemID: 5, UOMID: 1})
	require.NoError(t, err)
	requireQty(t, "0", bal.Qty)
}

func TestOnHandSnapshotIsCached(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	db := memstore.New()
	ctx := context.Background()
	record(t, db, inbound(10, 5, "4", 1))
	record(t, db, inbound(11, 5, "6", 2))
	svc := ledger.NewService(memstore.Ledger(db), ledger.NewBalanceCache(client, time.Minute), nil, nil)

	snap, err := svc.OnHandByItem(ctx, 5)
	require.NoError(t, err)
	requireQty(t, "10", snap.Total)
	require.Len(t, snap.Locations, 2)
	require.True(t, mr.Exists("scm:stock:onhand:5"))

	record(t, db, inbound(10, 5, "5", 3))
	snap, err = svc.OnHandByItem(ctx, 5)
	require.NoError(t, err)
	requireQty(t, "10", snap.Total)

	svc.InvalidateItems(ctx, 5)
	require.False(t, mr.Exists("scm:stock:onhand:5"))
	snap, err = svc.OnHandByItem(ctx, 5)
	require.NoError(t, err)
	requireQty(t, "15", snap.Total)

	mr.FastForward(2 * time.Minute)
	require.False(t, mr.Exists("scm:stock:onhand:5"))
}

func TestOnHandWithoutRedis(t *testing.T) {
	db := memstore.New()
	record(t, db, inbound(10, 5, "4", 1))
	svc := ledger.NewService(memstore.Ledger(db), ledger.NewBalanceCache(nil, 0), nil, nil)

	snap, err := svc.OnHandByItem(context.Background(), 5)
	require.NoError(t, err)
	requireQty(t, "4", snap.Total)
	svc.InvalidateItems(context.Background(), 5)
}

func TestLockMovementsTakesEveryKeyInOrder(t *testing.T) {
	ctx := context.Background()
	transfer := func(from, to int64, qty string, line int) ledger.MovementInput {
		return ledger.MovementInput{
			ItemID:                5,
			UOMID:                 1,
			SourceLocationID:      ledger.Int64Ptr(from),
			DestinationLocationID: ledger.Int64Ptr(to),
			Qty:                   dec(qty),
			Ref:                   shared.Reference{Kind: shared.RefPutAway, ID: 1},
			RequireAvailable:      true,
			Line:                  line,
		}
	}

	db := memstore.New()
	record(t, db, inbound(10, 5, "6", 1))
	moves := []ledger.MovementInput{transfer(10, 30, "2", 1), transfer(10, 20, "3", 2)}
	require.NoError(t, db.Atomic(func(tx *memstore.Tx) error {
		if err := ledger.LockMovements(ctx, tx, moves); err != nil {
			return err
		}
		for _, m := range moves {
			if _, err := ledger.Record(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	}))
	require.Empty(t, db.LockViolations())
	requireQty(t, "1", db.BalanceOf(10, 5, 1))
	requireQty(t, "3", db.BalanceOf(20, 5, 1))

	// demands of all movements are summed per source
	err := db.Atomic(func(tx *memstore.Tx) error {
		return ledger.LockMovements(ctx, tx, []ledger.MovementInput{transfer(10, 30, "1", 1), transfer(10, 20, "0.5", 2)})
	})
	var short *shared.InsufficientStockError
	require.True(t, errors.As(err, &short))
	require.Equal(t, 2, short.Line)

	err = db.Atomic(func(tx *memstore.Tx) error {
		return ledger.LockMovements(ctx, tx, []ledger.MovementInput{transfer(10, 10, "1", 1)})
	})
	require.ErrorIs(t, err, ledger.ErrSameEndpoint)

	// recording line by line without the upfront lock acquires keys out of order
	unordered := memstore.New()
	record(t, unordered, inbound(10, 5, "6", 1))
	require.NoError(t, unordered.Atomic(func(tx *memstore.Tx) error {
		for _, m := range []ledger.MovementInput{transfer(10, 30, "2", 1), transfer(10, 20, "3", 2)} {
			if _, err := ledger.Record(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	}))
	require.NotEmpty(t, unordered.LockViolations())
}
