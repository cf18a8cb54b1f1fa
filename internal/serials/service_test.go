package serials_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/serials"
	"github.com/abdialidrus/scm-mining/internal/shared"
	"github.com/abdialidrus/scm-mining/internal/testing/memstore"
)

const (
	bin  = int64(50)
	item = int64(8)
)

// seedUnits books len(serialNos) units of item into bin.
func seedUnits(t *testing.T, db *memstore.DB, serialNos ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, db.Atomic(func(tx *memstore.Tx) error {
		if _, err := ledger.Record(ctx, tx, ledger.MovementInput{
			ItemID:                item,
			UOMID:                 1,
			DestinationLocationID: ledger.Int64Ptr(bin),
			Qty:                   decimal.NewFromInt(int64(len(serialNos))),
			Ref:                   shared.Reference{Kind: shared.RefGoodsReceipt, ID: 1},
		}); err != nil {
			return err
		}
		_, err := serials.Mint(ctx, tx, serials.MintInput{Line: 1, ItemID: item, UOMID: 1, LocationID: bin, ReceiptLineID: 3, Serials: serialNos})
		return err
	}))
}

func newService(t *testing.T) (*serials.Service, *memstore.DB, *memstore.AuditRecorder) {
	t.Helper()
	db := memstore.New()
	audit := &memstore.AuditRecorder{}
	ledgerSvc := ledger.NewService(memstore.Ledger(db), nil, nil, nil)
	return serials.NewService(memstore.SerialUnits(db), audit, ledgerSvc, nil), db, audit
}

func TestDamagedUnitStaysOnHand(t *testing.T) {
	svc, db, audit := newService(t)
	ctx := context.Background()
	seedUnits(t, db, "ENG-1", "ENG-2")

	u, err := svc.MarkDamaged(ctx, memstore.Operator(3), " ENG-1 ", "cracked housing")
	require.NoError(t, err)
	require.Equal(t, serials.StatusDamaged, u.Status)
	require.Equal(t, bin, *u.LocationID)
	require.True(t, memstore.Dec("2").Equal(db.BalanceOf(bin, item, 1)))
	require.Len(t, db.Movements(), 1)
	require.Equal(t, []string{"serial.DAMAGED"}, audit.Actions())

	_, err = svc.MarkDamaged(ctx, memstore.Operator(3), "ENG-1", "again")
	require.ErrorIs(t, err, serials.ErrTransition)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestDisposeWritesAdjustment(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	seedUnits(t, db, "ENG-1", "ENG-2")

	_, err := svc.MarkDamaged(ctx, memstore.Operator(3), "ENG-1", "")
	require.NoError(t, err)
	u, err := svc.Dispose(ctx, memstore.Operator(3), "ENG-1", "beyond repair")
	require.NoError(t, err)
	require.Equal(t, serials.StatusDisposed, u.Status)
	require.Nil(t, u.LocationID)
	require.True(t, memstore.Dec("1").Equal(db.BalanceOf(bin, item, 1)))

	moves := db.Movements()
	require.Len(t, moves, 2)
	adj := moves[1]
	require.Equal(t, shared.Reference{Kind: shared.RefAdjustment, ID: u.ID}, adj.Ref)
	require.Equal(t, bin, *adj.SourceLocationID)
	require.Equal(t, "beyond repair", adj.Meta["reason"])

	doc, err := svc.ResolveReference(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "ENG-1", doc.Number)

	_, err = svc.Dispose(ctx, memstore.Operator(3), "ENG-1", "")
	require.ErrorIs(t, err, serials.ErrTransition)

	// available units can be written off directly
	_, err = svc.Dispose(ctx, memstore.Operator(3), "ENG-2", "lost")
	require.NoError(t, err)
	require.True(t, db.BalanceOf(bin, item, 1).IsZero())
}

func TestUnitLookup(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	seedUnits(t, db, "ENG-1", "ENG-2", "ENG-3")

	_, err := svc.MarkDamaged(ctx, memstore.Operator(3), "ENG-404", "")
	require.ErrorIs(t, err, serials.ErrUnitNotFound)
	_, err = svc.MarkDamaged(ctx, memstore.Operator(3), "  ", "")
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.MarkDamaged(ctx, memstore.Viewer(3), "ENG-1", "")
	require.ErrorIs(t, err, shared.ErrForbidden)

	u, err := svc.Get(ctx, "ENG-2")
	require.NoError(t, err)
	require.Equal(t, item, u.ItemID)

	_, err = svc.MarkDamaged(ctx, memstore.Operator(3), "ENG-3", "")
	require.NoError(t, err)
	damaged, err := svc.List(ctx, serials.ListFilter{Status: serials.StatusDamaged})
	require.NoError(t, err)
	require.Len(t, damaged, 1)
	atBin, err := svc.List(ctx, serials.ListFilter{LocationID: bin, Limit: 2})
	require.NoError(t, err)
	require.Len(t, atBin, 2)
	require.Equal(t, "ENG-1", atBin[0].Serial)
}

func TestNormalize(t *testing.T) {
	require.Equal(t, "SN-\u00e9", serials.Normalize("  SN-e\u0301\t"))
	require.Equal(t, "", serials.Normalize("   "))
}

func TestStatusTransitions(t *testing.T) {
	require.True(t, serials.StatusAvailable.CanTransition(serials.StatusPicked))
	require.True(t, serials.StatusDamaged.CanTransition(serials.StatusDisposed))
	require.False(t, serials.StatusDamaged.CanTransition(serials.StatusAvailable))
	require.False(t, serials.StatusPicked.CanTransition(serials.StatusDisposed))
	require.False(t, serials.StatusDisposed.CanTransition(serials.StatusAvailable))
}

func TestDisposeLocksBalanceBeforeUnit(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	seedUnits(t, db, "ENG-1")

	_, err := svc.Dispose(ctx, memstore.Operator(3), "ENG-1", "burnt out")
	require.NoError(t, err)
	require.Empty(t, db.LockViolations())
	require.True(t, db.BalanceOf(bin, item, 1).IsZero())

	_, err = svc.Dispose(ctx, memstore.Operator(3), "ENG-404", "")
	require.ErrorIs(t, err, serials.ErrUnitNotFound)
}
