package putaway_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/abdialidrus/scm-mining/internal/catalog"
	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/locations"
	"github.com/abdialidrus/scm-mining/internal/putaway"
	"github.com/abdialidrus/scm-mining/internal/receiving"
	"github.com/abdialidrus/scm-mining/internal/serials"
	"github.com/abdialidrus/scm-mining/internal/shared"
	"github.com/abdialidrus/scm-mining/internal/testing/memstore"
)

var (
	dec      = memstore.Dec
	operator = memstore.Operator(11)
)

type fixture struct {
	db       *memstore.DB
	site     memstore.Site
	svc      *putaway.Service
	receipts *receiving.Service
	audit    *memstore.AuditRecorder
	cache    *memstore.Cache
	filter   catalog.Item
	tyre     catalog.Item
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := func() time.Time { return time.Date(2026, 10, 5, 9, 30, 0, 0, time.UTC) }
	f := &fixture{
		db:    memstore.New(),
		audit: &memstore.AuditRecorder{},
		cache: &memstore.Cache{},
	}
	f.site = f.db.SeedSite("WH1")
	f.filter = f.db.AddItem(catalog.Item{Code: "FLT-001", Name: "Oil filter"})
	f.tyre = f.db.AddItem(catalog.Item{Code: "TYR-4000", Name: "Haul truck tyre", IsSerialized: true})
	f.receipts = receiving.NewService(memstore.Receipts(f.db), receiving.Deps{Clock: clock})
	f.svc = putaway.NewService(memstore.PutAways(f.db), putaway.Deps{Audit: f.audit, Cache: f.cache, Clock: clock})
	return f
}

func requireQty(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

// receive posts a goods receipt of qty units of item.
func (f *fixture) receive(t *testing.T, item catalog.Item, qty string, serialNos ...string) receiving.GoodsReceipt {
	t.Helper()
	ctx := context.Background()
	po := f.db.SeedOrder("PO-"+item.Code+"-"+qty, memstore.OrderLine{Item: item, Qty: dec(qty)})
	gr, err := f.receipts.CreateDraft(ctx, operator, receiving.CreateInput{
		PurchaseOrderID: po.ID,
		WarehouseID:     f.site.Warehouse.ID,
		Lines:           []receiving.LineInput{{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec(qty), SerialNumbers: serialNos}},
	})
	require.NoError(t, err)
	gr, err = f.receipts.Post(ctx, operator, gr.ID)
	require.NoError(t, err)
	return gr
}

func (f *fixture) create(gr receiving.GoodsReceipt, lines ...putaway.LineInput) (putaway.PutAway, error) {
	return f.svc.CreateDraft(context.Background(), operator, putaway.CreateInput{GoodsReceiptID: gr.ID, Lines: lines})
}

func (f *fixture) line(gr receiving.GoodsReceipt, dest locations.Location, qty string, serialNos ...string) putaway.LineInput {
	return putaway.LineInput{
		GoodsReceiptLineID:    gr.Lines[0].ID,
		DestinationLocationID: dest.ID,
		Qty:                   dec(qty),
		SerialNumbers:         serialNos,
	}
}

func TestPostMovesStockIntoStorage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gr := f.receive(t, f.filter, "10")

	pa, err := f.create(gr, f.line(gr, f.site.BinA, "6"), f.line(gr, f.site.BinB, "4"))
	require.NoError(t, err)
	require.Equal(t, "PA-202610-0001", pa.Number)
	require.Len(t, pa.Lines, 2)

	posted, err := f.svc.Post(ctx, operator, pa.ID)
	require.NoError(t, err)
	require.Equal(t, shared.DocStatusPosted, posted.Status)

	uom := f.filter.BaseUOMID
	requireQty(t, "0", f.db.BalanceOf(f.site.Receiving.ID, f.filter.ID, uom))
	requireQty(t, "6", f.db.BalanceOf(f.site.BinA.ID, f.filter.ID, uom))
	requireQty(t, "4", f.db.BalanceOf(f.site.BinB.ID, f.filter.ID, uom))

	moves := f.db.Movements()
	require.Len(t, moves, 3)
	for _, m := range moves[1:] {
		require.Equal(t, shared.RefPutAway, m.Ref.Kind)
		require.Equal(t, f.site.Receiving.ID, *m.SourceLocationID)
	}
	require.Equal(t, moves[1].Meta["posting_id"], moves[2].Meta["posting_id"])

	summary, err := f.svc.GoodsReceiptPutAwaySummary(ctx, gr.ID)
	require.NoError(t, err)
	require.Len(t, summary, 1)
	requireQty(t, "10", summary[0].Received)
	requireQty(t, "10", summary[0].PutAway)
	requireQty(t, "0", summary[0].Remaining)

	report, err := ledger.NewService(memstore.Ledger(f.db), nil, nil, nil).Reconcile(ctx, false)
	require.NoError(t, err)
	require.True(t, report.Consistent())

	require.Equal(t, []string{"put_away.create", "put_away.post"}, f.audit.Actions())
	require.Equal(t, []int64{f.filter.ID}, f.cache.Items())
}

func TestOverPutAwayRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gr := f.receive(t, f.filter, "10")

	first, err := f.create(gr, f.line(gr, f.site.BinA, "7"))
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, operator, first.ID)
	require.NoError(t, err)

	_, err = f.create(gr, f.line(gr, f.site.BinA, "4"))
	require.ErrorIs(t, err, shared.ErrOverAllocation)
	var over *shared.OverAllocationError
	require.True(t, errors.As(err, &over))
	require.Equal(t, "over-put-away", over.Kind)
	requireQty(t, "3", over.Remaining())

	_, err = f.create(gr, f.line(gr, f.site.BinA, "2"), f.line(gr, f.site.BinB, "2"))
	require.ErrorIs(t, err, shared.ErrOverAllocation)

	rest, err := f.create(gr, f.line(gr, f.site.BinB, "3"))
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, operator, rest.ID)
	require.NoError(t, err)
	requireQty(t, "0", f.db.BalanceOf(f.site.Receiving.ID, f.filter.ID, f.filter.BaseUOMID))
}

func TestConcurrentPutAwaysNeverExceedReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gr := f.receive(t, f.filter, "10")

	var ids []int64
	for i := 0; i < 5; i++ {
		pa, err := f.create(gr, f.line(gr, f.site.BinA, "3"))
		require.NoError(t, err)
		ids = append(ids, pa.ID)
	}

	errs := make([]error, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = f.svc.Post(ctx, operator, id)
		}(i, id)
	}
	wg.Wait()

	posted := 0
	for _, err := range errs {
		if err == nil {
			posted++
			continue
		}
		require.ErrorIs(t, err, shared.ErrOverAllocation)
	}
	require.Equal(t, 3, posted)
	requireQty(t, "1", f.db.BalanceOf(f.site.Receiving.ID, f.filter.ID, f.filter.BaseUOMID))
	requireQty(t, "9", f.db.BalanceOf(f.site.BinA.ID, f.filter.ID, f.filter.BaseUOMID))
}

func TestReceiptMustBePosted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.db.SeedOrder("PO-DRAFT", memstore.OrderLine{Item: f.filter, Qty: dec("5")})
	draft, err := f.receipts.CreateDraft(ctx, operator, receiving.CreateInput{
		PurchaseOrderID: po.ID,
		WarehouseID:     f.site.Warehouse.ID,
		Lines:           []receiving.LineInput{{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("5")}},
	})
	require.NoError(t, err)

	_, err = f.create(draft, f.line(draft, f.site.BinA, "5"))
	require.ErrorIs(t, err, putaway.ErrReceiptNotPosted)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	_, err = f.svc.CreateDraft(ctx, operator, putaway.CreateInput{GoodsReceiptID: 777, Lines: []putaway.LineInput{f.line(draft, f.site.BinA, "1")}})
	require.ErrorIs(t, err, putaway.ErrReceiptNotFound)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestDestinationRules(t *testing.T) {
	f := newFixture(t)
	gr := f.receive(t, f.filter, "10")
	other := f.db.SeedSite("WH2")
	closed := f.db.AddLocation(locations.Location{WarehouseID: f.site.Warehouse.ID, Code: "WH1-Z99", Type: locations.TypeStorage})

	cases := []struct {
		name string
		dest locations.Location
		want error
	}{
		{"receiving location", f.site.Receiving, locations.ErrWrongType},
		{"inactive bin", closed, locations.ErrLocationInactive},
		{"other warehouse", other.BinA, locations.ErrWrongWarehouse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.create(gr, f.line(gr, tc.dest, "1"))
			require.ErrorIs(t, err, tc.want)
			var verr *shared.ValidationError
			require.True(t, errors.As(err, &verr))
			require.Equal(t, "destination_location_id", verr.Field)
			require.Equal(t, 1, verr.Line)
		})
	}

	_, err := f.create(gr, putaway.LineInput{GoodsReceiptLineID: 9999, DestinationLocationID: f.site.BinA.ID, Qty: dec("1")})
	require.ErrorIs(t, err, putaway.ErrReceiptLineMismatch)
}

func TestSerializedPutAwayRelocatesUnits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gr := f.receive(t, f.tyre, "2", "SN-A", "SN-B")

	_, err := f.create(gr, f.line(gr, f.site.BinA, "1", "SN-Z"))
	require.ErrorIs(t, err, putaway.ErrSerialNotReceived)

	pa, err := f.create(gr, f.line(gr, f.site.BinA, "1", "SN-A"))
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, operator, pa.ID)
	require.NoError(t, err)

	units := f.db.Units()
	require.Len(t, units, 2)
	require.Equal(t, "SN-A", units[0].Serial)
	require.Equal(t, f.site.BinA.ID, *units[0].LocationID)
	require.Equal(t, serials.StatusAvailable, units[0].Status)
	require.Equal(t, f.site.Receiving.ID, *units[1].LocationID)

	// the unit already left the receiving location
	again, err := f.create(gr, f.line(gr, f.site.BinB, "1", "SN-A"))
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, operator, again.ID)
	require.ErrorIs(t, err, serials.ErrUnitUnavailable)
	requireQty(t, "1", f.db.BalanceOf(f.site.Receiving.ID, f.tyre.ID, f.tyre.BaseUOMID))
}

func TestInsufficientStockAtSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gr := f.receive(t, f.filter, "10")
	source := f.site.BinB.ID

	pa, err := f.svc.CreateDraft(ctx, operator, putaway.CreateInput{
		GoodsReceiptID:   gr.ID,
		SourceLocationID: &source,
		Lines:            []putaway.LineInput{f.line(gr, f.site.BinA, "4")},
	})
	require.NoError(t, err)

	_, err = f.svc.Post(ctx, operator, pa.ID)
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	var short *shared.InsufficientStockError
	require.True(t, errors.As(err, &short))
	require.Equal(t, source, short.LocationID)
	requireQty(t, "0", short.OnHand)
	requireQty(t, "4", short.Requested)
	require.Len(t, f.db.Movements(), 1)

	updated, err := f.svc.UpdateDraft(ctx, operator, pa.ID, putaway.UpdateInput{ClearSource: true, Lines: []putaway.LineInput{f.line(gr, f.site.BinA, "4")}})
	require.NoError(t, err)
	require.Nil(t, updated.SourceLocationID)
	_, err = f.svc.Post(ctx, operator, pa.ID)
	require.NoError(t, err)
}

func TestCancelOnlyDrafts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gr := f.receive(t, f.filter, "10")

	draft, err := f.create(gr, f.line(gr, f.site.BinA, "2"))
	require.NoError(t, err)
	cancelled, err := f.svc.Cancel(ctx, operator, draft.ID, putaway.CancelInput{Reason: "bin full"})
	require.NoError(t, err)
	require.Equal(t, shared.DocStatusCancelled, cancelled.Status)

	posted, err := f.create(gr, f.line(gr, f.site.BinA, "2"))
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, operator, posted.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, operator, posted.ID, putaway.CancelInput{})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	hist, err := f.svc.History(ctx, posted.ID)
	require.NoError(t, err)
	require.Len(t, hist, 2)

	list, total, err := f.svc.List(ctx, putaway.ListFilter{GoodsReceiptID: gr.ID, Status: shared.DocStatusPosted})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Equal(t, posted.ID, list[0].ID)
}

func TestPostLocksBalancesInKeyOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gr := f.receive(t, f.filter, "10")

	// destinations listed against key order
	pa, err := f.create(gr, f.line(gr, f.site.BinB, "3"), f.line(gr, f.site.BinA, "2"))
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, operator, pa.ID)
	require.NoError(t, err)
	require.Empty(t, f.db.LockViolations())
	requireQty(t, "5", f.db.BalanceOf(f.site.Receiving.ID, f.filter.ID, f.filter.BaseUOMID))
}

func TestSourceOverrideMustDifferFromDestination(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	gr := f.receive(t, f.filter, "10")
	binA, binB := f.site.BinA.ID, f.site.BinB.ID

	_, err := f.svc.CreateDraft(ctx, operator, putaway.CreateInput{
		GoodsReceiptID:   gr.ID,
		SourceLocationID: &binA,
		Lines:            []putaway.LineInput{f.line(gr, f.site.BinB, "1"), f.line(gr, f.site.BinA, "1")},
	})
	require.ErrorIs(t, err, putaway.ErrSameLocation)
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, 2, verr.Line)
	require.Equal(t, "destination_location_id", verr.Field)

	pa, err := f.svc.CreateDraft(ctx, operator, putaway.CreateInput{
		GoodsReceiptID:   gr.ID,
		SourceLocationID: &binB,
		Lines:            []putaway.LineInput{f.line(gr, f.site.BinA, "1")},
	})
	require.NoError(t, err)
	_, err = f.svc.UpdateDraft(ctx, operator, pa.ID, putaway.UpdateInput{
		SourceLocationID: &binA,
		Lines:            []putaway.LineInput{f.line(gr, f.site.BinA, "1")},
	})
	require.ErrorIs(t, err, putaway.ErrSameLocation)

	_, err = f.create(gr, f.line(gr, f.site.BinA, "1.0000005"))
	require.ErrorIs(t, err, shared.ErrQuantityScale)
}
