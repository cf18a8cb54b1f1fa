package receiving_test

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
	"github.com/abdialidrus/scm-mining/internal/procurement"
	"github.com/abdialidrus/scm-mining/internal/receiving"
	"github.com/abdialidrus/scm-mining/internal/serials"
	"github.com/abdialidrus/scm-mining/internal/shared"
	"github.com/abdialidrus/scm-mining/internal/testing/memstore"
)

var dec = memstore.Dec

type fixture struct {
	db       *memstore.DB
	site     memstore.Site
	svc      *receiving.Service
	audit    *memstore.AuditRecorder
	observer *memstore.Observer
	cache    *memstore.Cache
	now      time.Time
	filter   catalog.Item
	tyre     catalog.Item
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:       memstore.New(),
		audit:    &memstore.AuditRecorder{},
		observer: &memstore.Observer{},
		cache:    &memstore.Cache{},
		now:      time.Date(2026, 10, 3, 8, 0, 0, 0, time.UTC),
	}
	f.site = f.db.SeedSite("WH1")
	f.filter = f.db.AddItem(catalog.Item{Code: "FLT-001", Name: "Oil filter"})
	f.tyre = f.db.AddItem(catalog.Item{Code: "TYR-4000", Name: "Haul truck tyre", IsSerialized: true})
	f.svc = receiving.NewService(memstore.Receipts(f.db), receiving.Deps{
		Audit:    f.audit,
		Observer: f.observer,
		Cache:    f.cache,
		Clock:    func() time.Time { return f.now },
	})
	return f
}

func requireQty(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func (f *fixture) draft(t *testing.T, po procurement.PurchaseOrder, lines ...receiving.LineInput) receiving.GoodsReceipt {
	t.Helper()
	gr, err := f.svc.CreateDraft(context.Background(), memstore.Operator(7), receiving.CreateInput{
		PurchaseOrderID: po.ID,
		WarehouseID:     f.site.Warehouse.ID,
		Lines:           lines,
	})
	require.NoError(t, err)
	return gr
}

func TestPostReceiptBooksStockAtDefaultReceiving(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.db.SeedOrder("PO-1", memstore.OrderLine{Item: f.filter, Qty: dec("10")})

	gr := f.draft(t, po, receiving.LineInput{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("10")})
	require.Equal(t, "GR-202610-0001", gr.Number)
	require.Equal(t, shared.DocStatusDraft, gr.Status)
	require.NotEmpty(t, gr.POSnapshot)
	require.Empty(t, f.db.Movements())

	posted, err := f.svc.Post(ctx, memstore.Operator(7), gr.ID)
	require.NoError(t, err)
	require.Equal(t, shared.DocStatusPosted, posted.Status)
	require.NotNil(t, posted.PostedAt)

	requireQty(t, "10", f.db.BalanceOf(f.site.Receiving.ID, f.filter.ID, f.filter.BaseUOMID))
	moves := f.db.Movements()
	require.Len(t, moves, 1)
	require.Nil(t, moves[0].SourceLocationID)
	require.Equal(t, f.site.Receiving.ID, *moves[0].DestinationLocationID)
	require.Equal(t, shared.Reference{Kind: shared.RefGoodsReceipt, ID: gr.ID}, moves[0].Ref)
	require.Equal(t, gr.Number, moves[0].Meta["document_number"])
	require.NotEmpty(t, moves[0].Meta["posting_id"])

	hist := f.db.HistoryOf(shared.RefGoodsReceipt, gr.ID)
	require.Len(t, hist, 2)
	require.Equal(t, shared.ActionCreate, hist[0].Action)
	require.Equal(t, shared.ActionPost, hist[1].Action)
	require.Equal(t, []string{"goods_receipt.create", "goods_receipt.post"}, f.audit.Actions())
	require.Equal(t, []int64{f.filter.ID}, f.cache.Items())
}

func TestOverReceiptRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.db.SeedOrder("PO-2", memstore.OrderLine{Item: f.filter, Qty: dec("10")})
	line := po.Lines[0].ID

	first := f.draft(t, po, receiving.LineInput{PurchaseOrderLineID: line, Qty: dec("6")})
	_, err := f.svc.Post(ctx, memstore.Operator(7), first.ID)
	require.NoError(t, err)

	_, err = f.svc.CreateDraft(ctx, memstore.Operator(7), receiving.CreateInput{
		PurchaseOrderID: po.ID,
		WarehouseID:     f.site.Warehouse.ID,
		Lines:           []receiving.LineInput{{PurchaseOrderLineID: line, Qty: dec("5")}},
	})
	require.ErrorIs(t, err, shared.ErrOverAllocation)
	var over *shared.OverAllocationError
	require.True(t, errors.As(err, &over))
	require.Equal(t, "over-receipt", over.Kind)
	require.Equal(t, 1, over.Line)
	requireQty(t, "4", over.Remaining())

	// two lines of the same order line are checked together
	_, err = f.svc.CreateDraft(ctx, memstore.Operator(7), receiving.CreateInput{
		PurchaseOrderID: po.ID,
		WarehouseID:     f.site.Warehouse.ID,
		Lines: []receiving.LineInput{
			{PurchaseOrderLineID: line, Qty: dec("3")},
			{PurchaseOrderLineID: line, Qty: dec("2")},
		},
	})
	require.ErrorIs(t, err, shared.ErrOverAllocation)
	require.True(t, errors.As(err, &over))
	require.Equal(t, 2, over.Line)

	f.draft(t, po, receiving.LineInput{PurchaseOrderLineID: line, Qty: dec("4")})
}

func TestDraftsReserveNothingUntilPosted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.db.SeedOrder("PO-3", memstore.OrderLine{Item: f.filter, Qty: dec("10")})
	line := po.Lines[0].ID

	a := f.draft(t, po, receiving.LineInput{PurchaseOrderLineID: line, Qty: dec("8")})
	b := f.draft(t, po, receiving.LineInput{PurchaseOrderLineID: line, Qty: dec("8")})

	_, err := f.svc.Post(ctx, memstore.Operator(7), a.ID)
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, memstore.Operator(7), b.ID)
	require.ErrorIs(t, err, shared.ErrOverAllocation)

	stored, ok := f.db.Receipt(b.ID)
	require.True(t, ok)
	require.Equal(t, shared.DocStatusDraft, stored.Status)
	require.Len(t, f.db.Movements(), 1)
	requireQty(t, "8", f.db.BalanceOf(f.site.Receiving.ID, f.filter.ID, f.filter.BaseUOMID))
}

func TestConcurrentPostsNeverOverReceive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.db.SeedOrder("PO-4", memstore.OrderLine{Item: f.filter, Qty: dec("10")})

	var drafts []receiving.GoodsReceipt
	for i := 0; i < 6; i++ {
		drafts = append(drafts, f.draft(t, po, receiving.LineInput{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("3")}))
	}

	errs := make([]error, len(drafts))
	var wg sync.WaitGroup
	for i, gr := range drafts {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			_, errs[i] = f.svc.Post(ctx, memstore.Operator(int64(100+i)), id)
		}(i, gr.ID)
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
	requireQty(t, "9", f.db.BalanceOf(f.site.Receiving.ID, f.filter.ID, f.filter.BaseUOMID))

	progress, err := f.svc.Progress(ctx, po.ID)
	require.NoError(t, err)
	require.Len(t, progress, 1)
	requireQty(t, "9", progress[0].Received)
	requireQty(t, "1", progress[0].Remaining)
}

func TestSerializedReceiptMintsUnits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.db.SeedOrder("PO-5", memstore.OrderLine{Item: f.tyre, Qty: dec("4")})

	gr := f.draft(t, po, receiving.LineInput{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("2"), SerialNumbers: []string{" SN-001 ", "SN-002"}})
	require.Equal(t, []string{"SN-001", "SN-002"}, gr.Lines[0].SerialNumbers)
	_, err := f.svc.Post(ctx, memstore.Operator(7), gr.ID)
	require.NoError(t, err)

	units := f.db.Units()
	require.Len(t, units, 2)
	for _, u := range units {
		require.Equal(t, serials.StatusAvailable, u.Status)
		require.Equal(t, f.site.Receiving.ID, *u.LocationID)
		require.Equal(t, gr.Lines[0].ID, u.ReceiptLineID)
	}

	// a serial can never be received twice, the whole posting rolls back
	dup := f.draft(t, po, receiving.LineInput{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("2"), SerialNumbers: []string{"SN-003", "SN-002"}})
	_, err = f.svc.Post(ctx, memstore.Operator(7), dup.ID)
	require.ErrorIs(t, err, serials.ErrDuplicateSerial)
	var dupErr *serials.DuplicateError
	require.True(t, errors.As(err, &dupErr))
	require.Equal(t, []string{"SN-002"}, dupErr.Serials)

	require.Len(t, f.db.Units(), 2)
	require.Len(t, f.db.Movements(), 1)
	stored, _ := f.db.Receipt(dup.ID)
	require.Equal(t, shared.DocStatusDraft, stored.Status)
}

func TestSerialRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.db.SeedOrder("PO-6",
		memstore.OrderLine{Item: f.tyre, Qty: dec("4")},
		memstore.OrderLine{Item: f.filter, Qty: dec("4")},
	)
	tyreLine, filterLine := po.Lines[0].ID, po.Lines[1].ID

	// drafts may carry fewer serials than the quantity
	gr := f.draft(t, po, receiving.LineInput{PurchaseOrderLineID: tyreLine, Qty: dec("2"), SerialNumbers: []string{"SN-100"}})
	_, err := f.svc.Post(ctx, memstore.Operator(7), gr.ID)
	require.ErrorIs(t, err, serials.ErrCountMismatch)
	require.ErrorIs(t, err, shared.ErrValidation)

	cases := []struct {
		name  string
		lines []receiving.LineInput
		want  error
	}{
		{"fractional", []receiving.LineInput{{PurchaseOrderLineID: tyreLine, Qty: dec("1.5"), SerialNumbers: []string{"SN-1", "SN-2"}}}, serials.ErrFractionalQuantity},
		{"blank", []receiving.LineInput{{PurchaseOrderLineID: tyreLine, Qty: dec("1"), SerialNumbers: []string{"  "}}}, serials.ErrEmptySerial},
		{"repeated", []receiving.LineInput{{PurchaseOrderLineID: tyreLine, Qty: dec("2"), SerialNumbers: []string{"SN-1", "SN-1"}}}, serials.ErrDuplicateSerial},
		{"across lines", []receiving.LineInput{
			{PurchaseOrderLineID: tyreLine, Qty: dec("1"), SerialNumbers: []string{"SN-1"}},
			{PurchaseOrderLineID: tyreLine, Qty: dec("1"), SerialNumbers: []string{"SN-1"}},
		}, serials.ErrDuplicateSerial},
		{"not serialized", []receiving.LineInput{{PurchaseOrderLineID: filterLine, Qty: dec("1"), SerialNumbers: []string{"SN-1"}}}, serials.ErrUnexpectedSerials},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.UpdateDraft(ctx, memstore.Operator(7), gr.ID, receiving.UpdateInput{Lines: tc.lines})
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, shared.ErrValidation)
		})
	}

	updated, err := f.svc.UpdateDraft(ctx, memstore.Operator(7), gr.ID, receiving.UpdateInput{
		Lines: []receiving.LineInput{{PurchaseOrderLineID: tyreLine, Qty: dec("2"), SerialNumbers: []string{"SN-100", "SN-101"}}},
	})
	require.NoError(t, err)
	require.Len(t, updated.Lines, 1)
	_, err = f.svc.Post(ctx, memstore.Operator(7), gr.ID)
	require.NoError(t, err)
}

func TestLineValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.db.SeedOrder("PO-7", memstore.OrderLine{Item: f.filter, Qty: dec("10")})
	other := f.db.SeedOrder("PO-8", memstore.OrderLine{Item: f.filter, Qty: dec("10")})

	create := func(lines ...receiving.LineInput) error {
		_, err := f.svc.CreateDraft(ctx, memstore.Operator(7), receiving.CreateInput{
			PurchaseOrderID: po.ID,
			WarehouseID:     f.site.Warehouse.ID,
			Lines:           lines,
		})
		return err
	}

	require.ErrorIs(t, create(), shared.ErrValidation)
	require.ErrorIs(t, create(receiving.LineInput{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("0")}), receiving.ErrInvalidQuantity)
	require.ErrorIs(t, create(receiving.LineInput{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("-1")}), shared.ErrValidation)

	err := create(receiving.LineInput{PurchaseOrderLineID: other.Lines[0].ID, Qty: dec("1")})
	require.ErrorIs(t, err, receiving.ErrPOLineMismatch)
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, 1, verr.Line)
	require.Equal(t, "purchase_order_line_id", verr.Field)
}

func TestPurchaseOrderStatusGate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.db.SeedOrder("PO-9", memstore.OrderLine{Item: f.filter, Qty: dec("10")})
	in := receiving.CreateInput{
		PurchaseOrderID: po.ID,
		WarehouseID:     f.site.Warehouse.ID,
		Lines:           []receiving.LineInput{{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("1")}},
	}

	f.db.SetPurchaseOrderStatus(po.ID, procurement.POStatusDraft)
	_, err := f.svc.CreateDraft(ctx, memstore.Operator(7), in)
	require.ErrorIs(t, err, receiving.ErrPONotReceivable)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	// a CLOSED order still accepts receipts for its open balance
	f.db.SetPurchaseOrderStatus(po.ID, procurement.POStatusClosed)
	gr, err := f.svc.CreateDraft(ctx, memstore.Operator(7), in)
	require.NoError(t, err)

	f.db.SetPurchaseOrderStatus(po.ID, procurement.POStatusCancelled)
	_, err = f.svc.Post(ctx, memstore.Operator(7), gr.ID)
	require.ErrorIs(t, err, receiving.ErrPONotReceivable)

	_, err = f.svc.CreateDraft(ctx, memstore.Operator(7), receiving.CreateInput{PurchaseOrderID: 9999, WarehouseID: f.site.Warehouse.ID, Lines: in.Lines})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestWarehouseRequirements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.db.SeedOrder("PO-10", memstore.OrderLine{Item: f.filter, Qty: dec("10")})
	lines := []receiving.LineInput{{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("1")}}

	bare := f.db.AddWarehouse("WH2")
	gr, err := f.svc.CreateDraft(ctx, memstore.Operator(7), receiving.CreateInput{PurchaseOrderID: po.ID, WarehouseID: bare.ID, Lines: lines})
	require.NoError(t, err)
	_, err = f.svc.Post(ctx, memstore.Operator(7), gr.ID)
	require.ErrorIs(t, err, locations.ErrNoDefaultReceiving)
	require.Empty(t, f.db.Movements())

	f.db.SetWarehouseActive(bare.ID, false)
	_, err = f.svc.CreateDraft(ctx, memstore.Operator(7), receiving.CreateInput{PurchaseOrderID: po.ID, WarehouseID: bare.ID, Lines: lines})
	require.ErrorIs(t, err, locations.ErrWarehouseInactive)
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.db.SeedOrder("PO-11", memstore.OrderLine{Item: f.filter, Qty: dec("10")})
	line := receiving.LineInput{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("2")}

	draft := f.draft(t, po, line)
	cancelled, err := f.svc.Cancel(ctx, memstore.Operator(7), draft.ID, receiving.CancelInput{Reason: " wrong supplier "})
	require.NoError(t, err)
	require.Equal(t, shared.DocStatusCancelled, cancelled.Status)
	require.Equal(t, "wrong supplier", cancelled.CancelReason)
	_, err = f.svc.Post(ctx, memstore.Operator(7), draft.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	posted := f.draft(t, po, line)
	_, err = f.svc.Post(ctx, memstore.Operator(7), posted.ID)
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, memstore.Operator(7), posted.ID, receiving.CancelInput{})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	_, err = f.svc.UpdateDraft(ctx, memstore.Operator(7), posted.ID, receiving.UpdateInput{Lines: []receiving.LineInput{line}})
	require.ErrorIs(t, err, shared.ErrInvalidState)
	requireQty(t, "2", f.db.BalanceOf(f.site.Receiving.ID, f.filter.ID, f.filter.BaseUOMID))

	_, err = f.svc.Cancel(ctx, memstore.Operator(7), 424242, receiving.CancelInput{})
	require.ErrorIs(t, err, receiving.ErrNotFound)
}

func TestNumbersRestartEachMonth(t *testing.T) {
	f := newFixture(t)
	po := f.db.SeedOrder("PO-12", memstore.OrderLine{Item: f.filter, Qty: dec("100")})
	line := receiving.LineInput{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("1")}

	require.Equal(t, "GR-202610-0001", f.draft(t, po, line).Number)
	require.Equal(t, "GR-202610-0002", f.draft(t, po, line).Number)
	f.now = time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC)
	require.Equal(t, "GR-202611-0001", f.draft(t, po, line).Number)

	list, total, err := f.svc.List(context.Background(), receiving.ListFilter{PurchaseOrderID: po.ID, PerPage: 2})
	require.NoError(t, err)
	require.Equal(t, 3, total)
	require.Len(t, list, 2)
	require.Equal(t, "GR-202611-0001", list[0].Number)
}

func TestRequiresWarehouseRole(t *testing.T) {
	f := newFixture(t)
	po := f.db.SeedOrder("PO-13", memstore.OrderLine{Item: f.filter, Qty: dec("10")})

	_, err := f.svc.CreateDraft(context.Background(), memstore.Viewer(9), receiving.CreateInput{
		PurchaseOrderID: po.ID,
		WarehouseID:     f.site.Warehouse.ID,
		Lines:           []receiving.LineInput{{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("1")}},
	})
	require.ErrorIs(t, err, shared.ErrForbidden)
	require.Empty(t, f.db.Receipts())
	require.Empty(t, f.audit.Actions())
	require.Len(t, f.observer.Events, 1)
	require.Equal(t, shared.ActionCreate, f.observer.Events[0].Action)
	require.ErrorIs(t, f.observer.Events[0].Err, shared.ErrForbidden)
}

func TestReceiptMovementsAreTraceable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.db.SeedOrder("PO-14", memstore.OrderLine{Item: f.filter, Qty: dec("5")})
	gr := f.draft(t, po, receiving.LineInput{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("5")})
	_, err := f.svc.Post(ctx, memstore.Operator(7), gr.ID)
	require.NoError(t, err)

	refs := shared.NewReferenceRegistry()
	refs.Register(shared.RefGoodsReceipt, f.svc)
	ledgerSvc := ledger.NewService(memstore.Ledger(f.db), nil, refs, nil)

	moves, err := ledgerSvc.MovementsByReference(ctx, shared.Reference{Kind: shared.RefGoodsReceipt, ID: gr.ID})
	require.NoError(t, err)
	require.Len(t, moves, 1)
	src, err := ledgerSvc.MovementSource(ctx, moves[0].ID)
	require.NoError(t, err)
	require.Equal(t, gr.Number, src.Number)
	require.Equal(t, shared.DocStatusPosted, src.Status)
}

func TestUpdateDraftKeepsOrderSnapshot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.db.SeedOrder("PO-20", memstore.OrderLine{Item: f.filter, Qty: dec("10")})
	gr := f.draft(t, po, receiving.LineInput{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("4")})
	orderSnap := string(gr.POSnapshot)
	siteSnap := string(gr.WarehouseSnapshot)
	require.Contains(t, orderSnap, `"status":"APPROVED"`)

	f.db.SetPurchaseOrderStatus(po.ID, procurement.POStatusSent)
	remarks := "second truck"
	updated, err := f.svc.UpdateDraft(ctx, memstore.Operator(7), gr.ID, receiving.UpdateInput{
		WarehouseID: f.site.Warehouse.ID,
		Remarks:     &remarks,
		Lines:       []receiving.LineInput{{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("5")}},
	})
	require.NoError(t, err)
	require.Equal(t, orderSnap, string(updated.POSnapshot))
	require.Equal(t, siteSnap, string(updated.WarehouseSnapshot))
	stored, _ := f.db.Receipt(gr.ID)
	require.Equal(t, orderSnap, string(stored.POSnapshot))

	// moving the draft to another warehouse re-snapshots only the warehouse
	other := f.db.SeedSite("WH2")
	moved, err := f.svc.UpdateDraft(ctx, memstore.Operator(7), gr.ID, receiving.UpdateInput{
		WarehouseID: other.Warehouse.ID,
		Lines:       []receiving.LineInput{{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("5")}},
	})
	require.NoError(t, err)
	require.Equal(t, orderSnap, string(moved.POSnapshot))
	require.Contains(t, string(moved.WarehouseSnapshot), `"code":"WH2"`)
}

func TestPostLocksBalancesInKeyOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grease := f.db.AddItem(catalog.Item{Code: "GRS-EP2", Name: "EP2 grease"})
	po := f.db.SeedOrder("PO-21",
		memstore.OrderLine{Item: grease, Qty: dec("3")},
		memstore.OrderLine{Item: f.filter, Qty: dec("3")},
	)

	gr := f.draft(t, po,
		receiving.LineInput{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("3")},
		receiving.LineInput{PurchaseOrderLineID: po.Lines[1].ID, Qty: dec("3")},
	)
	_, err := f.svc.Post(ctx, memstore.Operator(7), gr.ID)
	require.NoError(t, err)
	require.Empty(t, f.db.LockViolations())
	requireQty(t, "3", f.db.BalanceOf(f.site.Receiving.ID, grease.ID, grease.BaseUOMID))
}

func TestQuantityPrecision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	po := f.db.SeedOrder("PO-22", memstore.OrderLine{Item: f.filter, Qty: dec("10")})

	_, err := f.svc.CreateDraft(ctx, memstore.Operator(7), receiving.CreateInput{
		PurchaseOrderID: po.ID,
		WarehouseID:     f.site.Warehouse.ID,
		Lines:           []receiving.LineInput{{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("0.0000001")}},
	})
	require.ErrorIs(t, err, shared.ErrQuantityScale)
	var verr *shared.ValidationError
	require.True(t, errors.As(err, &verr))
	require.Equal(t, 1, verr.Line)
	require.Equal(t, "qty", verr.Field)

	gr := f.draft(t, po, receiving.LineInput{PurchaseOrderLineID: po.Lines[0].ID, Qty: dec("1.2500000")})
	requireQty(t, "1.25", gr.Lines[0].Qty)
}
