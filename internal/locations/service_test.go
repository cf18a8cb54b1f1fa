package locations_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/locations"
	"github.com/abdialidrus/scm-mining/internal/shared"
	"github.com/abdialidrus/scm-mining/internal/testing/memstore"
)

var admin = memstore.Admin(1)

func newService(t *testing.T) (*locations.Service, *memstore.DB, memstore.Site, *memstore.AuditRecorder) {
	t.Helper()
	db := memstore.New()
	site := db.SeedSite("WH1")
	audit := &memstore.AuditRecorder{}
	return locations.NewService(memstore.Locations(db), audit, nil), db, site, audit
}

func TestCreateLocation(t *testing.T) {
	svc, _, site, audit := newService(t)
	ctx := context.Background()

	loc, err := svc.Create(ctx, admin, locations.CreateInput{
		WarehouseID: site.Warehouse.ID,
		ParentID:    &site.BinA.ID,
		Code:        " WH1-A02 ",
		Name:        "Rack A level 2",
		Type:        locations.TypeStorage,
	})
	require.NoError(t, err)
	require.Equal(t, "WH1-A02", loc.Code)
	require.True(t, loc.IsActive)
	require.Equal(t, []string{"location.create"}, audit.Actions())

	_, err = svc.Create(ctx, memstore.Operator(2), locations.CreateInput{WarehouseID: site.Warehouse.ID, Code: "X", Name: "X", Type: locations.TypeStorage})
	require.ErrorIs(t, err, shared.ErrForbidden)

	_, err = svc.Create(ctx, admin, locations.CreateInput{WarehouseID: site.Warehouse.ID, Code: "X", Name: "X", Type: "YARD"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(ctx, admin, locations.CreateInput{WarehouseID: 404, Code: "X", Name: "X", Type: locations.TypeStorage})
	require.ErrorIs(t, err, locations.ErrWarehouseNotFound)
}

func TestOneDefaultReceivingPerWarehouse(t *testing.T) {
	svc, _, site, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, admin, locations.CreateInput{
		WarehouseID: site.Warehouse.ID, Code: "WH1-RCV2", Name: "Dock 2", Type: locations.TypeReceiving, IsDefault: true,
	})
	require.ErrorIs(t, err, locations.ErrDefaultExists)

	_, err = svc.Create(ctx, admin, locations.CreateInput{
		WarehouseID: site.Warehouse.ID, Code: "WH1-S", Name: "Bin", Type: locations.TypeStorage, IsDefault: true,
	})
	require.ErrorIs(t, err, locations.ErrDefaultNotReceiving)

	dock, err := svc.Create(ctx, admin, locations.CreateInput{
		WarehouseID: site.Warehouse.ID, Code: "WH1-RCV2", Name: "Dock 2", Type: locations.TypeReceiving,
	})
	require.NoError(t, err)
	yes := true
	_, err = svc.Update(ctx, admin, dock.ID, locations.UpdateInput{IsDefault: &yes})
	require.ErrorIs(t, err, locations.ErrDefaultExists)

	def, err := svc.DefaultReceiving(ctx, site.Warehouse.ID)
	require.NoError(t, err)
	require.Equal(t, site.Receiving.ID, def.ID)
}

func TestAmbiguousDefaultReceiving(t *testing.T) {
	svc, db, site, _ := newService(t)
	db.AddLocation(locations.Location{WarehouseID: site.Warehouse.ID, Code: "WH1-RCV9", Type: locations.TypeReceiving, IsDefault: true, IsActive: true})

	_, err := svc.DefaultReceiving(context.Background(), site.Warehouse.ID)
	require.ErrorIs(t, err, locations.ErrAmbiguousDefaultReceiving)
	require.ErrorIs(t, err, shared.ErrInvalidState)
}

func TestDeactivate(t *testing.T) {
	svc, db, site, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Deactivate(ctx, admin, site.Receiving.ID)
	require.ErrorIs(t, err, locations.ErrLocationIsDefault)

	require.NoError(t, db.Atomic(func(tx *memstore.Tx) error {
		_, err := ledger.Record(ctx, tx, ledger.MovementInput{
			ItemID:                1,
			UOMID:                 1,
			DestinationLocationID: &site.BinA.ID,
			Qty:                   memstore.Dec("2"),
			Ref:                   shared.Reference{Kind: shared.RefGoodsReceipt, ID: 1},
		})
		return err
	}))
	_, err = svc.Deactivate(ctx, admin, site.BinA.ID)
	require.ErrorIs(t, err, locations.ErrLocationHasStock)

	off, err := svc.Deactivate(ctx, admin, site.BinB.ID)
	require.NoError(t, err)
	require.False(t, off.IsActive)

	active, err := svc.ListActive(ctx, site.Warehouse.ID, locations.TypeStorage)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, site.BinA.ID, active[0].ID)

	on, err := svc.Activate(ctx, admin, site.BinB.ID)
	require.NoError(t, err)
	require.True(t, on.IsActive)

	_, err = svc.ListActive(ctx, site.Warehouse.ID, "DOCK")
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestParentMustShareWarehouse(t *testing.T) {
	svc, db, site, _ := newService(t)
	ctx := context.Background()
	other := db.SeedSite("WH2")

	_, err := svc.Create(ctx, admin, locations.CreateInput{
		WarehouseID: site.Warehouse.ID, ParentID: &other.BinA.ID, Code: "WH1-C01", Name: "C01", Type: locations.TypeStorage,
	})
	require.ErrorIs(t, err, locations.ErrParentInvalid)

	_, err = svc.Update(ctx, admin, site.BinA.ID, locations.UpdateInput{ParentID: &site.BinA.ID})
	require.ErrorIs(t, err, locations.ErrParentInvalid)

	renamed := "Rack A"
	loc, err := svc.Update(ctx, admin, site.BinA.ID, locations.UpdateInput{Name: &renamed, ParentID: &site.BinB.ID})
	require.NoError(t, err)
	require.Equal(t, renamed, loc.Name)
	require.Equal(t, site.BinB.ID, *loc.ParentID)

	whs, err := svc.Warehouses(ctx)
	require.NoError(t, err)
	require.Len(t, whs, 2)
}

func TestParentChainCannotLoop(t *testing.T) {
	svc, _, site, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Update(ctx, admin, site.BinA.ID, locations.UpdateInput{ParentID: &site.BinB.ID})
	require.NoError(t, err)
	_, err = svc.Update(ctx, admin, site.BinB.ID, locations.UpdateInput{ParentID: &site.BinA.ID})
	require.ErrorIs(t, err, locations.ErrParentInvalid)

	shelf, err := svc.Create(ctx, admin, locations.CreateInput{
		WarehouseID: site.Warehouse.ID, ParentID: &site.BinA.ID, Code: "WH1-A01-S1", Name: "Shelf 1", Type: locations.TypeStorage,
	})
	require.NoError(t, err)

	// BinB -> shelf -> BinA -> BinB
	_, err = svc.Update(ctx, admin, site.BinB.ID, locations.UpdateInput{ParentID: &shelf.ID})
	require.ErrorIs(t, err, locations.ErrParentInvalid)

	bin, err := svc.Location(ctx, site.BinB.ID)
	require.NoError(t, err)
	require.Nil(t, bin.ParentID)
}
