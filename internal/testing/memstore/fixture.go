package memstore

import (
	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/catalog"
	"github.com/abdialidrus/scm-mining/internal/locations"
	"github.com/abdialidrus/scm-mining/internal/procurement"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

// Site is a warehouse seeded with one default receiving location and two
// storage bins.
type Site struct {
	Warehouse locations.Warehouse
	Receiving locations.Location
	BinA      locations.Location
	BinB      locations.Location
}

// SeedSite seeds a ready to use warehouse.
func (d *DB) SeedSite(code string) Site {
	wh := d.AddWarehouse(code)
	return Site{
		Warehouse: wh,
		Receiving: d.AddLocation(locations.Location{WarehouseID: wh.ID, Code: code + "-RCV", Type: locations.TypeReceiving, IsDefault: true, IsActive: true}),
		BinA:      d.AddLocation(locations.Location{WarehouseID: wh.ID, Code: code + "-A01", Type: locations.TypeStorage, IsActive: true}),
		BinB:      d.AddLocation(locations.Location{WarehouseID: wh.ID, Code: code + "-B01", Type: locations.TypeStorage, IsActive: true}),
	}
}

// SeedOrder seeds an APPROVED purchase order with one line per item.
func (d *DB) SeedOrder(number string, lines ...OrderLine) procurement.PurchaseOrder {
	po := procurement.PurchaseOrder{Number: number, SupplierName: "PT Sumber Teknik", Status: procurement.POStatusApproved}
	for _, l := range lines {
		po.Lines = append(po.Lines, procurement.Line{ItemID: l.Item.ID, UOMID: l.Item.BaseUOMID, OrderedQty: l.Qty})
	}
	return d.AddPurchaseOrder(po)
}

// OrderLine is one ordered item.
type OrderLine struct {
	Item catalog.Item
	Qty  decimal.Decimal
}

// Operator returns an actor allowed to run warehouse flows.
func Operator(id int64) shared.Actor {
	return shared.Actor{ID: id, Permissions: []string{shared.PermWarehouseOperate}}
}

// Admin returns an actor with warehouse administration rights.
func Admin(id int64) shared.Actor {
	return shared.Actor{ID: id, Permissions: []string{shared.PermWarehouseAdmin}}
}

// Viewer returns a read-only actor.
func Viewer(id int64) shared.Actor {
	return shared.Actor{ID: id, Permissions: []string{shared.PermWarehouseView}}
}

// Dec parses a decimal literal and panics on malformed input.
func Dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
