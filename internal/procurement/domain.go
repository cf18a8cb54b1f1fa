// Package procurement is the read side of purchase orders as the warehouse
// sees them. Approval and lifecycle of orders happen elsewhere.
package procurement

import (
	"errors"

	"github.com/shopspring/decimal"
)

// POStatus is the lifecycle state of a purchase order.
type POStatus string

const (
	POStatusDraft     POStatus = "DRAFT"
	POStatusSubmitted POStatus = "SUBMITTED"
	POStatusApproved  POStatus = "APPROVED"
	POStatusSent      POStatus = "SENT"
	POStatusClosed    POStatus = "CLOSED"
	POStatusCancelled POStatus = "CANCELLED"
)

// Receivable reports whether goods may be received against the order.
// CLOSED orders stay receivable: closing an order does not block late deliveries.
func (s POStatus) Receivable() bool {
	switch s {
	case POStatusApproved, POStatusSent, POStatusClosed:
		return true
	}
	return false
}

// ErrNotFound indicates an unknown purchase order.
var ErrNotFound = errors.New("procurement: purchase order not found")

// PurchaseOrder is the header of an order.
type PurchaseOrder struct {
	ID           int64    `json:"id"`
	Number       string   `json:"number"`
	SupplierName string   `json:"supplier_name"`
	Status       POStatus `json:"status"`
	Lines        []Line   `json:"lines"`
}

// Line is one ordered item.
type Line struct {
	ID         int64           `json:"id"`
	ItemID     int64           `json:"item_id"`
	UOMID      int64           `json:"uom_id"`
	OrderedQty decimal.Decimal `json:"ordered_qty"`
}

// LineByID indexes the order's lines.
func (po PurchaseOrder) LineByID() map[int64]Line {
	out := make(map[int64]Line, len(po.Lines))
	for _, l := range po.Lines {
		out[l.ID] = l
	}
	return out
}
