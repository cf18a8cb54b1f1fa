// Package receiving records goods received against purchase orders and
// books them into the warehouse's default receiving location.
package receiving

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/procurement"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

var (
	// ErrNotFound indicates an unknown goods receipt.
	ErrNotFound = fmt.Errorf("receiving: goods receipt %w", shared.ErrNotFound)
	// ErrPONotReceivable indicates a purchase order outside APPROVED, SENT or CLOSED.
	ErrPONotReceivable = fmt.Errorf("%w: purchase order is not receivable", shared.ErrInvalidState)
	// ErrPOLineMismatch indicates a line pointing at another order's line.
	ErrPOLineMismatch = errors.New("purchase order line does not belong to the purchase order")
	// ErrInvalidQuantity indicates a non-positive line quantity.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrEmptyLines indicates a receipt without lines.
	ErrEmptyLines = errors.New("at least one line is required")
)

// GoodsReceipt is the header of a receipt with its lines.
type GoodsReceipt struct {
	ID                int64            `json:"id"`
	Number            string           `json:"number"`
	PurchaseOrderID   int64            `json:"purchase_order_id"`
	WarehouseID       int64            `json:"warehouse_id"`
	Status            shared.DocStatus `json:"status"`
	Remarks           string           `json:"remarks"`
	POSnapshot        json.RawMessage  `json:"po_snapshot,omitempty"`
	WarehouseSnapshot json.RawMessage  `json:"warehouse_snapshot,omitempty"`
	CreatedBy         int64            `json:"created_by"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	PostedBy          *int64           `json:"posted_by,omitempty"`
	PostedAt          *time.Time       `json:"posted_at,omitempty"`
	CancelledBy       *int64           `json:"cancelled_by,omitempty"`
	CancelledAt       *time.Time       `json:"cancelled_at,omitempty"`
	CancelReason      string           `json:"cancel_reason,omitempty"`
	Lines             []Line           `json:"lines"`
}

// Line is one received quantity of a purchase order line.
type Line struct {
	ID                  int64           `json:"id"`
	ReceiptID           int64           `json:"goods_receipt_id"`
	LineNo              int             `json:"line_no"`
	PurchaseOrderLineID int64           `json:"purchase_order_line_id"`
	ItemID              int64           `json:"item_id"`
	UOMID               int64           `json:"uom_id"`
	Qty                 decimal.Decimal `json:"qty"`
	SerialNumbers       []string        `json:"serial_numbers"`
}

// LineInput is a requested receipt line.
type LineInput struct {
	PurchaseOrderLineID int64
	Qty                 decimal.Decimal
	SerialNumbers       []string
}

// CreateInput opens a draft receipt.
type CreateInput struct {
	PurchaseOrderID int64
	WarehouseID     int64
	Remarks         string
	Lines           []LineInput
}

// UpdateInput replaces a draft's lines. Zero WarehouseID and nil Remarks keep the current values.
type UpdateInput struct {
	WarehouseID int64
	Remarks     *string
	Lines       []LineInput
}

// CancelInput carries the reason a draft is abandoned.
type CancelInput struct {
	Reason string
}

// ListFilter narrows receipt listings.
type ListFilter struct {
	PurchaseOrderID int64
	WarehouseID     int64
	Status          shared.DocStatus
	Page            int
	PerPage         int
}

// POLineProgress reports how much of a purchase order line has been received.
type POLineProgress struct {
	PurchaseOrderLineID int64           `json:"purchase_order_line_id"`
	ItemID              int64           `json:"item_id"`
	Ordered             decimal.Decimal `json:"ordered"`
	Received            decimal.Decimal `json:"received"`
	Remaining           decimal.Decimal `json:"remaining"`
}

// Progress folds posted receipt totals into per-line figures of po.
func Progress(po procurement.PurchaseOrder, received map[int64]decimal.Decimal) []POLineProgress {
	out := make([]POLineProgress, 0, len(po.Lines))
	for _, l := range po.Lines {
		got := received[l.ID]
		remaining := l.OrderedQty.Sub(got)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		out = append(out, POLineProgress{
			PurchaseOrderLineID: l.ID,
			ItemID:              l.ItemID,
			Ordered:             l.OrderedQty,
			Received:            got,
			Remaining:           remaining,
		})
	}
	return out
}

// ItemIDs returns the distinct items on the receipt.
func (gr GoodsReceipt) ItemIDs() []int64 {
	seen := make(map[int64]struct{}, len(gr.Lines))
	out := make([]int64, 0, len(gr.Lines))
	for _, l := range gr.Lines {
		if _, ok := seen[l.ItemID]; ok {
			continue
		}
		seen[l.ItemID] = struct{}{}
		out = append(out, l.ItemID)
	}
	return out
}
