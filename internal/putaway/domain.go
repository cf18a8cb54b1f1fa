// Package putaway moves received stock from the receiving location into
// storage locations.
package putaway

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

var (
	// ErrNotFound indicates an unknown put-away.
	ErrNotFound = fmt.Errorf("putaway: put-away %w", shared.ErrNotFound)
	// ErrReceiptNotFound indicates an unknown goods receipt.
	ErrReceiptNotFound = fmt.Errorf("putaway: goods receipt %w", shared.ErrNotFound)
	// ErrReceiptNotPosted indicates a goods receipt that has not been posted.
	ErrReceiptNotPosted = fmt.Errorf("%w: goods receipt is not posted", shared.ErrInvalidState)
	// ErrReceiptLineMismatch indicates a line pointing at another receipt's line.
	ErrReceiptLineMismatch = errors.New("goods receipt line does not belong to the goods receipt")
	// ErrInvalidQuantity indicates a non-positive line quantity.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrEmptyLines indicates a put-away without lines.
	ErrEmptyLines = errors.New("at least one line is required")
	// ErrSerialNotReceived indicates a serial that the receipt line did not bring in.
	ErrSerialNotReceived = errors.New("serial was not received on the goods receipt line")
	// ErrSameLocation indicates a line storing into its own source location.
	ErrSameLocation = errors.New("destination must differ from the source location")
)

// PutAway is the header of a put-away with its lines.
type PutAway struct {
	ID               int64            `json:"id"`
	Number           string           `json:"number"`
	GoodsReceiptID   int64            `json:"goods_receipt_id"`
	WarehouseID      int64            `json:"warehouse_id"`
	SourceLocationID *int64           `json:"source_location_id,omitempty"`
	Status           shared.DocStatus `json:"status"`
	Remarks          string           `json:"remarks"`
	CreatedBy        int64            `json:"created_by"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
	PostedBy         *int64           `json:"posted_by,omitempty"`
	PostedAt         *time.Time       `json:"posted_at,omitempty"`
	CancelledBy      *int64           `json:"cancelled_by,omitempty"`
	CancelledAt      *time.Time       `json:"cancelled_at,omitempty"`
	CancelReason     string           `json:"cancel_reason,omitempty"`
	Lines            []Line           `json:"lines"`
}

// Line moves a quantity of one receipt line into a storage location.
type Line struct {
	ID                    int64           `json:"id"`
	PutAwayID             int64           `json:"put_away_id"`
	LineNo                int             `json:"line_no"`
	GoodsReceiptLineID    int64           `json:"goods_receipt_line_id"`
	ItemID                int64           `json:"item_id"`
	UOMID                 int64           `json:"uom_id"`
	DestinationLocationID int64           `json:"destination_location_id"`
	Qty                   decimal.Decimal `json:"qty"`
	SerialNumbers         []string        `json:"serial_numbers"`
}

// Receipt is the posted goods receipt a put-away draws from.
type Receipt struct {
	ID          int64
	Number      string
	WarehouseID int64
	Status      shared.DocStatus
	Lines       []ReceiptLine
}

// ReceiptLine is one received quantity available for put-away.
type ReceiptLine struct {
	ID            int64
	ItemID        int64
	UOMID         int64
	Qty           decimal.Decimal
	SerialNumbers []string
}

// LineByID indexes the receipt lines.
func (r Receipt) LineByID() map[int64]ReceiptLine {
	out := make(map[int64]ReceiptLine, len(r.Lines))
	for _, l := range r.Lines {
		out[l.ID] = l
	}
	return out
}

// LineInput is a requested put-away line.
type LineInput struct {
	GoodsReceiptLineID    int64
	DestinationLocationID int64
	Qty                   decimal.Decimal
	SerialNumbers         []string
}

// CreateInput opens a draft put-away.
type CreateInput struct {
	GoodsReceiptID   int64
	SourceLocationID *int64
	Remarks          string
	Lines            []LineInput
}

// UpdateInput replaces a draft's lines. Nil Remarks keeps the current value.
type UpdateInput struct {
	SourceLocationID *int64
	ClearSource      bool
	Remarks          *string
	Lines            []LineInput
}

// CancelInput carries the reason a draft is abandoned.
type CancelInput struct {
	Reason string
}

// ListFilter narrows put-away listings.
type ListFilter struct {
	GoodsReceiptID int64
	WarehouseID    int64
	Status         shared.DocStatus
	Page           int
	PerPage        int
}

// ReceiptLineSummary reports received, put away and remaining quantities of
// a receipt line. It is advisory; posting re-checks under lock.
type ReceiptLineSummary struct {
	GoodsReceiptLineID int64           `json:"goods_receipt_line_id"`
	ItemID             int64           `json:"item_id"`
	UOMID              int64           `json:"uom_id"`
	Received           decimal.Decimal `json:"received"`
	PutAway            decimal.Decimal `json:"put_away"`
	Remaining          decimal.Decimal `json:"remaining"`
}

// Summarize folds posted put-away totals into per-line summaries.
func Summarize(r Receipt, putAway map[int64]decimal.Decimal) []ReceiptLineSummary {
	out := make([]ReceiptLineSummary, 0, len(r.Lines))
	for _, l := range r.Lines {
		done := putAway[l.ID]
		remaining := l.Qty.Sub(done)
		if remaining.IsNegative() {
			remaining = decimal.Zero
		}
		out = append(out, ReceiptLineSummary{
			GoodsReceiptLineID: l.ID,
			ItemID:             l.ItemID,
			UOMID:              l.UOMID,
			Received:           l.Qty,
			PutAway:            done,
			Remaining:          remaining,
		})
	}
	return out
}

// ItemIDs returns the distinct items on the put-away.
func (pa PutAway) ItemIDs() []int64 {
	seen := make(map[int64]struct{}, len(pa.Lines))
	out := make([]int64, 0, len(pa.Lines))
	for _, l := range pa.Lines {
		if _, ok := seen[l.ItemID]; ok {
			continue
		}
		seen[l.ItemID] = struct{}{}
		out = append(out, l.ItemID)
	}
	return out
}
