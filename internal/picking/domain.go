// Package picking issues stock out of storage locations to departments.
package picking

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

var (
	// ErrNotFound indicates an unknown picking.
	ErrNotFound = fmt.Errorf("picking: picking %w", shared.ErrNotFound)
	// ErrInvalidQuantity indicates a non-positive line quantity.
	ErrInvalidQuantity = errors.New("quantity must be greater than zero")
	// ErrEmptyLines indicates a picking without lines.
	ErrEmptyLines = errors.New("at least one line is required")
)

// Picking is the header of a stock issue with its lines.
type Picking struct {
	ID           int64            `json:"id"`
	Number       string           `json:"number"`
	WarehouseID  int64            `json:"warehouse_id"`
	DepartmentID *int64           `json:"department_id,omitempty"`
	Purpose      string           `json:"purpose"`
	Status       shared.DocStatus `json:"status"`
	Remarks      string           `json:"remarks"`
	CreatedBy    int64            `json:"created_by"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
	PostedBy     *int64           `json:"posted_by,omitempty"`
	PostedAt     *time.Time       `json:"posted_at,omitempty"`
	CancelledBy  *int64           `json:"cancelled_by,omitempty"`
	CancelledAt  *time.Time       `json:"cancelled_at,omitempty"`
	CancelReason string           `json:"cancel_reason,omitempty"`
	Lines        []Line           `json:"lines"`
}

// Line takes a quantity of one item out of a storage location.
type Line struct {
	ID               int64           `json:"id"`
	PickingID        int64           `json:"picking_id"`
	LineNo           int             `json:"line_no"`
	ItemID           int64           `json:"item_id"`
	UOMID            int64           `json:"uom_id"`
	SourceLocationID int64           `json:"source_location_id"`
	Qty              decimal.Decimal `json:"qty"`
	SerialNumbers    []string        `json:"serial_numbers"`
}

// LineInput is a requested picking line. A zero UOMID picks in the item's base unit.
type LineInput struct {
	ItemID           int64
	UOMID            int64
	SourceLocationID int64
	Qty              decimal.Decimal
	SerialNumbers    []string
}

// CreateInput opens a draft picking.
type CreateInput struct {
	WarehouseID  int64
	DepartmentID *int64
	Purpose      string
	Remarks      string
	Lines        []LineInput
}

// UpdateInput replaces a draft's lines. Nil fields keep their current values.
type UpdateInput struct {
	DepartmentID *int64
	Purpose      *string
	Remarks      *string
	Lines        []LineInput
}

// CancelInput carries the reason a draft is abandoned.
type CancelInput struct {
	Reason string
}

// ListFilter narrows picking listings.
type ListFilter struct {
	WarehouseID  int64
	DepartmentID int64
	Status       shared.DocStatus
	Page         int
	PerPage      int
}

// ItemIDs returns the distinct items on the picking.
func (p Picking) ItemIDs() []int64 {
	seen := make(map[int64]struct{}, len(p.Lines))
	out := make([]int64, 0, len(p.Lines))
	for _, l := range p.Lines {
		if _, ok := seen[l.ItemID]; ok {
			continue
		}
		seen[l.ItemID] = struct{}{}
		out = append(out, l.ItemID)
	}
	return out
}
