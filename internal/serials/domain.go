// Package serials tracks individually identified units from receipt to consumption.
package serials

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

// Status is the lifecycle state of a serial unit.
type Status string

const (
	StatusAvailable Status = "AVAILABLE"
	StatusPicked    Status = "PICKED"
	StatusDamaged   Status = "DAMAGED"
	StatusDisposed  Status = "DISPOSED"
)

var transitions = map[Status][]Status{
	StatusAvailable: {StatusPicked, StatusDamaged, StatusDisposed},
	StatusDamaged:   {StatusDisposed},
}

// CanTransition reports whether a unit may move from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

var (
	// ErrDuplicateSerial indicates a serial already registered or repeated in one request.
	ErrDuplicateSerial = fmt.Errorf("%w: serial number already exists", shared.ErrValidation)
	// ErrCountMismatch indicates a serialized line whose serial count differs from its quantity.
	ErrCountMismatch = fmt.Errorf("%w: serial count must equal quantity", shared.ErrValidation)
	// ErrFractionalQuantity indicates a serialized line with a non-integral quantity.
	ErrFractionalQuantity = fmt.Errorf("%w: serialized quantity must be a whole number", shared.ErrValidation)
	// ErrEmptySerial indicates a blank serial number.
	ErrEmptySerial = fmt.Errorf("%w: serial number must not be blank", shared.ErrValidation)
	// ErrUnexpectedSerials indicates serials supplied for a non-serialized item.
	ErrUnexpectedSerials = fmt.Errorf("%w: item is not serialized", shared.ErrValidation)
	// ErrUnitNotFound indicates an unknown serial.
	ErrUnitNotFound = fmt.Errorf("serials: unit %w", shared.ErrNotFound)
	// ErrUnitUnavailable indicates a unit that is not AVAILABLE at the expected location.
	ErrUnitUnavailable = fmt.Errorf("%w: serial unit not available at location", shared.ErrValidation)
	// ErrTransition indicates a forbidden status change.
	ErrTransition = fmt.Errorf("%w: serial unit", shared.ErrInvalidState)
)

// Unit is one serial-numbered item.
type Unit struct {
	ID            int64     `json:"id"`
	Serial        string    `json:"serial"`
	ItemID        int64     `json:"item_id"`
	UOMID         int64     `json:"uom_id"`
	Status        Status    `json:"status"`
	LocationID    *int64    `json:"location_id,omitempty"`
	ReceiptLineID int64     `json:"goods_receipt_item_id"`
	PickingLineID *int64    `json:"picking_item_id,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ListFilter narrows unit queries.
type ListFilter struct {
	ItemID     int64
	LocationID int64
	Status     Status
	Limit      int
}

// Normalize trims and NFC-normalises a serial so visually identical input compares equal.
func Normalize(serial string) string {
	return norm.NFC.String(strings.TrimSpace(serial))
}

// DuplicateError lists serials rejected as duplicates.
type DuplicateError struct {
	Line    int
	Serials []string
}

func (e *DuplicateError) Error() string {
	prefix := ""
	if e.Line > 0 {
		prefix = fmt.Sprintf("line %d: ", e.Line)
	}
	return fmt.Sprintf("%sduplicate serial numbers: %s", prefix, strings.Join(e.Serials, ", "))
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicateSerial }

// PrepareLine normalises the serials of one document line and checks them
// against the item's serialization and the line quantity. line is 1-based.
func PrepareLine(line int, serialized bool, qty decimal.Decimal, raw []string) ([]string, error) {
	if !serialized {
		if len(raw) > 0 {
			return nil, shared.InvalidLine(line, "serial_numbers", ErrUnexpectedSerials)
		}
		return nil, nil
	}
	if !qty.Equal(qty.Truncate(0)) {
		return nil, shared.InvalidLine(line, "qty", ErrFractionalQuantity)
	}
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	var dups []string
	for _, s := range raw {
		n := Normalize(s)
		if n == "" {
			return nil, shared.InvalidLine(line, "serial_numbers", ErrEmptySerial)
		}
		if _, ok := seen[n]; ok {
			dups = append(dups, n)
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if len(dups) > 0 {
		return nil, &DuplicateError{Line: line, Serials: dups}
	}
	if int64(len(out)) != qty.IntPart() {
		return nil, shared.InvalidLine(line, "serial_numbers",
			fmt.Errorf("%w: got %d serials for quantity %s", ErrCountMismatch, len(out), qty.String()))
	}
	return out, nil
}

// PrepareDraftLine is the lenient variant used while a draft is being edited:
// serials are normalised and de-duplicated but the count may still be short.
func PrepareDraftLine(line int, serialized bool, raw []string) ([]string, error) {
	if !serialized {
		if len(raw) > 0 {
			return nil, shared.InvalidLine(line, "serial_numbers", ErrUnexpectedSerials)
		}
		return nil, nil
	}
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for _, s := range raw {
		n := Normalize(s)
		if n == "" {
			return nil, shared.InvalidLine(line, "serial_numbers", ErrEmptySerial)
		}
		if _, ok := seen[n]; ok {
			return nil, &DuplicateError{Line: line, Serials: []string{n}}
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out, nil
}

// EnsureDistinctAcrossLines rejects a serial that appears on two lines of the same document.
func EnsureDistinctAcrossLines(perLine [][]string) error {
	owner := make(map[string]int)
	for i, list := range perLine {
		for _, s := range list {
			if first, ok := owner[s]; ok && first != i {
				return &DuplicateError{Line: i + 1, Serials: []string{s}}
			}
			owner[s] = i
		}
	}
	return nil
}
