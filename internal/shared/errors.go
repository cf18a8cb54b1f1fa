package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor lacks the capability for the operation.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidState indicates a status transition that is not allowed.
	ErrInvalidState = errors.New("invalid state transition")
	// ErrValidation indicates malformed or inconsistent input.
	ErrValidation = errors.New("validation failed")
	// ErrOverAllocation indicates a quantity beyond what the upstream document allows.
	ErrOverAllocation = errors.New("over allocation")
	// ErrInsufficientStock indicates an outbound movement larger than on-hand stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict indicates a serialization failure or deadlock; the caller may retry.
	ErrConflict = errors.New("concurrent update conflict")
	// ErrLockTimeout indicates a lock or statement timeout inside the transaction.
	ErrLockTimeout = errors.New("lock timeout")
)

// QuantityEpsilon absorbs NUMERIC rounding when comparing cumulative quantities.
var QuantityEpsilon = decimal.New(1, -9)

// QuantityScale is the number of decimal places quantity columns keep.
const QuantityScale = 6

// ErrQuantityScale indicates a quantity finer than the stored precision.
var ErrQuantityScale = fmt.Errorf("quantity has more than %d decimal places", QuantityScale)

// CheckQuantityScale rejects a quantity the database would round. Trailing
// zeros beyond the scale are fine.
func CheckQuantityScale(q decimal.Decimal) error {
	if q.Exponent() < -QuantityScale && !q.Equal(q.Truncate(QuantityScale)) {
		return ErrQuantityScale
	}
	return nil
}

// ValidationError pinpoints a rejected input. Line is 1-based; 0 means header.
type ValidationError struct {
	Line   int
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	if e.Line > 0 {
		fmt.Fprintf(&b, "line %d: ", e.Line)
	}
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Reason)
	return b.String()
}

// Unwrap exposes both ErrValidation and the specific cause.
func (e *ValidationError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrValidation, e.Err}
	}
	return []error{ErrValidation}
}

// Invalid builds a header level ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// InvalidLine builds a line level ValidationError wrapping cause.
func InvalidLine(line int, field string, cause error) error {
	return &ValidationError{Line: line, Field: field, Reason: cause.Error(), Err: cause}
}

// OverAllocationError reports the figures behind a rejected quantity.
type OverAllocationError struct {
	Kind      string
	Line      int
	RefID     int64
	Limit     decimal.Decimal
	Consumed  decimal.Decimal
	Requested decimal.Decimal
}

func (e *OverAllocationError) Error() string {
	return fmt.Sprintf("line %d: %s: limit %s, already %s, requested %s",
		e.Line, e.Kind, e.Limit.String(), e.Consumed.String(), e.Requested.String())
}

func (e *OverAllocationError) Unwrap() error { return ErrOverAllocation }

// Remaining returns the quantity still allocatable.
func (e *OverAllocationError) Remaining() decimal.Decimal {
	return e.Limit.Sub(e.Consumed)
}

// Exceeds reports whether consumed+requested overshoots limit beyond QuantityEpsilon.
func Exceeds(limit, consumed, requested decimal.Decimal) bool {
	return consumed.Add(requested).Sub(limit).GreaterThan(QuantityEpsilon)
}

// InsufficientStockError reports the on-hand figure behind a rejected outbound movement.
type InsufficientStockError struct {
	Line       int
	ItemID     int64
	LocationID int64
	UOMID      int64
	OnHand     decimal.Decimal
	Requested  decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	prefix := ""
	if e.Line > 0 {
		prefix = fmt.Sprintf("line %d: ", e.Line)
	}
	return fmt.Sprintf("%sitem %d at location %d: on hand %s, requested %s",
		prefix, e.ItemID, e.LocationID, e.OnHand.String(), e.Requested.String())
}

func (e *InsufficientStockError) Unwrap() error { return ErrInsufficientStock }
