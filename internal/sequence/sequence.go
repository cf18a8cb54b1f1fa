// Package sequence issues human readable document numbers of the form
// PREFIX-YYYYMM-NNNN, restarting at 1 for every prefix each calendar month.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abdialidrus/scm-mining/internal/platform/db"
)

// Document number prefixes.
const (
	PrefixGoodsReceipt = "GR"
	PrefixPutAway      = "PA"
	PrefixPicking      = "PK"
)

// ErrPrefixRequired indicates an empty prefix.
var ErrPrefixRequired = errors.New("sequence: prefix required")

// Store increments the counter of one prefix/period inside the caller's transaction.
type Store interface {
	Increment(ctx context.Context, prefix, period string) (int, error)
}

// Period returns the YYYYMM bucket for at.
func Period(at time.Time) string {
	return at.Format("200601")
}

// Format renders a document number. Values above 9999 keep all their digits.
func Format(prefix string, at time.Time, n int) string {
	return fmt.Sprintf("%s-%s-%04d", prefix, Period(at), n)
}

// Next reserves the next number for prefix in the month of at. The counter
// row stays locked until the surrounding transaction ends, so concurrent
// creators of the same prefix queue behind each other and a rolled back
// creation releases its number.
func Next(ctx context.Context, store Store, prefix string, at time.Time) (string, error) {
	prefix = strings.ToUpper(strings.TrimSpace(prefix))
	if prefix == "" {
		return "", ErrPrefixRequired
	}
	n, err := store.Increment(ctx, prefix, Period(at))
	if err != nil {
		return "", fmt.Errorf("sequence: increment %s: %w", prefix, err)
	}
	return Format(prefix, at, n), nil
}

// PGStore keeps counters in document_sequences.
type PGStore struct {
	q db.Querier
}

// NewStore binds a PGStore to q, normally a transaction.
func NewStore(q db.Querier) *PGStore {
	return &PGStore{q: q}
}

// Increment upserts the counter row and returns the new value.
func (s *PGStore) Increment(ctx context.Context, prefix, period string) (int, error) {
	var value int
	err := s.q.QueryRow(ctx, `
		INSERT INTO document_sequences (prefix, period, last_value)
		VALUES ($1, $2, 1)
		ON CONFLICT (prefix, period)
		DO UPDATE SET last_value = document_sequences.last_value + 1, updated_at = NOW()
		RETURNING last_value
	`, prefix, period).Scan(&value)
	return value, err
}
