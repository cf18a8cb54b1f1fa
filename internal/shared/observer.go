package shared

import "context"

// PostingObserver receives the outcome of every document transition.
type PostingObserver interface {
	DocumentTransition(kind RefKind, action string, err error)
}

// StockCache is refreshed after postings that moved stock commit.
type StockCache interface {
	InvalidateItems(ctx context.Context, itemIDs ...int64)
}
