package shared

import (
	"context"
	"fmt"
	"sync"
)

// RefKind tags the document that caused a stock movement.
type RefKind string

const (
	RefGoodsReceipt RefKind = "GOODS_RECEIPT"
	RefPutAway      RefKind = "PUT_AWAY"
	RefPicking      RefKind = "PICKING"
	RefAdjustment   RefKind = "ADJUSTMENT"
)

// Valid reports whether k is a known kind.
func (k RefKind) Valid() bool {
	switch k {
	case RefGoodsReceipt, RefPutAway, RefPicking, RefAdjustment:
		return true
	}
	return false
}

// Reference points at a posting document.
type Reference struct {
	Kind RefKind `json:"kind"`
	ID   int64   `json:"id"`
}

func (r Reference) String() string {
	return fmt.Sprintf("%s#%d", r.Kind, r.ID)
}

// DocumentSummary is what a resolver reports about a referenced document.
type DocumentSummary struct {
	Kind   RefKind   `json:"kind"`
	ID     int64     `json:"id"`
	Number string    `json:"number"`
	Status DocStatus `json:"status"`
}

// ReferenceResolver loads the summary of a document of one kind.
type ReferenceResolver interface {
	ResolveReference(ctx context.Context, id int64) (DocumentSummary, error)
}

// ReferenceResolverFunc adapts a function to ReferenceResolver.
type ReferenceResolverFunc func(ctx context.Context, id int64) (DocumentSummary, error)

// ResolveReference implements ReferenceResolver.
func (f ReferenceResolverFunc) ResolveReference(ctx context.Context, id int64) (DocumentSummary, error) {
	return f(ctx, id)
}

// ReferenceRegistry maps each RefKind to the module that owns it.
type ReferenceRegistry struct {
	mu        sync.RWMutex
	resolvers map[RefKind]ReferenceResolver
}

// NewReferenceRegistry constructs an empty registry.
func NewReferenceRegistry() *ReferenceRegistry {
	return &ReferenceRegistry{resolvers: make(map[RefKind]ReferenceResolver)}
}

// Register binds a resolver to kind, replacing any previous binding.
func (r *ReferenceRegistry) Register(kind RefKind, resolver ReferenceResolver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resolvers[kind] = resolver
}

// Resolve dispatches ref to its registered resolver.
func (r *ReferenceRegistry) Resolve(ctx context.Context, ref Reference) (DocumentSummary, error) {
	r.mu.RLock()
	resolver, ok := r.resolvers[ref.Kind]
	r.mu.RUnlock()
	if !ok {
		return DocumentSummary{}, fmt.Errorf("%w: no resolver for %s", ErrNotFound, ref.Kind)
	}
	return resolver.ResolveReference(ctx, ref.ID)
}
