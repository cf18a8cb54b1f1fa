package memstore

import (
	"context"
	"sync"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

// AuditRecorder keeps audit entries in memory.
type AuditRecorder struct {
	mu      sync.Mutex
	Entries []shared.AuditLog
}

func (a *AuditRecorder) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Entries = append(a.Entries, log)
	return nil
}

// Actions lists recorded actions in order.
func (a *AuditRecorder) Actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.Entries))
	for _, e := range a.Entries {
		out = append(out, e.Action)
	}
	return out
}

// Transition is one observed document transition.
type Transition struct {
	Kind   shared.RefKind
	Action string
	Err    error
}

// Observer records document transitions.
type Observer struct {
	mu     sync.Mutex
	Events []Transition
}

func (o *Observer) DocumentTransition(kind shared.RefKind, action string, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.Events = append(o.Events, Transition{Kind: kind, Action: action, Err: err})
}

// Cache records invalidated item ids.
type Cache struct {
	mu          sync.Mutex
	Invalidated []int64
}

func (c *Cache) InvalidateItems(_ context.Context, itemIDs ...int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Invalidated = append(c.Invalidated, itemIDs...)
}

// Items returns a copy of the invalidated ids.
func (c *Cache) Items() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int64(nil), c.Invalidated...)
}
