package app

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abdialidrus/scm-mining/internal/shared"
	"github.com/abdialidrus/scm-mining/internal/testing/memstore"
)

type memoryKeys struct {
	mu   sync.Mutex
	keys map[string]string
}

func newMemoryKeys() *memoryKeys {
	return &memoryKeys{keys: map[string]string{}}
}

func (m *memoryKeys) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memoryKeys) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

func TestIdempotencyKeyRejectsReplayedCreate(t *testing.T) {
	f := newAPIFixture(t)
	keys := newMemoryKeys()
	f.params.Idempotency = keys
	f.handler = NewRouter(f.params)

	po := f.db.SeedOrder("PO-2026-0050", memstore.OrderLine{Item: f.item, Qty: memstore.Dec("5")})
	body := map[string]any{
		"purchase_order_id": po.ID,
		"warehouse_id":      f.site.Warehouse.ID,
		"lines":             []map[string]any{{"purchase_order_line_id": po.Lines[0].ID, "qty": "5"}},
	}
	headers := map[string]string{IdempotencyHeader: "scanner-17-0001"}

	rr := f.doWithHeaders(http.MethodPost, "/goods-receipts", operatorID, body, headers)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	require.Equal(t, "goods-receipts", keys.keys["1:scanner-17-0001"])

	rr = f.doWithHeaders(http.MethodPost, "/goods-receipts", operatorID, body, headers)
	require.Equal(t, http.StatusConflict, rr.Code, rr.Body.String())
	problem := decode[map[string]any](t, rr)
	require.Equal(t, "Duplicate Request", problem["title"])

	// the same key from another actor is a distinct claim
	rr = f.doWithHeaders(http.MethodPost, "/goods-receipts", adminID, body, headers)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	// reads ignore the header
	rr = f.doWithHeaders(http.MethodGet, "/goods-receipts", operatorID, nil, headers)
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestIdempotencyKeyReleasedOnFailure(t *testing.T) {
	f := newAPIFixture(t)
	keys := newMemoryKeys()
	f.params.Idempotency = keys
	f.handler = NewRouter(f.params)

	headers := map[string]string{IdempotencyHeader: "retry-me"}
	rr := f.doWithHeaders(http.MethodPost, "/goods-receipts", operatorID, map[string]any{"purchase_order_id": 1, "warehouse_id": 1}, headers)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Empty(t, keys.keys)
}

func TestModuleOf(t *testing.T) {
	require.Equal(t, "pickings", moduleOf("/pickings/4/post"))
	require.Equal(t, "stock", moduleOf("/stock/reconcile"))
	require.Equal(t, "root", moduleOf("/"))
}
