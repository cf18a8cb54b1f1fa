package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

type memoryStore struct {
	grants map[int64][]string
}

func (m memoryStore) UserEffectivePermissions(_ context.Context, userID int64) ([]string, error) {
	return m.grants[userID], nil
}

func (m memoryStore) ListPermissions(context.Context) ([]Permission, error) { return nil, nil }

func (m memoryStore) UpsertPermission(_ context.Context, name, _ string) (Permission, error) {
	return Permission{Name: name}, nil
}

func newTestMiddleware() Middleware {
	svc := NewServiceWithStore(memoryStore{grants: map[int64][]string{
		7: {"Warehouse.Operate", "warehouse.view"},
		8: {"warehouse.view"},
	}})
	return Middleware{Service: svc}
}

func serve(mw Middleware, guard func(http.Handler) http.Handler, userHeader string) (*httptest.ResponseRecorder, shared.Actor) {
	var seen shared.Actor
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = shared.ActorFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if userHeader != "" {
		req.Header.Set(UserHeader, userHeader)
	}
	rec := httptest.NewRecorder()
	mw.Authenticate(guard(final)).ServeHTTP(rec, req)
	return rec, seen
}

func TestRequireAnyGrantsOperator(t *testing.T) {
	mw := newTestMiddleware()
	rec, actor := serve(mw, mw.RequireAny(shared.PermWarehouseOperate), "7")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, int64(7), actor.ID)
	require.True(t, actor.HasWarehouseRole())
}

func TestRequireAnyRejectsViewer(t *testing.T) {
	mw := newTestMiddleware()
	rec, _ := serve(mw, mw.RequireAny(shared.PermWarehouseOperate), "8")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequireAllNeedsEveryPermission(t *testing.T) {
	mw := newTestMiddleware()
	rec, _ := serve(mw, mw.RequireAll(shared.PermWarehouseOperate, shared.PermWarehouseView), "7")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = serve(mw, mw.RequireAll(shared.PermWarehouseOperate, shared.PermWarehouseAdmin), "7")
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestMissingOrMalformedUser(t *testing.T) {
	mw := newTestMiddleware()
	rec, _ := serve(mw, mw.RequireAny(shared.PermWarehouseView), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = serve(mw, mw.RequireAny(shared.PermWarehouseView), "abc")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
