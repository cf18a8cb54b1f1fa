package observability

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

func scrape(t *testing.T, metrics *Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestMetricsMiddlewareRecordsRequest(t *testing.T) {
	metrics := NewMetrics()

	handler := metrics.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	routeCtx := chi.NewRouteContext()
	routeCtx.RoutePatterns = append(routeCtx.RoutePatterns, "/test")

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, routeCtx))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTeapot, rr.Code)

	body := scrape(t, metrics)
	require.Contains(t, body, `scm_http_requests_total{code="418",route="/test"} 1`)
	require.Contains(t, body, `scm_http_request_duration_seconds_bucket{route="/test"`)
}

func TestDocumentTransitionCountsResults(t *testing.T) {
	metrics := NewMetrics()

	metrics.DocumentTransition(shared.RefGoodsReceipt, "POST", nil)
	metrics.DocumentTransition(shared.RefGoodsReceipt, "POST", &shared.OverAllocationError{Kind: "purchase order line"})
	metrics.DocumentTransition(shared.RefPicking, "POST", fmt.Errorf("picking: %w", &shared.InsufficientStockError{}))

	body := scrape(t, metrics)
	require.Contains(t, body, `scm_document_postings_total{action="post",document="goods_receipt",result="ok"} 1`)
	require.Contains(t, body, `scm_document_postings_total{action="post",document="goods_receipt",result="over_allocation"} 1`)
	require.Contains(t, body, `scm_stock_rejections_total{reason="insufficient_stock"} 1`)
	require.Contains(t, body, `scm_stock_rejections_total{reason="over_allocation"} 1`)
}

func TestRejectionReason(t *testing.T) {
	cases := map[string]error{
		"ok":            nil,
		"validation":    shared.Invalid("qty", "must be positive"),
		"invalid_state": fmt.Errorf("receipt: %w", shared.ErrInvalidState),
		"forbidden":     shared.ErrForbidden,
		"not_found":     fmt.Errorf("x: %w", shared.ErrNotFound),
		"conflict":      shared.ErrConflict,
		"lock_timeout":  shared.ErrLockTimeout,
		"error":         fmt.Errorf("boom"),
	}
	for want, err := range cases {
		require.Equal(t, want, RejectionReason(err), want)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var metrics *Metrics
	metrics.DocumentTransition(shared.RefPutAway, "POST", nil)

	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
