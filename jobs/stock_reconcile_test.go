package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/abdialidrus/scm-mining/internal/jobs"
	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

type fakeReconciler struct {
	report ledger.ReconcileReport
	err    error
	calls  []bool
}

func (f *fakeReconciler) Reconcile(_ context.Context, repair bool) (ledger.ReconcileReport, error) {
	f.calls = append(f.calls, repair)
	if f.err != nil {
		return ledger.ReconcileReport{}, f.err
	}
	report := f.report
	report.Repaired = repair && len(report.Drifts) > 0
	return report, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func counterTotal(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	var total float64
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func reconcileTask(t *testing.T, payload ReconcilePayload) *asynq.Task {
	t.Helper()
	task, err := NewReconcileTask(payload)
	require.NoError(t, err)
	return task
}

func TestReconcileJobRecordsDrifts(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(reg)
	reconciler := &fakeReconciler{report: ledger.ReconcileReport{
		CheckedKeys: 4,
		Drifts: []ledger.Drift{
			{Key: ledger.BalanceKey{LocationID: 1, ItemID: 2, UOMID: 1}, Projection: decimal.NewFromInt(5), Ledger: decimal.NewFromInt(3), Difference: decimal.NewFromInt(2)},
			{Key: ledger.BalanceKey{LocationID: 2, ItemID: 2, UOMID: 1}, Projection: decimal.Zero, Ledger: decimal.NewFromInt(1), Difference: decimal.NewFromInt(-1)},
		},
	}}
	job := NewReconcileJob(reconciler, quietLogger(), metrics)

	require.NoError(t, job.Handle(context.Background(), reconcileTask(t, ReconcilePayload{Repair: true, RequestedBy: 9})))
	require.Equal(t, []bool{true}, reconciler.calls)
	require.Equal(t, float64(2), counterTotal(t, reg, "scm_stock_balance_drifts_total"))
	require.Equal(t, float64(1), counterTotal(t, reg, "scm_jobs_total"))
	require.Zero(t, counterTotal(t, reg, "scm_jobs_failures_total"))
}

func TestReconcileJobCountsFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	reconciler := &fakeReconciler{err: errors.New("db down")}
	job := NewReconcileJob(reconciler, quietLogger(), jobmetrics.NewMetrics(reg))

	err := job.Handle(context.Background(), reconcileTask(t, ReconcilePayload{}))
	require.EqualError(t, err, "db down")
	require.Equal(t, float64(1), counterTotal(t, reg, "scm_jobs_failures_total"))
}

func TestReconcileJobRejectsMalformedPayload(t *testing.T) {
	reconciler := &fakeReconciler{}
	job := NewReconcileJob(reconciler, quietLogger(), nil)

	err := job.Handle(context.Background(), asynq.NewTask(TaskStockReconcile, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Empty(t, reconciler.calls)

	// cron entries carry an empty payload and run a dry check
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskStockReconcile, nil)))
	require.Equal(t, []bool{false}, reconciler.calls)
}

func TestClientEnqueuesReconcile(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := asynq.RedisClientOpt{Addr: mr.Addr()}
	client := NewClient(opts)
	t.Cleanup(func() { _ = client.Close() })

	ctx := shared.ContextWithActor(context.Background(), shared.Actor{ID: 7, Permissions: []string{shared.PermWarehouseAdmin}})
	id, err := client.EnqueueReconcile(ctx, true)
	require.NoError(t, err)
	require.NotEmpty(t, id)

	raw := mr.HGet("asynq:{"+QueueDefault+"}:t:"+id, "msg")
	require.NotEmpty(t, raw)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

func TestHealthReportsQueueDepth(t *testing.T) {
	serve := func(inspector QueueInspector) *httptest.ResponseRecorder {
		r := chi.NewRouter()
		NewHandler(inspector, quietLogger()).MountRoutes(r)
		rr := httptest.NewRecorder()
		r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
		return rr
	}

	rr := serve(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Failed: 1}})
	require.Equal(t, http.StatusOK, rr.Code)
	var body queueHealth
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, queueHealth{Queue: QueueDefault, Pending: 3, Failed: 1}, body)

	rr = serve(stubInspector{err: errors.New("redis down")})
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)

	rr = serve(nil)
	require.Equal(t, http.StatusOK, rr.Code)
}
