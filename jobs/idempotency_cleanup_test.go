package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	jobmetrics "github.com/abdialidrus/scm-mining/internal/jobs"
)

type fakePurger struct {
	retention time.Duration
	removed   int64
	err       error
}

func (f *fakePurger) Cleanup(_ context.Context, olderThan time.Duration) (int64, error) {
	f.retention = olderThan
	return f.removed, f.err
}

func TestIdempotencyCleanupUsesRetention(t *testing.T) {
	reg := prometheus.NewRegistry()
	purger := &fakePurger{removed: 12}
	job := NewIdempotencyCleanupJob(purger, 24*time.Hour, quietLogger(), jobmetrics.NewMetrics(reg))

	require.NoError(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()))
	require.Equal(t, 24*time.Hour, purger.retention)
	require.Equal(t, float64(1), counterTotal(t, reg, "scm_jobs_total"))
}

func TestIdempotencyCleanupDefaultsAndFailures(t *testing.T) {
	reg := prometheus.NewRegistry()
	purger := &fakePurger{err: errors.New("timeout")}
	job := NewIdempotencyCleanupJob(purger, 0, nil, jobmetrics.NewMetrics(reg))

	require.EqualError(t, job.Handle(context.Background(), NewIdempotencyCleanupTask()), "timeout")
	require.Equal(t, 72*time.Hour, purger.retention)
	require.Equal(t, float64(1), counterTotal(t, reg, "scm_jobs_failures_total"))
}
