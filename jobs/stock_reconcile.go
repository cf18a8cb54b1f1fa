package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/abdialidrus/scm-mining/internal/jobs"
	"github.com/abdialidrus/scm-mining/internal/ledger"
)

// Reconciler rebuilds balances from the movement log.
type Reconciler interface {
	Reconcile(ctx context.Context, repair bool) (ledger.ReconcileReport, error)
}

// ReconcileJob runs scheduled and on-demand balance reconciliation.
type ReconcileJob struct {
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
	clock      func() time.Time
}

// NewReconcileJob initialises the reconciliation handler.
func NewReconcileJob(reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{
		Reconciler: reconciler,
		Logger:     logger,
		Metrics:    metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes a reconciliation run.
func (j *ReconcileJob) Handle(ctx context.Context, t *asynq.Task) (err error) {
	if j == nil || j.Reconciler == nil {
		return errors.New("stock reconcile: handler not configured")
	}
	var payload ReconcilePayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	start := j.now()
	tracker := j.Metrics.Track("stock_reconcile")
	defer func() {
		err = tracker.End(err)
	}()

	logger := j.logger().With(
		slog.Bool("repair", payload.Repair),
		slog.Int64("requested_by", payload.RequestedBy),
	)

	report, err := j.Reconciler.Reconcile(ctx, payload.Repair)
	if err != nil {
		logger.Error("stock reconcile failed", slog.Any("error", err))
		return err
	}
	j.Metrics.AddDrifts(report.Repaired, len(report.Drifts))
	for _, d := range report.Drifts {
		logger.Warn("stock balance drift",
			slog.Int64("location_id", d.Key.LocationID),
			slog.Int64("item_id", d.Key.ItemID),
			slog.Int64("uom_id", d.Key.UOMID),
			slog.String("projection", d.Projection.String()),
			slog.String("ledger", d.Ledger.String()),
		)
	}
	logger.Info("completed stock reconcile",
		slog.Int("checked", report.CheckedKeys),
		slog.Int("drifts", len(report.Drifts)),
		slog.Bool("repaired", report.Repaired),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return nil
}

func (j *ReconcileJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}

func (j *ReconcileJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
