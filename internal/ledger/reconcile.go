package ledger

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

// Drift is a projection row that disagrees with the movement log.
type Drift struct {
	Key        BalanceKey      `json:"key"`
	Projection decimal.Decimal `json:"projection"`
	Ledger     decimal.Decimal `json:"ledger"`
	Difference decimal.Decimal `json:"difference"`
}

// ReconcileReport summarises one reconciliation run.
type ReconcileReport struct {
	CheckedKeys int       `json:"checked_keys"`
	Drifts      []Drift   `json:"drifts"`
	Repaired    bool      `json:"repaired"`
	RanAt       time.Time `json:"ran_at"`
}

// Consistent reports whether no drift was found.
func (r ReconcileReport) Consistent() bool {
	return len(r.Drifts) == 0
}

// Compare diffs a projection against balances rebuilt from the log.
// Keys missing on either side count as zero.
func Compare(projection, rebuilt map[BalanceKey]decimal.Decimal) ([]Drift, int) {
	keys := make([]BalanceKey, 0, len(projection)+len(rebuilt))
	for k := range projection {
		keys = append(keys, k)
	}
	for k := range rebuilt {
		if _, ok := projection[k]; !ok {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	var drifts []Drift
	for _, k := range keys {
		p, l := projection[k], rebuilt[k]
		diff := p.Sub(l)
		if diff.Abs().GreaterThan(shared.QuantityEpsilon) {
			drifts = append(drifts, Drift{Key: k, Projection: p, Ledger: l, Difference: diff})
		}
	}
	return drifts, len(keys)
}

// Reconcile recomputes every balance from the movement log. With repair it
// overwrites drifting rows with the rebuilt value. The projection table is
// locked against concurrent postings for the duration of the run.
func (s *Service) Reconcile(ctx context.Context, repair bool) (ReconcileReport, error) {
	report := ReconcileReport{RanAt: s.now()}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.LockProjection(ctx); err != nil {
			return err
		}
		rebuilt, err := tx.SumMovements(ctx)
		if err != nil {
			return err
		}
		projection, err := tx.ProjectedBalances(ctx)
		if err != nil {
			return err
		}
		report.Drifts, report.CheckedKeys = Compare(projection, rebuilt)
		if !repair || len(report.Drifts) == 0 {
			return nil
		}
		for _, d := range report.Drifts {
			if err := tx.SetBalance(ctx, d.Key, d.Ledger, report.RanAt); err != nil {
				return err
			}
		}
		report.Repaired = true
		return nil
	})
	if err != nil {
		return ReconcileReport{}, err
	}

	if len(report.Drifts) > 0 {
		s.logger.Warn("stock balance drift detected",
			slog.Int("drifts", len(report.Drifts)),
			slog.Int("checked", report.CheckedKeys),
			slog.Bool("repaired", report.Repaired))
		if report.Repaired {
			items := make([]int64, 0, len(report.Drifts))
			for _, d := range report.Drifts {
				items = append(items, d.Key.ItemID)
			}
			s.InvalidateItems(ctx, items...)
		}
	} else {
		s.logger.Info("stock balances reconciled", slog.Int("checked", report.CheckedKeys))
	}
	return report, nil
}
