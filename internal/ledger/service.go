package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	ListMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	GetMovement(ctx context.Context, id int64) (Movement, error)
	ListBalances(ctx context.Context, filter BalanceFilter) ([]Balance, error)
	GetBalance(ctx context.Context, key BalanceKey) (Balance, error)
}

// Service exposes read access to the ledger plus reconciliation.
type Service struct {
	repo   RepositoryPort
	cache  *BalanceCache
	refs   *shared.ReferenceRegistry
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service. cache and refs may be nil.
func NewService(repo RepositoryPort, cache *BalanceCache, refs *shared.ReferenceRegistry, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, refs: refs, logger: logger, now: time.Now}
}

// Movements lists movements by reference, item, location or date range.
func (s *Service) Movements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return s.repo.ListMovements(ctx, filter)
}

// MovementsByReference lists the movements a posting produced.
func (s *Service) MovementsByReference(ctx context.Context, ref shared.Reference) ([]Movement, error) {
	return s.repo.ListMovements(ctx, MovementFilter{Ref: &ref, Limit: 1000})
}

// MovementSource describes the document behind a movement.
func (s *Service) MovementSource(ctx context.Context, movementID int64) (shared.DocumentSummary, error) {
	m, err := s.repo.GetMovement(ctx, movementID)
	if err != nil {
		return shared.DocumentSummary{}, err
	}
	if s.refs == nil {
		return shared.DocumentSummary{Kind: m.Ref.Kind, ID: m.Ref.ID}, nil
	}
	return s.refs.Resolve(ctx, m.Ref)
}

// Balance returns the projected quantity of one key.
func (s *Service) Balance(ctx context.Context, key BalanceKey) (Balance, error) {
	return s.repo.GetBalance(ctx, key)
}

// Balances lists projection rows.
func (s *Service) Balances(ctx context.Context, filter BalanceFilter) ([]Balance, error) {
	return s.repo.ListBalances(ctx, filter)
}

// OnHandByItem aggregates an item's balances across all locations.
func (s *Service) OnHandByItem(ctx context.Context, itemID int64) (ItemOnHand, error) {
	load := func(ctx context.Context) (ItemOnHand, error) {
		rows, err := s.repo.ListBalances(ctx, BalanceFilter{ItemID: itemID, NonZero: true})
		if err != nil {
			return ItemOnHand{}, err
		}
		out := ItemOnHand{ItemID: itemID, Total: decimal.Zero, Locations: rows}
		for _, b := range rows {
			out.Total = out.Total.Add(b.Qty)
		}
		return out, nil
	}
	return s.cache.OnHand(ctx, itemID, load)
}

// InvalidateItems drops cached snapshots after a posting commits.
// Failures only delay freshness, so they are logged.
func (s *Service) InvalidateItems(ctx context.Context, itemIDs ...int64) {
	if err := s.cache.InvalidateItems(ctx, itemIDs...); err != nil {
		s.logger.Warn("invalidate on-hand cache", slog.Any("error", err))
	}
}
