package serials

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

// TxRepository exposes the stores a unit transition writes through.
type TxRepository interface {
	Serials() Store
	Ledger() ledger.Store
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetUnit(ctx context.Context, serial string) (Unit, error)
	GetUnitByID(ctx context.Context, id int64) (Unit, error)
	ListUnits(ctx context.Context, filter ListFilter) ([]Unit, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages unit lifecycle outside of document postings.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	ledger *ledger.Service
	logger *slog.Logger
	now    func() time.Time
}

// NewService builds Service. ledgerSvc is used to refresh cached on-hand figures and may be nil.
func NewService(repo RepositoryPort, audit AuditPort, ledgerSvc *ledger.Service, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, ledger: ledgerSvc, logger: logger, now: time.Now}
}

// Get returns a unit by serial.
func (s *Service) Get(ctx context.Context, serial string) (Unit, error) {
	return s.repo.GetUnit(ctx, serial)
}

// List returns units matching filter.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Unit, error) {
	return s.repo.ListUnits(ctx, filter)
}

// ResolveReference describes the unit behind an ADJUSTMENT movement.
func (s *Service) ResolveReference(ctx context.Context, id int64) (shared.DocumentSummary, error) {
	u, err := s.repo.GetUnitByID(ctx, id)
	if err != nil {
		return shared.DocumentSummary{}, err
	}
	return shared.DocumentSummary{Kind: shared.RefAdjustment, ID: u.ID, Number: u.Serial, Status: shared.DocStatusPosted}, nil
}

// MarkDamaged quarantines an AVAILABLE unit in place. Stock stays on hand.
func (s *Service) MarkDamaged(ctx context.Context, actor shared.Actor, serial, reason string) (Unit, error) {
	return s.transition(ctx, actor, serial, StatusDamaged, reason)
}

// Dispose writes a unit off. A unit still at a location leaves stock through
// an ADJUSTMENT movement of one unit.
func (s *Service) Dispose(ctx context.Context, actor shared.Actor, serial, reason string) (Unit, error) {
	return s.transition(ctx, actor, serial, StatusDisposed, reason)
}

func (s *Service) transition(ctx context.Context, actor shared.Actor, serial string, next Status, reason string) (Unit, error) {
	if err := shared.RequireWarehouseRole(actor); err != nil {
		return Unit{}, err
	}
	serial = Normalize(serial)
	if serial == "" {
		return Unit{}, shared.Invalid("serial", "required")
	}
	// Balance rows are always locked before serial units. The unit is read
	// unlocked to find its balance key, then locked and checked unchanged.
	seen, err := s.repo.GetUnit(ctx, serial)
	if err != nil {
		return Unit{}, err
	}
	var (
		updated Unit
		prev    Status
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.now()
		var move *ledger.MovementInput
		if next == StatusDisposed && seen.LocationID != nil {
			move = &ledger.MovementInput{
				ItemID:           seen.ItemID,
				UOMID:            seen.UOMID,
				SourceLocationID: ledger.Int64Ptr(*seen.LocationID),
				Qty:              decimal.NewFromInt(1),
				Ref:              shared.Reference{Kind: shared.RefAdjustment, ID: seen.ID},
				ActorID:          actor.ID,
				At:               now,
				Meta:             map[string]any{"serial": seen.Serial, "reason": reason},
				RequireAvailable: true,
			}
			if err := ledger.LockMovements(ctx, tx.Ledger(), []ledger.MovementInput{*move}); err != nil {
				return err
			}
		}

		units, err := tx.Serials().LockUnits(ctx, []string{serial})
		if err != nil {
			return err
		}
		if len(units) == 0 {
			return ErrUnitNotFound
		}
		u := units[0]
		if !sameLocation(u.LocationID, seen.LocationID) {
			return fmt.Errorf("%w: unit %s moved while being updated", shared.ErrConflict, u.Serial)
		}
		prev = u.Status
		if !u.Status.CanTransition(next) {
			return fmt.Errorf("%w: %s -> %s", ErrTransition, u.Status, next)
		}
		if move != nil {
			if _, err := ledger.Record(ctx, tx.Ledger(), *move); err != nil {
				return err
			}
			u.LocationID = nil
		}
		u.Status = next
		u.UpdatedAt = now
		if err := tx.Serials().UpdateUnit(ctx, u); err != nil {
			return err
		}
		updated = u
		return nil
	})
	if err != nil {
		return Unit{}, err
	}

	if next == StatusDisposed && s.ledger != nil {
		s.ledger.InvalidateItems(ctx, updated.ItemID)
	}
	if s.audit != nil {
		if err := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "serial." + string(next),
			Entity:   "serial_unit",
			EntityID: strconv.FormatInt(updated.ID, 10),
			Meta:     map[string]any{"serial": updated.Serial, "from": prev, "reason": reason},
		}); err != nil {
			s.logger.Warn("audit serial transition", slog.Any("error", err))
		}
	}
	return updated, nil
}

func sameLocation(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
