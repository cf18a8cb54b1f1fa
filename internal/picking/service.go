package picking

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/abdialidrus/scm-mining/internal/catalog"
	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/locations"
	"github.com/abdialidrus/scm-mining/internal/sequence"
	"github.com/abdialidrus/scm-mining/internal/serials"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

// TxRepository exposes everything a picking transition touches inside one transaction.
type TxRepository interface {
	LockPicking(ctx context.Context, id int64) (Picking, error)
	InsertPicking(ctx context.Context, p Picking) (Picking, error)
	UpdatePicking(ctx context.Context, p Picking) error
	ReplacePickingLines(ctx context.Context, pickingID int64, lines []Line) ([]Line, error)
	InsertHistory(ctx context.Context, h shared.StatusHistory) error

	Locations() locations.Store
	Items() catalog.Reader
	Ledger() ledger.Store
	Serials() serials.Store
	Sequences() sequence.Store
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetPicking(ctx context.Context, id int64) (Picking, error)
	ListPickings(ctx context.Context, filter ListFilter) ([]Picking, int, error)
	History(ctx context.Context, id int64) ([]shared.StatusHistory, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Deps groups optional collaborators of Service.
type Deps struct {
	Audit    AuditPort
	Observer shared.PostingObserver
	Cache    shared.StockCache
	Logger   *slog.Logger
	Clock    func() time.Time
}

// Service coordinates picking operations.
type Service struct {
	repo     RepositoryPort
	audit    AuditPort
	observer shared.PostingObserver
	cache    shared.StockCache
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, deps Deps) *Service {
	s := &Service{repo: repo, audit: deps.Audit, observer: deps.Observer, cache: deps.Cache, logger: deps.Logger, now: deps.Clock}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Get returns a picking with its lines.
func (s *Service) Get(ctx context.Context, id int64) (Picking, error) {
	return s.repo.GetPicking(ctx, id)
}

// List returns pickings matching filter and the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Picking, int, error) {
	return s.repo.ListPickings(ctx, filter)
}

// History returns the status transitions of a picking.
func (s *Service) History(ctx context.Context, id int64) ([]shared.StatusHistory, error) {
	return s.repo.History(ctx, id)
}

// ResolveReference describes a picking for movement lookups.
func (s *Service) ResolveReference(ctx context.Context, id int64) (shared.DocumentSummary, error) {
	p, err := s.repo.GetPicking(ctx, id)
	if err != nil {
		return shared.DocumentSummary{}, err
	}
	return shared.DocumentSummary{Kind: shared.RefPicking, ID: p.ID, Number: p.Number, Status: p.Status}, nil
}

// CreateDraft opens a picking. Availability is only checked on post.
func (s *Service) CreateDraft(ctx context.Context, actor shared.Actor, in CreateInput) (Picking, error) {
	var created Picking
	err := shared.RequireWarehouseRole(actor)
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			if _, err := locations.RequireActiveWarehouse(ctx, tx.Locations(), in.WarehouseID); err != nil {
				return err
			}
			lines, err := buildLines(ctx, tx, in.WarehouseID, in.Lines, false)
			if err != nil {
				return err
			}
			now := s.now()
			number, err := sequence.Next(ctx, tx.Sequences(), sequence.PrefixPicking, now)
			if err != nil {
				return err
			}
			p, err := tx.InsertPicking(ctx, Picking{
				Number:       number,
				WarehouseID:  in.WarehouseID,
				DepartmentID: in.DepartmentID,
				Purpose:      strings.TrimSpace(in.Purpose),
				Status:       shared.DocStatusDraft,
				Remarks:      strings.TrimSpace(in.Remarks),
				CreatedBy:    actor.ID,
				CreatedAt:    now,
				UpdatedAt:    now,
			})
			if err != nil {
				return err
			}
			p.Lines, err = tx.ReplacePickingLines(ctx, p.ID, lines)
			if err != nil {
				return err
			}
			if err := tx.InsertHistory(ctx, shared.Transition(shared.RefPicking, p.ID, nil, shared.DocStatusDraft, shared.ActionCreate, actor.ID,
				map[string]any{"number": p.Number, "department_id": p.DepartmentID, "purpose": p.Purpose})); err != nil {
				return err
			}
			created = p
			return nil
		})
	}
	s.finish(ctx, actor, shared.ActionCreate, created, err, false)
	return created, err
}

// UpdateDraft replaces the lines of a DRAFT picking.
func (s *Service) UpdateDraft(ctx context.Context, actor shared.Actor, id int64, in UpdateInput) (Picking, error) {
	var updated Picking
	err := shared.RequireWarehouseRole(actor)
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			p, err := tx.LockPicking(ctx, id)
			if err != nil {
				return err
			}
			if err := shared.EnsureDraft(shared.RefPicking, p.Status); err != nil {
				return err
			}
			lines, err := buildLines(ctx, tx, p.WarehouseID, in.Lines, true)
			if err != nil {
				return err
			}
			if in.DepartmentID != nil {
				p.DepartmentID = in.DepartmentID
			}
			if in.Purpose != nil {
				p.Purpose = strings.TrimSpace(*in.Purpose)
			}
			if in.Remarks != nil {
				p.Remarks = strings.TrimSpace(*in.Remarks)
			}
			p.UpdatedAt = s.now()
			if err := tx.UpdatePicking(ctx, p); err != nil {
				return err
			}
			p.Lines, err = tx.ReplacePickingLines(ctx, p.ID, lines)
			if err != nil {
				return err
			}
			updated = p
			return nil
		})
	}
	s.finish(ctx, actor, "UPDATE", updated, err, false)
	return updated, err
}

// Post issues every line out of its source location. The balances drawn on
// are locked in key order and checked before anything is written.
func (s *Service) Post(ctx context.Context, actor shared.Actor, id int64) (Picking, error) {
	var posted Picking
	err := shared.RequireWarehouseRole(actor)
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			p, err := tx.LockPicking(ctx, id)
			if err != nil {
				return err
			}
			if err := shared.EnsureDraft(shared.RefPicking, p.Status); err != nil {
				return err
			}
			if _, err := locations.RequireActiveWarehouse(ctx, tx.Locations(), p.WarehouseID); err != nil {
				return err
			}
			inputs := make([]LineInput, 0, len(p.Lines))
			for _, l := range p.Lines {
				inputs = append(inputs, LineInput{
					ItemID:           l.ItemID,
					UOMID:            l.UOMID,
					SourceLocationID: l.SourceLocationID,
					Qty:              l.Qty,
					SerialNumbers:    l.SerialNumbers,
				})
			}
			checked, err := buildLines(ctx, tx, p.WarehouseID, inputs, true)
			if err != nil {
				return err
			}

			now := s.now()
			postingID := uuid.NewString()
			moves := make([]ledger.MovementInput, 0, len(p.Lines))
			for i, l := range p.Lines {
				moves = append(moves, ledger.MovementInput{
					ItemID:           l.ItemID,
					UOMID:            l.UOMID,
					SourceLocationID: ledger.Int64Ptr(l.SourceLocationID),
					Qty:              l.Qty,
					Ref:              shared.Reference{Kind: shared.RefPicking, ID: p.ID},
					ActorID:          actor.ID,
					At:               now,
					Meta:             map[string]any{"document_number": p.Number, "line_id": l.ID, "posting_id": postingID},
					RequireAvailable: true,
					Line:             i + 1,
				})
			}
			if err := ledger.LockMovements(ctx, tx.Ledger(), moves); err != nil {
				return err
			}
			for i, l := range p.Lines {
				if _, err := ledger.Record(ctx, tx.Ledger(), moves[i]); err != nil {
					return err
				}
				if len(checked[i].SerialNumbers) > 0 {
					if err := serials.Consume(ctx, tx.Serials(), serials.MoveInput{
						Line:    i + 1,
						ItemID:  l.ItemID,
						FromID:  l.SourceLocationID,
						Serials: checked[i].SerialNumbers,
						At:      now,
					}, l.ID); err != nil {
						return err
					}
				}
			}

			p.Status = shared.DocStatusPosted
			p.PostedBy = &actor.ID
			p.PostedAt = &now
			p.UpdatedAt = now
			if err := tx.UpdatePicking(ctx, p); err != nil {
				return err
			}
			if err := tx.InsertHistory(ctx, shared.Transition(shared.RefPicking, p.ID, shared.StatusPtr(shared.DocStatusDraft), shared.DocStatusPosted, shared.ActionPost, actor.ID,
				map[string]any{"posting_id": postingID})); err != nil {
				return err
			}
			posted = p
			return nil
		})
	}
	s.finish(ctx, actor, shared.ActionPost, posted, err, true)
	return posted, err
}

// Cancel abandons a DRAFT picking.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64, in CancelInput) (Picking, error) {
	var cancelled Picking
	err := shared.RequireWarehouseRole(actor)
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			p, err := tx.LockPicking(ctx, id)
			if err != nil {
				return err
			}
			if err := shared.EnsureDraft(shared.RefPicking, p.Status); err != nil {
				return err
			}
			now := s.now()
			p.Status = shared.DocStatusCancelled
			p.CancelledBy = &actor.ID
			p.CancelledAt = &now
			p.CancelReason = strings.TrimSpace(in.Reason)
			p.UpdatedAt = now
			if err := tx.UpdatePicking(ctx, p); err != nil {
				return err
			}
			if err := tx.InsertHistory(ctx, shared.Transition(shared.RefPicking, p.ID, shared.StatusPtr(shared.DocStatusDraft), shared.DocStatusCancelled, shared.ActionCancel, actor.ID,
				map[string]any{"reason": p.CancelReason})); err != nil {
				return err
			}
			cancelled = p
			return nil
		})
	}
	s.finish(ctx, actor, shared.ActionCancel, cancelled, err, false)
	return cancelled, err
}

// buildLines checks items and source locations. Every source must be an
// active STORAGE location of the picking's warehouse.
func buildLines(ctx context.Context, tx TxRepository, warehouseID int64, in []LineInput, strictSerials bool) ([]Line, error) {
	if len(in) == 0 {
		return nil, shared.Invalid("lines", ErrEmptyLines.Error())
	}
	itemIDs := make([]int64, 0, len(in))
	for i, l := range in {
		if !l.Qty.IsPositive() {
			return nil, shared.InvalidLine(i+1, "qty", ErrInvalidQuantity)
		}
		if err := shared.CheckQuantityScale(l.Qty); err != nil {
			return nil, shared.InvalidLine(i+1, "qty", err)
		}
		if _, err := locations.RequireLocation(ctx, tx.Locations(), warehouseID, l.SourceLocationID, locations.TypeStorage); err != nil {
			return nil, shared.InvalidLine(i+1, "source_location_id", err)
		}
		itemIDs = append(itemIDs, l.ItemID)
	}
	items, err := catalog.Require(ctx, tx.Items(), itemIDs)
	if errors.Is(err, catalog.ErrItemNotFound) {
		return nil, shared.Invalid("item_id", err.Error())
	}
	if err != nil {
		return nil, err
	}

	out := make([]Line, 0, len(in))
	perLine := make([][]string, 0, len(in))
	for i, l := range in {
		item := items[l.ItemID]
		uomID := l.UOMID
		if uomID == 0 {
			uomID = item.BaseUOMID
		}
		var nums []string
		if strictSerials {
			nums, err = serials.PrepareLine(i+1, item.IsSerialized, l.Qty, l.SerialNumbers)
		} else {
			nums, err = serials.PrepareDraftLine(i+1, item.IsSerialized, l.SerialNumbers)
		}
		if err != nil {
			return nil, err
		}
		perLine = append(perLine, nums)
		out = append(out, Line{
			LineNo:           i + 1,
			ItemID:           l.ItemID,
			UOMID:            uomID,
			SourceLocationID: l.SourceLocationID,
			Qty:              l.Qty,
			SerialNumbers:    nums,
		})
	}
	if err := serials.EnsureDistinctAcrossLines(perLine); err != nil {
		return nil, err
	}
	return out, nil
}

// finish runs the after-commit side effects. They never fail the operation.
func (s *Service) finish(ctx context.Context, actor shared.Actor, action string, p Picking, err error, movedStock bool) {
	if s.observer != nil {
		s.observer.DocumentTransition(shared.RefPicking, action, err)
	}
	if err != nil {
		s.logger.Info("picking rejected", slog.String("action", action), slog.Int64("actor_id", actor.ID), slog.Any("error", err))
		return
	}
	if movedStock && s.cache != nil {
		s.cache.InvalidateItems(ctx, p.ItemIDs()...)
	}
	if s.audit != nil {
		if auditErr := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "picking." + strings.ToLower(action),
			Entity:   "picking",
			EntityID: strconv.FormatInt(p.ID, 10),
			Meta:     map[string]any{"number": p.Number, "status": p.Status},
		}); auditErr != nil {
			s.logger.Warn("audit picking", slog.Any("error", auditErr))
		}
	}
}
