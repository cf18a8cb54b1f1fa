package putaway

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/catalog"
	"github.com/abdialidrus/scm-mining/internal/ledger"
	"github.com/abdialidrus/scm-mining/internal/locations"
	"github.com/abdialidrus/scm-mining/internal/sequence"
	"github.com/abdialidrus/scm-mining/internal/serials"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

// TxRepository exposes everything a put-away transition touches inside one transaction.
type TxRepository interface {
	// PutAwayReceiptID reads the receipt a put-away draws from without locking.
	PutAwayReceiptID(ctx context.Context, id int64) (int64, error)
	// LockGoodsReceipt locks the receipt header and returns it with its lines.
	LockGoodsReceipt(ctx context.Context, id int64) (Receipt, error)
	LockPutAway(ctx context.Context, id int64) (PutAway, error)
	InsertPutAway(ctx context.Context, pa PutAway) (PutAway, error)
	UpdatePutAway(ctx context.Context, pa PutAway) error
	ReplacePutAwayLines(ctx context.Context, putAwayID int64, lines []Line) ([]Line, error)
	// PutAwayToDate sums POSTED put-away quantities per receipt line.
	PutAwayToDate(ctx context.Context, goodsReceiptID int64) (map[int64]decimal.Decimal, error)
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
	GetPutAway(ctx context.Context, id int64) (PutAway, error)
	ListPutAways(ctx context.Context, filter ListFilter) ([]PutAway, int, error)
	History(ctx context.Context, id int64) ([]shared.StatusHistory, error)
	GetGoodsReceipt(ctx context.Context, id int64) (Receipt, error)
	PostedPutAway(ctx context.Context, goodsReceiptID int64) (map[int64]decimal.Decimal, error)
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

// Service coordinates put-away operations.
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

// Get returns a put-away with its lines.
func (s *Service) Get(ctx context.Context, id int64) (PutAway, error) {
	return s.repo.GetPutAway(ctx, id)
}

// List returns put-aways matching filter and the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]PutAway, int, error) {
	return s.repo.ListPutAways(ctx, filter)
}

// History returns the status transitions of a put-away.
func (s *Service) History(ctx context.Context, id int64) ([]shared.StatusHistory, error) {
	return s.repo.History(ctx, id)
}

// GoodsReceiptPutAwaySummary reports received, put away and remaining
// quantities for each line of a receipt, counting POSTED put-aways only.
func (s *Service) GoodsReceiptPutAwaySummary(ctx context.Context, goodsReceiptID int64) ([]ReceiptLineSummary, error) {
	gr, err := s.repo.GetGoodsReceipt(ctx, goodsReceiptID)
	if err != nil {
		return nil, err
	}
	done, err := s.repo.PostedPutAway(ctx, goodsReceiptID)
	if err != nil {
		return nil, err
	}
	return Summarize(gr, done), nil
}

// ResolveReference describes a put-away for movement lookups.
func (s *Service) ResolveReference(ctx context.Context, id int64) (shared.DocumentSummary, error) {
	pa, err := s.repo.GetPutAway(ctx, id)
	if err != nil {
		return shared.DocumentSummary{}, err
	}
	return shared.DocumentSummary{Kind: shared.RefPutAway, ID: pa.ID, Number: pa.Number, Status: pa.Status}, nil
}

// CreateDraft opens a put-away against a posted goods receipt.
func (s *Service) CreateDraft(ctx context.Context, actor shared.Actor, in CreateInput) (PutAway, error) {
	var created PutAway
	err := shared.RequireWarehouseRole(actor)
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			gr, err := lockPostedReceipt(ctx, tx, in.GoodsReceiptID)
			if err != nil {
				return err
			}
			if _, err := locations.RequireActiveWarehouse(ctx, tx.Locations(), gr.WarehouseID); err != nil {
				return err
			}
			source, err := resolveSource(ctx, tx, gr.WarehouseID, in.SourceLocationID)
			if err != nil {
				return err
			}
			lines, err := buildLines(ctx, tx, gr, source.ID, in.Lines, false)
			if err != nil {
				return err
			}
			now := s.now()
			number, err := sequence.Next(ctx, tx.Sequences(), sequence.PrefixPutAway, now)
			if err != nil {
				return err
			}
			pa, err := tx.InsertPutAway(ctx, PutAway{
				Number:           number,
				GoodsReceiptID:   gr.ID,
				WarehouseID:      gr.WarehouseID,
				SourceLocationID: in.SourceLocationID,
				Status:           shared.DocStatusDraft,
				Remarks:          strings.TrimSpace(in.Remarks),
				CreatedBy:        actor.ID,
				CreatedAt:        now,
				UpdatedAt:        now,
			})
			if err != nil {
				return err
			}
			pa.Lines, err = tx.ReplacePutAwayLines(ctx, pa.ID, lines)
			if err != nil {
				return err
			}
			if err := tx.InsertHistory(ctx, shared.Transition(shared.RefPutAway, pa.ID, nil, shared.DocStatusDraft, shared.ActionCreate, actor.ID,
				map[string]any{"number": pa.Number, "goods_receipt_id": gr.ID, "goods_receipt_number": gr.Number})); err != nil {
				return err
			}
			created = pa
			return nil
		})
	}
	s.finish(ctx, actor, shared.ActionCreate, created, err, false)
	return created, err
}

// UpdateDraft replaces the lines of a DRAFT put-away.
func (s *Service) UpdateDraft(ctx context.Context, actor shared.Actor, id int64, in UpdateInput) (PutAway, error) {
	var updated PutAway
	err := shared.RequireWarehouseRole(actor)
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			gr, pa, err := lockReceiptThenPutAway(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := shared.EnsureDraft(shared.RefPutAway, pa.Status); err != nil {
				return err
			}
			switch {
			case in.ClearSource:
				pa.SourceLocationID = nil
			case in.SourceLocationID != nil:
				pa.SourceLocationID = in.SourceLocationID
			}
			source, err := resolveSource(ctx, tx, gr.WarehouseID, pa.SourceLocationID)
			if err != nil {
				return err
			}
			lines, err := buildLines(ctx, tx, gr, source.ID, in.Lines, true)
			if err != nil {
				return err
			}
			if in.Remarks != nil {
				pa.Remarks = strings.TrimSpace(*in.Remarks)
			}
			pa.UpdatedAt = s.now()
			if err := tx.UpdatePutAway(ctx, pa); err != nil {
				return err
			}
			pa.Lines, err = tx.ReplacePutAwayLines(ctx, pa.ID, lines)
			if err != nil {
				return err
			}
			updated = pa
			return nil
		})
	}
	s.finish(ctx, actor, "UPDATE", updated, err, false)
	return updated, err
}

// Post transfers every line from the source location into its storage
// location. Serialized units travel with their line.
func (s *Service) Post(ctx context.Context, actor shared.Actor, id int64) (PutAway, error) {
	var posted PutAway
	err := shared.RequireWarehouseRole(actor)
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			gr, pa, err := lockReceiptThenPutAway(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := shared.EnsureDraft(shared.RefPutAway, pa.Status); err != nil {
				return err
			}
			if _, err := locations.RequireActiveWarehouse(ctx, tx.Locations(), pa.WarehouseID); err != nil {
				return err
			}
			source, err := resolveSource(ctx, tx, pa.WarehouseID, pa.SourceLocationID)
			if err != nil {
				return err
			}
			inputs := make([]LineInput, 0, len(pa.Lines))
			for _, l := range pa.Lines {
				inputs = append(inputs, LineInput{
					GoodsReceiptLineID:    l.GoodsReceiptLineID,
					DestinationLocationID: l.DestinationLocationID,
					Qty:                   l.Qty,
					SerialNumbers:         l.SerialNumbers,
				})
			}
			checked, err := buildLines(ctx, tx, gr, source.ID, inputs, true)
			if err != nil {
				return err
			}

			now := s.now()
			postingID := uuid.NewString()
			moves := make([]ledger.MovementInput, 0, len(pa.Lines))
			for i, l := range pa.Lines {
				moves = append(moves, ledger.MovementInput{
					ItemID:                l.ItemID,
					UOMID:                 l.UOMID,
					SourceLocationID:      ledger.Int64Ptr(source.ID),
					DestinationLocationID: ledger.Int64Ptr(l.DestinationLocationID),
					Qty:                   l.Qty,
					Ref:                   shared.Reference{Kind: shared.RefPutAway, ID: pa.ID},
					ActorID:               actor.ID,
					At:                    now,
					Meta:                  map[string]any{"document_number": pa.Number, "line_id": l.ID, "posting_id": postingID},
					RequireAvailable:      true,
					Line:                  i + 1,
				})
			}
			// source and destination rows are locked together before any unit
			if err := ledger.LockMovements(ctx, tx.Ledger(), moves); err != nil {
				return err
			}
			for i, l := range pa.Lines {
				if _, err := ledger.Record(ctx, tx.Ledger(), moves[i]); err != nil {
					return err
				}
				if len(checked[i].SerialNumbers) > 0 {
					if err := serials.Relocate(ctx, tx.Serials(), serials.MoveInput{
						Line:    i + 1,
						ItemID:  l.ItemID,
						FromID:  source.ID,
						Serials: checked[i].SerialNumbers,
						At:      now,
					}, l.DestinationLocationID); err != nil {
						return err
					}
				}
			}

			pa.Status = shared.DocStatusPosted
			pa.PostedBy = &actor.ID
			pa.PostedAt = &now
			pa.UpdatedAt = now
			if err := tx.UpdatePutAway(ctx, pa); err != nil {
				return err
			}
			if err := tx.InsertHistory(ctx, shared.Transition(shared.RefPutAway, pa.ID, shared.StatusPtr(shared.DocStatusDraft), shared.DocStatusPosted, shared.ActionPost, actor.ID,
				map[string]any{"source_location_id": source.ID, "posting_id": postingID})); err != nil {
				return err
			}
			posted = pa
			return nil
		})
	}
	s.finish(ctx, actor, shared.ActionPost, posted, err, true)
	return posted, err
}

// Cancel abandons a DRAFT put-away.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64, in CancelInput) (PutAway, error) {
	var cancelled PutAway
	err := shared.RequireWarehouseRole(actor)
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			_, pa, err := lockReceiptThenPutAway(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := shared.EnsureDraft(shared.RefPutAway, pa.Status); err != nil {
				return err
			}
			now := s.now()
			pa.Status = shared.DocStatusCancelled
			pa.CancelledBy = &actor.ID
			pa.CancelledAt = &now
			pa.CancelReason = strings.TrimSpace(in.Reason)
			pa.UpdatedAt = now
			if err := tx.UpdatePutAway(ctx, pa); err != nil {
				return err
			}
			if err := tx.InsertHistory(ctx, shared.Transition(shared.RefPutAway, pa.ID, shared.StatusPtr(shared.DocStatusDraft), shared.DocStatusCancelled, shared.ActionCancel, actor.ID,
				map[string]any{"reason": pa.CancelReason})); err != nil {
				return err
			}
			cancelled = pa
			return nil
		})
	}
	s.finish(ctx, actor, shared.ActionCancel, cancelled, err, false)
	return cancelled, err
}

func lockPostedReceipt(ctx context.Context, tx TxRepository, id int64) (Receipt, error) {
	gr, err := tx.LockGoodsReceipt(ctx, id)
	if err != nil {
		return Receipt{}, err
	}
	if gr.Status != shared.DocStatusPosted {
		return Receipt{}, fmt.Errorf("%w (%s is %s)", ErrReceiptNotPosted, gr.Number, gr.Status)
	}
	return gr, nil
}

// lockReceiptThenPutAway keeps the global lock order: goods receipt, then put-away.
func lockReceiptThenPutAway(ctx context.Context, tx TxRepository, id int64) (Receipt, PutAway, error) {
	grID, err := tx.PutAwayReceiptID(ctx, id)
	if err != nil {
		return Receipt{}, PutAway{}, err
	}
	gr, err := lockPostedReceipt(ctx, tx, grID)
	if err != nil {
		return Receipt{}, PutAway{}, err
	}
	pa, err := tx.LockPutAway(ctx, id)
	if err != nil {
		return Receipt{}, PutAway{}, err
	}
	return gr, pa, nil
}

// resolveSource returns the override location or the warehouse's default receiving location.
func resolveSource(ctx context.Context, tx TxRepository, warehouseID int64, override *int64) (locations.Location, error) {
	if override != nil {
		loc, err := locations.RequireLocation(ctx, tx.Locations(), warehouseID, *override, "")
		if err != nil {
			return locations.Location{}, shared.InvalidLine(0, "source_location_id", err)
		}
		return loc, nil
	}
	return locations.ResolveDefaultReceiving(ctx, tx.Locations(), warehouseID)
}

// buildLines validates requested lines against the locked receipt and the
// quantities already moved by POSTED put-aways. Lines drawing on the same
// receipt line accumulate. No line may store into sourceID itself.
func buildLines(ctx context.Context, tx TxRepository, gr Receipt, sourceID int64, in []LineInput, strictSerials bool) ([]Line, error) {
	if len(in) == 0 {
		return nil, shared.Invalid("lines", ErrEmptyLines.Error())
	}
	grLines := gr.LineByID()
	itemIDs := make([]int64, 0, len(in))
	for i, l := range in {
		grl, ok := grLines[l.GoodsReceiptLineID]
		if !ok {
			return nil, shared.InvalidLine(i+1, "goods_receipt_line_id", ErrReceiptLineMismatch)
		}
		if !l.Qty.IsPositive() {
			return nil, shared.InvalidLine(i+1, "qty", ErrInvalidQuantity)
		}
		if err := shared.CheckQuantityScale(l.Qty); err != nil {
			return nil, shared.InvalidLine(i+1, "qty", err)
		}
		if l.DestinationLocationID == sourceID {
			return nil, shared.InvalidLine(i+1, "destination_location_id", ErrSameLocation)
		}
		if _, err := locations.RequireLocation(ctx, tx.Locations(), gr.WarehouseID, l.DestinationLocationID, locations.TypeStorage); err != nil {
			return nil, shared.InvalidLine(i+1, "destination_location_id", err)
		}
		itemIDs = append(itemIDs, grl.ItemID)
	}
	items, err := tx.Items().ItemsByID(ctx, itemIDs)
	if err != nil {
		return nil, err
	}
	done, err := tx.PutAwayToDate(ctx, gr.ID)
	if err != nil {
		return nil, err
	}

	out := make([]Line, 0, len(in))
	drafted := make(map[int64]decimal.Decimal, len(in))
	perLine := make([][]string, 0, len(in))
	for i, l := range in {
		grl := grLines[l.GoodsReceiptLineID]
		consumed := done[grl.ID].Add(drafted[grl.ID])
		if shared.Exceeds(grl.Qty, consumed, l.Qty) {
			return nil, &shared.OverAllocationError{
				Kind:      "over-put-away",
				Line:      i + 1,
				RefID:     grl.ID,
				Limit:     grl.Qty,
				Consumed:  consumed,
				Requested: l.Qty,
			}
		}
		drafted[grl.ID] = drafted[grl.ID].Add(l.Qty)

		serialized := items[grl.ItemID].IsSerialized
		var nums []string
		if strictSerials {
			nums, err = serials.PrepareLine(i+1, serialized, l.Qty, l.SerialNumbers)
		} else {
			nums, err = serials.PrepareDraftLine(i+1, serialized, l.SerialNumbers)
		}
		if err != nil {
			return nil, err
		}
		if err := ensureReceived(i+1, grl.SerialNumbers, nums); err != nil {
			return nil, err
		}
		perLine = append(perLine, nums)
		out = append(out, Line{
			LineNo:                i + 1,
			GoodsReceiptLineID:    grl.ID,
			ItemID:                grl.ItemID,
			UOMID:                 grl.UOMID,
			DestinationLocationID: l.DestinationLocationID,
			Qty:                   l.Qty,
			SerialNumbers:         nums,
		})
	}
	if err := serials.EnsureDistinctAcrossLines(perLine); err != nil {
		return nil, err
	}
	return out, nil
}

func ensureReceived(line int, received, requested []string) error {
	if len(requested) == 0 {
		return nil
	}
	known := make(map[string]struct{}, len(received))
	for _, s := range received {
		known[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := known[s]; !ok {
			return shared.InvalidLine(line, "serial_numbers", fmt.Errorf("%w: %s", ErrSerialNotReceived, s))
		}
	}
	return nil
}

// finish runs the after-commit side effects. They never fail the operation.
func (s *Service) finish(ctx context.Context, actor shared.Actor, action string, pa PutAway, err error, movedStock bool) {
	if s.observer != nil {
		s.observer.DocumentTransition(shared.RefPutAway, action, err)
	}
	if err != nil {
		s.logger.Info("put-away rejected", slog.String("action", action), slog.Int64("actor_id", actor.ID), slog.Any("error", err))
		return
	}
	if movedStock && s.cache != nil {
		s.cache.InvalidateItems(ctx, pa.ItemIDs()...)
	}
	if s.audit != nil {
		if auditErr := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "put_away." + strings.ToLower(action),
			Entity:   "put_away",
			EntityID: strconv.FormatInt(pa.ID, 10),
			Meta:     map[string]any{"number": pa.Number, "status": pa.Status, "goods_receipt_id": pa.GoodsReceiptID},
		}); auditErr != nil {
			s.logger.Warn("audit put-away", slog.Any("error", auditErr))
		}
	}
}
