package receiving

import (
	"context"
	"encoding/json"
	"errors"
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
	"github.com/abdialidrus/scm-mining/internal/procurement"
	"github.com/abdialidrus/scm-mining/internal/sequence"
	"github.com/abdialidrus/scm-mining/internal/serials"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

// TxRepository exposes everything a receipt transition touches inside one transaction.
type TxRepository interface {
	// ReceiptPurchaseOrderID reads the order a receipt belongs to without locking.
	ReceiptPurchaseOrderID(ctx context.Context, id int64) (int64, error)
	LockReceipt(ctx context.Context, id int64) (GoodsReceipt, error)
	InsertReceipt(ctx context.Context, gr GoodsReceipt) (GoodsReceipt, error)
	UpdateReceipt(ctx context.Context, gr GoodsReceipt) error
	ReplaceReceiptLines(ctx context.Context, receiptID int64, lines []Line) ([]Line, error)
	// ReceivedToDate sums POSTED receipt quantities per purchase order line.
	ReceivedToDate(ctx context.Context, purchaseOrderID int64) (map[int64]decimal.Decimal, error)
	InsertHistory(ctx context.Context, h shared.StatusHistory) error

	PurchaseOrders() procurement.Locker
	Locations() locations.Store
	Items() catalog.Reader
	Ledger() ledger.Store
	Serials() serials.Store
	Sequences() sequence.Store
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetReceipt(ctx context.Context, id int64) (GoodsReceipt, error)
	ListReceipts(ctx context.Context, filter ListFilter) ([]GoodsReceipt, int, error)
	History(ctx context.Context, id int64) ([]shared.StatusHistory, error)
	PurchaseOrderProgress(ctx context.Context, purchaseOrderID int64) ([]POLineProgress, error)
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

// Service coordinates goods receipt operations.
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

// Get returns a receipt with its lines.
func (s *Service) Get(ctx context.Context, id int64) (GoodsReceipt, error) {
	return s.repo.GetReceipt(ctx, id)
}

// List returns receipts matching filter and the total count.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]GoodsReceipt, int, error) {
	return s.repo.ListReceipts(ctx, filter)
}

// History returns the status transitions of a receipt.
func (s *Service) History(ctx context.Context, id int64) ([]shared.StatusHistory, error) {
	return s.repo.History(ctx, id)
}

// Progress reports received quantities per line of a purchase order. Advisory only.
func (s *Service) Progress(ctx context.Context, purchaseOrderID int64) ([]POLineProgress, error) {
	return s.repo.PurchaseOrderProgress(ctx, purchaseOrderID)
}

// ResolveReference describes a receipt for movement lookups.
func (s *Service) ResolveReference(ctx context.Context, id int64) (shared.DocumentSummary, error) {
	gr, err := s.repo.GetReceipt(ctx, id)
	if err != nil {
		return shared.DocumentSummary{}, err
	}
	return shared.DocumentSummary{Kind: shared.RefGoodsReceipt, ID: gr.ID, Number: gr.Number, Status: gr.Status}, nil
}

// CreateDraft opens a receipt against a receivable purchase order.
func (s *Service) CreateDraft(ctx context.Context, actor shared.Actor, in CreateInput) (GoodsReceipt, error) {
	var created GoodsReceipt
	err := s.authorize(actor)
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			po, err := lockReceivablePO(ctx, tx, in.PurchaseOrderID)
			if err != nil {
				return err
			}
			wh, err := locations.RequireActiveWarehouse(ctx, tx.Locations(), in.WarehouseID)
			if err != nil {
				return err
			}
			lines, err := buildLines(ctx, tx, po, in.Lines, false)
			if err != nil {
				return err
			}
			now := s.now()
			number, err := sequence.Next(ctx, tx.Sequences(), sequence.PrefixGoodsReceipt, now)
			if err != nil {
				return err
			}
			poSnap, whSnap, err := snapshots(po, wh)
			if err != nil {
				return err
			}
			gr, err := tx.InsertReceipt(ctx, GoodsReceipt{
				Number:            number,
				PurchaseOrderID:   po.ID,
				WarehouseID:       wh.ID,
				Status:            shared.DocStatusDraft,
				Remarks:           strings.TrimSpace(in.Remarks),
				POSnapshot:        poSnap,
				WarehouseSnapshot: whSnap,
				CreatedBy:         actor.ID,
				CreatedAt:         now,
				UpdatedAt:         now,
			})
			if err != nil {
				return err
			}
			gr.Lines, err = tx.ReplaceReceiptLines(ctx, gr.ID, lines)
			if err != nil {
				return err
			}
			if err := tx.InsertHistory(ctx, shared.Transition(shared.RefGoodsReceipt, gr.ID, nil, shared.DocStatusDraft, shared.ActionCreate, actor.ID,
				map[string]any{"number": gr.Number, "purchase_order_id": po.ID})); err != nil {
				return err
			}
			created = gr
			return nil
		})
	}
	s.finish(ctx, actor, shared.ActionCreate, created, err, false)
	return created, err
}

// UpdateDraft replaces the lines of a DRAFT receipt.
func (s *Service) UpdateDraft(ctx context.Context, actor shared.Actor, id int64, in UpdateInput) (GoodsReceipt, error) {
	var updated GoodsReceipt
	err := s.authorize(actor)
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			po, gr, err := lockPOThenReceipt(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := shared.EnsureDraft(shared.RefGoodsReceipt, gr.Status); err != nil {
				return err
			}
			if !po.Status.Receivable() {
				return ErrPONotReceivable
			}
			movedWarehouse := in.WarehouseID > 0 && in.WarehouseID != gr.WarehouseID
			if movedWarehouse {
				gr.WarehouseID = in.WarehouseID
			}
			wh, err := locations.RequireActiveWarehouse(ctx, tx.Locations(), gr.WarehouseID)
			if err != nil {
				return err
			}
			lines, err := buildLines(ctx, tx, po, in.Lines, true)
			if err != nil {
				return err
			}
			if in.Remarks != nil {
				gr.Remarks = strings.TrimSpace(*in.Remarks)
			}
			// the order snapshot stays as taken at creation
			if movedWarehouse {
				if gr.WarehouseSnapshot, err = warehouseSnapshot(wh); err != nil {
					return err
				}
			}
			gr.UpdatedAt = s.now()
			if err := tx.UpdateReceipt(ctx, gr); err != nil {
				return err
			}
			gr.Lines, err = tx.ReplaceReceiptLines(ctx, gr.ID, lines)
			if err != nil {
				return err
			}
			updated = gr
			return nil
		})
	}
	s.finish(ctx, actor, "UPDATE", updated, err, false)
	return updated, err
}

// Post books a DRAFT receipt: every line lands at the warehouse's default
// receiving location and serialized lines mint their units. All of it
// commits together or not at all.
func (s *Service) Post(ctx context.Context, actor shared.Actor, id int64) (GoodsReceipt, error) {
	var posted GoodsReceipt
	err := s.authorize(actor)
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			po, gr, err := lockPOThenReceipt(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := shared.EnsureDraft(shared.RefGoodsReceipt, gr.Status); err != nil {
				return err
			}
			if !po.Status.Receivable() {
				return ErrPONotReceivable
			}
			if _, err := locations.RequireActiveWarehouse(ctx, tx.Locations(), gr.WarehouseID); err != nil {
				return err
			}
			inputs := make([]LineInput, 0, len(gr.Lines))
			for _, l := range gr.Lines {
				inputs = append(inputs, LineInput{PurchaseOrderLineID: l.PurchaseOrderLineID, Qty: l.Qty, SerialNumbers: l.SerialNumbers})
			}
			checked, err := buildLines(ctx, tx, po, inputs, true)
			if err != nil {
				return err
			}
			receivingLoc, err := locations.ResolveDefaultReceiving(ctx, tx.Locations(), gr.WarehouseID)
			if err != nil {
				return err
			}
			items, err := tx.Items().ItemsByID(ctx, gr.ItemIDs())
			if err != nil {
				return err
			}

			now := s.now()
			postingID := uuid.NewString()
			moves := make([]ledger.MovementInput, 0, len(gr.Lines))
			for i, l := range gr.Lines {
				moves = append(moves, ledger.MovementInput{
					ItemID:                l.ItemID,
					UOMID:                 l.UOMID,
					DestinationLocationID: ledger.Int64Ptr(receivingLoc.ID),
					Qty:                   l.Qty,
					Ref:                   shared.Reference{Kind: shared.RefGoodsReceipt, ID: gr.ID},
					ActorID:               actor.ID,
					At:                    now,
					Meta:                  map[string]any{"document_number": gr.Number, "line_id": l.ID, "posting_id": postingID},
					Line:                  i + 1,
				})
			}
			if err := ledger.LockMovements(ctx, tx.Ledger(), moves); err != nil {
				return err
			}
			for i, l := range gr.Lines {
				if _, err := ledger.Record(ctx, tx.Ledger(), moves[i]); err != nil {
					return err
				}
				if items[l.ItemID].IsSerialized {
					if _, err := serials.Mint(ctx, tx.Serials(), serials.MintInput{
						Line:          i + 1,
						ItemID:        l.ItemID,
						UOMID:         l.UOMID,
						LocationID:    receivingLoc.ID,
						ReceiptLineID: l.ID,
						Serials:       checked[i].SerialNumbers,
						At:            now,
					}); err != nil {
						return err
					}
				}
			}

			gr.Status = shared.DocStatusPosted
			gr.PostedBy = &actor.ID
			gr.PostedAt = &now
			gr.UpdatedAt = now
			if err := tx.UpdateReceipt(ctx, gr); err != nil {
				return err
			}
			if err := tx.InsertHistory(ctx, shared.Transition(shared.RefGoodsReceipt, gr.ID, shared.StatusPtr(shared.DocStatusDraft), shared.DocStatusPosted, shared.ActionPost, actor.ID,
				map[string]any{"receiving_location_id": receivingLoc.ID, "posting_id": postingID})); err != nil {
				return err
			}
			posted = gr
			return nil
		})
	}
	s.finish(ctx, actor, shared.ActionPost, posted, err, true)
	return posted, err
}

// Cancel abandons a DRAFT receipt.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64, in CancelInput) (GoodsReceipt, error) {
	var cancelled GoodsReceipt
	err := s.authorize(actor)
	if err == nil {
		err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			_, gr, err := lockPOThenReceipt(ctx, tx, id)
			if err != nil {
				return err
			}
			if err := shared.EnsureDraft(shared.RefGoodsReceipt, gr.Status); err != nil {
				return err
			}
			now := s.now()
			gr.Status = shared.DocStatusCancelled
			gr.CancelledBy = &actor.ID
			gr.CancelledAt = &now
			gr.CancelReason = strings.TrimSpace(in.Reason)
			gr.UpdatedAt = now
			if err := tx.UpdateReceipt(ctx, gr); err != nil {
				return err
			}
			if err := tx.InsertHistory(ctx, shared.Transition(shared.RefGoodsReceipt, gr.ID, shared.StatusPtr(shared.DocStatusDraft), shared.DocStatusCancelled, shared.ActionCancel, actor.ID,
				map[string]any{"reason": gr.CancelReason})); err != nil {
				return err
			}
			cancelled = gr
			return nil
		})
	}
	s.finish(ctx, actor, shared.ActionCancel, cancelled, err, false)
	return cancelled, err
}

func (s *Service) authorize(actor shared.Actor) error {
	return shared.RequireWarehouseRole(actor)
}

func lockReceivablePO(ctx context.Context, tx TxRepository, id int64) (procurement.PurchaseOrder, error) {
	po, err := tx.PurchaseOrders().LockPurchaseOrder(ctx, id)
	if err != nil {
		return procurement.PurchaseOrder{}, err
	}
	if !po.Status.Receivable() {
		return procurement.PurchaseOrder{}, fmt.Errorf("%w (%s is %s)", ErrPONotReceivable, po.Number, po.Status)
	}
	return po, nil
}

// lockPOThenReceipt keeps the global lock order: purchase order, then receipt.
func lockPOThenReceipt(ctx context.Context, tx TxRepository, id int64) (procurement.PurchaseOrder, GoodsReceipt, error) {
	poID, err := tx.ReceiptPurchaseOrderID(ctx, id)
	if err != nil {
		return procurement.PurchaseOrder{}, GoodsReceipt{}, err
	}
	po, err := tx.PurchaseOrders().LockPurchaseOrder(ctx, poID)
	if err != nil {
		return procurement.PurchaseOrder{}, GoodsReceipt{}, err
	}
	gr, err := tx.LockReceipt(ctx, id)
	if err != nil {
		return procurement.PurchaseOrder{}, GoodsReceipt{}, err
	}
	return po, gr, nil
}

// buildLines validates requested lines against the locked order and the
// quantities already received by POSTED receipts. Lines of the same order
// line accumulate, so a draft cannot split an over-receipt across lines.
// strictSerials demands exactly qty serials on serialized lines.
func buildLines(ctx context.Context, tx TxRepository, po procurement.PurchaseOrder, in []LineInput, strictSerials bool) ([]Line, error) {
	if len(in) == 0 {
		return nil, shared.Invalid("lines", ErrEmptyLines.Error())
	}
	poLines := po.LineByID()
	itemIDs := make([]int64, 0, len(in))
	for i, l := range in {
		pol, ok := poLines[l.PurchaseOrderLineID]
		if !ok {
			return nil, shared.InvalidLine(i+1, "purchase_order_line_id", ErrPOLineMismatch)
		}
		if !l.Qty.IsPositive() {
			return nil, shared.InvalidLine(i+1, "qty", ErrInvalidQuantity)
		}
		if err := shared.CheckQuantityScale(l.Qty); err != nil {
			return nil, shared.InvalidLine(i+1, "qty", err)
		}
		itemIDs = append(itemIDs, pol.ItemID)
	}
	items, err := catalog.Require(ctx, tx.Items(), itemIDs)
	if errors.Is(err, catalog.ErrItemNotFound) {
		return nil, shared.Invalid("item_id", err.Error())
	}
	if err != nil {
		return nil, err
	}
	received, err := tx.ReceivedToDate(ctx, po.ID)
	if err != nil {
		return nil, err
	}

	out := make([]Line, 0, len(in))
	drafted := make(map[int64]decimal.Decimal, len(in))
	perLine := make([][]string, 0, len(in))
	for i, l := range in {
		pol := poLines[l.PurchaseOrderLineID]
		consumed := received[pol.ID].Add(drafted[pol.ID])
		if shared.Exceeds(pol.OrderedQty, consumed, l.Qty) {
			return nil, &shared.OverAllocationError{
				Kind:      "over-receipt",
				Line:      i + 1,
				RefID:     pol.ID,
				Limit:     pol.OrderedQty,
				Consumed:  consumed,
				Requested: l.Qty,
			}
		}
		drafted[pol.ID] = drafted[pol.ID].Add(l.Qty)

		serialized := items[pol.ItemID].IsSerialized
		var nums []string
		if strictSerials {
			nums, err = serials.PrepareLine(i+1, serialized, l.Qty, l.SerialNumbers)
		} else {
			nums, err = serials.PrepareDraftLine(i+1, serialized, l.SerialNumbers)
		}
		if err != nil {
			return nil, err
		}
		perLine = append(perLine, nums)
		out = append(out, Line{
			LineNo:              i + 1,
			PurchaseOrderLineID: pol.ID,
			ItemID:              pol.ItemID,
			UOMID:               pol.UOMID,
			Qty:                 l.Qty,
			SerialNumbers:       nums,
		})
	}
	if err := serials.EnsureDistinctAcrossLines(perLine); err != nil {
		return nil, err
	}
	return out, nil
}

func snapshots(po procurement.PurchaseOrder, wh locations.Warehouse) (json.RawMessage, json.RawMessage, error) {
	poSnap, err := json.Marshal(po)
	if err != nil {
		return nil, nil, fmt.Errorf("receiving: snapshot purchase order: %w", err)
	}
	whSnap, err := warehouseSnapshot(wh)
	if err != nil {
		return nil, nil, err
	}
	return poSnap, whSnap, nil
}

func warehouseSnapshot(wh locations.Warehouse) (json.RawMessage, error) {
	raw, err := json.Marshal(wh)
	if err != nil {
		return nil, fmt.Errorf("receiving: snapshot warehouse: %w", err)
	}
	return raw, nil
}

// finish runs the after-commit side effects. They never fail the operation.
func (s *Service) finish(ctx context.Context, actor shared.Actor, action string, gr GoodsReceipt, err error, movedStock bool) {
	if s.observer != nil {
		s.observer.DocumentTransition(shared.RefGoodsReceipt, action, err)
	}
	if err != nil {
		s.logger.Info("goods receipt rejected", slog.String("action", action), slog.Int64("actor_id", actor.ID), slog.Any("error", err))
		return
	}
	if movedStock && s.cache != nil {
		s.cache.InvalidateItems(ctx, gr.ItemIDs()...)
	}
	if s.audit != nil {
		if auditErr := s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actor.ID,
			Action:   "goods_receipt." + strings.ToLower(action),
			Entity:   "goods_receipt",
			EntityID: strconv.FormatInt(gr.ID, 10),
			Meta:     map[string]any{"number": gr.Number, "status": gr.Status},
		}); auditErr != nil {
			s.logger.Warn("audit goods receipt", slog.Any("error", auditErr))
		}
	}
}
