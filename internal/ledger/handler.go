package ledger

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/abdialidrus/scm-mining/internal/platform/httpx"
	"github.com/abdialidrus/scm-mining/internal/rbac"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

// ReconcileEnqueuer schedules a background reconciliation run.
type ReconcileEnqueuer interface {
	EnqueueReconcile(ctx context.Context, repair bool) (string, error)
}

// Handler exposes stock movement and balance endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	enqueuer ReconcileEnqueuer
	rbac     rbac.Middleware
}

// NewHandler builds Handler instance. enqueuer may be nil, in which case
// reconciliation always runs inline.
func NewHandler(logger *slog.Logger, service *Service, enqueuer ReconcileEnqueuer, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, enqueuer: enqueuer, rbac: rbac}
}

// MountRoutes registers stock routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.WarehouseScopes()...))
		r.Get("/stock/movements", h.movements)
		r.Get("/stock/movements/{id}/source", h.movementSource)
		r.Get("/stock/balances", h.balances)
		r.Get("/stock/items/{id}/on-hand", h.onHand)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermWarehouseAdmin))
		r.Post("/stock/reconcile", h.reconcile)
	})
}

func (h *Handler) movements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		filter MovementFilter
		err    error
	)
	if filter.ItemID, err = httpx.Int64Query(r, "item_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.LocationID, err = httpx.Int64Query(r, "location_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if kind := strings.ToUpper(strings.TrimSpace(q.Get("ref_type"))); kind != "" {
		ref := shared.Reference{Kind: shared.RefKind(kind)}
		if !ref.Kind.Valid() {
			httpx.RespondError(w, shared.Invalid("ref_type", "unknown reference type"))
			return
		}
		if ref.ID, err = httpx.Int64Query(r, "ref_id"); err != nil {
			httpx.RespondError(w, err)
			return
		}
		filter.Ref = &ref
	}
	if filter.From, err = parseDate(q.Get("from"), "from", false); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.To, err = parseDate(q.Get("to"), "to", true); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))

	rows, err := h.service.Movements(r.Context(), filter)
	if err != nil {
		h.logger.Error("list movements", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) movementSource(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	doc, err := h.service.MovementSource(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	var (
		filter BalanceFilter
		err    error
	)
	if filter.ItemID, err = httpx.Int64Query(r, "item_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.LocationID, err = httpx.Int64Query(r, "location_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.WarehouseID, err = httpx.Int64Query(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.NonZero = r.URL.Query().Get("non_zero") == "1"

	rows, err := h.service.Balances(r.Context(), filter)
	if err != nil {
		h.logger.Error("list balances", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) onHand(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	snap, err := h.service.OnHandByItem(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, snap)
}

// reconcile returns a synchronous report for dry runs. Repairs are queued
// when a worker is configured and run inline otherwise.
func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	dryRun := r.URL.Query().Get("dry_run") == "1"
	if !dryRun && h.enqueuer != nil {
		taskID, err := h.enqueuer.EnqueueReconcile(r.Context(), true)
		if err != nil {
			h.logger.Error("enqueue reconcile", slog.Any("error", err))
			httpx.RespondError(w, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
		return
	}
	report, err := h.service.Reconcile(r.Context(), !dryRun)
	if err != nil {
		h.logger.Error("reconcile balances", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func parseDate(raw, field string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, shared.Invalid(field, "must be YYYY-MM-DD or RFC3339")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}
