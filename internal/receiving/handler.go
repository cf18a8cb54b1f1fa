package receiving

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/abdialidrus/scm-mining/internal/platform/httpx"
	"github.com/abdialidrus/scm-mining/internal/rbac"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

// Handler exposes goods receipt endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers goods receipt routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.WarehouseScopes()...))
		r.Get("/goods-receipts", h.list)
		r.Get("/goods-receipts/{id}", h.show)
		r.Get("/goods-receipts/{id}/history", h.history)
		r.Get("/purchase-orders/{id}/receipt-progress", h.progress)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermWarehouseOperate, shared.PermWarehouseAdmin))
		r.Post("/goods-receipts", h.create)
		r.Put("/goods-receipts/{id}", h.update)
		r.Post("/goods-receipts/{id}/post", h.post)
		r.Post("/goods-receipts/{id}/cancel", h.cancel)
	})
}

type lineRequest struct {
	PurchaseOrderLineID int64           `json:"purchase_order_line_id" validate:"required,gt=0"`
	Qty                 decimal.Decimal `json:"qty"`
	SerialNumbers       []string        `json:"serial_numbers" validate:"omitempty,dive,required,max=128"`
}

type createRequest struct {
	PurchaseOrderID int64         `json:"purchase_order_id" validate:"required,gt=0"`
	WarehouseID     int64         `json:"warehouse_id" validate:"required,gt=0"`
	Remarks         string        `json:"remarks" validate:"max=1000"`
	Lines           []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type updateRequest struct {
	WarehouseID int64         `json:"warehouse_id" validate:"omitempty,gt=0"`
	Remarks     *string       `json:"remarks" validate:"omitempty,max=1000"`
	Lines       []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

func toLineInputs(lines []lineRequest) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineInput{PurchaseOrderLineID: l.PurchaseOrderLineID, Qty: l.Qty, SerialNumbers: l.SerialNumbers})
	}
	return out
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Status: shared.DocStatus(r.URL.Query().Get("status"))}
	var err error
	if filter.PurchaseOrderID, err = httpx.Int64Query(r, "purchase_order_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.WarehouseID, err = httpx.Int64Query(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))

	receipts, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list goods receipts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       receipts,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	gr, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, gr)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.History(r.Context(), id)
	if err != nil {
		h.logger.Error("goods receipt history", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) progress(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.Progress(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	gr, err := h.service.CreateDraft(r.Context(), actor, CreateInput{
		PurchaseOrderID: req.PurchaseOrderID,
		WarehouseID:     req.WarehouseID,
		Remarks:         req.Remarks,
		Lines:           toLineInputs(req.Lines),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, gr)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := httpx.Validate(req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	gr, err := h.service.UpdateDraft(r.Context(), actor, id, UpdateInput{
		WarehouseID: req.WarehouseID,
		Remarks:     req.Remarks,
		Lines:       toLineInputs(req.Lines),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, gr)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	gr, err := h.service.Post(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, gr)
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req cancelRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if err := httpx.Validate(req); err != nil {
			httpx.RespondError(w, err)
			return
		}
	}
	actor, _ := shared.ActorFromContext(r.Context())
	gr, err := h.service.Cancel(r.Context(), actor, id, CancelInput{Reason: req.Reason})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, gr)
}
