package putaway

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

// Handler exposes put-away endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers put-away routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.WarehouseScopes()...))
		r.Get("/put-aways", h.list)
		r.Get("/put-aways/{id}", h.show)
		r.Get("/put-aways/{id}/history", h.history)
		r.Get("/goods-receipts/{id}/put-away-summary", h.summary)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermWarehouseOperate, shared.PermWarehouseAdmin))
		r.Post("/put-aways", h.create)
		r.Put("/put-aways/{id}", h.update)
		r.Post("/put-aways/{id}/post", h.post)
		r.Post("/put-aways/{id}/cancel", h.cancel)
	})
}

type lineRequest struct {
	GoodsReceiptLineID    int64           `json:"goods_receipt_line_id" validate:"required,gt=0"`
	DestinationLocationID int64           `json:"destination_location_id" validate:"required,gt=0"`
	Qty                   decimal.Decimal `json:"qty"`
	SerialNumbers         []string        `json:"serial_numbers" validate:"omitempty,dive,required,max=128"`
}

type createRequest struct {
	GoodsReceiptID   int64         `json:"goods_receipt_id" validate:"required,gt=0"`
	SourceLocationID *int64        `json:"source_location_id" validate:"omitempty,gt=0"`
	Remarks          string        `json:"remarks" validate:"max=1000"`
	Lines            []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type updateRequest struct {
	SourceLocationID *int64        `json:"source_location_id" validate:"omitempty,gt=0"`
	ClearSource      bool          `json:"clear_source_location"`
	Remarks          *string       `json:"remarks" validate:"omitempty,max=1000"`
	Lines            []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

func toLineInputs(lines []lineRequest) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineInput{
			GoodsReceiptLineID:    l.GoodsReceiptLineID,
			DestinationLocationID: l.DestinationLocationID,
			Qty:                   l.Qty,
			SerialNumbers:         l.SerialNumbers,
		})
	}
	return out
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Status: shared.DocStatus(r.URL.Query().Get("status"))}
	var err error
	if filter.GoodsReceiptID, err = httpx.Int64Query(r, "goods_receipt_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.WarehouseID, err = httpx.Int64Query(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))

	rows, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list put-aways", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"data":       rows,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	pa, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pa)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.History(r.Context(), id)
	if err != nil {
		h.logger.Error("put-away history", slog.Int64("id", id), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) summary(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.GoodsReceiptPutAwaySummary(r.Context(), id)
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
	pa, err := h.service.CreateDraft(r.Context(), actor, CreateInput{
		GoodsReceiptID:   req.GoodsReceiptID,
		SourceLocationID: req.SourceLocationID,
		Remarks:          req.Remarks,
		Lines:            toLineInputs(req.Lines),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, pa)
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
	pa, err := h.service.UpdateDraft(r.Context(), actor, id, UpdateInput{
		SourceLocationID: req.SourceLocationID,
		ClearSource:      req.ClearSource,
		Remarks:          req.Remarks,
		Lines:            toLineInputs(req.Lines),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pa)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	pa, err := h.service.Post(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pa)
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
	pa, err := h.service.Cancel(r.Context(), actor, id, CancelInput{Reason: req.Reason})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pa)
}
