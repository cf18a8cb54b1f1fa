package picking

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

// Handler exposes picking endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers picking routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.WarehouseScopes()...))
		r.Get("/pickings", h.list)
		r.Get("/pickings/{id}", h.show)
		r.Get("/pickings/{id}/history", h.history)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.PermWarehouseOperate, shared.PermWarehouseAdmin))
		r.Post("/pickings", h.create)
		r.Put("/pickings/{id}", h.update)
		r.Post("/pickings/{id}/post", h.post)
		r.Post("/pickings/{id}/cancel", h.cancel)
	})
}

type lineRequest struct {
	ItemID           int64           `json:"item_id" validate:"required,gt=0"`
	UOMID            int64           `json:"uom_id" validate:"omitempty,gt=0"`
	SourceLocationID int64           `json:"source_location_id" validate:"required,gt=0"`
	Qty              decimal.Decimal `json:"qty"`
	SerialNumbers    []string        `json:"serial_numbers" validate:"omitempty,dive,required,max=128"`
}

type createRequest struct {
	WarehouseID  int64         `json:"warehouse_id" validate:"required,gt=0"`
	DepartmentID *int64        `json:"department_id" validate:"omitempty,gt=0"`
	Purpose      string        `json:"purpose" validate:"max=255"`
	Remarks      string        `json:"remarks" validate:"max=1000"`
	Lines        []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type updateRequest struct {
	DepartmentID *int64        `json:"department_id" validate:"omitempty,gt=0"`
	Purpose      *string       `json:"purpose" validate:"omitempty,max=255"`
	Remarks      *string       `json:"remarks" validate:"omitempty,max=1000"`
	Lines        []lineRequest `json:"lines" validate:"required,min=1,dive"`
}

type cancelRequest struct {
	Reason string `json:"reason" validate:"max=1000"`
}

func toLineInputs(lines []lineRequest) []LineInput {
	out := make([]LineInput, 0, len(lines))
	for _, l := range lines {
		out = append(out, LineInput{
			ItemID:           l.ItemID,
			UOMID:            l.UOMID,
			SourceLocationID: l.SourceLocationID,
			Qty:              l.Qty,
			SerialNumbers:    l.SerialNumbers,
		})
	}
	return out
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{Status: shared.DocStatus(r.URL.Query().Get("status"))}
	var err error
	if filter.WarehouseID, err = httpx.Int64Query(r, "warehouse_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if filter.DepartmentID, err = httpx.Int64Query(r, "department_id"); err != nil {
		httpx.RespondError(w, err)
		return
	}
	filter.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filter.PerPage, _ = strconv.Atoi(r.URL.Query().Get("per_page"))

	rows, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list pickings", slog.Any("error", err))
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
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	rows, err := h.service.History(r.Context(), id)
	if err != nil {
		h.logger.Error("picking history", slog.Int64("id", id), slog.Any("error", err))
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
	p, err := h.service.CreateDraft(r.Context(), actor, CreateInput{
		WarehouseID:  req.WarehouseID,
		DepartmentID: req.DepartmentID,
		Purpose:      req.Purpose,
		Remarks:      req.Remarks,
		Lines:        toLineInputs(req.Lines),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
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
	p, err := h.service.UpdateDraft(r.Context(), actor, id, UpdateInput{
		DepartmentID: req.DepartmentID,
		Purpose:      req.Purpose,
		Remarks:      req.Remarks,
		Lines:        toLineInputs(req.Lines),
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	p, err := h.service.Post(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
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
	p, err := h.service.Cancel(r.Context(), actor, id, CancelInput{Reason: req.Reason})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}
