package locations

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/abdialidrus/scm-mining/internal/platform/httpx"
	"github.com/abdialidrus/scm-mining/internal/rbac"
	"github.com/abdialidrus/scm-mining/internal/shared"
)

// Handler exposes warehouse and location endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
	rbac    rbac.Middleware
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac}
}

// MountRoutes registers warehouse and location routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(shared.WarehouseScopes()...))
		r.Get("/warehouses", h.listWarehouses)
		r.Get("/warehouses/{id}", h.showWarehouse)
		r.Get("/warehouses/{id}/locations", h.listLocations)
		r.Get("/warehouses/{id}/default-receiving", h.defaultReceiving)
		r.Get("/locations/{id}", h.showLocation)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(shared.PermWarehouseAdmin))
		r.Post("/warehouses/{id}/locations", h.create)
		r.Patch("/locations/{id}", h.update)
		r.Post("/locations/{id}/deactivate", h.deactivate)
		r.Post("/locations/{id}/activate", h.activate)
	})
}

type createRequest struct {
	ParentID  *int64 `json:"parent_id" validate:"omitempty,gt=0"`
	Code      string `json:"code" validate:"required,max=64"`
	Name      string `json:"name" validate:"required,max=255"`
	Type      Type   `json:"type" validate:"required,oneof=RECEIVING STORAGE"`
	IsDefault bool   `json:"is_default"`
}

type updateRequest struct {
	ParentID    *int64  `json:"parent_id" validate:"omitempty,gt=0"`
	ClearParent bool    `json:"clear_parent"`
	Code        *string `json:"code" validate:"omitempty,min=1,max=64"`
	Name        *string `json:"name" validate:"omitempty,min=1,max=255"`
	Type        *Type   `json:"type" validate:"omitempty,oneof=RECEIVING STORAGE"`
	IsDefault   *bool   `json:"is_default"`
}

func (h *Handler) listWarehouses(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.Warehouses(r.Context())
	if err != nil {
		h.logger.Error("list warehouses", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) showWarehouse(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	wh, err := h.service.Warehouse(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, wh)
}

func (h *Handler) listLocations(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	typ := Type(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("type"))))
	rows, err := h.service.ListActive(r.Context(), id, typ)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"data": rows})
}

func (h *Handler) defaultReceiving(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	loc, err := h.service.DefaultReceiving(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loc)
}

func (h *Handler) showLocation(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	loc, err := h.service.Location(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loc)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	warehouseID, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
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
	loc, err := h.service.Create(r.Context(), actor, CreateInput{
		WarehouseID: warehouseID,
		ParentID:    req.ParentID,
		Code:        req.Code,
		Name:        req.Name,
		Type:        req.Type,
		IsDefault:   req.IsDefault,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, loc)
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
	loc, err := h.service.Update(r.Context(), actor, id, UpdateInput{
		ParentID:    req.ParentID,
		ClearParent: req.ClearParent,
		Code:        req.Code,
		Name:        req.Name,
		Type:        req.Type,
		IsDefault:   req.IsDefault,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loc)
}

func (h *Handler) deactivate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	loc, err := h.service.Deactivate(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loc)
}

func (h *Handler) activate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.Int64Param(r, "id")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	actor, _ := shared.ActorFromContext(r.Context())
	loc, err := h.service.Activate(r.Context(), actor, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, loc)
}
