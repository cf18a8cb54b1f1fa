package locations

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Store
	WithTx(ctx context.Context, fn func(context.Context, Store) error) error
	ListWarehouses(ctx context.Context) ([]Warehouse, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// CreateInput describes a new location.
type CreateInput struct {
	WarehouseID int64
	ParentID    *int64
	Code        string
	Name        string
	Type        Type
	IsDefault   bool
}

// UpdateInput changes the non-nil fields of a location.
type UpdateInput struct {
	ParentID    *int64
	ClearParent bool
	Code        *string
	Name        *string
	Type        *Type
	IsDefault   *bool
}

// Service coordinates location administration.
type Service struct {
	repo   RepositoryPort
	audit  AuditPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, logger: logger}
}

// Warehouses lists all warehouses.
func (s *Service) Warehouses(ctx context.Context) ([]Warehouse, error) {
	return s.repo.ListWarehouses(ctx)
}

// Warehouse returns one warehouse.
func (s *Service) Warehouse(ctx context.Context, id int64) (Warehouse, error) {
	return s.repo.GetWarehouse(ctx, id)
}

// Location returns one location.
func (s *Service) Location(ctx context.Context, id int64) (Location, error) {
	return s.repo.GetLocation(ctx, id)
}

// ListActive lists active locations of a warehouse, optionally of one type.
func (s *Service) ListActive(ctx context.Context, warehouseID int64, typ Type) ([]Location, error) {
	if typ != "" && !typ.Valid() {
		return nil, shared.Invalid("type", "must be RECEIVING or STORAGE")
	}
	return s.repo.ListLocations(ctx, ListFilter{WarehouseID: warehouseID, Type: typ})
}

// DefaultReceiving resolves the default receiving location of a warehouse.
func (s *Service) DefaultReceiving(ctx context.Context, warehouseID int64) (Location, error) {
	return ResolveDefaultReceiving(ctx, s.repo, warehouseID)
}

func requireAdmin(actor shared.Actor) error {
	if actor.ID <= 0 || !actor.Has(shared.PermWarehouseAdmin) {
		return shared.ErrForbidden
	}
	return nil
}

// Create adds a location. The warehouse row is locked first so concurrent
// writers cannot both pass the one-default check.
func (s *Service) Create(ctx context.Context, actor shared.Actor, in CreateInput) (Location, error) {
	if err := requireAdmin(actor); err != nil {
		return Location{}, err
	}
	loc := Location{
		WarehouseID: in.WarehouseID,
		ParentID:    in.ParentID,
		Code:        strings.TrimSpace(in.Code),
		Name:        strings.TrimSpace(in.Name),
		Type:        in.Type,
		IsDefault:   in.IsDefault,
		IsActive:    true,
	}
	if err := validateShape(loc); err != nil {
		return Location{}, err
	}

	var created Location
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		wh, err := store.LockWarehouse(ctx, loc.WarehouseID)
		if err != nil {
			return err
		}
		if !wh.IsActive {
			return ErrWarehouseInactive
		}
		if err := checkParent(ctx, store, loc); err != nil {
			return err
		}
		if err := checkDefault(ctx, store, loc); err != nil {
			return err
		}
		created, err = store.InsertLocation(ctx, loc)
		return err
	})
	if err != nil {
		return Location{}, err
	}
	s.record(ctx, actor, "location.create", created)
	return created, nil
}

// Update changes a location under the warehouse lock.
func (s *Service) Update(ctx context.Context, actor shared.Actor, id int64, in UpdateInput) (Location, error) {
	if err := requireAdmin(actor); err != nil {
		return Location{}, err
	}
	var updated Location
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		current, err := store.GetLocation(ctx, id)
		if err != nil {
			return err
		}
		if _, err := store.LockWarehouse(ctx, current.WarehouseID); err != nil {
			return err
		}
		loc, err := store.LockLocation(ctx, id)
		if err != nil {
			return err
		}
		if in.ClearParent {
			loc.ParentID = nil
		} else if in.ParentID != nil {
			loc.ParentID = in.ParentID
		}
		if in.Code != nil {
			loc.Code = strings.TrimSpace(*in.Code)
		}
		if in.Name != nil {
			loc.Name = strings.TrimSpace(*in.Name)
		}
		if in.Type != nil {
			loc.Type = *in.Type
		}
		if in.IsDefault != nil {
			loc.IsDefault = *in.IsDefault
		}
		if err := validateShape(loc); err != nil {
			return err
		}
		if err := checkParent(ctx, store, loc); err != nil {
			return err
		}
		if err := checkDefault(ctx, store, loc); err != nil {
			return err
		}
		if err := store.UpdateLocation(ctx, loc); err != nil {
			return err
		}
		updated = loc
		return nil
	})
	if err != nil {
		return Location{}, err
	}
	s.record(ctx, actor, "location.update", updated)
	return updated, nil
}

// Deactivate retires a location. It is refused while the location still
// carries stock or is the warehouse's default receiving location.
func (s *Service) Deactivate(ctx context.Context, actor shared.Actor, id int64) (Location, error) {
	if err := requireAdmin(actor); err != nil {
		return Location{}, err
	}
	var out Location
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		current, err := store.GetLocation(ctx, id)
		if err != nil {
			return err
		}
		if _, err := store.LockWarehouse(ctx, current.WarehouseID); err != nil {
			return err
		}
		loc, err := store.LockLocation(ctx, id)
		if err != nil {
			return err
		}
		if !loc.IsActive {
			out = loc
			return nil
		}
		if loc.IsDefault && loc.Type == TypeReceiving {
			return ErrLocationIsDefault
		}
		stock, err := store.LocationStock(ctx, id)
		if err != nil {
			return err
		}
		if stock.IsPositive() {
			return ErrLocationHasStock
		}
		loc.IsActive = false
		if err := store.UpdateLocation(ctx, loc); err != nil {
			return err
		}
		out = loc
		return nil
	})
	if err != nil {
		return Location{}, err
	}
	s.record(ctx, actor, "location.deactivate", out)
	return out, nil
}

// Activate brings a location back, re-checking the one-default rule.
func (s *Service) Activate(ctx context.Context, actor shared.Actor, id int64) (Location, error) {
	if err := requireAdmin(actor); err != nil {
		return Location{}, err
	}
	var out Location
	err := s.repo.WithTx(ctx, func(ctx context.Context, store Store) error {
		current, err := store.GetLocation(ctx, id)
		if err != nil {
			return err
		}
		if _, err := store.LockWarehouse(ctx, current.WarehouseID); err != nil {
			return err
		}
		loc, err := store.LockLocation(ctx, id)
		if err != nil {
			return err
		}
		loc.IsActive = true
		if err := checkDefault(ctx, store, loc); err != nil {
			return err
		}
		if err := store.UpdateLocation(ctx, loc); err != nil {
			return err
		}
		out = loc
		return nil
	})
	if err != nil {
		return Location{}, err
	}
	s.record(ctx, actor, "location.activate", out)
	return out, nil
}

func validateShape(loc Location) error {
	if loc.WarehouseID <= 0 {
		return shared.Invalid("warehouse_id", "required")
	}
	if loc.Code == "" {
		return shared.Invalid("code", "required")
	}
	if loc.Name == "" {
		return shared.Invalid("name", "required")
	}
	if !loc.Type.Valid() {
		return shared.Invalid("type", "must be RECEIVING or STORAGE")
	}
	if loc.IsDefault && loc.Type != TypeReceiving {
		return ErrDefaultNotReceiving
	}
	return nil
}

// checkParent must run with the warehouse row locked. It walks the ancestors
// of the new parent, so a location can never end up nested under itself.
func checkParent(ctx context.Context, store Store, loc Location) error {
	if loc.ParentID == nil {
		return nil
	}
	seen := map[int64]struct{}{}
	for next := loc.ParentID; next != nil; {
		if *next == loc.ID {
			return ErrParentInvalid
		}
		if _, ok := seen[*next]; ok {
			return ErrParentInvalid
		}
		seen[*next] = struct{}{}
		ancestor, err := store.GetLocation(ctx, *next)
		if err != nil {
			return err
		}
		if ancestor.WarehouseID != loc.WarehouseID {
			return ErrParentInvalid
		}
		next = ancestor.ParentID
	}
	return nil
}

// checkDefault must run with the warehouse row locked.
func checkDefault(ctx context.Context, store Store, loc Location) error {
	if !loc.IsDefault || !loc.IsActive {
		return nil
	}
	existing, err := store.ListLocations(ctx, ListFilter{WarehouseID: loc.WarehouseID, Type: TypeReceiving, DefaultOnly: true})
	if err != nil {
		return err
	}
	for _, e := range existing {
		if e.ID != loc.ID {
			return ErrDefaultExists
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor shared.Actor, action string, loc Location) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   "warehouse_location",
		EntityID: strconv.FormatInt(loc.ID, 10),
		Meta:     map[string]any{"warehouse_id": loc.WarehouseID, "code": loc.Code, "type": loc.Type, "is_default": loc.IsDefault, "is_active": loc.IsActive},
	})
	if err != nil {
		s.logger.Warn("audit location change", slog.Any("error", err))
	}
}
