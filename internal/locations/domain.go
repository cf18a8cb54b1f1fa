// Package locations manages warehouses and their receiving and storage locations.
package locations

import (
	"fmt"
	"time"

	"github.com/abdialidrus/scm-mining/internal/shared"
)

// Type distinguishes where stock lands on receipt from where it is stored.
type Type string

const (
	TypeReceiving Type = "RECEIVING"
	TypeStorage   Type = "STORAGE"
)

// Valid reports whether t is a known location type.
func (t Type) Valid() bool {
	return t == TypeReceiving || t == TypeStorage
}

var (
	// ErrWarehouseNotFound indicates an unknown warehouse.
	ErrWarehouseNotFound = fmt.Errorf("locations: warehouse %w", shared.ErrNotFound)
	// ErrLocationNotFound indicates an unknown location.
	ErrLocationNotFound = fmt.Errorf("locations: location %w", shared.ErrNotFound)
	// ErrWarehouseInactive indicates a deactivated warehouse.
	ErrWarehouseInactive = fmt.Errorf("%w: warehouse is inactive", shared.ErrValidation)
	// ErrLocationInactive indicates a deactivated location.
	ErrLocationInactive = fmt.Errorf("%w: location is inactive", shared.ErrValidation)
	// ErrWrongWarehouse indicates a location belonging to another warehouse.
	ErrWrongWarehouse = fmt.Errorf("%w: location belongs to another warehouse", shared.ErrValidation)
	// ErrWrongType indicates a location of the wrong type for the operation.
	ErrWrongType = fmt.Errorf("%w: wrong location type", shared.ErrValidation)
	// ErrDefaultNotReceiving indicates is_default set on a non RECEIVING location.
	ErrDefaultNotReceiving = fmt.Errorf("%w: only RECEIVING locations can be default", shared.ErrValidation)
	// ErrDefaultExists indicates a second default RECEIVING location in a warehouse.
	ErrDefaultExists = fmt.Errorf("%w: warehouse already has a default receiving location", shared.ErrValidation)
	// ErrNoDefaultReceiving indicates a warehouse without an active default RECEIVING location.
	ErrNoDefaultReceiving = fmt.Errorf("%w: warehouse has no active default receiving location", shared.ErrInvalidState)
	// ErrAmbiguousDefaultReceiving indicates more than one active default RECEIVING location.
	ErrAmbiguousDefaultReceiving = fmt.Errorf("%w: warehouse has more than one default receiving location", shared.ErrInvalidState)
	// ErrLocationHasStock blocks deactivation of a location that still carries stock.
	ErrLocationHasStock = fmt.Errorf("%w: location still carries stock", shared.ErrInvalidState)
	// ErrLocationIsDefault blocks deactivation of the default receiving location.
	ErrLocationIsDefault = fmt.Errorf("%w: location is the default receiving location", shared.ErrInvalidState)
	// ErrParentInvalid indicates a parent from another warehouse, or one that would nest a location under itself.
	ErrParentInvalid = fmt.Errorf("%w: invalid parent location", shared.ErrValidation)
)

// Warehouse is a physical site.
type Warehouse struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Location is a place inside a warehouse that can hold stock.
type Location struct {
	ID          int64     `json:"id"`
	WarehouseID int64     `json:"warehouse_id"`
	ParentID    *int64    `json:"parent_id,omitempty"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	Type        Type      `json:"type"`
	IsDefault   bool      `json:"is_default"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ListFilter narrows location queries.
type ListFilter struct {
	WarehouseID     int64
	Type            Type
	IncludeInactive bool
	DefaultOnly     bool
}
