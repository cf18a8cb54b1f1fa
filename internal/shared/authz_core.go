package shared

// Warehouse permissions.
const (
	PermWarehouseView    = "warehouse.view"
	PermWarehouseOperate = "warehouse.operate"
	PermWarehouseAdmin   = "warehouse.admin"
)

// WarehouseScopes lists all permissions related to warehouse operations.
func WarehouseScopes() []string {
	return []string{
		PermWarehouseView,
		PermWarehouseOperate,
		PermWarehouseAdmin,
	}
}
