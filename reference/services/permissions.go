package services

import "fleet-console-backend/db/models"

// restricted lists, per role, the reference kinds the role may not see.
// Roles missing from the table are denied every kind in restrictedKinds.
var restricted = map[models.Role]map[models.ReferenceKind]bool{
	models.RoleAdmin:      {},
	models.RoleStaff:      {},
	models.RoleContractor: {},
	models.RoleCustomer: {
		models.RefVehicles: true,
		models.RefDrivers:  true,
	},
}

// restrictedKinds are the kinds that need an explicit grant.
var restrictedKinds = map[models.ReferenceKind]bool{
	models.RefVehicles: true,
	models.RefDrivers:  true,
}

// CanView reports whether role may see (and therefore edit) kind.
func CanView(kind models.ReferenceKind, role models.Role) bool {
	denied, known := restricted[role]
	if !known {
		return !restrictedKinds[kind]
	}
	return !denied[kind]
}

// FieldKind maps an upload row field to the reference list it is picked from.
func FieldKind(field string) (models.ReferenceKind, bool) {
	switch field {
	case "customer", "customer_id":
		return models.RefCustomers, true
	case "service", "service_id":
		return models.RefServices, true
	case "vehicle_type", "vehicle_type_id":
		return models.RefVehicleTypes, true
	case "vehicle", "vehicle_id":
		return models.RefVehicles, true
	case "driver", "driver_id":
		return models.RefDrivers, true
	case "contractor", "contractor_id":
		return models.RefContractors, true
	}
	return "", false
}

// CanViewField is CanView for a row field; plain text fields are always visible.
func CanViewField(field string, role models.Role) bool {
	kind, ok := FieldKind(field)
	if !ok {
		return true
	}
	return CanView(kind, role)
}
