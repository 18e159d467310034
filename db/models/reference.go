package models

// ReferenceKind names one of the lookup lists used by the edit-row dropdowns.
type ReferenceKind string

const (
	RefCustomers    ReferenceKind = "customers"
	RefServices     ReferenceKind = "services"
	RefVehicles     ReferenceKind = "vehicles"
	RefDrivers      ReferenceKind = "drivers"
	RefContractors  ReferenceKind = "contractors"
	RefVehicleTypes ReferenceKind = "vehicle_types"
)

// ReferenceKinds in fetch order.
var ReferenceKinds = []ReferenceKind{
	RefCustomers, RefServices, RefVehicles, RefDrivers, RefContractors, RefVehicleTypes,
}

// ReferenceItem is a dropdown entry.
type ReferenceItem struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ReferenceData holds the six lookup lists. It is immutable once loaded.
type ReferenceData struct {
	Customers    []ReferenceItem `json:"customers"`
	Services     []ReferenceItem `json:"services"`
	Vehicles     []ReferenceItem `json:"vehicles"`
	Drivers      []ReferenceItem `json:"drivers"`
	Contractors  []ReferenceItem `json:"contractors"`
	VehicleTypes []ReferenceItem `json:"vehicle_types"`
}

// List returns the list for kind.
func (d *ReferenceData) List(kind ReferenceKind) []ReferenceItem {
	if d == nil {
		return nil
	}
	switch kind {
	case RefCustomers:
		return d.Customers
	case RefServices:
		return d.Services
	case RefVehicles:
		return d.Vehicles
	case RefDrivers:
		return d.Drivers
	case RefContractors:
		return d.Contractors
	case RefVehicleTypes:
		return d.VehicleTypes
	}
	return nil
}

// Set replaces the list for kind.
func (d *ReferenceData) Set(kind ReferenceKind, items []ReferenceItem) {
	switch kind {
	case RefCustomers:
		d.Customers = items
	case RefServices:
		d.Services = items
	case RefVehicles:
		d.Vehicles = items
	case RefDrivers:
		d.Drivers = items
	case RefContractors:
		d.Contractors = items
	case RefVehicleTypes:
		d.VehicleTypes = items
	}
}

// Role is the operator role carried in the access token.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleStaff      Role = "staff"
	RoleContractor Role = "contractor"
	RoleCustomer   Role = "customer"
)

// Principal is the authenticated operator behind a request.
type Principal struct {
	Email      string `json:"email"`
	Role       Role   `json:"role"`
	CustomerID *int   `json:"customer_id,omitempty"`
}
