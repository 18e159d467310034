package services

import (
	"testing"

	"fleet-console-backend/db/models"

	"github.com/stretchr/testify/assert"
)

func TestCanView(t *testing.T) {
	tests := []struct {
		role models.Role
		kind models.ReferenceKind
		want bool
	}{
		{models.RoleAdmin, models.RefDrivers, true},
		{models.RoleStaff, models.RefVehicles, true},
		{models.RoleContractor, models.RefDrivers, true},
		{models.RoleCustomer, models.RefCustomers, true},
		{models.RoleCustomer, models.RefServices, true},
		{models.RoleCustomer, models.RefVehicles, false},
		{models.RoleCustomer, models.RefDrivers, false},
		{models.Role("auditor"), models.RefServices, true},
		{models.Role("auditor"), models.RefDrivers, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.role)+"/"+string(tt.kind), func(t *testing.T) {
			assert.Equal(t, tt.want, CanView(tt.kind, tt.role))
		})
	}
}

func TestCanViewField(t *testing.T) {
	assert.True(t, CanViewField("remarks", models.RoleCustomer))
	assert.False(t, CanViewField("vehicle_id", models.RoleCustomer))
	assert.True(t, CanViewField("vehicle_id", models.RoleStaff))

	kind, ok := FieldKind("vehicle_type_id")
	assert.True(t, ok)
	assert.Equal(t, models.RefVehicleTypes, kind)
}
