package auth

import (
	"testing"

	"github.com/kkuzar/pos_hub/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestCanBroadcast(t *testing.T) {
	cases := []struct {
		role models.Role
		room string
		want bool
	}{
		{models.RoleAdmin, "store_9", true},
		{models.RoleManager, RoomAdmin, true},
		{models.RoleCashier, RoomPOS, true},
		{models.RoleStaff, RoomGeneral, true},
		{models.RoleCashier, RoomAdmin, false},
		{models.RoleStaff, "store_9", false},
		{models.RoleCustomer, RoomGeneral, false},
		{models.Role("intern"), RoomPOS, false},
	}
	for _, tc := range cases {
		user := &models.SessionUser{ID: "u", Role: tc.role}
		assert.Equal(t, tc.want, CanBroadcast(user, tc.room), "%s -> %s", tc.role, tc.room)
	}
	assert.False(t, CanBroadcast(nil, RoomGeneral))
}

func TestDefaultRooms(t *testing.T) {
	admin := &models.SessionUser{ID: "a", Role: models.RoleAdmin}
	assert.Equal(t, []string{RoomGeneral, RoomAdmin, RoomAnalytics}, DefaultRooms(admin))

	cashier := &models.SessionUser{ID: "c", Role: models.RoleCashier, StaffID: "17", StoreID: "3"}
	assert.Equal(t, []string{RoomGeneral, RoomPOS, "staff_17", "store_3"}, DefaultRooms(cashier))

	customer := &models.SessionUser{ID: "x", Role: models.RoleCustomer}
	assert.Equal(t, []string{RoomGeneral}, DefaultRooms(customer))
}

func TestCanManageInventory(t *testing.T) {
	assert.True(t, CanManageInventory(&models.SessionUser{Role: models.RoleManager}))
	assert.False(t, CanManageInventory(&models.SessionUser{Role: models.RoleStaff}))
}

func TestCanJoin(t *testing.T) {
	manager := &models.SessionUser{ID: "m", Role: models.RoleManager}
	cashier := &models.SessionUser{ID: "c", Role: models.RoleCashier, StaffID: "17", StoreID: "3"}
	viewer := &models.SessionUser{ID: "v", Role: models.RoleViewer}

	assert.True(t, CanJoin(manager, RoomAnalytics))
	assert.True(t, CanJoin(manager, "store_8"))
	assert.False(t, CanJoin(manager, "staff_17"))

	assert.False(t, CanJoin(cashier, RoomAdmin))
	assert.True(t, CanJoin(cashier, "staff_17"))
	assert.True(t, CanJoin(cashier, "store_3"))
	assert.False(t, CanJoin(cashier, "store_4"))
	assert.True(t, CanJoin(cashier, "promo_team"))

	assert.True(t, CanJoin(viewer, RoomGeneral))
	assert.False(t, CanJoin(viewer, ""))
	assert.False(t, CanJoin(nil, RoomGeneral))
}
