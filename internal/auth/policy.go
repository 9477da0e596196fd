package auth

import (
	"strings"

	"github.com/kkuzar/pos_hub/internal/models"
)

// Well-known rooms.
const (
	RoomGeneral   = "general"
	RoomAdmin     = "admin"
	RoomAnalytics = "analytics"
	RoomPOS       = "pos"
)

const (
	staffRoomPrefix = "staff_"
	storeRoomPrefix = "store_"
)

// StaffRoom is the private room of a staff member.
func StaffRoom(staffID string) string { return staffRoomPrefix + staffID }

// StoreRoom groups every connection of one store.
func StoreRoom(storeID string) string { return storeRoomPrefix + storeID }

// CanBroadcast decides whether a user may fan a message out into room.
// Elevated roles reach any room, operational roles reach pos and general only.
func CanBroadcast(user *models.SessionUser, room string) bool {
	if user == nil {
		return false
	}
	switch {
	case user.Role.IsElevated():
		return true
	case user.Role.IsOperational():
		return room == RoomPOS || room == RoomGeneral
	default:
		return false
	}
}

// CanManageInventory gates inventory_update.
func CanManageInventory(user *models.SessionUser) bool {
	return user != nil && user.Role.IsElevated()
}

// DefaultRooms lists the rooms a connection joins at admission, in join order.
func DefaultRooms(user *models.SessionUser) []string {
	rooms := []string{RoomGeneral}
	if user.Role.IsElevated() {
		rooms = append(rooms, RoomAdmin, RoomAnalytics)
	}
	if user.Role.IsOperational() {
		rooms = append(rooms, RoomPOS)
	}
	if user.StaffID != "" {
		rooms = append(rooms, StaffRoom(user.StaffID))
	}
	if user.StoreID != "" {
		rooms = append(rooms, StoreRoom(user.StoreID))
	}
	return rooms
}

// CanJoin decides whether a user may join room on request. The admin and
// analytics rooms are elevated only; a staff or store room belongs to its
// owner, though elevated roles may enter any store room.
func CanJoin(user *models.SessionUser, room string) bool {
	if user == nil || room == "" {
		return false
	}
	switch {
	case room == RoomAdmin || room == RoomAnalytics:
		return user.Role.IsElevated()
	case strings.HasPrefix(room, staffRoomPrefix):
		return user.StaffID != "" && room == StaffRoom(user.StaffID)
	case strings.HasPrefix(room, storeRoomPrefix):
		return user.Role.IsElevated() || (user.StoreID != "" && room == StoreRoom(user.StoreID))
	default:
		return true
	}
}
