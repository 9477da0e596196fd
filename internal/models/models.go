package models

import (
	"time"
)

// Role is the privilege level carried in a session.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleManager  Role = "manager"
	RoleCashier  Role = "cashier"
	RoleStaff    Role = "staff"
	RoleCustomer Role = "customer"
	RoleViewer   Role = "viewer"
)

// IsElevated reports whether the role may administer the store (broadcast anywhere, adjust stock).
func (r Role) IsElevated() bool {
	switch r {
	case RoleAdmin, RoleManager:
		return true
	default:
		return false
	}
}

// IsOperational reports whether the role works the point of sale.
func (r Role) IsOperational() bool {
	switch r {
	case RoleCashier, RoleStaff:
		return true
	default:
		return false
	}
}

// IsValid checks if the Role is one of the recognized roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleAdmin, RoleManager, RoleCashier, RoleStaff, RoleCustomer, RoleViewer:
		return true
	default:
		return false
	}
}

// User represents an account in the relational store.
type User struct {
	ID           string    `json:"id" bson:"_id,omitempty" dynamodbav:"id" firestore:"-"`
	Username     string    `json:"username" bson:"username" dynamodbav:"username" firestore:"username"`
	Name         string    `json:"name" bson:"name" dynamodbav:"name" firestore:"name"`
	PasswordHash string    `json:"-" bson:"passwordHash" dynamodbav:"passwordHash" firestore:"passwordHash"`
	Role         Role      `json:"role" bson:"role" dynamodbav:"role" firestore:"role"`
	StaffID      string    `json:"staffId,omitempty" bson:"staffId,omitempty" dynamodbav:"staffId,omitempty" firestore:"staffId,omitempty"`
	StoreID      string    `json:"storeId,omitempty" bson:"storeId,omitempty" dynamodbav:"storeId,omitempty" firestore:"storeId,omitempty"`
	CreatedAt    time.Time `json:"createdAt" bson:"createdAt" dynamodbav:"createdAt" firestore:"createdAt"`
}

// SessionUser is the snapshot of a user captured when a session token is validated.
// The hub never re-validates it for the life of a connection.
type SessionUser struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Role    Role   `json:"role"`
	StaffID string `json:"staffId,omitempty"`
	StoreID string `json:"storeId,omitempty"`
}

// Session returns the session snapshot of the user.
func (u *User) Session() *SessionUser {
	name := u.Name
	if name == "" {
		name = u.Username
	}
	return &SessionUser{
		ID:      u.ID,
		Name:    name,
		Role:    u.Role,
		StaffID: u.StaffID,
		StoreID: u.StoreID,
	}
}

// ActivityType names a point-of-sale activity.
type ActivityType string

const (
	ActivitySaleCompleted  ActivityType = "sale_completed"
	ActivityOrderCompleted ActivityType = "order_completed"
	ActivitySaleStarted    ActivityType = "sale_started"
	ActivityRefund         ActivityType = "refund"
	ActivityBroadcast      ActivityType = "broadcast"
	ActivityInventory      ActivityType = "inventory_update"
	ActivityStaffStatus    ActivityType = "staff_status"
)

// IsCompletedSale reports whether the activity closes a sale and must be counted.
func (a ActivityType) IsCompletedSale() bool {
	return a == ActivitySaleCompleted || a == ActivityOrderCompleted
}

// ActivityLog is one row of the activity log table.
type ActivityLog struct {
	ID           string       `json:"id" bson:"_id,omitempty" dynamodbav:"id" firestore:"-"`
	UserID       string       `json:"userId" bson:"userId" dynamodbav:"userId" firestore:"userId"`
	UserName     string       `json:"userName" bson:"userName" dynamodbav:"userName" firestore:"userName"`
	Role         Role         `json:"role" bson:"role" dynamodbav:"role" firestore:"role"`
	StoreID      string       `json:"storeId,omitempty" bson:"storeId,omitempty" dynamodbav:"storeId,omitempty" firestore:"storeId,omitempty"`
	ActivityType ActivityType `json:"activityType" bson:"activityType" dynamodbav:"activityType" firestore:"activityType"`
	OrderID      string       `json:"orderId,omitempty" bson:"orderId,omitempty" dynamodbav:"orderId,omitempty" firestore:"orderId,omitempty"`
	Amount       float64      `json:"amount,omitempty" bson:"amount,omitempty" dynamodbav:"amount,omitempty" firestore:"amount,omitempty"`
	CustomerID   string       `json:"customerId,omitempty" bson:"customerId,omitempty" dynamodbav:"customerId,omitempty" firestore:"customerId,omitempty"`
	Details      string       `json:"details,omitempty" bson:"details,omitempty" dynamodbav:"details,omitempty" firestore:"details,omitempty"` // raw JSON
	CreatedAt    time.Time    `json:"createdAt" bson:"createdAt" dynamodbav:"createdAt" firestore:"createdAt"`
}

// InventoryChange records one stock adjustment.
type InventoryChange struct {
	ID            string    `json:"id" bson:"_id,omitempty" dynamodbav:"id" firestore:"-"`
	ProductID     string    `json:"productId" bson:"productId" dynamodbav:"productId" firestore:"productId"`
	ProductName   string    `json:"productName,omitempty" bson:"productName,omitempty" dynamodbav:"productName,omitempty" firestore:"productName,omitempty"`
	PreviousStock int       `json:"previousStock" bson:"previousStock" dynamodbav:"previousStock" firestore:"previousStock"`
	NewStock      int       `json:"newStock" bson:"newStock" dynamodbav:"newStock" firestore:"newStock"`
	Reason        string    `json:"reason,omitempty" bson:"reason,omitempty" dynamodbav:"reason,omitempty" firestore:"reason,omitempty"`
	UserID        string    `json:"userId" bson:"userId" dynamodbav:"userId" firestore:"userId"`
	StoreID       string    `json:"storeId,omitempty" bson:"storeId,omitempty" dynamodbav:"storeId,omitempty" firestore:"storeId,omitempty"`
	CreatedAt     time.Time `json:"createdAt" bson:"createdAt" dynamodbav:"createdAt" firestore:"createdAt"`
}

// Delta is the signed stock movement of the change.
func (c *InventoryChange) Delta() int {
	return c.NewStock - c.PreviousStock
}

// StaffStatus is the latest reported status of a staff member.
type StaffStatus struct {
	StaffID   string    `json:"staffId" bson:"_id" dynamodbav:"staffId" firestore:"-"`
	UserID    string    `json:"userId" bson:"userId" dynamodbav:"userId" firestore:"userId"`
	Name      string    `json:"name" bson:"name" dynamodbav:"name" firestore:"name"`
	Status    string    `json:"status" bson:"status" dynamodbav:"status" firestore:"status"`
	Note      string    `json:"note,omitempty" bson:"note,omitempty" dynamodbav:"note,omitempty" firestore:"note,omitempty"`
	StoreID   string    `json:"storeId,omitempty" bson:"storeId,omitempty" dynamodbav:"storeId,omitempty" firestore:"storeId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt" dynamodbav:"updatedAt" firestore:"updatedAt"`
}

// Order is a summary row of the orders table.
type Order struct {
	ID         string    `json:"id" bson:"_id,omitempty" dynamodbav:"id" firestore:"-"`
	CustomerID string    `json:"customerId,omitempty" bson:"customerId,omitempty" dynamodbav:"customerId,omitempty" firestore:"customerId,omitempty"`
	StoreID    string    `json:"storeId,omitempty" bson:"storeId,omitempty" dynamodbav:"storeId,omitempty" firestore:"storeId,omitempty"`
	Total      float64   `json:"total" bson:"total" dynamodbav:"total" firestore:"total"`
	Status     string    `json:"status" bson:"status" dynamodbav:"status" firestore:"status"`
	CreatedAt  time.Time `json:"createdAt" bson:"createdAt" dynamodbav:"createdAt" firestore:"createdAt"`
}

// Product is a catalog row with its current stock level.
type Product struct {
	ID        string    `json:"id" bson:"_id,omitempty" dynamodbav:"id" firestore:"-"`
	Name      string    `json:"name" bson:"name" dynamodbav:"name" firestore:"name"`
	SKU       string    `json:"sku,omitempty" bson:"sku,omitempty" dynamodbav:"sku,omitempty" firestore:"sku,omitempty"`
	Stock     int       `json:"stock" bson:"stock" dynamodbav:"stock" firestore:"stock"`
	Price     float64   `json:"price" bson:"price" dynamodbav:"price" firestore:"price"`
	UpdatedAt time.Time `json:"updatedAt" bson:"updatedAt" dynamodbav:"updatedAt" firestore:"updatedAt"`
}

// --- DTOs for the HTTP API ---

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	StaffID  string `json:"staffId,omitempty"`
	StoreID  string `json:"storeId,omitempty"`
}

type LoginResponse struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}
