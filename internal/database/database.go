// internal/database/database.go
package database

import (
	"context"
	"errors"

	"github.com/kkuzar/pos_hub/internal/models"
)

var ErrNotFound = errors.New("item not found")
var ErrDuplicateUser = errors.New("username already exists")
var ErrDBConfig = errors.New("invalid database configuration")

// DefaultLimit bounds list queries when the caller passes no limit.
const DefaultLimit = 50

// DBAdapter is the relational store the hub writes activity into and reads
// reports from. Backends: sqlstore (postgres, sqlite), mongodb, dynamodb, firestore.
type DBAdapter interface {
	// User operations
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error

	// Activity log
	LogActivity(ctx context.Context, entry *models.ActivityLog) (string, error) // Returns log ID
	ListRecentActivity(ctx context.Context, limit int) ([]models.ActivityLog, error)

	// Inventory: stores the change record and patches the product's stock level.
	RecordInventoryChange(ctx context.Context, change *models.InventoryChange) (string, error)
	ListLowStockProducts(ctx context.Context, threshold, limit int) ([]models.Product, error)

	// Staff
	UpsertStaffStatus(ctx context.Context, status *models.StaffStatus) error

	// Orders
	ListRecentOrders(ctx context.Context, limit int) ([]models.Order, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// NormalizeLimit clamps a caller-provided limit to (0, max].
func NormalizeLimit(limit, max int) int {
	if max <= 0 {
		max = DefaultLimit
	}
	if limit <= 0 || limit > max {
		return max
	}
	return limit
}
