// Package sqlstore implements the relational store on database/sql for
// PostgreSQL (lib/pq) and SQLite (go-sqlite3). Both drivers accept $n placeholders
// and ON CONFLICT upserts, so one set of statements serves both.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/kkuzar/pos_hub/internal/database"
	"github.com/kkuzar/pos_hub/internal/models"
	"go.uber.org/zap"

	// This blank import registers the postgres driver
	_ "github.com/lib/pq"
	// This blank import registers the sqlite3 driver
	_ "github.com/mattn/go-sqlite3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"
)

// schema is portable between PostgreSQL and SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		username TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		staff_id TEXT NOT NULL DEFAULT '',
		store_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS activity_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		user_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT '',
		store_id TEXT NOT NULL DEFAULT '',
		activity_type TEXT NOT NULL,
		order_id TEXT NOT NULL DEFAULT '',
		amount DOUBLE PRECISION NOT NULL DEFAULT 0,
		customer_id TEXT NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL)`,
	`CREATE INDEX IF NOT EXISTS idx_activity_logs_created_at ON activity_logs (created_at)`,
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		sku TEXT NOT NULL DEFAULT '',
		stock INTEGER NOT NULL DEFAULT 0,
		price DOUBLE PRECISION NOT NULL DEFAULT 0,
		updated_at TIMESTAMP NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS inventory_changes (
		id TEXT PRIMARY KEY,
		product_id TEXT NOT NULL,
		product_name TEXT NOT NULL DEFAULT '',
		previous_stock INTEGER NOT NULL,
		new_stock INTEGER NOT NULL,
		reason TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL,
		store_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY,
		customer_id TEXT NOT NULL DEFAULT '',
		store_id TEXT NOT NULL DEFAULT '',
		total DOUBLE PRECISION NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL)`,
	`CREATE INDEX IF NOT EXISTS idx_orders_created_at ON orders (created_at)`,
	`CREATE TABLE IF NOT EXISTS staff_status (
		staff_id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		note TEXT NOT NULL DEFAULT '',
		store_id TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMP NOT NULL)`,
}

// Client is a wrapper around the sql.DB connection pool.
type Client struct {
	db     *sql.DB
	driver string
	logger *zap.Logger
}

// NewClient opens the pool, verifies it and creates missing tables.
func NewClient(ctx context.Context, driver, dsn string, logger *zap.Logger) (*Client, error) {
	if driver != DriverPostgres && driver != DriverSQLite {
		return nil, fmt.Errorf("%w: unsupported sql driver %q", database.ErrDBConfig, driver)
	}
	if dsn == "" {
		return nil, fmt.Errorf("%w: empty dsn for %s", database.ErrDBConfig, driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare %s connection: %w", driver, err)
	}
	if driver == DriverSQLite {
		// a single writer keeps sqlite from returning SQLITE_BUSY and keeps :memory: databases shared
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s: %w", driver, err)
	}

	c := &Client{db: db, driver: driver, logger: logger.Named("sqlstore")}
	if err := c.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	c.logger.Info("SQL store ready", zap.String("driver", driver))
	return c, nil
}

func (c *Client) migrate(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Close gracefully closes the connection pool.
func (c *Client) Close(ctx context.Context) error {
	return c.db.Close()
}

// --- Users ---

const userColumns = `id, username, name, password_hash, role, staff_id, store_id, created_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	u := &models.User{}
	var role string
	err := row.Scan(&u.ID, &u.Username, &u.Name, &u.PasswordHash, &role, &u.StaffID, &u.StoreID, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrNotFound
		}
		return nil, err
	}
	u.Role = models.Role(role)
	return u, nil
}

func (c *Client) GetUserByID(ctx context.Context, userID string) (*models.User, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, userID)
	return scanUser(row)
}

func (c *Client) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	row := c.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
	return scanUser(row)
}

func (c *Client) CreateUser(ctx context.Context, user *models.User) error {
	if user.Username == "" {
		return errors.New("username cannot be empty")
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	user.CreatedAt = time.Now().UTC()
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Username, user.Name, user.PasswordHash, string(user.Role), user.StaffID, user.StoreID, user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return database.ErrDuplicateUser
		}
		return fmt.Errorf("insert user %s: %w", user.Username, err)
	}
	return nil
}

// isUniqueViolation matches both the postgres (23505) and sqlite error texts.
func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "23505") ||
		strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed")
}

// --- Activity ---

func (c *Client) LogActivity(ctx context.Context, entry *models.ActivityLog) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO activity_logs (id, user_id, user_name, role, store_id, activity_type, order_id, amount, customer_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		entry.ID, entry.UserID, entry.UserName, string(entry.Role), entry.StoreID, string(entry.ActivityType),
		entry.OrderID, entry.Amount, entry.CustomerID, entry.Details, entry.CreatedAt,
	)
	if err != nil {
		return "", fmt.Errorf("insert activity log: %w", err)
	}
	return entry.ID, nil
}

func (c *Client) ListRecentActivity(ctx context.Context, limit int) ([]models.ActivityLog, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, user_id, user_name, role, store_id, activity_type, order_id, amount, customer_id, details, created_at
		FROM activity_logs ORDER BY created_at DESC LIMIT $1`,
		database.NormalizeLimit(limit, database.DefaultLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("query activity logs: %w", err)
	}
	defer rows.Close()

	var out []models.ActivityLog
	for rows.Next() {
		var a models.ActivityLog
		var role, activityType string
		if err := rows.Scan(&a.ID, &a.UserID, &a.UserName, &role, &a.StoreID, &activityType,
			&a.OrderID, &a.Amount, &a.CustomerID, &a.Details, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Role = models.Role(role)
		a.ActivityType = models.ActivityType(activityType)
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Inventory ---

func (c *Client) RecordInventoryChange(ctx context.Context, change *models.InventoryChange) (string, error) {
	if change.ID == "" {
		change.ID = uuid.NewString()
	}
	if change.CreatedAt.IsZero() {
		change.CreatedAt = time.Now().UTC()
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin inventory tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO inventory_changes (id, product_id, product_name, previous_stock, new_stock, reason, user_id, store_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		change.ID, change.ProductID, change.ProductName, change.PreviousStock, change.NewStock,
		change.Reason, change.UserID, change.StoreID, change.CreatedAt,
	); err != nil {
		return "", fmt.Errorf("insert inventory change: %w", err)
	}

	res, err := tx.ExecContext(ctx, `UPDATE products SET stock = $1, updated_at = $2 WHERE id = $3`,
		change.NewStock, change.CreatedAt, change.ProductID)
	if err != nil {
		return "", fmt.Errorf("update product stock: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		c.logger.Warn("Inventory change for unknown product", zap.String("productId", change.ProductID))
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit inventory change: %w", err)
	}
	return change.ID, nil
}

func (c *Client) ListLowStockProducts(ctx context.Context, threshold, limit int) ([]models.Product, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, name, sku, stock, price, updated_at
		FROM products WHERE stock <= $1 ORDER BY stock ASC, name ASC LIMIT $2`,
		threshold, database.NormalizeLimit(limit, database.DefaultLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("query low stock products: %w", err)
	}
	defer rows.Close()

	var out []models.Product
	for rows.Next() {
		var p models.Product
		if err := rows.Scan(&p.ID, &p.Name, &p.SKU, &p.Stock, &p.Price, &p.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- Staff ---

func (c *Client) UpsertStaffStatus(ctx context.Context, status *models.StaffStatus) error {
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO staff_status (staff_id, user_id, name, status, note, store_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (staff_id) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			note = EXCLUDED.note,
			store_id = EXCLUDED.store_id,
			updated_at = EXCLUDED.updated_at`,
		status.StaffID, status.UserID, status.Name, status.Status, status.Note, status.StoreID, status.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert staff status %s: %w", status.StaffID, err)
	}
	return nil
}

// --- Orders ---

func (c *Client) ListRecentOrders(ctx context.Context, limit int) ([]models.Order, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT id, customer_id, store_id, total, status, created_at
		FROM orders ORDER BY created_at DESC LIMIT $1`,
		database.NormalizeLimit(limit, database.DefaultLimit),
	)
	if err != nil {
		return nil, fmt.Errorf("query recent orders: %w", err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.CustomerID, &o.StoreID, &o.Total, &o.Status, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}
