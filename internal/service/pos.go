package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/kkuzar/pos_hub/internal/auth"
	"github.com/kkuzar/pos_hub/internal/database"
	"github.com/kkuzar/pos_hub/internal/models"
	"go.uber.org/zap"
)

// NewActivity builds the activity record for a pos_activity frame. The id is
// assigned up front so the fan-out and the stored row share it.
func (s *Service) NewActivity(user *models.SessionUser, p *models.POSActivityPayload) (*models.ActivityLog, error) {
	if p.ActivityType == "" {
		return nil, fmt.Errorf("%w: activityType is required", ErrInvalidInput)
	}
	if p.Amount < 0 {
		return nil, fmt.Errorf("%w: amount must not be negative", ErrInvalidInput)
	}
	storeID := p.StoreID
	if storeID == "" {
		storeID = user.StoreID
	}
	return &models.ActivityLog{
		ID:           uuid.NewString(),
		UserID:       user.ID,
		UserName:     user.Name,
		Role:         user.Role,
		StoreID:      storeID,
		ActivityType: p.ActivityType,
		OrderID:      p.OrderID,
		Amount:       p.Amount,
		CustomerID:   p.CustomerID,
		Details:      string(p.Details),
		CreatedAt:    s.now().UTC(),
	}, nil
}

// SaleOutcome is what a stored activity produced. Analytics is nil unless the
// activity completed a sale.
type SaleOutcome struct {
	ActivityID string
	Analytics  *models.AnalyticsUpdatedPayload
}

// LogPOSActivity stores the activity and, for a completed sale, runs the
// Metrics Mirror and archives the receipt.
func (s *Service) LogPOSActivity(ctx context.Context, entry *models.ActivityLog) (*SaleOutcome, error) {
	start := s.now()
	id, err := s.db.LogActivity(ctx, entry)
	s.metrics.ObserveStore("log_activity", start)
	if err != nil {
		return nil, fmt.Errorf("failed to log activity: %w", err)
	}

	out := &SaleOutcome{ActivityID: id}
	if !entry.ActivityType.IsCompletedSale() {
		return out, nil
	}

	daily, hourly, err := s.RecordSale(ctx, entry.Amount, entry.CustomerID, entry.CreatedAt)
	if err != nil {
		return out, err
	}
	out.Analytics = &models.AnalyticsUpdatedPayload{Daily: daily, Hourly: hourly, Timestamp: s.now().UTC()}

	s.archiveReceipt(ctx, entry)
	return out, nil
}

// RecordInventoryChange stores a stock adjustment. lowStock reports whether
// the new level is at or below the configured threshold.
func (s *Service) RecordInventoryChange(ctx context.Context, user *models.SessionUser, p *models.InventoryUpdatePayload) (change *models.InventoryChange, lowStock bool, err error) {
	if !auth.CanManageInventory(user) {
		return nil, false, ErrPermissionDenied
	}
	if strings.TrimSpace(p.ProductID) == "" {
		return nil, false, fmt.Errorf("%w: productId is required", ErrInvalidInput)
	}
	if p.NewStock < 0 {
		return nil, false, fmt.Errorf("%w: newStock must not be negative", ErrInvalidInput)
	}

	change = &models.InventoryChange{
		ProductID:     p.ProductID,
		ProductName:   p.ProductName,
		PreviousStock: p.PreviousStock,
		NewStock:      p.NewStock,
		Reason:        p.Reason,
		UserID:        user.ID,
		StoreID:       user.StoreID,
		CreatedAt:     s.now().UTC(),
	}
	start := s.now()
	_, err = s.db.RecordInventoryChange(ctx, change)
	s.metrics.ObserveStore("record_inventory", start)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record inventory change: %w", err)
	}

	lowStock = change.NewStock <= s.LowStockThreshold()
	if lowStock {
		s.logger.Info("Low stock", zap.String("productId", change.ProductID), zap.Int("stock", change.NewStock))
	}
	return change, lowStock, nil
}

// UpdateStaffStatus stores the caller's latest status. Users without a staff
// id are tracked under their user id.
func (s *Service) UpdateStaffStatus(ctx context.Context, user *models.SessionUser, p *models.StaffStatusPayload) (*models.StaffStatus, error) {
	if strings.TrimSpace(p.Status) == "" {
		return nil, fmt.Errorf("%w: status is required", ErrInvalidInput)
	}
	staffID := user.StaffID
	if staffID == "" {
		staffID = user.ID
	}
	st := &models.StaffStatus{
		StaffID:   staffID,
		UserID:    user.ID,
		Name:      user.Name,
		Status:    p.Status,
		Note:      p.Note,
		StoreID:   user.StoreID,
		UpdatedAt: s.now().UTC(),
	}
	start := s.now()
	err := s.db.UpsertStaffStatus(ctx, st)
	s.metrics.ObserveStore("upsert_staff_status", start)
	if err != nil {
		return nil, fmt.Errorf("failed to update staff status: %w", err)
	}
	return st, nil
}

// --- Report reads for request_data ---

func (s *Service) RecentOrders(ctx context.Context, limit int) ([]models.Order, error) {
	return s.db.ListRecentOrders(ctx, s.clampLimit(limit))
}

func (s *Service) LowStockItems(ctx context.Context, limit int) ([]models.Product, error) {
	return s.db.ListLowStockProducts(ctx, s.LowStockThreshold(), s.clampLimit(limit))
}

func (s *Service) StaffActivity(ctx context.Context, limit int) ([]models.ActivityLog, error) {
	return s.db.ListRecentActivity(ctx, s.clampLimit(limit))
}

func (s *Service) clampLimit(limit int) int {
	return database.NormalizeLimit(limit, s.cfg.Hub.QueryLimit)
}
