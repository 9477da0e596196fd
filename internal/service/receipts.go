package service

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/kkuzar/pos_hub/internal/models"
	"github.com/kkuzar/pos_hub/internal/storage"
	"go.uber.org/zap"
)

const receiptContentType = "application/json"

// archiveReceipt uploads a completed sale to object storage. Failures are
// logged only; an existing receipt under the same key is left alone.
func (s *Service) archiveReceipt(ctx context.Context, entry *models.ActivityLog) {
	if s.storage == nil || entry.OrderID == "" {
		return
	}
	key := storage.ReceiptKey(entry.OrderID, entry.CreatedAt)
	logger := s.logger.With(zap.String("key", key))

	exists, err := s.storage.FileExists(ctx, key)
	if err != nil {
		logger.Warn("Receipt existence check failed", zap.Error(err))
		return
	}
	if exists {
		logger.Debug("Receipt already archived")
		return
	}

	body, err := json.Marshal(entry)
	if err != nil {
		logger.Error("Failed to encode receipt", zap.Error(err))
		return
	}
	start := s.now()
	err = s.storage.UploadFile(ctx, key, bytes.NewReader(body), receiptContentType)
	s.metrics.ObserveStore("upload_receipt", start)
	if err != nil {
		logger.Error("Failed to archive receipt", zap.Error(err))
		return
	}
	logger.Info("Receipt archived", zap.String("orderId", entry.OrderID))
}

// GetReceipt opens the archived receipt of orderID for the UTC day of date.
func (s *Service) GetReceipt(ctx context.Context, orderID string, date time.Time) (io.ReadCloser, error) {
	if s.storage == nil {
		return nil, ErrStorageDisabled
	}
	return s.storage.DownloadFile(ctx, storage.ReceiptKey(orderID, date))
}
