// internal/storage/storage.go
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

var ErrFileNotFound = errors.New("file not found")
var ErrStorageConfig = errors.New("invalid storage configuration")

// StorageAdapter defines the interface for object storage operations.
type StorageAdapter interface {
	UploadFile(ctx context.Context, key string, body io.Reader, contentType string) error
	DownloadFile(ctx context.Context, key string) (io.ReadCloser, error)
	FileExists(ctx context.Context, key string) (bool, error)
	Close() error
}

// ReceiptKey is the archive key of a completed sale: receipts/<yyyy>/<mm>/<dd>/<orderId>.json (UTC date).
func ReceiptKey(orderID string, at time.Time) string {
	u := at.UTC()
	return fmt.Sprintf("receipts/%04d/%02d/%02d/%s.json", u.Year(), int(u.Month()), u.Day(), orderID)
}
