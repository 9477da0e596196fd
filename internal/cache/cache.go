// internal/cache/cache.go
package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kkuzar/pos_hub/internal/models"
)

var ErrNotFound = errors.New("cache: key not found")

// Cache is the durable key-value store shared by hub instances. It holds
// session user records and the metrics buckets maintained by the Metrics Mirror.
//
// GetBucket followed by SetBucket is a read-modify-write with no atomicity
// across processes; two instances updating the same bucket can lose an increment.
type Cache interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	SetUser(ctx context.Context, user *models.User, expiration time.Duration) error
	DeleteUser(ctx context.Context, userID string) error

	GetBucket(ctx context.Context, key models.BucketKey) (*models.MetricsBucket, error)
	SetBucket(ctx context.Context, key models.BucketKey, bucket *models.MetricsBucket, expiration time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}

type memoryEntry struct {
	value     interface{}
	expiresAt time.Time // zero means no expiry
}

func (e memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryCache keeps entries in process memory. It is the fallback when Redis is
// disabled and is only shared by the hub instance that owns it.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryCache) get(key string) (interface{}, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *MemoryCache) set(key string, value interface{}, expiration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memoryEntry{value: value}
	if expiration > 0 {
		e.expiresAt = c.now().Add(expiration)
	}
	c.entries[key] = e
}

func (c *MemoryCache) GetUser(ctx context.Context, userID string) (*models.User, error) {
	v, ok := c.get("user:" + userID)
	if !ok {
		return nil, ErrNotFound
	}
	user := *v.(*models.User)
	return &user, nil
}

func (c *MemoryCache) SetUser(ctx context.Context, user *models.User, expiration time.Duration) error {
	cp := *user
	c.set("user:"+user.ID, &cp, expiration)
	return nil
}

func (c *MemoryCache) DeleteUser(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, "user:"+userID)
	return nil
}

func (c *MemoryCache) GetBucket(ctx context.Context, key models.BucketKey) (*models.MetricsBucket, error) {
	v, ok := c.get("metrics:" + key.String())
	if !ok {
		return nil, ErrNotFound
	}
	return copyBucket(v.(*models.MetricsBucket)), nil
}

func (c *MemoryCache) SetBucket(ctx context.Context, key models.BucketKey, bucket *models.MetricsBucket, expiration time.Duration) error {
	c.set("metrics:"+key.String(), copyBucket(bucket), expiration)
	return nil
}

func (c *MemoryCache) Ping(ctx context.Context) error { return nil }
func (c *MemoryCache) Close() error                   { return nil }

// copyBucket detaches stored buckets from callers so a read-modify-write never
// mutates the stored value in place.
func copyBucket(b *models.MetricsBucket) *models.MetricsBucket {
	cp := *b
	if b.Customers != nil {
		cp.Customers = append([]string(nil), b.Customers...)
	}
	if b.Hour != nil {
		h := *b.Hour
		cp.Hour = &h
	}
	return &cp
}
