package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kkuzar/pos_hub/internal/cache"
	"github.com/kkuzar/pos_hub/internal/models"
	"go.uber.org/zap"
)

const hourlyBreakdownHours = 24

// RecordSale is the Metrics Mirror: it folds one completed sale into the daily
// and hourly buckets containing at and returns both refreshed buckets.
//
// Each bucket is a plain get, modify, set against the cache. The mutex makes
// concurrent sales in this process add up exactly; sales recorded by another
// process between our get and set can still be lost (last write wins).
func (s *Service) RecordSale(ctx context.Context, amount float64, customerID string, at time.Time) (daily, hourly *models.MetricsBucket, err error) {
	s.mirrorMu.Lock()
	defer s.mirrorMu.Unlock()

	daily, err = s.bumpBucket(ctx, models.DailyKey(at), s.cfg.Metrics.DailyTTL, amount, customerID, at)
	if err != nil {
		return nil, nil, err
	}
	hourly, err = s.bumpBucket(ctx, models.HourlyKey(at), s.cfg.Metrics.HourlyTTL, amount, customerID, at)
	if err != nil {
		return nil, nil, err
	}
	return daily, hourly, nil
}

func (s *Service) bumpBucket(ctx context.Context, key models.BucketKey, ttl time.Duration, amount float64, customerID string, at time.Time) (*models.MetricsBucket, error) {
	bucket, err := s.readBucket(ctx, key)
	if err != nil {
		return nil, err
	}
	bucket.RecordSale(amount, customerID, at)

	start := s.now()
	err = s.cache.SetBucket(ctx, key, bucket, ttl)
	s.metrics.ObserveStore("set_bucket", start)
	if err != nil {
		return nil, fmt.Errorf("write bucket %s: %w", key, err)
	}
	return bucket, nil
}

// readBucket returns the stored bucket or a zeroed one when none exists yet.
func (s *Service) readBucket(ctx context.Context, key models.BucketKey) (*models.MetricsBucket, error) {
	start := s.now()
	bucket, err := s.cache.GetBucket(ctx, key)
	s.metrics.ObserveStore("get_bucket", start)
	if errors.Is(err, cache.ErrNotFound) {
		return models.NewMetricsBucket(key), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read bucket %s: %w", key, err)
	}
	return bucket, nil
}

// LiveAnalytics reads today's bucket, the current hour's bucket and the
// trailing 24 hourly buckets, oldest first. ActiveConnections is left for the
// hub to fill in.
func (s *Service) LiveAnalytics(ctx context.Context) (*models.LiveAnalyticsPayload, error) {
	now := s.now().UTC()

	today, err := s.readBucket(ctx, models.DailyKey(now))
	if err != nil {
		return nil, err
	}
	current, err := s.readBucket(ctx, models.HourlyKey(now))
	if err != nil {
		return nil, err
	}

	breakdown := make([]*models.MetricsBucket, 0, hourlyBreakdownHours)
	for i := hourlyBreakdownHours - 1; i >= 0; i-- {
		b, err := s.readBucket(ctx, models.HourlyKey(now.Add(-time.Duration(i)*time.Hour)))
		if err != nil {
			return nil, err
		}
		breakdown = append(breakdown, b)
	}

	s.logger.Debug("Live analytics read", zap.Int("orders", today.Orders))
	return &models.LiveAnalyticsPayload{
		Today:           today,
		CurrentHour:     current,
		HourlyBreakdown: breakdown,
	}, nil
}
