package models

import (
	"fmt"
	"sort"
	"time"
)

// Granularity of a metrics bucket.
type Granularity string

const (
	GranularityDaily  Granularity = "daily"
	GranularityHourly Granularity = "hourly"
)

const bucketDateLayout = "2006-01-02"

// MaxTrackedCustomers bounds the distinct-customer set kept per bucket.
// Past it UniqueCustomers is a lower bound and CustomersCapped is set.
const MaxTrackedCustomers = 10000

// BucketKey identifies a metrics bucket. Hour is ignored for daily buckets.
type BucketKey struct {
	Granularity Granularity
	Date        string // YYYY-MM-DD in UTC
	Hour        int
}

// DailyKey returns the daily bucket key containing t.
func DailyKey(t time.Time) BucketKey {
	return BucketKey{Granularity: GranularityDaily, Date: t.UTC().Format(bucketDateLayout)}
}

// HourlyKey returns the hourly bucket key containing t.
func HourlyKey(t time.Time) BucketKey {
	u := t.UTC()
	return BucketKey{Granularity: GranularityHourly, Date: u.Format(bucketDateLayout), Hour: u.Hour()}
}

func (k BucketKey) String() string {
	if k.Granularity == GranularityHourly {
		return fmt.Sprintf("%s:%s:%02d", k.Granularity, k.Date, k.Hour)
	}
	return fmt.Sprintf("%s:%s", k.Granularity, k.Date)
}

// MetricsBucket is a running aggregate shared by every hub instance.
type MetricsBucket struct {
	Granularity     Granularity `json:"granularity"`
	Date            string      `json:"date"`
	Hour            *int        `json:"hour,omitempty"`
	Orders          int         `json:"orders"`
	Revenue         float64     `json:"revenue"`
	Customers       []string    `json:"customers,omitempty"`
	UniqueCustomers int         `json:"uniqueCustomers"`
	CustomersCapped bool        `json:"customersCapped,omitempty"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// NewMetricsBucket returns the zeroed bucket for key.
func NewMetricsBucket(key BucketKey) *MetricsBucket {
	b := &MetricsBucket{Granularity: key.Granularity, Date: key.Date}
	if key.Granularity == GranularityHourly {
		h := key.Hour
		b.Hour = &h
	}
	return b
}

// RecordSale adds one order to the bucket. Customers is kept sorted and
// distinct so membership is a binary search.
func (b *MetricsBucket) RecordSale(amount float64, customerID string, at time.Time) {
	b.Orders++
	b.Revenue += amount
	if customerID != "" {
		b.addCustomer(customerID)
	}
	b.UniqueCustomers = len(b.Customers)
	b.UpdatedAt = at.UTC()
}

func (b *MetricsBucket) addCustomer(id string) {
	i := sort.SearchStrings(b.Customers, id)
	if i < len(b.Customers) && b.Customers[i] == id {
		return
	}
	if len(b.Customers) >= MaxTrackedCustomers {
		b.CustomersCapped = true
		return
	}
	b.Customers = append(b.Customers, "")
	copy(b.Customers[i+1:], b.Customers[i:])
	b.Customers[i] = id
}
