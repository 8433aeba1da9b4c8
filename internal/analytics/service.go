package analytics

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billswift/internal/catalog"
)

// DailySales aggregates the bills issued on one UTC day.
type DailySales struct {
	Day       time.Time       `json:"day"`
	Bills     int             `json:"bills"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Discounts decimal.Decimal `json:"discounts"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// BundleSales aggregates the quantity and line revenue sold for one bundle.
type BundleSales struct {
	ProductID   string          `json:"product_id"`
	ProductName string          `json:"product_name"`
	Label       catalog.Label   `json:"-"`
	Quantity    int             `json:"quantity"`
	Revenue     decimal.Decimal `json:"revenue"`
}

// Querier defines the database access required for analytics operations.
type Querier interface {
	SalesByDay(ctx context.Context, from, to time.Time) ([]DailySales, error)
	TopBundles(ctx context.Context, from, to time.Time, limit, offset int) ([]BundleSales, error)
}

// Service provides cached sales reports over issued bills.
type Service struct {
	Q            Querier
	R            *redis.Client
	TTL          time.Duration
	DefaultRange int
	Now          func() time.Time
}

func (s *Service) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func cacheKey(parts ...any) string {
	formatted := make([]string, 0, len(parts))
	for _, part := range parts {
		formatted = append(formatted, fmt.Sprint(part))
	}
	return strings.Join(formatted, ":")
}

// SalesRange returns daily sales between from (inclusive) and to (exclusive).
func (s *Service) SalesRange(ctx context.Context, from, to time.Time) ([]DailySales, error) {
	if s == nil || s.Q == nil {
		return nil, fmt.Errorf("analytics service not configured")
	}
	key := cacheKey("an", "sales", from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339))
	var cached []DailySales
	if s.load(ctx, key, &cached) {
		return cached, nil
	}
	rows, err := s.Q.SalesByDay(ctx, from, to)
	if err != nil {
		return nil, err
	}
	s.store(ctx, key, rows)
	return rows, nil
}

// TopBundles returns bundles ordered by quantity sold in the range.
func (s *Service) TopBundles(ctx context.Context, from, to time.Time, limit, offset int) ([]BundleSales, error) {
	if s == nil || s.Q == nil {
		return nil, fmt.Errorf("analytics service not configured")
	}
	if limit <= 0 {
		limit = 10
	}
	if offset < 0 {
		offset = 0
	}
	key := cacheKey("an", "top", from.UTC().Format(time.RFC3339), to.UTC().Format(time.RFC3339), limit, offset)
	var cached []BundleSales
	if s.load(ctx, key, &cached) {
		return cached, nil
	}
	rows, err := s.Q.TopBundles(ctx, from, to, limit, offset)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		rows[i].ProductName = rows[i].Label.DisplayName()
	}
	s.store(ctx, key, rows)
	return rows, nil
}

// Range resolves the reporting window: explicit RFC3339 bounds, or the last
// days ending now.
func (s *Service) Range(fromStr, toStr string, days int) (time.Time, time.Time, error) {
	if fromStr != "" || toStr != "" {
		from, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from date")
		}
		to, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to date")
		}
		if !from.Before(to) {
			return time.Time{}, time.Time{}, fmt.Errorf("from must be before to")
		}
		return from, to, nil
	}
	if days <= 0 {
		days = s.DefaultRange
	}
	if days <= 0 {
		days = 30
	}
	// Truncate to the minute so repeated calls share a cache key.
	to := s.now().UTC().Truncate(time.Minute)
	return to.AddDate(0, 0, -days), to, nil
}

func (s *Service) load(ctx context.Context, key string, dst any) bool {
	if s.R == nil || s.TTL <= 0 {
		return false
	}
	data, err := s.R.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(data, dst) == nil
}

func (s *Service) store(ctx context.Context, key string, value any) {
	if s.R == nil || s.TTL <= 0 {
		return
	}
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	_ = s.R.Set(ctx, key, data, s.TTL).Err()
}
