package analytics_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billswift/internal/analytics"
	"github.com/noah-isme/backend-billswift/internal/catalog"
)

type stubQueries struct {
	salesCalls int
	topCalls   int
}

func (s *stubQueries) SalesByDay(_ context.Context, from, _ time.Time) ([]analytics.DailySales, error) {
	s.salesCalls++
	return []analytics.DailySales{{Day: from, Bills: 2, Subtotal: decimal.RequireFromString("300.00"), Discounts: decimal.RequireFromString("40.00"), Revenue: decimal.RequireFromString("260.00")}}, nil
}

func (s *stubQueries) TopBundles(context.Context, time.Time, time.Time, int, int) ([]analytics.BundleSales, error) {
	s.topCalls++
	device := "Legacy Panel"
	return []analytics.BundleSales{
		{ProductID: "p1", Label: catalog.Label{Category: "DOL", Rating: decimal.RequireFromString("5.5")}, Quantity: 7, Revenue: decimal.RequireFromString("700.00")},
		{ProductID: "p2", Label: catalog.Label{DeviceName: &device}, Quantity: 3, Revenue: decimal.RequireFromString("90.00")},
	}, nil
}

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestSalesRangeCached(t *testing.T) {
	queries := &stubQueries{}
	svc := &analytics.Service{Q: queries, R: newRedis(t), TTL: time.Minute, DefaultRange: 30}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 7)

	first, err := svc.SalesRange(context.Background(), from, to)
	require.NoError(t, err)
	second, err := svc.SalesRange(context.Background(), from, to)
	require.NoError(t, err)
	require.Equal(t, 1, queries.salesCalls)
	require.True(t, first[0].Revenue.Equal(second[0].Revenue))
}

func TestTopBundlesResolvesNames(t *testing.T) {
	queries := &stubQueries{}
	svc := &analytics.Service{Q: queries, R: newRedis(t), TTL: time.Minute}
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	rows, err := svc.TopBundles(context.Background(), from, from.AddDate(0, 1, 0), 0, 0)
	require.NoError(t, err)
	require.Equal(t, "DOL 5.50 kW", rows[0].ProductName)
	require.Equal(t, "Legacy Panel", rows[1].ProductName)

	cached, err := svc.TopBundles(context.Background(), from, from.AddDate(0, 1, 0), 0, 0)
	require.NoError(t, err)
	require.Equal(t, 1, queries.topCalls)
	require.Equal(t, "DOL 5.50 kW", cached[0].ProductName)
}

func TestRangeDefaultsAndValidation(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 30, 45, 0, time.UTC)
	svc := &analytics.Service{DefaultRange: 7, Now: func() time.Time { return now }}

	from, to, err := svc.Range("", "", 0)
	require.NoError(t, err)
	require.Equal(t, now.Truncate(time.Minute), to)
	require.Equal(t, to.AddDate(0, 0, -7), from)

	_, _, err = svc.Range("2026-05-10T00:00:00Z", "2026-05-01T00:00:00Z", 0)
	require.Error(t, err)
	_, _, err = svc.Range("yesterday", "", 0)
	require.Error(t, err)
}

func TestSalesHandlerFormatsAmounts(t *testing.T) {
	h := &analytics.Handler{Svc: &analytics.Service{Q: &stubQueries{}}}
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/reports/sales?from=2026-01-01T00:00:00Z&to=2026-01-08T00:00:00Z", nil)
	rr := httptest.NewRecorder()
	h.Sales(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Data []map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, "2026-01-01", body.Data[0]["day"])
	require.Equal(t, "260.00", body.Data[0]["revenue"])
}
