package analytics

import (
	"net/http"

	"github.com/noah-isme/backend-billswift/internal/common"
	"github.com/noah-isme/backend-billswift/internal/pricing"
)

// Handler exposes sales report endpoints for administrators.
type Handler struct {
	Svc *Service
}

type dailySalesView struct {
	Day       string `json:"day"`
	Bills     int    `json:"bills"`
	Subtotal  string `json:"subtotal"`
	Discounts string `json:"discounts"`
	Revenue   string `json:"revenue"`
}

type bundleSalesView struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Revenue     string `json:"revenue"`
}

// Sales handles GET /api/v1/admin/reports/sales.
func (h *Handler) Sales(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	q := r.URL.Query()
	from, to, err := h.Svc.Range(q.Get("from"), q.Get("to"), common.AtoiDefault(q.Get("days"), 0))
	if err != nil {
		common.WriteError(w, common.ValidationError("%s", err.Error()))
		return
	}
	rows, err := h.Svc.SalesRange(r.Context(), from, to)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", err.Error(), nil)
		return
	}
	out := make([]dailySalesView, 0, len(rows))
	for _, row := range rows {
		out = append(out, dailySalesView{
			Day:       row.Day.UTC().Format("2006-01-02"),
			Bills:     row.Bills,
			Subtotal:  pricing.Format(row.Subtotal),
			Discounts: pricing.Format(row.Discounts),
			Revenue:   pricing.Format(row.Revenue),
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

// TopBundles handles GET /api/v1/admin/reports/top-bundles.
func (h *Handler) TopBundles(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_NOT_CONFIGURED", "analytics service not configured", nil)
		return
	}
	q := r.URL.Query()
	from, to, err := h.Svc.Range(q.Get("from"), q.Get("to"), common.AtoiDefault(q.Get("days"), 0))
	if err != nil {
		common.WriteError(w, common.ValidationError("%s", err.Error()))
		return
	}
	rows, err := h.Svc.TopBundles(r.Context(), from, to, common.AtoiDefault(q.Get("limit"), 10), common.AtoiDefault(q.Get("offset"), 0))
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "ANALYTICS_ERROR", err.Error(), nil)
		return
	}
	out := make([]bundleSalesView, 0, len(rows))
	for _, row := range rows {
		out = append(out, bundleSalesView{
			ProductID:   row.ProductID,
			ProductName: row.ProductName,
			Quantity:    row.Quantity,
			Revenue:     pricing.Format(row.Revenue),
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}
