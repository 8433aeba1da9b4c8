package catalog

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billswift/internal/pricing"
)

// ComponentView is the API shape of a component.
type ComponentView struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	BrandName     string    `json:"brand_name"`
	Model         string    `json:"model"`
	BaseUnitPrice string    `json:"base_unit_price"`
	IsActive      bool      `json:"is_active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// LineView is the API shape of a bundle line.
type LineView struct {
	ID                 string  `json:"id"`
	ComponentID        string  `json:"component_id"`
	Quantity           int     `json:"quantity"`
	UnitPriceOverride  *string `json:"unit_price_override"`
	EffectiveUnitPrice string  `json:"effective_unit_price"`
	LineTotal          string  `json:"line_total"`
}

// BundleView is the API shape of a bundle with its lines.
type BundleView struct {
	ID          string     `json:"id"`
	Category    string     `json:"category"`
	Rating      string     `json:"rating"`
	DisplayName string     `json:"display_name"`
	BasePrice   string     `json:"base_price"`
	TotalPrice  string     `json:"total_price"`
	Price       *string    `json:"price,omitempty"`
	DeviceName  *string    `json:"device_name,omitempty"`
	IsActive    bool       `json:"is_active"`
	Lines       []LineView `json:"lines"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewComponentView shapes a component for output.
func NewComponentView(c Component) ComponentView {
	return ComponentView{
		ID:            c.ID,
		Name:          c.Name,
		BrandName:     c.Brand,
		Model:         c.Model,
		BaseUnitPrice: pricing.Format(c.BaseUnitPrice),
		IsActive:      c.IsActive,
		CreatedAt:     c.CreatedAt,
		UpdatedAt:     c.UpdatedAt,
	}
}

// NewBundleView shapes a bundle for output.
func NewBundleView(b CatalogBundle) BundleView {
	v := BundleView{
		ID:          b.ID,
		Category:    b.Category,
		Rating:      b.Rating.String(),
		DisplayName: b.DisplayName(),
		BasePrice:   pricing.Format(b.BasePrice),
		TotalPrice:  pricing.Format(b.TotalPrice),
		DeviceName:  b.DeviceName,
		IsActive:    b.IsActive,
		Lines:       make([]LineView, 0, len(b.Lines)),
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
	if b.LegacyPrice != nil {
		p := pricing.Format(*b.LegacyPrice)
		v.Price = &p
	}
	for _, line := range b.Lines {
		lv := LineView{
			ID:          line.ID,
			ComponentID: line.ComponentID,
			Quantity:    line.Quantity,
			LineTotal:   pricing.Format(line.LineTotal),
		}
		if line.Quantity > 0 {
			lv.EffectiveUnitPrice = pricing.Format(line.LineTotal.Div(decimal.NewFromInt(int64(line.Quantity))))
		}
		if line.UnitPriceOverride != nil {
			o := pricing.Format(*line.UnitPriceOverride)
			lv.UnitPriceOverride = &o
		}
		v.Lines = append(v.Lines, lv)
	}
	return v
}

func componentViews(rows []Component) []ComponentView {
	out := make([]ComponentView, 0, len(rows))
	for _, c := range rows {
		out = append(out, NewComponentView(c))
	}
	return out
}

func bundleViews(rows []CatalogBundle) []BundleView {
	out := make([]BundleView, 0, len(rows))
	for _, b := range rows {
		out = append(out, NewBundleView(b))
	}
	return out
}
