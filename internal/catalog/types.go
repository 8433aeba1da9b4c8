package catalog

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Bundle categories, the starter type of the assembled unit.
const (
	CategoryDOL  = "DOL"
	CategoryRDOL = "RDOL"
	CategorySD   = "S/D"
)

// ValidCategory reports whether c is a known bundle category.
func ValidCategory(c string) bool {
	switch c {
	case CategoryDOL, CategoryRDOL, CategorySD:
		return true
	default:
		return false
	}
}

// Component is a purchasable part. Name, Brand and Model are unique together.
type Component struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Brand         string          `json:"brand_name"`
	Model         string          `json:"model"`
	BaseUnitPrice decimal.Decimal `json:"base_unit_price"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// BundleLine is one component's participation in a bundle. LineTotal is
// derived by the pricing engine and never accepted as input.
type BundleLine struct {
	ID                string           `json:"id"`
	BundleID          string           `json:"bundle_id"`
	ComponentID       string           `json:"component_id"`
	Quantity          int              `json:"quantity"`
	UnitPriceOverride *decimal.Decimal `json:"unit_price_override,omitempty"`
	LineTotal         decimal.Decimal  `json:"line_total"`
	Position          int              `json:"position"`
}

// CatalogBundle is the mutable sellable unit. BasePrice and TotalPrice are
// maintained by Service and must only change together with Lines.
type CatalogBundle struct {
	ID          string           `json:"id"`
	Category    string           `json:"category"`
	Rating      decimal.Decimal  `json:"rating"`
	BasePrice   decimal.Decimal  `json:"base_price"`
	TotalPrice  decimal.Decimal  `json:"total_price"`
	LegacyPrice *decimal.Decimal `json:"price,omitempty"`
	DeviceName  *string          `json:"device_name,omitempty"`
	IsActive    bool             `json:"is_active"`
	Lines       []BundleLine     `json:"lines"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Label returns the naming attributes of the bundle.
func (b CatalogBundle) Label() Label {
	return Label{Category: b.Category, Rating: b.Rating, DeviceName: b.DeviceName}
}

// DisplayName implements Item.
func (b CatalogBundle) DisplayName() string {
	return b.Label().DisplayName()
}

// SellingPrice is the price a sale snapshots when no override is supplied:
// the computed total, or the legacy flat price for rows that predate lines.
func (b CatalogBundle) SellingPrice() decimal.Decimal {
	if b.TotalPrice.IsPositive() {
		return b.TotalPrice
	}
	if b.LegacyPrice != nil {
		return *b.LegacyPrice
	}
	return b.TotalPrice
}

// Item is anything the catalog can name for a human.
type Item interface {
	DisplayName() string
}

// Label carries the naming attributes of a bundle across schema generations.
type Label struct {
	Category   string
	Rating     decimal.Decimal
	DeviceName *string
}

// DisplayName resolves a human label: "{category} {rating} kW" when both are
// known, else the legacy device name, else "Unknown".
func (l Label) DisplayName() string {
	category := strings.TrimSpace(l.Category)
	if category != "" && l.Rating.IsPositive() {
		return category + " " + l.Rating.StringFixed(2) + " kW"
	}
	if l.DeviceName != nil {
		if name := strings.TrimSpace(*l.DeviceName); name != "" {
			return name
		}
	}
	return "Unknown"
}

// BundleFilter narrows bundle listings.
type BundleFilter struct {
	Category        string
	Rating          *decimal.Decimal
	IncludeInactive bool
}

// IsDefault reports whether the filter is the unfiltered public listing.
func (f BundleFilter) IsDefault() bool {
	return f.Category == "" && f.Rating == nil && !f.IncludeInactive
}
