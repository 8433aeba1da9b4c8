package billing

import (
	"time"

	"github.com/noah-isme/backend-billswift/internal/pricing"
)

// SummaryView is the BillSummary response shape.
type SummaryView struct {
	ID             string    `json:"id"`
	BillNumber     string    `json:"bill_number"`
	SubtotalAmount string    `json:"subtotal_amount"`
	DiscountAmount string    `json:"discount_amount"`
	TotalAmount    string    `json:"total_amount"`
	Notes          *string   `json:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ItemView is one line of a bill detail.
type ItemView struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	LineTotal   string `json:"line_total"`
}

// DetailView is the BillDetail response shape.
type DetailView struct {
	SummaryView
	UserEmail string     `json:"user_email,omitempty"`
	Items     []ItemView `json:"items"`
}

// ListingView is one row of the administrator listing.
type ListingView struct {
	ID          string    `json:"id"`
	BillNumber  string    `json:"bill_number"`
	UserID      string    `json:"user_id"`
	UserEmail   string    `json:"user_email"`
	TotalAmount string    `json:"total_amount"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewSummaryView shapes a bill summary.
func NewSummaryView(b Bill) SummaryView {
	return SummaryView{
		ID:             b.ID,
		BillNumber:     b.BillNumber,
		SubtotalAmount: pricing.Format(b.Subtotal),
		DiscountAmount: pricing.Format(b.Discount),
		TotalAmount:    pricing.Format(b.Total),
		Notes:          b.Notes,
		CreatedAt:      b.CreatedAt,
	}
}

// NewDetailView shapes a bill with resolved product names.
func NewDetailView(d BillDetail, includeEmail bool) DetailView {
	v := DetailView{
		SummaryView: NewSummaryView(d.Bill),
		Items:       make([]ItemView, 0, len(d.Items)),
	}
	if includeEmail {
		v.UserEmail = d.OwnerEmail
	}
	for _, item := range d.Items {
		v.Items = append(v.Items, ItemView{
			ProductID:   item.ProductID(),
			ProductName: d.ProductName(item.ProductID()),
			Quantity:    item.Quantity(),
			UnitPrice:   pricing.Format(item.UnitPrice()),
			LineTotal:   pricing.Format(item.LineTotal()),
		})
	}
	return v
}

func summaryViews(rows []Bill) []SummaryView {
	out := make([]SummaryView, 0, len(rows))
	for _, b := range rows {
		out = append(out, NewSummaryView(b))
	}
	return out
}

func listingViews(rows []BillListing) []ListingView {
	out := make([]ListingView, 0, len(rows))
	for _, row := range rows {
		out = append(out, ListingView{
			ID:          row.ID,
			BillNumber:  row.BillNumber,
			UserID:      row.UserID,
			UserEmail:   row.UserEmail,
			TotalAmount: pricing.Format(row.Total),
			CreatedAt:   row.CreatedAt,
		})
	}
	return out
}
