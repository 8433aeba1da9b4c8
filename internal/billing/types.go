package billing

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billswift/internal/catalog"
	"github.com/noah-isme/backend-billswift/internal/common"
)

// ErrDuplicateBillNumber is returned by Store.InsertBill when the bill number
// lost a race with a concurrent commit.
var ErrDuplicateBillNumber = errors.New("bill number already exists")

// MissingProductError is returned by Store.InsertBill when a sold product was
// deleted after the bill was priced. ProductID is empty when the store cannot
// tell which one.
type MissingProductError struct {
	ProductID string
}

func (e *MissingProductError) Error() string {
	if e.ProductID == "" {
		return "sold product no longer exists"
	}
	return "sold product " + e.ProductID + " no longer exists"
}

// SoldLineSnapshot is a frozen sale line. Its fields are unexported so no
// code path can reprice a line after the bill is created.
type SoldLineSnapshot struct {
	id        string
	productID string
	position  int
	quantity  int
	unitPrice decimal.Decimal
	lineTotal decimal.Decimal
}

// NewSoldLineSnapshot freezes a sale line. It is also used by stores when
// loading persisted items.
func NewSoldLineSnapshot(id, productID string, position, quantity int, unitPrice, lineTotal decimal.Decimal) SoldLineSnapshot {
	return SoldLineSnapshot{
		id:        id,
		productID: productID,
		position:  position,
		quantity:  quantity,
		unitPrice: unitPrice,
		lineTotal: lineTotal,
	}
}

func (s SoldLineSnapshot) ID() string                 { return s.id }
func (s SoldLineSnapshot) ProductID() string          { return s.productID }
func (s SoldLineSnapshot) Position() int              { return s.position }
func (s SoldLineSnapshot) Quantity() int              { return s.quantity }
func (s SoldLineSnapshot) UnitPrice() decimal.Decimal { return s.unitPrice }
func (s SoldLineSnapshot) LineTotal() decimal.Decimal { return s.lineTotal }

// Bill is an issued invoice. Items are ordered by position.
type Bill struct {
	ID         string
	BillNumber string
	UserID     string
	Subtotal   decimal.Decimal
	Discount   decimal.Decimal
	Total      decimal.Decimal
	Notes      *string
	CreatedAt  time.Time
	Items      []SoldLineSnapshot
}

// BillDetail is a bill with its owner email and the naming attributes of
// every product it references.
type BillDetail struct {
	Bill
	OwnerEmail string
	Products   map[string]catalog.Label
}

// ProductName resolves the display name of a sold product.
func (d BillDetail) ProductName(productID string) string {
	var item catalog.Item = d.Products[productID]
	return item.DisplayName()
}

// BillListing is one row of the administrator bill listing.
type BillListing struct {
	ID         string
	BillNumber string
	UserID     string
	UserEmail  string
	Total      decimal.Decimal
	CreatedAt  time.Time
}

// Store is the persistence contract for bills. InsertBill writes the bill
// and every item atomically.
type Store interface {
	NumberProbe
	LoadBundles(ctx context.Context, ids []string) (map[string]catalog.CatalogBundle, error)
	InsertBill(ctx context.Context, b Bill) error
	ListBillsByUser(ctx context.Context, userID string) ([]Bill, error)
	GetBill(ctx context.Context, id string) (BillDetail, error)
	ListAllBills(ctx context.Context, page common.Pagination) ([]BillListing, int, error)
	DeleteBill(ctx context.Context, id string) error
}
