package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billswift/internal/catalog"
	"github.com/noah-isme/backend-billswift/internal/common"
	"github.com/noah-isme/backend-billswift/internal/events"
	"github.com/noah-isme/backend-billswift/internal/obs"
	"github.com/noah-isme/backend-billswift/internal/pricing"
)

const defaultCommitRetries = 3

// EventPublisher receives domain events after a bill commits.
type EventPublisher interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Service assembles, numbers, persists and reads bills.
type Service struct {
	store         Store
	numberer      *Numberer
	events        EventPublisher
	logger        zerolog.Logger
	commitRetries int
	now           func() time.Time
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store         Store
	Numberer      *Numberer
	Events        EventPublisher
	Logger        zerolog.Logger
	CommitRetries int
	Now           func() time.Time
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("billing: store is required")
	}
	if cfg.Numberer == nil {
		return nil, errors.New("billing: numberer is required")
	}
	s := &Service{
		store:         cfg.Store,
		numberer:      cfg.Numberer,
		events:        cfg.Events,
		logger:        cfg.Logger,
		commitRetries: cfg.CommitRetries,
		now:           cfg.Now,
	}
	if s.commitRetries < 1 {
		s.commitRetries = defaultCommitRetries
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// ItemRequest is one requested sale line. A nil Quantity means 1. A non-nil
// OverridePrice is snapshotted verbatim instead of the catalog price.
type ItemRequest struct {
	ProductID     string
	Quantity      *int
	OverridePrice *decimal.Decimal
}

// CreateBillInput is a checkout request.
type CreateBillInput struct {
	Items          []ItemRequest
	DiscountAmount decimal.Decimal
	Notes          *string
}

// CreateBill validates the request against the catalog, snapshots prices,
// computes totals and persists the bill and its items in one unit. A commit
// that loses the bill_number race is retried with a fresh number.
func (s *Service) CreateBill(ctx context.Context, p common.Principal, in CreateBillInput) (Bill, error) {
	start := time.Now()
	bill, err := s.createBill(ctx, p, in)
	s.observe(start, err)
	return bill, err
}

func (s *Service) createBill(ctx context.Context, p common.Principal, in CreateBillInput) (Bill, error) {
	if p.ID == "" {
		return Bill{}, common.UnauthorizedError("authentication required")
	}
	if len(in.Items) == 0 {
		return Bill{}, common.ValidationError("a bill needs at least one item").
			WithDetails(map[string]string{"reason": "empty_bill"})
	}
	if err := pricing.ValidateNonNegative("discount_amount", in.DiscountAmount); err != nil {
		return Bill{}, err
	}

	ids := make([]string, 0, len(in.Items))
	quantities := make([]int, len(in.Items))
	for i, item := range in.Items {
		if _, err := uuid.Parse(item.ProductID); err != nil {
			return Bill{}, common.NotFoundError("product", item.ProductID)
		}
		qty := 1
		if item.Quantity != nil {
			qty = *item.Quantity
		}
		if err := pricing.ValidateQuantity("quantity for product "+item.ProductID, qty); err != nil {
			return Bill{}, err
		}
		if item.OverridePrice != nil {
			if err := pricing.ValidatePrice("override_price", *item.OverridePrice); err != nil {
				return Bill{}, err
			}
		}
		quantities[i] = qty
		ids = append(ids, item.ProductID)
	}

	bundles, err := s.store.LoadBundles(ctx, ids)
	if err != nil {
		return Bill{}, fmt.Errorf("load products: %w", err)
	}
	lines := make([]pricing.SaleLine, len(in.Items))
	for i, item := range in.Items {
		b, ok := bundles[item.ProductID]
		if !ok || !b.IsActive {
			return Bill{}, common.NotFoundError("product", item.ProductID)
		}
		unit := b.SellingPrice()
		if item.OverridePrice != nil {
			unit = *item.OverridePrice
		}
		if !unit.IsPositive() {
			return Bill{}, common.ValidationError("product %s has no sellable price", item.ProductID)
		}
		lines[i] = pricing.SaleLine{UnitPrice: unit, Quantity: quantities[i]}
	}
	totals, err := pricing.Totals(lines, in.DiscountAmount)
	if err != nil {
		return Bill{}, err
	}

	now := s.now().UTC()
	bill := Bill{
		ID:        uuid.NewString(),
		UserID:    p.ID,
		Subtotal:  totals.Subtotal,
		Discount:  totals.Discount,
		Total:     totals.Total,
		Notes:     cleanNotes(in.Notes),
		CreatedAt: now,
		Items:     make([]SoldLineSnapshot, len(lines)),
	}
	for i, line := range lines {
		bill.Items[i] = NewSoldLineSnapshot(uuid.NewString(), in.Items[i].ProductID, i, line.Quantity, line.UnitPrice, totals.LineTotals[i])
	}

	for attempt := 1; attempt <= s.commitRetries; attempt++ {
		number, err := s.numberer.Generate(ctx, now.Year(), p.EmployeeCode)
		if err != nil {
			return Bill{}, err
		}
		bill.BillNumber = number
		err = s.store.InsertBill(ctx, bill)
		if err == nil {
			s.publish(ctx, events.TopicBillCreated, bill)
			return bill, nil
		}
		var missing *MissingProductError
		if errors.As(err, &missing) {
			return Bill{}, s.missingProduct(ctx, missing.ProductID, ids)
		}
		if !errors.Is(err, ErrDuplicateBillNumber) {
			return Bill{}, fmt.Errorf("insert bill: %w", err)
		}
		if obs.BillCommitRetriesTotal != nil {
			obs.BillCommitRetriesTotal.Inc()
		}
		s.logger.Warn().Str("bill_number", number).Int("attempt", attempt).Msg("bill number taken at commit, retrying")
	}
	return Bill{}, common.NewAppError(common.CodeBillNumberExhausted,
		"could not allocate a unique bill number, retry the request", http.StatusServiceUnavailable, ErrDuplicateBillNumber)
}

// missingProduct reports a product deleted between pricing and commit. When
// the store could not name it, the requested ids are reloaded to find it.
func (s *Service) missingProduct(ctx context.Context, id string, requested []string) error {
	if id != "" {
		return common.NotFoundError("product", id)
	}
	bundles, err := s.store.LoadBundles(ctx, requested)
	if err != nil {
		return fmt.Errorf("reload products: %w", err)
	}
	for _, want := range requested {
		if b, ok := bundles[want]; !ok || !b.IsActive {
			return common.NotFoundError("product", want)
		}
	}
	return common.NotFoundError("product", requested[0])
}

func (s *Service) observe(start time.Time, err error) {
	if obs.BillsCreatedTotal != nil {
		result := "created"
		var appErr *common.AppError
		switch {
		case err == nil:
		case errors.As(err, &appErr):
			result = strings.ToLower(appErr.Code)
		default:
			result = "error"
		}
		obs.BillsCreatedTotal.WithLabelValues(result).Inc()
	}
	if obs.BillAssemblyLatency != nil {
		obs.BillAssemblyLatency.Observe(obs.DurationMillis(time.Since(start)))
	}
}

// ListMyBills returns the caller's bills, newest first.
func (s *Service) ListMyBills(ctx context.Context, p common.Principal) ([]Bill, error) {
	if p.ID == "" {
		return nil, common.UnauthorizedError("authentication required")
	}
	rows, err := s.store.ListBillsByUser(ctx, p.ID)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	return rows, nil
}

// GetBillDetail returns a bill owned by the caller. Bills owned by anyone
// else are reported as not found so their existence is not revealed.
func (s *Service) GetBillDetail(ctx context.Context, p common.Principal, id string) (BillDetail, error) {
	detail, err := s.getBill(ctx, id)
	if err != nil {
		return BillDetail{}, err
	}
	if detail.UserID != p.ID {
		return BillDetail{}, common.NotFoundError("bill", id)
	}
	return detail, nil
}

// GetAnyBill returns any bill to an administrator.
func (s *Service) GetAnyBill(ctx context.Context, p common.Principal, id string) (BillDetail, error) {
	if !p.IsAdmin() {
		return BillDetail{}, common.ForbiddenError("admin role required")
	}
	return s.getBill(ctx, id)
}

// ListAllBills returns a page of every bill to an administrator.
func (s *Service) ListAllBills(ctx context.Context, p common.Principal, page common.Pagination) ([]BillListing, int, error) {
	if !p.IsAdmin() {
		return nil, 0, common.ForbiddenError("admin role required")
	}
	rows, total, err := s.store.ListAllBills(ctx, page)
	if err != nil {
		return nil, 0, fmt.Errorf("list all bills: %w", err)
	}
	return rows, total, nil
}

// DeleteBill removes a bill and its items. Only administrators may delete.
func (s *Service) DeleteBill(ctx context.Context, p common.Principal, id string) error {
	if !p.IsAdmin() {
		return common.ForbiddenError("admin role required")
	}
	detail, err := s.getBill(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteBill(ctx, id); err != nil {
		if errors.Is(err, common.ErrRecordNotFound) {
			return common.NotFoundError("bill", id)
		}
		return fmt.Errorf("delete bill: %w", err)
	}
	s.publish(ctx, events.TopicBillDeleted, detail.Bill)
	return nil
}

func (s *Service) getBill(ctx context.Context, id string) (BillDetail, error) {
	if _, err := uuid.Parse(id); err != nil {
		return BillDetail{}, common.NotFoundError("bill", id)
	}
	detail, err := s.store.GetBill(ctx, id)
	if err != nil {
		if errors.Is(err, common.ErrRecordNotFound) {
			return BillDetail{}, common.NotFoundError("bill", id)
		}
		return BillDetail{}, fmt.Errorf("get bill: %w", err)
	}
	if detail.Products == nil {
		detail.Products = map[string]catalog.Label{}
	}
	return detail, nil
}

func (s *Service) publish(ctx context.Context, topic string, b Bill) {
	if s.events == nil {
		return
	}
	payload := map[string]any{
		"bill_id":      b.ID,
		"bill_number":  b.BillNumber,
		"user_id":      b.UserID,
		"total_amount": pricing.Format(b.Total),
		"items":        len(b.Items),
	}
	if _, err := s.events.Emit(ctx, topic, b.ID, payload); err != nil {
		s.logger.Warn().Err(err).Str("bill_id", b.ID).Str("topic", topic).Msg("emit bill event failed")
	}
}

func cleanNotes(notes *string) *string {
	if notes == nil {
		return nil
	}
	v := strings.TrimSpace(*notes)
	if v == "" {
		return nil
	}
	return &v
}
