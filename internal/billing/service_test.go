package billing_test

import (
	"context"
	"net/http"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billswift/internal/billing"
	"github.com/noah-isme/backend-billswift/internal/catalog"
	"github.com/noah-isme/backend-billswift/internal/common"
	"github.com/noah-isme/backend-billswift/internal/events"
	"github.com/noah-isme/backend-billswift/internal/pricing"
	"github.com/noah-isme/backend-billswift/internal/repo"
)

// racyStore loses the bill_number race for the first failures commits.
type racyStore struct {
	*repo.Memory
	failures int
	inserts  int
}

func (s *racyStore) InsertBill(ctx context.Context, b billing.Bill) error {
	s.inserts++
	if s.inserts <= s.failures {
		return billing.ErrDuplicateBillNumber
	}
	return s.Memory.InsertBill(ctx, b)
}

// vanishingStore deletes the sold product just before the bill commits.
type vanishingStore struct {
	*repo.Memory
	productID string
}

func (s *vanishingStore) InsertBill(ctx context.Context, b billing.Bill) error {
	if err := s.Memory.InTx(ctx, func(tx catalog.Tx) error { return tx.DeleteBundle(ctx, s.productID) }); err != nil {
		return err
	}
	return s.Memory.InsertBill(ctx, b)
}

type env struct {
	store   *repo.Memory
	catalog *catalog.Service
	billing *billing.Service
	owner   common.Principal
	other   common.Principal
	admin   common.Principal
}

func newEnv(t *testing.T, wrap func(*repo.Memory) billing.Store) env {
	t.Helper()
	store := repo.NewMemory()
	bus := &events.Bus{Store: store}
	cat, err := catalog.NewService(catalog.ServiceConfig{Store: store, Engine: pricing.Engine{}, Events: bus, Logger: zerolog.Nop()})
	require.NoError(t, err)

	var billStore billing.Store = store
	if wrap != nil {
		billStore = wrap(store)
	}
	numberer, err := billing.NewNumberer(billing.NumbererConfig{Probe: billStore, MaxAttempts: 25, NodeID: 1, Logger: zerolog.Nop()})
	require.NoError(t, err)
	svc, err := billing.NewService(billing.ServiceConfig{
		Store:         billStore,
		Numberer:      numberer,
		Events:        bus,
		Logger:        zerolog.Nop(),
		CommitRetries: 3,
		Now:           func() time.Time { return time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC) },
	})
	require.NoError(t, err)

	e := env{
		store:   store,
		catalog: cat,
		billing: svc,
		owner:   common.Principal{ID: uuid.NewString(), EmployeeCode: "E-42", Role: common.RoleUser},
		other:   common.Principal{ID: uuid.NewString(), EmployeeCode: "E77", Role: common.RoleUser},
		admin:   common.Principal{ID: uuid.NewString(), EmployeeCode: "ADM", Role: common.RoleAdmin},
	}
	store.AddUser(e.owner.ID, "owner@example.com", e.owner.EmployeeCode)
	store.AddUser(e.other.ID, "other@example.com", e.other.EmployeeCode)
	return e
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func intPtr(v int) *int { return &v }

func (e env) component(t *testing.T, name, price string) catalog.Component {
	t.Helper()
	c, err := e.catalog.CreateComponent(context.Background(), catalog.ComponentInput{Name: name, Brand: "ABB", BaseUnitPrice: dec(price)})
	require.NoError(t, err)
	return c
}

func (e env) bundle(t *testing.T, rating string, lines ...catalog.LineInput) catalog.CatalogBundle {
	t.Helper()
	b, err := e.catalog.CreateBundle(context.Background(), catalog.BundleInput{Category: catalog.CategoryDOL, Rating: dec(rating), Lines: lines})
	require.NoError(t, err)
	return b
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	require.Error(t, err)
	require.Truef(t, common.HasCode(err, code), "expected %s, got %v", code, err)
}

func TestCreateBillEndToEnd(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	contactor := e.component(t, "Contactor", "100.00")
	relay := e.component(t, "Relay", "50.00")
	b := e.bundle(t, "5.5",
		catalog.LineInput{ComponentID: contactor.ID, Quantity: 2},
		catalog.LineInput{ComponentID: relay.ID, Quantity: 1, UnitPriceOverride: decPtr("40.00")},
	)
	require.Equal(t, "240.00", pricing.Format(b.BasePrice))

	bill, err := e.billing.CreateBill(ctx, e.owner, billing.CreateBillInput{
		Items:          []billing.ItemRequest{{ProductID: b.ID}},
		DiscountAmount: dec("40.00"),
	})
	require.NoError(t, err)
	require.Equal(t, "240.00", pricing.Format(bill.Subtotal))
	require.Equal(t, "40.00", pricing.Format(bill.Discount))
	require.Equal(t, "200.00", pricing.Format(bill.Total))
	require.Regexp(t, regexp.MustCompile(`^BS-2026-E42\d{3}$`), bill.BillNumber)
	require.Len(t, bill.Items, 1)
	require.Equal(t, 1, bill.Items[0].Quantity())

	var topics []string
	for _, ev := range e.store.Events() {
		topics = append(topics, ev.Topic)
	}
	require.Contains(t, topics, events.TopicBillCreated)
}

func TestCreateBillExactDecimalSubtotal(t *testing.T) {
	e := newEnv(t, nil)
	cheap := e.bundle(t, "1", catalog.LineInput{ComponentID: e.component(t, "Fuse", "19.99").ID, Quantity: 1})
	flat := e.bundle(t, "2", catalog.LineInput{ComponentID: e.component(t, "Lug", "5.00").ID, Quantity: 1})

	bill, err := e.billing.CreateBill(context.Background(), e.owner, billing.CreateBillInput{
		Items: []billing.ItemRequest{{ProductID: cheap.ID, Quantity: intPtr(3)}, {ProductID: flat.ID, Quantity: intPtr(2)}},
	})
	require.NoError(t, err)
	require.True(t, bill.Subtotal.Equal(dec("69.97")), bill.Subtotal.String())
	require.True(t, bill.Total.Equal(dec("69.97")))
	require.Equal(t, "59.97", pricing.Format(bill.Items[0].LineTotal()))
}

func TestCreateBillValidation(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	b := e.bundle(t, "3", catalog.LineInput{ComponentID: e.component(t, "Contactor", "10.00").ID, Quantity: 1})

	_, err := e.billing.CreateBill(ctx, e.owner, billing.CreateBillInput{})
	requireCode(t, err, common.CodeValidation)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, map[string]string{"reason": "empty_bill"}, appErr.Details)

	_, err = e.billing.CreateBill(ctx, e.owner, billing.CreateBillInput{Items: []billing.ItemRequest{{ProductID: b.ID, Quantity: intPtr(0)}}})
	requireCode(t, err, common.CodeValidation)

	_, err = e.billing.CreateBill(ctx, e.owner, billing.CreateBillInput{Items: []billing.ItemRequest{{ProductID: b.ID, OverridePrice: decPtr("0")}}})
	requireCode(t, err, common.CodeValidation)

	_, err = e.billing.CreateBill(ctx, e.owner, billing.CreateBillInput{Items: []billing.ItemRequest{{ProductID: b.ID}}, DiscountAmount: dec("-1")})
	requireCode(t, err, common.CodeValidation)

	missing := uuid.NewString()
	_, err = e.billing.CreateBill(ctx, e.owner, billing.CreateBillInput{Items: []billing.ItemRequest{{ProductID: b.ID}, {ProductID: missing}}})
	requireCode(t, err, common.CodeNotFound)
	require.Contains(t, err.Error(), missing)

	_, err = e.catalog.UpdateBundle(ctx, b.ID, catalog.BundlePatch{IsActive: func() *bool { v := false; return &v }()})
	require.NoError(t, err)
	_, err = e.billing.CreateBill(ctx, e.owner, billing.CreateBillInput{Items: []billing.ItemRequest{{ProductID: b.ID}}})
	requireCode(t, err, common.CodeNotFound)

	_, err = e.billing.CreateBill(ctx, common.Principal{}, billing.CreateBillInput{Items: []billing.ItemRequest{{ProductID: b.ID}}})
	requireCode(t, err, common.CodeUnauthorized)

	rows, _, err := e.billing.ListAllBills(ctx, e.admin, common.Pagination{Page: 1, PerPage: 10})
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestCreateBillRejectsValuesBeyondStoredRange(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	b := e.bundle(t, "3", catalog.LineInput{ComponentID: e.component(t, "Contactor", "100.00").ID, Quantity: 1})

	cases := map[string]billing.CreateBillInput{
		"quantity beyond int32": {Items: []billing.ItemRequest{{ProductID: b.ID, Quantity: intPtr(3_000_000_000)}}},
		"subtotal overflow":     {Items: []billing.ItemRequest{{ProductID: b.ID, Quantity: intPtr(200_000_000)}}},
		"override overflow":     {Items: []billing.ItemRequest{{ProductID: b.ID, OverridePrice: decPtr("10000000000.00")}}},
		"discount overflow":     {Items: []billing.ItemRequest{{ProductID: b.ID}}, DiscountAmount: dec("10000000000.00")},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.billing.CreateBill(ctx, e.owner, in)
			requireCode(t, err, common.CodeValidation)
		})
	}

	rows, err := e.billing.ListMyBills(ctx, e.owner)
	require.NoError(t, err)
	require.Empty(t, rows)
}

func TestCreateBillOverrideAndDiscountFloor(t *testing.T) {
	e := newEnv(t, nil)
	b := e.bundle(t, "3", catalog.LineInput{ComponentID: e.component(t, "Contactor", "10.00").ID, Quantity: 1})

	bill, err := e.billing.CreateBill(context.Background(), e.owner, billing.CreateBillInput{
		Items:          []billing.ItemRequest{{ProductID: b.ID, Quantity: intPtr(2), OverridePrice: decPtr("12.34")}},
		DiscountAmount: dec("100.00"),
	})
	require.NoError(t, err)
	require.Equal(t, "12.34", pricing.Format(bill.Items[0].UnitPrice()))
	require.Equal(t, "24.68", pricing.Format(bill.Subtotal))
	require.Equal(t, "100.00", pricing.Format(bill.Discount))
	require.Equal(t, "0.00", pricing.Format(bill.Total))
}

func TestSoldLinesSurviveCatalogRepricing(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	contactor := e.component(t, "Contactor", "100.00")
	b := e.bundle(t, "3", catalog.LineInput{ComponentID: contactor.ID, Quantity: 1})

	bill, err := e.billing.CreateBill(ctx, e.owner, billing.CreateBillInput{Items: []billing.ItemRequest{{ProductID: b.ID}}})
	require.NoError(t, err)

	_, err = e.catalog.UpdateComponent(ctx, contactor.ID, catalog.ComponentPatch{BaseUnitPrice: decPtr("175.00")})
	require.NoError(t, err)
	repriced, err := e.catalog.GetBundle(ctx, b.ID, true)
	require.NoError(t, err)
	require.Equal(t, "175.00", pricing.Format(repriced.TotalPrice))

	detail, err := e.billing.GetBillDetail(ctx, e.owner, bill.ID)
	require.NoError(t, err)
	require.Equal(t, "100.00", pricing.Format(detail.Items[0].UnitPrice()))
	require.Equal(t, "100.00", pricing.Format(detail.Total))
	require.Equal(t, "DOL 3.00 kW", detail.ProductName(b.ID))
}

func TestCreateBillRetriesLostNumberRace(t *testing.T) {
	var racy *racyStore
	e := newEnv(t, func(m *repo.Memory) billing.Store {
		racy = &racyStore{Memory: m, failures: 2}
		return racy
	})
	b := e.bundle(t, "3", catalog.LineInput{ComponentID: e.component(t, "Contactor", "10.00").ID, Quantity: 1})

	bill, err := e.billing.CreateBill(context.Background(), e.owner, billing.CreateBillInput{Items: []billing.ItemRequest{{ProductID: b.ID}}})
	require.NoError(t, err)
	require.Equal(t, 3, racy.inserts)
	exists, err := e.store.BillNumberExists(context.Background(), bill.BillNumber)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestCreateBillGivesUpAfterRetries(t *testing.T) {
	e := newEnv(t, func(m *repo.Memory) billing.Store {
		return &racyStore{Memory: m, failures: 100}
	})
	b := e.bundle(t, "3", catalog.LineInput{ComponentID: e.component(t, "Contactor", "10.00").ID, Quantity: 1})

	_, err := e.billing.CreateBill(context.Background(), e.owner, billing.CreateBillInput{Items: []billing.ItemRequest{{ProductID: b.ID}}})
	requireCode(t, err, common.CodeBillNumberExhausted)
	var appErr *common.AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusServiceUnavailable, appErr.HTTPStatus)
}

func TestCreateBillReportsProductDeletedBeforeCommit(t *testing.T) {
	var vanishing *vanishingStore
	e := newEnv(t, func(m *repo.Memory) billing.Store {
		vanishing = &vanishingStore{Memory: m}
		return vanishing
	})
	b := e.bundle(t, "3", catalog.LineInput{ComponentID: e.component(t, "Contactor", "10.00").ID, Quantity: 1})
	vanishing.productID = b.ID

	_, err := e.billing.CreateBill(context.Background(), e.owner, billing.CreateBillInput{Items: []billing.ItemRequest{{ProductID: b.ID}}})
	requireCode(t, err, common.CodeNotFound)
	require.Contains(t, err.Error(), b.ID)
}

func TestBillReadsAreOwnerScoped(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	b := e.bundle(t, "3", catalog.LineInput{ComponentID: e.component(t, "Contactor", "10.00").ID, Quantity: 1})

	mine, err := e.billing.CreateBill(ctx, e.owner, billing.CreateBillInput{Items: []billing.ItemRequest{{ProductID: b.ID}}})
	require.NoError(t, err)
	_, err = e.billing.CreateBill(ctx, e.other, billing.CreateBillInput{Items: []billing.ItemRequest{{ProductID: b.ID}}})
	require.NoError(t, err)

	list, err := e.billing.ListMyBills(ctx, e.owner)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, mine.ID, list[0].ID)

	_, err = e.billing.GetBillDetail(ctx, e.other, mine.ID)
	requireCode(t, err, common.CodeNotFound)
	_, err = e.billing.GetBillDetail(ctx, e.owner, "nope")
	requireCode(t, err, common.CodeNotFound)

	_, _, err = e.billing.ListAllBills(ctx, e.owner, common.Pagination{Page: 1, PerPage: 10})
	requireCode(t, err, common.CodeForbidden)
	requireCode(t, e.billing.DeleteBill(ctx, e.owner, mine.ID), common.CodeForbidden)

	detail, err := e.billing.GetAnyBill(ctx, e.admin, mine.ID)
	require.NoError(t, err)
	require.Equal(t, "owner@example.com", detail.OwnerEmail)

	rows, total, err := e.billing.ListAllBills(ctx, e.admin, common.Pagination{Page: 1, PerPage: 10})
	require.NoError(t, err)
	require.Equal(t, 2, total)
	require.Len(t, rows, 2)

	require.NoError(t, e.billing.DeleteBill(ctx, e.admin, mine.ID))
	_, err = e.billing.GetAnyBill(ctx, e.admin, mine.ID)
	requireCode(t, err, common.CodeNotFound)
	requireCode(t, e.billing.DeleteBill(ctx, e.admin, mine.ID), common.CodeNotFound)

	var deleted bool
	for _, ev := range e.store.Events() {
		if ev.Topic == events.TopicBillDeleted && ev.AggregateID == mine.ID {
			deleted = true
		}
	}
	require.True(t, deleted)
}
