package repo

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billswift/internal/analytics"
	"github.com/noah-isme/backend-billswift/internal/audit"
	"github.com/noah-isme/backend-billswift/internal/billing"
	"github.com/noah-isme/backend-billswift/internal/catalog"
	"github.com/noah-isme/backend-billswift/internal/common"
	"github.com/noah-isme/backend-billswift/internal/events"
)

// Memory is an in-process store with the same constraint behaviour as the
// Postgres schema. Transactions are serialised and applied copy-on-write, so
// a failed transaction leaves no trace.
type Memory struct {
	txMu sync.Mutex

	mu     sync.RWMutex
	state  memState
	users  map[string]memUser
	events []events.Event
	audit  []audit.Entry
}

type memUser struct {
	email        string
	employeeCode string
}

type memState struct {
	components map[string]catalog.Component
	bundles    map[string]catalog.CatalogBundle
	bills      map[string]billing.Bill
	numbers    map[string]string
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		state: memState{
			components: map[string]catalog.Component{},
			bundles:    map[string]catalog.CatalogBundle{},
			bills:      map[string]billing.Bill{},
			numbers:    map[string]string{},
		},
		users: map[string]memUser{},
	}
}

// AddUser registers a bill owner. Users are managed by the identity provider
// so the store only keeps what listings need.
func (m *Memory) AddUser(id, email, employeeCode string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[id] = memUser{email: email, employeeCode: employeeCode}
}

// Events returns a copy of every persisted domain event.
func (m *Memory) Events() []events.Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]events.Event(nil), m.events...)
}

func (s memState) clone() memState {
	out := memState{
		components: make(map[string]catalog.Component, len(s.components)),
		bundles:    make(map[string]catalog.CatalogBundle, len(s.bundles)),
		bills:      make(map[string]billing.Bill, len(s.bills)),
		numbers:    make(map[string]string, len(s.numbers)),
	}
	for k, v := range s.components {
		out.components[k] = v
	}
	for k, v := range s.bundles {
		out.bundles[k] = copyBundle(v)
	}
	for k, v := range s.bills {
		out.bills[k] = v
	}
	for k, v := range s.numbers {
		out.numbers[k] = v
	}
	return out
}

func copyBundle(b catalog.CatalogBundle) catalog.CatalogBundle {
	lines := make([]catalog.BundleLine, len(b.Lines))
	for i, line := range b.Lines {
		if line.UnitPriceOverride != nil {
			v := *line.UnitPriceOverride
			line.UnitPriceOverride = &v
		}
		lines[i] = line
	}
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Position < lines[j].Position })
	b.Lines = lines
	if b.LegacyPrice != nil {
		v := *b.LegacyPrice
		b.LegacyPrice = &v
	}
	if b.DeviceName != nil {
		v := *b.DeviceName
		b.DeviceName = &v
	}
	return b
}

// InTx implements catalog.Store.
func (m *Memory) InTx(ctx context.Context, fn func(tx catalog.Tx) error) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.RLock()
	work := m.state.clone()
	m.mu.RUnlock()

	if err := fn(&memTx{state: work}); err != nil {
		return err
	}

	m.mu.Lock()
	m.state = work
	m.mu.Unlock()
	return nil
}

// ListComponents implements catalog.Store.
func (m *Memory) ListComponents(_ context.Context) ([]catalog.Component, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]catalog.Component, 0, len(m.state.components))
	for _, c := range m.state.components {
		out = append(out, c)
	}
	sortComponents(out)
	return out, nil
}

// SearchComponents implements catalog.Store with a case-insensitive
// substring match on name, brand and model.
func (m *Memory) SearchComponents(_ context.Context, query string, limit int) ([]catalog.Component, error) {
	needle := strings.ToLower(strings.TrimSpace(query))
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]catalog.Component, 0)
	for _, c := range m.state.components {
		haystack := strings.ToLower(c.Name + "\x00" + c.Brand + "\x00" + c.Model)
		if strings.Contains(haystack, needle) {
			out = append(out, c)
		}
	}
	sortComponents(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetBundle implements catalog.Store.
func (m *Memory) GetBundle(_ context.Context, id string) (catalog.CatalogBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.state.bundles[id]
	if !ok {
		return catalog.CatalogBundle{}, common.ErrRecordNotFound
	}
	return copyBundle(b), nil
}

// ListBundles implements catalog.Store.
func (m *Memory) ListBundles(_ context.Context, filter catalog.BundleFilter) ([]catalog.CatalogBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]catalog.CatalogBundle, 0, len(m.state.bundles))
	for _, b := range m.state.bundles {
		if !filter.IncludeInactive && !b.IsActive {
			continue
		}
		if filter.Category != "" && b.Category != filter.Category {
			continue
		}
		if filter.Rating != nil && !b.Rating.Equal(*filter.Rating) {
			continue
		}
		out = append(out, copyBundle(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		if !out[i].Rating.Equal(out[j].Rating) {
			return out[i].Rating.LessThan(out[j].Rating)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func sortComponents(rows []catalog.Component) {
	sort.Slice(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Brand != b.Brand {
			return a.Brand < b.Brand
		}
		return a.Model < b.Model
	})
}

type memTx struct {
	state memState
}

func (t *memTx) LockComponent(_ context.Context, id string) (catalog.Component, error) {
	c, ok := t.state.components[id]
	if !ok {
		return catalog.Component{}, common.ErrRecordNotFound
	}
	return c, nil
}

func (t *memTx) ShareComponents(_ context.Context, ids []string) (map[string]catalog.Component, error) {
	out := make(map[string]catalog.Component, len(ids))
	for _, id := range ids {
		if c, ok := t.state.components[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

func (t *memTx) identityTaken(c catalog.Component) bool {
	for id, other := range t.state.components {
		if id != c.ID && other.Name == c.Name && other.Brand == c.Brand && other.Model == c.Model {
			return true
		}
	}
	return false
}

func (t *memTx) InsertComponent(_ context.Context, c catalog.Component) (catalog.Component, error) {
	if _, exists := t.state.components[c.ID]; exists || t.identityTaken(c) {
		return catalog.Component{}, common.ErrDuplicateKey
	}
	t.state.components[c.ID] = c
	return c, nil
}

func (t *memTx) UpdateComponent(_ context.Context, c catalog.Component) (catalog.Component, error) {
	if _, ok := t.state.components[c.ID]; !ok {
		return catalog.Component{}, common.ErrRecordNotFound
	}
	if t.identityTaken(c) {
		return catalog.Component{}, common.ErrDuplicateKey
	}
	t.state.components[c.ID] = c
	return c, nil
}

func (t *memTx) DeleteComponent(ctx context.Context, id string) error {
	if _, ok := t.state.components[id]; !ok {
		return common.ErrRecordNotFound
	}
	users, _ := t.BundleIDsUsingComponent(ctx, id)
	if len(users) > 0 {
		return common.ErrReferenced
	}
	delete(t.state.components, id)
	return nil
}

func (t *memTx) BundleIDsUsingComponent(_ context.Context, componentID string) ([]string, error) {
	var ids []string
	for id, b := range t.state.bundles {
		for _, line := range b.Lines {
			if line.ComponentID == componentID {
				ids = append(ids, id)
				break
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *memTx) LockBundle(_ context.Context, id string) (catalog.CatalogBundle, error) {
	b, ok := t.state.bundles[id]
	if !ok {
		return catalog.CatalogBundle{}, common.ErrRecordNotFound
	}
	return copyBundle(b), nil
}

func (t *memTx) BundleIDForLine(_ context.Context, lineID string) (string, error) {
	for id, b := range t.state.bundles {
		for _, line := range b.Lines {
			if line.ID == lineID {
				return id, nil
			}
		}
	}
	return "", common.ErrRecordNotFound
}

func (t *memTx) checkLines(b catalog.CatalogBundle) error {
	for _, line := range b.Lines {
		if _, ok := t.state.components[line.ComponentID]; !ok {
			return common.ErrReferenced
		}
	}
	return nil
}

func (t *memTx) InsertBundle(_ context.Context, b catalog.CatalogBundle) (catalog.CatalogBundle, error) {
	if _, exists := t.state.bundles[b.ID]; exists {
		return catalog.CatalogBundle{}, common.ErrDuplicateKey
	}
	if err := t.checkLines(b); err != nil {
		return catalog.CatalogBundle{}, err
	}
	stored := copyBundle(b)
	t.state.bundles[b.ID] = stored
	return copyBundle(stored), nil
}

func (t *memTx) SaveBundle(_ context.Context, b catalog.CatalogBundle) (catalog.CatalogBundle, error) {
	if _, ok := t.state.bundles[b.ID]; !ok {
		return catalog.CatalogBundle{}, common.ErrRecordNotFound
	}
	if err := t.checkLines(b); err != nil {
		return catalog.CatalogBundle{}, err
	}
	stored := copyBundle(b)
	t.state.bundles[b.ID] = stored
	return copyBundle(stored), nil
}

func (t *memTx) DeleteBundle(_ context.Context, id string) error {
	if _, ok := t.state.bundles[id]; !ok {
		return common.ErrRecordNotFound
	}
	for _, bill := range t.state.bills {
		for _, item := range bill.Items {
			if item.ProductID() == id {
				return common.ErrReferenced
			}
		}
	}
	delete(t.state.bundles, id)
	return nil
}

// BillNumberExists implements billing.NumberProbe.
func (m *Memory) BillNumberExists(_ context.Context, number string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.state.numbers[number]
	return ok, nil
}

// LoadBundles implements billing.Store.
func (m *Memory) LoadBundles(_ context.Context, ids []string) (map[string]catalog.CatalogBundle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]catalog.CatalogBundle, len(ids))
	for _, id := range ids {
		if b, ok := m.state.bundles[id]; ok {
			out[id] = copyBundle(b)
		}
	}
	return out, nil
}

// InsertBill implements billing.Store. The bill and its items land together
// or not at all.
func (m *Memory) InsertBill(ctx context.Context, b billing.Bill) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.state.numbers[b.BillNumber]; taken {
		return billing.ErrDuplicateBillNumber
	}
	if _, exists := m.state.bills[b.ID]; exists {
		return common.ErrDuplicateKey
	}
	for _, item := range b.Items {
		if _, ok := m.state.bundles[item.ProductID()]; !ok {
			return &billing.MissingProductError{ProductID: item.ProductID()}
		}
	}
	b.Items = append([]billing.SoldLineSnapshot(nil), b.Items...)
	m.state.bills[b.ID] = b
	m.state.numbers[b.BillNumber] = b.ID
	return nil
}

// ListBillsByUser implements billing.Store.
func (m *Memory) ListBillsByUser(_ context.Context, userID string) ([]billing.Bill, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]billing.Bill, 0)
	for _, b := range m.state.bills {
		if b.UserID == userID {
			out = append(out, b)
		}
	}
	sortBillsNewestFirst(out)
	return out, nil
}

// GetBill implements billing.Store.
func (m *Memory) GetBill(_ context.Context, id string) (billing.BillDetail, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.state.bills[id]
	if !ok {
		return billing.BillDetail{}, common.ErrRecordNotFound
	}
	detail := billing.BillDetail{
		Bill:       b,
		OwnerEmail: m.users[b.UserID].email,
		Products:   make(map[string]catalog.Label, len(b.Items)),
	}
	for _, item := range b.Items {
		if bundle, ok := m.state.bundles[item.ProductID()]; ok {
			detail.Products[item.ProductID()] = copyBundle(bundle).Label()
		}
	}
	return detail, nil
}

// ListAllBills implements billing.Store.
func (m *Memory) ListAllBills(_ context.Context, page common.Pagination) ([]billing.BillListing, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	all := make([]billing.Bill, 0, len(m.state.bills))
	for _, b := range m.state.bills {
		all = append(all, b)
	}
	sortBillsNewestFirst(all)
	total := len(all)
	start := page.Offset()
	if start > total {
		start = total
	}
	end := total
	if page.PerPage > 0 && start+page.PerPage < total {
		end = start + page.PerPage
	}
	out := make([]billing.BillListing, 0, end-start)
	for _, b := range all[start:end] {
		out = append(out, billing.BillListing{
			ID:         b.ID,
			BillNumber: b.BillNumber,
			UserID:     b.UserID,
			UserEmail:  m.users[b.UserID].email,
			Total:      b.Total,
			CreatedAt:  b.CreatedAt,
		})
	}
	return out, total, nil
}

// DeleteBill implements billing.Store; items go with the bill.
func (m *Memory) DeleteBill(_ context.Context, id string) error {
	m.txMu.Lock()
	defer m.txMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.state.bills[id]
	if !ok {
		return common.ErrRecordNotFound
	}
	delete(m.state.bills, id)
	delete(m.state.numbers, b.BillNumber)
	return nil
}

func sortBillsNewestFirst(rows []billing.Bill) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].BillNumber > rows[j].BillNumber
	})
}

// InsertDomainEvent implements events.EventStore.
func (m *Memory) InsertDomainEvent(_ context.Context, ev events.Event) (events.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return ev, nil
}

// InsertAuditLog implements audit.Store.
func (m *Memory) InsertAuditLog(_ context.Context, e audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, e)
	return nil
}

// ListAuditLogs implements audit.Store, newest first.
func (m *Memory) ListAuditLogs(_ context.Context, limit, offset int) ([]audit.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]audit.Entry, 0, len(m.audit))
	for i := len(m.audit) - 1; i >= 0; i-- {
		out = append(out, m.audit[i])
	}
	if offset >= len(out) {
		return []audit.Entry{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SalesByDay implements analytics.Querier over bills created in [from, to).
func (m *Memory) SalesByDay(_ context.Context, from, to time.Time) ([]analytics.DailySales, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	days := map[time.Time]*analytics.DailySales{}
	for _, b := range m.state.bills {
		if b.CreatedAt.Before(from) || !b.CreatedAt.Before(to) {
			continue
		}
		day := b.CreatedAt.UTC().Truncate(24 * time.Hour)
		row, ok := days[day]
		if !ok {
			row = &analytics.DailySales{Day: day, Subtotal: decimal.Zero, Discounts: decimal.Zero, Revenue: decimal.Zero}
			days[day] = row
		}
		row.Bills++
		row.Subtotal = row.Subtotal.Add(b.Subtotal)
		row.Discounts = row.Discounts.Add(b.Discount)
		row.Revenue = row.Revenue.Add(b.Total)
	}
	out := make([]analytics.DailySales, 0, len(days))
	for _, row := range days {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// TopBundles implements analytics.Querier, ordered by quantity sold.
func (m *Memory) TopBundles(_ context.Context, from, to time.Time, limit, offset int) ([]analytics.BundleSales, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	totals := map[string]*analytics.BundleSales{}
	for _, b := range m.state.bills {
		if b.CreatedAt.Before(from) || !b.CreatedAt.Before(to) {
			continue
		}
		for _, item := range b.Items {
			row, ok := totals[item.ProductID()]
			if !ok {
				row = &analytics.BundleSales{ProductID: item.ProductID(), Revenue: decimal.Zero}
				if bundle, found := m.state.bundles[item.ProductID()]; found {
					row.Label = copyBundle(bundle).Label()
				}
				totals[item.ProductID()] = row
			}
			row.Quantity += item.Quantity()
			row.Revenue = row.Revenue.Add(item.LineTotal())
		}
	}
	out := make([]analytics.BundleSales, 0, len(totals))
	for _, row := range totals {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity > out[j].Quantity
		}
		return out[i].ProductID < out[j].ProductID
	})
	if offset >= len(out) {
		return []analytics.BundleSales{}, nil
	}
	out = out[offset:]
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ catalog.Store     = (*Memory)(nil)
	_ catalog.Tx        = (*memTx)(nil)
	_ billing.Store     = (*Memory)(nil)
	_ audit.Store       = (*Memory)(nil)
	_ events.EventStore = (*Memory)(nil)
	_ analytics.Querier = (*Memory)(nil)
)
