package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billswift/internal/analytics"
	"github.com/noah-isme/backend-billswift/internal/audit"
	"github.com/noah-isme/backend-billswift/internal/billing"
	"github.com/noah-isme/backend-billswift/internal/catalog"
	"github.com/noah-isme/backend-billswift/internal/common"
	"github.com/noah-isme/backend-billswift/internal/events"
)

const (
	billNumberConstraint = "bills_bill_number_key"
	billItemsBundleFK    = "bill_items_product_id_fkey"
	txAttempts           = 3
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Postgres implements every store contract on a pgx pool.
type Postgres struct {
	Pool *pgxpool.Pool
}

// NewPostgres wraps a connection pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{Pool: pool}
}

// mapErr translates driver errors into the shared store sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return common.ErrRecordNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			if pgErr.ConstraintName == billNumberConstraint {
				return billing.ErrDuplicateBillNumber
			}
			return fmt.Errorf("%w: %s", common.ErrDuplicateKey, pgErr.ConstraintName)
		case "23503":
			return fmt.Errorf("%w: %w", common.ErrReferenced, pgErr)
		}
	}
	return err
}

// keyValue extracts the value from a violation detail such as
// `Key (product_id)=(abc) is not present in table "bundles".`
func keyValue(detail string) string {
	_, rest, ok := strings.Cut(detail, ")=(")
	if !ok {
		return ""
	}
	value, _, ok := strings.Cut(rest, ")")
	if !ok {
		return ""
	}
	return value
}

const componentColumns = `id, name, brand_name, model, base_unit_price, is_active, created_at, updated_at`

func scanComponent(row pgx.Row) (catalog.Component, error) {
	var c catalog.Component
	err := row.Scan(&c.ID, &c.Name, &c.Brand, &c.Model, &c.BaseUnitPrice, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func collectComponents(rows pgx.Rows) ([]catalog.Component, error) {
	defer rows.Close()
	out := make([]catalog.Component, 0)
	for rows.Next() {
		c, err := scanComponent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const bundleColumns = `id, COALESCE(category, ''), COALESCE(rating, 0), base_price, total_price, price, device_name, is_active, created_at, updated_at`

func scanBundle(row pgx.Row) (catalog.CatalogBundle, error) {
	var (
		b      catalog.CatalogBundle
		legacy decimal.NullDecimal
	)
	err := row.Scan(&b.ID, &b.Category, &b.Rating, &b.BasePrice, &b.TotalPrice, &legacy, &b.DeviceName, &b.IsActive, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return catalog.CatalogBundle{}, err
	}
	if legacy.Valid {
		v := legacy.Decimal
		b.LegacyPrice = &v
	}
	return b, nil
}

func queryBundles(ctx context.Context, q DBTX, sql string, args ...any) ([]catalog.CatalogBundle, error) {
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]catalog.CatalogBundle, 0)
	for rows.Next() {
		b, err := scanBundle(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// attachLines loads the lines of every bundle in one round trip.
func attachLines(ctx context.Context, q DBTX, bundles []catalog.CatalogBundle) error {
	if len(bundles) == 0 {
		return nil
	}
	ids := make([]string, len(bundles))
	index := make(map[string]int, len(bundles))
	for i, b := range bundles {
		ids[i] = b.ID
		index[b.ID] = i
		bundles[i].Lines = []catalog.BundleLine{}
	}
	rows, err := q.Query(ctx, `
		SELECT id, bundle_id, component_id, quantity, unit_price_override, line_total, position
		FROM bundle_lines
		WHERE bundle_id = ANY($1::uuid[])
		ORDER BY bundle_id, position, id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			line     catalog.BundleLine
			override decimal.NullDecimal
		)
		if err := rows.Scan(&line.ID, &line.BundleID, &line.ComponentID, &line.Quantity, &override, &line.LineTotal, &line.Position); err != nil {
			return err
		}
		if override.Valid {
			v := override.Decimal
			line.UnitPriceOverride = &v
		}
		i := index[line.BundleID]
		bundles[i].Lines = append(bundles[i].Lines, line)
	}
	return rows.Err()
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// InTx implements catalog.Store.
// Transactions that lose a deadlock or serialization check are rerun from
// the start, so fn must not carry state between attempts.
func (p *Postgres) InTx(ctx context.Context, fn func(tx catalog.Tx) error) error {
	var err error
	for attempt := 1; attempt <= txAttempts; attempt++ {
		err = pgx.BeginFunc(ctx, p.Pool, func(tx pgx.Tx) error {
			return fn(&pgTx{q: tx})
		})
		if !retryableTx(err) || ctx.Err() != nil {
			return err
		}
	}
	return err
}

func retryableTx(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40P01" || pgErr.Code == "40001"
}

// ListComponents implements catalog.Store.
func (p *Postgres) ListComponents(ctx context.Context) ([]catalog.Component, error) {
	rows, err := p.Pool.Query(ctx, `SELECT `+componentColumns+` FROM components ORDER BY name, brand_name, model`)
	if err != nil {
		return nil, err
	}
	return collectComponents(rows)
}

// SearchComponents implements catalog.Store.
func (p *Postgres) SearchComponents(ctx context.Context, query string, limit int) ([]catalog.Component, error) {
	pattern := "%" + escapeLike(strings.TrimSpace(query)) + "%"
	rows, err := p.Pool.Query(ctx, `
		SELECT `+componentColumns+`
		FROM components
		WHERE name ILIKE $1 OR brand_name ILIKE $1 OR model ILIKE $1
		ORDER BY name, brand_name, model
		LIMIT $2`, pattern, limit)
	if err != nil {
		return nil, err
	}
	return collectComponents(rows)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// GetBundle implements catalog.Store.
func (p *Postgres) GetBundle(ctx context.Context, id string) (catalog.CatalogBundle, error) {
	b, err := scanBundle(p.Pool.QueryRow(ctx, `SELECT `+bundleColumns+` FROM bundles WHERE id = $1`, id))
	if err != nil {
		return catalog.CatalogBundle{}, mapErr(err)
	}
	out := []catalog.CatalogBundle{b}
	if err := attachLines(ctx, p.Pool, out); err != nil {
		return catalog.CatalogBundle{}, err
	}
	return out[0], nil
}

// ListBundles implements catalog.Store.
func (p *Postgres) ListBundles(ctx context.Context, filter catalog.BundleFilter) ([]catalog.CatalogBundle, error) {
	var (
		where []string
		args  []any
	)
	if !filter.IncludeInactive {
		where = append(where, "is_active")
	}
	if filter.Category != "" {
		args = append(args, filter.Category)
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.Rating != nil {
		args = append(args, *filter.Rating)
		where = append(where, fmt.Sprintf("rating = $%d", len(args)))
	}
	sql := `SELECT ` + bundleColumns + ` FROM bundles`
	if len(where) > 0 {
		sql += " WHERE " + strings.Join(where, " AND ")
	}
	sql += " ORDER BY category, rating, id"
	out, err := queryBundles(ctx, p.Pool, sql, args...)
	if err != nil {
		return nil, err
	}
	if err := attachLines(ctx, p.Pool, out); err != nil {
		return nil, err
	}
	return out, nil
}

type pgTx struct {
	q DBTX
}

func (t *pgTx) LockComponent(ctx context.Context, id string) (catalog.Component, error) {
	c, err := scanComponent(t.q.QueryRow(ctx, `SELECT `+componentColumns+` FROM components WHERE id = $1 FOR UPDATE`, id))
	return c, mapErr(err)
}

func (t *pgTx) ShareComponents(ctx context.Context, ids []string) (map[string]catalog.Component, error) {
	out := make(map[string]catalog.Component, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := t.q.Query(ctx, `SELECT `+componentColumns+` FROM components WHERE id = ANY($1::uuid[]) ORDER BY id FOR SHARE`, ids)
	if err != nil {
		return nil, err
	}
	list, err := collectComponents(rows)
	if err != nil {
		return nil, err
	}
	for _, c := range list {
		out[c.ID] = c
	}
	return out, nil
}

func (t *pgTx) InsertComponent(ctx context.Context, c catalog.Component) (catalog.Component, error) {
	created, err := scanComponent(t.q.QueryRow(ctx, `
		INSERT INTO components (id, name, brand_name, model, base_unit_price, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+componentColumns,
		c.ID, c.Name, c.Brand, c.Model, c.BaseUnitPrice, c.IsActive, c.CreatedAt, c.UpdatedAt))
	return created, mapErr(err)
}

func (t *pgTx) UpdateComponent(ctx context.Context, c catalog.Component) (catalog.Component, error) {
	updated, err := scanComponent(t.q.QueryRow(ctx, `
		UPDATE components
		SET name = $2, brand_name = $3, model = $4, base_unit_price = $5, is_active = $6, updated_at = $7
		WHERE id = $1
		RETURNING `+componentColumns,
		c.ID, c.Name, c.Brand, c.Model, c.BaseUnitPrice, c.IsActive, c.UpdatedAt))
	return updated, mapErr(err)
}

func (t *pgTx) DeleteComponent(ctx context.Context, id string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM components WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrRecordNotFound
	}
	return nil
}

func (t *pgTx) BundleIDsUsingComponent(ctx context.Context, componentID string) ([]string, error) {
	rows, err := t.q.Query(ctx, `
		SELECT DISTINCT bundle_id::text
		FROM bundle_lines
		WHERE component_id = $1
		ORDER BY 1`, componentID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (t *pgTx) LockBundle(ctx context.Context, id string) (catalog.CatalogBundle, error) {
	b, err := scanBundle(t.q.QueryRow(ctx, `SELECT `+bundleColumns+` FROM bundles WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return catalog.CatalogBundle{}, mapErr(err)
	}
	out := []catalog.CatalogBundle{b}
	if err := attachLines(ctx, t.q, out); err != nil {
		return catalog.CatalogBundle{}, err
	}
	return out[0], nil
}

func (t *pgTx) BundleIDForLine(ctx context.Context, lineID string) (string, error) {
	var id string
	err := t.q.QueryRow(ctx, `SELECT bundle_id::text FROM bundle_lines WHERE id = $1`, lineID).Scan(&id)
	return id, mapErr(err)
}

func (t *pgTx) InsertBundle(ctx context.Context, b catalog.CatalogBundle) (catalog.CatalogBundle, error) {
	_, err := t.q.Exec(ctx, `
		INSERT INTO bundles (id, category, rating, base_price, total_price, price, device_name, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		b.ID, b.Category, b.Rating, b.BasePrice, b.TotalPrice, nullDecimal(b.LegacyPrice), b.DeviceName, b.IsActive, b.CreatedAt, b.UpdatedAt)
	if err != nil {
		return catalog.CatalogBundle{}, mapErr(err)
	}
	if err := t.insertLines(ctx, b); err != nil {
		return catalog.CatalogBundle{}, err
	}
	return t.LockBundle(ctx, b.ID)
}

func (t *pgTx) SaveBundle(ctx context.Context, b catalog.CatalogBundle) (catalog.CatalogBundle, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE bundles
		SET category = $2, rating = $3, base_price = $4, total_price = $5, device_name = $6, is_active = $7, updated_at = $8
		WHERE id = $1`,
		b.ID, b.Category, b.Rating, b.BasePrice, b.TotalPrice, b.DeviceName, b.IsActive, b.UpdatedAt)
	if err != nil {
		return catalog.CatalogBundle{}, mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return catalog.CatalogBundle{}, common.ErrRecordNotFound
	}
	if _, err := t.q.Exec(ctx, `DELETE FROM bundle_lines WHERE bundle_id = $1`, b.ID); err != nil {
		return catalog.CatalogBundle{}, mapErr(err)
	}
	if err := t.insertLines(ctx, b); err != nil {
		return catalog.CatalogBundle{}, err
	}
	return t.LockBundle(ctx, b.ID)
}

func (t *pgTx) insertLines(ctx context.Context, b catalog.CatalogBundle) error {
	if len(b.Lines) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, line := range b.Lines {
		batch.Queue(`
			INSERT INTO bundle_lines (id, bundle_id, component_id, quantity, unit_price_override, line_total, position)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			line.ID, b.ID, line.ComponentID, line.Quantity, nullDecimal(line.UnitPriceOverride), line.LineTotal, line.Position)
	}
	return sendBatch(ctx, t.q, batch)
}

// sendBatch runs every queued statement and reports the first failure.
func sendBatch(ctx context.Context, q DBTX, batch *pgx.Batch) error {
	results := q.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return mapErr(err)
		}
	}
	return mapErr(results.Close())
}

func (t *pgTx) DeleteBundle(ctx context.Context, id string) error {
	tag, err := t.q.Exec(ctx, `DELETE FROM bundles WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrRecordNotFound
	}
	return nil
}

// BillNumberExists implements billing.NumberProbe.
func (p *Postgres) BillNumberExists(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := p.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM bills WHERE bill_number = $1)`, number).Scan(&exists)
	return exists, err
}

// LoadBundles implements billing.Store. Lines are not needed to sell a
// bundle, so only headers are read.
func (p *Postgres) LoadBundles(ctx context.Context, ids []string) (map[string]catalog.CatalogBundle, error) {
	out := make(map[string]catalog.CatalogBundle, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := queryBundles(ctx, p.Pool, `SELECT `+bundleColumns+` FROM bundles WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, err
	}
	for _, b := range rows {
		out[b.ID] = b
	}
	return out, nil
}

// InsertBill implements billing.Store.
func (p *Postgres) InsertBill(ctx context.Context, b billing.Bill) error {
	return pgx.BeginFunc(ctx, p.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO bills (id, bill_number, user_id, subtotal_amount, discount_amount, total_amount, notes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			b.ID, b.BillNumber, b.UserID, b.Subtotal, b.Discount, b.Total, b.Notes, b.CreatedAt)
		if err != nil {
			return mapErr(err)
		}
		if len(b.Items) == 0 {
			return nil
		}
		batch := &pgx.Batch{}
		for _, item := range b.Items {
			batch.Queue(`
				INSERT INTO bill_items (id, bill_id, product_id, position, quantity, unit_price, line_total)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				item.ID(), b.ID, item.ProductID(), item.Position(), item.Quantity(), item.UnitPrice(), item.LineTotal())
		}
		return missingProduct(sendBatch(ctx, tx, batch))
	})
}

// missingProduct turns a bill item rejected by the bundle foreign key into
// billing.MissingProductError.
func missingProduct(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23503" && pgErr.ConstraintName == billItemsBundleFK {
		return &billing.MissingProductError{ProductID: keyValue(pgErr.Detail)}
	}
	return err
}

const billColumns = `id, bill_number, user_id::text, subtotal_amount, discount_amount, total_amount, notes, created_at`

func scanBill(row pgx.Row) (billing.Bill, error) {
	var b billing.Bill
	err := row.Scan(&b.ID, &b.BillNumber, &b.UserID, &b.Subtotal, &b.Discount, &b.Total, &b.Notes, &b.CreatedAt)
	return b, err
}

// attachItems loads the frozen items of every bill, ordered by position.
func (p *Postgres) attachItems(ctx context.Context, bills []billing.Bill) error {
	if len(bills) == 0 {
		return nil
	}
	ids := make([]string, len(bills))
	index := make(map[string]int, len(bills))
	for i, b := range bills {
		ids[i] = b.ID
		index[b.ID] = i
	}
	rows, err := p.Pool.Query(ctx, `
		SELECT id, bill_id, product_id, position, quantity, unit_price, line_total
		FROM bill_items
		WHERE bill_id = ANY($1::uuid[])
		ORDER BY bill_id, position`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id, billID, productID string
			position, quantity    int
			unit, total           decimal.Decimal
		)
		if err := rows.Scan(&id, &billID, &productID, &position, &quantity, &unit, &total); err != nil {
			return err
		}
		i := index[billID]
		bills[i].Items = append(bills[i].Items, billing.NewSoldLineSnapshot(id, productID, position, quantity, unit, total))
	}
	return rows.Err()
}

// ListBillsByUser implements billing.Store.
func (p *Postgres) ListBillsByUser(ctx context.Context, userID string) ([]billing.Bill, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return []billing.Bill{}, nil
	}
	rows, err := p.Pool.Query(ctx, `SELECT `+billColumns+` FROM bills WHERE user_id = $1 ORDER BY created_at DESC, bill_number DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]billing.Bill, 0)
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := p.attachItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBill implements billing.Store.
func (p *Postgres) GetBill(ctx context.Context, id string) (billing.BillDetail, error) {
	var (
		detail billing.BillDetail
		email  *string
	)
	err := p.Pool.QueryRow(ctx, `
		SELECT b.id, b.bill_number, b.user_id::text, b.subtotal_amount, b.discount_amount, b.total_amount, b.notes, b.created_at, u.email
		FROM bills b
		LEFT JOIN users u ON u.id = b.user_id
		WHERE b.id = $1`, id).Scan(
		&detail.ID, &detail.BillNumber, &detail.UserID, &detail.Subtotal, &detail.Discount, &detail.Total, &detail.Notes, &detail.CreatedAt, &email)
	if err != nil {
		return billing.BillDetail{}, mapErr(err)
	}
	if email != nil {
		detail.OwnerEmail = *email
	}
	bills := []billing.Bill{detail.Bill}
	if err := p.attachItems(ctx, bills); err != nil {
		return billing.BillDetail{}, err
	}
	detail.Bill = bills[0]

	detail.Products = map[string]catalog.Label{}
	rows, err := p.Pool.Query(ctx, `
		SELECT DISTINCT p.id::text, COALESCE(p.category, ''), COALESCE(p.rating, 0), p.device_name
		FROM bill_items i
		JOIN bundles p ON p.id = i.product_id
		WHERE i.bill_id = $1`, id)
	if err != nil {
		return billing.BillDetail{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			productID string
			label     catalog.Label
		)
		if err := rows.Scan(&productID, &label.Category, &label.Rating, &label.DeviceName); err != nil {
			return billing.BillDetail{}, err
		}
		detail.Products[productID] = label
	}
	return detail, rows.Err()
}

// ListAllBills implements billing.Store.
func (p *Postgres) ListAllBills(ctx context.Context, page common.Pagination) ([]billing.BillListing, int, error) {
	var total int
	if err := p.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM bills`).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := page.PerPage
	if limit <= 0 {
		limit = 20
	}
	rows, err := p.Pool.Query(ctx, `
		SELECT b.id, b.bill_number, b.user_id::text, COALESCE(u.email, ''), b.total_amount, b.created_at
		FROM bills b
		LEFT JOIN users u ON u.id = b.user_id
		ORDER BY b.created_at DESC, b.bill_number DESC
		LIMIT $1 OFFSET $2`, limit, page.Offset())
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	out := make([]billing.BillListing, 0)
	for rows.Next() {
		var l billing.BillListing
		if err := rows.Scan(&l.ID, &l.BillNumber, &l.UserID, &l.UserEmail, &l.Total, &l.CreatedAt); err != nil {
			return nil, 0, err
		}
		out = append(out, l)
	}
	return out, total, rows.Err()
}

// DeleteBill implements billing.Store. Items cascade.
func (p *Postgres) DeleteBill(ctx context.Context, id string) error {
	tag, err := p.Pool.Exec(ctx, `DELETE FROM bills WHERE id = $1`, id)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return common.ErrRecordNotFound
	}
	return nil
}

// InsertDomainEvent implements events.EventStore.
func (p *Postgres) InsertDomainEvent(ctx context.Context, ev events.Event) (events.Event, error) {
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO domain_events (id, topic, aggregate_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.Topic, ev.AggregateID, []byte(ev.Payload), ev.OccurredAt)
	if err != nil {
		return events.Event{}, mapErr(err)
	}
	return ev, nil
}

// InsertAuditLog implements audit.Store.
func (p *Postgres) InsertAuditLog(ctx context.Context, e audit.Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var metadata []byte
	if len(e.Metadata) > 0 {
		metadata = e.Metadata
	}
	_, err := p.Pool.Exec(ctx, `
		INSERT INTO audit_logs (id, actor_kind, actor_user_id, actor_role, action, resource_type, resource_id,
			method, path, route, status, ip, user_agent, request_id, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		e.ID, e.ActorKind, e.ActorUserID, e.ActorRole, e.Action, e.ResourceType, e.ResourceID,
		e.Method, e.Path, e.Route, e.Status, e.IP, e.UserAgent, e.RequestID, metadata, e.CreatedAt)
	return mapErr(err)
}

// ListAuditLogs implements audit.Store, newest first.
func (p *Postgres) ListAuditLogs(ctx context.Context, limit, offset int) ([]audit.Entry, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT id, actor_kind, actor_user_id::text, actor_role, action, resource_type, resource_id,
			method, path, route, status, ip, user_agent, request_id, metadata, created_at
		FROM audit_logs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]audit.Entry, 0)
	for rows.Next() {
		var (
			e        audit.Entry
			metadata []byte
		)
		if err := rows.Scan(&e.ID, &e.ActorKind, &e.ActorUserID, &e.ActorRole, &e.Action, &e.ResourceType, &e.ResourceID,
			&e.Method, &e.Path, &e.Route, &e.Status, &e.IP, &e.UserAgent, &e.RequestID, &metadata, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Metadata = metadata
		out = append(out, e)
	}
	return out, rows.Err()
}

// SalesByDay implements analytics.Querier.
func (p *Postgres) SalesByDay(ctx context.Context, from, to time.Time) ([]analytics.DailySales, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT date_trunc('day', created_at AT TIME ZONE 'UTC') AS day,
			COUNT(*), SUM(subtotal_amount), SUM(discount_amount), SUM(total_amount)
		FROM bills
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY 1
		ORDER BY 1`, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]analytics.DailySales, 0)
	for rows.Next() {
		var row analytics.DailySales
		if err := rows.Scan(&row.Day, &row.Bills, &row.Subtotal, &row.Discounts, &row.Revenue); err != nil {
			return nil, err
		}
		row.Day = row.Day.UTC()
		out = append(out, row)
	}
	return out, rows.Err()
}

// TopBundles implements analytics.Querier.
func (p *Postgres) TopBundles(ctx context.Context, from, to time.Time, limit, offset int) ([]analytics.BundleSales, error) {
	rows, err := p.Pool.Query(ctx, `
		SELECT i.product_id::text, COALESCE(p.category, ''), COALESCE(p.rating, 0), p.device_name,
			SUM(i.quantity), SUM(i.line_total)
		FROM bill_items i
		JOIN bills b ON b.id = i.bill_id
		LEFT JOIN bundles p ON p.id = i.product_id
		WHERE b.created_at >= $1 AND b.created_at < $2
		GROUP BY i.product_id, p.category, p.rating, p.device_name
		ORDER BY 5 DESC, 1
		LIMIT $3 OFFSET $4`, from, to, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]analytics.BundleSales, 0)
	for rows.Next() {
		var row analytics.BundleSales
		if err := rows.Scan(&row.ProductID, &row.Label.Category, &row.Label.Rating, &row.Label.DeviceName, &row.Quantity, &row.Revenue); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

var (
	_ catalog.Store     = (*Postgres)(nil)
	_ catalog.Tx        = (*pgTx)(nil)
	_ billing.Store     = (*Postgres)(nil)
	_ audit.Store       = (*Postgres)(nil)
	_ events.EventStore = (*Postgres)(nil)
	_ analytics.Querier = (*Postgres)(nil)
	_ DBTX              = (*pgxpool.Pool)(nil)
)
