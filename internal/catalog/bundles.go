package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billswift/internal/common"
	"github.com/noah-isme/backend-billswift/internal/events"
	"github.com/noah-isme/backend-billswift/internal/obs"
	"github.com/noah-isme/backend-billswift/internal/pricing"
)

// maxRating is the largest rating a NUMERIC(10,2) column can hold.
var maxRating = decimal.New(9999999999, -2)

// LineInput describes a component line supplied by the caller.
type LineInput struct {
	ComponentID       string
	Quantity          int
	UnitPriceOverride *decimal.Decimal
}

// BundleInput describes a new bundle.
type BundleInput struct {
	Category   string
	Rating     decimal.Decimal
	DeviceName *string
	IsActive   *bool
	Lines      []LineInput
}

// BundlePatch describes a header update. Prices are never accepted here.
type BundlePatch struct {
	Category   *string
	Rating     *decimal.Decimal
	DeviceName *string
	IsActive   *bool
}

// LinePatch describes a line update. ClearOverride drops an existing override
// so the line follows the component's base price again.
type LinePatch struct {
	Quantity          *int
	UnitPriceOverride *decimal.Decimal
	ClearOverride     bool
}

// Mutation is a single structural change to a locked bundle. It must not
// touch derived prices; mutate recomputes them after it returns.
type Mutation func(ctx context.Context, tx Tx, b *CatalogBundle) error

// GetBundle returns a bundle with its lines. Inactive bundles are hidden
// unless includeInactive is set.
func (s *Service) GetBundle(ctx context.Context, id string, includeInactive bool) (CatalogBundle, error) {
	if err := checkID("product", id); err != nil {
		return CatalogBundle{}, err
	}
	var gen string
	if !includeInactive {
		if cached, ok, err := s.cache.Bundle(ctx, id); err == nil && ok {
			return cached, nil
		}
		gen = s.generation(ctx)
	}
	b, err := s.store.GetBundle(ctx, id)
	if err != nil {
		return CatalogBundle{}, storeErr(err, "product", id)
	}
	if !includeInactive && !b.IsActive {
		return CatalogBundle{}, common.NotFoundError("product", id)
	}
	if !includeInactive {
		if err := s.cache.PutBundle(ctx, gen, b); err != nil {
			s.logger.Warn().Err(err).Str("bundle_id", id).Msg("catalog cache write failed")
		}
	}
	return b, nil
}

// generation reads the cache generation; on failure the empty token makes
// the following write-back a no-op.
func (s *Service) generation(ctx context.Context) string {
	gen, err := s.cache.Generation(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("catalog cache generation read failed")
		return ""
	}
	return gen
}

// ListBundles returns bundles matching filter.
func (s *Service) ListBundles(ctx context.Context, filter BundleFilter) ([]CatalogBundle, error) {
	if filter.Category != "" && !ValidCategory(filter.Category) {
		return nil, common.ValidationError("category must be one of %s, %s, %s", CategoryDOL, CategoryRDOL, CategorySD)
	}
	var gen string
	if filter.IsDefault() {
		if cached, ok, err := s.cache.ActiveBundles(ctx); err == nil && ok {
			return cached, nil
		}
		gen = s.generation(ctx)
	}
	rows, err := s.store.ListBundles(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("list bundles: %w", err)
	}
	if filter.IsDefault() {
		if err := s.cache.PutActiveBundles(ctx, gen, rows); err != nil {
			s.logger.Warn().Err(err).Msg("catalog cache write failed")
		}
	}
	return rows, nil
}

// CreateBundle validates the header and lines, prices them and persists the
// bundle in one transaction. A bundle needs at least one line.
func (s *Service) CreateBundle(ctx context.Context, in BundleInput) (CatalogBundle, error) {
	if err := validateHeader(in.Category, in.Rating); err != nil {
		return CatalogBundle{}, err
	}
	if len(in.Lines) == 0 {
		return CatalogBundle{}, common.ValidationError("a product needs at least one component line")
	}
	now := s.now().UTC()
	b := CatalogBundle{
		ID:         uuid.NewString(),
		Category:   in.Category,
		Rating:     in.Rating,
		DeviceName: trimmed(in.DeviceName),
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if in.IsActive != nil {
		b.IsActive = *in.IsActive
	}
	for _, li := range in.Lines {
		line, err := newLine(b.ID, li)
		if err != nil {
			return CatalogBundle{}, err
		}
		line.Position = len(b.Lines)
		b.Lines = append(b.Lines, line)
	}

	var created CatalogBundle
	err := s.store.InTx(ctx, func(tx Tx) error {
		if err := s.reprice(ctx, tx, &b, "create"); err != nil {
			return err
		}
		var err error
		created, err = tx.InsertBundle(ctx, b)
		if err != nil {
			return fmt.Errorf("insert bundle: %w", err)
		}
		return nil
	})
	if err != nil {
		return CatalogBundle{}, err
	}
	s.afterBundleChange(ctx, "create", created)
	return created, nil
}

// UpdateBundle changes header attributes and re-derives prices.
func (s *Service) UpdateBundle(ctx context.Context, id string, patch BundlePatch) (CatalogBundle, error) {
	return s.mutate(ctx, "update_bundle", byBundleID(id), func(_ context.Context, _ Tx, b *CatalogBundle) error {
		category, rating := b.Category, b.Rating
		if patch.Category != nil {
			category = strings.TrimSpace(*patch.Category)
		}
		if patch.Rating != nil {
			rating = *patch.Rating
		}
		if err := validateHeader(category, rating); err != nil {
			return err
		}
		b.Category, b.Rating = category, rating
		if patch.DeviceName != nil {
			b.DeviceName = trimmed(patch.DeviceName)
		}
		if patch.IsActive != nil {
			b.IsActive = *patch.IsActive
		}
		return nil
	})
}

// AddBundleLine appends a component line to a bundle.
func (s *Service) AddBundleLine(ctx context.Context, bundleID string, in LineInput) (CatalogBundle, error) {
	line, err := newLine(bundleID, in)
	if err != nil {
		return CatalogBundle{}, err
	}
	return s.mutate(ctx, "add_line", byBundleID(bundleID), func(_ context.Context, _ Tx, b *CatalogBundle) error {
		line.Position = nextPosition(b.Lines)
		b.Lines = append(b.Lines, line)
		return nil
	})
}

// UpdateBundleLine edits a line's quantity or override.
func (s *Service) UpdateBundleLine(ctx context.Context, lineID string, patch LinePatch) (CatalogBundle, error) {
	if patch.Quantity != nil {
		if err := pricing.ValidateQuantity("quantity", *patch.Quantity); err != nil {
			return CatalogBundle{}, err
		}
	}
	if patch.UnitPriceOverride != nil {
		if err := pricing.ValidatePrice("unit_price_override", *patch.UnitPriceOverride); err != nil {
			return CatalogBundle{}, err
		}
	}
	return s.mutate(ctx, "update_line", byLineID(lineID), func(_ context.Context, _ Tx, b *CatalogBundle) error {
		idx := lineIndex(b.Lines, lineID)
		if idx < 0 {
			return common.NotFoundError("bundle line", lineID)
		}
		line := &b.Lines[idx]
		if patch.Quantity != nil {
			line.Quantity = *patch.Quantity
		}
		if patch.ClearOverride {
			line.UnitPriceOverride = nil
		}
		if patch.UnitPriceOverride != nil {
			v := *patch.UnitPriceOverride
			line.UnitPriceOverride = &v
		}
		return nil
	})
}

// DeleteBundleLine removes a line. Removing the last line is rejected since a
// bundle without lines has no price.
func (s *Service) DeleteBundleLine(ctx context.Context, lineID string) (CatalogBundle, error) {
	return s.mutate(ctx, "delete_line", byLineID(lineID), func(_ context.Context, _ Tx, b *CatalogBundle) error {
		idx := lineIndex(b.Lines, lineID)
		if idx < 0 {
			return common.NotFoundError("bundle line", lineID)
		}
		if len(b.Lines) == 1 {
			return common.ValidationError("cannot remove the last component line of a product")
		}
		b.Lines = append(b.Lines[:idx:idx], b.Lines[idx+1:]...)
		return nil
	})
}

// DeleteBundle removes a bundle that no bill references.
func (s *Service) DeleteBundle(ctx context.Context, id string) error {
	if err := checkID("product", id); err != nil {
		return err
	}
	err := s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.LockBundle(ctx, id); err != nil {
			return storeErr(err, "product", id)
		}
		if err := tx.DeleteBundle(ctx, id); err != nil {
			if errors.Is(err, common.ErrReferenced) {
				return common.ReferentialIntegrityError("product", id, "bill items")
			}
			return storeErr(err, "product", id)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, id)
	return nil
}

type targetFunc func(ctx context.Context, tx Tx) (string, error)

func byBundleID(id string) targetFunc {
	return func(context.Context, Tx) (string, error) {
		if err := checkID("product", id); err != nil {
			return "", err
		}
		return id, nil
	}
}

func byLineID(lineID string) targetFunc {
	return func(ctx context.Context, tx Tx) (string, error) {
		if err := checkID("bundle line", lineID); err != nil {
			return "", err
		}
		id, err := tx.BundleIDForLine(ctx, lineID)
		if err != nil {
			return "", storeErr(err, "bundle line", lineID)
		}
		return id, nil
	}
}

// mutate is the single command boundary for bundle changes: lock, apply,
// recompute, persist and commit, then invalidate caches and publish.
func (s *Service) mutate(ctx context.Context, trigger string, target targetFunc, m Mutation) (CatalogBundle, error) {
	var saved CatalogBundle
	err := s.store.InTx(ctx, func(tx Tx) error {
		id, err := target(ctx, tx)
		if err != nil {
			return err
		}
		b, err := tx.LockBundle(ctx, id)
		if err != nil {
			return storeErr(err, "product", id)
		}
		if err := m(ctx, tx, &b); err != nil {
			return err
		}
		if len(b.Lines) == 0 {
			return common.ValidationError("a product needs at least one component line")
		}
		if err := s.reprice(ctx, tx, &b, trigger); err != nil {
			return err
		}
		b.UpdatedAt = s.now().UTC()
		saved, err = tx.SaveBundle(ctx, b)
		if err != nil {
			return fmt.Errorf("save bundle %s: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return CatalogBundle{}, err
	}
	s.afterBundleChange(ctx, trigger, saved)
	return saved, nil
}

// reprice resolves the live components of every line and writes the derived
// prices onto b.
func (s *Service) reprice(ctx context.Context, tx Tx, b *CatalogBundle, trigger string) error {
	ids := make([]string, 0, len(b.Lines))
	for _, line := range b.Lines {
		ids = append(ids, line.ComponentID)
	}
	components, err := tx.ShareComponents(ctx, ids)
	if err != nil {
		return fmt.Errorf("load components: %w", err)
	}
	lines := make([]pricing.Line, len(b.Lines))
	for i, line := range b.Lines {
		lines[i] = pricing.Line{
			ComponentID: line.ComponentID,
			Quantity:    line.Quantity,
			Override:    line.UnitPriceOverride,
		}
		if c, ok := components[line.ComponentID]; ok {
			lines[i].Component = &pricing.ComponentRef{ID: c.ID, BaseUnitPrice: c.BaseUnitPrice, Active: c.IsActive}
		}
	}
	priced, err := s.engine.Recompute(lines)
	if err != nil {
		return err
	}
	for i := range b.Lines {
		b.Lines[i].LineTotal = priced.Lines[i].LineTotal
	}
	b.BasePrice = priced.BasePrice
	b.TotalPrice = priced.TotalPrice
	if obs.BundleRecomputeTotal != nil {
		obs.BundleRecomputeTotal.WithLabelValues(trigger).Inc()
	}
	return nil
}

func (s *Service) afterBundleChange(ctx context.Context, trigger string, bundles ...CatalogBundle) {
	for _, b := range bundles {
		s.invalidate(ctx, b.ID)
		if s.events == nil {
			continue
		}
		payload := map[string]any{
			"bundle_id":   b.ID,
			"trigger":     trigger,
			"base_price":  pricing.Format(b.BasePrice),
			"total_price": pricing.Format(b.TotalPrice),
		}
		if _, err := s.events.Emit(ctx, events.TopicBundleRepriced, b.ID, payload); err != nil {
			s.logger.Warn().Err(err).Str("bundle_id", b.ID).Msg("emit bundle.repriced failed")
		}
	}
}

func (s *Service) invalidate(ctx context.Context, bundleID string) {
	if err := s.cache.Invalidate(ctx, bundleID); err != nil {
		s.logger.Warn().Err(err).Str("bundle_id", bundleID).Msg("catalog cache invalidation failed")
	}
}

func newLine(bundleID string, in LineInput) (BundleLine, error) {
	componentID := strings.TrimSpace(in.ComponentID)
	if componentID == "" {
		return BundleLine{}, common.ValidationError("component_id is required")
	}
	if err := checkID("component", componentID); err != nil {
		return BundleLine{}, err
	}
	if err := pricing.ValidateQuantity("quantity for component "+componentID, in.Quantity); err != nil {
		return BundleLine{}, err
	}
	line := BundleLine{
		ID:          uuid.NewString(),
		BundleID:    bundleID,
		ComponentID: componentID,
		Quantity:    in.Quantity,
	}
	if in.UnitPriceOverride != nil {
		if err := pricing.ValidatePrice("unit_price_override", *in.UnitPriceOverride); err != nil {
			return BundleLine{}, err
		}
		v := *in.UnitPriceOverride
		line.UnitPriceOverride = &v
	}
	return line, nil
}

func validateHeader(category string, rating decimal.Decimal) error {
	if !ValidCategory(category) {
		return common.ValidationError("category must be one of %s, %s, %s", CategoryDOL, CategoryRDOL, CategorySD)
	}
	if !rating.IsPositive() {
		return common.ValidationError("rating must be greater than zero")
	}
	if rating.GreaterThan(maxRating) {
		return common.ValidationError("rating must not exceed %s", maxRating.StringFixed(2))
	}
	return nil
}

func lineIndex(lines []BundleLine, id string) int {
	for i, line := range lines {
		if line.ID == id {
			return i
		}
	}
	return -1
}

func nextPosition(lines []BundleLine) int {
	next := 0
	for _, line := range lines {
		if line.Position >= next {
			next = line.Position + 1
		}
	}
	return next
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}
