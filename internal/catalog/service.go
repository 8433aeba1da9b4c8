package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billswift/internal/common"
	"github.com/noah-isme/backend-billswift/internal/events"
	"github.com/noah-isme/backend-billswift/internal/pricing"
)

const (
	minSearchLength = 3
	maxSearchResult = 20
)

// EventPublisher receives domain events after a mutation commits.
type EventPublisher interface {
	Emit(ctx context.Context, topic, aggregateID string, payload any) (events.Event, error)
}

// Service owns every catalog read and mutation. All bundle mutations go
// through mutate so derived prices are recomputed in the same transaction.
type Service struct {
	store  Store
	engine pricing.Engine
	cache  *Cache
	events EventPublisher
	logger zerolog.Logger
	now    func() time.Time
}

// ServiceConfig groups Service dependencies.
type ServiceConfig struct {
	Store  Store
	Engine pricing.Engine
	Cache  *Cache
	Events EventPublisher
	Logger zerolog.Logger
	Now    func() time.Time
}

// NewService constructs a Service instance.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("catalog: store is required")
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		store:  cfg.Store,
		engine: cfg.Engine,
		cache:  cfg.Cache,
		events: cfg.Events,
		logger: cfg.Logger,
		now:    now,
	}, nil
}

// ComponentInput describes a new component.
type ComponentInput struct {
	Name          string
	Brand         string
	Model         string
	BaseUnitPrice decimal.Decimal
	IsActive      *bool
}

// ComponentPatch describes a partial component update.
type ComponentPatch struct {
	Name          *string
	Brand         *string
	Model         *string
	BaseUnitPrice *decimal.Decimal
	IsActive      *bool
}

// ListComponents returns every component ordered by name.
func (s *Service) ListComponents(ctx context.Context) ([]Component, error) {
	rows, err := s.store.ListComponents(ctx)
	if err != nil {
		return nil, fmt.Errorf("list components: %w", err)
	}
	return rows, nil
}

// SearchComponents matches name, brand or model. Queries shorter than three
// characters return nothing.
func (s *Service) SearchComponents(ctx context.Context, query string) ([]Component, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < minSearchLength {
		return []Component{}, nil
	}
	rows, err := s.store.SearchComponents(ctx, query, maxSearchResult)
	if err != nil {
		return nil, fmt.Errorf("search components: %w", err)
	}
	return rows, nil
}

// CreateComponent validates and stores a component.
func (s *Service) CreateComponent(ctx context.Context, in ComponentInput) (Component, error) {
	c := Component{
		ID:            uuid.NewString(),
		Name:          strings.TrimSpace(in.Name),
		Brand:         strings.TrimSpace(in.Brand),
		Model:         strings.TrimSpace(in.Model),
		BaseUnitPrice: in.BaseUnitPrice,
		IsActive:      true,
	}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
	}
	if err := validateComponent(c); err != nil {
		return Component{}, err
	}
	now := s.now().UTC()
	c.CreatedAt, c.UpdatedAt = now, now

	var created Component
	err := s.store.InTx(ctx, func(tx Tx) error {
		var err error
		created, err = tx.InsertComponent(ctx, c)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrDuplicateKey) {
			return Component{}, duplicateComponent(c)
		}
		return Component{}, fmt.Errorf("create component: %w", err)
	}
	return created, nil
}

// UpdateComponent applies a patch. A price change reprices every bundle that
// references the component in the same transaction. Deactivating a component
// that is still referenced is rejected.
func (s *Service) UpdateComponent(ctx context.Context, id string, patch ComponentPatch) (Component, error) {
	if err := checkID("component", id); err != nil {
		return Component{}, err
	}
	var (
		updated  Component
		repriced []CatalogBundle
	)
	err := s.store.InTx(ctx, func(tx Tx) error {
		repriced = repriced[:0]
		current, err := tx.LockComponent(ctx, id)
		if err != nil {
			return storeErr(err, "component", id)
		}
		next := current
		if patch.Name != nil {
			next.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Brand != nil {
			next.Brand = strings.TrimSpace(*patch.Brand)
		}
		if patch.Model != nil {
			next.Model = strings.TrimSpace(*patch.Model)
		}
		if patch.BaseUnitPrice != nil {
			next.BaseUnitPrice = *patch.BaseUnitPrice
		}
		if patch.IsActive != nil {
			next.IsActive = *patch.IsActive
		}
		if err := validateComponent(next); err != nil {
			return err
		}
		users, err := tx.BundleIDsUsingComponent(ctx, id)
		if err != nil {
			return fmt.Errorf("bundles using component: %w", err)
		}
		if current.IsActive && !next.IsActive && len(users) > 0 {
			return common.ReferentialIntegrityError("component", id, "bundle lines")
		}
		next.UpdatedAt = s.now().UTC()
		updated, err = tx.UpdateComponent(ctx, next)
		if err != nil {
			if errors.Is(err, common.ErrDuplicateKey) {
				return duplicateComponent(next)
			}
			return storeErr(err, "component", id)
		}
		if next.BaseUnitPrice.Equal(current.BaseUnitPrice) {
			return nil
		}
		for _, bundleID := range users {
			b, err := tx.LockBundle(ctx, bundleID)
			if err != nil {
				return storeErr(err, "product", bundleID)
			}
			if err := s.reprice(ctx, tx, &b, "component_price"); err != nil {
				return err
			}
			saved, err := tx.SaveBundle(ctx, b)
			if err != nil {
				return fmt.Errorf("save bundle %s: %w", bundleID, err)
			}
			repriced = append(repriced, saved)
		}
		return nil
	})
	if err != nil {
		return Component{}, err
	}
	s.afterBundleChange(ctx, "component_price", repriced...)
	return updated, nil
}

// DeleteComponent removes an unreferenced component.
func (s *Service) DeleteComponent(ctx context.Context, id string) error {
	if err := checkID("component", id); err != nil {
		return err
	}
	return s.store.InTx(ctx, func(tx Tx) error {
		if _, err := tx.LockComponent(ctx, id); err != nil {
			return storeErr(err, "component", id)
		}
		users, err := tx.BundleIDsUsingComponent(ctx, id)
		if err != nil {
			return fmt.Errorf("bundles using component: %w", err)
		}
		if len(users) > 0 {
			return common.ReferentialIntegrityError("component", id, "bundle lines")
		}
		if err := tx.DeleteComponent(ctx, id); err != nil {
			if errors.Is(err, common.ErrReferenced) {
				return common.ReferentialIntegrityError("component", id, "bundle lines")
			}
			return storeErr(err, "component", id)
		}
		return nil
	})
}

func validateComponent(c Component) error {
	if c.Name == "" {
		return common.ValidationError("name is required")
	}
	if c.Brand == "" {
		return common.ValidationError("brand_name is required")
	}
	return pricing.ValidatePrice("base_unit_price", c.BaseUnitPrice)
}

func duplicateComponent(c Component) error {
	return common.ConflictError(fmt.Sprintf("component %q by %q model %q already exists", c.Name, c.Brand, c.Model)).
		WithDetails(map[string]string{"name": c.Name, "brand_name": c.Brand, "model": c.Model})
}

// checkID treats ids that cannot be UUIDs as unknown.
func checkID(kind, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return common.NotFoundError(kind, id)
	}
	return nil
}

func storeErr(err error, kind, id string) error {
	if errors.Is(err, common.ErrRecordNotFound) {
		return common.NotFoundError(kind, id)
	}
	if common.IsAppError(err) {
		return err
	}
	return fmt.Errorf("%s %s: %w", kind, id, err)
}
