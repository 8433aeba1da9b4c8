package catalog

import "context"

// Store is the persistence contract the catalog needs. Reads outside a
// transaction may observe any committed state.
type Store interface {
	InTx(ctx context.Context, fn func(tx Tx) error) error
	ListComponents(ctx context.Context) ([]Component, error)
	SearchComponents(ctx context.Context, query string, limit int) ([]Component, error)
	GetBundle(ctx context.Context, id string) (CatalogBundle, error)
	ListBundles(ctx context.Context, filter BundleFilter) ([]CatalogBundle, error)
}

// Tx is the transactional view used by every catalog mutation. Lookups
// return common.ErrRecordNotFound when the row does not exist, inserts return
// common.ErrDuplicateKey on unique violations and deletes return
// common.ErrReferenced when a restricting foreign key blocks them.
type Tx interface {
	// LockComponent loads a component and holds an exclusive row lock on it,
	// so no bundle can start pricing against it until the transaction ends.
	LockComponent(ctx context.Context, id string) (Component, error)
	// ShareComponents loads components under a shared row lock, blocking
	// concurrent price or active-flag changes while a bundle is repriced.
	ShareComponents(ctx context.Context, ids []string) (map[string]Component, error)
	InsertComponent(ctx context.Context, c Component) (Component, error)
	UpdateComponent(ctx context.Context, c Component) (Component, error)
	DeleteComponent(ctx context.Context, id string) error
	// BundleIDsUsingComponent returns the ids of bundles with a line on the
	// component, sorted ascending so callers lock in a stable order.
	BundleIDsUsingComponent(ctx context.Context, componentID string) ([]string, error)

	// LockBundle loads a bundle with its lines and holds a row lock on it
	// until the transaction ends.
	LockBundle(ctx context.Context, id string) (CatalogBundle, error)
	BundleIDForLine(ctx context.Context, lineID string) (string, error)
	InsertBundle(ctx context.Context, b CatalogBundle) (CatalogBundle, error)
	// SaveBundle persists the header, derived prices and the full line set.
	SaveBundle(ctx context.Context, b CatalogBundle) (CatalogBundle, error)
	DeleteBundle(ctx context.Context, id string) error
}
