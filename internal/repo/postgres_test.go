package repo_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billswift/internal/billing"
	"github.com/noah-isme/backend-billswift/internal/catalog"
	"github.com/noah-isme/backend-billswift/internal/common"
	"github.com/noah-isme/backend-billswift/internal/db"
	"github.com/noah-isme/backend-billswift/internal/repo"
)

func newPostgres(t *testing.T) *repo.Postgres {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	m, err := db.NewMigrator(url)
	require.NoError(t, err)
	require.NoError(t, db.Up(m))
	_, _ = m.Close()

	pool, err := pgxpool.New(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return repo.NewPostgres(pool)
}

func TestPostgresCatalogAndBills(t *testing.T) {
	store := newPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	userID := uuid.NewString()
	_, err := store.Pool.Exec(ctx, `INSERT INTO users (id, email, employee_code) VALUES ($1, $2, $3)`,
		userID, userID+"@example.com", userID[:8])
	require.NoError(t, err)

	comp := catalog.Component{
		ID: uuid.NewString(), Name: "Contactor " + userID[:8], Brand: "ABB", Model: "AF09",
		BaseUnitPrice: dec("50.00"), IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	override := dec("70.00")
	bundle := catalog.CatalogBundle{
		ID: uuid.NewString(), Category: catalog.CategoryRDOL, Rating: dec("7.5"),
		BasePrice: dec("170.00"), TotalPrice: dec("170.00"), IsActive: true, CreatedAt: now, UpdatedAt: now,
		Lines: []catalog.BundleLine{
			{ID: uuid.NewString(), ComponentID: comp.ID, Quantity: 2, LineTotal: dec("100.00"), Position: 0},
			{ID: uuid.NewString(), ComponentID: comp.ID, Quantity: 1, UnitPriceOverride: &override, LineTotal: dec("70.00"), Position: 1},
		},
	}
	err = store.InTx(ctx, func(tx catalog.Tx) error {
		if _, err := tx.InsertComponent(ctx, comp); err != nil {
			return err
		}
		_, err := tx.InsertBundle(ctx, bundle)
		return err
	})
	require.NoError(t, err)

	got, err := store.GetBundle(ctx, bundle.ID)
	require.NoError(t, err)
	require.Len(t, got.Lines, 2)
	require.NotNil(t, got.Lines[1].UnitPriceOverride)
	require.True(t, got.TotalPrice.Equal(dec("170.00")))

	err = store.InTx(ctx, func(tx catalog.Tx) error { return tx.DeleteComponent(ctx, comp.ID) })
	require.ErrorIs(t, err, common.ErrReferenced)

	number := "BS-IT-" + userID[:8]
	bill := sampleBill(userID, number, bundle.ID, now)
	require.NoError(t, store.InsertBill(ctx, bill))
	dup := sampleBill(userID, number, bundle.ID, now)
	require.ErrorIs(t, store.InsertBill(ctx, dup), billing.ErrDuplicateBillNumber)

	detail, err := store.GetBill(ctx, bill.ID)
	require.NoError(t, err)
	require.Equal(t, userID+"@example.com", detail.OwnerEmail)
	require.Equal(t, "RDOL 7.50 kW", detail.ProductName(bundle.ID))
	require.Len(t, detail.Items, 1)

	err = store.InTx(ctx, func(tx catalog.Tx) error { return tx.DeleteBundle(ctx, bundle.ID) })
	require.ErrorIs(t, err, common.ErrReferenced)

	require.NoError(t, store.DeleteBill(ctx, bill.ID))
	require.NoError(t, store.InTx(ctx, func(tx catalog.Tx) error { return tx.DeleteBundle(ctx, bundle.ID) }))

	err = store.InsertBill(ctx, sampleBill(userID, number+"-X", bundle.ID, now))
	var missing *billing.MissingProductError
	require.ErrorAs(t, err, &missing)
	require.Equal(t, bundle.ID, missing.ProductID)
}

func TestPostgresComponentLocksSerializeRepricing(t *testing.T) {
	store := newPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	comp := catalog.Component{
		ID: uuid.NewString(), Name: "Relay " + uuid.NewString()[:8], Brand: "Schneider", Model: "LRD",
		BaseUnitPrice: dec("30.00"), IsActive: true, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.InTx(ctx, func(tx catalog.Tx) error {
		_, err := tx.InsertComponent(ctx, comp)
		return err
	}))

	type step func(ctx context.Context, tx catalog.Tx) error
	lockComponent := func(ctx context.Context, tx catalog.Tx) error {
		_, err := tx.LockComponent(ctx, comp.ID)
		return err
	}
	shareComponent := func(ctx context.Context, tx catalog.Tx) error {
		_, err := tx.ShareComponents(ctx, []string{comp.ID})
		return err
	}

	cases := map[string]struct {
		hold, wait step
	}{
		"price change blocks repricing": {hold: lockComponent, wait: shareComponent},
		"repricing blocks price change": {hold: shareComponent, wait: lockComponent},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			held := make(chan struct{})
			release := make(chan struct{})
			done := make(chan error, 1)
			go func() {
				done <- store.InTx(ctx, func(tx catalog.Tx) error {
					if err := tc.hold(ctx, tx); err != nil {
						return err
					}
					close(held)
					<-release
					return nil
				})
			}()
			select {
			case <-held:
			case err := <-done:
				t.Fatalf("holder failed: %v", err)
			}

			waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
			defer cancel()
			err := store.InTx(waitCtx, func(tx catalog.Tx) error { return tc.wait(waitCtx, tx) })
			require.Error(t, err, "second transaction must wait for the row lock")

			close(release)
			require.NoError(t, <-done)
			require.NoError(t, store.InTx(ctx, func(tx catalog.Tx) error { return tc.wait(ctx, tx) }))
		})
	}
}
