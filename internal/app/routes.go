package app

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-billswift/internal/analytics"
	"github.com/noah-isme/backend-billswift/internal/audit"
	"github.com/noah-isme/backend-billswift/internal/auth"
	"github.com/noah-isme/backend-billswift/internal/billing"
	"github.com/noah-isme/backend-billswift/internal/catalog"
	"github.com/noah-isme/backend-billswift/internal/common"
)

// API groups the handlers and per-route middleware mounted under /api/v1.
type API struct {
	Auth      auth.Middleware
	Catalog   *catalog.Handler
	Billing   *billing.Handler
	Analytics *analytics.Handler
	AuditLogs audit.Handler
	Audit     audit.HTTPRecorder
	Idem      common.Idem
	// BillLimit throttles bill creation per principal. Nil disables it.
	BillLimit func(http.Handler) http.Handler
}

// Mount registers every /api/v1 route on r.
func (a API) Mount(r chi.Router) {
	r.Route("/api/v1", func(v chi.Router) {
		v.Use(a.Auth.Authenticate)

		v.Get("/bundles", a.Catalog.Bundles)
		v.Get("/bundles/{bundleID}", a.Catalog.Bundle)

		v.Group(func(u chi.Router) {
			u.Use(a.Auth.RequireAuth)
			create := []func(http.Handler) http.Handler{a.Idem.Middleware}
			if a.BillLimit != nil {
				create = append([]func(http.Handler) http.Handler{a.BillLimit}, create...)
			}
			u.With(create...).Post("/bills", a.Billing.Create)
			u.Get("/bills", a.Billing.Mine)
			u.Get("/bills/{billID}", a.Billing.Detail)
		})

		v.Route("/admin", func(admin chi.Router) {
			admin.Use(a.Auth.RequireAuth)
			admin.Use(auth.RequireRole(common.RoleAdmin))

			components := a.audited("component", "componentID")
			admin.Get("/components", a.Catalog.Components)
			admin.Get("/components/search", a.Catalog.SearchComponents)
			admin.With(components).Post("/components", a.Catalog.CreateComponent)
			admin.With(components).Put("/components/{componentID}", a.Catalog.UpdateComponent)
			admin.With(components).Delete("/components/{componentID}", a.Catalog.DeleteComponent)

			bundles := a.audited("bundle", "bundleID")
			admin.Get("/bundles", a.Catalog.AdminBundles)
			admin.Get("/bundles/{bundleID}", a.Catalog.AdminBundle)
			admin.With(bundles).Post("/bundles", a.Catalog.CreateBundle)
			admin.With(bundles).Put("/bundles/{bundleID}", a.Catalog.UpdateBundle)
			admin.With(bundles).Delete("/bundles/{bundleID}", a.Catalog.DeleteBundle)
			admin.With(bundles).Post("/bundles/{bundleID}/lines", a.Catalog.AddLine)

			lines := a.audited("bundle_line", "lineID")
			admin.With(lines).Put("/bundle-lines/{lineID}", a.Catalog.UpdateLine)
			admin.With(lines).Delete("/bundle-lines/{lineID}", a.Catalog.DeleteLine)

			admin.Get("/bills", a.Billing.AdminList)
			admin.Get("/bills/{billID}", a.Billing.AdminDetail)
			admin.With(a.audited("bill", "billID")).Delete("/bills/{billID}", a.Billing.AdminDelete)

			admin.Get("/reports/sales", a.Analytics.Sales)
			admin.Get("/reports/top-bundles", a.Analytics.TopBundles)
			admin.Get("/audit-logs", a.AuditLogs.List)
		})
	})
}

func (a API) audited(resource, idParam string) func(http.Handler) http.Handler {
	return a.Audit.Middleware(audit.HTTPConfig{
		ResourceType:    resource,
		ResourceIDParam: idParam,
		OnlyMutations:   true,
	})
}
