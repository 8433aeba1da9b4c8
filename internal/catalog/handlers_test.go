package catalog_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billswift/internal/catalog"
)

func newRouter(f fixture) http.Handler {
	h := catalog.NewHandler(catalog.HandlerConfig{Service: f.svc})
	r := chi.NewRouter()
	r.Get("/bundles", h.Bundles)
	r.Get("/bundles/{bundleID}", h.Bundle)
	r.Route("/admin", func(r chi.Router) {
		r.Get("/components", h.Components)
		r.Post("/components", h.CreateComponent)
		r.Get("/components/search", h.SearchComponents)
		r.Put("/components/{componentID}", h.UpdateComponent)
		r.Delete("/components/{componentID}", h.DeleteComponent)
		r.Get("/bundles", h.AdminBundles)
		r.Post("/bundles", h.CreateBundle)
		r.Put("/bundles/{bundleID}", h.UpdateBundle)
		r.Delete("/bundles/{bundleID}", h.DeleteBundle)
		r.Post("/bundles/{bundleID}/lines", h.AddLine)
		r.Put("/bundle-lines/{lineID}", h.UpdateLine)
		r.Delete("/bundle-lines/{lineID}", h.DeleteLine)
	})
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env))
	return env
}

func TestAdminCreateBundleFlow(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	rr := do(t, router, http.MethodPost, "/admin/components", `{"name":"Contactor","brand_name":"ABB","model":"AF09","base_unit_price":"100.00"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var comp catalog.ComponentView
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &comp))
	require.Equal(t, "100.00", comp.BaseUnitPrice)

	rr = do(t, router, http.MethodPost, "/admin/bundles",
		`{"category":"S/D","rating":"11","lines":[{"component_id":"`+comp.ID+`","quantity":2,"unit_price_override":"120.5"}]}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var bundle catalog.BundleView
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &bundle))
	require.Equal(t, "S/D 11.00 kW", bundle.DisplayName)
	require.Equal(t, "241.00", bundle.TotalPrice)
	require.Equal(t, "120.50", bundle.Lines[0].EffectiveUnitPrice)

	rr = do(t, router, http.MethodGet, "/bundles/"+bundle.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = do(t, router, http.MethodDelete, "/admin/bundle-lines/"+bundle.Lines[0].ID, "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Equal(t, "VALIDATION_ERROR", decode(t, rr).Error.Code)

	rr = do(t, router, http.MethodDelete, "/admin/components/"+comp.ID, "")
	require.Equal(t, http.StatusConflict, rr.Code)
	require.Equal(t, "REFERENTIAL_INTEGRITY", decode(t, rr).Error.Code)

	rr = do(t, router, http.MethodDelete, "/admin/bundles/"+bundle.ID, "")
	require.Equal(t, http.StatusNoContent, rr.Code)
}

func TestCreateBundleValidation(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	rr := do(t, router, http.MethodPost, "/admin/bundles", `{"category":"DOL","rating":"5","lines":[]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	env := decode(t, rr)
	require.Equal(t, "VALIDATION_ERROR", env.Error.Code)

	rr = do(t, router, http.MethodPost, "/admin/bundles", `{"category":"DOL","rating":"5","total_price":"1.00","lines":[]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(t, router, http.MethodPost, "/admin/components", `{"name":"X","brand_name":"Y","base_unit_price":"1.005"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestPublicBundleLookups(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	rr := do(t, router, http.MethodGet, "/bundles/not-a-uuid", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "NOT_FOUND", decode(t, rr).Error.Code)

	rr = do(t, router, http.MethodGet, "/bundles?rating=abc", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	c := f.component(t, "Contactor", "10.00")
	_, err := f.svc.CreateBundle(context.Background(), catalog.BundleInput{Category: catalog.CategoryRDOL, Rating: dec("2.2"),
		Lines: []catalog.LineInput{{ComponentID: c.ID, Quantity: 1}}})
	require.NoError(t, err)

	rr = do(t, router, http.MethodGet, "/bundles?category=RDOL&rating=2.2", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var rows []catalog.BundleView
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &rows))
	require.Len(t, rows, 1)
	require.Equal(t, "RDOL 2.20 kW", rows[0].DisplayName)

	rr = do(t, router, http.MethodGet, "/admin/components/search?q=cont", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var comps []catalog.ComponentView
	require.NoError(t, json.Unmarshal(decode(t, rr).Data, &comps))
	require.Len(t, comps, 1)
}
