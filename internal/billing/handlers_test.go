package billing_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/backend-billswift/internal/billing"
	"github.com/noah-isme/backend-billswift/internal/catalog"
	"github.com/noah-isme/backend-billswift/internal/common"
)

func asPrincipal(p common.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(common.WithPrincipal(r.Context(), p)))
		})
	}
}

func billRouter(e env, p common.Principal) http.Handler {
	h := billing.NewHandler(billing.HandlerConfig{Service: e.billing})
	r := chi.NewRouter()
	r.Use(asPrincipal(p))
	r.Post("/bills", h.Create)
	r.Get("/bills", h.Mine)
	r.Get("/bills/{billID}", h.Detail)
	r.Get("/admin/bills", h.AdminList)
	r.Get("/admin/bills/{billID}", h.AdminDetail)
	r.Delete("/admin/bills/{billID}", h.AdminDelete)
	return r
}

func call(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

type response struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string         `json:"code"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func parse(t *testing.T, rr *httptest.ResponseRecorder) response {
	t.Helper()
	var out response
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	return out
}

func TestCreateBillHandler(t *testing.T) {
	e := newEnv(t, nil)
	b := e.bundle(t, "7.5", catalog.LineInput{ComponentID: e.component(t, "Contactor", "19.99").ID, Quantity: 1})
	router := billRouter(e, e.owner)

	rr := call(t, router, http.MethodPost, "/bills",
		`{"items":[{"product_id":"`+b.ID+`","quantity":3}],"discount_amount":"9.97","notes":"site 4"}`)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var summary billing.SummaryView
	require.NoError(t, json.Unmarshal(parse(t, rr).Data, &summary))
	require.Equal(t, "59.97", summary.SubtotalAmount)
	require.Equal(t, "9.97", summary.DiscountAmount)
	require.Equal(t, "50.00", summary.TotalAmount)
	require.Equal(t, "/api/v1/bills/"+summary.ID, rr.Header().Get("Location"))

	rr = call(t, router, http.MethodGet, "/bills/"+summary.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var detail billing.DetailView
	require.NoError(t, json.Unmarshal(parse(t, rr).Data, &detail))
	require.Equal(t, "DOL 7.50 kW", detail.Items[0].ProductName)
	require.Equal(t, "19.99", detail.Items[0].UnitPrice)
	require.Empty(t, detail.UserEmail)

	rr = call(t, router, http.MethodGet, "/bills", "")
	require.Equal(t, http.StatusOK, rr.Code)
	var list []billing.SummaryView
	require.NoError(t, json.Unmarshal(parse(t, rr).Data, &list))
	require.Len(t, list, 1)
}

func TestCreateBillHandlerRejectsEmptyBill(t *testing.T) {
	e := newEnv(t, nil)
	router := billRouter(e, e.owner)

	rr := call(t, router, http.MethodPost, "/bills", `{"items":[]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	out := parse(t, rr)
	require.Equal(t, "VALIDATION_ERROR", out.Error.Code)
	require.Equal(t, "empty_bill", out.Error.Details["reason"])

	rr = call(t, router, http.MethodPost, "/bills", `{"items":[{"product_id":"x"}],"total_amount":"1"}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestBillHandlersScopeByRole(t *testing.T) {
	e := newEnv(t, nil)
	b := e.bundle(t, "2", catalog.LineInput{ComponentID: e.component(t, "Contactor", "10.00").ID, Quantity: 1})
	owner := billRouter(e, e.owner)
	rr := call(t, owner, http.MethodPost, "/bills", `{"items":[{"product_id":"`+b.ID+`"}]}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var summary billing.SummaryView
	require.NoError(t, json.Unmarshal(parse(t, rr).Data, &summary))

	other := billRouter(e, e.other)
	rr = call(t, other, http.MethodGet, "/bills/"+summary.ID, "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	rr = call(t, other, http.MethodGet, "/admin/bills", "")
	require.Equal(t, http.StatusForbidden, rr.Code)

	admin := billRouter(e, e.admin)
	rr = call(t, admin, http.MethodGet, "/admin/bills?page=1&limit=5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "1", rr.Header().Get("X-Total-Count"))

	rr = call(t, admin, http.MethodGet, "/admin/bills/"+summary.ID, "")
	require.Equal(t, http.StatusOK, rr.Code)
	var detail billing.DetailView
	require.NoError(t, json.Unmarshal(parse(t, rr).Data, &detail))
	require.Equal(t, "owner@example.com", detail.UserEmail)

	rr = call(t, admin, http.MethodDelete, "/admin/bills/"+summary.ID, "")
	require.Equal(t, http.StatusNoContent, rr.Code)
}
