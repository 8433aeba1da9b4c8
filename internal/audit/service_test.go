package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/noah-isme/backend-billswift/internal/common"
	"github.com/noah-isme/backend-billswift/internal/obs"
)

type stubStore struct {
	last   Entry
	called bool
}

func (s *stubStore) InsertAuditLog(_ context.Context, e Entry) error {
	s.called = true
	s.last = e
	return nil
}

func (s *stubStore) ListAuditLogs(context.Context, int, int) ([]Entry, error) {
	return nil, nil
}

func TestServiceRecord(t *testing.T) {
	store := &stubStore{}
	svc := Service{Store: store, Enabled: true, SamplingRate: 1}
	userID := uuid.NewString()

	req := httptest.NewRequest(http.MethodDelete, "https://api.test/api/v1/admin/components/abc?force=false", nil)
	req.Header.Set("User-Agent", "tester")
	req.Header.Set("X-Request-ID", "req-123")
	req.RemoteAddr = "10.0.0.2:54321"
	ctx := common.WithPrincipal(req.Context(), common.Principal{ID: userID, Role: common.RoleAdmin})
	ctx = obs.WithRoutePattern(ctx, "/api/v1/admin/components/{componentID}")
	req = req.WithContext(ctx)

	if err := svc.Record(req.Context(), Actor{Kind: ActorKindUser, UserID: &userID, Role: common.RoleAdmin}, "", "", "abc", req, http.StatusConflict, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if !store.called {
		t.Fatal("expected store to be called")
	}
	e := store.last
	if e.ActorKind != string(ActorKindUser) {
		t.Fatalf("unexpected actor kind: %s", e.ActorKind)
	}
	if e.ActorUserID == nil || *e.ActorUserID != userID {
		t.Fatalf("unexpected stored user id: %v", e.ActorUserID)
	}
	if e.Action != "DELETE /api/v1/admin/components/{componentID}" {
		t.Fatalf("unexpected action: %s", e.Action)
	}
	if e.ResourceType != "admin.components" {
		t.Fatalf("unexpected resource type: %s", e.ResourceType)
	}
	if e.ResourceID == nil || *e.ResourceID != "abc" {
		t.Fatalf("unexpected resource id: %v", e.ResourceID)
	}
	if e.Status != http.StatusConflict {
		t.Fatalf("unexpected status: %d", e.Status)
	}
	if e.IP == nil || *e.IP != "10.0.0.2" {
		t.Fatalf("expected ip capture, got %v", e.IP)
	}
	if e.RequestID == nil || *e.RequestID != "req-123" {
		t.Fatalf("expected request id, got %v", e.RequestID)
	}
	var meta map[string]string
	if err := json.Unmarshal(e.Metadata, &meta); err != nil {
		t.Fatalf("metadata json: %v", err)
	}
	if meta["query"] != "force=false" {
		t.Fatalf("unexpected metadata query: %s", meta["query"])
	}
}

func TestServiceRecordDisabled(t *testing.T) {
	store := &stubStore{}
	svc := Service{Store: store, Enabled: false}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := svc.Record(req.Context(), Actor{}, "", "", "", req, http.StatusOK, nil); err != nil {
		t.Fatalf("record: %v", err)
	}
	if store.called {
		t.Fatal("expected no insert when disabled")
	}
}

func TestMiddlewareSkipsReadsWhenOnlyMutations(t *testing.T) {
	store := &stubStore{}
	rec := HTTPRecorder{Service: &Service{Store: store, Enabled: true}}
	h := rec.Middleware(HTTPConfig{OnlyMutations: true})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/admin/bills", nil))
	if store.called {
		t.Fatal("expected GET to be skipped")
	}
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/api/v1/admin/bills/x", nil))
	if !store.called || store.last.Status != http.StatusNoContent {
		t.Fatalf("expected DELETE to be recorded, got %+v", store.last)
	}
	if store.last.ActorKind != string(ActorKindAnonymous) {
		t.Fatalf("unexpected actor kind: %s", store.last.ActorKind)
	}
}

func TestMiddlewareTakesCreatedIDFromLocation(t *testing.T) {
	store := &stubStore{}
	rec := HTTPRecorder{Service: &Service{Store: store, Enabled: true}}
	created := uuid.NewString()
	h := rec.Middleware(HTTPConfig{ResourceType: "bundle", ResourceIDParam: "bundleID", OnlyMutations: true})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Location", "/api/v1/admin/bundles/"+created)
			w.WriteHeader(http.StatusCreated)
		}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/admin/bundles", nil))
	if store.last.ResourceID == nil || *store.last.ResourceID != created {
		t.Fatalf("expected resource id %s, got %v", created, store.last.ResourceID)
	}
	if store.last.ResourceType != "bundle" || store.last.Status != http.StatusCreated {
		t.Fatalf("unexpected entry: %+v", store.last)
	}
}
