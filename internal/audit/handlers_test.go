package audit

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/noah-isme/backend-billswift/internal/common"
)

type listStore struct {
	stubStore
	receivedLimit  int
	receivedOffset int
	err            error
}

func (l *listStore) ListAuditLogs(_ context.Context, limit, offset int) ([]Entry, error) {
	l.receivedLimit = limit
	l.receivedOffset = offset
	if l.err != nil {
		return nil, l.err
	}
	return []Entry{{Action: "DELETE /api/v1/admin/bills/{billID}", Method: http.MethodDelete}}, nil
}

func TestHandlerListPaginates(t *testing.T) {
	store := &listStore{}
	h := Handler{Store: store}
	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit-logs?page=3&limit=25", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if store.receivedLimit != 25 || store.receivedOffset != 50 {
		t.Fatalf("unexpected pagination params: %d/%d", store.receivedLimit, store.receivedOffset)
	}
	var payload struct {
		Data       []map[string]any  `json:"data"`
		Pagination common.Pagination `json:"pagination"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(payload.Data) != 1 || payload.Pagination.Page != 3 {
		t.Fatalf("unexpected payload: %+v", payload)
	}
}

func TestHandlerListStoreFailure(t *testing.T) {
	h := Handler{Store: &listStore{err: errors.New("connection reset")}}
	rr := httptest.NewRecorder()
	h.List(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit-logs", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	Handler{}.List(rr, httptest.NewRequest(http.MethodGet, "/api/v1/admin/audit-logs", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without store, got %d", rr.Code)
	}
}
