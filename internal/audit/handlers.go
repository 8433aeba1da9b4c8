package audit

import (
	"fmt"
	"net/http"

	"github.com/noah-isme/backend-billswift/internal/common"
)

// Handler serves the audit trail to administrators.
type Handler struct {
	Store Store
}

// List handles GET /api/v1/admin/audit-logs?page=&limit=, newest first.
func (h Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "AUDIT_NOT_CONFIGURED", "audit store not configured", nil)
		return
	}
	page, perPage := common.ParsePagination(r, 50)
	pg := common.Pagination{Page: page, PerPage: perPage}
	rows, err := h.Store.ListAuditLogs(r.Context(), perPage, pg.Offset())
	if err != nil {
		common.WriteError(w, fmt.Errorf("list audit logs: %w", err))
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": rows, "pagination": pg})
}
