package billing

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billswift/internal/common"
)

// Handler exposes bill endpoints.
type Handler struct {
	service *Service
}

// HandlerConfig configures the Handler dependencies.
type HandlerConfig struct {
	Service *Service
}

// NewHandler constructs a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{service: cfg.Service}
}

type itemRequest struct {
	ProductID     string           `json:"product_id" validate:"required"`
	Quantity      *int             `json:"quantity"`
	OverridePrice *decimal.Decimal `json:"override_price"`
}

// Items is not marked required so an empty list reaches the service and is
// reported as an empty bill rather than a generic field error.
type createBillRequest struct {
	Items          []itemRequest    `json:"items" validate:"dive"`
	DiscountAmount *decimal.Decimal `json:"discount_amount"`
	Notes          *string          `json:"notes" validate:"omitempty,max=2000"`
}

// Create handles POST /api/v1/bills.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	p, ok := common.PrincipalFrom(r.Context())
	if !ok {
		common.WriteError(w, common.UnauthorizedError("authentication required"))
		return
	}
	var req createBillRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	in := CreateBillInput{
		Items:          make([]ItemRequest, 0, len(req.Items)),
		DiscountAmount: decimal.Zero,
		Notes:          req.Notes,
	}
	if req.DiscountAmount != nil {
		in.DiscountAmount = *req.DiscountAmount
	}
	for _, item := range req.Items {
		in.Items = append(in.Items, ItemRequest(item))
	}
	bill, err := h.service.CreateBill(r.Context(), p, in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/bills/"+bill.ID)
	common.JSON(w, http.StatusCreated, map[string]any{"data": NewSummaryView(bill)})
}

// Mine handles GET /api/v1/bills.
func (h *Handler) Mine(w http.ResponseWriter, r *http.Request) {
	p, ok := common.PrincipalFrom(r.Context())
	if !ok {
		common.WriteError(w, common.UnauthorizedError("authentication required"))
		return
	}
	rows, err := h.service.ListMyBills(r.Context(), p)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": summaryViews(rows)})
}

// Detail handles GET /api/v1/bills/{billID}.
func (h *Handler) Detail(w http.ResponseWriter, r *http.Request) {
	p, ok := common.PrincipalFrom(r.Context())
	if !ok {
		common.WriteError(w, common.UnauthorizedError("authentication required"))
		return
	}
	detail, err := h.service.GetBillDetail(r.Context(), p, chi.URLParam(r, "billID"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": NewDetailView(detail, false)})
}

// AdminList handles GET /api/v1/admin/bills.
func (h *Handler) AdminList(w http.ResponseWriter, r *http.Request) {
	p, _ := common.PrincipalFrom(r.Context())
	page, perPage := common.ParsePagination(r, 50)
	pg := common.Pagination{Page: page, PerPage: perPage}
	rows, total, err := h.service.ListAllBills(r.Context(), p, pg)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	pg.TotalItems = total
	w.Header().Set("X-Total-Count", strconv.Itoa(total))
	common.JSON(w, http.StatusOK, map[string]any{"data": listingViews(rows), "pagination": pg})
}

// AdminDetail handles GET /api/v1/admin/bills/{billID}.
func (h *Handler) AdminDetail(w http.ResponseWriter, r *http.Request) {
	p, _ := common.PrincipalFrom(r.Context())
	detail, err := h.service.GetAnyBill(r.Context(), p, chi.URLParam(r, "billID"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": NewDetailView(detail, true)})
}

// AdminDelete handles DELETE /api/v1/admin/bills/{billID}.
func (h *Handler) AdminDelete(w http.ResponseWriter, r *http.Request) {
	p, _ := common.PrincipalFrom(r.Context())
	if err := h.service.DeleteBill(r.Context(), p, chi.URLParam(r, "billID")); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
