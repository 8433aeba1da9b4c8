package catalog

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/backend-billswift/internal/common"
)

// Handler exposes catalog endpoints.
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

type componentRequest struct {
	Name          string           `json:"name" validate:"required,max=200"`
	BrandName     string           `json:"brand_name" validate:"required,max=200"`
	Model         string           `json:"model" validate:"max=200"`
	BaseUnitPrice *decimal.Decimal `json:"base_unit_price" validate:"required"`
	IsActive      *bool            `json:"is_active"`
}

type componentPatchRequest struct {
	Name          *string          `json:"name" validate:"omitempty,min=1,max=200"`
	BrandName     *string          `json:"brand_name" validate:"omitempty,min=1,max=200"`
	Model         *string          `json:"model" validate:"omitempty,max=200"`
	BaseUnitPrice *decimal.Decimal `json:"base_unit_price"`
	IsActive      *bool            `json:"is_active"`
}

type lineRequest struct {
	ComponentID       string           `json:"component_id" validate:"required,uuid"`
	Quantity          int              `json:"quantity" validate:"min=1"`
	UnitPriceOverride *decimal.Decimal `json:"unit_price_override"`
}

type bundleRequest struct {
	Category   string           `json:"category" validate:"required,oneof=DOL RDOL S/D"`
	Rating     *decimal.Decimal `json:"rating" validate:"required"`
	DeviceName *string          `json:"device_name" validate:"omitempty,max=200"`
	IsActive   *bool            `json:"is_active"`
	Lines      []lineRequest    `json:"lines" validate:"required,min=1,dive"`
}

type bundlePatchRequest struct {
	Category   *string          `json:"category" validate:"omitempty,oneof=DOL RDOL S/D"`
	Rating     *decimal.Decimal `json:"rating"`
	DeviceName *string          `json:"device_name" validate:"omitempty,max=200"`
	IsActive   *bool            `json:"is_active"`
}

type linePatchRequest struct {
	Quantity          *int             `json:"quantity" validate:"omitempty,min=1"`
	UnitPriceOverride *decimal.Decimal `json:"unit_price_override"`
	ClearOverride     bool             `json:"clear_override"`
}

// Bundles handles GET /api/v1/bundles.
func (h *Handler) Bundles(w http.ResponseWriter, r *http.Request) {
	h.listBundles(w, r, false)
}

// AdminBundles handles GET /api/v1/admin/bundles and includes inactive bundles.
func (h *Handler) AdminBundles(w http.ResponseWriter, r *http.Request) {
	h.listBundles(w, r, true)
}

func (h *Handler) listBundles(w http.ResponseWriter, r *http.Request, includeInactive bool) {
	filter := BundleFilter{
		Category:        strings.TrimSpace(r.URL.Query().Get("category")),
		IncludeInactive: includeInactive,
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("rating")); raw != "" {
		rating, err := decimal.NewFromString(raw)
		if err != nil {
			common.WriteError(w, common.ValidationError("rating must be a number"))
			return
		}
		filter.Rating = &rating
	}
	rows, err := h.service.ListBundles(r.Context(), filter)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": bundleViews(rows)})
}

// Bundle handles GET /api/v1/bundles/{bundleID}.
func (h *Handler) Bundle(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.GetBundle(r.Context(), chi.URLParam(r, "bundleID"), false)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": NewBundleView(b)})
}

// AdminBundle handles GET /api/v1/admin/bundles/{bundleID}.
func (h *Handler) AdminBundle(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.GetBundle(r.Context(), chi.URLParam(r, "bundleID"), true)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": NewBundleView(b)})
}

// CreateBundle handles POST /api/v1/admin/bundles.
func (h *Handler) CreateBundle(w http.ResponseWriter, r *http.Request) {
	var req bundleRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	in := BundleInput{
		Category:   req.Category,
		Rating:     *req.Rating,
		DeviceName: req.DeviceName,
		IsActive:   req.IsActive,
		Lines:      make([]LineInput, 0, len(req.Lines)),
	}
	for _, line := range req.Lines {
		in.Lines = append(in.Lines, LineInput(line))
	}
	b, err := h.service.CreateBundle(r.Context(), in)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/admin/bundles/"+b.ID)
	common.JSON(w, http.StatusCreated, map[string]any{"data": NewBundleView(b)})
}

// UpdateBundle handles PUT /api/v1/admin/bundles/{bundleID}.
func (h *Handler) UpdateBundle(w http.ResponseWriter, r *http.Request) {
	var req bundlePatchRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	b, err := h.service.UpdateBundle(r.Context(), chi.URLParam(r, "bundleID"), BundlePatch(req))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": NewBundleView(b)})
}

// DeleteBundle handles DELETE /api/v1/admin/bundles/{bundleID}.
func (h *Handler) DeleteBundle(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteBundle(r.Context(), chi.URLParam(r, "bundleID")); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddLine handles POST /api/v1/admin/bundles/{bundleID}/lines.
func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	var req lineRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	b, err := h.service.AddBundleLine(r.Context(), chi.URLParam(r, "bundleID"), LineInput(req))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": NewBundleView(b)})
}

// UpdateLine handles PUT /api/v1/admin/bundle-lines/{lineID}.
func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	var req linePatchRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	b, err := h.service.UpdateBundleLine(r.Context(), chi.URLParam(r, "lineID"), LinePatch(req))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": NewBundleView(b)})
}

// DeleteLine handles DELETE /api/v1/admin/bundle-lines/{lineID}.
func (h *Handler) DeleteLine(w http.ResponseWriter, r *http.Request) {
	b, err := h.service.DeleteBundleLine(r.Context(), chi.URLParam(r, "lineID"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": NewBundleView(b)})
}

// Components handles GET /api/v1/admin/components.
func (h *Handler) Components(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.ListComponents(r.Context())
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": componentViews(rows)})
}

// SearchComponents handles GET /api/v1/admin/components/search?q=.
func (h *Handler) SearchComponents(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.SearchComponents(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": componentViews(rows)})
}

// CreateComponent handles POST /api/v1/admin/components.
func (h *Handler) CreateComponent(w http.ResponseWriter, r *http.Request) {
	var req componentRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	c, err := h.service.CreateComponent(r.Context(), ComponentInput{
		Name:          req.Name,
		Brand:         req.BrandName,
		Model:         req.Model,
		BaseUnitPrice: *req.BaseUnitPrice,
		IsActive:      req.IsActive,
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	w.Header().Set("Location", "/api/v1/admin/components/"+c.ID)
	common.JSON(w, http.StatusCreated, map[string]any{"data": NewComponentView(c)})
}

// UpdateComponent handles PUT /api/v1/admin/components/{componentID}.
func (h *Handler) UpdateComponent(w http.ResponseWriter, r *http.Request) {
	var req componentPatchRequest
	if err := common.DecodeJSON(r, &req); err != nil {
		common.WriteError(w, err)
		return
	}
	c, err := h.service.UpdateComponent(r.Context(), chi.URLParam(r, "componentID"), ComponentPatch{
		Name:          req.Name,
		Brand:         req.BrandName,
		Model:         req.Model,
		BaseUnitPrice: req.BaseUnitPrice,
		IsActive:      req.IsActive,
	})
	if err != nil {
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": NewComponentView(c)})
}

// DeleteComponent handles DELETE /api/v1/admin/components/{componentID}.
func (h *Handler) DeleteComponent(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteComponent(r.Context(), chi.URLParam(r, "componentID")); err != nil {
		common.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
