package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/bazario/commerce-core/internal/domain"
	"github.com/bazario/commerce-core/internal/platform/auth"
	"github.com/bazario/commerce-core/internal/platform/httpx"
	"github.com/bazario/commerce-core/internal/services"
)

const (
	defaultCouponPageSize = 20
	maxCouponPageSize     = 100
	maxCouponBodySize     = 32 * 1024
)

// CouponHandlers exposes the coupon catalog, validator, and usage ledger endpoints.
type CouponHandlers struct {
	coupons services.CouponService
}

// NewCouponHandlers constructs a new CouponHandlers instance.
func NewCouponHandlers(coupons services.CouponService) *CouponHandlers {
	return &CouponHandlers{coupons: coupons}
}

// Routes registers the /coupons endpoints on the API group.
func (h *CouponHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	r.With(auth.RequireIdentity()).Post("/coupons:validate", h.validateCoupon)
	r.With(auth.RequireIdentity()).Post("/coupons:redeem", h.redeemCoupon)

	admin := r.With(auth.RequireRole(auth.RoleAdmin))
	admin.Post("/coupons", h.createCoupon)
	admin.Get("/coupons", h.listCoupons)
	admin.Get("/coupons/{couponID}", h.getCoupon)
	admin.Patch("/coupons/{couponID}", h.updateCoupon)
	admin.Delete("/coupons/{couponID}", h.deleteCoupon)
	admin.Post("/coupons/{couponID}:toggle", h.toggleCoupon)
	admin.Get("/coupons/{couponID}/usage", h.getUsageStats)
	admin.Post("/coupons/{couponID}:reset-usage", h.resetUsage)
}

type usageLimitPayload struct {
	Total   *int64 `json:"total,omitempty"`
	PerUser *int64 `json:"per_user,omitempty"`
	PerDay  *int64 `json:"per_day,omitempty"`
}

type couponScopePayload struct {
	Stores       []string `json:"stores,omitempty"`
	Categories   []string `json:"categories,omitempty"`
	Products     []string `json:"products,omitempty"`
	UserTiers    []string `json:"user_tiers,omitempty"`
	NewUsersOnly bool     `json:"new_users_only,omitempty"`
}

type couponPayload struct {
	ID                string             `json:"id"`
	Code              string             `json:"code"`
	Description       string             `json:"description,omitempty"`
	Type              string             `json:"type"`
	DiscountValue     int64              `json:"discount_value"`
	MinPurchaseAmount int64              `json:"min_purchase_amount"`
	MaxDiscountAmount *int64             `json:"max_discount_amount,omitempty"`
	UsageLimit        usageLimitPayload  `json:"usage_limit"`
	UsedCount         int64              `json:"used_count"`
	ValidFrom         string             `json:"valid_from"`
	ValidUntil        string             `json:"valid_until"`
	AppliesTo         couponScopePayload `json:"applies_to"`
	IsActive          bool               `json:"is_active"`
	CreatedBy         string             `json:"created_by,omitempty"`
	CreatedAt         string             `json:"created_at"`
	UpdatedAt         string             `json:"updated_at"`
}

type couponResponse struct {
	Coupon couponPayload `json:"coupon"`
}

type couponListResponse struct {
	Items         []couponPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type createCouponRequest struct {
	Code              string              `json:"code"`
	Description       string              `json:"description"`
	Type              string              `json:"type"`
	DiscountValue     int64               `json:"discount_value"`
	MinPurchaseAmount int64               `json:"min_purchase_amount"`
	MaxDiscountAmount *int64              `json:"max_discount_amount"`
	UsageLimit        *usageLimitPayload  `json:"usage_limit"`
	ValidFrom         string              `json:"valid_from"`
	ValidUntil        string              `json:"valid_until"`
	AppliesTo         *couponScopePayload `json:"applies_to"`
}

type updateCouponRequest struct {
	Description       *string             `json:"description"`
	DiscountValue     *int64              `json:"discount_value"`
	MinPurchaseAmount *int64              `json:"min_purchase_amount"`
	MaxDiscountAmount *int64              `json:"max_discount_amount"`
	UsageLimit        *usageLimitPayload  `json:"usage_limit"`
	ValidFrom         *string             `json:"valid_from"`
	ValidUntil        *string             `json:"valid_until"`
	AppliesTo         *couponScopePayload `json:"applies_to"`
}

type toggleCouponRequest struct {
	Active bool `json:"active"`
}

type validateCouponRequest struct {
	Code        string `json:"code"`
	OrderAmount int64  `json:"order_amount"`
	StoreID     string `json:"store_id"`
	CategoryID  string `json:"category_id"`
	ProductID   string `json:"product_id"`
}

type validateCouponResponse struct {
	Valid          bool              `json:"valid"`
	Message        string            `json:"message,omitempty"`
	DiscountAmount int64             `json:"discount_amount"`
	FreeShipping   bool              `json:"free_shipping,omitempty"`
	Coupon         *couponRefPayload `json:"coupon,omitempty"`
}

type couponRefPayload struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Type string `json:"type"`
}

type redeemCouponRequest struct {
	Code           string `json:"code"`
	OrderID        string `json:"order_id"`
	DiscountAmount int64  `json:"discount_amount"`
}

type usageStatsResponse struct {
	TotalUsage    int64               `json:"total_usage"`
	TotalDiscount int64               `json:"total_discount"`
	UniqueUsers   int                 `json:"unique_users"`
	UsageByDay    []dailyUsagePayload `json:"usage_by_day"`
}

type dailyUsagePayload struct {
	Date     string `json:"date"`
	Count    int64  `json:"count"`
	Discount int64  `json:"discount"`
}

func (h *CouponHandlers) createCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCouponBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	validFrom, err := parseTimeParam(strings.TrimSpace(req.ValidFrom))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "valid_from must be a valid RFC3339 timestamp", http.StatusBadRequest))
		return
	}
	validUntil, err := parseTimeParam(strings.TrimSpace(req.ValidUntil))
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "valid_until must be a valid RFC3339 timestamp", http.StatusBadRequest))
		return
	}

	cmd := services.CreateCouponCommand{
		Code:              req.Code,
		Description:       req.Description,
		Type:              domain.CouponType(strings.ToLower(strings.TrimSpace(req.Type))),
		DiscountValue:     req.DiscountValue,
		MinPurchaseAmount: req.MinPurchaseAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		ValidFrom:         validFrom,
		ValidUntil:        validUntil,
		ActorID:           actorID(ctx),
	}
	if req.UsageLimit != nil {
		cmd.UsageLimit = domain.UsageLimit{
			Total:   req.UsageLimit.Total,
			PerUser: req.UsageLimit.PerUser,
			PerDay:  req.UsageLimit.PerDay,
		}
	}
	if req.AppliesTo != nil {
		cmd.AppliesTo = domain.CouponScope{
			Stores:       req.AppliesTo.Stores,
			Categories:   req.AppliesTo.Categories,
			Products:     req.AppliesTo.Products,
			UserTiers:    req.AppliesTo.UserTiers,
			NewUsersOnly: req.AppliesTo.NewUsersOnly,
		}
	}

	coupon, err := h.coupons.CreateCoupon(ctx, cmd)
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *CouponHandlers) listCoupons(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultCouponPageSize, maxCouponPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	filter := services.CouponListFilter{
		ActiveOnly: strings.EqualFold(strings.TrimSpace(query.Get("active_only")), "true"),
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}
	if raw := strings.ToLower(strings.TrimSpace(query.Get("type"))); raw != "" {
		couponType := domain.CouponType(raw)
		if !domain.ValidCouponType(couponType) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "type must be a known coupon type", http.StatusBadRequest))
			return
		}
		filter.Type = &couponType
	}

	page, err := h.coupons.ListCoupons(ctx, filter)
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	items := make([]couponPayload, 0, len(page.Items))
	for _, coupon := range page.Items {
		items = append(items, buildCouponPayload(coupon))
	}
	writeJSONResponse(w, http.StatusOK, couponListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *CouponHandlers) getCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	coupon, err := h.coupons.GetCoupon(ctx, chi.URLParam(r, "couponID"))
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *CouponHandlers) updateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCouponBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req updateCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	cmd := services.UpdateCouponCommand{
		CouponID:          chi.URLParam(r, "couponID"),
		Description:       req.Description,
		DiscountValue:     req.DiscountValue,
		MinPurchaseAmount: req.MinPurchaseAmount,
		MaxDiscountAmount: req.MaxDiscountAmount,
		ActorID:           actorID(ctx),
	}
	if req.UsageLimit != nil {
		cmd.UsageLimit = &domain.UsageLimit{
			Total:   req.UsageLimit.Total,
			PerUser: req.UsageLimit.PerUser,
			PerDay:  req.UsageLimit.PerDay,
		}
	}
	if req.ValidFrom != nil {
		ts, err := parseTimeParam(strings.TrimSpace(*req.ValidFrom))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "valid_from must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.ValidFrom = &ts
	}
	if req.ValidUntil != nil {
		ts, err := parseTimeParam(strings.TrimSpace(*req.ValidUntil))
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "valid_until must be a valid RFC3339 timestamp", http.StatusBadRequest))
			return
		}
		cmd.ValidUntil = &ts
	}
	if req.AppliesTo != nil {
		cmd.AppliesTo = &domain.CouponScope{
			Stores:       req.AppliesTo.Stores,
			Categories:   req.AppliesTo.Categories,
			Products:     req.AppliesTo.Products,
			UserTiers:    req.AppliesTo.UserTiers,
			NewUsersOnly: req.AppliesTo.NewUsersOnly,
		}
	}

	coupon, err := h.coupons.UpdateCoupon(ctx, cmd)
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *CouponHandlers) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	if err := h.coupons.DeleteCoupon(ctx, chi.URLParam(r, "couponID")); err != nil {
		writeCouponError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CouponHandlers) toggleCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxCouponBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req toggleCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	coupon, err := h.coupons.ToggleCoupon(ctx, chi.URLParam(r, "couponID"), req.Active, actorID(ctx))
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *CouponHandlers) validateCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxCouponBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req validateCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	result, err := h.coupons.Validate(ctx, services.ValidateCouponCommand{
		Code:               req.Code,
		CustomerID:         identity.UID,
		CustomerTier:       identity.Tier,
		CustomerOrderCount: identity.OrderCount,
		OrderAmount:        req.OrderAmount,
		StoreID:            req.StoreID,
		CategoryID:         req.CategoryID,
		ProductID:          req.ProductID,
	})
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	response := validateCouponResponse{
		Valid:          result.Valid,
		Message:        result.Message,
		DiscountAmount: result.DiscountAmount,
		FreeShipping:   result.FreeShipping,
	}
	if result.Coupon != nil {
		response.Coupon = &couponRefPayload{
			ID:   result.Coupon.ID,
			Code: result.Coupon.Code,
			Type: string(result.Coupon.Type),
		}
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func (h *CouponHandlers) redeemCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxCouponBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req redeemCouponRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	coupon, err := h.coupons.Redeem(ctx, services.RedeemCouponCommand{
		Code:           req.Code,
		CustomerID:     identity.UID,
		OrderID:        req.OrderID,
		DiscountAmount: req.DiscountAmount,
	})
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func (h *CouponHandlers) getUsageStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	stats, err := h.coupons.GetUsageStats(ctx, chi.URLParam(r, "couponID"))
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}

	byDay := make([]dailyUsagePayload, 0, len(stats.UsageByDay))
	for _, day := range stats.UsageByDay {
		byDay = append(byDay, dailyUsagePayload{Date: day.Date, Count: day.Count, Discount: day.Discount})
	}
	writeJSONResponse(w, http.StatusOK, usageStatsResponse{
		TotalUsage:    stats.TotalUsage,
		TotalDiscount: stats.TotalDiscount,
		UniqueUsers:   stats.UniqueUsers,
		UsageByDay:    byDay,
	})
}

func (h *CouponHandlers) resetUsage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon service unavailable", http.StatusServiceUnavailable))
		return
	}

	coupon, err := h.coupons.ResetUsage(ctx, chi.URLParam(r, "couponID"), actorID(ctx))
	if err != nil {
		writeCouponError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, couponResponse{Coupon: buildCouponPayload(coupon)})
}

func buildCouponPayload(coupon domain.Coupon) couponPayload {
	return couponPayload{
		ID:                coupon.ID,
		Code:              coupon.Code,
		Description:       coupon.Description,
		Type:              string(coupon.Type),
		DiscountValue:     coupon.DiscountValue,
		MinPurchaseAmount: coupon.MinPurchaseAmount,
		MaxDiscountAmount: coupon.MaxDiscountAmount,
		UsageLimit: usageLimitPayload{
			Total:   coupon.UsageLimit.Total,
			PerUser: coupon.UsageLimit.PerUser,
			PerDay:  coupon.UsageLimit.PerDay,
		},
		UsedCount:  coupon.UsedCount,
		ValidFrom:  formatTime(coupon.ValidFrom),
		ValidUntil: formatTime(coupon.ValidUntil),
		AppliesTo: couponScopePayload{
			Stores:       coupon.AppliesTo.Stores,
			Categories:   coupon.AppliesTo.Categories,
			Products:     coupon.AppliesTo.Products,
			UserTiers:    coupon.AppliesTo.UserTiers,
			NewUsersOnly: coupon.AppliesTo.NewUsersOnly,
		},
		IsActive:  coupon.IsActive,
		CreatedBy: coupon.CreatedBy,
		CreatedAt: formatTime(coupon.CreatedAt),
		UpdatedAt: formatTime(coupon.UpdatedAt),
	}
}

func writeCouponError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, services.ErrCouponInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCouponNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_not_found", "coupon not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCouponConflict):
		httpx.WriteError(ctx, w, httpx.NewError("coupon_conflict", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("request_too_large", "request body exceeds the allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	}
}

func actorID(ctx context.Context) string {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return ""
	}
	return strings.TrimSpace(identity.UID)
}
