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
	defaultReturnPageSize = 20
	maxReturnPageSize     = 100
	maxReturnBodySize     = 64 * 1024
)

// ReturnHandlers exposes the return lifecycle endpoints.
type ReturnHandlers struct {
	returns services.ReturnService
}

// NewReturnHandlers constructs a new ReturnHandlers instance.
func NewReturnHandlers(returns services.ReturnService) *ReturnHandlers {
	return &ReturnHandlers{returns: returns}
}

// Routes registers the /returns endpoints on the API group.
func (h *ReturnHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}

	authed := r.With(auth.RequireIdentity())
	authed.Post("/returns", h.createReturn)
	authed.Get("/returns", h.listReturns)
	authed.Get("/returns/{returnID}", h.getReturn)

	r.With(auth.RequireRole(auth.RoleStore, auth.RoleAdmin)).Post("/returns/{returnID}:store-response", h.storeResponse)
	r.With(auth.RequireRole(auth.RoleAdmin)).Post("/returns/{returnID}:review", h.adminReview)
	r.With(auth.RequireRole(auth.RoleFulfillment, auth.RoleAdmin)).Post("/returns/{returnID}:pickup", h.markPickedUp)
	r.With(auth.RequireRole(auth.RoleFulfillment, auth.RoleAdmin)).Post("/returns/{returnID}:inspect", h.markInspected)
	r.With(auth.RequireRole(auth.RoleAdmin)).Post("/returns/{returnID}:refund", h.processRefund)
}

type returnItemPayload struct {
	ProductID      string   `json:"product_id"`
	Quantity       int      `json:"quantity"`
	Reason         string   `json:"reason"`
	DetailedReason string   `json:"detailed_reason,omitempty"`
	Images         []string `json:"images,omitempty"`
}

type storeResponsePayload struct {
	Approved    bool   `json:"approved"`
	Notes       string `json:"notes,omitempty"`
	RespondedAt string `json:"responded_at"`
	RespondedBy string `json:"responded_by"`
}

type adminReviewPayload struct {
	Approved   bool   `json:"approved"`
	Notes      string `json:"notes,omitempty"`
	ReviewedAt string `json:"reviewed_at"`
	ReviewedBy string `json:"reviewed_by"`
}

type returnPayload struct {
	ID                string                `json:"id"`
	OrderID           string                `json:"order_id"`
	CustomerID        string                `json:"customer_id"`
	StoreID           string                `json:"store_id"`
	Items             []returnItemPayload   `json:"items"`
	Status            string                `json:"status"`
	ReturnMethod      string                `json:"return_method"`
	StoreResponse     *storeResponsePayload `json:"store_response,omitempty"`
	AdminReview       *adminReviewPayload   `json:"admin_review,omitempty"`
	RefundAmount      int64                 `json:"refund_amount"`
	RefundMethod      string                `json:"refund_method"`
	PickupScheduledAt string                `json:"pickup_scheduled_at,omitempty"`
	PickedUpAt        string                `json:"picked_up_at,omitempty"`
	InspectedAt       string                `json:"inspected_at,omitempty"`
	RefundedAt        string                `json:"refunded_at,omitempty"`
	CreatedAt         string                `json:"created_at"`
	UpdatedAt         string                `json:"updated_at"`
}

type returnResponse struct {
	Return returnPayload `json:"return"`
}

type returnListResponse struct {
	Items         []returnPayload `json:"items"`
	NextPageToken string          `json:"next_page_token,omitempty"`
}

type createReturnRequest struct {
	OrderID      string              `json:"order_id"`
	StoreID      string              `json:"store_id"`
	Items        []returnItemPayload `json:"items"`
	ReturnMethod string              `json:"return_method"`
	RefundAmount int64               `json:"refund_amount"`
	RefundMethod string              `json:"refund_method"`
}

type storeResponseRequest struct {
	Approved bool   `json:"approved"`
	Notes    string `json:"notes"`
}

type adminReviewRequest struct {
	Approved bool   `json:"approved"`
	Notes    string `json:"notes"`
}

func (h *ReturnHandlers) createReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	body, err := readLimitedBody(r, maxReturnBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req createReturnRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	items := make([]domain.ReturnItem, 0, len(req.Items))
	for _, item := range req.Items {
		items = append(items, domain.ReturnItem{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			Reason:         domain.ReturnReason(strings.ToLower(strings.TrimSpace(item.Reason))),
			DetailedReason: item.DetailedReason,
			Images:         item.Images,
		})
	}

	request, err := h.returns.CreateReturn(ctx, services.CreateReturnCommand{
		OrderID:      req.OrderID,
		CustomerID:   identity.UID,
		StoreID:      req.StoreID,
		Items:        items,
		ReturnMethod: domain.ReturnMethod(strings.ToLower(strings.TrimSpace(req.ReturnMethod))),
		RefundAmount: req.RefundAmount,
		RefundMethod: domain.RefundMethod(strings.ToLower(strings.TrimSpace(req.RefundMethod))),
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, returnResponse{Return: buildReturnPayload(request)})
}

func (h *ReturnHandlers) listReturns(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	query := r.URL.Query()
	pageSize, err := parsePageSize(query.Get("page_size"), defaultReturnPageSize, maxReturnPageSize)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	statuses := make([]domain.ReturnStatus, 0)
	for _, raw := range parseFilterValues(query["status"]) {
		statuses = append(statuses, domain.ReturnStatus(raw))
	}

	filter := services.ReturnListFilter{
		Status: statuses,
		Pagination: domain.Pagination{
			PageSize:  pageSize,
			PageToken: strings.TrimSpace(query.Get("page_token")),
		},
	}

	// Customers see their own returns; store staff see their store's; admins
	// see whatever the query asks for.
	switch {
	case identity.HasRole(auth.RoleAdmin):
		filter.CustomerID = strings.TrimSpace(query.Get("customer_id"))
		filter.StoreID = strings.TrimSpace(query.Get("store_id"))
	case identity.HasRole(auth.RoleStore):
		storeID := strings.TrimSpace(query.Get("store_id"))
		if storeID == "" {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "store_id is required", http.StatusBadRequest))
			return
		}
		filter.StoreID = storeID
	default:
		filter.CustomerID = identity.UID
	}

	page, err := h.returns.ListReturns(ctx, filter)
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	items := make([]returnPayload, 0, len(page.Items))
	for _, request := range page.Items {
		items = append(items, buildReturnPayload(request))
	}
	writeJSONResponse(w, http.StatusOK, returnListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *ReturnHandlers) getReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return
	}

	request, err := h.returns.GetReturn(ctx, chi.URLParam(r, "returnID"))
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}

	if !identity.HasAnyRole(auth.RoleAdmin, auth.RoleStore, auth.RoleFulfillment) && request.CustomerID != identity.UID {
		httpx.WriteError(ctx, w, httpx.NewError("return_not_found", "return not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, returnResponse{Return: buildReturnPayload(request)})
}

func (h *ReturnHandlers) storeResponse(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxReturnBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req storeResponseRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	request, err := h.returns.StoreRespond(ctx, services.StoreRespondCommand{
		ReturnID:     chi.URLParam(r, "returnID"),
		Approved:     req.Approved,
		Notes:        req.Notes,
		StoreOwnerID: actorID(ctx),
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, returnResponse{Return: buildReturnPayload(request)})
}

func (h *ReturnHandlers) adminReview(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxReturnBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	var req adminReviewRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body must be valid JSON", http.StatusBadRequest))
		return
	}

	request, err := h.returns.AdminReview(ctx, services.AdminReviewCommand{
		ReturnID: chi.URLParam(r, "returnID"),
		Approved: req.Approved,
		Notes:    req.Notes,
		AdminID:  actorID(ctx),
	})
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, returnResponse{Return: buildReturnPayload(request)})
}

func (h *ReturnHandlers) markPickedUp(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, returnID string, actor string) (domain.ReturnRequest, error) {
		return h.returns.MarkPickedUp(ctx, returnID, actor)
	})
}

func (h *ReturnHandlers) markInspected(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, returnID string, actor string) (domain.ReturnRequest, error) {
		return h.returns.MarkInspected(ctx, returnID, actor)
	})
}

func (h *ReturnHandlers) processRefund(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(ctx context.Context, returnID string, actor string) (domain.ReturnRequest, error) {
		return h.returns.ProcessRefund(ctx, returnID, actor)
	})
}

func (h *ReturnHandlers) transition(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, returnID string, actorID string) (domain.ReturnRequest, error)) {
	ctx := r.Context()
	if h.returns == nil {
		httpx.WriteError(ctx, w, httpx.NewError("return_service_unavailable", "return service unavailable", http.StatusServiceUnavailable))
		return
	}

	request, err := apply(ctx, chi.URLParam(r, "returnID"), actorID(ctx))
	if err != nil {
		writeReturnError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, returnResponse{Return: buildReturnPayload(request)})
}

func buildReturnPayload(request domain.ReturnRequest) returnPayload {
	items := make([]returnItemPayload, 0, len(request.Items))
	for _, item := range request.Items {
		items = append(items, returnItemPayload{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			Reason:         string(item.Reason),
			DetailedReason: item.DetailedReason,
			Images:         item.Images,
		})
	}

	payload := returnPayload{
		ID:                request.ID,
		OrderID:           request.OrderID,
		CustomerID:        request.CustomerID,
		StoreID:           request.StoreID,
		Items:             items,
		Status:            string(request.Status),
		ReturnMethod:      string(request.ReturnMethod),
		RefundAmount:      request.RefundAmount,
		RefundMethod:      string(request.RefundMethod),
		PickupScheduledAt: formatTimePtr(request.PickupScheduledAt),
		PickedUpAt:        formatTimePtr(request.PickedUpAt),
		InspectedAt:       formatTimePtr(request.InspectedAt),
		RefundedAt:        formatTimePtr(request.RefundedAt),
		CreatedAt:         formatTime(request.CreatedAt),
		UpdatedAt:         formatTime(request.UpdatedAt),
	}
	if response := request.StoreResponse; response != nil {
		payload.StoreResponse = &storeResponsePayload{
			Approved:    response.Approved,
			Notes:       response.Notes,
			RespondedAt: formatTime(response.RespondedAt),
			RespondedBy: response.RespondedBy,
		}
	}
	if review := request.AdminReview; review != nil {
		payload.AdminReview = &adminReviewPayload{
			Approved:   review.Approved,
			Notes:      review.Notes,
			ReviewedAt: formatTime(review.ReviewedAt),
			ReviewedBy: review.ReviewedBy,
		}
	}
	return payload
}

func writeReturnError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}

	switch {
	case errors.Is(err, services.ErrReturnInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrReturnNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("return_not_found", "return not found", http.StatusNotFound))
	case errors.Is(err, services.ErrReturnInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("return_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_server_error", "internal server error", http.StatusInternalServerError))
	}
}
