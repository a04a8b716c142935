package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/bazario/commerce-core/internal/domain"
	pfirestore "github.com/bazario/commerce-core/internal/platform/firestore"
	"github.com/bazario/commerce-core/internal/repositories"
)

const returnsCollection = "returnRequests"

type returnItemDocument struct {
	ProductID      string   `firestore:"productId"`
	Quantity       int      `firestore:"quantity"`
	Reason         string   `firestore:"reason"`
	DetailedReason string   `firestore:"detailedReason,omitempty"`
	Images         []string `firestore:"images,omitempty"`
}

type storeResponseDocument struct {
	Approved    bool      `firestore:"approved"`
	Notes       string    `firestore:"notes,omitempty"`
	RespondedAt time.Time `firestore:"respondedAt"`
	RespondedBy string    `firestore:"respondedBy"`
}

type adminReviewDocument struct {
	Approved   bool      `firestore:"approved"`
	Notes      string    `firestore:"notes,omitempty"`
	ReviewedAt time.Time `firestore:"reviewedAt"`
	ReviewedBy string    `firestore:"reviewedBy"`
}

type returnRequestDocument struct {
	OrderID           string                 `firestore:"orderId"`
	CustomerID        string                 `firestore:"customerId"`
	StoreID           string                 `firestore:"storeId"`
	Items             []returnItemDocument   `firestore:"items"`
	Status            string                 `firestore:"status"`
	ReturnMethod      string                 `firestore:"returnMethod"`
	StoreResponse     *storeResponseDocument `firestore:"storeResponse,omitempty"`
	AdminReview       *adminReviewDocument   `firestore:"adminReview,omitempty"`
	RefundAmount      int64                  `firestore:"refundAmount"`
	RefundMethod      string                 `firestore:"refundMethod"`
	PickupScheduledAt *time.Time             `firestore:"pickupScheduledAt,omitempty"`
	PickedUpAt        *time.Time             `firestore:"pickedUpAt,omitempty"`
	InspectedAt       *time.Time             `firestore:"inspectedAt,omitempty"`
	RefundedAt        *time.Time             `firestore:"refundedAt,omitempty"`
	CreatedAt         time.Time              `firestore:"createdAt"`
	UpdatedAt         time.Time              `firestore:"updatedAt"`
}

// ReturnRepository implements repositories.ReturnRepository backed by Firestore.
type ReturnRepository struct {
	provider *pfirestore.Provider
	returns  *pfirestore.BaseRepository[returnRequestDocument]
}

// NewReturnRepository constructs a Firestore-backed return repository.
func NewReturnRepository(provider *pfirestore.Provider) (*ReturnRepository, error) {
	if provider == nil {
		return nil, errors.New("return repository requires firestore provider")
	}
	return &ReturnRepository{
		provider: provider,
		returns:  pfirestore.NewBaseRepository[returnRequestDocument](provider, returnsCollection, nil),
	}, nil
}

// Insert stores a new return request.
func (r *ReturnRepository) Insert(ctx context.Context, request domain.ReturnRequest) error {
	if r == nil || r.returns == nil {
		return errors.New("return repository not initialised")
	}
	returnID := strings.TrimSpace(request.ID)
	if returnID == "" {
		return errors.New("return repository: return id is required")
	}
	_, err := r.returns.Create(ctx, returnID, encodeReturnDocument(request))
	return err
}

// FindByID fetches a single return request.
func (r *ReturnRepository) FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	if r == nil || r.returns == nil {
		return domain.ReturnRequest{}, errors.New("return repository not initialised")
	}
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return domain.ReturnRequest{}, errors.New("return repository: return id is required")
	}
	doc, err := r.returns.Get(ctx, returnID)
	if err != nil {
		return domain.ReturnRequest{}, err
	}
	return decodeReturnDocument(doc.ID, doc.Data), nil
}

// List returns requests ordered by creation time, newest first.
func (r *ReturnRepository) List(ctx context.Context, filter repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	if r == nil || r.returns == nil {
		return domain.CursorPage[domain.ReturnRequest]{}, errors.New("return repository not initialised")
	}

	limit := filter.Pagination.PageSize
	if limit < 0 {
		limit = 0
	}
	fetchLimit := limit
	if limit > 0 {
		fetchLimit = limit + 1
	}

	var startAfter []any
	if token := strings.TrimSpace(filter.Pagination.PageToken); token != "" {
		tokenTime, tokenID, err := decodeListToken(token)
		if err != nil {
			return domain.CursorPage[domain.ReturnRequest]{}, fmt.Errorf("return repository: invalid page token: %w", err)
		}
		startAfter = []any{tokenTime, tokenID}
	}

	statusFilters := make([]string, 0, len(filter.Status))
	for _, status := range filter.Status {
		if trimmed := strings.TrimSpace(string(status)); trimmed != "" {
			statusFilters = append(statusFilters, trimmed)
		}
	}

	docs, err := r.returns.Query(ctx, func(q firestore.Query) firestore.Query {
		if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
			q = q.Where("customerId", "==", customerID)
		}
		if storeID := strings.TrimSpace(filter.StoreID); storeID != "" {
			q = q.Where("storeId", "==", storeID)
		}
		if len(statusFilters) == 1 {
			q = q.Where("status", "==", statusFilters[0])
		} else if len(statusFilters) > 1 {
			// Firestore in clause supports up to 10 values.
			if len(statusFilters) > 10 {
				statusFilters = statusFilters[:10]
			}
			q = q.Where("status", "in", statusFilters)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if len(startAfter) == 2 {
			q = q.StartAfter(startAfter...)
		}
		if fetchLimit > 0 {
			q = q.Limit(fetchLimit)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, err
	}

	nextToken := ""
	if limit > 0 && len(docs) == fetchLimit {
		last := docs[len(docs)-1]
		tokenTime := last.Data.CreatedAt
		if tokenTime.IsZero() {
			tokenTime = last.CreateTime
		}
		nextToken = encodeListToken(tokenTime, last.ID)
		docs = docs[:len(docs)-1]
	}

	items := make([]domain.ReturnRequest, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeReturnDocument(doc.ID, doc.Data))
	}
	return domain.CursorPage[domain.ReturnRequest]{Items: items, NextPageToken: nextToken}, nil
}

// Transition applies mutate under a compare-and-swap on the current status.
// An empty expected set accepts any current status. The read and write happen
// in one transaction, so two concurrent callers can never both apply the same
// transition.
func (r *ReturnRepository) Transition(ctx context.Context, returnID string, expected []domain.ReturnStatus, mutate func(*domain.ReturnRequest) error) (domain.ReturnRequest, error) {
	if r == nil || r.provider == nil {
		return domain.ReturnRequest{}, errors.New("return repository not initialised")
	}
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return domain.ReturnRequest{}, errors.New("return repository: return id is required")
	}
	if mutate == nil {
		return domain.ReturnRequest{}, errors.New("return repository: mutate function is required")
	}

	var transitioned domain.ReturnRequest
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.returns.DocumentRef(ctx, returnID)
		if err != nil {
			return err
		}
		snapshot, err := tx.Get(ref)
		if err != nil {
			return err
		}
		var doc returnRequestDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore returnRequests decode %s: %w", returnID, err)
		}

		request := decodeReturnDocument(snapshot.Ref.ID, doc)
		allowed := len(expected) == 0
		for _, status := range expected {
			if request.Status == status {
				allowed = true
				break
			}
		}
		if !allowed {
			return &repositories.StateConflictError{
				ReturnID: returnID,
				Current:  request.Status,
				Expected: expected,
			}
		}

		if err := mutate(&request); err != nil {
			return err
		}
		if err := tx.Set(ref, encodeReturnDocument(request)); err != nil {
			return err
		}
		transitioned = request
		return nil
	})
	if err != nil {
		var conflict *repositories.StateConflictError
		if errors.As(err, &conflict) {
			return domain.ReturnRequest{}, conflict
		}
		return domain.ReturnRequest{}, pfirestore.WrapError("returns.transition", err)
	}
	return transitioned, nil
}

func encodeReturnDocument(request domain.ReturnRequest) returnRequestDocument {
	items := make([]returnItemDocument, 0, len(request.Items))
	for _, item := range request.Items {
		items = append(items, returnItemDocument{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			Reason:         string(item.Reason),
			DetailedReason: item.DetailedReason,
			Images:         item.Images,
		})
	}

	doc := returnRequestDocument{
		OrderID:           request.OrderID,
		CustomerID:        request.CustomerID,
		StoreID:           request.StoreID,
		Items:             items,
		Status:            string(request.Status),
		ReturnMethod:      string(request.ReturnMethod),
		RefundAmount:      request.RefundAmount,
		RefundMethod:      string(request.RefundMethod),
		PickupScheduledAt: request.PickupScheduledAt,
		PickedUpAt:        request.PickedUpAt,
		InspectedAt:       request.InspectedAt,
		RefundedAt:        request.RefundedAt,
		CreatedAt:         request.CreatedAt.UTC(),
		UpdatedAt:         request.UpdatedAt.UTC(),
	}
	if response := request.StoreResponse; response != nil {
		doc.StoreResponse = &storeResponseDocument{
			Approved:    response.Approved,
			Notes:       response.Notes,
			RespondedAt: response.RespondedAt.UTC(),
			RespondedBy: response.RespondedBy,
		}
	}
	if review := request.AdminReview; review != nil {
		doc.AdminReview = &adminReviewDocument{
			Approved:   review.Approved,
			Notes:      review.Notes,
			ReviewedAt: review.ReviewedAt.UTC(),
			ReviewedBy: review.ReviewedBy,
		}
	}
	return doc
}

func decodeReturnDocument(id string, doc returnRequestDocument) domain.ReturnRequest {
	items := make([]domain.ReturnItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.ReturnItem{
			ProductID:      item.ProductID,
			Quantity:       item.Quantity,
			Reason:         domain.ReturnReason(item.Reason),
			DetailedReason: item.DetailedReason,
			Images:         item.Images,
		})
	}

	request := domain.ReturnRequest{
		ID:                id,
		OrderID:           doc.OrderID,
		CustomerID:        doc.CustomerID,
		StoreID:           doc.StoreID,
		Items:             items,
		Status:            domain.ReturnStatus(doc.Status),
		ReturnMethod:      domain.ReturnMethod(doc.ReturnMethod),
		RefundAmount:      doc.RefundAmount,
		RefundMethod:      domain.RefundMethod(doc.RefundMethod),
		PickupScheduledAt: doc.PickupScheduledAt,
		PickedUpAt:        doc.PickedUpAt,
		InspectedAt:       doc.InspectedAt,
		RefundedAt:        doc.RefundedAt,
		CreatedAt:         doc.CreatedAt,
		UpdatedAt:         doc.UpdatedAt,
	}
	if response := doc.StoreResponse; response != nil {
		request.StoreResponse = &domain.StoreResponse{
			Approved:    response.Approved,
			Notes:       response.Notes,
			RespondedAt: response.RespondedAt,
			RespondedBy: response.RespondedBy,
		}
	}
	if review := doc.AdminReview; review != nil {
		request.AdminReview = &domain.AdminReview{
			Approved:   review.Approved,
			Notes:      review.Notes,
			ReviewedAt: review.ReviewedAt,
			ReviewedBy: review.ReviewedBy,
		}
	}
	return request
}
