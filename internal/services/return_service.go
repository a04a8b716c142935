package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/bazario/commerce-core/internal/domain"
	"github.com/bazario/commerce-core/internal/repositories"
)

const returnIDPrefix = "ret_"

var (
	// ErrReturnInvalidInput signals the caller provided invalid data.
	ErrReturnInvalidInput = errors.New("return: invalid input")
	// ErrReturnNotFound indicates the return request could not be located.
	ErrReturnNotFound = errors.New("return: not found")
	// ErrReturnInvalidState indicates the requested transition is not allowed from the current status.
	ErrReturnInvalidState = errors.New("return: invalid state transition")
)

// returnStateTransitions maps each status to the statuses reachable from it.
// The approved->rejected and rejected->approved edges exist only for the admin
// override; once the courier has the items the decision is final.
var returnStateTransitions = map[domain.ReturnStatus][]domain.ReturnStatus{
	domain.ReturnStatusRequested: {domain.ReturnStatusApproved, domain.ReturnStatusRejected},
	domain.ReturnStatusApproved:  {domain.ReturnStatusRejected, domain.ReturnStatusPickedUp},
	domain.ReturnStatusRejected:  {domain.ReturnStatusApproved},
	domain.ReturnStatusPickedUp:  {domain.ReturnStatusInspected},
	domain.ReturnStatusInspected: {domain.ReturnStatusRefunded, domain.ReturnStatusReplaced},
}

// transitionSources lists every status from which target is reachable.
func transitionSources(target domain.ReturnStatus) []domain.ReturnStatus {
	var sources []domain.ReturnStatus
	for from, nexts := range returnStateTransitions {
		for _, next := range nexts {
			if next == target {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

// ReturnServiceDeps bundles collaborators required to construct the return service.
type ReturnServiceDeps struct {
	Returns     repositories.ReturnRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type returnService struct {
	returns repositories.ReturnRepository
	clock   func() time.Time
	newID   func() string
	events  EventPublisher
	logger  func(context.Context, string, map[string]any)
}

// NewReturnService wires dependencies into a concrete ReturnService implementation.
func NewReturnService(deps ReturnServiceDeps) (ReturnService, error) {
	if deps.Returns == nil {
		return nil, errors.New("return service: return repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return returnIDPrefix + ulid.Make().String()
		}
	}

	events := deps.Events
	if events == nil {
		events = NopEventPublisher{}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &returnService{
		returns: deps.Returns,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: events,
		logger: logger,
	}, nil
}

func (s *returnService) CreateReturn(ctx context.Context, cmd CreateReturnCommand) (domain.ReturnRequest, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: order id is required", ErrReturnInvalidInput)
	}
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: customer id is required", ErrReturnInvalidInput)
	}
	storeID := strings.TrimSpace(cmd.StoreID)
	if storeID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: store id is required", ErrReturnInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return domain.ReturnRequest{}, fmt.Errorf("%w: at least one item is required", ErrReturnInvalidInput)
	}
	items := make([]domain.ReturnItem, 0, len(cmd.Items))
	for i, item := range cmd.Items {
		productID := strings.TrimSpace(item.ProductID)
		if productID == "" {
			return domain.ReturnRequest{}, fmt.Errorf("%w: items[%d].productId is required", ErrReturnInvalidInput, i)
		}
		if item.Quantity <= 0 {
			return domain.ReturnRequest{}, fmt.Errorf("%w: items[%d].quantity must be positive", ErrReturnInvalidInput, i)
		}
		if !domain.ValidReturnReason(item.Reason) {
			return domain.ReturnRequest{}, fmt.Errorf("%w: items[%d].reason %q is not recognised", ErrReturnInvalidInput, i, item.Reason)
		}
		items = append(items, domain.ReturnItem{
			ProductID:      productID,
			Quantity:       item.Quantity,
			Reason:         item.Reason,
			DetailedReason: strings.TrimSpace(item.DetailedReason),
			Images:         cloneStringSlice(item.Images),
		})
	}
	if !domain.ValidReturnMethod(cmd.ReturnMethod) {
		return domain.ReturnRequest{}, fmt.Errorf("%w: return method %q is not recognised", ErrReturnInvalidInput, cmd.ReturnMethod)
	}
	if cmd.RefundAmount <= 0 {
		return domain.ReturnRequest{}, fmt.Errorf("%w: refund amount must be positive", ErrReturnInvalidInput)
	}
	if !domain.ValidRefundMethod(cmd.RefundMethod) {
		return domain.ReturnRequest{}, fmt.Errorf("%w: refund method %q is not recognised", ErrReturnInvalidInput, cmd.RefundMethod)
	}

	now := s.clock()
	request := domain.ReturnRequest{
		ID:           s.newID(),
		OrderID:      orderID,
		CustomerID:   customerID,
		StoreID:      storeID,
		Items:        items,
		Status:       domain.ReturnStatusRequested,
		ReturnMethod: cmd.ReturnMethod,
		RefundAmount: cmd.RefundAmount,
		RefundMethod: cmd.RefundMethod,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.returns.Insert(ctx, request); err != nil {
		return domain.ReturnRequest{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:       EventReturnCreated,
		OccurredAt: now,
		ActorID:    customerID,
		Payload: map[string]any{
			"returnId":   request.ID,
			"orderId":    request.OrderID,
			"customerId": request.CustomerID,
			"storeId":    request.StoreID,
		},
	})

	return request, nil
}

func (s *returnService) GetReturn(ctx context.Context, returnID string) (domain.ReturnRequest, error) {
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}
	request, err := s.returns.FindByID(ctx, returnID)
	if err != nil {
		return domain.ReturnRequest{}, s.mapRepositoryError(err)
	}
	return request, nil
}

func (s *returnService) ListReturns(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	page, err := s.returns.List(ctx, repositories.ReturnListFilter{
		CustomerID: strings.TrimSpace(filter.CustomerID),
		StoreID:    strings.TrimSpace(filter.StoreID),
		Status:     filter.Status,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[domain.ReturnRequest]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

// StoreRespond records the store owner's decision. It is the only transition
// out of requested, so a second response hits the compare-and-swap guard.
func (s *returnService) StoreRespond(ctx context.Context, cmd StoreRespondCommand) (domain.ReturnRequest, error) {
	returnID := strings.TrimSpace(cmd.ReturnID)
	if returnID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}
	storeOwnerID := strings.TrimSpace(cmd.StoreOwnerID)
	if storeOwnerID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: store owner id is required", ErrReturnInvalidInput)
	}

	now := s.clock()
	request, err := s.returns.Transition(ctx, returnID,
		[]domain.ReturnStatus{domain.ReturnStatusRequested},
		func(r *domain.ReturnRequest) error {
			r.StoreResponse = &domain.StoreResponse{
				Approved:    cmd.Approved,
				Notes:       strings.TrimSpace(cmd.Notes),
				RespondedAt: now,
				RespondedBy: storeOwnerID,
			}
			if cmd.Approved {
				s.approve(r, now)
			} else {
				r.Status = domain.ReturnStatusRejected
			}
			r.UpdatedAt = now
			return nil
		})
	if err != nil {
		return domain.ReturnRequest{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:       EventReturnStoreResponded,
		OccurredAt: now,
		ActorID:    storeOwnerID,
		Payload: map[string]any{
			"returnId": request.ID,
			"approved": cmd.Approved,
			"status":   string(request.Status),
		},
	})

	return request, nil
}

// AdminReview records the review whatever the current status. The status only
// flips when the admin overrides the store's decision and the items are not
// yet with the courier; every other review is a status no-op.
func (s *returnService) AdminReview(ctx context.Context, cmd AdminReviewCommand) (domain.ReturnRequest, error) {
	returnID := strings.TrimSpace(cmd.ReturnID)
	if returnID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}
	adminID := strings.TrimSpace(cmd.AdminID)
	if adminID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: admin id is required", ErrReturnInvalidInput)
	}

	now := s.clock()
	statusChanged := false
	request, err := s.returns.Transition(ctx, returnID, nil,
		func(r *domain.ReturnRequest) error {
			r.AdminReview = &domain.AdminReview{
				Approved:   cmd.Approved,
				Notes:      strings.TrimSpace(cmd.Notes),
				ReviewedAt: now,
				ReviewedBy: adminID,
			}
			switch {
			case cmd.Approved && r.Status == domain.ReturnStatusRejected:
				s.approve(r, now)
				statusChanged = true
			case !cmd.Approved && r.Status == domain.ReturnStatusApproved:
				r.Status = domain.ReturnStatusRejected
				r.PickupScheduledAt = nil
				statusChanged = true
			}
			r.UpdatedAt = now
			return nil
		})
	if err != nil {
		return domain.ReturnRequest{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:       EventReturnAdminReviewed,
		OccurredAt: now,
		ActorID:    adminID,
		Payload: map[string]any{
			"returnId": request.ID,
			"approved": cmd.Approved,
			"status":   string(request.Status),
		},
	})
	if !statusChanged {
		s.publishEvent(ctx, DomainEvent{
			Type:       EventReturnUpdated,
			OccurredAt: now,
			ActorID:    adminID,
			Payload: map[string]any{
				"returnId": request.ID,
				"status":   string(request.Status),
			},
		})
	}

	return request, nil
}

func (s *returnService) MarkPickedUp(ctx context.Context, returnID string, actorID string) (domain.ReturnRequest, error) {
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}

	now := s.clock()
	request, err := s.returns.Transition(ctx, returnID,
		[]domain.ReturnStatus{domain.ReturnStatusApproved},
		func(r *domain.ReturnRequest) error {
			r.Status = domain.ReturnStatusPickedUp
			r.PickedUpAt = &now
			r.UpdatedAt = now
			return nil
		})
	if err != nil {
		return domain.ReturnRequest{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:       EventReturnPickedUp,
		OccurredAt: now,
		ActorID:    actorID,
		Payload: map[string]any{
			"returnId": request.ID,
			"status":   string(request.Status),
		},
	})

	return request, nil
}

func (s *returnService) MarkInspected(ctx context.Context, returnID string, actorID string) (domain.ReturnRequest, error) {
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}

	now := s.clock()
	request, err := s.returns.Transition(ctx, returnID,
		[]domain.ReturnStatus{domain.ReturnStatusPickedUp},
		func(r *domain.ReturnRequest) error {
			r.Status = domain.ReturnStatusInspected
			r.InspectedAt = &now
			r.UpdatedAt = now
			return nil
		})
	if err != nil {
		return domain.ReturnRequest{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:       EventReturnInspected,
		OccurredAt: now,
		ActorID:    actorID,
		Payload: map[string]any{
			"returnId": request.ID,
			"status":   string(request.Status),
		},
	})

	return request, nil
}

// ProcessRefund moves an inspected return to its terminal refunded state and
// emits the refund snapshot downstream payment workers consume.
func (s *returnService) ProcessRefund(ctx context.Context, returnID string, actorID string) (domain.ReturnRequest, error) {
	returnID = strings.TrimSpace(returnID)
	if returnID == "" {
		return domain.ReturnRequest{}, fmt.Errorf("%w: return id is required", ErrReturnInvalidInput)
	}

	now := s.clock()
	request, err := s.returns.Transition(ctx, returnID,
		transitionSources(domain.ReturnStatusRefunded),
		func(r *domain.ReturnRequest) error {
			r.Status = domain.ReturnStatusRefunded
			r.RefundedAt = &now
			r.UpdatedAt = now
			return nil
		})
	if err != nil {
		return domain.ReturnRequest{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:       EventReturnRefunded,
		OccurredAt: now,
		ActorID:    actorID,
		Payload: map[string]any{
			"returnId":     request.ID,
			"orderId":      request.OrderID,
			"customerId":   request.CustomerID,
			"refundAmount": request.RefundAmount,
			"refundMethod": string(request.RefundMethod),
		},
	})

	return request, nil
}

// approve flips the status and schedules the courier pickup when the customer
// chose courier collection. Drop-off returns carry no pickup slot.
func (s *returnService) approve(r *domain.ReturnRequest, now time.Time) {
	r.Status = domain.ReturnStatusApproved
	if r.ReturnMethod == domain.ReturnMethodCourierPickup && r.PickupScheduledAt == nil {
		pickupAt := now.Add(24 * time.Hour)
		r.PickupScheduledAt = &pickupAt
	}
}

func (s *returnService) publishEvent(ctx context.Context, event DomainEvent) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "return.event.publish_failed", map[string]any{
			"type":  event.Type,
			"error": err.Error(),
		})
	}
}

func (s *returnService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var conflict *repositories.StateConflictError
	if errors.As(err, &conflict) {
		return fmt.Errorf("%w: %s", ErrReturnInvalidState, conflict.Error())
	}

	if repoErr, ok := asRepositoryError(err); ok {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrReturnNotFound, repoErr.Error())
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s", ErrReturnInvalidState, repoErr.Error())
		}
	}
	return err
}
