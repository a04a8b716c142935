package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/bazario/commerce-core/internal/domain"
	"github.com/bazario/commerce-core/internal/repositories"
)

func validCreateReturnCommand() CreateReturnCommand {
	return CreateReturnCommand{
		OrderID:    "ord-1",
		CustomerID: "user-1",
		StoreID:    "store-1",
		Items: []domain.ReturnItem{
			{ProductID: "prod-1", Quantity: 1, Reason: domain.ReturnReasonDefective, DetailedReason: "cracked screen"},
		},
		ReturnMethod: domain.ReturnMethodCourierPickup,
		RefundAmount: 4500,
		RefundMethod: domain.RefundMethodOriginalPayment,
	}
}

func newReturnServiceForTest(t *testing.T, repo *stubReturnRepository, now time.Time, events EventPublisher) ReturnService {
	t.Helper()
	svc, err := NewReturnService(ReturnServiceDeps{
		Returns: repo,
		Clock: func() time.Time {
			return now
		},
		IDGenerator: func() string { return "ret_01TEST" },
		Events:      events,
	})
	if err != nil {
		t.Fatalf("NewReturnService: %v", err)
	}
	return svc
}

func TestReturnService_CreateReturn_Success(t *testing.T) {
	now := time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
	repo := newStubReturnRepository()
	publisher := &capturingPublisher{}
	svc := newReturnServiceForTest(t, repo, now, publisher)

	request, err := svc.CreateReturn(context.Background(), validCreateReturnCommand())
	if err != nil {
		t.Fatalf("CreateReturn returned error: %v", err)
	}
	if request.Status != domain.ReturnStatusRequested {
		t.Fatalf("expected requested status got %s", request.Status)
	}
	if request.ID != "ret_01TEST" {
		t.Fatalf("unexpected id %s", request.ID)
	}
	if request.PickupScheduledAt != nil {
		t.Fatalf("pickup must not be scheduled before approval")
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != EventReturnCreated {
		t.Fatalf("expected return.created event, got %+v", publisher.events)
	}
}

func TestReturnService_CreateReturn_Validation(t *testing.T) {
	now := time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
	repo := newStubReturnRepository()
	svc := newReturnServiceForTest(t, repo, now, nil)

	noItems := validCreateReturnCommand()
	noItems.Items = nil
	if _, err := svc.CreateReturn(context.Background(), noItems); !errors.Is(err, ErrReturnInvalidInput) {
		t.Fatalf("expected ErrReturnInvalidInput for empty items got %v", err)
	}

	badReason := validCreateReturnCommand()
	badReason.Items[0].Reason = "melted"
	if _, err := svc.CreateReturn(context.Background(), badReason); !errors.Is(err, ErrReturnInvalidInput) {
		t.Fatalf("expected ErrReturnInvalidInput for unknown reason got %v", err)
	}

	badAmount := validCreateReturnCommand()
	badAmount.RefundAmount = 0
	if _, err := svc.CreateReturn(context.Background(), badAmount); !errors.Is(err, ErrReturnInvalidInput) {
		t.Fatalf("expected ErrReturnInvalidInput for zero refund got %v", err)
	}

	badMethod := validCreateReturnCommand()
	badMethod.ReturnMethod = "teleport"
	if _, err := svc.CreateReturn(context.Background(), badMethod); !errors.Is(err, ErrReturnInvalidInput) {
		t.Fatalf("expected ErrReturnInvalidInput for unknown method got %v", err)
	}
}

func TestReturnService_StoreRespond_ApproveSchedulesPickup(t *testing.T) {
	now := time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
	repo := newStubReturnRepository()
	publisher := &capturingPublisher{}
	svc := newReturnServiceForTest(t, repo, now, publisher)

	created, err := svc.CreateReturn(context.Background(), validCreateReturnCommand())
	if err != nil {
		t.Fatalf("CreateReturn returned error: %v", err)
	}

	updated, err := svc.StoreRespond(context.Background(), StoreRespondCommand{
		ReturnID:     created.ID,
		Approved:     true,
		Notes:        "ok to return",
		StoreOwnerID: "owner-1",
	})
	if err != nil {
		t.Fatalf("StoreRespond returned error: %v", err)
	}
	if updated.Status != domain.ReturnStatusApproved {
		t.Fatalf("expected approved status got %s", updated.Status)
	}
	if updated.StoreResponse == nil || !updated.StoreResponse.Approved || updated.StoreResponse.RespondedBy != "owner-1" {
		t.Fatalf("unexpected store response %+v", updated.StoreResponse)
	}
	if updated.PickupScheduledAt == nil {
		t.Fatalf("expected pickup slot for courier return")
	}
	if got := *updated.PickupScheduledAt; !got.After(now) {
		t.Fatalf("pickup slot %v must be after approval time %v", got, now)
	}
	if publisher.events[len(publisher.events)-1].Type != EventReturnStoreResponded {
		t.Fatalf("expected store.responded event, got %+v", publisher.events)
	}
}

func TestReturnService_StoreRespond_DropOffHasNoPickup(t *testing.T) {
	now := time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
	repo := newStubReturnRepository()
	svc := newReturnServiceForTest(t, repo, now, nil)

	cmd := validCreateReturnCommand()
	cmd.ReturnMethod = domain.ReturnMethodDropOff
	created, err := svc.CreateReturn(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreateReturn returned error: %v", err)
	}

	updated, err := svc.StoreRespond(context.Background(), StoreRespondCommand{
		ReturnID:     created.ID,
		Approved:     true,
		StoreOwnerID: "owner-1",
	})
	if err != nil {
		t.Fatalf("StoreRespond returned error: %v", err)
	}
	if updated.PickupScheduledAt != nil {
		t.Fatalf("drop-off returns must not get a pickup slot")
	}
}

func TestReturnService_StoreRespond_SecondResponseConflicts(t *testing.T) {
	now := time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
	repo := newStubReturnRepository()
	svc := newReturnServiceForTest(t, repo, now, nil)

	created, err := svc.CreateReturn(context.Background(), validCreateReturnCommand())
	if err != nil {
		t.Fatalf("CreateReturn returned error: %v", err)
	}
	if _, err := svc.StoreRespond(context.Background(), StoreRespondCommand{ReturnID: created.ID, Approved: false, StoreOwnerID: "owner-1"}); err != nil {
		t.Fatalf("first StoreRespond returned error: %v", err)
	}

	_, err = svc.StoreRespond(context.Background(), StoreRespondCommand{ReturnID: created.ID, Approved: true, StoreOwnerID: "owner-1"})
	if !errors.Is(err, ErrReturnInvalidState) {
		t.Fatalf("expected ErrReturnInvalidState got %v", err)
	}
}

func TestReturnService_AdminReview_OverridesRejection(t *testing.T) {
	now := time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
	repo := newStubReturnRepository()
	publisher := &capturingPublisher{}
	svc := newReturnServiceForTest(t, repo, now, publisher)

	created, err := svc.CreateReturn(context.Background(), validCreateReturnCommand())
	if err != nil {
		t.Fatalf("CreateReturn returned error: %v", err)
	}
	if _, err := svc.StoreRespond(context.Background(), StoreRespondCommand{ReturnID: created.ID, Approved: false, StoreOwnerID: "owner-1"}); err != nil {
		t.Fatalf("StoreRespond returned error: %v", err)
	}

	updated, err := svc.AdminReview(context.Background(), AdminReviewCommand{
		ReturnID: created.ID,
		Approved: true,
		Notes:    "customer provided proof",
		AdminID:  "admin-1",
	})
	if err != nil {
		t.Fatalf("AdminReview returned error: %v", err)
	}
	if updated.Status != domain.ReturnStatusApproved {
		t.Fatalf("expected admin override to approve, got %s", updated.Status)
	}
	if updated.AdminReview == nil || updated.AdminReview.ReviewedBy != "admin-1" {
		t.Fatalf("unexpected admin review %+v", updated.AdminReview)
	}
	if updated.StoreResponse == nil || updated.StoreResponse.Approved {
		t.Fatalf("store response must stay recorded as rejected, got %+v", updated.StoreResponse)
	}
	if updated.PickupScheduledAt == nil {
		t.Fatalf("override approval must schedule the courier pickup")
	}
	if publisher.events[len(publisher.events)-1].Type != EventReturnAdminReviewed {
		t.Fatalf("expected admin.reviewed event, got %+v", publisher.events)
	}
}

func TestReturnService_AdminReview_AfterPickupRecordsOnly(t *testing.T) {
	now := time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
	repo := newStubReturnRepository()
	svc := newReturnServiceForTest(t, repo, now, nil)

	created, err := svc.CreateReturn(context.Background(), validCreateReturnCommand())
	if err != nil {
		t.Fatalf("CreateReturn returned error: %v", err)
	}
	if _, err := svc.StoreRespond(context.Background(), StoreRespondCommand{ReturnID: created.ID, Approved: true, StoreOwnerID: "owner-1"}); err != nil {
		t.Fatalf("StoreRespond returned error: %v", err)
	}
	if _, err := svc.MarkPickedUp(context.Background(), created.ID, "courier-1"); err != nil {
		t.Fatalf("MarkPickedUp returned error: %v", err)
	}

	updated, err := svc.AdminReview(context.Background(), AdminReviewCommand{ReturnID: created.ID, Approved: false, AdminID: "admin-1"})
	if err != nil {
		t.Fatalf("AdminReview returned error: %v", err)
	}
	if updated.Status != domain.ReturnStatusPickedUp {
		t.Fatalf("status must not change after pickup, got %s", updated.Status)
	}
	if updated.AdminReview == nil || updated.AdminReview.Approved {
		t.Fatalf("expected recorded rejection review, got %+v", updated.AdminReview)
	}
}

func TestReturnService_AdminReview_BeforeStoreResponseRecordsOnly(t *testing.T) {
	now := time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
	repo := newStubReturnRepository()
	publisher := &capturingPublisher{}
	svc := newReturnServiceForTest(t, repo, now, publisher)

	created, err := svc.CreateReturn(context.Background(), validCreateReturnCommand())
	if err != nil {
		t.Fatalf("CreateReturn returned error: %v", err)
	}

	updated, err := svc.AdminReview(context.Background(), AdminReviewCommand{
		ReturnID: created.ID,
		Approved: true,
		Notes:    "flagged for manual check",
		AdminID:  "admin-1",
	})
	if err != nil {
		t.Fatalf("AdminReview returned error: %v", err)
	}
	if updated.Status != domain.ReturnStatusRequested {
		t.Fatalf("review before the store responds must not change status, got %s", updated.Status)
	}
	if updated.AdminReview == nil || updated.AdminReview.ReviewedBy != "admin-1" {
		t.Fatalf("expected recorded review, got %+v", updated.AdminReview)
	}
	if updated.PickupScheduledAt != nil {
		t.Fatalf("no-op review must not schedule a pickup")
	}

	last := publisher.events[len(publisher.events)-1]
	if last.Type != EventReturnUpdated {
		t.Fatalf("expected return.updated for a status no-op, got %s", last.Type)
	}
	if publisher.events[len(publisher.events)-2].Type != EventReturnAdminReviewed {
		t.Fatalf("expected admin.reviewed event, got %+v", publisher.events)
	}
}

func TestReturnService_MarkPickedUp_SecondCallConflicts(t *testing.T) {
	now := time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
	repo := newStubReturnRepository()
	svc := newReturnServiceForTest(t, repo, now, nil)

	created, err := svc.CreateReturn(context.Background(), validCreateReturnCommand())
	if err != nil {
		t.Fatalf("CreateReturn returned error: %v", err)
	}
	if _, err := svc.StoreRespond(context.Background(), StoreRespondCommand{ReturnID: created.ID, Approved: true, StoreOwnerID: "owner-1"}); err != nil {
		t.Fatalf("StoreRespond returned error: %v", err)
	}

	if _, err := svc.MarkPickedUp(context.Background(), created.ID, "courier-1"); err != nil {
		t.Fatalf("first MarkPickedUp returned error: %v", err)
	}
	if _, err := svc.MarkPickedUp(context.Background(), created.ID, "courier-1"); !errors.Is(err, ErrReturnInvalidState) {
		t.Fatalf("expected ErrReturnInvalidState on second MarkPickedUp got %v", err)
	}
}

func TestReturnService_OverriddenRejectionLifecycle(t *testing.T) {
	current := time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
	repo := newStubReturnRepository()
	publisher := &capturingPublisher{}
	svc, err := NewReturnService(ReturnServiceDeps{
		Returns:     repo,
		Clock:       func() time.Time { return current },
		IDGenerator: func() string { return "ret_01TEST" },
		Events:      publisher,
	})
	if err != nil {
		t.Fatalf("NewReturnService: %v", err)
	}

	created, err := svc.CreateReturn(context.Background(), validCreateReturnCommand())
	if err != nil {
		t.Fatalf("CreateReturn returned error: %v", err)
	}
	if _, err := svc.StoreRespond(context.Background(), StoreRespondCommand{ReturnID: created.ID, Approved: false, StoreOwnerID: "owner-1"}); err != nil {
		t.Fatalf("StoreRespond returned error: %v", err)
	}

	current = current.Add(time.Hour)
	overridden, err := svc.AdminReview(context.Background(), AdminReviewCommand{ReturnID: created.ID, Approved: true, AdminID: "admin-1"})
	if err != nil {
		t.Fatalf("AdminReview returned error: %v", err)
	}
	if overridden.Status != domain.ReturnStatusApproved {
		t.Fatalf("expected override to approve, got %s", overridden.Status)
	}
	if overridden.PickupScheduledAt == nil {
		t.Fatalf("expected pickup slot after override approval")
	}

	current = current.Add(time.Hour)
	pickedUp, err := svc.MarkPickedUp(context.Background(), created.ID, "courier-1")
	if err != nil {
		t.Fatalf("MarkPickedUp returned error: %v", err)
	}
	current = current.Add(time.Hour)
	inspected, err := svc.MarkInspected(context.Background(), created.ID, "warehouse-1")
	if err != nil {
		t.Fatalf("MarkInspected returned error: %v", err)
	}
	current = current.Add(time.Hour)
	refunded, err := svc.ProcessRefund(context.Background(), created.ID, "admin-1")
	if err != nil {
		t.Fatalf("ProcessRefund returned error: %v", err)
	}
	if refunded.Status != domain.ReturnStatusRefunded {
		t.Fatalf("expected refunded status got %s", refunded.Status)
	}

	if refunded.PickupScheduledAt == nil || refunded.PickedUpAt == nil || refunded.InspectedAt == nil || refunded.RefundedAt == nil {
		t.Fatalf("expected all milestone timestamps set, got %+v", refunded)
	}
	if !pickedUp.PickedUpAt.Before(*inspected.InspectedAt) {
		t.Fatalf("PickedUpAt %v must precede InspectedAt %v", pickedUp.PickedUpAt, inspected.InspectedAt)
	}
	if !inspected.InspectedAt.Before(*refunded.RefundedAt) {
		t.Fatalf("InspectedAt %v must precede RefundedAt %v", inspected.InspectedAt, refunded.RefundedAt)
	}

	// Reviews stay recordable after the terminal state; the status holds.
	current = current.Add(time.Hour)
	reviewed, err := svc.AdminReview(context.Background(), AdminReviewCommand{ReturnID: created.ID, Approved: false, AdminID: "admin-2"})
	if err != nil {
		t.Fatalf("AdminReview after refund returned error: %v", err)
	}
	if reviewed.Status != domain.ReturnStatusRefunded {
		t.Fatalf("review must not move a terminal return, got %s", reviewed.Status)
	}
	if reviewed.AdminReview == nil || reviewed.AdminReview.ReviewedBy != "admin-2" {
		t.Fatalf("expected recorded review, got %+v", reviewed.AdminReview)
	}
}

func TestReturnService_FullLifecycle(t *testing.T) {
	now := time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
	repo := newStubReturnRepository()
	publisher := &capturingPublisher{}
	svc := newReturnServiceForTest(t, repo, now, publisher)

	created, err := svc.CreateReturn(context.Background(), validCreateReturnCommand())
	if err != nil {
		t.Fatalf("CreateReturn returned error: %v", err)
	}
	if _, err := svc.StoreRespond(context.Background(), StoreRespondCommand{ReturnID: created.ID, Approved: true, StoreOwnerID: "owner-1"}); err != nil {
		t.Fatalf("StoreRespond returned error: %v", err)
	}
	pickedUp, err := svc.MarkPickedUp(context.Background(), created.ID, "courier-1")
	if err != nil {
		t.Fatalf("MarkPickedUp returned error: %v", err)
	}
	if pickedUp.PickedUpAt == nil {
		t.Fatalf("expected PickedUpAt to be set")
	}
	inspected, err := svc.MarkInspected(context.Background(), created.ID, "warehouse-1")
	if err != nil {
		t.Fatalf("MarkInspected returned error: %v", err)
	}
	if inspected.InspectedAt == nil {
		t.Fatalf("expected InspectedAt to be set")
	}

	refunded, err := svc.ProcessRefund(context.Background(), created.ID, "admin-1")
	if err != nil {
		t.Fatalf("ProcessRefund returned error: %v", err)
	}
	if refunded.Status != domain.ReturnStatusRefunded {
		t.Fatalf("expected refunded status got %s", refunded.Status)
	}
	if refunded.RefundedAt == nil {
		t.Fatalf("expected RefundedAt to be set")
	}
	if !refunded.Status.Terminal() {
		t.Fatalf("refunded must be terminal")
	}

	last := publisher.events[len(publisher.events)-1]
	if last.Type != EventReturnRefunded {
		t.Fatalf("expected return.refunded event, got %s", last.Type)
	}
	if last.Payload["refundAmount"] != int64(4500) || last.Payload["refundMethod"] != "original_payment" {
		t.Fatalf("unexpected refund payload %+v", last.Payload)
	}

	// Terminal state admits no further transitions.
	if _, err := svc.ProcessRefund(context.Background(), created.ID, "admin-1"); !errors.Is(err, ErrReturnInvalidState) {
		t.Fatalf("expected ErrReturnInvalidState on double refund got %v", err)
	}
	if _, err := svc.MarkPickedUp(context.Background(), created.ID, "courier-1"); !errors.Is(err, ErrReturnInvalidState) {
		t.Fatalf("expected ErrReturnInvalidState after terminal state got %v", err)
	}
}

func TestReturnService_SkippingStatesIsRejected(t *testing.T) {
	now := time.Date(2026, time.April, 2, 9, 0, 0, 0, time.UTC)
	repo := newStubReturnRepository()
	svc := newReturnServiceForTest(t, repo, now, nil)

	created, err := svc.CreateReturn(context.Background(), validCreateReturnCommand())
	if err != nil {
		t.Fatalf("CreateReturn returned error: %v", err)
	}

	if _, err := svc.MarkPickedUp(context.Background(), created.ID, "courier-1"); !errors.Is(err, ErrReturnInvalidState) {
		t.Fatalf("expected ErrReturnInvalidState for pickup before approval got %v", err)
	}
	if _, err := svc.MarkInspected(context.Background(), created.ID, "warehouse-1"); !errors.Is(err, ErrReturnInvalidState) {
		t.Fatalf("expected ErrReturnInvalidState for inspection before pickup got %v", err)
	}
	if _, err := svc.ProcessRefund(context.Background(), created.ID, "admin-1"); !errors.Is(err, ErrReturnInvalidState) {
		t.Fatalf("expected ErrReturnInvalidState for refund before inspection got %v", err)
	}
}

func TestReturnService_GetReturn_NotFound(t *testing.T) {
	repo := newStubReturnRepository()
	svc := newReturnServiceForTest(t, repo, time.Now().UTC(), nil)

	if _, err := svc.GetReturn(context.Background(), "ret_MISSING"); !errors.Is(err, ErrReturnNotFound) {
		t.Fatalf("expected ErrReturnNotFound got %v", err)
	}
}

type stubReturnRepository struct {
	requests map[string]domain.ReturnRequest
}

func newStubReturnRepository() *stubReturnRepository {
	return &stubReturnRepository{requests: make(map[string]domain.ReturnRequest)}
}

func (s *stubReturnRepository) Insert(_ context.Context, request domain.ReturnRequest) error {
	s.requests[request.ID] = request
	return nil
}

func (s *stubReturnRepository) FindByID(_ context.Context, returnID string) (domain.ReturnRequest, error) {
	request, ok := s.requests[returnID]
	if !ok {
		return domain.ReturnRequest{}, &stubReturnRepoError{notFound: true}
	}
	return request, nil
}

func (s *stubReturnRepository) List(context.Context, repositories.ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error) {
	page := domain.CursorPage[domain.ReturnRequest]{}
	for _, request := range s.requests {
		page.Items = append(page.Items, request)
	}
	return page, nil
}

func (s *stubReturnRepository) Transition(_ context.Context, returnID string, expected []domain.ReturnStatus, mutate func(*domain.ReturnRequest) error) (domain.ReturnRequest, error) {
	request, ok := s.requests[returnID]
	if !ok {
		return domain.ReturnRequest{}, &stubReturnRepoError{notFound: true}
	}
	allowed := len(expected) == 0
	for _, status := range expected {
		if request.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		return domain.ReturnRequest{}, &repositories.StateConflictError{
			ReturnID: returnID,
			Current:  request.Status,
			Expected: expected,
		}
	}
	if err := mutate(&request); err != nil {
		return domain.ReturnRequest{}, err
	}
	s.requests[returnID] = request
	return request, nil
}

type stubReturnRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubReturnRepoError) Error() string { return "return repo error" }

func (e *stubReturnRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubReturnRepoError) IsConflict() bool    { return e.conflict }
func (e *stubReturnRepoError) IsUnavailable() bool { return e.unavailable }
