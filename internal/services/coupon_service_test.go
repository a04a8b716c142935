package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	domain "github.com/bazario/commerce-core/internal/domain"
	"github.com/bazario/commerce-core/internal/repositories"
)

func int64Ptr(v int64) *int64 { return &v }

func baseCoupon(now time.Time) domain.Coupon {
	return domain.Coupon{
		ID:            "cpn_01TEST",
		Code:          "SPRING20",
		Type:          domain.CouponTypePercentage,
		DiscountValue: 20,
		ValidFrom:     now.Add(-24 * time.Hour),
		ValidUntil:    now.Add(24 * time.Hour),
		IsActive:      true,
	}
}

func newCouponServiceForTest(t *testing.T, repo *stubCouponRepository, now time.Time, events EventPublisher) CouponService {
	t.Helper()
	svc, err := NewCouponService(CouponServiceDeps{
		Coupons: repo,
		Clock: func() time.Time {
			return now
		},
		IDGenerator: func() string { return "cpn_01TEST" },
		Events:      events,
	})
	if err != nil {
		t.Fatalf("NewCouponService: %v", err)
	}
	return svc
}

func TestCouponService_Validate_PercentageCappedDiscount(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	coupon := baseCoupon(now)
	coupon.MaxDiscountAmount = int64Ptr(1500)
	repo := &stubCouponRepository{coupon: coupon}
	svc := newCouponServiceForTest(t, repo, now, nil)

	result, err := svc.Validate(context.Background(), ValidateCouponCommand{
		Code:        " spring20 ",
		CustomerID:  "user-1",
		OrderAmount: 10000,
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid result, got message %q", result.Message)
	}
	if result.DiscountAmount != 1500 {
		t.Fatalf("expected discount 1500 got %d", result.DiscountAmount)
	}
	if result.Coupon == nil || result.Coupon.Code != "SPRING20" {
		t.Fatalf("unexpected coupon ref %+v", result.Coupon)
	}
	if repo.lastCode != "SPRING20" {
		t.Fatalf("repository looked up wrong code %s", repo.lastCode)
	}
}

func TestCouponService_Validate_UnknownCode(t *testing.T) {
	repo := &stubCouponRepository{err: &stubCouponRepoError{notFound: true}}
	svc := newCouponServiceForTest(t, repo, time.Now().UTC(), nil)

	result, err := svc.Validate(context.Background(), ValidateCouponCommand{
		Code:        "MISSING",
		CustomerID:  "user-1",
		OrderAmount: 1000,
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Valid {
		t.Fatalf("expected invalid result")
	}
	if result.Message != "invalid coupon code" {
		t.Fatalf("unexpected message %q", result.Message)
	}
}

func TestCouponService_Validate_InactiveBeatsExpired(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	coupon := baseCoupon(now)
	coupon.IsActive = false
	coupon.ValidUntil = now.Add(-time.Hour)
	repo := &stubCouponRepository{coupon: coupon}
	svc := newCouponServiceForTest(t, repo, now, nil)

	result, err := svc.Validate(context.Background(), ValidateCouponCommand{
		Code:        "SPRING20",
		CustomerID:  "user-1",
		OrderAmount: 1000,
	})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Message != "this coupon is no longer active" {
		t.Fatalf("unexpected message %q", result.Message)
	}
}

func TestCouponService_Validate_WindowChecks(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	early := baseCoupon(now)
	early.ValidFrom = now.Add(time.Hour)
	repo := &stubCouponRepository{coupon: early}
	svc := newCouponServiceForTest(t, repo, now, nil)
	result, err := svc.Validate(context.Background(), ValidateCouponCommand{Code: "SPRING20", CustomerID: "u", OrderAmount: 1000})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Message != "this coupon is not valid yet" {
		t.Fatalf("unexpected message %q", result.Message)
	}

	expired := baseCoupon(now)
	expired.ValidUntil = now.Add(-time.Minute)
	repo.coupon = expired
	result, err = svc.Validate(context.Background(), ValidateCouponCommand{Code: "SPRING20", CustomerID: "u", OrderAmount: 1000})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Message != "this coupon has expired" {
		t.Fatalf("unexpected message %q", result.Message)
	}
}

func TestCouponService_Validate_UsageLimits(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	coupon := baseCoupon(now)
	coupon.UsageLimit = domain.UsageLimit{Total: int64Ptr(2)}
	coupon.UsedCount = 2
	repo := &stubCouponRepository{coupon: coupon}
	svc := newCouponServiceForTest(t, repo, now, nil)
	result, err := svc.Validate(context.Background(), ValidateCouponCommand{Code: "SPRING20", CustomerID: "u", OrderAmount: 1000})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Message != "this coupon has reached its usage limit" {
		t.Fatalf("unexpected message %q", result.Message)
	}

	coupon = baseCoupon(now)
	coupon.UsageLimit = domain.UsageLimit{PerUser: int64Ptr(1)}
	coupon.UsedCount = 1
	coupon.UsageHistory = []domain.UsageRecord{{UserID: "u", OrderID: "ord-1", UsedAt: now.Add(-48 * time.Hour)}}
	repo.coupon = coupon
	result, err = svc.Validate(context.Background(), ValidateCouponCommand{Code: "SPRING20", CustomerID: "u", OrderAmount: 1000})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Message != "you have already used this coupon the maximum number of times" {
		t.Fatalf("unexpected message %q", result.Message)
	}

	// The same history does not block a different customer.
	result, err = svc.Validate(context.Background(), ValidateCouponCommand{Code: "SPRING20", CustomerID: "other", OrderAmount: 1000})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid result for other customer, got %q", result.Message)
	}

	coupon = baseCoupon(now)
	coupon.UsageLimit = domain.UsageLimit{PerDay: int64Ptr(1)}
	coupon.UsedCount = 1
	coupon.UsageHistory = []domain.UsageRecord{{UserID: "someone", OrderID: "ord-2", UsedAt: now.Add(-time.Hour)}}
	repo.coupon = coupon
	result, err = svc.Validate(context.Background(), ValidateCouponCommand{Code: "SPRING20", CustomerID: "u", OrderAmount: 1000})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Message != "this coupon has reached its daily usage limit, try again tomorrow" {
		t.Fatalf("unexpected message %q", result.Message)
	}
}

func TestCouponService_Validate_MinPurchaseMessageIncludesAmount(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	coupon := baseCoupon(now)
	coupon.MinPurchaseAmount = 5000
	repo := &stubCouponRepository{coupon: coupon}
	svc := newCouponServiceForTest(t, repo, now, nil)

	result, err := svc.Validate(context.Background(), ValidateCouponCommand{Code: "SPRING20", CustomerID: "u", OrderAmount: 4999})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	want := fmt.Sprintf("a minimum purchase amount of %d is required to use this coupon", 5000)
	if result.Message != want {
		t.Fatalf("unexpected message %q", result.Message)
	}
}

func TestCouponService_Validate_ScopeTierAndNewUserChecks(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	coupon := baseCoupon(now)
	coupon.AppliesTo = domain.CouponScope{Stores: []string{"store-1"}}
	repo := &stubCouponRepository{coupon: coupon}
	svc := newCouponServiceForTest(t, repo, now, nil)
	result, err := svc.Validate(context.Background(), ValidateCouponCommand{Code: "SPRING20", CustomerID: "u", OrderAmount: 1000, StoreID: "store-2"})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Message != "this coupon cannot be applied to the selected items" {
		t.Fatalf("unexpected message %q", result.Message)
	}

	coupon = baseCoupon(now)
	coupon.AppliesTo = domain.CouponScope{UserTiers: []string{"gold"}}
	repo.coupon = coupon
	result, err = svc.Validate(context.Background(), ValidateCouponCommand{Code: "SPRING20", CustomerID: "u", OrderAmount: 1000, CustomerTier: "silver"})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Message != "this coupon is not available for your membership tier" {
		t.Fatalf("unexpected message %q", result.Message)
	}

	coupon = baseCoupon(now)
	coupon.AppliesTo = domain.CouponScope{NewUsersOnly: true}
	repo.coupon = coupon
	result, err = svc.Validate(context.Background(), ValidateCouponCommand{Code: "SPRING20", CustomerID: "u", OrderAmount: 1000, CustomerOrderCount: 3})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if result.Message != "this coupon is only available to new customers" {
		t.Fatalf("unexpected message %q", result.Message)
	}
}

func TestCouponService_Validate_FreeShipping(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	coupon := baseCoupon(now)
	coupon.Code = "SHIPFREE"
	coupon.Type = domain.CouponTypeFreeShipping
	coupon.DiscountValue = 0
	repo := &stubCouponRepository{coupon: coupon}
	svc := newCouponServiceForTest(t, repo, now, nil)

	result, err := svc.Validate(context.Background(), ValidateCouponCommand{Code: "SHIPFREE", CustomerID: "u", OrderAmount: 1000})
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid result, got %q", result.Message)
	}
	if result.DiscountAmount != 0 {
		t.Fatalf("expected zero merchandise discount got %d", result.DiscountAmount)
	}
	if !result.FreeShipping {
		t.Fatalf("expected free shipping flag")
	}
}

func TestCouponService_CreateCoupon_Validation(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	repo := &stubCouponRepository{}
	svc := newCouponServiceForTest(t, repo, now, nil)

	base := CreateCouponCommand{
		Code:          "WELCOME",
		Type:          domain.CouponTypePercentage,
		DiscountValue: 10,
		ValidFrom:     now,
		ValidUntil:    now.Add(24 * time.Hour),
	}

	over := base
	over.DiscountValue = 120
	if _, err := svc.CreateCoupon(context.Background(), over); !errors.Is(err, ErrCouponInvalidInput) {
		t.Fatalf("expected ErrCouponInvalidInput for percentage over 100 got %v", err)
	}

	badWindow := base
	badWindow.ValidUntil = now.Add(-time.Hour)
	if _, err := svc.CreateCoupon(context.Background(), badWindow); !errors.Is(err, ErrCouponInvalidInput) {
		t.Fatalf("expected ErrCouponInvalidInput for inverted window got %v", err)
	}

	badCode := base
	badCode.Code = "HAS SPACES"
	if _, err := svc.CreateCoupon(context.Background(), badCode); !errors.Is(err, ErrCouponInvalidInput) {
		t.Fatalf("expected ErrCouponInvalidInput for bad code got %v", err)
	}

	capOnFixed := base
	capOnFixed.Type = domain.CouponTypeFixed
	capOnFixed.DiscountValue = 500
	capOnFixed.MaxDiscountAmount = int64Ptr(100)
	if _, err := svc.CreateCoupon(context.Background(), capOnFixed); !errors.Is(err, ErrCouponInvalidInput) {
		t.Fatalf("expected ErrCouponInvalidInput for cap on fixed coupon got %v", err)
	}

	created, err := svc.CreateCoupon(context.Background(), base)
	if err != nil {
		t.Fatalf("CreateCoupon returned error: %v", err)
	}
	if created.Code != "WELCOME" || !created.IsActive {
		t.Fatalf("unexpected coupon %+v", created)
	}
	if repo.inserted == nil {
		t.Fatalf("expected coupon to be inserted")
	}
}

func TestCouponService_CreateCoupon_DuplicateCode(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	repo := &stubCouponRepository{
		insertErr: repositories.NewCouponError(repositories.CouponErrorDuplicateCode, "code already exists", nil),
	}
	svc := newCouponServiceForTest(t, repo, now, nil)

	_, err := svc.CreateCoupon(context.Background(), CreateCouponCommand{
		Code:          "WELCOME",
		Type:          domain.CouponTypeFixed,
		DiscountValue: 500,
		ValidFrom:     now,
		ValidUntil:    now.Add(time.Hour),
	})
	if !errors.Is(err, ErrCouponConflict) {
		t.Fatalf("expected ErrCouponConflict got %v", err)
	}
}

func TestCouponService_Redeem_PublishesEvent(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	coupon := baseCoupon(now)
	repo := &stubCouponRepository{coupon: coupon}
	publisher := &capturingPublisher{}
	svc := newCouponServiceForTest(t, repo, now, publisher)

	redeemed, err := svc.Redeem(context.Background(), RedeemCouponCommand{
		Code:           "spring20",
		CustomerID:     "user-1",
		OrderID:        "ord-9",
		DiscountAmount: 250,
	})
	if err != nil {
		t.Fatalf("Redeem returned error: %v", err)
	}
	if redeemed.UsedCount != 1 || len(redeemed.UsageHistory) != 1 {
		t.Fatalf("expected ledger entry, got count %d history %d", redeemed.UsedCount, len(redeemed.UsageHistory))
	}
	if redeemed.UsageHistory[0].OrderID != "ord-9" {
		t.Fatalf("unexpected history entry %+v", redeemed.UsageHistory[0])
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != EventCouponApplied {
		t.Fatalf("expected coupon.applied event, got %+v", publisher.events)
	}
	if publisher.events[0].Payload["discountAmount"] != int64(250) {
		t.Fatalf("unexpected event payload %+v", publisher.events[0].Payload)
	}
}

func TestCouponService_Redeem_LimitReachedAtWriteTime(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	coupon := baseCoupon(now)
	coupon.UsageLimit = domain.UsageLimit{Total: int64Ptr(1)}
	coupon.UsedCount = 1
	coupon.UsageHistory = []domain.UsageRecord{{UserID: "other", OrderID: "ord-1", UsedAt: now.Add(-time.Minute)}}
	repo := &stubCouponRepository{coupon: coupon}
	publisher := &capturingPublisher{}
	svc := newCouponServiceForTest(t, repo, now, publisher)

	_, err := svc.Redeem(context.Background(), RedeemCouponCommand{
		Code:       "SPRING20",
		CustomerID: "user-1",
		OrderID:    "ord-2",
	})
	if !errors.Is(err, ErrCouponConflict) {
		t.Fatalf("expected ErrCouponConflict got %v", err)
	}
	if len(publisher.events) != 0 {
		t.Fatalf("expected no events on failed redemption, got %+v", publisher.events)
	}
}

func TestCouponService_GetUsageStats(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	coupon := baseCoupon(now)
	coupon.UsedCount = 3
	coupon.UsageHistory = []domain.UsageRecord{
		{UserID: "a", OrderID: "o1", DiscountAmount: 100, UsedAt: time.Date(2026, time.March, 8, 10, 0, 0, 0, time.UTC)},
		{UserID: "b", OrderID: "o2", DiscountAmount: 200, UsedAt: time.Date(2026, time.March, 9, 10, 0, 0, 0, time.UTC)},
		{UserID: "a", OrderID: "o3", DiscountAmount: 300, UsedAt: time.Date(2026, time.March, 9, 23, 0, 0, 0, time.UTC)},
	}
	repo := &stubCouponRepository{coupon: coupon}
	svc := newCouponServiceForTest(t, repo, now, nil)

	stats, err := svc.GetUsageStats(context.Background(), "cpn_01TEST")
	if err != nil {
		t.Fatalf("GetUsageStats returned error: %v", err)
	}
	if stats.TotalUsage != 3 || stats.TotalDiscount != 600 || stats.UniqueUsers != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if len(stats.UsageByDay) != 2 {
		t.Fatalf("expected two daily buckets got %d", len(stats.UsageByDay))
	}
	if stats.UsageByDay[0].Date != "2026-03-08" || stats.UsageByDay[0].Count != 1 {
		t.Fatalf("unexpected first bucket %+v", stats.UsageByDay[0])
	}
	if stats.UsageByDay[1].Date != "2026-03-09" || stats.UsageByDay[1].Count != 2 || stats.UsageByDay[1].Discount != 500 {
		t.Fatalf("unexpected second bucket %+v", stats.UsageByDay[1])
	}
}

func TestCouponService_DeleteCoupon_InUse(t *testing.T) {
	repo := &stubCouponRepository{
		deleteErr: repositories.NewCouponError(repositories.CouponErrorInUse, "coupon has redemptions", nil),
	}
	svc := newCouponServiceForTest(t, repo, time.Now().UTC(), nil)

	if err := svc.DeleteCoupon(context.Background(), "cpn_01TEST"); !errors.Is(err, ErrCouponConflict) {
		t.Fatalf("expected ErrCouponConflict got %v", err)
	}
}

func TestCouponService_ResetUsage_PublishesEvent(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	coupon := baseCoupon(now)
	coupon.UsedCount = 5
	repo := &stubCouponRepository{coupon: coupon}
	publisher := &capturingPublisher{}
	svc := newCouponServiceForTest(t, repo, now, publisher)

	reset, err := svc.ResetUsage(context.Background(), "cpn_01TEST", "admin-1")
	if err != nil {
		t.Fatalf("ResetUsage returned error: %v", err)
	}
	if reset.UsedCount != 0 || len(reset.UsageHistory) != 0 {
		t.Fatalf("expected cleared ledger, got %+v", reset)
	}
	if len(publisher.events) != 1 || publisher.events[0].Type != EventCouponUsageReset {
		t.Fatalf("expected usage_reset event, got %+v", publisher.events)
	}
}

type capturingPublisher struct {
	events []DomainEvent
	err    error
}

func (p *capturingPublisher) Publish(_ context.Context, event DomainEvent) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

type stubCouponRepository struct {
	coupon    domain.Coupon
	err       error
	insertErr error
	deleteErr error
	inserted  *domain.Coupon
	updated   *domain.Coupon
	lastCode  string
}

func (s *stubCouponRepository) Insert(_ context.Context, coupon domain.Coupon) error {
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = &coupon
	s.coupon = coupon
	return nil
}

func (s *stubCouponRepository) Update(_ context.Context, coupon domain.Coupon) error {
	if s.err != nil {
		return s.err
	}
	s.updated = &coupon
	s.coupon = coupon
	return nil
}

func (s *stubCouponRepository) Delete(context.Context, string) error {
	return s.deleteErr
}

func (s *stubCouponRepository) FindByID(_ context.Context, couponID string) (domain.Coupon, error) {
	if s.err != nil {
		return domain.Coupon{}, s.err
	}
	if s.coupon.ID != couponID {
		return domain.Coupon{}, &stubCouponRepoError{notFound: true}
	}
	return s.coupon, nil
}

func (s *stubCouponRepository) FindByCode(_ context.Context, code string) (domain.Coupon, error) {
	s.lastCode = code
	if s.err != nil {
		return domain.Coupon{}, s.err
	}
	if s.coupon.Code != code {
		return domain.Coupon{}, &stubCouponRepoError{notFound: true}
	}
	return s.coupon, nil
}

func (s *stubCouponRepository) List(context.Context, repositories.CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	if s.err != nil {
		return domain.CursorPage[domain.Coupon]{}, s.err
	}
	return domain.CursorPage[domain.Coupon]{Items: []domain.Coupon{s.coupon}}, nil
}

// Redeem mirrors the persistence contract: re-check limits, then append and
// increment together.
func (s *stubCouponRepository) Redeem(_ context.Context, cmd repositories.RedeemCommand) (domain.Coupon, error) {
	if s.err != nil {
		return domain.Coupon{}, s.err
	}
	if s.coupon.Code != cmd.Code {
		return domain.Coupon{}, &stubCouponRepoError{notFound: true}
	}
	coupon := s.coupon
	if limit := coupon.UsageLimit.Total; limit != nil && coupon.UsedCount >= *limit {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorLimitReached, "usage limit reached", nil)
	}
	if limit := coupon.UsageLimit.PerUser; limit != nil && coupon.UsageCountForUser(cmd.UserID) >= *limit {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorLimitReached, "per-user limit reached", nil)
	}
	if limit := coupon.UsageLimit.PerDay; limit != nil && coupon.UsageCountForDay(cmd.UsedAt) >= *limit {
		return domain.Coupon{}, repositories.NewCouponError(repositories.CouponErrorLimitReached, "daily limit reached", nil)
	}
	coupon.UsedCount++
	coupon.UsageHistory = append(coupon.UsageHistory, domain.UsageRecord{
		UserID:         cmd.UserID,
		OrderID:        cmd.OrderID,
		DiscountAmount: cmd.DiscountAmount,
		UsedAt:         cmd.UsedAt,
	})
	s.coupon = coupon
	return coupon, nil
}

func (s *stubCouponRepository) ResetUsage(_ context.Context, couponID string, at time.Time) (domain.Coupon, error) {
	if s.err != nil {
		return domain.Coupon{}, s.err
	}
	if s.coupon.ID != couponID {
		return domain.Coupon{}, &stubCouponRepoError{notFound: true}
	}
	s.coupon.UsedCount = 0
	s.coupon.UsageHistory = nil
	s.coupon.UpdatedAt = at
	return s.coupon, nil
}

func (s *stubCouponRepository) SetActive(_ context.Context, couponID string, active bool, at time.Time) (domain.Coupon, error) {
	if s.err != nil {
		return domain.Coupon{}, s.err
	}
	if s.coupon.ID != couponID {
		return domain.Coupon{}, &stubCouponRepoError{notFound: true}
	}
	s.coupon.IsActive = active
	s.coupon.UpdatedAt = at
	return s.coupon, nil
}

type stubCouponRepoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e *stubCouponRepoError) Error() string { return "coupon repo error" }

func (e *stubCouponRepoError) IsNotFound() bool    { return e.notFound }
func (e *stubCouponRepoError) IsConflict() bool    { return e.conflict }
func (e *stubCouponRepoError) IsUnavailable() bool { return e.unavailable }
