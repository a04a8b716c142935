package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/bazario/commerce-core/internal/domain"
	"github.com/bazario/commerce-core/internal/repositories"
)

const couponIDPrefix = "cpn_"

var (
	// ErrCouponInvalidInput signals the caller provided invalid data.
	ErrCouponInvalidInput = errors.New("coupon: invalid input")
	// ErrCouponNotFound indicates the coupon could not be located.
	ErrCouponNotFound = errors.New("coupon: not found")
	// ErrCouponConflict indicates duplicate codes, exceeded limits at write time, or deletes of used coupons.
	ErrCouponConflict = errors.New("coupon: conflict")
)

// Eligibility messages, ordered to match the validation checks. These are
// returned as values, not errors, so the storefront can display them verbatim.
const (
	msgCouponUnknown        = "invalid coupon code"
	msgCouponInactive       = "this coupon is no longer active"
	msgCouponNotYetValid    = "this coupon is not valid yet"
	msgCouponExpired        = "this coupon has expired"
	msgCouponTotalLimit     = "this coupon has reached its usage limit"
	msgCouponPerUserLimit   = "you have already used this coupon the maximum number of times"
	msgCouponPerDayLimit    = "this coupon has reached its daily usage limit, try again tomorrow"
	msgCouponScopeMismatch  = "this coupon cannot be applied to the selected items"
	msgCouponTierMismatch   = "this coupon is not available for your membership tier"
	msgCouponNewUsersOnly   = "this coupon is only available to new customers"
	msgCouponMinPurchaseFmt = "a minimum purchase amount of %d is required to use this coupon"
)

// CouponServiceDeps bundles collaborators required to construct the coupon service.
type CouponServiceDeps struct {
	Coupons     repositories.CouponRepository
	Clock       func() time.Time
	IDGenerator func() string
	Events      EventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type couponService struct {
	coupons repositories.CouponRepository
	clock   func() time.Time
	newID   func() string
	events  EventPublisher
	logger  func(context.Context, string, map[string]any)
}

// NewCouponService wires dependencies into a concrete CouponService implementation.
func NewCouponService(deps CouponServiceDeps) (CouponService, error) {
	if deps.Coupons == nil {
		return nil, errors.New("coupon service: coupon repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return couponIDPrefix + ulid.Make().String()
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

	return &couponService{
		coupons: deps.Coupons,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: events,
		logger: logger,
	}, nil
}

func (s *couponService) CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (domain.Coupon, error) {
	code, err := normalizeCouponCode(cmd.Code)
	if err != nil {
		return domain.Coupon{}, err
	}
	if !domain.ValidCouponType(cmd.Type) {
		return domain.Coupon{}, fmt.Errorf("%w: unknown coupon type %q", ErrCouponInvalidInput, cmd.Type)
	}
	if err := validateDiscountRule(cmd.Type, cmd.DiscountValue, cmd.MaxDiscountAmount); err != nil {
		return domain.Coupon{}, err
	}
	if cmd.MinPurchaseAmount < 0 {
		return domain.Coupon{}, fmt.Errorf("%w: minimum purchase amount must not be negative", ErrCouponInvalidInput)
	}
	if err := validateUsageLimit(cmd.UsageLimit); err != nil {
		return domain.Coupon{}, err
	}
	if cmd.ValidFrom.IsZero() || cmd.ValidUntil.IsZero() {
		return domain.Coupon{}, fmt.Errorf("%w: validity window is required", ErrCouponInvalidInput)
	}
	if !cmd.ValidFrom.Before(cmd.ValidUntil) {
		return domain.Coupon{}, fmt.Errorf("%w: validFrom must be before validUntil", ErrCouponInvalidInput)
	}

	now := s.clock()
	coupon := domain.Coupon{
		ID:                s.newID(),
		Code:              code,
		Description:       strings.TrimSpace(cmd.Description),
		Type:              cmd.Type,
		DiscountValue:     cmd.DiscountValue,
		MinPurchaseAmount: cmd.MinPurchaseAmount,
		MaxDiscountAmount: cloneInt64Ptr(cmd.MaxDiscountAmount),
		UsageLimit:        cloneUsageLimit(cmd.UsageLimit),
		ValidFrom:         cmd.ValidFrom.UTC(),
		ValidUntil:        cmd.ValidUntil.UTC(),
		AppliesTo:         cloneScope(cmd.AppliesTo),
		IsActive:          true,
		CreatedBy:         strings.TrimSpace(cmd.ActorID),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.coupons.Insert(ctx, coupon); err != nil {
		return domain.Coupon{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:       EventCouponCreated,
		OccurredAt: now,
		ActorID:    cmd.ActorID,
		Payload: map[string]any{
			"couponId": coupon.ID,
			"code":     coupon.Code,
			"type":     string(coupon.Type),
		},
	})

	return coupon, nil
}

func (s *couponService) GetCoupon(ctx context.Context, couponID string) (domain.Coupon, error) {
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return domain.Coupon{}, fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}
	coupon, err := s.coupons.FindByID(ctx, couponID)
	if err == nil {
		return coupon, nil
	}
	if !isNotFound(err) {
		return domain.Coupon{}, s.mapRepositoryError(err)
	}

	// Admin tooling passes either the document id or the coupon code.
	code, codeErr := normalizeCouponCode(couponID)
	if codeErr != nil {
		return domain.Coupon{}, s.mapRepositoryError(err)
	}
	coupon, err = s.coupons.FindByCode(ctx, code)
	if err != nil {
		return domain.Coupon{}, s.mapRepositoryError(err)
	}
	return coupon, nil
}

func (s *couponService) ListCoupons(ctx context.Context, filter CouponListFilter) (domain.CursorPage[domain.Coupon], error) {
	page, err := s.coupons.List(ctx, repositories.CouponListFilter{
		ActiveOnly: filter.ActiveOnly,
		Type:       filter.Type,
		Pagination: filter.Pagination,
	})
	if err != nil {
		return domain.CursorPage[domain.Coupon]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *couponService) UpdateCoupon(ctx context.Context, cmd UpdateCouponCommand) (domain.Coupon, error) {
	couponID := strings.TrimSpace(cmd.CouponID)
	if couponID == "" {
		return domain.Coupon{}, fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.FindByID(ctx, couponID)
	if err != nil {
		return domain.Coupon{}, s.mapRepositoryError(err)
	}

	if cmd.Description != nil {
		coupon.Description = strings.TrimSpace(*cmd.Description)
	}
	if cmd.DiscountValue != nil {
		coupon.DiscountValue = *cmd.DiscountValue
	}
	if cmd.MaxDiscountAmount != nil {
		coupon.MaxDiscountAmount = cloneInt64Ptr(cmd.MaxDiscountAmount)
	}
	if err := validateDiscountRule(coupon.Type, coupon.DiscountValue, coupon.MaxDiscountAmount); err != nil {
		return domain.Coupon{}, err
	}
	if cmd.MinPurchaseAmount != nil {
		if *cmd.MinPurchaseAmount < 0 {
			return domain.Coupon{}, fmt.Errorf("%w: minimum purchase amount must not be negative", ErrCouponInvalidInput)
		}
		coupon.MinPurchaseAmount = *cmd.MinPurchaseAmount
	}
	if cmd.UsageLimit != nil {
		if err := validateUsageLimit(*cmd.UsageLimit); err != nil {
			return domain.Coupon{}, err
		}
		coupon.UsageLimit = cloneUsageLimit(*cmd.UsageLimit)
	}
	if cmd.ValidFrom != nil {
		coupon.ValidFrom = cmd.ValidFrom.UTC()
	}
	if cmd.ValidUntil != nil {
		coupon.ValidUntil = cmd.ValidUntil.UTC()
	}
	if !coupon.ValidFrom.Before(coupon.ValidUntil) {
		return domain.Coupon{}, fmt.Errorf("%w: validFrom must be before validUntil", ErrCouponInvalidInput)
	}
	if cmd.AppliesTo != nil {
		coupon.AppliesTo = cloneScope(*cmd.AppliesTo)
	}
	coupon.UpdatedAt = s.clock()

	if err := s.coupons.Update(ctx, coupon); err != nil {
		return domain.Coupon{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:       EventCouponUpdated,
		OccurredAt: coupon.UpdatedAt,
		ActorID:    cmd.ActorID,
		Payload: map[string]any{
			"couponId": coupon.ID,
			"code":     coupon.Code,
		},
	})

	return coupon, nil
}

func (s *couponService) ToggleCoupon(ctx context.Context, couponID string, active bool, actorID string) (domain.Coupon, error) {
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return domain.Coupon{}, fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}

	now := s.clock()
	coupon, err := s.coupons.SetActive(ctx, couponID, active, now)
	if err != nil {
		return domain.Coupon{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:       EventCouponUpdated,
		OccurredAt: now,
		ActorID:    actorID,
		Payload: map[string]any{
			"couponId": coupon.ID,
			"code":     coupon.Code,
			"isActive": coupon.IsActive,
		},
	})

	return coupon, nil
}

func (s *couponService) DeleteCoupon(ctx context.Context, couponID string) error {
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}
	if err := s.coupons.Delete(ctx, couponID); err != nil {
		return s.mapRepositoryError(err)
	}
	return nil
}

// Validate runs the ordered eligibility checks and computes the discount.
// It never mutates state; redemption happens separately through Redeem.
func (s *couponService) Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidationResult, error) {
	code, err := normalizeCouponCode(cmd.Code)
	if err != nil {
		return CouponValidationResult{}, err
	}
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return CouponValidationResult{}, fmt.Errorf("%w: customer id is required", ErrCouponInvalidInput)
	}
	if cmd.OrderAmount <= 0 {
		return CouponValidationResult{}, fmt.Errorf("%w: order amount must be positive", ErrCouponInvalidInput)
	}

	coupon, err := s.coupons.FindByCode(ctx, code)
	if err != nil {
		if isNotFound(err) {
			return CouponValidationResult{Message: msgCouponUnknown}, nil
		}
		return CouponValidationResult{}, s.mapRepositoryError(err)
	}

	now := s.clock()
	if message, ok := checkEligibility(coupon, cmd, customerID, now); !ok {
		return CouponValidationResult{Message: message}, nil
	}

	return CouponValidationResult{
		Valid:          true,
		DiscountAmount: domain.ComputeDiscount(coupon, cmd.OrderAmount),
		FreeShipping:   coupon.Type == domain.CouponTypeFreeShipping,
		Coupon: &CouponRef{
			ID:   coupon.ID,
			Code: coupon.Code,
			Type: coupon.Type,
		},
	}, nil
}

// checkEligibility applies the ten ordered checks, short-circuiting on the
// first failure so the returned message is deterministic.
func checkEligibility(coupon domain.Coupon, cmd ValidateCouponCommand, customerID string, now time.Time) (string, bool) {
	if !coupon.IsActive {
		return msgCouponInactive, false
	}
	if now.Before(coupon.ValidFrom) {
		return msgCouponNotYetValid, false
	}
	if now.After(coupon.ValidUntil) {
		return msgCouponExpired, false
	}
	if limit := coupon.UsageLimit.Total; limit != nil && coupon.UsedCount >= *limit {
		return msgCouponTotalLimit, false
	}
	if limit := coupon.UsageLimit.PerUser; limit != nil && coupon.UsageCountForUser(customerID) >= *limit {
		return msgCouponPerUserLimit, false
	}
	if limit := coupon.UsageLimit.PerDay; limit != nil && coupon.UsageCountForDay(now) >= *limit {
		return msgCouponPerDayLimit, false
	}
	if cmd.OrderAmount < coupon.MinPurchaseAmount {
		return fmt.Sprintf(msgCouponMinPurchaseFmt, coupon.MinPurchaseAmount), false
	}
	if !scopeMatches(coupon.AppliesTo, cmd) {
		return msgCouponScopeMismatch, false
	}
	if tiers := coupon.AppliesTo.UserTiers; len(tiers) > 0 && !containsFold(tiers, cmd.CustomerTier) {
		return msgCouponTierMismatch, false
	}
	if coupon.AppliesTo.NewUsersOnly && cmd.CustomerOrderCount > 0 {
		return msgCouponNewUsersOnly, false
	}
	return "", true
}

func scopeMatches(scope domain.CouponScope, cmd ValidateCouponCommand) bool {
	if len(scope.Stores) > 0 && !containsFold(scope.Stores, cmd.StoreID) {
		return false
	}
	if len(scope.Categories) > 0 && !containsFold(scope.Categories, cmd.CategoryID) {
		return false
	}
	if len(scope.Products) > 0 && !containsFold(scope.Products, cmd.ProductID) {
		return false
	}
	return true
}

// Redeem records one redemption. The repository performs the limit re-check,
// counter increment, and history append in a single atomic update, so two
// concurrent checkouts can never jointly exceed a limit.
func (s *couponService) Redeem(ctx context.Context, cmd RedeemCouponCommand) (domain.Coupon, error) {
	code, err := normalizeCouponCode(cmd.Code)
	if err != nil {
		return domain.Coupon{}, err
	}
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return domain.Coupon{}, fmt.Errorf("%w: customer id is required", ErrCouponInvalidInput)
	}
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return domain.Coupon{}, fmt.Errorf("%w: order id is required", ErrCouponInvalidInput)
	}
	if cmd.DiscountAmount < 0 {
		return domain.Coupon{}, fmt.Errorf("%w: discount amount must not be negative", ErrCouponInvalidInput)
	}

	now := s.clock()
	coupon, err := s.coupons.Redeem(ctx, repositories.RedeemCommand{
		Code:           code,
		UserID:         customerID,
		OrderID:        orderID,
		DiscountAmount: cmd.DiscountAmount,
		UsedAt:         now,
	})
	if err != nil {
		return domain.Coupon{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:       EventCouponApplied,
		OccurredAt: now,
		ActorID:    customerID,
		Payload: map[string]any{
			"couponId":       coupon.ID,
			"code":           coupon.Code,
			"customerId":     customerID,
			"orderId":        orderID,
			"discountAmount": cmd.DiscountAmount,
		},
	})

	return coupon, nil
}

func (s *couponService) GetUsageStats(ctx context.Context, couponID string) (CouponUsageStats, error) {
	coupon, err := s.GetCoupon(ctx, couponID)
	if err != nil {
		return CouponUsageStats{}, err
	}

	stats := CouponUsageStats{TotalUsage: coupon.UsedCount}
	users := make(map[string]struct{})
	byDay := make(map[string]*DailyUsage)

	for _, record := range coupon.UsageHistory {
		stats.TotalDiscount += record.DiscountAmount
		users[record.UserID] = struct{}{}

		day := record.UsedAt.UTC().Format("2006-01-02")
		entry, ok := byDay[day]
		if !ok {
			entry = &DailyUsage{Date: day}
			byDay[day] = entry
		}
		entry.Count++
		entry.Discount += record.DiscountAmount
	}

	stats.UniqueUsers = len(users)
	stats.UsageByDay = make([]DailyUsage, 0, len(byDay))
	for _, entry := range byDay {
		stats.UsageByDay = append(stats.UsageByDay, *entry)
	}
	sort.Slice(stats.UsageByDay, func(i, j int) bool {
		return stats.UsageByDay[i].Date < stats.UsageByDay[j].Date
	})

	return stats, nil
}

func (s *couponService) ResetUsage(ctx context.Context, couponID string, actorID string) (domain.Coupon, error) {
	couponID = strings.TrimSpace(couponID)
	if couponID == "" {
		return domain.Coupon{}, fmt.Errorf("%w: coupon id is required", ErrCouponInvalidInput)
	}

	now := s.clock()
	coupon, err := s.coupons.ResetUsage(ctx, couponID, now)
	if err != nil {
		return domain.Coupon{}, s.mapRepositoryError(err)
	}

	s.publishEvent(ctx, DomainEvent{
		Type:       EventCouponUsageReset,
		OccurredAt: now,
		ActorID:    actorID,
		Payload: map[string]any{
			"couponId": coupon.ID,
			"code":     coupon.Code,
		},
	})

	return coupon, nil
}

func (s *couponService) publishEvent(ctx context.Context, event DomainEvent) {
	if err := s.events.Publish(ctx, event); err != nil {
		s.logger(ctx, "coupon.event.publish_failed", map[string]any{
			"type":  event.Type,
			"error": err.Error(),
		})
	}
}

func (s *couponService) mapRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var couponErr *repositories.CouponError
	if errors.As(err, &couponErr) {
		switch couponErr.Code {
		case repositories.CouponErrorInvalidInput:
			return fmt.Errorf("%w: %s", ErrCouponInvalidInput, couponErr.Message)
		case repositories.CouponErrorLimitReached, repositories.CouponErrorDuplicateCode, repositories.CouponErrorInUse:
			return fmt.Errorf("%w: %s", ErrCouponConflict, couponErr.Message)
		}
	}

	if repoErr, ok := asRepositoryError(err); ok {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %s", ErrCouponNotFound, repoErr.Error())
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %s", ErrCouponConflict, repoErr.Error())
		}
	}
	return err
}

func normalizeCouponCode(code string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return "", fmt.Errorf("%w: coupon code is required", ErrCouponInvalidInput)
	}
	if len(normalized) > 40 {
		return "", fmt.Errorf("%w: coupon code exceeds 40 characters", ErrCouponInvalidInput)
	}
	for _, r := range normalized {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '-' && r != '_' {
			return "", fmt.Errorf("%w: coupon code may only contain letters, digits, dashes, and underscores", ErrCouponInvalidInput)
		}
	}
	return normalized, nil
}

func validateDiscountRule(couponType domain.CouponType, value int64, maxDiscount *int64) error {
	switch couponType {
	case domain.CouponTypePercentage:
		if value < 0 || value > 100 {
			return fmt.Errorf("%w: percentage discount must be between 0 and 100", ErrCouponInvalidInput)
		}
		if maxDiscount != nil && *maxDiscount <= 0 {
			return fmt.Errorf("%w: maximum discount amount must be positive", ErrCouponInvalidInput)
		}
	case domain.CouponTypeFixed:
		if value <= 0 {
			return fmt.Errorf("%w: fixed discount must be positive", ErrCouponInvalidInput)
		}
		if maxDiscount != nil {
			return fmt.Errorf("%w: maximum discount amount applies to percentage coupons only", ErrCouponInvalidInput)
		}
	default:
		if maxDiscount != nil {
			return fmt.Errorf("%w: maximum discount amount applies to percentage coupons only", ErrCouponInvalidInput)
		}
	}
	return nil
}

func validateUsageLimit(limit domain.UsageLimit) error {
	for name, value := range map[string]*int64{
		"total":   limit.Total,
		"perUser": limit.PerUser,
		"perDay":  limit.PerDay,
	} {
		if value != nil && *value <= 0 {
			return fmt.Errorf("%w: usage limit %s must be positive when set", ErrCouponInvalidInput, name)
		}
	}
	return nil
}

func cloneInt64Ptr(value *int64) *int64 {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}

func cloneUsageLimit(limit domain.UsageLimit) domain.UsageLimit {
	return domain.UsageLimit{
		Total:   cloneInt64Ptr(limit.Total),
		PerUser: cloneInt64Ptr(limit.PerUser),
		PerDay:  cloneInt64Ptr(limit.PerDay),
	}
}

func cloneScope(scope domain.CouponScope) domain.CouponScope {
	return domain.CouponScope{
		Stores:       cloneStringSlice(scope.Stores),
		Categories:   cloneStringSlice(scope.Categories),
		Products:     cloneStringSlice(scope.Products),
		UserTiers:    cloneStringSlice(scope.UserTiers),
		NewUsersOnly: scope.NewUsersOnly,
	}
}

func cloneStringSlice(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func containsFold(values []string, target string) bool {
	target = strings.TrimSpace(target)
	if target == "" {
		return false
	}
	for _, value := range values {
		if strings.EqualFold(strings.TrimSpace(value), target) {
			return true
		}
	}
	return false
}

func isNotFound(err error) bool {
	repoErr, ok := asRepositoryError(err)
	return ok && repoErr.IsNotFound()
}

func asRepositoryError(err error) (repositories.RepositoryError, bool) {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr, true
	}
	return nil, false
}
