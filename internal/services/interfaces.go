package services

import (
	"context"
	"time"

	domain "github.com/bazario/commerce-core/internal/domain"
)

// CouponService owns the coupon catalog, the read-only validator, and the usage ledger.
type CouponService interface {
	CreateCoupon(ctx context.Context, cmd CreateCouponCommand) (domain.Coupon, error)
	GetCoupon(ctx context.Context, couponID string) (domain.Coupon, error)
	ListCoupons(ctx context.Context, filter CouponListFilter) (domain.CursorPage[domain.Coupon], error)
	UpdateCoupon(ctx context.Context, cmd UpdateCouponCommand) (domain.Coupon, error)
	ToggleCoupon(ctx context.Context, couponID string, active bool, actorID string) (domain.Coupon, error)
	DeleteCoupon(ctx context.Context, couponID string) error

	Validate(ctx context.Context, cmd ValidateCouponCommand) (CouponValidationResult, error)

	Redeem(ctx context.Context, cmd RedeemCouponCommand) (domain.Coupon, error)
	GetUsageStats(ctx context.Context, couponID string) (CouponUsageStats, error)
	ResetUsage(ctx context.Context, couponID string, actorID string) (domain.Coupon, error)
}

// CreateCouponCommand carries the admin inputs for a new coupon definition.
type CreateCouponCommand struct {
	Code              string
	Description       string
	Type              domain.CouponType
	DiscountValue     int64
	MinPurchaseAmount int64
	MaxDiscountAmount *int64
	UsageLimit        domain.UsageLimit
	ValidFrom         time.Time
	ValidUntil        time.Time
	AppliesTo         domain.CouponScope
	ActorID           string
}

// UpdateCouponCommand mutates rule fields of an existing coupon. Nil fields are left unchanged.
// The usage ledger (UsedCount, UsageHistory) is never touched by updates.
type UpdateCouponCommand struct {
	CouponID          string
	Description       *string
	DiscountValue     *int64
	MinPurchaseAmount *int64
	MaxDiscountAmount *int64
	UsageLimit        *domain.UsageLimit
	ValidFrom         *time.Time
	ValidUntil        *time.Time
	AppliesTo         *domain.CouponScope
	ActorID           string
}

// CouponListFilter narrows catalog listings for the admin surface.
type CouponListFilter struct {
	ActiveOnly bool
	Type       *domain.CouponType
	Pagination domain.Pagination
}

// ValidateCouponCommand bundles the order and customer facts the validator needs.
// Tier and order count are resolved by the profile collaborator and trusted as given.
type ValidateCouponCommand struct {
	Code               string
	CustomerID         string
	CustomerTier       string
	CustomerOrderCount int
	OrderAmount        int64
	StoreID            string
	CategoryID         string
	ProductID          string
}

// CouponRef is the minimal coupon projection echoed back to checkout callers.
type CouponRef struct {
	ID   string
	Code string
	Type domain.CouponType
}

// CouponValidationResult is a value, not an error: eligibility failures carry a
// human-readable message the caller can display directly.
type CouponValidationResult struct {
	Valid          bool
	Message        string
	DiscountAmount int64
	FreeShipping   bool
	Coupon         *CouponRef
}

// RedeemCouponCommand records one redemption in the usage ledger.
type RedeemCouponCommand struct {
	Code           string
	CustomerID     string
	OrderID        string
	DiscountAmount int64
}

// DailyUsage aggregates redemptions for one UTC calendar day.
type DailyUsage struct {
	Date     string
	Count    int64
	Discount int64
}

// CouponUsageStats aggregates the usage history of a coupon.
type CouponUsageStats struct {
	TotalUsage    int64
	TotalDiscount int64
	UniqueUsers   int
	UsageByDay    []DailyUsage
}

// ReturnService owns return request creation and the gated lifecycle transitions.
type ReturnService interface {
	CreateReturn(ctx context.Context, cmd CreateReturnCommand) (domain.ReturnRequest, error)
	GetReturn(ctx context.Context, returnID string) (domain.ReturnRequest, error)
	ListReturns(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)

	StoreRespond(ctx context.Context, cmd StoreRespondCommand) (domain.ReturnRequest, error)
	AdminReview(ctx context.Context, cmd AdminReviewCommand) (domain.ReturnRequest, error)
	MarkPickedUp(ctx context.Context, returnID string, actorID string) (domain.ReturnRequest, error)
	MarkInspected(ctx context.Context, returnID string, actorID string) (domain.ReturnRequest, error)
	ProcessRefund(ctx context.Context, returnID string, actorID string) (domain.ReturnRequest, error)
}

// CreateReturnCommand opens a return request against a completed order.
type CreateReturnCommand struct {
	OrderID      string
	CustomerID   string
	StoreID      string
	Items        []domain.ReturnItem
	ReturnMethod domain.ReturnMethod
	RefundAmount int64
	RefundMethod domain.RefundMethod
}

// StoreRespondCommand records the store owner's first decision.
type StoreRespondCommand struct {
	ReturnID     string
	Approved     bool
	Notes        string
	StoreOwnerID string
}

// AdminReviewCommand records the admin decision, possibly overriding the store's.
type AdminReviewCommand struct {
	ReturnID string
	Approved bool
	Notes    string
	AdminID  string
}

// ReturnListFilter narrows return listings for customer, store, and admin tables.
type ReturnListFilter struct {
	CustomerID string
	StoreID    string
	Status     []domain.ReturnStatus
	Pagination domain.Pagination
}
