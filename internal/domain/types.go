package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage wraps a page of results together with the continuation token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// CouponType enumerates the supported discount rule families.
type CouponType string

const (
	// CouponTypePercentage discounts a percentage of the order amount.
	CouponTypePercentage CouponType = "percentage"
	// CouponTypeFixed discounts an absolute amount, never exceeding the order amount.
	CouponTypeFixed CouponType = "fixed"
	// CouponTypeFreeShipping waives shipping; merchandise discount is zero.
	CouponTypeFreeShipping CouponType = "free_shipping"
	// CouponTypeBuyXGetY is represented in the data model but carries no computation rule yet.
	CouponTypeBuyXGetY CouponType = "buy_x_get_y"
)

// ValidCouponType reports whether the given type tag is one of the supported families.
func ValidCouponType(t CouponType) bool {
	switch t {
	case CouponTypePercentage, CouponTypeFixed, CouponTypeFreeShipping, CouponTypeBuyXGetY:
		return true
	}
	return false
}

// UsageLimit bounds coupon redemptions. A nil field means unlimited.
type UsageLimit struct {
	Total   *int64
	PerUser *int64
	PerDay  *int64
}

// UsageRecord is one entry in the append-only redemption log.
type UsageRecord struct {
	UserID         string
	OrderID        string
	DiscountAmount int64
	UsedAt         time.Time
}

// CouponScope restricts where and to whom a coupon applies. Empty sets mean unrestricted.
type CouponScope struct {
	Stores       []string
	Categories   []string
	Products     []string
	UserTiers    []string
	NewUsersOnly bool
}

// Coupon is the catalog definition plus its usage ledger state.
//
// UsedCount and UsageHistory are mutated only through the usage ledger;
// UsedCount == len(UsageHistory) holds at all times.
type Coupon struct {
	ID                string
	Code              string
	Description       string
	Type              CouponType
	DiscountValue     int64
	MinPurchaseAmount int64
	MaxDiscountAmount *int64
	UsageLimit        UsageLimit
	UsedCount         int64
	UsageHistory      []UsageRecord
	ValidFrom         time.Time
	ValidUntil        time.Time
	AppliesTo         CouponScope
	IsActive          bool
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// UsageCountForUser counts redemptions recorded for the given user.
func (c Coupon) UsageCountForUser(userID string) int64 {
	var count int64
	for _, record := range c.UsageHistory {
		if record.UserID == userID {
			count++
		}
	}
	return count
}

// UsageCountForDay counts redemptions recorded on the same UTC calendar day as ts.
func (c Coupon) UsageCountForDay(ts time.Time) int64 {
	year, month, day := ts.UTC().Date()
	var count int64
	for _, record := range c.UsageHistory {
		y, m, d := record.UsedAt.UTC().Date()
		if y == year && m == month && d == day {
			count++
		}
	}
	return count
}

// ReturnStatus enumerates the return lifecycle states.
type ReturnStatus string

const (
	// ReturnStatusRequested is the initial state after a customer opens a return.
	ReturnStatusRequested ReturnStatus = "requested"
	// ReturnStatusApproved means the store (or an admin override) accepted the return.
	ReturnStatusApproved ReturnStatus = "approved"
	// ReturnStatusRejected means the store (or an admin override) declined the return.
	ReturnStatusRejected ReturnStatus = "rejected"
	// ReturnStatusPickedUp means the courier collected the items.
	ReturnStatusPickedUp ReturnStatus = "picked_up"
	// ReturnStatusInspected means the returned items passed inspection.
	ReturnStatusInspected ReturnStatus = "inspected"
	// ReturnStatusRefunded is terminal; the refund decision was recorded.
	ReturnStatusRefunded ReturnStatus = "refunded"
	// ReturnStatusReplaced is terminal; a replacement was issued instead of a refund.
	ReturnStatusReplaced ReturnStatus = "replaced"
)

// Terminal reports whether the status permits no further transitions.
// Rejected stays overridable by admin review and is not terminal here.
func (s ReturnStatus) Terminal() bool {
	return s == ReturnStatusRefunded || s == ReturnStatusReplaced
}

// ReturnReason enumerates why a customer is returning an item.
type ReturnReason string

const (
	ReturnReasonDefective        ReturnReason = "defective"
	ReturnReasonWrongItem        ReturnReason = "wrong_item"
	ReturnReasonNotAsDescribed   ReturnReason = "not_as_described"
	ReturnReasonDamagedInTransit ReturnReason = "damaged_in_transit"
	ReturnReasonChangedMind      ReturnReason = "changed_mind"
	ReturnReasonOther            ReturnReason = "other"
)

// ValidReturnReason reports whether the reason tag is recognised.
func ValidReturnReason(r ReturnReason) bool {
	switch r {
	case ReturnReasonDefective, ReturnReasonWrongItem, ReturnReasonNotAsDescribed,
		ReturnReasonDamagedInTransit, ReturnReasonChangedMind, ReturnReasonOther:
		return true
	}
	return false
}

// ReturnMethod describes how items travel back to the store.
type ReturnMethod string

const (
	ReturnMethodCourierPickup ReturnMethod = "courier_pickup"
	ReturnMethodDropOff       ReturnMethod = "drop_off"
)

// ValidReturnMethod reports whether the method tag is recognised.
func ValidReturnMethod(m ReturnMethod) bool {
	return m == ReturnMethodCourierPickup || m == ReturnMethodDropOff
}

// RefundMethod describes where the refund value is credited.
type RefundMethod string

const (
	RefundMethodOriginalPayment RefundMethod = "original_payment"
	RefundMethodPoints          RefundMethod = "points"
	RefundMethodWallet          RefundMethod = "wallet"
)

// ValidRefundMethod reports whether the refund method tag is recognised.
func ValidRefundMethod(m RefundMethod) bool {
	return m == RefundMethodOriginalPayment || m == RefundMethodPoints || m == RefundMethodWallet
}

// ReturnItem is one line of a return request.
type ReturnItem struct {
	ProductID      string
	Quantity       int
	Reason         ReturnReason
	DetailedReason string
	Images         []string
}

// StoreResponse records the store owner's first decision on a return.
type StoreResponse struct {
	Approved    bool
	Notes       string
	RespondedAt time.Time
	RespondedBy string
}

// AdminReview records the optional admin decision, which may override the store's.
type AdminReview struct {
	Approved   bool
	Notes      string
	ReviewedAt time.Time
	ReviewedBy string
}

// ReturnRequest tracks a post-sale return through its lifecycle.
//
// Each milestone timestamp is set exactly once, by the transition that
// reaches the corresponding state.
type ReturnRequest struct {
	ID                string
	OrderID           string
	CustomerID        string
	StoreID           string
	Items             []ReturnItem
	Status            ReturnStatus
	ReturnMethod      ReturnMethod
	StoreResponse     *StoreResponse
	AdminReview       *AdminReview
	RefundAmount      int64
	RefundMethod      RefundMethod
	PickupScheduledAt *time.Time
	PickedUpAt        *time.Time
	InspectedAt       *time.Time
	RefundedAt        *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
