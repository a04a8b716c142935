package repositories

import (
	"context"
	"time"

	domain "github.com/bazario/commerce-core/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// CouponListFilter narrows coupon catalog listings.
type CouponListFilter struct {
	ActiveOnly bool
	Type       *domain.CouponType
	Pagination domain.Pagination
}

// RedeemCommand carries the fields appended to the usage ledger in one atomic write.
type RedeemCommand struct {
	Code           string
	UserID         string
	OrderID        string
	DiscountAmount int64
	UsedAt         time.Time
}

// CouponRepository persists coupon definitions and owns the usage ledger mutations.
//
// Redeem must re-check the configured usage limits against the stored document
// and apply the counter increment plus history append as a single atomic
// update; concurrent redemptions must never jointly exceed a limit.
type CouponRepository interface {
	Insert(ctx context.Context, coupon domain.Coupon) error
	Update(ctx context.Context, coupon domain.Coupon) error
	Delete(ctx context.Context, couponID string) error
	FindByID(ctx context.Context, couponID string) (domain.Coupon, error)
	FindByCode(ctx context.Context, code string) (domain.Coupon, error)
	List(ctx context.Context, filter CouponListFilter) (domain.CursorPage[domain.Coupon], error)
	Redeem(ctx context.Context, cmd RedeemCommand) (domain.Coupon, error)
	ResetUsage(ctx context.Context, couponID string, at time.Time) (domain.Coupon, error)
	SetActive(ctx context.Context, couponID string, active bool, at time.Time) (domain.Coupon, error)
}

// ReturnListFilter narrows return request listings.
type ReturnListFilter struct {
	CustomerID string
	StoreID    string
	Status     []domain.ReturnStatus
	Pagination domain.Pagination
}

// ReturnRepository persists return requests and provides compare-and-swap transitions.
//
// Transition reads the document inside a transaction, fails with a
// StateConflictError unless the current status is one of expected, applies
// mutate to the fresh copy, and writes the result. An empty expected set
// accepts any current status; mutate then decides what, if anything, changes.
// Two concurrent callers can never both apply the same transition.
type ReturnRepository interface {
	Insert(ctx context.Context, request domain.ReturnRequest) error
	FindByID(ctx context.Context, returnID string) (domain.ReturnRequest, error)
	List(ctx context.Context, filter ReturnListFilter) (domain.CursorPage[domain.ReturnRequest], error)
	Transition(ctx context.Context, returnID string, expected []domain.ReturnStatus, mutate func(*domain.ReturnRequest) error) (domain.ReturnRequest, error)
}
