package repositories

import "fmt"

// CouponErrorCode enumerates failure reasons for usage ledger operations.
type CouponErrorCode string

const (
	// CouponErrorUnknown represents an unspecified failure.
	CouponErrorUnknown CouponErrorCode = "coupon_unknown"
	// CouponErrorInvalidInput indicates the caller supplied invalid arguments.
	CouponErrorInvalidInput CouponErrorCode = "coupon_invalid_input"
	// CouponErrorLimitReached indicates a usage limit was hit at write time.
	CouponErrorLimitReached CouponErrorCode = "coupon_limit_reached"
	// CouponErrorDuplicateCode indicates a coupon with the same code already exists.
	CouponErrorDuplicateCode CouponErrorCode = "coupon_duplicate_code"
	// CouponErrorInUse indicates the coupon has recorded redemptions and cannot be deleted.
	CouponErrorInUse CouponErrorCode = "coupon_in_use"
)

// CouponError wraps ledger-specific failures with machine readable codes.
type CouponError struct {
	Op      string
	Code    CouponErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CouponError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *CouponError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewCouponError constructs a typed coupon error.
func NewCouponError(code CouponErrorCode, message string, err error) *CouponError {
	if message == "" {
		message = string(code)
	}
	return &CouponError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
