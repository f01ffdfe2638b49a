package database

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
)

func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001":
			return ErrorClassSerialization
		case "40P01":
			return ErrorClassDeadlock
		case "55P03":
			return ErrorClassTransient
		case "23505", "23503", "23502", "23514":
			return ErrorClassPermanent
		}
	}

	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	return ErrorClassPermanent
}

func IsRetryable(err error) bool {
	class := ClassifyError(err)
	return class == ErrorClassTransient ||
		class == ErrorClassDeadlock ||
		class == ErrorClassSerialization
}

// Not-found class: terminal for the request, maps to 404 at the edge.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrProductNotFound   = errors.New("product not found")
	ErrOrderNotFound     = errors.New("order not found")
	ErrInventoryNotFound = errors.New("inventory not found")
	ErrCouponNotFound    = errors.New("coupon not found")
	ErrPaymentNotFound   = errors.New("payment not found")
	ErrCartItemNotFound  = errors.New("cart item not found")
	ErrShippingNotFound  = errors.New("shipping not found")
)

// Conflict class: the operation is well-formed but the current state
// forbids it, maps to 409 at the edge.
var (
	ErrEmptyCart               = errors.New("cart is empty")
	ErrProductUnavailable      = errors.New("product unavailable")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrCouponInactive          = errors.New("coupon expired or inactive")
	ErrCouponUsageExceeded     = errors.New("coupon usage limit exceeded")
	ErrMinimumOrderNotMet      = errors.New("minimum order amount not met")
	ErrCouponNotApplicable     = errors.New("coupon not applicable to these products")
	ErrUserCouponLimitExceeded = errors.New("per-user coupon limit exceeded")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrOrderNotCancellable     = errors.New("order cannot be cancelled")
	ErrOrderNotRefundable      = errors.New("order cannot be refunded")
	ErrPaymentAlreadySettled   = errors.New("payment already settled")
	ErrRefundExceedsPayment    = errors.New("refund exceeds payment amount")
	ErrLockTimeout             = errors.New("lock timeout")
)

// Unauthorized class: role or ownership mismatch, maps to 403.
var ErrForbidden = errors.New("operation not permitted for role")
