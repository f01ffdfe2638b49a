package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/merced/commerce-core/internal/database"
	"github.com/merced/commerce-core/internal/models"
	"github.com/merced/commerce-core/internal/pricing"
	"github.com/shopspring/decimal"
)

type CreateCouponRequest struct {
	Code                 string
	Type                 models.CouponType
	Value                decimal.Decimal
	MinOrderAmount       decimal.Decimal
	MaxDiscountAmount    *decimal.Decimal
	UsageLimit           int
	UserLimit            int
	ValidFrom            time.Time
	ValidUntil           time.Time
	ApplicableProductIDs []int64
}

func CreateCoupon(ctx context.Context, db *sql.DB, req CreateCouponRequest) (*models.Coupon, error) {
	coupon := &models.Coupon{}
	var maxDiscount decimal.NullDecimal
	if req.MaxDiscountAmount != nil {
		maxDiscount = decimal.NullDecimal{Decimal: *req.MaxDiscountAmount, Valid: true}
	}

	err := db.QueryRowContext(ctx,
		`INSERT INTO coupons (code, type, value, min_order_amount, max_discount_amount,
		                      usage_limit, used_count, user_limit, valid_from, valid_until,
		                      applicable_product_ids, is_active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10, TRUE, NOW(), NOW())
		 RETURNING id, code, type, value, min_order_amount, max_discount_amount,
		           usage_limit, used_count, user_limit, valid_from, valid_until,
		           applicable_product_ids, is_active, created_at, updated_at`,
		strings.ToUpper(req.Code), req.Type, req.Value, req.MinOrderAmount, maxDiscount,
		req.UsageLimit, req.UserLimit, req.ValidFrom, req.ValidUntil,
		pq.Array(req.ApplicableProductIDs)).Scan(
		&coupon.ID,
		&coupon.Code,
		&coupon.Type,
		&coupon.Value,
		&coupon.MinOrderAmount,
		&maxDiscount,
		&coupon.UsageLimit,
		&coupon.UsedCount,
		&coupon.UserLimit,
		&coupon.ValidFrom,
		&coupon.ValidUntil,
		pq.Array(&coupon.ApplicableProductIDs),
		&coupon.IsActive,
		&coupon.CreatedAt,
		&coupon.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create coupon: %w", err)
	}
	if maxDiscount.Valid {
		coupon.MaxDiscountAmount = &maxDiscount.Decimal
	}

	return coupon, nil
}

func getCouponByCode(ctx context.Context, q DBTX, code string, forUpdate bool) (*models.Coupon, error) {
	coupon := &models.Coupon{}

	query := `
		SELECT id, code, type, value, min_order_amount, max_discount_amount,
		       usage_limit, used_count, user_limit, valid_from, valid_until,
		       applicable_product_ids, is_active, created_at, updated_at
		FROM coupons
		WHERE code = $1`
	if forUpdate {
		query += " FOR UPDATE"
	}

	var maxDiscount decimal.NullDecimal
	err := q.QueryRowContext(ctx, query, strings.ToUpper(code)).Scan(
		&coupon.ID,
		&coupon.Code,
		&coupon.Type,
		&coupon.Value,
		&coupon.MinOrderAmount,
		&maxDiscount,
		&coupon.UsageLimit,
		&coupon.UsedCount,
		&coupon.UserLimit,
		&coupon.ValidFrom,
		&coupon.ValidUntil,
		pq.Array(&coupon.ApplicableProductIDs),
		&coupon.IsActive,
		&coupon.CreatedAt,
		&coupon.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrCouponNotFound
		}
		return nil, fmt.Errorf("get coupon: %w", err)
	}
	if maxDiscount.Valid {
		coupon.MaxDiscountAmount = &maxDiscount.Decimal
	}

	return coupon, nil
}

func countUserRedemptions(ctx context.Context, q DBTX, couponID, userID int64) (int, error) {
	var count int
	err := q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1 AND user_id = $2`,
		couponID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count coupon usage: %w", err)
	}
	return count, nil
}

// CouponValidation is the outcome of a successful validation pipeline.
type CouponValidation struct {
	Coupon         *models.Coupon  `json:"coupon"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalAmount    decimal.Decimal `json:"final_amount"`
}

// validateCoupon runs the pipeline against an already-loaded coupon row.
// Each step short-circuits with its own sentinel so callers can surface a
// precise rejection reason.
func validateCoupon(ctx context.Context, q DBTX, coupon *models.Coupon, orderAmount decimal.Decimal, productIDs []int64, userID int64) (*CouponValidation, error) {
	now := time.Now()
	if !coupon.IsActive || now.Before(coupon.ValidFrom) || now.After(coupon.ValidUntil) {
		return nil, database.ErrCouponInactive
	}

	if coupon.UsedCount >= coupon.UsageLimit {
		return nil, database.ErrCouponUsageExceeded
	}

	if orderAmount.LessThan(coupon.MinOrderAmount) {
		return nil, database.ErrMinimumOrderNotMet
	}

	// Empty allow-list means the coupon applies to everything.
	if len(productIDs) > 0 && len(coupon.ApplicableProductIDs) > 0 {
		applicable := false
		for _, pid := range productIDs {
			for _, allowed := range coupon.ApplicableProductIDs {
				if pid == allowed {
					applicable = true
					break
				}
			}
			if applicable {
				break
			}
		}
		if !applicable {
			return nil, database.ErrCouponNotApplicable
		}
	}

	if userID > 0 && coupon.UserLimit > 0 {
		used, err := countUserRedemptions(ctx, q, coupon.ID, userID)
		if err != nil {
			return nil, err
		}
		if used >= coupon.UserLimit {
			return nil, database.ErrUserCouponLimitExceeded
		}
	}

	discount := pricing.Discount(coupon, orderAmount)
	return &CouponValidation{
		Coupon:         coupon,
		DiscountAmount: discount,
		FinalAmount:    pricing.Round2(orderAmount.Sub(discount)),
	}, nil
}

// ValidateCoupon is the read-only validation used by the validate endpoint.
// It takes no locks; ApplyCoupon re-validates under lock before committing.
func ValidateCoupon(ctx context.Context, db *sql.DB, code string, orderAmount decimal.Decimal, productIDs []int64, userID int64) (*CouponValidation, error) {
	coupon, err := getCouponByCode(ctx, db, code, false)
	if err != nil {
		return nil, err
	}
	return validateCoupon(ctx, db, coupon, orderAmount, productIDs, userID)
}

// ApplyCoupon redeems a coupon against a persisted order in one
// transaction: the coupon row is locked, validation reruns against the
// order's real amount and product set, a usage-ledger row is appended, the
// global counter increments behind a used_count < usage_limit guard, and
// the order's discount and final amount are rewritten. Any failure rolls
// the whole redemption back; no partial application is observable.
func ApplyCoupon(ctx context.Context, db *sql.DB, code string, orderID, userID int64) (*CouponValidation, error) {
	var result *CouponValidation

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		coupon, err := getCouponByCode(ctx, tx, code, true)
		if err != nil {
			return err
		}

		order, err := getOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return database.ErrForbidden
		}

		items, err := getOrderItems(ctx, tx, orderID)
		if err != nil {
			return err
		}
		productIDs := make([]int64, 0, len(items))
		for _, item := range items {
			productIDs = append(productIDs, item.ProductID)
		}

		result, err = validateCoupon(ctx, tx, coupon, order.TotalAmount, productIDs, userID)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`UPDATE coupons
			 SET used_count = used_count + 1, updated_at = NOW()
			 WHERE id = $1 AND used_count < usage_limit`,
			coupon.ID)
		if err != nil {
			return fmt.Errorf("increment coupon usage: %w", err)
		}
		rowsAffected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		if rowsAffected == 0 {
			return database.ErrCouponUsageExceeded
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO coupon_usages (coupon_id, user_id, order_id, discount_amount, created_at)
			 VALUES ($1, $2, $3, $4, NOW())`,
			coupon.ID, userID, orderID, result.DiscountAmount)
		if err != nil {
			return fmt.Errorf("insert coupon usage: %w", err)
		}

		finalAmount := pricing.Round2(order.TotalAmount.
			Sub(result.DiscountAmount).
			Add(order.ShippingAmount).
			Add(order.TaxAmount))

		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET discount_amount = $1, final_amount = $2, version = version + 1, updated_at = NOW()
			 WHERE id = $3`,
			result.DiscountAmount, finalAmount, orderID)
		if err != nil {
			return fmt.Errorf("apply discount to order: %w", err)
		}
		result.FinalAmount = finalAmount

		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
