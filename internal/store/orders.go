package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/merced/commerce-core/internal/database"
	"github.com/merced/commerce-core/internal/models"
	"github.com/merced/commerce-core/internal/pricing"
	"github.com/shopspring/decimal"
)

type CreateOrderRequest struct {
	UserID            int64
	ShippingAddressID int64
	BillingAddressID  *int64
	PaymentMethod     string
	Notes             string
	CouponCode        string
}

// generateOrderNumber builds the human-facing order identifier. A UUID
// suffix keeps it collision-free under concurrent checkout, unlike a
// timestamp+random scheme.
func generateOrderNumber() string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
	return "ORD-" + suffix
}

const orderColumns = `id, order_number, user_id, status, total_amount, discount_amount,
	shipping_amount, tax_amount, final_amount, shipping_address_id, billing_address_id,
	payment_method, payment_status, vendor_id, delivery_person_id, notes,
	created_at, updated_at, version`

func scanOrder(row *sql.Row) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(
		&order.ID,
		&order.OrderNumber,
		&order.UserID,
		&order.Status,
		&order.TotalAmount,
		&order.DiscountAmount,
		&order.ShippingAmount,
		&order.TaxAmount,
		&order.FinalAmount,
		&order.ShippingAddressID,
		&order.BillingAddressID,
		&order.PaymentMethod,
		&order.PaymentStatus,
		&order.VendorID,
		&order.DeliveryPersonID,
		&order.Notes,
		&order.CreatedAt,
		&order.UpdatedAt,
		&order.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrOrderNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return order, nil
}

func getOrderForUpdate(ctx context.Context, tx *sql.Tx, orderID int64) (*models.Order, error) {
	return scanOrder(tx.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, orderID))
}

func getOrderItems(ctx context.Context, q DBTX, orderID int64) ([]models.OrderItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, order_id, product_id, variant, quantity, unit_price, total_price, created_at
		 FROM order_items
		 WHERE order_id = $1
		 ORDER BY id`,
		orderID)
	if err != nil {
		return nil, fmt.Errorf("get order items: %w", err)
	}
	defer rows.Close()

	var items []models.OrderItem
	for rows.Next() {
		var item models.OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.Variant,
			&item.Quantity,
			&item.UnitPrice,
			&item.TotalPrice,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

// CreateOrder converts the user's cart into an order in one transaction:
// product and inventory validation, stock reservation, totals, optional
// coupon redemption, order/items/shipping persistence, cart cleanup and
// the order-placed outbox event all commit together or not at all. A
// reservation failure mid-cart aborts the transaction, so earlier
// reservations vanish with the rollback rather than being compensated.
func CreateOrder(ctx context.Context, db *sql.DB, rules pricing.Rules, req CreateOrderRequest) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.TxOptions{
		IsolationLevel: sql.LevelReadCommitted,
		MaxRetries:     3,
	}, func(tx *sql.Tx) error {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)",
			req.UserID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check user exists: %w", err)
		}
		if !exists {
			return database.ErrUserNotFound
		}

		cartItems, err := GetCartItems(ctx, tx, req.UserID)
		if err != nil {
			return err
		}
		if len(cartItems) == 0 {
			return database.ErrEmptyCart
		}

		totalAmount := decimal.Zero
		productIDs := make([]int64, 0, len(cartItems))
		var vendorID *int64
		sameVendor := true

		for _, item := range cartItems {
			product, err := GetProduct(ctx, tx, item.ProductID)
			if err != nil {
				return err
			}
			if !product.IsActive {
				return fmt.Errorf("%w: %s", database.ErrProductUnavailable, product.Name)
			}

			if err := ReserveStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}

			// Bill the price snapshotted at add-to-cart time, not the
			// live product price.
			totalAmount = totalAmount.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
			productIDs = append(productIDs, item.ProductID)

			if vendorID == nil {
				v := product.VendorID
				vendorID = &v
			} else if *vendorID != product.VendorID {
				sameVendor = false
			}
		}
		if !sameVendor {
			vendorID = nil
		}

		discountAmount := decimal.Zero
		var coupon *models.Coupon
		if req.CouponCode != "" {
			coupon, err = getCouponByCode(ctx, tx, req.CouponCode, true)
			if err != nil {
				return err
			}
			validation, err := validateCoupon(ctx, tx, coupon, totalAmount, productIDs, req.UserID)
			if err != nil {
				return err
			}
			discountAmount = validation.DiscountAmount
		}

		breakdown := rules.Compute(totalAmount, discountAmount)

		order, err = scanOrder(tx.QueryRowContext(ctx,
			`INSERT INTO orders (order_number, user_id, status, total_amount, discount_amount,
			                     shipping_amount, tax_amount, final_amount, shipping_address_id,
			                     billing_address_id, payment_method, payment_status, vendor_id,
			                     notes, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW(), NOW(), 1)
			 RETURNING `+orderColumns,
			generateOrderNumber(), req.UserID, models.OrderStatusPending,
			breakdown.TotalAmount, breakdown.DiscountAmount, breakdown.ShippingAmount,
			breakdown.TaxAmount, breakdown.FinalAmount, req.ShippingAddressID,
			req.BillingAddressID, req.PaymentMethod, models.PaymentStatusPending,
			vendorID, req.Notes))
		if err != nil {
			return fmt.Errorf("create order: %w", err)
		}

		for _, item := range cartItems {
			totalPrice := item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity)))
			_, err = tx.ExecContext(ctx,
				`INSERT INTO order_items (order_id, product_id, variant, quantity, unit_price, total_price, created_at)
				 VALUES ($1, $2, $3, $4, $5, $6, NOW())`,
				order.ID, item.ProductID, item.Variant, item.Quantity, item.UnitPrice, totalPrice)
			if err != nil {
				return fmt.Errorf("create order item: %w", err)
			}
		}

		if coupon != nil {
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
				coupon.ID, req.UserID, order.ID, discountAmount)
			if err != nil {
				return fmt.Errorf("insert coupon usage: %w", err)
			}
		}

		estimated := time.Now().Add(7 * 24 * time.Hour)
		_, err = tx.ExecContext(ctx,
			`INSERT INTO shipping (order_id, method, status, estimated_delivery, created_at, updated_at)
			 VALUES ($1, 'Standard', $2, $3, NOW(), NOW())`,
			order.ID, models.ShippingStatusPending, estimated)
		if err != nil {
			return fmt.Errorf("create shipping: %w", err)
		}

		if err := ClearCart(ctx, tx, req.UserID); err != nil {
			return err
		}

		return InsertOutboxEvent(ctx, tx, EventOrderPlaced, order.OrderNumber, req.UserID, map[string]any{
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
			"final_amount": order.FinalAmount,
		})
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

func GetOrder(ctx context.Context, db *sql.DB, id int64) (*models.Order, error) {
	order, err := scanOrder(db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}

	items, err := getOrderItems(ctx, db, id)
	if err != nil {
		return nil, err
	}
	order.Items = items

	shipping, err := GetShippingByOrder(ctx, db, id)
	if err != nil && err != database.ErrShippingNotFound {
		return nil, err
	}
	order.Shipping = shipping

	return order, nil
}

func ListOrdersCursor(ctx context.Context, db *sql.DB, userID int64, cursor string, limit int) (*CursorPage, error) {
	cursorData, err := DecodeCursor(cursor)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}

	query := `
		SELECT ` + orderColumns + `
		FROM orders
		WHERE user_id = $1
		  AND (created_at, id) < ($2, $3)
		ORDER BY created_at DESC, id DESC
		LIMIT $4`

	rows, err := db.QueryContext(ctx, query, userID, cursorData.CreatedAt, cursorData.ID, limit+1)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		err := rows.Scan(
			&order.ID,
			&order.OrderNumber,
			&order.UserID,
			&order.Status,
			&order.TotalAmount,
			&order.DiscountAmount,
			&order.ShippingAmount,
			&order.TaxAmount,
			&order.FinalAmount,
			&order.ShippingAddressID,
			&order.BillingAddressID,
			&order.PaymentMethod,
			&order.PaymentStatus,
			&order.VendorID,
			&order.DeliveryPersonID,
			&order.Notes,
			&order.CreatedAt,
			&order.UpdatedAt,
			&order.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	hasMore := len(orders) > limit
	if hasMore {
		orders = orders[:limit]
	}

	var nextCursor string
	if hasMore && len(orders) > 0 {
		lastOrder := orders[len(orders)-1]
		nextCursor = EncodeCursor(OrderCursor{
			CreatedAt: lastOrder.CreatedAt,
			ID:        lastOrder.ID,
		})
	}

	return &CursorPage{
		Items:      orders,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}
