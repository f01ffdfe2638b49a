package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/merced/commerce-core/internal/database"
	"github.com/merced/commerce-core/internal/models"
)

// checkOrderActor enforces ownership on top of the role gate: vendors
// may only touch orders attributed to them. Mixed-vendor orders carry no
// vendor id and stay admin-managed.
func checkOrderActor(actor *models.User, order *models.Order) error {
	if actor.Role == models.RoleVendor {
		if order.VendorID == nil || *order.VendorID != actor.ID {
			return database.ErrForbidden
		}
	}
	return nil
}

// UpdateOrderStatus moves an order along the lifecycle on behalf of an
// acting user. The transition allow-list is closed per role and vendors
// are held to their own orders; anything outside fails with the
// current/target pair named. Delivery confirmation routes through
// MarkDelivered instead so stock gets fulfilled.
func UpdateOrderStatus(ctx context.Context, db *sql.DB, orderID int64, actor *models.User, target models.OrderStatus) (*models.Order, error) {
	if target == models.OrderStatusDelivered {
		return MarkDelivered(ctx, db, orderID, actor)
	}

	var order *models.Order

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = getOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if err := checkOrderActor(actor, order); err != nil {
			return err
		}
		if !models.CanTransition(actor.Role, order.Status, target) {
			return fmt.Errorf("%w: %s -> %s", database.ErrInvalidStatusTransition, order.Status, target)
		}

		if target == models.OrderStatusCancelled {
			if err := cancelLocked(ctx, tx, order); err != nil {
				return err
			}
			order, err = scanOrder(tx.QueryRowContext(ctx,
				`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
			return err
		}

		order, err = scanOrder(tx.QueryRowContext(ctx,
			`UPDATE orders
			 SET status = $1, version = version + 1, updated_at = NOW()
			 WHERE id = $2
			 RETURNING `+orderColumns,
			target, orderID))
		if err != nil {
			return err
		}

		return InsertOutboxEvent(ctx, tx, EventOrderStatus, order.OrderNumber, order.UserID, map[string]any{
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
			"status":       order.Status,
		})
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// CancelOrder is the customer-facing cancellation: the owner may cancel
// while the order is still pending or confirmed. Reserved stock goes back
// to the available pool in the same transaction.
func CancelOrder(ctx context.Context, db *sql.DB, orderID, userID int64) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = getOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if order.UserID != userID {
			return database.ErrForbidden
		}
		if err := cancelLocked(ctx, tx, order); err != nil {
			return err
		}
		order, err = scanOrder(tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1`, orderID))
		return err
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// cancelLocked flips an already-locked order to cancelled and releases
// every line's reservation.
func cancelLocked(ctx context.Context, tx *sql.Tx, order *models.Order) error {
	if !order.CanBeCancelled() {
		return fmt.Errorf("%w: status %s", database.ErrOrderNotCancellable, order.Status)
	}

	items, err := getOrderItems(ctx, tx, order.ID)
	if err != nil {
		return err
	}

	for _, item := range items {
		if err := ReleaseStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
			return err
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE orders
		 SET status = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2`,
		models.OrderStatusCancelled, order.ID)
	if err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}

	return InsertOutboxEvent(ctx, tx, EventOrderCancelled, order.OrderNumber, order.UserID, map[string]any{
		"order_id":     order.ID,
		"order_number": order.OrderNumber,
	})
}

// MarkDelivered confirms physical delivery: reserved stock is fulfilled
// (both on-hand and reserved counts drop), the order and its shipping
// record flip to delivered, all in one transaction. The gap between
// reservation at order time and fulfillment here models the distance
// between promise and shipment.
func MarkDelivered(ctx context.Context, db *sql.DB, orderID int64, actor *models.User) (*models.Order, error) {
	var order *models.Order

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		var err error
		order, err = getOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		if err := checkOrderActor(actor, order); err != nil {
			return err
		}
		if !models.CanTransition(actor.Role, order.Status, models.OrderStatusDelivered) {
			return fmt.Errorf("%w: %s -> %s", database.ErrInvalidStatusTransition, order.Status, models.OrderStatusDelivered)
		}

		items, err := getOrderItems(ctx, tx, orderID)
		if err != nil {
			return err
		}
		for _, item := range items {
			if err := FulfillStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return err
			}
		}

		order, err = scanOrder(tx.QueryRowContext(ctx,
			`UPDATE orders
			 SET status = $1, version = version + 1, updated_at = NOW()
			 WHERE id = $2
			 RETURNING `+orderColumns,
			models.OrderStatusDelivered, orderID))
		if err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE shipping
			 SET status = $1, actual_delivery = NOW(), updated_at = NOW()
			 WHERE order_id = $2`,
			models.ShippingStatusDelivered, orderID)
		if err != nil {
			return fmt.Errorf("update shipping: %w", err)
		}

		return InsertOutboxEvent(ctx, tx, EventOrderStatus, order.OrderNumber, order.UserID, map[string]any{
			"order_id":     order.ID,
			"order_number": order.OrderNumber,
			"status":       order.Status,
		})
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}
