package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/merced/commerce-core/internal/database"
	"github.com/merced/commerce-core/internal/models"
)

const shippingColumns = `id, order_id, method, tracking_number, status,
	estimated_delivery, actual_delivery, created_at, updated_at`

func scanShipping(row *sql.Row) (*models.Shipping, error) {
	s := &models.Shipping{}
	err := row.Scan(
		&s.ID,
		&s.OrderID,
		&s.Method,
		&s.TrackingNumber,
		&s.Status,
		&s.EstimatedDelivery,
		&s.ActualDelivery,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrShippingNotFound
		}
		return nil, fmt.Errorf("scan shipping: %w", err)
	}
	return s, nil
}

func GetShippingByOrder(ctx context.Context, q DBTX, orderID int64) (*models.Shipping, error) {
	return scanShipping(q.QueryRowContext(ctx,
		`SELECT `+shippingColumns+` FROM shipping WHERE order_id = $1`, orderID))
}

func AssignTracking(ctx context.Context, db *sql.DB, orderID int64, trackingNumber string) (*models.Shipping, error) {
	s, err := scanShipping(db.QueryRowContext(ctx,
		`UPDATE shipping
		 SET tracking_number = $1, updated_at = NOW()
		 WHERE order_id = $2
		 RETURNING `+shippingColumns,
		trackingNumber, orderID))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateShippingStatus advances a shipment along its own state machine,
// independent of order delivery confirmation (which is MarkDelivered's
// job and also fulfills stock).
func UpdateShippingStatus(ctx context.Context, db *sql.DB, orderID int64, target models.ShippingStatus) (*models.Shipping, error) {
	var s *models.Shipping

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		current, err := scanShipping(tx.QueryRowContext(ctx,
			`SELECT `+shippingColumns+` FROM shipping WHERE order_id = $1 FOR UPDATE`, orderID))
		if err != nil {
			return err
		}

		if !models.CanTransitionShipping(current.Status, target) {
			return fmt.Errorf("%w: %s -> %s", database.ErrInvalidStatusTransition, current.Status, target)
		}

		s, err = scanShipping(tx.QueryRowContext(ctx,
			`UPDATE shipping
			 SET status = $1, updated_at = NOW()
			 WHERE order_id = $2
			 RETURNING `+shippingColumns,
			target, orderID))
		return err
	})
	if err != nil {
		return nil, err
	}

	return s, nil
}
