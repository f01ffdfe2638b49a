package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/merced/commerce-core/internal/database"
	"github.com/merced/commerce-core/internal/models"
	"github.com/merced/commerce-core/internal/payment"
	"github.com/shopspring/decimal"
)

const paymentColumns = `id, order_id, method, gateway, amount, currency, status,
	transaction_id, refund_amount, gateway_response, created_at, updated_at`

func scanPayment(row *sql.Row) (*models.Payment, error) {
	p := &models.Payment{}
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.Method,
		&p.Gateway,
		&p.Amount,
		&p.Currency,
		&p.Status,
		&p.TransactionID,
		&p.RefundAmount,
		&p.GatewayResponse,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrPaymentNotFound
		}
		return nil, fmt.Errorf("scan payment: %w", err)
	}
	return p, nil
}

// InitiatePayment opens a payment attempt for an order's final amount.
// The gateway is called after this commits; initiation and confirmation
// are two separate transactions linked by the payment id, so no
// transaction stays open across the network call.
func InitiatePayment(ctx context.Context, db *sql.DB, orderID int64, method, gateway, currency string) (*models.Payment, error) {
	var p *models.Payment

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		order, err := getOrderForUpdate(ctx, tx, orderID)
		if err != nil {
			return err
		}

		p, err = scanPayment(tx.QueryRowContext(ctx,
			`INSERT INTO payments (order_id, method, gateway, amount, currency, status,
			                       transaction_id, refund_amount, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, '', 0, NOW(), NOW())
			 RETURNING `+paymentColumns,
			orderID, method, gateway, order.FinalAmount, currency, models.PaymentStatusPending))
		if err != nil {
			return fmt.Errorf("create payment: %w", err)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET payment_status = $1, version = version + 1, updated_at = NOW()
			 WHERE id = $2`,
			models.PaymentStatusProcessing, orderID)
		if err != nil {
			return fmt.Errorf("update order payment status: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

// ConfirmPayment records the gateway verdict for a pending payment and
// mirrors the outcome onto the order.
func ConfirmPayment(ctx context.Context, db *sql.DB, paymentID int64, result *payment.Result) (*models.Payment, error) {
	var p *models.Payment

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		current, err := scanPayment(tx.QueryRowContext(ctx,
			`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID))
		if err != nil {
			return err
		}
		if current.Status != models.PaymentStatusPending && current.Status != models.PaymentStatusProcessing {
			return database.ErrPaymentAlreadySettled
		}

		status := models.PaymentStatusCompleted
		if !result.Success {
			status = models.PaymentStatusFailed
		}

		p, err = scanPayment(tx.QueryRowContext(ctx,
			`UPDATE payments
			 SET status = $1, transaction_id = $2, gateway_response = $3, updated_at = NOW()
			 WHERE id = $4
			 RETURNING `+paymentColumns,
			status, result.TransactionID, result.RawResponse, paymentID))
		if err != nil {
			return err
		}

		orderPaymentStatus := status
		_, err = tx.ExecContext(ctx,
			`UPDATE orders
			 SET payment_status = $1, version = version + 1, updated_at = NOW()
			 WHERE id = $2`,
			orderPaymentStatus, p.OrderID)
		if err != nil {
			return fmt.Errorf("update order payment status: %w", err)
		}

		if status == models.PaymentStatusCompleted {
			return InsertOutboxEvent(ctx, tx, EventPaymentSettled, fmt.Sprintf("payment-%d", p.ID), 0, map[string]any{
				"payment_id": p.ID,
				"order_id":   p.OrderID,
				"amount":     p.Amount,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}

// RefundPayment refunds up to the captured amount of a completed payment
// on a refundable order (delivered, payment completed). Partial refunds
// accumulate on the payment, which stays completed so the remainder can
// still be refunded; only once refund_amount reaches the captured amount
// do the payment and the order flip to refunded.
func RefundPayment(ctx context.Context, db *sql.DB, paymentID int64, amount decimal.Decimal) (*models.Payment, error) {
	var p *models.Payment

	err := database.WithRetry(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		current, err := scanPayment(tx.QueryRowContext(ctx,
			`SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, paymentID))
		if err != nil {
			return err
		}

		order, err := getOrderForUpdate(ctx, tx, current.OrderID)
		if err != nil {
			return err
		}
		if !order.CanBeRefunded() {
			return fmt.Errorf("%w: status %s, payment %s", database.ErrOrderNotRefundable, order.Status, order.PaymentStatus)
		}

		newRefundTotal := current.RefundAmount.Add(amount)
		if newRefundTotal.GreaterThan(current.Amount) {
			return database.ErrRefundExceedsPayment
		}

		status := models.PaymentStatusCompleted
		fullyRefunded := newRefundTotal.Equal(current.Amount)
		if fullyRefunded {
			status = models.PaymentStatusRefunded
		}

		p, err = scanPayment(tx.QueryRowContext(ctx,
			`UPDATE payments
			 SET status = $1, refund_amount = refund_amount + $2, updated_at = NOW()
			 WHERE id = $3
			 RETURNING `+paymentColumns,
			status, amount, paymentID))
		if err != nil {
			return err
		}

		if fullyRefunded {
			_, err = tx.ExecContext(ctx,
				`UPDATE orders
				 SET status = $1, payment_status = $2, version = version + 1, updated_at = NOW()
				 WHERE id = $3`,
				models.OrderStatusRefunded, models.PaymentStatusRefunded, order.ID)
			if err != nil {
				return fmt.Errorf("update order on refund: %w", err)
			}
		}

		return InsertOutboxEvent(ctx, tx, EventOrderRefunded, order.OrderNumber, order.UserID, map[string]any{
			"order_id":       order.ID,
			"order_number":   order.OrderNumber,
			"refund_amount":  amount,
			"fully_refunded": fullyRefunded,
		})
	})
	if err != nil {
		return nil, err
	}

	return p, nil
}
