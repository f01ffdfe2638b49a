package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/merced/commerce-core/internal/models"
)

// Notification event types carried through the outbox.
const (
	EventOrderPlaced     = "order.placed"
	EventOrderStatus     = "order.status_changed"
	EventOrderCancelled  = "order.cancelled"
	EventOrderRefunded   = "order.refunded"
	EventInventoryLow    = "inventory.low_stock"
	EventInventoryFilled = "inventory.restocked"
	EventPaymentSettled  = "payment.settled"
)

// InsertOutboxEvent records a notification in the same transaction as the
// business write. The relay publishes it after commit, so notification
// delivery can never abort a business transaction, yet an event exists
// iff the write committed.
func InsertOutboxEvent(ctx context.Context, q DBTX, eventType, aggregateID string, userID int64, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal outbox payload: %w", err)
	}

	_, err = q.ExecContext(ctx,
		`INSERT INTO outbox_events (event_type, aggregate_id, user_id, payload, processed, created_at)
		 VALUES ($1, $2, $3, $4, FALSE, NOW())`,
		eventType, aggregateID, userID, data)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func GetUnprocessedEvents(ctx context.Context, q DBTX, limit int) ([]models.OutboxEvent, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, event_type, aggregate_id, user_id, payload, processed, created_at, processed_at
		 FROM outbox_events
		 WHERE processed = FALSE
		 ORDER BY id
		 LIMIT $1`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("list unprocessed events: %w", err)
	}
	defer rows.Close()

	var events []models.OutboxEvent
	for rows.Next() {
		var ev models.OutboxEvent
		err := rows.Scan(
			&ev.ID,
			&ev.EventType,
			&ev.AggregateID,
			&ev.UserID,
			&ev.Payload,
			&ev.Processed,
			&ev.CreatedAt,
			&ev.ProcessedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return events, nil
}

func MarkEventProcessed(ctx context.Context, q DBTX, eventID int64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE outbox_events
		 SET processed = TRUE, processed_at = NOW()
		 WHERE id = $1`,
		eventID)
	if err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}
