package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/merced/commerce-core/internal/database"
	"github.com/merced/commerce-core/internal/models"
)

func CreateInventory(ctx context.Context, q DBTX, productID int64, quantity, reorderLevel int) (*models.Inventory, error) {
	inv := &models.Inventory{}

	query := `
		INSERT INTO inventory (product_id, quantity, reserved_quantity, reorder_level, updated_at)
		VALUES ($1, $2, 0, $3, NOW())
		RETURNING id, product_id, quantity, reserved_quantity, reorder_level, last_restocked, updated_at`

	err := q.QueryRowContext(ctx, query, productID, quantity, reorderLevel).Scan(
		&inv.ID,
		&inv.ProductID,
		&inv.Quantity,
		&inv.ReservedQuantity,
		&inv.ReorderLevel,
		&inv.LastRestocked,
		&inv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("create inventory: %w", err)
	}

	return inv, nil
}

func GetInventory(ctx context.Context, q DBTX, productID int64) (*models.Inventory, error) {
	inv := &models.Inventory{}

	query := `
		SELECT id, product_id, quantity, reserved_quantity, reorder_level, last_restocked, updated_at
		FROM inventory
		WHERE product_id = $1`

	err := q.QueryRowContext(ctx, query, productID).Scan(
		&inv.ID,
		&inv.ProductID,
		&inv.Quantity,
		&inv.ReservedQuantity,
		&inv.ReorderLevel,
		&inv.LastRestocked,
		&inv.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrInventoryNotFound
		}
		return nil, fmt.Errorf("get inventory: %w", err)
	}

	return inv, nil
}

// ReserveStock promises qty units to an in-flight order. The availability
// check and the increment are one conditional UPDATE so two concurrent
// reservations can never both read stale availability and over-commit.
func ReserveStock(ctx context.Context, tx *sql.Tx, productID int64, qty int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE inventory
		 SET reserved_quantity = reserved_quantity + $1,
		     updated_at = NOW()
		 WHERE product_id = $2
		   AND quantity - reserved_quantity >= $1`,
		qty, productID)
	if err != nil {
		return fmt.Errorf("reserve stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		var exists bool
		err := tx.QueryRowContext(ctx,
			"SELECT EXISTS(SELECT 1 FROM inventory WHERE product_id = $1)",
			productID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check inventory exists: %w", err)
		}
		if !exists {
			return database.ErrInventoryNotFound
		}
		return database.ErrInsufficientStock
	}

	return nil
}

// ReleaseStock returns reserved units to the available pool. Over-release
// clamps at zero, so releasing is safe to repeat.
func ReleaseStock(ctx context.Context, tx *sql.Tx, productID int64, qty int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE inventory
		 SET reserved_quantity = reserved_quantity - LEAST($1, reserved_quantity),
		     updated_at = NOW()
		 WHERE product_id = $2`,
		qty, productID)
	if err != nil {
		return fmt.Errorf("release stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInventoryNotFound
	}

	return nil
}

// FulfillStock physically commits reserved units to a shipped order,
// decrementing both on-hand and reserved counts. Emits a low-stock event
// when the remaining availability drops to the reorder level.
func FulfillStock(ctx context.Context, tx *sql.Tx, productID int64, qty int) error {
	inv := &models.Inventory{}

	err := tx.QueryRowContext(ctx,
		`UPDATE inventory
		 SET quantity = quantity - $1,
		     reserved_quantity = reserved_quantity - $1,
		     updated_at = NOW()
		 WHERE product_id = $2
		   AND reserved_quantity >= $1
		   AND quantity >= $1
		 RETURNING id, product_id, quantity, reserved_quantity, reorder_level, last_restocked, updated_at`,
		qty, productID).Scan(
		&inv.ID,
		&inv.ProductID,
		&inv.Quantity,
		&inv.ReservedQuantity,
		&inv.ReorderLevel,
		&inv.LastRestocked,
		&inv.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				"SELECT EXISTS(SELECT 1 FROM inventory WHERE product_id = $1)",
				productID).Scan(&exists); err != nil {
				return fmt.Errorf("check inventory exists: %w", err)
			}
			if !exists {
				return database.ErrInventoryNotFound
			}
			return database.ErrInsufficientStock
		}
		return fmt.Errorf("fulfill stock: %w", err)
	}

	if inv.IsLowStock() {
		err := InsertOutboxEvent(ctx, tx, EventInventoryLow, fmt.Sprintf("product-%d", productID), 0, map[string]any{
			"product_id": productID,
			"available":  inv.AvailableQuantity(),
			"reorder_at": inv.ReorderLevel,
		})
		if err != nil {
			return err
		}
	}

	return nil
}

// Restock adds on-hand units and stamps last_restocked.
func Restock(ctx context.Context, db *sql.DB, productID int64, addQty int) (*models.Inventory, error) {
	var inv *models.Inventory

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		inv = &models.Inventory{}
		err := tx.QueryRowContext(ctx,
			`UPDATE inventory
			 SET quantity = quantity + $1,
			     last_restocked = NOW(),
			     updated_at = NOW()
			 WHERE product_id = $2
			 RETURNING id, product_id, quantity, reserved_quantity, reorder_level, last_restocked, updated_at`,
			addQty, productID).Scan(
			&inv.ID,
			&inv.ProductID,
			&inv.Quantity,
			&inv.ReservedQuantity,
			&inv.ReorderLevel,
			&inv.LastRestocked,
			&inv.UpdatedAt,
		)
		if err != nil {
			if err == sql.ErrNoRows {
				return database.ErrInventoryNotFound
			}
			return fmt.Errorf("restock: %w", err)
		}

		return InsertOutboxEvent(ctx, tx, EventInventoryFilled, fmt.Sprintf("product-%d", productID), 0, map[string]any{
			"product_id": productID,
			"added":      addQty,
			"available":  inv.AvailableQuantity(),
		})
	})
	if err != nil {
		return nil, err
	}

	return inv, nil
}
