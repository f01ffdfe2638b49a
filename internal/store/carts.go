package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/merced/commerce-core/internal/database"
	"github.com/merced/commerce-core/internal/models"
)

type AddCartItemRequest struct {
	UserID    int64
	ProductID int64
	Variant   string
	Quantity  int
	Country   string
}

// AddCartItem snapshots the product's current final price for the user's
// country. A later price change on the product never touches an in-flight
// cart line; order assembly bills what the user saw.
func AddCartItem(ctx context.Context, db *sql.DB, defaultCountry string, req AddCartItemRequest) (*models.CartItem, error) {
	var item *models.CartItem

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		product, err := GetProduct(ctx, tx, req.ProductID)
		if err != nil {
			return err
		}
		if !product.IsActive {
			return fmt.Errorf("%w: %s", database.ErrProductUnavailable, product.Name)
		}

		unitPrice, err := ResolvePrice(ctx, tx, req.ProductID, req.Country, defaultCountry)
		if err != nil {
			return err
		}

		item = &models.CartItem{}
		err = tx.QueryRowContext(ctx,
			`INSERT INTO cart_items (user_id, product_id, variant, quantity, unit_price, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
			 ON CONFLICT (user_id, product_id, variant)
			 DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity, updated_at = NOW()
			 RETURNING id, user_id, product_id, variant, quantity, unit_price, created_at, updated_at`,
			req.UserID, req.ProductID, req.Variant, req.Quantity, unitPrice).Scan(
			&item.ID,
			&item.UserID,
			&item.ProductID,
			&item.Variant,
			&item.Quantity,
			&item.UnitPrice,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("upsert cart item: %w", err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return item, nil
}

func GetCartItems(ctx context.Context, q DBTX, userID int64) ([]models.CartItem, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, user_id, product_id, variant, quantity, unit_price, created_at, updated_at
		 FROM cart_items
		 WHERE user_id = $1
		 ORDER BY id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("get cart items: %w", err)
	}
	defer rows.Close()

	var items []models.CartItem
	for rows.Next() {
		var item models.CartItem
		err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.ProductID,
			&item.Variant,
			&item.Quantity,
			&item.UnitPrice,
			&item.CreatedAt,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return items, nil
}

func ClearCart(ctx context.Context, q DBTX, userID int64) error {
	_, err := q.ExecContext(ctx, `DELETE FROM cart_items WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func RemoveCartItem(ctx context.Context, db *sql.DB, userID, itemID int64) error {
	result, err := db.ExecContext(ctx,
		`DELETE FROM cart_items WHERE id = $1 AND user_id = $2`,
		itemID, userID)
	if err != nil {
		return fmt.Errorf("remove cart item: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrCartItemNotFound
	}

	return nil
}
