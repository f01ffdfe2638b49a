package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/merced/commerce-core/internal/database"
	"github.com/merced/commerce-core/internal/models"
	"github.com/shopspring/decimal"
)

type CreateProductRequest struct {
	SKU          string
	Name         string
	Description  string
	VendorID     int64
	Stock        int
	ReorderLevel int
	Prices       []ProductPriceRequest
}

type ProductPriceRequest struct {
	Country        string
	Currency       string
	ActualPrice    decimal.Decimal
	DiscountAmount decimal.Decimal
}

// CreateProduct inserts the product, its per-country price rows and its
// inventory row in one transaction. Every catalog entry has an inventory
// record from the moment it exists; checkout never sees a product
// without one.
func CreateProduct(ctx context.Context, db *sql.DB, req CreateProductRequest) (*models.Product, error) {
	var product *models.Product

	err := database.WithTransaction(ctx, db, database.DefaultTxOptions(), func(tx *sql.Tx) error {
		product = &models.Product{}

		err := tx.QueryRowContext(ctx,
			`INSERT INTO products (sku, name, description, vendor_id, is_active, created_at, updated_at, version)
			 VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW(), 1)
			 RETURNING id, sku, name, description, vendor_id, is_active, created_at, updated_at, version`,
			req.SKU, req.Name, req.Description, req.VendorID).Scan(
			&product.ID,
			&product.SKU,
			&product.Name,
			&product.Description,
			&product.VendorID,
			&product.IsActive,
			&product.CreatedAt,
			&product.UpdatedAt,
			&product.Version,
		)
		if err != nil {
			return fmt.Errorf("create product: %w", err)
		}

		for _, p := range req.Prices {
			finalPrice := p.ActualPrice.Sub(p.DiscountAmount)
			var price models.ProductPrice
			err := tx.QueryRowContext(ctx,
				`INSERT INTO product_prices (product_id, country, currency, actual_price, discount_amount, final_price)
				 VALUES ($1, $2, $3, $4, $5, $6)
				 RETURNING id, product_id, country, currency, actual_price, discount_amount, final_price`,
				product.ID, p.Country, p.Currency, p.ActualPrice, p.DiscountAmount, finalPrice).Scan(
				&price.ID,
				&price.ProductID,
				&price.Country,
				&price.Currency,
				&price.ActualPrice,
				&price.DiscountAmount,
				&price.FinalPrice,
			)
			if err != nil {
				return fmt.Errorf("create product price: %w", err)
			}
			product.Prices = append(product.Prices, price)
		}

		if _, err := CreateInventory(ctx, tx, product.ID, req.Stock, req.ReorderLevel); err != nil {
			return err
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return product, nil
}

func GetProduct(ctx context.Context, q DBTX, id int64) (*models.Product, error) {
	product := &models.Product{}

	query := `
		SELECT id, sku, name, description, vendor_id, is_active, created_at, updated_at, version
		FROM products
		WHERE id = $1`

	err := q.QueryRowContext(ctx, query, id).Scan(
		&product.ID,
		&product.SKU,
		&product.Name,
		&product.Description,
		&product.VendorID,
		&product.IsActive,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	rows, err := q.QueryContext(ctx,
		`SELECT id, product_id, country, currency, actual_price, discount_amount, final_price
		 FROM product_prices
		 WHERE product_id = $1
		 ORDER BY country`,
		id)
	if err != nil {
		return nil, fmt.Errorf("get product prices: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var price models.ProductPrice
		err := rows.Scan(
			&price.ID,
			&price.ProductID,
			&price.Country,
			&price.Currency,
			&price.ActualPrice,
			&price.DiscountAmount,
			&price.FinalPrice,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product price: %w", err)
		}
		product.Prices = append(product.Prices, price)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return product, nil
}

// ResolvePrice returns the final price for a product in a country, falling
// back to the given default country when no country-specific row exists.
func ResolvePrice(ctx context.Context, q DBTX, productID int64, country, defaultCountry string) (decimal.Decimal, error) {
	var finalPrice decimal.Decimal

	err := q.QueryRowContext(ctx,
		`SELECT final_price
		 FROM product_prices
		 WHERE product_id = $1
		   AND country IN ($2, $3)
		 ORDER BY CASE WHEN country = $2 THEN 0 ELSE 1 END
		 LIMIT 1`,
		productID, country, defaultCountry).Scan(&finalPrice)
	if err != nil {
		if err == sql.ErrNoRows {
			return decimal.Zero, database.ErrProductNotFound
		}
		return decimal.Zero, fmt.Errorf("resolve price: %w", err)
	}

	return finalPrice, nil
}

func SetProductActive(ctx context.Context, db *sql.DB, productID int64, active bool) error {
	result, err := db.ExecContext(ctx,
		`UPDATE products
		 SET is_active = $1, version = version + 1, updated_at = NOW()
		 WHERE id = $2`,
		active, productID)
	if err != nil {
		return fmt.Errorf("set product active: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}

func ListProducts(ctx context.Context, db *sql.DB, page, pageSize int) (*OffsetPage, error) {
	var total int64
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM products WHERE is_active`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT id, sku, name, description, vendor_id, is_active, created_at, updated_at, version
		FROM products
		WHERE is_active
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var products []models.Product
	for rows.Next() {
		var product models.Product
		err := rows.Scan(
			&product.ID,
			&product.SKU,
			&product.Name,
			&product.Description,
			&product.VendorID,
			&product.IsActive,
			&product.CreatedAt,
			&product.UpdatedAt,
			&product.Version,
		)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return NewOffsetPage(products, total, page, pageSize), nil
}
