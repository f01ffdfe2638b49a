package integration

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/merced/commerce-core/internal/models"
	"github.com/merced/commerce-core/internal/pricing"
	"github.com/merced/commerce-core/internal/store"
	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupTestDB(t *testing.T) (*sql.DB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:14-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "testuser",
			"POSTGRES_PASSWORD": "testpass",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	postgres, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start postgres container: %v", err)
	}

	host, err := postgres.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := postgres.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://testuser:testpass@%s:%s/testdb?sslmode=disable", host, port.Port())

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		t.Fatalf("Failed to ping database: %v", err)
	}

	if err := runMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	cleanup := func() {
		if err := db.Close(); err != nil {
			t.Logf("Failed to close database: %v", err)
		}
		if err := postgres.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate container: %v", err)
		}
	}

	return db, cleanup
}

func runMigrations(db *sql.DB) error {
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://../../migrations", "postgres", driver)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

func testRules() pricing.Rules {
	return pricing.Rules{
		TaxRate:               decimal.NewFromFloat(0.08),
		ShippingFee:           decimal.NewFromInt(10),
		FreeShippingThreshold: decimal.NewFromInt(100),
	}
}

func createTestUser(t *testing.T, db *sql.DB, email string, role models.Role) *models.User {
	t.Helper()
	user, err := store.CreateUser(context.Background(), db, email, "Test User", role)
	if err != nil {
		t.Fatalf("Create user %s: %v", email, err)
	}
	return user
}

// createTestProduct creates a product with one US price row; the
// inventory record comes with it.
func createTestProduct(t *testing.T, db *sql.DB, sku string, price decimal.Decimal, stock, reorderLevel int) *models.Product {
	t.Helper()
	return createVendorProduct(t, db, 1, sku, price, stock, reorderLevel)
}

func createVendorProduct(t *testing.T, db *sql.DB, vendorID int64, sku string, price decimal.Decimal, stock, reorderLevel int) *models.Product {
	t.Helper()

	product, err := store.CreateProduct(context.Background(), db, store.CreateProductRequest{
		SKU:          sku,
		Name:         "Product " + sku,
		VendorID:     vendorID,
		Stock:        stock,
		ReorderLevel: reorderLevel,
		Prices: []store.ProductPriceRequest{
			{Country: "US", Currency: "USD", ActualPrice: price, DiscountAmount: decimal.Zero},
		},
	})
	if err != nil {
		t.Fatalf("Create product %s: %v", sku, err)
	}

	return product
}

func addToCart(t *testing.T, db *sql.DB, userID, productID int64, qty int) {
	t.Helper()
	_, err := store.AddCartItem(context.Background(), db, "US", store.AddCartItemRequest{
		UserID:    userID,
		ProductID: productID,
		Quantity:  qty,
		Country:   "US",
	})
	if err != nil {
		t.Fatalf("Add to cart: %v", err)
	}
}

// placeOrder fills a cart with a single product and creates the order.
func placeOrder(t *testing.T, db *sql.DB, userID, productID int64, qty int) *models.Order {
	t.Helper()
	addToCart(t, db, userID, productID, qty)
	order, err := store.CreateOrder(context.Background(), db, testRules(), store.CreateOrderRequest{
		UserID:            userID,
		ShippingAddressID: 1,
	})
	if err != nil {
		t.Fatalf("Create order: %v", err)
	}
	return order
}
