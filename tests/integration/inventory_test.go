package integration

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/merced/commerce-core/internal/database"
	"github.com/merced/commerce-core/internal/store"
	"github.com/shopspring/decimal"
)

// inTx runs fn in a single transaction, failing the test on begin/commit errors.
func inTx(t *testing.T, db *sql.DB, fn func(tx *sql.Tx) error) error {
	t.Helper()
	return database.WithTransaction(context.Background(), db, database.DefaultTxOptions(), fn)
}

func TestCreateProductSeedsInventory(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := createTestProduct(t, db, "INV-010", decimal.NewFromInt(25), 12, 3)

	// The inventory row is written in the same transaction as the product,
	// so it must be visible immediately.
	inv, err := store.GetInventory(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get inventory: %v", err)
	}
	if inv.Quantity != 12 {
		t.Errorf("Expected quantity 12, got %d", inv.Quantity)
	}
	if inv.ReorderLevel != 3 {
		t.Errorf("Expected reorder level 3, got %d", inv.ReorderLevel)
	}
	if inv.ReservedQuantity != 0 {
		t.Errorf("Expected reserved 0, got %d", inv.ReservedQuantity)
	}
}

func TestReserveAndReleaseStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := createTestProduct(t, db, "INV-001", decimal.NewFromInt(25), 10, 2)

	err := inTx(t, db, func(tx *sql.Tx) error {
		return store.ReserveStock(ctx, tx, product.ID, 4)
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	inv, err := store.GetInventory(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get inventory: %v", err)
	}
	if inv.Quantity != 10 {
		t.Errorf("Expected on-hand quantity untouched at 10, got %d", inv.Quantity)
	}
	if inv.ReservedQuantity != 4 {
		t.Errorf("Expected reserved 4, got %d", inv.ReservedQuantity)
	}
	if inv.AvailableQuantity() != 6 {
		t.Errorf("Expected available 6, got %d", inv.AvailableQuantity())
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		return store.ReleaseStock(ctx, tx, product.ID, 4)
	})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}

	inv, _ = store.GetInventory(ctx, db, product.ID)
	if inv.ReservedQuantity != 0 {
		t.Errorf("Expected reserved 0 after release, got %d", inv.ReservedQuantity)
	}
}

func TestReserveStockInsufficient(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := createTestProduct(t, db, "INV-002", decimal.NewFromInt(25), 10, 2)

	// Take 7 of 10, leaving 3 available.
	err := inTx(t, db, func(tx *sql.Tx) error {
		return store.ReserveStock(ctx, tx, product.ID, 7)
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		return store.ReserveStock(ctx, tx, product.ID, 5)
	})
	if !errors.Is(err, database.ErrInsufficientStock) {
		t.Errorf("Expected insufficient stock, got: %v", err)
	}

	inv, _ := store.GetInventory(ctx, db, product.ID)
	if inv.ReservedQuantity != 7 {
		t.Errorf("Expected reserved unchanged at 7, got %d", inv.ReservedQuantity)
	}
	if inv.Quantity != 10 {
		t.Errorf("Expected quantity unchanged at 10, got %d", inv.Quantity)
	}
}

func TestReserveStockUnknownProduct(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	err := inTx(t, db, func(tx *sql.Tx) error {
		return store.ReserveStock(ctx, tx, 999999, 1)
	})
	if !errors.Is(err, database.ErrInventoryNotFound) {
		t.Errorf("Expected inventory not found, got: %v", err)
	}
}

func TestReleaseStockClampsAtZero(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := createTestProduct(t, db, "INV-003", decimal.NewFromInt(25), 10, 2)

	err := inTx(t, db, func(tx *sql.Tx) error {
		return store.ReserveStock(ctx, tx, product.ID, 2)
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// Releasing more than is reserved clamps instead of going negative.
	err = inTx(t, db, func(tx *sql.Tx) error {
		return store.ReleaseStock(ctx, tx, product.ID, 5)
	})
	if err != nil {
		t.Fatalf("Release: %v", err)
	}

	inv, _ := store.GetInventory(ctx, db, product.ID)
	if inv.ReservedQuantity != 0 {
		t.Errorf("Expected reserved clamped to 0, got %d", inv.ReservedQuantity)
	}
}

func TestFulfillStockDecrementsBoth(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := createTestProduct(t, db, "INV-004", decimal.NewFromInt(25), 10, 2)

	err := inTx(t, db, func(tx *sql.Tx) error {
		if err := store.ReserveStock(ctx, tx, product.ID, 3); err != nil {
			return err
		}
		return store.FulfillStock(ctx, tx, product.ID, 3)
	})
	if err != nil {
		t.Fatalf("Reserve+fulfill: %v", err)
	}

	inv, _ := store.GetInventory(ctx, db, product.ID)
	if inv.Quantity != 7 {
		t.Errorf("Expected quantity 7 after fulfillment, got %d", inv.Quantity)
	}
	if inv.ReservedQuantity != 0 {
		t.Errorf("Expected reserved 0 after fulfillment, got %d", inv.ReservedQuantity)
	}
}

func TestFulfillStockEmitsLowStockEvent(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := createTestProduct(t, db, "INV-005", decimal.NewFromInt(25), 5, 3)

	err := inTx(t, db, func(tx *sql.Tx) error {
		if err := store.ReserveStock(ctx, tx, product.ID, 4); err != nil {
			return err
		}
		return store.FulfillStock(ctx, tx, product.ID, 4)
	})
	if err != nil {
		t.Fatalf("Reserve+fulfill: %v", err)
	}

	var count int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM outbox_events WHERE event_type = $1 AND aggregate_id = $2",
		store.EventInventoryLow, product.ID).Scan(&count)
	if err != nil {
		t.Fatalf("Count outbox events: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected one low-stock event, got %d", count)
	}
}

func TestRestock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := createTestProduct(t, db, "INV-006", decimal.NewFromInt(25), 2, 5)

	inv, err := store.Restock(ctx, db, product.ID, 20)
	if err != nil {
		t.Fatalf("Restock: %v", err)
	}
	if inv.Quantity != 22 {
		t.Errorf("Expected quantity 22, got %d", inv.Quantity)
	}
	if inv.LastRestocked == nil {
		t.Error("Expected last_restocked to be stamped")
	}
	if inv.IsLowStock() {
		t.Error("Expected low-stock flag cleared after restock")
	}

	var count int
	err = db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM outbox_events WHERE event_type = $1 AND aggregate_id = $2",
		store.EventInventoryFilled, product.ID).Scan(&count)
	if err != nil {
		t.Fatalf("Count outbox events: %v", err)
	}
	if count != 1 {
		t.Errorf("Expected one restock event, got %d", count)
	}
}

func TestInventoryDerivedFlags(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := createTestProduct(t, db, "INV-007", decimal.NewFromInt(25), 3, 5)

	inv, err := store.GetInventory(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get inventory: %v", err)
	}
	if !inv.IsLowStock() {
		t.Error("Expected low-stock flag with quantity 3 and reorder level 5")
	}
	if inv.IsOutOfStock() {
		t.Error("Did not expect out-of-stock with available 3")
	}

	err = inTx(t, db, func(tx *sql.Tx) error {
		return store.ReserveStock(ctx, tx, product.ID, 3)
	})
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	inv, _ = store.GetInventory(ctx, db, product.ID)
	if !inv.IsOutOfStock() {
		t.Error("Expected out-of-stock once every unit is reserved")
	}
}
