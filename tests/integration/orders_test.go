package integration

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/merced/commerce-core/internal/database"
	"github.com/merced/commerce-core/internal/models"
	"github.com/merced/commerce-core/internal/store"
	"github.com/shopspring/decimal"
)

func TestCreateOrderTotalsFreeShipping(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, db, "a@example.com", models.RoleCustomer)
	product := createTestProduct(t, db, "ORD-001", decimal.NewFromInt(50), 10, 0)

	order := placeOrder(t, db, user.ID, product.ID, 2)

	if !order.TotalAmount.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected total 100, got %s", order.TotalAmount)
	}
	if !order.ShippingAmount.IsZero() {
		t.Errorf("Expected free shipping, got %s", order.ShippingAmount)
	}
	if !order.TaxAmount.Equal(decimal.NewFromInt(8)) {
		t.Errorf("Expected tax 8, got %s", order.TaxAmount)
	}
	if !order.FinalAmount.Equal(decimal.NewFromInt(108)) {
		t.Errorf("Expected final 108, got %s", order.FinalAmount)
	}
	if order.Status != models.OrderStatusPending {
		t.Errorf("Expected pending status, got %s", order.Status)
	}
	if order.OrderNumber == "" {
		t.Error("Order number should be set")
	}

	// Stock is reserved, not yet decremented.
	inv, err := store.GetInventory(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get inventory: %v", err)
	}
	if inv.Quantity != 10 || inv.ReservedQuantity != 2 {
		t.Errorf("Expected quantity=10 reserved=2, got %d/%d", inv.Quantity, inv.ReservedQuantity)
	}

	// Cart is cleared.
	items, err := store.GetCartItems(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get cart items: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("Expected empty cart, got %d items", len(items))
	}

	// A shipping record exists.
	full, err := store.GetOrder(ctx, db, order.ID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if full.Shipping == nil || full.Shipping.Status != models.ShippingStatusPending {
		t.Error("Expected pending shipping record")
	}
	if len(full.Items) != 1 {
		t.Fatalf("Expected 1 order item, got %d", len(full.Items))
	}
	if !full.Items[0].TotalPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("Expected item total 100, got %s", full.Items[0].TotalPrice)
	}

	// An order-placed event awaits the relay.
	events, err := store.GetUnprocessedEvents(ctx, db, 10)
	if err != nil {
		t.Fatalf("Get events: %v", err)
	}
	found := false
	for _, ev := range events {
		if ev.EventType == store.EventOrderPlaced && ev.AggregateID == order.OrderNumber {
			found = true
		}
	}
	if !found {
		t.Error("Expected order.placed outbox event")
	}
}

func TestCreateOrderTotalsWithShippingFee(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	user := createTestUser(t, db, "b@example.com", models.RoleCustomer)
	product := createTestProduct(t, db, "ORD-002", decimal.NewFromInt(20), 5, 0)

	order := placeOrder(t, db, user.ID, product.ID, 1)

	if !order.TotalAmount.Equal(decimal.NewFromInt(20)) {
		t.Errorf("Expected total 20, got %s", order.TotalAmount)
	}
	if !order.ShippingAmount.Equal(decimal.NewFromInt(10)) {
		t.Errorf("Expected shipping 10, got %s", order.ShippingAmount)
	}
	if !order.TaxAmount.Equal(decimal.NewFromFloat(1.6)) {
		t.Errorf("Expected tax 1.6, got %s", order.TaxAmount)
	}
	if !order.FinalAmount.Equal(decimal.NewFromFloat(31.6)) {
		t.Errorf("Expected final 31.6, got %s", order.FinalAmount)
	}
}

func TestCreateOrderEmptyCart(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	user := createTestUser(t, db, "c@example.com", models.RoleCustomer)

	_, err := store.CreateOrder(context.Background(), db, testRules(), store.CreateOrderRequest{
		UserID:            user.ID,
		ShippingAddressID: 1,
	})
	if !errors.Is(err, database.ErrEmptyCart) {
		t.Errorf("Expected empty cart error, got: %v", err)
	}
}

func TestCreateOrderAtomicityOnInsufficientStock(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, db, "d@example.com", models.RoleCustomer)
	ok1 := createTestProduct(t, db, "ORD-003", decimal.NewFromInt(10), 50, 0)
	ok2 := createTestProduct(t, db, "ORD-004", decimal.NewFromInt(10), 50, 0)
	scarce := createTestProduct(t, db, "ORD-005", decimal.NewFromInt(10), 1, 0)

	addToCart(t, db, user.ID, ok1.ID, 2)
	addToCart(t, db, user.ID, ok2.ID, 2)
	addToCart(t, db, user.ID, scarce.ID, 5)

	_, err := store.CreateOrder(ctx, db, testRules(), store.CreateOrderRequest{
		UserID:            user.ID,
		ShippingAddressID: 1,
	})
	if !errors.Is(err, database.ErrInsufficientStock) {
		t.Fatalf("Expected insufficient stock, got: %v", err)
	}

	// Nothing persisted: no order rows, reservations rolled back, cart intact.
	var orderCount int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&orderCount); err != nil {
		t.Fatalf("Count orders: %v", err)
	}
	if orderCount != 0 {
		t.Errorf("Expected 0 orders, got %d", orderCount)
	}

	for _, p := range []int64{ok1.ID, ok2.ID, scarce.ID} {
		inv, err := store.GetInventory(ctx, db, p)
		if err != nil {
			t.Fatalf("Get inventory: %v", err)
		}
		if inv.ReservedQuantity != 0 {
			t.Errorf("Product %d: expected 0 reserved, got %d", p, inv.ReservedQuantity)
		}
	}

	items, err := store.GetCartItems(ctx, db, user.ID)
	if err != nil {
		t.Fatalf("Get cart items: %v", err)
	}
	if len(items) != 3 {
		t.Errorf("Expected cart untouched with 3 items, got %d", len(items))
	}
}

func TestCreateOrderInactiveProduct(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, db, "e@example.com", models.RoleCustomer)
	product := createTestProduct(t, db, "ORD-006", decimal.NewFromInt(10), 5, 0)

	addToCart(t, db, user.ID, product.ID, 1)

	if err := store.SetProductActive(ctx, db, product.ID, false); err != nil {
		t.Fatalf("Deactivate product: %v", err)
	}

	_, err := store.CreateOrder(ctx, db, testRules(), store.CreateOrderRequest{
		UserID:            user.ID,
		ShippingAddressID: 1,
	})
	if !errors.Is(err, database.ErrProductUnavailable) {
		t.Errorf("Expected product unavailable, got: %v", err)
	}
}

func TestConcurrentOrderCreation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	product := createTestProduct(t, db, "ORD-007", decimal.NewFromInt(30), 20, 0)

	concurrency := 15
	users := make([]*models.User, concurrency)
	for i := 0; i < concurrency; i++ {
		users[i] = createTestUser(t, db, "conc"+string(rune('a'+i))+"@example.com", models.RoleCustomer)
		addToCart(t, db, users[i].ID, product.ID, 2)
	}

	var wg sync.WaitGroup
	results := make(chan error, concurrency)

	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := store.CreateOrder(ctx, db, testRules(), store.CreateOrderRequest{
				UserID:            userID,
				ShippingAddressID: 1,
			})
			results <- err
		}(users[i].ID)
	}

	wg.Wait()
	close(results)

	successCount := 0
	insufficientCount := 0
	for err := range results {
		switch {
		case err == nil:
			successCount++
		case errors.Is(err, database.ErrInsufficientStock):
			insufficientCount++
		default:
			t.Errorf("Unexpected error: %v", err)
		}
	}

	// 20 units at 2 per order: exactly 10 orders can reserve.
	if successCount != 10 {
		t.Errorf("Expected 10 successful orders, got %d", successCount)
	}
	if insufficientCount != 5 {
		t.Errorf("Expected 5 insufficient-stock rejections, got %d", insufficientCount)
	}

	inv, err := store.GetInventory(ctx, db, product.ID)
	if err != nil {
		t.Fatalf("Get inventory: %v", err)
	}
	if inv.ReservedQuantity != 20 {
		t.Errorf("Expected 20 reserved, got %d", inv.ReservedQuantity)
	}
	if inv.Quantity != 20 {
		t.Errorf("On-hand quantity must not change at reservation time, got %d", inv.Quantity)
	}
}

func TestCreateOrderWithCoupon(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, db, "f@example.com", models.RoleCustomer)
	product := createTestProduct(t, db, "ORD-008", decimal.NewFromInt(60), 10, 0)

	coupon := newCoupon(t, db, "WELCOME15", store.CreateCouponRequest{
		Type:           models.CouponTypeFixed,
		Value:          decimal.NewFromInt(15),
		MinOrderAmount: decimal.NewFromInt(50),
		UsageLimit:     10,
	})

	addToCart(t, db, user.ID, product.ID, 1)
	order, err := store.CreateOrder(ctx, db, testRules(), store.CreateOrderRequest{
		UserID:            user.ID,
		ShippingAddressID: 1,
		CouponCode:        "welcome15",
	})
	if err != nil {
		t.Fatalf("Create order with coupon: %v", err)
	}

	if !order.DiscountAmount.Equal(decimal.NewFromInt(15)) {
		t.Errorf("Expected discount 15, got %s", order.DiscountAmount)
	}
	// 60 - 15 + 10 shipping + 4.8 tax = 59.8
	if !order.FinalAmount.Equal(decimal.NewFromFloat(59.8)) {
		t.Errorf("Expected final 59.8, got %s", order.FinalAmount)
	}

	var usedCount, usageRows int
	if err := db.QueryRowContext(ctx, "SELECT used_count FROM coupons WHERE id = $1", coupon.ID).Scan(&usedCount); err != nil {
		t.Fatalf("Read used_count: %v", err)
	}
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = $1", coupon.ID).Scan(&usageRows); err != nil {
		t.Fatalf("Count usages: %v", err)
	}
	if usedCount != 1 || usageRows != 1 {
		t.Errorf("Expected used_count=1 and 1 usage row, got %d/%d", usedCount, usageRows)
	}
}

func TestListOrdersCursor(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	user := createTestUser(t, db, "g@example.com", models.RoleCustomer)
	product := createTestProduct(t, db, "ORD-009", decimal.NewFromInt(5), 100, 0)

	for i := 0; i < 15; i++ {
		placeOrder(t, db, user.ID, product.ID, 1)
	}

	page1, err := store.ListOrdersCursor(ctx, db, user.ID, "", 10)
	if err != nil {
		t.Fatalf("List orders page 1: %v", err)
	}
	if !page1.HasMore {
		t.Error("Page 1 should have more results")
	}
	if page1.NextCursor == "" {
		t.Error("Page 1 should have a next cursor")
	}

	page2, err := store.ListOrdersCursor(ctx, db, user.ID, page1.NextCursor, 10)
	if err != nil {
		t.Fatalf("List orders page 2: %v", err)
	}
	if page2.HasMore {
		t.Error("Page 2 should not have more results")
	}
}
