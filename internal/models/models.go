package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Role string

const (
	RoleAdmin    Role = "admin"
	RoleVendor   Role = "vendor"
	RoleDelivery Role = "delivery"
	RoleCustomer Role = "customer"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int       `json:"version"`
}

type Product struct {
	ID          int64          `json:"id"`
	SKU         string         `json:"sku"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	VendorID    int64          `json:"vendor_id"`
	IsActive    bool           `json:"is_active"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	Version     int            `json:"version"`
	Prices      []ProductPrice `json:"prices,omitempty"`
}

// ProductPrice is one per-country price row. FinalPrice is what carts
// snapshot; ActualPrice minus DiscountAmount must equal FinalPrice.
type ProductPrice struct {
	ID             int64           `json:"id"`
	ProductID      int64           `json:"product_id"`
	Country        string          `json:"country"`
	Currency       string          `json:"currency"`
	ActualPrice    decimal.Decimal `json:"actual_price"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FinalPrice     decimal.Decimal `json:"final_price"`
}

// Inventory tracks on-hand vs reserved stock for one product.
// 0 <= ReservedQuantity <= Quantity holds at all times.
type Inventory struct {
	ID               int64      `json:"id"`
	ProductID        int64      `json:"product_id"`
	Quantity         int        `json:"quantity"`
	ReservedQuantity int        `json:"reserved_quantity"`
	ReorderLevel     int        `json:"reorder_level"`
	LastRestocked    *time.Time `json:"last_restocked,omitempty"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

func (i *Inventory) AvailableQuantity() int {
	return i.Quantity - i.ReservedQuantity
}

func (i *Inventory) IsLowStock() bool {
	return i.AvailableQuantity() <= i.ReorderLevel
}

func (i *Inventory) IsOutOfStock() bool {
	return i.AvailableQuantity() <= 0
}

// CartItem snapshots the product price at add-to-cart time. An in-flight
// cart is priced at what the user saw, not at the live product price.
type CartItem struct {
	ID        int64           `json:"id"`
	UserID    int64           `json:"user_id"`
	ProductID int64           `json:"product_id"`
	Variant   string          `json:"variant,omitempty"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

type Order struct {
	ID                int64           `json:"id"`
	OrderNumber       string          `json:"order_number"`
	UserID            int64           `json:"user_id"`
	Status            OrderStatus     `json:"status"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	DiscountAmount    decimal.Decimal `json:"discount_amount"`
	ShippingAmount    decimal.Decimal `json:"shipping_amount"`
	TaxAmount         decimal.Decimal `json:"tax_amount"`
	FinalAmount       decimal.Decimal `json:"final_amount"`
	ShippingAddressID int64           `json:"shipping_address_id"`
	BillingAddressID  *int64          `json:"billing_address_id,omitempty"`
	PaymentMethod     string          `json:"payment_method,omitempty"`
	PaymentStatus     PaymentStatus   `json:"payment_status"`
	VendorID          *int64          `json:"vendor_id,omitempty"`
	DeliveryPersonID  *int64          `json:"delivery_person_id,omitempty"`
	Notes             string          `json:"notes,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Version           int             `json:"version"`
	Items             []OrderItem     `json:"items,omitempty"`
	Shipping          *Shipping       `json:"shipping,omitempty"`
}

// OrderItem is an immutable snapshot taken at order creation.
type OrderItem struct {
	ID         int64           `json:"id"`
	OrderID    int64           `json:"order_id"`
	ProductID  int64           `json:"product_id"`
	Variant    string          `json:"variant,omitempty"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	CreatedAt  time.Time       `json:"created_at"`
}

type CouponType string

const (
	CouponTypePercentage CouponType = "percentage"
	CouponTypeFixed      CouponType = "fixed"
)

type Coupon struct {
	ID                   int64            `json:"id"`
	Code                 string           `json:"code"`
	Type                 CouponType       `json:"type"`
	Value                decimal.Decimal  `json:"value"`
	MinOrderAmount       decimal.Decimal  `json:"min_order_amount"`
	MaxDiscountAmount    *decimal.Decimal `json:"max_discount_amount,omitempty"`
	UsageLimit           int              `json:"usage_limit"`
	UsedCount            int              `json:"used_count"`
	UserLimit            int              `json:"user_limit"`
	ValidFrom            time.Time        `json:"valid_from"`
	ValidUntil           time.Time        `json:"valid_until"`
	ApplicableProductIDs []int64          `json:"applicable_product_ids,omitempty"`
	IsActive             bool             `json:"is_active"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}

// CouponUsage is an append-only redemption record; per-user limits are
// enforced by counting these rows.
type CouponUsage struct {
	ID             int64           `json:"id"`
	CouponID       int64           `json:"coupon_id"`
	UserID         int64           `json:"user_id"`
	OrderID        int64           `json:"order_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

type Payment struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"order_id"`
	Method          string          `json:"method"`
	Gateway         string          `json:"gateway"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Status          PaymentStatus   `json:"status"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	RefundAmount    decimal.Decimal `json:"refund_amount"`
	GatewayResponse []byte          `json:"gateway_response,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type Shipping struct {
	ID                int64          `json:"id"`
	OrderID           int64          `json:"order_id"`
	Method            string         `json:"method"`
	TrackingNumber    string         `json:"tracking_number,omitempty"`
	Status            ShippingStatus `json:"status"`
	EstimatedDelivery *time.Time     `json:"estimated_delivery,omitempty"`
	ActualDelivery    *time.Time     `json:"actual_delivery,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// OutboxEvent is a notification written in the same transaction as the
// business write; the relay publishes it after commit.
type OutboxEvent struct {
	ID          int64      `json:"id"`
	EventType   string     `json:"event_type"`
	AggregateID string     `json:"aggregate_id"`
	UserID      int64      `json:"user_id"`
	Payload     []byte     `json:"payload"`
	Processed   bool       `json:"processed"`
	CreatedAt   time.Time  `json:"created_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}
