package models

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "pending"
	PaymentStatusProcessing PaymentStatus = "processing"
	PaymentStatusCompleted  PaymentStatus = "completed"
	PaymentStatusFailed     PaymentStatus = "failed"
	PaymentStatusCancelled  PaymentStatus = "cancelled"
	PaymentStatusRefunded   PaymentStatus = "refunded"
)

type ShippingStatus string

const (
	ShippingStatusPending         ShippingStatus = "pending"
	ShippingStatusPickupScheduled ShippingStatus = "pickup_scheduled"
	ShippingStatusPickedUp        ShippingStatus = "picked_up"
	ShippingStatusInTransit       ShippingStatus = "in_transit"
	ShippingStatusOutForDelivery  ShippingStatus = "out_for_delivery"
	ShippingStatusDelivered       ShippingStatus = "delivered"
	ShippingStatusReturned        ShippingStatus = "returned"
)

// CanBeCancelled reports whether the order may still be cancelled.
// Once processing has started the stock is being picked and the order
// can only move forward or be refunded after delivery.
func (o *Order) CanBeCancelled() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusConfirmed
}

// CanBeRefunded requires a delivered order whose payment settled.
func (o *Order) CanBeRefunded() bool {
	return o.Status == OrderStatusDelivered && o.PaymentStatus == PaymentStatusCompleted
}

// vendorTransitions is the strict allow-list for vendor-driven moves.
var vendorTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled},
	OrderStatusProcessing: {OrderStatusShipped},
	OrderStatusShipped:    {OrderStatusDelivered},
}

var deliveryTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusShipped: {OrderStatusDelivered},
}

var adminExtraTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusDelivered: {OrderStatusRefunded},
}

// CanTransition reports whether role may move an order from one status to
// another. Customers act through the dedicated cancel flow, never through
// raw status updates.
func CanTransition(role Role, from, to OrderStatus) bool {
	switch role {
	case RoleVendor:
		return contains(vendorTransitions[from], to)
	case RoleDelivery:
		return contains(deliveryTransitions[from], to)
	case RoleAdmin:
		return contains(vendorTransitions[from], to) || contains(adminExtraTransitions[from], to)
	default:
		return false
	}
}

var shippingTransitions = map[ShippingStatus][]ShippingStatus{
	ShippingStatusPending:         {ShippingStatusPickupScheduled},
	ShippingStatusPickupScheduled: {ShippingStatusPickedUp},
	ShippingStatusPickedUp:        {ShippingStatusInTransit},
	ShippingStatusInTransit:       {ShippingStatusOutForDelivery},
	ShippingStatusOutForDelivery:  {ShippingStatusDelivered, ShippingStatusReturned},
}

func CanTransitionShipping(from, to ShippingStatus) bool {
	return contains(shippingTransitions[from], to)
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
