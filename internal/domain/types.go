package domain

import (
	"slices"
	"strings"
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is assigned at creation and never passed in by callers.
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusConfirmed indicates the order was accepted by the store.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusProcessing indicates the order is being picked and packed.
	OrderStatusProcessing OrderStatus = "PROCESSING"
	// OrderStatusShipped indicates the order has been handed to a courier.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusDelivered indicates the order reached the customer.
	OrderStatusDelivered OrderStatus = "DELIVERED"
	// OrderStatusCancelled indicates the order was cancelled before shipment.
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRefunded indicates the order was refunded.
	OrderStatusRefunded OrderStatus = "REFUNDED"
)

var orderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// OrderStatuses returns the closed set of recognised statuses in lifecycle order.
func OrderStatuses() []OrderStatus {
	out := make([]OrderStatus, len(orderStatuses))
	copy(out, orderStatuses)
	return out
}

// ParseOrderStatus normalises the raw value and reports whether it belongs to the recognised set.
func ParseOrderStatus(raw string) (OrderStatus, bool) {
	candidate := OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
	for _, status := range orderStatuses {
		if status == candidate {
			return status, true
		}
	}
	return "", false
}

// Valid reports whether the status is a member of the recognised set.
func (s OrderStatus) Valid() bool {
	for _, status := range orderStatuses {
		if status == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no forward lifecycle step follows the status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded:
		return true
	default:
		return false
	}
}

// PaymentStatus tracks settlement of the order amount.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

var paymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusPaid,
	PaymentStatusFailed,
	PaymentStatusRefunded,
}

// ParsePaymentStatus normalises raw like ParseOrderStatus.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	candidate := PaymentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	if candidate.Valid() {
		return candidate, true
	}
	return "", false
}

func (s PaymentStatus) Valid() bool {
	return slices.Contains(paymentStatuses, s)
}

// Variant is a purchasable SKU carrying its own price in the smallest currency unit.
type Variant struct {
	ID        string
	ProductID string
	SKU       string
	Name      string
	Price     int64
	Currency  string
	Stock     int
	UpdatedAt time.Time
}

// CartItem is a mutable line in a user's cart.
type CartItem struct {
	ID        string
	VariantID string
	Quantity  int
	UnitPrice int64
	AddedAt   time.Time
	UpdatedAt time.Time
}

// Cart holds the mutable line items owned by exactly one user.
type Cart struct {
	ID        string
	UserID    string
	Items     []CartItem
	Version   int64
	UpdatedAt time.Time
}

// IsEmpty reports whether the cart has no line items.
func (c Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// OrderLineItem is frozen at order creation; PriceSnapshot is never recomputed.
type OrderLineItem struct {
	ID            string
	VariantID     string
	SKU           string
	Name          string
	Quantity      int
	UnitPrice     int64
	PriceSnapshot int64
}

// Order is the aggregate root produced from a cart.
type Order struct {
	ID                  string
	OrderNumber         string
	UserID              string
	Status              OrderStatus
	PaymentStatus       PaymentStatus
	PaymentMethod       string
	PaymentReference    string
	Currency            string
	Totals              OrderTotals
	Items               []OrderLineItem
	ShippingAddressID   string
	Notes               string
	TrackingID          string
	CourierName         string
	EstimatedDeliveryAt *time.Time
	ClientIP            string
	UserAgent           string
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Address is owned by the address book collaborator and referenced from orders by id.
type Address struct {
	ID         string
	UserID     string
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Page packages offset-paginated results with the total match count.
type Page[T any] struct {
	Items []T
	Page  int
	Size  int
	Total int64
}

// TotalPages derives the number of pages for the recorded size.
func (p Page[T]) TotalPages() int {
	if p.Size <= 0 || p.Total <= 0 {
		return 0
	}
	return int((p.Total + int64(p.Size) - 1) / int64(p.Size))
}
