// Package firestore implements the repositories on Cloud Firestore.
//
// Orders embed their line items so a single document delete removes both. Carts are keyed by
// user id so checkout can read and clear the cart inside the order transaction.
package firestore

import (
	"time"

	domain "github.com/openshop/api/internal/domain"
)

const (
	ordersCollection    = "orders"
	cartsCollection     = "carts"
	addressesCollection = "addresses"
	variantsCollection  = "variants"
)

type orderDocument struct {
	ID                  string              `firestore:"id"`
	OrderNumber         string              `firestore:"orderNumber"`
	UserID              string              `firestore:"userId"`
	Status              string              `firestore:"status"`
	PaymentStatus       string              `firestore:"paymentStatus"`
	PaymentMethod       string              `firestore:"paymentMethod"`
	PaymentReference    string              `firestore:"paymentReference"`
	Currency            string              `firestore:"currency"`
	ItemSubtotal        int64               `firestore:"itemSubtotal"`
	Tax                 int64               `firestore:"tax"`
	Shipping            int64               `firestore:"shipping"`
	Total               int64               `firestore:"total"`
	Items               []orderItemDocument `firestore:"items"`
	ShippingAddressID   string              `firestore:"shippingAddressId"`
	Notes               string              `firestore:"notes,omitempty"`
	TrackingID          string              `firestore:"trackingId,omitempty"`
	CourierName         string              `firestore:"courierName,omitempty"`
	EstimatedDeliveryAt *time.Time          `firestore:"estimatedDeliveryAt,omitempty"`
	ClientIP            string              `firestore:"clientIp,omitempty"`
	UserAgent           string              `firestore:"userAgent,omitempty"`
	Version             int64               `firestore:"version"`
	CreatedAt           time.Time           `firestore:"createdAt"`
	UpdatedAt           time.Time           `firestore:"updatedAt"`
}

type orderItemDocument struct {
	ID            string `firestore:"id"`
	VariantID     string `firestore:"variantId"`
	SKU           string `firestore:"sku"`
	Name          string `firestore:"name"`
	Quantity      int    `firestore:"quantity"`
	UnitPrice     int64  `firestore:"unitPrice"`
	PriceSnapshot int64  `firestore:"priceSnapshot"`
}

func encodeOrder(o domain.Order) orderDocument {
	items := make([]orderItemDocument, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemDocument(item)
	}
	return orderDocument{
		ID:                  o.ID,
		OrderNumber:         o.OrderNumber,
		UserID:              o.UserID,
		Status:              string(o.Status),
		PaymentStatus:       string(o.PaymentStatus),
		PaymentMethod:       o.PaymentMethod,
		PaymentReference:    o.PaymentReference,
		Currency:            o.Currency,
		ItemSubtotal:        o.Totals.ItemSubtotal,
		Tax:                 o.Totals.Tax,
		Shipping:            o.Totals.Shipping,
		Total:               o.Totals.Total,
		Items:               items,
		ShippingAddressID:   o.ShippingAddressID,
		Notes:               o.Notes,
		TrackingID:          o.TrackingID,
		CourierName:         o.CourierName,
		EstimatedDeliveryAt: o.EstimatedDeliveryAt,
		ClientIP:            o.ClientIP,
		UserAgent:           o.UserAgent,
		Version:             o.Version,
		CreatedAt:           o.CreatedAt.UTC(),
		UpdatedAt:           o.UpdatedAt.UTC(),
	}
}

func (d orderDocument) toDomain() domain.Order {
	items := make([]domain.OrderLineItem, len(d.Items))
	for i, item := range d.Items {
		items[i] = domain.OrderLineItem(item)
	}
	return domain.Order{
		ID:                  d.ID,
		OrderNumber:         d.OrderNumber,
		UserID:              d.UserID,
		Status:              domain.OrderStatus(d.Status),
		PaymentStatus:       domain.PaymentStatus(d.PaymentStatus),
		PaymentMethod:       d.PaymentMethod,
		PaymentReference:    d.PaymentReference,
		Currency:            d.Currency,
		Totals:              domain.OrderTotals{ItemSubtotal: d.ItemSubtotal, Tax: d.Tax, Shipping: d.Shipping, Total: d.Total},
		Items:               items,
		ShippingAddressID:   d.ShippingAddressID,
		Notes:               d.Notes,
		TrackingID:          d.TrackingID,
		CourierName:         d.CourierName,
		EstimatedDeliveryAt: d.EstimatedDeliveryAt,
		ClientIP:            d.ClientIP,
		UserAgent:           d.UserAgent,
		Version:             d.Version,
		CreatedAt:           d.CreatedAt,
		UpdatedAt:           d.UpdatedAt,
	}
}

type cartDocument struct {
	ID        string             `firestore:"id"`
	UserID    string             `firestore:"userId"`
	Items     []cartItemDocument `firestore:"items"`
	Version   int64              `firestore:"version"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ID        string    `firestore:"id"`
	VariantID string    `firestore:"variantId"`
	Quantity  int       `firestore:"quantity"`
	UnitPrice int64     `firestore:"unitPrice"`
	AddedAt   time.Time `firestore:"addedAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func encodeCart(c domain.Cart) cartDocument {
	items := make([]cartItemDocument, len(c.Items))
	for i, item := range c.Items {
		items[i] = cartItemDocument(item)
	}
	return cartDocument{ID: c.ID, UserID: c.UserID, Items: items, Version: c.Version, UpdatedAt: c.UpdatedAt.UTC()}
}

func (d cartDocument) toDomain() domain.Cart {
	var items []domain.CartItem
	for _, item := range d.Items {
		items = append(items, domain.CartItem(item))
	}
	return domain.Cart{ID: d.ID, UserID: d.UserID, Items: items, Version: d.Version, UpdatedAt: d.UpdatedAt}
}

type addressDocument struct {
	ID         string    `firestore:"id"`
	UserID     string    `firestore:"userId"`
	Recipient  string    `firestore:"recipient"`
	Line1      string    `firestore:"line1"`
	Line2      string    `firestore:"line2,omitempty"`
	City       string    `firestore:"city"`
	State      string    `firestore:"state,omitempty"`
	PostalCode string    `firestore:"postalCode"`
	Country    string    `firestore:"country"`
	Phone      string    `firestore:"phone,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

type variantDocument struct {
	ID        string    `firestore:"id"`
	ProductID string    `firestore:"productId"`
	SKU       string    `firestore:"sku"`
	Name      string    `firestore:"name"`
	Price     int64     `firestore:"price"`
	Currency  string    `firestore:"currency"`
	Stock     int       `firestore:"stock"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}
