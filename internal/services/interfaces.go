package services

import (
	"context"
	"time"

	domain "github.com/openshop/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Cart          = domain.Cart
	CartItem      = domain.CartItem
	Variant       = domain.Variant
	Order         = domain.Order
	OrderTotals   = domain.OrderTotals
	OrderLineItem = domain.OrderLineItem
	OrderStatus   = domain.OrderStatus
	PaymentStatus = domain.PaymentStatus
	Address       = domain.Address
	OrderPage     = domain.Page[domain.Order]
)

// Actor identifies the caller of a service operation. Handlers build it from the verified identity.
type Actor struct {
	UserID string
	Admin  bool
}

// CartService manages the mutable cart owned by each user.
type CartService interface {
	GetCart(ctx context.Context, actor Actor) (Cart, error)
	AddItem(ctx context.Context, cmd AddCartItemCommand) (Cart, error)
	UpdateItem(ctx context.Context, cmd UpdateCartItemCommand) (Cart, error)
	RemoveItem(ctx context.Context, cmd RemoveCartItemCommand) (Cart, error)
}

// AddressService manages the actor's shipping addresses.
type AddressService interface {
	ListAddresses(ctx context.Context, actor Actor) ([]Address, error)
	CreateAddress(ctx context.Context, cmd SaveAddressCommand) (Address, error)
	UpdateAddress(ctx context.Context, cmd SaveAddressCommand) (Address, error)
	DeleteAddress(ctx context.Context, actor Actor, addressID string) error
}

// CatalogService maintains the variants carts and orders are priced from.
type CatalogService interface {
	GetVariant(ctx context.Context, variantID string) (Variant, error)
	UpsertVariant(ctx context.Context, cmd UpsertVariantCommand) (Variant, error)
}

// OrderService converts carts into orders and drives the order lifecycle. Reads go through the cache.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error)
	ListUserOrders(ctx context.Context, actor Actor, status *OrderStatus) ([]Order, error)
	ListOrders(ctx context.Context, page, size int) (OrderPage, error)
	ListOrdersByStatus(ctx context.Context, status string, page, size int) (OrderPage, error)
	UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	DownloadInvoice(ctx context.Context, actor Actor, orderID string) ([]byte, error)
	VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (bool, error)
}

// AddCartItemCommand adds a variant to the cart or replaces the quantity of an existing line.
type AddCartItemCommand struct {
	Actor     Actor
	VariantID string
	Quantity  int
}

// UpdateCartItemCommand sets the quantity of one cart line.
type UpdateCartItemCommand struct {
	Actor    Actor
	ItemID   string
	Quantity int
}

// RemoveCartItemCommand deletes one cart line.
type RemoveCartItemCommand struct {
	Actor  Actor
	ItemID string
}

// SaveAddressCommand creates an address, or replaces AddressID when updating.
type SaveAddressCommand struct {
	Actor      Actor
	AddressID  string
	Recipient  string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
}

// UpsertVariantCommand writes one catalog variant. Price is in minor units.
type UpsertVariantCommand struct {
	VariantID string
	ProductID string
	SKU       string
	Name      string
	Price     int64
	Currency  string
	Stock     int
}

// CreateOrderCommand converts the actor's cart into an order.
type CreateOrderCommand struct {
	Actor             Actor
	ShippingAddressID string
	PaymentMethod     string
	Notes             string
	ClientIP          string
	UserAgent         string
}

// UpdateStatusCommand sets an order's status. ExpectedVersion, when set, must match the stored version.
type UpdateStatusCommand struct {
	OrderID         string
	Status          string
	ExpectedVersion *int64
	ActorID         string
}

// CancelOrderCommand cancels an order on behalf of its owner or an admin.
type CancelOrderCommand struct {
	Actor           Actor
	OrderID         string
	ExpectedVersion *int64
}

// VerifyPaymentCommand checks a payment reference against an order.
type VerifyPaymentCommand struct {
	Actor     Actor
	OrderID   string
	Reference string
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string         `json:"type"`
	OrderID        string         `json:"orderId"`
	OrderNumber    string         `json:"orderNumber"`
	UserID         string         `json:"userId"`
	PreviousStatus string         `json:"previousStatus,omitempty"`
	CurrentStatus  string         `json:"currentStatus"`
	ActorID        string         `json:"actorId,omitempty"`
	OccurredAt     time.Time      `json:"occurredAt"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// PaymentVerifier confirms a payment reference belongs to a settled payment for the order.
type PaymentVerifier interface {
	Verify(ctx context.Context, order Order, reference string) (bool, error)
}

// InvoiceArchive keeps a durable copy of rendered invoices.
type InvoiceArchive interface {
	Store(ctx context.Context, orderNumber string, body []byte) error
}

// SystemService reports process and dependency health for the health endpoints.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// SystemHealthReport is the dependency report enriched with build metadata.
type SystemHealthReport struct {
	domain.HealthReport
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	// CachedOrders is the number of entries held by the order cache.
	CachedOrders int
}
