package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"
	"golang.org/x/text/currency"

	domain "github.com/openshop/api/internal/domain"
	"github.com/openshop/api/internal/payments"
	"github.com/openshop/api/internal/platform/cache"
	"github.com/openshop/api/internal/repositories"
)

const (
	orderEventCreated         = "order.created"
	orderEventStatusChanged   = "order.status.changed"
	orderEventPaymentVerified = "order.payment.verified"

	orderIDPrefix     = "ord_"
	orderItemIDPrefix = "oi_"
	orderNumberPrefix = "ORD-"
	orderNumberLayout = "20060102150405"
	paymentRefPrefix  = "TXN"

	defaultOrderCurrency    = "INR"
	defaultDeliveryLeadTime = 7 * 24 * time.Hour
	maxOrderNotesLength     = 500
	maxUserAgentLength      = 512

	defaultPageSize = 10
	maxPageSize     = 100
)

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders     repositories.OrderRepository
	Carts      repositories.CartRepository
	Addresses  repositories.AddressRepository
	Variants   repositories.VariantRepository
	UnitOfWork repositories.UnitOfWork
	// Cache is optional. Without it every read goes to the repositories.
	Cache    *cache.Store
	Payments PaymentVerifier
	Invoices InvoiceArchive
	Events   OrderEventPublisher

	Currency         string
	DeliveryLeadTime time.Duration

	Clock             func() time.Time
	IDGenerator       func() string
	OrderNumberSuffix func() string
	Logger            func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	carts      repositories.CartRepository
	addresses  repositories.AddressRepository
	variants   repositories.VariantRepository
	unitOfWork repositories.UnitOfWork
	cache      *cache.Store
	payments   PaymentVerifier
	invoices   InvoiceArchive
	events     OrderEventPublisher

	currency string
	leadTime time.Duration
	notes    *bluemonday.Policy

	clock  func() time.Time
	newID  func() string
	suffix func() string
	logger func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Addresses == nil {
		return nil, errors.New("order service: address repository is required")
	}
	if deps.Variants == nil {
		return nil, errors.New("order service: variant repository is required")
	}

	code := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if code == "" {
		code = defaultOrderCurrency
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return nil, fmt.Errorf("order service: invalid currency %q: %w", deps.Currency, err)
	}

	leadTime := deps.DeliveryLeadTime
	if leadTime <= 0 {
		leadTime = defaultDeliveryLeadTime
	}

	uow := deps.UnitOfWork
	if uow == nil {
		uow = noopUnitOfWork{}
	}

	verifier := deps.Payments
	if verifier == nil {
		verifier = payments.ReferenceVerifier{Prefix: paymentRefPrefix}
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	suffix := deps.OrderNumberSuffix
	if suffix == nil {
		suffix = func() string {
			return strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		carts:      deps.Carts,
		addresses:  deps.Addresses,
		variants:   deps.Variants,
		unitOfWork: uow,
		cache:      deps.Cache,
		payments:   verifier,
		invoices:   deps.Invoices,
		events:     deps.Events,
		currency:   unit.String(),
		leadTime:   leadTime,
		notes:      bluemonday.StrictPolicy(),
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		suffix: suffix,
		logger: logger,
	}, nil
}

// CreateOrder converts the actor's cart into a PENDING order. The order, its items and the
// cleared cart are committed together; nothing is written when any step fails.
func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	uid, err := requireUser(cmd.Actor)
	if err != nil {
		return Order{}, err
	}
	addressID := strings.TrimSpace(cmd.ShippingAddressID)
	if addressID == "" {
		return Order{}, fmt.Errorf("%w: shipping address id is required", ErrOrderInvalidInput)
	}
	method := strings.TrimSpace(cmd.PaymentMethod)
	if method == "" {
		return Order{}, fmt.Errorf("%w: payment method is required", ErrOrderInvalidInput)
	}

	cart, err := s.carts.GetByUser(ctx, uid)
	if err != nil {
		return Order{}, s.fail(ctx, "create", "", mapRepositoryError(err, ErrOrderNotFound))
	}
	if cart.IsEmpty() {
		return Order{}, s.fail(ctx, "create", "", ErrEmptyCart)
	}

	items, totals, err := s.snapshotItems(ctx, cart.Items)
	if err != nil {
		return Order{}, s.fail(ctx, "create", "", err)
	}

	if _, err := s.addresses.FindByID(ctx, uid, addressID); err != nil {
		return Order{}, s.fail(ctx, "create", "", mapRepositoryError(err, ErrAddressNotFound))
	}

	now := s.now()
	eta := now.Add(s.leadTime)
	number := orderNumberPrefix + now.Format(orderNumberLayout) + "-" + s.suffix()
	order := Order{
		ID:                  orderIDPrefix + s.newID(),
		OrderNumber:         number,
		UserID:              uid,
		Status:              domain.OrderStatusPending,
		PaymentStatus:       domain.PaymentStatusPending,
		PaymentMethod:       method,
		PaymentReference:    paymentRefPrefix + number,
		Currency:            s.currency,
		Totals:              totals,
		Items:               items,
		ShippingAddressID:   addressID,
		Notes:               s.sanitizeNotes(cmd.Notes),
		EstimatedDeliveryAt: &eta,
		ClientIP:            strings.TrimSpace(cmd.ClientIP),
		UserAgent:           truncateRunes(strings.TrimSpace(cmd.UserAgent), maxUserAgentLength),
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		return s.orders.PlaceOrder(txCtx, order, cart.ID, cart.Version)
	})
	if err != nil {
		return Order{}, s.fail(ctx, "create", order.ID, mapRepositoryError(err, ErrOrderNotFound))
	}

	invalidateOrder(ctx, s.cache, order, "")
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		ActorID:       uid,
		OccurredAt:    now,
		Metadata: map[string]any{
			"total":    order.Totals.Total,
			"currency": order.Currency,
			"items":    len(order.Items),
		},
	})
	s.logger(ctx, "order.created", map[string]any{
		"orderId":     order.ID,
		"orderNumber": order.OrderNumber,
		"userId":      uid,
		"total":       order.Totals.Total,
	})

	return cloneOrder(order), nil
}

// snapshotItems prices every cart line at the current catalog price.
func (s *orderService) snapshotItems(ctx context.Context, cartItems []CartItem) ([]OrderLineItem, OrderTotals, error) {
	ids := make([]string, 0, len(cartItems))
	for _, item := range cartItems {
		if !slices.Contains(ids, item.VariantID) {
			ids = append(ids, item.VariantID)
		}
	}
	variants, err := s.variants.FindByIDs(ctx, ids)
	if err != nil {
		return nil, OrderTotals{}, mapRepositoryError(err, ErrInvalidCartState)
	}

	items := make([]OrderLineItem, 0, len(cartItems))
	lines := make([]PricedLine, 0, len(cartItems))
	for _, item := range cartItems {
		variant, ok := variants[item.VariantID]
		if !ok {
			return nil, OrderTotals{}, fmt.Errorf("%w: variant %s", ErrInvalidCartState, item.VariantID)
		}
		if item.Quantity < 1 {
			return nil, OrderTotals{}, fmt.Errorf("%w: item %s has quantity %d", ErrInvalidCartState, item.ID, item.Quantity)
		}
		line := PricedLine{UnitPrice: variant.Price, Quantity: item.Quantity}
		lineTotal, err := line.LineTotal()
		if err != nil {
			return nil, OrderTotals{}, err
		}
		lines = append(lines, line)
		items = append(items, OrderLineItem{
			ID:            orderItemIDPrefix + s.newID(),
			VariantID:     variant.ID,
			SKU:           variant.SKU,
			Name:          variant.Name,
			Quantity:      item.Quantity,
			UnitPrice:     variant.Price,
			PriceSnapshot: lineTotal,
		})
	}
	totals, err := PriceCart(lines)
	if err != nil {
		return nil, OrderTotals{}, err
	}
	return items, totals, nil
}

func (s *orderService) GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := readThrough(ctx, s.cache, shapeOrder, orderKey(id), []string{orderTag(id)}, cloneOrder,
		func(ctx context.Context) (Order, error) {
			order, err := s.orders.FindByID(ctx, id)
			if err != nil {
				return Order{}, mapRepositoryError(err, ErrOrderNotFound)
			}
			return order, nil
		})
	if err != nil {
		return Order{}, err
	}
	if err := authorizeOrder(actor, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

// ListUserOrders returns the actor's orders newest first.
func (s *orderService) ListUserOrders(ctx context.Context, actor Actor, status *OrderStatus) ([]Order, error) {
	uid, err := requireUser(actor)
	if err != nil {
		return nil, err
	}

	key, tag := userOrdersKey(uid), userTag(uid)
	var filter *OrderStatus
	if status != nil {
		if !status.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, *status)
		}
		value := *status
		filter = &value
		key, tag = userStatusOrdersKey(uid, value), userStatusTag(uid, value)
	}

	shape := shapeUserOrders
	if filter != nil {
		shape = shapeUserStatusOrder
	}
	return readThrough(ctx, s.cache, shape, key, []string{tag}, cloneOrders,
		func(ctx context.Context) ([]Order, error) {
			orders, err := s.orders.ListByUser(ctx, uid, filter)
			if err != nil {
				return nil, mapRepositoryError(err, ErrOrderNotFound)
			}
			return orders, nil
		})
}

func (s *orderService) ListOrders(ctx context.Context, page, size int) (OrderPage, error) {
	page, size, err := normalizePage(page, size)
	if err != nil {
		return OrderPage{}, err
	}
	return readThrough(ctx, s.cache, shapeOrdersPage, ordersPageKey(page, size), []string{allOrdersTag}, cloneOrderPage,
		func(ctx context.Context) (OrderPage, error) {
			result, err := s.orders.List(ctx, repositories.OrderListFilter{Page: page, Size: size})
			if err != nil {
				return OrderPage{}, mapRepositoryError(err, ErrOrderNotFound)
			}
			return result, nil
		})
}

func (s *orderService) ListOrdersByStatus(ctx context.Context, rawStatus string, page, size int) (OrderPage, error) {
	status, ok := domain.ParseOrderStatus(rawStatus)
	if !ok {
		return OrderPage{}, fmt.Errorf("%w: %q", ErrInvalidStatus, rawStatus)
	}
	page, size, err := normalizePage(page, size)
	if err != nil {
		return OrderPage{}, err
	}
	return readThrough(ctx, s.cache, shapeStatusPage, statusPageKey(status, page, size), []string{statusTag(status)}, cloneOrderPage,
		func(ctx context.Context) (OrderPage, error) {
			result, err := s.orders.List(ctx, repositories.OrderListFilter{Status: &status, Page: page, Size: size})
			if err != nil {
				return OrderPage{}, mapRepositoryError(err, ErrOrderNotFound)
			}
			return result, nil
		})
}

// UpdateStatus sets any recognised status regardless of the current one.
func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (Order, error) {
	target, ok := domain.ParseOrderStatus(cmd.Status)
	if !ok {
		return Order{}, s.fail(ctx, "update_status", cmd.OrderID, fmt.Errorf("%w: %q", ErrInvalidStatus, cmd.Status))
	}
	order, err := s.loadForWrite(ctx, cmd.OrderID, cmd.ExpectedVersion)
	if err != nil {
		return Order{}, s.fail(ctx, "update_status", cmd.OrderID, err)
	}
	return s.writeStatus(ctx, order, target, strings.TrimSpace(cmd.ActorID))
}

// Cancel rejects orders that are already cancelled or shipped.
func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	order, err := s.loadForWrite(ctx, cmd.OrderID, cmd.ExpectedVersion)
	if err != nil {
		return Order{}, s.fail(ctx, "cancel", cmd.OrderID, err)
	}
	if err := authorizeOrder(cmd.Actor, order); err != nil {
		return Order{}, s.fail(ctx, "cancel", cmd.OrderID, err)
	}

	switch order.Status {
	case domain.OrderStatusCancelled:
		return Order{}, s.fail(ctx, "cancel", order.ID, ErrAlreadyCancelled)
	case domain.OrderStatusShipped:
		return Order{}, s.fail(ctx, "cancel", order.ID, ErrAlreadyShipped)
	}
	return s.writeStatus(ctx, order, domain.OrderStatusCancelled, cmd.Actor.UserID)
}

// DownloadInvoice renders the plain-text invoice and archives it when an archive is configured.
func (s *orderService) DownloadInvoice(ctx context.Context, actor Actor, orderID string) ([]byte, error) {
	order, err := s.GetOrder(ctx, actor, orderID)
	if err != nil {
		return nil, err
	}
	return readThrough(ctx, s.cache, shapeInvoice, invoiceKey(order.ID), []string{orderTag(order.ID)}, cloneBytes,
		func(ctx context.Context) ([]byte, error) {
			body := renderInvoice(order)
			if s.invoices != nil {
				if err := s.invoices.Store(ctx, order.OrderNumber, body); err != nil {
					s.logger(ctx, "order.invoice.archive.failed", map[string]any{
						"orderId": order.ID,
						"error":   err.Error(),
					})
				}
			}
			return body, nil
		})
}

// VerifyPayment marks the order paid when the verifier accepts the reference.
func (s *orderService) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (bool, error) {
	reference := strings.TrimSpace(cmd.Reference)
	order, err := s.loadForWrite(ctx, cmd.OrderID, nil)
	if err != nil {
		return false, s.fail(ctx, "verify_payment", cmd.OrderID, err)
	}
	if err := authorizeOrder(cmd.Actor, order); err != nil {
		return false, s.fail(ctx, "verify_payment", cmd.OrderID, err)
	}

	ok, err := s.payments.Verify(ctx, order, reference)
	if err != nil {
		return false, s.fail(ctx, "verify_payment", order.ID, err)
	}
	if !ok {
		s.logger(ctx, "order.payment.rejected", map[string]any{"orderId": order.ID})
		return false, nil
	}
	if order.PaymentStatus == domain.PaymentStatusPaid {
		return true, nil
	}

	now := s.now()
	err = s.runInTx(ctx, func(txCtx context.Context) error {
		return s.orders.UpdateStatus(txCtx, repositories.OrderStatusUpdate{
			OrderID:         order.ID,
			Status:          order.Status,
			PaymentStatus:   domain.PaymentStatusPaid,
			ExpectedVersion: order.Version,
			UpdatedAt:       now,
		})
	})
	if err != nil {
		return false, s.fail(ctx, "verify_payment", order.ID, mapRepositoryError(err, ErrOrderNotFound))
	}
	order.PaymentStatus = domain.PaymentStatusPaid
	order.Version++
	order.UpdatedAt = now

	invalidateOrder(ctx, s.cache, order, order.Status)
	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventPaymentVerified,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		UserID:        order.UserID,
		CurrentStatus: string(order.Status),
		ActorID:       cmd.Actor.UserID,
		OccurredAt:    now,
	})
	return true, nil
}

// loadForWrite reads the order from the repository, bypassing the cache, and checks the caller's
// expected version.
func (s *orderService) loadForWrite(ctx context.Context, orderID string, expected *int64) (Order, error) {
	id := strings.TrimSpace(orderID)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	if expected != nil && *expected != order.Version {
		return Order{}, fmt.Errorf("%w: expected version %d but was %d", ErrConcurrentModification, *expected, order.Version)
	}
	return order, nil
}

func (s *orderService) writeStatus(ctx context.Context, order Order, target OrderStatus, actorID string) (Order, error) {
	now := s.now()
	previous := order.Status
	payment := paymentStatusFor(target, order.PaymentStatus)

	err := s.runInTx(ctx, func(txCtx context.Context) error {
		return s.orders.UpdateStatus(txCtx, repositories.OrderStatusUpdate{
			OrderID:         order.ID,
			Status:          target,
			PaymentStatus:   payment,
			ExpectedVersion: order.Version,
			UpdatedAt:       now,
		})
	})
	if err != nil {
		return Order{}, s.fail(ctx, "update_status", order.ID, mapRepositoryError(err, ErrOrderNotFound))
	}

	order.Status = target
	order.PaymentStatus = payment
	order.Version++
	order.UpdatedAt = now

	invalidateOrder(ctx, s.cache, order, previous)
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(order.Status),
		ActorID:        actorID,
		OccurredAt:     now,
	})
	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId":  order.ID,
		"previous": string(previous),
		"current":  string(order.Status),
		"version":  order.Version,
	})
	return order, nil
}

// paymentStatusFor derives the payment status that accompanies a status write.
func paymentStatusFor(target OrderStatus, current PaymentStatus) PaymentStatus {
	switch {
	case target == domain.OrderStatusRefunded:
		return domain.PaymentStatusRefunded
	case target == domain.OrderStatusCancelled && current == domain.PaymentStatusPending:
		return domain.PaymentStatusFailed
	default:
		return current
	}
}

// authorizeOrder hides orders owned by someone else behind NotFound.
func authorizeOrder(actor Actor, order Order) error {
	if actor.Admin {
		return nil
	}
	if strings.TrimSpace(actor.UserID) == "" || actor.UserID != order.UserID {
		return fmt.Errorf("%w: %s", ErrOrderNotFound, order.ID)
	}
	return nil
}

func renderInvoice(order Order) []byte {
	return []byte(fmt.Sprintf("Invoice for Order #: %s\nTotal: %s %s",
		order.OrderNumber, FormatAmount(order.Totals.Total), order.Currency))
}

func cloneBytes(b []byte) []byte { return slices.Clone(b) }

func normalizePage(page, size int) (int, int, error) {
	if page < 0 {
		return 0, 0, fmt.Errorf("%w: page must be zero or greater", ErrOrderInvalidInput)
	}
	switch {
	case size <= 0:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}
	if page > math.MaxInt/size {
		return 0, 0, fmt.Errorf("%w: page %d is out of range", ErrOrderInvalidInput, page)
	}
	return page, size, nil
}

func (s *orderService) sanitizeNotes(raw string) string {
	cleaned := strings.TrimSpace(s.notes.Sanitize(raw))
	return truncateRunes(cleaned, maxOrderNotesLength)
}

func truncateRunes(value string, limit int) string {
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	return string([]rune(value)[:limit])
}

// fail logs err under order.<op>.failed and returns it unchanged.
func (s *orderService) fail(ctx context.Context, op, orderID string, err error) error {
	fields := map[string]any{"error": err.Error()}
	if orderID != "" {
		fields["orderId"] = orderID
	}
	s.logger(ctx, "order."+op+".failed", fields)
	return err
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}
