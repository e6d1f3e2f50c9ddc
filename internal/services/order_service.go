package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
	"github.com/gourav-1711/jewellery-backend/internal/repositories"
)

const (
	orderEventCreated         = "order.created"
	orderEventConfirmed       = "order.confirmed"
	orderEventPaymentFailed   = "order.payment.failed"
	orderEventStatusChanged   = "order.status.changed"
	orderEventCancelled       = "order.cancelled"
	orderEventDelivered       = "order.delivered"
	orderEventRefunded        = "order.refunded"
	orderEventReturnRequested = "order.return.requested"
	orderEventReturnUpdated   = "order.return.updated"

	orderIDPrefix     = "ORD-"
	invoiceCounterID  = "invoices"
	defaultCountry    = "India"
	defaultPageSize   = 10
	maxPageSize       = 50
	maxOTPAttempts    = 5
	deliveryOTPDigits = 6

	customerNotesLimit = 500
	giftMessageLimit   = 250
)

// OrderServiceDeps bundles collaborators required to construct the order service. Products must
// read the catalogue of record: checkout snapshots price and name from it.
type OrderServiceDeps struct {
	Orders   repositories.OrderRepository
	Products repositories.ProductRepository
	Carts    repositories.CartRepository
	Counters repositories.CounterRepository
	Gateways PaymentGateways

	Coupons      CouponValidator
	Notifier     Notifier
	Events       OrderEventPublisher
	ProductCache ProductCacheInvalidator
	Metrics      OrderMetrics
	Sanitizer    TextSanitizer

	Pricing        domain.PricingRules
	Currency       string
	ReserveStock   bool
	ReservationTTL time.Duration
	DeliveryOTPTTL time.Duration
	ReturnWindow   time.Duration

	Clock        func() time.Time
	IDGenerator  func() string
	OrderNumbers func(now time.Time) string
	OTPGenerator func() (string, error)
	Logger       func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	products repositories.ProductRepository
	carts    repositories.CartRepository
	counters repositories.CounterRepository
	gateways PaymentGateways

	coupons   CouponValidator
	notifier  Notifier
	events    OrderEventPublisher
	cache     ProductCacheInvalidator
	metrics   OrderMetrics
	sanitizer TextSanitizer

	pricing        domain.PricingRules
	currency       string
	reserveStock   bool
	reservationTTL time.Duration
	otpTTL         time.Duration
	returnWindow   time.Duration

	clock        func() time.Time
	newID        func() string
	orderNumbers func(time.Time) string
	newOTP       func() (string, error)
	logger       func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("order service: cart repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Gateways == nil {
		return nil, errors.New("order service: payment gateways are required")
	}
	if deps.ReserveStock && deps.ReservationTTL <= 0 {
		return nil, errors.New("order service: reservation ttl must be positive when stock is reserved")
	}

	pricing := deps.Pricing
	if pricing == (domain.PricingRules{}) {
		pricing = domain.DefaultPricingRules()
	}
	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
	}
	returnWindow := deps.ReturnWindow
	if returnWindow <= 0 {
		returnWindow = domain.ReturnWindow
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
	orderNumbers := deps.OrderNumbers
	if orderNumbers == nil {
		orderNumbers = newPublicOrderID
	}
	otpGen := deps.OTPGenerator
	if otpGen == nil {
		otpGen = func() (string, error) { return randomDigits(deliveryOTPDigits) }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:         deps.Orders,
		products:       deps.Products,
		carts:          deps.Carts,
		counters:       deps.Counters,
		gateways:       deps.Gateways,
		coupons:        deps.Coupons,
		notifier:       deps.Notifier,
		events:         deps.Events,
		cache:          deps.ProductCache,
		metrics:        deps.Metrics,
		sanitizer:      deps.Sanitizer,
		pricing:        pricing,
		currency:       currency,
		reserveStock:   deps.ReserveStock,
		reservationTTL: deps.ReservationTTL,
		otpTTL:         deps.DeliveryOTPTTL,
		returnWindow:   returnWindow,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:        idGen,
		orderNumbers: orderNumbers,
		newOTP:       otpGen,
		logger:       logger,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (CreateOrderResult, error) {
	userID := strings.TrimSpace(cmd.UserID)
	if userID == "" {
		return CreateOrderResult{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	purchaseType := domain.PurchaseType(strings.ToLower(strings.TrimSpace(string(cmd.PurchaseType))))
	switch purchaseType {
	case domain.PurchaseTypeCart:
		if len(cmd.Items) > 0 {
			return CreateOrderResult{}, fmt.Errorf("%w: cart purchases must not list items", ErrOrderInvalidInput)
		}
	case domain.PurchaseTypeDirect, domain.PurchaseTypeWishlist:
		if len(cmd.Items) == 0 {
			return CreateOrderResult{}, fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
		}
	default:
		return CreateOrderResult{}, fmt.Errorf("%w: unsupported purchase type %q", ErrOrderInvalidInput, cmd.PurchaseType)
	}
	shipping, err := normalizeShippingAddress(cmd.ShippingAddress)
	if err != nil {
		return CreateOrderResult{}, err
	}
	billing := shipping
	if !cmd.BillingAddress.IsZero() {
		billing = normalizeAddress(cmd.BillingAddress)
	}

	lines := cmd.Items
	if purchaseType == domain.PurchaseTypeCart {
		lines, err = s.cartLines(ctx, userID)
		if err != nil {
			return CreateOrderResult{}, err
		}
	}
	if err := validateLines(lines); err != nil {
		return CreateOrderResult{}, err
	}

	items, err := s.snapshotItems(ctx, lines, purchaseType)
	if err != nil {
		return CreateOrderResult{}, err
	}

	var subtotal int64
	for _, item := range items {
		subtotal += item.Subtotal
	}
	discount := domain.Discount{}
	if code := strings.TrimSpace(cmd.CouponCode); code != "" && s.coupons != nil {
		discount, err = s.coupons.ValidateCoupon(ctx, code, userID, subtotal)
		if err != nil {
			return CreateOrderResult{}, fmt.Errorf("%w: coupon %s: %v", ErrOrderInvalidInput, code, err)
		}
		discount.CouponCode = code
	}

	now := s.now()
	order := domain.Order{
		ID:              s.newID(),
		OrderID:         s.orderNumbers(now),
		UserID:          userID,
		CustomerEmail:   strings.TrimSpace(cmd.CustomerEmail),
		PurchaseType:    purchaseType,
		Currency:        s.currency,
		Items:           items,
		Pricing:         s.pricing.Price(items, discount, cmd.GiftWrap),
		ShippingAddress: shipping,
		BillingAddress:  billing,
		Payment: domain.Payment{
			Method: domain.PaymentMethodRazorpay,
			Status: domain.PaymentStatusPending,
		},
		Status: domain.OrderStatusPending,
		StatusHistory: []domain.StatusChange{{
			Status: domain.OrderStatusPending,
			At:     now,
			Note:   "Order created",
			Actor:  domain.ActorCustomer,
		}},
		Notes:     domain.OrderNotes{Customer: s.sanitize(cmd.Notes, customerNotesLimit)},
		IsGift:    cmd.IsGift,
		GiftWrap:  cmd.GiftWrap,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if cmd.IsGift {
		order.GiftMessage = s.sanitize(cmd.GiftMessage, giftMessageLimit)
	}

	var reserve []domain.StockDelta
	if s.reserveStock {
		reserve = stockDeltas(items, 0, 1)
		order.Reservation = &domain.StockReservation{Active: true, ExpiresAt: now.Add(s.reservationTTL)}
	}

	if err := s.orders.Insert(ctx, order, reserve); err != nil {
		return CreateOrderResult{}, mapRepositoryError(err, ErrProductNotFound)
	}
	if len(reserve) > 0 {
		s.invalidateProducts(ctx, items)
	}

	s.publishEvent(ctx, order, orderEventCreated, "", domain.ActorCustomer, nil)
	s.logger(ctx, "order.created", map[string]any{
		"orderId":      order.OrderID,
		"userId":       order.UserID,
		"purchaseType": string(order.PurchaseType),
		"total":        order.Pricing.Total,
		"reserved":     len(reserve) > 0,
	})
	return CreateOrderResult{OrderID: order.OrderID, Total: order.Pricing.Total}, nil
}

func (s *orderService) cartLines(ctx context.Context, userID string) ([]OrderItemInput, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		if repositories.IsNotFound(err) {
			return nil, ErrCartEmpty
		}
		return nil, mapRepositoryError(err, ErrCartEmpty)
	}
	if len(cart.Items) == 0 {
		return nil, ErrCartEmpty
	}
	lines := make([]OrderItemInput, 0, len(cart.Items))
	for _, item := range cart.Items {
		lines = append(lines, OrderItemInput{
			ProductID:        item.ProductID,
			ColorID:          item.ColorID,
			Quantity:         item.Quantity,
			IsPersonalized:   item.IsPersonalized,
			PersonalizedName: item.PersonalizedName,
		})
	}
	return lines, nil
}

func (s *orderService) snapshotItems(ctx context.Context, lines []OrderItemInput, source domain.PurchaseType) ([]domain.OrderItem, error) {
	ids := make([]string, 0, len(lines))
	seen := make(map[string]struct{}, len(lines))
	for _, line := range lines {
		if _, ok := seen[line.ProductID]; ok {
			continue
		}
		seen[line.ProductID] = struct{}{}
		ids = append(ids, line.ProductID)
	}
	products, err := s.products.FindByIDs(ctx, ids)
	if err != nil {
		return nil, mapRepositoryError(err, ErrProductNotFound)
	}

	items := make([]domain.OrderItem, 0, len(lines))
	for _, line := range lines {
		product, ok := products[line.ProductID]
		if !ok || !product.Active {
			return nil, fmt.Errorf("%w: %s", ErrProductNotFound, line.ProductID)
		}
		if _, ok := product.Variant(line.ColorID); !ok {
			return nil, fmt.Errorf("%w: %s color %s", ErrProductNotFound, line.ProductID, line.ColorID)
		}
		item := domain.OrderItem{
			ProductID:       product.ID,
			ColorID:         line.ColorID,
			Name:            product.Name,
			Description:     product.Description,
			Quantity:        line.Quantity,
			IsPersonalized:  line.IsPersonalized,
			PriceAtPurchase: product.Price,
			Subtotal:        product.Price * int64(line.Quantity),
			Source:          source,
			Images:          append([]string(nil), product.Images...),
			SKU:             product.SKU,
		}
		if line.IsPersonalized {
			item.PersonalizedName = s.sanitize(line.PersonalizedName, 64)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (OrderPage, error) {
	filter.UserID = strings.TrimSpace(filter.UserID)
	if filter.UserID == "" {
		return OrderPage{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	return s.listOrders(ctx, filter)
}

func (s *orderService) ListAllOrders(ctx context.Context, filter OrderListFilter) (OrderPage, error) {
	filter.UserID = strings.TrimSpace(filter.UserID)
	return s.listOrders(ctx, filter)
}

func (s *orderService) listOrders(ctx context.Context, filter OrderListFilter) (OrderPage, error) {
	for _, status := range filter.Status {
		if !status.Valid() {
			return OrderPage{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, status)
		}
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return OrderPage{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return page, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID, userID string) (Order, error) {
	return s.ownedOrder(ctx, orderID, userID)
}

func (s *orderService) GetOrderForFulfilment(ctx context.Context, orderID string) (Order, error) {
	return s.findOrder(ctx, orderID)
}

func (s *orderService) findOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByOrderID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return order, nil
}

// ownedOrder hides other customers' orders behind ErrOrderNotFound.
func (s *orderService) ownedOrder(ctx context.Context, orderID, userID string) (Order, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Order{}, fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.UserID != userID {
		return Order{}, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	return order, nil
}

// mutate runs a guarded order mutation and maps status races to ErrOrderInvalidState.
func (s *orderService) mutate(ctx context.Context, order Order, expected []domain.OrderStatus, apply func(*domain.Order) ([]domain.StockDelta, error)) (repositories.OrderMutationResult, error) {
	result, err := s.orders.Mutate(ctx, repositories.OrderMutation{
		ID:             order.ID,
		ExpectedStatus: expected,
		Apply:          apply,
	})
	if err != nil {
		if errors.Is(err, repositories.ErrStatusMismatch) {
			return result, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.OrderID, result.Order.Status)
		}
		return result, mapRepositoryError(err, ErrOrderNotFound)
	}
	if result.Applied {
		s.checkVariants(ctx, result.Order, result.Variants)
	}
	return result, nil
}

// checkVariants reports counters a committed mutation drove below zero or could not find.
func (s *orderService) checkVariants(ctx context.Context, order Order, variants []repositories.VariantStock) {
	for _, v := range variants {
		switch {
		case v.Missing:
			s.logger(ctx, "order.stock.variant_missing", map[string]any{
				"orderId":   order.OrderID,
				"productId": v.ProductID,
				"colorId":   v.ColorID,
			})
		case v.Stock < 0:
			s.logger(ctx, "order.stock.oversold", map[string]any{
				"severity":  "warn",
				"orderId":   order.OrderID,
				"productId": v.ProductID,
				"colorId":   v.ColorID,
				"stock":     v.Stock,
			})
			if s.metrics != nil {
				s.metrics.StockOversell(v.ProductID)
			}
		}
	}
	if len(variants) > 0 {
		s.invalidateProducts(ctx, order.Items)
	}
}

func (s *orderService) invalidateProducts(ctx context.Context, items []domain.OrderItem) {
	if s.cache == nil || len(items) == 0 {
		return
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ProductID)
	}
	s.cache.Invalidate(ctx, ids...)
}

func (s *orderService) recordTransition(from, to domain.OrderStatus) {
	if s.metrics != nil && from != to {
		s.metrics.OrderTransition(string(from), string(to))
	}
}

func (s *orderService) publishEvent(ctx context.Context, order Order, eventType string, previous domain.OrderStatus, actor domain.Actor, metadata map[string]string) {
	if s.events == nil {
		return
	}
	event := OrderEvent{
		Type:           eventType,
		OrderID:        order.OrderID,
		UserID:         order.UserID,
		PreviousStatus: previous,
		CurrentStatus:  order.Status,
		Total:          order.Pricing.Total,
		Currency:       order.Currency,
		Actor:          actor,
		OccurredAt:     order.UpdatedAt,
		Metadata:       metadata,
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.CurrentStatus),
		})
	}
}

func (s *orderService) notify(ctx context.Context, order Order, kind NotificationKind, mutate func(*Notification)) {
	if s.notifier == nil {
		return
	}
	n := Notification{
		Kind:         kind,
		To:           order.CustomerEmail,
		CustomerName: order.ShippingAddress.FullName,
		OrderID:      order.OrderID,
		UserID:       order.UserID,
		Total:        order.Pricing.Total,
		Currency:     order.Currency,
	}
	if n.To == "" {
		n.To = order.ShippingAddress.Email
	}
	for _, item := range order.Items {
		n.Items = append(n.Items, NotificationItem{Name: item.Name, Quantity: item.Quantity, Subtotal: item.Subtotal})
	}
	if mutate != nil {
		mutate(&n)
	}
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger(ctx, "order.notification.failed", map[string]any{
			"kind":    string(kind),
			"orderId": order.OrderID,
			"error":   err.Error(),
		})
		if s.metrics != nil {
			s.metrics.NotificationFailure(string(kind))
		}
	}
}

func (s *orderService) sanitize(value string, limit int) string {
	if s.sanitizer != nil {
		return s.sanitizer.Sanitize(value, limit)
	}
	value = strings.TrimSpace(value)
	if limit > 0 && len([]rune(value)) > limit {
		value = string([]rune(value)[:limit])
	}
	return value
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) nextInvoiceNumber(ctx context.Context, now time.Time) (string, error) {
	seq, err := s.counters.Next(ctx, invoiceCounterID, 1)
	if err != nil {
		return "", mapRepositoryError(err, ErrOrderNotFound)
	}
	return fmt.Sprintf("INV-%04d-%06d", now.Year(), seq), nil
}

// stockDeltas builds one delta per line. Lines sharing a variant are merged.
func stockDeltas(items []domain.OrderItem, stockSign, reservedSign int) []domain.StockDelta {
	index := make(map[string]int, len(items))
	out := make([]domain.StockDelta, 0, len(items))
	for _, item := range items {
		key := item.ProductID + "/" + item.ColorID
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, domain.StockDelta{ProductID: item.ProductID, ColorID: item.ColorID})
		}
		out[i].StockDelta += stockSign * item.Quantity
		out[i].ReservedDelta += reservedSign * item.Quantity
	}
	return out
}

func reservationActive(order *domain.Order) bool {
	return order.Reservation != nil && order.Reservation.Active
}

func validateLines(lines []OrderItemInput) error {
	for i, line := range lines {
		if strings.TrimSpace(line.ProductID) == "" {
			return fmt.Errorf("%w: items[%d].productId is required", ErrOrderInvalidInput, i)
		}
		if strings.TrimSpace(line.ColorID) == "" {
			return fmt.Errorf("%w: items[%d].colorId is required", ErrOrderInvalidInput, i)
		}
		if line.Quantity < 1 {
			return fmt.Errorf("%w: items[%d].quantity must be at least 1", ErrOrderInvalidInput, i)
		}
	}
	return nil
}

func normalizeShippingAddress(addr Address) (Address, error) {
	addr = normalizeAddress(addr)
	missing := make([]string, 0)
	for field, value := range map[string]string{
		"fullName": addr.FullName,
		"phone":    addr.Phone,
		"city":     addr.City,
		"state":    addr.State,
		"pincode":  addr.Pincode,
	} {
		if value == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return Address{}, fmt.Errorf("%w: shipping address is missing %s", ErrOrderInvalidInput, strings.Join(missing, ", "))
	}
	return addr, nil
}

func normalizeAddress(addr Address) Address {
	addr.FullName = strings.TrimSpace(addr.FullName)
	addr.Phone = strings.TrimSpace(addr.Phone)
	addr.Email = strings.TrimSpace(addr.Email)
	addr.Area = strings.TrimSpace(addr.Area)
	addr.Street = strings.TrimSpace(addr.Street)
	addr.AddressLine1 = strings.TrimSpace(addr.AddressLine1)
	addr.City = strings.TrimSpace(addr.City)
	addr.State = strings.TrimSpace(addr.State)
	addr.Pincode = strings.TrimSpace(addr.Pincode)
	addr.Country = strings.TrimSpace(addr.Country)
	addr.Landmark = strings.TrimSpace(addr.Landmark)
	addr.Instructions = strings.TrimSpace(addr.Instructions)
	if addr.Country == "" {
		addr.Country = defaultCountry
	}
	return addr
}

// newPublicOrderID returns ORD-<unix ms>-<9 upper-case base36 characters>.
func newPublicOrderID(now time.Time) string {
	const alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	suffix := make([]byte, 9)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
		if err != nil {
			return orderIDPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "-" + strings.ToUpper(ulid.Make().String()[17:])
		}
		suffix[i] = alphabet[n.Int64()]
	}
	return orderIDPrefix + strconv.FormatInt(now.UnixMilli(), 10) + "-" + string(suffix)
}

func randomDigits(n int) (string, error) {
	limit := big.NewInt(1)
	for i := 0; i < n; i++ {
		limit.Mul(limit, big.NewInt(10))
	}
	v, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("order: generate otp: %w", err)
	}
	return fmt.Sprintf("%0*d", n, v.Int64()), nil
}

func valuePtr[T any](v T) *T {
	return &v
}
