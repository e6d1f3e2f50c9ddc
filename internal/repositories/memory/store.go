// Package memory provides in-process repositories used by the local storage driver and by tests.
// One mutex guards every collection, so an order mutation and its stock deltas apply atomically.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
	"github.com/gourav-1711/jewellery-backend/internal/repositories"
)

// Store holds orders, products, carts and counters.
type Store struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	products map[string]domain.Product
	carts    map[string]domain.Cart
	counters map[string]int64
}

var _ repositories.Registry = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		orders:   make(map[string]domain.Order),
		products: make(map[string]domain.Product),
		carts:    make(map[string]domain.Cart),
		counters: make(map[string]int64),
	}
}

func (s *Store) Orders() repositories.OrderRepository     { return orderRepository{s} }
func (s *Store) Products() repositories.ProductRepository { return productRepository{s} }
func (s *Store) Carts() repositories.CartRepository       { return cartRepository{s} }
func (s *Store) Counters() repositories.CounterRepository { return counterRepository{s} }

// Close is a no-op.
func (s *Store) Close(context.Context) error { return nil }

// PutProduct seeds or replaces a product.
func (s *Store) PutProduct(product domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[product.ID] = cloneProduct(product)
}

// PutCart seeds or replaces a cart.
func (s *Store) PutCart(cart domain.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cart.Items = append([]domain.CartItem(nil), cart.Items...)
	s.carts[cart.UserID] = cart
}

type orderRepository struct{ s *Store }

func (r orderRepository) Insert(_ context.Context, order domain.Order, reserve []domain.StockDelta) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("memory: order id is required")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.ID]; exists {
		return repositories.NewConflictError("orders.insert", fmt.Errorf("order %s already exists", order.ID))
	}
	staged := make(map[string]domain.Product)
	for _, delta := range reserve {
		product, ok := staged[delta.ProductID]
		if !ok {
			stored, found := s.products[delta.ProductID]
			if !found {
				return repositories.NewNotFoundError("orders.insert", "product "+delta.ProductID)
			}
			product = cloneProduct(stored)
		}
		idx := variantIndex(product, delta.ColorID)
		if idx < 0 {
			return repositories.NewNotFoundError("orders.insert", fmt.Sprintf("variant %s/%s", delta.ProductID, delta.ColorID))
		}
		v := &product.Variants[idx]
		if v.Available() < delta.ReservedDelta {
			return fmt.Errorf("%w: %s/%s", repositories.ErrInsufficientStock, delta.ProductID, delta.ColorID)
		}
		v.Reserved += delta.ReservedDelta
		v.Stock += delta.StockDelta
		staged[delta.ProductID] = product
	}
	for id, product := range staged {
		product.UpdatedAt = order.UpdatedAt
		s.products[id] = product
	}
	s.orders[order.ID] = cloneOrder(order)
	return nil
}

func (r orderRepository) FindByID(_ context.Context, id string) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	order, ok := r.s.orders[id]
	if !ok {
		return domain.Order{}, repositories.NewNotFoundError("orders.get", "order "+id)
	}
	return cloneOrder(order), nil
}

func (r orderRepository) FindByOrderID(_ context.Context, orderID string) (domain.Order, error) {
	return r.findOne("order "+orderID, func(o domain.Order) bool { return orderID != "" && o.OrderID == orderID })
}

func (r orderRepository) FindByGatewayOrderID(_ context.Context, gatewayOrderID string) (domain.Order, error) {
	return r.findOne("gateway order "+gatewayOrderID, func(o domain.Order) bool {
		return gatewayOrderID != "" && o.Payment.GatewayOrderID == gatewayOrderID
	})
}

func (r orderRepository) findOne(what string, match func(domain.Order) bool) (domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, order := range r.s.orders {
		if match(order) {
			return cloneOrder(order), nil
		}
	}
	return domain.Order{}, repositories.NewNotFoundError("orders.find", what)
}

func (r orderRepository) List(_ context.Context, filter repositories.OrderListFilter) (repositories.OrderPage, error) {
	page, limit := filter.Page, filter.Limit
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > 50 {
		limit = 50
	}

	r.s.mu.Lock()
	matched := make([]domain.Order, 0)
	for _, order := range r.s.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if len(filter.Status) > 0 && !containsStatus(filter.Status, order.Status) {
			continue
		}
		matched = append(matched, cloneOrder(order))
	}
	r.s.mu.Unlock()

	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	start := (page - 1) * limit
	items := []domain.Order{}
	if start < len(matched) {
		end := start + limit
		if end > len(matched) {
			end = len(matched)
		}
		items = matched[start:end]
	}
	return repositories.OrderPage{Items: items, Total: len(matched), Page: page, Limit: limit}, nil
}

func (r orderRepository) ListExpiredReservations(_ context.Context, cutoff repositories.ReservationCutoff) ([]domain.Order, error) {
	limit := cutoff.Limit
	if limit <= 0 {
		limit = 100
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make([]domain.Order, 0)
	for _, order := range r.s.orders {
		if order.Status != domain.OrderStatusPending || order.Reservation == nil || !order.Reservation.Active {
			continue
		}
		if order.Reservation.ExpiresAt.Before(cutoff.Before) {
			out = append(out, cloneOrder(order))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Reservation.ExpiresAt.Before(out[j].Reservation.ExpiresAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r orderRepository) Mutate(_ context.Context, mutation repositories.OrderMutation) (repositories.OrderMutationResult, error) {
	if mutation.Apply == nil {
		return repositories.OrderMutationResult{}, errors.New("memory: mutation apply is required")
	}
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.orders[mutation.ID]
	if !ok {
		return repositories.OrderMutationResult{}, repositories.NewNotFoundError("orders.mutate", "order "+mutation.ID)
	}
	if len(mutation.ExpectedStatus) > 0 && !containsStatus(mutation.ExpectedStatus, stored.Status) {
		return repositories.OrderMutationResult{Order: cloneOrder(stored)}, repositories.ErrStatusMismatch
	}

	order := cloneOrder(stored)
	deltas, err := mutation.Apply(&order)
	if errors.Is(err, repositories.ErrSkipMutation) {
		return repositories.OrderMutationResult{Order: cloneOrder(stored)}, nil
	}
	if err != nil {
		return repositories.OrderMutationResult{}, err
	}

	variants := make([]repositories.VariantStock, 0, len(deltas))
	for _, delta := range deltas {
		product, found := s.products[delta.ProductID]
		idx := -1
		if found {
			idx = variantIndex(product, delta.ColorID)
		}
		if idx < 0 {
			variants = append(variants, repositories.VariantStock{ProductID: delta.ProductID, ColorID: delta.ColorID, Missing: true})
			continue
		}
		product = cloneProduct(product)
		v := &product.Variants[idx]
		v.Stock += delta.StockDelta
		v.Reserved += delta.ReservedDelta
		if v.Reserved < 0 {
			v.Reserved = 0
		}
		product.UpdatedAt = order.UpdatedAt
		s.products[delta.ProductID] = product
		variants = append(variants, repositories.VariantStock{
			ProductID: delta.ProductID,
			ColorID:   delta.ColorID,
			Stock:     v.Stock,
			Reserved:  v.Reserved,
		})
	}
	s.orders[order.ID] = cloneOrder(order)
	return repositories.OrderMutationResult{Order: order, Applied: true, Variants: variants}, nil
}

type productRepository struct{ s *Store }

func (r productRepository) FindByID(_ context.Context, productID string) (domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	product, ok := r.s.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewNotFoundError("products.get", "product "+productID)
	}
	return cloneProduct(product), nil
}

func (r productRepository) FindByIDs(_ context.Context, productIDs []string) (map[string]domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	out := make(map[string]domain.Product, len(productIDs))
	for _, id := range productIDs {
		if product, ok := r.s.products[id]; ok {
			out[id] = cloneProduct(product)
		}
	}
	return out, nil
}

type cartRepository struct{ s *Store }

func (r cartRepository) GetCart(_ context.Context, userID string) (domain.Cart, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cart, ok := r.s.carts[userID]
	if !ok {
		return domain.Cart{}, repositories.NewNotFoundError("carts.get", "cart "+userID)
	}
	cart.Items = append([]domain.CartItem(nil), cart.Items...)
	return cart, nil
}

func (r cartRepository) ClearCart(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cart, ok := r.s.carts[userID]
	if !ok {
		return nil
	}
	cart.Items = nil
	cart.UpdatedAt = time.Now().UTC()
	r.s.carts[userID] = cart
	return nil
}

type counterRepository struct{ s *Store }

func (r counterRepository) Next(_ context.Context, counterID string, step int64) (int64, error) {
	if strings.TrimSpace(counterID) == "" {
		return 0, errors.New("memory: counter id is required")
	}
	if step < 0 {
		return 0, fmt.Errorf("memory: step must be positive, got %d", step)
	}
	if step == 0 {
		step = 1
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.counters[counterID] += step
	return r.s.counters[counterID], nil
}

func containsStatus(set []domain.OrderStatus, status domain.OrderStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func variantIndex(product domain.Product, colorID string) int {
	for i, v := range product.Variants {
		if v.ID == colorID {
			return i
		}
	}
	return -1
}

func cloneProduct(p domain.Product) domain.Product {
	p.Images = append([]string(nil), p.Images...)
	p.Variants = append([]domain.ProductVariant(nil), p.Variants...)
	return p
}

func cloneOrder(o domain.Order) domain.Order {
	items := make([]domain.OrderItem, len(o.Items))
	for i, item := range o.Items {
		item.Images = append([]string(nil), item.Images...)
		items[i] = item
	}
	o.Items = items
	o.StatusHistory = append([]domain.StatusChange(nil), o.StatusHistory...)
	o.Payment.RefundIDs = append([]string(nil), o.Payment.RefundIDs...)
	if o.Cancellation != nil {
		c := *o.Cancellation
		o.Cancellation = &c
	}
	if o.Return != nil {
		r := *o.Return
		o.Return = &r
	}
	if o.Invoice != nil {
		inv := *o.Invoice
		o.Invoice = &inv
	}
	if o.DeliveryOTP != nil {
		otp := *o.DeliveryOTP
		o.DeliveryOTP = &otp
	}
	if o.Reservation != nil {
		res := *o.Reservation
		o.Reservation = &res
	}
	return o
}
