package repositories

import (
	"context"
	"time"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Carts() CartRepository
	Counters() CounterRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists orders. Every status-changing write goes through Mutate so the order
// document and the stock counters it touches commit together.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order, reserve []domain.StockDelta) error
	FindByID(ctx context.Context, id string) (domain.Order, error)
	FindByOrderID(ctx context.Context, orderID string) (domain.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (OrderPage, error)
	ListExpiredReservations(ctx context.Context, before ReservationCutoff) ([]domain.Order, error)
	Mutate(ctx context.Context, mutation OrderMutation) (OrderMutationResult, error)
}

// OrderMutation describes one transactional change to the order stored under ID. When the freshly
// read status is not in ExpectedStatus, Mutate fails with ErrStatusMismatch. Apply mutates the order
// and returns the stock deltas to write alongside it; returning ErrSkipMutation leaves everything
// untouched.
type OrderMutation struct {
	ID             string
	ExpectedStatus []domain.OrderStatus
	Apply          func(order *domain.Order) ([]domain.StockDelta, error)
}

// OrderMutationResult returns the stored order plus the stock counters after the deltas applied.
type OrderMutationResult struct {
	Order    domain.Order
	Applied  bool
	Variants []VariantStock
}

// VariantStock reports a variant's counters after a mutation.
type VariantStock struct {
	ProductID string
	ColorID   string
	Stock     int
	Reserved  int
	Missing   bool
}

// OrderListFilter scopes order listings. Pages are 1-based.
type OrderListFilter struct {
	UserID string
	Status []domain.OrderStatus
	Page   int
	Limit  int
}

// OrderPage is one page of orders, newest first.
type OrderPage struct {
	Items []domain.Order
	Total int
	Page  int
	Limit int
}

// ReservationCutoff selects pending orders whose stock hold lapsed.
type ReservationCutoff struct {
	Before time.Time
	Limit  int
}

// ProductRepository is the catalogue as seen by the order workflow.
type ProductRepository interface {
	FindByID(ctx context.Context, productID string) (domain.Product, error)
	FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error)
}

// CartRepository loads and clears customer carts.
type CartRepository interface {
	GetCart(ctx context.Context, userID string) (domain.Cart, error)
	ClearCart(ctx context.Context, userID string) error
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
