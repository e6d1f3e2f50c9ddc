package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
	"github.com/gourav-1711/jewellery-backend/internal/repositories"
)

func seededStore(stock int) *Store {
	s := NewStore()
	s.PutProduct(domain.Product{
		ID:       "ring",
		Name:     "Ring",
		Price:    400,
		Active:   true,
		Variants: []domain.ProductVariant{{ID: "gold", Stock: stock}},
	})
	return s
}

func order(id string, created time.Time) domain.Order {
	return domain.Order{
		ID:        id,
		OrderID:   "ORD-" + id,
		UserID:    "u1",
		Status:    domain.OrderStatusPending,
		Items:     []domain.OrderItem{{ProductID: "ring", ColorID: "gold", Quantity: 2}},
		Payment:   domain.Payment{GatewayOrderID: "gw-" + id},
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestInsertReservesStock(t *testing.T) {
	ctx := context.Background()
	s := seededStore(3)
	reserve := []domain.StockDelta{{ProductID: "ring", ColorID: "gold", ReservedDelta: 2}}

	require.NoError(t, s.Orders().Insert(ctx, order("a", time.Now()), reserve))
	err := s.Orders().Insert(ctx, order("b", time.Now()), reserve)
	require.ErrorIs(t, err, repositories.ErrInsufficientStock)

	product, err := s.Products().FindByID(ctx, "ring")
	require.NoError(t, err)
	assert.Equal(t, 3, product.Variants[0].Stock)
	assert.Equal(t, 2, product.Variants[0].Reserved)

	_, err = s.Orders().FindByID(ctx, "b")
	assert.True(t, repositories.IsNotFound(err))
}

func TestInsertRejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	s := seededStore(1)
	require.NoError(t, s.Orders().Insert(ctx, order("a", time.Now()), nil))
	err := s.Orders().Insert(ctx, order("a", time.Now()), nil)
	var repoErr repositories.RepositoryError
	require.ErrorAs(t, err, &repoErr)
	assert.True(t, repoErr.IsConflict())
}

func TestMutateAppliesDeltas(t *testing.T) {
	ctx := context.Background()
	s := seededStore(5)
	require.NoError(t, s.Orders().Insert(ctx, order("a", time.Now()), nil))

	res, err := s.Orders().Mutate(ctx, repositories.OrderMutation{
		ID:             "a",
		ExpectedStatus: []domain.OrderStatus{domain.OrderStatusPending},
		Apply: func(o *domain.Order) ([]domain.StockDelta, error) {
			o.Transition(domain.OrderStatusConfirmed, time.Now(), domain.ActorSystem, "")
			return []domain.StockDelta{
				{ProductID: "ring", ColorID: "gold", StockDelta: -2, ReservedDelta: -2},
				{ProductID: "gone", ColorID: "gold", StockDelta: -1},
			}, nil
		},
	})
	require.NoError(t, err)
	require.True(t, res.Applied)
	require.Len(t, res.Variants, 2)
	assert.Equal(t, 3, res.Variants[0].Stock)
	assert.Equal(t, 0, res.Variants[0].Reserved)
	assert.True(t, res.Variants[1].Missing)

	stored, err := s.Orders().FindByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusConfirmed, stored.Status)
}

func TestMutateStatusMismatch(t *testing.T) {
	ctx := context.Background()
	s := seededStore(5)
	require.NoError(t, s.Orders().Insert(ctx, order("a", time.Now()), nil))

	res, err := s.Orders().Mutate(ctx, repositories.OrderMutation{
		ID:             "a",
		ExpectedStatus: []domain.OrderStatus{domain.OrderStatusShipped},
		Apply: func(*domain.Order) ([]domain.StockDelta, error) {
			t.Fatal("apply must not run")
			return nil, nil
		},
	})
	require.ErrorIs(t, err, repositories.ErrStatusMismatch)
	assert.Equal(t, domain.OrderStatusPending, res.Order.Status)
}

func TestMutateSkipAndErrorLeaveStateUntouched(t *testing.T) {
	ctx := context.Background()
	s := seededStore(5)
	require.NoError(t, s.Orders().Insert(ctx, order("a", time.Now()), nil))

	res, err := s.Orders().Mutate(ctx, repositories.OrderMutation{
		ID: "a",
		Apply: func(o *domain.Order) ([]domain.StockDelta, error) {
			o.Notes.Internal = "changed"
			return nil, repositories.ErrSkipMutation
		},
	})
	require.NoError(t, err)
	assert.False(t, res.Applied)

	boom := errors.New("boom")
	_, err = s.Orders().Mutate(ctx, repositories.OrderMutation{
		ID: "a",
		Apply: func(o *domain.Order) ([]domain.StockDelta, error) {
			o.Notes.Internal = "changed"
			return []domain.StockDelta{{ProductID: "ring", ColorID: "gold", StockDelta: -5}}, boom
		},
	})
	require.ErrorIs(t, err, boom)

	stored, _ := s.Orders().FindByID(ctx, "a")
	assert.Empty(t, stored.Notes.Internal)
	product, _ := s.Products().FindByID(ctx, "ring")
	assert.Equal(t, 5, product.Variants[0].Stock)
}

func TestListPaginatesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := seededStore(0)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, s.Orders().Insert(ctx, order(id, base.Add(time.Duration(i)*time.Hour)), nil))
	}

	page, err := s.Orders().List(ctx, repositories.OrderListFilter{UserID: "u1", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "c", page.Items[0].ID)

	page, err = s.Orders().List(ctx, repositories.OrderListFilter{UserID: "u1", Page: 2, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "a", page.Items[0].ID)

	page, err = s.Orders().List(ctx, repositories.OrderListFilter{Status: []domain.OrderStatus{domain.OrderStatusDelivered}})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestListExpiredReservations(t *testing.T) {
	ctx := context.Background()
	s := seededStore(0)
	now := time.Now()
	expired := order("a", now)
	expired.Reservation = &domain.StockReservation{Active: true, ExpiresAt: now.Add(-time.Minute)}
	live := order("b", now)
	live.Reservation = &domain.StockReservation{Active: true, ExpiresAt: now.Add(time.Hour)}
	require.NoError(t, s.Orders().Insert(ctx, expired, nil))
	require.NoError(t, s.Orders().Insert(ctx, live, nil))

	out, err := s.Orders().ListExpiredReservations(ctx, repositories.ReservationCutoff{Before: now})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "a", out[0].ID)
}

func TestCartsAndCounters(t *testing.T) {
	ctx := context.Background()
	s := NewStore()
	s.PutCart(domain.Cart{UserID: "u1", Items: []domain.CartItem{{ProductID: "ring", ColorID: "gold", Quantity: 1}}})

	cart, err := s.Carts().GetCart(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)

	require.NoError(t, s.Carts().ClearCart(ctx, "u1"))
	cart, err = s.Carts().GetCart(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	require.NoError(t, s.Carts().ClearCart(ctx, "missing"))

	first, err := s.Counters().Next(ctx, "invoices:2026", 0)
	require.NoError(t, err)
	second, err := s.Counters().Next(ctx, "invoices:2026", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
}
