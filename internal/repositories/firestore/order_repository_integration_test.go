//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"testing"
	"time"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
	pconfig "github.com/gourav-1711/jewellery-backend/internal/platform/config"
	pfirestore "github.com/gourav-1711/jewellery-backend/internal/platform/firestore"
	"github.com/gourav-1711/jewellery-backend/internal/repositories"
)

func emulatorRegistry(t *testing.T) *Registry {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    fmt.Sprintf("jewel-%d", time.Now().UnixNano()),
		EmulatorHost: host,
	})
	reg, err := NewRegistry(provider)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close(context.Background()) })
	return reg
}

func seedRing(t *testing.T, ctx context.Context, reg *Registry, stock int) {
	t.Helper()
	err := reg.ProductStore().Save(ctx, domain.Product{
		ID:     "ring",
		Name:   "Ring",
		Price:  500,
		Active: true,
		Variants: []domain.ProductVariant{
			{ID: "gold", Name: "Gold", Stock: stock},
		},
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
}

func pendingOrder(id string) domain.Order {
	now := time.Now().UTC()
	order := domain.Order{
		ID:           id,
		OrderID:      "ORD-" + id,
		UserID:       "user-1",
		PurchaseType: domain.PurchaseTypeDirect,
		Currency:     "INR",
		Items: []domain.OrderItem{{
			ProductID: "ring", ColorID: "gold", Name: "Ring", Quantity: 2, PriceAtPurchase: 500, Subtotal: 1000,
		}},
		Pricing:   domain.Pricing{Subtotal: 1000, Shipping: 50, Total: 1050},
		Status:    domain.OrderStatusPending,
		Payment:   domain.Payment{Method: domain.PaymentMethodRazorpay, Status: domain.PaymentStatusPending, GatewayOrderID: "gw-" + id},
		CreatedAt: now,
		UpdatedAt: now,
	}
	order.StatusHistory = []domain.StatusChange{{Status: domain.OrderStatusPending, At: now, Actor: domain.ActorCustomer}}
	return order
}

func TestOrderRepositoryIntegration(t *testing.T) {
	reg := emulatorRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	seedRing(t, ctx, reg, 3)
	orders := reg.Orders()

	if err := orders.Insert(ctx, pendingOrder("o1"), []domain.StockDelta{{ProductID: "ring", ColorID: "gold", ReservedDelta: 2}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := orders.Insert(ctx, pendingOrder("o2"), []domain.StockDelta{{ProductID: "ring", ColorID: "gold", ReservedDelta: 2}})
	if !errors.Is(err, repositories.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	byGateway, err := orders.FindByGatewayOrderID(ctx, "gw-o1")
	if err != nil || byGateway.ID != "o1" {
		t.Fatalf("find by gateway id: %+v %v", byGateway, err)
	}

	res, err := orders.Mutate(ctx, repositories.OrderMutation{
		ID:             "o1",
		ExpectedStatus: []domain.OrderStatus{domain.OrderStatusPending},
		Apply: func(o *domain.Order) ([]domain.StockDelta, error) {
			o.Transition(domain.OrderStatusConfirmed, time.Now().UTC(), domain.ActorSystem, "")
			return []domain.StockDelta{{ProductID: "ring", ColorID: "gold", StockDelta: -2, ReservedDelta: -2}}, nil
		},
	})
	if err != nil || !res.Applied {
		t.Fatalf("mutate: %+v %v", res, err)
	}
	if len(res.Variants) != 1 || res.Variants[0].Stock != 1 || res.Variants[0].Reserved != 0 {
		t.Fatalf("unexpected variants %+v", res.Variants)
	}

	_, err = orders.Mutate(ctx, repositories.OrderMutation{
		ID:             "o1",
		ExpectedStatus: []domain.OrderStatus{domain.OrderStatusPending},
		Apply: func(o *domain.Order) ([]domain.StockDelta, error) {
			t.Fatalf("apply must not run on status mismatch")
			return nil, nil
		},
	})
	if !errors.Is(err, repositories.ErrStatusMismatch) {
		t.Fatalf("expected status mismatch, got %v", err)
	}

	product, err := reg.Products().FindByID(ctx, "ring")
	if err != nil {
		t.Fatalf("find product: %v", err)
	}
	if v, _ := product.Variant("gold"); v.Stock != 1 || v.Reserved != 0 {
		t.Fatalf("unexpected stock %+v", v)
	}

	page, err := orders.List(ctx, repositories.OrderListFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Total != 1 || len(page.Items) != 1 || page.Items[0].Status != domain.OrderStatusConfirmed {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestCounterRepositoryIntegration(t *testing.T) {
	reg := emulatorRegistry(t)
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	const workers = 8
	results := make([]int64, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(idx int) {
			defer wg.Done()
			value, err := reg.Counters().Next(ctx, "invoices:2026", 1)
			if err != nil {
				t.Errorf("next(%d): %v", idx, err)
				return
			}
			results[idx] = value
		}(i)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i] < results[j] })
	for i, val := range results {
		if val != int64(i+1) {
			t.Fatalf("expected sequence %d at position %d, got %d", i+1, i, val)
		}
	}
}
