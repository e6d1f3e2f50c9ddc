package domain

import (
	"testing"
	"time"
)

func TestPricingRulesShipping(t *testing.T) {
	rules := DefaultPricingRules()
	cases := []struct {
		subtotal int64
		want     int64
	}{
		{900, 50},
		{1000, 50},
		{1001, 0},
		{1200, 0},
	}
	for _, tc := range cases {
		if got := rules.ShippingFor(tc.subtotal); got != tc.want {
			t.Fatalf("shipping for %d: expected %d, got %d", tc.subtotal, tc.want, got)
		}
	}
}

func TestPricingRulesPrice(t *testing.T) {
	rules := DefaultPricingRules()
	items := []OrderItem{
		{ProductID: "p1", Quantity: 2, PriceAtPurchase: 300, Subtotal: 600},
		{ProductID: "p2", Quantity: 1, PriceAtPurchase: 300, Subtotal: 300},
	}

	pricing := rules.Price(items, Discount{}, true)
	if pricing.Subtotal != 900 {
		t.Fatalf("expected subtotal 900, got %d", pricing.Subtotal)
	}
	if pricing.Shipping != 50 || pricing.GiftWrapCharges != 50 {
		t.Fatalf("unexpected fees %+v", pricing)
	}
	if pricing.Total != 1000 {
		t.Fatalf("expected total 1000, got %d", pricing.Total)
	}
	if !pricing.Balanced() {
		t.Fatalf("expected balanced pricing")
	}

	discounted := rules.Price(items, Discount{Amount: 5000, CouponCode: "BIG"}, false)
	if discounted.Discount.Amount != 900 {
		t.Fatalf("expected discount clamped to subtotal, got %d", discounted.Discount.Amount)
	}
	if discounted.Total != 50 || !discounted.Balanced() {
		t.Fatalf("unexpected discounted pricing %+v", discounted)
	}
}

func TestCanTransition(t *testing.T) {
	allowed := [][2]OrderStatus{
		{OrderStatusPending, OrderStatusConfirmed},
		{OrderStatusPending, OrderStatusPaymentFailed},
		{OrderStatusConfirmed, OrderStatusProcessing},
		{OrderStatusProcessing, OrderStatusShipped},
		{OrderStatusShipped, OrderStatusOutForDelivery},
		{OrderStatusOutForDelivery, OrderStatusDelivered},
		{OrderStatusDelivered, OrderStatusReturned},
		{OrderStatusCancelled, OrderStatusRefunded},
		{OrderStatusReturned, OrderStatusRefunded},
	}
	for _, pair := range allowed {
		if !CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be allowed", pair[0], pair[1])
		}
	}

	denied := [][2]OrderStatus{
		{OrderStatusShipped, OrderStatusCancelled},
		{OrderStatusPaymentFailed, OrderStatusConfirmed},
		{OrderStatusRefunded, OrderStatusPending},
		{OrderStatusConfirmed, OrderStatusDelivered},
		{OrderStatusExchange, OrderStatusRefunded},
	}
	for _, pair := range denied {
		if CanTransition(pair[0], pair[1]) {
			t.Fatalf("expected %s -> %s to be denied", pair[0], pair[1])
		}
	}

	for _, s := range []OrderStatus{OrderStatusPaymentFailed, OrderStatusRefunded, OrderStatusExchange} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
}

func TestOrderTransitionAppendsHistory(t *testing.T) {
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	order := Order{
		Status:        OrderStatusPending,
		StatusHistory: []StatusChange{{Status: OrderStatusPending, At: base}},
	}

	if !order.Transition(OrderStatusConfirmed, base.Add(-time.Minute), ActorCustomer, "paid") {
		t.Fatalf("expected transition to succeed")
	}
	if len(order.StatusHistory) != 2 {
		t.Fatalf("expected two history entries, got %d", len(order.StatusHistory))
	}
	if order.StatusHistory[1].At.Before(order.StatusHistory[0].At) {
		t.Fatalf("expected non-decreasing timestamps")
	}

	if order.Transition(OrderStatusDelivered, base.Add(time.Hour), ActorSystem, "") {
		t.Fatalf("expected confirmed -> delivered to be rejected")
	}
	if len(order.StatusHistory) != 2 || order.Status != OrderStatusConfirmed {
		t.Fatalf("rejected transition must not change the order")
	}
}

func TestOrderCanBeCancelledAndReturned(t *testing.T) {
	now := time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC)
	for status, want := range map[OrderStatus]bool{
		OrderStatusPending:    true,
		OrderStatusConfirmed:  true,
		OrderStatusProcessing: true,
		OrderStatusShipped:    false,
		OrderStatusDelivered:  false,
	} {
		if got := (Order{Status: status}).CanBeCancelled(); got != want {
			t.Fatalf("CanBeCancelled(%s): expected %v", status, want)
		}
	}

	recent := now.Add(-2 * 24 * time.Hour)
	old := now.Add(-8 * 24 * time.Hour)
	if !(Order{Status: OrderStatusDelivered, Shipping: Shipment{DeliveredAt: &recent}}).CanBeReturned(now, 0) {
		t.Fatalf("expected recent delivery to be returnable")
	}
	if (Order{Status: OrderStatusDelivered, Shipping: Shipment{DeliveredAt: &old}}).CanBeReturned(now, 0) {
		t.Fatalf("expected old delivery to be outside the window")
	}
	if (Order{Status: OrderStatusShipped, Shipping: Shipment{DeliveredAt: &recent}}).CanBeReturned(now, 0) {
		t.Fatalf("expected undelivered order to be non-returnable")
	}
}

func TestDeliveryOTPExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	otp := &DeliveryOTP{Code: "123456", ExpiresAt: now.Add(time.Hour)}
	if otp.Expired(now) {
		t.Fatalf("expected otp to be valid")
	}
	if !otp.Expired(now.Add(time.Hour)) {
		t.Fatalf("expected otp to expire at its deadline")
	}
	var missing *DeliveryOTP
	if !missing.Expired(now) {
		t.Fatalf("nil otp must be treated as expired")
	}
}
