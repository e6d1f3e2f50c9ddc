package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
	"github.com/gourav-1711/jewellery-backend/internal/payments"
	"github.com/gourav-1711/jewellery-backend/internal/repositories"
)

const (
	paymentSourceVerify  = "verify"
	paymentSourceWebhook = "webhook"
)

func (s *orderService) CreatePaymentIntent(ctx context.Context, cmd CreatePaymentIntentCommand) (PaymentIntent, error) {
	order, err := s.ownedOrder(ctx, cmd.OrderID, cmd.UserID)
	if err != nil {
		return PaymentIntent{}, err
	}
	if order.Status != domain.OrderStatusPending {
		return PaymentIntent{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.OrderID, order.Status)
	}
	provider, err := s.gateways.ForCurrency(order.Currency)
	if err != nil {
		return PaymentIntent{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	amount := domain.MinorUnits(order.Pricing.Total)
	gatewayOrder, err := provider.CreateOrder(ctx, payments.CreateOrderRequest{
		Amount:   amount,
		Currency: order.Currency,
		Receipt:  order.OrderID,
		Notes: map[string]string{
			"orderId": order.OrderID,
			"userId":  order.UserID,
		},
	})
	if err != nil {
		s.logger(ctx, "order.payment_intent.failed", map[string]any{
			"orderId":  order.OrderID,
			"provider": provider.Name(),
			"error":    err.Error(),
		})
		return PaymentIntent{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	now := s.now()
	_, err = s.mutate(ctx, order, []domain.OrderStatus{domain.OrderStatusPending}, func(o *domain.Order) ([]domain.StockDelta, error) {
		o.Payment.Provider = provider.Name()
		o.Payment.GatewayOrderID = gatewayOrder.ID
		o.Payment.Status = domain.PaymentStatusProcessing
		o.UpdatedAt = now
		return nil, nil
	})
	if err != nil {
		return PaymentIntent{}, err
	}

	currency := gatewayOrder.Currency
	if currency == "" {
		currency = order.Currency
	}
	if gatewayOrder.Amount != 0 {
		amount = gatewayOrder.Amount
	}
	return PaymentIntent{
		GatewayOrderID: gatewayOrder.ID,
		Provider:       provider.Name(),
		Amount:         amount,
		Currency:       currency,
		KeyID:          provider.KeyID(),
		ClientSecret:   gatewayOrder.ClientSecret,
	}, nil
}

func (s *orderService) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (VerifyPaymentResult, error) {
	order, err := s.ownedOrder(ctx, cmd.OrderID, cmd.UserID)
	if err != nil {
		return VerifyPaymentResult{}, err
	}
	provider, err := s.providerFor(order)
	if err != nil {
		return VerifyPaymentResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	paymentID := strings.TrimSpace(cmd.GatewayPaymentID)
	validSignature := gatewayOrderID != "" &&
		subtle.ConstantTimeCompare([]byte(gatewayOrderID), []byte(order.Payment.GatewayOrderID)) == 1 &&
		provider.VerifyPaymentSignature(gatewayOrderID, paymentID, cmd.Signature)

	if !validSignature {
		s.paymentOutcome(paymentSourceVerify, "signature_mismatch")
		s.logger(ctx, "order.payment.signature_mismatch", map[string]any{
			"orderId":        order.OrderID,
			"gatewayOrderId": gatewayOrderID,
		})
		if order.Status == domain.OrderStatusPending {
			if _, failErr := s.failPayment(ctx, order, domain.ActorCustomer, "Payment signature verification failed"); failErr != nil && !errors.Is(failErr, ErrOrderInvalidState) {
				return VerifyPaymentResult{}, failErr
			}
		}
		return VerifyPaymentResult{}, ErrPaymentVerificationFailed
	}

	if order.StockCommitted() {
		return s.replayConfirmation(order, paymentID)
	}
	if order.Status != domain.OrderStatusPending {
		return VerifyPaymentResult{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.OrderID, order.Status)
	}

	gatewayOrder, err := provider.FetchOrder(ctx, gatewayOrderID)
	if err != nil {
		return VerifyPaymentResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	if err := amountMatches(order, gatewayOrder.Amount, gatewayOrder.Currency); err != nil {
		s.paymentOutcome(paymentSourceVerify, "amount_mismatch")
		s.logger(ctx, "order.payment.amount_mismatch", map[string]any{
			"orderId":  order.OrderID,
			"expected": domain.MinorUnits(order.Pricing.Total),
			"reported": gatewayOrder.Amount,
			"currency": gatewayOrder.Currency,
		})
		return VerifyPaymentResult{}, fmt.Errorf("%w: %w", ErrPaymentVerificationFailed, err)
	}

	confirmed, err := s.confirmPayment(ctx, order, paymentConfirmation{
		PaymentID: paymentID,
		Signature: cmd.Signature,
		Actor:     domain.ActorCustomer,
		Source:    paymentSourceVerify,
	})
	if err != nil {
		return VerifyPaymentResult{}, err
	}
	return s.replayConfirmation(confirmed, paymentID)
}

// replayConfirmation reports an already confirmed order for the matching payment.
func (s *orderService) replayConfirmation(order Order, paymentID string) (VerifyPaymentResult, error) {
	if order.Payment.GatewayPaymentID != "" && order.Payment.GatewayPaymentID != paymentID {
		return VerifyPaymentResult{}, fmt.Errorf("%w: order %s was paid by another payment", ErrOrderInvalidState, order.OrderID)
	}
	result := VerifyPaymentResult{OrderID: order.OrderID, Status: order.Status}
	if order.DeliveryOTP != nil && !order.DeliveryOTP.Consumed {
		result.DeliveryOTP = order.DeliveryOTP.Code
	}
	return result, nil
}

func (s *orderService) HandleWebhook(ctx context.Context, cmd WebhookCommand) (WebhookResult, error) {
	name := strings.TrimSpace(cmd.Provider)
	if name == "" {
		name = payments.ProviderRazorpay
	}
	provider, err := s.gateways.Get(name)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}
	if !provider.VerifyWebhookSignature(cmd.Body, cmd.Signature) {
		s.paymentOutcome(paymentSourceWebhook, "signature_mismatch")
		return WebhookResult{}, ErrInvalidSignature
	}
	event, err := provider.ParseWebhook(cmd.Body)
	if err != nil {
		return WebhookResult{}, fmt.Errorf("%w: %v", ErrOrderInvalidInput, err)
	}

	result := WebhookResult{Event: event.Name}
	if event.Type == payments.WebhookIgnored || event.GatewayOrderID == "" {
		s.logger(ctx, "order.webhook.ignored", map[string]any{"event": event.Name})
		return result, nil
	}
	order, err := s.orders.FindByGatewayOrderID(ctx, event.GatewayOrderID)
	if err != nil {
		if repositories.IsNotFound(err) {
			s.logger(ctx, "order.webhook.unknown_order", map[string]any{
				"event":          event.Name,
				"gatewayOrderId": event.GatewayOrderID,
			})
			return result, nil
		}
		return WebhookResult{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	result.OrderID = order.OrderID

	switch event.Type {
	case payments.WebhookPaymentCaptured:
		if order.Status != domain.OrderStatusPending {
			return result, nil
		}
		if err := amountMatches(order, event.Amount, event.Currency); err != nil {
			s.paymentOutcome(paymentSourceWebhook, "amount_mismatch")
			s.logger(ctx, "order.webhook.amount_mismatch", map[string]any{
				"orderId":  order.OrderID,
				"expected": domain.MinorUnits(order.Pricing.Total),
				"reported": event.Amount,
			})
			return result, nil
		}
		confirmed, err := s.confirmPayment(ctx, order, paymentConfirmation{
			PaymentID: event.PaymentID,
			Actor:     domain.ActorGateway,
			Source:    paymentSourceWebhook,
		})
		if err != nil {
			if errors.Is(err, ErrOrderInvalidState) {
				return result, nil
			}
			return WebhookResult{}, err
		}
		result.Applied = confirmed.Payment.GatewayPaymentID == event.PaymentID
	case payments.WebhookPaymentFailed:
		if order.Status != domain.OrderStatusPending {
			return result, nil
		}
		note := "Payment failed"
		if event.FailureReason != "" {
			note = "Payment failed: " + event.FailureReason
		}
		if _, err := s.failPayment(ctx, order, domain.ActorGateway, note); err != nil {
			if errors.Is(err, ErrOrderInvalidState) {
				return result, nil
			}
			return WebhookResult{}, err
		}
		s.paymentOutcome(paymentSourceWebhook, "failed")
		result.Applied = true
	case payments.WebhookRefundCreated:
		applied, err := s.applyRefund(ctx, order, event)
		if err != nil {
			if errors.Is(err, ErrOrderInvalidState) {
				return result, nil
			}
			return WebhookResult{}, err
		}
		result.Applied = applied
	}
	return result, nil
}

type paymentConfirmation struct {
	PaymentID string
	Signature string
	Actor     domain.Actor
	Source    string
}

// confirmPayment commits confirmation, delivery OTP and stock in one mutation. A concurrent
// confirmation of the same order resolves to the stored result. Only the winning confirmation
// draws an invoice number, after commit.
func (s *orderService) confirmPayment(ctx context.Context, order Order, conf paymentConfirmation) (Order, error) {
	now := s.now()
	code, err := s.newOTP()
	if err != nil {
		return Order{}, err
	}

	result, err := s.mutate(ctx, order, []domain.OrderStatus{domain.OrderStatusPending}, func(o *domain.Order) ([]domain.StockDelta, error) {
		reserved := reservationActive(o)
		o.Transition(domain.OrderStatusConfirmed, now, conf.Actor, "Payment verified")
		o.Payment.Status = domain.PaymentStatusCompleted
		o.Payment.Verified = true
		o.Payment.GatewayPaymentID = conf.PaymentID
		o.Payment.TransactionID = conf.PaymentID
		if conf.Signature != "" {
			o.Payment.Signature = conf.Signature
		}
		o.Payment.PaidAt = valuePtr(now)
		otp := &domain.DeliveryOTP{Code: code, IssuedAt: now}
		if s.otpTTL > 0 {
			otp.ExpiresAt = now.Add(s.otpTTL)
		}
		o.DeliveryOTP = otp

		reservedSign := 0
		if reserved {
			reservedSign = -1
			o.Reservation.Active = false
		}
		return stockDeltas(o.Items, -1, reservedSign), nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderInvalidState) && result.Order.StockCommitted() {
			s.paymentOutcome(conf.Source, "duplicate")
			return s.issueInvoice(ctx, result.Order, now), nil
		}
		return Order{}, err
	}
	confirmed := s.issueInvoice(ctx, result.Order, now)
	invoice := confirmed.InvoiceNumber()

	s.paymentOutcome(conf.Source, "confirmed")
	s.recordTransition(domain.OrderStatusPending, domain.OrderStatusConfirmed)
	s.logger(ctx, "order.payment.confirmed", map[string]any{
		"orderId":   confirmed.OrderID,
		"paymentId": conf.PaymentID,
		"source":    conf.Source,
		"invoice":   invoice,
	})

	if confirmed.PurchaseType == domain.PurchaseTypeCart {
		if err := s.carts.ClearCart(ctx, confirmed.UserID); err != nil {
			s.logger(ctx, "order.cart.clear_failed", map[string]any{
				"orderId": confirmed.OrderID,
				"userId":  confirmed.UserID,
				"error":   err.Error(),
			})
		}
	}

	s.notify(ctx, confirmed, NotificationDeliveryOTP, func(n *Notification) { n.OTP = code })
	s.notify(ctx, confirmed, NotificationOrderConfirmed, nil)
	s.publishEvent(ctx, confirmed, orderEventConfirmed, domain.OrderStatusPending, conf.Actor, map[string]string{
		"invoice":   invoice,
		"paymentId": conf.PaymentID,
	})
	return confirmed, nil
}

// issueInvoice numbers a confirmed order that has no invoice yet. A counter or storage failure
// leaves the order confirmed without one and is logged; the next replay retries.
func (s *orderService) issueInvoice(ctx context.Context, order Order, now time.Time) Order {
	if order.Invoice != nil {
		return order
	}
	number, err := s.nextInvoiceNumber(ctx, now)
	if err != nil {
		s.logger(ctx, "order.invoice.allocate_failed", map[string]any{
			"severity": "error",
			"orderId":  order.OrderID,
			"error":    err.Error(),
		})
		return order
	}
	result, err := s.mutate(ctx, order, nil, func(o *domain.Order) ([]domain.StockDelta, error) {
		if o.Invoice != nil {
			return nil, repositories.ErrSkipMutation
		}
		o.Invoice = &domain.Invoice{Number: number, IssuedAt: now}
		return nil, nil
	})
	if err != nil {
		s.logger(ctx, "order.invoice.store_failed", map[string]any{
			"severity": "error",
			"orderId":  order.OrderID,
			"invoice":  number,
			"error":    err.Error(),
		})
		return order
	}
	return result.Order
}

// failPayment marks a pending order payment_failed and releases any stock hold.
func (s *orderService) failPayment(ctx context.Context, order Order, actor domain.Actor, note string) (Order, error) {
	now := s.now()
	result, err := s.mutate(ctx, order, []domain.OrderStatus{domain.OrderStatusPending}, func(o *domain.Order) ([]domain.StockDelta, error) {
		o.Transition(domain.OrderStatusPaymentFailed, now, actor, note)
		o.Payment.Status = domain.PaymentStatusFailed
		o.Payment.Verified = false
		if reservationActive(o) {
			o.Reservation.Active = false
			return stockDeltas(o.Items, 0, -1), nil
		}
		return nil, nil
	})
	if err != nil {
		return Order{}, err
	}
	failed := result.Order
	s.recordTransition(domain.OrderStatusPending, domain.OrderStatusPaymentFailed)
	s.notify(ctx, failed, NotificationPaymentFailed, func(n *Notification) { n.Reason = note })
	s.publishEvent(ctx, failed, orderEventPaymentFailed, domain.OrderStatusPending, actor, nil)
	return failed, nil
}

var refundableStatuses = []domain.OrderStatus{
	domain.OrderStatusConfirmed,
	domain.OrderStatusProcessing,
	domain.OrderStatusShipped,
	domain.OrderStatusOutForDelivery,
	domain.OrderStatusDelivered,
	domain.OrderStatusCancelled,
	domain.OrderStatusReturned,
	domain.OrderStatusRefunded,
}

// applyRefund records a gateway refund once per refund id and moves the order to refunded. The
// running total is kept in minor units so refunds split across events add up to the captured
// amount. Goods that never left the warehouse go back into stock on the first refund.
func (s *orderService) applyRefund(ctx context.Context, order Order, event payments.WebhookEvent) (bool, error) {
	now := s.now()
	var previous domain.OrderStatus
	var transitioned bool

	result, err := s.mutate(ctx, order, refundableStatuses, func(o *domain.Order) ([]domain.StockDelta, error) {
		previous, transitioned = o.Status, false
		if event.RefundID != "" && (o.Payment.HasRefund(event.RefundID) || o.Payment.RefundID == event.RefundID) {
			return nil, repositories.ErrSkipMutation
		}
		captured := domain.MinorUnits(o.Pricing.Total)
		if event.RefundID == "" && o.Payment.RefundedMinor >= captured {
			return nil, repositories.ErrSkipMutation
		}

		if event.RefundAmount > 0 {
			o.Payment.RefundedMinor += event.RefundAmount
		} else {
			o.Payment.RefundedMinor = captured
		}
		o.Payment.RefundedAmount = o.Payment.RefundedMinor / 100
		if event.RefundID != "" {
			o.Payment.RefundID = event.RefundID
			o.Payment.RefundIDs = append(o.Payment.RefundIDs, event.RefundID)
		}
		o.Payment.RefundedAt = valuePtr(now)
		o.UpdatedAt = now

		full := o.Payment.RefundedMinor >= captured
		if full {
			o.Payment.Status = domain.PaymentStatusRefunded
		} else {
			o.Payment.Status = domain.PaymentStatusPartiallyRefunded
		}
		if o.Cancellation != nil {
			o.Cancellation.RefundAmount = o.Payment.RefundedAmount
			o.Cancellation.RefundedAt = valuePtr(now)
			if full {
				o.Cancellation.RefundStatus = domain.RefundStatusCompleted
			}
		}

		if o.Status == domain.OrderStatusRefunded {
			return nil, nil
		}
		transitioned = o.Transition(domain.OrderStatusRefunded, now, domain.ActorGateway, "Refund processed")
		if transitioned && (previous == domain.OrderStatusConfirmed || previous == domain.OrderStatusProcessing) {
			return stockDeltas(o.Items, 1, 0), nil
		}
		return nil, nil
	})
	if err != nil {
		return false, err
	}
	if !result.Applied {
		return false, nil
	}
	refunded := result.Order
	if transitioned {
		s.recordTransition(previous, domain.OrderStatusRefunded)
	}
	s.publishEvent(ctx, refunded, orderEventRefunded, previous, domain.ActorGateway, map[string]string{
		"refundId":      event.RefundID,
		"refundedMinor": strconv.FormatInt(refunded.Payment.RefundedMinor, 10),
	})
	return true, nil
}

func (s *orderService) providerFor(order Order) (payments.Provider, error) {
	if order.Payment.Provider != "" {
		return s.gateways.Get(order.Payment.Provider)
	}
	return s.gateways.ForCurrency(order.Currency)
}

func (s *orderService) paymentOutcome(source, outcome string) {
	if s.metrics != nil {
		s.metrics.PaymentOutcome(source, outcome)
	}
}

func amountMatches(order Order, amount int64, currency string) error {
	expected := domain.MinorUnits(order.Pricing.Total)
	if amount != expected {
		return fmt.Errorf("%w: expected %d, gateway reported %d", ErrAmountMismatch, expected, amount)
	}
	if currency != "" && !strings.EqualFold(currency, order.Currency) {
		return fmt.Errorf("%w: expected %s, gateway reported %s", ErrAmountMismatch, order.Currency, currency)
	}
	return nil
}
