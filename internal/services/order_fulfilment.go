package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
	"github.com/gourav-1711/jewellery-backend/internal/repositories"
)

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
	domain.OrderStatusProcessing,
}

func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	order, err := s.ownedOrder(ctx, cmd.OrderID, cmd.UserID)
	if err != nil {
		return Order{}, err
	}
	reason := s.sanitize(cmd.Reason, customerNotesLimit)
	if reason == "" {
		reason = "Cancelled by customer"
	}
	return s.cancel(ctx, order, domain.ActorCustomer, reason)
}

// cancel moves an order to cancelled, restoring committed stock or releasing a pending hold.
func (s *orderService) cancel(ctx context.Context, order Order, actor domain.Actor, reason string) (Order, error) {
	if !order.CanBeCancelled() {
		return Order{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.OrderID, order.Status)
	}
	now := s.now()
	var previous domain.OrderStatus

	result, err := s.mutate(ctx, order, cancellableStatuses, func(o *domain.Order) ([]domain.StockDelta, error) {
		previous = o.Status
		committed := o.StockCommitted()
		held := reservationActive(o)
		o.Transition(domain.OrderStatusCancelled, now, actor, reason)
		cancellation := &domain.Cancellation{
			Reason:       reason,
			CancelledBy:  actor,
			CancelledAt:  now,
			RefundStatus: domain.RefundStatusPending,
		}
		if o.Payment.Status == domain.PaymentStatusCompleted {
			cancellation.RefundAmount = o.Pricing.Total
		}
		o.Cancellation = cancellation

		switch {
		case committed:
			return stockDeltas(o.Items, 1, 0), nil
		case held:
			o.Reservation.Active = false
			return stockDeltas(o.Items, 0, -1), nil
		}
		return nil, nil
	})
	if err != nil {
		return Order{}, err
	}
	cancelled := result.Order

	s.recordTransition(previous, domain.OrderStatusCancelled)
	s.logger(ctx, "order.cancelled", map[string]any{
		"orderId":  cancelled.OrderID,
		"previous": string(previous),
		"actor":    string(actor),
	})
	s.notify(ctx, cancelled, NotificationOrderCancelled, func(n *Notification) { n.Reason = reason })
	s.publishEvent(ctx, cancelled, orderEventCancelled, previous, actor, nil)
	return cancelled, nil
}

func (s *orderService) VerifyDeliveryOTP(ctx context.Context, cmd VerifyDeliveryOTPCommand) (Order, error) {
	var (
		order Order
		err   error
	)
	if strings.TrimSpace(cmd.UserID) != "" {
		order, err = s.ownedOrder(ctx, cmd.OrderID, cmd.UserID)
	} else {
		order, err = s.findOrder(ctx, cmd.OrderID)
	}
	if err != nil {
		return Order{}, err
	}
	if !domain.CanTransition(order.Status, domain.OrderStatusDelivered) {
		return Order{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.OrderID, order.Status)
	}

	now := s.now()
	var rejected bool
	result, err := s.mutate(ctx, order, []domain.OrderStatus{domain.OrderStatusOutForDelivery}, func(o *domain.Order) ([]domain.StockDelta, error) {
		rejected = false
		otp := o.DeliveryOTP
		if !deliveryOTPMatches(otp, cmd.OTP, now) {
			rejected = true
			if otp == nil || otp.Consumed || otp.Expired(now) || otp.FailedAttempts >= maxOTPAttempts {
				return nil, repositories.ErrSkipMutation
			}
			otp.FailedAttempts++
			o.UpdatedAt = now
			return nil, nil
		}
		otp.Consumed = true
		otp.ConsumedAt = valuePtr(now)
		o.Shipping.DeliveredAt = valuePtr(now)
		o.Transition(domain.OrderStatusDelivered, now, domain.ActorCourier, "Delivery confirmed with OTP")
		return nil, nil
	})
	if err != nil {
		return Order{}, err
	}
	if rejected {
		s.logger(ctx, "order.delivery_otp.rejected", map[string]any{"orderId": order.OrderID})
		return Order{}, ErrInvalidOTP
	}
	delivered := result.Order
	s.recordTransition(domain.OrderStatusOutForDelivery, domain.OrderStatusDelivered)
	s.notify(ctx, delivered, NotificationOrderDelivered, nil)
	s.publishEvent(ctx, delivered, orderEventDelivered, domain.OrderStatusOutForDelivery, domain.ActorCourier, nil)
	return delivered, nil
}

func (s *orderService) RequestReturn(ctx context.Context, cmd RequestReturnCommand) (Order, error) {
	order, err := s.ownedOrder(ctx, cmd.OrderID, cmd.UserID)
	if err != nil {
		return Order{}, err
	}
	reason := s.sanitize(cmd.Reason, customerNotesLimit)
	if reason == "" {
		return Order{}, fmt.Errorf("%w: return reason is required", ErrOrderInvalidInput)
	}
	now := s.now()
	if err := s.returnAllowed(order, now); err != nil {
		return Order{}, err
	}

	result, err := s.mutate(ctx, order, []domain.OrderStatus{domain.OrderStatusDelivered}, func(o *domain.Order) ([]domain.StockDelta, error) {
		if err := s.returnAllowed(*o, now); err != nil {
			return nil, err
		}
		o.Return = &domain.ReturnRequest{
			Requested:   true,
			Reason:      reason,
			RequestedAt: now,
			Status:      domain.ReturnStatusRequested,
		}
		o.UpdatedAt = now
		return nil, nil
	})
	if err != nil {
		return Order{}, err
	}
	requested := result.Order
	s.notify(ctx, requested, NotificationReturnUpdated, func(n *Notification) { n.Reason = reason })
	s.publishEvent(ctx, requested, orderEventReturnRequested, requested.Status, domain.ActorCustomer, map[string]string{
		"returnStatus": string(domain.ReturnStatusRequested),
	})
	return requested, nil
}

func (s *orderService) returnAllowed(order Order, now time.Time) error {
	if order.Status != domain.OrderStatusDelivered {
		return fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.OrderID, order.Status)
	}
	if order.Return != nil && order.Return.Requested {
		return fmt.Errorf("%w: return already requested for %s", ErrOrderInvalidState, order.OrderID)
	}
	if !order.CanBeReturned(now, s.returnWindow) {
		return fmt.Errorf("%w: order %s", ErrReturnWindowClosed, order.OrderID)
	}
	return nil
}

func (s *orderService) ResolveReturn(ctx context.Context, cmd ResolveReturnCommand) (Order, error) {
	decision := ReturnDecision(strings.ToLower(strings.TrimSpace(string(cmd.Decision))))
	switch decision {
	case ReturnDecisionApprove, ReturnDecisionReject, ReturnDecisionComplete:
	default:
		return Order{}, fmt.Errorf("%w: unsupported return decision %q", ErrOrderInvalidInput, cmd.Decision)
	}
	order, err := s.findOrder(ctx, cmd.OrderID)
	if err != nil {
		return Order{}, err
	}
	if cmd.RefundAmount != nil && (*cmd.RefundAmount < 0 || *cmd.RefundAmount > order.Pricing.Total) {
		return Order{}, fmt.Errorf("%w: refund amount must be between 0 and %d", ErrOrderInvalidInput, order.Pricing.Total)
	}
	if order.Return == nil || !order.Return.Requested {
		return Order{}, fmt.Errorf("%w: no return requested for %s", ErrOrderInvalidState, order.OrderID)
	}

	now := s.now()
	note := strings.TrimSpace(cmd.Note)
	result, err := s.mutate(ctx, order, []domain.OrderStatus{domain.OrderStatusDelivered}, func(o *domain.Order) ([]domain.StockDelta, error) {
		ret := o.Return
		if ret == nil || !ret.Requested {
			return nil, fmt.Errorf("%w: no return requested for %s", ErrOrderInvalidState, o.OrderID)
		}
		switch decision {
		case ReturnDecisionApprove:
			if ret.Status != domain.ReturnStatusRequested {
				return nil, fmt.Errorf("%w: return is %s", ErrOrderInvalidState, ret.Status)
			}
			ret.Status = domain.ReturnStatusApproved
			ret.ApprovedAt = valuePtr(now)
			o.UpdatedAt = now
		case ReturnDecisionReject:
			if ret.Status != domain.ReturnStatusRequested && ret.Status != domain.ReturnStatusApproved {
				return nil, fmt.Errorf("%w: return is %s", ErrOrderInvalidState, ret.Status)
			}
			ret.Status = domain.ReturnStatusRejected
			o.UpdatedAt = now
		case ReturnDecisionComplete:
			if ret.Status != domain.ReturnStatusApproved && ret.Status != domain.ReturnStatusPickedUp {
				return nil, fmt.Errorf("%w: return is %s", ErrOrderInvalidState, ret.Status)
			}
			ret.Status = domain.ReturnStatusCompleted
			ret.RefundAmount = o.Pricing.Total
			if cmd.RefundAmount != nil {
				ret.RefundAmount = *cmd.RefundAmount
			}
			if note == "" {
				note = "Return received"
			}
			o.Transition(domain.OrderStatusReturned, now, domain.ActorAdmin, note)
			return stockDeltas(o.Items, 1, 0), nil
		}
		return nil, nil
	})
	if err != nil {
		return Order{}, err
	}
	resolved := result.Order
	if resolved.Status == domain.OrderStatusReturned {
		s.recordTransition(domain.OrderStatusDelivered, domain.OrderStatusReturned)
	}
	s.logger(ctx, "order.return.resolved", map[string]any{
		"orderId":  resolved.OrderID,
		"decision": string(decision),
		"actor":    cmd.ActorID,
	})
	s.notify(ctx, resolved, NotificationReturnUpdated, func(n *Notification) { n.Reason = string(resolved.Return.Status) })
	s.publishEvent(ctx, resolved, orderEventReturnUpdated, domain.OrderStatusDelivered, domain.ActorAdmin, map[string]string{
		"returnStatus": string(resolved.Return.Status),
		"actorId":      cmd.ActorID,
	})
	return resolved, nil
}

func (s *orderService) MarkProcessing(ctx context.Context, cmd TransitionCommand) (Order, error) {
	note := strings.TrimSpace(cmd.Note)
	if note == "" {
		note = "Order is being prepared"
	}
	return s.advance(ctx, cmd.OrderID, cmd.ActorID, domain.OrderStatusProcessing, note, nil)
}

func (s *orderService) MarkShipped(ctx context.Context, cmd MarkShippedCommand) (Order, error) {
	carrier := strings.TrimSpace(cmd.Carrier)
	tracking := strings.TrimSpace(cmd.TrackingNumber)
	if carrier == "" || tracking == "" {
		return Order{}, fmt.Errorf("%w: carrier and tracking number are required", ErrOrderInvalidInput)
	}
	note := strings.TrimSpace(cmd.Note)
	if note == "" {
		note = "Shipped via " + carrier
	}
	shipped, err := s.advance(ctx, cmd.OrderID, cmd.ActorID, domain.OrderStatusShipped, note, func(o *domain.Order, now time.Time) error {
		o.Shipping.Carrier = carrier
		o.Shipping.TrackingNumber = tracking
		o.Shipping.TrackingURL = strings.TrimSpace(cmd.TrackingURL)
		o.Shipping.ShippedAt = valuePtr(now)
		if cmd.EstimatedDelivery != nil {
			o.Shipping.EstimatedDelivery = valuePtr(cmd.EstimatedDelivery.UTC())
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.notify(ctx, shipped, NotificationOrderShipped, func(n *Notification) {
		n.Carrier = shipped.Shipping.Carrier
		n.TrackingNumber = shipped.Shipping.TrackingNumber
		n.TrackingURL = shipped.Shipping.TrackingURL
	})
	return shipped, nil
}

// MarkOutForDelivery hands the parcel to the last-mile courier. An expired delivery OTP is
// reissued so the customer can still confirm receipt.
func (s *orderService) MarkOutForDelivery(ctx context.Context, cmd TransitionCommand) (Order, error) {
	note := strings.TrimSpace(cmd.Note)
	if note == "" {
		note = "Out for delivery"
	}
	code, err := s.newOTP()
	if err != nil {
		return Order{}, err
	}
	var reissued bool
	order, err := s.advance(ctx, cmd.OrderID, cmd.ActorID, domain.OrderStatusOutForDelivery, note, func(o *domain.Order, now time.Time) error {
		reissued = false
		if o.DeliveryOTP == nil || o.DeliveryOTP.Expired(now) || o.DeliveryOTP.FailedAttempts >= maxOTPAttempts {
			otp := &domain.DeliveryOTP{Code: code, IssuedAt: now}
			if s.otpTTL > 0 {
				otp.ExpiresAt = now.Add(s.otpTTL)
			}
			o.DeliveryOTP = otp
			reissued = true
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if reissued {
		s.notify(ctx, order, NotificationDeliveryOTP, func(n *Notification) { n.OTP = code })
	}
	return order, nil
}

// advance applies one fulfilment step from the single status that precedes target.
func (s *orderService) advance(ctx context.Context, orderID, actorID string, target domain.OrderStatus, note string, apply func(*domain.Order, time.Time) error) (Order, error) {
	from, ok := fulfilmentPredecessor[target]
	if !ok {
		return Order{}, fmt.Errorf("%w: %s is not a fulfilment step", ErrOrderInvalidInput, target)
	}
	order, err := s.findOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if order.Status != from {
		return Order{}, fmt.Errorf("%w: order %s is %s", ErrOrderInvalidState, order.OrderID, order.Status)
	}

	now := s.now()
	result, err := s.mutate(ctx, order, []domain.OrderStatus{from}, func(o *domain.Order) ([]domain.StockDelta, error) {
		if apply != nil {
			if err := apply(o, now); err != nil {
				return nil, err
			}
		}
		if !o.Transition(target, now, domain.ActorAdmin, note) {
			return nil, fmt.Errorf("%w: %s to %s", ErrOrderInvalidState, o.Status, target)
		}
		return nil, nil
	})
	if err != nil {
		return Order{}, err
	}
	updated := result.Order
	s.recordTransition(from, target)
	s.logger(ctx, "order.status.changed", map[string]any{
		"orderId": updated.OrderID,
		"from":    string(from),
		"to":      string(target),
		"actor":   actorID,
	})
	s.publishEvent(ctx, updated, orderEventStatusChanged, from, domain.ActorAdmin, map[string]string{"actorId": actorID})
	return updated, nil
}

var fulfilmentPredecessor = map[domain.OrderStatus]domain.OrderStatus{
	domain.OrderStatusProcessing:     domain.OrderStatusConfirmed,
	domain.OrderStatusShipped:        domain.OrderStatusProcessing,
	domain.OrderStatusOutForDelivery: domain.OrderStatusShipped,
}

func (s *orderService) ExpirePendingOrders(ctx context.Context, cmd ExpirePendingCommand) (ExpirePendingResult, error) {
	limit := cmd.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	now := s.now()
	orders, err := s.orders.ListExpiredReservations(ctx, repositories.ReservationCutoff{Before: now, Limit: limit})
	if err != nil {
		return ExpirePendingResult{}, mapRepositoryError(err, ErrOrderNotFound)
	}

	result := ExpirePendingResult{Expired: make([]string, 0, len(orders))}
	for _, order := range orders {
		if order.Status != domain.OrderStatusPending {
			continue
		}
		if _, err := s.cancel(ctx, order, domain.ActorSystem, "Payment window expired"); err != nil {
			if errors.Is(err, ErrOrderInvalidState) {
				continue
			}
			s.logger(ctx, "order.expire.failed", map[string]any{
				"orderId": order.OrderID,
				"error":   err.Error(),
			})
			continue
		}
		result.Expired = append(result.Expired, order.OrderID)
	}
	s.logger(ctx, "order.expire.completed", map[string]any{
		"candidates": len(orders),
		"expired":    len(result.Expired),
	})
	return result, nil
}

func deliveryOTPMatches(otp *domain.DeliveryOTP, code string, now time.Time) bool {
	if otp == nil || otp.Consumed || otp.Expired(now) || otp.FailedAttempts >= maxOTPAttempts {
		return false
	}
	code = strings.TrimSpace(code)
	return code != "" && subtle.ConstantTimeCompare([]byte(otp.Code), []byte(code)) == 1
}
