package domain

import "time"

// ReturnWindow is how long after delivery a customer may ask for a return.
const ReturnWindow = 7 * 24 * time.Hour

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:        {OrderStatusPaymentFailed, OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:      {OrderStatusProcessing, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusProcessing:     {OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusShipped:        {OrderStatusOutForDelivery, OrderStatusRefunded},
	OrderStatusOutForDelivery: {OrderStatusDelivered, OrderStatusRefunded},
	OrderStatusDelivered:      {OrderStatusReturned, OrderStatusExchange, OrderStatusRefunded},
	OrderStatusCancelled:      {OrderStatusRefunded},
	OrderStatusReturned:       {OrderStatusRefunded},
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusPaymentFailed, OrderStatusConfirmed, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled,
		OrderStatusRefunded, OrderStatusReturned, OrderStatusExchange:
		return true
	default:
		return false
	}
}

// Terminal reports whether no transition leaves s.
func (s OrderStatus) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

// CanTransition reports whether an order may move from one status to another.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range orderTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// NextStatuses lists the statuses reachable from s.
func NextStatuses(s OrderStatus) []OrderStatus {
	next := orderTransitions[s]
	out := make([]OrderStatus, len(next))
	copy(out, next)
	return out
}

// CanBeCancelled reports whether the customer may still cancel.
func (o Order) CanBeCancelled() bool {
	switch o.Status {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing:
		return true
	default:
		return false
	}
}

// CanBeReturned reports whether a return may be requested at now.
func (o Order) CanBeReturned(now time.Time, window time.Duration) bool {
	if o.Status != OrderStatusDelivered || o.Shipping.DeliveredAt == nil {
		return false
	}
	if o.Return != nil && o.Return.Requested {
		return false
	}
	if window <= 0 {
		window = ReturnWindow
	}
	return now.Sub(*o.Shipping.DeliveredAt) <= window
}

// StockCommitted reports whether the order's quantities were taken from the stock counter.
func (o Order) StockCommitted() bool {
	switch o.Status {
	case OrderStatusConfirmed, OrderStatusProcessing, OrderStatusShipped, OrderStatusOutForDelivery, OrderStatusDelivered:
		return true
	default:
		return false
	}
}

// InvoiceNumber returns the issued invoice number, or "" before one is allocated.
func (o Order) InvoiceNumber() string {
	if o.Invoice == nil {
		return ""
	}
	return o.Invoice.Number
}

// Transition moves the order to the given status and appends one history entry. The entry's
// timestamp is never earlier than the previous one.
func (o *Order) Transition(to OrderStatus, at time.Time, actor Actor, note string) bool {
	if !CanTransition(o.Status, to) {
		return false
	}
	if n := len(o.StatusHistory); n > 0 && at.Before(o.StatusHistory[n-1].At) {
		at = o.StatusHistory[n-1].At
	}
	o.Status = to
	o.StatusHistory = append(o.StatusHistory, StatusChange{Status: to, At: at, Note: note, Actor: actor})
	o.UpdatedAt = at
	return true
}
