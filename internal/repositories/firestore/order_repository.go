package firestore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
	pfirestore "github.com/gourav-1711/jewellery-backend/internal/platform/firestore"
	"github.com/gourav-1711/jewellery-backend/internal/repositories"
)

const (
	ordersCollection = "orders"
	maxListLimit     = 50
)

// OrderRepository stores orders and applies their stock side effects in the same transaction.
type OrderRepository struct {
	provider *pfirestore.Provider
	orders   *pfirestore.Collection[orderDocument]
	products *pfirestore.Collection[productDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		orders:   pfirestore.NewCollection[orderDocument](provider, ordersCollection),
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
	}, nil
}

// Insert creates the order document. Reservation deltas raise the reserved counters of the
// referenced variants after checking availability, all within one transaction.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order, reserve []domain.StockDelta) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	doc := newOrderDocument(order)

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.orders.Ref(ctx, order.ID)
		if err != nil {
			return err
		}
		stocks, err := r.loadStock(ctx, tx, reserve)
		if err != nil {
			return err
		}
		for _, delta := range reserve {
			variant, ok := stocks.variant(delta.ProductID, delta.ColorID)
			if !ok {
				return pfirestore.NotFound("orders.insert", fmt.Sprintf("variant %s/%s", delta.ProductID, delta.ColorID))
			}
			if variant.Stock-variant.Reserved < delta.ReservedDelta {
				return fmt.Errorf("%w: %s/%s", repositories.ErrInsufficientStock, delta.ProductID, delta.ColorID)
			}
			variant.Reserved += delta.ReservedDelta
			variant.Stock += delta.StockDelta
		}
		if err := stocks.write(tx, doc.UpdatedAt); err != nil {
			return err
		}
		return tx.Create(ref, doc)
	})
	if errors.Is(err, repositories.ErrInsufficientStock) {
		return err
	}
	return pfirestore.WrapError("orders.insert", err)
}

// FindByID loads an order by storage id.
func (r *OrderRepository) FindByID(ctx context.Context, id string) (domain.Order, error) {
	doc, err := r.orders.Get(ctx, id)
	if err != nil {
		return domain.Order{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByOrderID loads an order by its public id.
func (r *OrderRepository) FindByOrderID(ctx context.Context, orderID string) (domain.Order, error) {
	return r.findOne(ctx, "orderId", orderID)
}

// FindByGatewayOrderID loads the order correlated with a gateway order.
func (r *OrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	return r.findOne(ctx, "payment.gatewayOrderId", gatewayOrderID)
}

func (r *OrderRepository) findOne(ctx context.Context, path, value string) (domain.Order, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return domain.Order{}, pfirestore.NotFound("orders.find", "order")
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where(path, "==", value).Limit(1)
	})
	if err != nil {
		return domain.Order{}, err
	}
	if len(docs) == 0 {
		return domain.Order{}, pfirestore.NotFound("orders.find", "order "+value)
	}
	return docs[0].Data.toDomain(docs[0].ID), nil
}

// List returns one page of orders, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (repositories.OrderPage, error) {
	page, limit := normalisePage(filter.Page, filter.Limit)
	scope := func(q firestore.Query) firestore.Query {
		if filter.UserID != "" {
			q = q.Where("userId", "==", filter.UserID)
		}
		switch len(filter.Status) {
		case 0:
		case 1:
			q = q.Where("status", "==", string(filter.Status[0]))
		default:
			statuses := make([]string, 0, len(filter.Status))
			for _, s := range filter.Status {
				statuses = append(statuses, string(s))
			}
			q = q.Where("status", "in", statuses)
		}
		return q
	}

	total, err := r.orders.Count(ctx, scope)
	if err != nil {
		return repositories.OrderPage{}, err
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return scope(q).OrderBy("createdAt", firestore.Desc).Offset((page - 1) * limit).Limit(limit)
	})
	if err != nil {
		return repositories.OrderPage{}, err
	}

	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.Data.toDomain(doc.ID))
	}
	return repositories.OrderPage{Items: items, Total: total, Page: page, Limit: limit}, nil
}

// ListExpiredReservations returns pending orders whose reservation expired before the cutoff.
func (r *OrderRepository) ListExpiredReservations(ctx context.Context, cutoff repositories.ReservationCutoff) ([]domain.Order, error) {
	limit := cutoff.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	docs, err := r.orders.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("status", "==", string(domain.OrderStatusPending)).
			Where("reservation.active", "==", true).
			Where("reservation.expiresAt", "<", cutoff.Before.UTC()).
			OrderBy("reservation.expiresAt", firestore.Asc).
			Limit(limit)
	})
	if err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		orders = append(orders, doc.Data.toDomain(doc.ID))
	}
	return orders, nil
}

// Mutate re-reads the order inside a transaction, applies the mutation and writes the order with
// its stock deltas atomically.
func (r *OrderRepository) Mutate(ctx context.Context, mutation repositories.OrderMutation) (repositories.OrderMutationResult, error) {
	if strings.TrimSpace(mutation.ID) == "" {
		return repositories.OrderMutationResult{}, errors.New("order repository: mutation id is required")
	}
	if mutation.Apply == nil {
		return repositories.OrderMutationResult{}, errors.New("order repository: mutation apply is required")
	}

	var result repositories.OrderMutationResult
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		result = repositories.OrderMutationResult{}

		ref, err := r.orders.Ref(ctx, mutation.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			return pfirestore.WrapError("orders.mutate", err)
		}
		current, err := pfirestore.Decode[orderDocument](snap)
		if err != nil {
			return err
		}
		order := current.Data.toDomain(current.ID)
		result.Order = order

		if !statusExpected(order.Status, mutation.ExpectedStatus) {
			return repositories.ErrStatusMismatch
		}

		// Apply errors are returned as-is so callers can match their own sentinels.
		deltas, err := mutation.Apply(&order)
		if err != nil {
			return err
		}
		stocks, err := r.loadStock(ctx, tx, deltas)
		if err != nil {
			return pfirestore.WrapError("orders.mutate", err)
		}
		result.Variants = stocks.apply(deltas)
		if err := stocks.write(tx, order.UpdatedAt); err != nil {
			return pfirestore.WrapError("orders.mutate", err)
		}
		if err := tx.Set(ref, newOrderDocument(order)); err != nil {
			return pfirestore.WrapError("orders.mutate", err)
		}
		result.Order = order
		result.Applied = true
		return nil
	})
	switch {
	case err == nil:
		return result, nil
	case errors.Is(err, repositories.ErrSkipMutation):
		return repositories.OrderMutationResult{Order: result.Order}, nil
	case errors.Is(err, repositories.ErrStatusMismatch):
		return repositories.OrderMutationResult{Order: result.Order}, err
	default:
		return repositories.OrderMutationResult{}, err
	}
}

func statusExpected(status domain.OrderStatus, expected []domain.OrderStatus) bool {
	if len(expected) == 0 {
		return true
	}
	for _, candidate := range expected {
		if candidate == status {
			return true
		}
	}
	return false
}

// stockSet holds product documents read inside a transaction, keyed by product id.
type stockSet struct {
	refs map[string]*firestore.DocumentRef
	docs map[string]*productDocument
}

func (r *OrderRepository) loadStock(ctx context.Context, tx *firestore.Transaction, deltas []domain.StockDelta) (*stockSet, error) {
	set := &stockSet{refs: map[string]*firestore.DocumentRef{}, docs: map[string]*productDocument{}}
	ids := make([]string, 0, len(deltas))
	for _, delta := range deltas {
		if _, ok := set.refs[delta.ProductID]; ok {
			continue
		}
		ref, err := r.products.Ref(ctx, delta.ProductID)
		if err != nil {
			return nil, err
		}
		set.refs[delta.ProductID] = ref
		ids = append(ids, delta.ProductID)
	}
	sort.Strings(ids)
	for _, id := range ids {
		snap, err := tx.Get(set.refs[id])
		if err != nil {
			if pfirestore.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		doc, err := pfirestore.Decode[productDocument](snap)
		if err != nil {
			return nil, err
		}
		data := doc.Data
		set.docs[id] = &data
	}
	return set, nil
}

func (s *stockSet) variant(productID, colorID string) (*variantDocument, bool) {
	doc, ok := s.docs[productID]
	if !ok {
		return nil, false
	}
	for i := range doc.Variants {
		if doc.Variants[i].ID == colorID {
			return &doc.Variants[i], true
		}
	}
	return nil, false
}

// apply adds the deltas to the loaded counters. Variants that no longer exist are reported as missing.
func (s *stockSet) apply(deltas []domain.StockDelta) []repositories.VariantStock {
	out := make([]repositories.VariantStock, 0, len(deltas))
	for _, delta := range deltas {
		variant, ok := s.variant(delta.ProductID, delta.ColorID)
		if !ok {
			out = append(out, repositories.VariantStock{ProductID: delta.ProductID, ColorID: delta.ColorID, Missing: true})
			continue
		}
		variant.Stock += delta.StockDelta
		variant.Reserved += delta.ReservedDelta
		if variant.Reserved < 0 {
			variant.Reserved = 0
		}
		out = append(out, repositories.VariantStock{
			ProductID: delta.ProductID,
			ColorID:   delta.ColorID,
			Stock:     variant.Stock,
			Reserved:  variant.Reserved,
		})
	}
	return out
}

func (s *stockSet) write(tx *firestore.Transaction, at time.Time) error {
	for id, doc := range s.docs {
		if err := tx.Update(s.refs[id], []firestore.Update{
			{Path: "variants", Value: doc.Variants},
			{Path: "updatedAt", Value: at},
		}); err != nil {
			return err
		}
	}
	return nil
}

func normalisePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 10
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return page, limit
}
