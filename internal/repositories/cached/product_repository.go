// Package cached decorates repositories with a read-through cache.
package cached

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
	"github.com/gourav-1711/jewellery-backend/internal/platform/cache"
	"github.com/gourav-1711/jewellery-backend/internal/repositories"
)

const defaultProductTTL = 5 * time.Minute

// ErrorLogger receives cache failures. Cache errors never fail a read.
type ErrorLogger func(ctx context.Context, op string, err error)

// ProductRepository serves products from cache and falls back to the wrapped repository.
type ProductRepository struct {
	next  repositories.ProductRepository
	cache cache.Cache
	ttl   time.Duration
	log   ErrorLogger
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository wraps next. A nil cache disables caching.
func NewProductRepository(next repositories.ProductRepository, c cache.Cache, ttl time.Duration, log ErrorLogger) (*ProductRepository, error) {
	if next == nil {
		return nil, errors.New("cached product repository requires a backing repository")
	}
	if c == nil {
		c = cache.Noop{}
	}
	if ttl <= 0 {
		ttl = defaultProductTTL
	}
	if log == nil {
		log = func(context.Context, string, error) {}
	}
	return &ProductRepository{next: next, cache: c, ttl: ttl, log: log}, nil
}

func productKey(id string) string { return "product:" + id }

func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	if product, ok := r.lookup(ctx, productID); ok {
		return product, nil
	}
	product, err := r.next.FindByID(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	r.store(ctx, product)
	return product, nil
}

func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	missing := make([]string, 0, len(productIDs))
	for _, id := range productIDs {
		if _, done := result[id]; done {
			continue
		}
		if product, ok := r.lookup(ctx, id); ok {
			result[id] = product
			continue
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return result, nil
	}
	loaded, err := r.next.FindByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, product := range loaded {
		result[id] = product
		r.store(ctx, product)
	}
	return result, nil
}

// Invalidate drops cached entries after their stock changed.
func (r *ProductRepository) Invalidate(ctx context.Context, productIDs ...string) {
	if len(productIDs) == 0 {
		return
	}
	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = productKey(id)
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		r.log(ctx, "products.invalidate", err)
	}
}

func (r *ProductRepository) lookup(ctx context.Context, id string) (domain.Product, bool) {
	raw, ok, err := r.cache.Get(ctx, productKey(id))
	if err != nil {
		r.log(ctx, "products.cache_get", err)
		return domain.Product{}, false
	}
	if !ok {
		return domain.Product{}, false
	}
	var product domain.Product
	if err := json.Unmarshal(raw, &product); err != nil {
		r.log(ctx, "products.cache_decode", err)
		return domain.Product{}, false
	}
	return product, true
}

func (r *ProductRepository) store(ctx context.Context, product domain.Product) {
	raw, err := json.Marshal(product)
	if err != nil {
		r.log(ctx, "products.cache_encode", err)
		return
	}
	if err := r.cache.Set(ctx, productKey(product.ID), raw, r.ttl); err != nil {
		r.log(ctx, "products.cache_set", err)
	}
}
