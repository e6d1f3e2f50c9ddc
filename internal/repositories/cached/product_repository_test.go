package cached

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
	"github.com/gourav-1711/jewellery-backend/internal/platform/cache"
	"github.com/gourav-1711/jewellery-backend/internal/repositories"
)

type countingRepo struct {
	products map[string]domain.Product
	byID     int
	byIDs    int
}

func (r *countingRepo) FindByID(_ context.Context, id string) (domain.Product, error) {
	r.byID++
	p, ok := r.products[id]
	if !ok {
		return domain.Product{}, repositories.NewNotFoundError("products.get", id)
	}
	return p, nil
}

func (r *countingRepo) FindByIDs(_ context.Context, ids []string) (map[string]domain.Product, error) {
	r.byIDs++
	out := map[string]domain.Product{}
	for _, id := range ids {
		if p, ok := r.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func ringRepo() *countingRepo {
	return &countingRepo{products: map[string]domain.Product{
		"ring": {ID: "ring", Name: "Ring", Price: 700, Active: true, Variants: []domain.ProductVariant{{ID: "gold", Stock: 4}}},
		"stud": {ID: "stud", Name: "Stud", Price: 300, Active: true},
	}}
}

func TestFindByIDReadsThrough(t *testing.T) {
	backing := ringRepo()
	repo, err := NewProductRepository(backing, cache.NewMemoryCache(8), 0, nil)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := repo.FindByID(ctx, "ring")
	require.NoError(t, err)
	second, err := repo.FindByID(ctx, "ring")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, backing.byID)

	repo.Invalidate(ctx, "ring")
	_, err = repo.FindByID(ctx, "ring")
	require.NoError(t, err)
	assert.Equal(t, 2, backing.byID)

	_, err = repo.FindByID(ctx, "missing")
	assert.True(t, repositories.IsNotFound(err))
}

func TestFindByIDsOnlyLoadsMisses(t *testing.T) {
	backing := ringRepo()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rc, err := cache.NewRedisCache(client, "jewel")
	require.NoError(t, err)

	repo, err := NewProductRepository(backing, rc, 0, nil)
	require.NoError(t, err)
	ctx := context.Background()

	_, err = repo.FindByID(ctx, "ring")
	require.NoError(t, err)

	got, err := repo.FindByIDs(ctx, []string{"ring", "stud", "ghost"})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, 4, got["ring"].Variants[0].Stock)
	assert.Equal(t, 1, backing.byIDs)

	_, err = repo.FindByIDs(ctx, []string{"ring", "stud"})
	require.NoError(t, err)
	assert.Equal(t, 1, backing.byIDs)
}

type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errors.New("down")
}

func (failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return errors.New("down")
}

func (failingCache) Delete(context.Context, ...string) error { return errors.New("down") }

func TestCacheFailuresFallBackToRepository(t *testing.T) {
	backing := ringRepo()
	var logged []string
	repo, err := NewProductRepository(backing, failingCache{}, time.Minute, func(_ context.Context, op string, _ error) {
		logged = append(logged, op)
	})
	require.NoError(t, err)

	product, err := repo.FindByID(context.Background(), "ring")
	require.NoError(t, err)
	assert.Equal(t, "Ring", product.Name)
	repo.Invalidate(context.Background(), "ring")
	assert.Equal(t, []string{"products.cache_get", "products.cache_set", "products.invalidate"}, logged)
}
