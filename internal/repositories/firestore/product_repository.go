package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/gourav-1711/jewellery-backend/internal/domain"
	pfirestore "github.com/gourav-1711/jewellery-backend/internal/platform/firestore"
	"github.com/gourav-1711/jewellery-backend/internal/repositories"
)

const productsCollection = "products"

type productDocument struct {
	Name        string            `firestore:"name"`
	Description string            `firestore:"description,omitempty"`
	SKU         string            `firestore:"sku,omitempty"`
	Price       int64             `firestore:"price"`
	Images      []string          `firestore:"images,omitempty"`
	Active      bool              `firestore:"active"`
	Variants    []variantDocument `firestore:"variants"`
	UpdatedAt   time.Time         `firestore:"updatedAt"`
}

type variantDocument struct {
	ID       string `firestore:"id"`
	Name     string `firestore:"name,omitempty"`
	Stock    int    `firestore:"stock"`
	Reserved int    `firestore:"reserved"`
}

func (d productDocument) toDomain(id string) domain.Product {
	product := domain.Product{
		ID:          id,
		Name:        d.Name,
		Description: d.Description,
		SKU:         d.SKU,
		Price:       d.Price,
		Images:      append([]string(nil), d.Images...),
		Active:      d.Active,
		Variants:    make([]domain.ProductVariant, 0, len(d.Variants)),
		UpdatedAt:   d.UpdatedAt.UTC(),
	}
	for _, v := range d.Variants {
		product.Variants = append(product.Variants, domain.ProductVariant(v))
	}
	return product
}

func newProductDocument(p domain.Product) productDocument {
	doc := productDocument{
		Name:        p.Name,
		Description: p.Description,
		SKU:         p.SKU,
		Price:       p.Price,
		Images:      p.Images,
		Active:      p.Active,
		Variants:    make([]variantDocument, 0, len(p.Variants)),
		UpdatedAt:   p.UpdatedAt.UTC(),
	}
	for _, v := range p.Variants {
		doc.Variants = append(doc.Variants, variantDocument(v))
	}
	return doc
}

// ProductRepository reads the catalogue from Firestore.
type ProductRepository struct {
	provider *pfirestore.Provider
	products *pfirestore.Collection[productDocument]
}

var _ repositories.ProductRepository = (*ProductRepository)(nil)

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	return &ProductRepository{
		provider: provider,
		products: pfirestore.NewCollection[productDocument](provider, productsCollection),
	}, nil
}

// FindByID loads one product.
func (r *ProductRepository) FindByID(ctx context.Context, productID string) (domain.Product, error) {
	productID = strings.TrimSpace(productID)
	if productID == "" {
		return domain.Product{}, errors.New("product repository: product id is required")
	}
	doc, err := r.products.Get(ctx, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindByIDs loads several products in one round trip. Missing ids are absent from the result.
func (r *ProductRepository) FindByIDs(ctx context.Context, productIDs []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(productIDs))
	refs := make([]*firestore.DocumentRef, 0, len(productIDs))
	seen := make(map[string]struct{}, len(productIDs))
	for _, id := range productIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ref, err := r.products.Ref(ctx, id)
		if err != nil {
			return nil, err
		}
		refs = append(refs, ref)
	}
	if len(refs) == 0 {
		return result, nil
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	snaps, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("products.getAll", err)
	}
	for _, snap := range snaps {
		if !snap.Exists() {
			continue
		}
		doc, err := pfirestore.Decode[productDocument](snap)
		if err != nil {
			return nil, err
		}
		result[doc.ID] = doc.Data.toDomain(doc.ID)
	}
	return result, nil
}

// Save upserts a product. Used for seeding and by catalogue tooling.
func (r *ProductRepository) Save(ctx context.Context, product domain.Product) error {
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product repository: product id is required")
	}
	return r.products.Set(ctx, product.ID, newProductDocument(product))
}
