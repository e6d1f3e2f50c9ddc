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

const cartCollection = "carts"

type cartDocument struct {
	Items     []cartItemDocument `firestore:"items"`
	UpdatedAt time.Time          `firestore:"updatedAt"`
}

type cartItemDocument struct {
	ProductID        string `firestore:"productId"`
	ColorID          string `firestore:"colorId"`
	Quantity         int    `firestore:"quantity"`
	IsPersonalized   bool   `firestore:"isPersonalized"`
	PersonalizedName string `firestore:"personalizedName,omitempty"`
}

// CartRepository reads and clears carts keyed by user id.
type CartRepository struct {
	carts *pfirestore.Collection[cartDocument]
	now   func() time.Time
}

var _ repositories.CartRepository = (*CartRepository)(nil)

// NewCartRepository constructs a Firestore-backed cart repository.
func NewCartRepository(provider *pfirestore.Provider) (*CartRepository, error) {
	if provider == nil {
		return nil, errors.New("cart repository requires firestore provider")
	}
	return &CartRepository{
		carts: pfirestore.NewCollection[cartDocument](provider, cartCollection),
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// GetCart loads the user's cart.
func (r *CartRepository) GetCart(ctx context.Context, userID string) (domain.Cart, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Cart{}, errors.New("cart repository: user id is required")
	}
	doc, err := r.carts.Get(ctx, userID)
	if err != nil {
		return domain.Cart{}, err
	}
	cart := domain.Cart{UserID: doc.ID, UpdatedAt: doc.Data.UpdatedAt.UTC()}
	for _, item := range doc.Data.Items {
		cart.Items = append(cart.Items, domain.CartItem(item))
	}
	return cart, nil
}

// ClearCart empties the items array. A missing cart is treated as already clear.
func (r *CartRepository) ClearCart(ctx context.Context, userID string) error {
	ref, err := r.carts.Ref(ctx, strings.TrimSpace(userID))
	if err != nil {
		return err
	}
	_, err = ref.Update(ctx, []firestore.Update{
		{Path: "items", Value: []cartItemDocument{}},
		{Path: "updatedAt", Value: r.now()},
	})
	if err != nil && pfirestore.IsNotFound(err) {
		return nil
	}
	return pfirestore.WrapError("carts.clear", err)
}
