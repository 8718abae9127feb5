package cart

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oakmere/storefront-backend/pkg/db/models"
	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
)

// Repository exposes persistence operations for cart aggregates.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a cart repository bound to the provided DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// WithTx scopes the repository to the provided transaction.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{db: tx}
}

// FindBySession loads the session's cart with its line items.
func (r *Repository) FindBySession(ctx context.Context, sessionID string) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("session_id = ?", sessionID).
		First(&cart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading cart")
	}
	return &cart, nil
}

// Create inserts a new cart row.
func (r *Repository) Create(ctx context.Context, cart *models.Cart) error {
	if err := r.db.WithContext(ctx).Omit("Items").Create(cart).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating cart")
	}
	return nil
}

// Update persists the cart's own columns. Line items are managed through the
// item methods, never through association writes.
func (r *Repository) Update(ctx context.Context, cart *models.Cart) error {
	if err := r.db.WithContext(ctx).Omit("Items").Save(cart).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating cart")
	}
	return nil
}

// UpsertItem inserts or updates one line item.
func (r *Repository) UpsertItem(ctx context.Context, item *models.CartItem) error {
	if err := r.db.WithContext(ctx).Save(item).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "saving cart item")
	}
	return nil
}

// DeleteItem removes the line holding the given product.
func (r *Repository) DeleteItem(ctx context.Context, cartID, productID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Where("cart_id = ? AND product_id = ?", cartID, productID).
		Delete(&models.CartItem{}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting cart item")
	}
	return nil
}

// DeleteItemsByCart removes every line item of the cart.
func (r *Repository) DeleteItemsByCart(ctx context.Context, cartID uuid.UUID) error {
	err := r.db.WithContext(ctx).
		Where("cart_id = ?", cartID).
		Delete(&models.CartItem{}).Error
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clearing cart items")
	}
	return nil
}

// FindProduct loads a catalog product for snapshotting into a line item.
func (r *Repository) FindProduct(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).Where("id = ?", productID).First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading product")
	}
	return &product, nil
}

// FindDiscount loads an active discount code.
func (r *Repository) FindDiscount(ctx context.Context, code string) (*models.DiscountCode, error) {
	var discount models.DiscountCode
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&discount).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "discount code not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading discount code")
	}
	return &discount, nil
}
