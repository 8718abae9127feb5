package sync

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oakmere/storefront-backend/pkg/db/models"
	"github.com/oakmere/storefront-backend/pkg/enums"
	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
)

// batchLimit caps how many carts a single pass touches; whatever is left
// rolls over to the next tick.
const batchLimit = 200

// Repository holds the reconciliation queries shared by the sync jobs.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a sync repository bound to the provided DB.
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

// FindExpiredReservations returns reserved carts whose TTL has elapsed.
func (r *Repository) FindExpiredReservations(ctx context.Context, cutoff time.Time) ([]models.Cart, error) {
	var carts []models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("status = ? AND reservation_expires_at <= ?", enums.CartStatusReserved, cutoff).
		Order("reservation_expires_at ASC").
		Limit(batchLimit).
		Find(&carts).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "querying expired reservations")
	}
	return carts, nil
}

// FindIdleCarts returns non-terminal carts with no shopper activity since
// the cutoff.
func (r *Repository) FindIdleCarts(ctx context.Context, cutoff time.Time) ([]models.Cart, error) {
	var carts []models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items").
		Where("status IN ? AND last_activity_at <= ?",
			[]enums.CartStatus{enums.CartStatusActive, enums.CartStatusReserved, enums.CartStatusExpired},
			cutoff).
		Order("last_activity_at ASC").
		Limit(batchLimit).
		Find(&carts).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "querying idle carts")
	}
	return carts, nil
}

// FindPrunableCarts returns terminal carts whose retention window has passed.
func (r *Repository) FindPrunableCarts(ctx context.Context, cutoff time.Time) ([]models.Cart, error) {
	var carts []models.Cart
	err := r.db.WithContext(ctx).
		Where("status IN ? AND last_activity_at <= ?",
			[]enums.CartStatus{enums.CartStatusCommitted, enums.CartStatusAbandoned},
			cutoff).
		Order("last_activity_at ASC").
		Limit(batchLimit).
		Find(&carts).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "querying prunable carts")
	}
	return carts, nil
}

// FindCart reloads one cart with items for a per-cart transaction.
func (r *Repository) FindCart(ctx context.Context, cartID uuid.UUID) (*models.Cart, error) {
	var cart models.Cart
	err := r.db.WithContext(ctx).Preload("Items").Where("id = ?", cartID).First(&cart).Error
	if err == gorm.ErrRecordNotFound {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "cart not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading cart")
	}
	return &cart, nil
}

// UpdateCart persists the cart's own columns.
func (r *Repository) UpdateCart(ctx context.Context, cart *models.Cart) error {
	if err := r.db.WithContext(ctx).Omit("Items").Save(cart).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating cart")
	}
	return nil
}

// DeleteCart removes a cart and its line items.
func (r *Repository) DeleteCart(ctx context.Context, cartID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting cart items")
	}
	if err := r.db.WithContext(ctx).Where("id = ?", cartID).Delete(&models.Cart{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting cart")
	}
	return nil
}

// FindDriftingLevels returns stock rows where admin edits pushed reserved
// above on-hand.
func (r *Repository) FindDriftingLevels(ctx context.Context) ([]models.StockLevel, error) {
	var levels []models.StockLevel
	err := r.db.WithContext(ctx).
		Where("reserved_qty > quantity_on_hand").
		Limit(batchLimit).
		Find(&levels).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "querying drifting stock")
	}
	return levels, nil
}

// FindHolders returns the carts currently holding units of the product,
// oldest first.
func (r *Repository) FindHolders(ctx context.Context, productID uuid.UUID) ([]models.Cart, error) {
	var carts []models.Cart
	err := r.db.WithContext(ctx).
		Preload("Items").
		Joins("JOIN cart_items ON cart_items.cart_id = carts.id").
		Where("cart_items.product_id = ? AND carts.status IN ?",
			productID,
			[]enums.CartStatus{enums.CartStatusActive, enums.CartStatusReserved}).
		Order("carts.created_at ASC").
		Find(&carts).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "querying stock holders")
	}
	return carts, nil
}

// UpdateItem persists one line item.
func (r *Repository) UpdateItem(ctx context.Context, item *models.CartItem) error {
	if err := r.db.WithContext(ctx).Save(item).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating cart item")
	}
	return nil
}

// DeleteItem removes one line item.
func (r *Repository) DeleteItem(ctx context.Context, itemID uuid.UUID) error {
	if err := r.db.WithContext(ctx).Where("id = ?", itemID).Delete(&models.CartItem{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting cart item")
	}
	return nil
}

// FindDiscount loads the discount applied to a trimmed cart so its totals
// can be recomputed faithfully.
func (r *Repository) FindDiscount(ctx context.Context, code string) (*models.DiscountCode, error) {
	var discount models.DiscountCode
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&discount).Error
	if err == gorm.ErrRecordNotFound {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "discount code not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading discount code")
	}
	return &discount, nil
}
