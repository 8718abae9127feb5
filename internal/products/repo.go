package products

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oakmere/storefront-backend/pkg/db/models"
	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
	"github.com/oakmere/storefront-backend/pkg/pagination"
)

// Repository exposes catalog reads and the admin stock write.
type Repository struct {
	db *gorm.DB
}

// NewRepository constructs a product repository bound to the provided DB.
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

// ListActive returns a page of active products, newest first.
func (r *Repository) ListActive(ctx context.Context, cursor *pagination.Cursor, limit int) ([]models.Product, error) {
	query := r.db.WithContext(ctx).
		Preload("Stock").
		Where("is_active = ?", true).
		Order("created_at DESC, id DESC").
		Limit(limit)
	if cursor != nil {
		query = query.Where(
			"(created_at < ?) OR (created_at = ? AND id < ?)",
			cursor.CreatedAt, cursor.CreatedAt, cursor.ID,
		)
	}

	var products []models.Product
	if err := query.Find(&products).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing products")
	}
	return products, nil
}

// FindByID loads one product with its stock counters.
func (r *Repository) FindByID(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Preload("Stock").
		Where("id = ?", productID).
		First(&product).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading product")
	}
	return &product, nil
}

// SetQuantityOnHand writes the absolute on-hand count for a product,
// creating the stock row if the product never had one.
func (r *Repository) SetQuantityOnHand(ctx context.Context, productID uuid.UUID, quantity int) error {
	result := r.db.WithContext(ctx).Exec(
		`UPDATE stock_levels SET quantity_on_hand = ?, updated_at = CURRENT_TIMESTAMP WHERE product_id = ?`,
		quantity, productID,
	)
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "setting stock quantity")
	}
	if result.RowsAffected > 0 {
		return nil
	}
	level := models.StockLevel{ProductID: productID, QuantityOnHand: quantity}
	if err := r.db.WithContext(ctx).Create(&level).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating stock row")
	}
	return nil
}
