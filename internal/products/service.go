package products

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oakmere/storefront-backend/internal/ledger"
	"github.com/oakmere/storefront-backend/pkg/db/models"
	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
	"github.com/oakmere/storefront-backend/pkg/logger"
	"github.com/oakmere/storefront-backend/pkg/pagination"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Page is one slice of the catalog listing.
type Page struct {
	Products   []models.Product
	NextCursor string
}

// Service exposes the storefront catalog plus the admin stock edit.
type Service interface {
	List(ctx context.Context, params pagination.Params) (*Page, error)
	GetDetail(ctx context.Context, productID uuid.UUID) (*models.Product, error)
	// AdjustStock sets the absolute on-hand quantity. The write is
	// unconditional: it may leave reserved above on-hand, which the
	// stock-drift sync pass detects and reconciles.
	AdjustStock(ctx context.Context, productID uuid.UUID, quantity int) (*models.StockLevel, error)
}

// ServiceParams configure the product service.
type ServiceParams struct {
	Logger *logger.Logger
	Repo   *Repository
	DB     txRunner
	Ledger ledger.Service
}

type service struct {
	logg   *logger.Logger
	repo   *Repository
	db     txRunner
	ledger ledger.Service
}

// NewService builds the product service.
func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("product repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	return &service{
		logg:   params.Logger,
		repo:   params.Repo,
		db:     params.DB,
		ledger: params.Ledger,
	}, nil
}

func (s *service) List(ctx context.Context, params pagination.Params) (*Page, error) {
	cursor, err := pagination.ParseCursor(params.Cursor)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
	}
	limit := pagination.NormalizeLimit(params.Limit)

	products, err := s.repo.ListActive(ctx, cursor, pagination.LimitWithBuffer(params.Limit))
	if err != nil {
		return nil, err
	}

	page := &Page{Products: products}
	if len(products) > limit {
		page.Products = products[:limit]
		last := page.Products[limit-1]
		page.NextCursor = pagination.EncodeCursor(pagination.Cursor{
			CreatedAt: last.CreatedAt,
			ID:        last.ID,
		})
	}
	return page, nil
}

func (s *service) GetDetail(ctx context.Context, productID uuid.UUID) (*models.Product, error) {
	product, err := s.repo.FindByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if !product.IsActive {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	}
	return product, nil
}

func (s *service) AdjustStock(ctx context.Context, productID uuid.UUID, quantity int) (*models.StockLevel, error) {
	if quantity < 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must not be negative")
	}

	var level *models.StockLevel
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.FindByID(ctx, productID); err != nil {
			return err
		}
		if err := repo.SetQuantityOnHand(ctx, productID, quantity); err != nil {
			return err
		}
		updated, err := s.ledger.Level(ctx, tx, productID)
		if err != nil {
			return err
		}
		level = updated
		return nil
	})
	if err != nil {
		return nil, err
	}

	if level.ReservedQty > level.QuantityOnHand {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"product_id": productID,
			"on_hand":    level.QuantityOnHand,
			"reserved":   level.ReservedQty,
		})
		s.logg.Warn(logCtx, "stock edit left reserved above on-hand; drift pass will reconcile")
	}
	return level, nil
}
