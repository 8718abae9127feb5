package ledger

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oakmere/storefront-backend/internal/alerts"
	"github.com/oakmere/storefront-backend/pkg/db/models"
	"github.com/oakmere/storefront-backend/pkg/enums"
	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
	"github.com/oakmere/storefront-backend/pkg/logger"
)

// ShortfallDetail is attached to INSUFFICIENT_STOCK errors so clients can
// render remediation hints.
type ShortfallDetail struct {
	ProductID  uuid.UUID `json:"productId"`
	Requested  int       `json:"requested"`
	Available  int       `json:"available"`
	MaxAllowed int       `json:"maxAllowed"`
}

// Service mutates per-product stock counters. Every mutation is a single
// guarded UPDATE, so the invariant 0 <= reserved_qty <= quantity_on_hand
// holds after each statement without row locks held across reads.
type Service interface {
	Reserve(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) (*models.StockLevel, error)
	Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error
	Commit(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) (*models.StockLevel, error)
	Level(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (*models.StockLevel, error)
}

// ServiceParams configure the ledger service.
type ServiceParams struct {
	Logger *logger.Logger
	Alerts alerts.Emitter
}

type service struct {
	logg   *logger.Logger
	alerts alerts.Emitter
}

// NewService builds the stock ledger service.
func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	emitter := params.Alerts
	if emitter == nil {
		emitter = alerts.Noop()
	}
	return &service{logg: params.Logger, alerts: emitter}, nil
}

// Reserve claims qty units for a cart. The guard compares against the
// available headroom, so two concurrent reservations can never oversell.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) (*models.StockLevel, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reserve quantity must be positive")
	}

	result := tx.Exec(
		`UPDATE stock_levels
		 SET reserved_qty = reserved_qty + ?, updated_at = CURRENT_TIMESTAMP
		 WHERE product_id = ? AND quantity_on_hand - reserved_qty >= ?`,
		qty, productID, qty,
	)
	if result.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "reserving stock")
	}
	if result.RowsAffected == 0 {
		level, err := s.Level(ctx, tx, productID)
		if err != nil {
			return nil, err
		}
		available := level.Available()
		if available < 0 {
			available = 0
		}
		return nil, pkgerrors.New(pkgerrors.CodeInsufficientStock,
			fmt.Sprintf("requested %d units, %d available", qty, available)).
			WithDetails(ShortfallDetail{
				ProductID:  productID,
				Requested:  qty,
				Available:  available,
				MaxAllowed: available,
			})
	}

	return s.Level(ctx, tx, productID)
}

// Release returns qty reserved units to the available pool. The decrement is
// clamped at zero, which makes double-release and release-after-expiry-sweep
// idempotent. A missing stock row (product deleted mid-flight) is a logged
// anomaly, not an error.
func (s *service) Release(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	if qty <= 0 {
		return nil
	}

	result := tx.Exec(
		`UPDATE stock_levels
		 SET reserved_qty = CASE WHEN reserved_qty > ? THEN reserved_qty - ? ELSE 0 END,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE product_id = ?`,
		qty, qty, productID,
	)
	if result.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "releasing stock")
	}
	if result.RowsAffected == 0 {
		logCtx := s.logg.WithFields(ctx, map[string]any{
			"product_id": productID,
			"qty":        qty,
		})
		s.logg.Warn(logCtx, "release for missing stock row ignored")
	}
	return nil
}

// Commit converts qty reserved units into a physical deduction. The guard
// requires both counters to cover qty; a zero-row result here means the
// ledger has drifted, which is a bug signal: the row is clamped back to a
// consistent state, an alert fires and the caller gets LEDGER_INVARIANT.
func (s *service) Commit(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) (*models.StockLevel, error) {
	if qty <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "commit quantity must be positive")
	}

	result := tx.Exec(
		`UPDATE stock_levels
		 SET quantity_on_hand = quantity_on_hand - ?, reserved_qty = reserved_qty - ?,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE product_id = ? AND reserved_qty >= ? AND quantity_on_hand >= ?`,
		qty, qty, productID, qty, qty,
	)
	if result.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "committing stock")
	}
	if result.RowsAffected == 0 {
		return nil, s.handleCommitViolation(ctx, tx, productID, qty)
	}

	return s.Level(ctx, tx, productID)
}

// Level reads the current counters for a product.
func (s *service) Level(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (*models.StockLevel, error) {
	var level models.StockLevel
	err := tx.WithContext(ctx).Where("product_id = ?", productID).First(&level).Error
	if err == gorm.ErrRecordNotFound {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "stock level not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading stock level")
	}
	return &level, nil
}

func (s *service) handleCommitViolation(ctx context.Context, tx *gorm.DB, productID uuid.UUID, qty int) error {
	level, err := s.Level(ctx, tx, productID)
	if err != nil {
		return err
	}

	// Clamp to the nearest consistent state so subsequent operations see
	// sane counters even though this commit is lost.
	clamped := tx.Exec(
		`UPDATE stock_levels
		 SET reserved_qty = CASE WHEN reserved_qty > quantity_on_hand THEN quantity_on_hand ELSE reserved_qty END,
		     updated_at = CURRENT_TIMESTAMP
		 WHERE product_id = ?`,
		productID,
	)
	if clamped.Error != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, clamped.Error, "clamping stock counters")
	}

	detail := fmt.Sprintf("commit of %d units impossible (on_hand=%d reserved=%d)",
		qty, level.QuantityOnHand, level.ReservedQty)
	s.alerts.Emit(ctx, alerts.Alert{
		Kind:      enums.AlertKindLedgerInvariant,
		ProductID: productID,
		Available: level.Available(),
		Detail:    detail,
	})
	return pkgerrors.New(pkgerrors.CodeLedgerInvariant, detail)
}
