package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/oakmere/storefront-backend/internal/alerts"
	"github.com/oakmere/storefront-backend/internal/cart"
	"github.com/oakmere/storefront-backend/internal/ledger"
	"github.com/oakmere/storefront-backend/pkg/db/models"
	"github.com/oakmere/storefront-backend/pkg/enums"
	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
	"github.com/oakmere/storefront-backend/pkg/logger"
)

// DriftJobParams configure the stock drift pass.
type DriftJobParams struct {
	Logger *logger.Logger
	DB     txRunner
	Repo   *Repository
	Ledger ledger.Service
	Alerts alerts.Emitter
}

// NewDriftJob builds the pass that restores reserved <= quantity_on_hand
// after out-of-band stock edits. Offending carts are trimmed oldest first;
// drift that no cart explains is clamped and alerted as an invariant breach.
func NewDriftJob(params DriftJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("sync repository required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	emitter := params.Alerts
	if emitter == nil {
		emitter = alerts.Noop()
	}
	return &driftJob{
		logg:   params.Logger,
		db:     params.DB,
		repo:   params.Repo,
		ledger: params.Ledger,
		alerts: emitter,
		now:    time.Now,
	}, nil
}

type driftJob struct {
	logg   *logger.Logger
	db     txRunner
	repo   *Repository
	ledger ledger.Service
	alerts alerts.Emitter
	now    func() time.Time
}

func (j *driftJob) Name() string { return "stock-drift" }

func (j *driftJob) Run(ctx context.Context) error {
	drifting, err := j.repo.FindDriftingLevels(ctx)
	if err != nil {
		return err
	}

	var errs []error
	count := 0
	for _, level := range drifting {
		if err := j.reconcileProduct(ctx, level.ProductID); err != nil {
			errs = append(errs, fmt.Errorf("product %s: %w", level.ProductID, err))
			continue
		}
		count++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"count": count, "failed": len(errs)})
	j.logg.Info(logCtx, "stock drift pass complete")
	return multierr.Combine(errs...)
}

func (j *driftJob) reconcileProduct(ctx context.Context, productID uuid.UUID) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := j.repo.WithTx(tx)
		level, err := j.ledger.Level(ctx, tx, productID)
		if err != nil {
			return err
		}
		drift := level.ReservedQty - level.QuantityOnHand
		if drift <= 0 {
			return nil
		}

		sku := j.productSKU(ctx, tx, productID)
		holders, err := repo.FindHolders(ctx, productID)
		if err != nil {
			return err
		}

		for i := range holders {
			if drift <= 0 {
				break
			}
			trimmed, err := j.trimCart(ctx, tx, repo, &holders[i], productID, sku, drift)
			if err != nil {
				return err
			}
			drift -= trimmed
		}

		if drift > 0 {
			// Reserved units nobody holds: counters drifted outside a sync
			// window, which is a bug signal, not routine reconciliation.
			result := tx.Exec(
				`UPDATE stock_levels SET reserved_qty = quantity_on_hand, updated_at = CURRENT_TIMESTAMP
				 WHERE product_id = ? AND reserved_qty > quantity_on_hand`,
				productID,
			)
			if result.Error != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, result.Error, "clamping residual drift")
			}
			j.alerts.Emit(ctx, alerts.Alert{
				Kind:      enums.AlertKindLedgerInvariant,
				ProductID: productID,
				SKU:       sku,
				Detail:    fmt.Sprintf("%d reserved units had no holding cart", drift),
			})
		}
		return nil
	})
}

// trimCart shrinks (or removes) the cart's line for the product and hands
// the trimmed units back. Returns how much drift it resolved.
func (j *driftJob) trimCart(ctx context.Context, tx *gorm.DB, repo *Repository, holder *models.Cart, productID uuid.UUID, sku string, drift int) (int, error) {
	item := holder.ItemFor(productID)
	if item == nil {
		return 0, nil
	}
	trim := drift
	if trim > item.Qty {
		trim = item.Qty
	}

	if err := j.ledger.Release(ctx, tx, productID, trim); err != nil {
		return 0, err
	}

	if trim == item.Qty {
		if err := repo.DeleteItem(ctx, item.ID); err != nil {
			return 0, err
		}
		dropLine(holder, item.ID)
	} else {
		item.Qty -= trim
		item.LineSubtotalCents = item.Qty * item.UnitPriceCents
		if err := repo.UpdateItem(ctx, item); err != nil {
			return 0, err
		}
	}

	discount, err := j.appliedDiscount(ctx, repo, holder)
	if err != nil {
		return 0, err
	}
	if err := cart.RecomputeTotals(holder, discount); err != nil {
		return 0, err
	}
	appendFlag(holder, "inventory_sync:trimmed:"+sku)
	if err := repo.UpdateCart(ctx, holder); err != nil {
		return 0, err
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"session_id": holder.SessionID,
		"product_id": productID,
		"trimmed":    trim,
	})
	j.logg.Warn(logCtx, "cart trimmed to reconcile stock drift")
	return trim, nil
}

func (j *driftJob) appliedDiscount(ctx context.Context, repo *Repository, holder *models.Cart) (*models.DiscountCode, error) {
	if holder.DiscountCode == nil {
		return nil, nil
	}
	discount, err := repo.FindDiscount(ctx, *holder.DiscountCode)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			holder.DiscountCode = nil
			return nil, nil
		}
		return nil, err
	}
	return discount, nil
}

func (j *driftJob) productSKU(ctx context.Context, tx *gorm.DB, productID uuid.UUID) string {
	var product models.Product
	if err := tx.WithContext(ctx).Where("id = ?", productID).First(&product).Error; err != nil {
		return productID.String()
	}
	return product.SKU
}

func dropLine(cart *models.Cart, itemID uuid.UUID) {
	kept := cart.Items[:0]
	for _, item := range cart.Items {
		if item.ID != itemID {
			kept = append(kept, item)
		}
	}
	cart.Items = kept
}
