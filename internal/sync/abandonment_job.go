package sync

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/oakmere/storefront-backend/internal/reservation"
	"github.com/oakmere/storefront-backend/pkg/db/models"
	"github.com/oakmere/storefront-backend/pkg/enums"
	"github.com/oakmere/storefront-backend/pkg/logger"
)

const flagAbandoned = "inventory_sync:abandoned"

// AbandonmentJobParams configure the abandoned-cart pass.
type AbandonmentJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Repo         *Repository
	Reservations reservation.Service
	IdleTTL      time.Duration
	Retention    time.Duration
}

// NewAbandonmentJob builds the pass that abandons idle carts and prunes
// terminal carts past retention.
func NewAbandonmentJob(params AbandonmentJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("db runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("sync repository required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation service required")
	}
	if params.IdleTTL <= 0 {
		return nil, fmt.Errorf("idle ttl must be positive")
	}
	if params.Retention <= 0 {
		return nil, fmt.Errorf("retention must be positive")
	}
	return &abandonmentJob{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repo,
		reservations: params.Reservations,
		idleTTL:      params.IdleTTL,
		retention:    params.Retention,
		now:          time.Now,
	}, nil
}

type abandonmentJob struct {
	logg         *logger.Logger
	db           txRunner
	repo         *Repository
	reservations reservation.Service
	idleTTL      time.Duration
	retention    time.Duration
	now          func() time.Time
}

func (j *abandonmentJob) Name() string { return "abandoned-carts" }

func (j *abandonmentJob) Run(ctx context.Context) error {
	var errs []error
	if err := j.abandonIdle(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.pruneTerminal(ctx); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (j *abandonmentJob) abandonIdle(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.idleTTL)
	idle, err := j.repo.FindIdleCarts(ctx, cutoff)
	if err != nil {
		return err
	}

	var errs []error
	count := 0
	for _, cart := range idle {
		if err := j.abandonCart(ctx, cart, cutoff); err != nil {
			errs = append(errs, fmt.Errorf("cart %s: %w", cart.ID, err))
			continue
		}
		count++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"count": count, "failed": len(errs)})
	j.logg.Info(logCtx, "cart abandonment pass complete")
	return multierr.Combine(errs...)
}

func (j *abandonmentJob) abandonCart(ctx context.Context, stale models.Cart, cutoff time.Time) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := j.repo.WithTx(tx)
		cart, err := repo.FindCart(ctx, stale.ID)
		if err != nil {
			return err
		}
		if cart.Status.IsTerminal() || cart.LastActivityAt.After(cutoff) {
			return nil
		}

		// Expired carts already gave their holds back; releasing them again
		// would hand out units held by other shoppers.
		if cart.Status.HoldsStock() {
			if err := j.reservations.ReleaseAll(ctx, tx, holdsFor(cart)); err != nil {
				return err
			}
		}
		cart.Status = enums.CartStatusAbandoned
		cart.ReservationExpiresAt = nil
		appendFlag(cart, flagAbandoned)
		return repo.UpdateCart(ctx, cart)
	})
}

func (j *abandonmentJob) pruneTerminal(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	prunable, err := j.repo.FindPrunableCarts(ctx, cutoff)
	if err != nil {
		return err
	}

	var errs []error
	count := 0
	for _, cart := range prunable {
		err := j.db.WithTx(ctx, func(tx *gorm.DB) error {
			return j.repo.WithTx(tx).DeleteCart(ctx, cart.ID)
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("prune cart %s: %w", cart.ID, err))
			continue
		}
		count++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"count": count, "failed": len(errs)})
	j.logg.Info(logCtx, "cart retention pass complete")
	return multierr.Combine(errs...)
}
