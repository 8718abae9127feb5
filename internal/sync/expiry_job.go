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

const flagExpired = "inventory_sync:expired"

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ExpiryJobParams configure the reservation expiry pass.
type ExpiryJobParams struct {
	Logger       *logger.Logger
	DB           txRunner
	Repo         *Repository
	Reservations reservation.Service
}

// NewExpiryJob builds the pass that releases reservations whose TTL elapsed.
func NewExpiryJob(params ExpiryJobParams) (Job, error) {
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
	return &expiryJob{
		logg:         params.Logger,
		db:           params.DB,
		repo:         params.Repo,
		reservations: params.Reservations,
		now:          time.Now,
	}, nil
}

type expiryJob struct {
	logg         *logger.Logger
	db           txRunner
	repo         *Repository
	reservations reservation.Service
	now          func() time.Time
}

func (j *expiryJob) Name() string { return "reservation-expiry" }

func (j *expiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC()
	due, err := j.repo.FindExpiredReservations(ctx, cutoff)
	if err != nil {
		return err
	}

	var errs []error
	count := 0
	for _, cart := range due {
		if err := j.expireCart(ctx, cart, cutoff); err != nil {
			errs = append(errs, fmt.Errorf("cart %s: %w", cart.ID, err))
			continue
		}
		count++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"count": count, "failed": len(errs)})
	j.logg.Info(logCtx, "reservation expiry pass complete")
	return multierr.Combine(errs...)
}

func (j *expiryJob) expireCart(ctx context.Context, stale models.Cart, cutoff time.Time) error {
	return j.db.WithTx(ctx, func(tx *gorm.DB) error {
		repo := j.repo.WithTx(tx)
		cart, err := repo.FindCart(ctx, stale.ID)
		if err != nil {
			return err
		}
		// The shopper may have committed or re-reserved since the query ran.
		if cart.Status != enums.CartStatusReserved ||
			cart.ReservationExpiresAt == nil ||
			cart.ReservationExpiresAt.After(cutoff) {
			return nil
		}

		if err := j.reservations.ReleaseAll(ctx, tx, holdsFor(cart)); err != nil {
			return err
		}
		cart.Status = enums.CartStatusExpired
		cart.ReservationExpiresAt = nil
		appendFlag(cart, flagExpired)
		return repo.UpdateCart(ctx, cart)
	})
}

func holdsFor(cart *models.Cart) []reservation.Request {
	requests := make([]reservation.Request, 0, len(cart.Items))
	for _, item := range cart.Items {
		requests = append(requests, reservation.Request{ProductID: item.ProductID, Qty: item.Qty})
	}
	return requests
}

func appendFlag(cart *models.Cart, flag string) {
	for _, existing := range cart.SyncFlags {
		if existing == flag {
			return
		}
	}
	cart.SyncFlags = append(cart.SyncFlags, flag)
}
