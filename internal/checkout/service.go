package checkout

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/oakmere/storefront-backend/internal/cart"
	"github.com/oakmere/storefront-backend/internal/ledger"
	"github.com/oakmere/storefront-backend/internal/reservation"
	"github.com/oakmere/storefront-backend/pkg/db/models"
	"github.com/oakmere/storefront-backend/pkg/enums"
	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
	"github.com/oakmere/storefront-backend/pkg/logger"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service orchestrates the checkout half of the cart lifecycle. Holds are
// acquired by cart mutations, so starting a reservation only pins them under
// a TTL; committing converts them into physical deductions.
type Service interface {
	// StartReservation moves the cart to reserved under a fresh TTL.
	// Retrying before expiry just extends the TTL. An expired cart is
	// revived by re-acquiring every hold, all or nothing.
	StartReservation(ctx context.Context, sessionID string) (*models.Cart, error)
	// Commit finishes checkout after the payment round-trip. The TTL is
	// re-validated immediately before any ledger movement; a failed payment
	// releases every hold instead of committing.
	Commit(ctx context.Context, sessionID string, paymentSucceeded bool) (*models.Cart, error)
	// Release explicitly abandons a held reservation: the cart returns to
	// active with its holds intact and the TTL cleared. Releasing a cart
	// that holds no reservation is a no-op.
	Release(ctx context.Context, sessionID string) (*models.Cart, error)
}

// ServiceParams configure the checkout service.
type ServiceParams struct {
	Logger         *logger.Logger
	CartRepo       *cart.Repository
	DB             txRunner
	Reservations   reservation.Service
	ReservationTTL time.Duration
	MaxAttempts    int
}

type service struct {
	logg         *logger.Logger
	carts        *cart.Repository
	db           txRunner
	reservations reservation.Service
	ttl          time.Duration
	maxAttempts  int
	now          func() time.Time
}

// NewService builds the checkout service.
func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.CartRepo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation service required")
	}
	if params.ReservationTTL <= 0 {
		return nil, fmt.Errorf("reservation ttl must be positive")
	}
	attempts := params.MaxAttempts
	if attempts <= 0 {
		attempts = ledger.DefaultMaxAttempts
	}
	return &service{
		logg:         params.Logger,
		carts:        params.CartRepo,
		db:           params.DB,
		reservations: params.Reservations,
		ttl:          params.ReservationTTL,
		maxAttempts:  attempts,
		now:          time.Now,
	}, nil
}

func (s *service) StartReservation(ctx context.Context, sessionID string) (*models.Cart, error) {
	return s.run(ctx, sessionID, func(tx *gorm.DB, repo *cart.Repository, c *models.Cart) error {
		if len(c.Items) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "cart is empty")
		}
		switch c.Status {
		case enums.CartStatusActive, enums.CartStatusReserved:
			// Holds already live with the line items; only the TTL moves.
		case enums.CartStatusExpired:
			if err := s.reservations.ReserveAll(ctx, tx, holdsFor(c)); err != nil {
				return err
			}
		default:
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cart in state %s cannot start checkout", c.Status))
		}

		now := s.now().UTC()
		expiry := now.Add(s.ttl)
		c.Status = enums.CartStatusReserved
		c.ReservationExpiresAt = &expiry
		c.LastActivityAt = now
		return repo.Update(ctx, c)
	})
}

func (s *service) Commit(ctx context.Context, sessionID string, paymentSucceeded bool) (*models.Cart, error) {
	return s.run(ctx, sessionID, func(tx *gorm.DB, repo *cart.Repository, c *models.Cart) error {
		if c.Status != enums.CartStatusReserved {
			if c.Status == enums.CartStatusExpired {
				return pkgerrors.New(pkgerrors.CodeReservationExpired, "reservation expired; reserve again before committing")
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict,
				fmt.Sprintf("cart in state %s cannot be committed", c.Status))
		}

		now := s.now().UTC()
		// Payment round-trips take arbitrarily long; check the deadline at
		// the last possible moment. The sweep owns the actual cancellation.
		if c.ReservationExpiresAt == nil || !c.ReservationExpiresAt.After(now) {
			return pkgerrors.New(pkgerrors.CodeReservationExpired, "reservation expired; reserve again before committing")
		}

		if !paymentSucceeded {
			if err := s.reservations.ReleaseAll(ctx, tx, holdsFor(c)); err != nil {
				return err
			}
			// Expired models "lines without holds": the shopper revives the
			// cart by mutating it or reserving again.
			c.Status = enums.CartStatusExpired
			c.ReservationExpiresAt = nil
			c.LastActivityAt = now
			logCtx := s.logg.WithSessionID(ctx, c.SessionID)
			s.logg.Info(logCtx, "payment failed; reservation released")
			return repo.Update(ctx, c)
		}

		if err := s.reservations.CommitAll(ctx, tx, holdsFor(c)); err != nil {
			return err
		}
		c.Status = enums.CartStatusCommitted
		c.ReservationExpiresAt = nil
		c.LastActivityAt = now
		return repo.Update(ctx, c)
	})
}

func (s *service) Release(ctx context.Context, sessionID string) (*models.Cart, error) {
	return s.run(ctx, sessionID, func(tx *gorm.DB, repo *cart.Repository, c *models.Cart) error {
		if c.Status != enums.CartStatusReserved {
			// Nothing held; a repeated release stays idempotent.
			return nil
		}
		c.Status = enums.CartStatusActive
		c.ReservationExpiresAt = nil
		c.LastActivityAt = s.now().UTC()
		return repo.Update(ctx, c)
	})
}

func (s *service) run(ctx context.Context, sessionID string, fn func(tx *gorm.DB, repo *cart.Repository, c *models.Cart) error) (*models.Cart, error) {
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}

	var result *models.Cart
	err := ledger.RunWithRetry(ctx, s.maxAttempts, func() error {
		result = nil
		return s.db.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.carts.WithTx(tx)
			c, err := repo.FindBySession(ctx, sessionID)
			if err != nil {
				return err
			}
			if err := fn(tx, repo, c); err != nil {
				return err
			}
			result = c
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func holdsFor(c *models.Cart) []reservation.Request {
	requests := make([]reservation.Request, 0, len(c.Items))
	for _, item := range c.Items {
		requests = append(requests, reservation.Request{ProductID: item.ProductID, Qty: item.Qty})
	}
	return requests
}
