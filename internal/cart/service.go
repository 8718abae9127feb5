package cart

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

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

// Service exposes the session cart operations. The cart doubles as the
// reservation holder: every line item of an active or reserved cart accounts
// for reserved units on its product, so item mutations and ledger mutations
// always travel in the same transaction.
type Service interface {
	Get(ctx context.Context, sessionID string) (*models.Cart, error)
	AddItem(ctx context.Context, sessionID string, productID uuid.UUID, qty int) (*models.Cart, error)
	UpdateItem(ctx context.Context, sessionID string, productID uuid.UUID, qty int) (*models.Cart, error)
	RemoveItem(ctx context.Context, sessionID string, productID uuid.UUID) (*models.Cart, error)
	Clear(ctx context.Context, sessionID string) (*models.Cart, error)
	ApplyDiscount(ctx context.Context, sessionID, code string) (*models.Cart, error)
}

// ServiceParams configure the cart service.
type ServiceParams struct {
	Logger       *logger.Logger
	Repo         *Repository
	DB           txRunner
	Ledger       ledger.Service
	Reservations reservation.Service
	MaxAttempts  int
}

type service struct {
	logg         *logger.Logger
	repo         *Repository
	db           txRunner
	ledger       ledger.Service
	reservations reservation.Service
	maxAttempts  int
	now          func() time.Time
}

// NewService builds the cart service.
func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("cart repository required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	if params.Reservations == nil {
		return nil, fmt.Errorf("reservation service required")
	}
	attempts := params.MaxAttempts
	if attempts <= 0 {
		attempts = ledger.DefaultMaxAttempts
	}
	return &service{
		logg:         params.Logger,
		repo:         params.Repo,
		db:           params.DB,
		ledger:       params.Ledger,
		reservations: params.Reservations,
		maxAttempts:  attempts,
		now:          time.Now,
	}, nil
}

// Get returns the session's cart, creating an empty active cart on first use.
func (s *service) Get(ctx context.Context, sessionID string) (*models.Cart, error) {
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}
	cart, err := s.repo.FindBySession(ctx, sessionID)
	if err == nil {
		return cart, nil
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		return nil, err
	}

	fresh := &models.Cart{
		SessionID:      sessionID,
		Status:         enums.CartStatusActive,
		LastActivityAt: s.now().UTC(),
	}
	if err := s.repo.Create(ctx, fresh); err != nil {
		return nil, err
	}
	return fresh, nil
}

func (s *service) AddItem(ctx context.Context, sessionID string, productID uuid.UUID, qty int) (*models.Cart, error) {
	if qty < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	return s.mutate(ctx, sessionID, func(tx *gorm.DB, repo *Repository, cart *models.Cart) error {
		product, err := repo.FindProduct(ctx, productID)
		if err != nil {
			return err
		}
		if !product.IsActive {
			return pkgerrors.New(pkgerrors.CodeNotFound, "product not available")
		}

		if _, err := s.ledger.Reserve(ctx, tx, productID, qty); err != nil {
			return s.remapShortfall(err, cart.ItemFor(productID))
		}

		if existing := cart.ItemFor(productID); existing != nil {
			existing.Qty += qty
			existing.LineSubtotalCents = existing.Qty * existing.UnitPriceCents
			return repo.UpsertItem(ctx, existing)
		}

		item := models.CartItem{
			CartID:            cart.ID,
			ProductID:         product.ID,
			ProductSKU:        product.SKU,
			Qty:               qty,
			UnitPriceCents:    product.PriceCents,
			LineSubtotalCents: qty * product.PriceCents,
		}
		if err := repo.UpsertItem(ctx, &item); err != nil {
			return err
		}
		cart.Items = append(cart.Items, item)
		return nil
	})
}

func (s *service) UpdateItem(ctx context.Context, sessionID string, productID uuid.UUID, qty int) (*models.Cart, error) {
	if qty <= 0 {
		return s.RemoveItem(ctx, sessionID, productID)
	}
	return s.mutate(ctx, sessionID, func(tx *gorm.DB, repo *Repository, cart *models.Cart) error {
		item := cart.ItemFor(productID)
		if item == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "item not in cart")
		}

		delta := qty - item.Qty
		switch {
		case delta > 0:
			if _, err := s.ledger.Reserve(ctx, tx, productID, delta); err != nil {
				return s.remapShortfall(err, item)
			}
		case delta < 0:
			if err := s.ledger.Release(ctx, tx, productID, -delta); err != nil {
				return err
			}
		}

		item.Qty = qty
		item.LineSubtotalCents = qty * item.UnitPriceCents
		return repo.UpsertItem(ctx, item)
	})
}

func (s *service) RemoveItem(ctx context.Context, sessionID string, productID uuid.UUID) (*models.Cart, error) {
	return s.mutate(ctx, sessionID, func(tx *gorm.DB, repo *Repository, cart *models.Cart) error {
		item := cart.ItemFor(productID)
		if item == nil {
			// Already gone, possibly dropped during revival. Removing it
			// again is harmless.
			return nil
		}
		// Release tolerates a product row deleted out from under the cart.
		if err := s.ledger.Release(ctx, tx, productID, item.Qty); err != nil {
			return err
		}
		if err := repo.DeleteItem(ctx, cart.ID, productID); err != nil {
			return err
		}
		dropItem(cart, productID)
		return nil
	})
}

func (s *service) Clear(ctx context.Context, sessionID string) (*models.Cart, error) {
	return s.mutate(ctx, sessionID, func(tx *gorm.DB, repo *Repository, cart *models.Cart) error {
		for _, item := range cart.Items {
			if err := s.ledger.Release(ctx, tx, item.ProductID, item.Qty); err != nil {
				return err
			}
		}
		if err := repo.DeleteItemsByCart(ctx, cart.ID); err != nil {
			return err
		}
		cart.Items = nil
		return nil
	})
}

func (s *service) ApplyDiscount(ctx context.Context, sessionID, code string) (*models.Cart, error) {
	return s.mutate(ctx, sessionID, func(tx *gorm.DB, repo *Repository, cart *models.Cart) error {
		if code == "" {
			cart.DiscountCode = nil
			return nil
		}
		discount, err := repo.FindDiscount(ctx, code)
		if err != nil {
			if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
				return pkgerrors.New(pkgerrors.CodeValidation, "unknown discount code")
			}
			return err
		}
		if !discount.IsActive {
			return pkgerrors.New(pkgerrors.CodeValidation, "discount code no longer active")
		}
		cart.DiscountCode = &discount.Code
		return nil
	})
}

// mutate loads (or creates) the session cart, brings it into a mutable state,
// applies fn and persists refreshed totals, all inside one transaction.
// Transient write conflicts restart the whole transaction.
func (s *service) mutate(ctx context.Context, sessionID string, fn func(tx *gorm.DB, repo *Repository, cart *models.Cart) error) (*models.Cart, error) {
	if sessionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "session id required")
	}

	var result *models.Cart
	err := ledger.RunWithRetry(ctx, s.maxAttempts, func() error {
		result = nil
		return s.db.WithTx(ctx, func(tx *gorm.DB) error {
			repo := s.repo.WithTx(tx)
			cart, err := s.loadOrCreate(ctx, repo, sessionID)
			if err != nil {
				return err
			}
			if err := s.prepareForMutation(ctx, tx, repo, cart); err != nil {
				return err
			}
			if err := fn(tx, repo, cart); err != nil {
				return err
			}

			cart.LastActivityAt = s.now().UTC()
			discount, err := s.appliedDiscount(ctx, repo, cart)
			if err != nil {
				return err
			}
			if err := RecomputeTotals(cart, discount); err != nil {
				return err
			}
			if err := repo.Update(ctx, cart); err != nil {
				return err
			}
			result = cart
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *service) loadOrCreate(ctx context.Context, repo *Repository, sessionID string) (*models.Cart, error) {
	cart, err := repo.FindBySession(ctx, sessionID)
	if err == nil {
		return cart, nil
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		return nil, err
	}
	cart = &models.Cart{
		SessionID:      sessionID,
		Status:         enums.CartStatusActive,
		LastActivityAt: s.now().UTC(),
	}
	if err := repo.Create(ctx, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// prepareForMutation normalizes the cart status before a shopper mutation.
// Expired carts are revived by re-acquiring every hold (all or nothing);
// committed and abandoned carts start a fresh shopping trip on the same
// session row.
func (s *service) prepareForMutation(ctx context.Context, tx *gorm.DB, repo *Repository, cart *models.Cart) error {
	switch cart.Status {
	case enums.CartStatusActive, enums.CartStatusReserved:
		return nil
	case enums.CartStatusExpired:
		if err := s.dropVanishedLines(ctx, tx, repo, cart); err != nil {
			return err
		}
		if err := s.reservations.ReserveAll(ctx, tx, holdsFor(cart)); err != nil {
			return err
		}
		cart.Status = enums.CartStatusActive
		cart.ReservationExpiresAt = nil
		logCtx := s.logg.WithSessionID(ctx, cart.SessionID)
		s.logg.Info(logCtx, "expired cart revived")
		return nil
	case enums.CartStatusCommitted, enums.CartStatusAbandoned:
		if err := repo.DeleteItemsByCart(ctx, cart.ID); err != nil {
			return err
		}
		cart.Items = nil
		cart.Status = enums.CartStatusActive
		cart.DiscountCode = nil
		cart.ReservationExpiresAt = nil
		cart.SyncFlags = nil
		return nil
	default:
		return pkgerrors.New(pkgerrors.CodeStateConflict,
			fmt.Sprintf("cart in state %s cannot be modified", cart.Status))
	}
}

// dropVanishedLines removes line items whose product was deleted while the
// cart sat expired. Those lines can never hold stock again, so keeping them
// would block revival for the rest of the cart.
func (s *service) dropVanishedLines(ctx context.Context, tx *gorm.DB, repo *Repository, cart *models.Cart) error {
	for _, item := range append([]models.CartItem(nil), cart.Items...) {
		_, err := s.ledger.Level(ctx, tx, item.ProductID)
		if err == nil {
			continue
		}
		if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
			return err
		}
		if err := repo.DeleteItem(ctx, cart.ID, item.ProductID); err != nil {
			return err
		}
		dropItem(cart, item.ProductID)
		logCtx := s.logg.WithSessionID(ctx, cart.SessionID)
		s.logg.Warn(logCtx, "dropped cart line for vanished product")
	}
	return nil
}

func (s *service) appliedDiscount(ctx context.Context, repo *Repository, cart *models.Cart) (*models.DiscountCode, error) {
	if cart.DiscountCode == nil {
		return nil, nil
	}
	discount, err := repo.FindDiscount(ctx, *cart.DiscountCode)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			s.logg.Warn(ctx, "applied discount code vanished; dropping it")
			cart.DiscountCode = nil
			return nil, nil
		}
		return nil, err
	}
	return discount, nil
}

// remapShortfall widens a ledger shortfall to line-level remediation: the
// shopper may still keep what the line already holds.
func (s *service) remapShortfall(err error, existing *models.CartItem) error {
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		return err
	}
	detail, ok := typed.Details().(ledger.ShortfallDetail)
	if !ok {
		return err
	}
	held := 0
	if existing != nil {
		held = existing.Qty
	}
	detail.MaxAllowed = held + detail.Available
	return pkgerrors.New(pkgerrors.CodeInsufficientStock, typed.Message()).WithDetails(detail)
}

func holdsFor(cart *models.Cart) []reservation.Request {
	requests := make([]reservation.Request, 0, len(cart.Items))
	for _, item := range cart.Items {
		requests = append(requests, reservation.Request{ProductID: item.ProductID, Qty: item.Qty})
	}
	return requests
}

func dropItem(cart *models.Cart, productID uuid.UUID) {
	kept := cart.Items[:0]
	for _, item := range cart.Items {
		if item.ProductID != productID {
			kept = append(kept, item)
		}
	}
	cart.Items = kept
}
