package reservation

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/oakmere/storefront-backend/internal/alerts"
	"github.com/oakmere/storefront-backend/internal/ledger"
	"github.com/oakmere/storefront-backend/pkg/db/models"
	"github.com/oakmere/storefront-backend/pkg/enums"
	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
	"github.com/oakmere/storefront-backend/pkg/logger"
)

// Request names one product hold to acquire, release or commit.
type Request struct {
	ProductID uuid.UUID
	Qty       int
}

// Service bundles multi-item hold operations on top of the stock ledger.
// All three operations run inside the caller's transaction.
type Service interface {
	// ReserveAll acquires every requested hold or none of them. On any
	// shortfall the holds taken so far are released again and the error
	// carries the full shortfall list, so a cart-sized request nets zero
	// ledger movement when it cannot be satisfied completely. A product
	// that vanished since the request was built counts as a shortfall of
	// its full quantity, not a hard failure.
	ReserveAll(ctx context.Context, tx *gorm.DB, requests []Request) error
	// ReleaseAll returns every hold. Releases are clamped, so releasing a
	// hold that an expiry sweep already returned is harmless.
	ReleaseAll(ctx context.Context, tx *gorm.DB, requests []Request) error
	// CommitAll converts every hold into a physical deduction and fires
	// low-stock and out-of-stock alerts for products that crossed their
	// thresholds.
	CommitAll(ctx context.Context, tx *gorm.DB, requests []Request) error
}

// ServiceParams configure the reservation service.
type ServiceParams struct {
	Logger *logger.Logger
	Ledger ledger.Service
	Alerts alerts.Emitter
}

type service struct {
	logg   *logger.Logger
	ledger ledger.Service
	alerts alerts.Emitter
}

// NewService builds the reservation service.
func NewService(params ServiceParams) (Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	emitter := params.Alerts
	if emitter == nil {
		emitter = alerts.Noop()
	}
	return &service{logg: params.Logger, ledger: params.Ledger, alerts: emitter}, nil
}

func (s *service) ReserveAll(ctx context.Context, tx *gorm.DB, requests []Request) error {
	if len(requests) == 0 {
		return nil
	}
	for _, req := range requests {
		if req.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "reserve quantity must be positive")
		}
	}

	// Ascending product-id order keeps concurrent multi-item reservations
	// from deadlocking each other.
	ordered := append([]Request(nil), requests...)
	sort.Slice(ordered, func(i, j int) bool {
		return bytes.Compare(ordered[i].ProductID[:], ordered[j].ProductID[:]) < 0
	})

	var (
		reserved   []Request
		shortfalls []ledger.ShortfallDetail
	)
	for _, req := range ordered {
		if len(shortfalls) > 0 {
			// Past the first shortfall the call is already doomed; keep
			// evaluating read-only so the caller sees every problem at once.
			if detail, err := s.probeShortfall(ctx, tx, req); err != nil {
				s.releaseReserved(ctx, tx, reserved)
				return err
			} else if detail != nil {
				shortfalls = append(shortfalls, *detail)
			}
			continue
		}

		_, err := s.ledger.Reserve(ctx, tx, req.ProductID, req.Qty)
		if err == nil {
			reserved = append(reserved, req)
			continue
		}
		typed := pkgerrors.As(err)
		if typed == nil {
			s.releaseReserved(ctx, tx, reserved)
			return err
		}
		switch typed.Code() {
		case pkgerrors.CodeInsufficientStock:
			if detail, ok := typed.Details().(ledger.ShortfallDetail); ok {
				shortfalls = append(shortfalls, detail)
			} else {
				shortfalls = append(shortfalls, ledger.ShortfallDetail{ProductID: req.ProductID, Requested: req.Qty})
			}
		case pkgerrors.CodeNotFound:
			// A product deleted out from under the request reads as a
			// shortfall of its full quantity, same as probeShortfall.
			shortfalls = append(shortfalls, ledger.ShortfallDetail{ProductID: req.ProductID, Requested: req.Qty})
		default:
			s.releaseReserved(ctx, tx, reserved)
			return err
		}
	}

	if len(shortfalls) == 0 {
		return nil
	}

	s.releaseReserved(ctx, tx, reserved)
	return pkgerrors.New(pkgerrors.CodeInsufficientStock,
		fmt.Sprintf("%d of %d items short on stock", len(shortfalls), len(requests))).
		WithDetails(shortfalls)
}

func (s *service) ReleaseAll(ctx context.Context, tx *gorm.DB, requests []Request) error {
	for _, req := range requests {
		if err := s.ledger.Release(ctx, tx, req.ProductID, req.Qty); err != nil {
			return err
		}
	}
	return nil
}

func (s *service) CommitAll(ctx context.Context, tx *gorm.DB, requests []Request) error {
	for _, req := range requests {
		level, err := s.ledger.Commit(ctx, tx, req.ProductID, req.Qty)
		if err != nil {
			return err
		}
		s.alertOnThreshold(ctx, tx, req.ProductID, level)
	}
	return nil
}

// probeShortfall checks availability without mutating the ledger.
func (s *service) probeShortfall(ctx context.Context, tx *gorm.DB, req Request) (*ledger.ShortfallDetail, error) {
	level, err := s.ledger.Level(ctx, tx, req.ProductID)
	if err != nil {
		if typed := pkgerrors.As(err); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			return &ledger.ShortfallDetail{ProductID: req.ProductID, Requested: req.Qty}, nil
		}
		return nil, err
	}
	available := level.Available()
	if available < 0 {
		available = 0
	}
	if available >= req.Qty {
		return nil, nil
	}
	return &ledger.ShortfallDetail{
		ProductID:  req.ProductID,
		Requested:  req.Qty,
		Available:  available,
		MaxAllowed: available,
	}, nil
}

func (s *service) releaseReserved(ctx context.Context, tx *gorm.DB, reserved []Request) {
	for _, req := range reserved {
		if err := s.ledger.Release(ctx, tx, req.ProductID, req.Qty); err != nil {
			s.logg.Error(ctx, "compensating release failed", err)
		}
	}
}

func (s *service) alertOnThreshold(ctx context.Context, tx *gorm.DB, productID uuid.UUID, level *models.StockLevel) {
	var product models.Product
	if err := tx.WithContext(ctx).Where("id = ?", productID).First(&product).Error; err != nil {
		s.logg.Error(ctx, "loading product for stock alert", err)
		return
	}
	switch {
	case level.QuantityOnHand == 0:
		s.alerts.Emit(ctx, alerts.Alert{
			Kind:      enums.AlertKindOutOfStock,
			ProductID: productID,
			SKU:       product.SKU,
			Available: 0,
			Threshold: product.LowStockThreshold,
			Detail:    fmt.Sprintf("%s is out of stock", product.SKU),
		})
	case level.QuantityOnHand <= product.LowStockThreshold:
		s.alerts.Emit(ctx, alerts.Alert{
			Kind:      enums.AlertKindLowStock,
			ProductID: productID,
			SKU:       product.SKU,
			Available: level.Available(),
			Threshold: product.LowStockThreshold,
			Detail:    fmt.Sprintf("%s fell to %d units", product.SKU, level.QuantityOnHand),
		})
	}
}
