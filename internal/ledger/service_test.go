package ledger

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oakmere/storefront-backend/internal/alerts"
	"github.com/oakmere/storefront-backend/pkg/db/models"
	"github.com/oakmere/storefront-backend/pkg/enums"
	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
	"github.com/oakmere/storefront-backend/pkg/logger"
)

func TestReserveGuardsAvailability(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, nil)
	ctx := context.Background()
	product := seedStock(t, db, 5, 0)

	level, err := svc.Reserve(ctx, db, product, 3)
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if level.QuantityOnHand != 5 || level.ReservedQty != 3 {
		t.Fatalf("unexpected level after reserve: %+v", level)
	}

	_, err = svc.Reserve(ctx, db, product, 3)
	if err == nil {
		t.Fatal("expected shortfall")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeInsufficientStock {
		t.Fatalf("unexpected error: %v", err)
	}
	detail, ok := typed.Details().(ShortfallDetail)
	if !ok {
		t.Fatalf("expected shortfall detail, got %T", typed.Details())
	}
	if detail.Requested != 3 || detail.Available != 2 || detail.MaxAllowed != 2 {
		t.Fatalf("unexpected detail: %+v", detail)
	}

	// The failed reserve must not have touched the counters.
	level, err = svc.Level(ctx, db, product)
	if err != nil {
		t.Fatalf("level: %v", err)
	}
	if level.ReservedQty != 3 {
		t.Fatalf("failed reserve mutated counters: %+v", level)
	}
}

func TestReserveExactRemainder(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, nil)
	ctx := context.Background()
	product := seedStock(t, db, 4, 2)

	level, err := svc.Reserve(ctx, db, product, 2)
	if err != nil {
		t.Fatalf("reserve remainder: %v", err)
	}
	if level.Available() != 0 {
		t.Fatalf("expected zero availability, got %+v", level)
	}
}

func TestReserveMissingProduct(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, nil)

	_, err := svc.Reserve(context.Background(), db, uuid.New(), 1)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReleaseClampsAtZero(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, nil)
	ctx := context.Background()
	product := seedStock(t, db, 10, 2)

	if err := svc.Release(ctx, db, product, 5); err != nil {
		t.Fatalf("release: %v", err)
	}
	level, err := svc.Level(ctx, db, product)
	if err != nil {
		t.Fatalf("level: %v", err)
	}
	if level.ReservedQty != 0 || level.QuantityOnHand != 10 {
		t.Fatalf("expected clamped release, got %+v", level)
	}

	// Double release stays a no-op.
	if err := svc.Release(ctx, db, product, 5); err != nil {
		t.Fatalf("double release: %v", err)
	}
}

func TestReleaseMissingProductIsNoop(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, nil)

	if err := svc.Release(context.Background(), db, uuid.New(), 3); err != nil {
		t.Fatalf("expected no-op, got %v", err)
	}
}

func TestCommitDeductsBothCounters(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, nil)
	ctx := context.Background()
	product := seedStock(t, db, 8, 3)

	level, err := svc.Commit(ctx, db, product, 3)
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if level.QuantityOnHand != 5 || level.ReservedQty != 0 {
		t.Fatalf("unexpected level after commit: %+v", level)
	}
}

func TestCommitViolationClampsAndAlerts(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	recorder := &alertRecorder{}
	svc := newTestService(t, recorder)
	ctx := context.Background()
	// Admin edit pushed reserved above on-hand.
	product := seedStock(t, db, 2, 4)

	_, err := svc.Commit(ctx, db, product, 4)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeLedgerInvariant {
		t.Fatalf("unexpected error: %v", err)
	}

	level, err := svc.Level(ctx, db, product)
	if err != nil {
		t.Fatalf("level: %v", err)
	}
	if level.ReservedQty != level.QuantityOnHand {
		t.Fatalf("expected clamped counters, got %+v", level)
	}

	emitted := recorder.alerts()
	if len(emitted) != 1 || emitted[0].Kind != enums.AlertKindLedgerInvariant {
		t.Fatalf("expected one invariant alert, got %+v", emitted)
	}
}

func TestRunWithRetryStopsOnNonTransient(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RunWithRetry(context.Background(), 3, func() error {
		calls++
		return pkgerrors.New(pkgerrors.CodeValidation, "bad input")
	})
	if calls != 1 {
		t.Fatalf("expected single attempt, got %d", calls)
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunWithRetryExhaustsConflicts(t *testing.T) {
	t.Parallel()

	calls := 0
	err := RunWithRetry(context.Background(), 3, func() error {
		calls++
		return pkgerrors.New(pkgerrors.CodeConflict, "write clash")
	})
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeConflict {
		t.Fatalf("unexpected error: %v", err)
	}
}

type alertRecorder struct {
	mu   sync.Mutex
	seen []alerts.Alert
}

func (r *alertRecorder) Emit(_ context.Context, alert alerts.Alert) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, alert)
}

func (r *alertRecorder) alerts() []alerts.Alert {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]alerts.Alert(nil), r.seen...)
}

func newTestService(t *testing.T, emitter alerts.Emitter) Service {
	t.Helper()
	if emitter == nil {
		emitter = alerts.Noop()
	}
	svc, err := NewService(ServiceParams{
		Logger: logger.New(logger.Options{ServiceName: "ledger-test"}),
		Alerts: emitter,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func seedStock(t *testing.T, db *gorm.DB, onHand, reserved int) uuid.UUID {
	t.Helper()
	product := models.Product{SKU: "sku-" + uuid.NewString()[:8], Name: "test product", PriceCents: 1000}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	level := models.StockLevel{ProductID: product.ID, QuantityOnHand: onHand, ReservedQty: reserved}
	if err := db.Create(&level).Error; err != nil {
		t.Fatalf("seed stock level: %v", err)
	}
	return product.ID
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:ledger_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Product{}, &models.StockLevel{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
