package products

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oakmere/storefront-backend/internal/alerts"
	"github.com/oakmere/storefront-backend/internal/ledger"
	"github.com/oakmere/storefront-backend/pkg/db/models"
	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
	"github.com/oakmere/storefront-backend/pkg/logger"
	"github.com/oakmere/storefront-backend/pkg/pagination"
)

func TestListPaginatesActiveProducts(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		seedProduct(t, db, base.Add(time.Duration(i)*time.Minute), true)
	}
	seedProduct(t, db, base.Add(time.Hour), false)

	page, err := svc.List(ctx, pagination.Params{Limit: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(page.Products) != 3 || page.NextCursor == "" {
		t.Fatalf("unexpected first page: %d items, cursor %q", len(page.Products), page.NextCursor)
	}

	rest, err := svc.List(ctx, pagination.Params{Limit: 3, Cursor: page.NextCursor})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(rest.Products) != 2 || rest.NextCursor != "" {
		t.Fatalf("unexpected second page: %d items, cursor %q", len(rest.Products), rest.NextCursor)
	}

	seen := map[uuid.UUID]bool{}
	for _, p := range append(page.Products, rest.Products...) {
		if !p.IsActive {
			t.Fatalf("inactive product listed: %+v", p)
		}
		if seen[p.ID] {
			t.Fatalf("product %s appeared twice", p.ID)
		}
		seen[p.ID] = true
	}
}

func TestGetDetailHidesInactive(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()

	active := seedProduct(t, db, time.Now().UTC(), true)
	inactive := seedProduct(t, db, time.Now().UTC(), false)

	product, err := svc.GetDetail(ctx, active)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if product.Stock == nil {
		t.Fatal("expected stock preloaded")
	}

	_, err = svc.GetDetail(ctx, inactive)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAdjustStockSetsAbsoluteQuantity(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	product := seedProduct(t, db, time.Now().UTC(), true)

	level, err := svc.AdjustStock(ctx, product, 42)
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if level.QuantityOnHand != 42 {
		t.Fatalf("unexpected quantity: %+v", level)
	}

	_, err = svc.AdjustStock(ctx, product, -1)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeValidation {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = svc.AdjustStock(ctx, uuid.New(), 5)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAdjustStockMayUndercutReserved(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	svc := newTestService(t, db)
	ctx := context.Background()
	product := seedProduct(t, db, time.Now().UTC(), true)

	if err := db.Model(&models.StockLevel{}).Where("product_id = ?", product).
		Updates(map[string]any{"quantity_on_hand": 10, "reserved_qty": 6}).Error; err != nil {
		t.Fatalf("seed counters: %v", err)
	}

	level, err := svc.AdjustStock(ctx, product, 2)
	if err != nil {
		t.Fatalf("adjust below reserved: %v", err)
	}
	if level.QuantityOnHand != 2 || level.ReservedQty != 6 {
		t.Fatalf("expected representable drift, got %+v", level)
	}
}

type testTxRunner struct {
	db *gorm.DB
}

func (r *testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestService(t *testing.T, db *gorm.DB) Service {
	t.Helper()
	logg := logger.New(logger.Options{ServiceName: "products-test"})
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{Logger: logg, Alerts: alerts.Noop()})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	svc, err := NewService(ServiceParams{
		Logger: logg,
		Repo:   NewRepository(db),
		DB:     &testTxRunner{db: db},
		Ledger: ledgerSvc,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func seedProduct(t *testing.T, db *gorm.DB, createdAt time.Time, active bool) uuid.UUID {
	t.Helper()
	product := models.Product{
		SKU:        "sku-" + uuid.NewString()[:8],
		Name:       "product",
		PriceCents: 1000,
		IsActive:   active,
		CreatedAt:  createdAt,
	}
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if err := db.Create(&models.StockLevel{ProductID: product.ID, QuantityOnHand: 3}).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return product.ID
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:products_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.Product{}, &models.StockLevel{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
