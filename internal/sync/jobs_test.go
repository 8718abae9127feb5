package sync

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/oakmere/storefront-backend/internal/alerts"
	"github.com/oakmere/storefront-backend/internal/ledger"
	"github.com/oakmere/storefront-backend/internal/reservation"
	"github.com/oakmere/storefront-backend/pkg/db/models"
	"github.com/oakmere/storefront-backend/pkg/enums"
	"github.com/oakmere/storefront-backend/pkg/logger"
)

func TestExpiryJobReleasesDueReservations(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	product := env.seedStock(t, "tee", 10, 5)

	past := env.clock.now().UTC().Add(-time.Minute)
	future := env.clock.now().UTC().Add(20 * time.Minute)
	due := env.seedCart(t, "due", enums.CartStatusReserved, &past, line(product, 3))
	fresh := env.seedCart(t, "fresh", enums.CartStatusReserved, &future, line(product, 2))

	job := env.newExpiryJob(t)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	expired := env.loadCart(t, due)
	if expired.Status != enums.CartStatusExpired || expired.ReservationExpiresAt != nil {
		t.Fatalf("unexpected due cart: %+v", expired)
	}
	if !hasFlag(expired.SyncFlags, flagExpired) {
		t.Fatalf("expected expiry flag, got %v", expired.SyncFlags)
	}
	untouched := env.loadCart(t, fresh)
	if untouched.Status != enums.CartStatusReserved {
		t.Fatalf("fresh cart mutated: %+v", untouched)
	}
	// Only the due cart's 3 units returned.
	env.assertCounters(t, product, 10, 2)

	// Re-running is a no-op thanks to the status re-check and clamped releases.
	if err := job.Run(ctx); err != nil {
		t.Fatalf("second run: %v", err)
	}
	env.assertCounters(t, product, 10, 2)
}

func TestAbandonmentJobReleasesAndPrunes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	product := env.seedStock(t, "cap", 10, 4)

	idleCutoff := env.clock.now().UTC().Add(-25 * time.Hour)
	idleActive := env.seedCartAt(t, "idle-active", enums.CartStatusActive, nil, idleCutoff, line(product, 4))
	idleExpired := env.seedCartAt(t, "idle-expired", enums.CartStatusExpired, nil, idleCutoff, line(product, 2))
	recent := env.seedCart(t, "recent", enums.CartStatusActive, nil)
	pruned := env.seedCartAt(t, "old-committed", enums.CartStatusCommitted, nil, env.clock.now().UTC().Add(-200*time.Hour))

	job := env.newAbandonmentJob(t)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := env.loadCart(t, idleActive); got.Status != enums.CartStatusAbandoned {
		t.Fatalf("idle active cart not abandoned: %+v", got)
	}
	if got := env.loadCart(t, idleExpired); got.Status != enums.CartStatusAbandoned {
		t.Fatalf("idle expired cart not abandoned: %+v", got)
	}
	if got := env.loadCart(t, recent); got.Status != enums.CartStatusActive {
		t.Fatalf("recent cart mutated: %+v", got)
	}
	// Only the holding cart's 4 units were released; the expired cart's
	// lines were already released by the expiry pass.
	env.assertCounters(t, product, 10, 0)

	var count int64
	if err := env.db.Model(&models.Cart{}).Where("id = ?", pruned).Count(&count).Error; err != nil {
		t.Fatalf("count pruned: %v", err)
	}
	if count != 0 {
		t.Fatal("expected committed cart pruned after retention")
	}
}

func TestDriftJobTrimsOldestFirst(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	// Admin cut on-hand to 6 while carts hold 8.
	product := env.seedStock(t, "vinyl", 6, 8)

	older := env.seedCartAt(t, "older", enums.CartStatusActive, nil, env.clock.now().UTC().Add(-time.Hour), line(product, 5))
	env.setCreatedAt(t, older, env.clock.now().UTC().Add(-time.Hour))
	newer := env.seedCart(t, "newer", enums.CartStatusActive, nil, line(product, 3))

	job := env.newDriftJob(t, nil)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	// Drift of 2 comes entirely out of the oldest cart.
	olderCart := env.loadCart(t, older)
	if len(olderCart.Items) != 1 || olderCart.Items[0].Qty != 3 {
		t.Fatalf("unexpected older cart: %+v", olderCart.Items)
	}
	if !hasFlagPrefix(olderCart.SyncFlags, "inventory_sync:trimmed:") {
		t.Fatalf("expected trim flag, got %v", olderCart.SyncFlags)
	}
	if olderCart.SubtotalCents != 3*1000 {
		t.Fatalf("totals not recomputed: %+v", olderCart)
	}

	newerCart := env.loadCart(t, newer)
	if newerCart.Items[0].Qty != 3 || len(newerCart.SyncFlags) != 0 {
		t.Fatalf("newer cart should be untouched: %+v", newerCart)
	}
	env.assertCounters(t, product, 6, 6)
}

func TestDriftJobClampsResidualDrift(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	// Reserved units with no holding cart at all.
	product := env.seedStock(t, "ghost", 2, 5)

	recorder := &alertRecorder{}
	job := env.newDriftJob(t, recorder)
	if err := job.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	env.assertCounters(t, product, 2, 2)
	emitted := recorder.alerts()
	if len(emitted) != 1 || emitted[0].Kind != enums.AlertKindLedgerInvariant {
		t.Fatalf("expected invariant alert, got %+v", emitted)
	}
}

type testEnv struct {
	db    *gorm.DB
	logg  *logger.Logger
	clock *testClock
}

type testClock struct {
	current time.Time
}

func (c *testClock) now() time.Time { return c.current }

type testTxRunner struct {
	db *gorm.DB
}

func (r *testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
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

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := "file:sync_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Product{},
		&models.StockLevel{},
		&models.Cart{},
		&models.CartItem{},
		&models.DiscountCode{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &testEnv{
		db:    db,
		logg:  logger.New(logger.Options{ServiceName: "sync-test"}),
		clock: &testClock{current: time.Now()},
	}
}

func (e *testEnv) reservations(t *testing.T, emitter alerts.Emitter) (ledger.Service, reservation.Service) {
	t.Helper()
	if emitter == nil {
		emitter = alerts.Noop()
	}
	ledgerSvc, err := ledger.NewService(ledger.ServiceParams{Logger: e.logg, Alerts: emitter})
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	reservations, err := reservation.NewService(reservation.ServiceParams{
		Logger: e.logg,
		Ledger: ledgerSvc,
		Alerts: emitter,
	})
	if err != nil {
		t.Fatalf("new reservation: %v", err)
	}
	return ledgerSvc, reservations
}

func (e *testEnv) newExpiryJob(t *testing.T) Job {
	t.Helper()
	_, reservations := e.reservations(t, nil)
	job, err := NewExpiryJob(ExpiryJobParams{
		Logger:       e.logg,
		DB:           &testTxRunner{db: e.db},
		Repo:         NewRepository(e.db),
		Reservations: reservations,
	})
	if err != nil {
		t.Fatalf("new expiry job: %v", err)
	}
	job.(*expiryJob).now = e.clock.now
	return job
}

func (e *testEnv) newAbandonmentJob(t *testing.T) Job {
	t.Helper()
	_, reservations := e.reservations(t, nil)
	job, err := NewAbandonmentJob(AbandonmentJobParams{
		Logger:       e.logg,
		DB:           &testTxRunner{db: e.db},
		Repo:         NewRepository(e.db),
		Reservations: reservations,
		IdleTTL:      24 * time.Hour,
		Retention:    168 * time.Hour,
	})
	if err != nil {
		t.Fatalf("new abandonment job: %v", err)
	}
	job.(*abandonmentJob).now = e.clock.now
	return job
}

func (e *testEnv) newDriftJob(t *testing.T, recorder *alertRecorder) Job {
	t.Helper()
	var emitter alerts.Emitter = alerts.Noop()
	if recorder != nil {
		emitter = recorder
	}
	ledgerSvc, _ := e.reservations(t, emitter)
	job, err := NewDriftJob(DriftJobParams{
		Logger: e.logg,
		DB:     &testTxRunner{db: e.db},
		Repo:   NewRepository(e.db),
		Ledger: ledgerSvc,
		Alerts: emitter,
	})
	if err != nil {
		t.Fatalf("new drift job: %v", err)
	}
	job.(*driftJob).now = e.clock.now
	return job
}

type lineSpec struct {
	productID uuid.UUID
	qty       int
}

func line(productID uuid.UUID, qty int) lineSpec {
	return lineSpec{productID: productID, qty: qty}
}

func (e *testEnv) seedStock(t *testing.T, sku string, onHand, reserved int) uuid.UUID {
	t.Helper()
	product := models.Product{SKU: sku + "-" + uuid.NewString()[:8], Name: sku, PriceCents: 1000}
	if err := e.db.Create(&product).Error; err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if err := e.db.Create(&models.StockLevel{ProductID: product.ID, QuantityOnHand: onHand, ReservedQty: reserved}).Error; err != nil {
		t.Fatalf("seed stock: %v", err)
	}
	return product.ID
}

func (e *testEnv) seedCart(t *testing.T, sessionID string, status enums.CartStatus, expiry *time.Time, lines ...lineSpec) uuid.UUID {
	return e.seedCartAt(t, sessionID, status, expiry, e.clock.now().UTC(), lines...)
}

func (e *testEnv) seedCartAt(t *testing.T, sessionID string, status enums.CartStatus, expiry *time.Time, lastActivity time.Time, lines ...lineSpec) uuid.UUID {
	t.Helper()
	subtotal := 0
	for _, spec := range lines {
		subtotal += spec.qty * 1000
	}
	c := models.Cart{
		SessionID:            sessionID,
		Status:               status,
		ReservationExpiresAt: expiry,
		LastActivityAt:       lastActivity,
		SubtotalCents:        subtotal,
		TotalCents:           subtotal,
	}
	if err := e.db.Omit("Items").Create(&c).Error; err != nil {
		t.Fatalf("seed cart: %v", err)
	}
	for _, spec := range lines {
		item := models.CartItem{
			CartID:            c.ID,
			ProductID:         spec.productID,
			ProductSKU:        "sku",
			Qty:               spec.qty,
			UnitPriceCents:    1000,
			LineSubtotalCents: spec.qty * 1000,
		}
		if err := e.db.Create(&item).Error; err != nil {
			t.Fatalf("seed item: %v", err)
		}
	}
	return c.ID
}

func (e *testEnv) setCreatedAt(t *testing.T, cartID uuid.UUID, createdAt time.Time) {
	t.Helper()
	if err := e.db.Model(&models.Cart{}).Where("id = ?", cartID).Update("created_at", createdAt).Error; err != nil {
		t.Fatalf("set created_at: %v", err)
	}
}

func (e *testEnv) loadCart(t *testing.T, cartID uuid.UUID) *models.Cart {
	t.Helper()
	var c models.Cart
	if err := e.db.Preload("Items").First(&c, "id = ?", cartID).Error; err != nil {
		t.Fatalf("load cart: %v", err)
	}
	return &c
}

func (e *testEnv) assertCounters(t *testing.T, productID uuid.UUID, onHand, reserved int) {
	t.Helper()
	var level models.StockLevel
	if err := e.db.First(&level, "product_id = ?", productID).Error; err != nil {
		t.Fatalf("load stock level: %v", err)
	}
	if level.QuantityOnHand != onHand || level.ReservedQty != reserved {
		t.Fatalf("unexpected counters: %+v", level)
	}
}

func hasFlag(flags []string, want string) bool {
	for _, flag := range flags {
		if flag == want {
			return true
		}
	}
	return false
}

func hasFlagPrefix(flags []string, prefix string) bool {
	for _, flag := range flags {
		if strings.HasPrefix(flag, prefix) {
			return true
		}
	}
	return false
}
