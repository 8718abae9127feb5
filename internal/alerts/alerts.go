package alerts

import (
	"context"

	"github.com/google/uuid"

	"github.com/oakmere/storefront-backend/pkg/enums"
	"github.com/oakmere/storefront-backend/pkg/logger"
	"github.com/oakmere/storefront-backend/pkg/metrics"
)

// Alert describes a stock condition worth telling operations about.
type Alert struct {
	Kind      enums.AlertKind
	ProductID uuid.UUID
	SKU       string
	Available int
	Threshold int
	Detail    string
}

// Emitter receives stock alerts. Emission is fire-and-forget: callers never
// fail a transaction because an alert could not be delivered.
type Emitter interface {
	Emit(ctx context.Context, alert Alert)
}

// LogEmitterParams configure the default emitter.
type LogEmitterParams struct {
	Logger  *logger.Logger
	Metrics *metrics.StockAlertMetrics
}

type logEmitter struct {
	logg    *logger.Logger
	metrics *metrics.StockAlertMetrics
}

// NewLogEmitter builds the default emitter, which logs each alert and bumps
// the prometheus counter for its kind.
func NewLogEmitter(params LogEmitterParams) Emitter {
	return &logEmitter{logg: params.Logger, metrics: params.Metrics}
}

func (e *logEmitter) Emit(ctx context.Context, alert Alert) {
	if e.metrics != nil {
		e.metrics.IncEmitted(alert.Kind.String())
	}
	if e.logg == nil {
		return
	}
	logCtx := e.logg.WithFields(ctx, map[string]any{
		"alert_kind": alert.Kind.String(),
		"product_id": alert.ProductID,
		"sku":        alert.SKU,
		"available":  alert.Available,
		"threshold":  alert.Threshold,
	})
	switch alert.Kind {
	case enums.AlertKindLedgerInvariant:
		e.logg.Error(logCtx, "stock ledger invariant violated: "+alert.Detail, nil)
	default:
		e.logg.Warn(logCtx, "stock alert: "+alert.Detail)
	}
}

// Noop returns an emitter that drops everything. Useful in tests.
func Noop() Emitter {
	return noopEmitter{}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, Alert) {}
