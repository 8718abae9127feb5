package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oakmere/storefront-backend/api/responses"
	"github.com/oakmere/storefront-backend/api/validators"
	productsvc "github.com/oakmere/storefront-backend/internal/products"
	"github.com/oakmere/storefront-backend/pkg/db/models"
	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
	"github.com/oakmere/storefront-backend/pkg/logger"
)

// AdminAdjustStock sets the absolute on-hand quantity for a product.
func AdminAdjustStock(svc productsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}

		productID, err := uuid.Parse(chi.URLParam(r, "productId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}

		var payload adjustStockRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		level, err := svc.AdjustStock(r.Context(), productID, payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newStockLevelResponse(level))
	}
}

type adjustStockRequest struct {
	Quantity int `json:"quantity" validate:"min=0"`
}

type stockLevelResponse struct {
	ProductID      uuid.UUID `json:"productId"`
	QuantityOnHand int       `json:"quantityOnHand"`
	ReservedQty    int       `json:"reservedQty"`
	Available      int       `json:"available"`
}

func newStockLevelResponse(level *models.StockLevel) stockLevelResponse {
	return stockLevelResponse{
		ProductID:      level.ProductID,
		QuantityOnHand: level.QuantityOnHand,
		ReservedQty:    level.ReservedQty,
		Available:      level.Available(),
	}
}
