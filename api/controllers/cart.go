package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oakmere/storefront-backend/api/middleware"
	"github.com/oakmere/storefront-backend/api/responses"
	"github.com/oakmere/storefront-backend/api/validators"
	cartsvc "github.com/oakmere/storefront-backend/internal/cart"
	"github.com/oakmere/storefront-backend/pkg/db/models"
	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
	"github.com/oakmere/storefront-backend/pkg/logger"
)

// CartGet returns the session cart, creating an empty one on first touch.
func CartGet(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := requireSession(w, r, svc != nil, logg)
		if !ok {
			return
		}

		cart, err := svc.Get(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(cart))
	}
}

// CartAddItem adds qty units of a product to the cart, reserving stock.
func CartAddItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := requireSession(w, r, svc != nil, logg)
		if !ok {
			return
		}

		var payload addItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cart, err := svc.AddItem(r.Context(), sessionID, payload.ProductID, payload.Qty)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, newCartResponse(cart))
	}
}

// CartUpdateItem sets the absolute quantity of an existing line item.
func CartUpdateItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := requireSession(w, r, svc != nil, logg)
		if !ok {
			return
		}

		productID, err := uuid.Parse(chi.URLParam(r, "productId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}

		var payload updateItemRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cart, err := svc.UpdateItem(r.Context(), sessionID, productID, payload.Qty)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(cart))
	}
}

// CartRemoveItem drops a line item and releases its hold.
func CartRemoveItem(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := requireSession(w, r, svc != nil, logg)
		if !ok {
			return
		}

		productID, err := uuid.Parse(chi.URLParam(r, "productId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid product id"))
			return
		}

		cart, err := svc.RemoveItem(r.Context(), sessionID, productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(cart))
	}
}

// CartClear empties the cart and releases every hold.
func CartClear(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := requireSession(w, r, svc != nil, logg)
		if !ok {
			return
		}

		cart, err := svc.Clear(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(cart))
	}
}

// CartApplyDiscount validates and applies a discount code to the cart.
func CartApplyDiscount(svc cartsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := requireSession(w, r, svc != nil, logg)
		if !ok {
			return
		}

		var payload discountRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cart, err := svc.ApplyDiscount(r.Context(), sessionID, payload.Code)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(cart))
	}
}

func requireSession(w http.ResponseWriter, r *http.Request, svcReady bool, logg *logger.Logger) (string, bool) {
	if !svcReady {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "cart service unavailable"))
		return "", false
	}
	sessionID, ok := middleware.SessionIDFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "session context missing"))
		return "", false
	}
	return sessionID, true
}

type addItemRequest struct {
	ProductID uuid.UUID `json:"productId" validate:"required"`
	Qty       int       `json:"qty" validate:"required,min=1"`
}

type updateItemRequest struct {
	Qty int `json:"qty" validate:"min=0"`
}

type discountRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type cartResponse struct {
	ID                   uuid.UUID          `json:"id"`
	SessionID            string             `json:"sessionId"`
	Status               string             `json:"status"`
	Items                []cartItemResponse `json:"items"`
	DiscountCode         *string            `json:"discountCode,omitempty"`
	DiscountCents        int                `json:"discountCents"`
	SubtotalCents        int                `json:"subtotalCents"`
	TotalCents           int                `json:"totalCents"`
	ReservationExpiresAt *time.Time         `json:"reservationExpiresAt,omitempty"`
	UpdatedAt            time.Time          `json:"updatedAt"`
}

type cartItemResponse struct {
	ProductID         uuid.UUID `json:"productId"`
	ProductSKU        string    `json:"productSku"`
	Qty               int       `json:"qty"`
	UnitPriceCents    int       `json:"unitPriceCents"`
	LineSubtotalCents int       `json:"lineSubtotalCents"`
}

func newCartResponse(cart *models.Cart) cartResponse {
	items := make([]cartItemResponse, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, cartItemResponse{
			ProductID:         item.ProductID,
			ProductSKU:        item.ProductSKU,
			Qty:               item.Qty,
			UnitPriceCents:    item.UnitPriceCents,
			LineSubtotalCents: item.LineSubtotalCents,
		})
	}

	return cartResponse{
		ID:                   cart.ID,
		SessionID:            cart.SessionID,
		Status:               string(cart.Status),
		Items:                items,
		DiscountCode:         cart.DiscountCode,
		DiscountCents:        cart.DiscountCents,
		SubtotalCents:        cart.SubtotalCents,
		TotalCents:           cart.TotalCents,
		ReservationExpiresAt: cart.ReservationExpiresAt,
		UpdatedAt:            cart.UpdatedAt,
	}
}
