package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/oakmere/storefront-backend/api/middleware"
	"github.com/oakmere/storefront-backend/api/responses"
	"github.com/oakmere/storefront-backend/api/validators"
	checkoutsvc "github.com/oakmere/storefront-backend/internal/checkout"
	"github.com/oakmere/storefront-backend/pkg/db/models"
	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
	"github.com/oakmere/storefront-backend/pkg/logger"
)

// CheckoutReserve pins the cart's holds under a reservation TTL.
func CheckoutReserve(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := requireCheckoutSession(w, r, svc != nil, logg)
		if !ok {
			return
		}

		cart, err := svc.StartReservation(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newReserveResponse(cart))
	}
}

// CheckoutCommit finalizes the reservation after the payment round-trip.
func CheckoutCommit(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := requireCheckoutSession(w, r, svc != nil, logg)
		if !ok {
			return
		}

		var payload commitRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		cart, err := svc.Commit(r.Context(), sessionID, payload.PaymentSucceeded)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(cart))
	}
}

// CheckoutRelease abandons the reservation, returning the cart to active.
func CheckoutRelease(svc checkoutsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, ok := requireCheckoutSession(w, r, svc != nil, logg)
		if !ok {
			return
		}

		cart, err := svc.Release(r.Context(), sessionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newCartResponse(cart))
	}
}

func requireCheckoutSession(w http.ResponseWriter, r *http.Request, svcReady bool, logg *logger.Logger) (string, bool) {
	if !svcReady {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "checkout service unavailable"))
		return "", false
	}
	sessionID, ok := middleware.SessionIDFromContext(r.Context())
	if !ok {
		responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "session context missing"))
		return "", false
	}
	return sessionID, true
}

type commitRequest struct {
	PaymentSucceeded bool `json:"paymentSucceeded"`
}

type reserveResponse struct {
	ReservedItems []reservedItem `json:"reservedItems"`
	ExpiresAt     *time.Time     `json:"expiresAt,omitempty"`
}

type reservedItem struct {
	ProductID uuid.UUID `json:"productId"`
	Qty       int       `json:"qty"`
}

func newReserveResponse(cart *models.Cart) reserveResponse {
	items := make([]reservedItem, 0, len(cart.Items))
	for _, item := range cart.Items {
		items = append(items, reservedItem{ProductID: item.ProductID, Qty: item.Qty})
	}
	return reserveResponse{
		ReservedItems: items,
		ExpiresAt:     cart.ReservationExpiresAt,
	}
}
