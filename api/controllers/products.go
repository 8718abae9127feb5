package controllers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/oakmere/storefront-backend/api/responses"
	productsvc "github.com/oakmere/storefront-backend/internal/products"
	"github.com/oakmere/storefront-backend/pkg/db/models"
	pkgerrors "github.com/oakmere/storefront-backend/pkg/errors"
	"github.com/oakmere/storefront-backend/pkg/logger"
	"github.com/oakmere/storefront-backend/pkg/pagination"
)

// ProductList serves the paginated storefront catalog.
func ProductList(svc productsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "product service unavailable"))
			return
		}

		params := pagination.Params{Cursor: r.URL.Query().Get("cursor")}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid limit"))
				return
			}
			params.Limit = limit
		}

		page, err := svc.List(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newProductListResponse(page))
	}
}

// ProductDetail serves one active product with its live availability.
func ProductDetail(svc productsvc.Service, logg *logger.Logger) http.HandlerFunc {
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

		product, err := svc.GetDetail(r.Context(), productID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newProductResponse(product))
	}
}

type productResponse struct {
	ID          uuid.UUID `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Description *string   `json:"description,omitempty"`
	PriceCents  int       `json:"priceCents"`
	Available   int       `json:"available"`
	CreatedAt   time.Time `json:"createdAt"`
}

type productListResponse struct {
	Products   []productResponse `json:"products"`
	NextCursor string            `json:"nextCursor,omitempty"`
}

func newProductResponse(product *models.Product) productResponse {
	resp := productResponse{
		ID:          product.ID,
		SKU:         product.SKU,
		Name:        product.Name,
		Description: product.Description,
		PriceCents:  product.PriceCents,
		CreatedAt:   product.CreatedAt,
	}
	if product.Stock != nil {
		resp.Available = product.Stock.Available()
	}
	return resp
}

func newProductListResponse(page *productsvc.Page) productListResponse {
	items := make([]productResponse, 0, len(page.Products))
	for i := range page.Products {
		items = append(items, newProductResponse(&page.Products[i]))
	}
	return productListResponse{Products: items, NextCursor: page.NextCursor}
}
