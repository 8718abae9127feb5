package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oakmere/storefront-backend/api/controllers"
	"github.com/oakmere/storefront-backend/api/middleware"
	cartsvc "github.com/oakmere/storefront-backend/internal/cart"
	checkoutsvc "github.com/oakmere/storefront-backend/internal/checkout"
	productsvc "github.com/oakmere/storefront-backend/internal/products"
	"github.com/oakmere/storefront-backend/pkg/config"
	"github.com/oakmere/storefront-backend/pkg/logger"
	"github.com/oakmere/storefront-backend/pkg/redis"
)

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient *redis.Client,
	productService productsvc.Service,
	cartService cartsvc.Service,
	checkoutService checkoutsvc.Service,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
	)

	var cachePinger controllers.Pinger
	var idemStore redis.IdempotencyStore
	if redisClient != nil {
		cachePinger = redisClient
		idemStore = redisClient
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, dbP, cachePinger, logg))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/products", func(r chi.Router) {
			r.Get("/", controllers.ProductList(productService, logg))
			r.Get("/{productId}", controllers.ProductDetail(productService, logg))
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireSession(logg))
			r.Use(middleware.Idempotency(idemStore, logg))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", controllers.CartGet(cartService, logg))
				r.Delete("/", controllers.CartClear(cartService, logg))
				r.Post("/items", controllers.CartAddItem(cartService, logg))
				r.Put("/items/{productId}", controllers.CartUpdateItem(cartService, logg))
				r.Delete("/items/{productId}", controllers.CartRemoveItem(cartService, logg))
				r.Post("/discount", controllers.CartApplyDiscount(cartService, logg))
			})

			r.Route("/checkout", func(r chi.Router) {
				r.Post("/reserve", controllers.CheckoutReserve(checkoutService, logg))
				r.Delete("/reserve", controllers.CheckoutRelease(checkoutService, logg))
				r.Post("/commit", controllers.CheckoutCommit(checkoutService, logg))
			})
		})
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Put("/products/{productId}/stock", controllers.AdminAdjustStock(productService, logg))
	})

	return r
}
