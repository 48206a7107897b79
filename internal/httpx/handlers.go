package httpx

import (
	"context"

	"github.com/ariefcatur/go-stock-engine/internal/cart"
	"github.com/ariefcatur/go-stock-engine/internal/catalog"
	"github.com/ariefcatur/go-stock-engine/internal/checkout"
	"github.com/ariefcatur/go-stock-engine/internal/orders"
	"github.com/ariefcatur/go-stock-engine/internal/payments"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// OrderCache is the Redis fast path used by the order endpoints. Failures
// are logged and the request falls back to Postgres.
type OrderCache interface {
	ClaimIdempotencyKey(ctx context.Context, userID, key string) (orderID string, claimed bool, err error)
	CompleteIdempotencyKey(ctx context.Context, userID, key, orderID string) error
	ReleaseIdempotencyKey(ctx context.Context, userID, key string) error
	StatusView(ctx context.Context, orderID string) (*orders.StatusView, bool, error)
	PutStatusView(ctx context.Context, v orders.StatusView) error
	InvalidateStatus(ctx context.Context, orderID string) error
}

type Handlers struct {
	Catalog  *catalog.Service
	Cart     *cart.Service
	Checkout *checkout.Service
	Payments *payments.Service
	Cache    OrderCache
	Log      *zap.Logger
}

func (h *Handlers) Register(r chi.Router) {
	r.Get("/products", h.listProducts)

	// Provider callbacks carry no user identity.
	r.Post("/payments/webhook", h.paymentWebhook)
	r.Get("/payments/webhook", h.paymentReturn)

	r.Group(func(r chi.Router) {
		r.Use(requireUser)

		r.With(requireAdmin).Post("/products", h.createProduct)
		r.Post("/inventory/check-stock", h.checkStock)

		r.Get("/cart", h.getCart)
		r.Put("/cart/items", h.setCartItem)
		r.Post("/cart/items", h.addCartItem)
		r.Delete("/cart/items/{productID}", h.removeCartItem)

		r.Post("/orders", h.createOrder)
		r.Get("/orders/{id}", h.getOrder)
		r.Get("/orders/{id}/status", h.getOrderStatus)
		r.Post("/orders/{id}/cancel", h.cancelOrder)

		r.Post("/payments/initiate", h.initiatePayment)
		r.Get("/payments/verify", h.verifyPayment)
		r.Post("/payments/cancel", h.cancelPayment)
	})
}
