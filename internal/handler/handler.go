// Package handler exposes the order API over HTTP.
package handler

import (
	"net/http"

	"github.com/xenking/storefront/internal/domain/order"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

// Handler serves the order endpoints, delegating business logic to the
// order service.
type Handler struct {
	orders *order.Service
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(orders *order.Service) *Handler {
	return &Handler{orders: orders}
}

// Register mounts the API routes on mux behind sec.
func (h *Handler) Register(mux *http.ServeMux, sec *SecurityHandler) {
	mux.Handle("POST /api/orders", sec.User(http.HandlerFunc(h.PlaceOrder)))
	mux.Handle("GET /api/orders/myorders", sec.User(http.HandlerFunc(h.ListMyOrders)))
	mux.Handle("GET /api/orders", sec.Admin(http.HandlerFunc(h.ListOrders)))
	mux.Handle("PUT /api/orders/{id}/status", sec.Admin(http.HandlerFunc(h.UpdateOrderStatus)))
}
