package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/auth"
)

// PlaceOrder handles POST /api/orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	u, _ := auth.UserFrom(ctx)

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req, err := decodePlaceOrder(body)
	if err != nil {
		zctx.From(ctx).Debug("Decode order request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.UserID = u.ID

	view, err := h.orders.PlaceOrder(ctx, req)
	if err != nil {
		writeOrderError(w, r, err, "Failed to create order")
		return
	}
	writeJSON(w, http.StatusCreated, encodeOrder(view))
}

// ListMyOrders handles GET /api/orders/myorders.
func (h *Handler) ListMyOrders(w http.ResponseWriter, r *http.Request) {
	u, _ := auth.UserFrom(r.Context())

	views, err := h.orders.ListForUser(r.Context(), u.ID)
	if err != nil {
		writeOrderError(w, r, err, "Failed to fetch orders")
		return
	}
	writeJSON(w, http.StatusOK, encodeOrders(views))
}

// ListOrders handles GET /api/orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	views, err := h.orders.ListAll(r.Context())
	if err != nil {
		writeOrderError(w, r, err, "Failed to fetch orders")
		return
	}
	writeJSON(w, http.StatusOK, encodeOrders(views))
}

// UpdateOrderStatus handles PUT /api/orders/{id}/status.
func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	status, err := decodeStatusUpdate(body)
	if err != nil {
		zctx.From(ctx).Debug("Decode status request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	view, err := h.orders.AdvanceStatus(ctx, r.PathValue("id"), status)
	if err != nil {
		writeOrderError(w, r, err, "Failed to update order status")
		return
	}
	writeJSON(w, http.StatusOK, encodeOrder(view))
}
