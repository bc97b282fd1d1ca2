package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// writeError responds with {"code": code, "message": msg}, the same body the
// middleware chain uses for 429 and 500.
func writeError(w http.ResponseWriter, code int, msg string) {
	httpmiddleware.WriteError(w, code, msg)
}

// writeOrderError maps domain errors to client responses. Anything unmapped
// is logged and answered with 500 and the fixed internal message.
func writeOrderError(w http.ResponseWriter, r *http.Request, err error, internal string) {
	if code, ok := mapOrderError(err); ok {
		writeError(w, code, err.Error())
		return
	}
	zctx.From(r.Context()).Error(internal, zap.Error(err))
	writeError(w, http.StatusInternalServerError, internal)
}

// mapOrderError returns the client status for known domain errors.
func mapOrderError(err error) (int, bool) {
	var (
		qtyErr        *order.InvalidQuantityError
		resQtyErr     *inventory.InvalidQuantityError
		addrErr       *order.InvalidShippingAddressError
		stockErr      *product.InsufficientStockError
		notFoundErr   *inventory.ProductNotFoundError
		statusErr     *order.InvalidStatusError
		transitionErr *order.IllegalTransitionError
	)
	switch {
	case errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrMissingPaymentMethod),
		errors.As(err, &qtyErr),
		errors.As(err, &resQtyErr),
		errors.As(err, &addrErr),
		errors.As(err, &stockErr),
		errors.As(err, &statusErr),
		errors.As(err, &transitionErr):
		return http.StatusBadRequest, true
	case errors.As(err, &notFoundErr),
		errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound, true
	default:
		return 0, false
	}
}
