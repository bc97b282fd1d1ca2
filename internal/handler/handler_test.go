package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/internal/memstore"
	"github.com/xenking/storefront/internal/token"
)

// --- Test server ---

type testServer struct {
	mux     *http.ServeMux
	catalog *memstore.Catalog
	orders  *memstore.Orders
	tokens  *token.Manager
}

func newTestServer(t *testing.T, policy order.StatusPolicy, products ...product.Product) *testServer {
	t.Helper()

	catalog := memstore.NewCatalog(products...)
	orders := memstore.NewOrders()
	users := memstore.NewUsers(
		user.User{ID: "jane", Name: "Jane Doe", Email: "jane@example.com"},
		user.User{ID: "john", Name: "John Smith", Email: "john@example.com"},
		user.User{ID: "admin", Name: "Admin", Email: "admin@example.com", IsAdmin: true},
	)

	reserver, err := inventory.NewReserver(catalog, noop.NewMeterProvider().Meter("test"))
	require.NoError(t, err)
	svc := order.NewService(reserver, orders, users, catalog, policy)

	tokens := token.NewManager([]byte("test-secret"))
	mux := http.NewServeMux()
	NewHandler(svc).Register(mux, NewSecurityHandler(tokens, users))

	return &testServer{mux: mux, catalog: catalog, orders: orders, tokens: tokens}
}

func (s *testServer) do(t *testing.T, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		raw, err := s.tokens.Issue(userID, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+raw)
	}
	rec := httptest.NewRecorder()
	s.mux.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) stock(t *testing.T, id string) int {
	t.Helper()
	p, err := s.catalog.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

// --- Response shapes ---

type orderResponse struct {
	ID   string `json:"id"`
	User *struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
	} `json:"user"`
	OrderItems []struct {
		Product *struct {
			ID    string `json:"id"`
			Name  string `json:"name"`
			Image string `json:"image"`
		} `json:"product"`
		Name     string  `json:"name"`
		Quantity int     `json:"quantity"`
		Price    float64 `json:"price"`
	} `json:"orderItems"`
	ShippingAddress struct {
		Address    string `json:"address"`
		City       string `json:"city"`
		PostalCode string `json:"postalCode"`
		Country    string `json:"country"`
	} `json:"shippingAddress"`
	PaymentMethod string    `json:"paymentMethod"`
	TotalPrice    float64   `json:"totalPrice"`
	Status        string    `json:"status"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// --- Helpers ---

func newProduct(id, name, price string, stock int) product.Product {
	return product.Product{
		ID:    id,
		Name:  name,
		Image: "/images/" + id + ".jpg",
		Price: decimal.RequireFromString(price),
		Stock: stock,
	}
}

const address = `"shippingAddress": {"address": "1 Main St", "city": "Springfield", "postalCode": "12345", "country": "US"}`

func orderBody(items string) string {
	return `{"orderItems": [` + items + `], ` + address + `, "paymentMethod": "PayPal"}`
}

// --- Scenarios ---

func TestPlaceOrder_ConcurrentLastUnits(t *testing.T) {
	s := newTestServer(t, order.PolicyStrict, newProduct("p", "Widget", "10", 2))

	var (
		wg    sync.WaitGroup
		codes = make([]int, 2)
		msgs  = make([]string, 2)
	)
	for i, buyer := range []string{"jane", "john"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := s.do(t, http.MethodPost, "/api/orders", buyer, orderBody(`{"product": "p", "quantity": 2}`))
			codes[i] = rec.Code
			msgs[i] = rec.Body.String()
		}()
	}
	wg.Wait()

	assert.ElementsMatch(t, []int{http.StatusCreated, http.StatusBadRequest}, codes)
	for i, code := range codes {
		if code == http.StatusBadRequest {
			assert.Contains(t, msgs[i], "Insufficient stock for Widget. Available: 0")
		}
	}
	assert.Equal(t, 0, s.stock(t, "p"))
}

func TestPlaceOrder_SecondLineOutOfStock(t *testing.T) {
	s := newTestServer(t, order.PolicyStrict,
		newProduct("a", "Alpha", "5", 10),
		newProduct("b", "Beta", "5", 0),
	)

	rec := s.do(t, http.MethodPost, "/api/orders", "jane", orderBody(
		`{"product": "a", "quantity": 3}, {"product": "b", "quantity": 1}`,
	))

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.Equal(t, 400, resp.Code)
	assert.Equal(t, "Insufficient stock for Beta. Available: 0", resp.Message)
	assert.Equal(t, 10, s.stock(t, "a"))

	all, err := s.orders.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestPlaceOrder_Total(t *testing.T) {
	s := newTestServer(t, order.PolicyStrict,
		newProduct("ten", "Ten", "10", 5),
		newProduct("five", "Five", "5", 5),
	)

	rec := s.do(t, http.MethodPost, "/api/orders", "jane", orderBody(
		`{"product": "ten", "quantity": 3}, {"product": "five", "quantity": 2}`,
	))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	resp := decode[orderResponse](t, rec)
	assert.Equal(t, 40.0, resp.TotalPrice)
	assert.Equal(t, "pending", resp.Status)
	assert.Equal(t, "PayPal", resp.PaymentMethod)
	assert.Equal(t, "Springfield", resp.ShippingAddress.City)
	require.NotNil(t, resp.User)
	assert.Equal(t, "jane@example.com", resp.User.Email)

	require.Len(t, resp.OrderItems, 2)
	assert.Equal(t, "Ten", resp.OrderItems[0].Name)
	assert.Equal(t, 3, resp.OrderItems[0].Quantity)
	assert.Equal(t, 10.0, resp.OrderItems[0].Price)
	require.NotNil(t, resp.OrderItems[0].Product)
	assert.Equal(t, "/images/ten.jpg", resp.OrderItems[0].Product.Image)

	assert.Equal(t, 2, s.stock(t, "ten"))
	assert.Equal(t, 3, s.stock(t, "five"))
}

func TestUpdateOrderStatus(t *testing.T) {
	s := newTestServer(t, order.PolicyStrict, newProduct("p", "Widget", "10", 5))

	created := s.do(t, http.MethodPost, "/api/orders", "jane", orderBody(`{"product": "p", "quantity": 1}`))
	require.Equal(t, http.StatusCreated, created.Code)
	id := decode[orderResponse](t, created).ID

	rec := s.do(t, http.MethodPut, "/api/orders/"+id+"/status", "admin", `{"status": "shipped"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "shipped", decode[orderResponse](t, rec).Status)

	list := s.do(t, http.MethodGet, "/api/orders", "admin", "")
	require.Equal(t, http.StatusOK, list.Code)
	orders := decode[[]orderResponse](t, list)
	require.Len(t, orders, 1)
	assert.Equal(t, "shipped", orders[0].Status)

	rec = s.do(t, http.MethodPut, "/api/orders/"+id+"/status", "admin", `{"status": "bogus"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid status. Must be one of: pending, shipped, delivered", decode[errorResponse](t, rec).Message)

	rec = s.do(t, http.MethodPut, "/api/orders/"+id+"/status", "admin", `{"status": "pending"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Cannot change order status from shipped to pending", decode[errorResponse](t, rec).Message)

	stored, err := s.orders.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, order.StatusShipped, stored.Status)

	rec = s.do(t, http.MethodPut, "/api/orders/"+id+"/status", "admin", `{"status": "shipped"}`)
	assert.Equal(t, http.StatusOK, rec.Code, "setting the current status again succeeds")

	rec = s.do(t, http.MethodPut, "/api/orders/unknown/status", "admin", `{"status": "shipped"}`)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Order not found", decode[errorResponse](t, rec).Message)
}

func TestUpdateOrderStatus_Permissive(t *testing.T) {
	s := newTestServer(t, order.PolicyPermissive, newProduct("p", "Widget", "10", 5))

	created := s.do(t, http.MethodPost, "/api/orders", "jane", orderBody(`{"product": "p", "quantity": 1}`))
	require.Equal(t, http.StatusCreated, created.Code)
	id := decode[orderResponse](t, created).ID

	rec := s.do(t, http.MethodPut, "/api/orders/"+id+"/status", "admin", `{"status": "delivered"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPut, "/api/orders/"+id+"/status", "admin", `{"status": "pending"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", decode[orderResponse](t, rec).Status)
	assert.Equal(t, 4, s.stock(t, "p"), "status changes never touch stock")
}

// --- Validation and errors ---

func TestPlaceOrder_Validation(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		code    int
		message string
	}{
		{
			name:    "empty cart",
			body:    orderBody(""),
			code:    http.StatusBadRequest,
			message: "No order items",
		},
		{
			name:    "null cart",
			body:    `{"orderItems": null, ` + address + `, "paymentMethod": "PayPal"}`,
			code:    http.StatusBadRequest,
			message: "No order items",
		},
		{
			name:    "zero quantity",
			body:    orderBody(`{"product": "p", "quantity": 0}`),
			code:    http.StatusBadRequest,
			message: "Quantity must be greater than 0 for product p",
		},
		{
			name:    "quantity above stock range",
			body:    orderBody(`{"product": "p", "quantity": 2147483648}`),
			code:    http.StatusBadRequest,
			message: "Quantity must be at most 2147483647 for product p",
		},
		{
			name:    "quantity beyond int range",
			body:    orderBody(`{"product": "p", "quantity": 100000000000000000000}`),
			code:    http.StatusBadRequest,
			message: "Invalid request body",
		},
		{
			name:    "missing address",
			body:    `{"orderItems": [{"product": "p", "quantity": 1}], "paymentMethod": "PayPal"}`,
			code:    http.StatusBadRequest,
			message: "Shipping address is required: missing address, city, postalCode, country",
		},
		{
			name:    "missing payment method",
			body:    `{"orderItems": [{"product": "p", "quantity": 1}], ` + address + `}`,
			code:    http.StatusBadRequest,
			message: "Payment method is required",
		},
		{
			name:    "unknown product",
			body:    orderBody(`{"product": "ghost", "quantity": 1}`),
			code:    http.StatusNotFound,
			message: "Product not found: ghost",
		},
		{
			name:    "malformed json",
			body:    `{"orderItems": [`,
			code:    http.StatusBadRequest,
			message: "Invalid request body",
		},
		{
			name:    "fractional quantity",
			body:    orderBody(`{"product": "p", "quantity": 1.5}`),
			code:    http.StatusBadRequest,
			message: "Invalid request body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, order.PolicyStrict, newProduct("p", "Widget", "10", 5))

			rec := s.do(t, http.MethodPost, "/api/orders", "jane", tt.body)
			require.Equal(t, tt.code, rec.Code, rec.Body.String())
			resp := decode[errorResponse](t, rec)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.message, resp.Message)
			assert.Equal(t, 5, s.stock(t, "p"))
		})
	}
}

func TestListMyOrders(t *testing.T) {
	s := newTestServer(t, order.PolicyStrict, newProduct("p", "Widget", "10", 5))

	for _, buyer := range []string{"jane", "john", "jane"} {
		rec := s.do(t, http.MethodPost, "/api/orders", buyer, orderBody(`{"product": "p", "quantity": 1}`))
		require.Equal(t, http.StatusCreated, rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/api/orders/myorders", "jane", "")
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[[]orderResponse](t, rec)
	require.Len(t, mine, 2)
	for _, o := range mine {
		assert.Equal(t, "jane@example.com", o.User.Email)
	}
	assert.False(t, mine[0].CreatedAt.Before(mine[1].CreatedAt), "newest first")

	rec = s.do(t, http.MethodGet, "/api/orders/myorders", "admin", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestDeletedProductRendersNull(t *testing.T) {
	s := newTestServer(t, order.PolicyStrict, newProduct("p", "Widget", "10", 5))

	rec := s.do(t, http.MethodPost, "/api/orders", "jane", orderBody(`{"product": "p", "quantity": 1}`))
	require.Equal(t, http.StatusCreated, rec.Code)
	s.catalog.Delete(context.Background(), "p")

	rec = s.do(t, http.MethodGet, "/api/orders/myorders", "jane", "")
	require.Equal(t, http.StatusOK, rec.Code)
	mine := decode[[]orderResponse](t, rec)
	require.Len(t, mine, 1)
	assert.Nil(t, mine[0].OrderItems[0].Product)
	assert.Equal(t, "Widget", mine[0].OrderItems[0].Name)
	assert.Equal(t, 10.0, mine[0].OrderItems[0].Price)
}

func TestSecurity(t *testing.T) {
	s := newTestServer(t, order.PolicyStrict)

	t.Run("no token", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/orders/myorders", "", "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Not authorized, no token", decode[errorResponse](t, rec).Message)
	})

	t.Run("bad token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/orders/myorders", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		rec := httptest.NewRecorder()
		s.mux.ServeHTTP(rec, req)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "Not authorized, token failed", decode[errorResponse](t, rec).Message)
	})

	t.Run("unknown user", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/orders/myorders", "ghost", "")
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("non admin", func(t *testing.T) {
		rec := s.do(t, http.MethodGet, "/api/orders", "jane", "")
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "Access denied. Admin privileges required.", decode[errorResponse](t, rec).Message)

		rec = s.do(t, http.MethodPut, "/api/orders/x/status", "jane", `{"status": "shipped"}`)
		require.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("wrong method", func(t *testing.T) {
		rec := s.do(t, http.MethodDelete, "/api/orders", "admin", "")
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	})
}

func TestMapOrderError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
		ok   bool
	}{
		{"empty cart", order.ErrEmptyCart, http.StatusBadRequest, true},
		{"stock", &product.InsufficientStockError{ProductID: "p"}, http.StatusBadRequest, true},
		{"wrapped stock", errors.Wrap(&product.InsufficientStockError{ProductID: "p"}, "reserve"), http.StatusBadRequest, true},
		{"transition", &order.IllegalTransitionError{From: order.StatusDelivered, To: order.StatusPending}, http.StatusBadRequest, true},
		{"product not found", &inventory.ProductNotFoundError{ProductID: "p"}, http.StatusNotFound, true},
		{"order not found", order.ErrNotFound, http.StatusNotFound, true},
		{"compensation", &inventory.CompensationError{Err: errors.New("boom")}, 0, false},
		{"conflict", order.ErrStatusConflict, 0, false},
		{"other", errors.New("db down"), 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, ok := mapOrderError(tt.err)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.code, code)
		})
	}
}
