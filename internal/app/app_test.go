package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/token"
)

type noopTelemetry struct{}

func (noopTelemetry) TracerProvider() trace.TracerProvider { return tracenoop.NewTracerProvider() }
func (noopTelemetry) MeterProvider() metric.MeterProvider  { return metricnoop.NewMeterProvider() }

const testSecret = "app-test-secret"

type client struct {
	t      *testing.T
	srv    *httptest.Server
	tokens *token.Manager
}

func startServer(t *testing.T, cfg *Config) *client {
	t.Helper()

	s, err := New(t.Context(), zap.NewNop(), noopTelemetry{}, cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	s.Health.SetReady(true)

	srv := httptest.NewServer(s.Handler)
	t.Cleanup(srv.Close)
	return &client{t: t, srv: srv, tokens: token.NewManager([]byte(cfg.Auth.Secret))}
}

func (c *client) with(t *testing.T) *client {
	cp := *c
	cp.t = t
	return &cp
}

func (c *client) do(method, path, userID, body string, header ...string) *http.Response {
	c.t.Helper()
	req, err := http.NewRequestWithContext(c.t.Context(), method, c.srv.URL+path, strings.NewReader(body))
	require.NoError(c.t, err)
	if userID != "" {
		raw, err := c.tokens.Issue(userID, time.Hour)
		require.NoError(c.t, err)
		req.Header.Set("Authorization", "Bearer "+raw)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	resp, err := c.srv.Client().Do(req)
	require.NoError(c.t, err)
	c.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeJSON(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func decodeBody(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, decodeJSON(resp, &v))
	return v
}

func memoryConfig() *Config {
	return &Config{
		Storage:   StorageConfig{Driver: DriverMemory},
		Auth:      AuthConfig{Secret: testSecret},
		Orders:    OrdersConfig{StatusPolicy: "strict"},
		RateLimit: RateLimitConfig{Max: 100, Window: time.Minute},
		CORS:      CORSConfig{Origins: []string{"*"}},
	}
}

const placeLimitedPrint = `{
	"orderItems": [{"product": "limited-print", "quantity": 1}],
	"shippingAddress": {"address": "1 Main St", "city": "Springfield", "postalCode": "12345", "country": "US"},
	"paymentMethod": "PayPal"
}`

func TestServer_OrderLifecycle(t *testing.T) {
	c := startServer(t, memoryConfig())

	resp := c.do(http.MethodPost, "/api/orders", "jane", placeLimitedPrint)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	placed := decodeBody(t, resp)
	assert.Equal(t, "pending", placed["status"])
	assert.InDelta(t, 250.0, placed["totalPrice"], 1e-9)
	id, _ := placed["id"].(string)
	require.NotEmpty(t, id)

	// The only unit is gone.
	resp = c.do(http.MethodPost, "/api/orders", "john", placeLimitedPrint)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = c.do(http.MethodPut, "/api/orders/"+id+"/status", "jane", `{"status": "shipped"}`)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = c.do(http.MethodPut, "/api/orders/"+id+"/status", "admin", `{"status": "shipped"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "shipped", decodeBody(t, resp)["status"])

	resp = c.do(http.MethodGet, "/api/orders/myorders", "jane", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var mine []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&mine))
	require.Len(t, mine, 1)
	assert.Equal(t, id, mine[0]["id"])
}

func TestServer_Middleware(t *testing.T) {
	c := startServer(t, memoryConfig())

	t.Run("RequestID", func(t *testing.T) {
		c := c.with(t)
		resp := c.do(http.MethodGet, "/livez", "", "", "X-Request-ID", "custom-request-id-12345")
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "custom-request-id-12345", resp.Header.Get("X-Request-ID"))

		resp = c.do(http.MethodGet, "/livez", "", "")
		assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
	})
	t.Run("CORSPreflight", func(t *testing.T) {
		c := c.with(t)
		resp := c.do(http.MethodOptions, "/api/orders", "", "",
			"Origin", "http://example.com",
			"Access-Control-Request-Method", http.MethodPost,
		)
		assert.Equal(t, http.StatusNoContent, resp.StatusCode)
		assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
		assert.NotEmpty(t, resp.Header.Get("Access-Control-Allow-Methods"))
	})
	t.Run("RateLimitHeaders", func(t *testing.T) {
		c := c.with(t)
		resp := c.do(http.MethodGet, "/api/orders/myorders", "jane", "")
		assert.Equal(t, "100", resp.Header.Get("X-RateLimit-Limit"))
		assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Remaining"))

		resp = c.do(http.MethodGet, "/readyz", "", "")
		assert.Empty(t, resp.Header.Get("X-RateLimit-Limit"))
	})
	t.Run("Unauthorized", func(t *testing.T) {
		c := c.with(t)
		resp := c.do(http.MethodPost, "/api/orders", "", placeLimitedPrint)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "Not authorized, no token", decodeBody(t, resp)["message"])
	})
}

func TestServer_RateLimited(t *testing.T) {
	cfg := memoryConfig()
	cfg.RateLimit.Max = 2
	c := startServer(t, cfg)

	for range 2 {
		assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/api/orders/myorders", "jane", "").StatusCode)
	}
	resp := c.do(http.MethodGet, "/api/orders/myorders", "jane", "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// Health endpoints are exempt.
	assert.Equal(t, http.StatusOK, c.do(http.MethodGet, "/livez", "", "").StatusCode)
}

func TestServer_Readiness(t *testing.T) {
	s, err := New(t.Context(), zap.NewNop(), noopTelemetry{}, memoryConfig())
	require.NoError(t, err)
	defer s.Close()

	rec := httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	s.Health.SetReady(true)
	rec = httptest.NewRecorder()
	s.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_BadSeedFile(t *testing.T) {
	cfg := memoryConfig()
	cfg.Storage.SeedFile = "testdata/missing.json"
	_, err := New(t.Context(), zap.NewNop(), noopTelemetry{}, cfg)
	require.ErrorContains(t, err, "load testdata/missing.json")
}
