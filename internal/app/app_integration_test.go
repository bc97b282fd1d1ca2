//go:build integration

package app

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/xenking/storefront/db"
	"github.com/xenking/storefront/internal/catalogfile"
	"github.com/xenking/storefront/internal/repository"
)

// startBackends runs PostgreSQL and Redis containers, seeds the demo
// catalog, and returns a config pointing at them.
func startBackends(t *testing.T) *Config {
	t.Helper()
	ctx := context.Background()

	pg, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("storefront"),
		tcpostgres.WithUsername("shop"),
		tcpostgres.WithPassword("shop"),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, pg)
	require.NoError(t, err)
	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	rc, err := tcredis.Run(ctx, "redis:7-alpine")
	testcontainers.CleanupContainer(t, rc)
	require.NoError(t, err)
	redisAddr, err := rc.Endpoint(ctx, "")
	require.NoError(t, err)

	pool, err := repository.NewPool(ctx, dsn, nil)
	require.NoError(t, err)
	defer pool.Close()
	require.NoError(t, repository.RunMigrations(ctx, pool))
	catalog, err := catalogfile.Parse(db.SeedCatalog)
	require.NoError(t, err)
	require.NoError(t, repository.NewProductRepository(pool).Upsert(ctx, catalog.Products))
	require.NoError(t, repository.NewUserRepository(pool).Upsert(ctx, catalog.Users))

	return &Config{
		DatabaseURL: dsn,
		Storage:     StorageConfig{Driver: DriverPostgres},
		Auth:        AuthConfig{Secret: testSecret},
		Orders:      OrdersConfig{StatusPolicy: "strict"},
		Cache:       CacheConfig{RedisAddr: redisAddr, TTL: time.Minute},
		RateLimit:   RateLimitConfig{Max: 1000, Window: time.Minute, Shared: true},
	}
}

func TestServer_Postgres(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	cfg := startBackends(t)
	c := startServer(t, cfg)

	// Ten buyers race for the single limited print.
	const buyers = 10
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = map[int]int{}
	)
	for range buyers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, c.srv.URL+"/api/orders",
				strings.NewReader(placeLimitedPrint))
			if !assert.NoError(t, err) {
				return
			}
			raw, err := c.tokens.Issue("jane", time.Hour)
			if !assert.NoError(t, err) {
				return
			}
			req.Header.Set("Authorization", "Bearer "+raw)
			resp, err := c.srv.Client().Do(req)
			if !assert.NoError(t, err) {
				return
			}
			_ = resp.Body.Close()
			mu.Lock()
			codes[resp.StatusCode]++
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, map[int]int{http.StatusCreated: 1, http.StatusBadRequest: buyers - 1}, codes)

	resp := c.do(http.MethodGet, "/api/orders", "admin", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var all []map[string]any
	require.NoError(t, decodeJSON(resp, &all))
	require.Len(t, all, 1)
	assert.Equal(t, "Jane Doe", all[0]["user"].(map[string]any)["name"])

	id := all[0]["id"].(string)
	resp = c.do(http.MethodPut, "/api/orders/"+id+"/status", "admin", `{"status": "delivered"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = c.do(http.MethodPut, "/api/orders/"+id+"/status", "admin", `{"status": "shipped"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Limits are counted in Redis.
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
	defer func() { _ = rdb.Close() }()
	keys, err := rdb.Keys(t.Context(), "ratelimit:*").Result()
	require.NoError(t, err)
	assert.NotEmpty(t, keys)

	resp = c.do(http.MethodGet, "/readyz", "", "")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
