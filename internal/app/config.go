package app

import (
	"os"
	"slices"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront/internal/domain/order"
)

const (
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	defaultAddr = "0.0.0.0:8080"
)

// Config holds the complete application configuration, loadable from
// environment variables (SHOP_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (SHOP_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	Storage     StorageConfig
	Auth        AuthConfig
	Orders      OrdersConfig
	Cache       CacheConfig
	RateLimit   RateLimitConfig
	CORS        CORSConfig
	Graceful    GracefulConfig
}

// StorageConfig selects where products, users and orders live.
type StorageConfig struct {
	Driver   string `default:"postgres" usage:"Storage driver: postgres or memory"`
	SeedFile string `usage:"Catalog file (.json or .json.gz) loaded into the memory driver; the embedded demo catalog is used when empty" flag:"seed-file"`
}

// AuthConfig configures bearer token verification.
type AuthConfig struct {
	Secret string `usage:"HMAC secret for bearer tokens (SHOP_AUTH_SECRET)" flag:"auth-secret"`
}

// OrdersConfig configures the order workflow.
type OrdersConfig struct {
	StatusPolicy string `default:"strict" usage:"Status transition policy: strict or permissive" flag:"status-policy"`
}

// CacheConfig enables the Redis product cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr string        `usage:"Redis address for the product cache, e.g. localhost:6379" flag:"redis-addr"`
	TTL       time.Duration `default:"1m" usage:"Product cache TTL"`
}

// RateLimitConfig controls the per-client rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
	Shared bool          `default:"false" usage:"Count requests in Redis so replicas share limits (requires Cache.RedisAddr)" flag:"rate-limit-shared"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// LoadConfig loads configuration from environment variables, YAML config
// files and flags, then applies platform defaults and validates the result.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "SHOP",
		Files:     []string{"config.yaml", "/etc/shop/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's SHOP_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == defaultAddr {
		c.Addr = "0.0.0.0:" + port
	}
}

func (c *Config) validate() error {
	if !slices.Contains([]string{DriverPostgres, DriverMemory}, c.Storage.Driver) {
		return errors.Errorf("unknown storage driver %q: use %s or %s", c.Storage.Driver, DriverPostgres, DriverMemory)
	}
	if c.Storage.Driver == DriverPostgres && c.DatabaseURL == "" {
		return errors.New("database URL is required: set SHOP_DATABASE_URL or DATABASE_URL")
	}
	if c.Auth.Secret == "" {
		return errors.New("auth secret is required: set SHOP_AUTH_SECRET")
	}
	if _, err := order.ParseStatusPolicy(c.Orders.StatusPolicy); err != nil {
		return errors.Wrap(err, "orders")
	}
	if c.RateLimit.Shared && c.Cache.RedisAddr == "" {
		return errors.New("shared rate limit requires a Redis address")
	}
	return nil
}
