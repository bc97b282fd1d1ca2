package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/storefront/db"
	"github.com/xenking/storefront/internal/cache"
	"github.com/xenking/storefront/internal/catalogfile"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
	"github.com/xenking/storefront/internal/handler"
	"github.com/xenking/storefront/internal/memstore"
	"github.com/xenking/storefront/internal/repository"
	"github.com/xenking/storefront/internal/token"
	"github.com/xenking/storefront/pkg/health"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// stores bundles the repositories of one storage driver.
type stores struct {
	products product.Repository
	orders   order.Repository
	users    user.Repository
	close    func()
}

// Telemetry provides the OpenTelemetry providers. *app.Telemetry from
// go-faster/sdk implements it.
type Telemetry = httpmiddleware.Telemetry

// Server is the fully wired API: the HTTP handler with its middleware chain
// and the health endpoints.
type Server struct {
	Handler http.Handler
	Health  *health.Health

	closers []func()
}

// Close releases the storage and cache connections.
func (s *Server) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// New creates all dependencies of the API server. Background work it starts
// (health checks, rate limit cleanup) stops when ctx is done.
func New(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) (_ *Server, rerr error) {
	s := &Server{
		Health: health.New(health.Options{Logger: lg.Named("health")}),
	}
	defer func() {
		if rerr != nil {
			s.Close()
		}
	}()
	s.Health.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	st, err := openStores(ctx, lg, m, cfg, s.Health)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, st.close)

	var rdb *redis.Client
	if cfg.Cache.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr})
		s.closers = append(s.closers, func() { _ = rdb.Close() })
		s.Health.AddReadinessCheck("redis", 2*time.Second, health.RedisCheck(rdb))

		st.products = cache.NewProducts(st.products, rdb, cache.Options{
			TTL:    cfg.Cache.TTL,
			Logger: lg.Named("cache"),
		})
		lg.Info("Product cache enabled", zap.String("redis", cfg.Cache.RedisAddr), zap.Duration("ttl", cfg.Cache.TTL))
	}

	// Domain services.
	policy, err := order.ParseStatusPolicy(cfg.Orders.StatusPolicy)
	if err != nil {
		return nil, errors.Wrap(err, "status policy")
	}
	reserver, err := inventory.NewReserver(st.products, m.MeterProvider().Meter("storefront"))
	if err != nil {
		return nil, errors.Wrap(err, "create reserver")
	}
	orderService := order.NewService(reserver, st.orders, st.users, st.products, policy)

	// HTTP handlers.
	mux := http.NewServeMux()
	handler.NewHandler(orderService).Register(mux,
		handler.NewSecurityHandler(token.NewManager([]byte(cfg.Auth.Secret)), st.users),
	)
	mux.HandleFunc("GET /livez", s.Health.LiveEndpoint)
	mux.HandleFunc("GET /readyz", s.Health.ReadyEndpoint)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	limiter, err := newLimiter(ctx, cfg.RateLimit, rdb)
	if err != nil {
		return nil, err
	}

	s.Handler = httpmiddleware.Wrap(mux,
		httpmiddleware.Recovery(),
		httpmiddleware.CORS(httpmiddleware.CORSConfig{
			AllowOrigins:     cfg.CORS.Origins,
			AllowHeaders:     []string{"Content-Type", "Authorization"},
			AllowCredentials: cfg.CORS.AllowCredentials,
			MaxAge:           86400,
		}),
		httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
			Max:  cfg.RateLimit.Max,
			Skip: isHealthEndpoint,
		}, limiter),
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(lg),
		httpmiddleware.Instrument("storefront-api", routeFinder, m),
		httpmiddleware.LogRequests(routeFinder),
		httpmiddleware.Labeler(routeFinder),
	)
	return s, nil
}

// Run starts the HTTP server and handles graceful shutdown. It is the single
// wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("storage", cfg.Storage.Driver),
		zap.String("status_policy", cfg.Orders.StatusPolicy),
	)

	s, err := New(ctx, lg, m, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	s.Health.Start(ctx, 10*time.Second)
	s.Health.SetReady(true)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           s.Handler,
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		s.Health.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		s.Health.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func openStores(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config, h *health.Health) (*stores, error) {
	if cfg.Storage.Driver == DriverMemory {
		catalog, err := loadCatalog(cfg.Storage.SeedFile)
		if err != nil {
			return nil, err
		}
		lg.Info("Using memory storage",
			zap.Int("products", len(catalog.Products)),
			zap.Int("users", len(catalog.Users)),
		)
		return &stores{
			products: memstore.NewCatalog(catalog.Products...),
			orders:   memstore.NewOrders(),
			users:    memstore.NewUsers(catalog.Users...),
			close:    func() {},
		}, nil
	}

	// PostgreSQL pool + migrations.
	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, m.TracerProvider())
	if err != nil {
		return nil, errors.Wrap(err, "create db pool")
	}
	if err := repository.RunMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "run migrations")
	}
	h.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))

	return &stores{
		products: repository.NewProductRepository(pool),
		orders:   repository.NewOrderRepository(pool),
		users:    repository.NewUserRepository(pool),
		close:    pool.Close,
	}, nil
}

// loadCatalog reads the seed file at path, or the embedded demo catalog when
// path is empty.
func loadCatalog(path string) (*catalogfile.Catalog, error) {
	if path == "" {
		c, err := catalogfile.Parse(db.SeedCatalog)
		if err != nil {
			return nil, errors.Wrap(err, "parse embedded catalog")
		}
		return c, nil
	}
	c, err := catalogfile.Load(path)
	if err != nil {
		return nil, errors.Wrapf(err, "load %s", path)
	}
	return c, nil
}

func newLimiter(ctx context.Context, cfg RateLimitConfig, rdb *redis.Client) (httpmiddleware.Limiter, error) {
	if cfg.Shared {
		if rdb == nil {
			return nil, errors.New("shared rate limit requires redis")
		}
		return httpmiddleware.NewRedisLimiter(rdb, "ratelimit:", cfg.Max, cfg.Window), nil
	}
	l := httpmiddleware.NewMemoryLimiter(cfg.Max, cfg.Window)
	go l.Run(ctx)
	return l, nil
}

func isHealthEndpoint(r *http.Request) bool {
	return r.URL.Path == "/livez" || r.URL.Path == "/readyz"
}
