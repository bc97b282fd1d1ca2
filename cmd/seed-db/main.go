// Command seed-db loads a product and user catalog into PostgreSQL and
// optionally prints bearer tokens for the seeded users.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront/db"
	"github.com/xenking/storefront/internal/catalogfile"
	"github.com/xenking/storefront/internal/repository"
	"github.com/xenking/storefront/internal/token"
)

type options struct {
	databaseURL string
	catalogFile string
	authSecret  string
	tokenTTL    time.Duration
	tokensOnly  bool
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.catalogFile, "catalog", "", "catalog file (.json or .json.gz); defaults to the embedded demo catalog")
	flag.StringVar(&opts.authSecret, "auth-secret", "", "print bearer tokens signed with this secret (or SHOP_AUTH_SECRET env)")
	flag.DurationVar(&opts.tokenTTL, "token-ttl", 24*time.Hour, "lifetime of printed tokens")
	flag.BoolVar(&opts.tokensOnly, "tokens-only", false, "only print tokens, do not touch the database")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.authSecret == "" {
		opts.authSecret = os.Getenv("SHOP_AUTH_SECRET")
	}

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, opts); err != nil {
		lg.Error("Seed failed", zap.Error(err))
		os.Exit(1)
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, opts options) error {
	catalog, err := loadCatalog(opts.catalogFile)
	if err != nil {
		return err
	}

	if !opts.tokensOnly {
		if err := seed(ctx, lg, opts.databaseURL, catalog); err != nil {
			return err
		}
	}

	if opts.authSecret == "" {
		if opts.tokensOnly {
			return errors.New("auth secret is required with -tokens-only")
		}
		return nil
	}
	tokens := token.NewManager([]byte(opts.authSecret))
	for _, u := range catalog.Users {
		t, err := tokens.Issue(u.ID, opts.tokenTTL)
		if err != nil {
			return errors.Wrapf(err, "issue token for %s", u.ID)
		}
		role := "user"
		if u.IsAdmin {
			role = "admin"
		}
		fmt.Printf("%s\t%s\t%s\n", u.ID, role, t)
	}
	return nil
}

func seed(ctx context.Context, lg *zap.Logger, databaseURL string, catalog *catalogfile.Catalog) error {
	if databaseURL == "" {
		return errors.New("database URL is required: set -database-url or DATABASE_URL")
	}

	lg.Info("Connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL, nil)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := repository.NewProductRepository(pool).Upsert(ctx, catalog.Products); err != nil {
		return errors.Wrap(err, "seed products")
	}
	lg.Info("Upserted products", zap.Int("count", len(catalog.Products)))

	if err := repository.NewUserRepository(pool).Upsert(ctx, catalog.Users); err != nil {
		return errors.Wrap(err, "seed users")
	}
	lg.Info("Upserted users", zap.Int("count", len(catalog.Users)))
	return nil
}

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
