// Package cache provides a Redis read-through cache for catalog lookups.
//
// Only display reads are cached. Stock mutations always go to the underlying
// store and evict the touched product, so reservations never see cached
// stock. Redis failures degrade to direct store reads behind a circuit
// breaker.
package cache

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/storefront/internal/domain/product"
)

const keyPrefix = "product:"

var _ product.Repository = (*Products)(nil)

// Options configures Products.
type Options struct {
	// TTL is the lifetime of a cached product. Defaults to one minute.
	TTL time.Duration
	// Logger receives breaker state changes.
	Logger *zap.Logger
}

// Products decorates a product.Repository with a Redis read-through cache.
type Products struct {
	next   product.Repository
	client redis.UniversalClient
	ttl    time.Duration
	cb     *gobreaker.CircuitBreaker
	group  singleflight.Group
}

// NewProducts returns a caching decorator over next.
func NewProducts(next product.Repository, client redis.UniversalClient, opts Options) *Products {
	if opts.TTL <= 0 {
		opts.TTL = time.Minute
	}
	lg := opts.Logger
	if lg == nil {
		lg = zap.NewNop()
	}
	settings := gobreaker.Settings{
		Name:        "redis-products",
		MaxRequests: 3,
		Interval:    5 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			lg.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
	return &Products{
		next:   next,
		client: client,
		ttl:    opts.TTL,
		cb:     gobreaker.NewCircuitBreaker(settings),
	}
}

// GetByID returns a product from the cache or, on a miss, from the store.
// Concurrent misses for the same id share one store read.
func (p *Products) GetByID(ctx context.Context, id string) (*product.Product, error) {
	if data, ok := p.get(ctx, id); ok {
		if v, err := decodeProduct(data); err == nil {
			return &v, nil
		}
	}

	// The shared read outlives any single caller, so it must not inherit the
	// first caller's cancellation.
	v, err, _ := p.group.Do(id, func() (any, error) {
		return p.next.GetByID(context.WithoutCancel(ctx), id)
	})
	if err != nil {
		return nil, err
	}
	got := *v.(*product.Product)
	p.set(ctx, []product.Product{got})
	return &got, nil
}

// GetByIDs returns the products matching ids, reading only cache misses from
// the store.
func (p *Products) GetByIDs(ctx context.Context, ids []string) ([]product.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	cached := p.mget(ctx, ids)
	out := make([]product.Product, 0, len(ids))
	var missing []string
	for i, id := range ids {
		if data := cached[i]; data != nil {
			if v, err := decodeProduct(data); err == nil {
				out = append(out, v)
				continue
			}
		}
		missing = append(missing, id)
	}
	if len(missing) == 0 {
		return out, nil
	}

	v, err, _ := p.group.Do("batch:"+strings.Join(missing, ","), func() (any, error) {
		return p.next.GetByIDs(context.WithoutCancel(ctx), missing)
	})
	if err != nil {
		return nil, err
	}
	fetched := v.([]product.Product)
	p.set(ctx, fetched)
	return append(out, fetched...), nil
}

// DecrementStock delegates to the store and evicts the product.
func (p *Products) DecrementStock(ctx context.Context, id string, qty int) (*product.Product, error) {
	got, err := p.next.DecrementStock(ctx, id, qty)
	if err != nil {
		return nil, err
	}
	p.evict(ctx, id)
	return got, nil
}

// IncrementStock delegates to the store and evicts the product.
func (p *Products) IncrementStock(ctx context.Context, id string, qty int) error {
	if err := p.next.IncrementStock(ctx, id, qty); err != nil {
		return err
	}
	p.evict(ctx, id)
	return nil
}

func (p *Products) get(ctx context.Context, id string) ([]byte, bool) {
	data, err := execute(p.cb, func() ([]byte, error) {
		b, err := p.client.Get(ctx, keyPrefix+id).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return b, err
	})
	if err != nil {
		zctx.From(ctx).Debug("Cache read failed", zap.String("product_id", id), zap.Error(err))
		return nil, false
	}
	return data, data != nil
}

func (p *Products) mget(ctx context.Context, ids []string) [][]byte {
	out := make([][]byte, len(ids))
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = keyPrefix + id
	}
	vals, err := execute(p.cb, func() ([]any, error) {
		return p.client.MGet(ctx, keys...).Result()
	})
	if err != nil {
		zctx.From(ctx).Debug("Cache batch read failed", zap.Error(err))
		return out
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[i] = []byte(s)
		}
	}
	return out
}

func (p *Products) set(ctx context.Context, products []product.Product) {
	if len(products) == 0 {
		return
	}
	_, err := execute(p.cb, func() ([]redis.Cmder, error) {
		return p.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, v := range products {
				pipe.Set(ctx, keyPrefix+v.ID, encodeProduct(v), p.ttl)
			}
			return nil
		})
	})
	if err != nil {
		zctx.From(ctx).Debug("Cache write failed", zap.Error(err))
	}
}

func (p *Products) evict(ctx context.Context, id string) {
	_, err := execute(p.cb, func() (int64, error) {
		return p.client.Del(context.WithoutCancel(ctx), keyPrefix+id).Result()
	})
	if err != nil {
		zctx.From(ctx).Warn("Cache eviction failed", zap.String("product_id", id), zap.Error(err))
	}
}

func execute[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (any, error) {
		return fn()
	})
	if err != nil {
		return *new(T), err
	}
	return res.(T), nil
}

func encodeProduct(p product.Product) []byte {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(p.ID) })
		e.Field("name", func(e *jx.Encoder) { e.Str(p.Name) })
		e.Field("description", func(e *jx.Encoder) { e.Str(p.Description) })
		e.Field("category", func(e *jx.Encoder) { e.Str(p.Category) })
		e.Field("image", func(e *jx.Encoder) { e.Str(p.Image) })
		e.Field("price", func(e *jx.Encoder) { e.Str(p.Price.String()) })
		e.Field("stock", func(e *jx.Encoder) { e.Int(p.Stock) })
	})
	return append([]byte(nil), e.Bytes()...)
}

func decodeProduct(data []byte) (product.Product, error) {
	var p product.Product
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Str()
		case "name":
			p.Name, err = d.Str()
		case "description":
			p.Description, err = d.Str()
		case "category":
			p.Category, err = d.Str()
		case "image":
			p.Image, err = d.Str()
		case "price":
			var s string
			if s, err = d.Str(); err == nil {
				p.Price, err = decimal.NewFromString(s)
			}
		case "stock":
			p.Stock, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return product.Product{}, errors.Wrap(err, "decode cached product")
	}
	return p, nil
}
