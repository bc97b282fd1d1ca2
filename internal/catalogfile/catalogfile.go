// Package catalogfile reads seed catalogs: a JSON document with products and
// users, optionally gzip-compressed.
//
//	{
//	  "products": [{"id": "...", "name": "...", "price": "12.50", "stock": 5, ...}],
//	  "users": [{"id": "...", "name": "...", "email": "...", "isAdmin": false}]
//	}
package catalogfile

import (
	"bytes"
	"io"
	"math"
	"os"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/internal/domain/user"
)

// Catalog is the content of a seed file.
type Catalog struct {
	Products []product.Product
	Users    []user.User
}

// Load reads the catalog at path. Paths ending in .gz are decompressed.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open catalog")
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrap(err, "gzip reader")
		}
		defer func() { _ = zr.Close() }()
		r = zr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog")
	}
	return Parse(data)
}

// Parse decodes and validates a catalog document.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	err := jx.DecodeBytes(bytes.TrimSpace(data)).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "products":
			return d.Arr(func(d *jx.Decoder) error {
				p, err := decodeProduct(d)
				if err != nil {
					return err
				}
				c.Products = append(c.Products, p)
				return nil
			})
		case "users":
			return d.Arr(func(d *jx.Decoder) error {
				u, err := decodeUser(d)
				if err != nil {
					return err
				}
				c.Users = append(c.Users, u)
				return nil
			})
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode catalog")
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	seen := make(map[string]struct{}, len(c.Products))
	for _, p := range c.Products {
		if p.ID == "" {
			return errors.Errorf("product %q: empty id", p.Name)
		}
		if _, dup := seen[p.ID]; dup {
			return errors.Errorf("product %q: duplicate id", p.ID)
		}
		seen[p.ID] = struct{}{}
		if p.Price.IsNegative() {
			return errors.Errorf("product %q: negative price", p.ID)
		}
		if p.Stock < 0 {
			return errors.Errorf("product %q: negative stock", p.ID)
		}
		if p.Stock > math.MaxInt32 {
			return errors.Errorf("product %q: stock exceeds %d", p.ID, math.MaxInt32)
		}
	}
	for _, u := range c.Users {
		if u.ID == "" || u.Email == "" {
			return errors.Errorf("user %q: id and email are required", u.Name)
		}
	}
	return nil
}

func decodeProduct(d *jx.Decoder) (product.Product, error) {
	var p product.Product
	err := d.Obj(func(d *jx.Decoder, key string) error {
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
			p.Price, err = decodeDecimal(d)
		case "stock":
			p.Stock, err = d.Int()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	return p, err
}

func decodeUser(d *jx.Decoder) (user.User, error) {
	var u user.User
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			u.ID, err = d.Str()
		case "name":
			u.Name, err = d.Str()
		case "email":
			u.Email, err = d.Str()
		case "isAdmin":
			u.IsAdmin, err = d.Bool()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	return u, err
}

// decodeDecimal accepts prices written either as strings or as JSON numbers.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Decimal{}, errors.Errorf("unexpected %s", d.Next())
	}
}
