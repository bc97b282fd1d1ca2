package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/domain/order"
)

func decodePlaceOrder(data []byte) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		switch key {
		case "orderItems":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Arr(func(d *jx.Decoder) error {
				item, err := decodeItem(d)
				if err != nil {
					return err
				}
				req.Items = append(req.Items, item)
				return nil
			})
		case "shippingAddress":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return decodeAddress(d, &req.ShippingAddress)
		case "paymentMethod":
			s, err := decodeOptString(d)
			req.PaymentMethod = s
			return err
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return order.PlaceOrderRequest{}, errors.Wrap(err, "decode order request")
	}
	return req, nil
}

func decodeItem(d *jx.Decoder) (order.Item, error) {
	var item order.Item
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "product":
			item.ProductID, err = d.Str()
		case "quantity":
			item.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
	return item, err
}

func decodeAddress(d *jx.Decoder, a *order.ShippingAddress) error {
	return d.Obj(func(d *jx.Decoder, key string) error {
		var (
			s   string
			err error
		)
		switch key {
		case "address":
			s, err = decodeOptString(d)
			a.Address = s
		case "city":
			s, err = decodeOptString(d)
			a.City = s
		case "postalCode":
			s, err = decodeOptString(d)
			a.PostalCode = s
		case "country":
			s, err = decodeOptString(d)
			a.Country = s
		default:
			err = d.Skip()
		}
		if err != nil {
			return errors.Wrap(err, key)
		}
		return nil
	})
}

func decodeStatusUpdate(data []byte) (string, error) {
	var status string
	err := jx.DecodeBytes(data).Obj(func(d *jx.Decoder, key string) error {
		if key != "status" {
			return d.Skip()
		}
		s, err := decodeOptString(d)
		status = s
		return err
	})
	if err != nil {
		return "", errors.Wrap(err, "decode status request")
	}
	return status, nil
}

// decodeOptString reads a string, treating null as empty.
func decodeOptString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func encodeOrder(v *order.View) []byte {
	e := &jx.Encoder{}
	writeOrder(e, v)
	return e.Bytes()
}

func encodeOrders(views []order.View) []byte {
	e := &jx.Encoder{}
	e.Arr(func(e *jx.Encoder) {
		for i := range views {
			writeOrder(e, &views[i])
		}
	})
	return e.Bytes()
}

func writeOrder(e *jx.Encoder, v *order.View) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("id", func(e *jx.Encoder) { e.Str(v.ID) })
		e.Field("user", func(e *jx.Encoder) {
			if v.Customer == nil {
				e.Null()
				return
			}
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(v.Customer.ID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(v.Customer.Name) })
				e.Field("email", func(e *jx.Encoder) { e.Str(v.Customer.Email) })
			})
		})
		e.Field("orderItems", func(e *jx.Encoder) {
			e.Arr(func(e *jx.Encoder) {
				for _, l := range v.Lines {
					writeLine(e, v, l)
				}
			})
		})
		e.Field("shippingAddress", func(e *jx.Encoder) {
			a := v.ShippingAddress
			e.Obj(func(e *jx.Encoder) {
				e.Field("address", func(e *jx.Encoder) { e.Str(a.Address) })
				e.Field("city", func(e *jx.Encoder) { e.Str(a.City) })
				e.Field("postalCode", func(e *jx.Encoder) { e.Str(a.PostalCode) })
				e.Field("country", func(e *jx.Encoder) { e.Str(a.Country) })
			})
		})
		e.Field("paymentMethod", func(e *jx.Encoder) { e.Str(v.PaymentMethod) })
		e.Field("totalPrice", func(e *jx.Encoder) { e.Float64(v.TotalPrice.InexactFloat64()) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(v.Status)) })
		e.Field("createdAt", func(e *jx.Encoder) { e.Str(v.CreatedAt.UTC().Format(time.RFC3339Nano)) })
		e.Field("updatedAt", func(e *jx.Encoder) { e.Str(v.UpdatedAt.UTC().Format(time.RFC3339Nano)) })
	})
}

func writeLine(e *jx.Encoder, v *order.View, l order.Line) {
	e.Obj(func(e *jx.Encoder) {
		e.Field("product", func(e *jx.Encoder) {
			sum, ok := v.Product(l.ProductID)
			if !ok {
				e.Null()
				return
			}
			e.Obj(func(e *jx.Encoder) {
				e.Field("id", func(e *jx.Encoder) { e.Str(sum.ID) })
				e.Field("name", func(e *jx.Encoder) { e.Str(sum.Name) })
				e.Field("image", func(e *jx.Encoder) { e.Str(sum.Image) })
			})
		})
		e.Field("name", func(e *jx.Encoder) { e.Str(l.Name) })
		e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
		e.Field("price", func(e *jx.Encoder) { e.Float64(l.UnitPrice.InexactFloat64()) })
	})
}

func writeJSON(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}
