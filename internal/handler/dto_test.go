package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/storefront/internal/domain/order"
)

func TestDecodePlaceOrder(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    order.PlaceOrderRequest
		wantErr bool
	}{
		{
			name: "full body",
			body: `{
				"orderItems": [
					{"product": "p1", "quantity": 2, "name": "ignored"},
					{"product": "p2", "quantity": 1}
				],
				"shippingAddress": {"address": "1 Main St", "city": "Springfield", "postalCode": "12345", "country": "US", "extra": [1, 2]},
				"paymentMethod": "PayPal",
				"totalPrice": 99.5
			}`,
			want: order.PlaceOrderRequest{
				Items: []order.Item{
					{ProductID: "p1", Quantity: 2},
					{ProductID: "p2", Quantity: 1},
				},
				ShippingAddress: order.ShippingAddress{
					Address:    "1 Main St",
					City:       "Springfield",
					PostalCode: "12345",
					Country:    "US",
				},
				PaymentMethod: "PayPal",
			},
		},
		{
			name: "nulls",
			body: `{"orderItems": null, "shippingAddress": {"address": null, "city": "X"}, "paymentMethod": null}`,
			want: order.PlaceOrderRequest{
				ShippingAddress: order.ShippingAddress{City: "X"},
			},
		},
		{
			name: "null address",
			body: `{"orderItems": [{"product": "p1", "quantity": 3}], "shippingAddress": null}`,
			want: order.PlaceOrderRequest{
				Items: []order.Item{{ProductID: "p1", Quantity: 3}},
			},
		},
		{
			name: "empty object",
			body: `{}`,
		},
		{
			name:    "truncated",
			body:    `{"orderItems": [{"product": "p1"`,
			wantErr: true,
		},
		{
			name:    "quantity as string",
			body:    `{"orderItems": [{"product": "p1", "quantity": "2"}]}`,
			wantErr: true,
		},
		{
			name:    "address field as number",
			body:    `{"shippingAddress": {"city": 5}}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			body:    `[]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePlaceOrder([]byte(tt.body))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeStatusUpdate(t *testing.T) {
	status, err := decodeStatusUpdate([]byte(`{"status": "Shipped", "note": {"a": 1}}`))
	require.NoError(t, err)
	assert.Equal(t, "Shipped", status)

	status, err = decodeStatusUpdate([]byte(`{"status": null}`))
	require.NoError(t, err)
	assert.Empty(t, status)

	_, err = decodeStatusUpdate([]byte(`{"status": 1}`))
	require.Error(t, err)
}
