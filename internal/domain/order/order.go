package order

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Order is a persisted customer order. Lines and TotalPrice are fixed at
// creation; only Status and UpdatedAt change afterwards.
type Order struct {
	ID              string
	UserID          string
	Lines           []Line
	ShippingAddress ShippingAddress
	PaymentMethod   string
	TotalPrice      decimal.Decimal
	Status          Status
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Line is a snapshot of a purchased product at the time of the order.
type Line struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// ShippingAddress is the delivery destination of an order.
type ShippingAddress struct {
	Address    string `validate:"required"`
	City       string `validate:"required"`
	PostalCode string `validate:"required"`
	Country    string `validate:"required"`
}

var addressValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate reports every blank field of a as an *InvalidShippingAddressError.
func (a ShippingAddress) Validate() error {
	trimmed := ShippingAddress{
		Address:    strings.TrimSpace(a.Address),
		City:       strings.TrimSpace(a.City),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
	}
	err := addressValidator.Struct(trimmed)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	missing := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		missing = append(missing, addressFieldName(fe.Field()))
	}
	return &InvalidShippingAddressError{Missing: missing}
}

func addressFieldName(field string) string {
	switch field {
	case "Address":
		return "address"
	case "City":
		return "city"
	case "PostalCode":
		return "postalCode"
	case "Country":
		return "country"
	default:
		return field
	}
}

// Repository defines persistence operations for orders.
//
// List and ListByUser return newest first. UpdateStatus applies only while
// the stored status equals from and returns ErrStatusConflict otherwise.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id string) (*Order, error)
	ListByUser(ctx context.Context, userID string) ([]Order, error)
	List(ctx context.Context) ([]Order, error)
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (*Order, error)
}
