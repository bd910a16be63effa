package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Every field is a pointer so that absent and null values can be told apart
// from zero values.
type orderRow struct {
	ID                   *string          `json:"id"`
	OrderNumber          *string          `json:"order_number"`
	CustomerName         *string          `json:"customer_name"`
	CustomerPhone        *string          `json:"customer_phone"`
	CustomerAddress      *string          `json:"customer_address"`
	Items                *[]itemRow       `json:"items"`
	Subtotal             json.RawMessage  `json:"subtotal"`
	Discount             json.RawMessage  `json:"discount"`
	Total                json.RawMessage  `json:"total"`
	CouponCode           *string          `json:"coupon_code"`
	DeliveryInstructions *string          `json:"delivery_instructions"`
	CookingInstructions  *string          `json:"cooking_instructions"`
	Status               *string          `json:"status"`
	CreatedAt            *string          `json:"created_at"`
	UpdatedAt            *string          `json:"updated_at"`
}

type itemRow struct {
	Name           *string         `json:"name"`
	Quantity       *int            `json:"quantity"`
	Price          json.RawMessage `json:"price"`
	Customizations []string        `json:"customizations"`
}

var errMissing = errors.New("missing or null")

// decodeMoney accepts only a JSON number literal. Quoted amounts are a type
// fault, like any other mistyped field.
func decodeMoney(raw json.RawMessage) (decimal.Decimal, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return decimal.Zero, errMissing
	}
	if c := raw[0]; c != '-' && (c < '0' || c > '9') {
		return decimal.Zero, fmt.Errorf("expected a JSON number, got %s", raw)
	}
	d, err := decimal.NewFromString(string(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %s: %w", raw, err)
	}
	return d, nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z07",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses the ISO-8601 forms stores emit. Zone-less values are
// taken as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// DecodeOrder validates a single JSON object against the order schema.
func DecodeOrder(data []byte) (*Order, error) {
	return decodeOrder(data, -1)
}

// DecodeOrders validates a JSON array of order rows. A single bad row fails
// the whole payload.
func DecodeOrders(data []byte) ([]Order, error) {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, &DataIntegrityError{Row: -1, Err: fmt.Errorf("expected a JSON array of rows: %w", err)}
	}
	if raws == nil {
		return nil, &DataIntegrityError{Row: -1, Err: errors.New("expected a JSON array of rows, got null")}
	}

	orders := make([]Order, 0, len(raws))
	for i, raw := range raws {
		order, err := decodeOrder(raw, i)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

func decodeOrder(data []byte, index int) (*Order, error) {
	var row orderRow
	if err := json.Unmarshal(data, &row); err != nil {
		integrityErr := &DataIntegrityError{Row: index, Err: err}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			integrityErr.Field = typeErr.Field
		}
		return nil, integrityErr
	}

	fail := func(field string, err error) (*Order, error) {
		return nil, &DataIntegrityError{Row: index, Field: field, Err: err}
	}

	required := []struct {
		name  string
		value *string
	}{
		{"id", row.ID},
		{"order_number", row.OrderNumber},
		{"customer_name", row.CustomerName},
		{"customer_phone", row.CustomerPhone},
		{"customer_address", row.CustomerAddress},
		{"status", row.Status},
		{"created_at", row.CreatedAt},
		{"updated_at", row.UpdatedAt},
	}
	for _, f := range required {
		if f.value == nil {
			return fail(f.name, errMissing)
		}
	}
	if *row.ID == "" {
		return fail("id", errors.New("empty"))
	}

	status := OrderStatus(*row.Status)
	if !status.Valid() {
		return fail("status", fmt.Errorf("unknown order status %q", *row.Status))
	}

	var subtotal, discount, total decimal.Decimal
	money := []struct {
		name string
		raw  json.RawMessage
		dst  *decimal.Decimal
	}{
		{"subtotal", row.Subtotal, &subtotal},
		{"discount", row.Discount, &discount},
		{"total", row.Total, &total},
	}
	for _, f := range money {
		amount, err := decodeMoney(f.raw)
		if err != nil {
			return fail(f.name, err)
		}
		*f.dst = amount
	}

	createdAt, err := ParseTimestamp(*row.CreatedAt)
	if err != nil {
		return fail("created_at", err)
	}
	updatedAt, err := ParseTimestamp(*row.UpdatedAt)
	if err != nil {
		return fail("updated_at", err)
	}

	if row.Items == nil {
		return fail("items", errMissing)
	}
	items := make([]OrderItem, 0, len(*row.Items))
	for i, it := range *row.Items {
		field := fmt.Sprintf("items[%d]", i)
		switch {
		case it.Name == nil:
			return fail(field+".name", errMissing)
		case it.Quantity == nil:
			return fail(field+".quantity", errMissing)
		case *it.Quantity <= 0:
			return fail(field+".quantity", fmt.Errorf("must be positive, got %d", *it.Quantity))
		}
		price, err := decodeMoney(it.Price)
		if err != nil {
			return fail(field+".price", err)
		}
		items = append(items, OrderItem{
			Name:           *it.Name,
			Quantity:       *it.Quantity,
			Price:          price,
			Customizations: it.Customizations,
		})
	}

	return &Order{
		ID:                   *row.ID,
		OrderNumber:          *row.OrderNumber,
		CustomerName:         *row.CustomerName,
		CustomerPhone:        *row.CustomerPhone,
		CustomerAddress:      *row.CustomerAddress,
		Items:                items,
		Subtotal:             subtotal,
		Discount:             discount,
		Total:                total,
		CouponCode:           row.CouponCode,
		DeliveryInstructions: row.DeliveryInstructions,
		CookingInstructions:  row.CookingInstructions,
		Status:               status,
		CreatedAt:            createdAt,
		UpdatedAt:            updatedAt,
	}, nil
}
