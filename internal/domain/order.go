package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusPreparing      OrderStatus = "preparing"
	OrderStatusReady          OrderStatus = "ready"
	OrderStatusOutForDelivery OrderStatus = "out_for_delivery"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// AllStatuses returns every status in lifecycle order.
func AllStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusConfirmed,
		OrderStatusPreparing,
		OrderStatusReady,
		OrderStatusOutForDelivery,
		OrderStatusDelivered,
		OrderStatusCancelled,
	}
}

// PendingStatuses returns the statuses of the operational queue staff act on.
func PendingStatuses() []OrderStatus {
	return []OrderStatus{
		OrderStatusPending,
		OrderStatusConfirmed,
		OrderStatusPreparing,
	}
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing, OrderStatusReady,
		OrderStatusOutForDelivery, OrderStatusDelivered, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further lifecycle step follows s. It is
// informational only: status updates are never rejected because of it.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

func (s OrderStatus) String() string {
	return string(s)
}

// ParseOrderStatus converts caller input into an OrderStatus.
func ParseOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if !status.Valid() {
		return "", &ValidationError{Field: "status", Value: s, Reason: "unknown order status"}
	}
	return status, nil
}

type OrderItem struct {
	Name           string          `json:"name"`
	Quantity       int             `json:"quantity"`
	Price          decimal.Decimal `json:"price"`
	Customizations []string        `json:"customizations,omitempty"`
}

type Order struct {
	ID                   string          `json:"id"`
	OrderNumber          string          `json:"order_number"`
	CustomerName         string          `json:"customer_name"`
	CustomerPhone        string          `json:"customer_phone"`
	CustomerAddress      string          `json:"customer_address"`
	Items                []OrderItem     `json:"items"`
	Subtotal             decimal.Decimal `json:"subtotal"`
	Discount             decimal.Decimal `json:"discount"`
	Total                decimal.Decimal `json:"total"`
	CouponCode           *string         `json:"coupon_code"`
	DeliveryInstructions *string         `json:"delivery_instructions"`
	CookingInstructions  *string         `json:"cooking_instructions"`
	Status               OrderStatus     `json:"status"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// jsonAmount writes money as a bare JSON number, the only form DecodeOrder
// accepts.
func jsonAmount(d decimal.Decimal) json.Number {
	return json.Number(d.String())
}

func (i OrderItem) MarshalJSON() ([]byte, error) {
	type plain OrderItem
	return json.Marshal(struct {
		plain
		Price json.Number `json:"price"`
	}{plain(i), jsonAmount(i.Price)})
}

func (o Order) MarshalJSON() ([]byte, error) {
	type plain Order
	return json.Marshal(struct {
		plain
		Subtotal json.Number `json:"subtotal"`
		Discount json.Number `json:"discount"`
		Total    json.Number `json:"total"`
	}{plain(o), jsonAmount(o.Subtotal), jsonAmount(o.Discount), jsonAmount(o.Total)})
}

// OrderRef identifies an order without carrying its contents.
type OrderRef struct {
	ID string `json:"id"`
}
