package desk

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

var now = time.Date(2025, 6, 13, 20, 0, 0, 0, time.UTC)

func testOrder() domain.Order {
	coupon := "FEAST20"
	cooking := "no onions"
	return domain.Order{
		ID:              "7f9c",
		OrderNumber:     "ORD-42",
		CustomerName:    "Meera",
		CustomerPhone:   "9222222222",
		CustomerAddress: "Flat 12, Lake Road",
		Items: []domain.OrderItem{
			{Name: "Paneer Tikka", Quantity: 2, Price: decimal.NewFromInt(220), Customizations: []string{"extra mint"}},
			{Name: "Naan", Quantity: 4, Price: decimal.NewFromInt(40)},
		},
		Subtotal:            decimal.NewFromInt(600),
		Discount:            decimal.NewFromInt(120),
		Total:               decimal.NewFromInt(480),
		CouponCode:          &coupon,
		CookingInstructions: &cooking,
		Status:              domain.OrderStatusPreparing,
		CreatedAt:           now.Add(-95 * time.Minute),
		UpdatedAt:           now.Add(-5 * time.Minute),
	}
}

func newTestPrinter(buf *bytes.Buffer, color bool) *Printer {
	p := NewPrinter(buf, color)
	p.now = func() time.Time { return now }
	return p
}

func TestPrinter_Status(t *testing.T) {
	var buf bytes.Buffer

	plain := newTestPrinter(&buf, false)
	assert.Equal(t, "Out for Delivery", plain.Status(domain.OrderStatusOutForDelivery))
	assert.Equal(t, "archived", plain.Status("archived"))

	colored := newTestPrinter(&buf, true)
	assert.Equal(t, "\x1b[31mCancelled\x1b[0m", colored.Status(domain.OrderStatusCancelled))
	assert.Equal(t, "\x1b[90marchived\x1b[0m", colored.Status("archived"))
}

func TestPrinter_Orders(t *testing.T) {
	var buf bytes.Buffer
	p := newTestPrinter(&buf, false)

	require.NoError(t, p.Orders([]domain.Order{testOrder()}))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "ORDER"))
	assert.Equal(t, []string{"ORD-42", "Meera", "6", "480.00", "1h35m", "Preparing"}, strings.Fields(lines[1]))
}

func TestPrinter_Orders_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newTestPrinter(&buf, false).Orders(nil))
	assert.Equal(t, "no orders\n", buf.String())
}

func TestPrinter_Order(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newTestPrinter(&buf, false).Order(testOrder()))

	out := buf.String()
	assert.Contains(t, out, "ORD-42 (7f9c)")
	assert.Contains(t, out, "Preparing")
	assert.Contains(t, out, "Paneer Tikka [extra mint]")
	assert.Contains(t, out, "Discount (FEAST20)")
	assert.Contains(t, out, "-120.00")
	assert.Contains(t, out, "Kitchen: no onions")
	assert.NotContains(t, out, "Delivery:")
}

func TestPrinter_Change(t *testing.T) {
	order := testOrder()
	order.Status = domain.OrderStatusReady

	tests := []struct {
		name  string
		event domain.ChangeEvent
		want  string
	}{
		{"insert", domain.ChangeEvent{Type: domain.ChangeInsert, Record: &order}, "new order ORD-42 from Meera, Ready"},
		{"update", domain.ChangeEvent{Type: domain.ChangeUpdate, Record: &order}, "order ORD-42 is now Ready"},
		{"delete", domain.ChangeEvent{Type: domain.ChangeDelete, OldRecord: &domain.OrderRef{ID: "7f9c"}}, "order 7f9c removed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.event.CommitTimestamp = now
			require.NoError(t, newTestPrinter(&buf, false).Change(tt.event))
			assert.Contains(t, buf.String(), tt.want)
		})
	}
}

func TestAge(t *testing.T) {
	assert.Equal(t, "just now", age(30*time.Second))
	assert.Equal(t, "12m", age(12*time.Minute))
	assert.Equal(t, "2h05m", age(125*time.Minute))
	assert.Equal(t, "3d", age(73*time.Hour))
}
