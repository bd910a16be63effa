package presentation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

func TestFormatStatus(t *testing.T) {
	tests := []struct {
		status domain.OrderStatus
		want   string
	}{
		{domain.OrderStatusPending, "Pending"},
		{domain.OrderStatusConfirmed, "Confirmed"},
		{domain.OrderStatusPreparing, "Preparing"},
		{domain.OrderStatusReady, "Ready"},
		{domain.OrderStatusOutForDelivery, "Out for Delivery"},
		{domain.OrderStatusDelivered, "Delivered"},
		{domain.OrderStatusCancelled, "Cancelled"},
		{"refunded", "refunded"},
		{"", ""},
		{"PENDING", "PENDING"},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			assert.Equal(t, tt.want, FormatStatus(tt.status))
		})
	}
}

func TestStatusColor(t *testing.T) {
	seen := make(map[ColorToken]domain.OrderStatus)
	for _, s := range domain.AllStatuses() {
		token := StatusColor(s)
		assert.NotEmpty(t, token)
		assert.NotEqual(t, ColorNeutral, token, "known status %s must not fall back", s)
		if prev, ok := seen[token]; ok {
			t.Errorf("statuses %s and %s share token %s", prev, s, token)
		}
		seen[token] = s
	}

	for _, s := range []domain.OrderStatus{"", "refunded", "out for delivery", "\x00"} {
		assert.Equal(t, ColorNeutral, StatusColor(s))
	}
}

func TestColorToken_Hex(t *testing.T) {
	assert.Equal(t, "#FF9800", StatusColor(domain.OrderStatusPending).Hex())
	assert.Equal(t, "#F44336", StatusColor(domain.OrderStatusCancelled).Hex())
	assert.Equal(t, "#666666", StatusColor("bogus").Hex())
	assert.Equal(t, "#666666", ColorToken("bogus").Hex())
}
