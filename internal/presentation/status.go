// Package presentation maps order statuses to display labels and semantic
// color tokens. Every function here is total: out-of-set statuses degrade to
// a fallback instead of failing, since the store is not schema-enforced.
package presentation

import "github.com/joao-fontenele/orderdesk/internal/domain"

// ColorToken names a semantic color. Callers decide what it looks like.
type ColorToken string

const (
	ColorWarning  ColorToken = "warning"
	ColorInfo     ColorToken = "info"
	ColorAccent   ColorToken = "accent"
	ColorPositive ColorToken = "positive"
	ColorTransit  ColorToken = "transit"
	ColorSuccess  ColorToken = "success"
	ColorDanger   ColorToken = "danger"
	ColorNeutral  ColorToken = "neutral"
)

var labels = map[domain.OrderStatus]string{
	domain.OrderStatusPending:        "Pending",
	domain.OrderStatusConfirmed:      "Confirmed",
	domain.OrderStatusPreparing:      "Preparing",
	domain.OrderStatusReady:          "Ready",
	domain.OrderStatusOutForDelivery: "Out for Delivery",
	domain.OrderStatusDelivered:      "Delivered",
	domain.OrderStatusCancelled:      "Cancelled",
}

var colors = map[domain.OrderStatus]ColorToken{
	domain.OrderStatusPending:        ColorWarning,
	domain.OrderStatusConfirmed:      ColorInfo,
	domain.OrderStatusPreparing:      ColorAccent,
	domain.OrderStatusReady:          ColorPositive,
	domain.OrderStatusOutForDelivery: ColorTransit,
	domain.OrderStatusDelivered:      ColorSuccess,
	domain.OrderStatusCancelled:      ColorDanger,
}

var palette = map[ColorToken]string{
	ColorWarning:  "#FF9800",
	ColorInfo:     "#2196F3",
	ColorAccent:   "#9C27B0",
	ColorPositive: "#4CAF50",
	ColorTransit:  "#00BCD4",
	ColorSuccess:  "#4CAF50",
	ColorDanger:   "#F44336",
	ColorNeutral:  "#666666",
}

// FormatStatus returns the display label for status, or the raw value when
// status is not a known one.
func FormatStatus(status domain.OrderStatus) string {
	if label, ok := labels[status]; ok {
		return label
	}
	return string(status)
}

// StatusColor returns the color token for status, ColorNeutral when unknown.
func StatusColor(status domain.OrderStatus) ColorToken {
	if c, ok := colors[status]; ok {
		return c
	}
	return ColorNeutral
}

// Hex returns the reference palette value of the token.
func (c ColorToken) Hex() string {
	if hex, ok := palette[c]; ok {
		return hex
	}
	return palette[ColorNeutral]
}
