// Package desk renders orders for the staff terminal.
package desk

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/joao-fontenele/orderdesk/internal/domain"
	"github.com/joao-fontenele/orderdesk/internal/presentation"
)

var ansi = map[presentation.ColorToken]string{
	presentation.ColorWarning:  "33",
	presentation.ColorInfo:     "34",
	presentation.ColorAccent:   "35",
	presentation.ColorPositive: "32",
	presentation.ColorTransit:  "36",
	presentation.ColorSuccess:  "1;32",
	presentation.ColorDanger:   "31",
	presentation.ColorNeutral:  "90",
}

type Printer struct {
	w     io.Writer
	color bool
	now   func() time.Time
}

func NewPrinter(w io.Writer, color bool) *Printer {
	return &Printer{w: w, color: color, now: time.Now}
}

// Status returns the status label, wrapped in the terminal color of its token
// when color output is on.
func (p *Printer) Status(status domain.OrderStatus) string {
	label := presentation.FormatStatus(status)
	if !p.color {
		return label
	}
	code, ok := ansi[presentation.StatusColor(status)]
	if !ok {
		code = ansi[presentation.ColorNeutral]
	}
	return "\x1b[" + code + "m" + label + "\x1b[0m"
}

// Orders prints one line per order. The status column comes last so that
// color escapes do not skew the alignment.
func (p *Printer) Orders(orders []domain.Order) error {
	if len(orders) == 0 {
		_, err := fmt.Fprintln(p.w, "no orders")
		return err
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ORDER\tCUSTOMER\tITEMS\tTOTAL\tAGE\tSTATUS")
	for _, o := range orders {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			o.OrderNumber,
			o.CustomerName,
			itemCount(o.Items),
			o.Total.StringFixed(2),
			age(p.now().Sub(o.CreatedAt)),
			p.Status(o.Status),
		)
	}
	return tw.Flush()
}

// Order prints the full ticket for one order.
func (p *Printer) Order(o domain.Order) error {
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Order:\t%s (%s)\n", o.OrderNumber, o.ID)
	fmt.Fprintf(tw, "Status:\t%s\n", p.Status(o.Status))
	fmt.Fprintf(tw, "Customer:\t%s, %s\n", o.CustomerName, o.CustomerPhone)
	fmt.Fprintf(tw, "Address:\t%s\n", o.CustomerAddress)
	fmt.Fprintf(tw, "Placed:\t%s\n", o.CreatedAt.Local().Format("2006-01-02 15:04"))
	fmt.Fprintf(tw, "Updated:\t%s\n", o.UpdatedAt.Local().Format("2006-01-02 15:04"))
	if err := tw.Flush(); err != nil {
		return err
	}

	fmt.Fprintln(p.w)
	tw = tabwriter.NewWriter(p.w, 0, 4, 2, ' ', tabwriter.AlignRight)
	for _, item := range o.Items {
		name := item.Name
		if len(item.Customizations) > 0 {
			name += " [" + strings.Join(item.Customizations, ", ") + "]"
		}
		fmt.Fprintf(tw, "%dx\t%s\t%s\t\n", item.Quantity, name, item.Price.StringFixed(2))
	}
	fmt.Fprintf(tw, "\tSubtotal\t%s\t\n", o.Subtotal.StringFixed(2))
	if !o.Discount.IsZero() {
		discount := "Discount"
		if o.CouponCode != nil {
			discount += " (" + *o.CouponCode + ")"
		}
		fmt.Fprintf(tw, "\t%s\t-%s\t\n", discount, o.Discount.StringFixed(2))
	}
	fmt.Fprintf(tw, "\tTotal\t%s\t\n", o.Total.StringFixed(2))
	if err := tw.Flush(); err != nil {
		return err
	}

	if o.CookingInstructions != nil && *o.CookingInstructions != "" {
		fmt.Fprintf(p.w, "\nKitchen: %s\n", *o.CookingInstructions)
	}
	if o.DeliveryInstructions != nil && *o.DeliveryInstructions != "" {
		fmt.Fprintf(p.w, "Delivery: %s\n", *o.DeliveryInstructions)
	}
	return nil
}

// Change prints one live change event as a single line.
func (p *Printer) Change(ev domain.ChangeEvent) error {
	ts := ev.CommitTimestamp.Local().Format("15:04:05")
	var err error
	switch ev.Type {
	case domain.ChangeInsert:
		_, err = fmt.Fprintf(p.w, "%s  new order %s from %s, %s\n", ts, ev.Record.OrderNumber, ev.Record.CustomerName, p.Status(ev.Record.Status))
	case domain.ChangeUpdate:
		_, err = fmt.Fprintf(p.w, "%s  order %s is now %s\n", ts, ev.Record.OrderNumber, p.Status(ev.Record.Status))
	case domain.ChangeDelete:
		_, err = fmt.Fprintf(p.w, "%s  order %s removed\n", ts, ev.OrderID())
	default:
		_, err = fmt.Fprintf(p.w, "%s  %s on order %s\n", ts, ev.Type, ev.OrderID())
	}
	return err
}

func itemCount(items []domain.OrderItem) int {
	n := 0
	for _, item := range items {
		n += item.Quantity
	}
	return n
}

func age(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd", int(d.Hours())/24)
	}
}
