package orderstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

type ListOptions struct {
	// Limit caps the number of rows. Zero means DefaultListLimit.
	Limit int
	// Status restricts the result to one status. Empty means all statuses.
	Status domain.OrderStatus
}

// ListOrders returns orders newest first. The slice is never nil on success.
func (c *Client) ListOrders(ctx context.Context, opts ListOptions) ([]domain.Order, error) {
	limit := opts.Limit
	if limit < 0 {
		return nil, &domain.ValidationError{Field: "limit", Value: strconv.Itoa(limit), Reason: "must not be negative"}
	}
	if limit == 0 {
		limit = DefaultListLimit
	}
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Value: string(opts.Status), Reason: "unknown order status"}
	}

	query := selectQuery()
	query.Set("limit", strconv.Itoa(limit))
	if opts.Status != "" {
		query.Set("status", "eq."+string(opts.Status))
	}

	var orders []domain.Order
	err := c.observe(ctx, "list_orders", func(ctx context.Context) error {
		var err error
		orders, err = c.fetchOrders(ctx, "list orders", query)
		return err
	}, attribute.Int("limit", limit), attribute.String("status", string(opts.Status)))
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ListPendingOrders returns every order still in the operational queue
// (pending, confirmed, preparing), newest first.
func (c *Client) ListPendingOrders(ctx context.Context) ([]domain.Order, error) {
	pending := domain.PendingStatuses()
	values := make([]string, len(pending))
	for i, s := range pending {
		values[i] = string(s)
	}

	query := selectQuery()
	query.Set("status", "in.("+strings.Join(values, ",")+")")

	var orders []domain.Order
	err := c.observe(ctx, "list_pending_orders", func(ctx context.Context) error {
		var err error
		orders, err = c.fetchOrders(ctx, "list pending orders", query)
		return err
	})
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// GetOrder returns the order with the given id, or a *domain.NotFoundError
// when the store answered and no such row exists.
func (c *Client) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &domain.ValidationError{Field: "id", Value: id, Reason: "is required"}
	}

	query := url.Values{}
	query.Set("select", "*")
	query.Set("id", "eq."+id)
	query.Set("limit", "1")

	var order *domain.Order
	err := c.observe(ctx, "get_order", func(ctx context.Context) error {
		orders, err := c.fetchOrders(ctx, "get order", query)
		if err != nil {
			return err
		}
		order, err = single(orders, id)
		return err
	}, attribute.String("order_id", id))
	if err != nil {
		return nil, err
	}
	return order, nil
}

// UpdateOrderStatus sets status and refreshes updated_at in a single store
// write and returns the row as stored. Any status may follow any other: staff
// rely on this to undo mistakes such as an accidental cancel.
func (c *Client) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	if strings.TrimSpace(id) == "" {
		return nil, &domain.ValidationError{Field: "id", Value: id, Reason: "is required"}
	}
	if !status.Valid() {
		return nil, &domain.ValidationError{Field: "status", Value: string(status), Reason: "unknown order status"}
	}

	query := url.Values{}
	query.Set("id", "eq."+id)
	query.Set("select", "*")

	body := map[string]string{
		"status":     string(status),
		"updated_at": c.now().UTC().Format(time.RFC3339Nano),
	}

	var order *domain.Order
	err := c.observe(ctx, "update_order_status", func(ctx context.Context) error {
		data, err := c.do(ctx, request{
			op:     "update order status",
			method: http.MethodPatch,
			query:  query,
			body:   body,
			prefer: "return=representation",
		})
		if err != nil {
			return err
		}
		orders, err := domain.DecodeOrders(data)
		if err != nil {
			return err
		}
		order, err = single(orders, id)
		return err
	}, attribute.String("order_id", id), attribute.String("status", string(status)))
	if err != nil {
		return nil, err
	}
	return order, nil
}

func (c *Client) fetchOrders(ctx context.Context, op string, query url.Values) ([]domain.Order, error) {
	data, err := c.do(ctx, request{op: op, method: http.MethodGet, query: query})
	if err != nil {
		return nil, err
	}
	return domain.DecodeOrders(data)
}

func selectQuery() url.Values {
	query := url.Values{}
	query.Set("select", "*")
	query.Set("order", "created_at.desc")
	return query
}

// single enforces point-lookup semantics on a decoded row set.
func single(orders []domain.Order, id string) (*domain.Order, error) {
	switch len(orders) {
	case 0:
		return nil, &domain.NotFoundError{ID: id}
	case 1:
		if orders[0].ID != id {
			return nil, &domain.DataIntegrityError{Row: 0, Field: "id", Err: fmt.Errorf("asked for %q, store returned %q", id, orders[0].ID)}
		}
		return &orders[0], nil
	default:
		return nil, &domain.DataIntegrityError{Row: -1, Err: fmt.Errorf("point lookup of %q matched %d rows", id, len(orders))}
	}
}
