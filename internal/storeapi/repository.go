package storeapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

var orderColumns = []string{
	"id", "order_number", "customer_name", "customer_phone", "customer_address",
	"items", "subtotal", "discount", "total",
	"coupon_code", "delivery_instructions", "cooking_instructions",
	"status", "created_at", "updated_at",
}

// StatusPatch is the only write the endpoint accepts on existing rows.
type StatusPatch struct {
	Status    domain.OrderStatus
	UpdatedAt time.Time
}

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) List(ctx context.Context, q Query) ([]domain.Order, error) {
	b := psql.Select(orderColumns...).From(domain.OrdersTable).OrderBy(q.orderBy())
	if cond := q.where(); len(cond) > 0 {
		b = b.Where(cond)
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}
	return r.queryOrders(ctx, query, args...)
}

// Create inserts order, assigning an id when it has none, and returns the
// stored row.
func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) (*domain.Order, error) {
	if order.ID == "" {
		order.ID = uuid.New().String()
	}

	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}

	query, args, err := psql.Insert(domain.OrdersTable).
		Columns(orderColumns...).
		Values(
			order.ID, order.OrderNumber, order.CustomerName, order.CustomerPhone, order.CustomerAddress,
			string(items), order.Subtotal, order.Discount, order.Total,
			order.CouponCode, order.DeliveryInstructions, order.CookingInstructions,
			order.Status, order.CreatedAt, order.UpdatedAt,
		).
		Suffix(returningClause()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}

	orders, err := r.queryOrders(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	if len(orders) != 1 {
		return nil, fmt.Errorf("insert returned %d rows", len(orders))
	}
	return &orders[0], nil
}

// UpdateStatus applies patch to every row matching q and returns the rows as
// they are after the write.
func (r *OrderRepository) UpdateStatus(ctx context.Context, q Query, patch StatusPatch) ([]domain.Order, error) {
	query, args, err := psql.Update(domain.OrdersTable).
		Set("status", patch.Status).
		Set("updated_at", patch.UpdatedAt).
		Where(q.where()).
		Suffix(returningClause()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}
	return r.queryOrders(ctx, query, args...)
}

func (r *OrderRepository) Delete(ctx context.Context, q Query) ([]domain.Order, error) {
	query, args, err := psql.Delete(domain.OrdersTable).
		Where(q.where()).
		Suffix(returningClause()).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build delete: %w", err)
	}
	return r.queryOrders(ctx, query, args...)
}

func (r *OrderRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func returningClause() string {
	return "RETURNING " + strings.Join(orderColumns, ", ")
}

func (r *OrderRepository) queryOrders(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return orders, nil
}

func scanOrder(rows *sql.Rows) (domain.Order, error) {
	var (
		order    domain.Order
		items    []byte
		status   string
		coupon   sql.NullString
		delivery sql.NullString
		cooking  sql.NullString
	)

	err := rows.Scan(
		&order.ID, &order.OrderNumber, &order.CustomerName, &order.CustomerPhone, &order.CustomerAddress,
		&items, &order.Subtotal, &order.Discount, &order.Total,
		&coupon, &delivery, &cooking,
		&status, &order.CreatedAt, &order.UpdatedAt,
	)
	if err != nil {
		return domain.Order{}, err
	}

	if err := json.Unmarshal(items, &order.Items); err != nil {
		return domain.Order{}, fmt.Errorf("order %s: decode items: %w", order.ID, err)
	}
	if order.Items == nil {
		order.Items = []domain.OrderItem{}
	}
	order.Status = domain.OrderStatus(status)
	order.CouponCode = nullString(coupon)
	order.DeliveryInstructions = nullString(delivery)
	order.CookingInstructions = nullString(cooking)
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()

	return order, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
