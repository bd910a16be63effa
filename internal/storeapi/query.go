package storeapi

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

var orderableColumns = map[string]bool{
	"created_at":   true,
	"updated_at":   true,
	"order_number": true,
}

// Query is the subset of row filtering the orders endpoint understands.
type Query struct {
	ID       string
	Statuses []domain.OrderStatus
	OrderBy  string
	Desc     bool
	// Limit of zero means no limit.
	Limit int
}

// QueryError reports a query string the endpoint cannot serve.
type QueryError struct {
	Param   string
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("%s: %s", e.Param, e.Message)
}

// ParseQuery reads select, order, limit and the id/status filters. Any other
// parameter is rejected, as is a status outside the known set.
func ParseQuery(values url.Values) (Query, error) {
	q := Query{OrderBy: "created_at", Desc: true}

	for param, vals := range values {
		if len(vals) != 1 {
			return Query{}, &QueryError{Param: param, Message: "must be given once"}
		}
		v := vals[0]

		switch param {
		case "select":
			if v != "*" {
				return Query{}, &QueryError{Param: param, Message: "only * is supported"}
			}

		case "order":
			col, dir, found := strings.Cut(v, ".")
			if !orderableColumns[col] {
				return Query{}, &QueryError{Param: param, Message: fmt.Sprintf("cannot order by %q", col)}
			}
			q.OrderBy = col
			switch {
			case !found, dir == "asc":
				q.Desc = false
			case dir == "desc":
				q.Desc = true
			default:
				return Query{}, &QueryError{Param: param, Message: fmt.Sprintf("unknown direction %q", dir)}
			}

		case "limit":
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return Query{}, &QueryError{Param: param, Message: "must be a non-negative integer"}
			}
			q.Limit = n

		case "id":
			id, ok := strings.CutPrefix(v, "eq.")
			if !ok || id == "" {
				return Query{}, &QueryError{Param: param, Message: "only eq.<id> is supported"}
			}
			q.ID = id

		case "status":
			statuses, err := parseStatusFilter(v)
			if err != nil {
				return Query{}, err
			}
			q.Statuses = statuses

		default:
			return Query{}, &QueryError{Param: param, Message: "unknown column or parameter"}
		}
	}

	return q, nil
}

func parseStatusFilter(v string) ([]domain.OrderStatus, error) {
	var raw []string
	switch {
	case strings.HasPrefix(v, "eq."):
		raw = []string{strings.TrimPrefix(v, "eq.")}
	case strings.HasPrefix(v, "in.(") && strings.HasSuffix(v, ")"):
		raw = strings.Split(v[len("in.("):len(v)-1], ",")
	default:
		return nil, &QueryError{Param: "status", Message: "only eq.<status> and in.(<status>,...) are supported"}
	}

	statuses := make([]domain.OrderStatus, 0, len(raw))
	for _, s := range raw {
		status, err := domain.ParseOrderStatus(strings.TrimSpace(s))
		if err != nil {
			return nil, &QueryError{Param: "status", Message: fmt.Sprintf("invalid input value for order status: %q", s)}
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// Filtered reports whether the query narrows the row set.
func (q Query) Filtered() bool {
	return q.ID != "" || len(q.Statuses) > 0
}

func (q Query) where() sq.And {
	cond := sq.And{}
	if q.ID != "" {
		cond = append(cond, sq.Eq{"id": q.ID})
	}
	if len(q.Statuses) > 0 {
		values := make([]string, len(q.Statuses))
		for i, s := range q.Statuses {
			values[i] = string(s)
		}
		cond = append(cond, sq.Expr("status = ANY(?)", pq.Array(values)))
	}
	return cond
}

func (q Query) orderBy() string {
	if q.Desc {
		return q.OrderBy + " DESC"
	}
	return q.OrderBy + " ASC"
}
