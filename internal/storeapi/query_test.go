package storeapi

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joao-fontenele/orderdesk/internal/domain"
)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Query
	}{
		{
			name: "defaults to newest first",
			raw:  "select=*",
			want: Query{OrderBy: "created_at", Desc: true},
		},
		{
			name: "list with limit and status",
			raw:  "select=*&order=created_at.desc&limit=50&status=eq.ready",
			want: Query{OrderBy: "created_at", Desc: true, Limit: 50, Statuses: []domain.OrderStatus{domain.OrderStatusReady}},
		},
		{
			name: "pending set",
			raw:  "select=*&order=created_at.desc&status=in.(pending,confirmed,preparing)",
			want: Query{
				OrderBy:  "created_at",
				Desc:     true,
				Statuses: []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusConfirmed, domain.OrderStatusPreparing},
			},
		},
		{
			name: "point lookup",
			raw:  "select=*&id=eq.abc-123&limit=1",
			want: Query{ID: "abc-123", OrderBy: "created_at", Desc: true, Limit: 1},
		},
		{
			name: "order without direction is ascending",
			raw:  "order=order_number",
			want: Query{OrderBy: "order_number"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.raw)
			require.NoError(t, err)

			got, err := ParseQuery(values)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQuery_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		param string
	}{
		{"column projection", "select=id,status", "select"},
		{"unknown order column", "order=total.desc", "order"},
		{"unknown direction", "order=created_at.sideways", "order"},
		{"negative limit", "limit=-1", "limit"},
		{"non numeric limit", "limit=ten", "limit"},
		{"id operator", "id=like.abc", "id"},
		{"status operator", "status=neq.ready", "status"},
		{"status outside enum", "status=eq.shipped", "status"},
		{"one bad member of in", "status=in.(pending,lost)", "status"},
		{"unknown column", "customer_name=eq.Bob", "customer_name"},
		{"repeated parameter", "limit=1&limit=2", "limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values, err := url.ParseQuery(tt.raw)
			require.NoError(t, err)

			_, err = ParseQuery(values)
			var qe *QueryError
			require.ErrorAs(t, err, &qe)
			assert.Equal(t, tt.param, qe.Param)
		})
	}
}

func TestQuery_Where(t *testing.T) {
	q := Query{ID: "o1", Statuses: []domain.OrderStatus{domain.OrderStatusReady, domain.OrderStatusDelivered}}

	sql, args, err := psql.Select("id").From("orders").Where(q.where()).ToSql()
	require.NoError(t, err)
	assert.Equal(t, "SELECT id FROM orders WHERE (id = $1 AND status = ANY($2))", sql)
	require.Len(t, args, 2)
	assert.Equal(t, "o1", args[0])

	assert.True(t, q.Filtered())
	assert.False(t, Query{}.Filtered())
	assert.Empty(t, Query{}.where())
}
